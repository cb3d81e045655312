package kvengine

import (
	"fmt"
)

// Visitor is called once per slot with the slot's bucket lock held.
// Returning false pauses the visit.
type Visitor interface {
	Visit(hbl *BucketLock, sv *Slot) bool
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(hbl *BucketLock, sv *Slot) bool

func (f VisitorFunc) Visit(hbl *BucketLock, sv *Slot) bool { return f(hbl, sv) }

// BucketVisitHooks is implemented by visitors that want to run code around
// each lock's share of buckets, such as per lock batching.
type BucketVisitHooks interface {
	SetUpHashBucketVisit()
	TearDownHashBucketVisit()
}

// DepthVisitor receives the chain depth and memory of every bucket.
type DepthVisitor interface {
	VisitDepth(bucket, depth int, mem int64)
}

// Position is a resumable visit cursor. A Position taken at one table size
// is meaningless at another; resuming from it restarts the current lock.
type Position struct {
	Size   int
	Lock   int
	Bucket int
}

func (p Position) String() string {
	return fmt.Sprintf("{lock:%d bucket:%d/%d}", p.Lock, p.Bucket, p.Size)
}

// EndPosition is the position a finished visit returns.
func (ht *HashTable) EndPosition() Position {
	size := ht.Size()
	return Position{Size: size, Lock: ht.locks.Len(), Bucket: size}
}

// PauseResumeVisit visits every slot from start on, walking lock by lock and
// the buckets of each lock in order. It returns the next position to visit,
// which is EndPosition once the whole table has been seen. A pause skips the
// rest of the current bucket.
func (ht *HashTable) PauseResumeVisit(v Visitor, start Position) Position {
	if ht.NumItems()+ht.NumTempItems() == 0 || !ht.active.Load() {
		return ht.EndPosition()
	}

	ht.gate.enter()
	defer ht.gate.leave()

	// no resize while entered, so size is stable
	size := ht.Size()
	numLocks := ht.locks.Len()
	hooks, _ := v.(BucketVisitHooks)

	lock := 0
	if start.Lock < numLocks {
		lock = start.Lock
	}
	bucket := 0
	paused := false
	for ; ht.active.Load() && !paused && lock < numLocks; lock++ {
		bucket = lock
		if start.Lock == lock && start.Size == size && start.Bucket < size {
			bucket = start.Bucket
		}

		for ; !paused && bucket < size; bucket += numLocks {
			if hooks != nil {
				hooks.SetUpHashBucketVisit()
			}
			paused = !ht.visitBucket(v, bucket)
			if hooks != nil {
				hooks.TearDownHashBucketVisit()
			}
		}

		// buckets of this lock remain, resume here
		if paused && bucket < size {
			break
		}
		bucket = size
	}

	pos := Position{Size: size, Lock: lock, Bucket: bucket}
	if paused {
		ht.logger.Debug("hashtable visit paused", "position", pos.String())
	}
	return pos
}

// visitBucket hands every slot of bucket to v, stopping when v pauses.
func (ht *HashTable) visitBucket(v Visitor, bucket int) bool {
	hbl := ht.lockBucket(bucket)
	defer hbl.Unlock()

	for sv := ht.values[bucket]; sv != nil; {
		// v may release sv
		next := sv.next
		if !v.Visit(hbl, sv) {
			return false
		}
		sv = next
	}
	return true
}

// Visit runs v over the whole table, resuming after every pause.
func (ht *HashTable) Visit(v Visitor) {
	end := ht.EndPosition()
	pos := Position{}
	for pos != end && ht.active.Load() {
		pos = ht.PauseResumeVisit(v, pos)
		end = ht.EndPosition()
	}
}

// VisitDepth reports the depth and memory of every bucket to v. It cannot be
// paused and panics if a slot is chained in the wrong bucket.
func (ht *HashTable) VisitDepth(v DepthVisitor) {
	if ht.NumItems() == 0 || !ht.active.Load() {
		return
	}
	ht.gate.enter()
	defer ht.gate.leave()

	size := ht.Size()
	numLocks := ht.locks.Len()
	for lock := 0; lock < numLocks; lock++ {
		for bucket := lock; bucket < size; bucket += numLocks {
			hbl := ht.lockBucket(bucket)
			depth := 0
			var mem int64
			for sv := ht.values[bucket]; sv != nil; sv = sv.next {
				if b := ht.bucketForHash(sv.hash); b != bucket {
					hbl.Unlock()
					logicf("VisitDepth: key %q in bucket %d hashes to %d", sv.key, bucket, b)
				}
				depth++
				mem += sv.Size()
			}
			hbl.Unlock()
			v.VisitDepth(bucket, depth, mem)
		}
	}
}

// Recount walks the whole table and returns the statistics recomputed from
// scratch, for comparison with the incrementally maintained ones.
func (ht *HashTable) Recount() StatsSnapshot {
	var snap StatsSnapshot
	ht.Visit(VisitorFunc(func(_ *BucketLock, sv *Slot) bool {
		snap.add(sv)
		return true
	}))
	return snap
}

// budget drives a visitor across successive runs, pausing it after a fixed
// number of slots. A budget of zero or less never pauses.
type budget struct {
	limit   int
	visited int
	pos     Position
}

// spend accounts for one visited slot and reports whether the run may go on.
func (b *budget) spend() bool {
	b.visited++
	return b.limit <= 0 || b.visited < b.limit
}

// run continues the visit where the last run paused and reports whether it
// reached the end of the table, in which case the next run starts over.
func (b *budget) run(ht *HashTable, v Visitor) bool {
	b.visited = 0
	b.pos = ht.PauseResumeVisit(v, b.pos)
	if b.pos == ht.EndPosition() {
		b.pos = Position{}
		return true
	}
	return false
}
