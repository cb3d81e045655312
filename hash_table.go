package kvengine

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gsauere/kv-engine/ds"
	"github.com/gsauere/kv-engine/util"
)

type (
	// TrackReference says whether a read counts as an access for eviction.
	TrackReference bool
	// WantsDeleted says whether lookups may return deleted records.
	WantsDeleted bool
)

const (
	TrackReferenceNo  TrackReference = false
	TrackReferenceYes TrackReference = true

	WantsDeletedNo  WantsDeleted = false
	WantsDeletedYes WantsDeleted = true
)

// HashTable is the in-memory index of one partition: an array of singly
// linked chains guarded by a fixed pool of shard locks.
//
// Callers locate a key with one of the Find methods, which return with the
// bucket lock held, optionally mutate through the methods taking a
// *BucketLock, and then release the lock. Table size only changes while
// every shard lock is held and no visitor is running.
type HashTable struct {
	initialSize int
	size        atomic.Int64
	values      []*Slot
	locks       *ds.LockPool
	gate        *visitorGate
	active      atomic.Bool
	teardown    sync.Once

	engine     *EngineStats
	valueStats *Statistics
	factory    SlotFactory
	eligible   EligibilityFunc

	freqCounter   *probabilisticCounter
	freqSaturated atomic.Pointer[func()]

	numEjects          atomic.Int64
	numResizes         atomic.Int64
	maxDeletedRevSeqno atomic.Uint64

	logger *slog.Logger
}

// NewHashTable creates an active table. engine receives the table's share of
// the global memory accounting; nil gives the table private accounting.
func NewHashTable(cfg TableConfig, engine *EngineStats) *HashTable {
	c := cfg.withDefaults()
	if engine == nil {
		engine = &EngineStats{}
	}
	locks := ds.NewLockPool(c.NumLocks)
	ht := &HashTable{
		initialSize: c.InitialSize,
		values:      make([]*Slot, c.InitialSize),
		locks:       locks,
		gate:        newVisitorGate(locks.Shard(0)),
		engine:      engine,
		valueStats:  newStatistics(engine),
		factory:     c.Factory,
		eligible:    c.Eligible,
		freqCounter: newProbabilisticCounter(c.FreqCounterIncFactor),
		logger:      c.Logger,
	}
	ht.size.Store(int64(c.InitialSize))
	ht.active.Store(true)
	engine.MemOverhead.Add(ht.memorySize())
	return ht
}

// Teardown deactivates and empties the table, then waits for every visitor
// still running to finish.
func (ht *HashTable) Teardown() {
	ht.teardown.Do(func() {
		ht.locks.LockAll()
		ht.clearLocked(true)
		overhead := ht.memorySize()
		ht.locks.UnlockAll()

		ht.gate.wait()
		ht.engine.MemOverhead.Add(-overhead)
	})
}

func (ht *HashTable) IsActive() bool { return ht.active.Load() }

// SetActive flips the active flag. Mutating an inactive table panics.
func (ht *HashTable) SetActive(active bool) { ht.active.Store(active) }

func (ht *HashTable) Size() int        { return int(ht.size.Load()) }
func (ht *HashTable) InitialSize() int { return ht.initialSize }
func (ht *HashTable) NumLocks() int    { return ht.locks.Len() }

func (ht *HashTable) NumEjects() int64  { return ht.numEjects.Load() }
func (ht *HashTable) NumResizes() int64 { return ht.numResizes.Load() }

// MaxDeletedRevSeqno is the highest revision of any slot removed by a full
// eject or recorded through SetMaxDeletedRevSeqno.
func (ht *HashTable) MaxDeletedRevSeqno() uint64 { return ht.maxDeletedRevSeqno.Load() }

func (ht *HashTable) SetMaxDeletedRevSeqno(rev uint64) { ht.maxDeletedRevSeqno.Store(rev) }

// UpdateMaxDeletedRevSeqno raises the watermark to rev if rev is higher.
func (ht *HashTable) UpdateMaxDeletedRevSeqno(rev uint64) {
	for {
		cur := ht.maxDeletedRevSeqno.Load()
		if rev <= cur || ht.maxDeletedRevSeqno.CompareAndSwap(cur, rev) {
			return
		}
	}
}

// NumActiveVisitors is the number of visits currently in progress.
func (ht *HashTable) NumActiveVisitors() int { return ht.gate.count() }

func (ht *HashTable) Stats() *Statistics { return ht.valueStats }

func (ht *HashTable) NumItems() int64 { return ht.valueStats.NumItems() }

// NumInMemoryItems counts every non-temp slot, resident or not.
func (ht *HashTable) NumInMemoryItems() int64 { return ht.valueStats.NumItems() }

func (ht *HashTable) NumResidentItems() int64 {
	return ht.valueStats.NumItems() - ht.valueStats.NumNonResidentItems()
}
func (ht *HashTable) NumNonResidentItems() int64   { return ht.valueStats.NumNonResidentItems() }
func (ht *HashTable) NumTempItems() int64          { return ht.valueStats.NumTempItems() }
func (ht *HashTable) NumDeletedItems() int64       { return ht.valueStats.NumDeletedItems() }
func (ht *HashTable) NumSystemItems() int64        { return ht.valueStats.NumSystemItems() }
func (ht *HashTable) NumPreparedSyncWrites() int64 { return ht.valueStats.NumPreparedSyncWrites() }

// SetFreqSaturatedCallback registers fn to run when a frequency counter
// saturates. fn runs with a bucket lock held and must not call back into the
// table.
func (ht *HashTable) SetFreqSaturatedCallback(fn func()) {
	ht.freqSaturated.Store(&fn)
}

// GenerateFreqValue returns the next value of a frequency counter at counter.
func (ht *HashTable) GenerateFreqValue(counter uint8) uint8 {
	return ht.freqCounter.generateValue(counter)
}

func (ht *HashTable) updateFreqCounter(sv *Slot) {
	sv.freq = ht.freqCounter.generateValue(sv.freq)
	if sv.freq == math.MaxUint8 {
		if cb := ht.freqSaturated.Load(); cb != nil && *cb != nil {
			(*cb)()
		}
	}
}

func (ht *HashTable) memorySize() int64 {
	return int64(len(ht.values))*int64(unsafe.Sizeof((*Slot)(nil))) + ht.locks.MemorySize()
}

func (ht *HashTable) bucketForHash(h uint32) int {
	return int(h % uint32(ht.size.Load()))
}

// GetLockedBucket locks the bucket key hashes to and returns the guard.
func (ht *HashTable) GetLockedBucket(key []byte) *BucketLock {
	return ht.lockBucketForHash(util.HashKey(key))
}

func (ht *HashTable) lockBucketForHash(h uint32) *BucketLock {
	for {
		bucket := ht.bucketForHash(h)
		mu := ht.locks.LockBucket(bucket)
		// a resize may have slipped in between computing and locking
		if bucket == ht.bucketForHash(h) {
			return &BucketLock{bucket: bucket, mu: mu, held: true}
		}
		mu.Unlock()
	}
}

func (ht *HashTable) lockBucket(bucket int) *BucketLock {
	return &BucketLock{bucket: bucket, mu: ht.locks.LockBucket(bucket), held: true}
}

func (ht *HashTable) checkActive(op string) {
	if !ht.active.Load() {
		logicf("%s: cannot call on a non-active table", op)
	}
}

func (ht *HashTable) checkLock(hbl *BucketLock, op string) {
	if !hbl.Held() {
		invalidArgf("%s: bucket lock not held", op)
	}
	if hbl.bucket < 0 || hbl.bucket >= len(ht.values) || hbl.mu != ht.locks.ShardForBucket(hbl.bucket) {
		invalidArgf("%s: lock does not belong to bucket %d of this table", op, hbl.bucket)
	}
}

func (ht *HashTable) checkCovers(hbl *BucketLock, h uint32, op string) {
	if b := ht.bucketForHash(h); b != hbl.bucket {
		invalidArgf("%s: key hashes to bucket %d but lock covers bucket %d", op, b, hbl.bucket)
	}
}

func (ht *HashTable) checkMutation(hbl *BucketLock, h uint32, op string) {
	ht.checkLock(hbl, op)
	ht.checkActive(op)
	ht.checkCovers(hbl, h, op)
}

// FindResult is a lookup result. The bucket lock stays held until Unlock, so
// callers can mutate Slot in the same critical section.
type FindResult struct {
	Slot *Slot
	Lock *BucketLock
}

func (r FindResult) Unlock() { r.Lock.Unlock() }

// FindCommitResult carries the prepare being committed, behind a proxy that
// holds the bucket lock, and the committed record it will replace, if any.
type FindCommitResult struct {
	Pending   *SlotProxy
	Committed *Slot
}

func (r FindCommitResult) Unlock() { r.Pending.Unlock() }

// findInner scans the chain of key for its committed and pending slots.
func (ht *HashTable) findInner(key []byte) (hbl *BucketLock, committed, pending *Slot) {
	ht.checkActive("find")
	h := util.HashKey(key)
	hbl = ht.lockBucketForHash(h)
	for v := ht.values[hbl.bucket]; v != nil; v = v.next {
		if v.hash != h || !v.HasKey(key) {
			continue
		}
		if v.IsPending() {
			if pending != nil {
				hbl.Unlock()
				logicf("find: more than one pending slot for key %q", key)
			}
			pending = v
		} else {
			if committed != nil {
				hbl.Unlock()
				logicf("find: more than one committed slot for key %q", key)
			}
			committed = v
		}
	}
	return hbl, committed, pending
}

// FindForRead looks key up for a reader. A prepare that may already be
// visible is returned instead of the committed record, as a signal that the
// key cannot be read right now.
func (ht *HashTable) FindForRead(key []byte, track TrackReference, wantsDeleted WantsDeleted) FindResult {
	hbl, committed, pending := ht.findInner(key)

	if pending != nil && pending.IsPreparedMaybeVisible() {
		return FindResult{Slot: pending, Lock: hbl}
	}
	if committed == nil {
		return FindResult{Lock: hbl}
	}
	if committed.deleted {
		// no reference tracking for deleted records
		if wantsDeleted {
			return FindResult{Slot: committed, Lock: hbl}
		}
		return FindResult{Lock: hbl}
	}
	if track {
		ht.updateFreqCounter(committed)
		committed.referenced()
	}
	return FindResult{Slot: committed, Lock: hbl}
}

// FindForWrite looks key up for a writer. The pending slot wins if there is
// one, deleted or not, since writes target the in-flight prepare.
func (ht *HashTable) FindForWrite(key []byte, wantsDeleted WantsDeleted) FindResult {
	hbl, committed, pending := ht.findInner(key)
	if pending != nil {
		return FindResult{Slot: pending, Lock: hbl}
	}
	if committed == nil || (committed.deleted && wantsDeleted == WantsDeletedNo) {
		return FindResult{Lock: hbl}
	}
	return FindResult{Slot: committed, Lock: hbl}
}

// FindForCommit returns the pending slot of key behind a locked proxy, and
// the committed slot of key.
func (ht *HashTable) FindForCommit(key []byte) FindCommitResult {
	hbl, committed, pending := ht.findInner(key)
	return FindCommitResult{
		Pending:   &SlotProxy{ht: ht, lock: hbl, slot: pending},
		Committed: committed,
	}
}

// FindOnlyCommitted returns the committed slot of key, deleted or not.
func (ht *HashTable) FindOnlyCommitted(key []byte) FindResult {
	hbl, committed, _ := ht.findInner(key)
	return FindResult{Slot: committed, Lock: hbl}
}

// FindOnlyPrepared returns the pending slot of key.
func (ht *HashTable) FindOnlyPrepared(key []byte) FindResult {
	hbl, _, pending := ht.findInner(key)
	return FindResult{Slot: pending, Lock: hbl}
}

// SlotProxy is a locked handle on one slot. Changes made through it are
// reflected in the table statistics immediately.
type SlotProxy struct {
	ht   *HashTable
	lock *BucketLock
	slot *Slot
}

func (p *SlotProxy) Slot() *Slot       { return p.slot }
func (p *SlotProxy) Lock() *BucketLock { return p.lock }

func (p *SlotProxy) mutate(op string, fn func(sv *Slot)) {
	if p.slot == nil {
		invalidArgf("%s: proxy holds no slot", op)
	}
	p.ht.checkMutation(p.lock, p.slot.hash, op)
	pre := p.ht.valueStats.prologue(p.slot)
	fn(p.slot)
	p.ht.valueStats.epilogue(pre, p.slot)
}

// SetCommitted moves the slot to state.
func (p *SlotProxy) SetCommitted(state CommittedState) {
	p.mutate("SetCommitted", func(sv *Slot) { sv.committed = state })
}

func (p *SlotProxy) SetBySeqno(seqno int64) {
	p.mutate("SetBySeqno", func(sv *Slot) { sv.bySeqno = seqno })
}

func (p *SlotProxy) SetCas(cas uint64) {
	p.mutate("SetCas", func(sv *Slot) { sv.cas = cas })
}

func (p *SlotProxy) MarkDirty() {
	p.mutate("MarkDirty", func(sv *Slot) { sv.markDirty() })
}

func (p *SlotProxy) MarkClean() {
	p.mutate("MarkClean", func(sv *Slot) { sv.markClean() })
}

// Release unchains the proxied slot and hands it to the caller. The proxy
// holds no slot afterwards but keeps the lock.
func (p *SlotProxy) Release() *Slot {
	if p.slot == nil {
		invalidArgf("Release: proxy holds no slot")
	}
	sv := p.ht.ReleaseSlot(p.lock, p.slot)
	p.slot = nil
	return sv
}

// Unlock releases the bucket lock.
func (p *SlotProxy) Unlock() {
	p.lock.Unlock()
}
