package kvengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type depthCounter struct {
	buckets  int
	nonEmpty int
	slots    int
	mem      int64
}

func (d *depthCounter) VisitDepth(_ int, depth int, mem int64) {
	d.buckets++
	if depth > 0 {
		d.nonEmpty++
	}
	d.slots += depth
	d.mem += mem
}

type hookCounter struct {
	setUp, tearDown, visited int
}

func (h *hookCounter) Visit(*BucketLock, *Slot) bool { h.visited++; return true }
func (h *hookCounter) SetUpHashBucketVisit()         { h.setUp++ }
func (h *hookCounter) TearDownHashBucketVisit()      { h.tearDown++ }

func TestHashTable_Visit(t *testing.T) {
	ht := newTestTable(t, 13, 5)
	storeItems(t, ht, 40)

	h := &hookCounter{}
	ht.Visit(h)
	assert.Equal(t, 40, h.visited)
	assert.Equal(t, 13, h.setUp)
	assert.Equal(t, 13, h.tearDown)
	assert.Equal(t, 0, ht.NumActiveVisitors())
}

func TestHashTable_Visit_Empty(t *testing.T) {
	ht := newTestTable(t, 13, 5)
	pos := ht.PauseResumeVisit(VisitorFunc(func(*BucketLock, *Slot) bool {
		t.Fatal("visited an empty table")
		return true
	}), Position{})
	assert.Equal(t, ht.EndPosition(), pos)
	assert.Equal(t, Position{Size: 13, Lock: 5, Bucket: 13}, pos)
}

func TestHashTable_PauseResumeVisit(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	storeItems(t, ht, 60)

	depth := &depthCounter{}
	ht.VisitDepth(depth)
	require.Equal(t, 47, depth.buckets)

	// pausing on every slot skips the rest of its bucket, so every resume
	// visits the head of the next non empty bucket
	var visited int
	pos := Position{}
	for i := 0; i < 1000; i++ {
		pos = ht.PauseResumeVisit(VisitorFunc(func(*BucketLock, *Slot) bool {
			visited++
			return false
		}), pos)
		if pos == ht.EndPosition() {
			break
		}
		assert.Equal(t, 47, pos.Size)
		assert.Less(t, pos.Lock, 5)
	}
	assert.Equal(t, ht.EndPosition(), pos)
	assert.Equal(t, depth.nonEmpty, visited)
}

func TestHashTable_PauseResumeVisit_StalePosition(t *testing.T) {
	ht := newTestTable(t, 13, 5)
	storeItems(t, ht, 20)

	h := &hookCounter{}
	// a position taken at another size restarts the lock from its first bucket
	pos := ht.PauseResumeVisit(h, Position{Size: 7, Lock: 0, Bucket: 10})
	assert.Equal(t, ht.EndPosition(), pos)
	assert.Equal(t, 20, h.visited)

	// an out of range lock restarts from the first lock
	h = &hookCounter{}
	ht.PauseResumeVisit(h, Position{Size: 13, Lock: 99, Bucket: 0})
	assert.Equal(t, 20, h.visited)
}

func TestHashTable_Visit_Delete(t *testing.T) {
	ht := newTestTable(t, 3, 2)
	storeItems(t, ht, 30)

	ht.Visit(VisitorFunc(func(hbl *BucketLock, sv *Slot) bool {
		ht.DeleteSlot(hbl, sv)
		return true
	}))
	assert.Equal(t, int64(0), ht.NumItems())
	assert.Equal(t, StatsSnapshot{}, ht.Stats().Snapshot())
}

func TestHashTable_VisitDepth(t *testing.T) {
	ht := newTestTable(t, 13, 5)
	storeItems(t, ht, 50)

	d := &depthCounter{}
	ht.VisitDepth(d)
	assert.Equal(t, 13, d.buckets)
	assert.Equal(t, 50, d.slots)
	assert.Equal(t, ht.Stats().MemSize(), d.mem)
}

func TestHashTable_Recount(t *testing.T) {
	ht := newTestTable(t, 13, 5)
	storeItems(t, ht, 30)

	res := ht.FindForWrite([]byte(getKey(3)), WantsDeletedNo)
	ht.SoftDelete(res.Lock, res.Slot, false, DeleteSourceTTL)
	res.Unlock()
	res = ht.FindForWrite([]byte(getKey(4)), WantsDeletedNo)
	ht.UpdateSlot(res.Lock, res.Slot, makePending(getKey(4), "pending"))
	res.Unlock()

	assertStatsConsistent(t, ht)
	assert.Equal(t, int64(31), ht.Recount().NumItems)
}

func TestHashTable_Teardown_WaitsForVisitors(t *testing.T) {
	ht := newTestTable(t, 13, 5)
	storeItems(t, ht, 10)

	v := newBlockingVisitor()
	visitDone := make(chan struct{})
	go func() {
		defer close(visitDone)
		ht.Visit(v)
	}()
	<-v.entered

	teardownDone := make(chan struct{})
	go func() {
		defer close(teardownDone)
		ht.Teardown()
	}()

	select {
	case <-teardownDone:
		t.Fatal("teardown returned while a visitor was active")
	case <-time.After(50 * time.Millisecond):
	}

	close(v.release)
	<-visitDone
	<-teardownDone
	assert.False(t, ht.IsActive())
	assert.Equal(t, int64(0), ht.NumItems())
}

func TestPosition_String(t *testing.T) {
	assert.Equal(t, "{lock:2 bucket:7/13}", Position{Size: 13, Lock: 2, Bucket: 7}.String())
}
