package kvengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashTable_Set(t *testing.T) {
	ht := newTestTable(t, 47, 5)

	status := ht.Set(&Item{Key: []byte("key"), Value: []byte("value"), Cas: 0})
	assert.Equal(t, WasClean, status)
	assert.Equal(t, int64(1), ht.NumItems())

	itm := makeItem("key", "value2")
	itm.Cas = 42
	assert.Equal(t, WasDirty, ht.Set(itm))
	assert.Equal(t, int64(1), ht.NumItems())

	res := ht.FindForWrite([]byte("key"), WantsDeletedNo)
	require.NotNil(t, res.Slot)
	assert.Equal(t, []byte("key"), res.Slot.Key())
	assert.Equal(t, []byte("value2"), res.Slot.Value())
	assert.Equal(t, uint64(42), res.Slot.Cas())
	ht.MarkClean(res.Lock, res.Slot)
	res.Unlock()

	assert.Equal(t, WasClean, ht.Set(makeItem("key", "value3")))
	assertStatsConsistent(t, ht)
}

func TestHashTable_UpdateSlot(t *testing.T) {
	tests := []struct {
		name        string
		existing    CommittedState
		incoming    CommittedState
		wantStatus  MutationStatus
		wantNewSlot bool
	}{
		{"committed by committed", CommittedViaMutation, CommittedViaMutation, WasDirty, false},
		{"committed by prepare", CommittedViaPrepare, CommittedViaMutation, WasDirty, false},
		{"committed by pending", CommittedViaMutation, Pending, WasClean, true},
		{"pending by committed", Pending, CommittedViaMutation, IsPendingSyncWrite, false},
		{"maybe visible by pending", PreparedMaybeVisible, Pending, IsPendingSyncWrite, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ht := newTestTable(t, 47, 5)
			existing := makeItem("key", "old")
			existing.Committed = tt.existing
			hbl := ht.GetLockedBucket([]byte("key"))
			sv := ht.AddNewSlot(hbl, existing)

			incoming := makeItem("key", "new")
			incoming.Committed = tt.incoming
			res := ht.UpdateSlot(hbl, sv, incoming)
			hbl.Unlock()

			assert.Equal(t, tt.wantStatus, res.Status)
			if tt.wantNewSlot {
				assert.NotSame(t, sv, res.Slot)
				assert.Equal(t, int64(2), ht.NumItems())
			} else {
				assert.Same(t, sv, res.Slot)
				assert.Equal(t, int64(1), ht.NumItems())
			}
			assertStatsConsistent(t, ht)
		})
	}
}

func TestHashTable_PendingNextToCommitted(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	require.Equal(t, WasClean, ht.Set(makeItem("key", "committed")))

	res := ht.FindForWrite([]byte("key"), WantsDeletedNo)
	up := ht.UpdateSlot(res.Lock, res.Slot, makePending("key", "pending"))
	res.Unlock()
	require.Equal(t, WasClean, up.Status)

	res = ht.FindForWrite([]byte("key"), WantsDeletedNo)
	require.NotNil(t, res.Slot)
	assert.True(t, res.Slot.IsPending())
	assert.Equal(t, []byte("pending"), res.Slot.Value())
	res.Unlock()

	res = ht.FindOnlyCommitted([]byte("key"))
	require.NotNil(t, res.Slot)
	assert.Equal(t, []byte("committed"), res.Slot.Value())
	res.Unlock()

	assert.Equal(t, int64(2), ht.NumItems())
	assert.Equal(t, int64(1), ht.NumPreparedSyncWrites())
	assertStatsConsistent(t, ht)
}

func TestHashTable_SoftDelete(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	itm := makeItem("key", "value")
	itm.Datatype = DatatypeJSON
	require.Equal(t, WasClean, ht.Set(itm))
	assert.Equal(t, int64(1), ht.Stats().DatatypeCounts()[DatatypeJSON])

	for i := 0; i < 2; i++ {
		res := ht.FindForWrite([]byte("key"), WantsDeletedYes)
		del := ht.SoftDelete(res.Lock, res.Slot, false, DeleteSourceExplicit)
		res.Unlock()
		assert.Equal(t, DeletionSuccess, del.Status)
		assert.Equal(t, int64(1), ht.NumDeletedItems())
		assert.Equal(t, int64(1), ht.NumItems())
	}
	assert.Equal(t, int64(0), ht.Stats().DatatypeCounts()[DatatypeJSON])

	res := ht.FindForWrite([]byte("key"), WantsDeletedYes)
	assert.Nil(t, res.Slot.Value())
	assert.Equal(t, DeleteSourceExplicit, res.Slot.DeleteSource())
	res.Unlock()
	assertStatsConsistent(t, ht)
}

func TestHashTable_SoftDelete_OnlyMarkDeleted(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	require.Equal(t, WasClean, ht.Set(makeItem("key", "value")))

	res := ht.FindForWrite([]byte("key"), WantsDeletedNo)
	del := ht.SoftDelete(res.Lock, res.Slot, true, DeleteSourceTTL)
	res.Unlock()

	require.Equal(t, DeletionSuccess, del.Status)
	assert.Equal(t, []byte("value"), del.Slot.Value())
	assert.True(t, del.Slot.IsDeleted())
	assert.Equal(t, DeleteSourceTTL, del.Slot.DeleteSource())
	assertStatsConsistent(t, ht)
}

func TestHashTable_SoftDelete_Pending(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	hbl := ht.GetLockedBucket([]byte("key"))
	defer hbl.Unlock()
	sv := ht.AddNewSlot(hbl, makePending("key", "value"))

	del := ht.SoftDelete(hbl, sv, false, DeleteSourceExplicit)
	assert.Equal(t, DeletionIsPendingSyncWrite, del.Status)
	assert.Nil(t, del.Slot)
	assert.False(t, sv.IsDeleted())
}

func TestHashTable_Release(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	engine := ht.engine
	storeItems(t, ht, 3)
	assert.Positive(t, engine.CurrentSize.Load())

	hbl := ht.GetLockedBucket([]byte(getKey(0)))
	released := ht.ReleaseKey(hbl, []byte(getKey(0)))
	require.NotNil(t, released)
	assert.Equal(t, []byte(getKey(0)), released.Key())
	assertPanicsIs(t, ErrLogic, func() {
		ht.ReleaseKey(hbl, []byte(getKey(0)))
	})
	assertPanicsIs(t, ErrLogic, func() {
		ht.ReleaseSlot(hbl, released)
	})
	hbl.Unlock()
	assert.Equal(t, int64(2), ht.NumItems())

	for i := 1; i < 3; i++ {
		res := ht.FindForWrite([]byte(getKey(i)), WantsDeletedNo)
		ht.DeleteSlot(res.Lock, res.Slot)
		res.Unlock()
	}
	assert.Equal(t, int64(0), ht.NumItems())
	assert.Equal(t, int64(0), ht.Stats().MemSize())
	assert.Equal(t, int64(0), engine.CurrentSize.Load())
}

func TestHashTable_ReplaceByCopy(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	require.Equal(t, WasClean, ht.Set(makeItem("key", "value")))
	before := ht.Stats().Snapshot()

	res := ht.FindForWrite([]byte("key"), WantsDeletedNo)
	cp, released := ht.ReplaceByCopy(res.Lock, res.Slot)
	res.Unlock()

	assert.Same(t, res.Slot, released)
	assert.NotSame(t, released, cp)
	assert.Equal(t, released.Value(), cp.Value())
	assert.Equal(t, before, ht.Stats().Snapshot())

	res = ht.FindForWrite([]byte("key"), WantsDeletedNo)
	assert.Same(t, cp, res.Slot)
	res.Unlock()
}

func TestHashTable_CreateSyncDeletePrepare(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	require.Equal(t, WasClean, ht.Set(makeItem("key", "value")))

	res := ht.FindForWrite([]byte("key"), WantsDeletedNo)
	pending := ht.CreateSyncDeletePrepare(res.Lock, res.Slot, DeleteSourceExplicit)
	assert.True(t, pending.IsPending())
	assert.True(t, pending.IsDeleted())
	assert.Nil(t, pending.Value())
	assert.False(t, res.Slot.IsDeleted())

	assertPanicsIs(t, ErrLogic, func() {
		ht.CreateSyncDeletePrepare(res.Lock, pending, DeleteSourceExplicit)
	})
	res.Unlock()

	assert.Equal(t, int64(1), ht.NumPreparedSyncWrites())
	// a prepared delete is not counted deleted until it commits
	assert.Equal(t, int64(0), ht.NumDeletedItems())
	assertStatsConsistent(t, ht)
}

func TestHashTable_RestoreValue(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	require.Equal(t, WasClean, ht.Set(makeItem("key", "value")))

	res := ht.FindForWrite([]byte("key"), WantsDeletedNo)
	defer res.Unlock()
	assert.False(t, ht.RestoreValue(res.Lock, makeItem("key", "value"), res.Slot))

	ht.MarkClean(res.Lock, res.Slot)
	require.True(t, ht.EjectSlot(res.Lock, res.Slot, EvictValue))
	assert.Equal(t, int64(1), ht.NumNonResidentItems())
	assert.Equal(t, int64(0), ht.NumResidentItems())

	assert.True(t, ht.RestoreValue(res.Lock, makeItem("key", "value"), res.Slot))
	assert.True(t, res.Slot.IsResident())
	assert.Equal(t, []byte("value"), res.Slot.Value())
	assert.Equal(t, int64(0), ht.NumNonResidentItems())
}

func TestHashTable_TempItems(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	hbl := ht.GetLockedBucket([]byte("key"))
	sv := ht.AddNewSlot(hbl, &Item{Key: []byte("key"), Temp: TempInitial})
	assert.Equal(t, int64(1), ht.NumTempItems())
	assert.Equal(t, int64(0), ht.NumItems())
	assert.False(t, sv.IsDirty())
	assert.False(t, ht.CleanupIfTemporaryItem(hbl, sv))

	ht.RestoreMeta(hbl, &Item{Key: []byte("key"), Cas: 7, Deleted: true}, sv)
	assert.True(t, sv.IsTempDeletedItem())
	assert.Equal(t, uint64(7), sv.Cas())

	assert.True(t, ht.CleanupIfTemporaryItem(hbl, sv))
	hbl.Unlock()
	assert.Equal(t, int64(0), ht.NumTempItems())
	assertStatsConsistent(t, ht)
}

func TestHashTable_RestoreValue_TempItem(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	hbl := ht.GetLockedBucket([]byte("key"))
	defer hbl.Unlock()
	sv := ht.AddNewSlot(hbl, &Item{Key: []byte("key"), Temp: TempInitial})

	require.True(t, ht.RestoreValue(hbl, makeItem("key", "fetched"), sv))
	assert.False(t, sv.IsTempItem())
	assert.False(t, sv.IsNewCacheItem())
	assert.Equal(t, []byte("fetched"), sv.Value())
	assert.Equal(t, int64(0), ht.NumTempItems())
	assert.Equal(t, int64(1), ht.NumItems())
}

func TestHashTable_ReallocateSlot(t *testing.T) {
	ht := newTestTable(t, 3, 1)
	storeItems(t, ht, 10)

	res := ht.FindForWrite([]byte(getKey(4)), WantsDeletedNo)
	old := res.Slot
	cp := ht.ReallocateSlot(res.Lock, old)
	require.NotNil(t, cp)
	assert.NotSame(t, old, cp)
	assert.Nil(t, ht.ReallocateSlot(res.Lock, old))
	res.Unlock()

	res = ht.FindForWrite([]byte(getKey(4)), WantsDeletedNo)
	assert.Same(t, cp, res.Slot)
	res.Unlock()
	for i := 0; i < 10; i++ {
		res := ht.FindForRead([]byte(getKey(i)), TrackReferenceNo, WantsDeletedNo)
		assert.NotNil(t, res.Slot)
		res.Unlock()
	}
	assertStatsConsistent(t, ht)
}

func TestHashTable_Clear(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	storeItems(t, ht, 20)
	require.Positive(t, ht.engine.CurrentSize.Load())

	ht.Clear(false)
	assert.True(t, ht.IsActive())
	assert.Equal(t, StatsSnapshot{}, ht.Stats().Snapshot())
	assert.Equal(t, int64(0), ht.engine.CurrentSize.Load())

	storeItems(t, ht, 1)
	ht.Clear(true)
	assert.False(t, ht.IsActive())
	assertPanicsIs(t, ErrLogic, func() { ht.Clear(false) })
}

func TestHashTable_GetRandomKey(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	assert.Nil(t, ht.GetRandomKey(12345))

	storeItems(t, ht, 5)
	for _, rnd := range []int64{0, 1, 46, 47, 1 << 40, -9} {
		itm := ht.GetRandomKey(rnd)
		require.NotNil(t, itm)
		assert.Contains(t, []string{getKey(0), getKey(1), getKey(2), getKey(3), getKey(4)}, string(itm.Key))
	}
}
