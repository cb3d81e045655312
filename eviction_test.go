package kvengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeClean(t *testing.T, ht *HashTable, itm *Item) {
	t.Helper()
	res := ht.FindForWrite(itm.Key, WantsDeletedYes)
	defer res.Unlock()
	require.Nil(t, res.Slot)
	sv := ht.AddNewSlot(res.Lock, itm)
	ht.MarkClean(res.Lock, sv)
}

func TestHashTable_EjectSlot_Value(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	require.Equal(t, WasClean, ht.Set(makeItem("dirty", "value")))
	storeClean(t, ht, makeItem("clean", "value"))

	res := ht.FindForWrite([]byte("dirty"), WantsDeletedNo)
	assert.False(t, ht.EjectSlot(res.Lock, res.Slot, EvictValue))
	res.Unlock()
	assert.Equal(t, int64(1), ht.engine.NumFailedEjects.Load())

	res = ht.FindForWrite([]byte("clean"), WantsDeletedNo)
	assert.True(t, ht.EjectSlot(res.Lock, res.Slot, EvictValue))
	assert.False(t, res.Slot.IsResident())
	assert.Nil(t, res.Slot.Value())
	// a non resident value cannot be ejected again
	assert.False(t, ht.EjectSlot(res.Lock, res.Slot, EvictValue))
	res.Unlock()

	assert.Equal(t, int64(1), ht.engine.NumValueEjects.Load())
	assert.Equal(t, int64(2), ht.engine.NumFailedEjects.Load())
	assert.Equal(t, int64(1), ht.NumEjects())
	assert.Equal(t, int64(2), ht.NumItems())
	assert.Equal(t, int64(1), ht.NumNonResidentItems())
	assertStatsConsistent(t, ht)
}

func TestHashTable_EjectSlot_Full(t *testing.T) {
	tests := []struct {
		name      string
		watermark uint64
		rev       uint64
		want      uint64
	}{
		{"advances", 5, 10, 10},
		{"keeps higher", 20, 10, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ht := newTestTable(t, 47, 5)
			ht.SetMaxDeletedRevSeqno(tt.watermark)
			itm := makeItem("key", "value")
			itm.RevSeqno = tt.rev
			storeClean(t, ht, itm)

			res := ht.FindForWrite([]byte("key"), WantsDeletedNo)
			assert.True(t, ht.EjectSlot(res.Lock, res.Slot, EvictFull))
			res.Unlock()

			assert.Equal(t, tt.want, ht.MaxDeletedRevSeqno())
			assert.Equal(t, int64(1), ht.engine.NumFullEjects.Load())
			assert.Equal(t, int64(0), ht.NumItems())
			assert.Equal(t, int64(0), ht.engine.CurrentSize.Load())

			res = ht.FindForRead([]byte("key"), TrackReferenceNo, WantsDeletedYes)
			assert.Nil(t, res.Slot)
			res.Unlock()
		})
	}
}

func TestHashTable_EjectSlot_Pending(t *testing.T) {
	ht := newTestTable(t, 47, 5)
	hbl := ht.GetLockedBucket([]byte("key"))
	defer hbl.Unlock()
	sv := ht.AddNewSlot(hbl, makePending("key", "value"))
	ht.MarkClean(hbl, sv)

	assert.False(t, ht.EjectSlot(hbl, sv, EvictValue))
	assert.False(t, ht.EjectSlot(hbl, sv, EvictFull))
	assertPanicsIs(t, ErrInvalidArgument, func() { ht.EjectSlot(hbl, nil, EvictValue) })
}

func TestHashTable_EjectSlot_CustomEligibility(t *testing.T) {
	cfg := DefaultTableConfig()
	cfg.Eligible = func(sv *Slot, policy EvictionPolicy) bool { return true }
	ht := NewHashTable(cfg, nil)
	require.Equal(t, WasClean, ht.Set(makeItem("key", "value")))

	res := ht.FindForWrite([]byte("key"), WantsDeletedNo)
	assert.True(t, res.Slot.IsDirty())
	assert.True(t, ht.EjectSlot(res.Lock, res.Slot, EvictValue))
	res.Unlock()
}
