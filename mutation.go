package kvengine

import (
	"github.com/gsauere/kv-engine/util"
)

// UpdateResult is the outcome of UpdateSlot. Slot is the slot now holding the
// item, which differs from the input slot when a pending item was added next
// to a committed one.
type UpdateResult struct {
	Status MutationStatus
	Slot   *Slot
}

// DeleteResult is the outcome of SoftDelete.
type DeleteResult struct {
	Status DeletionStatus
	Slot   *Slot
}

// Set stores itm, updating the pending or committed slot of its key in place
// or adding a new one.
func (ht *HashTable) Set(itm *Item) MutationStatus {
	res := ht.FindForWrite(itm.Key, WantsDeletedYes)
	defer res.Unlock()

	if res.Slot != nil {
		return ht.UpdateSlot(res.Lock, res.Slot, itm).Status
	}
	ht.AddNewSlot(res.Lock, itm)
	return WasClean
}

// UpdateSlot applies itm to sv.
//
// A pending slot cannot be overwritten by a plain update. A pending itm
// landing on a committed slot creates the pending slot next to it.
func (ht *HashTable) UpdateSlot(hbl *BucketLock, sv *Slot, itm *Item) UpdateResult {
	ht.checkMutation(hbl, sv.hash, "UpdateSlot")

	switch sv.committed {
	case Pending, PreparedMaybeVisible:
		return UpdateResult{Status: IsPendingSyncWrite, Slot: sv}
	case CommittedViaMutation, CommittedViaPrepare:
		if itm.IsPending() {
			return UpdateResult{Status: WasClean, Slot: ht.AddNewSlot(hbl, itm)}
		}
	default:
		logicf("UpdateSlot: invalid commit state %v", sv.committed)
	}

	status := WasClean
	if sv.dirty {
		status = WasDirty
	}
	pre := ht.valueStats.prologue(sv)
	sv.setValue(itm)
	ht.updateFreqCounter(sv)
	ht.valueStats.epilogue(pre, sv)
	return UpdateResult{Status: status, Slot: sv}
}

// AddNewSlot links a slot built from itm at the head of the guarded chain.
func (ht *HashTable) AddNewSlot(hbl *BucketLock, itm *Item) *Slot {
	ht.checkMutation(hbl, util.HashKey(itm.Key), "AddNewSlot")

	pre := ht.valueStats.prologue(nil)
	sv := ht.factory.NewSlot(itm, ht.values[hbl.bucket])
	ht.valueStats.epilogue(pre, sv)
	ht.values[hbl.bucket] = sv
	return sv
}

// SoftDelete turns a committed slot into a tombstone. With onlyMarkDeleted
// the value is kept.
func (ht *HashTable) SoftDelete(hbl *BucketLock, sv *Slot, onlyMarkDeleted bool, src DeleteSource) DeleteResult {
	ht.checkMutation(hbl, sv.hash, "SoftDelete")

	switch sv.committed {
	case Pending, PreparedMaybeVisible:
		return DeleteResult{Status: DeletionIsPendingSyncWrite}
	case CommittedViaMutation, CommittedViaPrepare:
		pre := ht.valueStats.prologue(sv)
		if onlyMarkDeleted {
			sv.markDeleted(src)
		} else {
			sv.del(src)
		}
		ht.valueStats.epilogue(pre, sv)
		return DeleteResult{Status: DeletionSuccess, Slot: sv}
	}
	logicf("SoftDelete: invalid commit state %v", sv.committed)
	return DeleteResult{}
}

// ReleaseKey unchains the first slot of key and hands it to the caller.
func (ht *HashTable) ReleaseKey(hbl *BucketLock, key []byte) *Slot {
	h := util.HashKey(key)
	ht.checkMutation(hbl, h, "ReleaseKey")
	return ht.release(hbl, "ReleaseKey", func(v *Slot) bool {
		return v.hash == h && v.HasKey(key)
	})
}

// ReleaseSlot unchains sv and hands it to the caller.
func (ht *HashTable) ReleaseSlot(hbl *BucketLock, sv *Slot) *Slot {
	ht.checkMutation(hbl, sv.hash, "ReleaseSlot")
	return ht.release(hbl, "ReleaseSlot", func(v *Slot) bool {
		return v == sv
	})
}

// DeleteKey drops the first slot of key.
func (ht *HashTable) DeleteKey(hbl *BucketLock, key []byte) {
	ht.ReleaseKey(hbl, key)
}

// DeleteSlot drops sv.
func (ht *HashTable) DeleteSlot(hbl *BucketLock, sv *Slot) {
	ht.ReleaseSlot(hbl, sv)
}

func (ht *HashTable) release(hbl *BucketLock, op string, match func(v *Slot) bool) *Slot {
	released := ht.unchain(hbl.bucket, match)
	if released == nil {
		logicf("%s: slot to release is not in bucket %d", op, hbl.bucket)
	}
	pre := ht.valueStats.prologue(released)
	ht.valueStats.epilogue(pre, nil)
	return released
}

// unchain removes the first slot of bucket matching match. Stats are left to
// the caller.
func (ht *HashTable) unchain(bucket int, match func(v *Slot) bool) *Slot {
	for link := &ht.values[bucket]; *link != nil; link = &(*link).next {
		if sv := *link; match(sv) {
			*link = sv.next
			sv.next = nil
			return sv
		}
	}
	return nil
}

// ReplaceByCopy swaps sv for a copy of itself at the head of its chain. It
// returns the copy and the released slot.
func (ht *HashTable) ReplaceByCopy(hbl *BucketLock, sv *Slot) (*Slot, *Slot) {
	released := ht.ReleaseSlot(hbl, sv)

	pre := ht.valueStats.prologue(nil)
	cp := ht.factory.CopySlot(released, ht.values[hbl.bucket])
	ht.valueStats.epilogue(pre, cp)
	ht.values[hbl.bucket] = cp
	return cp, released
}

// CreateSyncDeletePrepare links a pending tombstone for the key of the
// committed slot sv and returns it.
func (ht *HashTable) CreateSyncDeletePrepare(hbl *BucketLock, sv *Slot, src DeleteSource) *Slot {
	ht.checkMutation(hbl, sv.hash, "CreateSyncDeletePrepare")
	if sv.IsPending() {
		logicf("CreateSyncDeletePrepare: slot for key %q is already pending", sv.key)
	}

	pre := ht.valueStats.prologue(nil)
	pending := ht.factory.CopySlot(sv, ht.values[hbl.bucket])
	pending.committed = Pending
	if !pending.del(src) {
		pending.markDeleted(src)
	}
	ht.valueStats.epilogue(pre, pending)
	ht.values[hbl.bucket] = pending
	return pending
}

// MarkClean records that sv has been persisted.
func (ht *HashTable) MarkClean(hbl *BucketLock, sv *Slot) {
	ht.checkLock(hbl, "MarkClean")
	ht.checkCovers(hbl, sv.hash, "MarkClean")
	sv.markClean()
}

// RestoreValue completes a background fetch by making sv resident with the
// value of itm. It returns false if the lock is not held, the table is
// inactive or sv is already resident.
func (ht *HashTable) RestoreValue(hbl *BucketLock, itm *Item, sv *Slot) bool {
	if !hbl.Held() || !ht.active.Load() || sv.resident {
		return false
	}
	ht.checkLock(hbl, "RestoreValue")

	pre := ht.valueStats.prologue(sv)
	if sv.IsTempItem() {
		// the temp item turns into a regular item, so not a new cache item
		sv.newCacheItem = false
	}
	sv.restoreValue(itm)
	ht.valueStats.epilogue(pre, sv)
	return true
}

// RestoreMeta completes a metadata-only fetch into the temp slot sv.
func (ht *HashTable) RestoreMeta(hbl *BucketLock, itm *Item, sv *Slot) {
	ht.checkMutation(hbl, sv.hash, "RestoreMeta")

	pre := ht.valueStats.prologue(sv)
	sv.restoreMeta(itm)
	ht.valueStats.epilogue(pre, sv)
}

// CleanupIfTemporaryItem drops sv if it is a deleted or non-existent
// placeholder, reporting whether it did.
func (ht *HashTable) CleanupIfTemporaryItem(hbl *BucketLock, sv *Slot) bool {
	if sv.IsTempDeletedItem() || sv.IsTempNonExistentItem() {
		ht.DeleteSlot(hbl, sv)
		return true
	}
	return false
}

// ReallocateSlot replaces sv by a fresh copy at the same chain position. It
// returns the copy, or nil if sv is not in the guarded chain.
func (ht *HashTable) ReallocateSlot(hbl *BucketLock, sv *Slot) *Slot {
	ht.checkMutation(hbl, sv.hash, "ReallocateSlot")

	for link := &ht.values[hbl.bucket]; *link != nil; link = &(*link).next {
		if *link == sv {
			cp := ht.factory.CopySlot(sv, sv.next)
			*link = cp
			sv.next = nil
			return cp
		}
	}
	return nil
}

// Clear drops every slot. With deactivate the table is also marked
// inactive, which makes any later mutation panic.
func (ht *HashTable) Clear(deactivate bool) {
	if !deactivate {
		ht.checkActive("Clear")
	}
	ht.locks.LockAll()
	defer ht.locks.UnlockAll()
	ht.clearLocked(deactivate)
}

// clearLocked must be called with every shard lock held.
func (ht *HashTable) clearLocked(deactivate bool) {
	if deactivate {
		ht.active.Store(false)
	}
	var clearedMem, clearedVal int64
	for i := range ht.values {
		for sv := ht.values[i]; sv != nil; {
			next := sv.next
			clearedMem += sv.Size()
			clearedVal += int64(sv.ValueLen())
			sv.next = nil
			sv = next
		}
		ht.values[i] = nil
	}
	ht.engine.CurrentSize.Add(-(clearedMem - clearedVal))
	ht.valueStats.reset()
}

// GetRandomKey returns a copy of a live committed item, starting the search
// at bucket rnd mod size. It returns nil if no such item exists.
func (ht *HashTable) GetRandomKey(rnd int64) *Item {
	size := ht.Size()
	start := int(uint64(rnd) % uint64(size))
	curr := start
	for {
		if itm := ht.randomKeyFromBucket(curr); itm != nil {
			return itm
		}
		curr++
		if curr >= size {
			curr = 0
		}
		if curr == start {
			return nil
		}
	}
}

func (ht *HashTable) randomKeyFromBucket(bucket int) *Item {
	hbl := ht.lockBucket(bucket)
	defer hbl.Unlock()
	if bucket >= len(ht.values) {
		return nil
	}
	for v := ht.values[bucket]; v != nil; v = v.next {
		if !v.IsTempItem() && !v.deleted && v.resident && v.IsCommitted() {
			return v.ToItem()
		}
	}
	return nil
}
