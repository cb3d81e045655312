package kvengine

import (
	"log/slog"
	"math"
	"sort"
)

// prime table sizes, roughly doubling
var primeSizes = [...]int{
	3, 7, 13, 23, 47, 97, 193, 383, 769, 1531, 3079, 6143, 12289, 24571,
	49157, 98299, 196613, 393209, 786433, 1572869, 3145721, 6291449,
	12582917, 25165813, 50331653, 100663291, 201326611, 402653189,
	805306357, 1610612741,
}

// Resize picks a table size for the current item count and resizes to it.
// It reports whether the size changed.
func (ht *HashTable) Resize() bool {
	items := int(ht.NumInMemoryItems() + ht.NumTempItems())
	return ht.ResizeTo(ht.autoSize(items))
}

// autoSize returns the prime closest to items, never below the initial size.
// The current size is kept if it already is the smallest prime at or above
// items, and ties go to the larger prime.
func (ht *HashTable) autoSize(items int) int {
	i := sort.SearchInts(primeSizes[:], items)
	if i >= len(primeSizes) {
		return primeSizes[len(primeSizes)-1]
	}
	if primeSizes[i] < ht.initialSize {
		return ht.initialSize
	}
	if i == 0 {
		return primeSizes[0]
	}

	upper, lower := primeSizes[i], primeSizes[i-1]
	// keeping a current size equal to lower would stop a table at its
	// initial size from ever growing
	if ht.Size() == upper {
		return upper
	}
	if lower < ht.initialSize {
		return upper
	}
	if upper-items <= items-lower {
		return upper
	}
	return lower
}

// ResizeTo rehashes the table into newSize buckets. It is a no-op when
// newSize is the current size or above math.MaxInt32, and it gives up when a
// visitor is running. It reports whether the size changed.
func (ht *HashTable) ResizeTo(newSize int) bool {
	ht.checkActive("ResizeTo")
	if newSize <= 0 {
		invalidArgf("ResizeTo: size %d", newSize)
	}
	if newSize > math.MaxInt32 || newSize == ht.Size() {
		return false
	}

	ht.locks.LockAll()
	defer ht.locks.UnlockAll()

	if ht.gate.busy() {
		ht.logger.Debug("hashtable resize aborted, visitor active",
			slog.Int("size", ht.Size()), slog.Int("newSize", newSize))
		return false
	}
	oldSize := ht.Size()
	if newSize == oldSize {
		return false
	}

	ht.engine.MemOverhead.Add(-ht.memorySize())

	values := make([]*Slot, newSize)
	for i := range ht.values {
		for sv := ht.values[i]; sv != nil; {
			next := sv.next
			b := int(sv.hash % uint32(newSize))
			sv.next = values[b]
			values[b] = sv
			sv = next
		}
		ht.values[i] = nil
	}
	ht.values = values
	ht.size.Store(int64(newSize))

	ht.engine.MemOverhead.Add(ht.memorySize())
	ht.numResizes.Add(1)

	ht.logger.Debug("hashtable resized",
		slog.Int("from", oldSize), slog.Int("to", newSize),
		slog.Int64("items", ht.NumItems()))
	return true
}
