package kvengine

import (
	"bytes"
	"fmt"
	"strings"
	"unsafe"

	"github.com/gsauere/kv-engine/util"
)

const (
	// StatePendingSeqno is the by-seqno of a record whose seqno has not been
	// assigned yet.
	StatePendingSeqno int64 = -2

	MinNRUValue     uint8 = 0
	InitialNRUValue uint8 = 2
	MaxNRUValue     uint8 = 3

	// dumpValueLimit caps how many value bytes String prints.
	dumpValueLimit = 40
)

var slotOverhead = int64(unsafe.Sizeof(Slot{}))

// Slot is the in-memory record of one key. At most one committed and one
// pending slot exist per key. Fields are only read or written while holding
// the lock of the bucket the slot is chained in; the accessors below carry
// no synchronisation of their own.
type Slot struct {
	key   []byte
	value []byte
	next  *Slot

	cas             uint64
	revSeqno        uint64
	bySeqno         int64
	flags           uint32
	expiry          uint32
	uncompressedLen int
	hash            uint32

	datatype     Datatype
	committed    CommittedState
	temp         TempState
	deleteSource DeleteSource
	nru          uint8
	freq         uint8

	deleted      bool
	resident     bool
	dirty        bool
	newCacheItem bool
	system       bool
}

// NewSlotFrom builds a slot holding itm, chained in front of next. Custom
// SlotFactory implementations build on it.
func NewSlotFrom(itm *Item, next *Slot) *Slot {
	sv := &Slot{
		key:          cloneBytes(itm.Key),
		next:         next,
		cas:          itm.Cas,
		revSeqno:     itm.RevSeqno,
		bySeqno:      itm.BySeqno,
		flags:        itm.Flags,
		expiry:       itm.Expiry,
		hash:         util.HashKey(itm.Key),
		datatype:     itm.Datatype,
		committed:    itm.Committed,
		temp:         itm.Temp,
		nru:          InitialNRUValue,
		freq:         itm.FreqCounter,
		deleted:      itm.Deleted,
		newCacheItem: true,
		system:       itm.System,
	}
	sv.resident = !sv.IsTempItem()
	sv.dirty = sv.temp != TempInitial
	if !sv.IsTempItem() {
		sv.replaceValue(itm)
	}
	if itm.Deleted {
		sv.deleteSource = itm.DeleteSource
	}
	return sv
}

// CopySlotFrom returns a shallow copy of other chained in front of next.
func CopySlotFrom(other *Slot, next *Slot) *Slot {
	sv := *other
	sv.next = next
	return &sv
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

func (sv *Slot) Key() []byte               { return sv.key }
func (sv *Slot) Value() []byte             { return sv.value }
func (sv *Slot) Cas() uint64               { return sv.cas }
func (sv *Slot) RevSeqno() uint64          { return sv.revSeqno }
func (sv *Slot) BySeqno() int64            { return sv.bySeqno }
func (sv *Slot) Flags() uint32             { return sv.flags }
func (sv *Slot) Expiry() uint32            { return sv.expiry }
func (sv *Slot) Datatype() Datatype        { return sv.datatype }
func (sv *Slot) Committed() CommittedState { return sv.committed }
func (sv *Slot) DeleteSource() DeleteSource {
	return sv.deleteSource
}
func (sv *Slot) NRU() uint8         { return sv.nru }
func (sv *Slot) FreqCounter() uint8 { return sv.freq }
func (sv *Slot) IsDeleted() bool    { return sv.deleted }
func (sv *Slot) IsResident() bool   { return sv.resident }
func (sv *Slot) IsDirty() bool      { return sv.dirty }
func (sv *Slot) IsNewCacheItem() bool {
	return sv.newCacheItem
}
func (sv *Slot) IsSystem() bool { return sv.system }

func (sv *Slot) IsPending() bool { return sv.committed.IsPending() }
func (sv *Slot) IsCommitted() bool {
	return !sv.committed.IsPending()
}
func (sv *Slot) IsPreparedMaybeVisible() bool {
	return sv.committed == PreparedMaybeVisible
}

func (sv *Slot) IsTempItem() bool        { return sv.temp != TempNone }
func (sv *Slot) IsTempInitialItem() bool { return sv.temp == TempInitial }
func (sv *Slot) IsTempDeletedItem() bool { return sv.temp == TempDeleted }
func (sv *Slot) IsTempNonExistentItem() bool {
	return sv.temp == TempNonExistent
}

// HasKey reports whether sv holds key.
func (sv *Slot) HasKey(key []byte) bool {
	return bytes.Equal(sv.key, key)
}

// ValueLen is the number of value bytes held in memory.
func (sv *Slot) ValueLen() int { return len(sv.value) }

func (sv *Slot) uncompressedValueLen() int {
	if sv.value == nil {
		return 0
	}
	if sv.datatype.IsSnappy() && sv.uncompressedLen > 0 {
		return sv.uncompressedLen
	}
	return len(sv.value)
}

// Size is the memory charged for sv: fixed overhead, key and value.
func (sv *Slot) Size() int64 {
	return slotOverhead + int64(len(sv.key)) + int64(len(sv.value))
}

// MetaDataSize is the part of Size that stays in memory after a value eject.
func (sv *Slot) MetaDataSize() int64 {
	return slotOverhead + int64(len(sv.key))
}

// UncompressedSize is Size with the value counted at its inflated length.
func (sv *Slot) UncompressedSize() int64 {
	return slotOverhead + int64(len(sv.key)) + int64(sv.uncompressedValueLen())
}

// ToItem returns a detached copy of the record.
func (sv *Slot) ToItem() *Item {
	itm := &Item{
		Key:       cloneBytes(sv.key),
		Value:     cloneBytes(sv.value),
		Cas:       sv.cas,
		RevSeqno:  sv.revSeqno,
		BySeqno:   sv.bySeqno,
		Flags:     sv.flags,
		Expiry:    sv.expiry,
		Datatype:  sv.datatype,
		Committed: sv.committed,
		Deleted:   sv.deleted,
		Temp:      sv.temp,
		System:    sv.system,

		FreqCounter: sv.freq,
	}
	if sv.deleted {
		itm.DeleteSource = sv.deleteSource
	}
	if sv.datatype.IsSnappy() {
		itm.UncompressedLen = sv.uncompressedLen
	}
	return itm
}

// EligibleForEviction is the default eviction predicate. Prepares are always
// kept resident and dirty records are never evicted.
func (sv *Slot) EligibleForEviction(policy EvictionPolicy) bool {
	if sv.IsPending() {
		return false
	}
	if policy == EvictValue {
		return sv.resident && !sv.deleted && !sv.dirty
	}
	return !sv.dirty
}

func (sv *Slot) markDirty() { sv.dirty = true }
func (sv *Slot) markClean() { sv.dirty = false }

func (sv *Slot) replaceValue(itm *Item) {
	sv.value = cloneBytes(itm.Value)
	sv.uncompressedLen = 0
	if itm.Datatype.IsSnappy() {
		sv.uncompressedLen = itm.UncompressedLen
	}
}

func (sv *Slot) resetValue() {
	sv.value = nil
	sv.uncompressedLen = 0
}

func (sv *Slot) setValue(itm *Item) {
	if sv.deleted && !itm.Deleted {
		// deleted -> alive adds a live item
		sv.newCacheItem = true
	}
	sv.deleted = itm.Deleted
	if itm.Deleted {
		sv.deleteSource = itm.DeleteSource
	}

	sv.flags = itm.Flags
	sv.datatype = itm.Datatype
	sv.bySeqno = itm.BySeqno
	sv.cas = itm.Cas
	sv.expiry = itm.Expiry
	sv.revSeqno = itm.RevSeqno
	sv.temp = itm.Temp
	sv.system = itm.System

	if sv.temp == TempInitial {
		sv.markClean()
	} else {
		sv.markDirty()
	}

	if sv.IsTempItem() {
		sv.resident = false
		sv.resetValue()
	} else {
		sv.resident = true
		sv.replaceValue(itm)
	}
	sv.committed = itm.Committed
}

// del drops the value and turns sv into a tombstone. It returns false if sv
// already was a tombstone without value.
func (sv *Slot) del(src DeleteSource) bool {
	if sv.deleted && sv.value == nil {
		return false
	}
	sv.resetValue()
	sv.datatype = DatatypeRaw
	sv.bySeqno = StatePendingSeqno
	sv.temp = TempNone
	sv.deleted = true
	sv.deleteSource = src
	sv.markDirty()
	return true
}

// markDeleted flags sv deleted but keeps its value.
func (sv *Slot) markDeleted(src DeleteSource) {
	sv.deleted = true
	sv.deleteSource = src
	sv.markDirty()
}

func (sv *Slot) ejectValue() {
	sv.resetValue()
	sv.resident = false
}

func (sv *Slot) referenced() {
	if sv.nru > MinNRUValue {
		sv.nru--
	}
}

func (sv *Slot) restoreValue(itm *Item) {
	if sv.IsTempInitialItem() || sv.IsTempDeletedItem() {
		sv.cas = itm.Cas
		sv.flags = itm.Flags
		sv.expiry = itm.Expiry
		sv.revSeqno = itm.RevSeqno
		sv.bySeqno = itm.BySeqno
		sv.temp = itm.Temp
		sv.nru = InitialNRUValue
	}
	sv.datatype = itm.Datatype
	sv.deleted = itm.Deleted
	if itm.Deleted {
		sv.deleteSource = itm.DeleteSource
	}
	sv.replaceValue(itm)
	sv.freq = itm.FreqCounter
	sv.committed = itm.Committed
	sv.resident = true
}

func (sv *Slot) restoreMeta(itm *Item) {
	sv.cas = itm.Cas
	sv.flags = itm.Flags
	sv.datatype = itm.Datatype
	sv.expiry = itm.Expiry
	sv.revSeqno = itm.RevSeqno
	if itm.Deleted {
		sv.temp = TempDeleted
	} else {
		sv.bySeqno = itm.BySeqno
		sv.temp = TempNone
		sv.newCacheItem = false
	}
	if sv.nru == MaxNRUValue {
		sv.nru = InitialNRUValue
	}
	sv.freq = itm.FreqCounter
	sv.committed = itm.Committed
}

func (sv *Slot) String() string {
	var b strings.Builder
	b.WriteString(sv.datatype.String())
	b.WriteByte(' ')
	b.WriteByte(flagByte(sv.dirty, 'W'))
	b.WriteByte(flagByte(sv.deleted, 'D'))
	b.WriteByte(flagByte(sv.newCacheItem, 'N'))
	b.WriteByte(flagByte(sv.resident, 'R'))
	switch sv.committed {
	case CommittedViaMutation:
		b.WriteString("Cm")
	case CommittedViaPrepare:
		b.WriteString("Cp")
	case Pending:
		b.WriteString("Pe")
	case PreparedMaybeVisible:
		b.WriteString("Pv")
	}
	if sv.deleted && sv.deleteSource == DeleteSourceTTL {
		b.WriteString("TTL")
	}
	fmt.Fprintf(&b, " temp:%c%c%c ",
		flagByte(sv.IsTempInitialItem(), 'I'),
		flagByte(sv.IsTempDeletedItem(), 'D'),
		flagByte(sv.IsTempNonExistentItem(), 'N'))
	fmt.Fprintf(&b, "seq:%d rev:%d cas:%d key:%q exp:%d nru:%d fc:%d vallen:%d",
		sv.bySeqno, sv.revSeqno, sv.cas, util.ByteToString(sv.key), sv.expiry, sv.nru, sv.freq, len(sv.value))
	if sv.value != nil {
		limit := min(dumpValueLimit, len(sv.value))
		fmt.Fprintf(&b, " :%q", util.ByteToString(sv.value[:limit]))
		if limit < len(sv.value) {
			b.WriteString(" <cut>")
		}
	}
	return b.String()
}

func flagByte(set bool, c byte) byte {
	if set {
		return c
	}
	return '.'
}
