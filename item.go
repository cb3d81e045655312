package kvengine

import "fmt"

// CommittedState says whether a record is visible to readers or belongs to
// an in-flight synchronous write.
type CommittedState uint8

const (
	// CommittedViaMutation is a plain, externally visible write.
	CommittedViaMutation CommittedState = iota
	// CommittedViaPrepare is a visible write that went through prepare/commit.
	CommittedViaPrepare
	// Pending is a prepared sync write that is not yet visible.
	Pending
	// PreparedMaybeVisible is a prepare whose outcome may already be visible
	// elsewhere; readers must block until it resolves.
	PreparedMaybeVisible
)

func (s CommittedState) String() string {
	switch s {
	case CommittedViaMutation:
		return "CommittedViaMutation"
	case CommittedViaPrepare:
		return "CommittedViaPrepare"
	case Pending:
		return "Pending"
	case PreparedMaybeVisible:
		return "PreparedMaybeVisible"
	}
	return fmt.Sprintf("<invalid>(%d)", uint8(s))
}

// IsPending reports whether s is one of the prepared states.
func (s CommittedState) IsPending() bool {
	return s == Pending || s == PreparedMaybeVisible
}

// DeleteSource records why a record was deleted.
type DeleteSource uint8

const (
	DeleteSourceExplicit DeleteSource = iota
	DeleteSourceTTL
)

func (s DeleteSource) String() string {
	if s == DeleteSourceTTL {
		return "TTL"
	}
	return "Explicit"
}

// Datatype is a bit set describing the encoding of a value.
type Datatype uint8

const (
	DatatypeRaw    Datatype = 0
	DatatypeJSON   Datatype = 1 << 0
	DatatypeSnappy Datatype = 1 << 1
	DatatypeXattr  Datatype = 1 << 2

	// DatatypeCount is the number of distinct datatype combinations.
	DatatypeCount = 8
)

func (d Datatype) IsJSON() bool   { return d&DatatypeJSON != 0 }
func (d Datatype) IsSnappy() bool { return d&DatatypeSnappy != 0 }
func (d Datatype) IsXattr() bool  { return d&DatatypeXattr != 0 }

// String renders d as three flags, X (xattr), C (compressed) and J (json).
func (d Datatype) String() string {
	b := []byte("...")
	if d.IsXattr() {
		b[0] = 'X'
	}
	if d.IsSnappy() {
		b[1] = 'C'
	}
	if d.IsJSON() {
		b[2] = 'J'
	}
	return string(b)
}

// TempState marks placeholder records that only exist to track an
// outstanding background fetch.
type TempState uint8

const (
	TempNone TempState = iota
	// TempInitial is created when a read misses and a fetch is scheduled.
	TempInitial
	// TempDeleted means the fetch found a deleted document.
	TempDeleted
	// TempNonExistent means the fetch found nothing.
	TempNonExistent
)

// EvictionPolicy selects what an ejection removes.
type EvictionPolicy uint8

const (
	// EvictValue drops the value bytes and keeps the metadata in memory.
	EvictValue EvictionPolicy = iota
	// EvictFull removes the whole slot.
	EvictFull
)

func (p EvictionPolicy) String() string {
	if p == EvictFull {
		return "Full"
	}
	return "Value"
}

// Item is a logical document as handed to the table by the engine.
type Item struct {
	Key      []byte
	Value    []byte
	Cas      uint64
	RevSeqno uint64
	BySeqno  int64
	Flags    uint32
	Expiry   uint32
	Datatype Datatype

	Committed    CommittedState
	Deleted      bool
	DeleteSource DeleteSource
	Temp         TempState

	// System marks keys in the system namespace. System items are counted
	// separately and never as deleted.
	System      bool
	FreqCounter uint8
	// UncompressedLen is the inflated length of a compressed value. Zero means
	// the value is stored uncompressed.
	UncompressedLen int
}

func (it *Item) IsPending() bool   { return it.Committed.IsPending() }
func (it *Item) IsCommitted() bool { return !it.Committed.IsPending() }
