package kvengine

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// EngineStats is the engine wide accounting shared by every table of a
// bucket. Tables only ever add deltas to it.
type EngineStats struct {
	// CurrentSize tracks memory held by slot metadata outside of values.
	CurrentSize atomic.Int64
	// MemOverhead tracks memory held by table structures themselves.
	MemOverhead atomic.Int64

	NumFailedEjects atomic.Int64
	NumValueEjects  atomic.Int64
	NumFullEjects   atomic.Int64
}

// slotProperties is the part of a slot the statistics depend on, captured
// before a mutation so the epilogue can apply exact deltas.
type slotProperties struct {
	valid            bool
	size             int64
	metaDataSize     int64
	uncompressedSize int64
	datatype         Datatype
	resident         bool
	deleted          bool
	temp             bool
	system           bool
	prepared         bool
}

func propertiesOf(sv *Slot) slotProperties {
	if sv == nil {
		return slotProperties{}
	}
	return slotProperties{
		valid:            true,
		size:             sv.Size(),
		metaDataSize:     sv.MetaDataSize(),
		uncompressedSize: sv.UncompressedSize(),
		datatype:         sv.datatype,
		resident:         sv.resident,
		deleted:          sv.deleted,
		temp:             sv.IsTempItem(),
		system:           sv.system,
		prepared:         sv.IsPending(),
	}
}

// nonResident counts valid, live, non-temp slots whose value is not in memory.
func (p slotProperties) nonResident() bool {
	return p.valid && !p.resident && !p.deleted && !p.temp
}

func (p slotProperties) nonTemp() bool {
	return p.valid && !p.temp
}

// countedDeleted excludes system items, which keep a purpose when deleted,
// and prepares, which are not deleted until they commit.
func (p slotProperties) countedDeleted() bool {
	return p.deleted && !p.system && !p.prepared
}

// countedDatatype restricts the histogram to live committed items.
func (p slotProperties) countedDatatype() bool {
	return p.nonTemp() && !p.deleted && !p.prepared
}

// Statistics aggregates the per-table counters. Every update goes through
// prologue/epilogue so a transition is counted exactly once, whichever
// goroutine performs it.
type Statistics struct {
	numItems              atomic.Int64
	numTempItems          atomic.Int64
	numNonResidentItems   atomic.Int64
	numDeletedItems       atomic.Int64
	numSystemItems        atomic.Int64
	numPreparedSyncWrites atomic.Int64
	_                     cpu.CacheLinePad

	memSize             atomic.Int64
	cacheSize           atomic.Int64
	metaDataMemory      atomic.Int64
	uncompressedMemSize atomic.Int64
	_                   cpu.CacheLinePad

	datatypeCounts [DatatypeCount]atomic.Int64

	engine *EngineStats
}

func newStatistics(engine *EngineStats) *Statistics {
	return &Statistics{engine: engine}
}

func (s *Statistics) prologue(sv *Slot) slotProperties {
	return propertiesOf(sv)
}

func (s *Statistics) epilogue(pre slotProperties, sv *Slot) {
	post := propertiesOf(sv)

	if pre.size != post.size {
		s.cacheSize.Add(post.size - pre.size)
		s.memSize.Add(post.size - pre.size)
	}
	if pre.metaDataSize != post.metaDataSize {
		s.metaDataMemory.Add(post.metaDataSize - pre.metaDataSize)
		s.engine.CurrentSize.Add(post.metaDataSize - pre.metaDataSize)
	}
	if pre.uncompressedSize != post.uncompressedSize {
		s.uncompressedMemSize.Add(post.uncompressedSize - pre.uncompressedSize)
	}

	if d := delta(pre.nonResident(), post.nonResident()); d != 0 {
		s.numNonResidentItems.Add(d)
	}
	if d := delta(pre.valid && pre.temp, post.valid && post.temp); d != 0 {
		s.numTempItems.Add(d)
	}
	if d := delta(pre.nonTemp(), post.nonTemp()); d != 0 {
		s.numItems.Add(d)
	}
	if d := delta(pre.valid && pre.system, post.valid && post.system); d != 0 {
		s.numSystemItems.Add(d)
	}
	if d := delta(pre.valid && pre.prepared, post.valid && post.prepared); d != 0 {
		s.numPreparedSyncWrites.Add(d)
	}
	if d := delta(pre.countedDeleted(), post.countedDeleted()); d != 0 {
		s.numDeletedItems.Add(d)
	}

	if pre.countedDatatype() {
		s.datatypeCounts[pre.datatype%DatatypeCount].Add(-1)
	}
	if post.countedDatatype() {
		s.datatypeCounts[post.datatype%DatatypeCount].Add(1)
	}
}

func delta(pre, post bool) int64 {
	return b2i(post) - b2i(pre)
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (s *Statistics) reset() {
	for i := range s.datatypeCounts {
		s.datatypeCounts[i].Store(0)
	}
	s.numItems.Store(0)
	s.numTempItems.Store(0)
	s.numNonResidentItems.Store(0)
	s.numDeletedItems.Store(0)
	s.numSystemItems.Store(0)
	s.numPreparedSyncWrites.Store(0)
	s.memSize.Store(0)
	s.cacheSize.Store(0)
	s.metaDataMemory.Store(0)
	s.uncompressedMemSize.Store(0)
}

func (s *Statistics) NumItems() int64              { return s.numItems.Load() }
func (s *Statistics) NumTempItems() int64          { return s.numTempItems.Load() }
func (s *Statistics) NumNonResidentItems() int64   { return s.numNonResidentItems.Load() }
func (s *Statistics) NumDeletedItems() int64       { return s.numDeletedItems.Load() }
func (s *Statistics) NumSystemItems() int64        { return s.numSystemItems.Load() }
func (s *Statistics) NumPreparedSyncWrites() int64 { return s.numPreparedSyncWrites.Load() }
func (s *Statistics) MemSize() int64               { return s.memSize.Load() }
func (s *Statistics) CacheSize() int64             { return s.cacheSize.Load() }
func (s *Statistics) MetaDataMemory() int64        { return s.metaDataMemory.Load() }
func (s *Statistics) UncompressedMemSize() int64   { return s.uncompressedMemSize.Load() }

// DatatypeCounts returns the live committed item count per datatype.
func (s *Statistics) DatatypeCounts() [DatatypeCount]int64 {
	var counts [DatatypeCount]int64
	for i := range s.datatypeCounts {
		counts[i] = s.datatypeCounts[i].Load()
	}
	return counts
}

// StatsSnapshot is a point-in-time copy of a table's counters.
type StatsSnapshot struct {
	NumItems              int64
	NumTempItems          int64
	NumNonResidentItems   int64
	NumDeletedItems       int64
	NumSystemItems        int64
	NumPreparedSyncWrites int64
	MemSize               int64
	CacheSize             int64
	MetaDataMemory        int64
	UncompressedMemSize   int64
	DatatypeCounts        [DatatypeCount]int64
}

// Snapshot copies every counter. Counters are read one by one, so a snapshot
// taken under concurrent mutation may mix before and after values.
func (s *Statistics) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		NumItems:              s.NumItems(),
		NumTempItems:          s.NumTempItems(),
		NumNonResidentItems:   s.NumNonResidentItems(),
		NumDeletedItems:       s.NumDeletedItems(),
		NumSystemItems:        s.NumSystemItems(),
		NumPreparedSyncWrites: s.NumPreparedSyncWrites(),
		MemSize:               s.MemSize(),
		CacheSize:             s.CacheSize(),
		MetaDataMemory:        s.MetaDataMemory(),
		UncompressedMemSize:   s.UncompressedMemSize(),
		DatatypeCounts:        s.DatatypeCounts(),
	}
}

// add folds the properties of one slot into the snapshot, the same way the
// epilogue would count a freshly inserted slot.
func (snap *StatsSnapshot) add(sv *Slot) {
	p := propertiesOf(sv)
	snap.MemSize += p.size
	snap.CacheSize += p.size
	snap.MetaDataMemory += p.metaDataSize
	snap.UncompressedMemSize += p.uncompressedSize
	snap.NumNonResidentItems += b2i(p.nonResident())
	snap.NumTempItems += b2i(p.temp)
	snap.NumItems += b2i(p.nonTemp())
	snap.NumSystemItems += b2i(p.system)
	snap.NumPreparedSyncWrites += b2i(p.prepared)
	snap.NumDeletedItems += b2i(p.countedDeleted())
	if p.countedDatatype() {
		snap.DatatypeCounts[p.datatype%DatatypeCount]++
	}
}
