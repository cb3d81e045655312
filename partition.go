package kvengine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gsauere/kv-engine/util"
)

// Partition is one partition of the keyspace: a HashTable plus the sequence
// number and CAS sources writes need, and the background visitors that keep
// the table in shape.
type Partition struct {
	cfg    PartitionConfig
	ht     *HashTable
	engine *EngineStats
	cas    *util.CasGenerator
	seqno  atomic.Int64

	maintMu sync.Mutex // serialises visitor runs
	pager   *ItemPager
	expiry  *ExpiryPager
	decayer *FreqDecayer

	decayCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	once    *sync.Once

	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// OpenPartition creates an empty partition. engine may be shared by several
// partitions; nil gives the partition private accounting.
func OpenPartition(cfg PartitionConfig, engine *EngineStats) (*Partition, error) {
	if cfg.DecayPercent < 0 || cfg.DecayPercent > 100 {
		return nil, fmt.Errorf("%w: decay percent %d", ErrInvalidParam, cfg.DecayPercent)
	}
	if cfg.PagerPercentile < 0 || cfg.PagerPercentile > 100 {
		return nil, fmt.Errorf("%w: pager percentile %v", ErrInvalidParam, cfg.PagerPercentile)
	}
	if cfg.EvictionPolicy != EvictValue && cfg.EvictionPolicy != EvictFull {
		return nil, fmt.Errorf("%w: eviction policy %d", ErrInvalidParam, cfg.EvictionPolicy)
	}
	cas, err := util.NewCasGenerator(cfg.CasNodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParam, err)
	}
	if engine == nil {
		engine = &EngineStats{}
	}

	cfg.Table = cfg.Table.withDefaults()
	ht := NewHashTable(cfg.Table, engine)
	p := &Partition{
		cfg:     cfg,
		ht:      ht,
		engine:  engine,
		cas:     cas,
		pager:   NewItemPager(ht, cfg.EvictionPolicy, cfg.PagerPercentile, cfg.VisitBudget),
		expiry:  NewExpiryPager(ht, cfg.VisitBudget),
		decayer: NewFreqDecayer(ht, cfg.DecayPercent, cfg.VisitBudget),
		decayCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
		once:    new(sync.Once),
		logger:  cfg.Table.Logger,
	}
	p.expiry.OnExpired = p.stampDeletion
	ht.SetFreqSaturatedCallback(p.wakeDecayer)

	p.wg.Add(1)
	go p.listenDecay()

	p.logger.Info("partition opened",
		slog.Int("size", ht.Size()), slog.Int("locks", ht.NumLocks()))
	return p, nil
}

// Close stops the decayer and tears the table down. Calling Close more than
// once is safe.
func (p *Partition) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()

		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		items := p.ht.NumItems()
		p.ht.Teardown()
		p.logger.Info("partition closed", slog.Int64("items", items))
	})
	return nil
}

// Table exposes the underlying index.
func (p *Partition) Table() *HashTable { return p.ht }

// HighSeqno is the last sequence number handed out.
func (p *Partition) HighSeqno() int64 { return p.seqno.Load() }

func (p *Partition) Stats() StatsSnapshot { return p.ht.Stats().Snapshot() }

func (p *Partition) EngineStats() *EngineStats { return p.engine }

func (p *Partition) nextRevSeqno(sv *Slot) uint64 {
	if sv != nil {
		return sv.revSeqno + 1
	}
	return p.ht.MaxDeletedRevSeqno() + 1
}

func (p *Partition) newItem(key, value []byte, expiry uint32, state CommittedState) *Item {
	return &Item{
		Key:       key,
		Value:     value,
		Cas:       p.cas.Next(),
		BySeqno:   p.seqno.Add(1),
		Expiry:    expiry,
		Datatype:  DatatypeRaw,
		Committed: state,
	}
}

// Set stores value under key and returns the CAS of the new revision.
func (p *Partition) Set(key, value []byte, expiry uint32) (uint64, error) {
	if len(key) == 0 {
		return 0, ErrInvalidParam
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0, ErrPartitionClosed
	}

	res := p.ht.FindForWrite(key, WantsDeletedYes)
	defer res.Unlock()
	if res.Slot != nil && res.Slot.IsPending() {
		return 0, ErrSyncWriteInProgress
	}

	itm := p.newItem(key, value, expiry, CommittedViaMutation)
	itm.RevSeqno = p.nextRevSeqno(res.Slot)
	if res.Slot != nil {
		p.ht.UpdateSlot(res.Lock, res.Slot, itm)
	} else {
		p.ht.AddNewSlot(res.Lock, itm)
	}
	return itm.Cas, nil
}

// Get returns a copy of the committed item of key.
func (p *Partition) Get(key []byte) (*Item, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPartitionClosed
	}

	res := p.ht.FindForRead(key, TrackReferenceYes, WantsDeletedNo)
	defer res.Unlock()
	sv := res.Slot
	switch {
	case sv == nil:
		return nil, ErrKeyNotFound
	case sv.IsPending():
		return nil, ErrSyncWriteInProgress
	case sv.IsTempItem():
		return nil, ErrKeyNotFound
	case !sv.resident:
		return sv.ToItem(), ErrValueNotResident
	}
	return sv.ToItem(), nil
}

// Delete turns the committed item of key into a tombstone.
func (p *Partition) Delete(key []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPartitionClosed
	}

	res := p.ht.FindForWrite(key, WantsDeletedNo)
	defer res.Unlock()
	if res.Slot == nil {
		return ErrKeyNotFound
	}
	if p.ht.SoftDelete(res.Lock, res.Slot, false, DeleteSourceExplicit).Status != DeletionSuccess {
		return ErrSyncWriteInProgress
	}
	p.stampDeletion(res.Slot)
	return nil
}

// stampDeletion gives a freshly deleted slot its own revision.
func (p *Partition) stampDeletion(sv *Slot) {
	sv.bySeqno = p.seqno.Add(1)
	sv.revSeqno++
	sv.cas = p.cas.Next()
}

// Prepare stages value under key as a sync write. The committed item stays
// readable until Commit.
func (p *Partition) Prepare(key, value []byte, expiry uint32) (uint64, error) {
	if len(key) == 0 {
		return 0, ErrInvalidParam
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0, ErrPartitionClosed
	}

	res := p.ht.FindForWrite(key, WantsDeletedYes)
	defer res.Unlock()
	if res.Slot != nil && res.Slot.IsPending() {
		return 0, ErrSyncWriteInProgress
	}

	itm := p.newItem(key, value, expiry, Pending)
	itm.RevSeqno = p.nextRevSeqno(res.Slot)
	if res.Slot != nil {
		p.ht.UpdateSlot(res.Lock, res.Slot, itm)
	} else {
		p.ht.AddNewSlot(res.Lock, itm)
	}
	return itm.Cas, nil
}

// PrepareDelete stages the deletion of key as a sync write.
func (p *Partition) PrepareDelete(key []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPartitionClosed
	}

	res := p.ht.FindForWrite(key, WantsDeletedNo)
	defer res.Unlock()
	if res.Slot == nil {
		return ErrKeyNotFound
	}
	if res.Slot.IsPending() {
		return ErrSyncWriteInProgress
	}
	pending := p.ht.CreateSyncDeletePrepare(res.Lock, res.Slot, DeleteSourceExplicit)
	p.stampDeletion(pending)
	return nil
}

// Commit makes the pending sync write of key the committed item.
func (p *Partition) Commit(key []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPartitionClosed
	}

	res := p.ht.FindForCommit(key)
	defer res.Unlock()
	if res.Pending.Slot() == nil {
		return ErrNoSyncWrite
	}
	if res.Committed != nil {
		p.ht.ReleaseSlot(res.Pending.Lock(), res.Committed)
	}
	res.Pending.SetCommitted(CommittedViaPrepare)
	res.Pending.SetBySeqno(p.seqno.Add(1))
	res.Pending.MarkDirty()
	return nil
}

// Abort drops the pending sync write of key.
func (p *Partition) Abort(key []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPartitionClosed
	}

	res := p.ht.FindOnlyPrepared(key)
	defer res.Unlock()
	if res.Slot == nil {
		return ErrNoSyncWrite
	}
	p.ht.DeleteSlot(res.Lock, res.Slot)
	return nil
}

// RunExpiry runs the expiry pager for one visit budget. It returns the
// number of items expired and whether the pager went through the whole
// table.
func (p *Partition) RunExpiry() (int, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0, false, ErrPartitionClosed
	}

	p.maintMu.Lock()
	defer p.maintMu.Unlock()
	before := p.expiry.Expired()
	complete := p.expiry.Run()
	return p.expiry.Expired() - before, complete, nil
}

// RunPager runs the item pager for one visit budget.
func (p *Partition) RunPager(bytesToFree int64) (PagerResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return PagerResult{}, ErrPartitionClosed
	}

	p.maintMu.Lock()
	defer p.maintMu.Unlock()
	return p.pager.Run(bytesToFree), nil
}

// Resize fits the table to the current item count.
func (p *Partition) Resize() (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false, ErrPartitionClosed
	}
	return p.ht.Resize(), nil
}

// wakeDecayer runs under a bucket lock and must not block.
func (p *Partition) wakeDecayer() {
	select {
	case p.decayCh <- struct{}{}:
	default:
	}
}

// listenDecay decays frequency counters every time one saturates, until
// the partition is closed.
func (p *Partition) listenDecay() {
	defer p.wg.Done()
	for {
		select {
		case <-p.decayCh:
			p.decay()
		case <-p.done:
			return
		}
	}
}

func (p *Partition) decay() {
	p.maintMu.Lock()
	defer p.maintMu.Unlock()

	runs := 1
	for !p.decayer.Run() {
		select {
		case <-p.done:
			return
		default:
		}
		runs++
	}
	p.logger.Debug("frequency counters decayed",
		slog.Int("runs", runs), slog.Int("percent", p.cfg.DecayPercent))
}
