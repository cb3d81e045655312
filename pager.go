package kvengine

import (
	"math"

	"github.com/gsauere/kv-engine/ds"
)

// PagerResult summarises one ItemPager run.
type PagerResult struct {
	Ejected  int
	Freed    int64
	Complete bool
}

// ItemPager ejects the least frequently used slots. Every pass ranks the
// frequency counters it sees; the next pass ejects slots whose counter is at
// or below the configured percentile of that ranking. The first pass, having
// no ranking yet, samples the table before ejecting anything.
type ItemPager struct {
	ht         *HashTable
	policy     EvictionPolicy
	percentile float64
	budget     budget

	seen      *ds.RankList
	threshold int
	ranked    bool

	target  int64
	freed   int64
	ejected int
}

func NewItemPager(ht *HashTable, policy EvictionPolicy, percentile float64, visitBudget int) *ItemPager {
	return &ItemPager{
		ht:         ht,
		policy:     policy,
		percentile: percentile,
		budget:     budget{limit: visitBudget},
		seen:       ds.NewRankList(),
	}
}

// Threshold is the counter at or below which slots are ejected.
func (p *ItemPager) Threshold() int { return p.threshold }

// Run visits up to the visit budget of slots, ejecting until bytesToFree
// bytes have been released, or without limit if bytesToFree is not positive.
// Complete is set once the pager has been through
// the whole table.
func (p *ItemPager) Run(bytesToFree int64) PagerResult {
	if !p.ranked {
		p.rank()
	}
	if bytesToFree <= 0 {
		bytesToFree = math.MaxInt64
	}
	p.target, p.freed, p.ejected = bytesToFree, 0, 0

	complete := p.budget.run(p.ht, p)
	if complete {
		p.threshold, p.ranked = p.thresholdOf(p.seen)
		p.seen.Reset()
	}
	return PagerResult{Ejected: p.ejected, Freed: p.freed, Complete: complete}
}

func (p *ItemPager) rank() {
	sample := ds.NewRankList()
	p.ht.Visit(VisitorFunc(func(_ *BucketLock, sv *Slot) bool {
		if p.candidate(sv) {
			sample.Add(int(sv.freq))
		}
		return true
	}))
	p.threshold, p.ranked = p.thresholdOf(sample)
}

func (p *ItemPager) thresholdOf(ranks *ds.RankList) (int, bool) {
	t, ok := ranks.Percentile(p.percentile)
	if !ok {
		return -1, false
	}
	return t, true
}

func (p *ItemPager) candidate(sv *Slot) bool {
	return !sv.IsTempItem() && !sv.IsPending()
}

func (p *ItemPager) Visit(hbl *BucketLock, sv *Slot) bool {
	if p.candidate(sv) {
		freq := int(sv.freq)
		p.seen.Add(freq)

		if freq <= p.threshold && p.freed < p.target {
			size := int64(sv.ValueLen())
			if p.policy == EvictFull {
				size = sv.Size()
			}
			if p.ht.EjectSlot(hbl, sv, p.policy) {
				p.freed += size
				p.ejected++
			}
		}
	}
	return p.budget.spend() && p.freed < p.target
}
