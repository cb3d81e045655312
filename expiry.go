package kvengine

import (
	"time"
)

// ExpiryPager turns committed slots whose expiry time has passed into
// tombstones with DeleteSourceTTL.
type ExpiryPager struct {
	ht     *HashTable
	now    func() uint32
	budget budget

	// OnExpired runs under the bucket lock for every slot just expired.
	OnExpired func(sv *Slot)

	expired int
}

func NewExpiryPager(ht *HashTable, visitBudget int) *ExpiryPager {
	return &ExpiryPager{
		ht:     ht,
		now:    func() uint32 { return uint32(time.Now().Unix()) },
		budget: budget{limit: visitBudget},
	}
}

// Run expires up to the visit budget of slots and reports whether the pass
// has reached the end of the table.
func (e *ExpiryPager) Run() bool {
	return e.budget.run(e.ht, e)
}

// Expired is the number of slots expired since the pager was created.
func (e *ExpiryPager) Expired() int { return e.expired }

func isExpired(sv *Slot, now uint32) bool {
	return sv.expiry != 0 && sv.expiry <= now
}

func (e *ExpiryPager) Visit(hbl *BucketLock, sv *Slot) bool {
	if sv.IsCommitted() && !sv.deleted && !sv.IsTempItem() && isExpired(sv, e.now()) {
		res := e.ht.SoftDelete(hbl, sv, false, DeleteSourceTTL)
		if res.Status == DeletionSuccess {
			e.expired++
			if e.OnExpired != nil {
				e.OnExpired(sv)
			}
		}
	}
	return e.budget.spend()
}
