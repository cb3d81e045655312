package kvengine

// FreqDecayer scales every frequency counter down to a percentage of its
// value, so that counters keep telling recent hot keys apart once some of
// them saturate.
type FreqDecayer struct {
	ht      *HashTable
	percent int
	budget  budget
	decayed int
}

func NewFreqDecayer(ht *HashTable, percent, visitBudget int) *FreqDecayer {
	percent = max(0, min(percent, 100))
	return &FreqDecayer{ht: ht, percent: percent, budget: budget{limit: visitBudget}}
}

// Run decays up to the visit budget of slots and reports whether the pass
// has reached the end of the table.
func (d *FreqDecayer) Run() bool {
	return d.budget.run(d.ht, d)
}

// Decayed is the number of counters visited since the decayer was created.
func (d *FreqDecayer) Decayed() int { return d.decayed }

func (d *FreqDecayer) Visit(_ *BucketLock, sv *Slot) bool {
	sv.freq = uint8(int(sv.freq) * d.percent / 100)
	d.decayed++
	return d.budget.spend()
}
