package kvengine

import (
	"math"
	"math/rand"
)

// DefaultFreqCounterIncFactor lets an 8-bit counter stand in for a much
// wider access count.
const DefaultFreqCounterIncFactor = 0.012

// probabilisticCounter advances an 8-bit counter with a probability that
// drops as the counter grows, so the counter saturates slowly.
type probabilisticCounter struct {
	incFactor float64
	// random returns a value in [0, 1).
	random func() float64
}

func newProbabilisticCounter(incFactor float64) *probabilisticCounter {
	if incFactor <= 0 {
		incFactor = DefaultFreqCounterIncFactor
	}
	return &probabilisticCounter{incFactor: incFactor, random: rand.Float64}
}

// generateValue returns counter, or counter+1 with probability
// 1 / (counter*incFactor + 1). A saturated counter is returned unchanged.
func (c *probabilisticCounter) generateValue(counter uint8) uint8 {
	if counter == math.MaxUint8 {
		return counter
	}
	if c.random() < 1.0/(float64(counter)*c.incFactor+1) {
		return counter + 1
	}
	return counter
}
