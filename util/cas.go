package util

import (
	"math/rand"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// CasGenerator hands out monotonically increasing CAS values. Values come
// from a snowflake node so that two partitions never hand out the same CAS
// within the same millisecond.
type CasGenerator struct {
	mu   sync.Mutex
	node *snowflake.Node
	last uint64
}

// NewCasGenerator creates a generator bound to nodeID. A negative nodeID picks
// a random node in the snowflake node range.
func NewCasGenerator(nodeID int64) (*CasGenerator, error) {
	if nodeID < 0 {
		nodeID = rand.Int63() % 1023
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &CasGenerator{node: node}, nil
}

// Next returns a CAS value strictly greater than every value returned before.
// Zero is never returned, as a zero CAS means "unknown" to the index.
func (g *CasGenerator) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	cas := uint64(g.node.Generate().Int64())
	if cas <= g.last {
		cas = g.last + 1
	}
	g.last = cas
	return cas
}
