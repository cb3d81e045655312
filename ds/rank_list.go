package ds

import (
	"math"

	"github.com/gansidui/skiplist"
)

// RankList records integer scores and answers rank and percentile queries.
// Equal scores are kept apart by insertion order.
type RankList struct {
	skl *skiplist.SkipList
	seq uint64
}

type rankNode struct {
	score int
	seq   uint64
}

func (n *rankNode) Less(other interface{}) bool {
	o := other.(*rankNode)
	if n.score != o.score {
		return n.score < o.score
	}
	return n.seq < o.seq
}

func NewRankList() *RankList {
	return &RankList{skl: skiplist.New()}
}

// Add records one score.
func (r *RankList) Add(score int) {
	r.seq++
	r.skl.Insert(&rankNode{score: score, seq: r.seq})
}

// Len returns the number of recorded scores.
func (r *RankList) Len() int {
	return r.skl.Len()
}

// Percentile returns the smallest recorded score s such that at least pct
// percent of the recorded scores are <= s. ok is false when nothing has been
// recorded yet.
func (r *RankList) Percentile(pct float64) (score int, ok bool) {
	n := r.skl.Len()
	if n == 0 {
		return 0, false
	}
	if pct <= 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	rank := int(math.Ceil(float64(n) * pct / 100))
	if rank < 1 {
		rank = 1
	}
	e := r.skl.GetElementByRank(rank)
	return e.Value.(*rankNode).score, true
}

// Reset drops every recorded score.
func (r *RankList) Reset() {
	r.skl = skiplist.New()
	r.seq = 0
}
