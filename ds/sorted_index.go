package ds

import (
	art "github.com/plar/go-adaptive-radix-tree"
)

// SortedIndex keeps values ordered by their byte keys. The hash table is
// unordered, so diagnostic output that must be stable goes through here.
type SortedIndex struct {
	tree art.Tree
}

func NewSortedIndex() *SortedIndex {
	return &SortedIndex{
		tree: art.New(),
	}
}

func (t *SortedIndex) Put(key []byte, value interface{}) (oldVal interface{}, updated bool) {
	return t.tree.Insert(key, value)
}

// Ascend calls fn for every entry in ascending key order until fn returns false.
func (t *SortedIndex) Ascend(fn func(key []byte, value interface{}) bool) {
	t.tree.ForEach(func(node art.Node) bool {
		if node.Kind() != art.Leaf {
			return true
		}
		return fn(node.Key(), node.Value())
	})
}
