package util

import (
	"github.com/spaolacci/murmur3"
)

// HashKey returns the bucket hash of a key. It is stable across processes,
// so a table rebuilt from the same keys lays them out identically.
func HashKey(key []byte) uint32 {
	return murmur3.Sum32(key)
}
