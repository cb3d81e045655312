package ds

import (
	"sync"
	"unsafe"
)

const (
	DefaultLockCount = 47
)

// LockPool is a fixed set of mutexes shared by the buckets of a hash table.
// A bucket maps to the shard at bucket % Len(), so the mapping never depends
// on the current number of buckets.
type LockPool struct {
	shards []sync.Mutex
}

// NewLockPool returns a LockPool with lockCount shards. Non-positive counts
// fall back to DefaultLockCount.
func NewLockPool(lockCount int) *LockPool {
	if lockCount <= 0 {
		lockCount = DefaultLockCount
	}
	return &LockPool{shards: make([]sync.Mutex, lockCount)}
}

// Len returns the number of shards.
func (p *LockPool) Len() int {
	return len(p.shards)
}

// ShardIndex returns the shard guarding the given bucket.
func (p *LockPool) ShardIndex(bucket int) int {
	return bucket % len(p.shards)
}

// Shard returns the mutex of shard i.
func (p *LockPool) Shard(i int) *sync.Mutex {
	return &p.shards[i]
}

// ShardForBucket returns the mutex guarding the given bucket.
func (p *LockPool) ShardForBucket(bucket int) *sync.Mutex {
	return &p.shards[p.ShardIndex(bucket)]
}

// LockBucket locks the shard guarding bucket and returns it.
// Remember to unlock the shard!
func (p *LockPool) LockBucket(bucket int) *sync.Mutex {
	mu := p.ShardForBucket(bucket)
	mu.Lock()
	// remember to Unlock
	return mu
}

// LockAll acquires every shard in ascending order. Callers that need more
// than one shard must go through LockAll so that lock order stays global.
func (p *LockPool) LockAll() {
	for i := range p.shards {
		p.shards[i].Lock()
	}
}

// UnlockAll releases every shard in reverse order.
func (p *LockPool) UnlockAll() {
	for i := len(p.shards) - 1; i >= 0; i-- {
		p.shards[i].Unlock()
	}
}

// MemorySize approximates the memory held by the pool itself.
func (p *LockPool) MemorySize() int64 {
	return int64(len(p.shards)) * int64(unsafe.Sizeof(sync.Mutex{}))
}
