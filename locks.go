package kvengine

import (
	"sync"
)

// BucketLock is the proof that the caller holds the shard lock guarding one
// bucket. Every slot mutating entry point of HashTable takes one.
type BucketLock struct {
	bucket int
	mu     *sync.Mutex
	held   bool
}

// Bucket returns the bucket index the lock covers.
func (l *BucketLock) Bucket() int {
	return l.bucket
}

// Held reports whether the lock is still held.
func (l *BucketLock) Held() bool {
	return l != nil && l.held
}

// Unlock releases the shard lock. Unlocking twice is a no-op.
func (l *BucketLock) Unlock() {
	if l == nil || !l.held {
		return
	}
	l.held = false
	l.mu.Unlock()
}

// visitorGate counts visitors in progress and keeps them apart from resize.
//
// enter registers a visitor while holding the barrier shard lock. A resizer
// holds every shard lock, barrier included, before it reads the count, so it
// either sees the visitor or runs entirely before the visitor reads the table
// size. leave wakes anyone waiting for the count to reach zero.
type visitorGate struct {
	barrier *sync.Mutex

	mu     sync.Mutex
	drain  *sync.Cond
	active int
}

func newVisitorGate(barrier *sync.Mutex) *visitorGate {
	g := &visitorGate{barrier: barrier}
	g.drain = sync.NewCond(&g.mu)
	return g
}

func (g *visitorGate) enter() {
	g.barrier.Lock()
	g.mu.Lock()
	g.active++
	g.mu.Unlock()
	g.barrier.Unlock()
}

func (g *visitorGate) leave() {
	g.mu.Lock()
	g.active--
	if g.active < 0 {
		g.mu.Unlock()
		logicf("visitor gate: leave without enter")
	}
	if g.active == 0 {
		g.drain.Broadcast()
	}
	g.mu.Unlock()
}

// busy must be called with every shard lock held.
func (g *visitorGate) busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active > 0
}

func (g *visitorGate) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// wait blocks until no visitor is active.
func (g *visitorGate) wait() {
	g.mu.Lock()
	for g.active > 0 {
		g.drain.Wait()
	}
	g.mu.Unlock()
}
