// Package lock provides the mutex implementations a slab.Pool's Locker
// field can be bound to. slab.Pool only assumes the Acquire/Release
// interface (spec.md §1, §5) and never looks inside it.
package lock

import (
	"runtime"
	"sync/atomic"
)

// yieldFn is swapped out in tests to avoid busy-spinning the test runner
// for the whole GOMAXPROCS duration.
var yieldFn = runtime.Gosched

// Spinlock is an intra-process lock where a task trying to acquire it
// busy-waits until the lock becomes available. It implements slab.Locker.
//
// Spinlock is appropriate when a pool's region is only ever shared between
// goroutines in a single process; for cooperating processes attached to the
// same shared-memory region, use FileLock instead.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the caller. Re-acquiring
// a lock already held by the caller deadlocks, matching spec.md §5's "no
// reentrancy" rule.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		yieldFn()
	}
}

// TryToAcquire attempts to acquire the lock without blocking.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock. Calling Release while the lock is free
// has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
