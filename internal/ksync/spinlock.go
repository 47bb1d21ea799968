package ksync

import "sync/atomic"

// SpinLock is a busy-wait lock for the handful of genuinely short
// critical sections in the core — e.g. a superblock's inode-list append —
// where parking a task via Mutex would cost more than spinning.
type SpinLock struct {
	state uint32
}

// Lock spins until the lock is acquired. Must never be held across a
// suspension point.
func (s *SpinLock) Lock() {
	for !atomic.CompareAndSwapUint32(&s.state, 0, 1) {
		// busy-wait
	}
}

// Unlock releases the lock.
func (s *SpinLock) Unlock() {
	atomic.StoreUint32(&s.state, 0)
}

// TryLock attempts to acquire without spinning.
func (s *SpinLock) TryLock() bool {
	return atomic.CompareAndSwapUint32(&s.state, 0, 1)
}
