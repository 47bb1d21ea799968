// Package ksync implements the synchronization primitives the core's
// collaborators are built on: a task-aware blocking Mutex, a SpinLock for
// true short critical sections, a one-shot OnceCell, a fixed-capacity
// RingBuffer, and a WaitList of wakers.
//
// InvariantMutex is grounded on github.com/jacobsa/syncutil (see
// DESIGN.md for why the import itself is dropped): an invariant-checking
// mutex whose Unlock runs a caller-supplied consistency check, the same
// role it plays for jacobsa/fuse's sample memfs inode table.
package ksync

import (
	"sync"

	"github.com/rvos/corekernel/internal/task"
)

// Mutex is a blocking mutex usable from inside a task's Poll: Lock returns
// Pending while contended and parks the caller's waker on the wait list;
// the holder's Unlock wakes exactly one waiter.
type Mutex struct {
	mu      sync.Mutex
	held    bool
	waiters WaitList
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return false
	}
	m.held = true
	return true
}

// Lock is a Poll: call it from within a task's Poll method. It either
// acquires the mutex and returns Ready, or registers the task's waker and
// returns Pending.
func (m *Mutex) Lock(cx *task.Context) task.Outcome {
	m.mu.Lock()
	if !m.held {
		m.held = true
		m.mu.Unlock()
		return task.Ready(nil, nil)
	}
	m.waiters.Add(cx.Waker())
	m.mu.Unlock()
	return task.Pending()
}

// LockBlocking acquires the mutex using ordinary goroutine blocking,
// for call sites outside the task executor (e.g. synchronous helpers and
// tests). It must not be used while holding another Mutex lower in the
// same lock-ordering hierarchy, or a circular wait becomes possible.
func (m *Mutex) LockBlocking() {
	for {
		if m.TryLock() {
			return
		}
		// Spin-wait briefly; callers needing this path are expected to be
		// short, uncontended critical sections (see SpinLock for the truly
		// hot path).
	}
}

// Unlock releases the mutex and wakes the longest-waiting waiter, if any.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	if !m.held {
		panic("ksync: Unlock of unlocked Mutex")
	}
	m.held = false
	w := m.waiters.Pop()
	m.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}

// InvariantMutex wraps Mutex with an optional invariant check run after
// every Unlock, the same pattern jacobsa/syncutil.InvariantMutex uses to
// drive memfs's checkInvariants.
type InvariantMutex struct {
	Mutex
	check func()
}

// NewInvariantMutex constructs an InvariantMutex that runs check after
// every successful Unlock. check may be nil.
func NewInvariantMutex(check func()) *InvariantMutex {
	return &InvariantMutex{check: check}
}

func (m *InvariantMutex) Unlock() {
	m.Mutex.Unlock()
	if m.check != nil {
		m.check()
	}
}
