package ksync

import (
	"sync"

	"github.com/rvos/corekernel/internal/task"
)

// WaitList is a FIFO queue of wakers, used by Mutex contention and by
// vfs/pipefs readers waiting for data.
type WaitList struct {
	mu     sync.Mutex
	wakers []*task.Waker
}

// Add appends w to the back of the list.
func (l *WaitList) Add(w *task.Waker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wakers = append(l.wakers, w)
}

// Pop removes and returns the front of the list, or nil if empty.
func (l *WaitList) Pop() *task.Waker {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.wakers) == 0 {
		return nil
	}
	w := l.wakers[0]
	l.wakers = l.wakers[1:]
	return w
}

// WakeAll pops and wakes every waiter currently on the list.
func (l *WaitList) WakeAll() {
	l.mu.Lock()
	wakers := l.wakers
	l.wakers = nil
	l.mu.Unlock()

	for _, w := range wakers {
		w.Wake()
	}
}

// Len reports the number of parked wakers, mostly for tests.
func (l *WaitList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.wakers)
}
