// Package timer implements the Timer collaborator contract: set(deadline,
// waker) fires the waker once at or after deadline. This is the one
// collaborator corekernel backs with a
// real OS primitive (time.AfterFunc) instead of a pure simulation, since
// nothing downstream needs it to be deterministic under test.
package timer

import (
	"time"

	"github.com/rvos/corekernel/internal/task"
)

// Timer fires a Waker once, at or after Deadline.
type Timer struct {
	Deadline time.Time

	fired bool
	timer *time.Timer
}

// Set arms the timer so that waker.Wake() is called once, at or after
// deadline.
func Set(deadline time.Time, waker *task.Waker) *Timer {
	t := &Timer{Deadline: deadline}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	t.timer = time.AfterFunc(d, func() {
		t.fired = true
		waker.Wake()
	})
	return t
}

// Stop cancels the timer if it hasn't fired yet.
func (t *Timer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Poll reports Ready once the deadline has passed, for composing a timeout
// via task.Select.
func (t *Timer) Poll(cx *task.Context) task.Outcome {
	if t.fired || time.Now().After(t.Deadline) {
		return task.Ready(nil, nil)
	}
	return task.Pending()
}
