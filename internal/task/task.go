// Package task implements the stackless cooperative task executor: a
// single global ready queue shared across harts, FIFO ordering, and
// suspension only at well-defined points.
//
// Go has no first-class stackless coroutine, so a Task here wraps any
// value implementing Poll — the same "poll to completion" shape Rust's
// Future trait gives the original design, expressed as a Go interface.
// This keeps the suspend/resume contract explicit in the type system
// rather than hiding it behind a goroutine-per-request model like
// jacobsa/fuse's handleFuseRequest in server.go; corekernel still uses
// exactly one goroutine per hart (RunHart), not one per task.
package task

import (
	"sync"
	"sync/atomic"
)

// Outcome is the result of polling a task once.
type Outcome struct {
	Ready bool
	Value interface{}
	Err   error
}

// Pending reports that the task is not done and should be parked until its
// Waker fires.
func Pending() Outcome { return Outcome{} }

// Ready reports that the task completed with the given value/error.
func Ready(v interface{}, err error) Outcome { return Outcome{Ready: true, Value: v, Err: err} }

// Poll is the pollable computation a Task wraps.
type Poll interface {
	Poll(cx *Context) Outcome
}

// PollFunc adapts a plain function to Poll.
type PollFunc func(cx *Context) Outcome

func (f PollFunc) Poll(cx *Context) Outcome { return f(cx) }

// Context is handed to a Poll implementation on every poll. It carries the
// task's Waker and its cooperative-cancellation flag.
type Context struct {
	task *Task
}

// Waker returns a handle that, when invoked, makes this task's task ready
// again. Wakers are idempotent.
func (c *Context) Waker() *Waker { return c.task.waker }

// Cancelled reports whether cancellation has been requested. Checked only
// at suspension points — a task that never suspends cannot be cancelled.
func (c *Context) Cancelled() bool { return atomic.LoadUint32(&c.task.cancelled) != 0 }

// Waker is a small, idempotent handle that transitions a specific task
// from suspended to ready.
type Waker struct {
	exec *Executor
	task *Task

	// woken coalesces multiple wakes between polls into a single
	// re-enqueue.
	woken uint32
}

// Wake marks the task ready and enqueues it if it wasn't already enqueued.
// Safe to call from any hart or interrupt handler, any number of times.
func (w *Waker) Wake() {
	if atomic.CompareAndSwapUint32(&w.woken, 0, 1) {
		w.exec.enqueue(w.task)
	}
}

// Task is a stackless coroutine: a unique id, a waker, a ready flag, and
// the pollable computation.
type Task struct {
	id        uint64
	poll      Poll
	waker     *Waker
	cancelled uint32

	// done/result are set once the task completes, for callers using
	// BlockOn or awaiting a TaskHandle.
	mu     sync.Mutex
	done   bool
	result Outcome
	waitCh chan struct{}
}

// TaskHandle is returned by Spawn. It is a weak reference — the executor
// holds the strong reference via the ready queue and its waker — so a
// dropped handle does not cancel or affect the task.
type TaskHandle struct {
	t *Task
}

// ID returns the task's unique id.
func (h TaskHandle) ID() uint64 { return h.t.id }

// Cancel requests cooperative cancellation, observed at the task's next
// suspension point.
func (h TaskHandle) Cancel() { atomic.StoreUint32(&h.t.cancelled, 1) }

// Wait blocks the calling goroutine (not a task) until the spawned task
// completes, returning its outcome. Used by code outside the executor
// (e.g. a syscall dispatcher's top-level caller) to bridge back to
// ordinary Go control flow.
func (h TaskHandle) Wait() Outcome {
	<-h.t.waitCh
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	return h.t.result
}

// Executor owns the global ready queue and hands work to however many
// harts call RunHart. Ordering across equally-ready tasks is FIFO; there
// is no priority and no fairness guarantee beyond eventual progress for
// any ready task while any hart is idle.
type Executor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ready  []*Task
	closed bool
	nextID uint64
}

// NewExecutor constructs an empty executor.
func NewExecutor() *Executor {
	e := &Executor{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Spawn creates a new task from a Poll and enqueues it ready to run.
func (e *Executor) Spawn(poll Poll) TaskHandle {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.mu.Unlock()

	t := &Task{
		id:     id,
		poll:   poll,
		waitCh: make(chan struct{}),
	}
	t.waker = &Waker{exec: e, task: t}

	e.enqueue(t)
	return TaskHandle{t: t}
}

// enqueue pushes a task onto the back of the ready queue and wakes one
// idle hart.
func (e *Executor) enqueue(t *Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.ready = append(e.ready, t)
	e.cond.Signal()
}

// dequeue blocks until a task is ready or the executor is closed.
func (e *Executor) dequeue() *Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.ready) == 0 && !e.closed {
		e.cond.Wait()
	}
	if len(e.ready) == 0 {
		return nil
	}
	t := e.ready[0]
	e.ready = e.ready[1:]
	return t
}

// Close unblocks every hart parked in RunHart. Used at kernel shutdown;
// not part of the steady-state contract.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.cond.Broadcast()
}

// RunHart is a single hart's idle loop: dequeue a ready task, poll it
// once, and either re-enqueue it (if it signals readiness again before
// this poll returns — see pollOnce) or drop it on completion. Returns when
// the executor is closed.
func (e *Executor) RunHart() {
	for {
		t := e.dequeue()
		if t == nil {
			return
		}
		e.pollOnce(t)
	}
}

// pollOnce polls t exactly once and routes the result: completion resolves
// the task's handle and drops it (last reference goes away once waitCh
// closes and no TaskHandle is retained); Pending leaves it parked until
// its Waker fires. Resetting the woken flag before polling means a Wake()
// that races with this poll correctly causes one more re-enqueue rather
// than being lost.
func (e *Executor) pollOnce(t *Task) {
	atomic.StoreUint32(&t.waker.woken, 0)

	cx := &Context{task: t}
	outcome := t.poll.Poll(cx)

	if !outcome.Ready {
		return
	}

	t.mu.Lock()
	t.done = true
	t.result = outcome
	t.mu.Unlock()
	close(t.waitCh)
}

// BlockOn spawns poll on e and blocks the calling goroutine until it
// completes, returning its outcome. Useful for driving a single task to
// completion outside of any hart's idle loop (e.g. from a test, or from
// the dispatcher's synchronous syscall entry point) — at least one hart
// must be running RunHart concurrently for this to make progress.
func (e *Executor) BlockOn(poll Poll) Outcome {
	return e.Spawn(poll).Wait()
}
