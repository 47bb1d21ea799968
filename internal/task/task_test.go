package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockOn_ImmediateReady(t *testing.T) {
	e := NewExecutor()
	go e.RunHart()
	defer e.Close()

	out := e.BlockOn(PollFunc(func(cx *Context) Outcome {
		return Ready(42, nil)
	}))
	require.True(t, out.Ready)
	assert.Equal(t, 42, out.Value)
	assert.NoError(t, out.Err)
}

func TestBlockOn_PendingThenReady(t *testing.T) {
	e := NewExecutor()
	go e.RunHart()
	defer e.Close()

	polls := 0
	out := e.BlockOn(PollFunc(func(cx *Context) Outcome {
		polls++
		if polls < 3 {
			cx.Waker().Wake()
			return Pending()
		}
		return Ready(polls, nil)
	}))
	require.True(t, out.Ready)
	assert.Equal(t, 3, out.Value)
}

func TestWaker_WakeFromOtherGoroutine(t *testing.T) {
	e := NewExecutor()
	go e.RunHart()
	defer e.Close()

	var waker *Waker
	release := make(chan struct{})

	go func() {
		<-release
		waker.Wake()
	}()

	out := e.BlockOn(PollFunc(func(cx *Context) Outcome {
		if waker == nil {
			waker = cx.Waker()
			close(release)
			return Pending()
		}
		return Ready("done", nil)
	}))
	assert.True(t, out.Ready)
	assert.Equal(t, "done", out.Value)
}

func TestWaker_WakeIsIdempotentBetweenPolls(t *testing.T) {
	e := NewExecutor()
	go e.RunHart()
	defer e.Close()

	var w *Waker
	out := e.BlockOn(PollFunc(func(cx *Context) Outcome {
		if w == nil {
			w = cx.Waker()
			w.Wake()
			w.Wake() // second call before the next poll must not double-enqueue
			return Pending()
		}
		return Ready(nil, nil)
	}))
	assert.True(t, out.Ready)
}

func TestTaskHandle_CancelIsObservedCooperatively(t *testing.T) {
	e := NewExecutor()
	go e.RunHart()
	defer e.Close()

	started := make(chan struct{})
	seenCancel := make(chan bool, 1)

	h := e.Spawn(PollFunc(func(cx *Context) Outcome {
		select {
		case <-started:
		default:
			close(started)
		}
		if cx.Cancelled() {
			seenCancel <- true
			return Ready(nil, nil)
		}
		cx.Waker().Wake()
		return Pending()
	}))

	<-started
	h.Cancel()

	select {
	case v := <-seenCancel:
		assert.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("cancellation was never observed")
	}
	h.Wait()
}

func TestExecutorClose_UnblocksIdleHarts(t *testing.T) {
	e := NewExecutor()
	done := make(chan struct{})
	go func() {
		e.RunHart()
		close(done)
	}()

	e.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunHart did not return after Close")
	}
}

func TestYieldNow_AdvancesExactlyOnePollRound(t *testing.T) {
	e := NewExecutor()
	go e.RunHart()
	defer e.Close()

	n := 0
	e.BlockOn(PollFunc(func(cx *Context) Outcome {
		n++
		YieldNow(e)
		return Ready(nil, nil)
	}))
	assert.Equal(t, 1, n)
}

func TestSelect_FirstReadyWins(t *testing.T) {
	a := PollFunc(func(cx *Context) Outcome { return Ready("a", nil) })
	b := PollFunc(func(cx *Context) Outcome { return Ready("b", nil) })

	s := &Select{A: a, B: b}
	out := s.Poll(&Context{task: &Task{waker: &Waker{}}})
	assert.True(t, out.Ready)
	assert.Equal(t, "a", out.Value)
}

func TestSelect_PendingUntilEitherReady(t *testing.T) {
	pendingPolls := 0
	a := PollFunc(func(cx *Context) Outcome {
		pendingPolls++
		return Pending()
	})
	b := PollFunc(func(cx *Context) Outcome { return Ready("b", nil) })

	s := &Select{A: a, B: b}
	out := s.Poll(&Context{task: &Task{waker: &Waker{}}})
	assert.True(t, out.Ready)
	assert.Equal(t, "b", out.Value)
	assert.Equal(t, 1, pendingPolls)
}
