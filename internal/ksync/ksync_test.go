package ksync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvos/corekernel/internal/task"
)

func TestMutex_TryLockExcludesSecondHolder(t *testing.T) {
	var m Mutex
	require.True(t, m.TryLock())
	assert.False(t, m.TryLock())
	m.Unlock()
	assert.True(t, m.TryLock())
}

func TestMutex_UnlockOfUnlockedPanics(t *testing.T) {
	var m Mutex
	assert.Panics(t, func() { m.Unlock() })
}

func TestMutex_LockAsPollParksAndWakes(t *testing.T) {
	var m Mutex
	require.True(t, m.TryLock())

	e := task.NewExecutor()
	go e.RunHart()
	defer e.Close()

	out := e.Spawn(task.PollFunc(func(cx *task.Context) task.Outcome {
		return m.Lock(cx)
	}))

	// The lock is held, so the spawned task must still be blocked; give
	// Unlock a chance to release and wake it.
	m.Unlock()
	result := out.Wait()
	assert.True(t, result.Ready)
}

func TestInvariantMutex_RunsCheckOnUnlock(t *testing.T) {
	checks := 0
	im := NewInvariantMutex(func() { checks++ })
	im.TryLock()
	im.Unlock()
	assert.Equal(t, 1, checks)
}

func TestRingBuffer_WriteNeverBlocksOnFullShortWrite(t *testing.T) {
	r := NewRingBuffer(4)
	n := r.Write([]byte("hello"))
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, r.SpaceLeft())
}

func TestRingBuffer_ReadDrainsInFIFOOrder(t *testing.T) {
	r := NewRingBuffer(8)
	r.Write([]byte("abcd"))

	buf := make([]byte, 2)
	n := r.Read(buf)
	require.Equal(t, 2, n)
	assert.Equal(t, "ab", string(buf))

	r.Write([]byte("ef"))
	buf = make([]byte, 4)
	n = r.Read(buf)
	require.Equal(t, 4, n)
	assert.Equal(t, "cdef", string(buf[:n]))
}

func TestRingBuffer_ReadMoreThanAvailable(t *testing.T) {
	r := NewRingBuffer(8)
	r.Write([]byte("xy"))
	buf := make([]byte, 10)
	n := r.Read(buf)
	assert.Equal(t, 2, n)
	assert.Equal(t, "xy", string(buf[:n]))
}

func TestSpinLock_ExcludesConcurrentHolders(t *testing.T) {
	var s SpinLock
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Lock()
			counter++
			s.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestWaitList_WakeAllDrainsAndWakesEveryWaiter(t *testing.T) {
	var l WaitList
	e := task.NewExecutor()
	go e.RunHart()
	defer e.Close()

	order := make(chan int, 2)
	spawnWaiter := func(id int) task.TaskHandle {
		woken := false
		return e.Spawn(task.PollFunc(func(cx *task.Context) task.Outcome {
			if !woken {
				woken = true
				l.Add(cx.Waker())
				return task.Pending()
			}
			order <- id
			return task.Ready(id, nil)
		}))
	}

	h1 := spawnWaiter(1)
	h2 := spawnWaiter(2)

	// Give both tasks a chance to register on the wait list before waking.
	deadline := time.After(time.Second)
	for l.Len() < 2 {
		select {
		case <-deadline:
			t.Fatal("waiters never registered")
		case <-time.After(time.Millisecond):
		}
	}

	assert.Equal(t, 2, l.Len())
	l.WakeAll()
	assert.Equal(t, 0, l.Len())

	h1.Wait()
	h2.Wait()
	close(order)

	var got []int
	for id := range order {
		got = append(got, id)
	}
	assert.ElementsMatch(t, []int{1, 2}, got)
}

func TestOnceCell_InitRunsExactlyOnce(t *testing.T) {
	var c OnceCell[int]
	calls := 0
	init := func() int {
		calls++
		return 7
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, 7, c.GetOrInit(init))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}
