package pipefs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvos/corekernel/internal/errno"
	"github.com/rvos/corekernel/internal/task"
)

func TestPipe_WriteThenRead(t *testing.T) {
	rf, wf := New(1)
	ctx := context.Background()

	n, err := wf.Write(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	exec := task.NewExecutor()
	go exec.RunHart()
	defer exec.Close()

	buf := make([]byte, 5)
	n, err = rf.Read(ctx, exec, buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
}

func TestPipe_ReadReturnsEOFAfterWriterCloses(t *testing.T) {
	rf, wf := New(1)
	ctx := context.Background()
	wf.Close()

	exec := task.NewExecutor()
	go exec.RunHart()
	defer exec.Close()

	buf := make([]byte, 4)
	n, err := rf.Read(ctx, exec, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPipe_WriteAfterCloseFailsEPIPE(t *testing.T) {
	_, wf := New(1)
	wf.Close()
	_, err := wf.Write(context.Background(), []byte("x"))
	assert.Equal(t, errno.EPIPE, err)
}

func TestPipe_WriteNeverBlocksOnFullRing(t *testing.T) {
	_, wf := NewWithCapacity(1, 4)
	n, err := wf.Write(context.Background(), []byte("abcdefgh"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestPipe_CloseIsIdempotent(t *testing.T) {
	_, wf := New(1)
	assert.NotPanics(t, func() {
		wf.Close()
		wf.Close()
	})
}

func TestPipe_ReadPollYieldsUntilDataArrives(t *testing.T) {
	rf, wf := New(1)

	exec := task.NewExecutor()
	go exec.RunHart()
	defer exec.Close()

	buf := make([]byte, 3)
	var n int
	h := exec.Spawn(rf.ReadPoll(buf, &n))

	_, err := wf.Write(context.Background(), []byte("abc"))
	require.NoError(t, err)

	out := h.Wait()
	require.True(t, out.Ready)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", string(buf))
}

func TestPipe_PollReportsWritableAndReadable(t *testing.T) {
	rf, wf := New(1)
	ctx := context.Background()

	events, err := wf.Poll(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), events)

	events, err = rf.Poll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), events)

	wf.Write(ctx, []byte("x"))
	events, err = rf.Poll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), events)
}
