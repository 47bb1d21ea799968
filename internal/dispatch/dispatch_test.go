package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvos/corekernel/internal/errno"
	"github.com/rvos/corekernel/internal/task"
	"github.com/rvos/corekernel/internal/trapframe"
)

func newDispatcher(t *testing.T) (*Dispatcher, *task.Executor) {
	t.Helper()
	exec := task.NewExecutor()
	go exec.RunHart()
	t.Cleanup(exec.Close)
	return NewDispatcher(exec), exec
}

func TestHandle_UnregisteredSyscallReturnsENOSYS(t *testing.T) {
	d, _ := newDispatcher(t)
	frame := &trapframe.TrapFrame{}
	frame.GPR[a7Index] = 9999

	d.Handle(context.Background(), frame, trapframe.NewUserAddressSpace(0))
	assert.Equal(t, uint64(errno.ENOSYS.Negated()), frame.GPR[argIndex(0)])
}

func TestHandle_RegisteredSyscallReceivesDecodedArgsAndWritesResult(t *testing.T) {
	d, _ := newDispatcher(t)

	var gotArgs [6]uint64
	d.Register(SysWrite, Sync(func(ctx context.Context, args Args) (int64, error) {
		gotArgs = args.Raw
		return 3, nil
	}))

	frame := &trapframe.TrapFrame{}
	frame.GPR[a7Index] = SysWrite
	frame.GPR[argIndex(0)] = 1  // fd
	frame.GPR[argIndex(1)] = 42 // buf
	frame.GPR[argIndex(2)] = 3  // count

	d.Handle(context.Background(), frame, trapframe.NewUserAddressSpace(64))

	assert.Equal(t, uint64(1), gotArgs[0])
	assert.Equal(t, uint64(42), gotArgs[1])
	assert.Equal(t, uint64(3), gotArgs[2])
	assert.Equal(t, uint64(3), frame.GPR[argIndex(0)])
}

func TestHandle_HandlerErrorIsNegatedIntoA0(t *testing.T) {
	d, _ := newDispatcher(t)
	d.Register(SysClose, Sync(func(ctx context.Context, args Args) (int64, error) {
		return 0, errno.EBADF
	}))

	frame := &trapframe.TrapFrame{}
	frame.GPR[a7Index] = SysClose

	d.Handle(context.Background(), frame, trapframe.NewUserAddressSpace(0))
	assert.Equal(t, uint64(errno.EBADF.Negated()), frame.GPR[argIndex(0)])
}

func TestHandle_PendingHandlerSuspendsUntilWoken(t *testing.T) {
	d, _ := newDispatcher(t)

	ready := make(chan struct{})
	var polls int
	d.Register(SysFstat, func(ctx context.Context, args Args) task.Poll {
		return task.PollFunc(func(cx *task.Context) task.Outcome {
			polls++
			if polls == 1 {
				w := cx.Waker()
				go func() {
					<-ready
					w.Wake()
				}()
				return task.Pending()
			}
			return task.Ready(int64(7), nil)
		})
	})

	frame := &trapframe.TrapFrame{}
	frame.GPR[a7Index] = SysFstat

	done := make(chan struct{})
	go func() {
		d.Handle(context.Background(), frame, trapframe.NewUserAddressSpace(0))
		close(done)
	}()

	close(ready)
	<-done

	assert.Equal(t, 2, polls)
	assert.Equal(t, uint64(7), frame.GPR[argIndex(0)])
}

func TestHandle_MemIsThreadedToHandler(t *testing.T) {
	d, _ := newDispatcher(t)
	mem := trapframe.NewUserAddressSpace(8)
	require.NoError(t, mem.CopyOutBytes(0, []byte("hi")))

	var sawByte byte
	d.Register(SysRead, Sync(func(ctx context.Context, args Args) (int64, error) {
		b, err := args.Mem.TryReadUser(0)
		if err != nil {
			return 0, err
		}
		sawByte = b
		return 0, nil
	}))

	frame := &trapframe.TrapFrame{}
	frame.GPR[a7Index] = SysRead
	d.Handle(context.Background(), frame, mem)

	assert.Equal(t, byte('h'), sawByte)
}
