// Package dispatch implements the syscall dispatcher: decode the syscall
// number out of the trap frame, run the syscall body as a task on the
// executor, and write the result back. User-pointer arguments are
// validated by each syscall body through trapframe's probe functions, not
// by the dispatcher.
//
// The decode/validate/spawn/reply cycle here is grounded directly on
// jacobsa/fuse's Connection.ReadOp/Reply pair in connection.go: one
// request in, one logged reply out, with per-request cancellation and
// debug/error logging gated on whether the logger is configured.
package dispatch

import (
	"context"

	"github.com/rvos/corekernel/internal/errno"
	"github.com/rvos/corekernel/internal/klog"
	"github.com/rvos/corekernel/internal/task"
	"github.com/rvos/corekernel/internal/trapframe"
)

// Syscall numbers for the implemented surface, matching Linux's
// riscv64 numbering so existing userspace binaries call in unmodified.
const (
	SysGetcwd     = 17
	SysDup        = 23
	SysDup3       = 24
	SysFcntl      = 25
	SysIoctl      = 29
	SysMknodat    = 33
	SysMkdirat    = 34
	SysUnlinkat   = 35
	SysUmount2    = 39
	SysMount      = 40
	SysStatfs     = 43
	SysFstatfs    = 44
	SysChdir      = 49
	SysOpenat     = 56
	SysClose      = 57
	SysPipe2      = 59
	SysGetdents64 = 61
	SysRead       = 63
	SysWrite      = 64
	SysLinkat     = 37
	SysFstatat    = 79
	SysFstat      = 80
)

// Handler is a syscall body. It receives the raw argument words (a0..a5 in
// Linux's calling convention) and the validated pointer-copy helpers bound
// to the calling process's address space, and returns a task.Poll: a body
// that may need to wait on something (a pipe's ring buffer, a future
// blocking-device read) returns a Poll that reports Pending until its
// Waker fires, the same suspension contract every other Poll in the
// executor uses. Handle drives the returned Poll with BlockOn, so a
// Pending result parks the calling task rather than busy-looping here.
type Handler func(ctx context.Context, args Args) task.Poll

// SyncHandler is a syscall body that always completes on its first poll,
// returning a result or error synchronously. Most syscalls are like this;
// Sync adapts one into a Handler.
type SyncHandler func(ctx context.Context, args Args) (int64, error)

// Sync adapts a SyncHandler into a Handler that resolves Ready the first
// time it is polled.
func Sync(f SyncHandler) Handler {
	return func(ctx context.Context, args Args) task.Poll {
		return task.PollFunc(func(cx *task.Context) task.Outcome {
			result, err := f(ctx, args)
			return task.Ready(result, err)
		})
	}
}

// Args is the decoded argument vector for a syscall body. User pointers in
// Raw are neither validated nor copied here — CopyInBytes/CopyOutBytes on
// the embedded UserAddressSpace validate and copy them lazily so handlers
// can choose how much to read.
type Args struct {
	Raw [6]uint64
	Mem *trapframe.UserAddressSpace
}

// Dispatcher decodes, spawns, and replies to syscalls arriving
// through the trap pipeline.
type Dispatcher struct {
	Executor *task.Executor
	handlers map[uint64]Handler
}

// NewDispatcher constructs a dispatcher with no registered handlers;
// register each syscall with Register.
func NewDispatcher(exec *task.Executor) *Dispatcher {
	return &Dispatcher{Executor: exec, handlers: make(map[uint64]Handler)}
}

// Register binds a syscall number to its handler.
func (d *Dispatcher) Register(nr uint64, h Handler) {
	d.handlers[nr] = h
}

// a7Index is the trap-frame slot carrying the syscall number in the
// GPR layout: GPR holds x1, x3 and x5..x31 (x2 and x4 are not stored), so
// x1 is index 0, x3 is index 1, and xN for N>=5 is index N-3, giving
// a7/x17 -> index 14.
const a7Index = 14 // x17 (a7)

func argIndex(reg int) int {
	// aN = x(10+N); GPR index for xK (K>=5) is K-3.
	return (10 + reg) - 3
}

// Handle decodes the syscall number from frame and invokes the registered
// handler as a task, writing its result back into a0 (GPR index for
// a0/x10). Validation of user pointer arguments is left to each Handler,
// which receives Mem to probe.
func (d *Dispatcher) Handle(ctx context.Context, frame *trapframe.TrapFrame, mem *trapframe.UserAddressSpace) {
	nr := frame.GPR[a7Index]
	log := klog.For("dispatch")

	h, ok := d.handlers[nr]
	if !ok {
		log.WithField("syscall", nr).Debug("ENOSYS: no handler registered")
		frame.GPR[argIndex(0)] = uint64(errno.ENOSYS.Negated())
		return
	}

	var args Args
	args.Mem = mem
	for i := 0; i < 6; i++ {
		args.Raw[i] = frame.GPR[argIndex(i)]
	}

	outcome := d.Executor.BlockOn(h(ctx, args))

	if outcome.Err != nil {
		e := errno.ToErrno(outcome.Err)
		log.WithField("syscall", nr).WithField("errno", int(e)).Debug("syscall failed")
		frame.GPR[argIndex(0)] = uint64(e.Negated())
		return
	}

	result, _ := outcome.Value.(int64)
	frame.GPR[argIndex(0)] = uint64(result)
}
