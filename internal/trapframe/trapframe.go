// Package trapframe models the user<->kernel context-switch boundary: the
// trap frame handed off between the trap vector and the per-hart runtime,
// and the user-pointer probe (try_read_user/try_write_user) that every
// syscall argument passes through.
//
// This is a hosted simulation, not privileged RISC-V firmware: there is no
// sepc/sstatus CSR to manipulate from a userspace Go process. The package
// instead models the save/restore contract as plain struct copies against
// a bounds-checked UserAddressSpace, so the suspension and fault-recovery
// invariants stay testable. jacobsa/fuse makes the analogous tradeoff for
// its own privileged operation (the mount(2) syscall): mount_linux.go
// calls the real syscall, while the portable bulk of the package only
// depends on the narrow interface it exposes.
package trapframe

import "fmt"

// TrapFrame is the 48-word register-save block: the 29 general-purpose
// registers other than x0 (hardwired zero) and x2/x4 (handled specially by
// the vector), sepc, sstatus, the user sp, and the kernel-side
// bookkeeping needed to resume the kernel stack that was running before
// the trap.
type TrapFrame struct {
	// x1, x3, x5..x31 (29 registers; x2/sp is kept in UserSP and x4/tp is
	// not saved).
	GPR [29]uint64

	Sepc    uint64
	Sstatus uint64

	UserSP uint64

	// Kernel-side state, saved by ReturnToUser and restored on the next
	// EnterFromUser so the hart's "run user" primitive can resume exactly
	// where it left off.
	KernelSP uint64
	KernelRA uint64
	Saved    [12]uint64 // s0..s11
	KernelFP uint64
	KernelTP uint64
}

// PrivilegeLevel models sstatus.SPP: the privilege level the hart was at
// when the trap was taken.
type PrivilegeLevel int

const (
	SupervisorMode PrivilegeLevel = iota
	MachineMode
)

// Fault is returned by the user memory probes when the simulated access
// would have taken an MMU fault, carrying a simulated scause value the way
// a real try_read_user/try_write_user would report it to its caller.
type Fault struct {
	Scause uint64
	Addr   uint64
}

func (f *Fault) Error() string {
	return fmt.Sprintf("user memory fault at 0x%x (scause=0x%x)", f.Addr, f.Scause)
}

const (
	scauseLoadPageFault  = 13
	scauseStorePageFault = 15
)

// UserAddressSpace stands in for a process's mapped pages: a bounds-checked
// byte arena. Reads/writes outside [0, len(Bytes)) report a Fault instead
// of panicking, which is the whole point of try_read_user/try_write_user —
// converting what would be an MMU fault into a recoverable status.
type UserAddressSpace struct {
	Bytes []byte
}

// NewUserAddressSpace allocates a zeroed arena of the given size.
func NewUserAddressSpace(size int) *UserAddressSpace {
	return &UserAddressSpace{Bytes: make([]byte, size)}
}

// TryReadUser reads a single byte at addr, or returns a Fault if addr is
// unmapped. This is the kernel's mechanism for validating every user
// pointer passed across the syscall boundary.
func (u *UserAddressSpace) TryReadUser(addr uint64) (byte, error) {
	if addr >= uint64(len(u.Bytes)) {
		return 0, &Fault{Scause: scauseLoadPageFault, Addr: addr}
	}
	return u.Bytes[addr], nil
}

// TryWriteUser writes a single byte at addr, or returns a Fault.
func (u *UserAddressSpace) TryWriteUser(addr uint64, b byte) error {
	if addr >= uint64(len(u.Bytes)) {
		return &Fault{Scause: scauseStorePageFault, Addr: addr}
	}
	u.Bytes[addr] = b
	return nil
}

// CopyInBytes validates and copies n bytes starting at addr out of user
// memory. It fails atomically: if any byte in the range is unmapped, no
// partial copy is observable by the caller.
func (u *UserAddressSpace) CopyInBytes(addr uint64, n int) ([]byte, error) {
	if addr > uint64(len(u.Bytes)) || uint64(n) > uint64(len(u.Bytes))-addr {
		return nil, &Fault{Scause: scauseLoadPageFault, Addr: addr}
	}
	out := make([]byte, n)
	copy(out, u.Bytes[addr:addr+uint64(n)])
	return out, nil
}

// CopyInCString reads a NUL-terminated string starting at addr, up to
// maxLen bytes. It fails with a Fault if the terminator isn't found within
// bounds, the same way a real copy_from_user-style string fetch would stop
// at an unmapped page.
func (u *UserAddressSpace) CopyInCString(addr uint64, maxLen int) (string, error) {
	var out []byte
	for i := 0; i < maxLen; i++ {
		b, err := u.TryReadUser(addr + uint64(i))
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(out), nil
		}
		out = append(out, b)
	}
	return string(out), nil
}

// CopyOutBytes validates and copies p into user memory starting at addr.
func (u *UserAddressSpace) CopyOutBytes(addr uint64, p []byte) error {
	if addr > uint64(len(u.Bytes)) || uint64(len(p)) > uint64(len(u.Bytes))-addr {
		return &Fault{Scause: scauseStorePageFault, Addr: addr}
	}
	copy(u.Bytes[addr:addr+uint64(len(p))], p)
	return nil
}

// HartContext is the per-hart runtime state: the kernel stack identity,
// the task currently running on this hart (if any), and the scratch
// trap-frame pointer that would live in sscratch on real hardware while
// user code runs.
type HartContext struct {
	ID uint32

	// CurrentTaskID is 0 when the hart is idle. Exactly one task may be
	// "current" on a hart at a time.
	CurrentTaskID uint64

	scratch *TrapFrame
}

// NewHartContext constructs an idle hart.
func NewHartContext(id uint32) *HartContext {
	return &HartContext{ID: id}
}

// EnterFromUser is the data-structure equivalent of the user->kernel trap
// vector: it records that frame is now the hart's scratch trap frame (as
// sscratch would) and returns it unchanged, since on a real implementation
// the vector has already populated it from the CSRs and the raw register
// file before C code ever runs.
func (h *HartContext) EnterFromUser(frame *TrapFrame) *TrapFrame {
	h.scratch = frame
	return frame
}

// ReturnToUser is the kernel->user half: the "run user" primitive. It
// records the kernel-side registers that must be restored on the next
// trap, installs frame as the hart's scratch pointer, and signals that
// execution has logically transferred to user mode running under frame.
//
// kernelSP/kernelRA/calleeSaved/kernelFP/kernelTP are the kernel
// continuation's own register state at the point of the call — in a real
// implementation these come from the assembly trampoline; here the task
// executor supplies them because a Go goroutine has no addressable stack
// pointer to save.
func (h *HartContext) ReturnToUser(
	frame *TrapFrame,
	kernelSP, kernelRA uint64,
	calleeSaved [12]uint64,
	kernelFP, kernelTP uint64,
) {
	frame.KernelSP = kernelSP
	frame.KernelRA = kernelRA
	frame.Saved = calleeSaved
	frame.KernelFP = kernelFP
	frame.KernelTP = kernelTP

	h.scratch = frame
}

// KernelTrap models the distinct "exception while already in kernel mode"
// vector: it only makes sense to resume via sret if the trap was taken at
// S-mode. An M-mode re-entry is not recoverable here, so it is reported as
// an explicit error rather than left as undefined behavior.
func (h *HartContext) KernelTrap(level PrivilegeLevel) error {
	if level != SupervisorMode {
		return fmt.Errorf("kernel trap taken outside supervisor mode on hart %d: cannot resume via sret", h.ID)
	}
	return nil
}

// Scratch returns the hart's currently installed trap frame, or nil if the
// hart is not running user code.
func (h *HartContext) Scratch() *TrapFrame {
	return h.scratch
}
