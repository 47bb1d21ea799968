// Package kernel wires the trap pipeline, task executor, and VFS together
// into the syscall surface: one Process per running program, holding the
// pieces every syscall handler needs (cwd dentry, fd table, root dentry).
package kernel

import (
	"sync"

	"github.com/rvos/corekernel/vfs"
	"github.com/rvos/corekernel/vfs/fdtable"
)

// Process holds the per-process state a syscall handler consults: its
// current working directory dentry and its fd table. A real kernel would
// also carry credentials, a memory map, and signal state; those are out
// of scope here.
type Process struct {
	mu   sync.RWMutex
	Root vfs.Dentry
	cwd  vfs.Dentry
	Fds  *fdtable.Table
}

// NewProcess constructs a process rooted at root, with cwd==root and an
// fd table pre-bound to tty.
func NewProcess(root vfs.Dentry, tty vfs.File) *Process {
	return &Process{
		Root: root,
		cwd:  root,
		Fds:  fdtable.New(tty),
	}
}

func (p *Process) Cwd() vfs.Dentry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cwd
}

func (p *Process) SetCwd(d vfs.Dentry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cwd = d
}

// Fork returns a new Process sharing this one's Root but with an
// independent fd table copy (see vfs/fdtable.Table.Fork): a child's open
// files start as copies of the parent's, but closing one in the child
// does not affect the parent's descriptor.
func (p *Process) Fork() *Process {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &Process{
		Root: p.Root,
		cwd:  p.cwd,
		Fds:  p.Fds.Fork(),
	}
}
