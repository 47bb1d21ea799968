// Package fdtable implements the per-process file-descriptor table: a
// dense, sparse-capable array mapping a small non-negative integer to a
// vfs.File, with alloc/dup/close-on-exec semantics.
package fdtable

import (
	"sync"

	"github.com/rvos/corekernel/internal/errno"
	"github.com/rvos/corekernel/vfs"
)

// Slot is one entry in the table: either empty (File == nil) or bound to
// an open file.
type Slot struct {
	File  vfs.File
	Flags vfs.OpenFlags
}

// Table is a per-process mutex-guarded fd table. Indices 0/1/2 are bound to the tty
// device at construction.
type Table struct {
	mu    sync.Mutex
	slots []Slot
}

// New constructs a table pre-populated with three entries bound to tty.
func New(tty vfs.File) *Table {
	t := &Table{
		slots: make([]Slot, 3),
	}
	for i := 0; i < 3; i++ {
		t.slots[i] = Slot{File: tty}
	}
	return t
}

// Alloc picks the smallest free slot, extending the array if needed, and
// binds file to it.
func (t *Table) Alloc(file vfs.File, flags vfs.OpenFlags) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.slots[i].File == nil {
			t.slots[i] = Slot{File: file, Flags: flags}
			return i
		}
	}
	t.slots = append(t.slots, Slot{File: file, Flags: flags})
	return len(t.slots) - 1
}

// Get returns the file bound to fd, or EBADF if fd is out of range or
// empty.
func (t *Table) Get(fd int) (vfs.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fd < 0 || fd >= len(t.slots) || t.slots[fd].File == nil {
		return nil, errno.EBADF
	}
	return t.slots[fd].File, nil
}

// Close clears fd, failing EBADF if it was already empty or out of range.
// Closing 0/1/2 is permitted.
func (t *Table) Close(fd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fd < 0 || fd >= len(t.slots) || t.slots[fd].File == nil {
		return errno.EBADF
	}
	t.slots[fd] = Slot{}
	return nil
}

// Dup duplicates old to the smallest free slot, equivalent to
// DupWithBound(old, 0).
func (t *Table) Dup(old int) (int, error) {
	return t.DupWithBound(old, 0)
}

// DupWithBound allocates the smallest free slot >= lower and binds it to
// the same file as old, padding with empty slots as needed.
func (t *Table) DupWithBound(old, lower int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old < 0 || old >= len(t.slots) || t.slots[old].File == nil {
		return -1, errno.EBADF
	}
	src := t.slots[old]

	for len(t.slots) <= lower {
		t.slots = append(t.slots, Slot{})
	}
	for i := lower; i < len(t.slots); i++ {
		if t.slots[i].File == nil {
			t.slots[i] = src
			return i, nil
		}
	}
	t.slots = append(t.slots, src)
	return len(t.slots) - 1, nil
}

// DupTo binds new to the same file as old, closing whatever new previously
// held, used for dup2/dup3-style exact-target duplication.
func (t *Table) DupTo(old, new int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old < 0 || old >= len(t.slots) || t.slots[old].File == nil {
		return errno.EBADF
	}
	for len(t.slots) <= new {
		t.slots = append(t.slots, Slot{})
	}
	t.slots[new] = t.slots[old]
	return nil
}

// CloseOnExec clears every slot whose file has the OCloexec flag set,
// used when an fd table survives a fork across an exec.
func (t *Table) CloseOnExec() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.slots[i].File != nil && t.slots[i].Flags&vfs.OCloexec != 0 {
			t.slots[i] = Slot{}
		}
	}
}

// Fork deep-copies the slot array under the table mutex, so a forked
// process starts with an independent table sharing the same open File
// objects.
func (t *Table) Fork() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()

	nt := &Table{slots: make([]Slot, len(t.slots))}
	copy(nt.slots, t.slots)
	return nt
}

// Len reports the current size of the slot array, mostly for tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
