// Package mm implements the minimal simulation of the frame-allocator and
// page-table collaborators. Real page-table and physical-frame
// management is explicitly out of scope; this
// package exists only so the core's contracts with those collaborators are
// exercised by tests without requiring real hardware.
package mm

import (
	"fmt"
	"sync"
)

const FrameSize = 4096

// Frame is an opaque handle to a zeroed page-sized block.
type Frame struct {
	id   uint64
	data []byte
}

// Bytes returns the frame's backing storage.
func (f *Frame) Bytes() []byte { return f.data }

// Allocator is a trivial free-list frame allocator over a pre-allocated
// arena, guaranteeing zeroed frames on Alloc.
type Allocator struct {
	mu     sync.Mutex
	free   []*Frame
	nextID uint64
}

// NewAllocator constructs an allocator with capacity frames pre-allocated.
func NewAllocator(capacity int) *Allocator {
	a := &Allocator{}
	for i := 0; i < capacity; i++ {
		a.nextID++
		a.free = append(a.free, &Frame{id: a.nextID, data: make([]byte, FrameSize)})
	}
	return a
}

// Alloc returns a zeroed frame, or an error if the arena is exhausted.
func (a *Allocator) Alloc() (*Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.free) == 0 {
		return nil, fmt.Errorf("mm: out of frames")
	}
	f := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	for i := range f.data {
		f.data[i] = 0
	}
	return f, nil
}

// Free returns f to the allocator.
func (a *Allocator) Free(f *Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = append(a.free, f)
}

// Perm is a page permission mask.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

type mapping struct {
	pa   uint64
	perm Perm
}

// PageTable is a simulated single-level map from virtual to physical
// address. It is
// deliberately not a multi-level radix tree: callers only need the four
// operations below, not the on-disk/in-memory layout of a real RISC-V
// Sv39 table.
type PageTable struct {
	mu     sync.Mutex
	active bool
	table  map[uint64]mapping
}

// NewPageTable constructs an inactive, empty page table.
func NewPageTable() *PageTable {
	return &PageTable{table: make(map[uint64]mapping)}
}

// Map installs a va->pa mapping with the given permissions.
func (p *PageTable) Map(va, pa uint64, perm Perm) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.table[va] = mapping{pa: pa, perm: perm}
}

// Unmap removes any mapping for va.
func (p *PageTable) Unmap(va uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.table, va)
}

// Translate resolves va to a physical address, reporting ok=false if
// unmapped.
func (p *PageTable) Translate(va uint64) (pa uint64, perm Perm, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, found := p.table[va]
	return m.pa, m.perm, found
}

// Activate marks this table as the one in effect on the current hart
// (i.e. what would be written to satp on real hardware).
func (p *PageTable) Activate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
}
