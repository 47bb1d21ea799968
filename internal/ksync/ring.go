package ksync

import "sync"

// RingBuffer is a fixed-capacity byte ring, the storage underneath a pipe
// inode. It is a plain mutex-guarded slice rather than lock-free. It does
// no waiting of its own: vfs/pipefs readers that find it empty park on the
// pipe's WaitList and are woken by the next write or by close.
type RingBuffer struct {
	mu   sync.Mutex
	buf  []byte
	head int // next byte to read
	n    int // number of valid bytes currently stored
}

// NewRingBuffer allocates a ring of the given fixed capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Len returns the number of unread bytes currently stored.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// SpaceLeft returns how many bytes can still be written before the ring is
// full.
func (r *RingBuffer) SpaceLeft() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) - r.n
}

// Write copies up to min(SpaceLeft(), len(p)) bytes into the ring and
// returns the count written. A pipe write never blocks in the base
// design: a full ring simply accepts a short write.
func (r *RingBuffer) Write(p []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	space := len(r.buf) - r.n
	toWrite := len(p)
	if toWrite > space {
		toWrite = space
	}
	tail := (r.head + r.n) % len(r.buf)
	for i := 0; i < toWrite; i++ {
		r.buf[(tail+i)%len(r.buf)] = p[i]
	}
	r.n += toWrite
	return toWrite
}

// Read copies up to min(Len(), len(p)) bytes out of the ring (draining
// them) and returns the count read.
func (r *RingBuffer) Read(p []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	toRead := r.n
	if toRead > len(p) {
		toRead = len(p)
	}
	for i := 0; i < toRead; i++ {
		p[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.head = (r.head + toRead) % len(r.buf)
	r.n -= toRead
	return toRead
}
