// Package pipefs implements the in-memory FIFO: a pipe inode holding a
// fixed-capacity ring buffer and a closed flag, with two File variants
// (reader, writer) sharing it.
package pipefs

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rvos/corekernel/internal/errno"
	"github.com/rvos/corekernel/internal/ksync"
	"github.com/rvos/corekernel/internal/task"
	"github.com/rvos/corekernel/vfs"
)

const DefaultCapacity = 64 * 1024

// Inode is a specialized vfs.Inode with mode = FIFO.
type Inode struct {
	meta vfs.InodeMeta

	ring       *ksync.RingBuffer
	closed     int32 // atomic bool: last writer reference dropped
	writerRefs int32
	waiters    ksync.WaitList
}

// NewInode constructs a pipe inode with the given ring capacity.
func NewInode(ino uint64, capacity int) *Inode {
	i := &Inode{
		meta: vfs.InodeMeta{
			Ino:  ino,
			Mode: vfs.Mode{Type: vfs.TypeFIFO, Perm: 0600},
		},
		ring: ksync.NewRingBuffer(capacity),
	}
	i.meta.SetState(vfs.StateSynced)
	return i
}

func (i *Inode) Meta() *vfs.InodeMeta { return &i.meta }

func (i *Inode) GetAttr(ctx context.Context) (vfs.Stat, error) {
	return vfs.Stat{
		Ino:     i.meta.Ino,
		Mode:    uint32(i.meta.Mode.Perm),
		Nlink:   1,
		Blksize: 512,
		Size:    uint64(i.ring.Len()),
	}, nil
}

// closedFlag reports whether the writer side has closed.
func (i *Inode) closedFlag() bool { return atomic.LoadInt32(&i.closed) != 0 }

// addWriterRef / dropWriterRef track the pipe's open writer count: the
// last writer reference dropped sets closed=true, waking any blocked
// readers so they observe EOF once the buffer drains.
func (i *Inode) addWriterRef() { atomic.AddInt32(&i.writerRefs, 1) }

func (i *Inode) dropWriterRef() {
	if atomic.AddInt32(&i.writerRefs, -1) == 0 {
		atomic.StoreInt32(&i.closed, 1)
		i.waiters.WakeAll()
	}
}

// New constructs a connected pipe pair: a ReadFile and a WriteFile sharing
// one Inode.
func New(ino uint64) (*ReadFile, *WriteFile) {
	return NewWithCapacity(ino, DefaultCapacity)
}

// NewWithCapacity is New with an explicit ring capacity.
func NewWithCapacity(ino uint64, capacity int) (*ReadFile, *WriteFile) {
	i := NewInode(ino, capacity)
	i.addWriterRef()
	return &ReadFile{inode: i}, &WriteFile{inode: i, closeOnce: new(sync.Once)}
}

// ReadFile implements only read.
type ReadFile struct {
	meta  vfs.FileMeta
	inode *Inode
}

func (f *ReadFile) Meta() *vfs.FileMeta {
	f.meta.I = f.inode
	return &f.meta
}

// Read drains up to len(buf) bytes. While the ring is empty and the
// writer hasn't closed, it yields the calling task and retries; once the
// writer has closed and the ring has drained, it returns 0 (EOF).
//
// exec is the executor the caller's task is running under; it is used to
// yield between polls. Read may be called either from inside a task (via
// ReadPoll) or, for simpler call sites and tests, synchronously here,
// which spins via task.YieldNow.
func (f *ReadFile) Read(ctx context.Context, exec *task.Executor, buf []byte) (int, error) {
	for {
		n := f.inode.ring.Read(buf)
		if n > 0 {
			return n, nil
		}
		if f.inode.closedFlag() {
			return 0, nil // EOF
		}
		task.YieldNow(exec)
	}
}

// ReadPoll is the task.Poll-compatible form of Read, usable directly as a
// suspension point inside a larger task.
func (f *ReadFile) ReadPoll(buf []byte, n *int) task.PollFunc {
	return func(cx *task.Context) task.Outcome {
		got := f.inode.ring.Read(buf)
		if got > 0 {
			*n = got
			return task.Ready(got, nil)
		}
		if f.inode.closedFlag() {
			*n = 0
			return task.Ready(0, nil)
		}
		f.inode.waiters.Add(cx.Waker())
		return task.Pending()
	}
}

func (f *ReadFile) BaseReadAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	return 0, errno.EINVAL // pipes have no offset-addressable reads
}

func (f *ReadFile) BaseWriteAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	return 0, errno.EBADF
}

func (f *ReadFile) BaseReadDir(ctx context.Context) ([]vfs.DirEntry, error) { return nil, errno.ENOTDIR }
func (f *ReadFile) BaseLoadDir(ctx context.Context) error                   { return errno.ENOTDIR }
func (f *ReadFile) Flush(ctx context.Context) error                        { return nil }
func (f *ReadFile) Ioctl(ctx context.Context, cmd uint32, arg uint64) (uint64, error) {
	return 0, errno.ENOTTY
}
func (f *ReadFile) Poll(ctx context.Context, events uint32) (uint32, error) {
	const pollIn = 1
	if f.inode.ring.Len() > 0 || f.inode.closedFlag() {
		return events & pollIn, nil
	}
	return 0, nil
}
func (f *ReadFile) Seek(ctx context.Context, whence vfs.SeekWhence, pos int64) (int64, error) {
	return 0, errno.ESPIPE
}

// WriteFile implements only write.
type WriteFile struct {
	meta      vfs.FileMeta
	inode     *Inode
	closeOnce *sync.Once
}

func (f *WriteFile) Meta() *vfs.FileMeta {
	f.meta.I = f.inode
	return &f.meta
}

// Write copies up to min(space_left, len(buf)) bytes; it never suspends
// in the base design and returns the count written, even when that is
// short of len(buf).
func (f *WriteFile) Write(ctx context.Context, buf []byte) (int, error) {
	if f.inode.closedFlag() {
		return 0, errno.EPIPE
	}
	n := f.inode.ring.Write(buf)
	f.inode.waiters.WakeAll()
	return n, nil
}

// Close drops this WriteFile's writer reference. Call exactly once per
// WriteFile; subsequent calls are a no-op.
func (f *WriteFile) Close() {
	f.closeOnce.Do(f.inode.dropWriterRef)
}

func (f *WriteFile) BaseReadAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	return 0, errno.EBADF
}
func (f *WriteFile) BaseWriteAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	return f.Write(ctx, buf)
}
func (f *WriteFile) BaseReadDir(ctx context.Context) ([]vfs.DirEntry, error) { return nil, errno.ENOTDIR }
func (f *WriteFile) BaseLoadDir(ctx context.Context) error                   { return errno.ENOTDIR }
func (f *WriteFile) Flush(ctx context.Context) error                        { return nil }
func (f *WriteFile) Ioctl(ctx context.Context, cmd uint32, arg uint64) (uint64, error) {
	return 0, errno.ENOTTY
}
func (f *WriteFile) Poll(ctx context.Context, events uint32) (uint32, error) {
	const pollOut = 4
	if f.inode.ring.SpaceLeft() > 0 {
		return events & pollOut, nil
	}
	return 0, nil
}
func (f *WriteFile) Seek(ctx context.Context, whence vfs.SeekWhence, pos int64) (int64, error) {
	return 0, errno.ESPIPE
}
