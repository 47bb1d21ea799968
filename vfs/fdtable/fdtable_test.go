package fdtable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvos/corekernel/internal/errno"
	"github.com/rvos/corekernel/vfs"
)

// fakeFile is a minimal vfs.File stub for table-only tests; none of its
// I/O methods are exercised.
type fakeFile struct {
	meta vfs.FileMeta
	name string
}

func (f *fakeFile) Meta() *vfs.FileMeta                                     { return &f.meta }
func (f *fakeFile) BaseReadAt(context.Context, int64, []byte) (int, error)  { return 0, errno.EINVAL }
func (f *fakeFile) BaseWriteAt(context.Context, int64, []byte) (int, error) { return 0, errno.EINVAL }
func (f *fakeFile) BaseReadDir(context.Context) ([]vfs.DirEntry, error)     { return nil, errno.ENOTDIR }
func (f *fakeFile) BaseLoadDir(context.Context) error                      { return errno.ENOTDIR }
func (f *fakeFile) Flush(context.Context) error                           { return nil }
func (f *fakeFile) Ioctl(context.Context, uint32, uint64) (uint64, error) { return 0, errno.ENOTTY }
func (f *fakeFile) Poll(context.Context, uint32) (uint32, error)          { return 0, nil }
func (f *fakeFile) Seek(context.Context, vfs.SeekWhence, int64) (int64, error) {
	return 0, errno.ESPIPE
}

func TestNew_StdioBoundToTTY(t *testing.T) {
	tty := &fakeFile{name: "tty"}
	tbl := New(tty)
	assert.Equal(t, 3, tbl.Len())
	for fd := 0; fd < 3; fd++ {
		got, err := tbl.Get(fd)
		require.NoError(t, err)
		assert.Same(t, tty, got)
	}
}

func TestAlloc_FillsSmallestFreeSlot(t *testing.T) {
	tbl := New(&fakeFile{})
	a := &fakeFile{name: "a"}
	fd := tbl.Alloc(a, 0)
	assert.Equal(t, 3, fd)

	require.NoError(t, tbl.Close(1))
	b := &fakeFile{name: "b"}
	fd = tbl.Alloc(b, 0)
	assert.Equal(t, 1, fd)
}

func TestGet_EmptyOrOutOfRangeFailsEBADF(t *testing.T) {
	tbl := New(&fakeFile{})
	_, err := tbl.Get(99)
	assert.Equal(t, errno.EBADF, err)
}

func TestClose_TwiceFailsSecondTime(t *testing.T) {
	tbl := New(&fakeFile{})
	require.NoError(t, tbl.Close(0))
	assert.Equal(t, errno.EBADF, tbl.Close(0))
}

func TestDup_PicksSmallestFreeSlot(t *testing.T) {
	tbl := New(&fakeFile{})
	a := &fakeFile{name: "a"}
	orig := tbl.Alloc(a, 0) // fd 3
	fd, err := tbl.Dup(orig)
	require.NoError(t, err)
	assert.Equal(t, 4, fd)

	got, err := tbl.Get(fd)
	require.NoError(t, err)
	assert.Same(t, a, got)
}

func TestDupWithBound_RespectsLowerBound(t *testing.T) {
	tbl := New(&fakeFile{})
	a := &fakeFile{}
	orig := tbl.Alloc(a, 0) // fd 3
	fd, err := tbl.DupWithBound(orig, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, fd)
	assert.Equal(t, 11, tbl.Len())
}

func TestDupTo_ClosesPreviousOccupant(t *testing.T) {
	tbl := New(&fakeFile{})
	a := &fakeFile{name: "a"}
	orig := tbl.Alloc(a, 0)
	require.NoError(t, tbl.DupTo(orig, 0))

	got, err := tbl.Get(0)
	require.NoError(t, err)
	assert.Same(t, a, got)
}

func TestCloseOnExec_ClearsFlaggedSlotsOnly(t *testing.T) {
	tbl := New(&fakeFile{})
	keep := &fakeFile{name: "keep"}
	drop := &fakeFile{name: "drop"}
	fdKeep := tbl.Alloc(keep, 0)
	fdDrop := tbl.Alloc(drop, vfs.OCloexec)

	tbl.CloseOnExec()

	_, err := tbl.Get(fdKeep)
	assert.NoError(t, err)
	_, err = tbl.Get(fdDrop)
	assert.Equal(t, errno.EBADF, err)
}

func TestFork_CopiesIndependentlyButSharesFiles(t *testing.T) {
	tbl := New(&fakeFile{})
	a := &fakeFile{name: "a"}
	fd := tbl.Alloc(a, 0)

	child := tbl.Fork()
	require.NoError(t, child.Close(fd))

	// Parent's slot is untouched by the child's close.
	got, err := tbl.Get(fd)
	require.NoError(t, err)
	assert.Same(t, a, got)
}
