package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvos/corekernel/internal/dispatch"
	"github.com/rvos/corekernel/internal/errno"
	"github.com/rvos/corekernel/internal/task"
	"github.com/rvos/corekernel/internal/trapframe"
	"github.com/rvos/corekernel/vfs"
	"github.com/rvos/corekernel/vfs/tmpfs"
)

// testTTY is a minimal vfs.File standing in for fds 0/1/2 in these tests.
type testTTY struct{ meta vfs.FileMeta }

func (f *testTTY) Meta() *vfs.FileMeta                                     { return &f.meta }
func (f *testTTY) BaseReadAt(context.Context, int64, []byte) (int, error)  { return 0, nil }
func (f *testTTY) BaseWriteAt(context.Context, int64, []byte) (int, error) { return 0, nil }
func (f *testTTY) BaseReadDir(context.Context) ([]vfs.DirEntry, error)     { return nil, errno.ENOTDIR }
func (f *testTTY) BaseLoadDir(context.Context) error                      { return errno.ENOTDIR }
func (f *testTTY) Flush(context.Context) error                           { return nil }
func (f *testTTY) Ioctl(context.Context, uint32, uint64) (uint64, error) { return 0, errno.ENOTTY }
func (f *testTTY) Poll(context.Context, uint32) (uint32, error)          { return 0, nil }
func (f *testTTY) Seek(context.Context, vfs.SeekWhence, int64) (int64, error) {
	return 0, errno.ESPIPE
}

func newTestKernel(t *testing.T) (*dispatch.Dispatcher, *Process) {
	t.Helper()
	sb, err := tmpfs.New().BaseMount(context.Background(), "/", nil, 0, nil)
	require.NoError(t, err)

	proc := NewProcess(sb.RootDentry(), &testTTY{})
	exec := task.NewExecutor()
	go exec.RunHart()
	t.Cleanup(exec.Close)

	d := dispatch.NewDispatcher(exec)
	RegisterAll(d, proc)
	return d, proc
}

func handle(d *dispatch.Dispatcher, mem *trapframe.UserAddressSpace, nr uint64, args ...uint64) int64 {
	frame := &trapframe.TrapFrame{}
	frame.GPR[14] = nr // a7Index, mirrored from internal/dispatch
	for i, a := range args {
		frame.GPR[(10+i)-3] = a // argIndex(i)
	}
	d.Handle(context.Background(), frame, mem)
	return int64(frame.GPR[(10+0)-3])
}

func TestOpenatWriteReadClose_RoundTrip(t *testing.T) {
	d, proc := newTestKernel(t)
	mem := trapframe.NewUserAddressSpace(4096)

	pathAddr := uint64(0)
	require.NoError(t, mem.CopyOutBytes(pathAddr, []byte("/greeting.txt\x00")))

	fd := handle(d, mem, dispatch.SysOpenat, uint64(ATFdcwd), pathAddr, uint64(vfs.OCreat|vfs.ORdwr), 0644)
	require.GreaterOrEqual(t, fd, int64(3))

	bufAddr := uint64(256)
	require.NoError(t, mem.CopyOutBytes(bufAddr, []byte("hello")))
	n := handle(d, mem, dispatch.SysWrite, uint64(fd), bufAddr, 5)
	assert.Equal(t, int64(5), n)

	// Re-open to reset the offset, then read back.
	fd2 := handle(d, mem, dispatch.SysOpenat, uint64(ATFdcwd), pathAddr, uint64(vfs.ORdwr), 0)
	require.GreaterOrEqual(t, fd2, int64(3))

	readAddr := uint64(512)
	n = handle(d, mem, dispatch.SysRead, uint64(fd2), readAddr, 5)
	assert.Equal(t, int64(5), n)
	got, err := mem.CopyInBytes(readAddr, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	rc := handle(d, mem, dispatch.SysClose, uint64(fd))
	assert.Equal(t, int64(0), rc)

	_ = proc
}

func TestOpenat_MissingFileWithoutOCreatFailsENOENT(t *testing.T) {
	d, _ := newTestKernel(t)
	mem := trapframe.NewUserAddressSpace(4096)
	require.NoError(t, mem.CopyOutBytes(0, []byte("/nope\x00")))

	rc := handle(d, mem, dispatch.SysOpenat, uint64(ATFdcwd), 0, uint64(vfs.ORdonly), 0)
	assert.Equal(t, errno.ENOENT.Negated(), rc)
}

func TestChdirThenGetcwd(t *testing.T) {
	d, _ := newTestKernel(t)
	mem := trapframe.NewUserAddressSpace(4096)
	require.NoError(t, mem.CopyOutBytes(0, []byte("/sub\x00")))

	rc := handle(d, mem, dispatch.SysMkdirat, uint64(ATFdcwd), 0, 0755)
	require.Equal(t, int64(0), rc)

	rc = handle(d, mem, dispatch.SysChdir, 0)
	require.Equal(t, int64(0), rc)

	bufAddr := uint64(64)
	n := handle(d, mem, dispatch.SysGetcwd, bufAddr, 64)
	require.GreaterOrEqual(t, n, int64(0))

	got, err := mem.CopyInCString(bufAddr, 64)
	require.NoError(t, err)
	assert.Equal(t, "/sub", got)
}

func TestMkdiratThenMkdiratAgainFailsEEXIST(t *testing.T) {
	d, _ := newTestKernel(t)
	mem := trapframe.NewUserAddressSpace(4096)
	require.NoError(t, mem.CopyOutBytes(0, []byte("/dup\x00")))

	rc := handle(d, mem, dispatch.SysMkdirat, uint64(ATFdcwd), 0, 0755)
	require.Equal(t, int64(0), rc)

	rc = handle(d, mem, dispatch.SysMkdirat, uint64(ATFdcwd), 0, 0755)
	assert.Equal(t, errno.EEXIST.Negated(), rc)
}

func TestPipe2ThenWriteThenRead(t *testing.T) {
	d, _ := newTestKernel(t)
	mem := trapframe.NewUserAddressSpace(4096)

	fdsAddr := uint64(0)
	rc := handle(d, mem, dispatch.SysPipe2, fdsAddr)
	require.Equal(t, int64(0), rc)

	fdsBytes, err := mem.CopyInBytes(fdsAddr, 8)
	require.NoError(t, err)
	rfd := int64(uint32(fdsBytes[0]) | uint32(fdsBytes[1])<<8 | uint32(fdsBytes[2])<<16 | uint32(fdsBytes[3])<<24)
	wfd := int64(uint32(fdsBytes[4]) | uint32(fdsBytes[5])<<8 | uint32(fdsBytes[6])<<16 | uint32(fdsBytes[7])<<24)

	bufAddr := uint64(64)
	require.NoError(t, mem.CopyOutBytes(bufAddr, []byte("pipe!")))
	n := handle(d, mem, dispatch.SysWrite, uint64(wfd), bufAddr, 5)
	assert.Equal(t, int64(5), n)

	readAddr := uint64(128)
	n = handle(d, mem, dispatch.SysRead, uint64(rfd), readAddr, 5)
	assert.Equal(t, int64(5), n)
	got, err := mem.CopyInBytes(readAddr, 5)
	require.NoError(t, err)
	assert.Equal(t, "pipe!", string(got))
}

func TestPipeRead_SuspendsUntilWriterWrites(t *testing.T) {
	d, _ := newTestKernel(t)
	readMem := trapframe.NewUserAddressSpace(4096)
	writeMem := trapframe.NewUserAddressSpace(4096)

	fdsAddr := uint64(0)
	rc := handle(d, readMem, dispatch.SysPipe2, fdsAddr)
	require.Equal(t, int64(0), rc)
	fdsBytes, err := readMem.CopyInBytes(fdsAddr, 8)
	require.NoError(t, err)
	rfd := int64(uint32(fdsBytes[0]) | uint32(fdsBytes[1])<<8 | uint32(fdsBytes[2])<<16 | uint32(fdsBytes[3])<<24)
	wfd := int64(uint32(fdsBytes[4]) | uint32(fdsBytes[5])<<8 | uint32(fdsBytes[6])<<16 | uint32(fdsBytes[7])<<24)

	readDone := make(chan int64, 1)
	readAddr := uint64(128)
	go func() {
		readDone <- handle(d, readMem, dispatch.SysRead, uint64(rfd), readAddr, 5)
	}()

	// Give the reader every chance to actually park on the empty ring
	// before any bytes exist to read, rather than racing a write in first.
	select {
	case n := <-readDone:
		t.Fatalf("read returned %d before any write landed", n)
	case <-time.After(50 * time.Millisecond):
	}

	bufAddr := uint64(64)
	require.NoError(t, writeMem.CopyOutBytes(bufAddr, []byte("later")))
	wn := handle(d, writeMem, dispatch.SysWrite, uint64(wfd), bufAddr, 5)
	assert.Equal(t, int64(5), wn)

	select {
	case n := <-readDone:
		assert.Equal(t, int64(5), n)
	case <-time.After(time.Second):
		t.Fatal("read never woke up after the write")
	}

	got, err := readMem.CopyInBytes(readAddr, 5)
	require.NoError(t, err)
	assert.Equal(t, "later", string(got))
}

func TestDup_SharesUnderlyingFile(t *testing.T) {
	d, _ := newTestKernel(t)
	mem := trapframe.NewUserAddressSpace(4096)
	require.NoError(t, mem.CopyOutBytes(0, []byte("/f\x00")))

	fd := handle(d, mem, dispatch.SysOpenat, uint64(ATFdcwd), 0, uint64(vfs.OCreat|vfs.ORdwr), 0644)
	require.GreaterOrEqual(t, fd, int64(3))

	newFd := handle(d, mem, dispatch.SysDup, uint64(fd))
	require.Greater(t, newFd, fd)

	bufAddr := uint64(64)
	require.NoError(t, mem.CopyOutBytes(bufAddr, []byte("ab")))
	n := handle(d, mem, dispatch.SysWrite, uint64(newFd), bufAddr, 2)
	assert.Equal(t, int64(2), n)
}
