// Package fatfs is the FAT12/16/32 backing filesystem: a vfs adapter over
// github.com/diskfs/go-diskfs's on-disk FAT implementation. Unlike
// vfs/tmpfs, every inode here is backed by a real disk image opened
// through go-diskfs rather than synthesized in memory.
package fatfs

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/google/uuid"

	"github.com/rvos/corekernel/internal/errno"
	"github.com/rvos/corekernel/internal/klog"
	"github.com/rvos/corekernel/vfs"
)

// FileSystemType is the vfs.FileSystemType factory for FAT-backed mounts.
// dev, as passed to BaseMount, is the disk image path (a string); fatfs
// opens it itself through go-diskfs rather than going through
// device.BlockDevice, since go-diskfs owns its own on-disk I/O against a
// raw image file.
type FileSystemType struct {
	mu     sync.Mutex
	mounts map[string]vfs.SuperBlock
}

func New() *FileSystemType {
	return &FileSystemType{mounts: make(map[string]vfs.SuperBlock)}
}

func (t *FileSystemType) Name() string { return "fat" }

func (t *FileSystemType) Lookup(path string) (vfs.SuperBlock, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sb, ok := t.mounts[path]
	return sb, ok
}

// BaseMount opens the disk image named by dev (a string path), reads its
// partition 0 as a FAT filesystem, and constructs the root superblock,
// inode, and dentry the way vfs/tmpfs.FileSystemType.BaseMount does for
// its own in-memory root.
func (t *FileSystemType) BaseMount(ctx context.Context, name string, parent vfs.Dentry, flags vfs.OpenFlags, dev interface{}) (vfs.SuperBlock, error) {
	path, ok := dev.(string)
	if !ok {
		return nil, errno.EINVAL
	}

	d, err := diskfs.Open(path)
	if err != nil {
		klog.Error(nil, "fatfs: open %s: %v", path, err)
		return nil, errno.EIO
	}
	backing, err := d.GetFilesystem(0)
	if err != nil {
		klog.Error(nil, "fatfs: read FAT filesystem on %s: %v", path, err)
		return nil, errno.EIO
	}

	sb := &SuperBlock{fs: backing, id: uuid.New()}
	sb.nextIno = 1

	rootInode := sb.newInode(vfs.TypeDirectory, "/", 0755)
	rootDentry := &Dentry{fatPath: "/"}
	rootDentry.meta.Name = "/"
	rootDentry.meta.SB = sb
	rootDentry.meta.SetInode(rootInode)
	if parent != nil {
		rootDentry.meta.Parent = parent
	}
	sb.SuperBlockMeta.SetRootDentry(rootDentry)
	sb.SuperBlockMeta.PushInode(rootInode)

	t.mu.Lock()
	t.mounts[name] = sb
	t.mu.Unlock()

	if parent != nil {
		vfs.CacheChild(parent, name, rootDentry)
	}

	return sb, nil
}

// SuperBlock wraps a go-diskfs filesystem.FileSystem handle.
type SuperBlock struct {
	vfs.SuperBlockMeta
	fs   filesystem.FileSystem
	id   uuid.UUID

	mu      sync.Mutex
	nextIno uint64
}

func (s *SuperBlock) Meta() *vfs.SuperBlockMeta { return &s.SuperBlockMeta }

func (s *SuperBlock) StatFS(ctx context.Context) (vfs.StatFS, error) {
	return vfs.StatFS{
		Type:    vfs.FSTypeFAT32,
		Bsize:   512,
		NameLen: 255,
	}, nil
}

// SyncFS is a no-op: go-diskfs flushes each write through to the backing
// image file synchronously, so there is no dirty-inode queue to drain.
func (s *SuperBlock) SyncFS(ctx context.Context, wait bool) error {
	return nil
}

func (s *SuperBlock) allocIno() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextIno++
	return s.nextIno
}

func (s *SuperBlock) newInode(t vfs.InodeType, fatPath string, perm uint32) *Inode {
	now := time.Now()
	i := &Inode{fatPath: fatPath}
	i.meta.Ino = s.allocIno()
	i.meta.Mode = vfs.Mode{Type: t, Perm: perm}
	i.meta.Atime, i.meta.Mtime, i.meta.Ctime = now, now, now
	i.meta.SB = s
	i.meta.SetState(vfs.StateSynced)
	i.sb = s
	return i
}

// Inode wraps the FAT entry's on-disk attributes; regular file/directory
// I/O happens through SuperBlock.fs, keyed by fatPath, not through a
// cached byte buffer the way vfs/tmpfs.Inode works.
type Inode struct {
	meta    vfs.InodeMeta
	fatPath string
	sb      *SuperBlock
}

func (i *Inode) Meta() *vfs.InodeMeta { return &i.meta }

func (i *Inode) GetAttr(ctx context.Context) (vfs.Stat, error) {
	nlink := uint32(1)
	var mode uint32 = i.meta.Mode.Perm
	var size uint64
	if i.meta.TypeOf() == vfs.TypeDirectory {
		mode |= uint32(os.ModeDir)
	} else {
		fi, err := i.statEntry()
		if err == nil {
			size = uint64(fi)
		}
	}
	return vfs.Stat{
		Ino:     i.meta.Ino,
		Mode:    mode,
		Nlink:   nlink,
		Size:    size,
		Blksize: 512,
		Blocks:  (size + 511) / 512,
		Atime:   vfs.TimeSpecFromTime(i.meta.Atime),
		Mtime:   vfs.TimeSpecFromTime(i.meta.Mtime),
		Ctime:   vfs.TimeSpecFromTime(i.meta.Ctime),
	}, nil
}

func (i *Inode) statEntry() (int64, error) {
	entries, err := i.sb.fs.ReadDir(parentPath(i.fatPath))
	if err != nil {
		return 0, err
	}
	base := baseName(i.fatPath)
	for _, e := range entries {
		if e.Name() == base {
			return e.Size(), nil
		}
	}
	return 0, errno.ENOENT
}

// Dentry is the fatfs vfs.Dentry implementation; fatPath is the absolute
// FAT-filesystem path (distinct from the dentry-cache's own tree, which
// mirrors it one-to-one by construction).
type Dentry struct {
	meta    vfs.DentryMeta
	fatPath string
}

func (d *Dentry) Meta() *vfs.DentryMeta { return &d.meta }

func (d *Dentry) sb() *SuperBlock { return d.meta.SB.(*SuperBlock) }

func (d *Dentry) BaseOpen(ctx context.Context, flags vfs.OpenFlags) (vfs.File, error) {
	ino := d.meta.Inode()
	if ino == nil {
		return nil, errno.ENOENT
	}
	return &File{d: d, i: ino.(*Inode)}, nil
}

func (d *Dentry) BaseLookup(ctx context.Context, name string) (vfs.Dentry, error) {
	if d.meta.Inode() == nil {
		return nil, errno.ENOTDIR
	}
	childPath := joinFATPath(d.fatPath, name)
	child := &Dentry{fatPath: childPath}
	child.meta.Name = name
	child.meta.Parent = d
	child.meta.SB = d.meta.SB

	entries, err := d.sb().fs.ReadDir(d.fatPath)
	if err != nil {
		return nil, errno.EIO
	}
	for _, e := range entries {
		if e.Name() != name {
			continue
		}
		t := vfs.TypeRegular
		if e.IsDir() {
			t = vfs.TypeDirectory
		}
		ino := d.sb().newInode(t, childPath, 0644)
		child.meta.SetInode(ino)
		d.sb().PushInode(ino)
		break
	}
	return child, nil
}

func (d *Dentry) BaseNewChild(name string) vfs.Dentry {
	child := &Dentry{fatPath: joinFATPath(d.fatPath, name)}
	child.meta.Name = name
	child.meta.Parent = d
	child.meta.SB = d.meta.SB
	return child
}

func (d *Dentry) BaseCreate(ctx context.Context, name string, mode vfs.Mode) (vfs.Dentry, error) {
	if d.meta.Inode() == nil {
		return nil, errno.ENOTDIR
	}
	childPath := joinFATPath(d.fatPath, name)

	if existing, _ := d.BaseLookup(ctx, name); existing != nil && existing.Meta().Inode() != nil {
		return nil, errno.EEXIST
	}

	if mode.Type == vfs.TypeDirectory {
		if err := d.sb().fs.Mkdir(childPath); err != nil {
			return nil, errno.EIO
		}
	} else {
		f, err := d.sb().fs.OpenFile(childPath, os.O_RDWR|os.O_CREATE)
		if err != nil {
			return nil, errno.EIO
		}
		f.Close()
	}

	ino := d.sb().newInode(mode.Type, childPath, mode.Perm)
	d.sb().PushInode(ino)
	child := vfs.GetChildOrCreate(d, name)
	child.Meta().SetInode(ino)
	return child, nil
}

// BaseUnlink enforces the unlink type guard — name must exist and must not
// be a directory — before attempting removal. go-diskfs's
// filesystem.FileSystem interface (as of v1.4.0) exposes no Remove/Unlink
// method, only Mkdir/OpenFile/ReadDir; FAT deletion would require directly
// rewriting the directory entry and FAT chain, which this wrapper does
// not do, so removal reports ENOSYS. The guard still runs first so a caller
// gets ENOENT/EISDIR for a bad target instead of a misleading ENOSYS.
func (d *Dentry) BaseUnlink(ctx context.Context, name string) error {
	child, err := d.BaseLookup(ctx, name)
	if err != nil {
		return err
	}
	ino := child.Meta().Inode()
	if ino == nil {
		return errno.ENOENT
	}
	if ino.Meta().TypeOf() == vfs.TypeDirectory {
		return errno.EISDIR
	}
	return errno.ENOSYS
}

// BaseRmdir enforces the rmdir type guard the same way BaseUnlink does for
// regular files; see BaseUnlink's doc comment for why removal itself is
// unreachable.
func (d *Dentry) BaseRmdir(ctx context.Context, name string) error {
	child, err := d.BaseLookup(ctx, name)
	if err != nil {
		return err
	}
	ino := child.Meta().Inode()
	if ino == nil {
		return errno.ENOENT
	}
	if ino.Meta().TypeOf() != vfs.TypeDirectory {
		return errno.ENOTDIR
	}
	return errno.ENOSYS
}

// File is the fatfs vfs.File implementation: each read/write reopens the
// underlying filesystem.File at the recorded offset, since go-diskfs's
// File type does not expose a ReadAt/WriteAt pair.
type File struct {
	meta vfs.FileMeta
	d    *Dentry
	i    *Inode
}

func (f *File) Meta() *vfs.FileMeta {
	f.meta.D = f.d
	f.meta.I = f.i
	return &f.meta
}

func (f *File) BaseReadAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	if f.i.meta.TypeOf() == vfs.TypeDirectory {
		return 0, errno.EISDIR
	}
	rf, err := f.d.sb().fs.OpenFile(f.d.fatPath, os.O_RDONLY)
	if err != nil {
		return 0, errno.EIO
	}
	defer rf.Close()

	if offset > 0 {
		if _, err := skip(rf, offset); err != nil {
			return 0, errno.EIO
		}
	}
	n, err := rf.Read(buf)
	if err != nil && n == 0 {
		return 0, nil // EOF
	}
	return n, nil
}

func (f *File) BaseWriteAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	if f.i.meta.TypeOf() == vfs.TypeDirectory {
		return 0, errno.EISDIR
	}
	wf, err := f.d.sb().fs.OpenFile(f.d.fatPath, os.O_RDWR)
	if err != nil {
		return 0, errno.EIO
	}
	defer wf.Close()

	if offset > 0 {
		skipped, err := skip(wf, offset)
		if err != nil && err != io.EOF {
			return 0, errno.EIO
		}
		if gap := offset - skipped; gap > 0 {
			if _, err := wf.Write(make([]byte, gap)); err != nil {
				return 0, errno.EIO
			}
		}
	}
	n, err := wf.Write(buf)
	if err != nil {
		return n, errno.EIO
	}
	if end := offset + int64(n); end > f.i.meta.Size() {
		f.i.meta.SetSize(end)
	}
	return n, nil
}

// skip discards n bytes from r by reading into a scratch buffer; used in
// place of Seek, which go-diskfs's filesystem.File does not guarantee.
func skip(r interface{ Read([]byte) (int, error) }, n int64) (int64, error) {
	scratch := make([]byte, 4096)
	var skipped int64
	for skipped < n {
		chunk := n - skipped
		if chunk > int64(len(scratch)) {
			chunk = int64(len(scratch))
		}
		m, err := r.Read(scratch[:chunk])
		skipped += int64(m)
		if err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

func (f *File) BaseReadDir(ctx context.Context) ([]vfs.DirEntry, error) {
	if f.i.meta.TypeOf() != vfs.TypeDirectory {
		return nil, errno.ENOTDIR
	}
	entries, err := f.d.sb().fs.ReadDir(f.d.fatPath)
	if err != nil {
		return nil, errno.EIO
	}
	out := make([]vfs.DirEntry, 0, len(entries))
	for off, e := range entries {
		t := vfs.TypeRegular
		if e.IsDir() {
			t = vfs.TypeDirectory
		}
		out = append(out, vfs.DirEntry{Off: uint64(off), Type: t, Name: e.Name()})
	}
	return out, nil
}

func (f *File) BaseLoadDir(ctx context.Context) error {
	if f.i.meta.TypeOf() != vfs.TypeDirectory {
		return errno.ENOTDIR
	}
	entries, err := f.BaseReadDir(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		child := vfs.GetChildOrCreate(f.d, e.Name)
		childPath := joinFATPath(f.d.fatPath, e.Name)
		ino := f.d.sb().newInode(e.Type, childPath, 0644)
		child.Meta().SetInode(ino)
	}
	f.i.meta.SetState(vfs.StateSynced)
	return nil
}

func (f *File) Flush(ctx context.Context) error { return nil }

func (f *File) Ioctl(ctx context.Context, cmd uint32, arg uint64) (uint64, error) {
	return 0, errno.ENOTTY
}

func (f *File) Poll(ctx context.Context, events uint32) (uint32, error) {
	return events, nil
}

// Seek only tracks the file's own offset field; reads/writes consult it
// via BaseReadAt/BaseWriteAt's offset argument, same full-width-offset
// contract vfs/tmpfs.File.Seek follows, not narrowed to a smaller integer
// type anywhere in the path.
func (f *File) Seek(ctx context.Context, whence vfs.SeekWhence, pos int64) (int64, error) {
	var next int64
	switch whence {
	case vfs.SeekStart:
		next = pos
	case vfs.SeekCurrent:
		next = f.meta.Offset() + pos
	case vfs.SeekEnd:
		st, err := f.i.GetAttr(ctx)
		if err != nil {
			return 0, err
		}
		next = int64(st.Size) + pos
	default:
		return 0, errno.EINVAL
	}
	if next < 0 {
		return 0, errno.EINVAL
	}
	f.meta.SetOffset(next)
	return next, nil
}

func parentPath(p string) string {
	i := len(p) - 1
	for i > 0 && p[i] != '/' {
		i--
	}
	if i == 0 {
		return "/"
	}
	return p[:i]
}

func baseName(p string) string {
	i := len(p) - 1
	for i > 0 && p[i] != '/' {
		i--
	}
	return p[i+1:]
}

func joinFATPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
