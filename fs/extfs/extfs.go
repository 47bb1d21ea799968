// Package extfs is the read-mostly ext4 backing filesystem: a vfs adapter
// over github.com/masahiro331/go-ext4-filesystem, which parses an ext4
// image through the standard io/fs.FS interface. Mirrors fs/fatfs's
// shape but write support is limited to EROFS, since the wrapped parser
// is read-oriented.
package extfs

import (
	"context"
	"io"
	"io/fs"
	"sync"

	ext4 "github.com/masahiro331/go-ext4-filesystem/ext4"
	"github.com/google/uuid"

	"github.com/rvos/corekernel/device"
	"github.com/rvos/corekernel/internal/errno"
	"github.com/rvos/corekernel/internal/klog"
	"github.com/rvos/corekernel/vfs"
)

// sectionReader adapts a device.BlockDevice to io.ReaderAt so it can feed
// io.NewSectionReader, which ext4.NewFS expects.
type sectionReader struct {
	dev  device.BlockDevice
	size int64
}

func newSectionReader(dev device.BlockDevice) *sectionReader {
	return &sectionReader{dev: dev, size: int64(dev.SectorCount()) * device.SectorSize}
}

func (s *sectionReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= s.size {
		return 0, io.EOF
	}
	sector := uint64(off) / device.SectorSize
	skip := int(uint64(off) % device.SectorSize)

	buf := make([]byte, device.SectorSize)
	n := 0
	for n < len(p) {
		if err := s.dev.ReadSector(sector, buf); err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, errno.EIO
		}
		copied := copy(p[n:], buf[skip:])
		n += copied
		skip = 0
		sector++
		if sector >= s.dev.SectorCount() {
			break
		}
	}
	return n, nil
}

// FileSystemType is the vfs.FileSystemType factory for ext4-backed
// mounts. dev, as passed to BaseMount, is a device.BlockDevice.
type FileSystemType struct {
	mu     sync.Mutex
	mounts map[string]vfs.SuperBlock
}

func New() *FileSystemType {
	return &FileSystemType{mounts: make(map[string]vfs.SuperBlock)}
}

func (t *FileSystemType) Name() string { return "ext4" }

func (t *FileSystemType) Lookup(path string) (vfs.SuperBlock, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sb, ok := t.mounts[path]
	return sb, ok
}

func (t *FileSystemType) BaseMount(ctx context.Context, name string, parent vfs.Dentry, flags vfs.OpenFlags, dev interface{}) (vfs.SuperBlock, error) {
	blk, ok := dev.(device.BlockDevice)
	if !ok {
		return nil, errno.EINVAL
	}

	sr := io.NewSectionReader(newSectionReader(blk), 0, int64(blk.SectorCount())*device.SectorSize)
	fsys, err := ext4.NewFS(*sr, nil)
	if err != nil {
		klog.Error(nil, "extfs: parse ext4 image: %v", err)
		return nil, errno.EIO
	}

	sb := &SuperBlock{fsys: fsys, id: uuid.New()}
	sb.nextIno = 1

	rootInode := sb.newInode(vfs.TypeDirectory, ".", 0755)
	rootDentry := &Dentry{extPath: "."}
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

// SuperBlock wraps a parsed ext4 filesystem image.
type SuperBlock struct {
	vfs.SuperBlockMeta
	fsys fs.FS
	id   uuid.UUID

	mu      sync.Mutex
	nextIno uint64
}

func (s *SuperBlock) Meta() *vfs.SuperBlockMeta { return &s.SuperBlockMeta }

func (s *SuperBlock) StatFS(ctx context.Context) (vfs.StatFS, error) {
	return vfs.StatFS{Type: vfs.FSTypeExt4, Bsize: 4096, NameLen: 255}, nil
}

// SyncFS is a no-op: extfs never dirties the underlying image, since
// BaseCreate/BaseUnlink report EROFS.
func (s *SuperBlock) SyncFS(ctx context.Context, wait bool) error { return nil }

func (s *SuperBlock) allocIno() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextIno++
	return s.nextIno
}

func (s *SuperBlock) newInode(t vfs.InodeType, extPath string, perm uint32) *Inode {
	i := &Inode{extPath: extPath, sb: s}
	i.meta.Ino = s.allocIno()
	i.meta.Mode = vfs.Mode{Type: t, Perm: perm}
	i.meta.SB = s
	i.meta.SetState(vfs.StateSynced)
	return i
}

// Inode wraps an ext4 path; attributes are fetched lazily via fs.Stat
// rather than cached, since the backing parser already keeps its own
// metadata cache.
type Inode struct {
	meta    vfs.InodeMeta
	extPath string
	sb      *SuperBlock
}

func (i *Inode) Meta() *vfs.InodeMeta { return &i.meta }

func (i *Inode) GetAttr(ctx context.Context) (vfs.Stat, error) {
	nlink := uint32(1)
	mode := i.meta.Mode.Perm
	var size uint64
	fi, err := fs.Stat(i.sb.fsys, i.extPath)
	if err != nil {
		return vfs.Stat{}, errno.EIO
	}
	if !fi.IsDir() {
		size = uint64(fi.Size())
	}
	mtime := vfs.TimeSpecFromTime(fi.ModTime())
	return vfs.Stat{
		Ino:     i.meta.Ino,
		Mode:    mode,
		Nlink:   nlink,
		Size:    size,
		Blksize: 512,
		Blocks:  (size + 511) / 512,
		Atime:   mtime,
		Mtime:   mtime,
		Ctime:   mtime,
	}, nil
}

// Dentry is the extfs vfs.Dentry implementation.
type Dentry struct {
	meta    vfs.DentryMeta
	extPath string
}

func (d *Dentry) Meta() *vfs.DentryMeta { return &d.meta }

func (d *Dentry) sb() *SuperBlock { return d.meta.SB.(*SuperBlock) }

func (d *Dentry) BaseOpen(ctx context.Context, flags vfs.OpenFlags) (vfs.File, error) {
	ino := d.meta.Inode()
	if ino == nil {
		return nil, errno.ENOENT
	}
	if flags&(vfs.OWronly|vfs.ORdwr) != 0 {
		return nil, errno.EROFS
	}
	return &File{d: d, i: ino.(*Inode)}, nil
}

func (d *Dentry) BaseLookup(ctx context.Context, name string) (vfs.Dentry, error) {
	if d.meta.Inode() == nil {
		return nil, errno.ENOTDIR
	}
	childPath := joinExtPath(d.extPath, name)
	child := &Dentry{extPath: childPath}
	child.meta.Name = name
	child.meta.Parent = d
	child.meta.SB = d.meta.SB

	fi, err := fs.Stat(d.sb().fsys, childPath)
	if err == nil {
		t := vfs.TypeRegular
		if fi.IsDir() {
			t = vfs.TypeDirectory
		}
		ino := d.sb().newInode(t, childPath, 0644)
		child.meta.SetInode(ino)
		d.sb().PushInode(ino)
	}
	return child, nil
}

func (d *Dentry) BaseNewChild(name string) vfs.Dentry {
	child := &Dentry{extPath: joinExtPath(d.extPath, name)}
	child.meta.Name = name
	child.meta.Parent = d
	child.meta.SB = d.meta.SB
	return child
}

// BaseCreate reports EROFS: go-ext4-filesystem is a read-oriented parser
// with no write path. Documented here as a current limitation rather than
// silently dropped.
func (d *Dentry) BaseCreate(ctx context.Context, name string, mode vfs.Mode) (vfs.Dentry, error) {
	return nil, errno.EROFS
}

func (d *Dentry) BaseUnlink(ctx context.Context, name string) error { return errno.EROFS }
func (d *Dentry) BaseRmdir(ctx context.Context, name string) error  { return errno.EROFS }

// File is the extfs vfs.File implementation; read-only.
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
	rf, err := f.d.sb().fsys.Open(f.d.extPath)
	if err != nil {
		return 0, errno.EIO
	}
	defer rf.Close()

	if ra, ok := rf.(io.ReaderAt); ok {
		n, err := ra.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return n, errno.EIO
		}
		return n, nil
	}
	// Fall back to sequential Read, discarding offset bytes first.
	if offset > 0 {
		if _, err := io.CopyN(io.Discard, rf, offset); err != nil {
			return 0, nil // EOF before offset
		}
	}
	n, err := rf.Read(buf)
	if err != nil && n == 0 {
		return 0, nil
	}
	return n, nil
}

func (f *File) BaseWriteAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	return 0, errno.EROFS
}

func (f *File) BaseReadDir(ctx context.Context) ([]vfs.DirEntry, error) {
	if f.i.meta.TypeOf() != vfs.TypeDirectory {
		return nil, errno.ENOTDIR
	}
	entries, err := fs.ReadDir(f.d.sb().fsys, f.d.extPath)
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
		childPath := joinExtPath(f.d.extPath, e.Name)
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

func joinExtPath(dir, name string) string {
	if dir == "." {
		return name
	}
	return dir + "/" + name
}
