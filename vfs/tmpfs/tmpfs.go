// Package tmpfs is a fully in-memory backing filesystem implementing the
// vfs capability interfaces, the same role jacobsa/fuse's samples/memfs
// plays for that project: an in-memory filesystem for tests and demos.
// corekernel uses tmpfs as its root filesystem and in every unit test
// that doesn't specifically exercise fs/fatfs or fs/extfs.
package tmpfs

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rvos/corekernel/internal/errno"
	"github.com/rvos/corekernel/internal/ksync"
	"github.com/rvos/corekernel/vfs"
)

// FileSystemType is the vfs.FileSystemType factory for tmpfs.
type FileSystemType struct {
	mu     sync.Mutex
	mounts map[string]vfs.SuperBlock
}

func New() *FileSystemType {
	return &FileSystemType{mounts: make(map[string]vfs.SuperBlock)}
}

func (t *FileSystemType) Name() string { return "tmpfs" }

func (t *FileSystemType) Lookup(path string) (vfs.SuperBlock, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sb, ok := t.mounts[path]
	return sb, ok
}

// BaseMount constructs a superblock, its root directory inode, and a root
// dentry naming the mount point. dev is unused (tmpfs has no backing
// block device).
func (t *FileSystemType) BaseMount(ctx context.Context, name string, parent vfs.Dentry, flags vfs.OpenFlags, dev interface{}) (vfs.SuperBlock, error) {
	sb := &SuperBlock{}
	sb.Meta().FST = t
	sb.nextIno = 1

	rootInode := sb.newDirInode(0755)
	rootDentry := &Dentry{}
	rootDentry.Meta().Name = "/"
	rootDentry.Meta().SB = sb
	rootDentry.Meta().SetInode(rootInode)
	if parent != nil {
		rootDentry.Meta().Parent = parent
	}
	sb.Meta().SetRootDentry(rootDentry)
	sb.Meta().PushInode(rootInode)

	t.mu.Lock()
	t.mounts[name] = sb
	t.mu.Unlock()

	if parent != nil {
		vfs.CacheChild(parent, name, rootDentry)
	}

	return sb, nil
}

// SuperBlock is the tmpfs vfs.SuperBlock implementation.
type SuperBlock struct {
	vfs.SuperBlockMeta

	mu      ksync.SpinLock
	nextIno uint64
}

func (s *SuperBlock) Meta() *vfs.SuperBlockMeta { return &s.SuperBlockMeta }

func (s *SuperBlock) allocIno() uint64 {
	return atomic.AddUint64(&s.nextIno, 1)
}

func (s *SuperBlock) StatFS(ctx context.Context) (vfs.StatFS, error) {
	return vfs.StatFS{
		Type:    vfs.FSTypeTmpfs,
		Bsize:   4096,
		NameLen: 255,
	}, nil
}

func (s *SuperBlock) SyncFS(ctx context.Context, wait bool) error {
	// Nothing to flush: tmpfs has no backing store.
	for _, ino := range s.SuperBlockMeta.DirtyInodes() {
		s.SuperBlockMeta.ClearDirty(ino)
	}
	return nil
}

func (s *SuperBlock) newDirInode(perm uint32) *Inode {
	now := time.Now()
	i := &Inode{}
	i.meta.Ino = s.allocIno()
	i.meta.Mode = vfs.Mode{Type: vfs.TypeDirectory, Perm: perm}
	i.meta.Atime, i.meta.Mtime, i.meta.Ctime = now, now, now
	i.meta.SB = s
	i.meta.SetState(vfs.StateSynced)
	i.dir = &dirData{entries: make(map[string]*DentryRef)}
	return i
}

func (s *SuperBlock) newFileInode(perm uint32) *Inode {
	now := time.Now()
	i := &Inode{}
	i.meta.Ino = s.allocIno()
	i.meta.Mode = vfs.Mode{Type: vfs.TypeRegular, Perm: perm}
	i.meta.Atime, i.meta.Mtime, i.meta.Ctime = now, now, now
	i.meta.SB = s
	i.meta.SetState(vfs.StateSynced)
	return i
}

// DentryRef is a directory entry: the child's name and inode, used by
// dirData to answer BaseLookup/BaseReadDir without touching the dentry
// cache (the dentry cache is a separate, VFS-level concern; dirData is
// kept as a distinct "backing directory" representation).
type DentryRef struct {
	Inode *Inode
}

type dirData struct {
	mu      sync.Mutex
	entries map[string]*DentryRef // GUARDED_BY(mu)
	order   []string
}

// Inode is the tmpfs vfs.Inode implementation. Regular files store their
// bytes directly; directories store a dirData.
type Inode struct {
	meta vfs.InodeMeta

	mu       sync.RWMutex
	contents []byte   // GUARDED_BY(mu), regular files only
	dir      *dirData // non-nil for directories only
}

func (i *Inode) Meta() *vfs.InodeMeta { return &i.meta }

func (i *Inode) GetAttr(ctx context.Context) (vfs.Stat, error) {
	nlink := uint32(1)
	if i.meta.TypeOf() == vfs.TypeDirectory {
		nlink = 2
	}
	size := i.meta.Size()
	return vfs.Stat{
		Ino:     i.meta.Ino,
		Mode:    uint32(i.meta.Mode.Perm) | modeTypeBits(i.meta.TypeOf()),
		Nlink:   nlink,
		Size:    uint64(size),
		Blksize: 512,
		Blocks:  uint64((size + 511) / 512),
		Atime:   vfs.TimeSpecFromTime(i.meta.Atime),
		Mtime:   vfs.TimeSpecFromTime(i.meta.Mtime),
		Ctime:   vfs.TimeSpecFromTime(i.meta.Ctime),
	}, nil
}

func modeTypeBits(t vfs.InodeType) uint32 {
	switch t {
	case vfs.TypeDirectory:
		return uint32(os.ModeDir)
	case vfs.TypeSymlink:
		return uint32(os.ModeSymlink)
	case vfs.TypeFIFO:
		return uint32(os.ModeNamedPipe)
	case vfs.TypeSocket:
		return uint32(os.ModeSocket)
	case vfs.TypeCharDevice:
		return uint32(os.ModeCharDevice)
	case vfs.TypeBlockDevice:
		return uint32(os.ModeDevice)
	default:
		return 0
	}
}

// Dentry is the tmpfs vfs.Dentry implementation.
type Dentry struct {
	meta vfs.DentryMeta
}

func (d *Dentry) Meta() *vfs.DentryMeta { return &d.meta }

func (d *Dentry) sb() *SuperBlock { return d.meta.SB.(*SuperBlock) }

func (d *Dentry) BaseOpen(ctx context.Context, flags vfs.OpenFlags) (vfs.File, error) {
	ino := d.meta.Inode()
	if ino == nil {
		return nil, errno.ENOENT
	}
	f := &File{}
	f.meta.D = d
	f.meta.I = ino
	f.meta.Flags = flags
	return f, nil
}

func (d *Dentry) BaseLookup(ctx context.Context, name string) (vfs.Dentry, error) {
	dirIno := d.meta.Inode()
	if dirIno == nil || dirIno.(*Inode).dir == nil {
		return nil, errno.ENOTDIR
	}
	dd := dirIno.(*Inode).dir

	dd.mu.Lock()
	ref, ok := dd.entries[name]
	dd.mu.Unlock()

	child := &Dentry{}
	child.meta.Name = name
	child.meta.Parent = d
	child.meta.SB = d.meta.SB
	if ok {
		child.meta.SetInode(ref.Inode)
	}
	return child, nil
}

func (d *Dentry) BaseNewChild(name string) vfs.Dentry {
	child := &Dentry{}
	child.meta.Name = name
	child.meta.Parent = d
	child.meta.SB = d.meta.SB
	return child
}

func (d *Dentry) BaseCreate(ctx context.Context, name string, mode vfs.Mode) (vfs.Dentry, error) {
	dirIno := d.meta.Inode()
	if dirIno == nil || dirIno.(*Inode).dir == nil {
		return nil, errno.ENOTDIR
	}
	dd := dirIno.(*Inode).dir

	dd.mu.Lock()
	if existing, ok := dd.entries[name]; ok && existing.Inode != nil {
		dd.mu.Unlock()
		return nil, errno.EEXIST
	}
	var newIno *Inode
	if mode.Type == vfs.TypeDirectory {
		newIno = d.sb().newDirInode(mode.Perm)
	} else {
		newIno = d.sb().newFileInode(mode.Perm)
	}
	if dd.entries == nil {
		dd.entries = make(map[string]*DentryRef)
	}
	if _, existed := dd.entries[name]; !existed {
		dd.order = append(dd.order, name)
	}
	dd.entries[name] = &DentryRef{Inode: newIno}
	dd.mu.Unlock()

	d.sb().PushInode(newIno)

	child := vfs.GetChildOrCreate(d, name)
	child.Meta().SetInode(newIno)
	return child, nil
}

func (d *Dentry) BaseUnlink(ctx context.Context, name string) error {
	return d.removeChild(ctx, name, false)
}

func (d *Dentry) BaseRmdir(ctx context.Context, name string) error {
	return d.removeChild(ctx, name, true)
}

func (d *Dentry) removeChild(ctx context.Context, name string, wantDir bool) error {
	dirIno := d.meta.Inode()
	if dirIno == nil || dirIno.(*Inode).dir == nil {
		return errno.ENOTDIR
	}
	dd := dirIno.(*Inode).dir

	dd.mu.Lock()
	ref, ok := dd.entries[name]
	if !ok {
		dd.mu.Unlock()
		return errno.ENOENT
	}
	isDir := ref.Inode.meta.TypeOf() == vfs.TypeDirectory
	if wantDir && !isDir {
		dd.mu.Unlock()
		return errno.ENOTDIR
	}
	if !wantDir && isDir {
		dd.mu.Unlock()
		return errno.EISDIR
	}
	if isDir && len(ref.Inode.dir.entries) > 0 {
		dd.mu.Unlock()
		return errno.ENOTEMPTY
	}
	delete(dd.entries, name)
	dd.mu.Unlock()

	if child, cached := vfs.GetChild(d, name); cached {
		child.Meta().ClearInode()
		vfs.UncacheChild(d, name)
	}
	return nil
}

// File is the tmpfs vfs.File implementation.
type File struct {
	meta vfs.FileMeta
}

func (f *File) Meta() *vfs.FileMeta { return &f.meta }

func (f *File) ino() *Inode { return f.meta.I.(*Inode) }

func (f *File) BaseReadAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	ino := f.ino()
	if ino.meta.TypeOf() == vfs.TypeDirectory {
		return 0, errno.EISDIR
	}
	ino.mu.RLock()
	defer ino.mu.RUnlock()
	if offset >= int64(len(ino.contents)) {
		return 0, nil
	}
	n := copy(buf, ino.contents[offset:])
	return n, nil
}

// BaseWriteAt writes buf at offset, zero-filling any gap if offset is
// past the current end of file, and atomically updating
// the inode's size if the write extends the file.
func (f *File) BaseWriteAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	ino := f.ino()
	if ino.meta.TypeOf() == vfs.TypeDirectory {
		return 0, errno.EISDIR
	}
	ino.mu.Lock()
	defer ino.mu.Unlock()

	end := offset + int64(len(buf))
	if end > int64(len(ino.contents)) {
		grown := make([]byte, end)
		copy(grown, ino.contents)
		ino.contents = grown
	}
	copy(ino.contents[offset:end], buf)
	if end > ino.meta.Size() {
		ino.meta.SetSize(end)
	}
	ino.meta.Mtime = time.Now()
	return len(buf), nil
}

func (f *File) BaseReadDir(ctx context.Context) ([]vfs.DirEntry, error) {
	ino := f.ino()
	if ino.dir == nil {
		return nil, errno.ENOTDIR
	}
	ino.dir.mu.Lock()
	defer ino.dir.mu.Unlock()

	out := make([]vfs.DirEntry, 0, len(ino.dir.order))
	for off, name := range ino.dir.order {
		ref, ok := ino.dir.entries[name]
		if !ok {
			continue
		}
		out = append(out, vfs.DirEntry{
			Ino:  ref.Inode.meta.Ino,
			Off:  uint64(off),
			Type: ref.Inode.meta.TypeOf(),
			Name: name,
		})
	}
	return out, nil
}

// BaseLoadDir materializes all immediate children into the dentry tree
// and sets the directory inode's state to Synced.
func (f *File) BaseLoadDir(ctx context.Context) error {
	ino := f.ino()
	if ino.dir == nil {
		return errno.ENOTDIR
	}
	d := f.meta.D

	ino.dir.mu.Lock()
	snapshot := make(map[string]*Inode, len(ino.dir.entries))
	for name, ref := range ino.dir.entries {
		snapshot[name] = ref.Inode
	}
	ino.dir.mu.Unlock()

	for name, childIno := range snapshot {
		child := vfs.GetChildOrCreate(d, name)
		child.Meta().SetInode(childIno)
	}
	ino.meta.SetState(vfs.StateSynced)
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
		next = f.ino().meta.Size() + pos
	default:
		return 0, errno.EINVAL
	}
	if next < 0 {
		return 0, errno.EINVAL
	}
	f.meta.SetOffset(next)
	return next, nil
}
