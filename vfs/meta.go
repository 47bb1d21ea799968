package vfs

import (
	"sort"
	"sync/atomic"

	"github.com/rvos/corekernel/internal/errno"
	"github.com/rvos/corekernel/internal/ksync"
)

// SuperBlockMeta is the embeddable metadata block a mounted filesystem
// instance carries: a back-reference to the filesystem type, an optional
// backing block device, the root dentry, a list of all live inodes, and a
// list of dirty inodes. Concrete superblocks (vfs/tmpfs.SuperBlock,
// fs/fatfs.SuperBlock, fs/extfs.SuperBlock) embed this and implement the
// remaining SuperBlock methods (StatFS, SyncFS) themselves.
type SuperBlockMeta struct {
	ID   uint64
	FST  FileSystemType
	Dev  interface{} // a device.BlockDevice, or nil for purely in-memory stores

	mu         ksync.SpinLock
	root       Dentry
	inodes     []Inode // GUARDED_BY(mu)
	dirtyInode map[uint64]bool
}

// SetRootDentry installs the root dentry once; later calls are a no-op.
func (m *SuperBlockMeta) SetRootDentry(d Dentry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.root == nil {
		m.root = d
	}
}

func (m *SuperBlockMeta) RootDentry() Dentry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// PushInode records a newly created inode under the superblock-level lock.
func (m *SuperBlockMeta) PushInode(i Inode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inodes = append(m.inodes, i)
}

// Inodes returns a snapshot of all live inodes tracked by this
// superblock.
func (m *SuperBlockMeta) Inodes() []Inode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Inode, len(m.inodes))
	copy(out, m.inodes)
	return out
}

// MarkDirty / ClearDirty / DirtyInodes track which inode numbers need
// sync_fs to write them out.
func (m *SuperBlockMeta) MarkDirty(ino uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirtyInode == nil {
		m.dirtyInode = make(map[uint64]bool)
	}
	m.dirtyInode[ino] = true
}

func (m *SuperBlockMeta) ClearDirty(ino uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dirtyInode, ino)
}

func (m *SuperBlockMeta) DirtyInodes() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, 0, len(m.dirtyInode))
	for ino := range m.dirtyInode {
		out = append(out, ino)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FileMeta is the embeddable open-file-description metadata: the dentry
// that was opened, its inode at open time, an atomically mutable file
// offset, and an open-flags field.
type FileMeta struct {
	D     Dentry
	I     Inode
	Flags OpenFlags

	offset int64 // GUARDED_BY atomic ops only
}

// Offset returns the file's current offset.
func (m *FileMeta) Offset() int64 { return atomic.LoadInt64(&m.offset) }

// SetOffset stores a new offset atomically.
func (m *FileMeta) SetOffset(v int64) { atomic.StoreInt64(&m.offset, v) }

// DentryMeta is the embeddable cached-name-tree node metadata: name,
// parent (weak, absent only for root), current inode (optional; negative
// if nil), an ordered-by-name children map, and a back-reference to the
// owning superblock.
//
// Children are owned strongly by their parent; Parent is a weak
// back-reference so the tree cannot cycle through it.
type DentryMeta struct {
	Name   string
	Parent Dentry // weak: absent only for a superblock's root
	SB     SuperBlock

	mu       ksync.Mutex
	inode    Inode // nil => negative dentry
	children map[string]Dentry // GUARDED_BY(mu), per-dentry lock
}

// Inode returns the dentry's current inode, or nil if negative.
func (d *DentryMeta) Inode() Inode {
	d.mu.LockBlocking()
	defer d.mu.Unlock()
	return d.inode
}

// IsNegative reports whether this dentry currently names no inode.
func (d *DentryMeta) IsNegative() bool {
	return d.Inode() == nil
}

// SetInode populates (or clears, if i is nil) the dentry's inode,
// transitioning it between negative and positive.
func (d *DentryMeta) SetInode(i Inode) {
	d.mu.LockBlocking()
	defer d.mu.Unlock()
	d.inode = i
}

// ClearInode detaches this dentry's inode, making it negative.
func (d *DentryMeta) ClearInode() {
	d.SetInode(nil)
}

// getChildLocked looks up name in the cached children map under lock.
func (d *DentryMeta) getChildLocked(name string) (Dentry, bool) {
	d.mu.LockBlocking()
	defer d.mu.Unlock()
	if d.children == nil {
		return nil, false
	}
	c, ok := d.children[name]
	return c, ok
}

func (d *DentryMeta) putChildLocked(name string, c Dentry) {
	d.mu.LockBlocking()
	defer d.mu.Unlock()
	if d.children == nil {
		d.children = make(map[string]Dentry)
	}
	d.children[name] = c
}

func (d *DentryMeta) removeChildLocked(name string) {
	d.mu.LockBlocking()
	defer d.mu.Unlock()
	delete(d.children, name)
}

// SortedChildNames returns the cached children's names in lexical order,
// the ordered-by-name view callers of a directory listing expect.
func (d *DentryMeta) SortedChildNames() []string {
	d.mu.LockBlocking()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.children))
	for name := range d.children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GetChild returns the cached child dentry named name, if any is already
// in the dentry cache.
func GetChild(d Dentry, name string) (Dentry, bool) {
	return d.Meta().getChildLocked(name)
}

// GetChildOrCreate returns the cached child named name, creating a
// negative child via BaseNewChild and inserting it into the cache if one
// doesn't already exist.
func GetChildOrCreate(d Dentry, name string) Dentry {
	dm := d.Meta()
	if c, ok := dm.getChildLocked(name); ok {
		return c
	}
	c := d.BaseNewChild(name)
	dm.putChildLocked(name, c)
	return c
}

// CacheChild inserts an already-resolved dentry (e.g. the result of a
// successful BaseLookup) into the parent's dentry cache. Panics if doing
// so would violate the same-superblock invariant (a positive dentry's
// inode must belong to its own superblock, except across a mount point
// where the child's superblock is intentionally the mounted one).
func CacheChild(d Dentry, name string, child Dentry) {
	if err := checkSameSuperblock(child); err != nil {
		if child.Meta().SB == d.Meta().SB {
			panic("vfs: dentry/inode superblock mismatch on non-mount child: " + err.Error())
		}
	}
	d.Meta().putChildLocked(name, child)
}

// UncacheChild removes name from the parent's dentry cache, used by
// BaseUnlink/BaseRmdir implementations after deleting from the backing
// directory.
func UncacheChild(d Dentry, name string) {
	d.Meta().removeChildLocked(name)
}

// Path walks a dentry's parents to build its absolute path, crossing mount
// points correctly when a mounted root dentry's Parent points into the
// covering superblock. It does not reparse strings; it walks the live
// tree.
func Path(d Dentry) string {
	var names []string
	cur := d
	for {
		m := cur.Meta()
		if m.Parent == nil {
			// A dentry with no parent at all is the global root: stop.
			break
		}
		if m.Name != "/" {
			names = append([]string{m.Name}, names...)
		}
		cur = m.Parent
	}
	if len(names) == 0 {
		return "/"
	}
	path := ""
	for _, n := range names {
		path += "/" + n
	}
	return path
}

// checkSameSuperblock enforces the invariant that a non-negative dentry's
// inode superblock must match its own, except across mount points (where
// the child dentry intentionally belongs to the mounted superblock, not
// the parent's).
func checkSameSuperblock(d Dentry) error {
	dm := d.Meta()
	if dm.inode == nil {
		return nil
	}
	if dm.inode.Meta().SB != dm.SB {
		return errno.EIO
	}
	return nil
}
