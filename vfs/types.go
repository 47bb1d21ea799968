// Package vfs implements the polymorphic object graph at the core of the
// virtual filesystem: SuperBlock, Inode, Dentry, File, and FileSystemType,
// plus the dentry cache, path resolver, fd table, and pipe that sit on top
// of them.
//
// Every concrete backing store (vfs/tmpfs, fs/fatfs, fs/extfs) embeds a
// Meta value for the entity it implements and satisfies the corresponding
// capability interface below — composition plus capability polymorphism,
// not inheritance.
package vfs

import (
	"sync/atomic"
	"time"
)

// InodeType is an inode's polymorphic file-type tag.
type InodeType int

const (
	TypeRegular InodeType = iota
	TypeDirectory
	TypeSymlink
	TypeFIFO
	TypeSocket
	TypeCharDevice
	TypeBlockDevice
)

// InodeState is the inode lifecycle tag: fresh, synced with its backing
// store, or dirty and awaiting writeback.
type InodeState int

const (
	StateInit InodeState = iota
	StateSynced
	StateDirty
)

// Mode packs a file type and POSIX permission bits, mirroring os.FileMode
// conventions closely enough to convert cheaply but kept as its own type
// since the type tag here is InodeType, not os.FileMode's bit layout.
type Mode struct {
	Type InodeType
	Perm uint32 // low 9 bits: rwxrwxrwx
}

// TimeSpec mirrors the (sec, nsec) wire struct Linux uses for timestamps.
type TimeSpec struct {
	Sec  int64
	Nsec int64
}

func TimeSpecFromTime(t time.Time) TimeSpec {
	return TimeSpec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

// Stat is the POSIX-like attribute structure returned by fstat/fstatat,
// fields in the declared order.
type Stat struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint64
	Size    uint64
	Blksize uint32
	Blocks  uint64
	Atime   TimeSpec
	Mtime   TimeSpec
	Ctime   TimeSpec
}

// StatFS is the statfs structure returned by statfs/fstatfs: 11 declared
// fields plus a 4-element spare. Type encodes the filesystem: FAT12=0x01,
// FAT16=0x04, FAT32=0x0c, or the backing filesystem's own Linux magic
// (e.g. ext4).
type StatFS struct {
	Type    uint64
	Bsize   uint64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	FSID    [2]uint32
	NameLen uint64
	Frsize  uint64
	Flags   uint64
	Spare   [4]uint64
}

const (
	FSTypeFAT12 = 0x01
	FSTypeFAT16 = 0x04
	FSTypeFAT32 = 0x0c
	FSTypeExt4  = 0xef53
	FSTypeTmpfs = 0x01021994
)

// DirEntry is the record returned by getdents64.
type DirEntry struct {
	Ino  uint64
	Off  uint64
	Type InodeType
	Name string
}

// OpenFlags are the O_* bits passed to openat/open.
type OpenFlags uint32

const (
	ORdonly OpenFlags = 1 << iota
	OWronly
	ORdwr
	OAppend
	OCreat
	OExcl
	OTrunc
	ONonblock
	OCloexec
	ODirectory
)

// InodeMeta is the common, embeddable inode metadata: a unique inode
// number within its superblock, mode, size, three timestamps, state, and
// a weak back-reference to its superblock (no strong cycle back into the
// superblock's own inode list).
type InodeMeta struct {
	Ino  uint64
	Mode Mode

	size int64 // atomically mutable; use Size()/SetSize()

	Atime, Mtime, Ctime time.Time
	state               int32 // InodeState, atomic

	SB SuperBlock // weak back-reference: holds no strong cycle back to SB's own inode list
}

func (m *InodeMeta) Size() int64            { return atomic.LoadInt64(&m.size) }
func (m *InodeMeta) SetSize(n int64)        { atomic.StoreInt64(&m.size, n) }
func (m *InodeMeta) State() InodeState      { return InodeState(atomic.LoadInt32(&m.state)) }
func (m *InodeMeta) SetState(s InodeState)  { atomic.StoreInt32(&m.state, int32(s)) }

// TypeOf projects the inode's file type.
func (m *InodeMeta) TypeOf() InodeType { return m.Mode.Type }
