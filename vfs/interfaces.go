package vfs

import "context"

// SuperBlock represents a mounted filesystem instance.
// One per mount.
type SuperBlock interface {
	// Meta returns the embeddable metadata block.
	Meta() *SuperBlockMeta

	// StatFS returns capacity/usage statistics filled in by the backing
	// filesystem; fails with EIO on device failure.
	StatFS(ctx context.Context) (StatFS, error)

	// SyncFS writes out dirty inodes; wait=false may be asynchronous.
	SyncFS(ctx context.Context, wait bool) error

	// SetRootDentry installs the root dentry. Called once; idempotent
	// thereafter.
	SetRootDentry(d Dentry)

	// RootDentry returns the previously installed root, or nil.
	RootDentry() Dentry

	// PushInode records a newly created inode.
	PushInode(i Inode)
}

// Inode is on-disk or synthesized file metadata, polymorphic over file
// type.
type Inode interface {
	Meta() *InodeMeta

	// GetAttr returns a POSIX-like stat structure.
	GetAttr(ctx context.Context) (Stat, error)
}

// Dentry is a node in the cached name tree, the
// central abstraction of the VFS. Concrete filesystems implement the
// base_* capability methods; Dentry-generic helpers (GetChild,
// GetChildOrCreate, Path, DentryMeta.ClearInode) are provided in meta.go
// and apply uniformly across backing stores.
type Dentry interface {
	Meta() *DentryMeta

	// BaseOpen returns a new File bound to this dentry. Fails ENOENT if
	// this dentry is negative.
	BaseOpen(ctx context.Context, flags OpenFlags) (File, error)

	// BaseLookup searches the backing directory for name. If missing,
	// returns a negative child dentry, cached for future negative lookups.
	// Fails only on real I/O errors.
	BaseLookup(ctx context.Context, name string) (Dentry, error)

	// BaseCreate creates a regular file or directory child depending on
	// mode.Type; may reuse an existing negative child. Fails EEXIST if a
	// positive child already exists.
	BaseCreate(ctx context.Context, name string, mode Mode) (Dentry, error)

	// BaseUnlink removes a non-directory child. Fails EISDIR on a
	// directory.
	BaseUnlink(ctx context.Context, name string) error

	// BaseRmdir removes an empty directory child. Fails ENOTDIR on a
	// non-directory.
	BaseRmdir(ctx context.Context, name string) error

	// BaseNewChild constructs a negative child dentry of the correct
	// concrete type for this filesystem.
	BaseNewChild(name string) Dentry
}

// File is an open-file description.
type File interface {
	Meta() *FileMeta

	// BaseReadAt / BaseWriteAt: directories fail EISDIR; regular files
	// delegate to the backing store. Writes past EOF zero-fill the gap;
	// writes extending the file update the inode size atomically relative
	// to the write.
	BaseReadAt(ctx context.Context, offset int64, buf []byte) (int, error)
	BaseWriteAt(ctx context.Context, offset int64, buf []byte) (int, error)

	// BaseReadDir / BaseLoadDir: directory iteration. LoadDir materializes
	// all immediate children into the dentry tree and sets the directory
	// inode's state to Synced.
	BaseReadDir(ctx context.Context) ([]DirEntry, error)
	BaseLoadDir(ctx context.Context) error

	Flush(ctx context.Context) error
	Ioctl(ctx context.Context, cmd uint32, arg uint64) (uint64, error)
	Poll(ctx context.Context, events uint32) (uint32, error)

	// Seek interprets Start/Current/End with size lookup; thread-safe via
	// an atomic offset.
	Seek(ctx context.Context, whence SeekWhence, pos int64) (int64, error)
}

// SeekWhence mirrors lseek's whence argument.
type SeekWhence int

const (
	SeekStart SeekWhence = iota
	SeekCurrent
	SeekEnd
)

// FileSystemType is a factory: a name and a mapping from mount path to
// SuperBlock.
type FileSystemType interface {
	Name() string

	// BaseMount constructs a superblock, materializes the root directory
	// inode, constructs a root dentry naming the mount point, ties the
	// root inode to the root dentry, and — if parent is supplied — inserts
	// the new root as a child of the parent mount. Records (absolute path
	// -> superblock) in the filesystem type.
	BaseMount(ctx context.Context, name string, parent Dentry, flags OpenFlags, dev interface{}) (SuperBlock, error)

	// Lookup returns the superblock mounted at the given absolute path, if
	// any.
	Lookup(path string) (SuperBlock, bool)
}
