package kernel

import (
	"context"
	"encoding/binary"

	"github.com/rvos/corekernel/internal/dispatch"
	"github.com/rvos/corekernel/internal/errno"
	"github.com/rvos/corekernel/internal/task"
	"github.com/rvos/corekernel/vfs"
	"github.com/rvos/corekernel/vfs/pathresolve"
	"github.com/rvos/corekernel/vfs/pipefs"
)

// ATFdcwd mirrors Linux's AT_FDCWD: resolve a relative path against the
// process's current working directory rather than an open directory fd.
const ATFdcwd = -100

// RegisterAll binds every syscall handler to proc's state on d: cwd,
// fd table, and root dentry resolution for every relative path argument.
func RegisterAll(d *dispatch.Dispatcher, proc *Process) {
	d.Register(dispatch.SysGetcwd, dispatch.Sync(sysGetcwd(proc)))
	d.Register(dispatch.SysChdir, dispatch.Sync(sysChdir(proc)))
	d.Register(dispatch.SysOpenat, dispatch.Sync(sysOpenat(proc)))
	d.Register(dispatch.SysClose, dispatch.Sync(sysClose(proc)))
	d.Register(dispatch.SysRead, sysRead(proc))
	d.Register(dispatch.SysWrite, dispatch.Sync(sysWrite(proc)))
	d.Register(dispatch.SysPipe2, dispatch.Sync(sysPipe2(proc)))
	d.Register(dispatch.SysDup, dispatch.Sync(sysDup(proc)))
	d.Register(dispatch.SysDup3, dispatch.Sync(sysDup3(proc)))
	d.Register(dispatch.SysMkdirat, dispatch.Sync(sysMkdirat(proc)))
	d.Register(dispatch.SysUnlinkat, dispatch.Sync(sysUnlinkat(proc)))
	d.Register(dispatch.SysLinkat, dispatch.Sync(sysLinkat(proc)))
	d.Register(dispatch.SysGetdents64, dispatch.Sync(sysGetdents64(proc)))
	d.Register(dispatch.SysFstat, dispatch.Sync(sysFstat(proc)))
	d.Register(dispatch.SysFstatat, dispatch.Sync(sysFstatat(proc)))
	d.Register(dispatch.SysMount, dispatch.Sync(sysMount(proc)))
	d.Register(dispatch.SysUmount2, dispatch.Sync(sysUmount2(proc)))
}

// resolveBase picks the dentry a relative path is resolved against: the
// cwd for AT_FDCWD, or the directory named by dirfd otherwise.
func resolveBase(proc *Process, dirfd int64) (vfs.Dentry, error) {
	if dirfd == ATFdcwd {
		return proc.Cwd(), nil
	}
	f, err := proc.Fds.Get(int(dirfd))
	if err != nil {
		return nil, err
	}
	return f.Meta().D, nil
}

func sysGetcwd(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		buf := a.Raw[0]
		size := a.Raw[1]
		path := pathresolve.AbsolutePath(proc.Cwd())
		b := append([]byte(path), 0)
		if uint64(len(b)) > size {
			return 0, errno.ERANGE
		}
		if err := a.Mem.CopyOutBytes(buf, b); err != nil {
			return 0, errno.EFAULT
		}
		return int64(buf), nil
	}
}

func sysChdir(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		path, err := a.Mem.CopyInCString(a.Raw[0], 4096)
		if err != nil {
			return 0, errno.EFAULT
		}
		d, err := (pathresolve.Path{Root: proc.Root, Start: proc.Cwd(), Raw: path}).Walk(ctx)
		if err != nil {
			return 0, err
		}
		if d.Meta().Inode() == nil {
			return 0, errno.ENOENT
		}
		proc.SetCwd(d)
		return 0, nil
	}
}

func sysOpenat(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		dirfd := int64(a.Raw[0])
		path, err := a.Mem.CopyInCString(a.Raw[1], 4096)
		if err != nil {
			return 0, errno.EFAULT
		}
		flags := vfs.OpenFlags(a.Raw[2])
		mode := uint32(a.Raw[3])

		base, err := resolveBase(proc, dirfd)
		if err != nil {
			return 0, err
		}

		d, err := (pathresolve.Path{Root: proc.Root, Start: base, Raw: path}).Walk(ctx)
		if err != nil {
			return 0, err
		}

		if d.Meta().Inode() == nil {
			if flags&vfs.OCreat == 0 {
				return 0, errno.ENOENT
			}
			parent := d.Meta().Parent
			if parent == nil {
				return 0, errno.ENOENT
			}
			created, err := parent.BaseCreate(ctx, d.Meta().Name, vfs.Mode{Type: vfs.TypeRegular, Perm: mode})
			if err != nil {
				return 0, err
			}
			d = created
		} else if flags&vfs.OExcl != 0 && flags&vfs.OCreat != 0 {
			return 0, errno.EEXIST
		}

		file, err := d.BaseOpen(ctx, flags)
		if err != nil {
			return 0, err
		}
		fd := proc.Fds.Alloc(file, flags)
		return int64(fd), nil
	}
}

func sysClose(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		fd := int(a.Raw[0])
		if err := proc.Fds.Close(fd); err != nil {
			return 0, err
		}
		return 0, nil
	}
}

// sysRead is the one syscall body in this tree that actually suspends: a
// pipe's read end has no offset-addressable BaseReadAt (see
// vfs/pipefs.ReadFile.BaseReadAt), so a plain read(2) against it is routed
// through ReadPoll instead, which reports Pending while the ring is empty
// and the writer hasn't closed. Every other fd kind still completes
// synchronously off BaseReadAt on the first poll.
func sysRead(proc *Process) dispatch.Handler {
	return func(ctx context.Context, a dispatch.Args) task.Poll {
		fd := int(a.Raw[0])
		bufAddr := a.Raw[1]
		count := a.Raw[2]

		file, err := proc.Fds.Get(fd)
		if err != nil {
			return readyErr(err)
		}

		if rf, ok := file.(*pipefs.ReadFile); ok {
			buf := make([]byte, count)
			var n int
			drain := rf.ReadPoll(buf, &n)
			return task.PollFunc(func(cx *task.Context) task.Outcome {
				outcome := drain.Poll(cx)
				if !outcome.Ready {
					return outcome
				}
				if outcome.Err != nil {
					return task.Ready(int64(0), outcome.Err)
				}
				if err := a.Mem.CopyOutBytes(bufAddr, buf[:n]); err != nil {
					return task.Ready(int64(0), errno.EFAULT)
				}
				return task.Ready(int64(n), nil)
			})
		}

		return task.PollFunc(func(cx *task.Context) task.Outcome {
			buf := make([]byte, count)
			offset := file.Meta().Offset()
			n, err := file.BaseReadAt(ctx, offset, buf)
			if err != nil {
				return task.Ready(int64(0), err)
			}
			file.Meta().SetOffset(offset + int64(n))
			if err := a.Mem.CopyOutBytes(bufAddr, buf[:n]); err != nil {
				return task.Ready(int64(0), errno.EFAULT)
			}
			return task.Ready(int64(n), nil)
		})
	}
}

// readyErr wraps a synchronously-known error as an already-Ready Poll.
func readyErr(err error) task.Poll {
	return task.PollFunc(func(cx *task.Context) task.Outcome {
		return task.Ready(int64(0), err)
	})
}

func sysWrite(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		fd := int(a.Raw[0])
		bufAddr := a.Raw[1]
		count := a.Raw[2]

		file, err := proc.Fds.Get(fd)
		if err != nil {
			return 0, err
		}

		p, err := a.Mem.CopyInBytes(bufAddr, int(count))
		if err != nil {
			return 0, errno.EFAULT
		}

		offset := file.Meta().Offset()
		n, err := file.BaseWriteAt(ctx, offset, p)
		if err != nil {
			return 0, err
		}
		file.Meta().SetOffset(offset + int64(n))
		return int64(n), nil
	}
}

func sysPipe2(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		fdsAddr := a.Raw[0]
		r, w := pipefs.New(0)
		rfd := proc.Fds.Alloc(r, vfs.ORdonly)
		wfd := proc.Fds.Alloc(w, vfs.OWronly)

		out := make([]byte, 8)
		binary.LittleEndian.PutUint32(out[0:4], uint32(rfd))
		binary.LittleEndian.PutUint32(out[4:8], uint32(wfd))
		if err := a.Mem.CopyOutBytes(fdsAddr, out); err != nil {
			return 0, errno.EFAULT
		}
		return 0, nil
	}
}

func sysDup(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		newFd, err := proc.Fds.Dup(int(a.Raw[0]))
		if err != nil {
			return 0, err
		}
		return int64(newFd), nil
	}
}

func sysDup3(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		oldFd, newFd := int(a.Raw[0]), int(a.Raw[1])
		if err := proc.Fds.DupTo(oldFd, newFd); err != nil {
			return 0, err
		}
		return int64(newFd), nil
	}
}

func sysMkdirat(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		dirfd := int64(a.Raw[0])
		path, err := a.Mem.CopyInCString(a.Raw[1], 4096)
		if err != nil {
			return 0, errno.EFAULT
		}
		mode := uint32(a.Raw[2])

		base, err := resolveBase(proc, dirfd)
		if err != nil {
			return 0, err
		}
		d, err := (pathresolve.Path{Root: proc.Root, Start: base, Raw: path}).Walk(ctx)
		if err != nil {
			return 0, err
		}
		if d.Meta().Inode() != nil {
			return 0, errno.EEXIST
		}
		parent := d.Meta().Parent
		if parent == nil {
			return 0, errno.ENOENT
		}
		if _, err := parent.BaseCreate(ctx, d.Meta().Name, vfs.Mode{Type: vfs.TypeDirectory, Perm: mode}); err != nil {
			return 0, err
		}
		return 0, nil
	}
}

func sysUnlinkat(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		dirfd := int64(a.Raw[0])
		path, err := a.Mem.CopyInCString(a.Raw[1], 4096)
		if err != nil {
			return 0, errno.EFAULT
		}
		flags := a.Raw[2]
		const atRemovedir = 0x200

		base, err := resolveBase(proc, dirfd)
		if err != nil {
			return 0, err
		}
		d, err := (pathresolve.Path{Root: proc.Root, Start: base, Raw: path}).Walk(ctx)
		if err != nil {
			return 0, err
		}
		parent := d.Meta().Parent
		if parent == nil {
			return 0, errno.ENOENT
		}
		if flags&atRemovedir != 0 {
			return 0, parent.BaseRmdir(ctx, d.Meta().Name)
		}
		return 0, parent.BaseUnlink(ctx, d.Meta().Name)
	}
}

func sysLinkat(proc *Process) dispatch.SyncHandler {
	// None of the backing stores here (tmpfs, fs/fatfs, fs/extfs) have a
	// hard-link concept: FAT's directory entries own their data chains
	// outright. linkat is wired into the dispatch table but reports
	// ENOSYS uniformly.
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		return 0, errno.ENOSYS
	}
}

func sysGetdents64(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		fd := int(a.Raw[0])
		bufAddr := a.Raw[1]
		count := int(a.Raw[2])

		file, err := proc.Fds.Get(fd)
		if err != nil {
			return 0, err
		}
		if err := file.BaseLoadDir(ctx); err != nil {
			return 0, err
		}
		entries, err := file.BaseReadDir(ctx)
		if err != nil {
			return 0, err
		}

		var out []byte
		for _, e := range entries {
			rec := encodeDirent(e)
			if len(out)+len(rec) > count {
				break
			}
			out = append(out, rec...)
		}
		if err := a.Mem.CopyOutBytes(bufAddr, out); err != nil {
			return 0, errno.EFAULT
		}
		return int64(len(out)), nil
	}
}

// encodeDirent packs one DirEntry as ino(8) off(8) reclen(2) type(1)
// name(NUL-terminated, padded to 8-byte alignment).
func encodeDirent(e vfs.DirEntry) []byte {
	nameBytes := append([]byte(e.Name), 0)
	headerLen := 19 // 8+8+2+1
	recLen := headerLen + len(nameBytes)
	recLen = (recLen + 7) &^ 7

	rec := make([]byte, recLen)
	binary.LittleEndian.PutUint64(rec[0:8], e.Ino)
	binary.LittleEndian.PutUint64(rec[8:16], e.Off)
	binary.LittleEndian.PutUint16(rec[16:18], uint16(recLen))
	rec[18] = byte(e.Type)
	copy(rec[19:], nameBytes)
	return rec
}

func sysFstat(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		fd := int(a.Raw[0])
		statAddr := a.Raw[1]

		file, err := proc.Fds.Get(fd)
		if err != nil {
			return 0, err
		}
		st, err := file.Meta().I.GetAttr(ctx)
		if err != nil {
			return 0, err
		}
		return 0, writeStat(a, statAddr, st)
	}
}

func sysFstatat(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		dirfd := int64(a.Raw[0])
		path, err := a.Mem.CopyInCString(a.Raw[1], 4096)
		if err != nil {
			return 0, errno.EFAULT
		}
		statAddr := a.Raw[2]

		base, err := resolveBase(proc, dirfd)
		if err != nil {
			return 0, err
		}
		d, err := (pathresolve.Path{Root: proc.Root, Start: base, Raw: path}).Walk(ctx)
		if err != nil {
			return 0, err
		}
		ino := d.Meta().Inode()
		if ino == nil {
			return 0, errno.ENOENT
		}
		st, err := ino.GetAttr(ctx)
		if err != nil {
			return 0, err
		}
		return 0, writeStat(a, statAddr, st)
	}
}

// writeStat serializes a vfs.Stat into the kernel's stat wire layout:
// st_dev, st_ino, st_mode, st_nlink, st_uid, st_gid, st_rdev, _pad,
// st_size, st_blksize, _pad2, st_blocks, st_atime, st_mtime, st_ctime,
// _unused.
func writeStat(a dispatch.Args, addr uint64, st vfs.Stat) error {
	buf := make([]byte, 128)
	binary.LittleEndian.PutUint64(buf[0:8], st.Dev)
	binary.LittleEndian.PutUint64(buf[8:16], st.Ino)
	binary.LittleEndian.PutUint32(buf[16:20], st.Mode)
	binary.LittleEndian.PutUint32(buf[20:24], st.Nlink)
	binary.LittleEndian.PutUint32(buf[24:28], st.UID)
	binary.LittleEndian.PutUint32(buf[28:32], st.GID)
	binary.LittleEndian.PutUint64(buf[32:40], st.Rdev)
	// _pad at [40:48]
	binary.LittleEndian.PutUint64(buf[48:56], st.Size)
	binary.LittleEndian.PutUint32(buf[56:60], st.Blksize)
	// _pad2 at [60:64]
	binary.LittleEndian.PutUint64(buf[64:72], st.Blocks)
	putTimeSpec(buf[72:88], st.Atime)
	putTimeSpec(buf[88:104], st.Mtime)
	putTimeSpec(buf[104:120], st.Ctime)
	// _unused at [120:128]

	if err := a.Mem.CopyOutBytes(addr, buf); err != nil {
		return errno.EFAULT
	}
	return nil
}

func putTimeSpec(b []byte, ts vfs.TimeSpec) {
	binary.LittleEndian.PutUint64(b[0:8], uint64(ts.Sec))
	binary.LittleEndian.PutUint64(b[8:16], uint64(ts.Nsec))
}

func sysMount(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		// A minimal mount(2): the mount-table stacking is implemented at
		// the FileSystemType level (BaseMount); wiring a full
		// source/target/fstype/data user-string
		// parse is left to cmd/corekerneld's boot sequence, which calls
		// FileSystemType.BaseMount directly rather than through this
		// syscall. Exposed here for ABI completeness; reports ENOSYS until
		// a caller needs dynamic post-boot mounts.
		return 0, errno.ENOSYS
	}
}

func sysUmount2(proc *Process) dispatch.SyncHandler {
	return func(ctx context.Context, a dispatch.Args) (int64, error) {
		return 0, errno.ENOSYS
	}
}
