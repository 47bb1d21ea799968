// Package errno defines the flat error taxonomy the core reports across
// the trap, task, and VFS boundaries, and the mapping to a negated integer
// at the syscall boundary.
//
// jacobsa/fuse's errors.go compares sentinel errors with == (EIO, ENOENT,
// ENOSYS, ENOTEMPTY, all aliases of bazil.org/fuse's Errno). corekernel
// widens that idea to the full errno set its syscalls need.
package errno

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Errno is a Linux-style error number. It implements error directly so it
// can be compared with == the way fuse.ENOENT is in jacobsa/fuse.
type Errno int

// The values here are defined in terms of golang.org/x/sys/unix's riscv64
// errno constants rather than hand-picked integers, so the negated-errno
// convention at the syscall boundary matches what a riscv64 Linux userspace
// binary actually expects in a0.
const (
	EPERM     Errno = Errno(unix.EPERM)
	ENOENT    Errno = Errno(unix.ENOENT)
	EIO       Errno = Errno(unix.EIO)
	EBADF     Errno = Errno(unix.EBADF)
	EAGAIN    Errno = Errno(unix.EAGAIN)
	ENOMEM    Errno = Errno(unix.ENOMEM)
	EACCES    Errno = Errno(unix.EACCES)
	EEXIST    Errno = Errno(unix.EEXIST)
	ENOTDIR   Errno = Errno(unix.ENOTDIR)
	EISDIR    Errno = Errno(unix.EISDIR)
	EINVAL    Errno = Errno(unix.EINVAL)
	EMFILE    Errno = Errno(unix.EMFILE)
	ENOSPC    Errno = Errno(unix.ENOSPC)
	EROFS     Errno = Errno(unix.EROFS)
	EPIPE     Errno = Errno(unix.EPIPE)
	ENOTEMPTY Errno = Errno(unix.ENOTEMPTY)
	ENOTTY    Errno = Errno(unix.ENOTTY)
	ENOSYS    Errno = Errno(unix.ENOSYS)
	EFAULT    Errno = Errno(unix.EFAULT)
	ESPIPE    Errno = Errno(unix.ESPIPE)
	ERANGE    Errno = Errno(unix.ERANGE)
)

var names = map[Errno]string{
	EPERM:     "operation not permitted",
	ENOENT:    "no such file or directory",
	EIO:       "input/output error",
	EBADF:     "bad file descriptor",
	EAGAIN:    "resource temporarily unavailable",
	ENOMEM:    "cannot allocate memory",
	EACCES:    "permission denied",
	EEXIST:    "file exists",
	ENOTDIR:   "not a directory",
	EISDIR:    "is a directory",
	EINVAL:    "invalid argument",
	EMFILE:    "too many open files",
	ENOSPC:    "no space left on device",
	EROFS:     "read-only file system",
	EPIPE:     "broken pipe",
	ENOTEMPTY: "directory not empty",
	ENOTTY:    "inappropriate ioctl for device",
	ENOSYS:    "function not implemented",
	EFAULT:    "bad address",
	ESPIPE:    "illegal seek",
	ERANGE:    "result too large",
}

func (e Errno) Error() string {
	if s, ok := names[e]; ok {
		return s
	}
	return fmt.Sprintf("errno %d", int(e))
}

// Negated returns the value a syscall handler should place in the return
// register on failure: a two's-complement small negative integer.
func (e Errno) Negated() int64 {
	return -int64(e)
}

// ToErrno classifies an arbitrary error into an Errno, the way
// jacobsa/fuse's Connection.shouldLogError switches on concrete
// op/error pairs in connection.go. Errors that are already an Errno pass
// through unchanged; anything else is treated as an opaque I/O failure.
func ToErrno(err error) Errno {
	if err == nil {
		return 0
	}
	if e, ok := err.(Errno); ok {
		return e
	}
	return EIO
}
