package common

import (
	"errors"
	"syscall"
)

// Error is the kind of a failed filesystem operation. Layers wrap it with
// context using %w; errors.Is and KindOf recover it.
type Error uint8

const (
	OK Error = iota
	ENOENT
	ENOSPC
	EINVAL
	EIO
	ENOTEMPTY
	EEXIST
	ENOTDIR
	EISDIR
	EFBIG
	ERANGE
)

var errnames = [...]string{
	OK:        "ok",
	ENOENT:    "not found",
	ENOSPC:    "no space left",
	EINVAL:    "invalid argument",
	EIO:       "i/o failure",
	ENOTEMPTY: "directory not empty",
	EEXIST:    "already exists",
	ENOTDIR:   "not a directory",
	EISDIR:    "is a directory",
	EFBIG:     "file too large",
	ERANGE:    "block number out of range",
}

func (e Error) Error() string {
	if int(e) < len(errnames) {
		return errnames[e]
	}
	return "unknown error"
}

var errnos = [...]syscall.Errno{
	OK:        0,
	ENOENT:    syscall.ENOENT,
	ENOSPC:    syscall.ENOSPC,
	EINVAL:    syscall.EINVAL,
	EIO:       syscall.EIO,
	ENOTEMPTY: syscall.ENOTEMPTY,
	EEXIST:    syscall.EEXIST,
	ENOTDIR:   syscall.ENOTDIR,
	EISDIR:    syscall.EISDIR,
	EFBIG:     syscall.EFBIG,
	ERANGE:    syscall.ERANGE,
}

// Errno is the errno a filesystem call should return for e.
func (e Error) Errno() syscall.Errno {
	if int(e) < len(errnos) {
		return errnos[e]
	}
	return syscall.EIO
}

// KindOf returns the kind carried by err: OK for nil, EIO for errors that
// carry no kind.
func KindOf(err error) Error {
	if err == nil {
		return OK
	}
	var e Error
	if errors.As(err, &e) {
		return e
	}
	return EIO
}
