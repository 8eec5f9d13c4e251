package simplefs

import (
	"errors"
	"syscall"
)

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrInvalidSuper is returned when the super block magic does not match
	ErrInvalidSuper = errors.New("invalid exfs super block")

	// ErrNoEntry is returned when a path component, directory entry or handle target does not exist
	ErrNoEntry = errors.New("no such file or directory")

	// ErrExists is returned when the destination of create/mkdir/link already exists
	ErrExists = errors.New("file exists")

	// ErrNotDirectory is returned when attempting to perform directory operations on a non-directory
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory is returned when a file-only operation targets a directory
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotEmpty is returned by rmdir when the target directory still has entries
	ErrNotEmpty = errors.New("directory not empty")

	// ErrNoSpace is returned when either bitmap has no free slot left
	ErrNoSpace = errors.New("no space left on device")

	// ErrPermission is returned when the access check rejects the request
	ErrPermission = errors.New("permission denied")

	// ErrBadHandle is returned for reads/writes/flush/release against an unknown handle
	ErrBadHandle = errors.New("bad file handle")

	// ErrNotSupported is returned for extended attribute reads
	ErrNotSupported = errors.New("operation not supported")

	// ErrInvalid is returned for unrecognized open flags and malformed requests
	ErrInvalid = errors.New("invalid request")
)

// ToErrno maps the error taxonomy onto POSIX codes. Only the outer
// operation surface and the fuse bridge should need this; internal
// routines pass sentinel errors through unchanged.
func ToErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNoEntry):
		return syscall.ENOENT
	case errors.Is(err, ErrExists):
		return syscall.EEXIST
	case errors.Is(err, ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, ErrNoSpace):
		return syscall.ENOSPC
	case errors.Is(err, ErrPermission):
		return syscall.EACCES
	case errors.Is(err, ErrBadHandle):
		return syscall.EBADF
	case errors.Is(err, ErrNotSupported):
		return syscall.ENOTSUP
	default:
		return syscall.EIO
	}
}
