//go:build unix

package vfs

import (
	"emperror.dev/errors"
	"golang.org/x/sys/unix"
)

// errnoCode maps the errno values that have a dedicated code.
func errnoCode(err error) (ErrorCode, bool) {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return "", false
	}
	switch errno {
	case unix.ENOENT:
		return ErrCodeNotFound, true
	case unix.ENOTDIR:
		return ErrCodeNotADirectory, true
	case unix.EISDIR:
		return ErrCodeIsADirectory, true
	case unix.EACCES, unix.EPERM:
		return ErrCodePermissionDenied, true
	case unix.ENOTEMPTY:
		return ErrCodeNotEmpty, true
	case unix.EEXIST:
		return ErrCodeExists, true
	case unix.EINVAL:
		return ErrCodeInvalidArgument, true
	}
	return "", false
}
