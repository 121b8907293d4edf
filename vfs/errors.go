package vfs

import (
	"fmt"
	iofs "io/fs"

	"emperror.dev/errors"
)

type ErrorCode string

const (
	ErrCodeNotFound         ErrorCode = "E_NOTFOUND"
	ErrCodeNotADirectory    ErrorCode = "E_NOTDIR"
	ErrCodeIsADirectory     ErrorCode = "E_ISDIR"
	ErrCodePermissionDenied ErrorCode = "E_PERM"
	ErrCodeNotEmpty         ErrorCode = "E_NOTEMPTY"
	ErrCodeExists           ErrorCode = "E_EXIST"
	ErrCodeAlreadyLocked    ErrorCode = "E_LOCKED"
	ErrCodeInvalidState     ErrorCode = "E_INVALIDSTATE"
	ErrCodeInvalidArgument  ErrorCode = "E_INVAL"
	ErrCodeUnbound          ErrorCode = "E_UNBOUND"
	ErrCodeOther            ErrorCode = "E_OTHER"
)

var defaultMessages = map[ErrorCode]string{
	ErrCodeNotFound:         "no such file or directory",
	ErrCodeNotADirectory:    "not a directory",
	ErrCodeIsADirectory:     "is a directory",
	ErrCodePermissionDenied: "permission denied",
	ErrCodeNotEmpty:         "directory not empty",
	ErrCodeExists:           "file exists",
	ErrCodeAlreadyLocked:    "already locked",
	ErrCodeInvalidState:     "invalid state",
	ErrCodeInvalidArgument:  "invalid argument",
	ErrCodeUnbound:          "handle is not bound to a share",
	ErrCodeOther:            "failure",
}

// Error is the only error type that crosses the provider boundary. Every
// failure carries one of the codes above plus a human readable message.
type Error struct {
	code ErrorCode
	msg  string
	err  error
}

// NewError returns a new *Error with a stacktrace attached.
func NewError(code ErrorCode, msg string) error {
	return errors.WithStackDepth(&Error{code: code, msg: msg}, 1)
}

// Errorf returns a new *Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...interface{}) error {
	return errors.WithStackDepth(&Error{code: code, msg: fmt.Sprintf(format, args...)}, 1)
}

// WrapError wraps an underlying error with a code and message. A nil err
// returns nil.
func WrapError(code ErrorCode, err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.WithStackDepth(&Error{code: code, msg: msg, err: err}, 1)
}

func (e *Error) Error() string {
	msg := e.msg
	if msg == "" {
		msg = defaultMessages[e.code]
	}
	if e.err != nil {
		if msg == "" {
			return e.err.Error()
		}
		return msg + ": " + e.err.Error()
	}
	return msg
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Message returns the message without the wrapped cause.
func (e *Error) Message() string {
	if e.msg == "" {
		return defaultMessages[e.code]
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is allows errors.Is(err, fs.ErrNotExist) and friends to keep working on
// errors that went through this package.
func (e *Error) Is(target error) bool {
	switch target {
	case iofs.ErrNotExist:
		return e.code == ErrCodeNotFound
	case iofs.ErrPermission:
		return e.code == ErrCodePermissionDenied
	case iofs.ErrExist:
		return e.code == ErrCodeExists
	case iofs.ErrInvalid:
		return e.code == ErrCodeInvalidArgument
	}
	return false
}

// IsErrorCode checks if "err" is an *Error with the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.code == code
	}
	return false
}

// CodeOf returns the code of an error, converting foreign errors first. A nil
// error has an empty code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(FromError(err), &e) {
		return e.code
	}
	return ErrCodeOther
}

// FromError converts errors returned by the standard library, a syscall or a
// remote server into an *Error so that callers only ever deal with one
// taxonomy. Errors that already are an *Error are returned untouched.
func FromError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if code, ok := errnoCode(err); ok {
		return &Error{code: code, err: err}
	}
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		return &Error{code: ErrCodeNotFound, err: err}
	case errors.Is(err, iofs.ErrPermission):
		return &Error{code: ErrCodePermissionDenied, err: err}
	case errors.Is(err, iofs.ErrExist):
		return &Error{code: ErrCodeExists, err: err}
	case errors.Is(err, iofs.ErrInvalid):
		return &Error{code: ErrCodeInvalidArgument, err: err}
	case errors.Is(err, iofs.ErrClosed):
		return &Error{code: ErrCodeInvalidState, err: err}
	}
	return &Error{code: ErrCodeOther, err: err}
}
