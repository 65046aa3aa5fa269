package metadata

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a store failure in a backend- and
// transport-agnostic way. Codes travel over the wire as the response
// status, so their numeric values are part of the protocol and must not
// be reordered.
type ErrorCode int32

const (
	// ErrNoEntry: no record exists at the path.
	ErrNoEntry ErrorCode = iota + 1

	// ErrNotDir: a directory operation hit a regular file.
	ErrNotDir

	// ErrIsDir: a file operation hit a directory.
	ErrIsDir

	// ErrAlreadyExists: the record or entry already exists.
	ErrAlreadyExists

	// ErrIO: the backing store or device failed.
	ErrIO

	// ErrInvalidPath: the path failed validation.
	ErrInvalidPath

	// ErrNotEmpty: the directory still has entries.
	ErrNotEmpty

	// ErrNoSpace: the device has no free extent large enough.
	ErrNoSpace
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNoEntry:
		return "no such file or directory"
	case ErrNotDir:
		return "not a directory"
	case ErrIsDir:
		return "is a directory"
	case ErrAlreadyExists:
		return "file already exists"
	case ErrIO:
		return "input/output error"
	case ErrInvalidPath:
		return "invalid path"
	case ErrNotEmpty:
		return "directory not empty"
	case ErrNoSpace:
		return "no space left on device"
	default:
		return fmt.Sprintf("unknown error code %d", int32(c))
	}
}

// StoreError is the error type every store operation returns on a
// domain-level failure. It carries the code that crosses the wire plus
// context for logs.
type StoreError struct {
	Code    ErrorCode
	Message string
	Path    string
}

func (e *StoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// NewError builds a StoreError with the given code, message and path.
func NewError(code ErrorCode, message, path string) *StoreError {
	return &StoreError{Code: code, Message: message, Path: path}
}

// CodeOf extracts the error code from err, unwrapping as needed.
// Returns 0 when err carries no StoreError.
func CodeOf(err error) ErrorCode {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// FromCode reconstructs a StoreError from a wire status code, attaching
// the path the failing operation targeted.
func FromCode(code ErrorCode, path string) *StoreError {
	return &StoreError{Code: code, Message: code.String(), Path: path}
}
