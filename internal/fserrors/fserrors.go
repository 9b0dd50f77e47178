// Package fserrors defines the closed error taxonomy FsCore surfaces to its
// callers. Every fallible FsCore operation returns one of these kinds; there
// are no other error shapes and no panics on caller input.
package fserrors

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories FsCore can return.
type Kind int

const (
	// Io is the catch-all for unexpected conditions that don't fit any of
	// the other kinds.
	Io Kind = iota
	NotFound
	AlreadyExists
	AccessDenied
	InvalidArgument
	Busy
	NoSpace
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case AccessDenied:
		return "AccessDenied"
	case InvalidArgument:
		return "InvalidArgument"
	case Busy:
		return "Busy"
	case NoSpace:
		return "NoSpace"
	case Unsupported:
		return "Unsupported"
	default:
		return "Io"
	}
}

// Error is the structured value every FsCore entry point returns on failure:
// a kind, an optional POSIX errno, and a short human message. No stack trace
// crosses the control plane.
type Error struct {
	Kind    Kind
	Errno   int // 0 means "no errno assigned"
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind that also chains to cause via
// errors.Unwrap, so callers can still recover the original error with
// errors.As if they need to.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithErrno attaches a POSIX errno number, returning the same *Error for
// chaining at the call site.
func (e *Error) WithErrno(errno int) *Error {
	e.Errno = errno
	return e
}

// Is reports whether err is an *Error of the given kind, so callers can
// write `errors.Is(err, fserrors.NotFound)`-shaped checks via a sentinel
// wrapper (see IsKind).
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
