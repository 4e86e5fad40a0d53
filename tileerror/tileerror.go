// Package tileerror defines the closed error taxonomy shared by every
// component of the storage engine (spec §7).
package tileerror

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of a closed set of error categories. Every error that crosses
// a package boundary in this module is classified as exactly one Kind.
type Kind int

const (
	// Internal is the zero value, used for programmer errors that should
	// never surface to a caller that only checks Kind.
	Internal Kind = iota
	// NoSuchFile means a requested key has no corresponding stored artifact.
	NoSuchFile
	// IOError wraps an underlying filesystem/network I/O failure.
	IOError
	// FormatError means stored bytes failed to parse as their declared format.
	FormatError
	// InconsistentInput means caller-supplied data violates an invariant
	// (e.g. a NodeInfo that doesn't match its TileId).
	InconsistentInput
	// AlreadyExists means a create-only operation found existing state.
	AlreadyExists
	// ReadOnlyViolation means a write was attempted against a sealed tile set.
	ReadOnlyViolation
	// Cancelled means an operation observed a cancellation token and
	// unwound deliberately; not every caller treats this as a failure.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case NoSuchFile:
		return "NoSuchFile"
	case IOError:
		return "IOError"
	case FormatError:
		return "FormatError"
	case InconsistentInput:
		return "InconsistentInput"
	case AlreadyExists:
		return "AlreadyExists"
	case ReadOnlyViolation:
		return "ReadOnlyViolation"
	case Cancelled:
		return "Cancelled"
	default:
		return "Internal"
	}
}

// tileError attaches a Kind to a wrapped error while preserving the
// wrapped chain for errors.Is/errors.As.
type tileError struct {
	kind Kind
	err  error
}

func (e *tileError) Error() string { return fmt.Sprintf("%s: %s", e.kind, e.err) }
func (e *tileError) Unwrap() error { return e.err }

// New creates a new error of the given Kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &tileError{kind: kind, err: fmt.Errorf(format, args...)}
}

// Wrap attaches kind to err, preserving err in the unwrap chain. Returns
// nil if err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &tileError{kind: kind, err: errors.Wrap(err, msg)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &tileError{kind: kind, err: errors.Wrapf(err, format, args...)}
}

// KindOf returns the Kind attached to err, or Internal if err was never
// classified by this package.
func KindOf(err error) Kind {
	var te *tileError
	if errors.As(err, &te) {
		return te.kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
