// Package fault defines the error taxonomy for tool runs. Every failure a
// controller can hit maps to one Kind, so callers and the report writer can
// distinguish a bad config from a dead installer from a tool that simply
// failed its test.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class of an Error.
type Kind string

const (
	// KindConfig marks bad or missing parameters. This is the only kind
	// surfaced synchronously to callers, at Start().
	KindConfig Kind = "config"
	// KindInstall marks installer launch or exit failures. Not retried.
	KindInstall Kind = "install"
	// KindProcess marks OS-level launch/terminate failures.
	KindProcess Kind = "process"
	// KindUI marks window connect/read failures after retry exhaustion.
	KindUI Kind = "ui"
	// KindTimeout marks runs with no terminal reading inside the budget.
	KindTimeout Kind = "timeout"
	// KindTestFailed marks runs where the wrapped tool itself reported failure.
	KindTestFailed Kind = "test_failed"
)

// Error is a classified tool-run error.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the failure class.
func (e *Error) Kind() Kind { return e.kind }

// Is makes errors.Is match two fault errors of the same kind, so sentinel
// comparisons like errors.Is(err, fault.New(fault.KindUI, "")) work without
// exact message equality.
func (e *Error) Is(target error) bool {
	var fe *Error
	if !errors.As(target, &fe) {
		return false
	}
	return e.kind == fe.kind
}

// KindOf extracts the Kind from err, or "" if err carries no fault.Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return ""
}

// IsKind reports whether err carries a fault.Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
