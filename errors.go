// Package warptile structured error types for launch and verification paths
package warptile

import (
	"fmt"
)

// ErrorKind categorizes failures following the launch lifecycle: a
// configuration can be infeasible, workspace initialization can fail,
// a launch can be rejected by the driver, or verification can detect a
// numeric mismatch.
type ErrorKind int

const (
	KindConfig ErrorKind = iota
	KindWorkspace
	KindLaunch
	KindNumerical
	KindMemory
	KindNotSupported
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "Config"
	case KindWorkspace:
		return "Workspace"
	case KindLaunch:
		return "Launch"
	case KindNumerical:
		return "Numerical"
	case KindMemory:
		return "Memory"
	case KindNotSupported:
		return "NotSupported"
	default:
		return "Unknown"
	}
}

// Error is a structured error with the operation that failed and an
// optional underlying cause.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("warptile %s error in %s: %s (caused by: %v)",
			e.Kind, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("warptile %s error in %s: %s", e.Kind, e.Op, e.Message)
}

// Unwrap allows error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfigError reports a configuration rejected before launch.
func NewConfigError(op, message string) error {
	return &Error{Kind: KindConfig, Op: op, Message: message}
}

// NewWorkspaceError reports a workspace sizing or initialization failure.
func NewWorkspaceError(op, message string, err error) error {
	return &Error{Kind: KindWorkspace, Op: op, Message: message, Err: err}
}

// NewLaunchError reports a launch-time rejection.
func NewLaunchError(op, message string) error {
	return &Error{Kind: KindLaunch, Op: op, Message: message}
}

// NewMemoryError reports a device memory failure.
func NewMemoryError(op, message string, err error) error {
	return &Error{Kind: KindMemory, Op: op, Message: message, Err: err}
}

// NewNotSupportedError reports an unimplemented configuration.
func NewNotSupportedError(op, message string) error {
	return &Error{Kind: KindNotSupported, Op: op, Message: message}
}

// Common pre-defined errors

var (
	// ErrNotImplementable is returned when Run is attempted on a
	// configuration CanImplement rejected.
	ErrNotImplementable = NewConfigError("Run", "configuration rejected by CanImplement")

	// ErrNullPointer indicates a required operand pointer was nil.
	ErrNullPointer = NewConfigError("Arguments", "null operand pointer")

	// ErrDoubleFree indicates a double free attempt.
	ErrDoubleFree = NewMemoryError("Free", "double free detected", nil)

	// ErrWorkspaceTooSmall indicates the provided workspace buffer is
	// smaller than WorkspaceSize reported for the same arguments.
	ErrWorkspaceTooSmall = NewWorkspaceError("Initialize", "workspace buffer too small", nil)
)

// IsKind reports whether err is a warptile Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	if e, ok := err.(*Error); ok {
		return e.Kind == kind
	}
	return false
}
