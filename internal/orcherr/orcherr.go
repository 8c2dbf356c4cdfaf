// Package orcherr defines the error kinds the orchestrator surfaces across
// component boundaries (spec §7). Leaf components never recover; they wrap
// the underlying cause in an *Error and return it up the call stack.
package orcherr

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind classifies an error for the caller (CLI exit code, retry policy, ...).
type Kind int

const (
	// Internal marks an unexpected condition; a stack trace is captured.
	Internal Kind = iota
	InvalidArgument
	PolicyDenied
	EngineUnavailable
	EngineError
	NotFound
	Conflict
	Timeout
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case PolicyDenied:
		return "PolicyDenied"
	case EngineUnavailable:
		return "EngineUnavailable"
	case EngineError:
		return "EngineError"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case Timeout:
		return "Timeout"
	default:
		return "Internal"
	}
}

// Error is the single result type propagated between components.
type Error struct {
	Kind  Kind
	Op    string // operation name, e.g. "engine.Run" or "spawn"
	Err   error
	Stack string // only populated for Internal
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind for op, capturing a stack trace when
// kind is Internal.
func New(kind Kind, op string, err error) *Error {
	e := &Error{Kind: kind, Op: op, Err: err}
	if kind == Internal {
		e.Stack = captureStack()
	}
	return e
}

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
