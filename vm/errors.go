package vm

import (
	"errors"
	"fmt"

	"github.com/norlen/x0001e/memory"
	"github.com/norlen/x0001e/state"
)

// Kind enumerates the ways a path can terminate abnormally (spec §7).
type Kind int

const (
	// MalformedInstruction means the IR violated an assumption the
	// interpreter relies on (type mismatch, empty vector, unknown
	// opcode operand shape).
	MalformedInstruction Kind = iota
	// MemoryErrorKind wraps a *memory.MemoryError.
	MemoryErrorKind
	// UnknownFunction means a call target is neither a defined
	// function nor a registered intrinsic/hook.
	UnknownFunction
	// Abort means the analyzed program reached `unreachable` (or an
	// equivalent panic site).
	Abort
	// UnsupportedInstruction means the engine has no model for an
	// instruction or intrinsic (e.g. floating point).
	UnsupportedInstruction
	// SolverError means the solver reported unknown, failed, or
	// exceeded a bounded enumeration (e.g. too many indirect-call
	// targets).
	SolverError
)

func (k Kind) String() string {
	switch k {
	case MalformedInstruction:
		return "malformed instruction"
	case MemoryErrorKind:
		return "memory error"
	case UnknownFunction:
		return "unknown function"
	case Abort:
		return "abort"
	case UnsupportedInstruction:
		return "unsupported instruction"
	case SolverError:
		return "solver error"
	default:
		return "unknown error"
	}
}

// VMError is the error type yielded as a path's outcome when it
// terminates abnormally. It implements errors.Is against a bare
// *VMError carrying only a Kind, and errors.Unwrap for a wrapped cause.
type VMError struct {
	Kind  Kind
	Name  string // e.g. the unknown function's name
	Code  int    // e.g. the abort code
	Cause error
}

func (e *VMError) Error() string {
	switch e.Kind {
	case UnknownFunction:
		return fmt.Sprintf("vm: unknown function %q", e.Name)
	case Abort:
		return fmt.Sprintf("vm: abort(%d)", e.Code)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("vm: %s: %s", e.Kind, e.Cause)
		}
		return fmt.Sprintf("vm: %s", e.Kind)
	}
}

func (e *VMError) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, &VMError{Kind: Abort}) style comparisons
// against a bare Kind, ignoring Name/Code/Cause.
func (e *VMError) Is(target error) bool {
	other, ok := target.(*VMError)
	return ok && other.Kind == e.Kind
}

// AbortErr constructs a VMError for an `unreachable` terminator.
func AbortErr(code int) error { return &VMError{Kind: Abort, Code: code} }

// UnknownFunctionErr constructs a VMError for an unresolved call target.
func UnknownFunctionErr(name string) error { return &VMError{Kind: UnknownFunction, Name: name} }

// MalformedErr constructs a VMError wrapping a formatting description.
func MalformedErr(format string, args ...interface{}) error {
	return &VMError{Kind: MalformedInstruction, Cause: fmt.Errorf(format, args...)}
}

// UnsupportedErr constructs a VMError for an instruction/intrinsic the
// engine has no model for.
func UnsupportedErr(what string) error {
	return &VMError{Kind: UnsupportedInstruction, Cause: errors.New(what)}
}

// SolverErr wraps a solver-layer failure.
func SolverErr(cause error) error { return &VMError{Kind: SolverError, Cause: cause} }

// FromMemoryError converts a *memory.MemoryError into a VMError.
func FromMemoryError(err error) error {
	var memErr *memory.MemoryError
	if errors.As(err, &memErr) {
		return &VMError{Kind: MemoryErrorKind, Cause: memErr}
	}
	return &VMError{Kind: MemoryErrorKind, Cause: err}
}

// FromEvalError converts a *state.EvalError (an unbound SSA value, an
// unsupported constant expression, a malformed getelementptr, or a call
// arity mismatch) into a VMError, so every caller classifying an
// Outcome by Kind sees MalformedInstruction for this whole class of
// failures instead of a raw, untyped error (spec §7).
func FromEvalError(err error) error {
	var evalErr *state.EvalError
	if errors.As(err, &evalErr) {
		return &VMError{Kind: MalformedInstruction, Cause: evalErr}
	}
	return &VMError{Kind: MalformedInstruction, Cause: err}
}
