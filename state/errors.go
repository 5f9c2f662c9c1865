package state

import "fmt"

// EvalError is returned by GetVar when an operand cannot be evaluated:
// an unsupported constant expression, an unbound local, or a type the
// layout engine has no model for. Callers (package vm) fold this into
// VMError{Kind: MalformedInstruction}.
type EvalError struct {
	Msg string
}

func (e *EvalError) Error() string { return fmt.Sprintf("state: %s", e.Msg) }

func errf(format string, args ...interface{}) *EvalError {
	return &EvalError{Msg: fmt.Sprintf(format, args...)}
}
