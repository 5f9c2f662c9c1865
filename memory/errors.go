package memory

import "fmt"

// Kind enumerates the ways a memory operation can fail.
type Kind int

const (
	// OutOfBounds means no live allocation can be proven (under the
	// current path constraints) to cover the accessed range.
	OutOfBounds Kind = iota
	// Unaligned means an allocation was requested with an alignment that
	// isn't a power of two.
	Unaligned
)

func (k Kind) String() string {
	switch k {
	case OutOfBounds:
		return "out of bounds"
	case Unaligned:
		return "unaligned"
	default:
		return "unknown memory error"
	}
}

// MemoryError is the error type returned by the memory subsystem.
type MemoryError struct {
	Kind Kind
	Msg  string
}

func (e *MemoryError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("memory: %s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("memory: %s", e.Kind)
}

// Is supports errors.Is(err, &memory.MemoryError{Kind: memory.OutOfBounds})
// style checks: any *MemoryError target with the same Kind matches,
// whatever its Msg.
func (e *MemoryError) Is(target error) bool {
	other, ok := target.(*MemoryError)
	return ok && other.Kind == e.Kind
}
