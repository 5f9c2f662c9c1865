// Package state implements one path's mutable execution world: a call
// stack of Frames, a reference to the shared Memory and Solver, and the
// path constraints accumulated so far. It also implements operand
// evaluation (locals, constants, constant expressions, globals) used
// by every instruction the interpreter lowers.
package state

import (
	"github.com/google/uuid"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/norlen/x0001e/bv"
	"github.com/norlen/x0001e/memory"
	"github.com/norlen/x0001e/project"
	"github.com/norlen/x0001e/solver"
)

// ReturnKind tags the variant of a ReturnValue (Go's encoding of the
// spec's `Void | Value(BV)` tagged union).
type ReturnKind int

const (
	// ReturnVoid means the frame returned no value (`ret void`).
	ReturnVoid ReturnKind = iota
	// ReturnValueKind means the frame returned a symbolic value.
	ReturnValueKind
)

// ReturnValue is produced when a path (or a call within it) terminates
// normally.
type ReturnValue struct {
	Kind  ReturnKind
	Value bv.BV
}

// Void is the canonical void return.
func Void() ReturnValue { return ReturnValue{Kind: ReturnVoid} }

// Val wraps a symbolic value as a ReturnValue.
func Val(b bv.BV) ReturnValue { return ReturnValue{Kind: ReturnValueKind, Value: b} }

// State is one path's mutable world.
type State struct {
	ID      uuid.UUID
	Project *project.Project
	Solver  *solver.Solver
	Mem     *memory.Memory
	Stack   []*Frame

	// Constraints records the path constraints asserted so far. It is
	// the path's authoritative history: package vm replays it into a
	// fresh solver scope each time the state is driven, and
	// Outcome.Witness replays it after the path has completed.
	Constraints []bv.BV

	// materializedGlobals tracks which globals have had their initializer
	// written into this state's own Mem. The base pointer for a global is
	// cached project-wide (every path must agree on its address), but Mem
	// is per-path (cloned on fork): a sibling that forked before a global
	// was ever referenced does not inherit the write a different sibling
	// later performs into its own Mem, so the write itself must happen
	// once per path, not once per project.
	materializedGlobals map[string]struct{}
}

// New creates a State with a single frame positioned at fn's entry
// block, with args bound to its parameters.
func New(p *project.Project, s *solver.Solver, mem *memory.Memory, fn *ir.Func, args []bv.BV) (*State, error) {
	if len(args) != len(fn.Params) {
		return nil, errf("argument count mismatch: got %d, want %d", len(args), len(fn.Params))
	}
	st := &State{
		ID:                  uuid.New(),
		Project:             p,
		Solver:              s,
		Mem:                 mem,
		materializedGlobals: make(map[string]struct{}),
	}
	frame := NewFrame(fn, nil)
	for i, param := range fn.Params {
		frame.Set(param, args[i])
	}
	st.Stack = append(st.Stack, frame)
	return st, nil
}

// Current returns the top-of-stack frame, the one currently executing.
func (st *State) Current() *Frame {
	if len(st.Stack) == 0 {
		return nil
	}
	return st.Stack[len(st.Stack)-1]
}

// Clone deep-copies st for a forked path: each frame's Locals map is
// copied, Memory is deep-copied, and Constraints is copied so the clone
// can later be replayed into its own fresh solver scope (see package
// vm's drive loop) independently of whatever the original state asserts
// afterward.
func (st *State) Clone() *State {
	stack := make([]*Frame, len(st.Stack))
	for i, f := range st.Stack {
		locals := make(map[value.Value]bv.BV, len(f.Locals))
		for k, v := range f.Locals {
			locals[k] = v
		}
		stack[i] = &Frame{
			Func:      f.Func,
			Block:     f.Block,
			InstIdx:   f.InstIdx,
			PrevBlock: f.PrevBlock,
			Locals:    locals,
			RetDst:    f.RetDst,
		}
	}
	constraints := make([]bv.BV, len(st.Constraints))
	copy(constraints, st.Constraints)
	materialized := make(map[string]struct{}, len(st.materializedGlobals))
	for name := range st.materializedGlobals {
		materialized[name] = struct{}{}
	}
	return &State{
		ID:                  uuid.New(),
		Project:             st.Project,
		Solver:              st.Solver,
		Mem:                 st.Mem.Clone(),
		Stack:               stack,
		Constraints:         constraints,
		materializedGlobals: materialized,
	}
}

// AddConstraint asserts cond on the solver and records it for
// introspection. Only valid for the state currently being driven (the
// one whose constraint history is live on the shared solver's current
// scope) — see AppendConstraint for states queued but not executing.
func (st *State) AddConstraint(cond bv.BV) {
	st.Solver.Assert(cond)
	st.Constraints = append(st.Constraints, cond)
}

// AppendConstraint records cond in st's constraint history without
// touching the shared solver. Used for a freshly forked, not-yet-driven
// state: its constraints are replayed (and asserted) in one batch the
// next time it is popped off the worklist and driven (spec §5 "per
// -state solver instance with constraints replayed").
func (st *State) AppendConstraint(cond bv.BV) {
	st.Constraints = append(st.Constraints, cond)
}

// PushFrame pushes a new frame for fn, binding args to its parameters,
// with retDst set to the instruction that should receive its return
// value once popped.
func (st *State) PushFrame(fn *ir.Func, args []bv.BV, retDst value.Value) error {
	if len(args) != len(fn.Params) {
		return errf("argument count mismatch calling %s: got %d, want %d", fn.Name(), len(args), len(fn.Params))
	}
	frame := NewFrame(fn, retDst)
	for i, param := range fn.Params {
		frame.Set(param, args[i])
	}
	st.Stack = append(st.Stack, frame)
	return nil
}

// PopFrame pops the current frame and delivers ret to its caller (via
// RetDst), if any. It reports whole, true when the popped frame was the
// last one on the stack — meaning the whole path has terminated with
// ret as its final result.
func (st *State) PopFrame(ret ReturnValue) (whole bool, err error) {
	if len(st.Stack) == 0 {
		return true, errf("pop_frame: empty call stack")
	}
	popped := st.Stack[len(st.Stack)-1]
	st.Stack = st.Stack[:len(st.Stack)-1]

	if len(st.Stack) == 0 {
		return true, nil
	}
	if popped.RetDst != nil && ret.Kind == ReturnValueKind {
		st.Current().Set(popped.RetDst, ret.Value)
	}
	return false, nil
}

// TypeOf returns the IR type of an operand.
func (st *State) TypeOf(v value.Value) types.Type {
	return v.Type()
}

// Assign binds an instruction's result to a BV in the current frame.
func (st *State) Assign(dst value.Value, b bv.BV) {
	st.Current().Set(dst, b)
}

// GetVar evaluates an operand to a BV: a local IR value (frame lookup),
// a constant (materialized via the solver), a global (materialized via
// an allocated, initialized memory region cached on the project), or a
// constant expression (evaluated recursively).
func (st *State) GetVar(v value.Value) (bv.BV, error) {
	if local, ok := st.Current().Get(v); ok {
		return local, nil
	}

	switch v := v.(type) {
	case *ir.Global:
		return st.globalBase(v)
	case *ir.Func:
		return st.functionPointer(v)
	case constant.Constant:
		return st.evalConstant(v)
	default:
		return bv.BV{}, errf("unbound value %v of type %T", v.Ident(), v)
	}
}

// globalBase materializes (on first reference) or returns the cached
// base pointer for a global variable, per spec §9 "Globals": lazily
// allocate memory with the global's initializer written, cache the
// base read-only on the project so every path sees the same address.
//
// The base pointer is shared project-wide, but the initializer write
// is not: Mem is cloned per-path on fork, so a global first referenced
// by a sibling after the fork point only gets its content written into
// that sibling's own Mem. Every other path must still perform its own
// write against its own Mem the first time it references the global,
// even when the address itself is already cached — hence the separate
// per-state materializedGlobals check below.
func (st *State) globalBase(g *ir.Global) (bv.BV, error) {
	base, cached := st.Project.CachedGlobalBase(g.Name())
	if !cached {
		elemType := g.ContentType
		size := (st.Project.Layout().BitSize(elemType) + 7) / 8
		addr, err := st.Mem.Allocate(size, 8)
		if err != nil {
			return bv.BV{}, err
		}
		base = st.Project.SetCachedGlobalBase(g.Name(), addr)
	}

	if _, done := st.materializedGlobals[g.Name()]; !done {
		if g.Init != nil {
			val, err := st.evalConstant(g.Init)
			if err != nil {
				return bv.BV{}, err
			}
			if err := st.Mem.Write(base, val); err != nil {
				return bv.BV{}, err
			}
		}
		st.materializedGlobals[g.Name()] = struct{}{}
	}
	return base, nil
}

// functionPointer returns a stable concrete address used to represent
// fn, allocated once and cached on the project, for indirect-call
// resolution via constraint equality (spec §4.5 "Indirect calls").
func (st *State) functionPointer(fn *ir.Func) (bv.BV, error) {
	name := "@" + fn.Name()
	if base, ok := st.Project.CachedGlobalBase(name); ok {
		return base, nil
	}
	base, err := st.Mem.Allocate(1, 8)
	if err != nil {
		return bv.BV{}, err
	}
	return st.Project.SetCachedGlobalBase(name, base), nil
}
