package vm

import (
	"errors"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"

	"github.com/norlen/x0001e/bv"
	"github.com/norlen/x0001e/hooks"
	"github.com/norlen/x0001e/memory"
	"github.com/norlen/x0001e/state"
)

// execCall resolves a call instruction in the order spec §4.5 describes:
// `llvm.`-prefixed or otherwise hook-registered name -> hook; locally
// defined function -> push frame; a declaration with no body and no
// hook -> UnknownFunction; anything else -> indirect call, resolved via
// the solver.
func (v *VM) execCall(st *state.State, inst *ir.InstCall) error {
	if fn, ok := inst.Callee.(*ir.Func); ok {
		name := fn.Name()
		if hook, ok := v.hooks.Lookup(name); ok {
			return v.callHook(st, inst, hook, name)
		}
		if len(fn.Blocks) == 0 {
			return UnknownFunctionErr(name)
		}
		return v.callFunction(st, inst, fn)
	}
	return v.callIndirect(st, inst)
}

func callArguments(args []value.Value) []hooks.Argument {
	out := make([]hooks.Argument, len(args))
	for i, a := range args {
		out[i] = hooks.Argument{Operand: a, Type: a.Type()}
	}
	return out
}

func (v *VM) callHook(st *state.State, inst *ir.InstCall, hook hooks.Hook, name string) error {
	ret, err := hook(st, hooks.FnInfo{Name: name, Arguments: callArguments(inst.Args)})
	if err != nil {
		var unsupported *hooks.UnsupportedError
		if errors.As(err, &unsupported) {
			return UnsupportedErr(unsupported.Name)
		}
		var arity *hooks.ArityError
		if errors.As(err, &arity) {
			return &VMError{Kind: MalformedInstruction, Cause: arity}
		}
		var memErr *memory.MemoryError
		if errors.As(err, &memErr) {
			return FromMemoryError(err)
		}
		var evalErr *state.EvalError
		if errors.As(err, &evalErr) {
			return FromEvalError(err)
		}
		return err
	}
	if ret.Kind == state.ReturnValueKind {
		st.Assign(inst, ret.Value)
	}
	return nil
}

func (v *VM) callFunction(st *state.State, inst *ir.InstCall, fn *ir.Func) error {
	vals, err := evalArgs(st, inst.Args)
	if err != nil {
		return err
	}
	if err := st.PushFrame(fn, vals, inst); err != nil {
		return FromEvalError(err)
	}
	return nil
}

func evalArgs(st *state.State, operands []value.Value) ([]bv.BV, error) {
	out := make([]bv.BV, len(operands))
	for i, o := range operands {
		val, err := st.GetVar(o)
		if err != nil {
			return nil, FromEvalError(err)
		}
		out[i] = val
	}
	return out, nil
}

// callIndirect concretizes the callee pointer to at most maxIndirectTargets
// distinct addresses, matches each against a defined function's address,
// and forks once per solution with the equality asserted (spec §4.5
// "Indirect calls").
func (v *VM) callIndirect(st *state.State, inst *ir.InstCall) error {
	ptr, err := st.GetVar(inst.Callee)
	if err != nil {
		return FromEvalError(err)
	}
	sols, err := st.Solver.GetSolutions(ptr, v.maxIndirectTargets+1)
	if err != nil {
		return SolverErr(err)
	}
	if len(sols.Values) == 0 {
		return SolverErr(fmt.Errorf("indirect call target is infeasible"))
	}
	if len(sols.Values) > v.maxIndirectTargets {
		return SolverErr(fmt.Errorf("indirect call has more than %d feasible targets", v.maxIndirectTargets))
	}

	funcs := st.Project.Funcs()
	targets := make([]*ir.Func, len(sols.Values))
	for i, sol := range sols.Values {
		target, err := v.resolveFunctionAddress(st, funcs, sol.Value.Uint64())
		if err != nil {
			return err
		}
		targets[i] = target
	}

	// Fork one clone per target beyond the first; continue this state as
	// the first target (fork ordering mirrors conditional branches: the
	// state already in hand keeps executing, siblings are enqueued).
	for i := 1; i < len(targets); i++ {
		fork := st.Clone()
		forkPtr, err := fork.GetVar(inst.Callee)
		if err != nil {
			return FromEvalError(err)
		}
		forkTarget, err := fork.GetVar(targets[i])
		if err != nil {
			return FromEvalError(err)
		}
		fork.AppendConstraint(forkPtr.Eq(forkTarget))
		vals, err := evalArgs(fork, inst.Args)
		if err != nil {
			return err
		}
		if err := fork.PushFrame(targets[i], vals, inst); err != nil {
			return FromEvalError(err)
		}
		v.push(fork)
	}

	firstTarget, err := st.GetVar(targets[0])
	if err != nil {
		return FromEvalError(err)
	}
	st.AddConstraint(ptr.Eq(firstTarget))
	vals, err := evalArgs(st, inst.Args)
	if err != nil {
		return err
	}
	if err := st.PushFrame(targets[0], vals, inst); err != nil {
		return FromEvalError(err)
	}
	return nil
}

func (v *VM) resolveFunctionAddress(st *state.State, funcs []*ir.Func, addr uint64) (*ir.Func, error) {
	for _, fn := range funcs {
		base, err := st.GetVar(fn)
		if err != nil {
			return nil, FromEvalError(err)
		}
		sol, err := st.Solver.GetSolution(base)
		if err != nil {
			return nil, SolverErr(err)
		}
		if sol.Uint64() == addr {
			return fn, nil
		}
	}
	return nil, UnknownFunctionErr(fmt.Sprintf("0x%x", addr))
}
