package vm

import (
	"errors"

	"github.com/llir/llvm/ir"

	"github.com/norlen/x0001e/bv"
	"github.com/norlen/x0001e/state"
)

// errInfeasiblePath means every successor of a branch/switch was proven
// unsatisfiable, which should only happen if the predecessor state
// itself was already infeasible.
var errInfeasiblePath = errors.New("vm: no feasible successor")

// termResult is what executing a block's terminator produces: either the
// path keeps running in the same drive() call (Done == nil), or it hands
// back a completed Outcome (Done != nil).
type termResult struct {
	Done *Outcome
}

// execTerm executes the terminator of the current frame's block. A
// conditional branch or switch may enqueue sibling states via v.push
// and continue driving st as one of the branches (spec §5 "DFS with
// fork-true before fork-false, switch cases in source order").
func (v *VM) execTerm(st *state.State, term ir.Terminator) (termResult, error) {
	switch term := term.(type) {
	case *ir.TermRet:
		return v.execRet(st, term)
	case *ir.TermBr:
		st.Current().GotoBlock(term.Target)
		return termResult{}, nil
	case *ir.TermCondBr:
		return v.execCondBr(st, term)
	case *ir.TermSwitch:
		return v.execSwitch(st, term)
	case *ir.TermUnreachable:
		return termResult{Done: &Outcome{StateID: st.ID, Err: AbortErr(-1)}}, nil
	default:
		return termResult{}, MalformedErr("unsupported terminator %T", term)
	}
}

func (v *VM) execRet(st *state.State, term *ir.TermRet) (termResult, error) {
	var ret state.ReturnValue
	if term.X == nil {
		ret = state.Void()
	} else {
		val, err := st.GetVar(term.X)
		if err != nil {
			return termResult{}, FromEvalError(err)
		}
		ret = state.Val(val)
	}
	whole, err := st.PopFrame(ret)
	if err != nil {
		return termResult{}, FromEvalError(err)
	}
	if whole {
		return termResult{Done: &Outcome{StateID: st.ID, Return: ret}}, nil
	}
	return termResult{}, nil
}

// probe checks whether extra is satisfiable given st's currently live
// constraint set, without mutating st.
func probe(st *state.State, extra bv.BV) (bool, error) {
	st.Solver.Push()
	defer st.Solver.Pop()
	st.Solver.Assert(extra)
	return st.Solver.CheckSat()
}

func (v *VM) execCondBr(st *state.State, term *ir.TermCondBr) (termResult, error) {
	cond, err := st.GetVar(term.Cond)
	if err != nil {
		return termResult{}, FromEvalError(err)
	}
	notCond := cond.Not()

	trueFeasible, err := probe(st, cond)
	if err != nil {
		return termResult{}, SolverErr(err)
	}
	falseFeasible, err := probe(st, notCond)
	if err != nil {
		return termResult{}, SolverErr(err)
	}

	switch {
	case trueFeasible && falseFeasible:
		// Fork-true-before-fork-false: the false successor is enqueued
		// for later, the true successor keeps running in this call.
		falseState := st.Clone()
		falseState.AppendConstraint(notCond)
		falseState.Current().GotoBlock(term.TargetFalse)
		v.push(falseState)

		st.AddConstraint(cond)
		st.Current().GotoBlock(term.TargetTrue)
		return termResult{}, nil
	case trueFeasible:
		st.AddConstraint(cond)
		st.Current().GotoBlock(term.TargetTrue)
		return termResult{}, nil
	case falseFeasible:
		st.AddConstraint(notCond)
		st.Current().GotoBlock(term.TargetFalse)
		return termResult{}, nil
	default:
		return termResult{}, SolverErr(errInfeasiblePath)
	}
}

func (v *VM) execSwitch(st *state.State, term *ir.TermSwitch) (termResult, error) {
	x, err := st.GetVar(term.X)
	if err != nil {
		return termResult{}, FromEvalError(err)
	}

	type candidate struct {
		cond   bv.BV
		target *ir.Block
	}
	var matched []candidate
	anyMatched := st.Solver.BVFromUint64(0, 1)
	for _, c := range term.Cases {
		caseVal, err := st.GetVar(c.X)
		if err != nil {
			return termResult{}, FromEvalError(err)
		}
		eq := x.Eq(caseVal)
		feasible, err := probe(st, eq)
		if err != nil {
			return termResult{}, SolverErr(err)
		}
		if feasible {
			matched = append(matched, candidate{cond: eq, target: c.Target})
		}
		anyMatched = anyMatched.Or(eq)
	}

	defaultCond := anyMatched.Not()
	defaultFeasible, err := probe(st, defaultCond)
	if err != nil {
		return termResult{}, SolverErr(err)
	}
	if defaultFeasible {
		matched = append(matched, candidate{cond: defaultCond, target: term.TargetDefault})
	}
	if len(matched) == 0 {
		return termResult{}, SolverErr(errInfeasiblePath)
	}

	for _, m := range matched[1:] {
		fork := st.Clone()
		fork.AppendConstraint(m.cond)
		fork.Current().GotoBlock(m.target)
		v.push(fork)
	}
	st.AddConstraint(matched[0].cond)
	st.Current().GotoBlock(matched[0].target)
	return termResult{}, nil
}
