package hooks

import (
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/sirupsen/logrus"

	"github.com/norlen/x0001e/bv"
	"github.com/norlen/x0001e/memory"
	"github.com/norlen/x0001e/state"
)

// noop implements the no-effect intrinsic families: llvm.dbg.*,
// llvm.lifetime.*, llvm.experimental.*, llvm.va_start/va_end.
func noop(_ *state.State, _ FnInfo) (state.ReturnValue, error) {
	return state.Void(), nil
}

// unsupported implements intrinsics the engine explicitly has no model
// for (floating point, libm, ssub.sat/usub.sat): spec §9 requires these
// surface as UnsupportedInstruction, never a silent no-op.
func unsupported(_ *state.State, f FnInfo) (state.ReturnValue, error) {
	return state.ReturnValue{}, &UnsupportedError{Name: f.Name}
}

// UnsupportedError is returned by intrinsics this engine has no model
// for. Package vm converts it to VMError{Kind: UnsupportedInstruction}.
type UnsupportedError struct{ Name string }

func (e *UnsupportedError) Error() string { return "hooks: unsupported intrinsic " + e.Name }

// MaxSizeSolutions bounds how many distinct solutions a memcpy/memset
// size operand is enumerated for before the engine collapses to the
// first one found. The default of 1 matches the non-forking default
// decided for concretized sizes; raising it has no behavioral effect
// here since getUint64 always takes Values[0], but keeps the knob wired
// for a future per-size fork policy.
var MaxSizeSolutions = 1

// getUint64 evaluates operand and concretizes it to a single u64 via
// the solver, the Go analogue of the original's
// get_u64_solution_from_operand.
func getUint64(st *state.State, operand value.Value) (uint64, error) {
	v, err := st.GetVar(operand)
	if err != nil {
		return 0, err
	}
	max := MaxSizeSolutions
	if max < 1 {
		max = 1
	}
	sols, err := st.Solver.GetSolutions(v, max)
	if err != nil {
		return 0, err
	}
	if len(sols.Values) == 0 {
		return 0, errInfeasibleSize
	}
	return sols.Values[0].Uint64(), nil
}

var errInfeasibleSize = &UnsupportedError{Name: "memcpy/memset: size operand is infeasible"}

// laneWidth returns the bit width of one lane of t if t is a vector,
// or 0 if t is scalar.
func laneWidth(layout interface {
	BitSize(types.Type) uint64
}, t types.Type) (width uint32, lanes int, isVector bool) {
	vt, ok := t.(*types.VectorType)
	if !ok {
		return 0, 0, false
	}
	return uint32(layout.BitSize(vt.ElemType)), int(vt.Len), true
}

// binop applies op to lhs/rhs, processing vector lanes independently
// and concatenating results in lane-index order (spec §4.5 "for vector
// operands, lanes are processed independently and concatenated in
// lane-index order").
func binop(st *state.State, lhsOperand, rhsOperand value.Value, op func(a, b bv.BV) bv.BV) (bv.BV, error) {
	lhs, err := st.GetVar(lhsOperand)
	if err != nil {
		return bv.BV{}, err
	}
	rhs, err := st.GetVar(rhsOperand)
	if err != nil {
		return bv.BV{}, err
	}

	elemWidth, lanes, isVector := laneWidth(st.Project.Layout(), lhsOperand.Type())
	if !isVector {
		return op(lhs, rhs), nil
	}

	var result bv.BV
	for i := 0; i < lanes; i++ {
		lo := uint32(i) * elemWidth
		hi := lo + elemWidth - 1
		laneResult := op(lhs.Slice(lo, hi), rhs.Slice(lo, hi))
		if i == 0 {
			result = laneResult
		} else {
			result = laneResult.Concat(result)
		}
	}
	return result, nil
}

// ---------------------------------------------------------------------
// Standard C/C++ intrinsics.
// ---------------------------------------------------------------------

// llvmMemcpy reads size bytes at src and writes them at dst. Argument
// order per spec §4.6: dst, src, size, isvolatile. size is concretized
// to a single solution via the solver (spec §9 open question 3).
func llvmMemcpy(st *state.State, f FnInfo) (state.ReturnValue, error) {
	if len(f.Arguments) != 4 {
		return state.ReturnValue{}, &ArityError{Name: f.Name, Want: 4, Got: len(f.Arguments)}
	}
	dst, err := st.GetVar(f.Arguments[0].Operand)
	if err != nil {
		return state.ReturnValue{}, err
	}
	src, err := st.GetVar(f.Arguments[1].Operand)
	if err != nil {
		return state.ReturnValue{}, err
	}
	size, err := getUint64(st, f.Arguments[2].Operand)
	if err != nil {
		return state.ReturnValue{}, err
	}

	value, err := st.Mem.Read(src, uint32(size)*memory.BitsInByte)
	if err != nil {
		return state.ReturnValue{}, err
	}
	if err := st.Mem.Write(dst, value); err != nil {
		return state.ReturnValue{}, err
	}
	logrus.WithField("size", size).Trace("hooks: llvm.memcpy")
	return state.Void(), nil
}

// llvmMemset writes size copies of a single byte value starting at dst.
// Argument order per spec §4.6: dst, value, size, isvolatile.
func llvmMemset(st *state.State, f FnInfo) (state.ReturnValue, error) {
	if len(f.Arguments) != 4 {
		return state.ReturnValue{}, &ArityError{Name: f.Name, Want: 4, Got: len(f.Arguments)}
	}
	dst, err := st.GetVar(f.Arguments[0].Operand)
	if err != nil {
		return state.ReturnValue{}, err
	}
	fillByte, err := st.GetVar(f.Arguments[1].Operand)
	if err != nil {
		return state.ReturnValue{}, err
	}
	size, err := getUint64(st, f.Arguments[2].Operand)
	if err != nil {
		return state.ReturnValue{}, err
	}

	ptrWidth := st.Project.PtrSize
	for i := uint64(0); i < size; i++ {
		offset := st.Solver.BVFromUint64(i, ptrWidth)
		addr := dst.Add(offset)
		if err := st.Mem.Write(addr, fillByte); err != nil {
			return state.ReturnValue{}, err
		}
	}
	return state.Void(), nil
}

// makeMinMax builds the umax/umin/smax/smin family: `if cmp(a,b) then a
// else b`, where cmp is the (un)signed greater-than predicate for max
// and the (un)signed less-than predicate for min.
func makeMinMax(unsigned, max bool) Hook {
	return func(st *state.State, f FnInfo) (state.ReturnValue, error) {
		if len(f.Arguments) != 2 {
			return state.ReturnValue{}, &ArityError{Name: f.Name, Want: 2, Got: len(f.Arguments)}
		}
		result, err := binop(st, f.Arguments[0].Operand, f.Arguments[1].Operand, func(a, b bv.BV) bv.BV {
			var cond bv.BV
			switch {
			case unsigned && max:
				cond = a.Ugt(b)
			case unsigned && !max:
				cond = a.Ult(b)
			case !unsigned && max:
				cond = a.Sgt(b)
			default:
				cond = a.Slt(b)
			}
			return cond.Ite(a, b)
		})
		if err != nil {
			return state.ReturnValue{}, err
		}
		return state.Val(result), nil
	}
}

// ---------------------------------------------------------------------
// Arithmetic-with-overflow intrinsics.
// ---------------------------------------------------------------------

type overflowOp int

const (
	overflowSAdd overflowOp = iota
	overflowUAdd
	overflowSSub
	overflowUSub
	overflowSMul
	overflowUMul
)

func applyOverflow(op overflowOp, a, b bv.BV) (result, overflow bv.BV) {
	switch op {
	case overflowSAdd:
		return a.Add(b), a.Saddo(b)
	case overflowUAdd:
		return a.Add(b), a.Uaddo(b)
	case overflowSSub:
		return a.Sub(b), a.Ssubo(b)
	case overflowUSub:
		return a.Sub(b), a.Usubo(b)
	case overflowSMul:
		return a.Mul(b), a.Smulo(b)
	case overflowUMul:
		return a.Mul(b), a.Umulo(b)
	}
	panic("hooks: unknown overflow op")
}

// makeOverflow builds the `llvm.{s,u}{add,sub,mul}.with.overflow.*`
// family. The returned aggregate is `{value, overflow}`, laid out as
// `concat(overflow, value)` (spec §4.6). For vectors, per-lane results
// are concatenated first, then the full overflow vector is concatenated
// onto the full result vector, lane order preserved in both halves
// (spec §9 "Vector overflow-intrinsic return layout" — this is the
// vector-aware implementation named authoritative by open question 1;
// there is no separate scalar-only code path).
func makeOverflow(op overflowOp) Hook {
	return func(st *state.State, f FnInfo) (state.ReturnValue, error) {
		if len(f.Arguments) != 2 {
			return state.ReturnValue{}, &ArityError{Name: f.Name, Want: 2, Got: len(f.Arguments)}
		}
		a, err := st.GetVar(f.Arguments[0].Operand)
		if err != nil {
			return state.ReturnValue{}, err
		}
		b, err := st.GetVar(f.Arguments[1].Operand)
		if err != nil {
			return state.ReturnValue{}, err
		}

		elemWidth, lanes, isVector := laneWidth(st.Project.Layout(), f.Arguments[0].Operand.Type())
		if !isVector {
			result, overflow := applyOverflow(op, a, b)
			return state.Val(overflow.Concat(result)), nil
		}

		var results, overflows bv.BV
		for i := 0; i < lanes; i++ {
			lo := uint32(i) * elemWidth
			hi := lo + elemWidth - 1
			laneResult, laneOverflow := applyOverflow(op, a.Slice(lo, hi), b.Slice(lo, hi))
			if i == 0 {
				results, overflows = laneResult, laneOverflow
			} else {
				results = laneResult.Concat(results)
				overflows = laneOverflow.Concat(overflows)
			}
		}
		return state.Val(overflows.Concat(results)), nil
	}
}

// ---------------------------------------------------------------------
// Saturation arithmetic intrinsics.
// ---------------------------------------------------------------------

type saturateOp int

const (
	saturateSAdd saturateOp = iota
	saturateUAdd
)

// makeSaturate builds llvm.sadd.sat.*/llvm.uadd.sat.*. Per spec §9 open
// question 2, the corrected (not the original's swapped) mapping is
// used: SAdd -> Sadds, UAdd -> Uadds.
func makeSaturate(op saturateOp) Hook {
	return func(st *state.State, f FnInfo) (state.ReturnValue, error) {
		if len(f.Arguments) != 2 {
			return state.ReturnValue{}, &ArityError{Name: f.Name, Want: 2, Got: len(f.Arguments)}
		}
		result, err := binop(st, f.Arguments[0].Operand, f.Arguments[1].Operand, func(a, b bv.BV) bv.BV {
			if op == saturateSAdd {
				return a.Sadds(b)
			}
			return a.Uadds(b)
		})
		if err != nil {
			return state.ReturnValue{}, err
		}
		return state.Val(result), nil
	}
}

// ---------------------------------------------------------------------
// General intrinsics.
// ---------------------------------------------------------------------

// llvmExpect returns its first argument unchanged (optimizer hint only).
func llvmExpect(st *state.State, f FnInfo) (state.ReturnValue, error) {
	if len(f.Arguments) < 1 {
		return state.ReturnValue{}, &ArityError{Name: f.Name, Want: 1, Got: len(f.Arguments)}
	}
	v, err := st.GetVar(f.Arguments[0].Operand)
	if err != nil {
		return state.ReturnValue{}, err
	}
	return state.Val(v), nil
}

// llvmAssume asserts its single width-1 argument as a path constraint.
func llvmAssume(st *state.State, f FnInfo) (state.ReturnValue, error) {
	if len(f.Arguments) != 1 {
		return state.ReturnValue{}, &ArityError{Name: f.Name, Want: 1, Got: len(f.Arguments)}
	}
	cond, err := st.GetVar(f.Arguments[0].Operand)
	if err != nil {
		return state.ReturnValue{}, err
	}
	st.AddConstraint(cond)
	return state.Void(), nil
}

// ArityError means an intrinsic was called with the wrong number of
// arguments, which is malformed IR (spec §7 MalformedInstruction).
type ArityError struct {
	Name     string
	Want, Got int
}

func (e *ArityError) Error() string {
	return "hooks: " + e.Name + ": wrong argument count"
}
