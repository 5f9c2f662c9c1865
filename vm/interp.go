package vm

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/norlen/x0001e/bv"
	"github.com/norlen/x0001e/project"
	"github.com/norlen/x0001e/state"
)

// execInst dispatches one non-terminator instruction, binding its result
// (if any) into the current frame. Vector operands are handled by
// slicing into lanes and concatenating results in lane-index order
// (spec §4.5).
func (v *VM) execInst(st *state.State, inst ir.Instruction) error {
	switch inst := inst.(type) {
	case *ir.InstAdd:
		return v.binOp(st, inst, inst.X, inst.Y, bv.BV.Add)
	case *ir.InstSub:
		return v.binOp(st, inst, inst.X, inst.Y, bv.BV.Sub)
	case *ir.InstMul:
		return v.binOp(st, inst, inst.X, inst.Y, bv.BV.Mul)
	case *ir.InstUDiv:
		return v.binOp(st, inst, inst.X, inst.Y, bv.BV.Udiv)
	case *ir.InstSDiv:
		return v.binOp(st, inst, inst.X, inst.Y, bv.BV.Sdiv)
	case *ir.InstURem:
		return v.binOp(st, inst, inst.X, inst.Y, bv.BV.Urem)
	case *ir.InstSRem:
		return v.binOp(st, inst, inst.X, inst.Y, bv.BV.Srem)
	case *ir.InstAnd:
		return v.binOp(st, inst, inst.X, inst.Y, bv.BV.And)
	case *ir.InstOr:
		return v.binOp(st, inst, inst.X, inst.Y, bv.BV.Or)
	case *ir.InstXor:
		return v.binOp(st, inst, inst.X, inst.Y, bv.BV.Xor)
	case *ir.InstShl:
		return v.binOp(st, inst, inst.X, inst.Y, bv.BV.Sll)
	case *ir.InstLShr:
		return v.binOp(st, inst, inst.X, inst.Y, bv.BV.Srl)
	case *ir.InstAShr:
		return v.binOp(st, inst, inst.X, inst.Y, bv.BV.Sra)
	case *ir.InstICmp:
		return v.binOp(st, inst, inst.X, inst.Y, func(x, y bv.BV) bv.BV { return icmpPred(inst.Pred, x, y) })
	case *ir.InstTrunc:
		return v.execResize(st, inst, inst.From, bv.BV.ResizeUnsigned)
	case *ir.InstZExt:
		return v.execResize(st, inst, inst.From, bv.BV.ZeroExt)
	case *ir.InstSExt:
		return v.execResize(st, inst, inst.From, bv.BV.SignExt)
	case *ir.InstBitCast:
		x, err := st.GetVar(inst.From)
		if err != nil {
			return FromEvalError(err)
		}
		st.Assign(inst, x)
		return nil
	case *ir.InstPtrToInt:
		return v.execResize(st, inst, inst.From, bv.BV.ResizeUnsigned)
	case *ir.InstIntToPtr:
		return v.execResize(st, inst, inst.From, bv.BV.ResizeUnsigned)
	case *ir.InstAlloca:
		return v.execAlloca(st, inst)
	case *ir.InstLoad:
		return v.execLoad(st, inst)
	case *ir.InstStore:
		return v.execStore(st, inst)
	case *ir.InstGetElementPtr:
		return v.execGEP(st, inst)
	case *ir.InstExtractValue:
		return v.execExtractValue(st, inst)
	case *ir.InstInsertValue:
		return v.execInsertValue(st, inst)
	case *ir.InstExtractElement:
		return v.execExtractElement(st, inst)
	case *ir.InstInsertElement:
		return v.execInsertElement(st, inst)
	case *ir.InstPhi:
		return v.execPhi(st, inst)
	case *ir.InstCall:
		return v.execCall(st, inst)
	default:
		return MalformedErr("unsupported instruction %T", inst)
	}
}

// laneInfo reports the per-lane width and count if t is a vector type.
func laneInfo(st *state.State, t types.Type) (elemWidth uint32, lanes int, isVector bool) {
	vt, ok := t.(*types.VectorType)
	if !ok {
		return 0, 0, false
	}
	return uint32(st.Project.Layout().BitSize(vt.ElemType)), int(vt.Len), true
}

// binOp evaluates x/y and binds op(x, y) to dst, slicing into lanes when
// the operand type is a vector (spec §4.5 "vector operands... lanes are
// processed independently and concatenated in lane-index order").
func (v *VM) binOp(st *state.State, dst value.Value, xOperand, yOperand value.Value, op func(bv.BV, bv.BV) bv.BV) error {
	x, err := st.GetVar(xOperand)
	if err != nil {
		return FromEvalError(err)
	}
	y, err := st.GetVar(yOperand)
	if err != nil {
		return FromEvalError(err)
	}

	elemWidth, lanes, isVector := laneInfo(st, xOperand.Type())
	if !isVector {
		st.Assign(dst, op(x, y))
		return nil
	}

	var result bv.BV
	for i := 0; i < lanes; i++ {
		lo := uint32(i) * elemWidth
		hi := lo + elemWidth - 1
		lane := op(x.Slice(lo, hi), y.Slice(lo, hi))
		if i == 0 {
			result = lane
		} else {
			result = lane.Concat(result)
		}
	}
	st.Assign(dst, result)
	return nil
}

func (v *VM) execResize(st *state.State, dst value.Value, from value.Value, op func(bv.BV, uint32) bv.BV) error {
	x, err := st.GetVar(from)
	if err != nil {
		return FromEvalError(err)
	}
	width := uint32(st.Project.Layout().BitSize(dst.Type()))
	st.Assign(dst, op(x, width))
	return nil
}

func icmpPred(pred enum.IPred, x, y bv.BV) bv.BV {
	switch pred {
	case enum.IPredEQ:
		return x.Eq(y)
	case enum.IPredNE:
		return x.Ne(y)
	case enum.IPredUGT:
		return x.Ugt(y)
	case enum.IPredUGE:
		return x.Ugte(y)
	case enum.IPredULT:
		return x.Ult(y)
	case enum.IPredULE:
		return x.Ulte(y)
	case enum.IPredSGT:
		return x.Sgt(y)
	case enum.IPredSGE:
		return x.Sgte(y)
	case enum.IPredSLT:
		return x.Slt(y)
	case enum.IPredSLE:
		return x.Slte(y)
	default:
		panic("vm: unknown icmp predicate")
	}
}

func (v *VM) execAlloca(st *state.State, inst *ir.InstAlloca) error {
	size := (st.Project.Layout().BitSize(inst.ElemType) + 7) / 8
	if inst.NElems != nil {
		n, err := st.GetVar(inst.NElems)
		if err != nil {
			return FromEvalError(err)
		}
		sol, err := st.Solver.GetSolution(n)
		if err != nil {
			return SolverErr(err)
		}
		size *= sol.Uint64()
	}
	ptr, err := st.Mem.Allocate(size, 8)
	if err != nil {
		return FromMemoryError(err)
	}
	st.Assign(inst, ptr)
	return nil
}

func (v *VM) execLoad(st *state.State, inst *ir.InstLoad) error {
	addr, err := st.GetVar(inst.Src)
	if err != nil {
		return FromEvalError(err)
	}
	width := uint32(st.Project.Layout().BitSize(inst.ElemType))
	val, err := st.Mem.Read(addr, width)
	if err != nil {
		return FromMemoryError(err)
	}
	st.Assign(inst, val)
	return nil
}

func (v *VM) execStore(st *state.State, inst *ir.InstStore) error {
	addr, err := st.GetVar(inst.Dst)
	if err != nil {
		return FromEvalError(err)
	}
	val, err := st.GetVar(inst.Src)
	if err != nil {
		return FromEvalError(err)
	}
	if err := st.Mem.Write(addr, val); err != nil {
		return FromMemoryError(err)
	}
	return nil
}

func (v *VM) execGEP(st *state.State, inst *ir.InstGetElementPtr) error {
	base, err := st.GetVar(inst.Src)
	if err != nil {
		return FromEvalError(err)
	}
	indices := make([]value.Value, len(inst.Indices))
	for i, idx := range inst.Indices {
		indices[i] = idx
	}
	offset, err := st.GEPOffset(inst.ElemType, indices)
	if err != nil {
		return FromEvalError(err)
	}
	st.Assign(inst, base.Add(offset))
	return nil
}

// fieldRange walks a constant index path (extractvalue/insertvalue) and
// returns the [lo, hi] bit range that path occupies within the
// flattened little-endian BV representation of an aggregate of type t
// (spec §4.3 "aggregates are flattened, field order determines bit
// position").
func fieldRange(layout *project.TypeLayout, t types.Type, indices []int64) (lo, hi uint32, err error) {
	var offsetBits uint64
	cur := t
	for _, idx := range indices {
		switch ct := cur.(type) {
		case *types.StructType:
			offsetBits += layout.FieldOffset(ct, int(idx)) * 8
			cur = ct.Fields[idx]
		case *types.ArrayType:
			offsetBits += layout.ElementStrideBytes(ct) * 8 * uint64(idx)
			cur = ct.ElemType
		default:
			return 0, 0, MalformedErr("extractvalue/insertvalue: cannot index into %T", cur)
		}
	}
	size := layout.BitSize(cur)
	return uint32(offsetBits), uint32(offsetBits + size - 1), nil
}

func (v *VM) execExtractValue(st *state.State, inst *ir.InstExtractValue) error {
	x, err := st.GetVar(inst.X)
	if err != nil {
		return FromEvalError(err)
	}
	lo, hi, err := fieldRange(st.Project.Layout(), inst.X.Type(), inst.Indices)
	if err != nil {
		return err
	}
	st.Assign(inst, x.Slice(lo, hi))
	return nil
}

func (v *VM) execInsertValue(st *state.State, inst *ir.InstInsertValue) error {
	x, err := st.GetVar(inst.X)
	if err != nil {
		return FromEvalError(err)
	}
	elem, err := st.GetVar(inst.Elem)
	if err != nil {
		return FromEvalError(err)
	}
	lo, hi, err := fieldRange(st.Project.Layout(), inst.X.Type(), inst.Indices)
	if err != nil {
		return err
	}
	width := x.Len()
	var result bv.BV
	hasHigh := hi+1 < width
	if hasHigh {
		result = x.Slice(hi+1, width-1)
	}
	if result.Len() == 0 {
		result = elem
	} else {
		result = result.Concat(elem)
	}
	if lo > 0 {
		low := x.Slice(0, lo-1)
		result = result.Concat(low)
	}
	st.Assign(inst, result)
	return nil
}

func (v *VM) execExtractElement(st *state.State, inst *ir.InstExtractElement) error {
	x, err := st.GetVar(inst.X)
	if err != nil {
		return FromEvalError(err)
	}
	elemWidth, _, isVector := laneInfo(st, inst.X.Type())
	if !isVector {
		return MalformedErr("extractelement: operand is not a vector")
	}
	idx, err := st.GetVar(inst.Index)
	if err != nil {
		return FromEvalError(err)
	}
	sol, err := st.Solver.GetSolution(idx)
	if err != nil {
		return SolverErr(err)
	}
	lane := uint32(sol.Uint64())
	lo := lane * elemWidth
	st.Assign(inst, x.Slice(lo, lo+elemWidth-1))
	return nil
}

func (v *VM) execInsertElement(st *state.State, inst *ir.InstInsertElement) error {
	x, err := st.GetVar(inst.X)
	if err != nil {
		return FromEvalError(err)
	}
	elem, err := st.GetVar(inst.Elem)
	if err != nil {
		return FromEvalError(err)
	}
	elemWidth, lanes, isVector := laneInfo(st, inst.X.Type())
	if !isVector {
		return MalformedErr("insertelement: operand is not a vector")
	}
	idxVal, err := st.GetVar(inst.Index)
	if err != nil {
		return FromEvalError(err)
	}
	sol, err := st.Solver.GetSolution(idxVal)
	if err != nil {
		return SolverErr(err)
	}
	target := int(sol.Uint64())

	var result bv.BV
	for i := 0; i < lanes; i++ {
		var lane bv.BV
		if i == target {
			lane = elem
		} else {
			lo := uint32(i) * elemWidth
			lane = x.Slice(lo, lo+elemWidth-1)
		}
		if i == 0 {
			result = lane
		} else {
			result = lane.Concat(result)
		}
	}
	st.Assign(inst, result)
	return nil
}

// execPhi resolves a phi node against the block execution entered this
// block from (Frame.PrevBlock), per spec §4.5 "phi".
func (v *VM) execPhi(st *state.State, inst *ir.InstPhi) error {
	prev := st.Current().PrevBlock
	for _, inc := range inst.Incs {
		if inc.Pred == prev {
			val, err := st.GetVar(inc.X)
			if err != nil {
				return FromEvalError(err)
			}
			st.Assign(inst, val)
			return nil
		}
	}
	return MalformedErr("phi: no incoming value for predecessor block")
}
