package state

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"

	"github.com/norlen/x0001e/bv"
)

// evalConstant materializes a constant.Constant as a BV, recursing into
// constant expressions where needed.
func (st *State) evalConstant(c constant.Constant) (bv.BV, error) {
	width := uint32(st.Project.Layout().BitSize(c.Type()))

	switch c := c.(type) {
	case *constant.Int:
		return st.Solver.BVFromBigInt(c.X, width), nil
	case *constant.Null:
		return st.Solver.BVFromUint64(0, width), nil
	case *constant.ZeroInitializer:
		return st.Solver.BVFromUint64(0, width), nil
	case *constant.Undef:
		// Undef is modelled as an unconstrained fresh symbol rather
		// than a fixed bit pattern: any single concretization is a
		// valid witness, matching LLVM's "any bit pattern" semantics
		// without biasing exploration toward zero.
		return st.Solver.Fresh("undef", width), nil
	case *constant.Poison:
		return st.Solver.Fresh("poison", width), nil
	case *constant.CharArray:
		return st.evalBytes(c.X), nil
	case *constant.Array:
		return st.evalAggregate(c.Elems)
	case *constant.Vector:
		return st.evalAggregate(c.Elems)
	case *constant.Struct:
		return st.evalAggregate(c.Fields)
	case *constant.ExprAdd:
		return st.evalBinaryExpr(c.X, c.Y, bv.BV.Add)
	case *constant.ExprSub:
		return st.evalBinaryExpr(c.X, c.Y, bv.BV.Sub)
	case *constant.ExprMul:
		return st.evalBinaryExpr(c.X, c.Y, bv.BV.Mul)
	case *constant.ExprAnd:
		return st.evalBinaryExpr(c.X, c.Y, bv.BV.And)
	case *constant.ExprOr:
		return st.evalBinaryExpr(c.X, c.Y, bv.BV.Or)
	case *constant.ExprXor:
		return st.evalBinaryExpr(c.X, c.Y, bv.BV.Xor)
	case *constant.ExprTrunc:
		from, err := st.evalConstant(c.From)
		if err != nil {
			return bv.BV{}, err
		}
		return from.ResizeUnsigned(width), nil
	case *constant.ExprZExt:
		from, err := st.evalConstant(c.From)
		if err != nil {
			return bv.BV{}, err
		}
		return from.ZeroExt(width), nil
	case *constant.ExprSExt:
		from, err := st.evalConstant(c.From)
		if err != nil {
			return bv.BV{}, err
		}
		return from.SignExt(width), nil
	case *constant.ExprBitCast:
		return st.evalConstant(c.From)
	case *constant.ExprPtrToInt:
		from, err := st.evalConstant(c.From)
		if err != nil {
			return bv.BV{}, err
		}
		return from.ResizeUnsigned(width), nil
	case *constant.ExprIntToPtr:
		from, err := st.evalConstant(c.From)
		if err != nil {
			return bv.BV{}, err
		}
		return from.ResizeUnsigned(width), nil
	case *constant.ExprGetElementPtr:
		return st.evalConstantGEP(c)
	default:
		return bv.BV{}, errf("unsupported constant expression %T", c)
	}
}

func (st *State) evalBinaryExpr(x, y constant.Constant, op func(bv.BV, bv.BV) bv.BV) (bv.BV, error) {
	xv, err := st.evalConstant(x)
	if err != nil {
		return bv.BV{}, err
	}
	yv, err := st.evalConstant(y)
	if err != nil {
		return bv.BV{}, err
	}
	return op(xv, yv), nil
}

// evalAggregate concatenates the evaluated elements/fields of an
// aggregate constant in index order, lowest index in the low bits,
// matching the little-endian, contiguous layout described in spec §4.3.
func (st *State) evalAggregate(elems []constant.Constant) (bv.BV, error) {
	if len(elems) == 0 {
		return bv.BV{}, errf("empty aggregate constant")
	}
	var result bv.BV
	for i, e := range elems {
		v, err := st.evalConstant(e)
		if err != nil {
			return bv.BV{}, err
		}
		if i == 0 {
			result = v
		} else {
			result = v.Concat(result)
		}
	}
	return result, nil
}

// evalBytes materializes a raw byte string (e.g. a string literal's
// backing CharArray) as a concatenated BV, low index in the low bits.
func (st *State) evalBytes(data []byte) bv.BV {
	var result bv.BV
	for i, b := range data {
		cell := st.Solver.BVFromUint64(uint64(b), 8)
		if i == 0 {
			result = cell
		} else {
			result = cell.Concat(result)
		}
	}
	return result
}

// evalConstantGEP evaluates a constant getelementptr expression with
// the same GEPOffset walk the instruction form (vm/interp.go's execGEP)
// uses, passing the expression's constant indices as the index list.
func (st *State) evalConstantGEP(c *constant.ExprGetElementPtr) (bv.BV, error) {
	base, err := st.evalConstant(c.Src)
	if err != nil {
		return bv.BV{}, err
	}
	indices := make([]value.Value, len(c.Indices))
	for i, idx := range c.Indices {
		indices[i] = idx
	}
	offset, err := st.GEPOffset(c.ElemType, indices)
	if err != nil {
		return bv.BV{}, err
	}
	return base.Add(offset), nil
}
