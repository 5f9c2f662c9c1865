package state

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/norlen/x0001e/bv"
)

// GEPOffset computes the byte offset a getelementptr index list
// contributes relative to a pointer of the given pointee type, per
// spec §4.5: "walk the index list, multiplying each index by the
// element stride and summing into the base, using pointer-width
// arithmetic". Shared between the instruction form (vm/interp.go) and
// constant-expression form (state/constant.go), since both express the
// same index list against the same type-layout rules.
func (st *State) GEPOffset(pointeeType types.Type, indices []value.Value) (bv.BV, error) {
	ptrWidth := st.Project.PtrSize
	offset := st.Solver.BVFromUint64(0, ptrWidth)
	if len(indices) == 0 {
		return offset, nil
	}

	first, err := st.GetVar(indices[0])
	if err != nil {
		return bv.BV{}, err
	}
	first = first.ResizeUnsigned(ptrWidth)
	stride := (st.Project.Layout().BitSize(pointeeType) + 7) / 8
	offset = offset.Add(first.Mul(st.Solver.BVFromUint64(stride, ptrWidth)))

	curType := pointeeType
	for _, idxOperand := range indices[1:] {
		switch t := curType.(type) {
		case *types.StructType:
			ci, ok := idxOperand.(*constant.Int)
			if !ok {
				return bv.BV{}, errf("getelementptr: struct index must be a constant integer")
			}
			fieldIdx := int(ci.X.Int64())
			off := st.Project.Layout().FieldOffset(t, fieldIdx)
			offset = offset.Add(st.Solver.BVFromUint64(off, ptrWidth))
			curType = t.Fields[fieldIdx]
		case *types.ArrayType:
			idxVal, err := st.GetVar(idxOperand)
			if err != nil {
				return bv.BV{}, err
			}
			idxVal = idxVal.ResizeUnsigned(ptrWidth)
			strideBytes := st.Project.Layout().ElementStrideBytes(t)
			offset = offset.Add(idxVal.Mul(st.Solver.BVFromUint64(strideBytes, ptrWidth)))
			curType = t.ElemType
		case *types.VectorType:
			idxVal, err := st.GetVar(idxOperand)
			if err != nil {
				return bv.BV{}, err
			}
			idxVal = idxVal.ResizeUnsigned(ptrWidth)
			strideBytes := st.Project.Layout().ElementStrideBytes(t)
			offset = offset.Add(idxVal.Mul(st.Solver.BVFromUint64(strideBytes, ptrWidth)))
			curType = t.ElemType
		default:
			return bv.BV{}, errf("getelementptr: cannot index into %T", t)
		}
	}
	return offset, nil
}
