package project

import (
	"fmt"

	"github.com/llir/llvm/ir/types"
)

// TypeLayout answers ABI layout questions about a Project's type system:
// bit size, struct field byte offsets, and vector/array element types.
// Layout follows LLVM's default (non-packed) rules: scalar sizes come
// from the type's declared bit width, pointers are ptrSize bits, and
// aggregate members are packed with natural alignment unless the
// struct is declared packed.
type TypeLayout struct {
	ptrSize uint64
}

func newTypeLayout(p *Project) *TypeLayout {
	return &TypeLayout{ptrSize: uint64(p.PtrSize)}
}

// BitSize returns the size of t in bits: an integer's declared bit width
// (i1 is 1), the pointer width for pointers, and for arrays and structs
// the ABI size including byte-rounded elements and alignment padding.
// Vectors are their lane count times the element's BitSize.
func (l *TypeLayout) BitSize(t types.Type) uint64 {
	switch t := t.(type) {
	case *types.VoidType:
		return 0
	case *types.IntType:
		return t.BitSize
	case *types.PointerType:
		return l.ptrSize
	case *types.FloatType:
		return floatBitSize(t)
	case *types.ArrayType:
		return t.Len * l.alignedBitSize(t.ElemType)
	case *types.VectorType:
		return uint64(t.Len) * l.BitSize(t.ElemType)
	case *types.StructType:
		return l.structBitSize(t)
	default:
		panic(fmt.Sprintf("project: BitSize: unsupported type %T", t))
	}
}

// alignedBitSize rounds an element's bit size up to a whole byte, which
// is how LLVM lays out array elements (each element starts on a byte
// boundary even if its scalar width is not a multiple of 8, e.g. i1).
func (l *TypeLayout) alignedBitSize(t types.Type) uint64 {
	bits := l.BitSize(t)
	return (bits + 7) &^ 7
}

// byteSize is BitSize rounded up to a whole byte.
func (l *TypeLayout) byteSize(t types.Type) uint64 {
	return (l.BitSize(t) + 7) / 8
}

// byteAlign returns the natural alignment, in bytes, of t.
func (l *TypeLayout) byteAlign(t types.Type) uint64 {
	switch t := t.(type) {
	case *types.StructType:
		if t.Packed {
			return 1
		}
		var max uint64 = 1
		for _, f := range t.Fields {
			if a := l.byteAlign(f); a > max {
				max = a
			}
		}
		return max
	case *types.ArrayType:
		return l.byteAlign(t.ElemType)
	default:
		sz := l.byteSize(t)
		if sz == 0 {
			return 1
		}
		// Natural alignment: the size itself, capped at pointer width,
		// rounded down to a power of two.
		align := uint64(1)
		for align*2 <= sz && align < l.ptrSize/8 {
			align *= 2
		}
		return align
	}
}

func (l *TypeLayout) structBitSize(t *types.StructType) uint64 {
	var offset uint64
	for _, f := range t.Fields {
		if !t.Packed {
			a := l.byteAlign(f)
			offset = (offset + a - 1) &^ (a - 1)
		}
		offset += l.byteSize(f)
	}
	if !t.Packed && len(t.Fields) > 0 {
		a := l.byteAlign(t)
		offset = (offset + a - 1) &^ (a - 1)
	}
	return offset * 8
}

// FieldOffset returns the byte offset of field index i within struct t.
func (l *TypeLayout) FieldOffset(t *types.StructType, i int) uint64 {
	var offset uint64
	for idx, f := range t.Fields {
		if !t.Packed {
			a := l.byteAlign(f)
			offset = (offset + a - 1) &^ (a - 1)
		}
		if idx == i {
			return offset
		}
		offset += l.byteSize(f)
	}
	panic(fmt.Sprintf("project: FieldOffset: index %d out of range for %v", i, t))
}

// ElementStrideBytes returns the byte distance between consecutive
// elements of an array, vector, or pointee, for use walking
// getelementptr index lists (spec §4.5 "getelementptr").
func (l *TypeLayout) ElementStrideBytes(t types.Type) uint64 {
	switch t := t.(type) {
	case *types.ArrayType:
		return l.alignedBitSize(t.ElemType) / 8
	case *types.VectorType:
		return l.BitSize(t.ElemType) / 8
	case *types.PointerType:
		return l.byteSize(t.ElemType)
	default:
		panic(fmt.Sprintf("project: ElementStrideBytes: %T has no stride", t))
	}
}

// ElementType returns the element type of an aggregate (array, vector,
// pointer) type.
func (l *TypeLayout) ElementType(t types.Type) types.Type {
	switch t := t.(type) {
	case *types.ArrayType:
		return t.ElemType
	case *types.VectorType:
		return t.ElemType
	case *types.PointerType:
		return t.ElemType
	default:
		panic(fmt.Sprintf("project: ElementType: %T has no element type", t))
	}
}

func floatBitSize(t *types.FloatType) uint64 {
	switch t.Kind {
	case types.FloatKindHalf:
		return 16
	case types.FloatKindFloat:
		return 32
	case types.FloatKindDouble:
		return 64
	case types.FloatKindFP128, types.FloatKindPPC_FP128:
		return 128
	case types.FloatKindX86_FP80:
		return 80
	default:
		return 64
	}
}
