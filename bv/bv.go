// Package bv implements the width-tagged bit-vector algebra that the rest
// of x0001e builds symbolic program state on top of.
//
// A BV is a handle to an SMT expression of a fixed bit width, backed by
// a github.com/aclements/go-z3 bit-vector sort. Every binary operator
// requires both operands to share a width; mismatches are a programmer
// error (the instruction interpreter is expected to only ever produce
// matching widths) and panic rather than return an error.
package bv

import (
	"fmt"

	"github.com/aclements/go-z3/z3"
)

// BV is a width-tagged handle to an SMT bit-vector expression. It is
// valid for the lifetime of the solver context that created it.
type BV struct {
	ast   z3.BV
	width uint32
}

// New wraps a raw z3.BV with its bit width. Used only by package solver
// and package memory, which own the underlying z3.Context.
func New(ast z3.BV, width uint32) BV {
	return BV{ast: ast, width: width}
}

// Raw returns the underlying z3 bit-vector expression.
func (b BV) Raw() z3.BV { return b.ast }

// Len returns the bit width of b.
func (b BV) Len() uint32 { return b.width }

func (b BV) requireSameWidth(other BV) {
	if b.width != other.width {
		panic(fmt.Sprintf("bv: width mismatch: %d != %d", b.width, other.width))
	}
}

// ZeroExt zero-extends b to width. Requires width >= b.Len(); width ==
// b.Len() is the identity.
func (b BV) ZeroExt(width uint32) BV {
	switch {
	case width < b.width:
		panic(fmt.Sprintf("bv: ZeroExt to smaller width %d < %d", width, b.width))
	case width == b.width:
		return b
	default:
		return BV{ast: b.ast.ZeroExt(int(width - b.width)), width: width}
	}
}

// SignExt sign-extends b to width. Requires width >= b.Len(); width ==
// b.Len() is the identity.
func (b BV) SignExt(width uint32) BV {
	switch {
	case width < b.width:
		panic(fmt.Sprintf("bv: SignExt to smaller width %d < %d", width, b.width))
	case width == b.width:
		return b
	default:
		return BV{ast: b.ast.SignExt(int(width - b.width)), width: width}
	}
}

// ResizeUnsigned resizes b to exactly width: zero-extends if smaller,
// truncates (low bits) if larger, returns b unchanged if equal.
func (b BV) ResizeUnsigned(width uint32) BV {
	switch {
	case width == b.width:
		return b
	case width < b.width:
		return b.Slice(0, width-1)
	default:
		return b.ZeroExt(width)
	}
}

// ---------------------------------------------------------------------
// Comparisons — all return a width-1 BV.
// ---------------------------------------------------------------------

func (b BV) boolToBV1(cond z3.Bool) BV {
	ctx := b.ast.Context()
	one := ctx.FromInt(1, ctx.BVSort(1)).(z3.BV)
	zero := ctx.FromInt(0, ctx.BVSort(1)).(z3.BV)
	return BV{ast: cond.IfThenElse(one, zero).(z3.BV), width: 1}
}

// Eq returns a width-1 BV that is 1 iff b == other.
func (b BV) Eq(other BV) BV {
	b.requireSameWidth(other)
	return b.boolToBV1(b.ast.Eq(other.ast))
}

// Ne returns a width-1 BV that is 1 iff b != other.
func (b BV) Ne(other BV) BV {
	b.requireSameWidth(other)
	return b.boolToBV1(b.ast.Eq(other.ast).Not())
}

// Ugt is the unsigned greater-than predicate.
func (b BV) Ugt(other BV) BV { b.requireSameWidth(other); return b.boolToBV1(b.ast.UGT(other.ast)) }

// Ugte is the unsigned greater-than-or-equal predicate.
func (b BV) Ugte(other BV) BV { b.requireSameWidth(other); return b.boolToBV1(b.ast.UGE(other.ast)) }

// Ult is the unsigned less-than predicate.
func (b BV) Ult(other BV) BV { b.requireSameWidth(other); return b.boolToBV1(b.ast.ULT(other.ast)) }

// Ulte is the unsigned less-than-or-equal predicate.
func (b BV) Ulte(other BV) BV { b.requireSameWidth(other); return b.boolToBV1(b.ast.ULE(other.ast)) }

// Sgt is the signed greater-than predicate.
func (b BV) Sgt(other BV) BV { b.requireSameWidth(other); return b.boolToBV1(b.ast.SGT(other.ast)) }

// Sgte is the signed greater-than-or-equal predicate.
func (b BV) Sgte(other BV) BV { b.requireSameWidth(other); return b.boolToBV1(b.ast.SGE(other.ast)) }

// Slt is the signed less-than predicate.
func (b BV) Slt(other BV) BV { b.requireSameWidth(other); return b.boolToBV1(b.ast.SLT(other.ast)) }

// Slte is the signed less-than-or-equal predicate.
func (b BV) Slte(other BV) BV { b.requireSameWidth(other); return b.boolToBV1(b.ast.SLE(other.ast)) }

// ---------------------------------------------------------------------
// Binary arithmetic.
// ---------------------------------------------------------------------

// Add returns b + other.
func (b BV) Add(other BV) BV { b.requireSameWidth(other); return BV{b.ast.Add(other.ast), b.width} }

// Sub returns b - other.
func (b BV) Sub(other BV) BV { b.requireSameWidth(other); return BV{b.ast.Sub(other.ast), b.width} }

// Mul returns b * other.
func (b BV) Mul(other BV) BV { b.requireSameWidth(other); return BV{b.ast.Mul(other.ast), b.width} }

// Udiv returns the unsigned quotient of b / other.
func (b BV) Udiv(other BV) BV { b.requireSameWidth(other); return BV{b.ast.UDiv(other.ast), b.width} }

// Sdiv returns the signed quotient of b / other.
func (b BV) Sdiv(other BV) BV { b.requireSameWidth(other); return BV{b.ast.SDiv(other.ast), b.width} }

// Urem returns the unsigned remainder of b / other.
func (b BV) Urem(other BV) BV { b.requireSameWidth(other); return BV{b.ast.URem(other.ast), b.width} }

// Srem returns the signed remainder of b / other.
func (b BV) Srem(other BV) BV { b.requireSameWidth(other); return BV{b.ast.SRem(other.ast), b.width} }

// ---------------------------------------------------------------------
// Overflow-detection flavors — all return a width-1 BV.
// ---------------------------------------------------------------------

// Uaddo returns 1 iff b + other overflows unsigned addition.
func (b BV) Uaddo(other BV) BV {
	b.requireSameWidth(other)
	return b.boolToBV1(b.ast.AddNoOverflow(other.ast, false).Not())
}

// Saddo returns 1 iff b + other overflows signed addition.
func (b BV) Saddo(other BV) BV {
	b.requireSameWidth(other)
	noOverflow := b.ast.AddNoOverflow(other.ast, true)
	noUnderflow := b.ast.AddNoUnderflow(other.ast)
	return b.boolToBV1(noOverflow.And(noUnderflow).Not())
}

// Usubo returns 1 iff b - other overflows unsigned subtraction.
func (b BV) Usubo(other BV) BV {
	b.requireSameWidth(other)
	return b.boolToBV1(b.ast.SubNoUnderflow(other.ast, false).Not())
}

// Ssubo returns 1 iff b - other overflows signed subtraction.
func (b BV) Ssubo(other BV) BV {
	b.requireSameWidth(other)
	noOverflow := b.ast.SubNoOverflow(other.ast)
	noUnderflow := b.ast.SubNoUnderflow(other.ast, true)
	return b.boolToBV1(noOverflow.And(noUnderflow).Not())
}

// Umulo returns 1 iff b * other overflows unsigned multiplication.
func (b BV) Umulo(other BV) BV {
	b.requireSameWidth(other)
	return b.boolToBV1(b.ast.MulNoOverflow(other.ast, false).Not())
}

// Smulo returns 1 iff b * other overflows signed multiplication.
func (b BV) Smulo(other BV) BV {
	b.requireSameWidth(other)
	noOverflow := b.ast.MulNoOverflow(other.ast, true)
	noUnderflow := b.ast.MulNoUnderflow(other.ast)
	return b.boolToBV1(noOverflow.And(noUnderflow).Not())
}

// ---------------------------------------------------------------------
// Saturating operations.
// ---------------------------------------------------------------------

// Uadds is saturating unsigned addition: if b+other overflows, the
// result is all-ones of the shared width, otherwise it is b+other.
func (b BV) Uadds(other BV) BV {
	b.requireSameWidth(other)
	result := b.Add(other)
	overflow := b.Uaddo(other)
	saturated := Ones(b.ast.Context(), b.width)
	return overflow.Ite(saturated, result)
}

// Sadds is saturating signed addition: if b+other overflows, the result
// is the signed minimum or maximum of the shared width (picked by the
// sign bit of b), otherwise it is b+other.
func (b BV) Sadds(other BV) BV {
	b.requireSameWidth(other)
	ctx := b.ast.Context()
	result := b.Add(other)
	overflow := b.Saddo(other)
	isNegative := b.Slice(b.width-1, b.width-1)

	minVal := BV{ctx.FromInt(1, ctx.BVSort(1)).(z3.BV), 1}.Concat(Zero(ctx, b.width-1))
	maxVal := BV{ctx.FromInt(0, ctx.BVSort(1)).(z3.BV), 1}.Concat(Ones(ctx, b.width-1))

	return overflow.Ite(isNegative.Ite(minVal, maxVal), result)
}

// ---------------------------------------------------------------------
// Logical ops.
// ---------------------------------------------------------------------

// Not returns the bitwise complement of b.
func (b BV) Not() BV { return BV{b.ast.Not(), b.width} }

// And returns the bitwise AND of b and other.
func (b BV) And(other BV) BV { b.requireSameWidth(other); return BV{b.ast.And(other.ast), b.width} }

// Or returns the bitwise OR of b and other.
func (b BV) Or(other BV) BV { b.requireSameWidth(other); return BV{b.ast.Or(other.ast), b.width} }

// Xor returns the bitwise XOR of b and other.
func (b BV) Xor(other BV) BV { b.requireSameWidth(other); return BV{b.ast.Xor(other.ast), b.width} }

// ---------------------------------------------------------------------
// Shifts. The shift amount must share b's width (LLVM semantics).
// ---------------------------------------------------------------------

// Sll is shift-left-logical.
func (b BV) Sll(amount BV) BV {
	b.requireSameWidth(amount)
	return BV{b.ast.Lsh(amount.ast), b.width}
}

// Srl is shift-right-logical.
func (b BV) Srl(amount BV) BV {
	b.requireSameWidth(amount)
	return BV{b.ast.URsh(amount.ast), b.width}
}

// Sra is shift-right-arithmetic.
func (b BV) Sra(amount BV) BV {
	b.requireSameWidth(amount)
	return BV{b.ast.SRsh(amount.ast), b.width}
}

// ---------------------------------------------------------------------
// Concat / slice.
// ---------------------------------------------------------------------

// Concat returns the bit-vector formed by b in the high bits and other
// in the low bits; the result width is the sum of both widths.
func (b BV) Concat(other BV) BV {
	return BV{b.ast.Concat(other.ast), b.width + other.width}
}

// Slice returns bits [low, high] of b, inclusive, as a BV of width
// high-low+1. Requires 0 <= low <= high < b.Len().
func (b BV) Slice(low, high uint32) BV {
	if low > high || high >= b.width {
		panic(fmt.Sprintf("bv: invalid slice [%d,%d] of width %d", low, high, b.width))
	}
	return BV{b.ast.Extract(int(high), int(low)), high - low + 1}
}

// ---------------------------------------------------------------------
// Conditional.
// ---------------------------------------------------------------------

// Ite is "if b then thenBV else elseBV". b must have width 1; thenBV
// and elseBV must share a width, which becomes the result's width.
func (b BV) Ite(thenBV, elseBV BV) BV {
	if b.width != 1 {
		panic(fmt.Sprintf("bv: Ite selector must be width 1, got %d", b.width))
	}
	thenBV.requireSameWidth(elseBV)
	cond := b.ast.Eq(Ones(b.ast.Context(), 1).ast)
	return BV{cond.IfThenElse(thenBV.ast, elseBV.ast).(z3.BV), thenBV.width}
}

// ---------------------------------------------------------------------
// Constant helpers.
// ---------------------------------------------------------------------

// Zero returns the all-zeros constant of the given width.
func Zero(ctx *z3.Context, width uint32) BV {
	return BV{ctx.FromInt(0, ctx.BVSort(int(width))).(z3.BV), width}
}

// Ones returns the all-ones constant of the given width.
func Ones(ctx *z3.Context, width uint32) BV {
	ast := ctx.FromBigInt(onesBigInt(width), ctx.BVSort(int(width))).(z3.BV)
	return BV{ast, width}
}
