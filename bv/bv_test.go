package bv

import (
	"testing"

	"github.com/aclements/go-z3/z3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCtx() *z3.Context {
	cfg := z3.NewConfig()
	return z3.NewContext(cfg)
}

func constBV(ctx *z3.Context, value int64, width uint32) BV {
	return New(ctx.FromInt(value, ctx.BVSort(int(width))).(z3.BV), width)
}

func checkConst(t *testing.T, ctx *z3.Context, b BV, want int64, width uint32) {
	t.Helper()
	s := z3.NewSolver(ctx)
	lit := constBV(ctx, want, width)
	s.Assert(b.Raw().Eq(lit.Raw()).Not())
	sat, err := s.Check()
	require.NoError(t, err)
	assert.False(t, sat, "expected %v to equal %d (width %d)", b, want, width)
}

func TestResizeUnsigned(t *testing.T) {
	ctx := newTestCtx()

	small := constBV(ctx, 0x0F, 4)
	assert.Equal(t, uint32(8), small.ResizeUnsigned(8).Len())
	checkConst(t, ctx, small.ResizeUnsigned(8), 0x0F, 8)

	wide := constBV(ctx, 0x1FF, 9)
	assert.Equal(t, uint32(4), wide.ResizeUnsigned(4).Len())

	same := constBV(ctx, 3, 8)
	assert.Equal(t, same, same.ResizeUnsigned(8))
}

func TestZeroExtAndSignExt(t *testing.T) {
	ctx := newTestCtx()

	negFour := constBV(ctx, -4, 4) // 0b1100
	checkConst(t, ctx, negFour.SignExt(8), -4, 8)
	checkConst(t, ctx, negFour.ZeroExt(8), 0x0C, 8)
}

func TestRequireSameWidthPanics(t *testing.T) {
	ctx := newTestCtx()
	a := constBV(ctx, 1, 8)
	b := constBV(ctx, 1, 16)
	assert.Panics(t, func() { a.Add(b) })
}

func TestUaddsSaturates(t *testing.T) {
	ctx := newTestCtx()
	s := z3.NewSolver(ctx)

	max := constBV(ctx, 0xFF, 8)
	one := constBV(ctx, 1, 8)
	sum := max.Uadds(one)

	ones := Ones(ctx, 8)
	s.Assert(sum.Raw().Eq(ones.Raw()).Not())
	sat, err := s.Check()
	require.NoError(t, err)
	assert.False(t, sat, "unsigned saturating add at max should clamp to all-ones")
}

func TestSaddsSaturatesToSignedExtremes(t *testing.T) {
	ctx := newTestCtx()

	// 4-bit signed max is 0111 (7); adding 1 should saturate to 0111.
	max := constBV(ctx, 7, 4)
	one := constBV(ctx, 1, 4)
	checkConst(t, ctx, max.Sadds(one), 7, 4)

	// 4-bit signed min is 1000 (-8); subtracting via add(-1) should
	// saturate to 1000.
	min := constBV(ctx, -8, 4)
	negOne := constBV(ctx, -1, 4)
	checkConst(t, ctx, min.Sadds(negOne), -8, 4)
}

func TestConcatAndSlice(t *testing.T) {
	ctx := newTestCtx()

	hi := constBV(ctx, 0x12, 8)
	lo := constBV(ctx, 0x34, 8)
	whole := hi.Concat(lo)
	require.Equal(t, uint32(16), whole.Len())
	checkConst(t, ctx, whole, 0x1234, 16)

	checkConst(t, ctx, whole.Slice(0, 7), 0x34, 8)
	checkConst(t, ctx, whole.Slice(8, 15), 0x12, 8)
}

func TestIte(t *testing.T) {
	ctx := newTestCtx()

	trueCond := Ones(ctx, 1)
	falseCond := Zero(ctx, 1)
	a := constBV(ctx, 10, 8)
	b := constBV(ctx, 20, 8)

	checkConst(t, ctx, trueCond.Ite(a, b), 10, 8)
	checkConst(t, ctx, falseCond.Ite(a, b), 20, 8)
}

func TestOverflowDetection(t *testing.T) {
	ctx := newTestCtx()

	max := constBV(ctx, 0xFF, 8)
	one := constBV(ctx, 1, 8)
	checkConst(t, ctx, max.Uaddo(one), 1, 1)

	noOverflow := constBV(ctx, 1, 8)
	checkConst(t, ctx, noOverflow.Uaddo(one), 0, 1)
}
