package vm

import (
	"context"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norlen/x0001e/project"
	"github.com/norlen/x0001e/solver"
	"github.com/norlen/x0001e/state"
)

func runAll(t *testing.T, eng *VM) []*Outcome {
	t.Helper()
	var outs []*Outcome
	for o := range eng.Paths() {
		outs = append(outs, o)
	}
	return outs
}

// witness reasserts o's constraints and returns a single concrete
// solution for o.Return.Value (spec §5 replay-based isolation: a
// completed path's scope is popped before Run returns, so concretizing
// its return value afterward requires replaying its history first).
func witness(t *testing.T, eng *VM, o *Outcome) solver.Concrete {
	t.Helper()
	sol, err := o.Witness(eng.Solver(), func() (solver.Concrete, error) {
		return eng.Solver().GetSolution(o.Return.Value)
	})
	require.NoError(t, err)
	return sol
}

// witnessAll is like witness but enumerates up to max solutions.
func witnessAll(t *testing.T, eng *VM, o *Outcome, max int) solver.Solutions {
	t.Helper()
	s := eng.Solver()
	s.Push()
	defer s.Pop()
	for _, c := range o.Constraints {
		s.Assert(c)
	}
	sols, err := s.GetSolutions(o.Return.Value, max)
	require.NoError(t, err)
	return sols
}

// TestStraightLineReturn covers `define i32 @f(i32 %a) { %r = add i32
// %a, 1; ret i32 %r }`: exactly one path, completing normally.
func TestStraightLineReturn(t *testing.T) {
	m := ir.NewModule()
	a := ir.NewParam("a", types.I32)
	fn := m.NewFunc("f", types.I32, a)
	entry := fn.NewBlock("entry")
	r := entry.NewAdd(a, constant.NewInt(types.I32, 1))
	entry.NewRet(r)

	eng, err := New("f", project.FromModule(m))
	require.NoError(t, err)
	defer eng.Close()

	outs := runAll(t, eng)
	require.Len(t, outs, 1)
	assert.True(t, outs[0].Ok())
	assert.Equal(t, state.ReturnValueKind, outs[0].Return.Kind)
}

// TestHardCodedBranch covers a condition that is always true at the
// bitcode level: only the feasible successor is explored.
func TestHardCodedBranch(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunc("f", types.I32)
	entry := fn.NewBlock("entry")
	thenBlk := fn.NewBlock("then")
	elseBlk := fn.NewBlock("else")
	entry.NewCondBr(constant.True, thenBlk, elseBlk)
	thenBlk.NewRet(constant.NewInt(types.I32, 1))
	elseBlk.NewRet(constant.NewInt(types.I32, 2))

	eng, err := New("f", project.FromModule(m))
	require.NoError(t, err)
	defer eng.Close()

	outs := runAll(t, eng)
	require.Len(t, outs, 1)
	require.True(t, outs[0].Ok())
	sol := witness(t, eng, outs[0])
	assert.Equal(t, uint64(1), sol.Uint64())
}

// TestSymbolicBranchForks covers `%c = icmp sgt i32 %a, 0; br %c, ...`:
// a symbolic condition forks into exactly two paths.
func TestSymbolicBranchForks(t *testing.T) {
	m := ir.NewModule()
	a := ir.NewParam("a", types.I32)
	fn := m.NewFunc("f", types.I32, a)
	entry := fn.NewBlock("entry")
	thenBlk := fn.NewBlock("then")
	elseBlk := fn.NewBlock("else")
	cond := entry.NewICmp(enum.IPredSGT, a, constant.NewInt(types.I32, 0))
	entry.NewCondBr(cond, thenBlk, elseBlk)
	thenBlk.NewRet(constant.NewInt(types.I32, 1))
	elseBlk.NewRet(constant.NewInt(types.I32, 0))

	eng, err := New("f", project.FromModule(m))
	require.NoError(t, err)
	defer eng.Close()

	outs := runAll(t, eng)
	require.Len(t, outs, 2)
	for _, o := range outs {
		assert.True(t, o.Ok())
	}
}

// TestBoundedArrayIndex covers a bounds check that feasibly both holds
// and fails: the in-bounds path returns a loaded element, the
// out-of-bounds path hits `unreachable` and aborts.
func TestBoundedArrayIndex(t *testing.T) {
	m := ir.NewModule()
	idx := ir.NewParam("idx", types.I32)
	fn := m.NewFunc("f", types.I32, idx)
	entry := fn.NewBlock("entry")
	okBlk := fn.NewBlock("ok")
	trapBlk := fn.NewBlock("trap")

	arrType := types.NewArray(4, types.I32)
	arr := entry.NewAlloca(arrType)
	inBounds := entry.NewICmp(enum.IPredULT, idx, constant.NewInt(types.I32, 4))
	entry.NewCondBr(inBounds, okBlk, trapBlk)

	elemPtr := okBlk.NewGetElementPtr(arrType, arr,
		constant.NewInt(types.I64, 0), idx)
	loaded := okBlk.NewLoad(types.I32, elemPtr)
	okBlk.NewRet(loaded)

	trapBlk.NewUnreachable()

	eng, err := New("f", project.FromModule(m))
	require.NoError(t, err)
	defer eng.Close()

	outs := runAll(t, eng)
	require.Len(t, outs, 2)

	var oks, errs int
	for _, o := range outs {
		if o.Ok() {
			oks++
		} else {
			errs++
			assert.ErrorIs(t, o.Err, &VMError{Kind: Abort})
		}
	}
	assert.Equal(t, 1, oks)
	assert.Equal(t, 1, errs)
}

// TestUmaxVectorIntrinsic covers a call to llvm.umax.v2i8 with constant
// vector operands, exercising execCall's hook dispatch end to end.
func TestUmaxVectorIntrinsic(t *testing.T) {
	m := ir.NewModule()
	vecType := types.NewVector(2, types.I8)
	lhsParam := ir.NewParam("lhs", vecType)
	rhsParam := ir.NewParam("rhs", vecType)
	intrinsic := m.NewFunc("llvm.umax.v2i8", vecType, lhsParam, rhsParam)

	fn := m.NewFunc("f", vecType)
	entry := fn.NewBlock("entry")
	lhs := constant.NewVector(constant.NewInt(types.I8, 10), constant.NewInt(types.I8, 3))
	rhs := constant.NewVector(constant.NewInt(types.I8, 2), constant.NewInt(types.I8, 20))
	call := entry.NewCall(intrinsic, lhs, rhs)
	entry.NewRet(call)

	eng, err := New("f", project.FromModule(m))
	require.NoError(t, err)
	defer eng.Close()

	outs := runAll(t, eng)
	require.Len(t, outs, 1)
	require.True(t, outs[0].Ok())
	sol := witness(t, eng, outs[0])
	// lane 0: max(10,2)=10, lane 1: max(3,20)=20 -> concat(lane1,lane0).
	assert.Equal(t, uint64(0x140A), sol.Uint64())
}

// TestUaddWithOverflowIntrinsic covers 0x04 + 0xFF wrapping to 0x03 with
// the overflow bit set, laid out as concat(overflow, value) = 0x0103.
func TestUaddWithOverflowIntrinsic(t *testing.T) {
	m := ir.NewModule()
	i8 := types.I8
	a := ir.NewParam("a", i8)
	b := ir.NewParam("b", i8)
	intrinsic := m.NewFunc("llvm.uadd.with.overflow.i8", types.NewStruct(i8, types.I1), a, b)

	fn := m.NewFunc("f", types.I32)
	entry := fn.NewBlock("entry")
	call := entry.NewCall(intrinsic, constant.NewInt(i8, 0x04), constant.NewInt(i8, 0xFF))
	extracted := entry.NewExtractValue(call, 0)
	widened := entry.NewZExt(extracted, types.I32)
	entry.NewRet(widened)

	eng, err := New("f", project.FromModule(m))
	require.NoError(t, err)
	defer eng.Close()

	outs := runAll(t, eng)
	require.Len(t, outs, 1)
	require.True(t, outs[0].Ok())
	sol := witness(t, eng, outs[0])
	assert.Equal(t, uint64(0x03), sol.Uint64())
}

// TestSaddSatIntrinsic covers 4-bit signed saturating add clamping to
// the signed minimum (-8).
func TestSaddSatIntrinsic(t *testing.T) {
	m := ir.NewModule()
	i4 := types.NewInt(4)
	a := ir.NewParam("a", i4)
	b := ir.NewParam("b", i4)
	intrinsic := m.NewFunc("llvm.sadd.sat.i4", i4, a, b)

	fn := m.NewFunc("f", i4)
	entry := fn.NewBlock("entry")
	call := entry.NewCall(intrinsic, constant.NewInt(i4, -8), constant.NewInt(i4, -1))
	entry.NewRet(call)

	eng, err := New("f", project.FromModule(m))
	require.NoError(t, err)
	defer eng.Close()

	outs := runAll(t, eng)
	require.Len(t, outs, 1)
	require.True(t, outs[0].Ok())
	sol := witness(t, eng, outs[0])
	assert.Equal(t, uint64(0x8), sol.Uint64())
}

// TestMemcpyIntrinsic covers an 8-byte llvm.memcpy round trip through
// two stack allocations.
func TestMemcpyIntrinsic(t *testing.T) {
	m := ir.NewModule()
	ptrType := types.NewPointer(types.I8)
	i64 := types.I64
	i1 := types.I1
	dstParam := ir.NewParam("dst", ptrType)
	srcParam := ir.NewParam("src", ptrType)
	sizeParam := ir.NewParam("size", i64)
	volParam := ir.NewParam("vol", i1)
	memcpy := m.NewFunc("llvm.memcpy.p0.p0.i64", types.Void, dstParam, srcParam, sizeParam, volParam)

	fn := m.NewFunc("f", i64)
	entry := fn.NewBlock("entry")
	src := entry.NewAlloca(i64)
	entry.NewStore(constant.NewInt(i64, 0xABCDEF01), src)
	dst := entry.NewAlloca(i64)
	entry.NewCall(memcpy, dst, src, constant.NewInt(i64, 8), constant.NewInt(i1, 0))
	loaded := entry.NewLoad(i64, dst)
	entry.NewRet(loaded)

	eng, err := New("f", project.FromModule(m))
	require.NoError(t, err)
	defer eng.Close()

	outs := runAll(t, eng)
	require.Len(t, outs, 1)
	require.True(t, outs[0].Ok())
	sol := witness(t, eng, outs[0])
	assert.Equal(t, uint64(0xABCDEF01), sol.Uint64())
}

// TestAssumeNarrowsSolutions covers llvm.assume(%a == 5) forcing every
// subsequent solution for %a to be exactly 5.
func TestAssumeNarrowsSolutions(t *testing.T) {
	m := ir.NewModule()
	i32 := types.I32
	i1 := types.I1
	condParam := ir.NewParam("cond", i1)
	assume := m.NewFunc("llvm.assume", types.Void, condParam)

	a := ir.NewParam("a", i32)
	fn := m.NewFunc("f", i32, a)
	entry := fn.NewBlock("entry")
	cond := entry.NewICmp(enum.IPredEQ, a, constant.NewInt(i32, 5))
	entry.NewCall(assume, cond)
	entry.NewRet(a)

	eng, err := New("f", project.FromModule(m))
	require.NoError(t, err)
	defer eng.Close()

	outs := runAll(t, eng)
	require.Len(t, outs, 1)
	require.True(t, outs[0].Ok())

	sols := witnessAll(t, eng, outs[0], 2)
	require.Len(t, sols.Values, 1)
	assert.Equal(t, uint64(5), sols.Values[0].Uint64())
}

// TestPathIsolation covers spec §5's replay-based isolation guarantee:
// asserting on one forked sibling must not leak onto another's
// solutions once both have been driven.
func TestPathIsolation(t *testing.T) {
	m := ir.NewModule()
	a := ir.NewParam("a", types.I32)
	fn := m.NewFunc("f", types.I32, a)
	entry := fn.NewBlock("entry")
	thenBlk := fn.NewBlock("then")
	elseBlk := fn.NewBlock("else")
	cond := entry.NewICmp(enum.IPredSGT, a, constant.NewInt(types.I32, 0))
	entry.NewCondBr(cond, thenBlk, elseBlk)
	thenBlk.NewRet(a)
	elseBlk.NewRet(a)

	eng, err := New("f", project.FromModule(m))
	require.NoError(t, err)
	defer eng.Close()

	ctx := context.Background()
	first, ok := eng.Run(ctx)
	require.True(t, ok)
	require.True(t, first.Ok())

	// The first path's constraint (a > 0) must not bleed into the sibling
	// still on the worklist: under the second path's own a <= 0, `a`
	// still has many values; had a > 0 leaked in, none would remain.
	second, ok := eng.Run(ctx)
	require.True(t, ok)
	require.True(t, second.Ok())

	sols := witnessAll(t, eng, second, 3)
	assert.GreaterOrEqual(t, len(sols.Values), 2)
}
