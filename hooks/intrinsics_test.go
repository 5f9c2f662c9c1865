package hooks

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norlen/x0001e/memory"
	"github.com/norlen/x0001e/project"
	"github.com/norlen/x0001e/solver"
	"github.com/norlen/x0001e/state"
)

func newHookState(t *testing.T) *state.State {
	t.Helper()
	m := ir.NewModule()
	fn := m.NewFunc("f", types.Void)
	fn.NewBlock("entry")
	p := project.FromModule(m)
	s := solver.New(64)
	t.Cleanup(s.Close)
	mem := memory.New(s, 64)
	st, err := state.New(p, s, mem, fn, nil)
	require.NoError(t, err)
	return st
}

func intArg(width uint64, val int64) Argument {
	t := types.NewInt(width)
	return Argument{Operand: constant.NewInt(t, val), Type: t}
}

func vecArg(elemWidth uint64, vals ...int64) Argument {
	elemType := types.NewInt(elemWidth)
	lanes := make([]constant.Constant, len(vals))
	for i, v := range vals {
		lanes[i] = constant.NewInt(elemType, v)
	}
	vec := constant.NewVector(lanes...)
	return Argument{Operand: vec, Type: vec.Type()}
}

func mustUint64(t *testing.T, st *state.State, ret state.ReturnValue) uint64 {
	t.Helper()
	require.Equal(t, state.ReturnValueKind, ret.Kind)
	sols, err := st.Solver.GetSolutions(ret.Value, 1)
	require.NoError(t, err)
	require.NotEqual(t, solver.None, sols.Kind)
	return sols.Values[0].Uint64()
}

func TestUaddWithOverflowLayout(t *testing.T) {
	st := newHookState(t)
	hook := makeOverflow(overflowUAdd)

	ret, err := hook(st, FnInfo{Name: "llvm.uadd.with.overflow.i8", Arguments: []Argument{
		intArg(8, 0x04), intArg(8, 0xFF),
	}})
	require.NoError(t, err)

	// {value, overflow} laid out as concat(overflow, value): 0x04+0xFF
	// wraps to 0x03 with overflow set, so the 9-bit aggregate is 0x103.
	got := mustUint64(t, st, ret)
	assert.Equal(t, uint64(0x103), got)
}

func TestSaddWithOverflowNoOverflow(t *testing.T) {
	st := newHookState(t)
	hook := makeOverflow(overflowSAdd)

	ret, err := hook(st, FnInfo{Name: "llvm.sadd.with.overflow.i8", Arguments: []Argument{
		intArg(8, 1), intArg(8, 2),
	}})
	require.NoError(t, err)
	got := mustUint64(t, st, ret)
	assert.Equal(t, uint64(3), got) // overflow bit 0, value 3
}

// TestSaddWithOverflowVector covers the vector-lane branch of
// makeOverflow/applyOverflow: two i8 lanes, one that doesn't overflow
// and one that does, checking lane order is preserved in both the
// results half and the overflow half of the returned aggregate.
func TestSaddWithOverflowVector(t *testing.T) {
	st := newHookState(t)
	hook := makeOverflow(overflowSAdd)

	// lane 0: 1 + 2 = 3, no overflow. lane 1: 127 + 1 wraps to -128,
	// signed overflow set.
	ret, err := hook(st, FnInfo{Name: "llvm.sadd.with.overflow.v2i8", Arguments: []Argument{
		vecArg(8, 1, 127), vecArg(8, 2, 1),
	}})
	require.NoError(t, err)

	// results = concat(lane1=0x80, lane0=0x03) = 0x8003;
	// overflows = concat(lane1=1, lane0=0) = 0b10;
	// aggregate = concat(overflows, results) = 0x28003.
	got := mustUint64(t, st, ret)
	assert.Equal(t, uint64(0x28003), got)
}

func TestSmaxUmin(t *testing.T) {
	st := newHookState(t)

	smax, err := makeMinMax(false, true)(st, FnInfo{Name: "llvm.smax.i8", Arguments: []Argument{
		intArg(8, -5), intArg(8, 3),
	}})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), mustUint64(t, st, smax))

	umin, err := makeMinMax(true, false)(st, FnInfo{Name: "llvm.umin.i8", Arguments: []Argument{
		intArg(8, 200), intArg(8, 3),
	}})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), mustUint64(t, st, umin))
}

func TestSaddSatSaturatesToMin(t *testing.T) {
	st := newHookState(t)
	hook := makeSaturate(saturateSAdd)

	ret, err := hook(st, FnInfo{Name: "llvm.sadd.sat.i4", Arguments: []Argument{
		intArg(4, -8), intArg(4, -1),
	}})
	require.NoError(t, err)
	got := mustUint64(t, st, ret)
	assert.Equal(t, uint64(0x8), got) // 4-bit signed min, 1000
}

func TestMemcpyRoundTrips(t *testing.T) {
	st := newHookState(t)

	src, err := st.Mem.Allocate(8, 8)
	require.NoError(t, err)
	dst, err := st.Mem.Allocate(8, 8)
	require.NoError(t, err)
	require.NoError(t, st.Mem.Write(src, st.Solver.BVFromUint64(0xABCDEF01, 64)))

	// Bind the allocated pointers to stand-in locals so they can be
	// passed as call operands (Argument.Operand is an IR value, not a
	// raw BV).
	dstParam := ir.NewParam("dst", types.NewPointer(types.I8))
	srcParam := ir.NewParam("src", types.NewPointer(types.I8))
	st.Assign(dstParam, dst)
	st.Assign(srcParam, src)

	_, err = llvmMemcpy(st, FnInfo{Name: "llvm.memcpy.p0.p0.i64", Arguments: []Argument{
		{Operand: dstParam},
		{Operand: srcParam},
		intArg(64, 8),
		intArg(1, 0),
	}})
	require.NoError(t, err)

	got, err := st.Mem.Read(dst, 64)
	require.NoError(t, err)
	gotSols, err := st.Solver.GetSolutions(got, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xABCDEF01), gotSols.Values[0].Uint64())
}

func TestAssumeAddsConstraint(t *testing.T) {
	st := newHookState(t)
	before := len(st.Constraints)

	_, err := llvmAssume(st, FnInfo{Name: "llvm.assume", Arguments: []Argument{
		intArg(1, 1),
	}})
	require.NoError(t, err)
	assert.Equal(t, before+1, len(st.Constraints))
}

func TestUnsupportedIntrinsicsReturnError(t *testing.T) {
	st := newHookState(t)
	_, err := unsupported(st, FnInfo{Name: "llvm.sqrt.f64"})
	var unsupportedErr *UnsupportedError
	require.ErrorAs(t, err, &unsupportedErr)
	assert.Equal(t, "llvm.sqrt.f64", unsupportedErr.Name)
}
