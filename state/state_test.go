package state

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norlen/x0001e/bv"
	"github.com/norlen/x0001e/memory"
	"github.com/norlen/x0001e/project"
	"github.com/norlen/x0001e/solver"
)

// simpleModule builds a module containing
// `define i32 @f(i32 %a, i32 %b) { ret i32 %a }`.
func simpleModule() *ir.Module {
	m := ir.NewModule()
	a := ir.NewParam("a", types.I32)
	b := ir.NewParam("b", types.I32)
	fn := m.NewFunc("f", types.I32, a, b)
	entry := fn.NewBlock("entry")
	entry.NewRet(a)
	return m
}

func newFixture(t *testing.T) (*project.Project, *solver.Solver, *memory.Memory) {
	t.Helper()
	p := project.FromModule(simpleModule())
	s := solver.New(64)
	t.Cleanup(s.Close)
	mem := memory.New(s, 64)
	return p, s, mem
}

func TestNewBindsParams(t *testing.T) {
	p, s, mem := newFixture(t)
	fn := p.FuncByName("f")
	require.NotNil(t, fn)

	a := s.Fresh("a", 32)
	b := s.Fresh("b", 32)
	st, err := New(p, s, mem, fn, []bv.BV{a, b})
	require.NoError(t, err)

	got, err := st.GetVar(fn.Params[0])
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestNewRejectsArityMismatch(t *testing.T) {
	p, s, mem := newFixture(t)
	fn := p.FuncByName("f")

	_, err := New(p, s, mem, fn, []bv.BV{s.Fresh("a", 32)})
	assert.Error(t, err)
}

func TestPushPopFrameDeliversReturnValue(t *testing.T) {
	p, s, mem := newFixture(t)
	fn := p.FuncByName("f")

	args := []bv.BV{s.Fresh("a", 32), s.Fresh("b", 32)}
	st, err := New(p, s, mem, fn, args)
	require.NoError(t, err)

	dst := fn.Params[0] // stand-in retDst value for this test
	require.NoError(t, st.PushFrame(fn, args, dst))
	assert.Equal(t, 2, len(st.Stack))

	ret := Val(s.BVFromUint64(7, 32))
	whole, err := st.PopFrame(ret)
	require.NoError(t, err)
	assert.False(t, whole)

	got, err := st.GetVar(dst)
	require.NoError(t, err)
	assert.Equal(t, ret.Value, got)
}

func TestPopFrameLastIsWhole(t *testing.T) {
	p, s, mem := newFixture(t)
	fn := p.FuncByName("f")
	args := []bv.BV{s.Fresh("a", 32), s.Fresh("b", 32)}
	st, err := New(p, s, mem, fn, args)
	require.NoError(t, err)

	whole, err := st.PopFrame(Val(s.BVFromUint64(1, 32)))
	require.NoError(t, err)
	assert.True(t, whole)
}

func TestCloneIsIndependent(t *testing.T) {
	p, s, mem := newFixture(t)
	fn := p.FuncByName("f")
	args := []bv.BV{s.Fresh("a", 32), s.Fresh("b", 32)}
	st, err := New(p, s, mem, fn, args)
	require.NoError(t, err)

	st.AddConstraint(args[0].Eq(s.BVFromUint64(1, 32)))
	clone := st.Clone()
	clone.AppendConstraint(args[1].Eq(s.BVFromUint64(2, 32)))

	assert.Equal(t, 1, len(st.Constraints))
	assert.Equal(t, 2, len(clone.Constraints))
}

// moduleWithGlobal builds a module containing a global `@g` of type i32
// initialized to 42, plus the usual `f`.
func moduleWithGlobal() (*ir.Module, *ir.Global) {
	m := simpleModule()
	g := m.NewGlobalDef("g", constant.NewInt(types.I32, 42))
	return m, g
}

// TestGlobalMaterializesIntoEveryForkedPathsOwnMemory guards against a
// global's initializer being written into only the first path's Mem
// that happens to reference it: the base address is legitimately
// shared project-wide, but each path's Mem is its own clone, so the
// content write must happen once per path, not once per project.
func TestGlobalMaterializesIntoEveryForkedPathsOwnMemory(t *testing.T) {
	m, g := moduleWithGlobal()
	p := project.FromModule(m)
	s := solver.New(64)
	t.Cleanup(s.Close)
	mem := memory.New(s, 64)

	fn := p.FuncByName("f")
	first, err := New(p, s, mem, fn, []bv.BV{s.Fresh("a", 32), s.Fresh("b", 32)})
	require.NoError(t, err)

	// Fork before either path has referenced the global.
	second := first.Clone()

	// second references the global first, materializing it into
	// second's own Mem and caching the address project-wide.
	base2, err := second.GetVar(g)
	require.NoError(t, err)
	val2, err := second.Mem.Read(base2, 32)
	require.NoError(t, err)
	assertValueIs(t, s, val2, 42)

	// first references the same global afterward: it must get the same
	// address (project-wide cache hit) but still see the initializer in
	// its OWN Mem, not the default zero byte.
	base1, err := first.GetVar(g)
	require.NoError(t, err)
	assert.Equal(t, base2, base1)
	val1, err := first.Mem.Read(base1, 32)
	require.NoError(t, err)
	assertValueIs(t, s, val1, 42)
}

func assertValueIs(t *testing.T, s *solver.Solver, got bv.BV, want uint64) {
	t.Helper()
	s.Push()
	defer s.Pop()
	s.Assert(got.Ne(s.BVFromUint64(want, got.Len())))
	sat, err := s.CheckSat()
	require.NoError(t, err)
	assert.False(t, sat, "expected value to equal %d", want)
}

func TestGetVarUnboundErrors(t *testing.T) {
	p, s, mem := newFixture(t)
	fn := p.FuncByName("f")
	st, err := New(p, s, mem, fn, []bv.BV{s.Fresh("a", 32), s.Fresh("b", 32)})
	require.NoError(t, err)

	stray := ir.NewParam("stray", types.I32)
	_, err = st.GetVar(stray)
	assert.Error(t, err)
}
