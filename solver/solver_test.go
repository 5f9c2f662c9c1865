package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBVFromUint64RoundTrips(t *testing.T) {
	s := New(64)
	defer s.Close()

	c := s.BVFromUint64(0xDEADBEEF, 32)
	got, err := s.GetSolution(c)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xDEADBEEF), got.Uint64())
}

func TestFreshNamesAreUnique(t *testing.T) {
	s := New(64)
	defer s.Close()

	a := s.Fresh("x", 8)
	b := s.Fresh("x", 8)

	s.Push()
	defer s.Pop()
	s.Assert(a.Ne(b))
	sat, err := s.CheckSat()
	require.NoError(t, err)
	// a != b is satisfiable only if a and b are distinct symbols; two
	// handles to the same name would make it unsatisfiable.
	assert.True(t, sat)
}

func TestAssertNarrowsToExactSolution(t *testing.T) {
	s := New(64)
	defer s.Close()

	x := s.Fresh("x", 8)
	s.Assert(x.Eq(s.BVFromUint64(42, 8)))

	sols, err := s.GetSolutions(x, 5)
	require.NoError(t, err)
	assert.Equal(t, Exactly, sols.Kind)
	require.Len(t, sols.Values, 1)
	assert.Equal(t, uint64(42), sols.Values[0].Uint64())
}

func TestGetSolutionsReportsNoneWhenInfeasible(t *testing.T) {
	s := New(64)
	defer s.Close()

	x := s.Fresh("x", 8)
	s.Assert(x.Eq(s.BVFromUint64(1, 8)))
	s.Assert(x.Eq(s.BVFromUint64(2, 8)))

	sols, err := s.GetSolutions(x, 5)
	require.NoError(t, err)
	assert.Equal(t, None, sols.Kind)
	assert.Empty(t, sols.Values)

	_, err = s.GetSolution(x)
	assert.Error(t, err)
}

func TestGetSolutionsStopsAtMaxAndReportsAtLeast(t *testing.T) {
	s := New(64)
	defer s.Close()

	// Unconstrained 2-bit value has 4 satisfying assignments; ask for 2.
	x := s.Fresh("x", 2)
	sols, err := s.GetSolutions(x, 2)
	require.NoError(t, err)
	assert.Equal(t, AtLeast, sols.Kind)
	assert.Len(t, sols.Values, 2)
}

func TestPushPopIsolatesAssertions(t *testing.T) {
	s := New(64)
	defer s.Close()

	x := s.Fresh("x", 8)
	s.Push()
	s.Assert(x.Eq(s.BVFromUint64(1, 8)))
	sols, err := s.GetSolutions(x, 5)
	require.NoError(t, err)
	assert.Equal(t, Exactly, sols.Kind)
	assert.Equal(t, uint64(1), sols.Values[0].Uint64())
	s.Pop()

	// Back outside the scope, x is unconstrained again.
	sols, err = s.GetSolutions(x, 5)
	require.NoError(t, err)
	assert.Equal(t, AtLeast, sols.Kind)
	assert.Len(t, sols.Values, 5)
}

func TestAssertPanicsOnNonBooleanWidth(t *testing.T) {
	s := New(64)
	defer s.Close()

	x := s.Fresh("x", 8)
	assert.Panics(t, func() { s.Assert(x) })
}
