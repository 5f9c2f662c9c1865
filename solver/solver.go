// Package solver owns the single SMT bit-vector/array context shared by
// every state of one analysis run: fresh symbolic names and constants,
// path-constraint assertion, satisfiability queries, solution
// enumeration, and the push/pop scopes used to isolate forked paths.
package solver

import (
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/aclements/go-z3/z3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/norlen/x0001e/bv"
)

// Solver owns the SMT context for one analysis run. It is shared by
// reference across all states of that run; per-path isolation is
// achieved with Push/Pop scopes around each state's constraints.
type Solver struct {
	ctx    *z3.Context
	cfg    *z3.Config
	s      *z3.Solver
	log    logrus.FieldLogger
	fresh  uint64
	ptrBit uint32
}

// Option configures a Solver at construction time.
type Option func(*Solver)

// WithLogger overrides the solver's logger (default: logrus.StandardLogger()).
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Solver) { s.log = log }
}

// New creates a Solver with a fresh z3 context, configured for the
// quantifier-free bit-vector + array logic this engine needs.
func New(ptrBits uint32, opts ...Option) *Solver {
	cfg := z3.NewConfig()
	ctx := z3.NewContext(cfg)
	s := &Solver{
		ctx:    ctx,
		cfg:    cfg,
		s:      z3.NewSolver(ctx),
		log:    logrus.StandardLogger(),
		ptrBit: ptrBits,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying z3 context. Safe to call once a VM
// using this Solver is discarded (spec §5 "dropping the VM frees ...
// the solver").
func (s *Solver) Close() {
	s.ctx.Close()
	s.cfg.Close()
}

// Context returns the raw z3 context, for package memory's array sort
// construction only.
func (s *Solver) Context() *z3.Context { return s.ctx }

// PtrWidth returns the pointer width in bits this solver was created with.
func (s *Solver) PtrWidth() uint32 { return s.ptrBit }

// BVFromUint64 returns a concrete constant BV of the given width holding
// value (truncated to width if it doesn't fit).
func (s *Solver) BVFromUint64(value uint64, width uint32) bv.BV {
	ast := s.ctx.FromInt(int64(value), s.ctx.BVSort(int(width))).(z3.BV)
	return bv.New(ast, width)
}

// BVFromBigInt returns a concrete constant BV of the given width holding
// value.
func (s *Solver) BVFromBigInt(value *big.Int, width uint32) bv.BV {
	ast := s.ctx.FromBigInt(value, s.ctx.BVSort(int(width))).(z3.BV)
	return bv.New(ast, width)
}

// BVFromInt64 returns a concrete constant BV of the given width holding
// the signed value.
func (s *Solver) BVFromInt64(value int64, width uint32) bv.BV {
	ast := s.ctx.FromInt(value, s.ctx.BVSort(int(width))).(z3.BV)
	return bv.New(ast, width)
}

// Fresh returns a brand-new symbolic bit-vector of the given width, with
// a name unique within this solver (hint is used as a human-readable
// prefix only, for debugging; it is not semantically significant).
func (s *Solver) Fresh(hint string, width uint32) bv.BV {
	id := atomic.AddUint64(&s.fresh, 1)
	name := fmt.Sprintf("%s_%d", hint, id)
	ast := s.ctx.Const(s.ctx.Symbol(name), s.ctx.BVSort(int(width))).(z3.BV)
	s.log.WithFields(logrus.Fields{"name": name, "width": width}).Trace("solver: fresh symbol")
	return bv.New(ast, width)
}

// Assert asserts that cond (a width-1 BV) is true in the current scope.
// cond is true iff it equals the all-ones pattern of width 1.
func (s *Solver) Assert(cond bv.BV) {
	if cond.Len() != 1 {
		panic(fmt.Sprintf("solver: Assert requires width-1 BV, got %d", cond.Len()))
	}
	one := s.ctx.FromInt(1, s.ctx.BVSort(1)).(z3.BV)
	s.s.Assert(cond.Raw().Eq(one))
}

// Push opens a new assertion scope. Constraints asserted after Push are
// discarded by the matching Pop. Used at every fork to isolate one
// successor's constraints from its siblings.
func (s *Solver) Push() {
	s.s.Push()
}

// Pop discards the most recently opened assertion scope.
func (s *Solver) Pop() {
	s.s.Pop(1)
}

// CheckSat reports whether the current assertion stack is satisfiable.
func (s *Solver) CheckSat() (bool, error) {
	sat, err := s.s.Check()
	if err != nil {
		return false, errors.Wrap(err, "solver: check failed")
	}
	return sat, nil
}

// Concrete is one satisfying assignment for a BV, as returned by
// GetSolutions.
type Concrete struct {
	Value *big.Int
	Width uint32
}

// Uint64 returns the low 64 bits of the solution.
func (c Concrete) Uint64() uint64 {
	return c.Value.Uint64()
}

// Kind tags the completeness of a Solutions result.
type Kind int

const (
	// None means the BV has no satisfying assignment under the current
	// constraints (the path itself is infeasible).
	None Kind = iota
	// Exactly means every satisfying assignment was enumerated.
	Exactly
	// AtLeast means enumeration stopped at max; more solutions may exist.
	AtLeast
)

// Solutions is the result of enumerating distinct values a BV can take.
type Solutions struct {
	Kind   Kind
	Values []Concrete
}

// GetSolutions enumerates up to max distinct satisfying assignments for
// b under the solver's current constraints, by repeatedly solving,
// reading the model, and excluding the found value.
func (s *Solver) GetSolutions(b bv.BV, max int) (Solutions, error) {
	var found []Concrete
	s.Push()
	defer s.Pop()

	for len(found) < max {
		sat, err := s.CheckSat()
		if err != nil {
			return Solutions{}, err
		}
		if !sat {
			break
		}
		model := s.s.Model()
		val := model.Eval(b.Raw(), true).(z3.BV)
		lit, ok := val.AsBigInt()
		if !ok {
			return Solutions{}, errors.New("solver: model value is not a literal")
		}
		found = append(found, Concrete{Value: lit, Width: b.Len()})

		// Exclude this exact value and search for another.
		excl := b.Raw().Eq(val)
		s.s.Assert(excl.Not())
	}

	if len(found) == 0 {
		return Solutions{Kind: None}, nil
	}
	if len(found) >= max {
		return Solutions{Kind: AtLeast, Values: found}, nil
	}
	return Solutions{Kind: Exactly, Values: found}, nil
}

// GetSolution returns a single satisfying assignment for b, or an error
// if the path is infeasible.
func (s *Solver) GetSolution(b bv.BV) (Concrete, error) {
	sols, err := s.GetSolutions(b, 1)
	if err != nil {
		return Concrete{}, err
	}
	if sols.Kind == None {
		return Concrete{}, errors.New("solver: unsatisfiable, no solution")
	}
	return sols.Values[0], nil
}
