// Package vm implements the instruction interpreter and the path
// explorer (VM) that drives it: a LIFO worklist of suspended states,
// popped and stepped one instruction at a time until each path
// terminates or forks (spec §4.5/§4.7).
package vm

import (
	"context"
	"iter"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/norlen/x0001e/bv"
	"github.com/norlen/x0001e/hooks"
	"github.com/norlen/x0001e/memory"
	"github.com/norlen/x0001e/project"
	"github.com/norlen/x0001e/solver"
	"github.com/norlen/x0001e/state"
)

// DefaultMaxIndirectTargets caps how many distinct concrete callees an
// indirect call resolves to before the engine gives up with a
// SolverError (spec §9 "indirect-call enumeration cap (16)").
const DefaultMaxIndirectTargets = 16

// Outcome is one path's terminal result: a normal return (Err == nil) or
// an abnormal termination. Err is a *VMError, except when Run's ctx is
// done (Err is ctx.Err()) or a hook fails with an error that is not an
// UnsupportedError, ArityError, MemoryError or EvalError (Err is that
// error unchanged).
type Outcome struct {
	StateID uuid.UUID
	Return  state.ReturnValue
	Err     error

	// Constraints is a snapshot of the path's constraint history at the
	// moment it terminated. The solver scope drive() replayed them into
	// is popped before Run returns (so a sibling's turn starts clean),
	// so a caller wanting a concrete witness for Return must reassert
	// these first — see Outcome.Witness.
	Constraints []bv.BV
}

// Ok reports whether the path completed normally.
func (o *Outcome) Ok() bool { return o.Err == nil }

// Witness re-establishes this path's constraints in a fresh solver
// scope, calls query, and pops the scope before returning — the
// supported way to concretize Return (or any other BV tied to this
// path) after the path has already completed.
func (o *Outcome) Witness(s *solver.Solver, query func() (solver.Concrete, error)) (solver.Concrete, error) {
	s.Push()
	defer s.Pop()
	for _, c := range o.Constraints {
		s.Assert(c)
	}
	return query()
}

// VM is the path explorer: one Solver and hook Registry shared by every
// state in a run, plus the LIFO worklist of states not yet driven to
// completion.
type VM struct {
	project *project.Project
	solver  *solver.Solver
	hooks   *hooks.Registry
	log     logrus.FieldLogger
	runID   uuid.UUID

	maxIndirectTargets int
	worklist           []*state.State
}

// Option configures a VM at construction time.
type Option func(*vmConfig)

type vmConfig struct {
	boundsChecking     *bool
	maxIndirectTargets int
	log                logrus.FieldLogger
	memOpts            []memory.Option
}

// WithBoundsChecking overrides memory.CheckOutOfBoundsDefault for every
// state this VM creates.
func WithBoundsChecking(enabled bool) Option {
	return func(c *vmConfig) { c.boundsChecking = &enabled }
}

// WithMaxIndirectTargets overrides DefaultMaxIndirectTargets.
func WithMaxIndirectTargets(max int) Option {
	return func(c *vmConfig) { c.maxIndirectTargets = max }
}

// WithLogger overrides the VM's (and its Solver/Memory's) logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *vmConfig) { c.log = log }
}

// New creates a VM seeded with a single state at entryName's entry
// block. Registered intrinsics cover the full table in hooks.NewWithDefaults.
func New(entryName string, p *project.Project, opts ...Option) (*VM, error) {
	fn := p.FuncByName(entryName)
	if fn == nil {
		return nil, UnknownFunctionErr(entryName)
	}

	cfg := &vmConfig{
		maxIndirectTargets: DefaultMaxIndirectTargets,
		log:                logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.boundsChecking != nil {
		cfg.memOpts = append(cfg.memOpts, memory.WithBoundsChecking(*cfg.boundsChecking))
	}
	cfg.memOpts = append(cfg.memOpts, memory.WithLogger(cfg.log))

	s := solver.New(p.PtrSize, solver.WithLogger(cfg.log))
	mem := memory.New(s, p.PtrSize, cfg.memOpts...)

	args := make([]bv.BV, len(fn.Params))
	for i, param := range fn.Params {
		width := uint32(p.Layout().BitSize(param.Type()))
		args[i] = s.Fresh(param.Name(), width)
	}
	entry, err := state.New(p, s, mem, fn, args)
	if err != nil {
		return nil, err
	}

	v := &VM{
		project:            p,
		solver:             s,
		hooks:              hooks.NewWithDefaults(),
		log:                cfg.log,
		runID:              uuid.New(),
		maxIndirectTargets: cfg.maxIndirectTargets,
		worklist:           []*state.State{entry},
	}
	v.log.WithFields(logrus.Fields{"run": v.runID, "entry": entryName}).Info("vm: starting run")
	return v, nil
}

// Close releases the VM's solver context (spec §5 "dropping the VM
// frees all queued states, solver, and memory").
func (v *VM) Close() {
	v.solver.Close()
}

// Solver returns the shared solver instance, for callers that want a
// concrete witness for a path's symbolic inputs or return value after
// it has completed (e.g. printing a reproducer).
func (v *VM) Solver() *solver.Solver { return v.solver }

func (v *VM) push(st *state.State) {
	v.worklist = append(v.worklist, st)
}

func (v *VM) pop() (*state.State, bool) {
	if len(v.worklist) == 0 {
		return nil, false
	}
	n := len(v.worklist) - 1
	st := v.worklist[n]
	v.worklist = v.worklist[:n]
	return st, true
}

// Run pops one suspended state and drives it to its next terminal point
// (return, error, or — internally — a fork that re-enqueues a sibling
// and keeps driving). It reports false once the worklist is empty.
func (v *VM) Run(ctx context.Context) (*Outcome, bool) {
	for {
		st, ok := v.pop()
		if !ok {
			return nil, false
		}
		return v.drive(ctx, st), true
	}
}

// Paths returns an iterator over every remaining path's Outcome, the Go
// idiom for the spec's "iteration over a VM yields the same sequence".
func (v *VM) Paths() iter.Seq[*Outcome] {
	return func(yield func(*Outcome) bool) {
		for {
			outcome, ok := v.Run(context.Background())
			if !ok {
				return
			}
			if !yield(outcome) {
				return
			}
		}
	}
}

// drive replays st's constraint history into a fresh solver scope, then
// steps instructions/terminators until the path completes, errors, or
// (internally) forks and keeps running as one successor. The scope is
// popped on return, so the next drive call starts from a clean slate
// regardless of what st or any sibling asserted.
func (v *VM) drive(ctx context.Context, st *state.State) *Outcome {
	st.Solver.Push()
	defer st.Solver.Pop()
	for _, c := range st.Constraints {
		st.Solver.Assert(c)
	}

	// finish stamps st's final constraint history onto an Outcome before
	// it escapes drive's solver scope, so a caller can later reassert
	// them (via Outcome.Witness) to concretize Return after the fact.
	finish := func(o *Outcome) *Outcome {
		o.Constraints = st.Constraints
		return o
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(&Outcome{StateID: st.ID, Err: err})
		}

		frame := st.Current()
		if frame == nil {
			return finish(&Outcome{StateID: st.ID, Err: MalformedErr("state has no active frame")})
		}
		if frame.Block == nil {
			return finish(&Outcome{StateID: st.ID, Err: MalformedErr("function %q has no entry block", frame.Func.Name())})
		}

		if frame.InstIdx < len(frame.Block.Insts) {
			inst := frame.Block.Insts[frame.InstIdx]
			frame.InstIdx++
			if err := v.execInst(st, inst); err != nil {
				return finish(&Outcome{StateID: st.ID, Err: err})
			}
			continue
		}

		result, err := v.execTerm(st, frame.Block.Term)
		if err != nil {
			return finish(&Outcome{StateID: st.ID, Err: err})
		}
		if result.Done != nil {
			return finish(result.Done)
		}
	}
}
