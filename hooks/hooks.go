// Package hooks implements the intrinsic registry (I) and the general
// hook-extension mechanism (H) from spec §4.6/§6: name-dispatch tables
// for `llvm.*` intrinsics and arbitrary native-function models, plus
// the concrete bodies for every intrinsic the spec names.
//
// Hook takes a *state.State rather than a *vm.VM (as the original
// Rust implementation's hooks do) so this package does not import
// package vm — package vm imports hooks to drive dispatch, and a Hook
// only ever needs operand evaluation, memory, and the solver, all of
// which live on State. This sidesteps a vm<->hooks import cycle while
// keeping the same hook contract spec §6 describes.
package hooks

import (
	"strings"

	"github.com/armon/go-radix"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/norlen/x0001e/state"
)

// Argument is one evaluated call argument together with its IR type.
type Argument struct {
	Operand value.Value
	Type    types.Type
}

// FnInfo exposes a call's argument operands (not yet evaluated to BVs —
// hooks call st.GetVar themselves, matching the original's (&Operand,
// &Type) tuples) to a Hook.
type FnInfo struct {
	Name      string
	Arguments []Argument
}

// Hook models a non-bitcode function: an LLVM intrinsic or an external
// native function the engine has a semantic model for.
type Hook func(st *state.State, f FnInfo) (state.ReturnValue, error)

// IsIntrinsic reports whether name looks like an LLVM intrinsic
// (spec §4.6: "checks that the name starts with llvm.").
func IsIntrinsic(name string) bool {
	return strings.HasPrefix(name, "llvm.")
}

// Registry holds the intrinsic tables (fixed exact-name + longest
// -prefix) and the separate external-hook table (§4.5 "external hook
// registry H").
type Registry struct {
	fixed    map[string]Hook
	variable *radix.Tree
	external map[string]Hook
}

// NewWithDefaults builds a Registry with every intrinsic spec.md and
// its §4.6 table (plus the supplemental ones named in SPEC_FULL.md
// §4.6) registered.
func NewWithDefaults() *Registry {
	r := &Registry{
		fixed:    make(map[string]Hook),
		variable: radix.New(),
		external: make(map[string]Hook),
	}
	r.addFixed("llvm.assume", llvmAssume)
	r.addFixed("llvm.va_start", noop)
	r.addFixed("llvm.va_end", noop)

	r.addVariable("llvm.memcpy.", llvmMemcpy)
	r.addVariable("llvm.memmove.", llvmMemcpy) // no overlap modelling distinction in this engine
	r.addVariable("llvm.memset.", llvmMemset)

	r.addVariable("llvm.umax.", makeMinMax(true, true))
	r.addVariable("llvm.umin.", makeMinMax(true, false))
	r.addVariable("llvm.smax.", makeMinMax(false, true))
	r.addVariable("llvm.smin.", makeMinMax(false, false))

	r.addVariable("llvm.sadd.with.overflow.", makeOverflow(overflowSAdd))
	r.addVariable("llvm.uadd.with.overflow.", makeOverflow(overflowUAdd))
	r.addVariable("llvm.ssub.with.overflow.", makeOverflow(overflowSSub))
	r.addVariable("llvm.usub.with.overflow.", makeOverflow(overflowUSub))
	r.addVariable("llvm.smul.with.overflow.", makeOverflow(overflowSMul))
	r.addVariable("llvm.umul.with.overflow.", makeOverflow(overflowUMul))

	r.addVariable("llvm.sadd.sat.", makeSaturate(saturateSAdd))
	r.addVariable("llvm.uadd.sat.", makeSaturate(saturateUAdd))
	r.addVariable("llvm.ssub.sat.", unsupported)
	r.addVariable("llvm.usub.sat.", unsupported)
	r.addVariable("llvm.sshl.sat.", unsupported)
	r.addVariable("llvm.ushl.sat.", unsupported)

	r.addVariable("llvm.expect.", llvmExpect)
	r.addVariable("llvm.expect.with.probability.", llvmExpect)

	r.addVariable("llvm.dbg.", noop)
	r.addVariable("llvm.lifetime.", noop)
	r.addVariable("llvm.experimental.", noop)

	// Floating point and libm-like intrinsics are explicitly deferred
	// (spec §9 open question 5): never silently no-op.
	for _, prefix := range []string{
		"llvm.sqrt.", "llvm.powi.", "llvm.sin.", "llvm.cos.", "llvm.pow.",
		"llvm.exp.", "llvm.exp2.", "llvm.log.", "llvm.log10.", "llvm.log2.",
		"llvm.fma.", "llvm.fabs.", "llvm.minnum.", "llvm.maxnum.",
		"llvm.minimum.", "llvm.maximum.", "llvm.copysign.", "llvm.floor.",
		"llvm.ceil.", "llvm.trunc.", "llvm.rint.", "llvm.nearbyint.",
		"llvm.round.", "llvm.roundeven.", "llvm.lround.", "llvm.llround.",
		"llvm.lrint.", "llvm.llrint.", "llvm.abs.",
	} {
		r.addVariable(prefix, unsupported)
	}

	return r
}

func (r *Registry) addFixed(name string, h Hook)    { r.fixed[name] = h }
func (r *Registry) addVariable(prefix string, h Hook) { r.variable.Insert(prefix, h) }

// RegisterHook adds a (name, Hook) pair to the external hook table
// (spec §6 "Registry accepts (name, Hook) pairs"), for non-LLVM native
// functions the caller wants modelled.
func (r *Registry) RegisterHook(name string, h Hook) {
	r.external[name] = h
}

// Lookup resolves a called function name to a Hook: intrinsics first
// (exact name, else longest prefix match), then external hooks. The
// second return value is false if name is neither.
func (r *Registry) Lookup(name string) (Hook, bool) {
	if IsIntrinsic(name) {
		if h, ok := r.fixed[name]; ok {
			return h, true
		}
		if _, h, ok := r.variable.LongestPrefix(name); ok {
			return h.(Hook), true
		}
		return nil, false
	}
	h, ok := r.external[name]
	return h, ok
}
