// Package project holds the frozen, read-only descriptor of a loaded
// LLVM module: its type table, function table, globals, and target
// data layout. A Project is built once per analysis run and shared by
// reference across every path; nothing in it mutates except the
// lazily-populated global base-pointer cache, which is safe to share
// because it is populated at most once per global and never removed.
package project

import (
	"os"
	"os/exec"
	"sync"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/norlen/x0001e/bv"
)

// ProjectError is returned by Load when a module cannot be loaded or
// fails validation.
type ProjectError struct {
	Path string
	Err  error
}

func (e *ProjectError) Error() string {
	return "project: " + e.Path + ": " + e.Err.Error()
}

func (e *ProjectError) Unwrap() error { return e.Err }

// Project is the immutable, shared view of one loaded LLVM module.
type Project struct {
	Module  *ir.Module
	PtrSize uint32 // pointer width in bits

	funcs   map[string]*ir.Func
	globals map[string]*ir.Global
	layout  *TypeLayout

	globalBaseMu sync.Mutex
	globalBase   map[string]bv.BV
}

// DefaultPtrSize is the pointer width, in bits, of every Project that
// FromModule builds (LLVM's own default for unspecified `target
// datalayout`); the module's data layout string is not read.
const DefaultPtrSize = 64

// FromModule builds a Project directly from an already-parsed *ir.Module,
// useful for tests that construct IR in-process instead of compiling a
// .bc fixture (the bitcode parser is an external collaborator per the
// spec's scope, §1).
func FromModule(m *ir.Module) *Project {
	p := &Project{
		Module:     m,
		PtrSize:    DefaultPtrSize,
		funcs:      make(map[string]*ir.Func),
		globals:    make(map[string]*ir.Global),
		globalBase: make(map[string]bv.BV),
	}
	for _, f := range m.Funcs {
		p.funcs[f.Name()] = f
	}
	for _, g := range m.Globals {
		p.globals[g.Name()] = g
	}
	p.layout = newTypeLayout(p)
	return p
}

// Load parses a single bitcode file into a Project. Bitcode parsing
// itself is out of this engine's scope (spec §1): this shells out to
// llvm-dis to obtain textual IR, then parses that with llir/llvm/asm,
// which is the "typed IR" the rest of the engine assumes as input.
func Load(path string) (*Project, error) {
	llPath, cleanup, err := disassemble(path)
	if err != nil {
		return nil, &ProjectError{Path: path, Err: err}
	}
	defer cleanup()

	m, err := asm.ParseFile(llPath)
	if err != nil {
		return nil, &ProjectError{Path: path, Err: errors.Wrap(err, "parse IR")}
	}
	logrus.WithField("path", path).Debug("project: loaded module")
	return FromModule(m), nil
}

// disassemble invokes llvm-dis on a .bc file and returns the path to
// the resulting .ll file plus a cleanup function that removes it.
func disassemble(bcPath string) (string, func(), error) {
	tmp, err := os.CreateTemp("", "x0001e-*.ll")
	if err != nil {
		return "", func() {}, errors.Wrap(err, "create temp file")
	}
	tmp.Close()

	cmd := exec.Command("llvm-dis", bcPath, "-o", tmp.Name())
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(tmp.Name())
		return "", func() {}, errors.Wrapf(err, "llvm-dis: %s", string(out))
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

// FuncByName returns the function with the given (possibly mangled)
// name, or nil if none is defined in this module.
func (p *Project) FuncByName(name string) *ir.Func {
	return p.funcs[name]
}

// GlobalByName returns the global variable with the given name, or nil.
func (p *Project) GlobalByName(name string) *ir.Global {
	return p.globals[name]
}

// Funcs returns every function defined in this module, for indirect-call
// target resolution (spec §4.5 "Indirect calls").
func (p *Project) Funcs() []*ir.Func {
	funcs := make([]*ir.Func, 0, len(p.funcs))
	for _, f := range p.funcs {
		funcs = append(funcs, f)
	}
	return funcs
}

// Layout returns the type-layout calculator for this project.
func (p *Project) Layout() *TypeLayout { return p.layout }

// CachedGlobalBase returns the previously-materialized base pointer for
// a global, if any. Used by package state to avoid re-allocating a
// global's backing memory on every reference (spec §9 "Globals").
func (p *Project) CachedGlobalBase(name string) (bv.BV, bool) {
	p.globalBaseMu.Lock()
	defer p.globalBaseMu.Unlock()
	b, ok := p.globalBase[name]
	return b, ok
}

// SetCachedGlobalBase records the base pointer materialized for a
// global the first time it is referenced. Safe to call concurrently
// from multiple exploring paths; the first caller wins — this is
// read-only from every path's point of view after that.
func (p *Project) SetCachedGlobalBase(name string, base bv.BV) bv.BV {
	p.globalBaseMu.Lock()
	defer p.globalBaseMu.Unlock()
	if existing, ok := p.globalBase[name]; ok {
		return existing
	}
	p.globalBase[name] = base
	return base
}
