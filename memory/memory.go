// Package memory implements the symbolic byte-addressable heap: a map
// from pointer-width addresses to 8-bit cells, realized as an SMT array,
// with a bump-pointer allocator and (optionally) solver-checked bounds.
package memory

import (
	"fmt"

	"github.com/aclements/go-z3/z3"
	"github.com/sirupsen/logrus"

	"github.com/norlen/x0001e/bv"
	"github.com/norlen/x0001e/solver"
)

// BitsInByte is the width of one memory cell.
const BitsInByte = 8

// CheckOutOfBoundsDefault is the default bounds-checking policy for new
// Memory values (spec §4.2 "CHECK_OUT_OF_BOUNDS"); mirrors the
// compile-time constant of the same name referenced by the original
// implementation's test suite. Override per-instance with
// WithBoundsChecking.
var CheckOutOfBoundsDefault = true

// allocation records one live allocation's address range for bounds
// checks.
type allocation struct {
	base  uint64
	size  uint64
	align uint64
}

// Memory is a symbolic heap: a bit-vector array of width-8 cells indexed
// by pointer-width addresses, plus an allocation table used for bounds
// checks.
type Memory struct {
	s        *solver.Solver
	arr      z3.Array
	allocs   []allocation
	next     uint64
	ptrWidth uint32
	checkOOB bool
	log      logrus.FieldLogger
}

// Option configures a Memory at construction time.
type Option func(*Memory)

// WithBoundsChecking overrides CheckOutOfBoundsDefault for one Memory.
func WithBoundsChecking(enabled bool) Option {
	return func(m *Memory) { m.checkOOB = enabled }
}

// WithLogger overrides the memory's logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Memory) { m.log = log }
}

// New creates an empty Memory over the given solver, with addresses of
// ptrWidth bits.
func New(s *solver.Solver, ptrWidth uint32, opts ...Option) *Memory {
	ctx := s.Context()
	sort := ctx.ArraySort(ctx.BVSort(int(ptrWidth)), ctx.BVSort(BitsInByte))
	zeroByte := ctx.FromInt(0, ctx.BVSort(BitsInByte)).(z3.BV)
	m := &Memory{
		s:        s,
		arr:      ctx.ConstArray(sort, zeroByte),
		ptrWidth: ptrWidth,
		checkOOB: CheckOutOfBoundsDefault,
		log:      logrus.StandardLogger(),
		// Reserve address 0 so a null pointer never aliases a real
		// allocation.
		next: 16,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Clone returns a deep copy of m, suitable for a forked path: writes
// through the copy never affect the original (the z3 array value is
// immutable and functionally updated, and the allocation table/bump
// pointer are copied by value).
func (m *Memory) Clone() *Memory {
	allocs := make([]allocation, len(m.allocs))
	copy(allocs, m.allocs)
	return &Memory{
		s:        m.s,
		arr:      m.arr,
		allocs:   allocs,
		next:     m.next,
		ptrWidth: m.ptrWidth,
		checkOOB: m.checkOOB,
		log:      m.log,
	}
}

// alignUp rounds up v to the next multiple of alignment (alignment must
// be a power of two; 0 or 1 means unaligned).
func alignUp(v, alignment uint64) uint64 {
	if alignment <= 1 {
		return v
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

// Allocate reserves sizeBytes of fresh memory aligned to align bytes and
// returns its base address. Successive allocations never overlap.
func (m *Memory) Allocate(sizeBytes uint64, align uint64) (bv.BV, error) {
	if align > 1 && align&(align-1) != 0 {
		return bv.BV{}, &MemoryError{Kind: Unaligned, Msg: fmt.Sprintf("alignment %d is not a power of two", align)}
	}
	if sizeBytes == 0 {
		sizeBytes = 1
	}
	base := alignUp(m.next, align)
	m.next = base + sizeBytes
	m.allocs = append(m.allocs, allocation{base: base, size: sizeBytes, align: align})
	m.log.WithFields(logrus.Fields{"base": base, "size": sizeBytes, "align": align}).Trace("memory: allocate")
	return m.s.BVFromUint64(base, m.ptrWidth), nil
}

// covers reports whether the solver can PROVE that [addr, addr+nbytes)
// lies entirely within the allocation [a.base, a.base+a.size), i.e. the
// negation of that containment is unsatisfiable under the current
// assertion stack.
func (m *Memory) covers(addr bv.BV, nbytes uint64, a allocation) (bool, error) {
	base := m.s.BVFromUint64(a.base, m.ptrWidth)
	end := m.s.BVFromUint64(a.base+a.size, m.ptrWidth)
	accessEnd := addr.Add(m.s.BVFromUint64(nbytes, m.ptrWidth))

	inBounds := addr.Ugte(base).And(accessEnd.Ulte(end))

	m.s.Push()
	defer m.s.Pop()
	m.s.Assert(inBounds.Not())
	sat, err := m.s.CheckSat()
	if err != nil {
		return false, err
	}
	// If asserting "not in bounds" is unsatisfiable, the access is
	// always in bounds under current path constraints.
	return !sat, nil
}

// checkBounds returns nil if some live allocation is proven to cover
// [addr, addr+nbytes), or a *MemoryError{OutOfBounds} otherwise. It is
// a no-op when bounds checking is disabled.
func (m *Memory) checkBounds(addr bv.BV, nbytes uint64) error {
	if !m.checkOOB {
		return nil
	}
	for _, a := range m.allocs {
		ok, err := m.covers(addr, nbytes, a)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return &MemoryError{Kind: OutOfBounds}
}

// Read returns a BV of exactly widthBits read starting at addr,
// little-endian. Sub-byte widths still occupy one full byte on the
// wire; the low widthBits of that byte are the returned value.
func (m *Memory) Read(addr bv.BV, widthBits uint32) (bv.BV, error) {
	nbytes := (uint64(widthBits) + BitsInByte - 1) / BitsInByte
	if err := m.checkBounds(addr, nbytes); err != nil {
		return bv.BV{}, err
	}

	var result bv.BV
	for i := uint64(0); i < nbytes; i++ {
		offset := m.s.BVFromUint64(i, m.ptrWidth)
		byteAddr := addr.Add(offset)
		cell := bv.New(m.arr.Select(byteAddr.Raw()).(z3.BV), BitsInByte)
		if i == 0 {
			result = cell
		} else {
			// Little-endian: later bytes are more significant, so they
			// go in the high bits of the concat.
			result = cell.Concat(result)
		}
	}
	if uint64(widthBits) < nbytes*BitsInByte {
		result = result.Slice(0, widthBits-1)
	}
	return result, nil
}

// Write writes value.Len()/8 bytes (rounded up) starting at addr,
// little-endian.
func (m *Memory) Write(addr bv.BV, value bv.BV) error {
	width := value.Len()
	nbytes := (uint64(width) + BitsInByte - 1) / BitsInByte
	if err := m.checkBounds(addr, nbytes); err != nil {
		return err
	}

	padded := value
	if uint64(width) < nbytes*BitsInByte {
		padded = value.ZeroExt(uint32(nbytes * BitsInByte))
	}

	arr := m.arr
	for i := uint64(0); i < nbytes; i++ {
		cell := padded.Slice(uint32(i*BitsInByte), uint32(i*BitsInByte+BitsInByte-1))
		offset := m.s.BVFromUint64(i, m.ptrWidth)
		byteAddr := addr.Add(offset)
		arr = arr.Store(byteAddr.Raw(), cell.Raw()).(z3.Array)
	}
	m.arr = arr
	return nil
}
