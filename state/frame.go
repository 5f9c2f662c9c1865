package state

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"

	"github.com/norlen/x0001e/bv"
)

// Frame is one call frame on a State's call stack: the function and
// block currently executing, the index of the next instruction to
// execute within that block, the bindings from IR values to their
// symbolic value in this frame, and where a `ret` from this frame
// should deliver its value.
type Frame struct {
	Func   *ir.Func
	Block  *ir.Block
	InstIdx int

	// PrevBlock is the block control flow entered Block from, used to
	// resolve `phi` instructions (spec §4.5 "phi").
	PrevBlock *ir.Block

	Locals map[value.Value]bv.BV

	// RetDst is the instruction whose result receives this frame's
	// return value once it is popped (nil for the entry frame, whose
	// return terminates the whole path).
	RetDst value.Value
}

// NewFrame creates a frame positioned at the first instruction of fn's
// entry block.
func NewFrame(fn *ir.Func, retDst value.Value) *Frame {
	var entry *ir.Block
	if len(fn.Blocks) > 0 {
		entry = fn.Blocks[0]
	}
	return &Frame{
		Func:    fn,
		Block:   entry,
		InstIdx: 0,
		Locals:  make(map[value.Value]bv.BV),
		RetDst:  retDst,
	}
}

// Get returns the BV bound to a local IR value within this frame, and
// whether it was found.
func (f *Frame) Get(v value.Value) (bv.BV, bool) {
	b, ok := f.Locals[v]
	return b, ok
}

// Set binds a local IR value to a BV within this frame.
func (f *Frame) Set(v value.Value, b bv.BV) {
	f.Locals[v] = b
}

// GotoBlock transfers control to block, recording the block being left
// so a subsequent `phi` can identify its incoming value, and resets the
// instruction cursor to the start of the new block.
func (f *Frame) GotoBlock(block *ir.Block) {
	f.PrevBlock = f.Block
	f.Block = block
	f.InstIdx = 0
}
