package asm

// CodeBuffer writes machine code into the tail of an Arena, growing
// downward: the next instruction's bytes land immediately below the last
// one written (spec.md §4.9 "reverse-growing machine-code buffer"). This
// matches how the allocator discovers what to emit (backward, last-use
// first) so the two walk in the same direction without either having to
// reverse a list afterward.
type CodeBuffer struct {
	mem []byte
	pos int // next write ends at pos; bytes occupy [pos, len(mem))
}

// NewCodeBuffer wraps an arena's backing storage, starting at its top end.
func NewCodeBuffer(mem []byte) *CodeBuffer {
	return &CodeBuffer{mem: mem, pos: len(mem)}
}

// Pos returns the address (as an offset into the arena) of the start of the
// lowest instruction written so far; the next instruction emitted ends
// there.
func (c *CodeBuffer) Pos() int { return c.pos }

// Emit writes bs so that bs[0] ends up at the lowest address: the
// instruction reads forward exactly as encoded, it is only the buffer's
// fill direction that runs backward.
func (c *CodeBuffer) Emit(bs ...byte) int {
	start := c.pos - len(bs)
	copy(c.mem[start:c.pos], bs)
	c.pos = start
	return start
}

// PatchRel32 overwrites a 4-byte little-endian relative displacement at
// offset off (an absolute arena offset, as returned by Pos/Emit), once the
// real target address is known — used for exit-branch fixups emitted
// before the exit stub they target exists yet.
func (c *CodeBuffer) PatchRel32(off int, rel int32) {
	c.mem[off] = byte(rel)
	c.mem[off+1] = byte(rel >> 8)
	c.mem[off+2] = byte(rel >> 16)
	c.mem[off+3] = byte(rel >> 24)
}

// Bytes returns the code written so far, in execution order.
func (c *CodeBuffer) Bytes() []byte { return c.mem[c.pos:] }
