package ir

import "fmt"

// Inst is the 64-bit IR instruction record from spec.md §3: opcode,
// type-with-guard flag, two 16-bit operand refs, and a link to the previous
// instruction of the same opcode (for CSE chain walks).
type Inst struct {
	Op    Op
	Ty    Type
	Op1   Ref
	Op2   Ref
	Prev  Ref // previous instruction with the same Op, or 0 if none
	Extra uint32 // SaveReason / fragment-id / field-index, opcode-dependent
}

// Pack returns the instruction's 64-bit wire form, matching the "64-bit
// record" layout spec.md §3 describes: 8 bits Op, 8 bits Ty, 16+16 bits
// operands, 16 bits Prev. Extra is carried out of band in Go (it would not
// fit); this method exists so tooling/tests can assert on the bit layout a
// faithful native port would use.
func (i Inst) Pack() uint64 {
	return uint64(i.Op) |
		uint64(i.Ty)<<8 |
		uint64(i.Op1)<<16 |
		uint64(i.Op2)<<32 |
		uint64(i.Prev)<<48
}

// Buffer is the two-ended IR buffer (C3): literals grow down from a
// mid-point bias, regular instructions grow up. Each opcode has a chain
// head pointing at the most recent instruction of that opcode, for CSE.
//
// Grounded on the teacher's IRFunc.Code flat-slice style (std/compiler/
// ir.go), generalized from a single growing slice into the two-ended,
// chain-linked layout spec.md §4.3 requires.
type Buffer struct {
	// insts holds instructions at index (ref - RefBias) for ref >= RefBias.
	insts []Inst
	// lits holds literals; lits[i] is the literal for ref == RefBias-1-i.
	lits []litEntry

	chain [NumOps]Ref // chain[op] = most recent Ref with that Op, or 0

	// barrierSeq is bumped on emission of anything that may break a
	// CSE or mergesnap opportunity (a guard or a side effect).
	barrierSeq uint32
	lastEmitSeq uint32
}

type litEntry struct {
	Ty  Type
	Val uint64
}

// New returns an empty buffer.
func New() *Buffer {
	b := &Buffer{
		insts: make([]Inst, 0, 64),
		lits:  make([]litEntry, 0, 32),
	}
	return b
}

// NextInstRef is the Ref that the next EmitRaw call will return.
func (b *Buffer) NextInstRef() Ref {
	return RefBias + Ref(len(b.insts))
}

// Get returns the instruction at ref. ref must be an instruction ref
// (>= RefBias); panics otherwise, mirroring the teacher's "unchecked append,
// checked read" discipline used throughout std/compiler/ir.go.
func (b *Buffer) Get(ref Ref) Inst {
	if ref < RefBias {
		panic(fmt.Sprintf("ir: Get called with literal ref %d", ref))
	}
	idx := int(ref - RefBias)
	if idx >= len(b.insts) {
		panic(fmt.Sprintf("ir: ref %d out of range (%d instructions)", ref, len(b.insts)))
	}
	return b.insts[idx]
}

// GetLiteral returns the (type, value) pair for a literal ref.
func (b *Buffer) GetLiteral(ref Ref) (Type, uint64) {
	idx := int(RefBias) - 1 - int(ref)
	if idx < 0 || idx >= len(b.lits) {
		panic(fmt.Sprintf("ir: literal ref %d out of range", ref))
	}
	e := b.lits[idx]
	return e.Ty, e.Val
}

// Len reports the number of regular instructions emitted so far.
func (b *Buffer) Len() int { return len(b.insts) }

// ChainHead returns the most recent instruction ref of the given opcode, or
// 0 (an invalid/sentinel ref, since real instructions start at RefBias) if
// none has been emitted yet.
func (b *Buffer) ChainHead(op Op) Ref { return b.chain[op] }

// EmitRaw appends an instruction unconditionally, linking it into its
// opcode's chain. This is the "unchecked append" API from spec.md §4.3;
// callers that want folding/CSE must go through the fold package's Emit.
func (b *Buffer) EmitRaw(op Op, ty Type, a, b2 Ref) Ref {
	ref := b.NextInstRef()
	prev := b.chain[op]
	b.insts = append(b.insts, Inst{Op: op, Ty: ty, Op1: a, Op2: b2, Prev: prev})
	b.chain[op] = ref
	b.lastEmitSeq++
	if op.HasSideEffect() || op.IsGuardOp() {
		b.barrierSeq = b.lastEmitSeq
	}
	return ref
}

// SetExtra stashes opcode-specific payload (SaveReason, field index,
// fragment id) on the most recently emitted instruction for ref.
func (b *Buffer) SetExtra(ref Ref, extra uint32) {
	idx := int(ref - RefBias)
	b.insts[idx].Extra = extra
}

// Literal scans the literal chains for an equal-value literal of the same
// type; if none exists, appends one. Mirrors spec.md §4.3's literal API:
// "scans chain[KWORD]/chain[KINT] for an equal-value literal of the same
// type; if none, appends."
func (b *Buffer) Literal(ty Type, val uint64) Ref {
	op := OpKINT
	if ty == PTR || ty == CLOS || ty == INFO || ty == PCTY {
		op = OpKWORD
	}
	for i, e := range b.lits {
		if e.Ty == ty && e.Val == val {
			_ = i
			return RefBias - 1 - Ref(i)
		}
	}
	_ = op
	b.lits = append(b.lits, litEntry{Ty: ty, Val: val})
	return RefBias - 1 - Ref(len(b.lits)-1)
}

// BaseLiteral interns offsetWords, a signed word offset relative to the
// trace's entry base pointer, as an ordinary PTR literal. The literal is not
// tagged with OpKBASEO: it is interned together with, and cannot be told
// apart from, an absolute PTR literal of the same value.
func (b *Buffer) BaseLiteral(offsetWords int64) Ref {
	return b.Literal(PTR, uint64(offsetWords))
}

// BarrierSeq returns a monotonically increasing counter that advances every
// time a side-effecting or guard instruction is emitted. The fold/CSE
// engine and the snapshot engine both use it to know whether anything has
// intervened since a given point (mergesnap, CSE-across-store blocking).
func (b *Buffer) BarrierSeq() uint32 { return b.barrierSeq }

// EmitSeq returns the sequence number of the most recently emitted
// instruction; interning a literal does not advance it. Used by mergesnap to detect "nothing was
// emitted between these two guards."
func (b *Buffer) EmitSeq() uint32 { return b.lastEmitSeq }

// Rewrite overwrites the instruction at ref in place, e.g. to convert a
// dead instruction to NOP during DCE (spec.md §4.8). It does not touch
// chain links: chains are only meaningful during recording/CSE, which has
// already finished by the time anything calls Rewrite.
func (b *Buffer) Rewrite(ref Ref, op Op, ty Type, a, b2 Ref) {
	idx := int(ref - RefBias)
	b.insts[idx] = Inst{Op: op, Ty: ty, Op1: a, Op2: b2, Prev: b.insts[idx].Prev}
}

// Each walks every regular instruction in emission order, ref included.
func (b *Buffer) Each(fn func(ref Ref, ins Inst)) {
	for i, ins := range b.insts {
		fn(RefBias+Ref(i), ins)
	}
}

// Mark returns a resettable snapshot of the buffer length, so the recorder
// can roll back on an abort without discarding the whole buffer struct.
type Mark struct {
	insts int
	lits  int
}

// Snapshot captures the current buffer extents.
func (b *Buffer) Snapshot() Mark { return Mark{insts: len(b.insts), lits: len(b.lits)} }

// Reset truncates the buffer back to a previously captured Mark. Chain
// heads are not rebuilt incrementally; Reset is only ever called on total
// abort (the whole trace is being discarded), so a full rebuild is
// acceptable and keeps the common path allocation-free.
func (b *Buffer) Reset(m Mark) {
	b.insts = b.insts[:m.insts]
	b.lits = b.lits[:m.lits]
	for op := range b.chain {
		b.chain[op] = 0
	}
	for i, ins := range b.insts {
		ref := RefBias + Ref(i)
		b.insts[i].Prev = b.chain[ins.Op]
		b.chain[ins.Op] = ref
	}
}
