package recorder

import (
	"github.com/csabahruska/lambdachine/internal/bytecode"
	"github.com/csabahruska/lambdachine/internal/ir"
)

// Observation carries the concrete runtime facts the interpreter has
// already observed for the instruction currently being recorded — the
// "specializing on observed runtime values" input spec.md §1 and §4.7
// describe. The interpreter (an external collaborator) is the only thing
// that can supply these; the recorder never reads interpreter memory
// itself.
type Observation struct {
	// Bool is the observed truth value of a comparison (ISLT..ISNE).
	Bool bool
	// ConcreteType answers the concrete type of an as-yet-untouched slot,
	// for lazy SLOAD emission (spec.md §3).
	ConcreteType ir.ConcreteType
	// Info is the concrete info table observed for an EVAL/CASE/generic-
	// apply target.
	Info *bytecode.InfoTable
	// IsIndirection reports whether the EVAL target was an indirection
	// that had to be followed.
	IsIndirection bool
	// ReturnPC is the concrete return-PC value read from the stack, for a
	// RET1/IRET/RETN guard.
	ReturnPC bytecode.PC
	// FieldValues supplies concrete field contents read while following an
	// indirection (for the FLOAD the recorder emits).
	FieldValues []uint64
	// CallTarget supplies the classification generic apply needs for a
	// CALL/CALLT instruction (spec.md §4.7.1).
	CallTarget *CallTarget
}

// RecordIns processes one interpreter instruction, mirroring spec.md §6's
// `record_ins(ins, base, code) -> Status`. obs supplies whatever concrete
// runtime facts this instruction's specialization needs; callers that
// don't know yet (most arithmetic/move instructions) may pass a zero
// Observation.
func (r *Recorder) RecordIns(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	if st, ab := r.checkTraceLength(); st == StatusAborted {
		return st, ab
	}

	switch ins.Op {
	case bytecode.OpLOADK:
		return r.recordLoadK(ins)
	case bytecode.OpMOV:
		return r.recordMov(ins)
	case bytecode.OpADDRR, bytecode.OpSUBRR, bytecode.OpMULRR,
		bytecode.OpDIVRR, bytecode.OpREMRR,
		bytecode.OpBAND, bytecode.OpBOR, bytecode.OpBXOR,
		bytecode.OpBSHL, bytecode.OpBSHR:
		return r.recordArith(ins, obs)
	case bytecode.OpNEG, bytecode.OpBNOT:
		return r.recordUnary(ins, obs)
	case bytecode.OpISLT, bytecode.OpISGE, bytecode.OpISLE,
		bytecode.OpISGT, bytecode.OpISEQ, bytecode.OpISNE,
		bytecode.OpISLTU, bytecode.OpISGEU, bytecode.OpISLEU, bytecode.OpISGTU:
		return r.recordComparison(ins, obs)
	case bytecode.OpALLOC1, bytecode.OpALLOC, bytecode.OpALLOCAP:
		return r.recordAlloc(ins, obs)
	case bytecode.OpCASE, bytecode.OpCASES:
		return r.recordCase(ins, obs)
	case bytecode.OpEVAL:
		return r.recordEval(ins, obs)
	case bytecode.OpCALL, bytecode.OpCALLT:
		return r.recordCall(ins, obs)
	case bytecode.OpRET1, bytecode.OpIRET, bytecode.OpRETN:
		return r.recordReturn(ins, obs)
	case bytecode.OpUPDATE:
		return r.recordUpdate(ins, obs)
	case bytecode.OpMOVRES:
		return r.recordMovRes(ins, obs)
	case bytecode.OpLOADF:
		return r.recordLoadF(ins, obs)
	case bytecode.OpLOADFV:
		return r.recordLoadFV(ins, obs)
	case bytecode.OpLOADSLF:
		return r.recordLoadSlf(ins, obs)
	case bytecode.OpGETTAG:
		return r.recordGetTag(ins, obs)
	case bytecode.OpPTROFSC:
		return r.recordPtrOfsC(ins, obs)
	case bytecode.OpJMP:
		return r.recordJump(ins)
	case bytecode.OpSTOP:
		return r.finish(FinishFallthrough, 0)
	default:
		return r.abort(AbortNYI, nil)
	}
}

// FrameSize is the fixed word offset MOV_RES adds on top of the post-return
// top/base when computing its result slot (spec.md §4.7.1 step 3, mirroring
// the original source's `topslot + FRAME_SIZE + d` addressing at
// jit.cc:1140-1150). The original's frame header is several words wide; this
// model's only frame-header slot is the single return-PC word at base-1,
// which sits outside the [base, top) result range already, so no additional
// offset is needed here.
const FrameSize = 0

// resultSlot computes the abstract slot a call result lives in, anchored at
// anchor (the caller's r.Slots.Top() right after a real CALL/RET pair
// collapses back to it, or the unchanged r.Slots.Top() for a partial-apply
// that synthesizes its result without ever pushing a callee frame).
func resultSlot(anchor, d int) int { return anchor + FrameSize + d }

// recordMovRes implements MOV_RES: read the value a preceding CALL/RET pair
// (recordReturn) or partial-apply (recordPartialApply) deposited in the
// result-slot convention, then move it into the destination register,
// matching jit.cc:1140-1150's read-then-clear-then-move sequence.
func (r *Recorder) recordMovRes(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	slot := resultSlot(r.Slots.Top(), ins.D)
	result := r.Slots.Get(r.Buf, slot, concreteTypeOf(obs))
	r.Slots.Clear(slot)
	r.Slots.Set(ins.A, result)
	return StatusContinue, nil
}

// selfSlot returns the abstract slot holding the currently executing
// closure's own node pointer, which LOADSLF/LOADFV read upvalues through.
// base-1 already carries the return PC (recordReturn's curRetSlot); self
// lives one slot further down, grounded on jit.cc's separate "slot -1"
// bookkeeping register (jit.cc:1024-1026, :1192-1198) relative to the
// original's wider frame header.
func (r *Recorder) selfSlot() int { return r.Slots.Base() - 2 }

// recordLoadSlf implements LOADSLF: copy the self-closure reference into the
// destination register (jit.cc:1024-1026).
func (r *Recorder) recordLoadSlf(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	self := r.Slots.Get(r.Buf, r.selfSlot(), concreteTypeOf(obs))
	r.Slots.Set(ins.A, self)
	return StatusContinue, nil
}

// recordLoadF implements LOADF: load field ins.C of the closure in ins.B
// (jit.cc:1185-1190). The original emits a dedicated FREF address-of-field
// op followed by FLOAD; this IR doesn't distinguish the two steps, so the
// field index is passed directly as FLOAD's second operand, the same way
// eval.go and apply.go already pass a raw field index to OpFLOAD.
func (r *Recorder) recordLoadF(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	rbase := r.Slots.Get(r.Buf, ins.B, concreteTypeOf(obs))
	res := r.Buf.EmitRaw(ir.OpFLOAD, ir.UNKNOWN, rbase.Ref, ir.Ref(ins.C))
	r.Slots.Set(ins.A, ir.TRef{Ref: res, Ty: ir.UNKNOWN})
	return StatusContinue, nil
}

// recordLoadFV implements LOADFV: like LOADF, but the base is the currently
// executing closure's own self-reference rather than an explicit register,
// and the field index is ins.D (jit.cc:1192-1198).
func (r *Recorder) recordLoadFV(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	self := r.Slots.Get(r.Buf, r.selfSlot(), concreteTypeOf(obs))
	res := r.Buf.EmitRaw(ir.OpFLOAD, ir.UNKNOWN, self.Ref, ir.Ref(ins.D))
	r.Slots.Set(ins.A, ir.TRef{Ref: res, Ty: ir.UNKNOWN})
	return StatusContinue, nil
}

// recordPtrOfsC implements PTROFSC: load from a pointer at a dynamic
// (runtime-computed) offset, as opposed to LOADF's compile-time field index
// (jit.cc:906-913). The original uses a dedicated PLOAD op; this IR reuses
// FLOAD with the offset ref passed straight through as the second operand,
// since FLOAD's encoding doesn't otherwise care whether that operand is a
// literal field index or a computed ref.
func (r *Recorder) recordPtrOfsC(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	ptr := r.Slots.Get(r.Buf, ins.B, concreteTypeOf(obs))
	ofs := r.Slots.Get(r.Buf, ins.C, concreteTypeOf(obs))
	res := r.Buf.EmitRaw(ir.OpFLOAD, ir.I64, ptr.Ref, ofs.Ref)
	r.Slots.Set(ins.A, ir.TRef{Ref: res, Ty: ir.I64})
	return StatusContinue, nil
}

// recordGetTag implements GETTAG: guard the scrutinee's info table (the
// same specialization recordCase performs) and replace the tag with a
// compile-time literal (jit.cc:1306-1315). The original's scrutinee operand
// is ins.D, not ins.A/ins.B, matching the bytecode surface this guards.
func (r *Recorder) recordGetTag(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	if obs.Info == nil {
		return r.abort(AbortNYI, nil)
	}
	scrut := r.Slots.Get(r.Buf, ins.D, concreteTypeOf(obs))
	infoRef := r.Buf.Literal(ir.INFO, infoTableKey(obs.Info))
	guardRef, err := r.Fold.EmitGuard(ir.OpEQINFO, scrut.Ref, infoRef, true)
	if err != nil {
		return r.abort(AbortKnownFailingGuard, err)
	}
	r.snapshotHere(guardRef, obs.ReturnPC)
	tagRef := r.Buf.Literal(ir.I64, uint64(obs.Info.Tag-1))
	r.Slots.Set(ins.A, ir.TRef{Ref: tagRef, Ty: ir.I64})
	return StatusContinue, nil
}

func (r *Recorder) recordLoadK(ins bytecode.Instruction) (Status, *Abort) {
	ref := r.Buf.Literal(ir.I64, uint64(ins.D))
	r.Slots.Set(ins.A, ir.TRef{Ref: ref, Ty: ir.I64})
	return StatusContinue, nil
}

func (r *Recorder) recordMov(ins bytecode.Instruction) (Status, *Abort) {
	src := r.Slots.Get(r.Buf, ins.B, noopConcreteType)
	r.Slots.Set(ins.A, src)
	return StatusContinue, nil
}

var arithOp = map[bytecode.Op]ir.Op{
	bytecode.OpADDRR: ir.OpADD,
	bytecode.OpSUBRR: ir.OpSUB,
	bytecode.OpMULRR: ir.OpMUL,
	bytecode.OpDIVRR: ir.OpDIV,
	bytecode.OpREMRR: ir.OpREM,
	bytecode.OpBAND:  ir.OpBAND,
	bytecode.OpBOR:   ir.OpBOR,
	bytecode.OpBXOR:  ir.OpBXOR,
	bytecode.OpBSHL:  ir.OpBSHL,
	bytecode.OpBSHR:  ir.OpBSHR,
}

func (r *Recorder) recordArith(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	op := arithOp[ins.Op]
	lhs := r.Slots.Get(r.Buf, ins.B, concreteTypeOf(obs))
	rhs := r.Slots.Get(r.Buf, ins.C, concreteTypeOf(obs))
	ref, err := r.Fold.Emit(op, lhs.Ty, lhs.Ref, rhs.Ref)
	if err != nil {
		return r.abort(AbortKnownFailingGuard, err)
	}
	r.Slots.Set(ins.A, ir.TRef{Ref: ref, Ty: lhs.Ty})
	return StatusContinue, nil
}

func (r *Recorder) recordUnary(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	op := ir.OpNEG
	if ins.Op == bytecode.OpBNOT {
		op = ir.OpBNOT
	}
	src := r.Slots.Get(r.Buf, ins.B, concreteTypeOf(obs))
	ref, err := r.Fold.Emit(op, src.Ty, src.Ref, 0)
	if err != nil {
		return r.abort(AbortKnownFailingGuard, err)
	}
	r.Slots.Set(ins.A, ir.TRef{Ref: ref, Ty: src.Ty})
	return StatusContinue, nil
}

var cmpOp = map[bytecode.Op]ir.Op{
	bytecode.OpISLT:  ir.OpLT,
	bytecode.OpISGE:  ir.OpGE,
	bytecode.OpISLE:  ir.OpLE,
	bytecode.OpISGT:  ir.OpGT,
	bytecode.OpISEQ:  ir.OpEQ,
	bytecode.OpISNE:  ir.OpNE,
	bytecode.OpISLTU: ir.OpULT,
	bytecode.OpISGEU: ir.OpUGE,
	bytecode.OpISLEU: ir.OpULE,
	bytecode.OpISGTU: ir.OpUGT,
}

// recordComparison implements spec.md §4.7's comparison rule: evaluate the
// observed truth value, then emit the guard with the comparison operator
// inverted iff the observed value is false, specializing on the taken
// branch.
func (r *Recorder) recordComparison(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	op := cmpOp[ins.Op]
	lhs := r.Slots.Get(r.Buf, ins.A, concreteTypeOf(obs))
	rhs := r.Slots.Get(r.Buf, ins.B, concreteTypeOf(obs))
	guardRef, err := r.Fold.EmitGuard(op, lhs.Ref, rhs.Ref, obs.Bool)
	if err != nil {
		return r.abort(AbortKnownFailingGuard, err)
	}
	r.snapshotHere(guardRef, bytecode.PC(ins.D))
	return StatusContinue, nil
}

func noopConcreteType(slot int) ir.Type { return ir.UNKNOWN }

func concreteTypeOf(obs Observation) ir.ConcreteType {
	if obs.ConcreteType != nil {
		return obs.ConcreteType
	}
	return noopConcreteType
}

// recordJump handles a bare JMP: if it targets a PC already visited at an
// equal-or-shallower call-stack depth, this is a loop; otherwise recording
// simply continues into the fallthrough instruction stream. This is the
// entry point spec.md §4.2's is_true_loop feeds into.
func (r *Recorder) recordJump(ins bytecode.Instruction) (Status, *Abort) {
	target := bytecode.PC(ins.D)
	idx := r.BTB.IsTrueLoop(r.Calls, target, r.Calls.Cursor())
	r.BTB.Record(target, r.Calls.Cursor())
	if idx < 0 {
		// False loop (different call context): keep recording straight
		// line; the interpreter will re-drive us through this PC again if
		// it's truly hot, and is_true_loop will reconsider with a fuller
		// branch-target history next time.
		return StatusContinue, nil
	}
	if idx == 0 && target == r.startPC && r.Slots.Base() == r.entryBase {
		return r.finish(FinishLoop, 0)
	}
	// idx > 0, or idx == 0 but not yet back at the original base: an inner
	// loop is closing before we've returned to the trace head. Cut the
	// trace here with a fallthrough continuation (spec.md §4.2).
	return r.finish(FinishFallthrough, 0)
}
