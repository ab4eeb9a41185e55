package recorder

import (
	"github.com/csabahruska/lambdachine/internal/bytecode"
	"github.com/csabahruska/lambdachine/internal/ir"
)

// recordReturn implements RET1/IRET/RETN (spec.md §4.7): emit a return-PC
// guard (EQ against a PC literal captured from the stack), pop the virtual
// frame, clear the slots it occupied, and restore base/top.
func (r *Recorder) recordReturn(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	retRef := r.Buf.Literal(ir.PCTY, uint64(obs.ReturnPC))
	curRetSlot := r.Slots.Base() - 1
	observedRef := r.Slots.Get(r.Buf, curRetSlot, concreteTypeOf(obs))
	guardRef, err := r.Fold.EmitGuard(ir.OpEQ, observedRef.Ref, retRef, true)
	if err != nil {
		return r.abort(AbortKnownFailingGuard, err)
	}
	r.snapshotHere(guardRef, obs.ReturnPC)

	if len(r.frames) == 0 {
		// Returning out of the trace's own entry frame: this is where a
		// root trace naturally ends if it never loops (spec.md §4.7.2
		// "fall-through" finish).
		resultSlots := retResultSlots(ins)
		r.finalResults = make([]ir.TRef, len(resultSlots))
		for i, slot := range resultSlots {
			r.finalResults[i] = r.Slots.Get(r.Buf, slot, concreteTypeOf(obs))
		}
		return r.finish(FinishFallthrough, 0)
	}

	top := r.frames[len(r.frames)-1]
	r.frames = r.frames[:len(r.frames)-1]

	// Read the return value(s) before the frame is torn down: they live in
	// the callee's own slots (ins.A/ins.Tail), which the clear loop below is
	// about to wipe.
	var results []ir.TRef
	if top.Kind == FrameReturn {
		resultSlots := retResultSlots(ins)
		results = make([]ir.TRef, len(resultSlots))
		for i, slot := range resultSlots {
			results[i] = r.Slots.Get(r.Buf, slot, concreteTypeOf(obs))
		}
	}

	oldBase := r.Slots.Base()
	for s := top.Base; s < r.Slots.Top(); s++ {
		r.Slots.Clear(s)
	}
	if err := r.Slots.SetTop(oldBase); err != nil {
		return r.abort(AbortStackOverflow, err)
	}
	if err := r.Slots.SetBase(top.Base); err != nil {
		return r.abort(AbortMinSlot, err)
	}
	r.Calls.ReturnTo(guardRef)

	// Deposit the result(s) into the result-slot convention MOV_RES reads
	// (spec.md §4.7.1 step 3, mirroring jit.cc:1140-1150's
	// topslot+FRAME_SIZE+d), now that the callee's frame is gone and
	// r.Slots.Top() has settled back to the same point a following MOV_RES
	// will compute from.
	for i, res := range results {
		r.Slots.Set(resultSlot(r.Slots.Top(), i), res)
	}

	switch top.Kind {
	case FrameUpdate:
		// The evaluation that just returned produces the value to update
		// the thunk with; UPDATE itself is recorded when the interpreter
		// actually issues the UPDATE bytecode (recordUpdate), not here —
		// this frame only carried the continuation bookkeeping forward.
	case FrameAPCont:
		// Excess/PAP-stored arguments recorded on this frame are applied
		// to the value that just came back, by the interpreter issuing a
		// follow-up CALL the recorder will see as an ordinary instruction.
	}
	return StatusContinue, nil
}

// retResultSlots reports which abstract slots RET1/IRET/RETN carry their
// result(s) in. RET1 returns a single value in A; RETN returns ins.Tail's
// slots; IRET returns the indirection target in A, matching the bytecode
// surface named in spec.md §6.
func retResultSlots(ins bytecode.Instruction) []int {
	if ins.Op == bytecode.OpRETN {
		return ins.Tail
	}
	return []int{ins.A}
}
