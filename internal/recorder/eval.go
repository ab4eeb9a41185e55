package recorder

import (
	"github.com/csabahruska/lambdachine/internal/bytecode"
	"github.com/csabahruska/lambdachine/internal/ir"
)

// recordEval implements EVAL (spec.md §4.7): if the target is an
// indirection, follow it (emitting an info-table guard and an FLOAD). Emit
// an info-table guard; if the closure is HNF, set the result slot and
// continue; otherwise push an update frame and an evaluation frame
// (recording the expected return PC and the update continuation).
func (r *Recorder) recordEval(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	if obs.Info == nil {
		return r.abort(AbortNYI, nil)
	}
	target := r.Slots.Get(r.Buf, ins.A, concreteTypeOf(obs))
	ref := target.Ref
	info := obs.Info

	if obs.IsIndirection {
		infoRef := r.Buf.Literal(ir.INFO, infoTableKey(info))
		guardRef, err := r.Fold.EmitGuard(ir.OpEQINFO, ref, infoRef, true)
		if err != nil {
			return r.abort(AbortKnownFailingGuard, err)
		}
		r.snapshotHere(guardRef, bytecode.PC(ins.D))
		ref = r.Buf.EmitRaw(ir.OpFLOAD, ir.CLOS, ref, 0)
		if len(obs.FieldValues) == 0 {
			return r.abort(AbortNYI, nil)
		}
		// The indirection's target info table is whatever the interpreter
		// observed after following the pointer; callers supply it via a
		// second Observation.Info when recording the next instruction, per
		// the contract that record_ins is called once per logical step.
	}

	infoRef := r.Buf.Literal(ir.INFO, infoTableKey(info))
	guardRef, err := r.Fold.EmitGuard(ir.OpEQINFO, ref, infoRef, true)
	if err != nil {
		return r.abort(AbortKnownFailingGuard, err)
	}
	r.snapshotHere(guardRef, bytecode.PC(ins.D))

	if info.IsHNF() {
		r.Slots.Set(ins.A, ir.TRef{Ref: ref, Ty: ir.CLOS})
		return StatusContinue, nil
	}

	entry := r.heapEntryForUpdate(ref, info)
	r.frames = append(r.frames, Frame{Kind: FrameUpdate, UpdateTarget: entry, ReturnPC: obs.ReturnPC})
	r.frames = append(r.frames, Frame{Kind: FrameEval, Base: r.Slots.Base(), ReturnPC: obs.ReturnPC})
	return StatusContinue, nil
}
