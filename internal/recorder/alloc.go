package recorder

import (
	"github.com/csabahruska/lambdachine/internal/bytecode"
	"github.com/csabahruska/lambdachine/internal/ir"
)

// recordAlloc handles ALLOC1/ALLOC/ALLOCAP: emit a heap check for the total
// words, then one NEW per allocation; fields are recorded in the abstract
// heap (spec.md §4.7). Heap checks for several allocations in one trace
// region may be fused by the caller (the interpreter issues one ins.Tail
// per fused batch); this recorder always emits a single heap-check
// instruction per call, matching "heap checks ... may be fused."
func (r *Recorder) recordAlloc(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	if obs.Info == nil {
		return r.abort(AbortNYI, nil)
	}
	totalWords := ins.D
	if totalWords <= 0 {
		totalWords = obs.Info.Size + 1
	}
	_ = r.Buf.EmitRaw(ir.OpHEAPCHK, ir.PTR, ir.Ref(totalWords), 0)

	infoRef := r.Buf.Literal(ir.INFO, infoTableKey(obs.Info))
	newRef := r.Buf.EmitRaw(ir.OpNEW, ir.PTR, infoRef, 0)
	entry := r.Heap.NewEntry(newRef, infoRef, obs.Info.Size)

	for i, slot := range ins.Tail {
		if i >= obs.Info.Size {
			break
		}
		field := r.Slots.Get(r.Buf, slot, concreteTypeOf(obs))
		r.Heap.SetField(entry, i, field.Ref)
	}

	r.Slots.Set(ins.A, ir.TRef{Ref: newRef, Ty: ir.PTR})
	return StatusContinue, nil
}

// infoTableKey derives a stable literal key for an info table so equal
// tables CSE/compare equal. The concrete representation (a pointer in the
// real interpreter) is out of scope; this core only needs a value that
// compares equal for the same logical info table, which the loader
// (external collaborator) is responsible for interning.
func infoTableKey(info *bytecode.InfoTable) uint64 {
	return uint64(info.Kind)<<32 | uint64(info.Tag)
}

// recordCase handles CASE/CASE_S: emit an EQINFO guard on the scrutinee's
// info table (spec.md §4.7).
func (r *Recorder) recordCase(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	if obs.Info == nil {
		return r.abort(AbortNYI, nil)
	}
	scrut := r.Slots.Get(r.Buf, ins.A, concreteTypeOf(obs))
	infoRef := r.Buf.Literal(ir.INFO, infoTableKey(obs.Info))
	guardRef, err := r.Fold.EmitGuard(ir.OpEQINFO, scrut.Ref, infoRef, true)
	if err != nil {
		return r.abort(AbortKnownFailingGuard, err)
	}
	r.snapshotHere(guardRef, bytecode.PC(ins.D))
	return StatusContinue, nil
}

// recordUpdate handles UPDATE: emit an info-table guard on the updated
// closure, then an UPDATE instruction (side-effecting, spec.md §4.7).
func (r *Recorder) recordUpdate(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	target := r.Slots.Get(r.Buf, ins.A, concreteTypeOf(obs))
	if obs.Info != nil {
		infoRef := r.Buf.Literal(ir.INFO, infoTableKey(obs.Info))
		guardRef, err := r.Fold.EmitGuard(ir.OpEQINFO, target.Ref, infoRef, true)
		if err != nil {
			return r.abort(AbortKnownFailingGuard, err)
		}
		r.snapshotHere(guardRef, bytecode.PC(ins.D))
	}
	val := r.Slots.Get(r.Buf, ins.B, concreteTypeOf(obs))
	r.Buf.EmitRaw(ir.OpUPDATE, ir.VOID, target.Ref, val.Ref)
	return StatusContinue, nil
}
