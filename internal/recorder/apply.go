package recorder

import (
	"github.com/csabahruska/lambdachine/internal/bytecode"
	"github.com/csabahruska/lambdachine/internal/heap"
	"github.com/csabahruska/lambdachine/internal/ir"
)

// stgPAPInfoKey is the literal key for the runtime's shared PAP info table
// (spec.md §4.7.1 step 3: "NEW with info-table = stg_PAP_info"). The
// concrete representation of this table lives in the interpreter; the core
// only needs a stable literal it can compare against.
const stgPAPInfoKey uint64 = ^uint64(0)

// CallTarget describes what the interpreter observed about a CALL/CALLT's
// callee before generic apply is recorded: its classification (FUN, THUNK/
// CAF, or PAP), and whatever shape data that classification requires.
type CallTarget struct {
	Info *bytecode.InfoTable

	// Set when Info.Kind == InfoPap: the PAP's stored function and the
	// number of arguments it already carries.
	PapFunInfo *bytecode.InfoTable
	PapNArgs   int
	PapArgRefs []ir.Ref // the PAP's stored argument values, as TRef sources

	// ReturnPC is the concrete return PC this CALL (not CALLT) will push,
	// observed by the interpreter ahead of time so the recorder can bake
	// it as a base literal (spec.md §4.3 base_literal).
	ReturnPC bytecode.PC
}

// recordCall implements CALL/CALLT by delegating to recordGenericApply2
// (spec.md §4.7.1; the commented-out, incomplete `recordGenericApply` in
// the original source is deliberately not reimplemented, per spec.md §9).
func (r *Recorder) recordCall(ins bytecode.Instruction, obs Observation) (Status, *Abort) {
	target := r.Slots.Get(r.Buf, ins.A, concreteTypeOf(obs))
	directArgRefs := make([]ir.Ref, len(ins.Tail))
	for i, slot := range ins.Tail {
		directArgRefs[i] = r.Slots.Get(r.Buf, slot, concreteTypeOf(obs)).Ref
	}
	isTail := ins.Op == bytecode.OpCALLT
	return r.recordGenericApply2(target.Ref, directArgRefs, obs, isTail)
}

// recordGenericApply2 produces IR for the correct call convention
// regardless of whether the callee is a FUN, THUNK/CAF or PAP (spec.md
// §4.7.1). All guards are emitted before any slot writes, so a guard
// failure restores the caller's exact state (spec.md §4.7.1 final
// paragraph).
func (r *Recorder) recordGenericApply2(targetRef ir.Ref, directArgs []ir.Ref, obs Observation, isTail bool) (Status, *Abort) {
	ct := obs.CallTarget
	if ct == nil || ct.Info == nil {
		return r.abort(AbortNYI, nil)
	}

	papArgs := ct.PapArgRefs
	effectiveTarget := targetRef
	info := ct.Info

	// Step 1: classify. If PAP, emit two guards (info-table, PAP shape),
	// then rebind target = pap.fun, pap_args = pap.nargs, and continue.
	if info.Kind == bytecode.InfoPap {
		infoRef := r.Buf.Literal(ir.INFO, infoTableKey(info))
		g1, err := r.Fold.EmitGuard(ir.OpEQINFO, targetRef, infoRef, true)
		if err != nil {
			return r.abort(AbortKnownFailingGuard, err)
		}
		r.snapshotHere(g1, 0)

		shapeRef := r.Buf.Literal(ir.I32, uint64(ct.PapNArgs))
		papShapeProbe := r.Buf.EmitRaw(ir.OpFLOAD, ir.I32, targetRef, 0)
		g2, err := r.Fold.EmitGuard(ir.OpEQ, papShapeProbe, shapeRef, true)
		if err != nil {
			return r.abort(AbortKnownFailingGuard, err)
		}
		r.snapshotHere(g2, 0)

		effectiveTarget = r.Buf.EmitRaw(ir.OpFLOAD, ir.CLOS, targetRef, 1)
		papArgs = ct.PapArgRefs
		info = ct.PapFunInfo
	}

	// Step 2: THUNK/CAF — turn call-of-thunk into eval + apply.
	if info.Kind == bytecode.InfoThunk || info.Kind == bytecode.InfoCaf {
		r.pushAPContFrame(directArgs)
		entry := r.heapEntryForUpdate(effectiveTarget, info)
		r.frames = append(r.frames, Frame{Kind: FrameUpdate, UpdateTarget: entry})
		r.frames = append(r.frames, Frame{Kind: FrameEval, Base: r.Slots.Base()})
		return StatusContinue, nil
	}

	// Step 3: callee is FUN with arity A; T = pap_args + direct_args.
	arity := info.Arity
	total := len(papArgs) + len(directArgs)

	switch {
	case arity == total:
		return r.recordExactApply(effectiveTarget, info, papArgs, directArgs, isTail)
	case arity < total:
		return r.recordOverApply(effectiveTarget, info, papArgs, directArgs, isTail)
	default:
		return r.recordPartialApply(effectiveTarget, papArgs, directArgs, obs, isTail)
	}
}

// recordExactApply handles A == T: emit an info-table guard on target, push
// (CALL) or resize (CALLT) the frame, and copy PAP-stored args followed by
// direct args.
func (r *Recorder) recordExactApply(target ir.Ref, info *bytecode.InfoTable, papArgs, directArgs []ir.Ref, isTail bool) (Status, *Abort) {
	infoRef := r.Buf.Literal(ir.INFO, infoTableKey(info))
	guardRef, err := r.Fold.EmitGuard(ir.OpEQINFO, target, infoRef, true)
	if err != nil {
		return r.abort(AbortKnownFailingGuard, err)
	}
	r.snapshotHere(guardRef, 0)

	newBase := r.Slots.Top()
	if isTail {
		newBase = r.Slots.Base()
	} else {
		r.Calls.PushFrame(guardRef)
		r.frames = append(r.frames, Frame{Kind: FrameReturn, Base: newBase})
	}
	if err := r.Slots.SetBase(newBase); err != nil {
		return r.abort(AbortMinSlot, err)
	}
	if err := r.Slots.SetTop(newBase + len(papArgs) + len(directArgs)); err != nil {
		return r.abort(AbortStackOverflow, err)
	}
	i := 0
	for _, a := range papArgs {
		r.Slots.Set(newBase+i, ir.TRef{Ref: a, Ty: ir.UNKNOWN, Written: true})
		i++
	}
	for _, a := range directArgs {
		r.Slots.Set(newBase+i, ir.TRef{Ref: a, Ty: ir.UNKNOWN, Written: true})
		i++
	}
	return StatusContinue, nil
}

// recordOverApply handles A < T (overapplication): emit an info-table
// guard, build an AP-continuation frame holding the excess T-A args, then
// push a new frame for the A-ary exact call to target.
func (r *Recorder) recordOverApply(target ir.Ref, info *bytecode.InfoTable, papArgs, directArgs []ir.Ref, isTail bool) (Status, *Abort) {
	infoRef := r.Buf.Literal(ir.INFO, infoTableKey(info))
	guardRef, err := r.Fold.EmitGuard(ir.OpEQINFO, target, infoRef, true)
	if err != nil {
		return r.abort(AbortKnownFailingGuard, err)
	}
	r.snapshotHere(guardRef, 0)

	all := append(append([]ir.Ref{}, papArgs...), directArgs...)
	exact := all[:info.Arity]
	excess := all[info.Arity:]

	excessTRefs := make([]ir.TRef, len(excess))
	for i, e := range excess {
		excessTRefs[i] = ir.TRef{Ref: e, Ty: ir.UNKNOWN, Written: true}
	}
	r.frames = append(r.frames, Frame{Kind: FrameAPCont, APArgs: excessTRefs})

	return r.recordExactApply(target, info, nil, exact, isTail)
}

// recordPartialApply handles A > T (partial application): emit a heap
// check for a new PAP, then a NEW with info-table=stg_PAP_info, writing a
// header word holding the argument count T (no pointer mask is encoded),
// the function pointer, and T payload words (PAP args followed by direct
// args).
func (r *Recorder) recordPartialApply(target ir.Ref, papArgs, directArgs []ir.Ref, obs Observation, isTail bool) (Status, *Abort) {
	total := len(papArgs) + len(directArgs)
	// PapHeader + T words: a header word (nargs+mask) plus the function
	// pointer plus total payload words.
	r.Buf.EmitRaw(ir.OpHEAPCHK, ir.PTR, ir.Ref(2+total), 0)

	infoRef := r.Buf.Literal(ir.INFO, stgPAPInfoKey)
	newRef := r.Buf.EmitRaw(ir.OpNEW, ir.PTR, infoRef, 0)
	entry := r.Heap.NewEntry(newRef, infoRef, 2+total)

	headerRef := r.Buf.Literal(ir.I32, uint64(total))
	r.Heap.SetField(entry, 0, headerRef)
	r.Heap.SetField(entry, 1, target)
	i := 2
	for _, a := range papArgs {
		r.Heap.SetField(entry, i, a)
		i++
	}
	for _, a := range directArgs {
		r.Heap.SetField(entry, i, a)
		i++
	}

	if isTail {
		// For CALLT, additionally emit a return-PC guard and pop the frame
		// (spec.md §4.7.1 step 3): the tail call is replacing the current
		// frame entirely, so before doing so we must confirm the caller's
		// own return address is still what the trace assumed.
		retRef := r.Buf.Literal(ir.PCTY, uint64(obs.ReturnPC))
		cur := r.Slots.Get(r.Buf, r.Slots.Base()-1, concreteTypeOf(obs))
		guardRef, err := r.Fold.EmitGuard(ir.OpEQ, cur.Ref, retRef, true)
		if err != nil {
			return r.abort(AbortKnownFailingGuard, err)
		}
		r.snapshotHere(guardRef, obs.ReturnPC)
		r.popCurrentFrame()
	} else {
		// CALL (non-tail): no callee frame was ever pushed for this apply —
		// arity exceeds the argument count, so there's nothing to call yet.
		// Deposit the freshly built PAP into the result slot for the
		// following MOV_RES to pick up, mirroring jit.cc:591-593's
		// `buf_.setSlot(buf_.slots_.top() + FRAME_SIZE, new_pap)` (spec.md
		// §4.7.1 step 3: "For CALL, put the new PAP into the result slot.").
		r.Slots.Set(resultSlot(r.Slots.Top(), 0), ir.TRef{Ref: newRef, Ty: ir.PTR})
	}
	return StatusContinue, nil
}

func (r *Recorder) popCurrentFrame() {
	if len(r.frames) > 0 {
		r.frames = r.frames[:len(r.frames)-1]
	}
}

// pushAPContFrame records an AP-continuation frame holding direct arguments
// ahead of a thunk evaluation (spec.md §4.7.1 step 2).
func (r *Recorder) pushAPContFrame(directArgs []ir.Ref) {
	trefs := make([]ir.TRef, len(directArgs))
	for i, a := range directArgs {
		trefs[i] = ir.TRef{Ref: a, Ty: ir.UNKNOWN, Written: true}
	}
	r.frames = append(r.frames, Frame{Kind: FrameAPCont, APArgs: trefs})
}

// heapEntryForUpdate finds or (if the thunk being called was not itself
// produced by a NEW within this trace) synthesizes an abstract heap handle
// for the closure an update frame will later overwrite.
func (r *Recorder) heapEntryForUpdate(target ir.Ref, info *bytecode.InfoTable) heap.EntryID {
	if e, ok := r.Heap.EntryForNew(target); ok {
		return e
	}
	infoRef := r.Buf.Literal(ir.INFO, infoTableKey(info))
	return r.Heap.NewEntry(target, infoRef, info.Size)
}
