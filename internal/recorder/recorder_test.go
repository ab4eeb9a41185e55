package recorder

import (
	"testing"

	"github.com/csabahruska/lambdachine/internal/bytecode"
	"github.com/csabahruska/lambdachine/internal/ir"
)

func newTestRecorder() *Recorder {
	return New(DefaultConfig(), bytecode.PC(0), 0)
}

func TestRecordLoadKSetsSlotToLiteral(t *testing.T) {
	r := newTestRecorder()
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADK, A: 0, D: 42}, Observation{})
	if st != StatusContinue {
		t.Fatalf("RecordIns(LOADK) = %v, %v, want StatusContinue", st, ab)
	}
	got := r.Slots.Peek(0)
	_, v := r.Buf.GetLiteral(got.Ref)
	if v != 42 {
		t.Fatalf("slot 0 literal = %d, want 42", v)
	}
}

func TestRecordMovCopiesSourceTRef(t *testing.T) {
	r := newTestRecorder()
	r.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADK, A: 1, D: 7}, Observation{})
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpMOV, A: 0, B: 1}, Observation{})
	if st != StatusContinue {
		t.Fatalf("RecordIns(MOV) = %v, %v, want StatusContinue", st, ab)
	}
	if r.Slots.Peek(0).Ref != r.Slots.Peek(1).Ref {
		t.Fatalf("MOV did not copy the source ref into the destination slot")
	}
}

func TestRecordArithFoldsConstantOperands(t *testing.T) {
	r := newTestRecorder()
	r.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADK, A: 0, D: 1}, Observation{})
	r.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADK, A: 1, D: 2}, Observation{})
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpADDRR, A: 2, B: 0, C: 1}, Observation{})
	if st != StatusContinue {
		t.Fatalf("RecordIns(ADDRR) = %v, %v, want StatusContinue", st, ab)
	}
	sum := r.Slots.Peek(2)
	if !sum.Ref.IsLiteral() {
		t.Fatalf("1+2 should constant-fold to a literal ref, got %v", sum.Ref)
	}
	_, v := r.Buf.GetLiteral(sum.Ref)
	if v != 3 {
		t.Fatalf("folded 1+2 = %d, want 3", v)
	}
}

func TestRecordComparisonEmitsGuardAndSnapshot(t *testing.T) {
	r := newTestRecorder()
	r.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADK, A: 0, D: 1}, Observation{})
	r.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADK, A: 1, D: 2}, Observation{})
	before := r.Snaps.Len()
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpISLT, A: 0, B: 1, D: 10}, Observation{Bool: true})
	if st != StatusContinue {
		t.Fatalf("RecordIns(ISLT) = %v, %v, want StatusContinue", st, ab)
	}
	if r.Snaps.Len() != before+1 {
		t.Fatalf("Snaps.Len() = %d, want %d (one guard, one snapshot)", r.Snaps.Len(), before+1)
	}
}

func TestRecordComparisonObservedFalseInvertsOperator(t *testing.T) {
	r := newTestRecorder()
	one := r.Buf.Literal(ir.I64, 1)
	r.Slots.Set(0, ir.TRef{Ref: one, Ty: ir.I64})
	r.Slots.Set(1, ir.TRef{Ref: one, Ty: ir.I64})
	// 1 == 1 is true; claiming it was observed false asks EmitGuard to use
	// the inverted (NE) comparison, which constant-folds to a known-false
	// literal and must report AbortKnownFailingGuard rather than silently
	// recording a guard that could never pass.
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpISEQ, A: 0, B: 1}, Observation{Bool: false})
	if st != StatusAborted || ab.Reason != AbortKnownFailingGuard {
		t.Fatalf("RecordIns(ISEQ, observed=false on 1==1) = %v, %v, want AbortKnownFailingGuard", st, ab)
	}
}

func TestRecordAllocCreatesHeapEntryWithFields(t *testing.T) {
	r := newTestRecorder()
	r.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADK, A: 0, D: 99}, Observation{})
	info := &bytecode.InfoTable{Kind: bytecode.InfoCon, Tag: 1, Size: 1}
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpALLOC1, A: 1, Tail: []int{0}}, Observation{Info: info})
	if st != StatusContinue {
		t.Fatalf("RecordIns(ALLOC1) = %v, %v, want StatusContinue", st, ab)
	}
	newTRef := r.Slots.Peek(1)
	entry, ok := r.Heap.EntryForNew(newTRef.Ref)
	if !ok {
		t.Fatalf("ALLOC1 did not register a heap entry for its NEW ref")
	}
	if !r.Heap.FieldSet(entry, 0) {
		t.Fatalf("ALLOC1 did not set field 0 from ins.Tail")
	}
}

func TestRecordAllocWithoutObservedInfoAborts(t *testing.T) {
	r := newTestRecorder()
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpALLOC1, A: 0}, Observation{})
	if st != StatusAborted || ab.Reason != AbortNYI {
		t.Fatalf("RecordIns(ALLOC1, no Info) = %v, %v, want AbortNYI", st, ab)
	}
}

func TestRecordCaseEmitsInfoGuard(t *testing.T) {
	r := newTestRecorder()
	r.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADK, A: 0, D: 1}, Observation{})
	info := &bytecode.InfoTable{Kind: bytecode.InfoCon, Tag: 3}
	before := r.Snaps.Len()
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpCASE, A: 0, D: 20}, Observation{Info: info})
	if st != StatusContinue {
		t.Fatalf("RecordIns(CASE) = %v, %v, want StatusContinue", st, ab)
	}
	if r.Snaps.Len() != before+1 {
		t.Fatalf("CASE did not capture a snapshot for its EQINFO guard")
	}
}

func TestRecordIunsStopFinishesFallthrough(t *testing.T) {
	r := newTestRecorder()
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpSTOP}, Observation{})
	if st != StatusFinished || ab != nil {
		t.Fatalf("RecordIns(STOP) = %v, %v, want StatusFinished, nil", st, ab)
	}
	if r.FinishKind() != FinishFallthrough {
		t.Fatalf("FinishKind() = %v, want FinishFallthrough", r.FinishKind())
	}
}

func TestRecordIunsUnknownOpcodeAbortsNYI(t *testing.T) {
	r := newTestRecorder()
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpFUNC}, Observation{})
	if st != StatusAborted || ab.Reason != AbortNYI {
		t.Fatalf("RecordIns(unhandled op) = %v, %v, want AbortNYI", st, ab)
	}
}

func TestCheckTraceLengthAbortsPastLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTraceLength = 2
	r := New(cfg, bytecode.PC(0), 0)
	for i := 0; i < 2; i++ {
		st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADK, A: 0, D: int(i)}, Observation{})
		if st != StatusContinue {
			t.Fatalf("instruction %d aborted early: %v, %v", i, st, ab)
		}
	}
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADK, A: 0, D: 99}, Observation{})
	if st != StatusAborted || ab.Reason != AbortTraceTooLong {
		t.Fatalf("3rd instruction past MaxTraceLength=2: %v, %v, want AbortTraceTooLong", st, ab)
	}
}

func TestRecordJumpFalseLoopContinuesRecording(t *testing.T) {
	r := newTestRecorder()
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpJMP, D: 4}, Observation{})
	if st != StatusContinue {
		t.Fatalf("first JMP to an unseen PC: %v, %v, want StatusContinue (false loop)", st, ab)
	}
}

func TestRecordJumpToStartPCAtEntryBaseFinishesLoop(t *testing.T) {
	r := New(DefaultConfig(), bytecode.PC(4), 0)
	// A jump back to the trace's own start PC, at the entry call-stack
	// position and the entry slot base, closes a true top-level loop.
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpJMP, D: 4}, Observation{})
	if st != StatusContinue {
		t.Fatalf("first JMP is always a false loop (never seen before): %v, %v", st, ab)
	}
	st, ab = r.RecordIns(bytecode.Instruction{Op: bytecode.OpJMP, D: 4}, Observation{})
	if st != StatusFinished || ab != nil {
		t.Fatalf("second JMP to the same PC at the same depth+base: %v, %v, want StatusFinished", st, ab)
	}
	if r.FinishKind() != FinishLoop {
		t.Fatalf("FinishKind() = %v, want FinishLoop", r.FinishKind())
	}
}

func TestRecordReturnWithNoFramesFinishesFallthroughWithResults(t *testing.T) {
	// entryBase=1 so curRetSlot (base-1) is slot 0, distinct from the
	// result-carrying slot 5.
	r := New(DefaultConfig(), bytecode.PC(0), 1)
	r.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADK, A: 5, D: 123}, Observation{})
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpRET1, A: 5}, Observation{ReturnPC: bytecode.PC(8)})
	if st != StatusFinished || ab != nil {
		t.Fatalf("RecordIns(RET1) with no frames = %v, %v, want StatusFinished", st, ab)
	}
	if r.FinishKind() != FinishFallthrough {
		t.Fatalf("FinishKind() = %v, want FinishFallthrough", r.FinishKind())
	}
	if len(r.FinalResults()) != 1 {
		t.Fatalf("FinalResults() has %d entries, want 1", len(r.FinalResults()))
	}
}

func TestAbortReasonStringsAreDistinct(t *testing.T) {
	reasons := []AbortReason{AbortNone, AbortStackOverflow, AbortKnownFailingGuard,
		AbortTraceTooLong, AbortInterpreterRequested, AbortNYI, AbortMinSlot}
	seen := make(map[string]bool)
	for _, r := range reasons {
		s := r.String()
		if seen[s] {
			t.Fatalf("AbortReason %d shares its String() %q with another reason", r, s)
		}
		seen[s] = true
	}
}

func TestAbortErrorWrapsCauseWhenPresent(t *testing.T) {
	cause := errTest{}
	a := &Abort{Reason: AbortKnownFailingGuard, Cause: cause}
	msg := a.Error()
	if msg == "" {
		t.Fatalf("Abort.Error() returned empty string")
	}
	bare := &Abort{Reason: AbortTraceTooLong}
	if bare.Error() != AbortTraceTooLong.String() {
		t.Fatalf("Abort.Error() without a cause = %q, want %q", bare.Error(), AbortTraceTooLong.String())
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }

func TestRecordCallExactThenReturnThenMovResRoundTrips(t *testing.T) {
	// entryBase=2 keeps the callee's retpc slot (base-1) away from slot 0,
	// the caller's own target register.
	r := New(DefaultConfig(), bytecode.PC(0), 2)
	funInfo := &bytecode.InfoTable{Kind: bytecode.InfoFun, Arity: 1}
	ct := &CallTarget{Info: funInfo, ReturnPC: bytecode.PC(16)}

	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpCALL, A: 0, Tail: []int{1}}, Observation{CallTarget: ct})
	if st != StatusContinue {
		t.Fatalf("RecordIns(CALL) = %v, %v, want StatusContinue", st, ab)
	}
	if r.FrameDepth() != 1 {
		t.Fatalf("FrameDepth() after CALL = %d, want 1", r.FrameDepth())
	}

	calleeArg := r.Slots.Base() // the callee's own copy of the single argument
	st, ab = r.RecordIns(bytecode.Instruction{Op: bytecode.OpRET1, A: calleeArg}, Observation{ReturnPC: bytecode.PC(16)})
	if st != StatusContinue {
		t.Fatalf("RecordIns(RET1) = %v, %v, want StatusContinue", st, ab)
	}
	if r.FrameDepth() != 0 {
		t.Fatalf("FrameDepth() after RET1 = %d, want 0", r.FrameDepth())
	}

	st, ab = r.RecordIns(bytecode.Instruction{Op: bytecode.OpMOVRES, A: 5}, Observation{})
	if st != StatusContinue {
		t.Fatalf("RecordIns(MOV_RES) = %v, %v, want StatusContinue", st, ab)
	}
	if r.Slots.Peek(5).IsNil() {
		t.Fatalf("MOV_RES did not move the call's result into the destination slot")
	}
}

func TestRecordPartialApplyNonTailWritesPapIntoResultSlot(t *testing.T) {
	// entryBase=2 keeps the result slot (r.Slots.Top(), i.e. 2) distinct
	// from the target/argument registers at slots 0 and 1.
	r := New(DefaultConfig(), bytecode.PC(0), 2)
	target := r.Buf.Literal(ir.PTR, 0x1)
	r.Slots.Set(0, ir.TRef{Ref: target, Ty: ir.CLOS})
	// arity 2, only 1 direct arg supplied: A > T, a partial application.
	funInfo := &bytecode.InfoTable{Kind: bytecode.InfoFun, Arity: 2}
	ct := &CallTarget{Info: funInfo}

	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpCALL, A: 0, Tail: []int{1}}, Observation{CallTarget: ct})
	if st != StatusContinue {
		t.Fatalf("RecordIns(CALL, partial) = %v, %v, want StatusContinue", st, ab)
	}
	if r.FrameDepth() != 0 {
		t.Fatalf("a non-tail partial apply must not push a callee frame, FrameDepth() = %d", r.FrameDepth())
	}

	st, ab = r.RecordIns(bytecode.Instruction{Op: bytecode.OpMOVRES, A: 5}, Observation{})
	if st != StatusContinue {
		t.Fatalf("RecordIns(MOV_RES) after partial apply = %v, %v, want StatusContinue", st, ab)
	}
	res := r.Slots.Peek(5)
	if res.IsNil() {
		t.Fatalf("MOV_RES did not pick up the PAP the partial apply deposited in the result slot")
	}
	if _, ok := r.Heap.EntryForNew(res.Ref); !ok {
		t.Fatalf("slot 5 after MOV_RES does not hold the PAP's NEW ref")
	}
}

func TestRecordLoadFEmitsFLOADOnNamedBase(t *testing.T) {
	r := newTestRecorder()
	closRef := r.Buf.Literal(ir.PTR, 0xABCD)
	r.Slots.Set(0, ir.TRef{Ref: closRef, Ty: ir.CLOS})
	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADF, A: 1, B: 0, C: 2}, Observation{})
	if st != StatusContinue {
		t.Fatalf("RecordIns(LOADF) = %v, %v, want StatusContinue", st, ab)
	}
	if r.Slots.Peek(1).IsNil() {
		t.Fatalf("LOADF did not set the destination slot")
	}
}

func TestRecordLoadFVAndLoadSlfShareTheSelfSlot(t *testing.T) {
	// entryBase=3 so selfSlot (base-2) and curRetSlot (base-1) both land on
	// distinct, addressable slots.
	r := New(DefaultConfig(), bytecode.PC(0), 3)
	selfRef := r.Buf.Literal(ir.PTR, 0xF00D)
	r.Slots.Set(r.selfSlot(), ir.TRef{Ref: selfRef, Ty: ir.CLOS})

	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADSLF, A: 0}, Observation{})
	if st != StatusContinue {
		t.Fatalf("RecordIns(LOADSLF) = %v, %v, want StatusContinue", st, ab)
	}
	if r.Slots.Peek(0).Ref != selfRef {
		t.Fatalf("LOADSLF did not copy the self reference into the destination slot")
	}

	st, ab = r.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADFV, A: 1, D: 4}, Observation{})
	if st != StatusContinue {
		t.Fatalf("RecordIns(LOADFV) = %v, %v, want StatusContinue", st, ab)
	}
	if r.Slots.Peek(1).IsNil() {
		t.Fatalf("LOADFV did not set the destination slot")
	}
}

func TestRecordGetTagGuardsInfoAndLoadsLiteralTag(t *testing.T) {
	r := newTestRecorder()
	closRef := r.Buf.Literal(ir.PTR, 0x1)
	r.Slots.Set(2, ir.TRef{Ref: closRef, Ty: ir.CLOS})
	info := &bytecode.InfoTable{Kind: bytecode.InfoCon, Tag: 3}
	before := r.Snaps.Len()

	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpGETTAG, A: 0, D: 2}, Observation{Info: info})
	if st != StatusContinue {
		t.Fatalf("RecordIns(GETTAG) = %v, %v, want StatusContinue", st, ab)
	}
	if r.Snaps.Len() != before+1 {
		t.Fatalf("GETTAG did not capture a snapshot for its info-table guard")
	}
	tag := r.Slots.Peek(0)
	if !tag.Ref.IsLiteral() {
		t.Fatalf("GETTAG's result should be a compile-time literal, got %v", tag.Ref)
	}
	_, v := r.Buf.GetLiteral(tag.Ref)
	if v != uint64(info.Tag-1) {
		t.Fatalf("GETTAG literal = %d, want %d (tag-1)", v, info.Tag-1)
	}
}

func TestRecordPtrOfsCEmitsFLOADWithDynamicOffset(t *testing.T) {
	r := newTestRecorder()
	ptrRef := r.Buf.Literal(ir.PTR, 0x2000)
	r.Slots.Set(0, ir.TRef{Ref: ptrRef, Ty: ir.PTR})
	ofsRef := r.Buf.Literal(ir.I64, 8)
	r.Slots.Set(1, ir.TRef{Ref: ofsRef, Ty: ir.I64})

	st, ab := r.RecordIns(bytecode.Instruction{Op: bytecode.OpPTROFSC, A: 2, B: 0, C: 1}, Observation{})
	if st != StatusContinue {
		t.Fatalf("RecordIns(PTROFSC) = %v, %v, want StatusContinue", st, ab)
	}
	if r.Slots.Peek(2).IsNil() {
		t.Fatalf("PTROFSC did not set the destination slot")
	}
}

func TestFrameDepthTracksPushedFrames(t *testing.T) {
	r := newTestRecorder()
	if r.FrameDepth() != 0 {
		t.Fatalf("FrameDepth() = %d on a fresh recorder, want 0", r.FrameDepth())
	}
	r.frames = append(r.frames, Frame{Kind: FrameReturn})
	if r.FrameDepth() != 1 {
		t.Fatalf("FrameDepth() = %d after pushing one frame, want 1", r.FrameDepth())
	}
}
