// Package recorder implements the trace recorder (C7): turns a sequence of
// interpreter steps into an SSA IR, specializing on observed runtime values
// by inserting guards (spec.md §4.7).
//
// Grounded on the teacher's frontend.go / parser.go pair (std/compiler): a
// single stateful object walking one instruction stream at a time, emitting
// into a shared IR buffer as it goes, with a `errorf`-style abort path
// (parser.go's `(p *Parser) errorf`) generalized here into typed Abort
// values rather than parser panics, since a recording abort is a routine,
// expected outcome (spec.md §7), not a program bug.
package recorder

import (
	"github.com/pkg/errors"

	"github.com/csabahruska/lambdachine/internal/bytecode"
	"github.com/csabahruska/lambdachine/internal/fold"
	"github.com/csabahruska/lambdachine/internal/heap"
	"github.com/csabahruska/lambdachine/internal/ir"
	"github.com/csabahruska/lambdachine/internal/shadow"
	"github.com/csabahruska/lambdachine/internal/snapshot"
)

// AbortReason enumerates why a recording was discarded (spec.md §4.7.2,
// §7). Aborts are counted by reason by the embedding Jit context.
type AbortReason int

const (
	AbortNone AbortReason = iota
	AbortStackOverflow
	AbortKnownFailingGuard
	AbortTraceTooLong
	AbortInterpreterRequested
	AbortNYI
	AbortMinSlot
)

func (r AbortReason) String() string {
	switch r {
	case AbortStackOverflow:
		return "abstract-stack overflow"
	case AbortKnownFailingGuard:
		return "known failing guard"
	case AbortTraceTooLong:
		return "trace-too-long"
	case AbortInterpreterRequested:
		return "interpreter-requested"
	case AbortNYI:
		return "NYI"
	case AbortMinSlot:
		return "min_slot issue"
	default:
		return "none"
	}
}

// FinishKind is how a finished trace should be saved (spec.md §4.7.2).
type FinishKind int

const (
	FinishLoop FinishKind = iota
	FinishFallthrough
	FinishLink
)

// Status is the result of processing one instruction, mirroring the
// Continue/Finished/Aborted contract of record_ins in spec.md §6.
type Status int

const (
	StatusContinue Status = iota
	StatusFinished
	StatusAborted
)

// Abort is returned alongside StatusAborted, carrying the reason and (for
// diagnostics) the underlying fold/guard error when applicable.
type Abort struct {
	Reason AbortReason
	Cause  error
}

func (a *Abort) Error() string {
	if a.Cause != nil {
		return errors.Wrap(a.Cause, a.Reason.String()).Error()
	}
	return a.Reason.String()
}

// MaxTraceLength bounds how many bytecode instructions one trace may
// record (spec.md §6 "maximum trace length" configuration parameter); the
// default here is overridden by Config.MaxTraceLength when set.
const MaxTraceLength = 2000

// Config carries the subset of spec.md §6's configuration booleans/ints
// that influence recording decisions.
type Config struct {
	OptCSE          bool
	OptCallByName   bool
	MaxTraceLength  int
	Mergesnap       bool
}

// DefaultConfig returns the recorder's default configuration.
func DefaultConfig() Config {
	return Config{OptCSE: true, OptCallByName: false, MaxTraceLength: MaxTraceLength, Mergesnap: true}
}

// Frame is one virtual call/eval/update frame tracked by the recorder
// (spec.md §4.7.1): CALL pushes a plain return frame, EVAL pushes an
// evaluation frame plus (if updating a thunk) an update frame, and
// generic-apply's thunk path pushes an AP-continuation frame.
type FrameKind int

const (
	FrameReturn FrameKind = iota
	FrameEval
	FrameUpdate
	FrameAPCont
)

type Frame struct {
	Kind      FrameKind
	ReturnPC  bytecode.PC
	Base      int // abstract-slot base this frame owns
	// APArgs holds the extra argument TRefs carried by an AP-continuation
	// frame (spec.md §4.7.1 steps 2 and 3's overapplication/PAP case).
	APArgs []ir.TRef
	// UpdateTarget is the heap entry being updated, for FrameUpdate.
	UpdateTarget heap.EntryID
}

// Recorder holds the abstract machine state for one in-progress trace
// recording: the slot array, frame stack, call-stack shadow, IR buffer and
// its satellite engines.
type Recorder struct {
	cfg Config

	Buf   *ir.Buffer
	Fold  *fold.Engine
	Heap  *heap.Heap
	Snaps *snapshot.Table
	Calls *shadow.CallStack
	BTB   *shadow.BranchTargetBuffer
	Slots *ir.Slots

	startPC   bytecode.PC
	entryBase int
	frames    []Frame
	numIns    int

	finishKind   FinishKind
	linkFragment int
	finalResults []ir.TRef
}

// FinalResults reports the TRefs a FinishFallthrough trace produced by
// returning out of its own entry frame (empty for FinishLoop/FinishLink
// traces, which never fall out of the entry frame this way).
func (r *Recorder) FinalResults() []ir.TRef { return r.finalResults }

// New starts recording a trace beginning at startPC with the interpreter's
// current frame base (an opaque slot-numbering origin; spec.md §3).
func New(cfg Config, startPC bytecode.PC, entryBase int) *Recorder {
	buf := ir.New()
	r := &Recorder{
		cfg:       cfg,
		Buf:       buf,
		Fold:      fold.New(buf),
		Heap:      heap.New(),
		Snaps:     snapshot.NewTable(cfg.Mergesnap),
		Calls:     shadow.New(),
		BTB:       shadow.NewBTB(),
		Slots:     ir.NewSlots(entryBase),
		startPC:   startPC,
		entryBase: entryBase,
	}
	r.Fold.SetCSE(cfg.OptCSE)
	return r
}

// abort discards nothing itself (the Jit context resets the whole Recorder
// on abort per spec.md §5 "Aborts are always safe: no partial fragment is
// ever registered") and returns the Aborted status plus reason.
func (r *Recorder) abort(reason AbortReason, cause error) (Status, *Abort) {
	return StatusAborted, &Abort{Reason: reason, Cause: cause}
}

// checkTraceLength enforces spec.md §6's maximum-trace-length parameter.
func (r *Recorder) checkTraceLength() (Status, *Abort) {
	r.numIns++
	limit := r.cfg.MaxTraceLength
	if limit == 0 {
		limit = MaxTraceLength
	}
	if r.numIns > limit {
		return r.abort(AbortTraceTooLong, nil)
	}
	return StatusContinue, nil
}

// snapshotHere captures a snapshot for a guard about to be emitted at
// guardRef, at the given resume PC.
func (r *Recorder) snapshotHere(guardRef ir.Ref, pc bytecode.PC) *snapshot.Snapshot {
	relBase := r.Slots.Base() - r.entryBase
	return r.Snaps.Capture(r.Buf, slotsAdapter{r.Slots}, guardRef, pc, relBase)
}

// slotsAdapter exposes ir.Slots through the snapshot.SlotReader interface
// without making the snapshot package depend on the recorder's slot type
// directly (ir already has no dependency on snapshot, keeping the C3/C4
// layering acyclic).
type slotsAdapter struct{ s *ir.Slots }

func (a slotsAdapter) Base() int           { return a.s.Base() }
func (a slotsAdapter) Top() int            { return a.s.Top() }
func (a slotsAdapter) Peek(slot int) ir.TRef { return a.s.Peek(slot) }

// finish marks the trace complete, emitting a SAVE instruction recording
// how control should leave the trace (spec.md §4.7.2).
func (r *Recorder) finish(kind FinishKind, linkFragment int) (Status, *Abort) {
	ref := r.Buf.EmitRaw(ir.OpSAVE, ir.VOID, 0, 0)
	reason := ir.SaveLoop
	switch kind {
	case FinishFallthrough:
		reason = ir.SaveFallthrough
	case FinishLink:
		reason = ir.SaveLink
	}
	r.Buf.SetExtra(ref, uint32(reason))
	r.finishKind = kind
	r.linkFragment = linkFragment
	return StatusFinished, nil
}

// FinishKind reports how the most recently finished trace should be saved.
func (r *Recorder) FinishKind() FinishKind { return r.finishKind }

// LinkFragment reports the fragment id a FinishLink trace should link to.
func (r *Recorder) LinkFragment() int { return r.linkFragment }

// NumInstructions reports how many bytecode instructions have been
// recorded so far.
func (r *Recorder) NumInstructions() int { return r.numIns }

// StartPC reports the bytecode PC this recording began at.
func (r *Recorder) StartPC() bytecode.PC { return r.startPC }

// FrameDepth reports how many virtual frames (CALL/EVAL/UPDATE/AP-
// continuation) are currently on the recorder's frame stack.
func (r *Recorder) FrameDepth() int { return len(r.frames) }
