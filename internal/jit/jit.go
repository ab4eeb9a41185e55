package jit

import (
	"github.com/pkg/errors"

	"github.com/csabahruska/lambdachine/internal/asm"
	"github.com/csabahruska/lambdachine/internal/bytecode"
	"github.com/csabahruska/lambdachine/internal/counter"
	"github.com/csabahruska/lambdachine/internal/fragment"
	"github.com/csabahruska/lambdachine/internal/heap"
	"github.com/csabahruska/lambdachine/internal/ir"
	"github.com/csabahruska/lambdachine/internal/recorder"
	"github.com/csabahruska/lambdachine/internal/unroll"
)

// Mode is the capability-level state the interpreter switches on after
// calling into the JIT (spec.md §6's on_hot_pc return value).
type Mode int

const (
	ModeInterpret Mode = iota
	ModeRecording
)

// Jit is the embedder-visible context object wiring every component
// (spec.md §9 "carry [global state] as a field of a Jit context object
// passed explicitly"). One Jit instance belongs to one capability
// (spec.md §5's single-threaded cooperative scheduling model); nothing
// here is safe to share across capabilities.
type Jit struct {
	cfg Config

	counters  *counter.Table
	fragments *fragment.Store

	backend asm.Backend
	arena   *asm.Arena
	code    *asm.CodeBuffer
	stubs   *asm.ExitStubs

	rec *recorder.Recorder
}

// New constructs a Jit with a fresh arena, hot-counter table and empty
// fragment store.
func New(cfg Config) (*Jit, error) {
	arenaSize := cfg.ArenaSize
	if arenaSize == 0 {
		arenaSize = asm.ArenaSize
	}
	arena, err := asm.NewArena(arenaSize)
	if err != nil {
		return nil, errors.Wrap(err, "jit: allocating initial arena")
	}
	backend := asm.NewBackend()
	code := asm.NewCodeBuffer(arena.Bytes())
	stubs := asm.BuildExitStubs(code, backend, code.Pos())

	return &Jit{
		cfg:       cfg,
		counters:  counter.New(cfg.HotCountThreshold),
		fragments: fragment.NewStore(),
		backend:   backend,
		arena:     arena,
		code:      code,
		stubs:     stubs,
	}, nil
}

// OnHotPC implements `on_hot_pc(pc, base, is_return) -> Mode` (spec.md §6).
// If enable_asm is off, the JIT never leaves interpret mode: recording
// without an assembler to eventually consume it would only burn cycles
// building traces nothing can ever execute natively.
func (j *Jit) OnHotPC(pc bytecode.PC, base int, isReturn bool) Mode {
	if !j.cfg.EnableASM {
		return ModeInterpret
	}
	if j.rec != nil {
		return ModeRecording
	}
	if _, ok := j.fragments.Lookup(pc); ok {
		return ModeInterpret
	}
	if !j.counters.Tick(uint64(pc)) {
		return ModeInterpret
	}
	j.rec = recorder.New(j.cfg.recorderConfig(), pc, base)
	return ModeRecording
}

// RecordIns implements `record_ins(ins, base, code) -> Status` (spec.md
// §6). On a Finished status it assembles and registers the completed
// trace as a new fragment; on Aborted it discards the in-progress
// recorder entirely (spec.md §5 "Aborts are always safe").
func (j *Jit) RecordIns(ins bytecode.Instruction, obs recorder.Observation) (recorder.Status, *recorder.Abort) {
	if j.rec == nil {
		return recorder.StatusAborted, &recorder.Abort{Reason: recorder.AbortNYI}
	}
	status, abort := j.rec.RecordIns(ins, obs)
	switch status {
	case recorder.StatusAborted:
		j.rec = nil
		return status, abort
	case recorder.StatusFinished:
		rec := j.rec
		j.rec = nil
		if _, err := j.compile(rec); err != nil {
			return recorder.StatusAborted, &recorder.Abort{Reason: recorder.AbortNYI, Cause: err}
		}
		return status, nil
	default:
		return status, nil
	}
}

// compile runs DCE, sink analysis and the assembler over a finished
// recording, and registers the result as a new fragment (spec.md §4.8,
// §4.9, §4.10).
func (j *Jit) compile(rec *recorder.Recorder) (*fragment.Fragment, error) {
	guardRefs := guardRefsOf(rec)
	live := unroll.DCE(rec.Buf, unroll.Root{GuardRefs: guardRefs, SaveRef: saveRefOf(rec)})

	if j.cfg.OptSinkAlloc {
		rec.Heap.SinkAnalysis(j.escapesOf(rec))
	}

	asmr := asm.NewAssembler(j.arena, j.backend, j.stubs)
	assembled, err := asmr.Assemble(rec.Buf, live)
	if err != nil {
		return nil, err
	}

	frag := &fragment.Fragment{
		Kind:       fragment.KindFunc,
		StartPC:    rec.StartPC(),
		Code:       assembled,
		Snaps:      rec.Snaps,
		ExitGuards: rec.Snaps.All(),
		Parent:     -1,
		Buf:        rec.Buf,
		Heap:       rec.Heap,
	}
	j.fragments.Add(frag, true)
	return frag, nil
}

// escapesOf builds the "does this entry need a concrete pointer somewhere
// outside the abstract heap" predicate SinkAnalysis requires (spec.md
// §4.6): an allocation escapes only if some STORE instruction in the buffer
// (live or not) writes
// through it as an address, since that is the one IR shape this core
// produces that genuinely needs a materialized pointer rather than a
// symbolic one.
func (j *Jit) escapesOf(rec *recorder.Recorder) func(heap.EntryID) bool {
	escapes := make(map[heap.EntryID]bool)
	rec.Buf.Each(func(ref ir.Ref, ins ir.Inst) {
		if ins.Op != ir.OpSTORE {
			return
		}
		if id, ok := rec.Heap.EntryForNew(ins.Op1); ok {
			escapes[id] = true
		}
	})
	return func(id heap.EntryID) bool { return escapes[id] }
}

// guardRefsOf collects every guard instruction's ref from a finished
// recording's snapshot table, in capture order.
func guardRefsOf(rec *recorder.Recorder) []ir.Ref {
	snaps := rec.Snaps.All()
	refs := make([]ir.Ref, len(snaps))
	for i, s := range snaps {
		refs[i] = s.GuardRef
	}
	return refs
}

// saveRefOf locates the trace's terminating SAVE instruction: finish()
// emits exactly one per recording, so the last one found is it.
func saveRefOf(rec *recorder.Recorder) ir.Ref {
	var save ir.Ref
	rec.Buf.Each(func(ref ir.Ref, ins ir.Inst) {
		if ins.Op == ir.OpSAVE {
			save = ref
		}
	})
	return save
}

// LookupFragment implements `lookup_fragment(pc) -> Option<FragmentId>`
// (spec.md §6).
func (j *Jit) LookupFragment(pc bytecode.PC) (fragment.ID, bool) {
	return j.fragments.Lookup(pc)
}
