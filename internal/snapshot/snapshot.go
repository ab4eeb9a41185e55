// Package snapshot implements the snapshot engine (C4): captures, at every
// guard, the abstract slot -> IR mapping plus PC/base delta needed to
// reconstruct concrete interpreter state on a guard failure (spec.md §3,
// §4.5).
package snapshot

import (
	"sort"

	"golang.org/x/exp/slices"

	"github.com/csabahruska/lambdachine/internal/bytecode"
	"github.com/csabahruska/lambdachine/internal/ir"
)

// Entry is one (slot, ref) pair captured in a snapshot.
type Entry struct {
	Slot int
	Ref  ir.Ref
	Ty   ir.Type
}

// Snapshot captures the abstract-interpreter state at one guard: the set of
// live (slot, ref) pairs, the PC to resume at, the base-pointer delta
// relative to trace entry, the frame size at that point, and an exit
// counter (spec.md §3).
type Snapshot struct {
	GuardRef  ir.Ref // the IR ref of the guard this snapshot belongs to
	PC        bytecode.PC
	RelBase   int // base-pointer delta relative to trace entry
	FrameSize int
	Entries   []Entry // sorted by Slot

	ExitCount uint32 // bumped each time this snapshot's exit fires at runtime
}

// Table owns every snapshot emitted while recording one trace. Snapshots
// are immutable after emission; Table.Capture implements "mergesnap": a
// later snapshot may subsume an earlier one if no guarded/side-effecting
// instruction and no new emission happened since.
type Table struct {
	snaps []*Snapshot

	mergesnap      bool
	lastEmitSeq    uint32
	lastBarrierSeq uint32
	lastIdx        int // index into snaps of the most recently emitted snapshot, -1 if none
}

// NewTable returns an empty snapshot table. mergesnap enables snapshot
// reuse across adjacent guards with nothing emitted between them.
func NewTable(mergesnap bool) *Table {
	return &Table{mergesnap: mergesnap, lastIdx: -1}
}

// Len reports how many snapshots this table currently holds.
func (t *Table) Len() int { return len(t.snaps) }

// Slot reader abstracts over the recorder's abstract slot array so this
// package does not need to import the recorder (which in turn needs
// snapshots): only written slots are ever captured.
type SlotReader interface {
	Base() int
	Top() int
	Peek(slot int) ir.TRef
}

// Capture records (or reuses, under mergesnap) the abstract state at a
// guard about to be emitted at guardRef. Entries are sorted by slot index,
// per spec.md §4.5. relBase and frameSize describe how to recover the base
// pointer and frame extent at deopt time.
func (t *Table) Capture(buf *ir.Buffer, slots SlotReader, guardRef ir.Ref, pc bytecode.PC, relBase int) *Snapshot {
	if t.mergesnap && t.lastIdx >= 0 &&
		buf.EmitSeq() == t.lastEmitSeq && buf.BarrierSeq() == t.lastBarrierSeq {
		// Nothing was emitted since the previous guard's snapshot: reuse it
		// (spec.md §4.5 "if mergesnap is set and no instruction was added
		// since"). The reused snapshot keeps its original GuardRef; callers
		// key guard->snapshot by GuardRef already, not by table index, so
		// this is safe to return verbatim.
		return t.snaps[t.lastIdx]
	}

	base, top := slots.Base(), slots.Top()
	var entries []Entry
	for slot := base; slot < top; slot++ {
		ref := slots.Peek(slot)
		if ref.IsNil() || !ref.Written {
			continue
		}
		entries = append(entries, Entry{Slot: slot, Ref: ref.Ref, Ty: ref.Ty})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Slot < entries[j].Slot })

	s := &Snapshot{
		GuardRef:  guardRef,
		PC:        pc,
		RelBase:   relBase,
		FrameSize: top - base,
		Entries:   entries,
	}
	t.snaps = append(t.snaps, s)
	t.lastIdx = len(t.snaps) - 1
	t.lastEmitSeq = buf.EmitSeq()
	t.lastBarrierSeq = buf.BarrierSeq()
	return s
}

// All returns every distinct snapshot captured in emission order (already
// deduplicated by mergesnap reuse).
func (t *Table) All() []*Snapshot { return t.snaps }

// ByGuard returns the snapshot belonging to guardRef, or nil.
func (t *Table) ByGuard(guardRef ir.Ref) *Snapshot {
	for _, s := range t.snaps {
		if s.GuardRef == guardRef {
			return s
		}
	}
	return nil
}

// Compact drops entries whose IR has become a no-op or been DCE'd, per
// spec.md §4.8 "Snapshot compaction". isDead reports, for an instruction
// ref, whether it has been marked NOP/dead by the DCE pass.
func (t *Table) Compact(isDead func(ref ir.Ref) bool) {
	for _, s := range t.snaps {
		kept := s.Entries[:0]
		for _, e := range s.Entries {
			if e.Ref.IsLiteral() || !isDead(e.Ref) {
				kept = append(kept, e)
			}
		}
		s.Entries = kept
	}
}

// ValidateNoForwardRefs checks the invariant from spec.md §8: every
// referenced IR reference in a snapshot is < the snapshot's own guard ref
// (no forward references). It returns the first violating (snapshot,
// entry) pair found, or ok=false if everything validates.
func ValidateNoForwardRefs(snaps []*Snapshot) (s *Snapshot, e Entry, ok bool) {
	for _, snap := range snaps {
		for _, entry := range snap.Entries {
			if entry.Ref.IsLiteral() {
				continue
			}
			if entry.Ref >= snap.GuardRef {
				return snap, entry, false
			}
		}
	}
	return nil, Entry{}, true
}

// SortedSlots returns the distinct slot numbers a list of entries touches,
// ascending and deduplicated. A single snapshot's entries are already
// sorted and distinct by construction; the helper also accepts entries
// merged from several snapshots. Within this module only the tests call it.
func SortedSlots(entries []Entry) []int {
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Slot)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
