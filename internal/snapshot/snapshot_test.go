package snapshot

import (
	"testing"

	"github.com/csabahruska/lambdachine/internal/bytecode"
	"github.com/csabahruska/lambdachine/internal/ir"
)

type fakeSlots struct {
	base, top int
	vals      map[int]ir.TRef
}

func (f fakeSlots) Base() int { return f.base }
func (f fakeSlots) Top() int  { return f.top }
func (f fakeSlots) Peek(slot int) ir.TRef {
	if v, ok := f.vals[slot]; ok {
		return v
	}
	return ir.Nil
}

func TestCaptureOnlyRecordsWrittenSlots(t *testing.T) {
	buf := ir.New()
	tbl := NewTable(false)
	l := buf.Literal(ir.I64, 1)
	slots := fakeSlots{base: 0, top: 3, vals: map[int]ir.TRef{
		0: {Ref: l, Ty: ir.I64, Written: true},
		// slot 1 left unwritten
		2: {Ref: l, Ty: ir.I64, Written: true},
	}}
	guard := buf.EmitRaw(ir.OpEQ, ir.I64.Guarded(), l, l)

	snap := tbl.Capture(buf, slots, guard, bytecode.PC(10), 0)
	if len(snap.Entries) != 2 {
		t.Fatalf("Capture recorded %d entries, want 2 (unwritten slot 1 excluded)", len(snap.Entries))
	}
	if snap.Entries[0].Slot != 0 || snap.Entries[1].Slot != 2 {
		t.Fatalf("Capture entries not sorted/correct: %+v", snap.Entries)
	}
}

func TestMergesnapReusesSnapshotWhenNothingEmittedBetween(t *testing.T) {
	buf := ir.New()
	tbl := NewTable(true)
	l := buf.Literal(ir.I64, 1)
	slots := fakeSlots{base: 0, top: 1, vals: map[int]ir.TRef{0: {Ref: l, Ty: ir.I64, Written: true}}}

	g1 := buf.EmitRaw(ir.OpEQ, ir.I64.Guarded(), l, l)
	s1 := tbl.Capture(buf, slots, g1, bytecode.PC(1), 0)

	g2 := buf.EmitRaw(ir.OpNE, ir.I64.Guarded(), l, l)
	s2 := tbl.Capture(buf, slots, g2, bytecode.PC(2), 0)

	if s1 != s2 {
		t.Fatalf("mergesnap should reuse the previous snapshot when nothing intervened")
	}
	if len(tbl.All()) != 1 {
		t.Fatalf("All() = %d snapshots, want 1 after a merge", len(tbl.All()))
	}
}

func TestMergesnapDisabledCapturesSeparateSnapshots(t *testing.T) {
	buf := ir.New()
	tbl := NewTable(false)
	l := buf.Literal(ir.I64, 1)
	slots := fakeSlots{base: 0, top: 1, vals: map[int]ir.TRef{0: {Ref: l, Ty: ir.I64, Written: true}}}

	g1 := buf.EmitRaw(ir.OpEQ, ir.I64.Guarded(), l, l)
	s1 := tbl.Capture(buf, slots, g1, bytecode.PC(1), 0)
	g2 := buf.EmitRaw(ir.OpNE, ir.I64.Guarded(), l, l)
	s2 := tbl.Capture(buf, slots, g2, bytecode.PC(2), 0)

	if s1 == s2 {
		t.Fatalf("mergesnap disabled must capture a distinct snapshot every time")
	}
	if len(tbl.All()) != 2 {
		t.Fatalf("All() = %d snapshots, want 2", len(tbl.All()))
	}
}

func TestMergesnapBrokenByInterveningEmission(t *testing.T) {
	buf := ir.New()
	tbl := NewTable(true)
	l := buf.Literal(ir.I64, 1)
	slots := fakeSlots{base: 0, top: 1, vals: map[int]ir.TRef{0: {Ref: l, Ty: ir.I64, Written: true}}}

	g1 := buf.EmitRaw(ir.OpEQ, ir.I64.Guarded(), l, l)
	s1 := tbl.Capture(buf, slots, g1, bytecode.PC(1), 0)

	buf.EmitRaw(ir.OpADD, ir.I64, l, l) // breaks the merge window

	g2 := buf.EmitRaw(ir.OpNE, ir.I64.Guarded(), l, l)
	s2 := tbl.Capture(buf, slots, g2, bytecode.PC(2), 0)

	if s1 == s2 {
		t.Fatalf("an intervening emission must prevent snapshot reuse")
	}
}

func TestByGuardFindsCapturedSnapshot(t *testing.T) {
	buf := ir.New()
	tbl := NewTable(false)
	l := buf.Literal(ir.I64, 1)
	slots := fakeSlots{base: 0, top: 0}
	guard := buf.EmitRaw(ir.OpEQ, ir.I64.Guarded(), l, l)
	want := tbl.Capture(buf, slots, guard, bytecode.PC(5), 0)

	if got := tbl.ByGuard(guard); got != want {
		t.Fatalf("ByGuard(%d) = %v, want %v", guard, got, want)
	}
	if got := tbl.ByGuard(ir.Ref(9999)); got != nil {
		t.Fatalf("ByGuard for an unknown guard ref must return nil, got %v", got)
	}
}

func TestCompactDropsDeadNonLiteralEntries(t *testing.T) {
	buf := ir.New()
	tbl := NewTable(false)
	lit := buf.Literal(ir.I64, 1)
	alive := buf.EmitRaw(ir.OpADD, ir.I64, lit, lit)
	dead := buf.EmitRaw(ir.OpSUB, ir.I64, lit, lit)
	slots := fakeSlots{base: 0, top: 3, vals: map[int]ir.TRef{
		0: {Ref: lit, Ty: ir.I64, Written: true},
		1: {Ref: alive, Ty: ir.I64, Written: true},
		2: {Ref: dead, Ty: ir.I64, Written: true},
	}}
	guard := buf.EmitRaw(ir.OpEQ, ir.I64.Guarded(), lit, lit)
	snap := tbl.Capture(buf, slots, guard, bytecode.PC(1), 0)

	tbl.Compact(func(ref ir.Ref) bool { return ref == dead })

	if len(snap.Entries) != 2 {
		t.Fatalf("Compact left %d entries, want 2 (literal + alive)", len(snap.Entries))
	}
	for _, e := range snap.Entries {
		if e.Ref == dead {
			t.Fatalf("Compact must drop the dead entry")
		}
	}
}

func TestValidateNoForwardRefsDetectsForwardReference(t *testing.T) {
	buf := ir.New()
	lit := buf.Literal(ir.I64, 1)
	guard := buf.EmitRaw(ir.OpEQ, ir.I64.Guarded(), lit, lit)
	forward := buf.EmitRaw(ir.OpADD, ir.I64, lit, lit) // emitted after guard: a forward ref

	snap := &Snapshot{GuardRef: guard, Entries: []Entry{{Slot: 0, Ref: forward, Ty: ir.I64}}}
	_, _, ok := ValidateNoForwardRefs([]*Snapshot{snap})
	if ok {
		t.Fatalf("expected ValidateNoForwardRefs to flag a forward reference")
	}
}

func TestValidateNoForwardRefsAcceptsBackwardRefs(t *testing.T) {
	buf := ir.New()
	lit := buf.Literal(ir.I64, 1)
	backward := buf.EmitRaw(ir.OpADD, ir.I64, lit, lit)
	guard := buf.EmitRaw(ir.OpEQ, ir.I64.Guarded(), lit, lit)

	snap := &Snapshot{GuardRef: guard, Entries: []Entry{{Slot: 0, Ref: backward, Ty: ir.I64}, {Slot: 1, Ref: lit, Ty: ir.I64}}}
	_, _, ok := ValidateNoForwardRefs([]*Snapshot{snap})
	if !ok {
		t.Fatalf("expected backward/literal refs to validate cleanly")
	}
}

func TestSortedSlotsDedupsAndSorts(t *testing.T) {
	entries := []Entry{{Slot: 3}, {Slot: 1}, {Slot: 3}, {Slot: 2}}
	got := SortedSlots(entries)
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("SortedSlots(%v) = %v, want %v", entries, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedSlots(%v) = %v, want %v", entries, got, want)
		}
	}
}
