package unroll

import (
	"testing"

	"github.com/csabahruska/lambdachine/internal/ir"
)

func TestUnrollEmitsLoopMarkerAndReplaysInstructions(t *testing.T) {
	buf := ir.New()
	l1 := buf.Literal(ir.I64, 1)
	l2 := buf.Literal(ir.I64, 2)
	orig := buf.EmitRaw(ir.OpADD, ir.I64, l1, l2)
	before := buf.Len()

	remap := Unroll(buf, nil, nil)

	if buf.Len() <= before {
		t.Fatalf("Unroll must append at least the LOOP marker and the replay")
	}
	replayed, ok := remap[orig]
	if !ok {
		t.Fatalf("remap must contain an entry for every pre-loop instruction")
	}
	replayedIns := buf.Get(replayed)
	if replayedIns.Op != ir.OpADD {
		t.Fatalf("replayed instruction has op %s, want ADD", replayedIns.Op)
	}
}

func TestUnrollInsertsPHIForChangedSlot(t *testing.T) {
	buf := ir.New()
	entryVal := ir.TRef{Ref: buf.Literal(ir.I64, 0), Ty: ir.I64}
	endRef := buf.EmitRaw(ir.OpADD, ir.I64, entryVal.Ref, buf.Literal(ir.I64, 5))
	endVal := ir.TRef{Ref: endRef, Ty: ir.I64}

	entrySlots := map[int]ir.TRef{0: entryVal}
	endSlots := map[int]ir.TRef{0: endVal}

	before := buf.ChainHead(ir.OpPHI)
	Unroll(buf, entrySlots, endSlots)
	after := buf.ChainHead(ir.OpPHI)

	if after == before {
		t.Fatalf("expected a PHI to be inserted for a slot whose value changed around the loop")
	}
	phi := buf.Get(after)
	if phi.Op1 != entryVal.Ref {
		t.Fatalf("PHI's first operand must be the loop-entry ref")
	}
}

func TestUnrollSkipsPHIForUnchangedSlot(t *testing.T) {
	buf := ir.New()
	val := ir.TRef{Ref: buf.Literal(ir.I64, 7), Ty: ir.I64}
	slots := map[int]ir.TRef{0: val}

	Unroll(buf, slots, slots)
	if buf.ChainHead(ir.OpPHI) != 0 {
		t.Fatalf("a slot whose value is unchanged around the loop must not get a PHI")
	}
}
