package unroll

import (
	"testing"

	"github.com/csabahruska/lambdachine/internal/ir"
)

func TestDCEMarksReachableFromSave(t *testing.T) {
	buf := ir.New()
	l1 := buf.Literal(ir.I64, 1)
	l2 := buf.Literal(ir.I64, 2)
	used := buf.EmitRaw(ir.OpADD, ir.I64, l1, l2)
	unused := buf.EmitRaw(ir.OpSUB, ir.I64, l1, l2)
	save := buf.EmitRaw(ir.OpSAVE, ir.VOID, used, 0)

	live := DCE(buf, Root{SaveRef: save})

	if !live[int(used-ir.RefBias)] {
		t.Fatalf("instruction reachable from SAVE must be marked live")
	}
	if live[int(unused-ir.RefBias)] {
		t.Fatalf("instruction unreachable from any root must not be marked live")
	}
	if buf.Get(unused).Op != ir.OpNOP {
		t.Fatalf("unreachable instruction must be rewritten to NOP, got %s", buf.Get(unused).Op)
	}
	if buf.Get(used).Op == ir.OpNOP {
		t.Fatalf("reachable instruction must not be rewritten to NOP")
	}
}

func TestDCEKeepsGuardRootsLive(t *testing.T) {
	buf := ir.New()
	l1 := buf.Literal(ir.I64, 1)
	l2 := buf.Literal(ir.I64, 2)
	guard := buf.EmitRaw(ir.OpEQ, ir.I64.Guarded(), l1, l2)
	save := buf.EmitRaw(ir.OpSAVE, ir.VOID, 0, 0)

	live := DCE(buf, Root{GuardRefs: []ir.Ref{guard}, SaveRef: save})
	if !live[int(guard-ir.RefBias)] {
		t.Fatalf("a guard ref passed as a root must always be live")
	}
}

func TestDCENeverDropsSideEffects(t *testing.T) {
	buf := ir.New()
	obj := buf.Literal(ir.PTR, 10)
	val := buf.Literal(ir.I64, 99)
	store := buf.EmitRaw(ir.OpSTORE, ir.VOID, obj, val)
	save := buf.EmitRaw(ir.OpSAVE, ir.VOID, 0, 0)

	DCE(buf, Root{SaveRef: save})
	if buf.Get(store).Op != ir.OpSTORE {
		t.Fatalf("a side-effecting instruction must survive DCE even with no readers, got %s", buf.Get(store).Op)
	}
}

func TestPostSinkSweepRewritesSunkNEW(t *testing.T) {
	buf := ir.New()
	info := buf.Literal(ir.INFO, 1)
	newRef := buf.EmitRaw(ir.OpNEW, ir.PTR, info, 0)

	PostSinkSweep(buf, func(ref ir.Ref) bool { return ref == newRef }, func(ir.Ref) bool { return false })
	if buf.Get(newRef).Op != ir.OpNOP {
		t.Fatalf("a sunk NEW must be rewritten to NOP")
	}
}

func TestPostSinkSweepLeavesUnsunkNEW(t *testing.T) {
	buf := ir.New()
	info := buf.Literal(ir.INFO, 1)
	newRef := buf.EmitRaw(ir.OpNEW, ir.PTR, info, 0)

	PostSinkSweep(buf, func(ir.Ref) bool { return false }, func(ir.Ref) bool { return false })
	if buf.Get(newRef).Op != ir.OpNEW {
		t.Fatalf("an unsunk NEW must survive PostSinkSweep")
	}
}

func TestIsDeadReflectsNOPRewrites(t *testing.T) {
	buf := ir.New()
	l1 := buf.Literal(ir.I64, 1)
	l2 := buf.Literal(ir.I64, 2)
	unused := buf.EmitRaw(ir.OpADD, ir.I64, l1, l2)
	save := buf.EmitRaw(ir.OpSAVE, ir.VOID, 0, 0)

	isDead := IsDead(buf)
	if isDead(unused) {
		t.Fatalf("instruction must not be reported dead before DCE runs")
	}
	DCE(buf, Root{SaveRef: save})
	if !isDead(unused) {
		t.Fatalf("instruction must be reported dead after DCE rewrites it to NOP")
	}
	if isDead(l1) {
		t.Fatalf("a literal ref must never be reported dead")
	}
}
