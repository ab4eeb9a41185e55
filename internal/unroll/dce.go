package unroll

import "github.com/csabahruska/lambdachine/internal/ir"

// Root enumerates the extra, opcode-independent roots the DCE mark phase
// must seed from: every guard ref (spec.md §4.8 "marks uses starting from
// guards and SAVE") and the SAVE instruction itself.
type Root struct {
	GuardRefs []ir.Ref
	SaveRef   ir.Ref
}

// DCE runs the pre-sink-alloc mark-and-sweep pass over buf: mark reachable
// instructions starting from guards and SAVE, then rewrite every
// unreachable, non-side-effecting instruction to NOP (spec.md §4.8). It
// returns the liveness bitmap so a second pass (PostSinkSweep) can refine
// it once sink analysis has run.
//
// Grounded on std/compiler/dce.go's `eliminateDeadFunctions`: a worklist
// seeded with roots, walking backward/forward over edges (there: call
// edges; here: operand refs) and marking a boolean set, generalized from a
// map[string]bool to a slice indexed by ref for hot-path speed.
func DCE(buf *ir.Buffer, roots Root) []bool {
	n := buf.Len()
	live := make([]bool, n)

	var worklist []ir.Ref
	mark := func(ref ir.Ref) {
		if ref.IsLiteral() {
			return
		}
		idx := int(ref - ir.RefBias)
		if idx < 0 || idx >= n || live[idx] {
			return
		}
		live[idx] = true
		worklist = append(worklist, ref)
	}

	mark(roots.SaveRef)
	for _, g := range roots.GuardRefs {
		mark(g)
	}
	// Every side-effecting instruction (STORE/UPDATE/NEW/HEAPCHK) is itself
	// a root: it must run even if nothing reads its "result" (spec.md §5
	// "Ordering guarantees" — these are never reordered or dropped).
	buf.Each(func(ref ir.Ref, ins ir.Inst) {
		if ins.Op.HasSideEffect() {
			mark(ref)
		}
	})

	for len(worklist) > 0 {
		ref := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		ins := buf.Get(ref)
		mark(ins.Op1)
		mark(ins.Op2)
	}

	buf.Each(func(ref ir.Ref, ins ir.Inst) {
		idx := int(ref - ir.RefBias)
		if !live[idx] && !ins.Op.HasSideEffect() && ins.Op != ir.OpNOP && ins.Op != ir.OpLOOP {
			buf.Rewrite(ref, ir.OpNOP, ir.VOID, 0, 0)
		}
	})

	return live
}

// PostSinkSweep runs the second DCE pass after sink analysis has decided
// which NEWs are sunk (spec.md §4.8): any NEW whose heap entry was marked
// sinkable no longer needs code on the fast path, so it is rewritten to NOP
// along with any FLOAD/STORE that only existed to materialize its fields.
// isSunk reports whether the NEW at ref was sunk; isDeadField reports
// whether an instruction exists solely to write a sunk allocation's field
// (materialization happens at deopt time instead, per spec.md §4.6).
func PostSinkSweep(buf *ir.Buffer, isSunk func(newRef ir.Ref) bool, isDeadField func(ref ir.Ref) bool) {
	buf.Each(func(ref ir.Ref, ins ir.Inst) {
		if ins.Op == ir.OpNEW && isSunk(ref) {
			buf.Rewrite(ref, ir.OpNOP, ir.VOID, 0, 0)
			return
		}
		if isDeadField(ref) {
			buf.Rewrite(ref, ir.OpNOP, ir.VOID, 0, 0)
		}
	})
}

// IsDead reports whether the instruction at ref has been reduced to NOP by
// either DCE pass. Used by snapshot.Table.Compact as the isDead predicate.
func IsDead(buf *ir.Buffer) func(ref ir.Ref) bool {
	return func(ref ir.Ref) bool {
		if ref.IsLiteral() {
			return false
		}
		return buf.Get(ref).Op == ir.OpNOP
	}
}
