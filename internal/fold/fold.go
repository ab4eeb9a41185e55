// Package fold implements the fold/CSE engine (C5): algebraic
// simplification, constant folding, commutative-operand normalization, and
// CSE over the IR buffer's per-opcode chains (spec.md §4.4).
//
// Grounded on the teacher's constant-folding-free `ir.go`/`dce.go` pair —
// the teacher never folds constants (its stack-machine IR is emitted
// straight from a parse tree and left for the backend to peephole) — so the
// fold rules themselves come from spec.md §4.4 directly; what is grounded
// in the teacher is the *shape* of the pass: a small set of free functions
// operating on the shared IR buffer, no separate "optimizer" object, the
// same style `eliminateDeadFunctions` in dce.go uses for its mark-sweep.
package fold

import (
	"github.com/pkg/errors"

	"github.com/csabahruska/lambdachine/internal/ir"
)

// ErrKnownFailingGuard is returned by EmitGuard when folding proves a guard must
// always fail. The recorder must treat this as a fatal recording abort with
// reason "known failing guard" (spec.md §4.4, §4.7.2).
var ErrKnownFailingGuard = errors.New("fold: guard would always fail")

// Engine owns the fold/CSE policy for one trace recording session. It reads
// and writes to a single *ir.Buffer; it holds no IR state of its own, only
// the switch that turns CSE on or off.
type Engine struct {
	buf *ir.Buffer

	// enabled gates CSE lookups in Emit; see SetCSE.
	enabled bool
}

// New returns a fold/CSE engine bound to buf. Disabling CSE (opt_cse=false,
// spec.md §6) is supported by Engine.SetCSE for trace recorders that want
// straight emission for debugging.
func New(buf *ir.Buffer) *Engine {
	return &Engine{buf: buf, enabled: true}
}

// SetCSE toggles whether Emit performs CSE lookups; folding and commutative
// normalization always apply regardless, since they are required for
// correctness (e.g. guard-failure detection), not merely an optimization.
func (e *Engine) SetCSE(enabled bool) { e.enabled = enabled }

// Emit dispatches op through folding and CSE, returning a reference
// semantically equivalent to the requested operation (spec.md §4.4
// contract). An EQ or NE with two literal operands folds to a literal even
// when guard-flagged, so no guard instruction is emitted for it; callers
// that know a comparison's truth value ahead of time (the recorder, per
// spec.md §4.7) call EmitGuard, which reports a fold to false as an error.
func (e *Engine) Emit(op ir.Op, ty ir.Type, a, b ir.Ref) (ir.Ref, error) {
	a, b, ty = normalize(e.buf, op, a, b, ty)

	if folded, ok := e.tryFold(op, ty, a, b); ok {
		return folded, nil
	}

	if e.enabled && !op.HasSideEffect() {
		if existing, ok := e.cse(op, ty, a, b); ok {
			return existing, nil
		}
	}

	return e.buf.EmitRaw(op, ty, a, b), nil
}

// EmitGuard emits a guard-flagged comparison, specialized on the observed
// truth value per spec.md §4.7: "emit the guard with the comparison
// operator inverted iff the observed truth value is false." If constant
// folding can already determine the guard's outcome and it contradicts
// observed (an impossible state — folding agrees with the observed value
// unless the recorder's operands are already inconsistent), EmitGuard
// returns ErrKnownFailingGuard.
func (e *Engine) EmitGuard(op ir.Op, a, b ir.Ref, observed bool) (ir.Ref, error) {
	used := op
	if !observed {
		used = invert(op)
	}
	ref, err := e.Emit(used, ir.I32.Guarded(), a, b)
	if err != nil {
		return 0, err
	}
	if folded := e.constBool(ref); folded != nil && !*folded {
		return 0, errors.Wrap(ErrKnownFailingGuard, "EmitGuard")
	}
	return ref, nil
}

// constBool reports the folded boolean value of ref if ref is a constant
// fold of a comparison, or nil if ref is not a known-constant comparison.
func (e *Engine) constBool(ref ir.Ref) *bool {
	if ref.IsLiteral() {
		_, v := e.buf.GetLiteral(ref)
		b := v != 0
		return &b
	}
	return nil
}

func invert(op ir.Op) ir.Op {
	switch op {
	case ir.OpEQ:
		return ir.OpNE
	case ir.OpNE:
		return ir.OpEQ
	case ir.OpLT:
		return ir.OpGE
	case ir.OpGE:
		return ir.OpLT
	case ir.OpLE:
		return ir.OpGT
	case ir.OpGT:
		return ir.OpLE
	case ir.OpULT:
		return ir.OpUGE
	case ir.OpUGE:
		return ir.OpULT
	case ir.OpULE:
		return ir.OpUGT
	case ir.OpUGT:
		return ir.OpULE
	default:
		return op
	}
}

// normalize places a literal operand on the right for commutative ops
// (spec.md §4.4: "Commutative ops: place literal operand on the right").
func normalize(buf *ir.Buffer, op ir.Op, a, b ir.Ref, ty ir.Type) (ir.Ref, ir.Ref, ir.Type) {
	if op.IsCommutative() && a.IsLiteral() && !b.IsLiteral() {
		return b, a, ty
	}
	return a, b, ty
}

// cse walks chain[op] looking for an earlier instruction with the same
// (type, op1, op2), stopping if a side effect or guard lies between the
// candidate and the current emission point (spec.md §4.4, §4.5). FLOAD is
// further restricted: it is not CSE'd across any STORE/UPDATE, the "simple
// policy" spec.md §4.4 mandates for possibly-aliasing loads.
func (e *Engine) cse(op ir.Op, ty ir.Type, a, b ir.Ref) (ir.Ref, bool) {
	ref := e.buf.ChainHead(op)
	barrier := e.buf.BarrierSeq()
	for ref != 0 {
		ins := e.buf.Get(ref)
		if ins.Ty == ty && ins.Op1 == a && ins.Op2 == b {
			if op == ir.OpFLOAD && barrier != 0 {
				// A guard or side effect (STORE, UPDATE, NEW, HEAPCHK)
				// happened somewhere in the trace; this simple policy
				// refuses to CSE any FLOAD from then on, rather than
				// attempting alias analysis.
				return 0, false
			}
			for r := ref + 1; r < e.buf.NextInstRef(); r++ {
				if o := e.buf.Get(r).Op; o.HasSideEffect() || o.IsGuardOp() {
					return 0, false
				}
			}
			return ref, true
		}
		ref = ins.Prev
	}
	return 0, false
}

// tryFold applies the required algebraic identities from spec.md §4.4.
// Returns (ref, true) if the expression folds to an existing reference
// (either a literal or an already-emitted instruction), (0, false) if it
// must be emitted as-is.
func (e *Engine) tryFold(op ir.Op, ty ir.Type, a, b ir.Ref) (ir.Ref, bool) {
	switch op {
	case ir.OpADD, ir.OpMUL, ir.OpBAND, ir.OpBOR, ir.OpBXOR, ir.OpEQ, ir.OpNE:
		if a.IsLiteral() && b.IsLiteral() {
			return e.foldConstBinop(op, ty, a, b), true
		}
	case ir.OpSUB:
		if a.IsLiteral() && b.IsLiteral() {
			return e.foldConstBinop(op, ty, a, b), true
		}
		if ref, ok := e.foldSub(ty, a, b); ok {
			return ref, true
		}
	}

	if b.IsLiteral() {
		_, bv := e.buf.GetLiteral(b)
		switch op {
		case ir.OpADD:
			if bv == 0 {
				return a, true
			}
			// x + k1 + k2 => x + (k1+k2): if a is itself an ADD-with-literal.
			if !a.IsLiteral() {
				ins := e.buf.Get(a)
				if ins.Op == ir.OpADD && ins.Op2.IsLiteral() {
					_, k1 := e.buf.GetLiteral(ins.Op2)
					merged := e.buf.Literal(ty.Base(), k1+bv)
					ref, _ := e.Emit(ir.OpADD, ty, ins.Op1, merged)
					return ref, true
				}
			}
		case ir.OpMUL:
			if bv == 1 {
				return a, true
			}
		case ir.OpSUB:
			if bv == 0 {
				return a, true
			}
		case ir.OpBAND, ir.OpBOR, ir.OpBXOR, ir.OpBSHL, ir.OpBSHR:
			// no required identity beyond what's listed in spec.md §4.4
		}
	}

	switch op {
	case ir.OpNEG:
		if !a.IsLiteral() {
			ins := e.buf.Get(a)
			if ins.Op == ir.OpNEG {
				return ins.Op1, true
			}
		}
	case ir.OpBNOT:
		if !a.IsLiteral() {
			ins := e.buf.Get(a)
			if ins.Op == ir.OpBNOT {
				return ins.Op1, true
			}
		}
	}

	return 0, false
}

// foldSub implements the SUB-specific identities from spec.md §4.4:
// x-0=>x, 0-x=>-x, (a-b)-a=>-b, x-x=>0.
func (e *Engine) foldSub(ty ir.Type, a, b ir.Ref) (ir.Ref, bool) {
	if a == b {
		return e.buf.Literal(ty.Base(), 0), true
	}
	if b.IsLiteral() {
		_, bv := e.buf.GetLiteral(b)
		if bv == 0 {
			return a, true
		}
	}
	if a.IsLiteral() {
		_, av := e.buf.GetLiteral(a)
		if av == 0 {
			ref, _ := e.Emit(ir.OpNEG, ty, b, 0)
			return ref, true
		}
	}
	if !a.IsLiteral() {
		ins := e.buf.Get(a)
		if ins.Op == ir.OpSUB && ins.Op1 == b {
			// (a - b) - a == -b, matched as (b' - x) - b' with our a==ins.Op1
			ref, _ := e.Emit(ir.OpNEG, ty, ins.Op2, 0)
			return ref, true
		}
	}
	return 0, false
}

// foldConstBinop evaluates op on two literal operands of the same type and
// interns the resulting literal.
func (e *Engine) foldConstBinop(op ir.Op, ty ir.Type, a, b ir.Ref) ir.Ref {
	_, av := e.buf.GetLiteral(a)
	_, bv := e.buf.GetLiteral(b)
	var r uint64
	switch op {
	case ir.OpADD:
		r = av + bv
	case ir.OpSUB:
		r = av - bv
	case ir.OpMUL:
		r = av * bv
	case ir.OpBAND:
		r = av & bv
	case ir.OpBOR:
		r = av | bv
	case ir.OpBXOR:
		r = av ^ bv
	case ir.OpEQ:
		r = b2u(av == bv)
	case ir.OpNE:
		r = b2u(av != bv)
	}
	return e.buf.Literal(ty.Base(), r)
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
