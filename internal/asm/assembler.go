package asm

import (
	"github.com/pkg/errors"

	"github.com/csabahruska/lambdachine/internal/ir"
)

// scratchReg is the allocator register id reserved for the parallel-move
// resolver's cycle-breaking moves (spec.md §4.9.1); it is never handed out
// by RegAlloc itself, whose register ids run from 0 to NumGPR-1. The amd64
// gprTable maps only those NumGPR ids, so scratchReg has no machine
// register of its own there.
const scratchReg = NumGPR

// Assembled is the output of assembling one trace's IR into native code:
// the finished byte range inside its arena, its entry point, and enough
// bookkeeping for the fragment store to register it and for the
// deoptimizer to reconstruct state on exit (spec.md §4.9, §4.10).
type Assembled struct {
	Arena     *Arena
	Code      []byte
	EntryOff  int
	NumSpills int
	// ExitAddrs[i] is the code offset the i'th guard (in recording order)
	// branches to on failure, reusing the arena's shared exit-stub bank.
	ExitAddrs []int
}

// Assembler drives RegAlloc and a Backend over one recorded trace,
// producing machine code in buf's arena (spec.md §4.9).
type Assembler struct {
	Arena   *Arena
	Backend Backend
	Stubs   *ExitStubs
}

// NewAssembler wraps an arena that already has its shared exit-stub bank
// built (BuildExitStubs), ready to assemble any number of fragments into
// the remaining space.
func NewAssembler(arena *Arena, backend Backend, stubs *ExitStubs) *Assembler {
	return &Assembler{Arena: arena, Backend: backend, Stubs: stubs}
}

// Assemble encodes buf's live instructions into native code, in the same
// backward order RegAlloc walks them, so the allocator's decisions and the
// encoder's instruction stream never have to be zipped back together
// through an intermediate list.
//
// Live guards are assigned exit numbers in recording order: the first guard
// in buf is exit 0 (spec.md §4.10's ExitState needs a stable exit-number ->
// snapshot mapping).
func (asm *Assembler) Assemble(buf *ir.Buffer, live []bool) (*Assembled, error) {
	assignment := RegAlloc(buf, live)
	code := NewCodeBuffer(asm.Arena.Bytes())

	n := buf.Len()
	numGuards := 0
	for i := 0; i < n; i++ {
		if live[i] && buf.Get(ir.RefBias+ir.Ref(i)).Op.IsGuardOp() {
			numGuards++
		}
	}
	exitAddrs := make([]int, numGuards)
	nextExit := numGuards - 1
	for i := n - 1; i >= 0; i-- {
		ref := ir.RefBias + ir.Ref(i)
		if !live[i] {
			continue
		}
		ins := buf.Get(ref)
		if ins.Op == ir.OpNOP || ins.Op == ir.OpLOOP || ins.Op == ir.OpSAVE || ins.Op == ir.OpPHI {
			continue
		}

		dst := assignment.Loc[ref]
		a := locOf(assignment, ins.Op1)
		b := locOf(assignment, ins.Op2)

		if ins.Op.IsGuardOp() {
			exitNum := nextExit
			nextExit--
			if err := asm.Backend.EmitGuardExit(code, exitNum, false); err != nil {
				return nil, errors.Wrapf(err, "asm: emitting guard exit for ref %d", ref)
			}
			exitAddrs[exitNum] = asm.Stubs.Addr(exitNum)
			continue
		}

		if err := asm.Backend.EmitOp(code, ins.Op, dst, a, b); err != nil {
			return nil, errors.Wrapf(err, "asm: emitting op for ref %d", ref)
		}
	}

	entry := asm.Backend.EmitEnter(code)

	return &Assembled{
		Arena:     asm.Arena,
		Code:      code.Bytes(),
		EntryOff:  entry,
		NumSpills: assignment.NumSpills,
		ExitAddrs: exitAddrs,
	}, nil
}

func locOf(asn *Assignment, ref ir.Ref) Location {
	if ref.IsLiteral() {
		return Location{IsReg: false, Spill: -1}
	}
	return asn.Loc[ref]
}
