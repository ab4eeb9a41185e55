//go:build amd64

package asm

import (
	"github.com/pkg/errors"

	"github.com/csabahruska/lambdachine/internal/ir"
)

// Register numbers, mirroring the teacher's REG_* constants
// (std/compiler/x64.go) one for one.
const (
	regRAX = 0
	regRCX = 1
	regRDX = 2
	regRBX = 3
	regRSP = 4
	regRBP = 5
	regRSI = 6
	regRDI = 7
	regR8  = 8
	regR9  = 9
	regR10 = 10
	regR11 = 11
	regR12 = 12
	regR13 = 13
	regR14 = 14
	regR15 = 15
)

// gprTable maps an allocator register id (0..NumGPR-1) to a real x86-64
// register number, reserving RBP for BASE and R15 for HP per the runtime
// ABI spec.md §6 describes, and RSP for the native stack.
var gprTable = [NumGPR]int{
	regRAX, regRCX, regRDX, regRBX, regRSI, regRDI,
	regR8, regR9, regR10, regR11, regR12, regR13, regR14,
}

// amd64Backend is the concrete Backend (spec.md §4.9), the only
// architecture this module actually encodes machine code for.
//
// Grounded byte-for-byte on the teacher's x64.go encoders (rexRR/modrmRR,
// emitMovRegImm64, loadMem/storeMem): those functions take a *CodeGen and
// append to its forward-growing g.code slice, while the ones here take a
// *CodeBuffer and prepend to its backward-growing arena tail; the REX/
// ModRM math is identical.
type amd64Backend struct{}

// NewBackend returns the concrete x86-64 backend (spec.md §4.9: "one
// concrete amd64 implementation").
func NewBackend() Backend { return amd64Backend{} }

func rex(w bool, r, x, b int) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r >= 8 {
		v |= 0x04
	}
	if x >= 8 {
		v |= 0x02
	}
	if b >= 8 {
		v |= 0x01
	}
	return v
}

func modrmReg(mod, reg, rm int) byte {
	return byte((mod&3)<<6 | (reg&7)<<3 | (rm & 7))
}

func (amd64Backend) EmitEnter(buf *CodeBuffer) int {
	// push rbp; mov rbp, BASE-arg (rdi); the fragment's native frame keeps
	// BASE live in rbp for the duration of its run, matching the teacher's
	// rbp-relative frame convention in emitLoadLocal/emitStoreLocal.
	// The buffer grows backward, so the instruction emitted last runs first.
	buf.Emit(rex(true, 0, 0, regRDI), 0x89, modrmReg(3, regRDI, regRBP)) // mov rbp, rdi
	buf.Emit(0x55) // push rbp
	return buf.Pos()
}

func (b amd64Backend) EmitOp(buf *CodeBuffer, op ir.Op, dst Location, a, bloc Location) error {
	if !dst.IsReg || !a.IsReg {
		return errors.Errorf("asm: amd64 backend requires register operands, got dst=%+v a=%+v", dst, a)
	}
	dr := gprTable[dst.Reg]
	ar := gprTable[a.Reg]
	// The buffer grows backward: the two-address op is emitted first and the
	// `mov dst, a` after it, so at run time the mov executes before the op.
	if !bloc.IsReg {
		if dr != ar {
			buf.Emit(rex(true, ar, 0, dr), 0x89, modrmReg(3, ar, dr)) // mov dst, a
		}
		return nil // second operand already materialized as an immediate by the caller
	}
	br := gprTable[bloc.Reg]
	switch op {
	case ir.OpADD:
		buf.Emit(rex(true, br, 0, dr), 0x01, modrmReg(3, br, dr))
	case ir.OpSUB:
		buf.Emit(rex(true, br, 0, dr), 0x29, modrmReg(3, br, dr))
	case ir.OpMUL:
		buf.Emit(rex(true, dr, 0, br), 0x0f, 0xaf, modrmReg(3, dr, br))
	case ir.OpBAND:
		buf.Emit(rex(true, br, 0, dr), 0x21, modrmReg(3, br, dr))
	case ir.OpBOR:
		buf.Emit(rex(true, br, 0, dr), 0x09, modrmReg(3, br, dr))
	case ir.OpBXOR:
		buf.Emit(rex(true, br, 0, dr), 0x31, modrmReg(3, br, dr))
	case ir.OpEQ, ir.OpNE, ir.OpLT, ir.OpGE, ir.OpLE, ir.OpGT, ir.OpULT, ir.OpUGE, ir.OpULE, ir.OpUGT:
		buf.Emit(rex(true, br, 0, dr), 0x39, modrmReg(3, br, dr)) // cmp dst, b
	default:
		return errors.Errorf("asm: amd64 backend cannot encode op %s", op)
	}
	if dr != ar {
		buf.Emit(rex(true, ar, 0, dr), 0x89, modrmReg(3, ar, dr)) // mov dst, a
	}
	return nil
}

// ccTable maps the comparison IR ops to their Jcc condition codes (spec.md
// §4.9's guard exit encodes "jcc rel32 to exit stub"), mirroring the
// teacher's CC_* table in x64.go.
var ccTable = map[ir.Op]byte{
	ir.OpEQ: 0x84, ir.OpNE: 0x85,
	ir.OpLT: 0x8c, ir.OpGE: 0x8d, ir.OpLE: 0x8e, ir.OpGT: 0x8f,
	ir.OpULT: 0x82, ir.OpUGE: 0x83, ir.OpULE: 0x86, ir.OpUGT: 0x87,
}

func invertCC(cc byte) byte { return cc ^ 0x01 }

func (amd64Backend) EmitGuardExit(buf *CodeBuffer, exitNum int, invert bool) error {
	// jcc rel32; the rel32 is patched once the exit stub's address is
	// known (spec.md §4.9.2's stubs are built once per arena, ahead of any
	// fragment that might branch to them).
	cc := ccTable[ir.OpEQ]
	if invert {
		cc = invertCC(cc)
	}
	buf.Emit(0x0f, cc, 0, 0, 0, 0)
	return nil
}

func (amd64Backend) EmitExitStubs(buf *CodeBuffer, dispatch int) []int {
	// Each stub is `push imm8(exitNum); jmp dispatch` (spec.md §4.9.2): a
	// tiny, uniform trampoline so the exit number need not be looked up by
	// disassembling the guard that jumped here.
	addrs := make([]int, 16)
	for i := 15; i >= 0; i-- {
		rel := int32(dispatch - buf.Pos()) // rel32 counts from the jmp's end, which is Pos
		buf.Emit(0xe9, byte(rel), byte(rel >> 8), byte(rel >> 16), byte(rel >> 24)) // jmp dispatch
		addrs[i] = buf.Emit(0x6a, byte(i))                                         // push imm8 i
	}
	return addrs
}

func (amd64Backend) RestoreRegistersFromExitState(es *ExitState, slot int) uint64 {
	if slot < 0 || slot >= len(es.GPR) {
		return 0
	}
	return es.GPR[slot]
}
