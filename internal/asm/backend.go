package asm

import (
	"github.com/pkg/errors"

	"github.com/csabahruska/lambdachine/internal/ir"
)

// ErrBackendUnsupported is returned by the stub backend's EmitOp and
// EmitGuardExit (spec.md §4.9's target list includes architectures this student module
// does not implement a real encoder for).
var ErrBackendUnsupported = errors.New("asm: backend not supported on this architecture")

// ExitState is the fixed-layout register/stack save area an exit stub
// writes before trapping to the deoptimizer (spec.md §4.10.1). Field order
// must match what RestoreRegistersFromExitState expects to read back.
type ExitState struct {
	GPR     [NumGPR]uint64
	ExitNum int
}

// Backend is the per-architecture code generator (spec.md §4.9's "Backend
// interface ... one concrete amd64 implementation and stub implementations
// for arm64/i386"). A Backend never sees IR directly except through the
// Assembler, which walks the buffer and the register Assignment and calls
// one Emit* method per live instruction.
//
// Grounded on the teacher's CodeGen (std/compiler/backend.go) /
// backend_x64.go split: CodeGen holds shared, architecture-independent
// bookkeeping (fixup lists, frame size) while backend_x64.go supplies the
// byte-level encoders. Backend below plays CodeGen's role as the seam the
// rest of the assembler program against; amd64Backend plays x64.go's.
type Backend interface {
	// EmitEnter writes the fragment's prologue: establish BASE/HP from the
	// caller-supplied ExitState-compatible entry registers.
	EmitEnter(buf *CodeBuffer) (entry int)

	// EmitOp encodes one live IR instruction given its operands' and its
	// own result's allocated Location.
	EmitOp(buf *CodeBuffer, op ir.Op, dst Location, a, b Location) error

	// EmitGuardExit encodes a conditional branch to the exit stub for
	// guard number exitNum, taken when the guard's condition is false.
	EmitGuardExit(buf *CodeBuffer, exitNum int, invert bool) error

	// EmitExitStubs writes the fixed bank of exit-stub trampolines (spec.md
	// §4.9.2: "16 pre-built, push-imm8+jmp pattern") used by every guard in
	// every fragment assembled into this arena, returning their addresses.
	EmitExitStubs(buf *CodeBuffer, dispatch int) []int

	// RestoreRegistersFromExitState reconstructs interpreter-visible state
	// from a captured ExitState (spec.md §4.10.1 deopt materialization).
	RestoreRegistersFromExitState(es *ExitState, slot int) uint64
}
