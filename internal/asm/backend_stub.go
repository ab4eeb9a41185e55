//go:build arm64 || 386

package asm

import (
	"github.com/csabahruska/lambdachine/internal/ir"
)

// stubBackend is used for every architecture this student module does not
// carry a real encoder for (arm64, i386). EmitOp and EmitGuardExit fail
// with ErrBackendUnsupported; EmitEnter, EmitExitStubs and
// RestoreRegistersFromExitState return zero values.
//
// Grounded directly on the teacher's backend_arm64_stub.go /
// backend_i386_stub.go pair: a build-tag-gated file whose functions all
// just wrap fmt.Errorf, so unsupported targets still link.
type stubBackend struct{}

// NewBackend returns a Backend that rejects every fragment, for
// architectures without a concrete encoder (spec.md §4.9: "stub
// implementations for arm64/i386").
func NewBackend() Backend { return stubBackend{} }

func (stubBackend) EmitEnter(buf *CodeBuffer) int { return 0 }

func (stubBackend) EmitOp(buf *CodeBuffer, op ir.Op, dst Location, a, b Location) error {
	return ErrBackendUnsupported
}

func (stubBackend) EmitGuardExit(buf *CodeBuffer, exitNum int, invert bool) error {
	return ErrBackendUnsupported
}

func (stubBackend) EmitExitStubs(buf *CodeBuffer, dispatch int) []int { return nil }

func (stubBackend) RestoreRegistersFromExitState(es *ExitState, slot int) uint64 { return 0 }
