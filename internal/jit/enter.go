package jit

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/csabahruska/lambdachine/internal/asm"
	"github.com/csabahruska/lambdachine/internal/fragment"
)

// EntryFunc is the native calling convention `enter_fragment` uses (spec.md
// §6, "Runtime ABI"): BASE, HP and HEAP_LIMIT are passed in, and the
// function returns the address of the ExitState the exit stub populated.
type EntryFunc func(base, hp, hplim, stacklim uintptr) uintptr

// asFunc reinterprets a slice of already-executable machine code as a
// callable Go function value. This is the one genuinely unsafe, no-
// library-available operation in the whole module: Go has no portable,
// standard way to call into a raw byte slice as code, and nothing in the
// teacher or the rest of the retrieval pack does this either (the teacher
// always writes a whole ELF/PE/Mach-O binary and execs it as a separate
// process — std/compiler/backend.go's GenerateELF — rather than running
// generated code in-process). See DESIGN.md for why no third-party
// library could serve this.
func asFunc(code []byte) EntryFunc {
	ptr := unsafe.Pointer(&code[0])
	return *(*EntryFunc)(unsafe.Pointer(&ptr))
}

// EnterFragment implements `enter_fragment(id, thread, hp, hplim,
// stacklim)` (spec.md §6): transfers control into a compiled fragment's
// machine code at its entry offset.
func (j *Jit) EnterFragment(id fragment.ID, base, hp, hplim, stacklim uintptr) uintptr {
	frag := j.fragments.Get(id)
	entry := asFunc(frag.Code.Code[frag.Code.EntryOff:])
	return entry(base, hp, hplim, stacklim)
}

// RestoreSnapshot implements `restore_snapshot(fragment_id, exit_no,
// exit_state) -> ()` (spec.md §6): called from the generic exit handler
// after a guard fails at runtime.
func (j *Jit) RestoreSnapshot(id fragment.ID, exitNo int, es *asm.ExitState, hw fragment.HeapWriter) (*fragment.RestoredState, error) {
	frag := j.fragments.Get(id)
	if exitNo < 0 || exitNo >= len(frag.ExitGuards) {
		return nil, errors.Errorf("jit: exit number %d out of range for fragment %d", exitNo, id)
	}
	snap := frag.ExitGuards[exitNo]
	return fragment.Restore(frag.Buf, frag.Heap, snap, es, j.backend, nil, uint64(es.GPR[0]), 0, hw)
}
