package asm

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ArenaSize is the default size of one machine-code arena (spec.md §4.9:
// "mmap'd in ~4 MiB arenas"). Grounded on the teacher's ELF writer picking
// a fixed page-aligned load address (std/compiler/elf_x64.go's baseAddr) —
// here generalized from "one fixed mapping written once" to "a mapping
// flipped between writable and executable as traces are assembled."
const ArenaSize = 4 << 20

// Arena is an mmap'd, RWX-flippable region the assembler writes machine
// code into. It starts writable (PROT_READ|PROT_WRITE) and is flipped to
// executable (PROT_READ|PROT_EXEC) with Seal before any fragment in it can
// be entered, per spec.md §4.9's W^X discipline.
//
// Grounded on golang.org/x/sys/unix's mmap/mprotect pair, the same way
// IreliaTable-gvisor's pkg/sentry/platform/systrap/subprocess.go maps a
// shared scratch region for its subprocess stub.
type Arena struct {
	mem    []byte
	sealed bool
}

// NewArena maps a fresh, writable arena of size bytes (rounded up to
// ArenaSize if size is 0).
func NewArena(size int) (*Arena, error) {
	if size <= 0 {
		size = ArenaSize
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "asm: mmap arena")
	}
	return &Arena{mem: mem}, nil
}

// Bytes exposes the arena's backing storage for the CodeBuffer to write
// into. Panics if the arena has already been sealed executable, since the
// whole point of Seal is that nothing writes to it again.
func (a *Arena) Bytes() []byte {
	if a.sealed {
		panic("asm: write to sealed (executable) arena")
	}
	return a.mem
}

// Seal flips the arena from writable to executable. No fragment's entry
// point may be published (spec.md §4.10 JFUNC patching) before its arena
// has been sealed.
func (a *Arena) Seal() error {
	if err := unix.Mprotect(a.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return errors.Wrap(err, "asm: mprotect seal")
	}
	a.sealed = true
	return nil
}

// Unseal flips the arena back to writable, e.g. to patch a JFUNC/JRET slot
// after linking a new fragment onto an existing one (spec.md §4.10.2).
func (a *Arena) Unseal() error {
	if err := unix.Mprotect(a.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return errors.Wrap(err, "asm: mprotect unseal")
	}
	a.sealed = false
	return nil
}

// Close unmaps the arena. Never called while any fragment inside it is
// still reachable from the fragment store.
func (a *Arena) Close() error {
	return unix.Munmap(a.mem)
}
