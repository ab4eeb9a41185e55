package asm

// ExitStubs is the fixed bank of guard-exit trampolines built once per
// arena and shared by every fragment assembled into it (spec.md §4.9.2:
// "16 pre-built, push-imm8+jmp pattern"). Each stub pushes its own index
// and jumps to the shared dispatcher, so a guard's jcc only needs to know
// which of the 16 stubs to branch to, not synthesize the exit number
// itself.
type ExitStubs struct {
	addrs      []int
	dispatcher int
}

// NumExitStubs is the size of the shared stub bank (spec.md §4.9.2).
const NumExitStubs = 16

// BuildExitStubs writes the dispatcher-relative stub bank into buf via
// backend, recording each stub's address for later guard fixups.
func BuildExitStubs(buf *CodeBuffer, backend Backend, dispatcherAddr int) *ExitStubs {
	addrs := backend.EmitExitStubs(buf, dispatcherAddr)
	return &ExitStubs{addrs: addrs, dispatcher: dispatcherAddr}
}

// Addr returns the stub address for exit number n, or -1 if n is negative.
// An n at or past the bank size wraps around it (a fragment with more than
// NumExitStubs guards cycles through the bank, spec.md §4.9.2, since each stub only needs to
// identify the guard within its own fragment's exit table, not globally).
func (s *ExitStubs) Addr(n int) int {
	if n < 0 {
		return -1
	}
	return s.addrs[n%len(s.addrs)]
}
