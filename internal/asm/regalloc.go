// Package asm implements the register allocator and assembler (C9):
// linear-scan backwards allocation emitting native instructions directly
// into a reverse-growing machine-code buffer, with spill slots and guard
// exit stubs (spec.md §4.9).
//
// Grounded on the teacher's std/compiler/backend.go CodeGen struct (fields
// for code/rodata/data buffers, fixup lists, per-function frame state) and
// its per-architecture backend_*.go files (x64.go's byte-at-a-time
// instruction encoders). The register allocator itself has no teacher
// analogue — the teacher's compiler never allocates registers, it always
// spills every local to its rbp-relative stack slot (see x64.go
// emitLoadLocal/emitStoreLocal) — so RegAlloc below is built directly from
// spec.md §4.9's backward linear-scan description, while the assembler
// half (Assembler, in assembler.go) reuses the teacher's CodeGen shape.
package asm

import "github.com/csabahruska/lambdachine/internal/ir"

// NumGPR is the size of the allocatable general-purpose register set
// (kGPR in spec.md §4.9), after reserving the stack pointer and the two
// registers the runtime ABI (spec.md §6) dedicates to BASE and HP.
const NumGPR = 13

// Location is where a live IR value ended up after allocation: either a
// register or a spill slot, never both.
type Location struct {
	IsReg bool
	Reg   int
	Spill int // spill-slot index, valid iff !IsReg
}

// Assignment is the register allocator's output: a location per
// instruction ref, plus the total spill-slot count the frame must reserve.
type Assignment struct {
	Loc        map[ir.Ref]Location
	NumSpills  int
}

// canRemat reports whether ref is cheap enough to rematerialize instead of
// spilling when evicted (spec.md §4.9: "Literals satisfy canremat(ref) <=
// REF_BASE and are rematerialized rather than spilled when evicted").
func canRemat(ref ir.Ref) bool { return ref.IsLiteral() }

// RegAlloc runs the backward linear-scan allocator over buf, considering
// only instructions live according to the liveness bitmap DCE produced
// (spec.md §4.8 feeds §4.9). It walks IR from the last instruction to the
// first ("last use first"): for each live instruction, its destination
// register is whichever register was reserved by its latest (already-
// processed, since we go backward) consumer; its operands are then
// activated, assigning a free register or evicting the currently active
// ref with the highest reference number (spec.md §4.9).
func RegAlloc(buf *ir.Buffer, live []bool) *Assignment {
	asn := &Assignment{Loc: make(map[ir.Ref]Location)}
	active := make(map[ir.Ref]int) // ref -> register, for refs whose last use has been seen but def not yet reached
	numSpills := 0

	freeReg := func() (int, bool) {
		used := make([]bool, NumGPR)
		for _, reg := range active {
			used[reg] = true
		}
		for i := 0; i < NumGPR; i++ {
			if !used[i] {
				return i, true
			}
		}
		return 0, false
	}

	// evict picks the active ref with the highest reference number
	// (spec.md §4.9) and returns its register after spilling (or marking
	// for rematerialization, if it is cheap to reconstruct).
	evict := func() int {
		var victim ir.Ref
		for ref := range active {
			if ref > victim {
				victim = ref
			}
		}
		reg := active[victim]
		delete(active, victim)
		if canRemat(victim) {
			asn.Loc[victim] = Location{IsReg: false, Spill: -1}
		} else {
			asn.Loc[victim] = Location{IsReg: false, Spill: numSpills}
			numSpills++
		}
		return reg
	}

	activate := func(ref ir.Ref) {
		if ref.IsLiteral() {
			return // literals are rematerialized at point of use, never allocated a register
		}
		if _, ok := active[ref]; ok {
			return
		}
		reg, ok := freeReg()
		if !ok {
			reg = evict()
		}
		active[ref] = reg
	}

	n := buf.Len()
	for i := n - 1; i >= 0; i-- {
		ref := ir.RefBias + ir.Ref(i)
		if !live[i] {
			continue
		}
		ins := buf.Get(ref)

		if reg, ok := active[ref]; ok {
			asn.Loc[ref] = Location{IsReg: true, Reg: reg}
			delete(active, ref)
		}

		if !ins.Op1.IsLiteral() {
			activate(ins.Op1)
		}
		if !ins.Op2.IsLiteral() {
			activate(ins.Op2)
		}
	}

	asn.NumSpills = numSpills
	return asn
}
