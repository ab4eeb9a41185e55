package asm

// Move is one source->destination register (or spill-slot) move requested
// as part of a parallel assignment: all Moves in one Resolve call must
// behave as if they happened simultaneously (spec.md §4.9.1), e.g. at a
// loop-back edge where slot 3 gets what slot 4 held and slot 4 gets what
// slot 3 held.
type Move struct {
	From Location
	To   Location
}

// locKey identifies a Location as a graph node; registers and spill slots
// live in separate namespaces so register 0 and spill slot 0 never alias.
type locKey struct {
	isReg bool
	idx   int
}

func keyOf(l Location) locKey {
	if l.IsReg {
		return locKey{true, l.Reg}
	}
	return locKey{false, l.Spill}
}

// ResolvedMove is one sequential move emitted to realize the requested
// parallel assignment. UsesScratch marks the move that breaks a cycle by
// saving one element's old value into the scratch register.
type ResolvedMove struct {
	From, To    Location
	UsesScratch bool
}

// Resolve turns a set of logically-simultaneous moves into an ordered
// sequence of real moves, breaking any cycles through scratchReg (spec.md
// §4.9.1: "a register-move graph with cycle-breaking via scratch register
// or xchg"). Moves whose source already equals their destination are
// dropped; the caller guarantees at most one pending move targets any
// given destination (true parallel assignment, never a fan-in).
//
// This has no teacher analogue — the teacher's compiler never has a
// register allocator, every local lives at one fixed rbp-relative offset,
// so moving a value there is just an independent store. Resolve below
// implements the textbook simultaneous-move sequentialization spec.md
// §4.9.1 describes: repeatedly perform any move whose destination nobody
// else still needs to read, and when only cycles remain, break one by
// saving an element's old value to scratch before overwriting it.
func Resolve(moves []Move, scratchReg int) []ResolvedMove {
	pending := make([]Move, 0, len(moves))
	for _, m := range moves {
		if keyOf(m.From) != keyOf(m.To) {
			pending = append(pending, m)
		}
	}

	scratch := Location{IsReg: true, Reg: scratchReg}
	var result []ResolvedMove

	neededAsSource := func(k locKey) bool {
		for _, m := range pending {
			if keyOf(m.From) == k {
				return true
			}
		}
		return false
	}

	for len(pending) > 0 {
		progressed := false
		for i, m := range pending {
			if !neededAsSource(keyOf(m.To)) {
				result = append(result, ResolvedMove{From: m.From, To: m.To})
				pending = append(pending[:i], pending[i+1:]...)
				progressed = true
				break
			}
		}
		if progressed {
			continue
		}

		// Every remaining move is part of a cycle. Break the first one by
		// saving its destination's current value to scratch, then
		// redirect whichever pending move reads that destination to read
		// scratch instead, making it safe to execute next iteration.
		victim := pending[0].To
		result = append(result, ResolvedMove{From: victim, To: scratch, UsesScratch: true})
		for i := range pending {
			if keyOf(pending[i].From) == keyOf(victim) {
				pending[i].From = scratch
			}
		}
	}

	return result
}
