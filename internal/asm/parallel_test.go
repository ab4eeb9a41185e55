package asm

import "testing"

func reg(n int) Location   { return Location{IsReg: true, Reg: n} }
func spill(n int) Location { return Location{IsReg: false, Spill: n} }

// simulate replays resolved moves against a table of source-identity tokens
// and reports the final value at every location the moves.To set touches.
func simulate(moves []Move, resolved []ResolvedMove) map[locKey]locKey {
	val := make(map[locKey]locKey)
	for _, m := range moves {
		val[keyOf(m.From)] = keyOf(m.From)
	}
	for _, rm := range resolved {
		val[keyOf(rm.To)] = val[keyOf(rm.From)]
	}
	return val
}

func assertSatisfies(t *testing.T, moves []Move, resolved []ResolvedMove) {
	t.Helper()
	declared := make(map[locKey]locKey)
	for _, m := range moves {
		declared[keyOf(m.To)] = keyOf(m.From)
	}
	val := simulate(moves, resolved)
	for dst, src := range declared {
		if val[dst] != src {
			t.Fatalf("destination %+v ended up with %+v, want the value originally at %+v", dst, val[dst], src)
		}
	}
}

func TestResolveDropsNoOpMoves(t *testing.T) {
	moves := []Move{{From: reg(0), To: reg(0)}}
	resolved := Resolve(moves, NumGPR)
	if len(resolved) != 0 {
		t.Fatalf("Resolve(no-op) = %v, want empty", resolved)
	}
}

func TestResolveAcyclicChainNeedsNoScratch(t *testing.T) {
	// r0 -> r1, r1 -> r2: must execute r1->r2 before r0->r1, or r1's
	// original value is clobbered before it is read.
	moves := []Move{
		{From: reg(0), To: reg(1)},
		{From: reg(1), To: reg(2)},
	}
	resolved := Resolve(moves, NumGPR)
	for _, rm := range resolved {
		if rm.UsesScratch {
			t.Fatalf("acyclic move chain should never need the scratch register: %+v", resolved)
		}
	}
	assertSatisfies(t, moves, resolved)
}

func TestResolveTwoCycleBreaksViaScratch(t *testing.T) {
	moves := []Move{
		{From: reg(0), To: reg(1)},
		{From: reg(1), To: reg(0)},
	}
	resolved := Resolve(moves, NumGPR)
	assertSatisfies(t, moves, resolved)

	usedScratch := false
	for _, rm := range resolved {
		if rm.UsesScratch {
			usedScratch = true
		}
	}
	if !usedScratch {
		t.Fatalf("a 2-cycle must break through the scratch register, got %+v", resolved)
	}
}

func TestResolveThreeCyclePlusIndependentChains(t *testing.T) {
	moves := []Move{
		{From: reg(0), To: reg(1)},
		{From: reg(1), To: reg(2)},
		{From: reg(2), To: reg(0)}, // 3-cycle
		{From: spill(0), To: reg(3)},
		{From: spill(1), To: reg(4)},
		{From: reg(5), To: reg(6)},
		{From: reg(6), To: reg(7)},
		{From: reg(8), To: reg(9)},
		{From: reg(9), To: reg(8)}, // independent 2-cycle
	}
	resolved := Resolve(moves, NumGPR)
	assertSatisfies(t, moves, resolved)
}

func TestResolveScratchRegisterNeverCollidesWithARealDestination(t *testing.T) {
	moves := []Move{
		{From: reg(0), To: reg(1)},
		{From: reg(1), To: reg(0)},
	}
	resolved := Resolve(moves, NumGPR)
	for _, rm := range resolved {
		if rm.To.IsReg && rm.To.Reg == NumGPR && !rm.UsesScratch {
			t.Fatalf("a non-scratch move targeted the reserved scratch register: %+v", rm)
		}
	}
}
