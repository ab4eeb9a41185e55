// Package unroll implements the loop unroller, dead-code eliminator and
// snapshot compactor (C8): peels one iteration, inserts PHI nodes, and
// eliminates dead instructions in two passes (spec.md §4.8).
//
// Grounded on the teacher's mark-and-sweep DCE in std/compiler/dce.go
// (`eliminateDeadFunctions`): same worklist-based reachability shape,
// generalized from "functions reachable from main.main" to "instructions
// reachable from guards and SAVE."
package unroll

import (
	"golang.org/x/exp/slices"

	"github.com/csabahruska/lambdachine/internal/ir"
)

// Unroll replays every instruction currently in buf, substituting
// references according to a PHI table built from the slot values observed
// at loop entry vs. loop end, and appends a LOOP marker ahead of the
// replay (spec.md §4.8 "Unroll"). loopEntrySlots and loopEndSlots map slot
// index -> the TRef live in that slot at the respective point; for every
// slot present in both where the refs differ, a PHI(loop-entry-ref,
// loop-end-ref) is inserted.
//
// Unroll returns the mapping from each original ref to its replayed
// counterpart, so callers (the recorder/assembler) can rewrite any
// external bookkeeping (snapshots, heap entries) that still points at
// pre-unroll refs.
func Unroll(buf *ir.Buffer, loopEntrySlots, loopEndSlots map[int]ir.TRef) map[ir.Ref]ir.Ref {
	loopMarker := buf.EmitRaw(ir.OpLOOP, ir.VOID, 0, 0)
	_ = loopMarker

	// original covers every instruction emitted before the LOOP marker.
	originalLen := int(loopMarker - ir.RefBias)
	remap := make(map[ir.Ref]ir.Ref, originalLen)

	translate := func(ref ir.Ref) ir.Ref {
		if ref.IsLiteral() {
			return ref
		}
		if mapped, ok := remap[ref]; ok {
			return mapped
		}
		return ref // refers to something before the loop head's visible window (e.g. a literal-like constant already shared)
	}

	for i := 0; i < originalLen; i++ {
		ref := ir.RefBias + ir.Ref(i)
		ins := buf.Get(ref)
		newRef := buf.EmitRaw(ins.Op, ins.Ty, translate(ins.Op1), translate(ins.Op2))
		buf.SetExtra(newRef, ins.Extra)
		remap[ref] = newRef
	}

	slotNums := make([]int, 0, len(loopEntrySlots))
	for slot := range loopEntrySlots {
		slotNums = append(slotNums, slot)
	}
	slices.Sort(slotNums)

	for _, slot := range slotNums {
		entryTRef, entryOK := loopEntrySlots[slot]
		endTRef, endOK := loopEndSlots[slot]
		if !entryOK || !endOK {
			continue
		}
		endMapped := translate(endTRef.Ref)
		if entryTRef.Ref == endMapped {
			continue // slot didn't change around the loop; no PHI needed
		}
		buf.EmitRaw(ir.OpPHI, entryTRef.Ty, entryTRef.Ref, endMapped)
	}

	return remap
}
