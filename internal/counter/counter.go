// Package counter implements the hot counters (C1): a per-PC decaying
// counter that signals the interpreter to begin recording (spec.md §4.1).
//
// One self-contained file with no sub-state beyond its own array, in the
// same register as the teacher's small single-purpose files (e.g.
// std/compiler/dce.go, std/compiler/size_analysis.go): a handful of package
// functions/methods around one slice, no further decomposition warranted.
package counter

// Size is the hot-counter table size from spec.md §4.1 ("N = 1024").
const Size = 1024

// DefaultThreshold is the default hot-count threshold from spec.md §4.1.
const DefaultThreshold = 7

// Table is a fixed array of 16-bit decaying counters indexed by a hash of
// the PC.
type Table struct {
	counts    [Size]uint16
	threshold uint16
}

// New returns a counter table with the given trip threshold. A threshold of
// 0 uses DefaultThreshold.
func New(threshold uint16) *Table {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	t := &Table{threshold: threshold}
	for i := range t.counts {
		t.counts[i] = threshold
	}
	return t
}

// hash computes the table index for pc: (pc>>12) ^ (pc>>4), masked to
// Size-1 (spec.md §4.1). Collisions are tolerated by design: a false-
// positive trip merely starts a speculative recording that gets aborted.
func hash(pc uint64) int {
	return int(((pc >> 12) ^ (pc >> 4)) & uint64(Size-1))
}

// Tick decrements the counter for pc; when it reaches zero it resets to the
// threshold and Tick reports trip=true.
func (t *Table) Tick(pc uint64) (trip bool) {
	idx := hash(pc)
	t.counts[idx]--
	if t.counts[idx] == 0 {
		t.counts[idx] = t.threshold
		return true
	}
	return false
}

// Reset restores pc's counter to the threshold, e.g. after a fragment for
// pc is installed and its counter no longer needs to trip again.
func (t *Table) Reset(pc uint64) {
	t.counts[hash(pc)] = t.threshold
}

// Threshold returns the configured trip threshold.
func (t *Table) Threshold() uint16 { return t.threshold }
