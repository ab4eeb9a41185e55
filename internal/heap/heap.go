// Package heap implements the abstract heap (C6): models heap allocations
// symbolically so allocations can be sunk past guards (spec.md §3, §4.6).
//
// The sink analysis is a classic Tarjan SCC over the "references" graph;
// grounded on the teacher's `eliminateDeadFunctions` mark-and-sweep in
// std/compiler/dce.go, which is the one place in the teacher that walks a
// call/reference graph with an explicit worklist — generalized here from
// reachability to strongly-connected-component decomposition, and from a
// `map[string]bool` visited-set to `golang.org/x/exp/slices`-backed index
// sets (see SPEC_FULL.md DOMAIN STACK).
package heap

import (
	"golang.org/x/exp/slices"

	"github.com/csabahruska/lambdachine/internal/ir"
)

// EntryID identifies one symbolic allocation within a trace's abstract
// heap.
type EntryID int

// Entry is a symbolic NEW: info-table ref, field refs, allocation offset,
// sinkability flag and SCC id (spec.md §3).
type Entry struct {
	Info       ir.Ref
	Fields     []ir.Ref // allocated by NewEntry; index i is word i's value, or unsetField if not yet set
	NewRef     ir.Ref   // the NEW instruction's own IR ref
	Offset     int      // assigned by FixHeapOffsets for non-sunk entries
	Sinkable   bool
	SCC        int
}

// unsetField marks a field slot that has not yet been written via SetField.
const unsetField ir.Ref = 0xFFFF

// Heap owns every abstract allocation created while recording one trace.
type Heap struct {
	entries []*Entry
	byNew   map[ir.Ref]EntryID

	// edges[a] lists entries that a's fields reference, for SCC analysis.
	edges map[EntryID][]EntryID
}

// New returns an empty abstract heap.
func New() *Heap {
	return &Heap{byNew: make(map[ir.Ref]EntryID), edges: make(map[EntryID][]EntryID)}
}

// NewEntry records a symbolic allocation created by a NEW instruction.
// Every NEW has exactly one heap entry (spec.md §3 invariant); nFields is
// the allocation's field count, known at emission time from the info
// table's declared size.
func (h *Heap) NewEntry(newRef, info ir.Ref, nFields int) EntryID {
	fields := make([]ir.Ref, nFields)
	for i := range fields {
		fields[i] = unsetField
	}
	e := &Entry{Info: info, Fields: fields, NewRef: newRef}
	id := EntryID(len(h.entries))
	h.entries = append(h.entries, e)
	h.byNew[newRef] = id
	return id
}

// Entry returns the entry for id.
func (h *Heap) Entry(id EntryID) *Entry { return h.entries[id] }

// EntryForNew looks up the entry created by a given NEW ref.
func (h *Heap) EntryForNew(newRef ir.Ref) (EntryID, bool) {
	id, ok := h.byNew[newRef]
	return id, ok
}

// SetField records field i of entry as ref, and — if ref references a
// previous allocation — adds an edge entry -> other (spec.md §4.6).
func (h *Heap) SetField(entry EntryID, i int, ref ir.Ref) {
	h.entries[entry].Fields[i] = ref
	if other, ok := h.byNew[ref]; ok {
		h.edges[entry] = append(h.edges[entry], other)
	}
}

// FieldSet reports whether field i of entry has been written.
func (h *Heap) FieldSet(entry EntryID, i int) bool {
	return h.entries[entry].Fields[i] != unsetField
}

// Entries returns every entry in creation order.
func (h *Heap) Entries() []*Entry { return h.entries }

// FixHeapOffsets assigns each non-sunk allocation an offset into the
// trace's heap bump allocation (spec.md §4.6). Must run after sink analysis
// so sunk entries are skipped.
func (h *Heap) FixHeapOffsets(wordSize int) (totalWords int) {
	off := 0
	for _, e := range h.entries {
		if e.Sinkable {
			continue
		}
		e.Offset = off
		off += 1 + len(e.Fields) // one word for the info-table header word
	}
	return off
}

// NonEscaping reports whether ref is an opcode that needs a concrete
// pointer value rather than accepting a symbolic/deferred allocation. Used
// by SinkAnalysis to decide which SCCs are "referenced by a non-allocation
// opcode that needs a concrete pointer" and therefore cannot sink.
type NonEscaping func(ref ir.Ref) bool

// SinkAnalysis computes strongly-connected components of the heap's
// references graph (Tarjan's algorithm) and marks every SCC sinkable when
// all its members are referenced only by other sunk allocations or by
// snapshots — never by a non-allocation opcode needing a concrete pointer
// (spec.md §4.6). escapes reports, for each entry id, whether some
// instruction outside the abstract heap forces it to materialize eagerly
// (e.g. it is read by FLOAD from a context the heap can't prove is another
// sunk allocation, or a GC-visible root).
//
// Being captured in a snapshot does not block sinking, since a sunk
// allocation is rebuilt at deopt time. An entry is non-sinkable when some
// member of its SCC escapes, or when a field of a non-sinkable entry
// references it.
func (h *Heap) SinkAnalysis(escapes func(EntryID) bool) {
	n := len(h.entries)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	visited := make([]bool, n)
	var stack []EntryID
	counter := 0
	sccOf := make([]int, n)
	for i := range sccOf {
		sccOf[i] = -1
	}
	nextSCC := 0

	var strongconnect func(v EntryID)
	strongconnect = func(v EntryID) {
		index[v] = counter
		low[v] = counter
		counter++
		visited[v] = true
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range h.edges[v] {
			if !visited[w] {
				strongconnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] {
				if index[w] < low[v] {
					low[v] = index[w]
				}
			}
		}

		if low[v] == index[v] {
			var members []EntryID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				members = append(members, w)
				sccOf[w] = nextSCC
				if w == v {
					break
				}
			}
			nextSCC++
			allSinkable := true
			for _, m := range members {
				if escapes(m) {
					allSinkable = false
					break
				}
			}
			for _, m := range members {
				h.entries[m].SCC = sccOf[m]
				h.entries[m].Sinkable = allSinkable
			}
		}
	}

	order := make([]EntryID, n)
	for i := range order {
		order[i] = EntryID(i)
	}
	// Deterministic visitation order; slices.Sort is a no-op here (already
	// sorted) but documents the invariant the rest of the pass relies on.
	slices.SortFunc(order, func(a, b EntryID) int { return int(a) - int(b) })

	for _, v := range order {
		if !visited[v] {
			strongconnect(v)
		}
	}

	// An entry referenced by a field of a non-sinkable entry must be
	// materialized too, so non-sinkability flows along the references graph.
	var unsink func(v EntryID)
	unsink = func(v EntryID) {
		for _, w := range h.edges[v] {
			if h.entries[w].Sinkable {
				h.entries[w].Sinkable = false
				unsink(w)
			}
		}
	}
	for i, e := range h.entries {
		if !e.Sinkable {
			unsink(EntryID(i))
		}
	}
}

// SunkEntries returns the ids of every entry marked sinkable.
func (h *Heap) SunkEntries() []EntryID {
	var out []EntryID
	for i, e := range h.entries {
		if e.Sinkable {
			out = append(out, EntryID(i))
		}
	}
	return out
}
