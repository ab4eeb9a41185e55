// Package fragment implements the fragment store and deoptimization engine
// (C10): an append-only vector of compiled traces indexed both by trace-id
// and by entry PC, plus the logic that restores interpreter-visible state
// when a guard fails at runtime (spec.md §4.10).
//
// Grounded on the teacher's IRModule-to-binary pipeline shape
// (std/compiler/backend.go's funcOffsets map plus CallFixup/JumpFixup
// lists): a flat, append-only table of compiled units addressed by a
// small integer id, with a name/PC -> id lookup map alongside it. Fragment
// generalizes "function, looked up by name" into "trace, looked up by
// startPC>>2", matching spec.md §4.10's address-shift derivation from the
// bytecode's 32-bit instruction width.
package fragment

import (
	"github.com/csabahruska/lambdachine/internal/asm"
	"github.com/csabahruska/lambdachine/internal/bytecode"
	"github.com/csabahruska/lambdachine/internal/heap"
	"github.com/csabahruska/lambdachine/internal/ir"
	"github.com/csabahruska/lambdachine/internal/snapshot"
)

// ID identifies a fragment by its index into the store's vector
// (spec.md §9 "use numeric trace-ids for all cross-references").
type ID int

// Kind distinguishes a normal (fall-in) trace from a return trace, which
// the interpreter dispatches to differently (JFUNC vs JRET, spec.md §4.10).
type Kind int

const (
	KindFunc Kind = iota
	KindRet
)

// Fragment is a compiled trace plus its metadata: the assembled code, its
// snapshot table (needed by the deoptimizer), and a pointer to the parent
// fragment if this one is a side trace (spec.md §9 "fragments reference
// parents; parents have patched guards pointing into children").
type Fragment struct {
	ID         ID
	Kind       Kind
	StartPC    bytecode.PC
	Code       *asm.Assembled
	Snaps      *snapshot.Table
	ExitGuards []*snapshot.Snapshot // indexed by exit number, in recording order
	Parent     ID                  // -1 if this is a root trace, not a side trace
	ParentExit int                 // the exit number in Parent this fragment links from

	// Buf and Heap are the IR buffer and abstract heap the trace was
	// recorded into, kept alive past recording so the deoptimizer can walk
	// them to materialize values on a guard exit (spec.md §4.10.1).
	Buf  *ir.Buffer
	Heap *heap.Heap
}

// Store is the append-only fragment vector (spec.md §4.10, §5 "Fragment
// store: append-only; readers hold indices, not pointers, so resizes are
// safe").
type Store struct {
	fragments []*Fragment
	byPC      map[bytecode.PC]ID // startPC >> 2 already applied by caller via PCKey
}

// NewStore returns an empty fragment store.
func NewStore() *Store {
	return &Store{byPC: make(map[bytecode.PC]ID)}
}

// PCKey derives the lookup key spec.md §4.10 specifies: "indexed in a map
// keyed by startPC >> 2", shifting off the two low bits a fixed 32-bit
// bytecode encoding never sets.
func PCKey(pc bytecode.PC) bytecode.PC { return pc >> 2 }

// Add appends frag to the store, assigning it the next trace-id, and
// (unless it is a side trace linked only from a guard, which never gets a
// fresh dispatch entry of its own) registers it for PC-based lookup.
func (s *Store) Add(frag *Fragment, registerDispatch bool) ID {
	id := ID(len(s.fragments))
	frag.ID = id
	s.fragments = append(s.fragments, frag)
	if registerDispatch {
		s.byPC[PCKey(frag.StartPC)] = id
	}
	return id
}

// Get returns the fragment for id. Panics on an out-of-range id: readers
// are expected to hold ids only ever received from Add/Lookup.
func (s *Store) Get(id ID) *Fragment { return s.fragments[id] }

// Lookup implements the `lookup_fragment(pc) -> Option<FragmentId>`
// external interface (spec.md §6), called by JFUNC/JRET dispatch.
func (s *Store) Lookup(pc bytecode.PC) (ID, bool) {
	id, ok := s.byPC[PCKey(pc)]
	return id, ok
}

// Len reports how many fragments have been compiled.
func (s *Store) Len() int { return len(s.fragments) }
