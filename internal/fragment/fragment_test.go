package fragment

import (
	"testing"

	"github.com/csabahruska/lambdachine/internal/bytecode"
)

func TestAddAssignsSequentialIDs(t *testing.T) {
	s := NewStore()
	f0 := &Fragment{StartPC: bytecode.PC(4), Parent: -1}
	f1 := &Fragment{StartPC: bytecode.PC(8), Parent: -1}
	id0 := s.Add(f0, true)
	id1 := s.Add(f1, true)
	if id0 != 0 || id1 != 1 {
		t.Fatalf("Add assigned ids (%d, %d), want (0, 1)", id0, id1)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
}

func TestLookupUsesPCKeyShift(t *testing.T) {
	s := NewStore()
	f := &Fragment{StartPC: bytecode.PC(100), Parent: -1}
	id := s.Add(f, true)

	got, ok := s.Lookup(bytecode.PC(100))
	if !ok || got != id {
		t.Fatalf("Lookup(100) = (%d, %v), want (%d, true)", got, ok, id)
	}
	// Any PC sharing the same >>2 key must resolve to the same fragment.
	if got, ok := s.Lookup(bytecode.PC(103)); !ok || got != id {
		t.Fatalf("Lookup(103) = (%d, %v), want (%d, true) since 100>>2 == 103>>2", got, ok, id)
	}
}

func TestAddWithoutDispatchRegistrationIsUnreachableByPC(t *testing.T) {
	s := NewStore()
	f := &Fragment{StartPC: bytecode.PC(200), Parent: 0, ParentExit: 3}
	s.Add(f, false)
	if _, ok := s.Lookup(bytecode.PC(200)); ok {
		t.Fatalf("a side trace added without dispatch registration must not be reachable by PC lookup")
	}
}

func TestGetReturnsTheStoredFragment(t *testing.T) {
	s := NewStore()
	f := &Fragment{StartPC: bytecode.PC(4), Kind: KindRet, Parent: -1}
	id := s.Add(f, true)
	if got := s.Get(id); got != f {
		t.Fatalf("Get(%d) returned a different fragment than was added", id)
	}
}
