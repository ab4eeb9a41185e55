package asm

import "testing"

func TestNewArenaDefaultsZeroSizeToArenaSize(t *testing.T) {
	a, err := NewArena(0)
	if err != nil {
		t.Fatalf("NewArena(0): %v", err)
	}
	defer a.Close()
	if len(a.Bytes()) != ArenaSize {
		t.Fatalf("len(Bytes()) = %d, want %d", len(a.Bytes()), ArenaSize)
	}
}

func TestArenaBytesPanicsWhenSealed(t *testing.T) {
	a, err := NewArena(4096)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer a.Close()
	if err := a.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Bytes() to panic on a sealed arena")
		}
	}()
	a.Bytes()
}

func TestArenaUnsealAllowsWritesAgain(t *testing.T) {
	a, err := NewArena(4096)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer a.Close()
	if err := a.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := a.Unseal(); err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	b := a.Bytes()
	b[0] = 0x90 // must not panic
}
