package ir

import "fmt"

// MaxSlots bounds the virtual stack frame a trace can address at once
// (spec.md §3: "top - base <= MAX_SLOTS"). 256 matches the bytecode format's
// 8-bit slot-index fields (spec.md §6 "Per-instruction layout").
const MaxSlots = 256

// ConcreteType answers, for an untouched slot, the type the interpreter's
// pointer mask says that slot concretely holds right now. The recorder
// supplies this from the caller's frame; the abstract slot array itself
// has no notion of the interpreter's memory layout.
type ConcreteType func(slot int) Type

// Slots is the abstract slot array from spec.md §3: a fixed-size array of
// TRefs representing the VM's stack frame, with base/top/min/max cursors.
// Reading an untouched slot lazily emits an SLOAD.
type Slots struct {
	arr      [MaxSlots]TRef
	base     int
	top      int
	minSlot  int
	maxSlot  int
}

// NewSlots returns a slot array with base/top both at the given base and
// min/max initialized to that same point, matching a trace that has not
// yet read or written outside its entry frame.
func NewSlots(base int) *Slots {
	return &Slots{base: base, top: base, minSlot: base, maxSlot: base}
}

// Base returns the current base cursor (the first slot of the active
// frame).
func (s *Slots) Base() int { return s.base }

// Top returns the current top cursor (one past the last live slot).
func (s *Slots) Top() int { return s.top }

// MinSlot / MaxSlot report the cursors' historical extremes, used by
// frame-size computation at snapshot time.
func (s *Slots) MinSlot() int { return s.minSlot }
func (s *Slots) MaxSlot() int { return s.maxSlot }

// ErrMinSlot is returned by SetBase when the new base would shrink minSlot
// below its running minimum. Per spec.md §9 Open Questions, this is a
// recording abort, never a crash.
type ErrMinSlot struct{ NewBase, MinSlot int }

func (e *ErrMinSlot) Error() string {
	return fmt.Sprintf("ir: base %d would shrink min_slot below running minimum %d", e.NewBase, e.MinSlot)
}

// SetBase moves the base cursor, as CALL/RET frame pushes and pops do. It
// enforces min_slot <= base <= top by construction: base is clamped against
// top by the caller via SetTop first when growing. Shrinking min_slot
// itself is reported as an error rather than asserted away.
func (s *Slots) SetBase(base int) error {
	if base < s.minSlot {
		return &ErrMinSlot{NewBase: base, MinSlot: s.minSlot}
	}
	s.base = base
	if base < s.minSlot {
		s.minSlot = base
	}
	return nil
}

// SetTop moves the top cursor, clamping the max_slot high-water mark and
// enforcing top-base <= MaxSlots.
func (s *Slots) SetTop(top int) error {
	if top-s.base > MaxSlots {
		return fmt.Errorf("ir: frame size %d exceeds MAX_SLOTS %d", top-s.base, MaxSlots)
	}
	s.top = top
	if top > s.maxSlot {
		s.maxSlot = top
	}
	return nil
}

// Set stores a TRef into slot, marking it written. This is the only way a
// slot becomes eligible for snapshot capture (spec.md §4.5: "records only
// written slots").
func (s *Slots) Set(slot int, t TRef) {
	t.Written = true
	s.arr[slot] = t
}

// Clear empties a slot (used when popping a frame: "clear the slots it
// occupied").
func (s *Slots) Clear(slot int) { s.arr[slot] = Nil }

// Get reads slot. If the slot has never been loaded or stored, it lazily
// emits an SLOAD inheriting the concrete type the interpreter currently
// holds there (spec.md §3). The emitted TRef is *not* marked written: it
// came from the caller's frame, not a store within this trace, so it must
// not appear in later snapshots per the "written" bit's purpose.
func (s *Slots) Get(buf *Buffer, slot int, concrete ConcreteType) TRef {
	if !s.arr[slot].IsNil() {
		return s.arr[slot]
	}
	ty := concrete(slot)
	ref := buf.EmitRaw(OpSLOAD, ty, Ref(slot), 0)
	t := TRef{Ref: ref, Ty: ty, Written: false}
	s.arr[slot] = t
	return t
}

// Peek reads slot without emitting an SLOAD, returning the nil TRef if the
// slot is currently empty. Used by snapshot capture, which only cares about
// written slots and must never trigger emission as a side effect of taking
// a snapshot.
func (s *Slots) Peek(slot int) TRef { return s.arr[slot] }

// Written reports whether the TRef currently in slot came from a Set
// rather than a lazy SLOAD (or is empty).
func (s *Slots) Written(slot int) bool { return s.arr[slot].Written }
