// Package ir implements the IR buffer (C3): a two-ended array of IR
// instructions, constants growing down and regular instructions growing up,
// with per-opcode chains for CSE (spec.md §3, §4.3).
package ir

// Type is the closed set of IR value types from spec.md §3. The guard bit
// is orthogonal and is not part of this enum (see Type.Guarded).
type Type uint8

const (
	I32 Type = iota
	I64
	U32
	U64
	CHR
	PTR
	CLOS // closure pointer
	INFO // info-table pointer
	PCTY // bytecode pointer (named PC in the spec; renamed to avoid clashing with Ref/PC naming)
	F32
	VOID
	UNKNOWN
)

func (t Type) String() string {
	switch t &^ guardBit {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case CHR:
		return "chr"
	case PTR:
		return "ptr"
	case CLOS:
		return "clos"
	case INFO:
		return "info"
	case PCTY:
		return "pc"
	case F32:
		return "f32"
	case VOID:
		return "void"
	default:
		return "unknown"
	}
}

// guardBit is packed into the top bit of the type byte: a guard-flagged
// opcode carries this bit on its Type field.
const guardBit Type = 1 << 7

// Guarded returns a copy of t with the guard bit set.
func (t Type) Guarded() Type { return t | guardBit }

// IsGuard reports whether t carries the guard bit.
func (t Type) IsGuard() bool { return t&guardBit != 0 }

// Base strips the guard bit, returning the plain value type.
func (t Type) Base() Type { return t &^ guardBit }

// Ref is a biased index into the two-ended IR buffer. Values below RefBias
// are literals (grown down from the bias); values at or above are regular
// instructions (grown up from the bias). This is the "operand reference"
// named in spec.md §3.
type Ref uint16

// RefBias splits the Ref space into literals (< RefBias) and instructions
// (>= RefBias). REF_BIAS mirrors LuaJIT-family trace compilers: a generous
// headroom for constants keeps most traces from ever needing a second
// buffer resize on the literal side.
const RefBias Ref = 0x8000

// IsLiteral reports whether r addresses the literal half of the buffer.
func (r Ref) IsLiteral() bool { return r < RefBias }

// TRef is the value produced by emission APIs: an IR reference plus its
// type plus a "written" bit, used to avoid capturing unwritten slots in
// snapshots (spec.md §3).
type TRef struct {
	Ref     Ref
	Ty      Type
	Written bool
}

// Nil is the zero TRef, used to represent an empty abstract slot.
var Nil = TRef{}

// IsNil reports whether t is the empty-slot sentinel.
func (t TRef) IsNil() bool { return t == TRef{} }

// Op is the IR opcode set: the operations the recorder (C7), fold/CSE
// engine (C5) and assembler (C9) all dispatch on.
type Op uint8

const (
	// Arithmetic / logical, all foldable and CSE'd.
	OpADD Op = iota
	OpSUB
	OpMUL
	OpDIV
	OpREM
	OpNEG
	OpBAND
	OpBOR
	OpBXOR
	OpBNOT
	OpBSHL
	OpBSHR

	// Comparisons, always guard-flagged when emitted by the recorder.
	OpEQ
	OpNE
	OpLT
	OpGE
	OpLE
	OpGT
	OpULT
	OpUGE
	OpULE
	OpUGT

	// Memory.
	OpFLOAD  // load a field of a closure/heap object
	OpSLOAD  // load an untouched abstract slot, lazily, from the caller frame
	OpSTORE  // store a value into a field; side-effecting, never CSE'd
	OpUPDATE // overwrite a thunk with an indirection; side-effecting

	// Allocation.
	OpNEW     // symbolic allocation; one abstract-heap entry per NEW
	OpHEAPCHK // heap-check ahead of one or more NEWs; side-effecting (traps to GC)

	// Guards (IsGuard() always true on these once emitted).
	OpEQINFO // info-table equality guard
	OpGUARD  // generic boolean guard (used for comparison specialization)

	// Control / bookkeeping.
	OpPHI  // loop-carried value merge, inserted by the unroller
	OpLOOP // loop-head marker
	OpSAVE // trace terminator: records how control should leave the trace
	OpNOP  // dead instruction, left by DCE until compaction

	// Literals live in dedicated chains but still need opcodes for the
	// per-opcode CSE chains to dispatch on.
	OpKINT
	OpKWORD
	OpKBASEO // literal relative to the trace's entry base (see BaseLiteral)
)

// SaveReason is the payload of a SAVE instruction: how the trace finishes.
type SaveReason uint8

const (
	SaveLoop SaveReason = iota
	SaveFallthrough
	SaveLink
)

// HasSideEffect reports whether op must never be reordered across guards or
// CSE'd away (spec.md §5 "Ordering guarantees").
func (op Op) HasSideEffect() bool {
	switch op {
	case OpSTORE, OpUPDATE, OpNEW, OpHEAPCHK:
		return true
	default:
		return false
	}
}

// IsGuardOp reports whether op always carries the guard bit when emitted.
func (op Op) IsGuardOp() bool {
	switch op {
	case OpEQ, OpNE, OpLT, OpGE, OpLE, OpGT, OpULT, OpUGE, OpULE, OpUGT,
		OpEQINFO, OpGUARD:
		return true
	default:
		return false
	}
}

// IsCommutative reports whether op's operands may be swapped (spec.md §4.4).
func (op Op) IsCommutative() bool {
	switch op {
	case OpADD, OpMUL, OpBAND, OpBOR, OpBXOR, OpEQ, OpNE:
		return true
	default:
		return false
	}
}

func (op Op) String() string {
	names := [...]string{
		"ADD", "SUB", "MUL", "DIV", "REM", "NEG", "BAND", "BOR", "BXOR", "BNOT", "BSHL", "BSHR",
		"EQ", "NE", "LT", "GE", "LE", "GT", "ULT", "UGE", "ULE", "UGT",
		"FLOAD", "SLOAD", "STORE", "UPDATE",
		"NEW", "HEAPCHK",
		"EQINFO", "GUARD",
		"PHI", "LOOP", "SAVE", "NOP",
		"KINT", "KWORD", "KBASEO",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "?"
}

// NumOps is the number of distinct opcodes, used to size chain-head tables.
const NumOps = int(OpKBASEO) + 1
