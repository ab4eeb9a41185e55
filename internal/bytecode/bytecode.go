// Package bytecode describes the external contract this core consumes: the
// fixed bytecode surface named in spec.md §6. The loader that produces these
// instructions, the interpreter dispatch loop that executes them, and the
// wire format they are read from are all external collaborators — this
// package only names the shapes the JIT core needs to read.
package bytecode

// Op is one of the ~50 opcodes the interpreter dispatch loop executes.
type Op int

const (
	OpFUNC Op = iota
	OpIFUNC
	OpJFUNC
	OpJRET
	OpLOADK
	OpMOV
	OpMOVRES // MOV_RES

	OpADDRR
	OpSUBRR
	OpMULRR
	OpDIVRR
	OpREMRR
	OpNEG
	OpBNOT
	OpBAND
	OpBOR
	OpBXOR
	OpBSHL
	OpBSHR

	OpISLT
	OpISGE
	OpISLE
	OpISGT
	OpISEQ
	OpISNE
	OpISLTU
	OpISGEU
	OpISLEU
	OpISGTU

	OpJMP
	OpCALL
	OpCALLT
	OpRET1
	OpIRET
	OpRETN

	OpEVAL
	OpUPDATE

	OpALLOC1
	OpALLOC
	OpALLOCAP

	OpCASE
	OpCASES // CASE_S

	OpLOADF
	OpLOADFV
	OpLOADSLF
	OpGETTAG
	OpPTROFSC

	OpSTOP
)

// Format distinguishes the two fixed 32-bit encodings named in spec.md §6.
type Format int

const (
	FormatABC Format = iota // primary opcode + (A, B, C)
	FormatAD                // primary opcode + (A, D)
)

// Instruction is one decoded bytecode instruction, plus any variable-length
// tail (CALL/ALLOC argument-slot lists and pointer-mask word).
type Instruction struct {
	Op   Op
	A, B, C int
	D    int
	Tail []int // argument slot indices, for CALL/ALLOC family
	Mask uint64
}

// PC is an opaque bytecode program counter. The loader/interpreter define
// its concrete representation (offset into a code object, say); the JIT
// core treats it as a comparable value it can embed in literals and guards.
type PC uint64

// InfoKind distinguishes the six tagged-variant "classes" that the
// original source modeled as a class hierarchy (Design Note "Deep
// inheritance emulation of info tables").
type InfoKind int

const (
	InfoCon InfoKind = iota
	InfoFun
	InfoThunk
	InfoCaf
	InfoPap
	InfoInd // indirection
)

// InfoTable is a per-object-kind descriptor: layout, tag and entry code
// pointer. Only the fields the JIT needs to specialize on are modeled.
type InfoTable struct {
	Kind  InfoKind
	Tag   uint32
	Arity int    // for InfoFun: the function's arity
	Size  int    // words of payload
	Name  string // debug name only
}

// Closure is the concrete runtime representation of a heap object the
// interpreter owns. The JIT never allocates one directly except through the
// abstract heap / NEW emission contract; this struct exists so recorder and
// deopt code can describe what they read from interpreter memory.
type Closure struct {
	Info    *InfoTable
	Payload []uint64
}

// IsHNF reports whether a closure is already in head normal form: a
// constructor, partial application, or function (never a thunk/CAF/
// indirection).
func (c *Closure) IsHNF() bool {
	switch c.Info.Kind {
	case InfoCon, InfoFun, InfoPap:
		return true
	default:
		return false
	}
}
