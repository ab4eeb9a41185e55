// Package shadow implements the call-stack shadow and branch-target buffer
// (C2): tracks virtual call depth during recording and detects true vs.
// false loops (spec.md §3, §4.2).
package shadow

import (
	"github.com/csabahruska/lambdachine/internal/bytecode"
	"github.com/csabahruska/lambdachine/internal/ir"
)

// NodeID indexes a node in the call-stack shadow tree.
type NodeID int

// rootID is the shadow tree's root: the frame the trace was entered in.
const rootID NodeID = 0

type node struct {
	parent  NodeID
	retRef  ir.Ref // IR ref holding the return-PC guard value for this frame
	phantom bool   // true if this node records having left the initial frame
}

// CallStack is a persistent tree of frames; the recorder holds a cursor
// into it. PushFrame creates a new node; ReturnTo moves the cursor up (or
// appends a phantom return node if already at the root).
type CallStack struct {
	nodes  []node
	cursor NodeID
}

// New returns a call-stack shadow positioned at its root frame.
func New() *CallStack {
	return &CallStack{nodes: []node{{parent: rootID}}, cursor: rootID}
}

// Cursor returns the current frame node.
func (c *CallStack) Cursor() NodeID { return c.cursor }

// PushFrame pushes a new node below the current cursor, recording the
// return-PC IR ref, and moves the cursor to it (spec.md §4.2 push_frame).
func (c *CallStack) PushFrame(retRef ir.Ref) NodeID {
	id := NodeID(len(c.nodes))
	c.nodes = append(c.nodes, node{parent: c.cursor, retRef: retRef})
	c.cursor = id
	return id
}

// ReturnTo pops one frame (moving the cursor to its parent), or — if the
// cursor is already at the root — appends a phantom return node recording
// that the trace has left its initial frame (spec.md §4.2 return_to).
func (c *CallStack) ReturnTo(retRef ir.Ref) NodeID {
	if c.cursor == rootID {
		id := NodeID(len(c.nodes))
		c.nodes = append(c.nodes, node{parent: rootID, retRef: retRef, phantom: true})
		c.cursor = id
		return id
	}
	c.cursor = c.nodes[c.cursor].parent
	return c.cursor
}

// Depth counts non-phantom ancestors of node, inclusive of node itself if
// it is non-phantom (spec.md §4.2 depth).
func (c *CallStack) Depth(n NodeID) int {
	d := 0
	cur := n
	for {
		if !c.nodes[cur].phantom {
			d++
		}
		if cur == rootID {
			break
		}
		cur = c.nodes[cur].parent
	}
	return d
}

// ancestors returns n and every proper ancestor up to (and including) the
// root, root-first.
func (c *CallStack) ancestors(n NodeID) []NodeID {
	var chain []NodeID
	for {
		chain = append(chain, n)
		if n == rootID {
			break
		}
		n = c.nodes[n].parent
	}
	// reverse to root-first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Compare decides whether a is a proper prefix of b, equal to b, a suffix
// of b, or incomparable, returning -1/0/1 per spec.md §4.2's `compare`
// contract used by IsTrueLoop: -1 means a is a (possibly non-proper)
// ancestor context of b (a's chain is a prefix of b's), 0 means equal, 1
// means a is deeper / incomparable.
func (c *CallStack) Compare(a, b NodeID) int {
	ca, cb := c.ancestors(a), c.ancestors(b)
	minLen := len(ca)
	if len(cb) < minLen {
		minLen = len(cb)
	}
	for i := 0; i < minLen; i++ {
		if ca[i] != cb[i] {
			return 1 // diverge: incomparable
		}
	}
	switch {
	case len(ca) == len(cb):
		return 0
	case len(ca) < len(cb):
		return -1
	default:
		return 1
	}
}

// btbEntry is one (PC, call-stack node) pair visited during recording.
type btbEntry struct {
	pc   bytecode.PC
	node NodeID
}

// BranchTargetBuffer is the ordered list of (PC, call-stack node) pairs
// visited during recording (spec.md §4.2).
type BranchTargetBuffer struct {
	entries []btbEntry
}

// NewBTB returns an empty branch-target buffer.
func NewBTB() *BranchTargetBuffer { return &BranchTargetBuffer{} }

// Record appends a visited (pc, node) pair.
func (b *BranchTargetBuffer) Record(pc bytecode.PC, node NodeID) {
	b.entries = append(b.entries, btbEntry{pc: pc, node: node})
}

// IsTrueLoop scans the branch-target buffer for the earliest matching PC
// whose stack depth is <= the current node's depth, per spec.md §4.2. It
// returns that entry's index (0 means "loop to trace head", >0 means
// "inner loop, cut the trace here") or -1 for a false loop.
func (b *BranchTargetBuffer) IsTrueLoop(cs *CallStack, pc bytecode.PC, current NodeID) int {
	curDepth := cs.Depth(current)
	for i, e := range b.entries {
		if e.pc != pc {
			continue
		}
		if cs.Depth(e.node) <= curDepth {
			return i
		}
	}
	return -1
}

// Len reports how many (pc, node) pairs have been recorded.
func (b *BranchTargetBuffer) Len() int { return len(b.entries) }
