// Package jit wires the ten components (C1-C10) behind the five external
// interfaces the interpreter calls (spec.md §6): on_hot_pc, record_ins,
// lookup_fragment, enter_fragment, restore_snapshot.
//
// Grounded on the teacher's top-level Compile/GenerateELF entry points
// (cmd-level main.go plus std/compiler/backend.go's GenerateELF
// dispatcher): one context object holding every sub-component, with a
// small number of entry-point methods the embedder calls in sequence.
// Generalized here from "compile once, write a binary, exit" to "maintain
// running state across many (interpreter tick, record, enter, deopt)
// cycles from one long-lived Jit object."
package jit

import (
	"github.com/csabahruska/lambdachine/internal/counter"
	"github.com/csabahruska/lambdachine/internal/recorder"
)

// Config carries every configuration knob spec.md §6 lists: booleans
// `enable_asm`, `enable_side_traces`, `opt_dce`, `opt_unroll`,
// `opt_sink_alloc`, `opt_cse`, `opt_call_by_name`, `opt_debug_trace`, and
// the integer parameters (arena size, max code size, hot-count threshold,
// max trace length).
//
// Carried as an explicit field of Jit rather than package globals (spec.md
// §9 "Global mutable state" design note): every sub-engine that needs a
// knob reads it from here, not from a package-level var.
type Config struct {
	EnableASM         bool
	EnableSideTraces  bool
	OptDCE            bool
	OptUnroll         bool
	OptSinkAlloc      bool
	OptCSE            bool
	OptCallByName     bool
	OptDebugTrace     bool

	ArenaSize        int
	MaxCodeSize      int
	HotCountThreshold uint16
	MaxTraceLength   int
}

// DefaultConfig returns every option enabled except OptCallByName and
// OptDebugTrace, which are off, matching the
// "assume full optimization" defaults of the rest of this module's
// per-component DefaultConfig functions (recorder.DefaultConfig,
// counter.DefaultThreshold).
func DefaultConfig() Config {
	return Config{
		EnableASM:        true,
		EnableSideTraces: true,
		OptDCE:           true,
		OptUnroll:        true,
		OptSinkAlloc:     true,
		OptCSE:           true,
		OptCallByName:    false,
		OptDebugTrace:    false,

		ArenaSize:         0, // 0 means asm.ArenaSize
		MaxCodeSize:       0,
		HotCountThreshold: counter.DefaultThreshold,
		MaxTraceLength:    recorder.MaxTraceLength,
	}
}

func (c Config) recorderConfig() recorder.Config {
	return recorder.Config{
		OptCSE:         c.OptCSE,
		OptCallByName:  c.OptCallByName,
		MaxTraceLength: c.MaxTraceLength,
		Mergesnap:      true,
	}
}
