package jit

import (
	"testing"

	"github.com/csabahruska/lambdachine/internal/bytecode"
	"github.com/csabahruska/lambdachine/internal/recorder"
)

func TestOnHotPCStaysInterpretingUntilCounterTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HotCountThreshold = 2
	j, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if mode := j.OnHotPC(bytecode.PC(4), 0, false); mode != ModeInterpret {
		t.Fatalf("OnHotPC before the counter trips = %v, want ModeInterpret", mode)
	}
	if mode := j.OnHotPC(bytecode.PC(4), 0, false); mode != ModeRecording {
		t.Fatalf("OnHotPC on the threshold'th call = %v, want ModeRecording", mode)
	}
}

func TestOnHotPCDisabledNeverRecords(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableASM = false
	j, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 10; i++ {
		if mode := j.OnHotPC(bytecode.PC(4), 0, false); mode != ModeInterpret {
			t.Fatalf("call %d: OnHotPC with EnableASM=false = %v, want ModeInterpret", i, mode)
		}
	}
}

func TestRecordInsFinishingATraceRegistersAFragment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HotCountThreshold = 1
	j, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pc := bytecode.PC(4)
	if mode := j.OnHotPC(pc, 0, false); mode != ModeRecording {
		t.Fatalf("OnHotPC with HotCountThreshold=1 = %v, want ModeRecording on the first call", mode)
	}

	st, ab := j.RecordIns(bytecode.Instruction{Op: bytecode.OpSTOP}, recorder.Observation{})
	if st != recorder.StatusFinished || ab != nil {
		t.Fatalf("RecordIns(STOP) = %v, %v, want StatusFinished, nil", st, ab)
	}

	if _, ok := j.LookupFragment(pc); !ok {
		t.Fatalf("a finished trace must register a fragment reachable by its start PC")
	}
}

func TestRecordInsWithoutAnInProgressRecordingAborts(t *testing.T) {
	cfg := DefaultConfig()
	j, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	st, ab := j.RecordIns(bytecode.Instruction{Op: bytecode.OpSTOP}, recorder.Observation{})
	if st != recorder.StatusAborted || ab == nil {
		t.Fatalf("RecordIns with no active recording = %v, %v, want StatusAborted", st, ab)
	}
}

func TestRecordInsAbortDiscardsTheRecorder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HotCountThreshold = 1
	cfg.MaxTraceLength = 1
	j, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pc := bytecode.PC(8)
	j.OnHotPC(pc, 0, false)

	// MaxTraceLength=1: the first instruction is still within the limit...
	st, ab := j.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADK, A: 0, D: 1}, recorder.Observation{})
	if st != recorder.StatusContinue {
		t.Fatalf("1st RecordIns at MaxTraceLength=1 = %v, %v, want StatusContinue", st, ab)
	}
	// ...but the second exceeds it and aborts the recording.
	st, ab = j.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADK, A: 0, D: 2}, recorder.Observation{})
	if st != recorder.StatusAborted || ab.Reason != recorder.AbortTraceTooLong {
		t.Fatalf("2nd RecordIns past MaxTraceLength=1 = %v, %v, want AbortTraceTooLong", st, ab)
	}

	// Once discarded, a follow-up RecordIns has nothing to resume into.
	st2, ab2 := j.RecordIns(bytecode.Instruction{Op: bytecode.OpLOADK, A: 0, D: 1}, recorder.Observation{})
	if st2 != recorder.StatusAborted || ab2 == nil {
		t.Fatalf("RecordIns after an abort = %v, %v, want another abort (no recorder left)", st2, ab2)
	}
}
