package counter

import "testing"

func TestTickTripsAfterThresholdCalls(t *testing.T) {
	tbl := New(3)
	for i := 0; i < 2; i++ {
		if tbl.Tick(100) {
			t.Fatalf("Tick tripped early on call %d", i+1)
		}
	}
	if !tbl.Tick(100) {
		t.Fatalf("Tick must trip on the threshold'th call")
	}
}

func TestTickResetsAfterTripping(t *testing.T) {
	tbl := New(2)
	tbl.Tick(100)
	if !tbl.Tick(100) {
		t.Fatalf("expected a trip on the second call")
	}
	for i := 0; i < 1; i++ {
		if tbl.Tick(100) {
			t.Fatalf("counter must restart from threshold after tripping")
		}
	}
}

func TestZeroThresholdUsesDefault(t *testing.T) {
	tbl := New(0)
	if tbl.Threshold() != DefaultThreshold {
		t.Fatalf("Threshold() = %d, want DefaultThreshold (%d)", tbl.Threshold(), DefaultThreshold)
	}
}

func TestResetRestoresThreshold(t *testing.T) {
	tbl := New(2)
	tbl.Tick(100)
	tbl.Reset(100)
	// After Reset, it should again take a full threshold's worth of Ticks.
	if tbl.Tick(100) {
		t.Fatalf("Tick tripped too early after Reset")
	}
	if !tbl.Tick(100) {
		t.Fatalf("expected trip on the threshold'th call after Reset")
	}
}

func TestDistinctPCsTrackIndependentCounts(t *testing.T) {
	tbl := New(2)
	tbl.Tick(0x1000)
	if tbl.Tick(0x2000000) { // a PC landing on a different hash bucket
		t.Fatalf("a different PC must not share the first PC's decremented count")
	}
}
