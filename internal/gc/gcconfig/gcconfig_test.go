package gcconfig

import "testing"

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestValidateRejectsZeroRegionSize(t *testing.T) {
	c := Default()
	c.RegionSize = 0

	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for zero region size")
	}
}

func TestValidateRejectsMultiHeapWithoutServerGC(t *testing.T) {
	c := Default()
	c.ServerGC = false
	c.HeapCount = 4

	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for HeapCount>1 without ServerGC")
	}
}

func TestValidateRejectsConflictingAffinityOptions(t *testing.T) {
	c := Default()
	c.NoAffinitize = true
	c.HeapAffinitizeMask = 0x1

	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for NoAffinitize combined with an explicit mask")
	}

	c = Default()
	c.HeapAffinitizeMask = 0x1
	c.HeapAffinitizeRanges = "0:0-3"

	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for mask and ranges both set")
	}
}

func TestValidateRejectsNoGCWithConcurrentGC(t *testing.T) {
	c := Default()
	c.LatencyMode = LatencyNoGC
	c.ConcurrentGC = true

	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for NoGC latency mode with ConcurrentGC")
	}
}

func TestValidateRejectsOutOfRangePercentages(t *testing.T) {
	c := Default()
	c.GCHighMemPercent = 150

	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range GCHighMemPercent")
	}

	c = Default()
	c.BGCMemGoalPercent = -1

	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for negative BGCMemGoalPercent")
	}
}

func TestEffectiveHeapTypeTracksServerGC(t *testing.T) {
	c := Default()
	if c.EffectiveHeapType() != HeapWorkstation {
		t.Fatalf("expected workstation by default")
	}

	c.ServerGC = true
	if c.EffectiveHeapType() != HeapServer {
		t.Fatalf("expected server once ServerGC is set")
	}
}

func TestEffectiveHeapCountAutoDetectsUnderServerGC(t *testing.T) {
	c := Default()
	c.ServerGC = true

	if got := c.EffectiveHeapCount(8); got != 8 {
		t.Fatalf("expected auto-detected 8 heaps, got %d", got)
	}

	c.HeapCount = 3
	if got := c.EffectiveHeapCount(8); got != 3 {
		t.Fatalf("expected explicit HeapCount to take precedence, got %d", got)
	}
}

func TestEffectiveHeapCountWorkstationIsAlwaysOne(t *testing.T) {
	c := Default()

	if got := c.EffectiveHeapCount(16); got != 1 {
		t.Fatalf("expected workstation GC to always report 1 heap, got %d", got)
	}
}
