// Package gcconfig models the GC's configuration option table. It mirrors
// the teacher runtime's knob-struct-plus-default-constructor idiom
// (internal/allocator.Config, internal/runtime.AllocatorPolicy) rather than
// a third-party config-loading library: loading configuration from disk or
// environment is explicitly out of scope (spec §1); only the typed struct
// and its validation are in scope here.
package gcconfig

import (
	"fmt"

	"github.com/orizon-lang/orizon-gc/internal/gc/gcerr"
)

// LatencyMode selects the collector's GC-pause/throughput trade-off.
type LatencyMode int

const (
	LatencyBatch LatencyMode = iota
	LatencyInteractive
	LatencyLowLatency
	LatencySustainedLowLatency
	LatencyNoGC
)

// LOHCompactionMode controls when the large object heap compacts.
type LOHCompactionMode int

const (
	LOHCompactDefault LOHCompactionMode = iota // sweep only, never compact automatically
	LOHCompactOnce                             // compact exactly once on the next GC then revert to default
	LOHCompactAuto                             // see tuning.Tuner.ShouldCompactLOH for the concrete policy
)

// HeapType distinguishes the two runtime configurations named in spec §6.
type HeapType int

const (
	HeapInvalid HeapType = iota
	HeapWorkstation
	HeapServer
)

// HardLimits holds the optional byte/percent ceilings for the whole heap and
// each of its sub-heaps (SOH/LOH/POH), matching §6's
// HeapHardLimit[{,SOH,LOH,POH}] / HeapHardLimitPercent[…] option family.
type HardLimits struct {
	Total, SOH, LOH, POH        uint64  // absolute byte ceilings, 0 = unset
	TotalPct, SOHPct, LOHPct, POHPct float64 // percent-of-physical-memory ceilings, 0 = unset
}

// Config is the full option table governing core GC behavior (spec §6).
type Config struct {
	ServerGC     bool
	ConcurrentGC bool
	RetainVM     bool

	HeapCount int // 0 = auto: EffectiveHeapCount uses the caller-supplied CPU count

	HardLimits HardLimits

	RegionSize uintptr

	LOHThreshold      uintptr
	LOHCompactionMode LOHCompactionMode

	LatencyMode LatencyMode

	GCHighMemPercent float64

	Gen0Size       uintptr
	GenNMaxBudget  [3]uintptr // per-generation (0,1,2) budget ceiling, 0 = unbounded

	NoAffinitize         bool
	HeapAffinitizeMask   uint64
	HeapAffinitizeRanges string // "G:L-H,…"

	BGCMemGoalPercent float64
	BGCFLTuningEnabled bool

	// GCStressLevel, when nonzero, triggers a synchronous collection every
	// N-th allocation. It exists only for internal/gc/verify's property
	// tests and must never be enabled on a production path.
	GCStressLevel uint64

	// ConfigReloadPath names a policy file for live reloads. Nothing in
	// this module reads the field: tuning.NewReloadWatcher takes its path
	// as an argument and applies edits to a tuning.Policy, not to
	// LatencyMode or HardLimits.
	ConfigReloadPath string
}

// Default returns the configuration baseline: workstation, non-concurrent,
// batch latency, 85000-byte LOH threshold (the CLR default carried over
// from original_source/).
func Default() *Config {
	return &Config{
		RegionSize:        64 * 1024 * 1024,
		LOHThreshold:      85000,
		LOHCompactionMode: LOHCompactDefault,
		LatencyMode:       LatencyBatch,
		GCHighMemPercent:  90,
		Gen0Size:          256 * 1024,
		BGCMemGoalPercent: 50,
	}
}

// Validate rejects configuration combinations the spec calls out as
// invalid-at-init (§6: "Invalid combinations... fail initialization").
func (c *Config) Validate() error {
	if c.RegionSize == 0 {
		return gcerr.Config("region size must be nonzero")
	}

	if c.HeapCount < 0 {
		return gcerr.Config("heap count must be >= 0")
	}

	if !c.ServerGC && c.HeapCount > 1 {
		return gcerr.Config("heap count > 1 requires ServerGC")
	}

	if c.NoAffinitize && (c.HeapAffinitizeMask != 0 || c.HeapAffinitizeRanges != "") {
		return gcerr.Config("NoAffinitize cannot be combined with an explicit affinity mask or range list")
	}

	if c.HeapAffinitizeMask != 0 && c.HeapAffinitizeRanges != "" {
		return gcerr.Config("HeapAffinitizeMask and HeapAffinitizeRanges are mutually exclusive")
	}

	if c.LatencyMode == LatencyNoGC && c.ConcurrentGC {
		return gcerr.Config("no-gc latency mode cannot be combined with ConcurrentGC")
	}

	if c.GCHighMemPercent <= 0 || c.GCHighMemPercent > 100 {
		return gcerr.Config(fmt.Sprintf("GCHighMemPercent out of range: %v", c.GCHighMemPercent))
	}

	if c.BGCMemGoalPercent < 0 || c.BGCMemGoalPercent > 100 {
		return gcerr.Config(fmt.Sprintf("BGCMemGoalPercent out of range: %v", c.BGCMemGoalPercent))
	}

	return nil
}

// EffectiveHeapType resolves the workstation/server choice for globals like
// heap_type (spec §6).
func (c *Config) EffectiveHeapType() HeapType {
	if c.ServerGC {
		return HeapServer
	}

	return HeapWorkstation
}

// EffectiveHeapCount resolves HeapCount=0 ("auto") against the detected CPU
// count; callers pass in the value they want treated as "all CPUs".
func (c *Config) EffectiveHeapCount(detectedCPUs int) int {
	if !c.ServerGC {
		return 1
	}

	if c.HeapCount > 0 {
		return c.HeapCount
	}

	if detectedCPUs < 1 {
		return 1
	}

	return detectedCPUs
}
