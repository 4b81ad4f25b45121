// Package tuning implements dynamic tuning (spec §4.8, C15):
// per-generation budget computation from survival rate, gen1→gen2
// elevation under memory pressure, provisional mode (BGC suspension
// under heavy gen2 pinning), the optional PID-based free-list tuner, and
// the LOH `auto` compaction-mode policy spec.md leaves unspecified (see
// DESIGN.md's Open Question decision).
//
// Grounded on internal/runtime/region_alloc.go's AllocatorPolicy /
// RegionPolicy knob-struct idiom (`DefaultAllocatorPolicy` returning a
// pre-filled struct of thresholds a caller may override) — Policy below
// follows the same shape, generalized from region-allocation knobs to
// GC budget/elevation/compaction knobs.
package tuning

import (
	"sync"

	"github.com/orizon-lang/orizon-gc/internal/gc/gen"
	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

// LOHCompactionMode selects how the LOH compaction decision behaves.
type LOHCompactionMode int

const (
	// LOHCompactionDefault never compacts the LOH on its own (sweep only).
	LOHCompactionDefault LOHCompactionMode = iota
	// LOHCompactionAuto compacts once current_size/desired_allocation
	// exceeds the configured ratio since the last compaction (DESIGN.md's
	// Open Question decision for spec's undefined `auto` mode).
	LOHCompactionAuto
	// LOHCompactionAlways compacts the LOH on every collection that
	// considers it.
	LOHCompactionAlways
)

// PIDConfig parameterizes the optional PID-based free-list tuner (spec
// §4.8: "feature-flagged").
type PIDConfig struct {
	Enabled    bool
	Kp, Ki, Kd float64
	// SetPoint is the target free-list ratio (fraction of gen2 occupied
	// by free space) the controller drives toward.
	SetPoint float64
}

// Policy is the full set of tunable knobs, mirroring the teacher's
// AllocatorPolicy: one struct, constructed via DefaultPolicy and
// overridden field-by-field by callers (or replaced wholesale via a
// config reload — see reload.go).
type Policy struct {
	MinBudget [region.GenCount]uint64
	MaxBudget [region.GenCount]uint64

	// TargetSurvivalRate is the survival rate at which the growth factor
	// is exactly 1 (budget unchanged); GrowthDamping controls how
	// strongly deviations from it move the budget.
	TargetSurvivalRate float64
	GrowthDamping      float64
	MinGrowthFactor    float64
	MaxGrowthFactor    float64

	// HighMemoryLoadThreshold is the fraction of total memory load above
	// which a gen1 request is elevated to gen2 (spec §4.8 "elevation").
	HighMemoryLoadThreshold float64

	// ProvisionalFragmentationThreshold is the post-compaction gen2
	// fragmentation ratio above which provisional mode engages.
	ProvisionalFragmentationThreshold float64

	LOHCompactionMode  LOHCompactionMode
	LOHCompactionRatio float64

	PID PIDConfig
}

// DefaultPolicy returns a populated Policy with conservative defaults,
// the same "New...Default" idiom the teacher's DefaultAllocatorPolicy
// uses.
func DefaultPolicy() Policy {
	p := Policy{
		TargetSurvivalRate:                0.5,
		GrowthDamping:                     0.6,
		MinGrowthFactor:                   0.5,
		MaxGrowthFactor:                   2.0,
		HighMemoryLoadThreshold:           0.8,
		ProvisionalFragmentationThreshold: 0.6,
		LOHCompactionMode:                 LOHCompactionAuto,
		LOHCompactionRatio:                2.0,
	}

	for g := 0; g < region.GenCount; g++ {
		p.MinBudget[g] = 1 << 20 // 1MiB
		p.MaxBudget[g] = 1 << 30 // 1GiB
	}

	return p
}

// Tuner holds one policy and the small amount of cross-collection state
// (provisional mode, PID integrator) dynamic tuning needs.
type Tuner struct {
	mu sync.Mutex

	policy      Policy
	provisional bool
	pid         *pidController
}

// NewTuner creates a tuner bound to policy.
func NewTuner(policy Policy) *Tuner {
	t := &Tuner{policy: policy}

	if policy.PID.Enabled {
		t.pid = newPID(policy.PID)
	}

	return t
}

// Policy returns the tuner's current policy.
func (t *Tuner) Policy() Policy {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.policy
}

// SetPolicy replaces the tuner's policy (used by the live-reload
// watcher and by direct callers).
func (t *Tuner) SetPolicy(p Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.policy = p

	if p.PID.Enabled {
		t.pid = newPID(p.PID)
	} else {
		t.pid = nil
	}
}

func clampU64(v, min, max uint64) uint64 {
	if v < min {
		return min
	}

	if v > max {
		return max
	}

	return v
}

func clampF64(v, min, max float64) float64 {
	if v < min {
		return min
	}

	if v > max {
		return max
	}

	return v
}

// NextBudget computes the next cycle's desired_allocation for generation
// g from its just-completed collection's DynamicData (spec §4.8: "The
// tuner sets desired_allocation for the next cycle according to a
// damped function of surv (surv_to_growth) clamped to configured
// min/max").
func (t *Tuner) NextBudget(g region.Generation, data gen.DynamicData) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	survival := data.SurvivalRate

	growth := 1 + t.policy.GrowthDamping*(survival-t.policy.TargetSurvivalRate)
	growth = clampF64(growth, t.policy.MinGrowthFactor, t.policy.MaxGrowthFactor)

	base := data.BeginDataSize
	if base == 0 {
		base = data.CurrentSize
	}

	desired := uint64(float64(base) * growth)

	return clampU64(desired, t.policy.MinBudget[g], t.policy.MaxBudget[g])
}

// Elevate implements spec §4.8's elevation policy: a gen1 request is
// promoted to gen2 once memoryLoad crosses HighMemoryLoadThreshold.
func (t *Tuner) Elevate(requested region.Generation, memoryLoad float64) region.Generation {
	t.mu.Lock()
	defer t.mu.Unlock()

	if requested == region.Gen1 && memoryLoad >= t.policy.HighMemoryLoadThreshold {
		return region.Gen2
	}

	return requested
}

// ObserveGen2Compaction records a just-completed gen2 compaction's
// resulting fragmentation, engaging provisional mode if it remains high
// (spec §4.8: "when heavy pinning in gen2 is observed (post-compacting
// gen2 fragmentation remains high), BGC is disabled").
func (t *Tuner) ObserveGen2Compaction(fragmentationAfter float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.provisional = fragmentationAfter >= t.policy.ProvisionalFragmentationThreshold
}

// ProvisionalModeActive reports whether BGC should currently be
// disabled.
func (t *Tuner) ProvisionalModeActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.provisional
}

// ExitProvisional leaves provisional mode, called once the synchronous
// compacting gen2 spec §4.8 describes has run.
func (t *Tuner) ExitProvisional() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.provisional = false
}

// NeedsSynchronousGen2 reports whether a gen1 collection that itself
// needs gen2 growth, while in provisional mode, must be immediately
// followed by a synchronous compacting gen2 (spec §4.8: "only gen0/gen1
// run until a gen1 itself needs gen2 growth, at which point a
// synchronous compacting gen2 immediately follows the gen1 without EE
// restart").
func (t *Tuner) NeedsSynchronousGen2(requested region.Generation, gen1NeedsGen2Growth bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.provisional && requested == region.Gen1 && gen1NeedsGen2Growth
}

// ShouldCompactLOH implements the LOH `auto` compaction-mode policy
// (DESIGN.md's Open Question decision): compacts once
// current_size/desired_allocation exceeds LOHCompactionRatio. Evaluated
// fresh each collection, so the ratio naturally resets after a
// compaction shrinks current_size — no separate "since last compaction"
// bookkeeping is needed.
func (t *Tuner) ShouldCompactLOH(currentSize, desiredAllocation uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.policy.LOHCompactionMode {
	case LOHCompactionAlways:
		return true
	case LOHCompactionAuto:
		if desiredAllocation == 0 {
			return false
		}

		return float64(currentSize)/float64(desiredAllocation) > t.policy.LOHCompactionRatio
	default:
		return false
	}
}

// PIDAdjustGen2Budget applies one step of the optional PID-based
// free-list tuner (spec §4.8: "drives gen2 size toward a configured
// memory-load set point using proportional+integral+derivative terms on
// the free-list ratio"), returning the adjusted budget. dt is the
// elapsed time in seconds since the previous step, supplied by the
// caller rather than measured internally. Returns currentBudget
// unchanged if the PID tuner is not enabled.
func (t *Tuner) PIDAdjustGen2Budget(freeListRatio, dt float64, currentBudget uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pid == nil {
		return currentBudget
	}

	adjust := t.pid.step(freeListRatio, dt)

	next := float64(currentBudget) * (1 + adjust)
	if next < 0 {
		next = 0
	}

	return clampU64(uint64(next), t.policy.MinBudget[region.Gen2], t.policy.MaxBudget[region.Gen2])
}

// pidController is a standard textbook PID loop; dt is caller-supplied
// rather than wall-clock-measured so stepping is deterministic and
// testable.
type pidController struct {
	cfg PIDConfig

	integral  float64
	lastError float64
}

func newPID(cfg PIDConfig) *pidController {
	return &pidController{cfg: cfg}
}

func (p *pidController) step(measured, dt float64) float64 {
	err := p.cfg.SetPoint - measured

	p.integral += err * dt

	derivative := 0.0
	if dt > 0 {
		derivative = (err - p.lastError) / dt
	}

	p.lastError = err

	return p.cfg.Kp*err + p.cfg.Ki*p.integral + p.cfg.Kd*derivative
}
