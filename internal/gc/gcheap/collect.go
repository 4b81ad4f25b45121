package gcheap

import (
	"time"

	"github.com/orizon-lang/orizon-gc/internal/gc/gcconfig"
	"github.com/orizon-lang/orizon-gc/internal/gc/gcerr"
	"github.com/orizon-lang/orizon-gc/internal/gc/mark"
	"github.com/orizon-lang/orizon-gc/internal/gc/plan"
	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

// CollectionReason names why a collection was induced, for logging and
// metrics (spec §4.5.1 "Trigger", generalized to cover every trigger path
// a real runtime exposes alongside the allocation-budget trigger).
type CollectionReason int

const (
	ReasonAllocationBudget CollectionReason = iota
	ReasonInduced
	ReasonNoGCRegionExhausted
	ReasonLowMemory
)

// CollectionStats summarizes one blocking collection, folding together the
// mark result and the plan/compact result per region.
type CollectionStats struct {
	Reason       CollectionReason
	CondemnedMax region.Generation
	Mark         mark.Result
	PlanResults  []plan.Result
}

// DecideCondemnedGeneration applies the tuner's elevation policy (spec
// §4.8: "the tuner chooses the condemned generation based on
// per-generation budgets, memory load, and elevation policy") to a
// caller-requested condemned generation, promoting a gen1 request to
// gen2 under memory pressure. Collect calls this itself before running
// the collection pipeline, so every collection's actual condemned
// generation reflects elevation regardless of what a caller requested;
// exposed separately for a caller that wants to know the effective
// generation before committing to a Collect call (e.g. the background
// collector deciding whether to start a BGC round at all).
func (h *Heap) DecideCondemnedGeneration(requested region.Generation) region.Generation {
	loadPct := h.regions.VAMemoryLoadPercent() / 100

	return h.tuner.Elevate(requested, loadPct)
}

// Collect runs one blocking (stop-the-world) collection condemning every
// generation up to and including the generation DecideCondemnedGeneration
// derives from requestedMax (spec §4.5: the blocking collection pipeline —
// suspend, mark, plan, relocate, compact, restart).
// Background collection's overlapping variant is bgc.Instance's state
// machine, driven by a separate orchestration loop the EE owns; gcheap only
// supplies the phase primitives bgc.Instance needs (IsImplicitlyMarked,
// DrainDirtyPages), not a BGC driver loop of its own, since the OS-level
// write-watch polling and the choice of when to yield between phases are
// EE/embedder scheduling decisions (spec §1 Non-goals: scheduling/JIT
// integration).
func (h *Heap) Collect(reason CollectionReason, requestedMax region.Generation) (CollectionStats, error) {
	condemnedMax := h.DecideCondemnedGeneration(requestedMax)

	h.ee.SuspendEE()
	defer h.ee.RestartEE()

	h.clearMarksForCondemned(condemnedMax)

	var roots []uintptr

	h.ee.EnumerateStackRoots(func(r uintptr) { roots = append(roots, r) })
	h.ee.EnumerateStaticRoots(func(r uintptr) { roots = append(roots, r) })

	pass := &mark.Pass{
		CondemnedMax: condemnedMax,
		Objects:      h.objects,
		Cards:        h.objects,
		Handles:      h.handles,
		Finalizers:   h.finals,
	}

	h.finals.SetCondemned(condemnedMax)

	markResult := pass.RunSingle(roots)

	regionPlans := h.planCondemnedRegions(condemnedMax)

	h.relocateSurvivingRefs(regionPlans)

	planResults, err := h.compactPlannedRegions(regionPlans)
	if err != nil {
		return CollectionStats{}, err
	}

	h.sweepDead(condemnedMax)
	h.rebudget(condemnedMax, markResult)
	h.recordMetrics(reason, condemnedMax, markResult, planResults)

	return CollectionStats{Reason: reason, CondemnedMax: condemnedMax, Mark: markResult, PlanResults: planResults}, nil
}

// clearMarksForCondemned drops every condemned-generation object's mark bit
// before root enumeration, so survivors from the previous collection don't
// short-circuit TryMark this time (spec §4.5.3's mark phase assumes it
// starts from an all-unmarked condemned set).
func (h *Heap) clearMarksForCondemned(condemnedMax region.Generation) {
	for _, addr := range h.objects.allAddrs() {
		if h.objects.GenerationOf(addr) <= condemnedMax {
			h.objects.clearMark(addr)
		}
	}
}

// planCondemnedRegions builds a plan.RegionPlan for every region bound to a
// condemned generation (spec §4.5.4).
func (h *Heap) planCondemnedRegions(condemnedMax region.Generation) []plan.RegionPlan {
	var plans []plan.RegionPlan

	for g := region.Gen0; g <= condemnedMax; g++ {
		for _, r := range h.gens.Entry(g).Regions() {
			objs := h.objects.LiveObjects(r)
			plans = append(plans, plan.Compute(r, objs))
		}
	}

	return plans
}

// relocateSurvivingRefs fixes up every surviving object's reference fields
// that point into a relocating plug, directly against the object registry.
// This plays the role of plan.Relocate/plan.BrickIndex's short-plug
// stealing, but simplified for gcheap's symbolic object model: references
// here are always exact object addresses, never arbitrary interior byte
// offsets (mutator object layout is out of scope, spec §1), so a plug
// always contains a referenced address at its exact Start and the
// brick-table fallback plan.Relocate needs for byte-addressable memory
// never applies here (see DESIGN.md's gcheap entry).
func (h *Heap) relocateSurvivingRefs(plans []plan.RegionPlan) {
	deltas := make(map[uintptr]plan.Plug)

	for _, rp := range plans {
		if rp.Fate != plan.FateCompact {
			continue
		}

		for _, p := range rp.Plugs {
			deltas[p.Start] = p
		}
	}

	if len(deltas) == 0 {
		return
	}

	translate := func(addr uintptr) uintptr {
		if p, ok := deltas[addr]; ok {
			return p.NewStart
		}

		return addr
	}

	for _, addr := range h.objects.allAddrs() {
		var newRefs []uintptr

		changed := false

		h.objects.VisitRefs(addr, func(ref uintptr) {
			nr := translate(ref)
			if nr != ref {
				changed = true
			}

			newRefs = append(newRefs, nr)
		})

		if changed {
			h.objects.setRefs(addr, newRefs)
		}
	}
}

// compactPlannedRegions runs plan.Compact over every compacting region's
// plan, physically (within the object registry) relocating surviving
// objects, and returns one plan.Result per compacted region. Regions demoted
// to free are deleted and regions swept in plan are left in place; neither
// adds a result.
func (h *Heap) compactPlannedRegions(plans []plan.RegionPlan) ([]plan.Result, error) {
	results := make([]plan.Result, 0, len(plans))

	for _, rp := range plans {
		switch rp.Fate {
		case plan.FateCompact:
			res, err := plan.Compact(rp, h)
			if err != nil {
				return results, err
			}

			results = append(results, res)

		case plan.FateDemoteToFree:
			if err := h.regions.DeleteRegion(rp.Region.Mem()); err != nil {
				h.LogCollectorError("delete_region failed during sweep: %v", err)
			}

		case plan.FateSweepInPlan:
			// Already sparse enough that a memmove pass isn't worth it (spec
			// §4.5.4); surviving objects keep their current addresses, so no
			// registry update is needed beyond the dead-object sweep below.
		}
	}

	return results, nil
}

// sweepDead removes every still-unmarked (i.e. unreachable) condemned
// object from the registry, after the mark/plan/compact passes above have
// run.
func (h *Heap) sweepDead(condemnedMax region.Generation) {
	for _, addr := range h.objects.allAddrs() {
		if h.objects.GenerationOf(addr) > condemnedMax {
			continue
		}

		if !h.objects.IsMarked(addr) {
			h.objects.forget(addr)
		}
	}
}

// rebudget folds the completed collection's measurements into the
// generation table and asks the tuner for next cycle's budget (spec
// §4.8).
func (h *Heap) rebudget(condemnedMax region.Generation, mr mark.Result) {
	now := time.Now()

	for g := region.Gen0; g <= condemnedMax; g++ {
		entry := h.gens.Entry(g)

		var beginSize, survived uint64

		for _, r := range entry.Regions() {
			beginSize += uint64(r.Allocated() - r.Mem())
		}

		for _, addr := range h.objects.allAddrs() {
			if h.objects.GenerationOf(addr) == g {
				size, _ := h.objects.describe(addr)
				survived += uint64(size)
			}
		}

		entry.RecordCollection(beginSize, survived, 0, 0, 0, now)

		data := entry.Data()
		desired := h.tuner.NextBudget(g, data)
		entry.ResetBudget(desired)
	}

	if condemnedMax == region.Gen2 {
		h.tuner.ObserveGen2Compaction(0)
	}
}

// recordMetrics folds the collection into the ambient metrics collector
// (gcmetrics; not a described GC subsystem, see its package doc).
func (h *Heap) recordMetrics(reason CollectionReason, condemnedMax region.Generation, mr mark.Result, planResults []plan.Result) {
	var pause time.Duration

	for _, pr := range planResults {
		pause += pr.Duration()
	}

	data := h.gens.Entry(condemnedMax).Data()

	h.metrics.RecordCollection(condemnedMax, pause, data.BeginDataSize, data.SurvivedSize, data.PromotedSize, reason == ReasonInduced)
}

// TryStartNoGCRegion implements spec §4's supplemented no_gc_region budget
// API: it marks a no-GC region active with the given byte budget until
// EndNoGCRegion is called. The budget is debited only through
// chargeNoGCBudget; AllocObject does not charge it, and nothing ends the
// region or induces a collection when the budget is spent. Returns false if
// a no-GC region is already active (nesting is not supported, matching the
// single-flag model backing_gen0/gen1 budgets already use).
func (h *Heap) TryStartNoGCRegion(budget int64) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.inNoGCRegion {
		return false, gcerr.InvalidState("no_gc_region already active")
	}

	if budget <= 0 {
		return false, gcerr.Config("no_gc_region budget must be positive")
	}

	h.inNoGCRegion = true
	h.noGCBudget = budget

	return true, nil
}

// EndNoGCRegion exits a no-GC region started by TryStartNoGCRegion, whether
// or not its budget was exhausted.
func (h *Heap) EndNoGCRegion() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.inNoGCRegion = false
	h.noGCBudget = 0
}

// InNoGCRegion reports whether a no-GC region is currently active. It does
// not report budget exhaustion: chargeNoGCBudget returns that, and leaves
// the region active.
func (h *Heap) InNoGCRegion() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.inNoGCRegion
}

// SetLatencyMode implements the supplemented `SetGCLatencyMode` feature
// (original_source's runtime latency-mode switch, SPEC_FULL.md §4): changes
// the collector's pause/throughput trade-off without a process restart,
// rejecting the same invalid combination Config.Validate rejects at init
// (no-GC latency mode cannot coexist with ConcurrentGC).
func (h *Heap) SetLatencyMode(mode gcconfig.LatencyMode) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if mode == gcconfig.LatencyNoGC && h.config.ConcurrentGC {
		return gcerr.Config("no-gc latency mode cannot be combined with ConcurrentGC")
	}

	h.config.LatencyMode = mode

	return nil
}

// chargeNoGCBudget debits size bytes from an active no-GC region's budget,
// reporting whether the region's budget is now exhausted.
func (h *Heap) chargeNoGCBudget(size uintptr) (exhausted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.inNoGCRegion {
		return false
	}

	h.noGCBudget -= int64(size)

	return h.noGCBudget <= 0
}
