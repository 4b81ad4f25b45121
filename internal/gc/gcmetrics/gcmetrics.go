// Package gcmetrics collects and exposes runtime statistics for the
// collector: per-generation pause/survival/promotion metrics, heap-wide
// aggregates, and a text-exposition HTTP endpoint. This is the ambient
// telemetry layer spec.md §1 excludes as a *described subsystem* ("ETW/event
// emission") but the ambient stack still carries in the teacher's own idiom
// (see DESIGN.md) — this package only ever counts and reports, it never
// drives a collection decision (that's C15's job in internal/gc/tuning).
//
// Grounded on internal/runtime/metrics.go's MetricsCollector: per-unit
// metrics struct + global aggregate + RWMutex + atomic counters, generalized
// from per-region metrics to per-generation GC metrics.
package gcmetrics

import (
	"sort"
	"sync"
	"time"

	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

// LatencyMetrics tracks a distribution of durations, trimmed from the
// teacher's LatencyMetrics to the percentiles the collector's own pause-time
// reporting actually needs.
type LatencyMetrics struct {
	Count   uint64
	Sum     time.Duration
	Min     time.Duration
	Max     time.Duration
	Mean    time.Duration
	P95     time.Duration
	P99     time.Duration
	samples []time.Duration
}

const maxLatencySamples = 4096

func (l *LatencyMetrics) record(d time.Duration) {
	l.Count++
	l.Sum += d

	if l.Count == 1 || d < l.Min {
		l.Min = d
	}

	if d > l.Max {
		l.Max = d
	}

	l.Mean = l.Sum / time.Duration(l.Count)

	if len(l.samples) < maxLatencySamples {
		l.samples = append(l.samples, d)
	} else {
		l.samples[int(l.Count)%maxLatencySamples] = d
	}

	l.recomputePercentiles()
}

func (l *LatencyMetrics) recomputePercentiles() {
	if len(l.samples) == 0 {
		return
	}

	sorted := make([]time.Duration, len(l.samples))
	copy(sorted, l.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	l.P95 = sorted[int(float64(n)*0.95)]

	idx99 := int(float64(n) * 0.99)
	if idx99 >= n {
		idx99 = n - 1
	}

	l.P99 = sorted[idx99]
}

// GenerationMetrics is one generation's accumulated GC statistics.
type GenerationMetrics struct {
	CollectionCount uint64
	SurvivalRate    float64 // last collection's survived/begin ratio
	BytesPromoted   uint64  // total bytes promoted out of this generation
	BeginSize       uint64  // live bytes at the start of the last collection
	EndSize         uint64  // live bytes at the end of the last collection
	PauseTime       LatencyMetrics
	LastCollection  time.Time
}

// GlobalMetrics aggregates across all generations plus the ancillary GC
// subsystems (finalization, handles, background collection).
type GlobalMetrics struct {
	TotalCollections       uint64
	TotalPauseTime         time.Duration
	HeapSize               uint64
	HandleCount            uint64
	FinalizationPending    uint64
	FinalizationReady      uint64
	BackgroundCollections  uint64
	InducedCollections     uint64
	FailedAllocations      uint64
	HealthScore            float64
}

// Snapshot is a point-in-time copy of all collected metrics, safe to retain
// and inspect without holding the Collector's lock.
type Snapshot struct {
	Timestamp   time.Time
	Global      GlobalMetrics
	Generations [region.GenCount]GenerationMetrics
}

// Collector accumulates GC metrics across the lifetime of a Heap. One
// Collector is expected per Heap instance (internal/gc/gcheap wires it in).
type Collector struct {
	mu          sync.RWMutex
	generations [region.GenCount]GenerationMetrics
	global      GlobalMetrics
	enabled     bool
}

// New creates a Collector. enabled controls whether Record* calls do any
// work; a disabled collector is a cheap no-op, matching the teacher's
// MetricsCollector.enabled early-return idiom.
func New(enabled bool) *Collector {
	return &Collector{enabled: enabled}
}

// RecordCollection records one completed collection of generation g:
// elapsed pause time, live bytes at begin/end, and bytes promoted to the
// next generation.
func (c *Collector) RecordCollection(g region.Generation, pause time.Duration, beginSize, endSize, promoted uint64, induced bool) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	gm := &c.generations[g]
	gm.CollectionCount++
	gm.BeginSize = beginSize
	gm.EndSize = endSize
	gm.BytesPromoted += promoted
	gm.LastCollection = time.Now()
	gm.PauseTime.record(pause)

	if beginSize > 0 {
		gm.SurvivalRate = float64(endSize) / float64(beginSize)
	}

	c.global.TotalCollections++
	c.global.TotalPauseTime += pause

	if induced {
		c.global.InducedCollections++
	}

	c.recomputeHealthLocked()
}

// RecordBackgroundCollection records completion of one background (gen2)
// collection cycle, tracked separately from the per-generation foreground
// pause accounting above since BGC runs concurrently with the mutator.
func (c *Collector) RecordBackgroundCollection() {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.global.BackgroundCollections++
}

// RecordFailedAllocation records an allocation that failed after exhausting
// the configured hard limit / OS memory.
func (c *Collector) RecordFailedAllocation() {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.global.FailedAllocations++
}

// UpdateHeapSize updates the heap-wide committed-bytes gauge.
func (c *Collector) UpdateHeapSize(size uint64) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.global.HeapSize = size
}

// UpdateHandleCount updates the live-handle gauge (C14).
func (c *Collector) UpdateHandleCount(count uint64) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.global.HandleCount = count
}

// UpdateFinalizationQueueDepth updates the finalization queue gauges (C13).
func (c *Collector) UpdateFinalizationQueueDepth(pending, ready uint64) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.global.FinalizationPending = pending
	c.global.FinalizationReady = ready
}

// recomputeHealthLocked derives a 0-100 health score from survival rates and
// failure counts, a trimmed version of the teacher's calculateHealthScore
// (fragmentation/utilization terms don't apply here; allocation failures and
// gen2 survival pressure do).
func (c *Collector) recomputeHealthLocked() {
	score := 100.0

	if gen2 := c.generations[region.Gen2]; gen2.SurvivalRate > 0.9 {
		score -= 30.0
	}

	if c.global.FailedAllocations > 0 {
		score -= 40.0
	}

	if score < 0 {
		score = 0
	}

	c.global.HealthScore = score
}

// Snapshot returns a consistent copy of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{Timestamp: time.Now(), Global: c.global}
	copy(s.Generations[:], c.generations[:])

	return s
}

// Export flattens the current snapshot into the name->value map
// StartMetricsServer's text-exposition format expects.
func (c *Collector) Export() map[string]float64 {
	s := c.Snapshot()

	out := map[string]float64{
		"total_collections":       float64(s.Global.TotalCollections),
		"total_pause_seconds":     s.Global.TotalPauseTime.Seconds(),
		"heap_size_bytes":         float64(s.Global.HeapSize),
		"handle_count":            float64(s.Global.HandleCount),
		"finalization_pending":    float64(s.Global.FinalizationPending),
		"finalization_ready":      float64(s.Global.FinalizationReady),
		"background_collections": float64(s.Global.BackgroundCollections),
		"induced_collections":     float64(s.Global.InducedCollections),
		"failed_allocations":      float64(s.Global.FailedAllocations),
		"health_score":            s.Global.HealthScore,
	}

	for g := 0; g < region.GenCount; g++ {
		gen := region.Generation(g)
		prefix := gen.String() + "_"
		gm := s.Generations[g]

		out[prefix+"collection_count"] = float64(gm.CollectionCount)
		out[prefix+"survival_rate"] = gm.SurvivalRate
		out[prefix+"bytes_promoted"] = float64(gm.BytesPromoted)
		out[prefix+"begin_size_bytes"] = float64(gm.BeginSize)
		out[prefix+"end_size_bytes"] = float64(gm.EndSize)
		out[prefix+"pause_mean_seconds"] = gm.PauseTime.Mean.Seconds()
		out[prefix+"pause_p99_seconds"] = gm.PauseTime.P99.Seconds()
	}

	return out
}
