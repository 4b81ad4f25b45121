// Package gen implements the generation table (spec §3 "Generation table",
// "Dynamic data (per generation)", C7): the five generation entries
// (gen0/gen1/gen2/LOH/POH) and the survival-rate-driven metadata the
// tuner (internal/gc/tuning) reads and writes after every collection.
//
// Grounded on internal/runtime/metrics.go's RegionMetrics struct: that type
// already tracked a region's allocation/survival counters behind a mutex;
// Table generalizes the same per-unit metrics idiom to a fixed 5-entry
// table indexed by region.Generation, with the additional desired/new
// allocation budget fields spec.md's dynamic-tuning model requires.
package gen

import (
	"sync"
	"time"

	"github.com/orizon-lang/orizon-gc/internal/gc/galloc"
	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

// DynamicData is the per-generation metadata the tuner consumes (spec §3):
// allocation budgets, survival bookkeeping, and timing.
type DynamicData struct {
	DesiredAllocation  uint64 // budget for this generation until the next GC
	NewAllocation      int64  // signed remaining budget; goes negative to trigger a GC
	BeginDataSize      uint64 // live bytes measured at the start of the GC that last collected this generation
	SurvivedSize       uint64
	PinnedSurvivedSize uint64
	CurrentSize        uint64
	CollectionCount    uint64
	PromotedSize       uint64
	Fragmentation      uint64
	LastGCTime         time.Time
	SurvivalRate       float64 // in [0,1]; survived_size / begin_data_size of the last GC
}

// Entry is one generation's table row: its region chain, free-list
// allocator, and dynamic data.
type Entry struct {
	mu sync.Mutex

	gen region.Generation

	startRegion *region.Region
	tailRegion  *region.Region

	freeList *galloc.FreeListAllocator

	data DynamicData
}

// Table is the fixed 5-entry generation table (spec §3: "Entries 0..2 are
// SOH generations ... entry 3 is LOH, entry 4 is POH").
type Table struct {
	entries [region.GenCount]*Entry
}

// New builds an empty table; callers populate each entry's region chain via
// BindRegion as regions are allocated.
func New() *Table {
	t := &Table{}
	for g := range t.entries {
		t.entries[g] = &Entry{gen: region.Generation(g)}
	}

	return t
}

// Entry returns the table row for generation g.
func (t *Table) Entry(g region.Generation) *Entry { return t.entries[g] }

// BindRegion appends r to this generation's region chain, initializing the
// chain's head if this is the first region. Called when the region
// allocator (C2) hands a fresh region to this generation (spec §3:
// "the starting region, the tail region").
func (e *Entry) BindRegion(r *region.Region) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r.SetGeneration(e.gen)

	if e.startRegion == nil {
		e.startRegion = r
	} else {
		e.tailRegion.SetNext(r)
	}

	e.tailRegion = r
}

// Regions returns every region currently bound to this generation, in
// binding order, by walking the chain BindRegion links via Region.Next.
func (e *Entry) Regions() []*region.Region {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*region.Region

	for r := e.startRegion; r != nil; r = r.Next() {
		out = append(out, r)
	}

	return out
}

// StartRegion returns the first region in this generation's chain.
func (e *Entry) StartRegion() *region.Region {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.startRegion
}

// TailRegion returns the most recently added region in this generation's
// chain — the one a fresh allocation context is carved from.
func (e *Entry) TailRegion() *region.Region {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.tailRegion
}

// SetFreeList attaches this generation's free-list allocator (used by gen2
// and the UOH generations, per spec §4.3; gen0/gen1 allocate purely via
// bump-pointer regions and never populate this).
func (e *Entry) SetFreeList(fl *galloc.FreeListAllocator) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.freeList = fl
}

// FreeList returns this generation's free-list allocator, or nil if none is
// attached.
func (e *Entry) FreeList() *galloc.FreeListAllocator {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.freeList
}

// Data returns a copy of the generation's current dynamic data.
func (e *Entry) Data() DynamicData {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.data
}

// UpdateData applies fn to the generation's dynamic data under the entry's
// lock, used by the tuner (C15) and the GC pipeline (C9/C10) to atomically
// read-modify-write several fields together (e.g. recomputing SurvivalRate
// from SurvivedSize and BeginDataSize in one step).
func (e *Entry) UpdateData(fn func(*DynamicData)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn(&e.data)
}

// ChargeAllocation debits n bytes from the generation's remaining budget,
// reporting whether the budget is now exhausted (NewAllocation < 0), which
// is the trigger condition spec §4.2/§4.8 describe for initiating a
// collection of this generation.
func (e *Entry) ChargeAllocation(n uint64) (exhausted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.data.NewAllocation -= int64(n)

	return e.data.NewAllocation < 0
}

// ResetBudget sets DesiredAllocation and resets NewAllocation to match it,
// implementing spec §8 Property 8's post-GC state: "new_allocation(g) ==
// desired_allocation(g) ... equal after the GC resets it."
func (e *Entry) ResetBudget(desired uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.data.DesiredAllocation = desired
	e.data.NewAllocation = int64(desired)
}

// RecordCollection folds a completed collection's measurements into the
// generation's dynamic data: survival rate, promoted bytes, fragmentation,
// and timestamp, per spec §3 and §4.8's "measured survived_size /
// begin_data_size = surv".
func (e *Entry) RecordCollection(beginDataSize, survivedSize, pinnedSurvivedSize, promotedSize, fragmentation uint64, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.data.BeginDataSize = beginDataSize
	e.data.SurvivedSize = survivedSize
	e.data.PinnedSurvivedSize = pinnedSurvivedSize
	e.data.PromotedSize = promotedSize
	e.data.Fragmentation = fragmentation
	e.data.CollectionCount++
	e.data.LastGCTime = now

	if beginDataSize > 0 {
		e.data.SurvivalRate = float64(survivedSize) / float64(beginDataSize)
	} else {
		e.data.SurvivalRate = 0
	}
}
