package region

import (
	"sync"

	"github.com/orizon-lang/orizon-gc/internal/gc/gcerr"
	"github.com/orizon-lang/orizon-gc/internal/gc/platform"
)

// RegionAllocator owns one VA reservation, carved into regionAlignment
// units tracked by a runMap, and hands out Regions on demand (spec §4.1,
// C2). Grounded on internal/runtime/region_alloc.go's RegionAllocator type:
// same single-lock-protects-everything shape (the teacher used a
// sync.RWMutex guarding a map[uintptr]*Region; this keeps the lock but
// replaces the map with the run-length-encoded map.go structure the spec's
// data model calls for), same AllocateRegion/FreeRegion/GetStats naming
// spirit translated to allocate_basic_region/allocate_large_region/
// delete_region/get_free_va/va_memory_load_percent.
type RegionAllocator struct {
	mu sync.Mutex

	mem       platform.Memory
	base      uintptr
	alignment uintptr
	units     *runMap

	// byStart indexes live regions by their base address for delete_region
	// and lookups; deleted regions are removed. Kept alongside the runMap
	// (which only tracks unit occupancy) rather than folded into it so
	// region metadata (cursors, generation) doesn't need to live in map.go.
	byStart map[uintptr]*Region

	regionsOut int // count of currently live regions, for stats/balance
}

// NewAllocator reserves a VA span of `totalSize` bytes (rounded up to a
// whole number of regionAlignment units) from mem, without committing any
// of it. regionAlignment defaults to DefaultRegionAlignment when 0.
func NewAllocator(mem platform.Memory, totalSize uintptr, regionAlignment uintptr) (*RegionAllocator, error) {
	if regionAlignment == 0 {
		regionAlignment = DefaultRegionAlignment
	}

	units := uint32((totalSize + regionAlignment - 1) / regionAlignment)
	if units == 0 {
		units = 1
	}

	reserveSize := uintptr(units) * regionAlignment

	base, err := mem.Reserve(reserveSize)
	if err != nil {
		return nil, gcerr.OOMReserve(reserveSize)
	}

	return &RegionAllocator{
		mem:       mem,
		base:      base,
		alignment: regionAlignment,
		units:     newRunMap(units),
		byStart:   make(map[uintptr]*Region),
	}, nil
}

// AllocateBasicRegion carves a single regionAlignment-sized region off the
// front of the reservation's free space (spec §4.1: allocate_basic_region).
func (a *RegionAllocator) AllocateBasicRegion(gen Generation) (*Region, error) {
	return a.allocate(1, Forward, gen)
}

// AllocateLargeRegion carves a region spanning ceil(size/alignment) units,
// from the front (Forward, used by SOH growth) or the back (Backward, used
// by LOH/POH growth so the two ends of the reservation approach each other
// rather than interleaving), per spec §4.1: allocate_large_region.
func (a *RegionAllocator) AllocateLargeRegion(size uintptr, direction Direction, gen Generation) (*Region, error) {
	units := uint32((size + a.alignment - 1) / a.alignment)
	if units == 0 {
		units = 1
	}

	return a.allocate(units, direction, gen)
}

func (a *RegionAllocator) allocate(units uint32, direction Direction, gen Generation) (*Region, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		idx int
	)

	if direction == Backward {
		idx = a.units.findBackward(units)
	} else {
		idx = a.units.findForward(units)
	}

	if idx < 0 {
		a.units.coalesce()

		if direction == Backward {
			idx = a.units.findBackward(units)
		} else {
			idx = a.units.findForward(units)
		}

		if idx < 0 {
			return nil, gcerr.New(gcerr.KindOOMReserve, "no free region span", map[string]interface{}{
				"units": units, "direction": int(direction),
			})
		}
	}

	offset := a.units.take(idx, units, direction == Backward)

	start := a.base + uintptr(offset)*a.alignment
	size := uintptr(units) * a.alignment

	r := &Region{
		mem:       start,
		allocated: start,
		committed: start,
		used:      start,
		reserved:  start + size,
		gen:       gen,
	}

	a.byStart[start] = r
	a.regionsOut++

	return r, nil
}

// DeleteRegion releases a previously allocated region back to the free map
// and decommits its physical memory (spec §4.1: delete_region). start must
// be the region's base address as returned from an Allocate* call.
func (a *RegionAllocator) DeleteRegion(start uintptr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.byStart[start]
	if !ok {
		return gcerr.InvalidState("delete_region: unknown region start")
	}

	if committed := r.Committed() - r.mem; committed > 0 {
		if err := a.mem.Decommit(r.mem, committed); err != nil {
			return err
		}
	}

	offset := uint32((start - a.base) / a.alignment)
	if !a.units.free(offset) {
		return gcerr.Corruption("delete_region: run map out of sync with byStart")
	}

	delete(a.byStart, start)
	a.regionsOut--

	return nil
}

// GetFreeVA returns the number of bytes still available to reserve from
// this allocator's VA span (spec §4.1: get_free_va).
func (a *RegionAllocator) GetFreeVA() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.units.coalesce()

	return uintptr(a.units.freeUnits()) * a.alignment
}

// VAMemoryLoadPercent returns the fraction of the VA span currently handed
// out as live regions, as a percentage (spec §4.1: va_memory_load_percent) —
// used by C12 heap balancing and C15 tuning to decide when to favor
// reclaiming VA over growing it further.
func (a *RegionAllocator) VAMemoryLoadPercent() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := uintptr(a.units.totalUnits) * a.alignment
	if total == 0 {
		return 0
	}

	a.units.coalesce()
	free := uintptr(a.units.freeUnits()) * a.alignment

	return float64(total-free) / float64(total) * 100
}

// RegionCount returns the number of currently live regions, for stats and
// balancing heuristics.
func (a *RegionAllocator) RegionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.regionsOut
}

// Alignment returns the allocator's basic region unit size.
func (a *RegionAllocator) Alignment() uintptr { return a.alignment }

// Lookup returns the live region starting at start, if any.
func (a *RegionAllocator) Lookup(start uintptr) (*Region, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.byStart[start]

	return r, ok
}

// Memory returns the platform memory backend regions should commit through.
func (a *RegionAllocator) Memory() platform.Memory { return a.mem }

// VASpan returns the full [low, high) address range this allocator reserved,
// for collaborators (the card table, gcheap's barrier.Bounds) that need to
// size themselves against the whole heap rather than one region.
func (a *RegionAllocator) VASpan() (low, high uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.base, a.base + uintptr(a.units.totalUnits)*a.alignment
}

// VerifyCoverage checks spec §8 Property 10's allocator-map invariant: the
// run map's run lengths sum to exactly the reservation's total unit count,
// with no gap or overlap. Exposed for internal/gc/verify's property tests;
// the invariant holds by construction (map.go's doc comment) but this lets
// the verifier confirm it rather than take the construction argument on
// faith.
func (a *RegionAllocator) VerifyCoverage() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if sum := a.units.sumLengths(); sum != a.units.totalUnits {
		return gcerr.Corruption("region allocator map: run lengths sum to a value other than total units")
	}

	return nil
}

// LookupContaining returns the live region whose [mem, reserved) span holds
// addr, unlike Lookup which only matches a region's exact base address.
// gcheap uses this to answer barrier.Bounds/mark.ObjectModel queries against
// arbitrary object addresses.
func (a *RegionAllocator) LookupContaining(addr uintptr) (*Region, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range a.byStart {
		if addr >= r.mem && addr < r.reserved {
			return r, true
		}
	}

	return nil, false
}
