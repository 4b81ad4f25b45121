// Package region implements the region/segment memory model (spec §3
// "Region / segment", §4.1 "Region allocator" (C2), §4.2's allocation
// context hand-off target, and §4.5.2's fix_allocation_contexts), grounded
// on internal/runtime/region_alloc.go and region_memory.go: the same
// RWMutex-plus-atomic-counters idiom and AllocationError/ErrorCode shape,
// generalized from the teacher's ad-hoc policy-object allocator to the
// five-cursor region model spec.md's data model requires.
package region

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/orizon-lang/orizon-gc/internal/gc/gcerr"
	"github.com/orizon-lang/orizon-gc/internal/gc/platform"
)

// Generation identifies which generation currently owns a region. Regions
// can be reassigned across collections (spec §3: "a gen0 region becomes
// gen1 after promotion").
type Generation int

const (
	Gen0 Generation = iota
	Gen1
	Gen2
	GenLOH
	GenPOH
	GenCount = int(GenPOH) + 1
)

func (g Generation) String() string {
	switch g {
	case Gen0:
		return "gen0"
	case Gen1:
		return "gen1"
	case Gen2:
		return "gen2"
	case GenLOH:
		return "loh"
	case GenPOH:
		return "poh"
	default:
		return "unknown"
	}
}

const (
	DefaultRegionAlignment uintptr = 4 * 1024 * 1024 // 4MiB basic region unit
	LargeRegionMultiplier  uintptr = 8                // large regions are multiples of the basic unit
)

// Direction controls which end of a large-region reservation a request is
// carved from (spec §4.1): Forward grows SOH from the low end, Backward
// grows LOH/POH from the high end so ephemeral compaction interferes with
// UOH growth as little as possible.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Region is a contiguous VA span owned by at most one generation at a time,
// with the five monotone cursors spec §3 requires:
// mem <= allocated <= committed <= reserved, plus a separate `used`
// high-water mark for object scanning.
type Region struct {
	mem       uintptr // fixed for the region's lifetime
	allocated uintptr // atomic: next free byte for bump allocation
	committed uintptr // atomic: end of physically-backed memory
	reserved  uintptr // end of the VA span this region owns
	used      uintptr // atomic: high-water mark for card/brick scanning

	gen  Generation
	next *Region // intrusive list within a generation's region chain

	mu sync.Mutex // guards non-atomic bookkeeping (brick/card ownership handed off elsewhere)
}

// Mem returns the region's fixed base address.
func (r *Region) Mem() uintptr { return r.mem }

// Next returns the next region in this region's generation chain, or nil
// if r is the chain's current tail. Set by gen.Entry.BindRegion.
func (r *Region) Next() *Region { return r.next }

// SetNext links r to the next region in its generation chain.
func (r *Region) SetNext(next *Region) { r.next = next }

// Allocated returns the current bump-allocation cursor.
func (r *Region) Allocated() uintptr { return atomic.LoadUintptr(&r.allocated) }

// Committed returns the end of physically-backed memory.
func (r *Region) Committed() uintptr { return atomic.LoadUintptr(&r.committed) }

// Reserved returns the end of the region's VA span.
func (r *Region) Reserved() uintptr { return r.reserved }

// Used returns the high-water mark used for scanning.
func (r *Region) Used() uintptr { return atomic.LoadUintptr(&r.used) }

// Generation returns the generation this region currently belongs to.
func (r *Region) Generation() Generation { return r.gen }

// SetGeneration reassigns the region (e.g. gen0 -> gen1 promotion, spec §3).
// Callers must hold whatever higher-level lock protects generation-table
// membership; this only updates the region's own tag.
func (r *Region) SetGeneration(g Generation) { r.gen = g }

// SetUsed advances the scanning high-water mark. Never regresses except at
// GC (callers enforce monotonicity at the call site, per spec §3).
func (r *Region) SetUsed(v uintptr) { atomic.StoreUintptr(&r.used, v) }

// Bump attempts to claim `size` bytes at the current allocation cursor,
// growing committed memory via mem if necessary. It is the slow-path
// counterpart to an allocation context's fast path (spec §4.2): the fast
// path handles the common case inline; this handles refill.
func (r *Region) Bump(mem platform.Memory, size, alignment uintptr) (uintptr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := atomic.LoadUintptr(&r.allocated)
	aligned := alignUp(cur, alignment)
	next := aligned + size

	if next > r.reserved {
		return 0, gcerr.New(gcerr.KindOOMReserve, "region exhausted", map[string]interface{}{
			"region": r.mem, "requested": size,
		})
	}

	if committed := atomic.LoadUintptr(&r.committed); next > committed {
		growTo := alignUp(next, platform.PageSize())
		if growTo > r.reserved {
			growTo = r.reserved
		}

		if err := mem.Commit(committed, growTo-committed, platform.ProtReadWrite); err != nil {
			return 0, gcerr.OOMCommit(growTo-committed, r.gen.String(), 0)
		}

		atomic.StoreUintptr(&r.committed, growTo)
	}

	atomic.StoreUintptr(&r.allocated, next)

	return aligned, nil
}

// FixAllocationContext converts the uninitialized range
// [allocPtr, allocLimit) into a single free object by invoking makeFree,
// implementing spec §4.2's "fix allocation context" contract and §4.5.2's
// fix_allocation_contexts step. allocLimit must not exceed the region's
// current allocated cursor.
func (r *Region) FixAllocationContext(allocPtr, allocLimit uintptr, makeFree func(ptr, size uintptr)) error {
	if allocPtr > allocLimit {
		return gcerr.InvalidState("allocPtr > allocLimit")
	}

	if allocLimit > atomic.LoadUintptr(&r.allocated) {
		return gcerr.InvalidState("allocLimit beyond region's allocated cursor")
	}

	if allocLimit > allocPtr {
		makeFree(allocPtr, allocLimit-allocPtr)
	}

	return nil
}

func alignUp(v, align uintptr) uintptr {
	if align == 0 {
		return v
	}

	return (v + align - 1) &^ (align - 1)
}

// Verify checks the region-local invariants from spec §3: mem fixed (caller
// responsibility, not re-checked here), and
// mem <= allocated <= committed <= reserved.
func (r *Region) Verify() error {
	allocated := r.Allocated()
	committed := r.Committed()

	if !(r.mem <= allocated && allocated <= committed && committed <= r.reserved) {
		return gcerr.Corruption(fmt.Sprintf(
			"region cursor invariant violated: mem=%#x allocated=%#x committed=%#x reserved=%#x",
			r.mem, allocated, committed, r.reserved))
	}

	return nil
}
