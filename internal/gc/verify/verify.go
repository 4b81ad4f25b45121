// Package verify implements the universal invariants spec §8 "Testable
// properties" lists, as property-check functions a caller runs against a
// live *gcheap.Heap (typically after a Collect, from a test or a fuzzing
// harness), plus the handful of end-to-end scenario tests spec §8 also
// describes.
//
// Grounded on internal/runtime/region_test.go and internal/allocator/
// allocator_test.go's table-driven, stdlib-testing-only style (no
// third-party assertion library, matching the teacher): this package is
// itself a small library of pure functions returning (bool, string) or
// error, so both verify's own tests and any embedder's fuzz/property
// harness can call them directly instead of only through *testing.T.
//
// Not every property spec §8 lists has a check here. gcheap's object
// registry is the *only* collaborator that can answer reference-closure,
// card-coverage, and budget questions, so Properties 1/2/3/8/9/10 are
// implemented against it directly below. Properties 4 (brick
// correctness), 5 (free-list soundness), 6 (handle age-map), and 7
// (finalization liveness) are already exercised by the packages that own
// the state those properties describe — internal/gc/region's
// brick_test.go and internal/gc/plan's plan_test.go for bricks,
// internal/gc/galloc's freelist_test.go for the free list,
// internal/gc/handle's handle_test.go for the age map, and
// internal/gc/finalizer's finalizer_test.go for the ready-to-run
// partition — and gcheap doesn't expose brick/free-list internals itself
// (its allocation path bump-allocates uniformly across every generation;
// see DESIGN.md), so re-deriving those checks here against gcheap would
// test gcheap's wiring choice, not the property.
package verify

import (
	"fmt"

	"github.com/orizon-lang/orizon-gc/internal/gc/gcheap"
	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

// ReferenceClosure implements spec §8 Property 1 and, for gcheap's
// registry-backed object model, Property 2 as the same check: every
// reference field of every live object must point at another registered
// (hence live, post-sweep) object's exact address — gcheap's object model
// never stores an interior byte offset as a reference (mutator object
// layout is out of scope, spec §1), so "points at an object start" and
// "points at a live object" collapse into one membership test against the
// snapshot.
func ReferenceClosure(snap []gcheap.ObjectSnapshot) error {
	live := make(map[uintptr]bool, len(snap))
	for _, o := range snap {
		live[o.Addr] = true
	}

	for _, o := range snap {
		for _, ref := range o.Refs {
			if !live[ref] {
				return fmt.Errorf("verify: object %#x holds a dangling reference to %#x", o.Addr, ref)
			}
		}
	}

	return nil
}

// CardCoverage implements spec §8 Property 3: after a collection condemning
// every generation up to condemnedMax, any surviving object in a generation
// older than condemnedMax that still references a generation ≤ condemnedMax
// object must have its card set — translating "field address" to "object
// address" the same way gcheap.Barrier's test harness does, since this
// registry doesn't model individual field addresses separately from the
// object that owns them.
func CardCoverage(h *gcheap.Heap, snap []gcheap.ObjectSnapshot, condemnedMax region.Generation) error {
	gens := make(map[uintptr]region.Generation, len(snap))
	for _, o := range snap {
		gens[o.Addr] = o.Gen
	}

	for _, o := range snap {
		if o.Gen <= condemnedMax {
			continue
		}

		for _, ref := range o.Refs {
			refGen, ok := gens[ref]
			if !ok || refGen > condemnedMax {
				continue
			}

			if !h.Cards().IsSet(o.Addr) {
				return fmt.Errorf("verify: object %#x (gen %v) references gen %v object %#x without a set card",
					o.Addr, o.Gen, refGen, ref)
			}
		}
	}

	return nil
}

// MonotoneBudgets implements spec §8 Property 8: new_allocation(g) <=
// desired_allocation(g) must hold for every generation at the start of any
// GC (this engine maintains the stronger invariant that it holds at every
// observation point, since ChargeAllocation only ever decreases
// NewAllocation and ResetBudget is the only way NewAllocation increases,
// always back to exactly DesiredAllocation).
func MonotoneBudgets(h *gcheap.Heap) error {
	for g := region.Gen0; g <= region.GenPOH; g++ {
		data := h.Generations().Entry(g).Data()

		if data.NewAllocation > 0 && uint64(data.NewAllocation) > data.DesiredAllocation {
			return fmt.Errorf("verify: generation %v new_allocation=%d exceeds desired_allocation=%d",
				g, data.NewAllocation, data.DesiredAllocation)
		}
	}

	return nil
}

// PinnedImmovability implements spec §8 Property 9: between two consecutive
// GCs, the address of any object referenced by a pinned handle does not
// change. Callers pass the same pinned address set across a Collect call
// and this reports any address that vanished from the post-GC snapshot
// (a pinned object disappearing or relocating both violate the property;
// this registry only relocates via MovePlug, which plan.Compute never
// schedules for a pinned plug, so disappearance is the only way this check
// can fail in practice).
func PinnedImmovability(before []uintptr, after []gcheap.ObjectSnapshot) error {
	still := make(map[uintptr]bool, len(after))
	for _, o := range after {
		still[o.Addr] = true
	}

	for _, addr := range before {
		if !still[addr] {
			return fmt.Errorf("verify: pinned object %#x moved or vanished across a collection", addr)
		}
	}

	return nil
}

// RegionAllocatorCoverage implements spec §8 Property 10 by delegating to
// region.RegionAllocator.VerifyCoverage, the allocator's own run-map
// invariant check.
func RegionAllocatorCoverage(h *gcheap.Heap) error {
	return h.Regions().VerifyCoverage()
}

// All runs every property check this package implements except
// PinnedImmovability (which needs a pre-collection snapshot) against h's
// current state, condemning up to condemnedMax for the card-coverage
// check, and returns the first violation found (nil if none).
func All(h *gcheap.Heap, condemnedMax region.Generation) error {
	snap := h.Snapshot()

	if err := ReferenceClosure(snap); err != nil {
		return err
	}

	if err := CardCoverage(h, snap, condemnedMax); err != nil {
		return err
	}

	if err := MonotoneBudgets(h); err != nil {
		return err
	}

	if err := RegionAllocatorCoverage(h); err != nil {
		return err
	}

	return nil
}
