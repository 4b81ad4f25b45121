// Package plan implements the plan/relocate/compact pipeline (spec §4.5.4-6,
// C10): computing new addresses for surviving objects in a condemned
// region, adjusting every live reference by the resulting deltas, and
// physically moving objects into their new, densely-packed positions.
//
// Grounded on internal/runtime/compaction.go's CompactionEngine /
// CompactionResult shape: this package keeps the "engine produces a
// result struct with before/after fragmentation and bytes-moved stats"
// idiom, but replaces the teacher's generic pluggable CompactionStrategy
// registry with the concrete plug/gap/brick algorithm spec.md's data
// model requires — a tracing collector's plan phase isn't a pluggable
// strategy, it's one specific algorithm.
package plan

import (
	"time"

	"github.com/orizon-lang/orizon-gc/internal/gc/gcerr"
	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

// LiveObject is one surviving object discovered during the plan walk.
type LiveObject struct {
	Addr   uintptr
	Size   uintptr
	Pinned bool
}

// LiveObjectSource enumerates live objects within a region in ascending
// address order (spec §4.5.4: "walk every condemned region computing new
// addresses for live objects"). internal/gc/gcheap's object registry
// implements this in the real pipeline; tests supply a literal slice.
type LiveObjectSource interface {
	LiveObjects(r *region.Region) []LiveObject
}

// Plug is a run of adjacent live objects that move (or, if Pinned, don't
// move) together (spec §4.5.4).
type Plug struct {
	Start, End uintptr // original [Start, End) span
	NewStart   uintptr // address the plug relocates to (== Start if Pinned)
	Pinned     bool
	Objects    []LiveObject
}

// Delta returns the plug's relocation offset (NewStart - Start), which may
// be zero (pinned, or happens to land back at the same address) or
// negative (the common case: compaction only ever moves objects toward
// lower addresses within a region).
func (p Plug) Delta() int64 { return int64(p.NewStart) - int64(p.Start) }

// RegionFate is plan's per-region disposition (spec §4.5.4: "Plan also
// decides per-region fate").
type RegionFate int

const (
	FateCompact       RegionFate = iota // plugs relocate and compact moves them
	FateSweepInPlan                     // already empty/nearly so: thread survivors to free list directly
	FateDemoteToFree                    // entirely dead: hand the whole region back to the region allocator
)

// RegionPlan is the planned outcome for one region: its plugs (if
// compacting) and fate.
type RegionPlan struct {
	Region *region.Region
	Fate   RegionFate
	Plugs  []Plug
}

// Result summarizes a completed plan→relocate→compact pass, mirroring
// the teacher's CompactionResult stats shape (bytes moved/reclaimed,
// fragmentation before/after) generalized to span potentially many regions.
type Result struct {
	StartTime           time.Time
	EndTime             time.Time
	BytesMoved          uint64
	BytesReclaimed      uint64
	PlugsRelocated      uint64
	FragmentationBefore float64
	FragmentationAfter  float64
}

// Duration returns the wall-clock time the pass took.
func (r Result) Duration() time.Duration { return r.EndTime.Sub(r.StartTime) }

// Compute builds a RegionPlan for r from its live objects, merging adjacent
// live objects into plugs and packing movable plugs densely from the
// region's mem, with pinned plugs left at their original address as
// anchors that subsequent plugs pack against (spec §4.5.4: "Pinned plugs
// don't move: they anchor; surrounding plugs slide toward them").
func Compute(r *region.Region, objs []LiveObject) RegionPlan {
	if len(objs) == 0 {
		return RegionPlan{Region: r, Fate: FateDemoteToFree}
	}

	plugs := buildPlugs(objs)

	liveBytes := uint64(0)
	for _, o := range objs {
		liveBytes += uint64(o.Size)
	}

	regionBytes := uint64(r.Allocated() - r.Mem())

	fate := FateCompact
	if regionBytes > 0 && liveBytes*4 < regionBytes {
		// Heavily sparse: thread survivors straight to the free list
		// rather than paying for a memmove pass (spec §4.5.4: "sweep in
		// plan: already empty or nearly so").
		fate = FateSweepInPlan
	}

	if fate == FateCompact {
		assignNewAddresses(r.Mem(), plugs)
	}

	return RegionPlan{Region: r, Fate: fate, Plugs: plugs}
}

func buildPlugs(objs []LiveObject) []Plug {
	var plugs []Plug

	var cur *Plug

	for _, o := range objs {
		if o.Pinned {
			if cur != nil {
				plugs = append(plugs, *cur)
				cur = nil
			}

			plugs = append(plugs, Plug{
				Start: o.Addr, End: o.Addr + o.Size, NewStart: o.Addr,
				Pinned: true, Objects: []LiveObject{o},
			})

			continue
		}

		if cur != nil && cur.End == o.Addr {
			cur.End = o.Addr + o.Size
			cur.Objects = append(cur.Objects, o)

			continue
		}

		if cur != nil {
			plugs = append(plugs, *cur)
		}

		cur = &Plug{Start: o.Addr, End: o.Addr + o.Size, Objects: []LiveObject{o}}
	}

	if cur != nil {
		plugs = append(plugs, *cur)
	}

	return plugs
}

func assignNewAddresses(regionMem uintptr, plugs []Plug) {
	cursor := regionMem

	for i := range plugs {
		p := &plugs[i]

		if p.Pinned {
			if cursor < p.Start {
				cursor = p.Start
			}

			cursor = p.End

			continue
		}

		p.NewStart = cursor
		cursor += p.End - p.Start
	}
}

// RefSource visits every live reference field of addr — the same shape as
// mark.ObjectModel.VisitRefs, kept as a separate, narrower interface here
// so plan doesn't need to import mark.
type RefSource interface {
	VisitRefs(addr uintptr, visit func(ref uintptr))
}

// BrickIndex resolves an interior address to the containing object's
// start — satisfied by *region.BrickTable.
type BrickIndex interface {
	FindObjectStart(addr uintptr) (uintptr, bool)
}

// Mover performs the actual byte move of a plug's contents to its new
// address, and relocates the cards covering it (spec §4.5.6: "Cards that
// cover moved plugs are copied to the new location's cards"). Supplied by
// the heap facade (internal/gc/gcheap), since it is the only layer that
// touches committed memory directly.
type Mover interface {
	MovePlug(oldStart, newStart, size uintptr) error
	CopyCards(oldStart, newStart, size uintptr)
}

// relocateAddr applies the delta for the plug containing addr, resolving
// short plugs (too small to carry their own relocation header) by
// stealing the delta from the preceding plug via brick-table lookup
// (spec §4.5.5: "must handle short plugs ... by stealing bits from their
// predecessor"). plugsByStart must be sorted ascending by Start.
func relocateAddr(addr uintptr, plugsByStart []Plug, bricks BrickIndex) (uintptr, error) {
	for i := len(plugsByStart) - 1; i >= 0; i-- {
		p := plugsByStart[i]
		if addr >= p.Start && addr < p.End {
			return uintptr(int64(addr) + p.Delta()), nil
		}
	}

	// addr didn't land inside any known plug directly (a short-plug case):
	// fall back to the brick table to find the covering object, then find
	// that object's plug.
	objStart, ok := bricks.FindObjectStart(addr)
	if !ok {
		return 0, gcerr.Corruption("plan: relocate target has no covering object")
	}

	for i := len(plugsByStart) - 1; i >= 0; i-- {
		p := plugsByStart[i]
		if objStart >= p.Start && objStart < p.End {
			offsetIntoObj := addr - objStart
			return uintptr(int64(objStart)+p.Delta()) + offsetIntoObj, nil
		}
	}

	return 0, gcerr.Corruption("plan: relocate target's object has no plug")
}

// Relocate adjusts every live reference within the plugged regions by
// their plug's delta (spec §4.5.5), for an embedder whose object model is
// byte-addressable and so can apply Compact's moves ahead of this pass: it
// walks the post-move set of surviving objects and rewrites each stale
// field in place. refs enumerates the set of (fromAddr, storedValue)
// reference sites the mark phase discovered within the condemned range;
// setField is called once per stale field with the object's new (post-move)
// address, the field's old stored value (identifying which field, since
// RefSource.VisitRefs exposes values, not field offsets), and the
// corrected new value. A setField failure is a corruption signal (the
// embedder couldn't locate or write the field it was just asked to fix)
// and aborts the pass rather than being swallowed.
func Relocate(plugsByStart []Plug, bricks BrickIndex, refs RefSource, roots []uintptr, setRoot func(i int, newAddr uintptr) error, objectsWithRefs []uintptr, setField func(fromAddr, oldRef, newRef uintptr) error) error {
	for i, root := range roots {
		newAddr, err := relocateAddr(root, plugsByStart, bricks)
		if err != nil {
			continue // a root outside any condemned plug doesn't move
		}

		if err := setRoot(i, newAddr); err != nil {
			return err
		}
	}

	for _, addr := range objectsWithRefs {
		newFrom, err := relocateAddr(addr, plugsByStart, bricks)
		if err != nil {
			newFrom = addr
		}

		var visitErr error

		refs.VisitRefs(addr, func(ref uintptr) {
			if visitErr != nil {
				return
			}

			newRef, err := relocateAddr(ref, plugsByStart, bricks)
			if err != nil {
				return // ref outside any condemned plug: field doesn't move
			}

			if err := setField(newFrom, ref, newRef); err != nil {
				visitErr = err
			}
		})

		if visitErr != nil {
			return visitErr
		}
	}

	return nil
}

// Compact physically moves every non-pinned plug to its new address via
// mover, in ascending address order (safe for in-place forward memmove
// since plugs only ever move to lower or equal addresses), and copies the
// cards covering each moved plug (spec §4.5.6).
func Compact(plan RegionPlan, mover Mover) (Result, error) {
	res := Result{StartTime: time.Now()}

	for _, p := range plan.Plugs {
		if p.Pinned || p.Delta() == 0 {
			continue
		}

		size := p.End - p.Start

		if err := mover.MovePlug(p.Start, p.NewStart, size); err != nil {
			return res, err
		}

		mover.CopyCards(p.Start, p.NewStart, size)

		res.BytesMoved += uint64(size)
		res.PlugsRelocated++
	}

	res.EndTime = time.Now()

	return res, nil
}
