// Package gcheap is the collector facade (spec §6 "Boundary to the
// execution environment" and the integration surface every other C1-C15
// package is grounded against): it owns one instance of every subsystem —
// region allocator, card table, generation table, allocation context,
// write barrier, background-collection state machine, finalization queue,
// handle table, dynamic tuner, metrics collector, failure history — and is
// the only layer that touches the object registry directly, since it is
// the only layer that touches committed memory directly (plan.Mover's
// doc comment).
//
// Grounded on internal/runtime's top-level Runtime struct (the teacher's
// single type wiring together its allocator, region map, and metrics
// collector): Heap follows the same "one struct, one constructor, fields
// are subsystem instances" shape, generalized from a general-purpose
// runtime to this engine's fifteen collaborating components.
package gcheap

import (
	"context"
	"fmt"
	"sync"

	"github.com/orizon-lang/orizon-gc/internal/gc/barrier"
	"github.com/orizon-lang/orizon-gc/internal/gc/bgc"
	"github.com/orizon-lang/orizon-gc/internal/gc/cardtable"
	"github.com/orizon-lang/orizon-gc/internal/gc/finalizer"
	"github.com/orizon-lang/orizon-gc/internal/gc/galloc"
	"github.com/orizon-lang/orizon-gc/internal/gc/gcconfig"
	"github.com/orizon-lang/orizon-gc/internal/gc/gcerr"
	"github.com/orizon-lang/orizon-gc/internal/gc/gclog"
	"github.com/orizon-lang/orizon-gc/internal/gc/gcmetrics"
	"github.com/orizon-lang/orizon-gc/internal/gc/gen"
	"github.com/orizon-lang/orizon-gc/internal/gc/handle"
	"github.com/orizon-lang/orizon-gc/internal/gc/objheader"
	"github.com/orizon-lang/orizon-gc/internal/gc/platform"
	"github.com/orizon-lang/orizon-gc/internal/gc/region"
	"github.com/orizon-lang/orizon-gc/internal/gc/tuning"
)

// Heap is one logical GC heap (spec §6: a workstation configuration has
// exactly one; a server configuration has one per HeapCount, coordinated
// by internal/gc/balance — multi-heap wiring lives in engine.go, which
// owns N Heaps plus a Balancer).
type Heap struct {
	mu sync.Mutex

	id     int
	config *gcconfig.Config

	mem     platform.Memory
	regions *region.RegionAllocator
	cards   *cardtable.Table
	gens    *gen.Table
	objects *objectModel
	barrier *barrier.Barrier
	bgc     *bgc.Instance
	finals  *finalizer.Queue
	handles *handle.Table
	tuner   *tuning.Tuner
	metrics *gcmetrics.Collector
	history *gcerr.History

	ee  EECallbacks
	mto MethodTableOf

	allocCtx *galloc.Context

	noGCBudget   int64
	inNoGCRegion bool

	stressAllocCount uint64
}

// New builds a single logical heap bound to cfg, ee, and mto. totalVASize is
// the byte span reserved for this heap's regions (spec §6's HeapHardLimit
// family bounds this in the real system; gcheap takes it directly here
// since parsing those options into a byte count is gcconfig's job, already
// done by the time New is called).
func New(cfg *gcconfig.Config, totalVASize uintptr, ee EECallbacks, mto MethodTableOf) (*Heap, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mem := platform.NewMemory()

	regions, err := region.NewAllocator(mem, totalVASize, cfg.RegionSize)
	if err != nil {
		return nil, err
	}

	low, high := regions.VASpan()

	cards, err := cardtable.New(low, high, cardtable.DefaultCardSize, cardtable.DefaultBundleSize)
	if err != nil {
		return nil, err
	}

	h := &Heap{
		config:  cfg,
		mem:     mem,
		regions: regions,
		cards:   cards,
		gens:    gen.New(),
		objects: newObjectModel(cards),
		bgc:     bgc.New(0),
		tuner:   tuning.NewTuner(tuning.DefaultPolicy()),
		metrics: gcmetrics.New(true),
		history: gcerr.NewHistory(64),
		ee:      ee,
		mto:     mto,
		allocCtx: &galloc.Context{},
	}

	h.barrier = barrier.New(cards, h)
	h.finals = finalizer.NewQueue(h.objects)
	h.handles = handle.NewTable(h.objects)

	if err := h.seedGeneration(region.Gen0); err != nil {
		return nil, err
	}

	return h, nil
}

// seedGeneration hands the generation table its first region for g, and
// resets its allocation budget to the policy default, run once at startup
// for gen0 (gen1/gen2/LOH/POH acquire their first region lazily on first
// allocation via refillContext).
func (h *Heap) seedGeneration(g region.Generation) error {
	r, err := h.regions.AllocateBasicRegion(g)
	if err != nil {
		return err
	}

	h.gens.Entry(g).BindRegion(r)
	h.gens.Entry(g).ResetBudget(h.tuner.Policy().MinBudget[g])

	return nil
}

// Barrier returns the write barrier bound to this heap, for the EE to wire
// into its emitted reference-store sequences (spec §4.4).
func (h *Heap) Barrier() *barrier.Barrier { return h.barrier }

// Handles returns this heap's handle table (spec §4.10's handle-creation
// API surface).
func (h *Heap) Handles() *handle.Table { return h.handles }

// Finalizers returns this heap's finalization queue.
func (h *Heap) Finalizers() *finalizer.Queue { return h.finals }

// Metrics returns this heap's metrics collector (ambient telemetry, not a
// described GC subsystem; see internal/gc/gcmetrics's package doc).
func (h *Heap) Metrics() *gcmetrics.Collector { return h.metrics }

// FailureHistory exposes the ring buffer of recent OOM/corruption/config
// failures, for diagnostics and internal/gc/verify's property tests.
func (h *Heap) FailureHistory() *gcerr.History { return h.history }

// Regions exposes the region allocator for internal/gc/verify's
// region-allocator-coverage property (spec §8 Property 10).
func (h *Heap) Regions() *region.RegionAllocator { return h.regions }

// Generations exposes the generation table for internal/gc/verify's
// monotone-budget property (spec §8 Property 8).
func (h *Heap) Generations() *gen.Table { return h.gens }

// Cards exposes the card table for internal/gc/verify's card-coverage
// property (spec §8 Property 3).
func (h *Heap) Cards() *cardtable.Table { return h.cards }

// SetRefs records the resolved reference-field targets a mutator field
// store on addr just produced, and runs that store through the write
// barrier (spec §4.4: every reference-field store calls the barrier before
// anything else observes the new value). The EE calls this once per store
// instead of writing the registry directly, so a test driving Collect
// through a scripted EECallbacks fake can build a live object graph the
// same way a real mutator's emitted store sequence would.
func (h *Heap) SetRefs(addr uintptr, refs []uintptr) {
	h.objects.setRefs(addr, refs)

	for _, ref := range refs {
		h.barrier.Mark(addr, addr, ref)
	}
}

// ObjectSnapshot is one point-in-time view of a registered object, for
// internal/gc/verify's reference-closure/no-dangling-pointer/pinned-
// immovability property tests (spec §8 Properties 1, 2, 9). It deliberately
// doesn't expose *object itself, keeping the registry's internals private
// to this package.
type ObjectSnapshot struct {
	Addr   uintptr
	Size   uintptr
	Gen    region.Generation
	Marked bool
	Pinned bool
	Refs   []uintptr
}

// Snapshot returns a point-in-time copy of every registered object, for
// internal/gc/verify to walk without reaching into objectModel directly.
func (h *Heap) Snapshot() []ObjectSnapshot {
	addrs := h.objects.allAddrs()

	out := make([]ObjectSnapshot, 0, len(addrs))

	for _, addr := range addrs {
		var refs []uintptr

		h.objects.VisitRefs(addr, func(ref uintptr) { refs = append(refs, ref) })

		size, pinned := h.objects.describe(addr)

		out = append(out, ObjectSnapshot{
			Addr:   addr,
			Size:   size,
			Gen:    h.objects.GenerationOf(addr),
			Marked: h.objects.IsMarked(addr),
			Pinned: pinned,
			Refs:   refs,
		})
	}

	return out
}

// InHeap implements barrier.Bounds: addr lies within some live region this
// heap owns.
func (h *Heap) InHeap(addr uintptr) bool {
	_, ok := h.regions.LookupContaining(addr)
	return ok
}

// GenerationOf implements barrier.Bounds: it returns the generation tag of
// the live region containing addr, or Gen0 when no region contains it. It
// does not consult the object registry.
func (h *Heap) GenerationOf(addr uintptr) region.Generation {
	if r, ok := h.regions.LookupContaining(addr); ok {
		return r.Generation()
	}

	return region.Gen0
}

// AllocObject allocates size bytes for an object of the given method table
// into g, registers it in the object registry, and returns its address.
// This is the mutator-facing entry point spec §4.2's fast path normally
// handles inline in JIT-emitted code; gcheap exposes it as a callable
// function for collaborators (tests, internal/gc/verify) that don't have a
// JIT of their own. Allocations into GenLOH/GenPOH while a background
// collection is concurrently running go through bgc.Instance.ThrottledAlloc
// (spec §4.6: "mutators allocating into LOH/POH during BGC sleep
// proportionally to how much the UOH has grown"); every other allocation
// bypasses throttling entirely, matching spec §4.6's scope of only the
// unpinned-object heaps.
func (h *Heap) AllocObject(g region.Generation, mt *objheader.MethodTable, arrayLen uint32) (uintptr, error) {
	size := objheader.Size(mt, arrayLen)

	refill := func(reqSize uintptr) (uintptr, uintptr, error) {
		return h.refillContext(g, reqSize)
	}

	const wordAlign = 8

	alloc := func() (uintptr, error) {
		return h.allocCtx.Alloc(size, wordAlign, refill)
	}

	var addr uintptr

	var err error

	if (g == region.GenLOH || g == region.GenPOH) && h.bgc.Concurrent() {
		addr, err = h.bgc.ThrottledAlloc(context.Background(), int64(size), alloc)
	} else {
		addr, err = alloc()
	}

	if err != nil {
		h.history.Record(gcerr.FailureRecord{Kind: gcerr.KindOOMCommit, Size: uint64(size)})
		h.metrics.RecordFailedAllocation()

		return 0, err
	}

	r, _ := h.regions.LookupContaining(addr)

	if r != nil {
		if used := addr + size; used > r.Used() {
			r.SetUsed(used)
		}
	}

	h.objects.register(addr, objheader.NewHeader(mt), size, r)
	h.gens.Entry(g).ChargeAllocation(uint64(size))

	h.maybeStressCollect(g)

	return addr, nil
}

// maybeStressCollect implements Config.GCStressLevel (SPEC_FULL.md §4's
// stress-GC testing hook): when nonzero, every Nth allocation triggers a
// synchronous collection condemning up to g, so internal/gc/verify's
// property tests can exercise Collect under dense allocation traffic
// without a caller having to drive collections by hand.
func (h *Heap) maybeStressCollect(g region.Generation) {
	if h.config.GCStressLevel == 0 {
		return
	}

	h.stressAllocCount++

	if h.stressAllocCount%h.config.GCStressLevel == 0 {
		_, _ = h.Collect(ReasonInduced, g)
	}
}

// refillContext is the allocation context's slow path (spec §4.2): it asks
// the owning generation's tail region to bump-allocate a fresh span, or
// (if the region is exhausted) allocates a new region from the region
// allocator and binds it to the generation first.
func (h *Heap) refillContext(g region.Generation, size uintptr) (uintptr, uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry := h.gens.Entry(g)

	r := entry.TailRegion()
	if r == nil {
		fresh, err := h.regions.AllocateBasicRegion(g)
		if err != nil {
			return 0, 0, err
		}

		entry.BindRegion(fresh)
		r = fresh
	}

	const refillSpan = 16 * 1024 // bump-ahead span per refill, amortizing the bump-allocation lock

	span := size
	if span < refillSpan {
		span = refillSpan
	}

	ptr, err := r.Bump(h.mem, span, 8)
	if err != nil {
		fresh, allocErr := h.regions.AllocateBasicRegion(g)
		if allocErr != nil {
			return 0, 0, err
		}

		entry.BindRegion(fresh)

		ptr, err = fresh.Bump(h.mem, span, 8)
		if err != nil {
			return 0, 0, err
		}

		return ptr, ptr + span, nil
	}

	return ptr, ptr + span, nil
}

// MovePlug implements plan.Mover: physically relocates addr..addr+size by
// moving every registered object whose address falls in that span to its
// delta-shifted new address. gcheap's object registry stands in for
// committed heap memory (mutator object layout is out of scope, spec §1),
// so "moving bytes" here means updating the registry's keys; a hosted
// embedder supplies the real memmove through the same interface.
func (h *Heap) MovePlug(oldStart, newStart, size uintptr) error {
	if oldStart == newStart {
		return nil
	}

	delta := int64(newStart) - int64(oldStart)

	addrs := h.objects.addrsInRange(oldStart, oldStart+size)

	for _, addr := range addrs {
		h.objects.relocate(addr, uintptr(int64(addr)+delta))
	}

	return nil
}

// CopyCards implements plan.Mover: the destination span inherits the
// source span's set-card bits (spec §4.5.6), then the source span's cards
// are cleared since they no longer cover live object state. Walked one
// card (not one byte) at a time via CardOf/CardAddr.
func (h *Heap) CopyCards(oldStart, newStart, size uintptr) {
	if size == 0 {
		return
	}

	delta := int64(newStart) - int64(oldStart)

	first := h.cards.CardOf(oldStart)
	last := h.cards.CardOf(oldStart + size - 1)

	for card := first; card <= last; card++ {
		addr := h.cards.CardAddr(card)

		if h.cards.IsSet(addr) {
			h.cards.Set(uintptr(int64(addr) + delta))
			h.cards.Clear(addr)
		}
	}
}

// LogCollectorError forwards a diagnostic to both internal/gc/gclog and the
// embedding EE's own log sink, per spec §6's dual-logging expectation for
// a boundary crossing.
func (h *Heap) LogCollectorError(format string, args ...interface{}) {
	gclog.Default.Errorf(format, args...)

	if h.ee != nil {
		h.ee.LogError(fmt.Sprintf(format, args...))
	}
}
