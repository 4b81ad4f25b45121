package gcheap

import (
	"github.com/orizon-lang/orizon-gc/internal/gc/balance"
	"github.com/orizon-lang/orizon-gc/internal/gc/gcconfig"
	"github.com/orizon-lang/orizon-gc/internal/gc/objheader"
	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

// Engine owns the parallel (ServerGC) configuration: cfg.EffectiveHeapCount
// Heaps, plus the internal/gc/balance collaborators that
// coordinate them (spec §4.7, C12 "Heap balancing"). A workstation
// configuration has no Engine at all and uses a lone *Heap directly (spec
// §6: "a workstation configuration has exactly one [heap]").
type Engine struct {
	heaps    []*Heap
	balancer *balance.Balancer
	join     *balance.Join
}

// NewEngine builds an Engine with cfg.EffectiveHeapCount(detectedCPUs)
// independent heaps, each given an equal share of totalVASize. Every heap
// shares the same ee/mto collaborators, matching spec §6's "one execution
// environment, N heaps" shape for the server configuration.
func NewEngine(cfg *gcconfig.Config, totalVASize uintptr, ee EECallbacks, mto MethodTableOf, detectedCPUs int) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := cfg.EffectiveHeapCount(detectedCPUs)
	perHeapVA := totalVASize / uintptr(n)

	heaps := make([]*Heap, n)

	for i := range heaps {
		h, err := New(cfg, perHeapVA, ee, mto)
		if err != nil {
			return nil, err
		}

		h.id = i
		heaps[i] = h
	}

	return &Engine{heaps: heaps, balancer: balance.New(n), join: balance.NewJoin(n)}, nil
}

// HeapCount returns the number of heaps this engine manages.
func (e *Engine) HeapCount() int { return len(e.heaps) }

// Heap returns the i'th heap, for diagnostics and internal/gc/verify's
// property tests that need to inspect per-heap state directly.
func (e *Engine) Heap(i int) *Heap { return e.heaps[i] }

// Balancer exposes the load balancer, for metrics and tests asserting on
// reassignment decisions directly.
func (e *Engine) Balancer() *balance.Balancer { return e.balancer }

// AssignMutator gives mutator a home heap (round-robin over the engine's
// heap count, a reasonable default distribution absent any NUMA/affinity
// hint) and returns the heap it should currently allocate into.
func (e *Engine) AssignMutator(mutator uint64) *Heap {
	home := int(mutator % uint64(len(e.heaps)))
	e.balancer.SetHome(mutator, home)

	return e.heaps[e.balancer.AllocatingHeap(mutator)]
}

// AllocObject allocates size bytes for mutator's method table/array length,
// first giving the balancer a chance to reassign the mutator to a
// less-loaded heap (spec §4.7: "On allocation fast-path exhaustion, the
// balancing routine may reassign the mutator to a less-loaded heap").
func (e *Engine) AllocObject(mutator uint64, g region.Generation, mt *objheader.MethodTable, arrayLen uint32) (uintptr, error) {
	current := e.balancer.AllocatingHeap(mutator)
	next, _ := e.balancer.MaybeReassign(mutator, current)

	h := e.heaps[next]

	addr, err := h.AllocObject(g, mt, arrayLen)
	if err != nil {
		return 0, err
	}

	e.balancer.RecordAllocation(next, uint64(objheader.Size(mt, arrayLen)))

	return addr, nil
}

// EngineCollectionStats folds together every heap's CollectionStats from
// one coordinated CollectAll round.
type EngineCollectionStats struct {
	PerHeap []CollectionStats
}

// CollectAll runs a coordinated collection across every heap: each heap's
// blocking Collect runs on its own goroutine, rendezvousing at the join
// barrier once before any heap starts (so every heap begins its own
// suspend/mark/plan/relocate/sweep pass together) and once after every
// heap finishes, before budgets reset (spec §4.7: "all GC threads
// rendezvous at named phase barriers"). gcheap.Heap.Collect is a single
// monolithic call rather than a set of externally-steppable phases, so
// this is a best-effort two-point rendezvous — entry and exit — rather
// than a per-phase barrier at every mark/plan/relocate boundary;
// splitting Collect into resumable phases to get finer-grained barriers
// is future work, not something this engine needs for correctness (each
// heap condemns and sweeps its own disjoint region set, so only the
// start-together/finish-together coordination and the post-GC budget
// reset need to cross heap boundaries, both of which the two-point join
// covers). requestedMax is only the requested generation: each heap's
// own tuner can elevate it independently (Heap.Collect calls
// DecideCondemnedGeneration itself), so the per-heap budget reset below
// reads the actual condemned generation back off each heap's returned
// CollectionStats rather than assuming every heap condemned the same
// one requested.
func (e *Engine) CollectAll(reason CollectionReason, requestedMax region.Generation) (EngineCollectionStats, error) {
	type result struct {
		stats CollectionStats
		err   error
	}

	results := make([]result, len(e.heaps))

	done := make(chan int, len(e.heaps))

	for i, h := range e.heaps {
		go func(i int, h *Heap) {
			e.join.Enter()

			stats, err := h.Collect(reason, requestedMax)
			results[i] = result{stats: stats, err: err}

			e.join.Enter()

			done <- i
		}(i, h)
	}

	for range e.heaps {
		<-done
	}

	out := EngineCollectionStats{PerHeap: make([]CollectionStats, len(e.heaps))}

	for i, r := range results {
		if r.err != nil {
			return out, r.err
		}

		out.PerHeap[i] = r.stats
	}

	desired := make([]uint64, len(e.heaps))

	for i, h := range e.heaps {
		desired[i] = h.gens.Entry(out.PerHeap[i].CondemnedMax).Data().DesiredAllocation
	}

	e.balancer.ResetBudgets(desired)

	return out, nil
}
