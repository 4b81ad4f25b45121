// Package balance implements the parallel-heap configuration's load
// balancing and cross-heap GC synchronization (spec §4.7, C12): home vs.
// allocating heap reassignment on allocation-budget imbalance, and the
// join barrier GC threads rendezvous at between phases.
//
// Grounded on internal/runtime/numa_optimizer.go's LoadBalancer
// (per-node Load comparison against the average, with >1.2x/<0.8x
// thresholds classifying nodes as overloaded/underloaded before queuing
// a rebalance) — generalized here from NUMA memory nodes to GC heaps and
// from page migration to mutator reassignment, since both are
// "redistribute load away from the busiest unit of parallelism" the same
// shape. The join barrier has no teacher analogue; it is built as a
// straightforward generation-counted sync.Cond barrier, the idiomatic Go
// rendezvous primitive, electing the first arrival per round to do
// non-parallelizable work (spec §4.7: "One thread may be elected
// 'first'").
package balance

import "sync"

// HeapLoad tracks one heap's allocation-budget consumption since the
// last rebalance decision.
type HeapLoad struct {
	DesiredAllocation uint64
	Outstanding       uint64
}

func (l HeapLoad) ratio() float64 {
	if l.DesiredAllocation == 0 {
		return 1
	}

	return float64(l.Outstanding) / float64(l.DesiredAllocation)
}

// Balancer tracks per-heap load and mutator heap assignment in the
// parallel (server) configuration.
type Balancer struct {
	mu sync.Mutex

	loads []HeapLoad

	home       map[uint64]int // mutator -> sticky home heap
	allocating map[uint64]int // mutator -> current allocating heap (ctx.reserved[0])
}

// New creates a balancer for nHeaps independent heaps.
func New(nHeaps int) *Balancer {
	return &Balancer{
		loads:      make([]HeapLoad, nHeaps),
		home:       make(map[uint64]int),
		allocating: make(map[uint64]int),
	}
}

// HeapCount returns the number of heaps this balancer tracks.
func (b *Balancer) HeapCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.loads)
}

// SetHome records mutator's sticky home heap, used as the default
// allocating heap until a reassignment moves it elsewhere.
func (b *Balancer) SetHome(mutator uint64, heap int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.home[mutator] = heap
	if _, ok := b.allocating[mutator]; !ok {
		b.allocating[mutator] = heap
	}
}

// AllocatingHeap returns the heap mutator currently allocates into,
// defaulting to its home heap if never assigned.
func (b *Balancer) AllocatingHeap(mutator uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h, ok := b.allocating[mutator]; ok {
		return h
	}

	return b.home[mutator]
}

// RecordAllocation accounts n bytes allocated into heap since the last
// ResetBudgets, feeding MaybeReassign's load comparison.
func (b *Balancer) RecordAllocation(heap int, n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.loads[heap].Outstanding += n
}

// ResetBudgets is called once per collection: sets each heap's desired
// allocation for the next cycle and clears outstanding consumption
// (mirrors gen.Entry.ResetBudget, one instance per heap).
func (b *Balancer) ResetBudgets(desired []uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.loads {
		if i < len(desired) {
			b.loads[i].DesiredAllocation = desired[i]
		}

		b.loads[i].Outstanding = 0
	}
}

// MaybeReassign implements spec §4.7's "On allocation fast-path
// exhaustion, the balancing routine may reassign the mutator to a
// less-loaded heap by comparing per-heap outstanding allocation
// budgets": finds the least-loaded heap, and if it is meaningfully
// (>20%) less loaded than the mutator's current allocating heap,
// reassigns ctx.reserved[0] to it. Returns the (possibly unchanged)
// heap and whether a reassignment happened.
func (b *Balancer) MaybeReassign(mutator uint64, current int) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	best := current
	bestRatio := b.loads[current].ratio()

	for i, l := range b.loads {
		if i == current {
			continue
		}

		if r := l.ratio(); r < bestRatio {
			best, bestRatio = i, r
		}
	}

	if best == current || bestRatio > b.loads[current].ratio()*0.8 {
		return current, false
	}

	b.allocating[mutator] = best

	return best, true
}
