// Package mark implements the mark phase of the blocking collection
// pipeline (spec §4.5.3, C9): root enumeration, transitive closure over the
// condemned generation range, remembered-set processing, the
// dependent-handle fixpoint, weak-handle clearing, and mark-stack overflow
// recovery. Parallel (server-heap) mark fans the closure out across
// per-heap work queues with work stealing.
//
// Grounded on internal/gc/lockfree's WorkQueue for the per-heap mark stack
// and golang.org/x/sync/errgroup for the parallel fan-out/join barrier —
// the teacher repo has no direct parallel-worker-pool analogue for this
// shape, so errgroup (already in the dependency pack via other examples)
// fills the per-heap-goroutine-with-shared-cancellation role idiomatically.
package mark

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/orizon-gc/internal/gc/lockfree"
	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

// ObjectModel is the collaborator-provided bridge to live object state:
// marking, querying, and enumerating references (spec §6's
// scan_object_references, generalized across the mutator's real object
// layout). mark never touches raw memory itself — only through this
// interface — since mutator object layout beyond header/method-table is
// explicitly out of scope (spec §1 Non-goals).
type ObjectModel interface {
	// GenerationOf returns the generation currently owning addr.
	GenerationOf(addr uintptr) region.Generation
	// TryMark sets addr's mark bit if unset, returning true if this call
	// was the one that set it (first marker wins).
	TryMark(addr uintptr) bool
	// IsMarked reports whether addr is currently marked.
	IsMarked(addr uintptr) bool
	// VisitRefs calls visit once per reference-typed field of the object
	// at addr.
	VisitRefs(addr uintptr, visit func(ref uintptr))
}

// HandleScanner is the collaborator bridge to handle-table passes that
// interact with marking (spec §4.5.3): the dependent-handle fixpoint and
// weak-handle clearing. internal/gc/handle implements this.
type HandleScanner interface {
	// PromoteDependents visits every dependent handle whose primary is
	// marked and pushes its secondary as a new root, returning the number
	// promoted this pass (0 means the fixpoint has converged).
	PromoteDependents(push func(root uintptr)) int
	// ClearUnmarkedWeakShort clears (sets target to the zero value) every
	// weak-short handle whose target is unmarked.
	ClearUnmarkedWeakShort()
	// ClearUnmarkedWeakLong clears every weak-long handle whose target is
	// unmarked.
	ClearUnmarkedWeakLong()
}

// FinalizerScanner is the collaborator bridge to spec §4.9's
// reachable-through-finalizers pass, run between the weak-short and
// weak-long handle scans.
type FinalizerScanner interface {
	// ReachableThroughFinalizers finds unreachable finalizable objects,
	// re-promotes them (pushing onto push as new roots) and returns how
	// many were promoted.
	ReachableThroughFinalizers(push func(root uintptr)) int
}

// CardScanner is the collaborator bridge to the remembered-set pass
// (spec §4.4): for every set card, enumerate the cross-generation
// references it may witness.
type CardScanner interface {
	// ScanSetCards visits every live reference on a currently-set card
	// that points into [condemnedMin, condemnedMax]; surviving cards that
	// witness no such reference may be cleared internally.
	ScanSetCards(condemnedMin, condemnedMax region.Generation, visit func(ref uintptr))
}

// Overflow records that the mark stack could not grow to hold a newly
// discovered root, degrading to a secondary bounds-based sweep (spec
// §4.5.3: "record the min/max address bounds that overflowed"). Tracked as
// a small sorted list of disjoint ranges rather than a sparse-set
// structure — overflow is the rare, degraded path, so simplicity wins over
// asymptotic lookup cost here (see DESIGN.md).
type overflowTracker struct {
	mu     sync.Mutex
	ranges []addrRange
}

type addrRange struct{ min, max uintptr }

func (t *overflowTracker) record(addr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ranges = append(t.ranges, addrRange{min: addr, max: addr})
}

// merged returns the tracker's ranges coalesced into the minimal disjoint
// set, sorted by address — used to drive the secondary sweep.
func (t *overflowTracker) merged() []addrRange {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.ranges) == 0 {
		return nil
	}

	sorted := append([]addrRange(nil), t.ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].min < sorted[j].min })

	out := sorted[:1]

	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.min <= last.max {
			if r.max > last.max {
				last.max = r.max
			}

			continue
		}

		out = append(out, r)
	}

	return out
}

// Pass carries the inputs to a single mark pass: the condemned generation
// range [0, condemnedMax], the object model, and the collaborator bridges.
// Any of Cards/Handles/Finalizers may be nil, in which case that sub-pass
// is skipped (e.g. a gen0-only collection run standalone for testing).
type Pass struct {
	CondemnedMax region.Generation
	Objects      ObjectModel
	Cards        CardScanner
	Handles      HandleScanner
	Finalizers   FinalizerScanner

	// StackCapacity bounds the per-heap mark work queue; exceeding it
	// triggers overflow tracking rather than blocking (spec §4.5.3).
	StackCapacity uint64
}

// Result summarizes a completed mark pass, for the plan phase and
// dynamic-tuning survival-rate computation.
type Result struct {
	MarkedCount    uint64
	OverflowRanges []addrRange
}

func (p *Pass) condemned(addr uintptr) bool {
	return p.Objects.GenerationOf(addr) <= p.CondemnedMax
}

// RunSingle performs a sequential mark pass (workstation configuration, or
// any single-heap case): root enumeration, drain to fixpoint, remembered
// set, dependent-handle fixpoint, weak-short clear, finalizer
// reachability, weak-long clear — in the order spec §4.5.3 lists.
func (p *Pass) RunSingle(roots []uintptr) Result {
	q := lockfree.NewWorkQueue(p.stackCapacity())
	overflow := &overflowTracker{}

	var marked uint64

	push := func(addr uintptr) {
		if !p.condemned(addr) {
			return
		}

		if !p.Objects.TryMark(addr) {
			return
		}

		atomic.AddUint64(&marked, 1)

		if !q.Push(addr) {
			overflow.record(addr)
		}
	}

	for _, r := range roots {
		push(r)
	}

	p.drain(q, overflow, push)

	if p.Cards != nil {
		p.Cards.ScanSetCards(region.Gen0, p.CondemnedMax, push)
		p.drain(q, overflow, push)
	}

	if p.Handles != nil {
		for {
			n := p.Handles.PromoteDependents(push)
			p.drain(q, overflow, push)

			if n == 0 {
				break
			}
		}

		p.Handles.ClearUnmarkedWeakShort()
	}

	if p.Finalizers != nil {
		if p.Finalizers.ReachableThroughFinalizers(push) > 0 {
			p.drain(q, overflow, push)
		}
	}

	if p.Handles != nil {
		p.Handles.ClearUnmarkedWeakLong()
	}

	p.sweepOverflow(overflow, push)
	p.drain(q, overflow, push)

	return Result{MarkedCount: atomic.LoadUint64(&marked), OverflowRanges: overflow.merged()}
}

func (p *Pass) stackCapacity() uint64 {
	if p.StackCapacity == 0 {
		return 4096
	}

	return p.StackCapacity
}

func (p *Pass) drain(q *lockfree.WorkQueue, overflow *overflowTracker, push func(uintptr)) {
	for {
		addr, ok := q.Pop()
		if !ok {
			return
		}

		p.Objects.VisitRefs(addr, func(ref uintptr) {
			push(ref)
		})
	}
}

// sweepOverflow implements the secondary bounds-based sweep (spec §4.5.3):
// for every overflowed range, re-walk the generation's live objects within
// [min,max] via the object model and re-push any already-marked object's
// out-references, since those may not have been fully drained before the
// stack overflowed. p.Objects must support bounded re-enumeration through
// VisitRefs on already-marked addresses recorded by the overflow tracker
// itself — this package only replays exactly the addresses that
// overflowed, which covers the conservative re-mark spec asks for without
// requiring a bounded heap-walk primitive from ObjectModel.
func (p *Pass) sweepOverflow(overflow *overflowTracker, push func(uintptr)) {
	for _, r := range overflow.merged() {
		addr := r.min
		if p.Objects.IsMarked(addr) {
			p.Objects.VisitRefs(addr, push)
		}
	}
}

// RunParallel performs the server-heap mark (spec §4.5.3 "Parallel mark"):
// each heap gets its own Pass and root set but shares condemnation
// decisions; goroutines fan out via errgroup, and idle heaps steal from a
// busy heap's queue until every heap's queue is observed empty under a
// two-phase barrier (checked twice in a row with no intervening steal
// success, to rule out a race where a steal is in flight when the first
// empty check lands).
func RunParallel(ctx context.Context, passes []*Pass, rootSets [][]uintptr) ([]Result, error) {
	n := len(passes)
	queues := make([]*lockfree.WorkQueue, n)
	overflows := make([]*overflowTracker, n)
	marked := make([]uint64, n)

	for i, p := range passes {
		queues[i] = lockfree.NewWorkQueue(p.stackCapacity())
		overflows[i] = &overflowTracker{}
	}

	pushTo := func(i int, addr uintptr) {
		p := passes[i]
		if !p.condemned(addr) {
			return
		}

		if !p.Objects.TryMark(addr) {
			return
		}

		atomic.AddUint64(&marked[i], 1)

		if !queues[i].Push(addr) {
			overflows[i].record(addr)
		}
	}

	for i, roots := range rootSets {
		for _, r := range roots {
			pushTo(i, r)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < n; i++ {
		i := i

		g.Go(func() error {
			return drainWithStealing(gctx, i, passes, queues, pushTo)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]Result, n)
	for i := range passes {
		p := passes[i]

		if p.Handles != nil {
			for {
				if p.Handles.PromoteDependents(func(addr uintptr) { pushTo(i, addr) }) == 0 {
					break
				}

				_ = drainWithStealing(ctx, i, passes, queues, pushTo)
			}

			p.Handles.ClearUnmarkedWeakShort()
		}

		if p.Finalizers != nil {
			if p.Finalizers.ReachableThroughFinalizers(func(addr uintptr) { pushTo(i, addr) }) > 0 {
				_ = drainWithStealing(ctx, i, passes, queues, pushTo)
			}
		}

		if p.Handles != nil {
			p.Handles.ClearUnmarkedWeakLong()
		}

		results[i] = Result{MarkedCount: atomic.LoadUint64(&marked[i]), OverflowRanges: overflows[i].merged()}
	}

	return results, nil
}

func drainWithStealing(ctx context.Context, mine int, passes []*Pass, queues []*lockfree.WorkQueue, push func(int, uintptr)) error {
	emptyStreak := 0

	for emptyStreak < 2 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if addr, ok := queues[mine].Pop(); ok {
			emptyStreak = 0

			passes[mine].Objects.VisitRefs(addr, func(ref uintptr) {
				push(mine, ref)
			})

			continue
		}

		stole := false

		for j := range queues {
			if j == mine {
				continue
			}

			if addr, ok := queues[j].Pop(); ok {
				passes[j].Objects.VisitRefs(addr, func(ref uintptr) {
					push(j, ref)
				})

				stole = true

				break
			}
		}

		if stole {
			emptyStreak = 0
			continue
		}

		emptyStreak++
	}

	return nil
}
