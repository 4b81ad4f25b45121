// Package bgc implements background (concurrent) collection (spec §4.6,
// C11): the per-instance state machine that overlaps mark with mutation,
// write-watch revisiting, allocated-since-mark tracking, UOH allocation
// throttling, and foreground-GC interruption/resumption.
//
// Grounded on internal/runtime/compaction.go's CompactionScheduler,
// generalized from a single compaction trigger loop to the full BGC phase
// state machine spec §4.6 names. There is no background loop or stop
// channel here: an explicit phase field is stepped one phase at a time by
// the caller through Advance. golang.org/x/sync/semaphore backs UOH allocation
// throttling (spec: "mutators allocating into LOH/POH during BGC sleep
// proportionally to how much the UOH has grown") — the teacher repo has no
// direct throttling primitive, so this is enrichment from the dependency
// pack per SPEC_FULL.md's domain-stack wiring.
package bgc

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/orizon-lang/orizon-gc/internal/gc/gcerr"
)

// Phase is one state of the BGC state machine (spec §4.6).
type Phase int

const (
	NotInProcess Phase = iota
	Initialized
	MarkHandles
	MarkStack
	RevisitSOH
	RevisitUOH
	OverflowSOH
	OverflowUOH
	FinalMarking
	SweepSOH
	SweepUOH
)

func (p Phase) String() string {
	switch p {
	case NotInProcess:
		return "not_in_process"
	case Initialized:
		return "initialized"
	case MarkHandles:
		return "mark_handles"
	case MarkStack:
		return "mark_stack"
	case RevisitSOH:
		return "revisit_soh"
	case RevisitUOH:
		return "revisit_uoh"
	case OverflowSOH:
		return "overflow_soh"
	case OverflowUOH:
		return "overflow_uoh"
	case FinalMarking:
		return "final_marking"
	case SweepSOH:
		return "sweep_soh"
	case SweepUOH:
		return "sweep_uoh"
	default:
		return "unknown"
	}
}

// order is the fixed forward sequence of the state machine (spec §4.6's
// diagram); Next returns the phase that follows p.
var order = []Phase{
	NotInProcess, Initialized, MarkHandles, MarkStack,
	RevisitSOH, RevisitUOH, OverflowSOH, OverflowUOH,
	FinalMarking, SweepSOH, SweepUOH, NotInProcess,
}

// Next returns the phase that follows p in the state machine.
func Next(p Phase) Phase {
	for i, v := range order[:len(order)-1] {
		if v == p {
			return order[i+1]
		}
	}

	return NotInProcess
}

// safePointPhases are the phases at which an in-flight BGC can be safely
// suspended for a foreground GC (spec §4.6: "It suspends BGC (which is at
// a safe point by construction between phases)") — i.e. every phase
// boundary, which in this state machine is simply "between any two calls
// to Advance". BGC exposes that by only ever blocking mutators inside a
// single phase's work, never mid-phase.

// Instance is one background-collection run.
type Instance struct {
	mu    sync.Mutex
	phase Phase

	concurrent atomic.Bool

	backgroundAllocated map[uintptr]uintptr // region base -> watermark at BGC start; allocations past it are implicitly marked

	dirtyPages map[uintptr]bool // write-watch pages BGC still needs to revisit

	uohThrottle *semaphore.Weighted // bounds concurrent UOH allocation during BGC
	uohGrowth   atomic.Int64        // bytes UOH has grown since BGC started

	fgSuspended bool // true while a foreground GC has suspended this BGC
}

// New creates an idle (not_in_process) BGC instance. uohThrottleWeight
// bounds how many UOH-allocating mutators may proceed concurrently once
// throttling engages (spec §4.6's "sleep proportionally to how much the
// UOH has grown" — modeled here as a semaphore of fixed capacity from which
// Throttle acquires a weight that grows as UOH growth increases).
func New(uohThrottleWeight int64) *Instance {
	if uohThrottleWeight <= 0 {
		uohThrottleWeight = 8
	}

	return &Instance{
		phase:               NotInProcess,
		backgroundAllocated: make(map[uintptr]uintptr),
		dirtyPages:          make(map[uintptr]bool),
		uohThrottle:         semaphore.NewWeighted(uohThrottleWeight),
	}
}

// Phase returns the current state.
func (b *Instance) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.phase
}

// Enter starts a BGC run: a foreground gen1 GC initializes it (spec §4.6
// "Entry"), snapshotting each region's current allocation watermark as its
// background_allocated mark and setting the concurrent flag.
func (b *Instance) Enter(watermarks map[uintptr]uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase != NotInProcess {
		return gcerr.InvalidState("bgc: Enter called while already in process")
	}

	b.phase = Initialized
	b.concurrent.Store(true)

	for region, mark := range watermarks {
		b.backgroundAllocated[region] = mark
	}

	return nil
}

// Advance moves the state machine to its next phase, in the fixed order
// spec §4.6 defines. Returns the new phase.
func (b *Instance) Advance() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.phase = Next(b.phase)

	if b.phase == NotInProcess {
		b.concurrent.Store(false)
		b.backgroundAllocated = make(map[uintptr]uintptr)
		b.dirtyPages = make(map[uintptr]bool)
		b.uohGrowth.Store(0)
	}

	return b.phase
}

// Concurrent reports whether a BGC run is currently overlapping mutation.
func (b *Instance) Concurrent() bool { return b.concurrent.Load() }

// IsImplicitlyMarked reports whether addr, allocated into region, should be
// treated as marked without tracing because it was allocated after BGC's
// snapshot watermark for that region (spec §4.6: "any newly-allocated
// object during concurrent mark is implicitly treated as marked").
func (b *Instance) IsImplicitlyMarked(regionBase, addr uintptr) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	mark, ok := b.backgroundAllocated[regionBase]

	return ok && addr >= mark
}

// MarkPageDirty records that the platform write-watch observed a write to
// page, for BGC to revisit in its RevisitSOH/RevisitUOH phases (spec
// §4.6's "Write watch").
func (b *Instance) MarkPageDirty(page uintptr) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dirtyPages[page] = true
}

// DrainDirtyPages returns and clears the set of pages BGC still needs to
// revisit, called at the start of RevisitSOH/RevisitUOH.
func (b *Instance) DrainDirtyPages() []uintptr {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]uintptr, 0, len(b.dirtyPages))
	for p := range b.dirtyPages {
		out = append(out, p)
	}

	b.dirtyPages = make(map[uintptr]bool)

	return out
}

// RecordUOHGrowth accounts bytes allocated into LOH/POH since BGC started,
// feeding the throttle decision in Throttle.
func (b *Instance) RecordUOHGrowth(n int64) {
	b.uohGrowth.Add(n)
}

// UOHGrowth returns the bytes of LOH/POH growth recorded since this BGC run
// started, for diagnostics and tests asserting on ThrottledAlloc's
// bookkeeping.
func (b *Instance) UOHGrowth() int64 {
	return b.uohGrowth.Load()
}

// Throttle blocks the calling mutator proportionally to how much the UOH
// has grown since BGC started (spec §4.6), by acquiring from a semaphore of
// fixed capacity a weight that grows as growth accumulates. It
// returns the weight it acquired, which the caller must pass back to
// ReleaseThrottle unchanged once its UOH allocation completes; callers that
// don't want to track that value themselves should call ThrottledAlloc
// instead.
func (b *Instance) Throttle(ctx context.Context) (weight int64, err error) {
	weight = int64(1)
	if growth := b.uohGrowth.Load(); growth > 0 {
		// Every growthStep bytes of UOH growth adds one unit of required
		// weight, so later allocators wait longer relative to the
		// semaphore's fixed total capacity.
		const growthStep = 1 << 20 // 1MiB

		weight += growth / growthStep
	}

	if err := b.uohThrottle.Acquire(ctx, weight); err != nil {
		return 0, err
	}

	return weight, nil
}

// ReleaseThrottle releases weight previously acquired via Throttle. weight
// must be the exact value Throttle returned for that acquisition.
func (b *Instance) ReleaseThrottle(weight int64) {
	b.uohThrottle.Release(weight)
}

// ThrottledAlloc runs alloc under UOH throttling: it blocks via Throttle,
// runs alloc, releases the acquired weight via ReleaseThrottle regardless of
// alloc's outcome, then records n bytes of UOH growth so later throttle
// decisions reflect this allocation (spec §4.6). Callers that don't need to
// manage the acquired weight themselves should prefer this over calling
// Throttle/ReleaseThrottle directly.
func (b *Instance) ThrottledAlloc(ctx context.Context, n int64, alloc func() (uintptr, error)) (uintptr, error) {
	weight, err := b.Throttle(ctx)
	if err != nil {
		return 0, err
	}

	defer b.ReleaseThrottle(weight)

	addr, err := alloc()
	if err != nil {
		return 0, err
	}

	b.RecordUOHGrowth(n)

	return addr, nil
}

// Suspend pauses an in-process BGC for a foreground GC (spec §4.6:
// "Foreground GCs during BGC"). BGC is only ever suspended between phases
// (Advance's caller is expected to check Suspended before calling
// Advance again), so this never interrupts mid-phase work.
func (b *Instance) Suspend() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase == NotInProcess {
		return gcerr.InvalidState("bgc: Suspend called while not in process")
	}

	b.fgSuspended = true

	return nil
}

// Resume un-suspends a previously suspended BGC instance.
func (b *Instance) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fgSuspended = false
}

// Suspended reports whether a foreground GC currently has this instance
// suspended.
func (b *Instance) Suspended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.fgSuspended
}
