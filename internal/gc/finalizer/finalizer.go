// Package finalizer implements the finalization queue (spec §3
// "Finalization queue", §4.9, C13): fill-pointer partitions for
// critical/user-finalizable objects, the reachable-through-finalizers mark
// sub-pass that re-promotes unreachable finalizable objects, and the
// ready-to-run partition a separate finalizer thread drains.
//
// Grounded on internal/runtime/block_manager.go's BlockFlagFinalizable
// bit (an object is finalizable at allocation time, same trigger point
// spec §4.9 uses) and spec.md §3's partitioned-queue data model; the
// teacher has no direct analogue for the three-zone fill-pointer array,
// so the zone-shift algorithm below is this package's own, built to the
// spec's ordering contract rather than transplanted from elsewhere.
package finalizer

import (
	"sync"

	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

// Tier distinguishes critical finalizers (must run even at process
// shutdown, e.g. releasing an OS handle) from ordinary user finalizers.
type Tier int

const (
	User Tier = iota
	Critical
)

type slot struct {
	addr uintptr
	tier Tier
}

// ObjectQuery is the collaborator bridge the finalizer pass needs: which
// generation an object lives in, and whether it's currently marked. The
// same object model mark.Pass uses satisfies this structurally.
type ObjectQuery interface {
	GenerationOf(addr uintptr) region.Generation
	IsMarked(addr uintptr) bool
}

// Queue is the finalization queue: a single growable array logically
// split into four zones in order: critical-finalizable [0, fillCrit),
// user-finalizable [fillCrit, fillUser), ready-to-run [fillUser,
// fillReady), and free capacity [fillReady, len). New registrations are
// appended to the end of the zone matching their tier, shifting later
// zones over by one slot (spec §4.9: "a single-producer-mostly append
// under a lock" — the shift keeps the three boundaries meaningful without
// needing per-zone backing arrays).
type Queue struct {
	mu sync.Mutex

	slots []slot

	fillCrit  int
	fillUser  int
	fillReady int

	objects      ObjectQuery
	condemnedMax region.Generation
}

// NewQueue builds an empty finalization queue bound to the given object
// model.
func NewQueue(objects ObjectQuery) *Queue {
	return &Queue{objects: objects}
}

// SetCondemned records the current collection's condemned generation
// ceiling, consulted by ReachableThroughFinalizers. Called once per GC
// before mark runs.
func (q *Queue) SetCondemned(max region.Generation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.condemnedMax = max
}

// Register records a newly allocated finalizable object (spec §4.9: "A
// finalizable object is registered at allocation time").
func (q *Queue) Register(addr uintptr, tier Tier) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pos := q.fillUser
	if tier == Critical {
		pos = q.fillCrit
	}

	q.slots = append(q.slots, slot{})
	copy(q.slots[pos+1:], q.slots[pos:len(q.slots)-1])
	q.slots[pos] = slot{addr: addr, tier: tier}

	if tier == Critical {
		q.fillCrit++
	}

	q.fillUser++
	q.fillReady++
}

// Unregister removes a previously registered finalizable object (the
// collaborator calls this when a mutator suppresses finalization, e.g.
// GC.SuppressFinalize). Scans the pending and ready-to-run zones
// ([0, fillReady)); an object already drained from ready-to-run has
// nothing left to unregister.
func (q *Queue) Unregister(addr uintptr) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := 0; i < q.fillReady; i++ {
		if q.slots[i].addr == addr {
			q.removeAt(i)

			return true
		}
	}

	return false
}

func (q *Queue) removeAt(i int) slot {
	s := q.slots[i]

	copy(q.slots[i:], q.slots[i+1:])
	q.slots = q.slots[:len(q.slots)-1]

	if i < q.fillCrit {
		q.fillCrit--
	}

	if i < q.fillUser {
		q.fillUser--
	}

	if i < q.fillReady {
		q.fillReady--
	}

	return s
}

func (q *Queue) insertReady(s slot) {
	q.slots = append(q.slots, slot{})
	copy(q.slots[q.fillReady+1:], q.slots[q.fillReady:len(q.slots)-1])
	q.slots[q.fillReady] = s
	q.fillReady++
}

// PromoteUnreachable implements spec §4.9 step 1: scan the combined
// critical+user zone [0, fillUser) for objects in the condemned
// generation range that are unmarked, move each into the ready-to-run
// zone, and invoke remark so the object (and everything transitively
// reachable from it) is re-promoted as live. Returns how many objects
// moved.
func (q *Queue) PromoteUnreachable(remark func(addr uintptr)) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	moved := 0

	i := 0
	for i < q.fillUser {
		s := q.slots[i]

		if q.objects.GenerationOf(s.addr) <= q.condemnedMax && !q.objects.IsMarked(s.addr) {
			removed := q.removeAt(i)
			q.insertReady(removed)
			remark(removed.addr)

			moved++

			continue
		}

		i++
	}

	return moved
}

// ReachableThroughFinalizers satisfies mark.FinalizerScanner: push is
// called once per newly-promoted object so the mark drain can trace its
// references (spec §4.9: "mark the object as live (re-promoting it and
// everything transitively reachable)").
func (q *Queue) ReachableThroughFinalizers(push func(root uintptr)) int {
	return q.PromoteUnreachable(push)
}

// DrainReady removes up to max objects (0 means unlimited) from the front
// of the ready-to-run zone and returns their addresses, for the finalizer
// thread to invoke outside of GC (spec §4.9: "A finalizer thread drains
// the ready-to-run partition").
func (q *Queue) DrainReady(max int) []uintptr {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.fillReady - q.fillUser
	if max > 0 && max < n {
		n = max
	}

	out := make([]uintptr, 0, n)

	for k := 0; k < n; k++ {
		out = append(out, q.slots[q.fillUser].addr)
		q.removeAt(q.fillUser)
	}

	return out
}

// ReadyCount returns the number of objects currently awaiting finalization.
func (q *Queue) ReadyCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.fillReady - q.fillUser
}

// PendingCount returns the number of objects still registered as
// finalizable (not yet found unreachable).
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.fillUser
}
