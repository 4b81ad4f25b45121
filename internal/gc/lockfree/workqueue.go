// Package lockfree provides the bounded MPMC work queue the parallel mark
// phase (C9, spec §4.5) uses for its per-heap mark stack and the
// card-scan/handle-scan work lists fed to it.
//
// Grounded on internal/runtime/concurrency/lfqueue.go's MPMCQueue: same
// Vyukov per-slot-sequence-number ring buffer algorithm, kept essentially
// as-is (it is a domain-agnostic concurrency primitive with nothing
// GC-specific to generalize), but narrowed from a generic type parameter
// to the concrete uintptr object-pointer payload mark actually pushes, and
// renamed to the vocabulary spec §4.5 uses ("mark stack" work items)
// rather than the teacher's generic "queue" framing.
package lockfree

import (
	"runtime"
	"sync/atomic"
)

// WorkQueue is a bounded multi-producer multi-consumer ring buffer of
// object pointers awaiting a mark/scan visit.
type WorkQueue struct {
	mask    uint64
	enqueue uint64
	dequeue uint64
	cells   []workCell
}

type workCell struct {
	seq uint64
	val uintptr
}

// NewWorkQueue creates a queue with the given capacity, rounded up to the
// next power of two (the ring-buffer algorithm requires it for the mask
// trick). A minimum of 2 is enforced.
func NewWorkQueue(capacity uint64) *WorkQueue {
	if capacity < 2 {
		capacity = 2
	}

	capPow2 := uint64(1)
	for capPow2 < capacity {
		capPow2 <<= 1
	}

	q := &WorkQueue{
		mask:  capPow2 - 1,
		cells: make([]workCell, capPow2),
	}

	for i := range q.cells {
		q.cells[i].seq = uint64(i)
	}

	return q
}

// Push enqueues an object pointer discovered during marking. Returns false
// if the queue is at capacity — callers (C9) fall back to an overflow list
// in that case rather than blocking, per spec §4.5's mark-overflow handling.
func (q *WorkQueue) Push(ptr uintptr) bool {
	for {
		pos := atomic.LoadUint64(&q.enqueue)
		c := &q.cells[pos&q.mask]
		seq := atomic.LoadUint64(&c.seq)
		dif := int64(seq) - int64(pos)

		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.enqueue, pos, pos+1) {
				c.val = ptr
				atomic.StoreUint64(&c.seq, pos+1)

				return true
			}
		case dif < 0:
			return false
		default:
			runtime.Gosched()
		}
	}
}

// Pop dequeues the next object pointer to scan, for a worker that has run
// out of locally-stolen work (C9's work-stealing fan-out).
func (q *WorkQueue) Pop() (uintptr, bool) {
	for {
		pos := atomic.LoadUint64(&q.dequeue)
		c := &q.cells[pos&q.mask]
		seq := atomic.LoadUint64(&c.seq)
		dif := int64(seq) - int64(pos+1)

		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.dequeue, pos, pos+1) {
				v := c.val
				atomic.StoreUint64(&c.seq, pos+q.mask+1)

				return v, true
			}
		case dif < 0:
			return 0, false
		default:
			runtime.Gosched()
		}
	}
}

// Len estimates the number of items currently queued. Approximate under
// concurrent access (enqueue/dequeue cursors may be mid-update); used only
// for load-balancing heuristics in C12, never for correctness decisions.
func (q *WorkQueue) Len() int {
	enq := atomic.LoadUint64(&q.enqueue)
	deq := atomic.LoadUint64(&q.dequeue)

	if enq < deq {
		return 0
	}

	return int(enq - deq)
}
