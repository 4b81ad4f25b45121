// Package galloc implements the two fast-allocation components: allocation
// contexts with their bump-pointer fast path (C4, spec §4.2) and the
// per-generation bucketed free-list allocator (C5, spec §4.3).
//
// Grounded on internal/allocator/arena.go's bump-pointer arena (same
// alloc_ptr/alloc_limit-advance-or-refill shape, generalized here to the
// mutator-owned AllocContext struct spec §4.2 names field-for-field) and
// internal/allocator/pool.go's size-classed free list (same bucket-by-
// size-class idiom, generalized to the singly/doubly-linked split and
// first-fit-with-skip scan spec §4.3 requires).
package galloc

import (
	"sync/atomic"

	"github.com/orizon-lang/orizon-gc/internal/gc/gcerr"
)

// Context is a mutator-owned allocation context (spec §4.2): the fast-path
// bump-pointer cursor plus the two reserved words identifying the
// allocating/home heap in the parallel configuration.
type Context struct {
	allocPtr      uintptr
	allocLimit    uintptr
	allocBytes    uint64 // cumulative bytes allocated through this context's SOH fast path
	allocBytesUOH uint64 // cumulative bytes allocated directly into LOH/POH (never via this context's bump path)

	Reserved [2]uint64 // reserved[0]=allocating heap id, reserved[1]=home heap id
}

// RefillFunc supplies a fresh [ptr, limit) span when the fast path can't
// satisfy a request; it is the collector's slow path (region refill, a
// triggered collection, a heap switch, or OOM), invoked with the size that
// triggered the refill.
type RefillFunc func(size uintptr) (ptr, limit uintptr, err error)

// Alloc attempts the fast path: atomically advance allocPtr by size if it
// fits before allocLimit. On a miss it calls refill once and retries. An
// error from refill is returned unchanged; a second miss after a successful
// refill is reported as an InvalidState error (refill span too small).
//
// This models spec §4.2's contract precisely: "given a requested size s,
// the mutator atomically advances alloc_ptr += s if alloc_ptr + s <=
// alloc_limit; otherwise it calls into the collector's slow path."
func (c *Context) Alloc(size uintptr, align uintptr, refill RefillFunc) (uintptr, error) {
	if p, ok := c.tryFast(size, align); ok {
		return p, nil
	}

	ptr, limit, err := refill(size)
	if err != nil {
		return 0, err
	}

	c.allocPtr = ptr
	c.allocLimit = limit

	if p, ok := c.tryFast(size, align); ok {
		return p, nil
	}

	return 0, gcerr.InvalidState("galloc: refill span too small for requested size")
}

func (c *Context) tryFast(size, align uintptr) (uintptr, bool) {
	cur := atomic.LoadUintptr(&c.allocPtr)
	aligned := alignUp(cur, align)
	next := aligned + size

	if next > c.allocLimit {
		return 0, false
	}

	if !atomic.CompareAndSwapUintptr(&c.allocPtr, cur, next) {
		return c.tryFastRetry(size, align)
	}

	atomic.AddUint64(&c.allocBytes, uint64(size))

	return aligned, true
}

// tryFastRetry handles the rare CAS-lost race: another goroutine advanced
// allocPtr between our load and our CAS. A single retry covers the
// practical case (allocation contexts are usually thread-owned; true
// contention here means two mutators share a context, which only parallel
// heap reassignment briefly permits).
func (c *Context) tryFastRetry(size, align uintptr) (uintptr, bool) {
	cur := atomic.LoadUintptr(&c.allocPtr)
	aligned := alignUp(cur, align)
	next := aligned + size

	if next > c.allocLimit {
		return 0, false
	}

	if !atomic.CompareAndSwapUintptr(&c.allocPtr, cur, next) {
		return 0, false
	}

	atomic.AddUint64(&c.allocBytes, uint64(size))

	return aligned, true
}

// AllocUOH records a direct LOH/POH allocation made outside this context's
// bump path (those generations allocate via the free-list allocator, but
// still attribute their bytes to the owning mutator's context for
// balancing purposes, spec §4.7).
func (c *Context) AllocUOH(size uint64) {
	atomic.AddUint64(&c.allocBytesUOH, size)
}

// AllocPtr returns the current bump-pointer cursor.
func (c *Context) AllocPtr() uintptr { return atomic.LoadUintptr(&c.allocPtr) }

// AllocLimit returns the current fast-path ceiling.
func (c *Context) AllocLimit() uintptr { return c.allocLimit }

// AllocBytes returns cumulative SOH fast-path bytes allocated.
func (c *Context) AllocBytes() uint64 { return atomic.LoadUint64(&c.allocBytes) }

// AllocBytesUOH returns cumulative UOH bytes attributed to this context.
func (c *Context) AllocBytesUOH() uint64 { return atomic.LoadUint64(&c.allocBytesUOH) }

// Fix implements "fix allocation context" (spec §4.2 invariant): the
// collector may, at any safe point, scan [alloc_ptr, alloc_limit) as
// uninitialized memory and convert it into a single free object via
// makeFree, then collapse the context to an empty span so the fast path
// correctly misses on the next allocation and refills.
func (c *Context) Fix(makeFree func(ptr, size uintptr)) {
	ptr := atomic.LoadUintptr(&c.allocPtr)
	if c.allocLimit > ptr {
		makeFree(ptr, c.allocLimit-ptr)
	}

	atomic.StoreUintptr(&c.allocPtr, c.allocLimit)
}

func alignUp(v, align uintptr) uintptr {
	if align == 0 {
		return v
	}

	return (v + align - 1) &^ (align - 1)
}
