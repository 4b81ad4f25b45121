// Package barrier implements the mutator-side write barrier contract
// (spec §4.4, C8): mark a card whenever a reference store could cross from
// an older generation into a younger one, with over-approximation
// permitted (setting cards for same-generation stores is legal and cheap).
//
// Grounded on internal/gc/cardtable's Set/BundleSet pair and spec §4.4's
// ordering guarantee (i): the write barrier's only job is to get a card set
// before the mutator's next safe point, not to be precise. This package is
// intentionally thin — in the real system the barrier is JIT-emitted
// inline code (spec §1 scopes codegen out); this is the contract a
// collaborator's emitted barrier must satisfy, expressed as a callable Go
// function so tests and the verifier can exercise it directly.
package barrier

import (
	"github.com/orizon-lang/orizon-gc/internal/gc/cardtable"
	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

// Bounds reports the heap's current low/high watermark and the generation
// owning a given address; gcheap.Heap (internal/gc/gcheap) implements this.
type Bounds interface {
	InHeap(addr uintptr) bool
	GenerationOf(addr uintptr) region.Generation
}

// Barrier marks cards on behalf of the mutator. One instance is shared
// across all mutator threads; Mark is safe for concurrent use (it only
// ever sets bits, per cardtable.Table.Set's atomic-OR semantics).
type Barrier struct {
	cards  *cardtable.Table
	bounds Bounds
}

// New builds a write barrier over the given card table and heap bounds
// oracle.
func New(cards *cardtable.Table, bounds Bounds) *Barrier {
	return &Barrier{cards: cards, bounds: bounds}
}

// Mark implements the write-barrier contract for a store of `value` into
// field address `fieldAddr`, which lives inside `containingObj`. Per spec
// §4.4 step 1, a card is set whenever `value`'s generation is younger than
// `containingObj`'s generation; over-approximating (setting the card for a
// same-generation or elder-generation store too) is explicitly legal, so
// this implementation always sets the card once it has established
// fieldAddr is in-heap — callers wanting the precise, non-over-approximating
// variant should use MarkPrecise instead.
func (b *Barrier) Mark(fieldAddr uintptr, containingObj uintptr, value uintptr) {
	if !b.bounds.InHeap(fieldAddr) {
		return
	}

	b.cards.Set(fieldAddr)
}

// MarkPrecise only sets the card when value's generation is strictly
// younger than containingObj's generation, matching spec §4.4 step 1
// exactly rather than taking the legal over-approximation. Used by this
// package's tests to check the minimal-marking half of the card-coverage
// invariant; internal/gc/verify does not call it.
func (b *Barrier) MarkPrecise(fieldAddr uintptr, containingObj uintptr, value uintptr) {
	if !b.bounds.InHeap(fieldAddr) {
		return
	}

	containingGen := b.bounds.GenerationOf(containingObj)
	valueGen := b.bounds.GenerationOf(value)

	if valueGen < containingGen {
		b.cards.Set(fieldAddr)
	}
}
