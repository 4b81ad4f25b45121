package region

import "sync/atomic"

// BrickSize is the number of bytes one brick entry indexes (spec §3 "Brick
// table"). Chosen large enough that a single skip-chain hop always reaches
// the covering brick directly for any gap the plan phase can produce (see
// DESIGN.md's "Brick-table skip encoding overflow" decision); FindObjectStart
// still loops defensively rather than assuming a single hop, so a smaller
// BrickSize would stay correct too.
const BrickSize uintptr = 4096

// brickEmpty marks a brick with no object starting inside it and no prior
// brick within int16 range either; callers must keep walking backward by
// hand (only possible at the very start of a region, which always has an
// entry).
const brickEmpty int16 = 0

// BrickTable indexes object starts within a region for fast boundary
// lookup during card scanning and plan/relocate (spec §3, §4.4, §4.5).
// Each entry is a 16-bit value: a positive/zero value N means "an object
// starts at this brick's base + N bytes"; a negative value -K means "the
// object covering this brick's first byte starts K bricks earlier."
//
// Grounded on internal/gc/cardtable's bit-per-unit packing idiom, applied
// here to a denser per-brick int16 array instead of a bitset, per spec §3's
// "16-bit entry per brick_size bytes" data model.
type BrickTable struct {
	base    uintptr
	entries []int32 // stored as int32 to allow atomic ops; semantically int16 range
}

// NewBrickTable allocates a brick table covering [base, base+size).
func NewBrickTable(base, size uintptr) *BrickTable {
	count := (size + BrickSize - 1) / BrickSize
	return &BrickTable{base: base, entries: make([]int32, count)}
}

func (bt *BrickTable) index(addr uintptr) int {
	return int((addr - bt.base) / BrickSize)
}

// BrickOf returns the brick index covering addr.
func (bt *BrickTable) BrickOf(addr uintptr) int { return bt.index(addr) }

// SetObjectStart records that an object starts at addr, which must lie
// within the brick it indexes; offset is addr's distance from that brick's
// base, stored directly as a non-negative entry.
func (bt *BrickTable) SetObjectStart(addr uintptr) {
	i := bt.index(addr)
	if i < 0 || i >= len(bt.entries) {
		return
	}

	brickBase := bt.base + uintptr(i)*BrickSize
	offset := int32(addr - brickBase)

	atomic.StoreInt32(&bt.entries[i], offset)
}

// SetSkip records that brick i has no object start of its own and the
// covering object starts `skip` bricks earlier (a negative entry, per
// spec §3: "a negative skip count to a prior brick").
func (bt *BrickTable) SetSkip(i int, skip int) {
	if i < 0 || i >= len(bt.entries) || skip <= 0 {
		return
	}

	atomic.StoreInt32(&bt.entries[i], -int32(skip))
}

// Clear resets brick i to empty (no object start, no skip) — used when
// plan invalidates a previously built table before repopulating it.
func (bt *BrickTable) Clear(i int) {
	if i < 0 || i >= len(bt.entries) {
		return
	}

	atomic.StoreInt32(&bt.entries[i], int32(brickEmpty))
}

// Len returns the number of brick entries.
func (bt *BrickTable) Len() int { return len(bt.entries) }

// FindObjectStart returns the address of the object covering addr's brick,
// by reading that brick's entry and, if it's a skip, walking backward brick
// by brick until an object-start entry is found. Walking (rather than
// trusting a single hop) keeps this correct even if a future smaller
// BrickSize produces skip chains longer than one hop (DESIGN.md's
// brick-table decision).
func (bt *BrickTable) FindObjectStart(addr uintptr) (uintptr, bool) {
	i := bt.index(addr)
	if i < 0 || i >= len(bt.entries) {
		return 0, false
	}

	for steps := 0; steps < len(bt.entries); steps++ {
		entry := atomic.LoadInt32(&bt.entries[i])

		if entry >= 0 {
			return bt.base + uintptr(i)*BrickSize + uintptr(entry), true
		}

		i -= int(-entry)
		if i < 0 {
			return 0, false
		}
	}

	return 0, false
}
