package handle

import (
	"testing"

	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

type fakeObjects struct {
	gens   map[uintptr]region.Generation
	marked map[uintptr]bool
}

func (f *fakeObjects) GenerationOf(addr uintptr) region.Generation { return f.gens[addr] }
func (f *fakeObjects) IsMarked(addr uintptr) bool                  { return f.marked[addr] }

func TestCreateFetchDestroyRoundtrip(t *testing.T) {
	tbl := NewTable(&fakeObjects{})

	h := tbl.Create(Strong, 0xABC)

	got, ok := tbl.Fetch(h, Strong)
	if !ok || got != 0xABC {
		t.Fatalf("expected fetch to return 0xABC, got %#x ok=%v", got, ok)
	}

	tbl.Destroy(h, Strong)

	if _, ok := tbl.Fetch(h, Strong); ok {
		t.Fatalf("expected fetch to fail after destroy")
	}
}

func TestAssignAndCompareExchange(t *testing.T) {
	tbl := NewTable(&fakeObjects{})

	h := tbl.Create(Strong, 0x1)

	if !tbl.Assign(h, Strong, 0x2) {
		t.Fatalf("expected Assign to succeed")
	}

	if got, _ := tbl.Fetch(h, Strong); got != 0x2 {
		t.Fatalf("expected 0x2 after Assign, got %#x", got)
	}

	if _, ok := tbl.CompareExchange(h, Strong, 0x3, 0x99); ok {
		t.Fatalf("expected CompareExchange with wrong compare value to fail")
	}

	old, ok := tbl.CompareExchange(h, Strong, 0x3, 0x2)
	if !ok || old != 0x2 {
		t.Fatalf("expected CompareExchange to succeed returning old value 0x2, got %#x ok=%v", old, ok)
	}

	if got, _ := tbl.Fetch(h, Strong); got != 0x3 {
		t.Fatalf("expected 0x3 after CompareExchange, got %#x", got)
	}
}

func TestSetDependentSecondaryRejectsWrongType(t *testing.T) {
	tbl := NewTable(&fakeObjects{})

	h := tbl.Create(Strong, 0x1)
	if tbl.SetDependentSecondary(h, 0x2) {
		t.Fatalf("expected SetDependentSecondary to reject a non-dependent handle")
	}

	d := tbl.Create(Dependent, 0x1)
	if !tbl.SetDependentSecondary(d, 0x2) {
		t.Fatalf("expected SetDependentSecondary to succeed on a dependent handle")
	}
}

func TestPromoteDependentsFixpointStep(t *testing.T) {
	objs := &fakeObjects{marked: map[uintptr]bool{0x1: true}} // primary marked, secondary not

	tbl := NewTable(objs)

	d := tbl.Create(Dependent, 0x1)
	tbl.SetDependentSecondary(d, 0x2)

	var pushed []uintptr

	n := tbl.PromoteDependents(func(addr uintptr) { pushed = append(pushed, addr) })
	if n != 1 || len(pushed) != 1 || pushed[0] != 0x2 {
		t.Fatalf("expected exactly one promotion of 0x2, got n=%d pushed=%v", n, pushed)
	}

	objs.marked[0x2] = true

	if n := tbl.PromoteDependents(func(uintptr) {}); n != 0 {
		t.Fatalf("expected fixpoint convergence once secondary is marked, got %d", n)
	}
}

func TestClearUnmarkedWeakShortAndLong(t *testing.T) {
	objs := &fakeObjects{marked: map[uintptr]bool{0x1: true}}

	tbl := NewTable(objs)

	live := tbl.Create(WeakShort, 0x1)
	dead := tbl.Create(WeakShort, 0x2)

	tbl.ClearUnmarkedWeakShort()

	if got, _ := tbl.Fetch(live, WeakShort); got != 0x1 {
		t.Fatalf("expected marked target to survive, got %#x", got)
	}

	if got, _ := tbl.Fetch(dead, WeakShort); got != 0 {
		t.Fatalf("expected unmarked target cleared, got %#x", got)
	}
}

func TestRecomputeAgesSkipsEmptyClumpsAndTracksYoungest(t *testing.T) {
	objs := &fakeObjects{gens: map[uintptr]region.Generation{0x1: region.Gen1}}

	tbl := NewTable(objs)
	tbl.Create(Strong, 0x1)

	tbl.RecomputeAges()

	c := tbl.chain(Strong)
	if c.head.ages[0] != region.Gen1 {
		t.Fatalf("expected clump 0's age to be Gen1, got %v", c.head.ages[0])
	}

	// A clump with no slots touched yet remains the empty sentinel.
	lastClump := len(c.head.ages) - 1
	if c.head.ages[lastClump] != ageEmpty {
		t.Fatalf("expected untouched clump to remain ageEmpty, got %v", c.head.ages[lastClump])
	}
}

func TestScanSkipsTooOldClumps(t *testing.T) {
	objs := &fakeObjects{gens: map[uintptr]region.Generation{0x1: region.GenLOH}}

	tbl := NewTable(objs)
	tbl.Create(Strong, 0x1)
	tbl.RecomputeAges()

	visited := 0

	tbl.Scan([]Type{Strong}, ScanFlags{CondemnedMax: region.Gen1}, func(Handle, Type, uintptr) bool {
		visited++
		return true
	})

	if visited != 0 {
		t.Fatalf("expected clump referencing only GenLOH to be skipped for a Gen1 condemned scan, got %d visits", visited)
	}

	visited = 0

	tbl.Scan([]Type{Strong}, ScanFlags{CondemnedMax: region.GenPOH}, func(Handle, Type, uintptr) bool {
		visited++
		return true
	})

	if visited != 1 {
		t.Fatalf("expected 1 visit once the condemned ceiling covers GenLOH, got %d", visited)
	}
}

func TestScanClearingReturnsFalseZeroesTarget(t *testing.T) {
	objs := &fakeObjects{gens: map[uintptr]region.Generation{0x1: region.Gen0}}

	tbl := NewTable(objs)
	h := tbl.Create(WeakShort, 0x1)
	tbl.RecomputeAges()

	tbl.Scan([]Type{WeakShort}, ScanFlags{CondemnedMax: region.GenPOH}, func(Handle, Type, uintptr) bool {
		return false
	})

	if got, _ := tbl.Fetch(h, WeakShort); got != 0 {
		t.Fatalf("expected visit returning false to clear the handle's target, got %#x", got)
	}
}

func TestScanAsyncThenProcess(t *testing.T) {
	objs := &fakeObjects{gens: map[uintptr]region.Generation{0x1: region.Gen0}}

	tbl := NewTable(objs)
	tbl.Create(Strong, 0x1)
	tbl.RecomputeAges()

	ranges := tbl.ScanAsync([]Type{Strong}, ScanFlags{CondemnedMax: region.GenPOH})
	if len(ranges) == 0 {
		t.Fatalf("expected at least one queued range")
	}

	visited := 0

	for _, r := range ranges {
		tbl.ProcessAsyncRange(r, func(Handle, Type, uintptr) bool {
			visited++
			return true
		})
	}

	if visited != 1 {
		t.Fatalf("expected exactly 1 handle visited across queued ranges, got %d", visited)
	}
}

func TestCreateGrowsBlockAndRebalances(t *testing.T) {
	tbl := NewTable(&fakeObjects{})

	handles := make([]Handle, 0, blockSlots+10)
	for i := 0; i < blockSlots+10; i++ {
		handles = append(handles, tbl.Create(Strong, uintptr(i+1)))
	}

	inUse, blocks := tbl.Stats(Strong)
	if inUse != blockSlots+10 {
		t.Fatalf("expected %d in-use handles, got %d", blockSlots+10, inUse)
	}

	if blocks < 2 {
		t.Fatalf("expected allocation to span at least 2 blocks, got %d", blocks)
	}

	for i, h := range handles {
		if got, ok := tbl.Fetch(h, Strong); !ok || got != uintptr(i+1) {
			t.Fatalf("handle %d: expected %#x, got %#x ok=%v", i, i+1, got, ok)
		}
	}
}

func TestDestroyRetainsBlockNoFreeing(t *testing.T) {
	tbl := NewTable(&fakeObjects{})

	handles := make([]Handle, 0, blockSlots)
	for i := 0; i < blockSlots; i++ {
		handles = append(handles, tbl.Create(Strong, uintptr(i+1)))
	}

	for _, h := range handles {
		tbl.Destroy(h, Strong)
	}

	_, blocks := tbl.Stats(Strong)
	if blocks == 0 {
		t.Fatalf("expected the block to be retained (RetainVM semantics), got 0 blocks")
	}

	h := tbl.Create(Strong, 0xDEAD)
	if got, ok := tbl.Fetch(h, Strong); !ok || got != 0xDEAD {
		t.Fatalf("expected the retained block's freed slots to be reusable, got %#x ok=%v", got, ok)
	}
}
