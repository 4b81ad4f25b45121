package mark

import (
	"context"
	"sync"
	"testing"

	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

// fakeObjectModel is an in-memory object graph for testing: addr -> (gen, refs).
type fakeObjectModel struct {
	mu     sync.Mutex
	gens   map[uintptr]region.Generation
	refs   map[uintptr][]uintptr
	marked map[uintptr]bool
}

func newFakeObjectModel() *fakeObjectModel {
	return &fakeObjectModel{
		gens:   make(map[uintptr]region.Generation),
		refs:   make(map[uintptr][]uintptr),
		marked: make(map[uintptr]bool),
	}
}

func (f *fakeObjectModel) add(addr uintptr, gen region.Generation, refs ...uintptr) {
	f.gens[addr] = gen
	f.refs[addr] = refs
}

func (f *fakeObjectModel) GenerationOf(addr uintptr) region.Generation {
	return f.gens[addr]
}

func (f *fakeObjectModel) TryMark(addr uintptr) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.marked[addr] {
		return false
	}

	f.marked[addr] = true

	return true
}

func (f *fakeObjectModel) IsMarked(addr uintptr) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.marked[addr]
}

func (f *fakeObjectModel) VisitRefs(addr uintptr, visit func(uintptr)) {
	for _, r := range f.refs[addr] {
		visit(r)
	}
}

func TestRunSingleTransitiveClosure(t *testing.T) {
	om := newFakeObjectModel()

	// root -> a -> b (all gen0); c is unreachable garbage.
	om.add(1, region.Gen0, 2)
	om.add(2, region.Gen0, 3)
	om.add(3, region.Gen0)
	om.add(4, region.Gen0) // unreachable

	p := &Pass{CondemnedMax: region.Gen0, Objects: om}

	res := p.RunSingle([]uintptr{1})

	if res.MarkedCount != 3 {
		t.Fatalf("expected 3 marked objects, got %d", res.MarkedCount)
	}

	if !om.IsMarked(1) || !om.IsMarked(2) || !om.IsMarked(3) {
		t.Fatalf("expected 1,2,3 marked")
	}

	if om.IsMarked(4) {
		t.Fatalf("unreachable object should not be marked")
	}
}

func TestRunSingleRespectsCondemnedRange(t *testing.T) {
	om := newFakeObjectModel()

	om.add(1, region.Gen0, 2)
	om.add(2, region.Gen2) // outside the condemned range for a gen0 collection

	p := &Pass{CondemnedMax: region.Gen0, Objects: om}

	res := p.RunSingle([]uintptr{1})

	if res.MarkedCount != 1 {
		t.Fatalf("expected only the gen0 root marked, got %d", res.MarkedCount)
	}

	if om.IsMarked(2) {
		t.Fatalf("gen2 object should not be marked by a gen0-condemned pass")
	}
}

type fakeHandleScanner struct {
	promoted     []uintptr
	promotedOnce bool
	clearedShort bool
	clearedLong  bool
}

func (h *fakeHandleScanner) PromoteDependents(push func(uintptr)) int {
	if h.promotedOnce {
		return 0
	}

	h.promotedOnce = true

	for _, p := range h.promoted {
		push(p)
	}

	return len(h.promoted)
}

func (h *fakeHandleScanner) ClearUnmarkedWeakShort() { h.clearedShort = true }
func (h *fakeHandleScanner) ClearUnmarkedWeakLong()  { h.clearedLong = true }

func TestRunSingleDependentHandleFixpoint(t *testing.T) {
	om := newFakeObjectModel()
	om.add(1, region.Gen0)
	om.add(2, region.Gen0) // only reachable via the dependent handle secondary

	handles := &fakeHandleScanner{promoted: []uintptr{2}}

	p := &Pass{CondemnedMax: region.Gen0, Objects: om, Handles: handles}

	res := p.RunSingle([]uintptr{1})

	if !om.IsMarked(2) {
		t.Fatalf("expected dependent handle secondary to be promoted and marked")
	}

	if !handles.clearedShort || !handles.clearedLong {
		t.Fatalf("expected both weak handle scans to run")
	}

	if res.MarkedCount != 2 {
		t.Fatalf("expected 2 marked, got %d", res.MarkedCount)
	}
}

func TestRunParallelWorkStealing(t *testing.T) {
	omA := newFakeObjectModel()
	omB := newFakeObjectModel()

	// Heap A's root chain is long; heap B has nothing, so it should steal
	// work from A rather than sit idle.
	prev := uintptr(1)
	omA.add(prev, region.Gen0)

	for i := uintptr(2); i <= 50; i++ {
		omA.add(prev, region.Gen0, i)
		omA.add(i, region.Gen0)
		prev = i
	}

	passes := []*Pass{
		{CondemnedMax: region.Gen0, Objects: omA},
		{CondemnedMax: region.Gen0, Objects: omB},
	}

	results, err := RunParallel(context.Background(), passes, [][]uintptr{{1}, {}})
	if err != nil {
		t.Fatalf("RunParallel: %v", err)
	}

	total := results[0].MarkedCount + results[1].MarkedCount
	if total != 50 {
		t.Fatalf("expected 50 total marked across both heaps, got %d", total)
	}
}
