package gen

import (
	"testing"
	"time"

	"github.com/orizon-lang/orizon-gc/internal/gc/galloc"
	"github.com/orizon-lang/orizon-gc/internal/gc/platform"
	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

func TestTableEntryCoversEveryGeneration(t *testing.T) {
	tb := New()

	for g := region.Gen0; g <= region.GenPOH; g++ {
		e := tb.Entry(g)
		if e == nil {
			t.Fatalf("Entry(%v) returned nil", g)
		}

		if e.StartRegion() != nil || e.TailRegion() != nil {
			t.Fatalf("fresh entry %v should have no bound regions", g)
		}
	}
}

func fakeRegion() *region.Region {
	a, err := region.NewAllocator(fakeMem{}, 4*region.DefaultRegionAlignment, 0)
	if err != nil {
		panic(err)
	}

	r, err := a.AllocateBasicRegion(region.Gen0)
	if err != nil {
		panic(err)
	}

	return r
}

// fakeMem is a minimal platform.Memory stand-in, just enough for
// region.NewAllocator/AllocateBasicRegion to succeed.
type fakeMem struct{}

func (fakeMem) Reserve(size uintptr) (uintptr, error)               { return 1, nil }
func (fakeMem) Commit(base, size uintptr, prot platform.Protection) error { return nil }
func (fakeMem) Decommit(base, size uintptr) error                   { return nil }
func (fakeMem) Release(base, size uintptr) error                    { return nil }
func (fakeMem) ProtectReadOnly(base, size uintptr) error             { return nil }
func (fakeMem) ResetWriteWatch(base, size uintptr) error             { return nil }
func (fakeMem) PollDirty(base, size uintptr) ([]uintptr, error)      { return nil, nil }

func TestBindRegionLinksChainInOrder(t *testing.T) {
	tb := New()
	e := tb.Entry(region.Gen0)

	r1 := fakeRegion()
	r2 := fakeRegion()
	r3 := fakeRegion()

	e.BindRegion(r1)
	e.BindRegion(r2)
	e.BindRegion(r3)

	if e.StartRegion() != r1 {
		t.Fatalf("expected start region r1")
	}

	if e.TailRegion() != r3 {
		t.Fatalf("expected tail region r3")
	}

	got := e.Regions()
	if len(got) != 3 || got[0] != r1 || got[1] != r2 || got[2] != r3 {
		t.Fatalf("expected chain [r1 r2 r3], got %v", got)
	}

	for _, r := range got {
		if r.Generation() != region.Gen0 {
			t.Fatalf("BindRegion should retag region's generation, got %v", r.Generation())
		}
	}
}

func TestSetFreeListAndFreeList(t *testing.T) {
	tb := New()
	e := tb.Entry(region.Gen2)

	if e.FreeList() != nil {
		t.Fatalf("fresh entry should have no free list")
	}

	fl := &galloc.FreeListAllocator{}
	e.SetFreeList(fl)

	if e.FreeList() != fl {
		t.Fatalf("expected FreeList to return the attached allocator")
	}
}

func TestDataAndUpdateData(t *testing.T) {
	tb := New()
	e := tb.Entry(region.Gen1)

	e.UpdateData(func(d *DynamicData) {
		d.DesiredAllocation = 1024
	})

	if got := e.Data().DesiredAllocation; got != 1024 {
		t.Fatalf("expected DesiredAllocation 1024, got %d", got)
	}
}

func TestChargeAllocationExhaustsBudget(t *testing.T) {
	tb := New()
	e := tb.Entry(region.Gen0)

	e.ResetBudget(100)

	if e.ChargeAllocation(40) {
		t.Fatalf("40/100 should not exhaust budget")
	}

	if !e.ChargeAllocation(70) {
		t.Fatalf("110/100 should exhaust budget")
	}
}

func TestResetBudgetMatchesDesired(t *testing.T) {
	tb := New()
	e := tb.Entry(region.Gen0)

	e.ChargeAllocation(50)
	e.ResetBudget(256)

	data := e.Data()
	if data.DesiredAllocation != 256 {
		t.Fatalf("expected DesiredAllocation 256, got %d", data.DesiredAllocation)
	}

	if data.NewAllocation != 256 {
		t.Fatalf("expected NewAllocation reset to 256, got %d", data.NewAllocation)
	}
}

func TestRecordCollectionComputesSurvivalRate(t *testing.T) {
	tb := New()
	e := tb.Entry(region.Gen0)

	now := time.Unix(1000, 0)
	e.RecordCollection(1000, 250, 0, 100, 0, now)

	data := e.Data()

	if data.SurvivalRate != 0.25 {
		t.Fatalf("expected survival rate 0.25, got %f", data.SurvivalRate)
	}

	if data.CollectionCount != 1 {
		t.Fatalf("expected CollectionCount 1, got %d", data.CollectionCount)
	}

	if !data.LastGCTime.Equal(now) {
		t.Fatalf("expected LastGCTime %v, got %v", now, data.LastGCTime)
	}

	e.RecordCollection(0, 0, 0, 0, 0, now)

	if e.Data().SurvivalRate != 0 {
		t.Fatalf("expected survival rate 0 when beginDataSize is 0, got %f", e.Data().SurvivalRate)
	}

	if e.Data().CollectionCount != 2 {
		t.Fatalf("expected CollectionCount 2, got %d", e.Data().CollectionCount)
	}
}
