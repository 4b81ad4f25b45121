package gcheap

import (
	"testing"

	"github.com/orizon-lang/orizon-gc/internal/gc/gcconfig"
	"github.com/orizon-lang/orizon-gc/internal/gc/objheader"
	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

// fakeEE is a minimal EECallbacks stand-in: roots are whatever the test
// populates directly, finalizers/fatal errors are just recorded for
// assertions. A full gomock-based fake lives in internal/gc/gcmock; this one
// is kept local and hand-written since gcheap's own tests only need a
// handful of scripted root sets, not a general-purpose mock.
type fakeEE struct {
	stackRoots, staticRoots []uintptr
	finalized               []uintptr
	loggedErrors            []string
	fatal                   *int
}

func (f *fakeEE) SuspendEE() {}
func (f *fakeEE) RestartEE() {}

func (f *fakeEE) EnumerateStackRoots(push func(uintptr)) {
	for _, r := range f.stackRoots {
		push(r)
	}
}

func (f *fakeEE) EnumerateStaticRoots(push func(uintptr)) {
	for _, r := range f.staticRoots {
		push(r)
	}
}

func (f *fakeEE) InvokeFinalizer(obj uintptr) { f.finalized = append(f.finalized, obj) }
func (f *fakeEE) LogError(msg string)         { f.loggedErrors = append(f.loggedErrors, msg) }
func (f *fakeEE) HandleFatalError(code int)   { f.fatal = &code }

var scalarMT = &objheader.MethodTable{ID: 1, Name: "scalar", FixedSize: 16}

var refMT = &objheader.MethodTable{
	ID: 2, Name: "withRef", FixedSize: 24, SlotOffsets: []uintptr{8},
}

func fakeMethodTableOf(obj uintptr) *objheader.MethodTable { return scalarMT }

func newTestHeap(t *testing.T) (*Heap, *fakeEE) {
	t.Helper()

	cfg := gcconfig.Default()
	cfg.RegionSize = 4 * 1024 * 1024

	ee := &fakeEE{}

	h, err := New(cfg, 16*cfg.RegionSize, ee, fakeMethodTableOf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return h, ee
}

func TestNewSeedsGen0(t *testing.T) {
	h, _ := newTestHeap(t)

	if h.gens.Entry(region.Gen0).StartRegion() == nil {
		t.Fatalf("expected gen0 to have a seeded region")
	}
}

func TestAllocObjectRegistersAndChargesBudget(t *testing.T) {
	h, _ := newTestHeap(t)

	before := h.gens.Entry(region.Gen0).Data().NewAllocation

	addr, err := h.AllocObject(region.Gen0, scalarMT, 0)
	if err != nil {
		t.Fatalf("AllocObject: %v", err)
	}

	if addr == 0 {
		t.Fatalf("expected nonzero address")
	}

	if !h.InHeap(addr) {
		t.Fatalf("allocated address should be InHeap")
	}

	if got := h.GenerationOf(addr); got != region.Gen0 {
		t.Fatalf("expected Gen0, got %v", got)
	}

	after := h.gens.Entry(region.Gen0).Data().NewAllocation
	if after >= before {
		t.Fatalf("expected allocation to debit budget: before=%d after=%d", before, after)
	}
}

func TestAllocObjectSpansMultipleRefills(t *testing.T) {
	h, _ := newTestHeap(t)

	var addrs []uintptr

	for i := 0; i < 4096; i++ {
		addr, err := h.AllocObject(region.Gen0, scalarMT, 0)
		if err != nil {
			t.Fatalf("AllocObject #%d: %v", i, err)
		}

		addrs = append(addrs, addr)
	}

	seen := make(map[uintptr]bool, len(addrs))
	for _, a := range addrs {
		if seen[a] {
			t.Fatalf("duplicate address %#x returned across allocations", a)
		}

		seen[a] = true
	}
}

func TestInHeapRejectsForeignAddress(t *testing.T) {
	h, _ := newTestHeap(t)

	if h.InHeap(0xdeadbeef) {
		t.Fatalf("address never reserved by this heap should not be InHeap")
	}
}

func TestCollectSweepsUnreachableObject(t *testing.T) {
	h, ee := newTestHeap(t)

	live, err := h.AllocObject(region.Gen0, scalarMT, 0)
	if err != nil {
		t.Fatalf("AllocObject live: %v", err)
	}

	dead, err := h.AllocObject(region.Gen0, scalarMT, 0)
	if err != nil {
		t.Fatalf("AllocObject dead: %v", err)
	}

	ee.stackRoots = []uintptr{live}

	if _, err := h.Collect(ReasonInduced, region.Gen0); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if !h.objects.IsMarked(live) {
		// Collect clears marks at the *start* of the next cycle, not after
		// sweep, so the surviving object's mark bit is still set here.
		t.Fatalf("expected live object to remain marked after its own collection")
	}

	if _, ok := h.objects.objects[dead]; ok {
		t.Fatalf("expected unreachable object to be swept")
	}

	if _, ok := h.objects.objects[live]; !ok {
		t.Fatalf("expected reachable object to survive")
	}
}

func TestCollectFollowsReferenceChain(t *testing.T) {
	h, ee := newTestHeap(t)

	child, err := h.AllocObject(region.Gen0, scalarMT, 0)
	if err != nil {
		t.Fatalf("AllocObject child: %v", err)
	}

	parent, err := h.AllocObject(region.Gen0, refMT, 0)
	if err != nil {
		t.Fatalf("AllocObject parent: %v", err)
	}

	h.objects.setRefs(parent, []uintptr{child})
	ee.stackRoots = []uintptr{parent}

	if _, err := h.Collect(ReasonInduced, region.Gen0); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if _, ok := h.objects.objects[child]; !ok {
		t.Fatalf("expected child reachable through parent's ref to survive")
	}
}

func TestMovePlugRetagsRegistryKeys(t *testing.T) {
	h, _ := newTestHeap(t)

	addr, err := h.AllocObject(region.Gen0, scalarMT, 0)
	if err != nil {
		t.Fatalf("AllocObject: %v", err)
	}

	newAddr := addr + 256

	if err := h.MovePlug(addr, newAddr, 16); err != nil {
		t.Fatalf("MovePlug: %v", err)
	}

	if _, ok := h.objects.objects[addr]; ok {
		t.Fatalf("old address should no longer be registered after MovePlug")
	}

	o, ok := h.objects.objects[newAddr]
	if !ok {
		t.Fatalf("expected object registered at new address after MovePlug")
	}

	if !o.header.Has(objheader.BitRelocated) {
		t.Fatalf("expected relocated object to carry BitRelocated")
	}
}

func TestCopyCardsMovesSetBitAndClearsSource(t *testing.T) {
	h, _ := newTestHeap(t)

	addr, err := h.AllocObject(region.Gen0, scalarMT, 0)
	if err != nil {
		t.Fatalf("AllocObject: %v", err)
	}

	h.barrier.Mark(addr, addr, addr)

	newAddr := addr + 4096 // a full card's worth away, so CopyCards has distinct source/dest cards

	h.CopyCards(addr, newAddr, 16)

	if h.cards.IsSet(addr) {
		t.Fatalf("expected source card cleared after CopyCards")
	}

	if !h.cards.IsSet(newAddr) {
		t.Fatalf("expected destination card set after CopyCards")
	}
}

func TestNoGCRegionBudget(t *testing.T) {
	h, _ := newTestHeap(t)

	ok, err := h.TryStartNoGCRegion(32)
	if err != nil || !ok {
		t.Fatalf("TryStartNoGCRegion: ok=%v err=%v", ok, err)
	}

	if _, err := h.TryStartNoGCRegion(32); err == nil {
		t.Fatalf("expected nested TryStartNoGCRegion to fail")
	}

	if exhausted := h.chargeNoGCBudget(16); exhausted {
		t.Fatalf("16/32 should not exhaust budget")
	}

	if exhausted := h.chargeNoGCBudget(20); !exhausted {
		t.Fatalf("36/32 should exhaust budget")
	}

	h.EndNoGCRegion()

	if h.InNoGCRegion() {
		t.Fatalf("expected InNoGCRegion false after EndNoGCRegion")
	}
}

func TestAllocObjectThrottlesUOHDuringConcurrentBGC(t *testing.T) {
	h, _ := newTestHeap(t)

	if err := h.bgc.Enter(nil); err != nil {
		t.Fatalf("bgc.Enter: %v", err)
	}

	if !h.bgc.Concurrent() {
		t.Fatalf("expected bgc.Concurrent() true after Enter")
	}

	addr, err := h.AllocObject(region.GenLOH, scalarMT, 0)
	if err != nil {
		t.Fatalf("AllocObject: %v", err)
	}

	if addr == 0 {
		t.Fatalf("expected nonzero address")
	}

	size := uint64(objheader.Size(scalarMT, 0))
	if got := h.bgc.UOHGrowth(); got != int64(size) {
		t.Fatalf("expected ThrottledAlloc to record %d bytes of UOH growth, got %d", size, got)
	}

	// Gen0 allocations never go through UOH throttling, concurrent BGC or not.
	if _, err := h.AllocObject(region.Gen0, scalarMT, 0); err != nil {
		t.Fatalf("AllocObject gen0: %v", err)
	}

	if got := h.bgc.UOHGrowth(); got != int64(size) {
		t.Fatalf("expected gen0 allocation not to add UOH growth, got %d", got)
	}
}

func TestDecideCondemnedGenerationElevatesGen1UnderMemoryPressure(t *testing.T) {
	cfg := gcconfig.Default()
	cfg.RegionSize = 1024 * 1024

	ee := &fakeEE{}

	h, err := New(cfg, 5*cfg.RegionSize, ee, fakeMethodTableOf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// gen0's seeded region already accounts for 1 of the 5 total region
	// units; grab 3 more directly so VAMemoryLoadPercent crosses the
	// tuner's default 80% HighMemoryLoadThreshold.
	for i := 0; i < 3; i++ {
		if _, err := h.regions.AllocateBasicRegion(region.GenLOH); err != nil {
			t.Fatalf("AllocateBasicRegion #%d: %v", i, err)
		}
	}

	if got := h.DecideCondemnedGeneration(region.Gen1); got != region.Gen2 {
		t.Fatalf("expected a gen1 request to elevate to gen2 under memory pressure, got %v", got)
	}

	if got := h.DecideCondemnedGeneration(region.Gen0); got != region.Gen0 {
		t.Fatalf("expected a gen0 request to pass through unchanged, got %v", got)
	}
}

func TestCollectAppliesElevationToActualCondemnedMax(t *testing.T) {
	cfg := gcconfig.Default()
	cfg.RegionSize = 1024 * 1024

	ee := &fakeEE{}

	h, err := New(cfg, 5*cfg.RegionSize, ee, fakeMethodTableOf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := h.regions.AllocateBasicRegion(region.GenLOH); err != nil {
			t.Fatalf("AllocateBasicRegion #%d: %v", i, err)
		}
	}

	stats, err := h.Collect(ReasonInduced, region.Gen1)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if stats.CondemnedMax != region.Gen2 {
		t.Fatalf("expected Collect to condemn gen2 after elevation, got %v", stats.CondemnedMax)
	}
}

func TestGCStressLevelTriggersSynchronousCollect(t *testing.T) {
	cfg := gcconfig.Default()
	cfg.RegionSize = 4 * 1024 * 1024
	cfg.GCStressLevel = 4

	ee := &fakeEE{}

	h, err := New(cfg, 16*cfg.RegionSize, ee, fakeMethodTableOf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := h.AllocObject(region.Gen0, scalarMT, 0); err != nil {
			t.Fatalf("AllocObject #%d: %v", i, err)
		}
	}

	if h.stressAllocCount != 4 {
		t.Fatalf("expected stressAllocCount 4, got %d", h.stressAllocCount)
	}
	// the 4th allocation (stressAllocCount %% GCStressLevel == 0) should
	// have driven a synchronous collection through the fake EE.
	if got := h.history.Snapshot(); len(got) != 0 {
		t.Fatalf("unexpected OOM/corruption history from stress collection: %v", got)
	}

	if got := h.metrics.Snapshot().Global.InducedCollections; got != 1 {
		t.Fatalf("expected the 4th allocation to drive one induced collection, got %d", got)
	}
}

func TestSetLatencyModeRejectsNoGCWithConcurrent(t *testing.T) {
	h, _ := newTestHeap(t)

	h.config.ConcurrentGC = true

	if err := h.SetLatencyMode(gcconfig.LatencyNoGC); err == nil {
		t.Fatalf("expected SetLatencyMode(LatencyNoGC) to fail with ConcurrentGC set")
	}

	if err := h.SetLatencyMode(gcconfig.LatencyLowLatency); err != nil {
		t.Fatalf("SetLatencyMode(LatencyLowLatency): %v", err)
	}

	if h.config.LatencyMode != gcconfig.LatencyLowLatency {
		t.Fatalf("expected config.LatencyMode updated, got %v", h.config.LatencyMode)
	}
}
