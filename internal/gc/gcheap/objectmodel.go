package gcheap

import (
	"sort"
	"sync"

	"github.com/orizon-lang/orizon-gc/internal/gc/cardtable"
	"github.com/orizon-lang/orizon-gc/internal/gc/objheader"
	"github.com/orizon-lang/orizon-gc/internal/gc/plan"
	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

// object is one live entry in the heap's object registry: the header bits
// and method table every object carries (spec §3 "Heap object"), plus the
// bookkeeping gcheap itself needs (owning region, current size, resolved
// reference addresses) that would otherwise live in mutator-managed memory.
// Mutator object layout beyond header/method-table is explicitly out of
// scope (spec §1 Non-goals), so this registry stands in for "real" heap
// memory throughout this module.
type object struct {
	header objheader.Header
	size   uintptr
	region *region.Region
	refs   []uintptr // resolved reference-field targets, in SlotOffsets order
}

// objectModel is gcheap's production implementation of mark.ObjectModel,
// plan.LiveObjectSource, plan.RefSource, mark.CardScanner, and the
// ObjectQuery interfaces finalizer.Queue/handle.Table require. It
// generalizes the fakeObjectModel test fixture used throughout
// internal/gc/mark's tests into a real, concurrency-safe store: a
// map[uintptr]*object guarded by a single mutex, exactly the shape the test
// fake already established, but carrying the full header/size/region state
// a real heap facade needs instead of only gens/refs/marked.
type objectModel struct {
	mu      sync.Mutex
	objects map[uintptr]*object
	cards   *cardtable.Table
}

func newObjectModel(cards *cardtable.Table) *objectModel {
	return &objectModel{objects: make(map[uintptr]*object), cards: cards}
}

// register records a freshly allocated object, called by Heap.AllocObject
// once the region/allocation-context bump has reserved its bytes.
func (m *objectModel) register(addr uintptr, header objheader.Header, size uintptr, r *region.Region) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[addr] = &object{header: header, size: size, region: r}
}

// forget removes addr from the registry, called by Heap.sweepDead for every
// condemned object left unmarked after a collection.
func (m *objectModel) forget(addr uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, addr)
}

// setRefs replaces addr's resolved reference set, called by the EE
// collaborator (via Heap) whenever a field store the write barrier
// witnessed needs to be reflected for the next mark, and by
// Heap.relocateSurvivingRefs after plan adjusts every stored pointer.
func (m *objectModel) setRefs(addr uintptr, refs []uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o, ok := m.objects[addr]; ok {
		o.refs = refs
	}
}

// addrsInRange returns every registered object address in [start, end),
// used by Heap.MovePlug to find which registry entries a relocating plug
// covers without reaching into the registry's internals.
func (m *objectModel) addrsInRange(start, end uintptr) []uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []uintptr

	for addr := range m.objects {
		if addr >= start && addr < end {
			out = append(out, addr)
		}
	}

	return out
}

// allAddrs returns every currently-registered object address, used by
// Heap.Collect to drive plan.Relocate's field-fixup pass across the whole
// registry rather than just the regions being compacted (a moved plug's new
// address can be referenced from any surviving object, not only ones in the
// same region).
func (m *objectModel) allAddrs() []uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]uintptr, 0, len(m.objects))
	for addr := range m.objects {
		out = append(out, addr)
	}

	return out
}

// relocate moves addr's registry entry to newAddr, called by Heap's
// plan.Mover implementation once the underlying bytes have been copied.
func (m *objectModel) relocate(addr, newAddr uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.objects[addr]
	if !ok {
		return
	}

	delete(m.objects, addr)
	o.header.SetBits(objheader.BitRelocated)
	m.objects[newAddr] = o
}

// describe returns addr's size and pinned bit, for Heap.Snapshot.
func (m *objectModel) describe(addr uintptr) (size uintptr, pinned bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.objects[addr]
	if !ok {
		return 0, false
	}

	return o.size, o.header.Has(objheader.BitPinned)
}

// GenerationOf implements mark.ObjectModel / handle.ObjectQuery /
// finalizer.ObjectQuery.
func (m *objectModel) GenerationOf(addr uintptr) region.Generation {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o, ok := m.objects[addr]; ok && o.region != nil {
		return o.region.Generation()
	}

	return region.Gen0
}

// TryMark implements mark.ObjectModel: first marker wins.
func (m *objectModel) TryMark(addr uintptr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.objects[addr]
	if !ok || o.header.Has(objheader.BitMarked) {
		return false
	}

	o.header.SetBits(objheader.BitMarked)

	return true
}

// IsMarked implements mark.ObjectModel / handle.ObjectQuery /
// finalizer.ObjectQuery.
func (m *objectModel) IsMarked(addr uintptr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.objects[addr]

	return ok && o.header.Has(objheader.BitMarked)
}

// clearMark drops addr's mark bit, called at the start of the next
// collection that condemns addr's generation.
func (m *objectModel) clearMark(addr uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o, ok := m.objects[addr]; ok {
		o.header.ClearBits(objheader.BitMarked)
	}
}

// VisitRefs implements mark.ObjectModel / plan.RefSource.
func (m *objectModel) VisitRefs(addr uintptr, visit func(ref uintptr)) {
	m.mu.Lock()
	o, ok := m.objects[addr]

	var refs []uintptr
	if ok {
		refs = append(refs, o.refs...)
	}

	m.mu.Unlock()

	for _, r := range refs {
		visit(r)
	}
}

// LiveObjects implements plan.LiveObjectSource: every currently-registered,
// currently-marked object owned by r, in ascending address order. Plan
// requires ascending order to build adjacent plugs correctly (spec §4.5.4).
func (m *objectModel) LiveObjects(r *region.Region) []plan.LiveObject {
	m.mu.Lock()
	defer m.mu.Unlock()

	var addrs []uintptr

	for addr, o := range m.objects {
		if o.region == r && o.header.Has(objheader.BitMarked) {
			addrs = append(addrs, addr)
		}
	}

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	out := make([]plan.LiveObject, 0, len(addrs))
	for _, addr := range addrs {
		o := m.objects[addr]
		out = append(out, plan.LiveObject{
			Addr: addr, Size: o.size, Pinned: o.header.Has(objheader.BitPinned),
		})
	}

	return out
}

// ScanSetCards implements mark.CardScanner by walking every registered
// object and checking whether its card is set and any reference it holds
// falls inside [condemnedMin, condemnedMax]. This is an O(objects)-per-scan
// approach rather than a true card->objects index (DESIGN.md's "card scan
// bridge" decision): building and maintaining a reverse index is more
// machinery than this engine's scope needs, and the remembered set is
// already restricted to set cards, which in steady state is a small
// fraction of the heap.
func (m *objectModel) ScanSetCards(condemnedMin, condemnedMax region.Generation, visit func(ref uintptr)) {
	m.mu.Lock()

	type hit struct {
		addr uintptr
		refs []uintptr
	}

	var hits []hit

	for addr, o := range m.objects {
		if !m.cards.IsSet(addr) {
			continue
		}

		hits = append(hits, hit{addr: addr, refs: append([]uintptr(nil), o.refs...)})
	}

	m.mu.Unlock()

	for _, h := range hits {
		for _, ref := range h.refs {
			g := m.GenerationOf(ref)
			if g >= condemnedMin && g <= condemnedMax {
				visit(ref)
			}
		}
	}
}

