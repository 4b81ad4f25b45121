package region

import "testing"

func TestRunMapTakeAndFree(t *testing.T) {
	m := newRunMap(10)

	idx := m.findForward(4)
	if idx != 0 {
		t.Fatalf("expected index 0, got %d", idx)
	}

	off := m.take(idx, 4, false)
	if off != 0 {
		t.Fatalf("expected offset 0, got %d", off)
	}

	if got := m.freeUnits(); got != 6 {
		t.Fatalf("expected 6 free units, got %d", got)
	}

	idx2 := m.findForward(6)
	if idx2 < 0 {
		t.Fatalf("expected to find remaining 6 units")
	}

	off2 := m.take(idx2, 6, false)
	if off2 != 4 {
		t.Fatalf("expected offset 4, got %d", off2)
	}

	if got := m.freeUnits(); got != 0 {
		t.Fatalf("expected 0 free units, got %d", got)
	}

	if !m.free(0) {
		t.Fatalf("free(0) should succeed")
	}

	if got := m.freeUnits(); got != 4 {
		t.Fatalf("expected 4 free units after freeing first run, got %d", got)
	}

	if !m.free(4) {
		t.Fatalf("free(4) should succeed")
	}

	m.coalesce()

	if len(m.runs) != 1 || !m.runs[0].free || m.runs[0].length != 10 {
		t.Fatalf("expected fully coalesced single free run, got %v", m.runs)
	}
}

func TestRunMapFreeUnknownOffset(t *testing.T) {
	m := newRunMap(10)

	if m.free(3) {
		t.Fatalf("free of an offset that isn't a busy run start should fail")
	}
}

func TestRunMapBackwardDirection(t *testing.T) {
	m := newRunMap(10)

	idx := m.findBackward(3)
	if idx != 0 {
		t.Fatalf("expected single free run at index 0, got %d", idx)
	}

	off := m.take(idx, 3, true)
	if off != 7 {
		t.Fatalf("expected tail offset 7, got %d", off)
	}

	if got := m.freeUnits(); got != 7 {
		t.Fatalf("expected 7 free units remaining, got %d", got)
	}

	// the busy run should now sit at the tail, free run at the front
	if len(m.runs) != 2 || m.runs[0].free == false || m.runs[1].free != false {
		t.Fatalf("unexpected run layout: %v", m.runs)
	}
}

func TestRunMapDoubleFreeRejected(t *testing.T) {
	m := newRunMap(8)

	idx := m.findForward(4)
	off := m.take(idx, 4, false)

	if !m.free(off) {
		t.Fatalf("first free should succeed")
	}

	if m.free(off) {
		t.Fatalf("double free of the same offset should fail")
	}
}
