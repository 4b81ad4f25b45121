//go:build unix

package platform

import (
	"testing"
	"unsafe"
)

func TestReserveCommitRoundtrip(t *testing.T) {
	m := NewMemory()

	size := 4 * PageSize()

	base, err := m.Reserve(size)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if err := m.Commit(base, size, ProtReadWrite); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	p := (*byte)(unsafe.Pointer(base))
	*p = 0x42

	if got := *p; got != 0x42 {
		t.Fatalf("wrote 0x42, read back %#x", got)
	}

	if err := m.Decommit(base, size); err != nil {
		t.Fatalf("Decommit: %v", err)
	}

	if err := m.Release(base, size); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestWriteWatch(t *testing.T) {
	m := NewMemory().(*unixMemory)

	size := 2 * PageSize()

	base, err := m.Reserve(size)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if err := m.Commit(base, size, ProtReadWrite); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := m.ProtectReadOnly(base, size); err != nil {
		t.Fatalf("ProtectReadOnly: %v", err)
	}

	// Simulate the collaborator's fault handler observing a write to the
	// first watched page.
	m.MarkWritten(base)

	dirty, err := m.PollDirty(base, size)
	if err != nil {
		t.Fatalf("PollDirty: %v", err)
	}

	if len(dirty) != 1 || dirty[0] != base {
		t.Fatalf("expected exactly [%#x] dirty, got %v", base, dirty)
	}

	if err := m.ResetWriteWatch(base, size); err != nil {
		t.Fatalf("ResetWriteWatch: %v", err)
	}

	dirty, err = m.PollDirty(base, size)
	if err != nil {
		t.Fatalf("PollDirty after reset: %v", err)
	}

	if len(dirty) != 0 {
		t.Fatalf("expected no dirty pages after reset, got %v", dirty)
	}

	_ = m.Release(base, size)
}
