//go:build unix

package platform

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// unixMemory implements Memory via mmap/mprotect/munmap, following the
// syscall-sequence style of asyncio's kqueue_poller_bsd.go (direct
// golang.org/x/sys/unix calls, errors wrapped with fmt.Errorf at the call
// site rather than propagated raw).
type unixMemory struct {
	mu      sync.Mutex
	watched map[uintptr]*watchRange // base -> armed write-watch range
}

type watchRange struct {
	size  uintptr
	dirty map[uintptr]bool // page-aligned addresses touched since last poll
}

// NewMemory returns the host-backed Memory implementation.
func NewMemory() Memory {
	return &unixMemory{watched: make(map[uintptr]*watchRange)}
}

func pageSize() uintptr { return uintptr(unix.Getpagesize()) }

func (m *unixMemory) Reserve(size uintptr) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, fmt.Errorf("platform: reserve %d bytes: %w", size, err)
	}

	return uintptr(unsafe.Pointer(&b[0])), nil
}

func (m *unixMemory) Commit(base, size uintptr, prot Protection) error {
	p := unixProt(prot)
	if err := mprotectAt(base, size, p); err != nil {
		return fmt.Errorf("platform: commit [%#x,%#x): %w", base, base+size, err)
	}

	return nil
}

func (m *unixMemory) Decommit(base, size uintptr) error {
	if err := mprotectAt(base, size, unix.PROT_NONE); err != nil {
		return fmt.Errorf("platform: decommit [%#x,%#x): %w", base, base+size, err)
	}
	// MADV_DONTNEED lets the kernel reclaim physical pages immediately
	// rather than waiting for memory pressure, matching the "decommit
	// unneeded committed pages" behavior spec §4.5.7 expects post-compact.
	_ = madviseAt(base, size, unix.MADV_DONTNEED)

	return nil
}

func (m *unixMemory) Release(base, size uintptr) error {
	s := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	if err := unix.Munmap(s); err != nil {
		return fmt.Errorf("platform: release [%#x,%#x): %w", base, base+size, err)
	}

	m.mu.Lock()
	delete(m.watched, base)
	m.mu.Unlock()

	return nil
}

func (m *unixMemory) ProtectReadOnly(base, size uintptr) error {
	if err := mprotectAt(base, size, unix.PROT_READ); err != nil {
		return fmt.Errorf("platform: protect-read-only [%#x,%#x): %w", base, base+size, err)
	}

	m.mu.Lock()
	m.watched[base] = &watchRange{size: size, dirty: make(map[uintptr]bool)}
	m.mu.Unlock()

	return nil
}

func (m *unixMemory) ResetWriteWatch(base, size uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.watched[base]; ok {
		w.dirty = make(map[uintptr]bool)
	}

	return nil
}

// PollDirty returns pages marked dirty by MarkWritten (the SIGSEGV/SIGBUS
// handler installed by the mutator-runtime collaborator calls MarkWritten
// once it resolves a write fault on a watched page; this package only
// tracks state, it does not install the signal handler itself, which lives
// in the collaborator per spec §6's EE boundary).
func (m *unixMemory) PollDirty(base, size uintptr) ([]uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.watched[base]
	if !ok {
		return nil, nil
	}

	out := make([]uintptr, 0, len(w.dirty))
	for page := range w.dirty {
		out = append(out, page)
	}

	w.dirty = make(map[uintptr]bool)

	return out, nil
}

// MarkWritten records a write fault observed by the collaborator's fault
// handler for the watched range containing addr.
func (m *unixMemory) MarkWritten(addr uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := pageSize()
	page := addr &^ (ps - 1)

	for base, w := range m.watched {
		if page >= base && page < base+w.size {
			w.dirty[page] = true
			return
		}
	}
}

func unixProt(p Protection) int {
	switch p {
	case ProtReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE
	case ProtRead:
		return unix.PROT_READ
	default:
		return unix.PROT_NONE
	}
}

func mprotectAt(base, size uintptr, prot int) error {
	s := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	return unix.Mprotect(s, prot)
}

func madviseAt(base, size uintptr, advice int) error {
	s := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	return unix.Madvise(s, advice)
}

// NowNanosUnix is used by tests that want the real clock tick granularity
// unix.ClockGettime exposes (monotonic clock), continuing the teacher's
// direct-syscall style rather than going through time.Now() everywhere.
func NowNanosUnix() (int64, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, err
	}

	return ts.Nano(), nil
}
