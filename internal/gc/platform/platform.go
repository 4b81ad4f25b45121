// Package platform is the OS/platform shim (C1): VA reserve/commit/decommit,
// high-resolution clock, and write-watch. It is the collector's only direct
// syscall surface; everything above it (region, galloc, bgc) talks to
// memory purely in terms of the Memory interface below.
//
// Grounded on internal/runtime/asyncio's build-tag-per-OS poller split
// (kqueue_poller_bsd.go / iocp_poller_windows.go): this package follows the
// same shape — a platform-neutral interface in this file, one
// golang.org/x/sys-backed implementation per OS in platform_unix.go /
// platform_windows.go.
package platform

import "time"

// Protection is the access permission requested for a committed range.
type Protection int

const (
	ProtNone Protection = iota
	ProtReadWrite
	ProtRead
)

// Memory is the VM surface the region allocator (C2) is built on.
type Memory interface {
	// Reserve reserves size bytes of address space without committing
	// physical storage, returning the base address.
	Reserve(size uintptr) (uintptr, error)
	// Commit makes [base, base+size) accessible with prot, backing it with
	// physical storage (or swap).
	Commit(base, size uintptr, prot Protection) error
	// Decommit releases physical storage for [base, base+size) but keeps
	// the address range reserved.
	Decommit(base, size uintptr) error
	// Release gives back a range previously returned by Reserve in its
	// entirety.
	Release(base, size uintptr) error
	// ProtectReadOnly marks a committed range read-only and arms it for
	// write-watch fault interception; writes are observed via PollDirty.
	ProtectReadOnly(base, size uintptr) error
	// ResetWriteWatch clears the dirty-page log for a range that was armed
	// with ProtectReadOnly, without removing the protection.
	ResetWriteWatch(base, size uintptr) error
	// PollDirty returns the page-aligned addresses written to since the
	// range was last armed or polled.
	PollDirty(base, size uintptr) ([]uintptr, error)
}

// Clock is the high-resolution clock used for GC pause timing and dynamic
// tuning. Abstracted so tests can substitute a fake without wall-clock
// flakiness.
type Clock interface {
	NowNanos() int64
}

// SystemClock is the default Clock, backed by time.Now().
type SystemClock struct{}

// NowNanos returns the current wall-clock time in nanoseconds since the
// Unix epoch.
func (SystemClock) NowNanos() int64 { return time.Now().UnixNano() }

// PageSize is the platform's native page size, used to align region commits.
func PageSize() uintptr { return pageSize() }
