//go:build windows

package platform

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsMemory implements Memory via VirtualAlloc/VirtualProtect/VirtualFree,
// mirroring asyncio/iocp_poller_windows.go's direct golang.org/x/sys/windows
// usage (including the lazy-DLL pattern for APIs x/sys/windows doesn't wrap
// directly, e.g. GetWriteWatch/ResetWriteWatch).
type windowsMemory struct {
	mu      sync.Mutex
	watched map[uintptr]uintptr // base -> size, for ranges armed via ProtectReadOnly
}

var (
	kernel32            = windows.NewLazySystemDLL("kernel32.dll")
	procGetWriteWatch   = kernel32.NewProc("GetWriteWatch")
	procResetWriteWatch = kernel32.NewProc("ResetWriteWatch")
)

const writeWatchFlagReset = 1

// NewMemory returns the host-backed Memory implementation.
func NewMemory() Memory {
	return &windowsMemory{watched: make(map[uintptr]uintptr)}
}

func pageSize() uintptr {
	var si windows.SystemInfo
	windows.GetSystemInfo(&si)

	return uintptr(si.PageSize)
}

func (m *windowsMemory) Reserve(size uintptr) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return 0, fmt.Errorf("platform: reserve %d bytes: %w", size, err)
	}

	return addr, nil
}

func (m *windowsMemory) Commit(base, size uintptr, prot Protection) error {
	_, err := windows.VirtualAlloc(base, size, windows.MEM_COMMIT, windowsProt(prot))
	if err != nil {
		return fmt.Errorf("platform: commit [%#x,%#x): %w", base, base+size, err)
	}

	return nil
}

func (m *windowsMemory) Decommit(base, size uintptr) error {
	if err := windows.VirtualFree(base, size, windows.MEM_DECOMMIT); err != nil {
		return fmt.Errorf("platform: decommit [%#x,%#x): %w", base, base+size, err)
	}

	return nil
}

func (m *windowsMemory) Release(base, size uintptr) error {
	if err := windows.VirtualFree(base, 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("platform: release [%#x,%#x): %w", base, base+size, err)
	}

	m.mu.Lock()
	delete(m.watched, base)
	m.mu.Unlock()

	return nil
}

func (m *windowsMemory) ProtectReadOnly(base, size uintptr) error {
	var old uint32
	if err := windows.VirtualProtect(base, size, windows.PAGE_READONLY, &old); err != nil {
		return fmt.Errorf("platform: protect-read-only [%#x,%#x): %w", base, base+size, err)
	}

	m.mu.Lock()
	m.watched[base] = size
	m.mu.Unlock()

	return nil
}

func (m *windowsMemory) ResetWriteWatch(base, size uintptr) error {
	ret, _, _ := procResetWriteWatch.Call(base, size)
	if ret != 0 {
		return fmt.Errorf("platform: ResetWriteWatch failed: %#x", ret)
	}

	return nil
}

func (m *windowsMemory) PollDirty(base, size uintptr) ([]uintptr, error) {
	const maxAddrs = 4096

	addrs := make([]uintptr, maxAddrs)
	count := uintptr(maxAddrs)

	var granularity uintptr

	ret, _, _ := procGetWriteWatch.Call(
		uintptr(writeWatchFlagReset),
		base, size,
		uintptr(unsafe.Pointer(&addrs[0])),
		uintptr(unsafe.Pointer(&count)),
		uintptr(unsafe.Pointer(&granularity)),
	)
	if ret != 0 {
		return nil, fmt.Errorf("platform: GetWriteWatch failed: %#x", ret)
	}

	return addrs[:count], nil
}

func windowsProt(p Protection) uint32 {
	switch p {
	case ProtReadWrite:
		return windows.PAGE_READWRITE
	case ProtRead:
		return windows.PAGE_READONLY
	default:
		return windows.PAGE_NOACCESS
	}
}
