package gcheap

import (
	"github.com/orizon-lang/orizon-gc/internal/gc/objheader"
)

// EECallbacks is the collaborator boundary to the execution environment
// (spec §6 "Boundary to the execution environment"). The mutator runtime
// that embeds this collector supplies one implementation; internal/gc/gcmock
// provides a hand-written fake for tests. Thread creation and stack-walking
// machinery themselves stay out of scope (spec §1 Non-goals) — only the
// root-enumeration and finalizer-invocation callbacks that cross the
// collector/EE boundary are modeled here.
type EECallbacks interface {
	// SuspendEE stops every mutator thread at a GC-safe point (spec §4.5.2).
	SuspendEE()
	// RestartEE resumes mutator threads suspended by SuspendEE.
	RestartEE()
	// EnumerateStackRoots calls push once per live stack/register root
	// across all suspended mutator threads.
	EnumerateStackRoots(push func(root uintptr))
	// EnumerateStaticRoots calls push once per live static/global root.
	EnumerateStaticRoots(push func(root uintptr))
	// InvokeFinalizer runs obj's finalizer on the finalizer thread. Errors
	// and panics inside the mutator's finalizer are the EE's concern, not
	// the collector's (spec §1: mutator object layout and behavior beyond
	// header/method-table is out of scope).
	InvokeFinalizer(obj uintptr)
	// LogError reports a non-fatal collector diagnostic to the EE's own log
	// sink, in addition to internal/gc/gclog.
	LogError(msg string)
	// HandleFatalError reports an unrecoverable collector error (e.g.
	// heap corruption) and does not return control to the collector.
	HandleFatalError(code int)
}

// MethodTableOf resolves obj's type for scan_object_references (spec §6).
// Supplied separately from EECallbacks since it is a pure lookup (no EE
// side effects), letting internal/gc/gcmock fake roots and method tables
// independently.
type MethodTableOf func(obj uintptr) *objheader.MethodTable
