package sched

import "errors"

// Error taxonomy for the scheduler. None of these unwind the call stack —
// every operation that can fail returns one of these as an ordinary error
// value (or, for handle-resolution failures, simply a zero/invalid result).
var (
	// ErrNoSlot is returned by MakeNewProcess when the process table is
	// full.
	ErrNoSlot = errors.New("sched: process table is full")

	// ErrOutOfMemory is returned by MakeNewProcess when any of the four
	// allocations it performs (process object, kernel stack, arch state,
	// extended state) fails. Earlier allocations are rolled back before
	// this is returned.
	ErrOutOfMemory = errors.New("sched: out of memory allocating process")

	// ErrStaleHandle is returned by GetProcessData when a handle no longer
	// resolves (its slot is empty or its generation no longer matches the
	// slot's current generation). Resume and Suspend treat such a handle
	// as a silent no-op and return nothing.
	ErrStaleHandle = errors.New("sched: stale process handle")

	// ErrNoChildren is returned by WaitForChildTermination when the
	// calling process has no live or zombie children.
	ErrNoChildren = errors.New("sched: process has no children")

	// ErrBootstrapFailed is returned by Init only when the kernel process
	// itself could not be created — every other bootstrap sub-step
	// failure is logged and treated as a degraded-but-running kernel.
	ErrBootstrapFailed = errors.New("sched: failed to bootstrap kernel process")
)
