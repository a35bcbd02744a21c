package sched

import "sync"

// InterruptLevel is a scoped critical-section guard standing in for
// masking the timer (and equivalent) interrupts on the original kernel's
// single hardware execution context. All mutations of shared scheduler
// state — the process table, the run ring, the dispose queue, and any
// process's wait-queue links — must happen while elevated.
//
// On the original uniprocessor hardware, elevation is just a CPU flag: one
// elevate/recover pair per logical flow, free to nest because nothing else
// can run while interrupts are masked. This Go port has genuine concurrent
// goroutines (one per process, see lifecycle.go), so elevation is backed by
// a real, non-reentrant mutex: elevations do not nest, and a second
// Elevate before the matching Recover blocks. A call chain that needs the
// guard across a park (e.g. Suspend handing off to yieldLocked while still
// elevated) passes its SavedLevel down instead, and the guard is released
// right before the calling goroutine parks — see SavedLevel.
type InterruptLevel struct {
	mu sync.Mutex
}

// SavedLevel is the token returned by Elevate. It is safe to pass to
// Recover more than once; only the first call has effect. This idempotency
// is what lets Yield release the guard early (right before parking the
// calling goroutine) while the caller's own deferred/explicit Recover call
// later remains harmless.
type SavedLevel struct {
	level    *InterruptLevel
	released bool
}

// Elevate disables preemption (masks the guard) and returns a token that
// must eventually be passed to Recover.
func (l *InterruptLevel) Elevate() *SavedLevel {
	l.mu.Lock()
	return &SavedLevel{level: l}
}

// Recover restores the level saved by the matching Elevate call. Safe to
// call multiple times on the same token; only the first call unlocks.
func (s *SavedLevel) Recover() {
	if s == nil || s.released {
		return
	}
	s.released = true
	s.level.mu.Unlock()
}
