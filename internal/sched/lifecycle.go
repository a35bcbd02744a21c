package sched

import "runtime"

// This file implements the process lifecycle: creation, resume, suspend,
// yield, exit, and reaping a terminated child.
//
// Concurrency model: each non-kernel Process owns a goroutine, launched
// lazily the first time it is about to receive the CPU, and a capacity-1
// "wake" channel that acts as the context-switch baton. At any instant
// exactly one such goroutine is unparked past its own `<-p.wake` receive,
// and that process is always the one RunRing's cursor names. The kernel
// (bootstrap) process is the one exception: it has no dedicated goroutine,
// because it simply *is* whatever goroutine called Init and continues to
// call into the scheduler (the boot CPU's own continued execution, never
// spawned by anything).
//
// yieldLocked is the common engine behind Yield, the self-suspend branch
// of Suspend, the blocking branch of WaitForChildTermination, and Exit's
// final step. It must be called while still elevated; it releases the
// elevation itself, right before the calling goroutine parks (or, for a
// terminating caller, right before the goroutine is abandoned) — matching
// the original's "yield, then recover once back on track" shape while
// never holding the real mutex across a park.

// MakeNewProcess performs the four allocations a new process needs
// (process object, kernel stack, arch state, extended state), rolling back
// whatever already succeeded on first failure, then claims a table slot,
// zeroes the arch state, and links the child into parent's childCount if
// parent resolves.
//
// entry is this port's stand-in for the out-of-scope ISR trampoline
// seeding the new process's instruction pointer; it runs on the process's
// own goroutine, the first time it is scheduled. entry may be nil for a
// process meant only to occupy a slot (tests of table/ring/queue mechanics
// that never actually dispatch it).
func (s *Scheduler) MakeNewProcess(parent ProcessHandle, entry func(self ProcessHandle)) (ProcessHandle, error) {
	kernelStack, ok := s.heap.Alloc(KernelStackSize)
	if !ok {
		return InvalidHandle, ErrOutOfMemory
	}
	processState, ok := s.heap.Alloc(ArchStateSize)
	if !ok {
		s.heap.Free(kernelStack)
		return InvalidHandle, ErrOutOfMemory
	}
	extendedState, ok := s.heap.Alloc(ExtStateSize)
	if !ok {
		s.heap.Free(processState)
		s.heap.Free(kernelStack)
		return InvalidHandle, ErrOutOfMemory
	}

	if !isAligned(extendedState, ExtStateAlign) {
		s.log.ErrorMsg("proc", "extended state allocation is not 16-byte aligned")
	}
	for i := range processState {
		processState[i] = 0
	}

	p := &Process{
		ppid:          parent,
		kernelStack:   kernelStack,
		processState:  processState,
		extendedState: extendedState,
		state:         Sleeping,
		entry:         entry,
		wake:          make(chan struct{}, 1),
	}

	saved := s.level.Elevate()

	handle, ok := s.table.allocateSlot(p)
	if !ok {
		saved.Recover()
		s.heap.Free(extendedState)
		s.heap.Free(processState)
		s.heap.Free(kernelStack)
		return InvalidHandle, ErrNoSlot
	}

	if parentProc, found := s.table.lookup(parent); found {
		parentProc.childCount++
	}

	saved.Recover()
	return handle, nil
}

// GetProcessID returns the handle of whichever process currently holds
// the CPU (the run ring's cursor).
func (s *Scheduler) GetProcessID() ProcessHandle {
	saved := s.level.Elevate()
	defer saved.Recover()
	return s.ring.Cursor().Handle()
}

// GetProcessData resolves h through the process table, returning
// ErrStaleHandle if h no longer names a live process (its slot was never
// allocated, or has since been released and possibly reused under a newer
// generation). The returned Process must not be mutated by callers outside
// the elevation-protected operations in this package.
func (s *Scheduler) GetProcessData(h ProcessHandle) (*Process, error) {
	saved := s.level.Elevate()
	defer saved.Recover()
	p, ok := s.table.lookup(h)
	if !ok {
		return nil, ErrStaleHandle
	}
	return p, nil
}

// resumeLocked transitions p to Running and splices it into the ring
// immediately after the cursor. Caller must already be elevated.
func (s *Scheduler) resumeLocked(p *Process) {
	p.state = Running
	s.ring.insertAfterCursor(p)
}

// Resume transitions the process named by h to Running and splices it
// into the ring after the cursor. A stale or unresolved handle is a
// silent no-op. Resuming an already-Running process is a caller error and
// will corrupt the ring.
func (s *Scheduler) Resume(h ProcessHandle) {
	saved := s.level.Elevate()
	p, ok := s.table.lookup(h)
	if !ok {
		saved.Recover()
		return
	}
	s.resumeLocked(p)
	saved.Recover()
}

// Suspend unlinks the process named by h from the run ring, optionally
// forcing its state to Sleeping. If h names the currently running
// process, this triggers an immediate context switch: the calling
// goroutine parks here and this call only returns once the process is
// rescheduled.
func (s *Scheduler) Suspend(h ProcessHandle, overrideState bool) {
	saved := s.level.Elevate()
	p, ok := s.table.lookup(h)
	if !ok {
		saved.Recover()
		return
	}
	if overrideState {
		p.state = Sleeping
	}
	s.ring.unlink(p)

	if p == s.ring.Cursor() {
		s.yieldLocked(saved, p, false)
		saved.Recover() // idempotent; mirrors the source's post-yield recover
		return
	}
	saved.Recover()
}

// SuspendSelf suspends the calling process.
func (s *Scheduler) SuspendSelf(overrideState bool) {
	s.Suspend(s.GetProcessID(), overrideState)
}

// Yield triggers an immediate preempt of the calling process, without
// otherwise touching its ring membership or state.
func (s *Scheduler) Yield() {
	saved := s.level.Elevate()
	self := s.ring.Cursor()
	s.yieldLocked(saved, self, false)
	saved.Recover()
}

// yieldLocked drives the timer-triggered preempt and the goroutine baton
// handoff that stands in for it returning control to whichever process
// the ring cursor now names. Caller must be elevated and must pass the
// process that was current before this call (captured before any ring
// mutation the caller itself performed).
//
// If terminating, the calling goroutine is not parked afterward — used
// only by Exit, whose calling goroutine is about to end.
func (s *Scheduler) yieldLocked(saved *SavedLevel, self *Process, terminating bool) {
	frame := make(Frame, ArchStateSize)
	s.timer.TriggerInterrupt(frame)
	next := s.ring.Cursor()

	if next == self {
		// Nothing else runnable to hand the CPU to; this can only
		// legitimately happen when self is still the sole ring member.
		saved.Recover()
		return
	}

	s.ensureStarted(next)
	saved.Recover()

	next.wake <- struct{}{}
	if !terminating {
		<-self.wake
	}
}

// ensureStarted launches p's goroutine the first time it is about to
// receive the CPU. Safe to call repeatedly; only the first call per
// process has effect.
func (s *Scheduler) ensureStarted(p *Process) {
	if p.started {
		return
	}
	p.started = true
	go s.runProcess(p)
}

// runProcess is the body of every non-kernel process's goroutine: park
// until handed the baton, run its entry point once, then exit with code
// 0 if entry returns on its own rather than calling Exit itself.
func (s *Scheduler) runProcess(p *Process) {
	<-p.wake
	if p.entry != nil {
		p.entry(p.pid)
	}

	saved := s.level.Elevate()
	alreadyExited := p.state == Zombie
	saved.Recover()

	if !alreadyExited {
		s.Exit(0)
	}
}

// Exit tears down the calling process: splices any zombies still on its
// own wait queue onto the dispose queue (they've lost their only reaper),
// records its return code and flips it to Zombie, releases its pid,
// reparents itself onto its parent's wait queue (waking the parent if it
// was blocked waiting) or straight onto the dispose queue if the parent is
// already gone, unlinks itself from the run ring, fires the exit hook if
// one is set, and finally hands off the CPU for good. Called only by the
// currently running process, on its own goroutine; it never returns to
// its caller.
func (s *Scheduler) Exit(code int32) {
	saved := s.level.Elevate()
	self := s.ring.Cursor()

	// Step 2: grandchildren on our own wait queue have no remaining
	// parent to reap them.
	if self.waitQueueHead != nil {
		s.disposeQ.spliceAll(self.waitQueueHead, self.waitQueueTail)
		self.waitQueueHead = nil
		self.waitQueueTail = nil
	}

	// Step 3.
	self.returnCode = code
	self.terminatedNormally = true
	self.state = Zombie

	// Step 4: the pid is now permanently unresolvable.
	s.table.releaseSlot(self.pid)

	// Step 5.
	if parent, ok := s.table.lookup(self.ppid); ok {
		pushBack(parent, self)
		if parent.state == WaitingForChildTerm {
			s.resumeLocked(parent)
		}
	} else {
		s.disposeQ.push(self)
	}

	// Step 6.
	s.ring.unlink(self)

	if s.exitHook != nil {
		s.exitHook(self)
	}

	// Step 7: never returns.
	s.yieldLocked(saved, self, true)
	runtime.Goexit()
}

// WaitForChildTermination pops one zombie off the caller's own wait queue,
// blocking (unless returnImmediately) until a child exits if none is
// queued yet. childCount is decremented only once a zombie is actually
// handed back to the caller — a returnImmediately miss, or the no-children
// error case, leaves it untouched.
func (s *Scheduler) WaitForChildTermination(returnImmediately bool) (*Process, error) {
	saved := s.level.Elevate()
	self := s.ring.Cursor()

	if self.childCount == 0 {
		saved.Recover()
		return nil, ErrNoChildren
	}

	if child := popFront(self); child != nil {
		self.childCount--
		saved.Recover()
		return child, nil
	}

	if returnImmediately {
		saved.Recover()
		return nil, nil
	}

	self.state = WaitingForChildTerm
	s.ring.unlink(self)
	s.yieldLocked(saved, self, false)
	saved.Recover()

	child := popFront(self)
	self.childCount--
	return child, nil
}

// Dispose appends p to the global dispose queue. The caller is
// surrendering ownership: p must not be touched again except via
// PollDisposeQueue's eventual teardown.
func (s *Scheduler) Dispose(p *Process) {
	saved := s.level.Elevate()
	s.disposeQ.push(p)
	saved.Recover()
}

// PollDisposeQueue pops and tears down one process from the dispose
// queue: address space, extended state, arch state, kernel stack, fd
// table, and cwd are released, in that order, outside elevation. Returns
// false when the queue was empty.
func (s *Scheduler) PollDisposeQueue() bool {
	saved := s.level.Elevate()
	p := s.disposeQ.pop()
	saved.Recover()

	if p == nil {
		return false
	}

	s.vmm.Drop(p.addressSpace)
	s.heap.Free(p.extendedState)
	s.heap.Free(p.processState)
	s.heap.Free(p.kernelStack)
	if p.fdTable != nil {
		s.fdTable.Drop(p.fdTable)
	}
	if p.cwd != nil {
		s.cwd.Drop(p.cwd)
	}

	return true
}
