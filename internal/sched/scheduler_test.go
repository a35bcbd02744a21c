package sched

import (
	"sync"
	"testing"
)

// testLog records ErrorMsg calls instead of writing anywhere, so tests can
// assert on bootstrap/alignment diagnostics without pulling in zap.
type testLog struct {
	mu   sync.Mutex
	msgs []string
}

func (l *testLog) ErrorMsg(component, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, component+": "+msg)
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := NewDefaultScheduler(&testLog{})
	if err := s.Init(); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	return s
}

// TestExitReapsChildAndRecordsReturnCode drives a child through create,
// resume, a self-yield, and exit, then reaps it with
// WaitForChildTermination and checks its recorded return code survives
// the trip through the parent's wait queue, then disposes it and drains
// the dispose queue.
func TestExitReapsChildAndRecordsReturnCode(t *testing.T) {
	s := newTestScheduler(t)
	kernel := s.KernelHandle()

	child, err := s.MakeNewProcess(kernel, func(self ProcessHandle) {
		s.Yield()
		s.Exit(42)
	})
	if err != nil {
		t.Fatalf("MakeNewProcess() = %v", err)
	}
	s.Resume(child)

	zombie, err := s.WaitForChildTermination(false)
	if err != nil {
		t.Fatalf("WaitForChildTermination() = %v", err)
	}
	if zombie == nil {
		t.Fatalf("WaitForChildTermination() = nil, want the reaped child")
	}
	if zombie.Handle() != child {
		t.Fatalf("reaped handle = %+v, want %+v", zombie.Handle(), child)
	}
	if zombie.State() != Zombie {
		t.Fatalf("reaped state = %v, want Zombie", zombie.State())
	}
	if zombie.ReturnCode() != 42 {
		t.Fatalf("ReturnCode() = %d, want 42", zombie.ReturnCode())
	}
	if !zombie.TerminatedNormally() {
		t.Fatalf("TerminatedNormally() = false, want true")
	}

	s.Dispose(zombie)
	if !s.PollDisposeQueue() {
		t.Fatalf("PollDisposeQueue() = false, want true draining the reaped child")
	}
	if s.PollDisposeQueue() {
		t.Fatalf("PollDisposeQueue() = true on an empty queue")
	}
}

// TestGetProcessDataRejectsHandleAfterSlotReuse checks that once a
// process's slot is released and reused by a new process, the old handle
// never resolves again, even though the new occupant sits at the same
// slot index under a bumped generation.
func TestGetProcessDataRejectsHandleAfterSlotReuse(t *testing.T) {
	s := newTestScheduler(t)
	kernel := s.KernelHandle()

	child, err := s.MakeNewProcess(kernel, func(self ProcessHandle) {
		s.Exit(0)
	})
	if err != nil {
		t.Fatalf("MakeNewProcess() = %v", err)
	}
	s.Resume(child)

	zombie, err := s.WaitForChildTermination(false)
	if err != nil || zombie == nil {
		t.Fatalf("WaitForChildTermination() = %v, %v", zombie, err)
	}
	s.Dispose(zombie)
	s.PollDisposeQueue()

	if _, err := s.GetProcessData(child); err == nil {
		t.Fatalf("GetProcessData(%+v) resolved after exit", child)
	}

	fresh, err := s.MakeNewProcess(kernel, nil)
	if err != nil {
		t.Fatalf("MakeNewProcess() = %v", err)
	}
	if fresh.Slot != child.Slot {
		t.Fatalf("expected slot %d to be reused, got %d", child.Slot, fresh.Slot)
	}
	if fresh.Generation != child.Generation+1 {
		t.Fatalf("expected generation to bump from %d, got %d", child.Generation, fresh.Generation)
	}
	if _, err := s.GetProcessData(child); err == nil {
		t.Fatalf("stale handle %+v still resolves after slot reuse", child)
	}
	if _, err := s.GetProcessData(fresh); err != nil {
		t.Fatalf("fresh handle %+v does not resolve: %v", fresh, err)
	}
}

// TestExitOfOrphanedGrandchildRoutesToDisposeQueue covers a parent that
// exits before its own child does. The child becomes unreapable (its
// ppid is already released) and its own later exit must route straight
// to the dispose queue rather than landing on any wait queue.
func TestExitOfOrphanedGrandchildRoutesToDisposeQueue(t *testing.T) {
	s := newTestScheduler(t)
	kernel := s.KernelHandle()

	parent, err := s.MakeNewProcess(kernel, func(parentSelf ProcessHandle) {
		child, err := s.MakeNewProcess(parentSelf, func(childSelf ProcessHandle) {
			s.Exit(7)
		})
		if err != nil {
			t.Errorf("grandchild MakeNewProcess() = %v", err)
			s.Exit(1)
			return
		}
		s.Resume(child)
		s.Exit(0)
	})
	if err != nil {
		t.Fatalf("MakeNewProcess() = %v", err)
	}
	s.Resume(parent)

	reaped, err := s.WaitForChildTermination(false)
	if err != nil || reaped == nil {
		t.Fatalf("WaitForChildTermination() = %v, %v", reaped, err)
	}
	if reaped.Handle() != parent {
		t.Fatalf("reaped %+v, want parent %+v", reaped.Handle(), parent)
	}
	s.Dispose(reaped)

	// The grandchild is still Running, parented to a pid that's already
	// unresolvable; one more tick lets it run to completion.
	s.Yield()

	count := 0
	for s.PollDisposeQueue() {
		count++
	}
	if count != 2 {
		t.Fatalf("drained %d processes from the dispose queue, want 2 (parent + orphaned grandchild)", count)
	}
}

// TestExitSplicesOwnZombieQueueOntoDisposeQueue covers a process that
// itself still has an un-reaped zombie child queued on its own wait queue
// when it exits: that zombie has lost its only reaper and must be
// spliced onto the global dispose queue rather than leaked or left
// dangling on the dead process's own (now-unreachable) queue pointers.
func TestExitSplicesOwnZombieQueueOntoDisposeQueue(t *testing.T) {
	s := newTestScheduler(t)
	kernel := s.KernelHandle()

	middle, err := s.MakeNewProcess(kernel, func(middleSelf ProcessHandle) {
		grandchild, err := s.MakeNewProcess(middleSelf, func(grandchildSelf ProcessHandle) {
			s.Exit(9)
		})
		if err != nil {
			t.Errorf("grandchild MakeNewProcess() = %v", err)
			s.Exit(1)
			return
		}
		s.Resume(grandchild)
		// Let the grandchild run to completion and land as a zombie on
		// middle's own wait queue before middle exits without ever
		// reaping it itself.
		s.Yield()
		s.Exit(5)
	})
	if err != nil {
		t.Fatalf("MakeNewProcess() = %v", err)
	}
	s.Resume(middle)

	reaped, err := s.WaitForChildTermination(false)
	if err != nil || reaped == nil {
		t.Fatalf("WaitForChildTermination() = %v, %v", reaped, err)
	}
	if reaped.Handle() != middle {
		t.Fatalf("reaped %+v, want middle %+v", reaped.Handle(), middle)
	}
	if reaped.waitQueueHead != nil || reaped.waitQueueTail != nil {
		t.Fatalf("exited process still holds wait-queue pointers: head=%v tail=%v", reaped.waitQueueHead, reaped.waitQueueTail)
	}
	s.Dispose(reaped)

	count := 0
	for s.PollDisposeQueue() {
		count++
	}
	if count != 2 {
		t.Fatalf("drained %d processes from the dispose queue, want 2 (middle + its orphaned zombie grandchild)", count)
	}
}

// TestMakeNewProcessFailsOnceTableIsFull checks that once every slot is
// occupied, MakeNewProcess reports ErrNoSlot and does not leak any of its
// three preceding allocations.
func TestMakeNewProcessFailsOnceTableIsFull(t *testing.T) {
	heap := &countingHeap{}
	s := NewScheduler(heap, newNoopVirtualMM(), noopFDTable{}, noopCwd{}, &memcpyExtendedState{}, newSyncTimer(), newNoopISRStacks(), &testLog{})
	if err := s.Init(); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	kernel := s.KernelHandle()

	// The kernel process itself already occupies one slot.
	for i := 0; i < Capacity-1; i++ {
		if _, err := s.MakeNewProcess(kernel, nil); err != nil {
			t.Fatalf("MakeNewProcess() failed before reaching capacity, at iteration %d: %v", i, err)
		}
	}

	allocsBefore := heap.allocs
	freesBefore := heap.frees

	h, err := s.MakeNewProcess(kernel, nil)
	if err != ErrNoSlot {
		t.Fatalf("MakeNewProcess() on a full table = %v, want ErrNoSlot", err)
	}
	if h != InvalidHandle {
		t.Fatalf("MakeNewProcess() on a full table returned %+v, want InvalidHandle", h)
	}

	// Three allocations happen before the slot-allocation failure (kernel
	// stack, arch state, extended state), and all three must be freed
	// again rather than leaked.
	if got := heap.allocs - allocsBefore; got != 3 {
		t.Fatalf("heap.Alloc called %d times on the failing attempt, want 3", got)
	}
	if got := heap.frees - freesBefore; got != 3 {
		t.Fatalf("heap.Free called %d times on the failing attempt, want 3 (no leaked allocations)", got)
	}
}

// TestMakeNewProcessRollsBackOnOutOfMemory exercises MakeNewProcess's
// rollback path directly: a heap that fails on its second allocation must
// leave no dangling first allocation behind.
func TestMakeNewProcessRollsBackOnOutOfMemory(t *testing.T) {
	heap := &failingHeap{failAfter: 1}
	s := NewScheduler(heap, newNoopVirtualMM(), noopFDTable{}, noopCwd{}, &memcpyExtendedState{}, newSyncTimer(), newNoopISRStacks(), &testLog{})
	if err := s.Init(); err != nil {
		t.Fatalf("Init() = %v", err)
	}

	if _, err := s.MakeNewProcess(s.KernelHandle(), nil); err != ErrOutOfMemory {
		t.Fatalf("MakeNewProcess() = %v, want ErrOutOfMemory", err)
	}
	if heap.freedCount != 1 {
		t.Fatalf("Free called %d times, want 1 (the one successful allocation rolled back)", heap.freedCount)
	}
}

// TestSuspendSelfThenResumeRunsProcessToCompletion checks that a process
// suspending itself leaves the ring, and that a later Resume splices it
// back in after the current cursor so the next tick runs it to
// completion.
func TestSuspendSelfThenResumeRunsProcessToCompletion(t *testing.T) {
	s := newTestScheduler(t)
	kernel := s.KernelHandle()

	resumed := make(chan struct{})

	p, err := s.MakeNewProcess(kernel, func(self ProcessHandle) {
		s.SuspendSelf(true)
		close(resumed)
		s.Exit(0)
	})
	if err != nil {
		t.Fatalf("MakeNewProcess() = %v", err)
	}
	s.Resume(p)

	// Let p run until it suspends itself and hands control back.
	s.Yield()

	data, err := s.GetProcessData(p)
	if err != nil {
		t.Fatalf("GetProcessData(%+v) failed after suspend: %v", p, err)
	}
	if data.State() != Sleeping {
		t.Fatalf("state after SuspendSelf = %v, want Sleeping", data.State())
	}
	select {
	case <-resumed:
		t.Fatalf("p ran past SuspendSelf before being resumed")
	default:
	}

	s.Resume(p)
	s.Yield()

	select {
	case <-resumed:
	default:
		t.Fatalf("p never resumed past SuspendSelf")
	}

	zombie, err := s.WaitForChildTermination(false)
	if err != nil || zombie == nil {
		t.Fatalf("WaitForChildTermination() = %v, %v", zombie, err)
	}
	if zombie.ReturnCode() != 0 {
		t.Fatalf("ReturnCode() = %d, want 0", zombie.ReturnCode())
	}
}

// countingHeap wraps nativeHeap and counts Alloc/Free calls, for asserting
// no allocation is leaked on a rollback path.
type countingHeap struct {
	nativeHeap
	mu     sync.Mutex
	allocs int
	frees  int
}

func (h *countingHeap) Alloc(size int) ([]byte, bool) {
	h.mu.Lock()
	h.allocs++
	h.mu.Unlock()
	return h.nativeHeap.Alloc(size)
}

func (h *countingHeap) Free(buf []byte) {
	h.mu.Lock()
	h.frees++
	h.mu.Unlock()
	h.nativeHeap.Free(buf)
}

// failingHeap succeeds its first failAfter allocations, then refuses every
// allocation after that, to exercise MakeNewProcess's rollback sequence.
type failingHeap struct {
	nativeHeap
	failAfter  int
	calls      int
	freedCount int
}

func (h *failingHeap) Alloc(size int) ([]byte, bool) {
	h.calls++
	if h.calls > h.failAfter {
		return nil, false
	}
	return h.nativeHeap.Alloc(size)
}

func (h *failingHeap) Free(buf []byte) {
	h.freedCount++
	h.nativeHeap.Free(buf)
}
