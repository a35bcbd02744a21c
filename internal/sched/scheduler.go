package sched

import "unsafe"

// Scheduler owns all scheduler-global state: the process table, the run
// ring, the global dispose queue, the InterruptLevel guard, and
// references to the out-of-scope collaborators it drives during preempt
// and teardown. It is the receiver for every exposed lifecycle operation.
type Scheduler struct {
	level InterruptLevel

	table    ProcessTable
	ring     RunRing
	disposeQ DisposeQueue

	heap      HeapAllocator
	vmm       VirtualMM
	fdTable   FDTable
	cwd       Cwd
	extState  ExtendedState
	timer     Timer
	isrStacks ISRStacks
	log       KernelLog

	initialized  bool
	kernelHandle ProcessHandle

	// exitHook, when set, is invoked with every process's final state at
	// the end of Exit, before the baton is handed off. Used to wire
	// internal/auditlog without the core depending on it directly.
	exitHook func(p *Process)
}

// SetExitHook installs fn to be called with each process's final state as
// it exits. Must be called before Init (or at least before any process
// exits); not safe to change concurrently with a running scheduler.
func (s *Scheduler) SetExitHook(fn func(p *Process)) {
	s.exitHook = fn
}

// schedulerStack is the dedicated 64 KiB region the scheduler's own ISR
// stack runs on.
var schedulerStack [SchedulerStackSize]byte

// NewScheduler wires a Scheduler against explicit collaborators. Prefer
// NewDefaultScheduler unless a test or harness needs to substitute one of
// them (e.g. a HeapAllocator that can be made to fail, to exercise
// OutOfMemory rollback).
func NewScheduler(heap HeapAllocator, vmm VirtualMM, fdTable FDTable, cwd Cwd, extState ExtendedState, timer Timer, isrStacks ISRStacks, log KernelLog) *Scheduler {
	return &Scheduler{
		heap:      heap,
		vmm:       vmm,
		fdTable:   fdTable,
		cwd:       cwd,
		extState:  extState,
		timer:     timer,
		isrStacks: isrStacks,
		log:       log,
	}
}

// NewDefaultScheduler wires a Scheduler against the package's in-memory
// no-op collaborators, suitable for cmd/schedulerd and most tests.
func NewDefaultScheduler(log KernelLog) *Scheduler {
	return NewScheduler(
		nativeHeap{},
		newNoopVirtualMM(),
		noopFDTable{},
		noopCwd{},
		&memcpyExtendedState{},
		newSyncTimer(),
		newNoopISRStacks(),
		log,
	)
}

// IsInitialized reports whether Init has completed.
func (s *Scheduler) IsInitialized() bool { return s.initialized }

// KernelHandle returns the bootstrap kernel process's handle. Valid only
// after Init.
func (s *Scheduler) KernelHandle() ProcessHandle { return s.kernelHandle }

// Init bootstraps the scheduler: zeroes the slot table, creates the
// kernel process (ppid invalid, state Running) as a ring self-loop,
// establishes its address space, points the ISR stack at the dedicated
// scheduler stack, and registers the preempt path as the timer's
// callback. Init reuses the calling goroutine as the kernel process's own
// execution context — there is no dedicated goroutine for it, matching
// the bootstrap CPU simply continuing to execute.
//
// Failure of any sub-step beyond the kernel process's own slot allocation
// is logged and left in a degraded state, matching "bootstrap is
// fatal-on-failure" only for the one step that cannot be papered over.
func (s *Scheduler) Init() error {
	s.table = ProcessTable{}
	s.ring = RunRing{}
	s.disposeQ = DisposeQueue{}

	kernel := &Process{
		ppid:    InvalidHandle,
		state:   Running,
		wake:    make(chan struct{}, 1),
		started: true,
	}

	if _, ok := s.table.allocateSlot(kernel); !ok {
		return ErrBootstrapFailed
	}

	s.ring.initSelfLoop(kernel)
	s.kernelHandle = kernel.pid

	if as, ok := s.vmm.MakeFromRoot(0); ok {
		kernel.addressSpace = as
		s.vmm.SwitchTo(as)
	} else {
		s.log.ErrorMsg("proc", "failed to establish kernel address space from hardware root")
	}

	s.isrStacks.SetISRStack(stackTop(schedulerStack[:]))
	s.timer.SetCallback(s.preemptPath)

	s.initialized = true
	return nil
}

// stackTop computes the one-past-the-end address of a stack region, the
// Go stand-in for "base + size" pointer arithmetic on a static buffer.
func stackTop(stack []byte) uintptr {
	if len(stack) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&stack[0])) + uintptr(len(stack))
}

// isAligned reports whether buf's first byte sits on an align-byte
// boundary. Used to verify extendedState's required alignment.
func isAligned(buf []byte, align int) bool {
	if len(buf) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&buf[0]))%uintptr(align) == 0
}
