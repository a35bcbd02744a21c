package sched

// Process is a kernel-scheduled unit: identity, CPU state, a kernel stack,
// run-ring links, a wait queue of zombie children, and the external
// collaborator references it owns.
type Process struct {
	// Identity.
	pid  ProcessHandle
	ppid ProcessHandle

	// CPU state, owned by this process, touched only during its own
	// preempt save/restore.
	processState  []byte // ArchStateSize
	extendedState []byte // ExtStateSize, 16-byte aligned

	kernelStack []byte // KernelStackSize

	// Run-ring links, valid only while state == Running.
	next *Process
	prev *Process

	// Wait-queue head/tail of this process's own zombie children.
	waitQueueHead *Process
	waitQueueTail *Process

	// Membership in exactly one of: a parent's wait queue, or the
	// dispose queue.
	nextInQueue *Process

	state ProcessState

	childCount uint32

	addressSpace *AddressSpace
	fdTable      *FDTableRef
	cwd          *DirRef

	returnCode        int32
	terminatedNormally bool

	// entry is the Go stand-in for the arch trampoline's job of seeding
	// the instruction pointer. Nil for a process created only to be a
	// bookkeeping placeholder (e.g. in low-level ring/table tests).
	entry func(self ProcessHandle)

	// wake is the baton channel: capacity 1, signalled by yieldLocked in
	// whichever goroutine hands this process the CPU after the preempt
	// path has advanced the ring cursor to it.
	wake chan struct{}

	// started is set once this process's goroutine has been launched, so
	// it is only ever launched once.
	started bool
}

// Handle returns the process's own identity.
func (p *Process) Handle() ProcessHandle { return p.pid }

// ParentHandle returns the process's parent identity (InvalidHandle for the
// kernel process).
func (p *Process) ParentHandle() ProcessHandle { return p.ppid }

// State returns the process's current lifecycle state.
func (p *Process) State() ProcessState { return p.state }

// ChildCount returns the number of live children plus zombie children still
// sitting on this process's wait queue.
func (p *Process) ChildCount() uint32 { return p.childCount }

// ReturnCode and TerminatedNormally are valid only once State() == Zombie.
func (p *Process) ReturnCode() int32        { return p.returnCode }
func (p *Process) TerminatedNormally() bool { return p.terminatedNormally }
