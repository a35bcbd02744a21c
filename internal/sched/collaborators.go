package sched

import (
	"sync"

	"go.uber.org/zap"
)

// This file gives every out-of-scope collaborator a Go interface and a
// default, in-memory/no-op implementation. Production HAL drivers, a real
// virtual-memory manager, an fd table, etc. would satisfy the same
// interfaces; the scheduler core never depends on anything more concrete
// than what's declared here.

// HeapAllocator is the out-of-scope heap collaborator. Allocations backing
// ExtStateSize blobs are assumed to come back ExtStateAlign-aligned.
type HeapAllocator interface {
	Alloc(size int) ([]byte, bool)
	Free(buf []byte)
}

// nativeHeap is the default HeapAllocator: ordinary Go heap allocation. Go's
// allocator aligns slices of this size well beyond ExtStateAlign, so no
// manual alignment juggling is needed; misalignment, were it ever to occur,
// is merely logged (see lifecycle.go), never fatal.
type nativeHeap struct{}

func (nativeHeap) Alloc(size int) ([]byte, bool) {
	if size < 0 {
		return nil, false
	}
	return make([]byte, size), true
}

func (nativeHeap) Free([]byte) {}

// AddressSpace is an opaque handle to a virtual address space, owned by the
// VirtualMM collaborator.
type AddressSpace struct {
	root uintptr
	id   uint64
}

// VirtualMM is the out-of-scope virtual memory collaborator.
type VirtualMM interface {
	MakeFromRoot(hwRoot uintptr) (*AddressSpace, bool)
	SwitchTo(as *AddressSpace)
	Drop(as *AddressSpace)
	// Current returns the address space most recently switched to, for
	// introspection; nil before the first switch.
	Current() *AddressSpace
}

type noopVirtualMM struct {
	mu      sync.Mutex
	current *AddressSpace
	nextID  uint64
}

func newNoopVirtualMM() *noopVirtualMM { return &noopVirtualMM{} }

func (v *noopVirtualMM) MakeFromRoot(hwRoot uintptr) (*AddressSpace, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	return &AddressSpace{root: hwRoot, id: v.nextID}, true
}

func (v *noopVirtualMM) SwitchTo(as *AddressSpace) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = as
}

func (v *noopVirtualMM) Drop(*AddressSpace) {}

func (v *noopVirtualMM) Current() *AddressSpace {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// FDTableRef and DirRef are opaque owning references to a file descriptor
// table and a current-working-directory entry, respectively. The core only
// ever drops them; it never inspects their contents.
type FDTableRef struct{ id uint64 }
type DirRef struct{ id uint64 }

// FDTable is the out-of-scope file-descriptor-table collaborator.
type FDTable interface {
	Drop(ref *FDTableRef)
}

// Cwd is the out-of-scope current-working-directory collaborator.
type Cwd interface {
	Drop(ref *DirRef)
}

type noopFDTable struct{}

func (noopFDTable) Drop(*FDTableRef) {}

type noopCwd struct{}

func (noopCwd) Drop(*DirRef) {}

// ExtendedState is the out-of-scope FPU/SSE/AVX-equivalent collaborator.
// storeTo/loadFrom stand in for FXSAVE/FXRSTOR.
type ExtendedState interface {
	StoreTo(blob []byte)
	LoadFrom(blob []byte)
}

type memcpyExtendedState struct {
	// live holds whatever the "current extended CPU state" is at any
	// given moment, outside of any particular process's saved blob.
	live [ExtStateSize]byte
}

func (e *memcpyExtendedState) StoreTo(blob []byte) {
	copy(blob, e.live[:])
}

func (e *memcpyExtendedState) LoadFrom(blob []byte) {
	copy(e.live[:], blob)
}

// Frame is the opaque on-stack architectural register frame the timer ISR
// hands to the preempt callback. In the original kernel this is a pointer
// into the interrupted stack; here it is a owned-by-the-caller byte slice
// of ArchStateSize that the preempt path reads from and overwrites.
type Frame []byte

// Timer is the out-of-scope periodic-timer collaborator.
type Timer interface {
	SetCallback(fn func(frame Frame))
	// TriggerInterrupt synchronously requests an immediate preempt: it
	// invokes the registered callback on the calling goroutine before
	// returning. There is no core-owned background ticker — Go cannot
	// safely force-preempt a goroutine that isn't at a cooperative yield
	// point, so nothing fires it periodically: a context switch happens
	// only when a process yields, suspends itself, blocks waiting for a
	// child, or exits.
	TriggerInterrupt(frame Frame)
}

type syncTimer struct {
	mu       sync.Mutex
	callback func(frame Frame)
}

func newSyncTimer() *syncTimer { return &syncTimer{} }

func (t *syncTimer) SetCallback(fn func(frame Frame)) {
	t.mu.Lock()
	t.callback = fn
	t.mu.Unlock()
}

func (t *syncTimer) TriggerInterrupt(frame Frame) {
	t.mu.Lock()
	cb := t.callback
	t.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
}

// ISRStacks is the out-of-scope collaborator managing the scheduler's own
// ISR stack and the per-process syscall-entry stack top.
type ISRStacks interface {
	SetISRStack(top uintptr)
	SetSyscallsStack(top uintptr)
}

type noopISRStacks struct {
	mu          sync.Mutex
	isrTop      uintptr
	syscallsTop uintptr
}

func newNoopISRStacks() *noopISRStacks { return &noopISRStacks{} }

func (s *noopISRStacks) SetISRStack(top uintptr) {
	s.mu.Lock()
	s.isrTop = top
	s.mu.Unlock()
}

func (s *noopISRStacks) SetSyscallsStack(top uintptr) {
	s.mu.Lock()
	s.syscallsTop = top
	s.mu.Unlock()
}

// KernelLog is the out-of-scope error-level diagnostic sink used during
// bootstrap and for non-fatal anomalies (e.g. extended-state misalignment).
type KernelLog interface {
	ErrorMsg(component, msg string)
}

// zapKernelLog adapts a *zap.Logger to KernelLog.
type zapKernelLog struct {
	log *zap.Logger
}

// NewZapKernelLog wraps log for use as the scheduler's KernelLog sink.
func NewZapKernelLog(log *zap.Logger) KernelLog {
	return &zapKernelLog{log: log.Named("proc")}
}

func (k *zapKernelLog) ErrorMsg(component, msg string) {
	k.log.Error(msg, zap.String("component", component))
}

