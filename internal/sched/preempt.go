package sched

// preemptPath is the timer ISR callback: it saves the outgoing process's
// register frame and extended CPU state, advances the run ring to the
// next process, restores that process's state, and switches the address
// space and syscall-entry stack to match. It is installed once, by
// Scheduler.Init, and from then on runs synchronously inside
// Timer.TriggerInterrupt — standing in for "the ISR fires on the
// dedicated interrupt stack with interrupts already disabled". It never
// allocates beyond the frame it is handed, never touches the dispose
// queue, and assumes the ring always holds at least one process.
func (s *Scheduler) preemptPath(frame Frame) {
	prev := s.ring.Cursor()

	copy(prev.processState, frame)
	s.extState.StoreTo(prev.extendedState)

	current := s.ring.advance()

	s.extState.LoadFrom(current.extendedState)
	copy(frame, current.processState)

	s.vmm.SwitchTo(current.addressSpace)
	s.isrStacks.SetSyscallsStack(stackTop(current.kernelStack))
}
