package sched

// WaitQueue is a process's singly-linked list of zombie children awaiting
// reap, threaded through each child's nextInQueue field. The owning
// Process embeds the head/tail pointers directly (waitQueueHead/
// waitQueueTail); the functions below operate on whichever parent Process
// is passed in.
//
// pushBack always appends to the real tail and keeps the tail pointer
// correct across every push. An earlier draft of the original kernel's
// equivalent routine wrote the head pointer twice and never touched the
// tail, silently dropping every prior queued zombie on the second and
// later push — that behavior is not reproduced here.

// pushBack appends child to the tail of parent's wait queue.
func pushBack(parent *Process, child *Process) {
	child.nextInQueue = nil
	if parent.waitQueueHead == nil {
		parent.waitQueueHead = child
		parent.waitQueueTail = child
		return
	}
	parent.waitQueueTail.nextInQueue = child
	parent.waitQueueTail = child
}

// popFront removes and returns the head of parent's wait queue, or nil if
// it is empty.
func popFront(parent *Process) *Process {
	child := parent.waitQueueHead
	if child == nil {
		return nil
	}
	parent.waitQueueHead = child.nextInQueue
	if parent.waitQueueHead == nil {
		parent.waitQueueTail = nil
	}
	child.nextInQueue = nil
	return child
}
