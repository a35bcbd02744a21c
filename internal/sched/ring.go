package sched

// RunRing is the intrusive circular doubly-linked list of Running
// processes, threaded through each Process's next/prev fields. cursor
// always names the currently-executing process; it is never nil once the
// kernel process has been bootstrapped, since the ring is never empty.
// Every method must be called under elevation.
type RunRing struct {
	cursor *Process
}

// initSelfLoop wires p as the sole member of the ring and makes it the
// cursor. Used only once, by Scheduler.Init for the bootstrap kernel
// process.
func (r *RunRing) initSelfLoop(p *Process) {
	p.next = p
	p.prev = p
	r.cursor = p
}

// Cursor returns the process the ring's cursor currently names.
func (r *RunRing) Cursor() *Process { return r.cursor }

// insertAfterCursor splices p between the cursor and cursor.next, so it
// runs next, ahead of anything inserted earlier (the most recent insert
// runs first), without disturbing which process is current.
func (r *RunRing) insertAfterCursor(p *Process) {
	next := r.cursor.next
	prev := r.cursor

	p.next = next
	p.prev = prev
	prev.next = p
	next.prev = p
}

// unlink removes p from the ring by splicing its neighbors together. It
// deliberately leaves p.next and p.prev untouched (still naming its
// former neighbors) rather than nilling them: when p is also the cursor,
// advance (driven by the very next yield) reads cursor.next to find where
// to switch to, and p's stale next is exactly that neighbor — the same
// trick the original source relies on. unlink never moves the cursor
// itself; it is still p until a preempt advances it.
func (r *RunRing) unlink(p *Process) {
	prev := p.prev
	next := p.next
	prev.next = next
	next.prev = prev
}

// advance moves the cursor to cursor.next and returns it.
func (r *RunRing) advance() *Process {
	r.cursor = r.cursor.next
	return r.cursor
}
