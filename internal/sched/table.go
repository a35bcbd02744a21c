package sched

// ProcessTable is the fixed-capacity slot array indexed by pid, with a
// generation counter per slot for safe stale-handle detection. Every
// method here must be called under the scheduler's InterruptLevel
// elevation; the table itself holds no lock.
type ProcessTable struct {
	slots       [Capacity]*Process
	generations [Capacity]uint64
}

// allocateSlot linear-scans for an empty slot, installs process, and
// returns a handle carrying the slot's current generation. Returns
// (InvalidHandle, false) when the table is full.
func (t *ProcessTable) allocateSlot(p *Process) (ProcessHandle, bool) {
	for i := range t.slots {
		if t.slots[i] == nil {
			t.slots[i] = p
			h := ProcessHandle{Slot: uint16(i), Generation: t.generations[i]}
			p.pid = h
			return h, true
		}
	}
	return InvalidHandle, false
}

// lookup returns the process addressed by h iff its slot is occupied and
// the stored generation matches h's generation.
func (t *ProcessTable) lookup(h ProcessHandle) (*Process, bool) {
	if !h.Valid() {
		return nil, false
	}
	p := t.slots[h.Slot]
	if p == nil {
		return nil, false
	}
	if t.generations[h.Slot] != h.Generation {
		return nil, false
	}
	return p, true
}

// releaseSlot clears the slot's pointer and bumps its generation, making
// every handle minted against the old generation permanently unresolvable.
func (t *ProcessTable) releaseSlot(h ProcessHandle) {
	if !h.Valid() {
		return
	}
	t.slots[h.Slot] = nil
	t.generations[h.Slot]++
}
