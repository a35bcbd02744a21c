package sched

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

// ProcessSnapshot is a point-in-time, read-only view of one live process,
// safe to hold and serialize after the elevation that produced it ends.
type ProcessSnapshot struct {
	Pid        ProcessHandle
	Ppid       ProcessHandle
	State      ProcessState
	ChildCount uint32
	// WaitQueue lists this process's zombie children awaiting reap.
	WaitQueue []ProcessHandle
}

func (p ProcessSnapshot) String() string {
	return fmt.Sprintf("pid=%+v ppid=%+v state=%s children=%d waitQueue=%v", p.Pid, p.Ppid, p.State, p.ChildCount, p.WaitQueue)
}

// RunRingSnapshot lists ring membership in traversal order starting at
// the cursor.
type RunRingSnapshot struct {
	Cursor  ProcessHandle
	Members []ProcessHandle
}

// SchedulerSnapshot is the full structural dump produced by Snapshot.
type SchedulerSnapshot struct {
	Processes    []ProcessSnapshot
	Ring         RunRingSnapshot
	DisposeQueue []ProcessHandle
}

// Snapshot captures the scheduler's structural state for diagnostics: the
// occupied process-table slots (with each one's wait queue), the run ring
// starting at the cursor, and the dispose queue. Grounded on pkg/fmtt's
// spew-based dumping, repointed at scheduler structures instead of error
// chains; used by internal/debugserver.
func (s *Scheduler) Snapshot() SchedulerSnapshot {
	saved := s.level.Elevate()
	defer saved.Recover()

	var procs []ProcessSnapshot
	for i := range s.table.slots {
		p := s.table.slots[i]
		if p == nil {
			continue
		}
		var waiting []ProcessHandle
		for z := p.waitQueueHead; z != nil; z = z.nextInQueue {
			waiting = append(waiting, z.pid)
		}
		procs = append(procs, ProcessSnapshot{
			Pid:        p.pid,
			Ppid:       p.ppid,
			State:      p.state,
			ChildCount: p.childCount,
			WaitQueue:  waiting,
		})
	}

	var ring RunRingSnapshot
	if cursor := s.ring.Cursor(); cursor != nil {
		ring.Cursor = cursor.Handle()
		for p := cursor; ; {
			ring.Members = append(ring.Members, p.Handle())
			p = p.next
			if p == cursor {
				break
			}
		}
	}

	var dispose []ProcessHandle
	for p := s.disposeQ.head; p != nil; p = p.nextInQueue {
		dispose = append(dispose, p.pid)
	}

	return SchedulerSnapshot{Processes: procs, Ring: ring, DisposeQueue: dispose}
}

// Dump renders a snapshot with go-spew as human-readable diagnostic text.
func Dump(snap SchedulerSnapshot) string {
	return spew.Sdump(snap)
}
