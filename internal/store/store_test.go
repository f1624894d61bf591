package store

import (
	"testing"

	"github.com/anonymouse64/exectrace/internal/events"
)

func TestEnsureRootStartsRunning(t *testing.T) {
	s := New()
	st := s.EnsureRoot(100)
	if st.Status != StatusRunning {
		t.Fatalf("EnsureRoot status = %v, want Running", st.Status)
	}
	if got, ok := s.Get(100); !ok || got != st {
		t.Fatalf("Get(100) = %v, %v, want the same state EnsureRoot returned", got, ok)
	}
}

func TestCloneHandshakeChildFirst(t *testing.T) {
	s := New()
	s.EnsureRoot(1)

	res := s.OnCloneChildStop(42)
	if res.Completed {
		t.Fatalf("OnCloneChildStop (child-first) = %+v, want not completed", res)
	}
	if !s.IsPending(42) {
		t.Fatal("IsPending(42) = false after child-first stop, want true")
	}

	res = s.OnCloneParentStop(1, 42)
	if !res.Completed || !res.ShouldContinueParked {
		t.Fatalf("OnCloneParentStop completing handshake = %+v, want Completed+ShouldContinueParked", res)
	}
	if s.IsPending(42) {
		t.Fatal("IsPending(42) still true after handshake completed")
	}
	child, ok := s.Get(42)
	if !ok || child.Status != StatusRunning {
		t.Fatalf("child state after handshake = %+v, want Running", child)
	}
}

func TestCloneHandshakeParentFirst(t *testing.T) {
	s := New()
	s.EnsureRoot(1)

	res := s.OnCloneParentStop(1, 43)
	if res.Completed {
		t.Fatalf("OnCloneParentStop (parent-first) = %+v, want not completed", res)
	}
	child, ok := s.Get(43)
	if !ok || child.Status != StatusPtraceForkEventReceived {
		t.Fatalf("child placeholder state = %+v, want PtraceForkEventReceived", child)
	}

	res = s.OnCloneChildStop(43)
	if !res.Completed {
		t.Fatalf("OnCloneChildStop completing handshake = %+v, want Completed", res)
	}
	if child.Status != StatusRunning {
		t.Fatalf("child status after handshake = %v, want Running", child.Status)
	}
}

func TestOnCloneParentStopCopiesParentLastExec(t *testing.T) {
	s := New()
	parent := s.EnsureRoot(1)
	id := events.ID(7)
	parent.ParentTracker.LastExecEventID = &id

	s.OnCloneParentStop(1, 44)
	child, _ := s.Get(44)
	if child.ParentTracker.ParentLastExec == nil || *child.ParentTracker.ParentLastExec != id {
		t.Fatalf("child.ParentTracker.ParentLastExec = %v, want %v", child.ParentTracker.ParentLastExec, id)
	}
}

func TestMarkExitedUnknownPid(t *testing.T) {
	s := New()
	if _, err := s.MarkExited(999, events.ExitStatus{}); err == nil {
		t.Fatal("MarkExited for unknown pid: want error, got nil")
	}
}

func TestMarkExitedReturnsAssociatedEvents(t *testing.T) {
	s := New()
	s.EnsureRoot(1)
	s.AssociateEvent(1, 1)
	s.AssociateEvent(1, 2)

	ids, err := s.MarkExited(1, events.ExitStatus{Code: 0})
	if err != nil {
		t.Fatalf("MarkExited: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("MarkExited associated ids = %v, want 2 entries", ids)
	}
	st, _ := s.Get(1)
	if st.Status != StatusExited {
		t.Fatalf("status after MarkExited = %v, want Exited", st.Status)
	}
}

func TestPidReuseAfterExit(t *testing.T) {
	s := New()
	s.EnsureRoot(55)
	s.AssociateEvent(55, 1)
	s.MarkExited(55, events.ExitStatus{})

	res := s.OnCloneChildStop(55)
	if res.Completed {
		t.Fatalf("OnCloneChildStop on reused pid = %+v, want fresh (not completed)", res)
	}
	st, _ := s.Get(55)
	if len(st.AssociatedEvents) != 0 {
		t.Fatalf("reused pid state carried over stale AssociatedEvents: %v", st.AssociatedEvents)
	}
}

func TestGetTwoPanicsOnEqualPids(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("GetTwo(pid, pid): want panic, got none")
		}
	}()
	s := New()
	s.GetTwo(1, 1)
}

func TestSnapshot(t *testing.T) {
	s := New()
	s.EnsureRoot(1)
	s.EnsureRoot(2)
	snap := s.Snapshot()
	if len(snap) != 2 || snap[1] != StatusRunning || snap[2] != StatusRunning {
		t.Fatalf("Snapshot = %v, want both pids Running", snap)
	}
}
