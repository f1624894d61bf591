// Package store implements the per-PID process-state machine and the
// out-of-order clone handshake described in spec §4.3/§4.5.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/anonymouse64/exectrace/internal/events"
)

// Status is the coarse per-PID state machine (spec §3, §4.5).
type Status int

const (
	StatusInitialized Status = iota
	StatusSigstopReceived
	StatusPtraceForkEventReceived
	StatusRunning
	StatusBreakpointHit
	StatusDetached
	StatusExited
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "Initialized"
	case StatusSigstopReceived:
		return "SigstopReceived"
	case StatusPtraceForkEventReceived:
		return "PtraceForkEventReceived"
	case StatusRunning:
		return "Running"
	case StatusBreakpointHit:
		return "BreakpointHit"
	case StatusDetached:
		return "Detached"
	case StatusExited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// SyscallClass is the last observed syscall kind for a pid's current
// syscall-stop pair.
type SyscallClass int

const (
	SyscallOther SyscallClass = iota
	SyscallExecve
	SyscallExecveat
)

// ExecData is the in-flight exec candidate captured at exec-enter and
// consumed at the matching exec-exit (spec §3 invariant 3).
type ExecData struct {
	Filename  string
	Argv      events.InspectField[[]string]
	Envp      events.InspectField[[]string]
	Cwd       string
	FDInfo    map[int]events.FDInfoView
	Interpreters []events.Interpreter
	Timestamp time.Time
}

// PendingDetach records an armed detach-with-signal request, which must
// round-trip through a sentinel SIGSTOP signal-delivery-stop before the
// real detach can happen (spec §4.6).
type PendingDetach struct {
	Signal int
	HitID  uint32
	Breakpoint uint32
}

// ParentTracker is copied from a parent into its child at clone/fork time
// so the child's first exec can reference the parent's last exec (spec
// §4.7).
type ParentTracker struct {
	LastExecEventID *events.ID // nil if this process hasn't exec'd yet
	ParentLastExec  *events.ID // snapshot taken at fork, consumed once
}

// ProcessState is one tracked PID's full state (spec §3).
type ProcessState struct {
	Pid    int
	Ppid   int
	Comm   string
	Status Status

	Presyscall        bool
	Syscall           SyscallClass
	ExecData          *ExecData
	IsExecSuccessful  bool
	PendingDetach     *PendingDetach
	AssociatedEvents  []events.ID
	ParentTracker      ParentTracker

	ExitStatus events.ExitStatus
}

// newState is the initial value for a PID the store has never seen
// before.
func newState(pid int) *ProcessState {
	return &ProcessState{
		Pid:        pid,
		Status:     StatusInitialized,
		Presyscall: true,
	}
}

// Store holds the live ProcessState for every PID the tracer has ever
// observed, keyed by pid (spec §4.3).
type Store struct {
	mu        sync.Mutex // the tracer thread is the only writer; lock documents intent, see spec §5
	byPid     map[int]*ProcessState
	pending   map[int]bool // pids whose guard is parked awaiting the clone handshake's other half
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		byPid:   make(map[int]*ProcessState),
		pending: make(map[int]bool),
	}
}

// Get returns the live state for pid, if any.
func (s *Store) Get(pid int) (*ProcessState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byPid[pid]
	return st, ok
}

// GetTwo returns the live state for two distinct pids at once, the
// "disjoint-two-PIDs borrow helper" spec §4.3 calls for so the clone
// handler can mutate parent and child together. Panics if pid1 == pid2,
// a programmer error.
func (s *Store) GetTwo(pid1, pid2 int) (p1, p2 *ProcessState) {
	if pid1 == pid2 {
		panic("store: GetTwo called with identical pids")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byPid[pid1], s.byPid[pid2]
}

// EnsureRoot creates the root tracee's initial state, transitioning
// straight to Running (it has no clone handshake to wait on).
func (s *Store) EnsureRoot(pid int) *ProcessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := newState(pid)
	st.Status = StatusRunning
	s.byPid[pid] = st
	return st
}

// reuseOrCreate implements spec §4.3's PID-reuse rule: if a state already
// exists for pid with a terminal Exited status, replace it (its
// AssociatedEvents are historical and must not be touched); otherwise
// create fresh.
func (s *Store) reuseOrCreate(pid int) *ProcessState {
	if old, ok := s.byPid[pid]; ok && old.Status == StatusExited {
		st := newState(pid)
		s.byPid[pid] = st
		return st
	}
	if existing, ok := s.byPid[pid]; ok {
		return existing
	}
	st := newState(pid)
	s.byPid[pid] = st
	return st
}

// HandshakeResult tells the caller (the tracer's clone-stop handlers)
// whether this event completed the two-event handshake and, if so,
// whether a previously parked guard now needs to be continued.
type HandshakeResult struct {
	Completed     bool
	ShouldContinueParked bool
}

// OnCloneChildStop implements the "child stops first" half of spec §4.3's
// handshake: park the state at SigstopReceived, and if the parent's event
// already arrived (state was PtraceForkEventReceived), complete the
// handshake instead.
func (s *Store) OnCloneChildStop(pid int) HandshakeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.reuseOrCreate(pid)
	switch st.Status {
	case StatusPtraceForkEventReceived:
		st.Status = StatusRunning
		return HandshakeResult{Completed: true}
	default:
		st.Status = StatusSigstopReceived
		s.pending[pid] = true
		return HandshakeResult{Completed: false}
	}
}

// OnCloneParentStop implements the "parent's event arrives" half of the
// handshake: if the child has already stopped (SigstopReceived), complete
// the handshake and report that the parked guard should now be continued;
// otherwise create the child's placeholder state at
// PtraceForkEventReceived.
//
// parentPid's ParentTracker.LastExecEventID is copied into the child's
// ParentTracker.ParentLastExec here, in the event where both PIDs are in
// hand, per spec §4.7.
func (s *Store) OnCloneParentStop(parentPid, childPid int) HandshakeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent := s.byPid[parentPid]
	child := s.reuseOrCreate(childPid)

	if parent != nil {
		child.ParentTracker.ParentLastExec = copyID(parent.ParentTracker.LastExecEventID)
	}

	switch child.Status {
	case StatusSigstopReceived:
		child.Status = StatusRunning
		delete(s.pending, childPid)
		return HandshakeResult{Completed: true, ShouldContinueParked: true}
	default:
		child.Status = StatusPtraceForkEventReceived
		return HandshakeResult{Completed: false}
	}
}

func copyID(id *events.ID) *events.ID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// IsPending reports whether pid's guard is currently parked awaiting the
// other half of the clone handshake.
func (s *Store) IsPending(pid int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[pid]
}

// MarkExited transitions pid to the terminal Exited state and returns its
// associated event ids (for the caller to build a state-update carrying
// them, per spec §3 invariant 6 and §4.4).
func (s *Store) MarkExited(pid int, exit events.ExitStatus) ([]events.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byPid[pid]
	if !ok {
		return nil, fmt.Errorf("store: MarkExited for unknown pid %d", pid)
	}
	st.Status = StatusExited
	st.ExitStatus = exit
	return st.AssociatedEvents, nil
}

// MarkDetached transitions pid to the terminal Detached state.
func (s *Store) MarkDetached(pid int) ([]events.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byPid[pid]
	if !ok {
		return nil, fmt.Errorf("store: MarkDetached for unknown pid %d", pid)
	}
	st.Status = StatusDetached
	return st.AssociatedEvents, nil
}

// AssociateEvent records that id was emitted on pid's behalf.
func (s *Store) AssociateEvent(pid int, id events.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.byPid[pid]; ok {
		st.AssociatedEvents = append(st.AssociatedEvents, id)
	}
}

// Snapshot returns a point-in-time copy of all tracked pids' statuses,
// used by the store's tests.
func (s *Store) Snapshot() map[int]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]Status, len(s.byPid))
	for pid, st := range s.byPid {
		out[pid] = st.Status
	}
	return out
}
