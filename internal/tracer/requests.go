/*
 * Copyright (C) 2019 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package tracer

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/anonymouse64/exectrace/internal/events"
	"github.com/anonymouse64/exectrace/internal/ptrace"
	"github.com/anonymouse64/exectrace/internal/store"
)

// RequestKind tags a Request's operation.
type RequestKind int

const (
	// RequestResume continues a pid parked at a breakpoint hit.
	RequestResume RequestKind = iota
	// RequestDetach detaches from a parked pid, optionally redelivering
	// Signal as it does so.
	RequestDetach
	// RequestSuspendSeccompBpf disables a running tracee's seccomp-bpf
	// filter without otherwise disturbing it.
	RequestSuspendSeccompBpf
)

// Request is a caller-issued command for an already-running Tracer, sent
// on the channel returned by Tracer.Requests.
type Request struct {
	Kind   RequestKind
	Pid    int
	Signal int // RequestDetach only; 0 means detach without redelivering a signal
}

// handleRequest services one external Request against the running tracer
// state. Errors are reported as state-update events rather than returned,
// since the request channel is asynchronous with respect to the caller.
func (t *Tracer) handleRequest(req Request) {
	switch req.Kind {
	case RequestResume:
		t.handleResume(req.Pid)
	case RequestDetach:
		t.handleDetach(req.Pid, req.Signal)
	case RequestSuspendSeccompBpf:
		t.handleSuspendSeccomp(req.Pid)
	}
}

func (t *Tracer) handleResume(pid int) {
	pg, ok := t.parked[pid]
	if !ok {
		t.emit(events.Message{StateUpdate: &events.ProcessStateUpdateEvent{
			Pid: pid, Kind: events.UpdateResumeError,
			Errno: fmt.Errorf("tracer: no parked breakpoint hit for pid %d", pid),
		}})
		return
	}
	delete(t.parked, pid)

	var err error
	if pg.enter {
		err = pg.guard.ContSyscall()
	} else {
		err = pg.guard.SeccompAwareContSyscall()
	}

	if st, ok := t.st.Get(pid); ok {
		st.Status = store.StatusRunning
	}

	kind := events.UpdateResumed
	if err != nil {
		kind = events.UpdateResumeError
	}
	t.emit(events.Message{StateUpdate: &events.ProcessStateUpdateEvent{
		Pid: pid, Kind: kind, HitID: pg.hitID, BreakpointID: pg.breakpointID, Errno: err,
	}})
}

func (t *Tracer) handleDetach(pid int, signal int) {
	pg, ok := t.parked[pid]
	if !ok {
		t.emit(events.Message{StateUpdate: &events.ProcessStateUpdateEvent{
			Pid: pid, Kind: events.UpdateDetachError,
			Errno: fmt.Errorf("tracer: no parked breakpoint hit for pid %d", pid),
		}})
		return
	}
	delete(t.parked, pid)

	if signal == 0 {
		err := pg.guard.Detach()
		t.finishDetach(pid, pg.hitID, pg.breakpointID, err)
		return
	}

	// A signal-delivery-stop is the only stop kind InjectedDetach is valid
	// from, and our parked guard is at a syscall stop. Arm PendingDetach,
	// continue past the breakpoint, then force a signal-delivery-stop with
	// a sentinel SIGSTOP; onSignalDelivery completes the detach once that
	// sentinel arrives.
	st, ok := t.st.Get(pid)
	if !ok {
		t.finishDetach(pid, pg.hitID, pg.breakpointID, fmt.Errorf("tracer: lost state for pid %d", pid))
		return
	}
	st.PendingDetach = &store.PendingDetach{Signal: signal, HitID: pg.hitID, Breakpoint: pg.breakpointID}

	var contErr error
	if pg.enter {
		contErr = pg.guard.ContSyscall()
	} else {
		contErr = pg.guard.SeccompAwareContSyscall()
	}
	if contErr != nil {
		st.PendingDetach = nil
		t.finishDetach(pid, pg.hitID, pg.breakpointID, contErr)
		return
	}
	if err := unix.Kill(pid, unix.SIGSTOP); err != nil {
		st.PendingDetach = nil
		t.finishDetach(pid, pg.hitID, pg.breakpointID, fmt.Errorf("tracer: sentinel SIGSTOP for pid %d: %w", pid, err))
	}
}

// finishPendingDetach is invoked from onSignalDelivery once the sentinel
// SIGSTOP armed by handleDetach arrives as an ordinary signal-delivery-stop.
func (t *Tracer) finishPendingDetach(guard *ptrace.Guard, st *store.ProcessState) error {
	pd := st.PendingDetach
	st.PendingDetach = nil
	err := guard.InjectedDetach(unix.Signal(pd.Signal))
	t.finishDetach(guard.Pid(), pd.HitID, pd.Breakpoint, err)
	return nil
}

func (t *Tracer) finishDetach(pid int, hitID, breakpointID uint32, err error) {
	ids, markErr := t.st.MarkDetached(pid)
	if markErr != nil {
		ids = nil
	}
	kind := events.UpdateDetached
	if err != nil {
		kind = events.UpdateDetachError
	}
	t.emit(events.Message{StateUpdate: &events.ProcessStateUpdateEvent{
		Pid: pid, Ids: ids, Kind: kind, HitID: hitID, BreakpointID: breakpointID, Errno: err,
		Timestamp: execTimestamp(t.cfg.Timestamps),
	}})
}

func (t *Tracer) handleSuspendSeccomp(pid int) {
	err := t.eng.SuspendSeccomp(pid)
	if err != nil {
		t.emit(events.Message{Event: &events.TracerEvent{
			ID: t.ids.Next(), Kind: events.DetailWarning,
			Message: fmt.Sprintf("cannot suspend seccomp filter for pid %d: %v", pid, err),
		}})
	}
}
