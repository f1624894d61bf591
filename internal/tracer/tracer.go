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

// Package tracer drives the recursive ptrace event loop: it spawns the
// root tracee, classifies every stop via internal/ptrace, consults
// internal/store for per-pid state, reads tracee memory via
// internal/inspector and internal/procfs, and publishes
// internal/events.Message values to subscribers.
package tracer

import (
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/anonymouse64/exectrace/internal/breakpoint"
	"github.com/anonymouse64/exectrace/internal/events"
	"github.com/anonymouse64/exectrace/internal/procfs"
	"github.com/anonymouse64/exectrace/internal/ptrace"
	"github.com/anonymouse64/exectrace/internal/seccomp"
	"github.com/anonymouse64/exectrace/internal/store"
)

// Config is the orchestrator's resolved configuration (spec §6).
type Config struct {
	SeccompMode        seccomp.Mode
	Seccomp            bool // resolved by Build() from SeccompMode and RunAsUser
	SuccessfulOnly     bool
	ResolveProcSelfExe bool
	HideCloexecFds     bool
	Timestamps         bool
	PollDelay          time.Duration
	RunAsUser          string
}

// Builder constructs a Tracer with the §6 configuration options.
type Builder struct {
	cfg Config
	bps *breakpoint.Registry
}

// NewBuilder starts a Builder with sane defaults (poll every 200
// microseconds, as spec §4.4 suggests for the seccomp-on case).
func NewBuilder() *Builder {
	return &Builder{
		cfg: Config{PollDelay: 200 * time.Microsecond, SeccompMode: seccomp.ModeAuto},
		bps: breakpoint.NewRegistry(),
	}
}

func (b *Builder) WithSeccompMode(m seccomp.Mode) *Builder { b.cfg.SeccompMode = m; return b }
func (b *Builder) WithSuccessfulOnly(v bool) *Builder     { b.cfg.SuccessfulOnly = v; return b }
func (b *Builder) WithResolveProcSelfExe(v bool) *Builder { b.cfg.ResolveProcSelfExe = v; return b }
func (b *Builder) WithHideCloexecFds(v bool) *Builder     { b.cfg.HideCloexecFds = v; return b }
func (b *Builder) WithTimestamps(v bool) *Builder         { b.cfg.Timestamps = v; return b }
func (b *Builder) WithPollDelay(d time.Duration) *Builder { b.cfg.PollDelay = d; return b }
func (b *Builder) WithRunAsUser(u string) *Builder        { b.cfg.RunAsUser = u; return b }
func (b *Builder) WithBreakpoints(r *breakpoint.Registry) *Builder {
	if r != nil {
		b.bps = r
	}
	return b
}

// Build constructs the Tracer. Seccomp is force-disabled when RunAsUser is
// set, per spec §4.8.
func (b *Builder) Build() *Tracer {
	cfg := b.cfg
	cfg.Seccomp = cfg.SeccompMode.Resolve(cfg.RunAsUser != "")
	return &Tracer{
		cfg:       cfg,
		eng:       ptrace.NewEngine(ptrace.Options{Seccomp: cfg.Seccomp}),
		st:        store.New(),
		bps:       b.bps,
		ids:       &events.IDAllocator{},
		pf:        procfs.NewReader(),
		out:       make(chan events.Message, 256),
		reqs:      make(chan Request, 16),
		parked:    make(map[int]*parkedGuard),
		clonePark: make(map[int]*ptrace.Guard),
	}
}

// parkedGuard is a guard held for a tracee sitting in BreakpointHit,
// together with enough bookkeeping to answer a Resume/Detach request (spec
// §4.6).
type parkedGuard struct {
	guard        *ptrace.Guard
	breakpointID uint32
	hitID        uint32
	enter        bool // true: resume via ContSyscall; false: resume seccomp-aware
}

// Tracer is the running orchestrator (spec §4.4, §2 "Tracer Orchestrator").
type Tracer struct {
	cfg Config

	eng *ptrace.Engine
	st  *store.Store
	bps *breakpoint.Registry
	ids *events.IDAllocator
	pf  *procfs.Reader

	out  chan events.Message
	reqs chan Request

	parked    map[int]*parkedGuard
	clonePark map[int]*ptrace.Guard

	rootPid  int
	baseline BaselineInfo

	nextHitID uint32

	sendBlocked bool // set once emit finds t.out full; checked by tick to unwind
}

// Events returns the channel subscribers read TracerMessage values from.
func (t *Tracer) Events() <-chan events.Message { return t.out }

// Requests returns the channel external callers send Resume/Detach/
// SuspendSeccomp requests on.
func (t *Tracer) Requests() chan<- Request { return t.reqs }

func (t *Tracer) emit(msg events.Message) {
	select {
	case t.out <- msg:
	default:
		// The consumer has stopped draining t.out; per spec §5 the tracer
		// never blocks on a downstream consumer, so the message is dropped
		// and sendBlocked marks the run as fatally broken. tick notices
		// this on its next pass and unwinds Run with an error instead of
		// silently wedging here.
		t.sendBlocked = true
	}
}

func (t *Tracer) emitFatal(format string, args ...interface{}) {
	t.emit(events.Message{FatalError: fmt.Sprintf(format, args...)})
}

// Run spawns argv as the root tracee and drives the event loop until the
// root exits. It must run on its own goroutine locked to an OS thread: the
// kernel requires every ptrace call for a tracee to come from the thread
// that attached to it (spec §5).
func (t *Tracer) Run(argv []string) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.out)

	pid, err := t.spawnRoot(argv)
	if err != nil {
		t.emitFatal("cannot spawn root child: %v", err)
		return err
	}
	t.rootPid = pid

	baseline, err := captureBaseline(t.pf)
	if err != nil {
		t.emitFatal("cannot capture baseline info: %v", err)
		return err
	}
	t.baseline = baseline

	root := t.st.EnsureRoot(pid)
	root.Comm, _ = t.pf.Comm(pid)

	t.emit(events.Message{Event: &events.TracerEvent{
		ID:       t.ids.Next(),
		Kind:     events.DetailTraceeSpawn,
		SpawnPid: pid,
	}})

	for {
		if done, err := t.tick(); err != nil {
			t.emitFatal("tracer loop error: %v", err)
			return err
		} else if done {
			return nil
		}
	}
}

// tick drains one batch of pending waitpid notifications (WNOHANG), then
// services at most one pending request, per spec §4.4's two-source
// multiplex. Returns done=true once the root tracee has terminated.
func (t *Tracer) tick() (done bool, err error) {
	const maxDrain = 10000
	for i := 0; i < maxDrain; i++ {
		stop, guard, err := t.eng.NextEvent(unix.WNOHANG)
		if err != nil {
			if err == unix.ECHILD {
				// No tracees left at all: the root (and everything under
				// it) is gone.
				return true, nil
			}
			return false, err
		}
		if guard == nil && stop.Pid == 0 {
			break // nothing more to drain this tick
		}
		if rootDone, err := t.handleStop(stop, guard); err != nil {
			return false, err
		} else if rootDone {
			return true, nil
		}
		if t.sendBlocked {
			return false, fmt.Errorf("tracer: event consumer stopped draining Events()")
		}
	}

	select {
	case req := <-t.reqs:
		t.handleRequest(req)
	case <-time.After(t.cfg.PollDelay):
	}
	if t.sendBlocked {
		return false, fmt.Errorf("tracer: event consumer stopped draining Events()")
	}
	return false, nil
}

// handleStop dispatches one classified stop per spec §4.4. It returns
// done=true when this stop was the root tracee's terminal exit.
func (t *Tracer) handleStop(stop ptrace.Stop, guard *ptrace.Guard) (bool, error) {
	switch {
	case stop.Exited:
		return t.onTerminal(stop.Pid, events.ExitStatus{Code: stop.ExitCode})
	case stop.Signaled:
		return t.onTerminal(stop.Pid, events.ExitStatus{Signal: int(stop.TermSig), BySig: true})
	}

	switch stop.Kind {
	case ptrace.KindSyscall:
		return false, t.onSyscallStop(guard)
	case ptrace.KindSeccomp:
		return false, t.onSyscallEnter(guard, true)
	case ptrace.KindSignalDelivery:
		return false, t.onSignalDelivery(guard, stop)
	case ptrace.KindExec:
		return false, t.onExecStop(guard)
	case ptrace.KindCloneChild:
		return false, t.onCloneChild(guard)
	case ptrace.KindCloneParent:
		return false, t.onCloneParent(guard, stop)
	case ptrace.KindGroupStop:
		return false, guard.Listen()
	case ptrace.KindInterrupt:
		return false, guard.ContSyscall()
	case ptrace.KindExit:
		// PTRACE_EVENT_EXIT is never requested (spec §4.4); nothing to do.
		return false, nil
	default:
		return false, fmt.Errorf("tracer: unhandled stop kind %s", stop.Kind)
	}
}

func (t *Tracer) onSyscallStop(guard *ptrace.Guard) error {
	st, ok := t.st.Get(guard.Pid())
	if !ok {
		// A syscall stop for a pid we never saw a birth event for: seize
		// raced ahead of the clone handshake. Treat it as freshly running.
		st = t.st.EnsureRoot(guard.Pid())
	}
	enter := st.Presyscall
	st.Presyscall = !st.Presyscall
	if enter {
		return t.onSyscallEnter(guard, false)
	}
	return t.onSyscallExit(guard)
}

func (t *Tracer) onSignalDelivery(guard *ptrace.Guard, stop ptrace.Stop) error {
	st, ok := t.st.Get(guard.Pid())
	if ok && stop.StopSignal == unix.SIGSTOP && st.PendingDetach != nil {
		return t.finishPendingDetach(guard, st)
	}
	return guard.InjectedContSyscall(stop.StopSignal)
}

func (t *Tracer) onExecStop(guard *ptrace.Guard) error {
	st, ok := t.st.Get(guard.Pid())
	if ok {
		st.IsExecSuccessful = true
	}
	return guard.ContSyscall()
}

func (t *Tracer) onCloneChild(guard *ptrace.Guard) error {
	res := t.st.OnCloneChildStop(guard.Pid())
	if !res.Completed {
		t.clonePark[guard.Pid()] = guard
		return nil
	}
	return guard.ContSyscall()
}

func (t *Tracer) onCloneParent(guard *ptrace.Guard, stop ptrace.Stop) error {
	res := t.st.OnCloneParentStop(guard.Pid(), stop.ChildPid)

	parentComm := ""
	if st, ok := t.st.Get(guard.Pid()); ok {
		parentComm = st.Comm
	}
	t.emit(events.Message{Event: &events.TracerEvent{
		ID:           t.ids.Next(),
		Kind:         events.DetailNewChild,
		NewChildPPid: guard.Pid(),
		NewChildPid:  stop.ChildPid,
		NewChildComm: parentComm,
	}})

	if res.ShouldContinueParked {
		if parked, ok := t.clonePark[stop.ChildPid]; ok {
			delete(t.clonePark, stop.ChildPid)
			if err := parked.ContSyscall(); err != nil {
				return err
			}
		}
	}
	return guard.ContSyscall()
}

func (t *Tracer) onTerminal(pid int, exit events.ExitStatus) (bool, error) {
	ids, err := t.st.MarkExited(pid, exit)
	if err != nil {
		// A terminal wait for a pid the store never saw is possible for
		// an orphaned grandchild reparented elsewhere; not our concern.
		ids = nil
	}
	t.emit(events.Message{StateUpdate: &events.ProcessStateUpdateEvent{
		Pid:  pid,
		Ids:  ids,
		Kind: events.UpdateExit,
		Exit: exit,
	}})

	if pid == t.rootPid {
		ev := events.TracerEvent{
			ID:   t.ids.Next(),
			Kind: events.DetailTraceeExit,
		}
		if exit.BySig {
			ev.ExitHasSig = true
			ev.ExitSignal = exit.Signal
		} else {
			ev.ExitCode = exit.Code
		}
		t.emit(events.Message{Event: &ev})
		return true, nil
	}
	return false, nil
}
