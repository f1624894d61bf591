//go:build linux
// +build linux

package ptrace

import "golang.org/x/sys/unix"

// A Guard wraps a classified Stop and exposes exactly the continuation
// operations the kernel accepts from that stop kind (spec §9 "per-stop
// capability typing"). Guards never continue the tracee on their own;
// a held Guard documents "this pid is stopped and owes a continuation
// call", and the zero value is not meaningful — always obtain one from
// Engine.NextEvent.
type Guard struct {
	pid          int
	kind         StopKind
	seccompOn    bool
	continued    bool
}

func newGuard(pid int, kind StopKind, seccompOn bool) *Guard {
	return &Guard{pid: pid, kind: kind, seccompOn: seccompOn}
}

// Pid is the tracee this guard was issued for.
func (g *Guard) Pid() int { return g.pid }

// Kind is the stop kind this guard was issued for.
func (g *Guard) Kind() StopKind { return g.kind }

// markContinued panics on double-continuation, a programmer bug per
// spec §7 (architecture/invariant violations are not recoverable).
func (g *Guard) markContinued() {
	if g.continued {
		panic("ptrace: guard for pid already continued")
	}
	g.continued = true
}

// ContSyscall continues the tracee to its next syscall-entry or -exit
// stop. Valid from any stop kind that doesn't require a more specific
// operation (SyscallStop, ExecStop, CloneParentStop, InterruptStop).
func (g *Guard) ContSyscall() error {
	g.markContinued()
	return contSyscall(g.pid, 0)
}

// SeccompAwareContSyscall implements spec §4.2's continuation rule: when
// seccomp is active and this guard is a seccomp-stop, PTRACE_CONT is
// correct (the next stop is the exec-exit syscall stop directly, skipping
// the redundant syscall-enter trap); otherwise it behaves like
// ContSyscall.
func (g *Guard) SeccompAwareContSyscall() error {
	g.markContinued()
	if g.seccompOn && g.kind == KindSeccomp {
		return cont(g.pid, 0)
	}
	return contSyscall(g.pid, 0)
}

// Listen acknowledges a group-stop. Only valid on a GroupStop guard.
func (g *Guard) Listen() error {
	if g.kind != KindGroupStop {
		panic("ptrace: Listen called on a non-group-stop guard")
	}
	g.markContinued()
	return listen(g.pid)
}

// InjectedContSyscall re-delivers sig (from a signal-delivery-stop) and
// continues to the next syscall stop. Only valid on a SignalDelivery
// guard.
func (g *Guard) InjectedContSyscall(sig unix.Signal) error {
	if g.kind != KindSignalDelivery {
		panic("ptrace: InjectedContSyscall called on a non-signal-delivery guard")
	}
	g.markContinued()
	return contSyscall(g.pid, int(sig))
}

// InjectedDetach detaches the tracee while delivering sig. This is the
// only continuation that can deliver an arbitrary signal, and is only
// valid from a signal-delivery-stop (spec §4.6 step 4).
func (g *Guard) InjectedDetach(sig unix.Signal) error {
	if g.kind != KindSignalDelivery {
		panic("ptrace: InjectedDetach called on a non-signal-delivery guard")
	}
	g.markContinued()
	return detach(g.pid, int(sig))
}

// Detach issues PTRACE_DETACH without delivering a signal.
func (g *Guard) Detach() error {
	g.markContinued()
	return detach(g.pid, 0)
}
