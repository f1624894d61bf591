//go:build linux
// +build linux

package ptrace

import "golang.org/x/sys/unix"

// StopKind tags which of the nine ptrace-stop flavors a Stop represents.
// See spec §4.2's classification decision tree.
type StopKind int

const (
	KindSyscall StopKind = iota
	KindSeccomp
	KindSignalDelivery
	KindCloneChild
	KindCloneParent
	KindGroupStop
	KindInterrupt
	KindExec
	KindExit
)

func (k StopKind) String() string {
	switch k {
	case KindSyscall:
		return "syscall-stop"
	case KindSeccomp:
		return "seccomp-stop"
	case KindSignalDelivery:
		return "signal-delivery-stop"
	case KindCloneChild:
		return "clone-child-stop"
	case KindCloneParent:
		return "clone-parent-stop"
	case KindGroupStop:
		return "group-stop"
	case KindInterrupt:
		return "interrupt-stop"
	case KindExec:
		return "exec-stop"
	case KindExit:
		return "exit-stop"
	default:
		return "unknown-stop"
	}
}

// Stop is the classified result of one waitpid(2) cycle on a traced pid.
// Either one of the terminal fields (Exited/Signaled) is set, or Kind
// classifies a ptrace-stop.
type Stop struct {
	Pid int

	// Terminal process states (waitpid WIFEXITED/WIFSIGNALED).
	Exited   bool
	ExitCode int
	Signaled bool
	TermSig  unix.Signal

	// Ptrace-stop classification, valid when neither Exited nor Signaled.
	Kind StopKind

	// GroupStop/SignalDelivery: the signal that stopped (or would be
	// delivered to) the tracee.
	StopSignal unix.Signal

	// CloneParent: the new child's pid, from PTRACE_GETEVENTMSG.
	ChildPid int

	// Exec: the tid the exec replaced (same tgid, possibly different tid
	// if execve was called by a non-leader thread).
	FormerTid int

	// Exit: the raw status value latched by PTRACE_EVENT_EXIT, read via
	// PTRACE_GETEVENTMSG (distinct from the final WIFEXITED/WIFSIGNALED
	// status delivered later via ordinary waitpid).
	PtraceExitStatus int
}

// classify turns a raw waitpid(2) status into a Stop. For a stopped pid it
// issues the GETSIGINFO/GETEVENTMSG follow-up calls needed to resolve
// ambiguous stops.
func classify(pid int, status unix.WaitStatus) (Stop, error) {
	s := Stop{Pid: pid}

	switch {
	case status.Exited():
		s.Exited = true
		s.ExitCode = status.ExitStatus()
		return s, nil
	case status.Signaled():
		s.Signaled = true
		s.TermSig = status.Signal()
		return s, nil
	case status.Stopped():
		return classifyStopped(pid, status)
	default:
		// WIFCONTINUED or some other state we never asked waitpid to
		// report (we never pass WCONTINUED). Treat as a programmer-bug
		// per spec §7: architecture/kernel invariants violated.
		panic("ptrace: waitpid returned a status that is neither exited, signaled, nor stopped")
	}
}

func classifyStopped(pid int, status unix.WaitStatus) (Stop, error) {
	s := Stop{Pid: pid}
	stopSig := status.StopSignal()

	// TRACESYSGOOD ORs 0x80 into SIGTRAP for ordinary syscall-entry/exit
	// stops, which is otherwise indistinguishable from a genuine SIGTRAP.
	if stopSig == unix.SIGTRAP|syscallGood {
		s.Kind = KindSyscall
		return s, nil
	}

	raw := int(status)
	additional := raw >> 16

	if additional == 0 {
		// Not a special ptrace-event stop: either a group-stop, a
		// signal-delivery-stop, or a clone-child stop disguised as
		// SIGSTOP. These four signals are the only ones the kernel can
		// use for job-control group-stops.
		switch stopSig {
		case unix.SIGSTOP, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU:
			siPid, err := getSigInfo(pid)
			switch {
			case err == nil && stopSig == unix.SIGSTOP && siPid == 0:
				s.Kind = KindCloneChild
				return s, nil
			case err == nil:
				s.Kind = KindSignalDelivery
				s.StopSignal = stopSig
				return s, nil
			case err == unix.EINVAL:
				s.Kind = KindGroupStop
				s.StopSignal = stopSig
				return s, nil
			case err == unix.ESRCH:
				// Tracee raced us to death; report as a signal
				// delivery stop, the exit will arrive shortly.
				s.Kind = KindSignalDelivery
				s.StopSignal = stopSig
				return s, nil
			default:
				return s, err
			}
		default:
			s.Kind = KindSignalDelivery
			s.StopSignal = stopSig
			return s, nil
		}
	}

	// A special ptrace stop: additional is the PTRACE_EVENT_* code, and
	// the kernel always signals SIGTRAP for these.
	switch additional {
	case eventSeccomp:
		s.Kind = KindSeccomp
		return s, nil
	case eventExec:
		s.Kind = KindExec
		msg, err := getEventMsg(pid)
		if err != nil {
			return s, err
		}
		s.FormerTid = int(msg)
		return s, nil
	case eventExit:
		s.Kind = KindExit
		msg, err := getEventMsg(pid)
		if err != nil {
			return s, err
		}
		s.PtraceExitStatus = int(msg)
		return s, nil
	case eventFork, eventVFork, eventClone:
		s.Kind = KindCloneParent
		msg, err := getEventMsg(pid)
		if err != nil {
			return s, err
		}
		s.ChildPid = int(msg)
		return s, nil
	case eventStop:
		switch stopSig {
		case unix.SIGTRAP:
			if _, err := getSigInfo(pid); err == unix.EINVAL {
				s.Kind = KindInterrupt
				return s, nil
			}
			s.Kind = KindCloneChild
			return s, nil
		case unix.SIGSTOP, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU:
			s.Kind = KindGroupStop
			s.StopSignal = stopSig
			return s, nil
		default:
			// Per spec §9 open question: any other PTRACE_EVENT_STOP
			// subtype is undocumented kernel behavior we don't model.
			panic("ptrace: unimplemented PTRACE_EVENT_STOP signal " + stopSig.String())
		}
	default:
		panic("ptrace: unknown PTRACE_EVENT_* code")
	}
}
