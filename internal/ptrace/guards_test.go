//go:build linux
// +build linux

package ptrace

import (
	"testing"

	"golang.org/x/sys/unix"
)

// invalidPid is chosen well above any real pid_max so these guard-misuse
// tests never touch a live process; the real syscall beneath a rejected
// operation should simply fail with ESRCH.
const invalidPid = 999999999

func TestGuardPidAndKind(t *testing.T) {
	g := newGuard(invalidPid, KindSyscall, false)
	if g.Pid() != invalidPid {
		t.Errorf("Pid() = %d, want %d", g.Pid(), invalidPid)
	}
	if g.Kind() != KindSyscall {
		t.Errorf("Kind() = %v, want KindSyscall", g.Kind())
	}
}

func TestGuardListenWrongKindPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Listen on a non-group-stop guard: want panic, got none")
		}
	}()
	g := newGuard(invalidPid, KindSyscall, false)
	g.Listen()
}

func TestGuardInjectedContSyscallWrongKindPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("InjectedContSyscall on a non-signal-delivery guard: want panic, got none")
		}
	}()
	g := newGuard(invalidPid, KindSyscall, false)
	g.InjectedContSyscall(unix.SIGCONT)
}

func TestGuardInjectedDetachWrongKindPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("InjectedDetach on a non-signal-delivery guard: want panic, got none")
		}
	}()
	g := newGuard(invalidPid, KindSyscall, false)
	g.InjectedDetach(unix.SIGCONT)
}

func TestGuardDoubleContinuePanics(t *testing.T) {
	g := newGuard(invalidPid, KindSyscall, false)
	g.ContSyscall() // fails against invalidPid, but still marks continued

	defer func() {
		if recover() == nil {
			t.Fatal("second continuation on an already-continued guard: want panic, got none")
		}
	}()
	g.ContSyscall()
}

func TestGuardSeccompAwareContSyscallChoosesPlainContOnSeccompStop(t *testing.T) {
	g := newGuard(invalidPid, KindSeccomp, true)
	// Exercises the seccompOn && KindSeccomp branch; the underlying syscall
	// fails against invalidPid, only the dispatch itself is under test.
	g.SeccompAwareContSyscall()
	if !g.continued {
		t.Fatal("SeccompAwareContSyscall did not mark the guard continued")
	}
}
