//go:build linux
// +build linux

package ptrace

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestClassifyExited(t *testing.T) {
	// WIFEXITED: low byte zero, exit code in the next byte.
	status := unix.WaitStatus(42 << 8)
	stop, err := classify(100, status)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !stop.Exited || stop.ExitCode != 42 {
		t.Fatalf("classify(exited) = %+v, want Exited=true ExitCode=42", stop)
	}
}

func TestClassifySignaled(t *testing.T) {
	// WIFSIGNALED: low 7 bits hold the terminating signal, not 0 or 0x7f.
	status := unix.WaitStatus(uint32(unix.SIGKILL))
	stop, err := classify(100, status)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !stop.Signaled || stop.TermSig != unix.SIGKILL {
		t.Fatalf("classify(signaled) = %+v, want Signaled=true TermSig=SIGKILL", stop)
	}
}

func TestClassifyOrdinarySyscallStop(t *testing.T) {
	// WIFSTOPPED with stop signal SIGTRAP|0x80, the TRACESYSGOOD marker
	// that disambiguates an ordinary syscall stop without any further
	// ptrace call.
	stopSig := uint32(unix.SIGTRAP) | syscallGood
	status := unix.WaitStatus(0x7f | (stopSig << 8))
	stop, err := classify(100, status)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if stop.Kind != KindSyscall {
		t.Fatalf("classify(syscall-stop) kind = %v, want KindSyscall", stop.Kind)
	}
}

func TestStopKindString(t *testing.T) {
	cases := map[StopKind]string{
		KindSyscall:        "syscall-stop",
		KindSeccomp:        "seccomp-stop",
		KindSignalDelivery: "signal-delivery-stop",
		KindCloneChild:     "clone-child-stop",
		KindCloneParent:    "clone-parent-stop",
		KindGroupStop:      "group-stop",
		KindInterrupt:      "interrupt-stop",
		KindExec:           "exec-stop",
		KindExit:           "exit-stop",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("StopKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
