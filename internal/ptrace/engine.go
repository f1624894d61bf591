//go:build linux
// +build linux

package ptrace

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Options configures which ptrace options are requested on seize.
type Options struct {
	// Seccomp enables PTRACE_O_TRACESECCOMP; the caller must have already
	// installed a seccomp-bpf filter in the tracee that returns
	// SECCOMP_RET_TRACE for the syscalls of interest (internal/seccomp).
	Seccomp bool
}

func (o Options) bits() uintptr {
	bits := uintptr(optTraceExec | optExitKill | optTraceSysGood |
		optTraceClone | optTraceFork | optTraceVFork)
	if o.Seccomp {
		bits |= optTraceSeccomp
	}
	return bits
}

// Engine drives the waitpid/ptrace loop for a recursively-traced process
// tree. It holds no per-pid semantics of its own (that is the
// process-state store's job); it only classifies stops and hands back
// capability-typed guards.
type Engine struct {
	opts      Options
	optBits   uintptr
}

// NewEngine constructs an engine that will request opts when seizing.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts, optBits: opts.bits()}
}

// SeizeRoot attaches to an already-spawned, not-yet-exec'd root child with
// PTRACE_SEIZE. The child is expected to have stopped itself (e.g. by
// raising SIGSTOP) before calling execve, so that this seize races
// correctly with the child's own progress; see internal/tracer's
// spawnRoot and RunChild for the exact startup handshake.
func (e *Engine) SeizeRoot(pid int) error {
	return seize(pid, e.optBits)
}

// SeizeChild attaches to a new, already-cloned child discovered via a
// CloneParent/CloneChild handshake. Options are the same as for the root.
//
// In practice children born under TRACECLONE/TRACEFORK/TRACEVFORK are
// already traced by the kernel the moment they're created, so the
// orchestrator does not need to call this for ordinary clone-discovered
// children; it remains here for a caller that picks up a child through
// some other channel (e.g. a PID handed in externally).
func (e *Engine) SeizeChild(pid int) error {
	return seize(pid, e.optBits)
}

// AttachRoot finishes attaching to a root child that was started via
// os/exec's SysProcAttr.Ptrace (PTRACE_TRACEME), which already establishes
// the tracer relationship and delivers one ordinary SIGTRAP stop at the
// child's first exec; this just applies the same option bits SeizeRoot
// would have, since PTRACE_SEIZE itself is neither needed nor valid for a
// tracee that attached via TRACEME.
func (e *Engine) AttachRoot(pid int) error {
	return setOptions(pid, e.optBits)
}

// SuspendSeccomp disables pid's seccomp-bpf filter via
// PTRACE_O_SUSPEND_SECCOMP, per spec §4.8's external request channel
// operation.
func (e *Engine) SuspendSeccomp(pid int) error {
	return suspendSeccomp(pid, e.optBits)
}

// NextEvent performs one waitpid(2) cycle (optionally non-blocking) and
// classifies the result. flags is passed through to wait4 with __WALL
// added, so callers drive both the blocking "wait for something" mode and the
// WNOHANG-driven drain-then-yield mode described in spec §4.4.
func (e *Engine) NextEvent(flags int) (Stop, *Guard, error) {
	var ws unix.WaitStatus
	pid, err := unix.Wait4(-1, &ws, flags|unix.WALL, nil)
	if err != nil {
		return Stop{}, nil, err
	}
	if pid == 0 {
		// WNOHANG: nothing to collect right now.
		return Stop{}, nil, nil
	}
	stop, err := classify(pid, ws)
	if err != nil {
		return stop, nil, err
	}
	if stop.Exited || stop.Signaled {
		return stop, nil, nil
	}
	return stop, newGuard(pid, stop.Kind, e.opts.Seccomp), nil
}

// GetSyscallInfo issues PTRACE_GET_SYSCALL_INFO for the given guard's pid.
// Valid at SyscallStop and SeccompStop.
func (e *Engine) GetSyscallInfo(g *Guard) (*SyscallInfo, error) {
	if g.kind != KindSyscall && g.kind != KindSeccomp {
		return nil, fmt.Errorf("ptrace: GetSyscallInfo invalid for %s", g.kind)
	}
	return getSyscallInfo(g.pid)
}

// GetGeneralRegs issues PTRACE_GETREGSET(NT_PRSTATUS) and reports which
// register-struct layout the kernel filled in (its length discriminates a
// 32-bit compat tracee from a 64-bit one on x86_64, independent of the
// AuditArch tag carried in SyscallInfo; spec §4.4/§6).
func (e *Engine) GetGeneralRegs(g *Guard) (bitness int, raw []byte, err error) {
	buf := make([]byte, 27*8) // x86_64 user_regs_struct upper bound
	n, err := getRegSet(g.pid, buf)
	if err != nil {
		return 0, nil, err
	}
	if n <= 17*4 {
		return 32, buf[:n], nil
	}
	return 64, buf[:n], nil
}
