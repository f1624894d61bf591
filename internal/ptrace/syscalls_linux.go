//go:build linux
// +build linux

package ptrace

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// rawPtrace issues a raw ptrace(2) request via SYS_PTRACE, bypassing the
// subset of requests golang.org/x/sys/unix chooses to wrap at a higher
// level. This is required for PTRACE_SEIZE and PTRACE_GET_SYSCALL_INFO,
// neither of which unix exposes directly.
func rawPtrace(request int, pid int, addr, data uintptr) (uintptr, error) {
	r1, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(request), uintptr(pid), addr, data, 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return r1, nil
}

// seize attaches to pid with PTRACE_SEIZE and the given option bits. Unlike
// PTRACE_ATTACH, SEIZE does not stop the tracee and does not generate a
// stop of its own; the tracee must already be stopped (e.g. racing its own
// initial SIGSTOP) for the first ptrace-stop to be observed via waitpid.
func seize(pid int, options uintptr) error {
	_, err := rawPtrace(ptraceSeize, pid, 0, options)
	return err
}

// setOptions updates ptrace options on an already-attached tracee.
func setOptions(pid int, options uintptr) error {
	_, err := rawPtrace(ptraceSetOptions, pid, 0, options)
	return err
}

// cont resumes a tracee, stopping again only at the next signal-delivery
// stop (none of the other special stops). sig is redelivered if nonzero.
func cont(pid int, sig int) error {
	_, err := rawPtrace(ptraceCont, pid, 0, uintptr(sig))
	return err
}

// contSyscall resumes a tracee until its next syscall-entry or -exit stop.
func contSyscall(pid int, sig int) error {
	_, err := rawPtrace(ptraceSyscall, pid, 0, uintptr(sig))
	return err
}

// listen acknowledges a group-stop without resuming the tracee.
func listen(pid int) error {
	_, err := rawPtrace(ptraceListen, pid, 0, 0)
	return err
}

// interrupt requests that a running (e.g. SECCOMP/SEIZE-attached) tracee
// stop at the next convenient point, surfacing as an InterruptStop.
func interrupt(pid int) error {
	_, err := rawPtrace(ptraceInterrupt, pid, 0, 0)
	return err
}

// detach detaches from pid, optionally delivering sig as it does so.
func detach(pid int, sig int) error {
	_, err := rawPtrace(ptraceDetach, pid, 0, uintptr(sig))
	return err
}

// suspendSeccomp disables the tracee's installed seccomp-bpf filter via
// PTRACE_O_SUSPEND_SECCOMP, exposed for the external request channel per
// spec §4.8.
func suspendSeccomp(pid int, currentOptions uintptr) error {
	return setOptions(pid, currentOptions|optSuspendSeccomp)
}

// getSigInfo fetches siginfo_t for disambiguating stop kinds. The returned
// si_pid is what distinguishes a disguised clone-child stop (si_pid == 0)
// from a genuine signal delivery.
func getSigInfo(pid int) (siPid int32, err error) {
	var info [128]byte // siginfo_t is at most 128 bytes on linux
	_, err = rawPtrace(ptraceGetSigInfo, pid, 0, uintptr(unsafe.Pointer(&info[0])))
	if err != nil {
		return 0, err
	}
	// siginfo_t layout: si_signo(4) si_errno(4) si_code(4) then a union
	// aligned to the pointer size (offset 16 on 64-bit, 12 on 32-bit); for
	// kill-generated signals the union starts with si_pid(4) si_uid(4).
	off := 12
	if unsafe.Sizeof(uintptr(0)) == 8 {
		off = 16
	}
	siPid = int32(info[off]) | int32(info[off+1])<<8 | int32(info[off+2])<<16 | int32(info[off+3])<<24
	return siPid, nil
}

// getEventMsg fetches the auxiliary value associated with the last
// PTRACE_EVENT_* stop (new child pid for CLONE/FORK/VFORK, former tid for
// EXEC, exit status for EXIT).
func getEventMsg(pid int) (uint64, error) {
	var msg uint64
	_, err := rawPtrace(ptraceGetEventMsg, pid, 0, uintptr(unsafe.Pointer(&msg)))
	return msg, err
}

// getSyscallInfo issues PTRACE_GET_SYSCALL_INFO, returning the decoded
// architecture tag, operation kind, syscall number and argument registers.
// It is valid at syscall-entry, syscall-exit and seccomp stops alike.
func getSyscallInfo(pid int) (*SyscallInfo, error) {
	var raw ptraceSyscallInfo
	size := unsafe.Sizeof(raw)
	n, err := rawPtrace(ptraceGetSysInfo, pid, size, uintptr(unsafe.Pointer(&raw)))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("ptrace: PTRACE_GET_SYSCALL_INFO returned no data for pid %d", pid)
	}
	info := &SyscallInfo{
		Arch: AuditArch(raw.Arch),
	}
	switch raw.Op {
	case sysInfoOpEntry:
		info.Op = SyscallInfoEntry
		info.Nr = raw.Entry.Nr
		info.Args = raw.Entry.Args
	case sysInfoOpExit:
		info.Op = SyscallInfoExit
		exit := (*syscallExitRaw)(unsafe.Pointer(&raw.Entry))
		info.RVal = exit.RVal
		info.IsError = exit.IsError != 0
	case sysInfoOpSeccomp:
		info.Op = SyscallInfoSeccomp
		info.Nr = raw.Entry.Nr
		info.Args = raw.Entry.Args
	default:
		info.Op = SyscallInfoNone
	}
	return info, nil
}

// peekData reads one word at addr in the tracee's address space.
func peekData(pid int, addr uintptr) (uintptr, error) {
	var word uintptr
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(ptracePeekData), uintptr(pid), addr, uintptr(unsafe.Pointer(&word)), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return word, nil
}

// getRegSet fetches NT_PRSTATUS via PTRACE_GETREGSET. The returned byte
// slice's length tells the caller whether it decoded a 64-bit or 32-bit
// register structure (on x86_64 these differ in size), per spec §4.4 and
// the external interfaces section.
func getRegSet(pid int, buf []byte) (int, error) {
	iov := unix.Iovec{Base: &buf[0]}
	iov.SetLen(len(buf))
	_, err := rawPtrace(ptraceGetRegSet, pid, ntPRStatus, uintptr(unsafe.Pointer(&iov)))
	if err != nil {
		return 0, err
	}
	return int(iov.Len), nil
}
