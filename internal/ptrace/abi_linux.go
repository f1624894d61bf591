//go:build linux
// +build linux

// Package ptrace wraps the raw ptrace(2)/waitpid(2) interface needed to
// recursively trace a process tree's execve/execveat calls.
package ptrace

import "golang.org/x/sys/unix"

// Request numbers and option bits not exposed (or not exposed uniformly
// across architectures) by golang.org/x/sys/unix. Values taken from
// <linux/ptrace.h>.
const (
	ptraceTraceMe     = unix.PTRACE_TRACEME
	ptracePeekData     = unix.PTRACE_PEEKDATA
	ptraceCont         = unix.PTRACE_CONT
	ptraceKill         = unix.PTRACE_KILL
	ptraceSingleStep   = unix.PTRACE_SINGLESTEP
	ptraceGetRegs      = unix.PTRACE_GETREGS
	ptraceSetRegs      = unix.PTRACE_SETREGS
	ptraceSetOptions   = unix.PTRACE_SETOPTIONS
	ptraceGetEventMsg  = unix.PTRACE_GETEVENTMSG
	ptraceGetSigInfo   = unix.PTRACE_GETSIGINFO
	ptraceSyscall      = unix.PTRACE_SYSCALL
	ptraceSeize        = 0x4206
	ptraceInterrupt    = 0x4207
	ptraceListen       = 0x4208
	ptraceDetach       = unix.PTRACE_DETACH
	ptraceGetRegSet    = 0x4204
	ptraceGetSysInfo   = 0x420e // PTRACE_GET_SYSCALL_INFO

	// PTRACE_SEIZE / PTRACE_SETOPTIONS option bits.
	optExitKill      = 0x00100000
	optTraceSysGood  = 0x00000001
	optTraceFork     = 0x00000002
	optTraceVFork    = 0x00000004
	optTraceClone    = 0x00000008
	optTraceExec     = 0x00000010
	optTraceVForkDone = 0x00000020
	optTraceExit     = 0x00000040
	optTraceSeccomp  = 0x00000080
	optSuspendSeccomp = 0x00200000

	// PTRACE_EVENT_* (status >> 16 after a SIGTRAP group stop).
	eventFork       = 1
	eventVFork      = 2
	eventClone      = 3
	eventExec       = 4
	eventVForkDone  = 5
	eventExit       = 6
	eventSeccomp    = 7
	eventStop       = 128

	// NT_PRSTATUS is the regset type used for general purpose registers.
	ntPRStatus = 1
)

// syscallGood is the bit TRACESYSGOOD ORs into SIGTRAP for syscall stops.
const syscallGood = 0x80

// AuditArch identifies the syscall ABI in effect at a stop, as returned in
// ptrace_syscall_info.arch. Values are the kernel's AUDIT_ARCH_* constants.
type AuditArch uint32

const (
	AuditArchX86_64  AuditArch = 0xc000003e
	AuditArchI386    AuditArch = 0x40000003
	AuditArchAARCH64 AuditArch = 0xc00000b7
	AuditArchARM     AuditArch = 0x40000028
)

// Is32Bit reports whether the ABI in force at a stop uses 32-bit pointers,
// which changes the stride used when walking argv/envp arrays (§8 testable
// property: architecture disambiguation).
func (a AuditArch) Is32Bit() bool {
	switch a {
	case AuditArchI386, AuditArchARM:
		return true
	default:
		return false
	}
}

// PointerSize returns the width in bytes of a pointer under this ABI.
func (a AuditArch) PointerSize() int {
	if a.Is32Bit() {
		return 4
	}
	return 8
}

// ptraceSyscallInfo mirrors struct ptrace_syscall_info from <linux/ptrace.h>,
// trimmed to the "entry" layout (arg0-5) which is a strict superset of the
// fields needed for "exit" (rval, is_error) decoding; we read the raw bytes
// and interpret based on Op.
type ptraceSyscallInfo struct {
	Op            uint8
	_             [3]byte
	Arch          uint32
	InstrPointer  uint64
	StackPointer  uint64
	// union of entry/exit/seccomp payloads follows; entry is the largest.
	Entry ptraceSyscallEntry
}

type ptraceSyscallEntry struct {
	Nr   uint64
	Args [6]uint64
}

// Syscall info Op values.
const (
	sysInfoOpNone    = 0
	sysInfoOpEntry   = 1
	sysInfoOpExit    = 2
	sysInfoOpSeccomp = 3
)

// syscallExitRaw is the decoded "exit" payload: the kernel overlays {rval(i64),
// is_error(u8)} over the same bytes as the entry union.
type syscallExitRaw struct {
	RVal    int64
	IsError uint8
}
