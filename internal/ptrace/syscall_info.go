//go:build linux
// +build linux

package ptrace

// SyscallInfoOp identifies which half of PTRACE_GET_SYSCALL_INFO's tagged
// union was populated by the kernel.
type SyscallInfoOp int

const (
	SyscallInfoNone SyscallInfoOp = iota
	SyscallInfoEntry
	SyscallInfoExit
	SyscallInfoSeccomp
)

// SyscallInfo is the decoded result of PTRACE_GET_SYSCALL_INFO.
type SyscallInfo struct {
	Arch    AuditArch
	Op      SyscallInfoOp
	Nr      uint64    // valid for Entry/Seccomp
	Args    [6]uint64 // valid for Entry/Seccomp
	RVal    int64     // valid for Exit
	IsError bool      // valid for Exit
}

// execveSyscallNumbers maps an AuditArch to the (execve, execveat) syscall
// numbers in effect for that ABI. Only the architectures this tracer is
// exercised on are populated; others fail closed in IsExecFamily.
var execveSyscallNumbers = map[AuditArch][2]uint64{
	AuditArchX86_64:  {59, 322},
	AuditArchI386:    {11, 358},
	AuditArchAARCH64: {221, 281},
	AuditArchARM:     {11, 387},
}

// IsExecFamily reports whether nr (under arch's ABI) is execve or execveat,
// and if so whether it is specifically execveat.
func IsExecFamily(arch AuditArch, nr uint64) (isExec, isExecveat bool) {
	pair, ok := execveSyscallNumbers[arch]
	if !ok {
		return false, false
	}
	switch nr {
	case pair[0]:
		return true, false
	case pair[1]:
		return true, true
	default:
		return false, false
	}
}
