//go:build linux
// +build linux

package seccomp

import (
	"fmt"
	"unsafe"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// prctl option/mode numbers not exported by golang.org/x/sys/unix under
// these names.
const (
	prSetNoNewPrivs  = 38
	prSetSeccomp     = 22
	seccompModeFilter = 2
)

// sockFprog mirrors struct sock_fprog, the kernel ABI PR_SET_SECCOMP
// expects: a 16-bit instruction count followed by a pointer to the first
// instruction. bpf.RawInstruction's field layout (Op uint16, Jt, Jf uint8,
// K uint32) is already bit-for-bit struct sock_filter, so it is reused
// directly rather than redeclared.
type sockFprog struct {
	Len    uint16
	_      [6]byte // padding to align Filter on its natural 8-byte boundary
	Filter *bpf.RawInstruction
}

// Install applies insns as the calling process's seccomp-bpf filter. It
// must be called by the tracee itself, after PTRACE_TRACEME/SIGSTOP and
// before the exec it wants traced, since a filter only affects the
// installing thread and its future children.
func Install(insns []bpf.RawInstruction) error {
	if len(insns) == 0 {
		return fmt.Errorf("seccomp: refusing to install an empty filter")
	}
	if err := unix.Prctl(prSetNoNewPrivs, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("seccomp: prctl(PR_SET_NO_NEW_PRIVS): %w", err)
	}
	prog := sockFprog{Len: uint16(len(insns)), Filter: &insns[0]}
	if err := unix.Prctl(prSetSeccomp, seccompModeFilter, uintptr(unsafe.Pointer(&prog)), 0, 0); err != nil {
		return fmt.Errorf("seccomp: prctl(PR_SET_SECCOMP): %w", err)
	}
	return nil
}
