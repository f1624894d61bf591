//go:build linux
// +build linux

// Package seccomp builds the BPF program a tracee installs on itself
// before exec so that only execve/execveat syscalls trap to the tracer
// (PTRACE_EVENT_SECCOMP); everything else is SECCOMP_RET_ALLOW, per spec
// §4.8. The program is assembled with golang.org/x/net/bpf, the same
// classic-BPF assembler package the rest of the Go ecosystem uses for
// socket filters, repurposed here for seccomp's (distinct but
// binary-compatible) instruction encoding.
package seccomp

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// Seccomp return values (linux/seccomp.h SECCOMP_RET_*), shifted into the
// high 16 bits per kernel ABI; the low 16 bits carry SECCOMP_RET_DATA.
const (
	retAllow uint32 = 0x7fff0000
	retTrace uint32 = 0x7ff00000
)

// seccompData mirrors struct seccomp_data: the BPF program sees this laid
// out at the start of its (fake) packet buffer.
// offsetof(seccomp_data, nr) == 0, arch == 4, instruction_pointer == 8.
const (
	offNr   = 0
	offArch = 4
)

// archSyscallNumbers mirrors internal/ptrace's execveSyscallNumbers table;
// duplicated here (rather than imported) so the seccomp package has no
// dependency on the ptrace package — the filter must be buildable and
// installable by the tracee *before* any ptrace relationship exists.
var archSyscallNumbers = map[uint32][2]uint32{
	0xc000003e: {59, 322},  // AUDIT_ARCH_X86_64: execve, execveat
	0x40000003: {11, 358},  // AUDIT_ARCH_I386
	0xc00000b7: {221, 281}, // AUDIT_ARCH_AARCH64
	0x40000028: {11, 387},  // AUDIT_ARCH_ARM
}

// BuildExecTraceFilter assembles a BPF program that returns
// SECCOMP_RET_TRACE for execve/execveat on any of the given architectures
// and SECCOMP_RET_ALLOW otherwise. archAudits are AUDIT_ARCH_* values; at
// least one must be given.
func BuildExecTraceFilter(archAudits []uint32) ([]bpf.RawInstruction, error) {
	if len(archAudits) == 0 {
		return nil, fmt.Errorf("seccomp: at least one architecture is required")
	}

	var insns []bpf.Instruction

	// Load arch once, then for each requested arch, check whether nr
	// matches either exec syscall for that arch. Each arch contributes one
	// block of "jeq arch,next; load nr; jeq execve,trace; jeq
	// execveat,trace; ja allow" — laid out so a non-matching arch falls
	// through to the next arch's check, and the final fallthrough is ALLOW.
	insns = append(insns, bpf.LoadAbsolute{Off: offArch, Size: 4})

	type block struct {
		execve, execveat uint32
	}
	var blocks []block
	for _, arch := range archAudits {
		pair, ok := archSyscallNumbers[arch]
		if !ok {
			return nil, fmt.Errorf("seccomp: unsupported architecture audit value 0x%x", arch)
		}
		blocks = append(blocks, block{execve: pair[0], execveat: pair[1]})
	}

	// One arch-compare jump, one load of nr, one jump per exec syscall and
	// one jump to ALLOW, per block.
	const perBlock = 5
	for i, arch := range archAudits {
		pair := blocks[i]
		remaining := (len(archAudits) - i - 1) * perBlock
		// On an arch mismatch, skip this block's other four instructions to
		// reach the next block's arch compare; the last block instead lands
		// on its own jump to ALLOW.
		skipFalse := uint8(4)
		if remaining == 0 {
			skipFalse = 3
		}
		insns = append(insns, bpf.JumpIf{
			Cond:      bpf.JumpEqual,
			Val:       arch,
			SkipFalse: skipFalse,
		})
		insns = append(insns, bpf.LoadAbsolute{Off: offNr, Size: 4})
		insns = append(insns, bpf.JumpIf{Cond: bpf.JumpEqual, Val: pair.execve, SkipTrue: uint8(remaining + 2)})
		insns = append(insns, bpf.JumpIf{Cond: bpf.JumpEqual, Val: pair.execveat, SkipTrue: uint8(remaining + 1)})
		// Skip the remaining blocks *and* the shared RetConstant{retTrace}
		// below so a non-exec syscall (or, on the last block, a mismatched
		// arch) falls through to RetConstant{retAllow}, not retTrace.
		insns = append(insns, bpf.Jump{Skip: uint32(remaining + 1)})
	}
	insns = append(insns, bpf.RetConstant{Val: retTrace})
	insns = append(insns, bpf.RetConstant{Val: retAllow})

	return bpf.Assemble(insns)
}

// Mode selects whether the seccomp fast path is used at all (spec §6
// Configuration: seccomp-bpf: auto|on|off).
type Mode int

const (
	ModeAuto Mode = iota
	ModeOn
	ModeOff
)

// ParseMode parses the --seccomp CLI flag value.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "auto":
		return ModeAuto, nil
	case "on":
		return ModeOn, nil
	case "off":
		return ModeOff, nil
	default:
		return ModeOff, fmt.Errorf("seccomp: invalid mode %q, want auto|on|off", s)
	}
}

// Resolve decides whether seccomp should actually be used, applying the
// spec §4.8 rule that --user disables it unconditionally (NO_NEW_PRIVS,
// required to install a seccomp filter without CAP_SYS_ADMIN, breaks
// set-uid execution).
func (m Mode) Resolve(runAsUserSet bool) bool {
	if runAsUserSet {
		return false
	}
	switch m {
	case ModeOn:
		return true
	case ModeOff:
		return false
	default: // ModeAuto
		return true
	}
}
