/*
 * Copyright (C) 2019 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package tracer

import (
	"encoding/gob"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/anonymouse64/exectrace/internal/privdrop"
	"github.com/anonymouse64/exectrace/internal/ptrace"
	"github.com/anonymouse64/exectrace/internal/seccomp"
)

// childEnvVar marks a re-exec of our own binary as the root-tracee setup
// helper rather than an ordinary invocation, the same marker-env-var
// pattern used to give a seccomp filter or privilege drop a safe,
// fully-initialized Go process to run in instead of a bare fork(2).
const childEnvVar = "_EXECTRACE_CHILD"

// childConfig is sent to the re-exec'd helper over a pipe (fd 3), since it
// runs as an entirely separate process and can't share memory with the
// Tracer that spawned it.
type childConfig struct {
	Argv       []string
	Seccomp    bool
	ArchAudits []uint32
	RunAsUser  string
}

// RunChild is the root-tracee setup helper's entry point. A program using
// this package must call RunChild as the very first statement of main,
// before any flag parsing: it returns immediately (a no-op) for an
// ordinary invocation, and never returns for a re-exec'd helper instance
// (it execs into the real target or exits on setup failure).
func RunChild() {
	if os.Getenv(childEnvVar) == "" {
		return
	}
	os.Unsetenv(childEnvVar)
	if err := runChildBody(); err != nil {
		fmt.Fprintf(os.Stderr, "exectrace: child setup: %v\n", err)
		os.Exit(127)
	}
	panic("exectrace: unreachable after successful exec")
}

func runChildBody() error {
	f := os.NewFile(3, "exectrace-child-config")
	var cfg childConfig
	if err := gob.NewDecoder(f).Decode(&cfg); err != nil {
		return fmt.Errorf("decode child config: %w", err)
	}
	f.Close()

	if len(cfg.Argv) == 0 {
		return fmt.Errorf("empty target argv")
	}

	// Stop ourselves so the parent can reliably observe our pid via a
	// blocking, ordinary (non-ptrace) wait4 before racing to PTRACE_SEIZE.
	// We don't resume until the parent delivers SIGCONT.
	if err := unix.Kill(os.Getpid(), unix.SIGSTOP); err != nil {
		return fmt.Errorf("self SIGSTOP: %w", err)
	}

	if cfg.RunAsUser != "" {
		creds, err := privdrop.Resolve(cfg.RunAsUser)
		if err != nil {
			return err
		}
		if err := dropPrivileges(creds); err != nil {
			return fmt.Errorf("drop privileges to %q: %w", cfg.RunAsUser, err)
		}
	}

	if cfg.Seccomp {
		insns, err := seccomp.BuildExecTraceFilter(cfg.ArchAudits)
		if err != nil {
			return fmt.Errorf("build seccomp filter: %w", err)
		}
		if err := seccomp.Install(insns); err != nil {
			return fmt.Errorf("install seccomp filter: %w", err)
		}
	}

	abspath, err := exec.LookPath(cfg.Argv[0])
	if err != nil {
		return fmt.Errorf("%s: command not found", cfg.Argv[0])
	}
	return unix.Exec(abspath, cfg.Argv, os.Environ())
}

// dropPrivileges applies creds to the calling process directly, the
// fork-side equivalent of privdrop.Apply (which configures an exec.Cmd's
// SysProcAttr instead, for a caller that isn't already past its own fork).
func dropPrivileges(creds privdrop.Credentials) error {
	groups := make([]int, len(creds.Groups))
	for i, g := range creds.Groups {
		groups[i] = int(g)
	}
	if err := unix.Setgroups(groups); err != nil {
		return fmt.Errorf("setgroups: %w", err)
	}
	if err := unix.Setresgid(int(creds.GID), int(creds.GID), int(creds.GID)); err != nil {
		return fmt.Errorf("setresgid: %w", err)
	}
	if err := unix.Setresuid(int(creds.UID), int(creds.UID), int(creds.UID)); err != nil {
		return fmt.Errorf("setresuid: %w", err)
	}
	return nil
}

// currentAuditArch maps the running binary's GOARCH to the AUDIT_ARCH_*
// value the seccomp filter and the ptrace syscall-info decoder both key
// on for this host.
func currentAuditArch() (uint32, error) {
	switch runtime.GOARCH {
	case "amd64":
		return uint32(ptrace.AuditArchX86_64), nil
	case "386":
		return uint32(ptrace.AuditArchI386), nil
	case "arm64":
		return uint32(ptrace.AuditArchAARCH64), nil
	case "arm":
		return uint32(ptrace.AuditArchARM), nil
	default:
		return 0, fmt.Errorf("tracer: unsupported architecture %q", runtime.GOARCH)
	}
}

// spawnRoot re-execs the running binary with the marker childEnvVar set,
// hands the real target argv and setup parameters over a pipe, waits for
// the helper's self-SIGSTOP, seizes it, and releases it to continue into
// its own exec. The target's own first exec is therefore the first
// ptrace-stop the tracer ever sees for this pid.
func (t *Tracer) spawnRoot(argv []string) (int, error) {
	archAudit, err := currentAuditArch()
	if err != nil {
		return 0, err
	}
	cfg := childConfig{
		Argv:       argv,
		Seccomp:    t.cfg.Seccomp,
		ArchAudits: []uint32{archAudit},
		RunAsUser:  t.cfg.RunAsUser,
	}

	exePath, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("tracer: cannot resolve own executable: %w", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("tracer: cannot open config pipe: %w", err)
	}

	cmd := exec.Command(exePath)
	cmd.Env = append(os.Environ(), childEnvVar+"=1")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{r}

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return 0, fmt.Errorf("tracer: cannot start root child: %w", err)
	}
	r.Close()

	encErr := gob.NewEncoder(w).Encode(cfg)
	w.Close()
	if encErr != nil {
		return 0, fmt.Errorf("tracer: cannot send child config: %w", encErr)
	}

	pid := cmd.Process.Pid
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, unix.WUNTRACED, nil); err != nil {
		return 0, fmt.Errorf("tracer: waiting for root child's self-stop: %w", err)
	}
	if !ws.Stopped() || ws.StopSignal() != unix.SIGSTOP {
		return 0, fmt.Errorf("tracer: root child's first stop was %v, not a SIGSTOP group-stop", ws)
	}

	if err := t.eng.SeizeRoot(pid); err != nil {
		return 0, fmt.Errorf("tracer: PTRACE_SEIZE on root child: %w", err)
	}
	if err := unix.Kill(pid, unix.SIGCONT); err != nil {
		return 0, fmt.Errorf("tracer: releasing root child from its self-stop: %w", err)
	}

	return pid, nil
}
