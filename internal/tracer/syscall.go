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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anonymouse64/exectrace/internal/breakpoint"
	"github.com/anonymouse64/exectrace/internal/events"
	"github.com/anonymouse64/exectrace/internal/inspector"
	"github.com/anonymouse64/exectrace/internal/procfs"
	"github.com/anonymouse64/exectrace/internal/ptrace"
	"github.com/anonymouse64/exectrace/internal/store"
)

const (
	atFDCWD     = -100
	atEmptyPath = 0x1000
)

// onSyscallEnter implements the exec-enter half of the tracer's syscall
// handling. fromSeccomp indicates the stop arrived as a seccomp-stop
// (always enter-equivalent) rather than an ordinary syscall-entry stop.
func (t *Tracer) onSyscallEnter(guard *ptrace.Guard, fromSeccomp bool) error {
	pid := guard.Pid()
	st, ok := t.st.Get(pid)
	if !ok {
		st = t.st.EnsureRoot(pid)
	}
	if fromSeccomp {
		// A seccomp stop takes the place of the syscall-entry stop, so the
		// next syscall stop for this pid is the matching exit.
		st.Presyscall = false
	}

	info, err := t.eng.GetSyscallInfo(guard)
	if err != nil {
		return fmt.Errorf("tracer: GetSyscallInfo at enter for pid %d: %w", pid, err)
	}

	isExec, isExecveat := ptrace.IsExecFamily(info.Arch, info.Nr)
	if !isExec {
		st.Syscall = store.SyscallOther
		return t.continueEnter(guard, fromSeccomp)
	}
	if isExecveat {
		st.Syscall = store.SyscallExecveat
	} else {
		st.Syscall = store.SyscallExecve
	}

	ptrSize := info.Arch.PointerSize()
	rdr := inspector.NewReader(pid)

	var argvAddr, envpAddr uintptr
	var filename string

	if isExecveat {
		dirfd := int32(info.Args[0])
		pathnameAddr := uintptr(info.Args[1])
		argvAddr = uintptr(info.Args[2])
		envpAddr = uintptr(info.Args[3])
		flags := info.Args[4]

		pathRes := rdr.ReadString(pathnameAddr)
		filename = t.resolveExecveat(pid, dirfd, pathRes.Value, flags)
	} else {
		filenameAddr := uintptr(info.Args[0])
		argvAddr = uintptr(info.Args[1])
		envpAddr = uintptr(info.Args[2])
		filenameRes := rdr.ReadString(filenameAddr)
		filename = filenameRes.Value
		if t.cfg.ResolveProcSelfExe && filename == "/proc/self/exe" {
			if exe, err := t.pf.Exe(pid); err == nil {
				filename = exe
			}
		}
	}

	st.ExecData = &store.ExecData{Filename: filename}

	argv, argvErr := readStringArray(rdr, argvAddr, ptrSize)
	st.ExecData.Argv = events.InspectField[[]string]{Value: argv, Err: argvErr}

	envp, envpErr := readStringArray(rdr, envpAddr, ptrSize)
	st.ExecData.Envp = events.InspectField[[]string]{Value: envp, Err: envpErr}

	if cwd, err := t.pf.Cwd(pid); err == nil {
		st.ExecData.Cwd = cwd
	}
	if fds, err := t.pf.FDInfoCollection(pid); err == nil {
		if t.cfg.HideCloexecFds {
			fds = fds.HideCloExec()
		}
		st.ExecData.FDInfo = t.toFDInfoView(pid, fds)
	}
	st.ExecData.Interpreters = t.readInterpreterChain(pid, st.ExecData.Filename)
	st.ExecData.Timestamp = execTimestamp(t.cfg.Timestamps)

	if hits := t.bps.Match(breakpoint.StopSyscallEnter, argv, st.ExecData.Filename); len(hits) > 0 {
		t.parkBreakpoint(guard, st, hits[0], true)
		return nil
	}

	return t.continueEnter(guard, fromSeccomp)
}

// continueEnter issues the correct continuation for an enter-phase stop:
// PTRACE_CONT for a seccomp stop (the next trap is the exit syscall stop
// directly), PTRACE_SYSCALL otherwise.
func (t *Tracer) continueEnter(guard *ptrace.Guard, fromSeccomp bool) error {
	if fromSeccomp {
		return guard.SeccompAwareContSyscall()
	}
	return guard.ContSyscall()
}

// onSyscallExit implements the exec-exit half of the tracer's syscall
// handling: it turns a completed ExecData candidate into an ExecEvent.
func (t *Tracer) onSyscallExit(guard *ptrace.Guard) error {
	pid := guard.Pid()
	st, ok := t.st.Get(pid)
	if !ok || st.ExecData == nil {
		return guard.SeccompAwareContSyscall()
	}

	info, err := t.eng.GetSyscallInfo(guard)
	if err != nil {
		return fmt.Errorf("tracer: GetSyscallInfo at exit for pid %d: %w", pid, err)
	}

	result, clearSticky := execResult(st.IsExecSuccessful, info.IsError, info.RVal)
	if clearSticky {
		st.IsExecSuccessful = false
	}

	if t.cfg.SuccessfulOnly && result != 0 {
		st.ExecData = nil
		return guard.SeccompAwareContSyscall()
	}

	newID := t.ids.Next()
	parent := parentEventFor(&st.ParentTracker, newID)

	ev := events.ExecEvent{
		ID:           newID,
		Timestamp:    st.ExecData.Timestamp,
		Pid:          pid,
		Comm:         st.Comm,
		Cwd:          events.InspectField[string]{Value: st.ExecData.Cwd},
		Filename:     st.ExecData.Filename,
		Argv:         st.ExecData.Argv,
		Envp:         st.ExecData.Envp,
		Interpreters: st.ExecData.Interpreters,
		FDInfo:       st.ExecData.FDInfo,
		Result:       result,
		Parent:       parent,
	}
	if st.ExecData.Envp.Err == nil {
		ev.EnvDiff = events.InspectField[events.EnvDiff]{Value: events.DiffEnv(t.baseline.Env, st.ExecData.Envp.Value)}
	} else {
		ev.EnvDiff = events.InspectField[events.EnvDiff]{Err: st.ExecData.Envp.Err}
	}
	if creds, err := t.pf.Status(pid); err == nil {
		ev.Credentials = events.Credentials{
			UID: creds.UID, EUID: creds.EUID,
			GID: creds.GID, EGID: creds.EGID,
			Groups: creds.Groups,
		}
	}

	t.st.AssociateEvent(pid, newID)
	t.emit(events.Message{Event: &events.TracerEvent{ID: newID, Kind: events.DetailExec, Exec: ev}})

	st.ExecData = nil
	if comm, err := t.pf.Comm(pid); err == nil {
		st.Comm = comm
	}

	if hits := t.bps.Match(breakpoint.StopSyscallExit, ev.Argv.Value, ev.Filename); len(hits) > 0 {
		t.parkBreakpoint(guard, st, hits[0], false)
		return nil
	}
	return guard.SeccompAwareContSyscall()
}

// execResult decides an exec syscall's recorded result per spec §4.4's
// final step: a successful exec (signaled by the sticky IsExecSuccessful
// flag set at the prior PTRACE_EVENT_EXEC stop) always records 0, since the
// kernel's own exit-stop register/return state describes a replaced address
// space and is unreliable on some architectures; that flag is reported back
// for the caller to clear once consumed. Otherwise the kernel's own
// is-error/return-value pair from this exit stop decides it.
func execResult(wasExecSuccessful bool, isError bool, rval int64) (result int, clearSticky bool) {
	if wasExecSuccessful {
		return 0, true
	}
	if isError {
		return int(rval), false
	}
	return 0, false
}

// parentEventFor computes this exec's causal ParentEvent and advances pt
// to reference the event just created: a process's second (and later)
// exec becomes a Become reference to its own previous exec; a process's
// first exec becomes a Spawn reference to whatever its creator had last
// exec'd at fork time, if anything.
func parentEventFor(pt *store.ParentTracker, newID events.ID) events.ParentEvent {
	var parent events.ParentEvent
	switch {
	case pt.LastExecEventID != nil:
		parent = events.Become(*pt.LastExecEventID)
	case pt.ParentLastExec != nil:
		parent = events.Spawn(*pt.ParentLastExec)
	}
	id := newID
	pt.LastExecEventID = &id
	return parent
}

func (t *Tracer) parkBreakpoint(guard *ptrace.Guard, st *store.ProcessState, bp breakpoint.Breakpoint, enter bool) {
	t.nextHitID++
	hid := t.nextHitID
	st.Status = store.StatusBreakpointHit
	t.parked[guard.Pid()] = &parkedGuard{guard: guard, breakpointID: bp.ID, hitID: hid, enter: enter}
	if bp.OneShot {
		t.bps.Deactivate(bp.ID)
	}
	t.emit(events.Message{StateUpdate: &events.ProcessStateUpdateEvent{
		Pid:          guard.Pid(),
		Ids:          st.AssociatedEvents,
		Kind:         events.UpdateBreakpointHit,
		HitID:        hid,
		BreakpointID: bp.ID,
	}})
}

// readStringArray adapts inspector.Reader.ReadStringArray's []Result into
// the plain []string + single error shape events.ExecEvent wants: an
// individual partial/gone entry still contributes its best-effort value.
func readStringArray(rdr *inspector.Reader, addr uintptr, ptrSize int) ([]string, error) {
	results, err := rdr.ReadStringArray(addr, ptrSize)
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Value
	}
	return out, err
}

// toFDInfoView converts a procfs fd snapshot into the leaf events.FDInfoView
// shape, resolving each entry's mount source lazily (a mountinfo lookup per
// distinct mount id observed, not per fd).
func (t *Tracer) toFDInfoView(pid int, fds procfs.FDInfoCollection) map[int]events.FDInfoView {
	out := make(map[int]events.FDInfoView, len(fds.ByFD))
	mounts := make(map[int]string)
	for fd, info := range fds.ByFD {
		src, ok := mounts[info.MntID]
		if !ok {
			if m, err := t.pf.Mount(pid, info.MntID); err == nil {
				src = m.Source
			}
			mounts[info.MntID] = src
		}
		out[fd] = events.FDInfoView{
			Path:   info.Path,
			Pos:    info.Pos,
			Flags:  info.Flags,
			MntID:  info.MntID,
			Ino:    info.Ino,
			MntSrc: src,
		}
	}
	return out
}

// resolveExecveat implements execveat's dirfd/pathname resolution rules:
// an absolute pathname is used as-is; AT_EMPTY_PATH with an empty pathname
// names dirfd itself; AT_FDCWD is a plain relative lookup; otherwise the
// pathname is relative to the directory dirfd names.
func (t *Tracer) resolveExecveat(pid int, dirfd int32, pathname string, flags uint64) string {
	switch {
	case strings.HasPrefix(pathname, "/"):
		return pathname
	case pathname == "" && flags&atEmptyPath != 0:
		return fmt.Sprintf("/proc/%d/fd/%d", pid, dirfd)
	case int(dirfd) == atFDCWD:
		return pathname
	default:
		return fmt.Sprintf("/proc/%d/fd/%d/%s", pid, dirfd, pathname)
	}
}

// readInterpreterChain reads the shebang chain starting at filename,
// resolved inside pid's own filesystem view via /proc/<pid>/root.
func (t *Tracer) readInterpreterChain(pid int, filename string) []events.Interpreter {
	const maxDepth = 5
	var chain []events.Interpreter
	path := filename
	for depth := 0; depth < maxDepth; depth++ {
		full := filepath.Join(fmt.Sprintf("/proc/%d/root", pid), path)
		f, err := os.Open(full)
		if err != nil {
			return chain
		}
		var hdr [256]byte
		n, _ := f.Read(hdr[:])
		f.Close()
		if n < 2 || hdr[0] != '#' || hdr[1] != '!' {
			return chain
		}
		line := string(hdr[:n])
		if idx := strings.IndexByte(line, '\n'); idx >= 0 {
			line = line[:idx]
		}
		shebang := strings.TrimSpace(strings.TrimPrefix(line, "#!"))
		fields := strings.Fields(shebang)
		if len(fields) == 0 {
			return chain
		}
		chain = append(chain, events.Interpreter{Shebang: fields[0]})
		path = fields[0]
	}
	return chain
}

func execTimestamp(enabled bool) time.Time {
	if !enabled {
		return time.Time{}
	}
	return timeNow()
}

// timeNow is a package-level var so tests can freeze it; Date.now()-style
// wall clock reads are otherwise forbidden from this package's own tests.
var timeNow = time.Now
