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

// Package report renders events.Message values for human consumption,
// adapting strace.ExecveTiming's tabwriter table idiom to the real
// per-exec data this tracer collects.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/snapcore/snapd/strutil"

	"github.com/anonymouse64/exectrace/internal/breakpoint"
	"github.com/anonymouse64/exectrace/internal/events"
)

// Options controls how a Writer renders incoming messages.
type Options struct {
	JSON    bool
	Verbose bool // also print cwd, env diff and fd table per exec
}

// Writer renders a stream of events.Message onto an io.Writer, one line
// (or, in JSON mode, one object) per message.
type Writer struct {
	out  io.Writer
	tw   *tabwriter.Writer
	opts Options
	enc  *json.Encoder
}

// New constructs a Writer. In table mode, output is buffered in a
// tabwriter until Flush; in JSON mode, each Write encodes straight to w.
func New(w io.Writer, opts Options) *Writer {
	rw := &Writer{out: w, opts: opts}
	if opts.JSON {
		rw.enc = json.NewEncoder(w)
	} else {
		rw.tw = tabwriter.NewWriter(w, 5, 3, 2, ' ', 0)
	}
	return rw
}

// Write renders one message. Callers should call Flush after the last
// Write (or after each one, if output needs to be visible immediately).
func (rw *Writer) Write(msg events.Message) error {
	if rw.opts.JSON {
		return rw.enc.Encode(msg)
	}
	switch {
	case msg.Event != nil:
		rw.writeEvent(*msg.Event)
	case msg.StateUpdate != nil:
		rw.writeStateUpdate(*msg.StateUpdate)
	case msg.FatalError != "":
		fmt.Fprintf(rw.tw, "fatal error\t%s\n", msg.FatalError)
	}
	return nil
}

// Flush flushes any buffered tabwriter output. No-op in JSON mode.
func (rw *Writer) Flush() error {
	if rw.tw != nil {
		return rw.tw.Flush()
	}
	return nil
}

func (rw *Writer) writeEvent(ev events.TracerEvent) {
	switch ev.Kind {
	case events.DetailInfo:
		fmt.Fprintf(rw.tw, "info\t%s\n", ev.Message)
	case events.DetailWarning:
		fmt.Fprintf(rw.tw, "warning\t%s\n", ev.Message)
	case events.DetailError:
		fmt.Fprintf(rw.tw, "error\t%s\n", ev.Message)
	case events.DetailNewChild:
		fmt.Fprintf(rw.tw, "new child\tpid=%d ppid=%d comm=%s\n", ev.NewChildPid, ev.NewChildPPid, ev.NewChildComm)
	case events.DetailTraceeSpawn:
		fmt.Fprintf(rw.tw, "spawned\tpid=%d\n", ev.SpawnPid)
	case events.DetailTraceeExit:
		if ev.ExitHasSig {
			fmt.Fprintf(rw.tw, "exited\tsignal=%d\n", ev.ExitSignal)
		} else {
			fmt.Fprintf(rw.tw, "exited\tcode=%d\n", ev.ExitCode)
		}
	case events.DetailExec:
		rw.writeExec(ev.Exec)
	}
}

func (rw *Writer) writeExec(ex events.ExecEvent) {
	status := "ok"
	if !ex.Succeeded() {
		status = fmt.Sprintf("errno=%d", -ex.Result)
	}

	argvStr := "?"
	if ex.Argv.Err == nil {
		argvStr = breakpoint.DescribeArgv(ex.Argv.Value)
	}

	fmt.Fprintf(rw.tw, "exec\tpid=%d\t%s\t%s\t%s\n", ex.Pid, ex.Filename, argvStr, status)

	if !rw.opts.Verbose {
		return
	}
	if ex.Cwd.Err == nil {
		fmt.Fprintf(rw.tw, "\tcwd\t%s\n", ex.Cwd.Value)
	}
	if ex.EnvDiff.Err == nil {
		d := ex.EnvDiff.Value
		if len(d.Added) > 0 {
			fmt.Fprintf(rw.tw, "\tenv +\t%s\n", strutil.Quoted(d.Added))
		}
		if len(d.Removed) > 0 {
			fmt.Fprintf(rw.tw, "\tenv -\t%s\n", strutil.Quoted(d.Removed))
		}
		if len(d.Changed) > 0 {
			fmt.Fprintf(rw.tw, "\tenv ~\t%s\n", strutil.Quoted(d.Changed))
		}
	}
	for fd, info := range ex.FDInfo {
		fmt.Fprintf(rw.tw, "\tfd %d\t%s\n", fd, info.Path)
	}
}

func (rw *Writer) writeStateUpdate(su events.ProcessStateUpdateEvent) {
	switch su.Kind {
	case events.UpdateExit:
		if su.Exit.BySig {
			fmt.Fprintf(rw.tw, "exit\tpid=%d\tsignal=%d\n", su.Pid, su.Exit.Signal)
		} else {
			fmt.Fprintf(rw.tw, "exit\tpid=%d\tcode=%d\n", su.Pid, su.Exit.Code)
		}
	case events.UpdateBreakpointHit:
		fmt.Fprintf(rw.tw, "breakpoint hit\tpid=%d\tid=%d\n", su.Pid, su.BreakpointID)
	case events.UpdateResumed:
		fmt.Fprintf(rw.tw, "resumed\tpid=%d\n", su.Pid)
	case events.UpdateDetached:
		fmt.Fprintf(rw.tw, "detached\tpid=%d\n", su.Pid)
	case events.UpdateResumeError:
		fmt.Fprintf(rw.tw, "resume error\tpid=%d\t%v\n", su.Pid, su.Errno)
	case events.UpdateDetachError:
		fmt.Fprintf(rw.tw, "detach error\tpid=%d\t%v\n", su.Pid, su.Errno)
	}
}
