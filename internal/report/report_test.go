package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/anonymouse64/exectrace/internal/events"
)

func TestWriteExecTableMode(t *testing.T) {
	var buf bytes.Buffer
	rw := New(&buf, Options{})

	msg := events.Message{Event: &events.TracerEvent{
		ID:   1,
		Kind: events.DetailExec,
		Exec: events.ExecEvent{
			Pid:      123,
			Filename: "/bin/ls",
			Argv:     events.InspectField[[]string]{Value: []string{"ls", "-la"}},
			Result:   0,
		},
	}}
	if err := rw.Write(msg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := rw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "/bin/ls") || !strings.Contains(out, "pid=123") || !strings.Contains(out, "ok") {
		t.Fatalf("table output = %q, missing expected fields", out)
	}
}

func TestWriteExecFailureShowsErrno(t *testing.T) {
	var buf bytes.Buffer
	rw := New(&buf, Options{})
	msg := events.Message{Event: &events.TracerEvent{
		Kind: events.DetailExec,
		Exec: events.ExecEvent{Pid: 5, Filename: "/bin/false", Result: -2},
	}}
	rw.Write(msg)
	rw.Flush()
	if !strings.Contains(buf.String(), "errno=2") {
		t.Fatalf("table output = %q, want errno=2", buf.String())
	}
}

func TestWriteJSONMode(t *testing.T) {
	var buf bytes.Buffer
	rw := New(&buf, Options{JSON: true})
	msg := events.Message{Event: &events.TracerEvent{ID: 7, Kind: events.DetailTraceeSpawn, SpawnPid: 42}}
	if err := rw.Write(msg); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var decoded events.Message
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding JSON output: %v", err)
	}
	if decoded.Event == nil || decoded.Event.SpawnPid != 42 {
		t.Fatalf("decoded = %+v, want SpawnPid 42", decoded.Event)
	}
}

func TestWriteStateUpdateKinds(t *testing.T) {
	var buf bytes.Buffer
	rw := New(&buf, Options{})

	rw.Write(events.Message{StateUpdate: &events.ProcessStateUpdateEvent{Pid: 9, Kind: events.UpdateBreakpointHit, BreakpointID: 3}})
	rw.Write(events.Message{StateUpdate: &events.ProcessStateUpdateEvent{Pid: 9, Kind: events.UpdateResumed}})
	rw.Flush()

	out := buf.String()
	if !strings.Contains(out, "breakpoint hit") || !strings.Contains(out, "resumed") {
		t.Fatalf("state update output = %q, missing expected lines", out)
	}
}

func TestWriteFatalError(t *testing.T) {
	var buf bytes.Buffer
	rw := New(&buf, Options{})
	rw.Write(events.Message{FatalError: "seize failed"})
	rw.Flush()
	if !strings.Contains(buf.String(), "seize failed") {
		t.Fatalf("fatal error output = %q, want to contain message", buf.String())
	}
}
