package events

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDiffEnv(t *testing.T) {
	baseline := []string{"PATH=/usr/bin", "HOME=/root", "STALE=1"}
	current := []string{"PATH=/usr/bin", "HOME=/home/alice", "NEW=yes"}

	got := DiffEnv(baseline, current)
	want := EnvDiff{
		Added:   []string{"NEW=yes"},
		Removed: []string{"STALE"},
		Changed: []string{"HOME"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("DiffEnv mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffEnvIdentical(t *testing.T) {
	env := []string{"A=1", "B=2"}
	got := DiffEnv(env, env)
	if len(got.Added) != 0 || len(got.Removed) != 0 || len(got.Changed) != 0 {
		t.Fatalf("DiffEnv(identical) = %+v, want empty diff", got)
	}
}

func TestIDAllocatorMonotonic(t *testing.T) {
	var a IDAllocator
	first := a.Next()
	second := a.Next()
	third := a.Next()
	if !(first < second && second < third) {
		t.Fatalf("IDAllocator not monotonic: %d, %d, %d", first, second, third)
	}
}

func TestParentEventConstructors(t *testing.T) {
	if pe := Become(5); pe.Kind != ParentBecome || pe.ID != 5 {
		t.Errorf("Become(5) = %+v, want Kind=ParentBecome ID=5", pe)
	}
	if pe := Spawn(9); pe.Kind != ParentSpawn || pe.ID != 9 {
		t.Errorf("Spawn(9) = %+v, want Kind=ParentSpawn ID=9", pe)
	}
}

func TestExecEventSucceeded(t *testing.T) {
	if !(ExecEvent{Result: 0}).Succeeded() {
		t.Error("ExecEvent{Result: 0}.Succeeded() = false, want true")
	}
	if (ExecEvent{Result: -2}).Succeeded() {
		t.Error("ExecEvent{Result: -2}.Succeeded() = true, want false")
	}
}
