package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/anonymouse64/exectrace/internal/seccomp"
)

func TestLoadDefaultsFileMissing(t *testing.T) {
	fd, err := LoadDefaultsFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadDefaultsFile on missing file: %v", err)
	}
	if fd == nil || fd.Seccomp != "" {
		t.Fatalf("LoadDefaultsFile on missing file = %+v, want empty fileDefaults", fd)
	}
}

func TestLoadDefaultsFileParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "seccomp-bpf: \"off\"\nuser: nobody\nfollow-forks: true\nbreakpoints:\n  - sysenter:in-filename:curl\noutput-file: /tmp/trace.log\njson: true\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	fd, err := LoadDefaultsFile(path)
	if err != nil {
		t.Fatalf("LoadDefaultsFile: %v", err)
	}
	if fd.Seccomp != "off" || fd.RunAsUser != "nobody" || fd.FollowForks == nil || !*fd.FollowForks {
		t.Fatalf("LoadDefaultsFile parsed = %+v, fields not as expected", fd)
	}
	if len(fd.Breakpoints) != 1 || fd.Breakpoints[0] != "sysenter:in-filename:curl" {
		t.Fatalf("LoadDefaultsFile breakpoints = %v, unexpected", fd.Breakpoints)
	}
}

func TestMergeDefaultsCLITakesPrecedence(t *testing.T) {
	cfg := Config{Seccomp: seccomp.ModeOn, RunAsUser: "alice"}
	fd := &fileDefaults{Seccomp: "off", RunAsUser: "bob"}

	merged, err := MergeDefaults(cfg, fd, true /* seccompFlagSet */)
	if err != nil {
		t.Fatalf("MergeDefaults: %v", err)
	}
	if merged.Seccomp != seccomp.ModeOn {
		t.Errorf("Seccomp = %v, want ModeOn preserved (flag was explicitly set)", merged.Seccomp)
	}
	if merged.RunAsUser != "alice" {
		t.Errorf("RunAsUser = %q, want %q (already non-zero)", merged.RunAsUser, "alice")
	}
}

func TestMergeDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{}
	fd := &fileDefaults{
		Seccomp:     "off",
		RunAsUser:   "bob",
		Breakpoints: []string{"sysexit:exact-filename:/bin/ls"},
		OutputFile:  "/tmp/out.log",
	}
	trueVal := true
	fd.FollowForks = &trueVal
	fd.JSON = &trueVal

	merged, err := MergeDefaults(cfg, fd, false /* seccompFlagSet */)
	if err != nil {
		t.Fatalf("MergeDefaults: %v", err)
	}
	if merged.Seccomp != seccomp.ModeOff {
		t.Errorf("Seccomp = %v, want ModeOff merged in", merged.Seccomp)
	}
	if merged.RunAsUser != "bob" || !merged.FollowForks || !merged.JSON || merged.OutputFile != "/tmp/out.log" {
		t.Fatalf("merged = %+v, defaults not applied", merged)
	}
	if len(merged.Breakpoints) != 1 {
		t.Fatalf("merged breakpoints = %v, want defaults file's breakpoint", merged.Breakpoints)
	}
}

func TestMergeDefaultsNilFileDefaults(t *testing.T) {
	cfg := Config{RunAsUser: "alice"}
	merged, err := MergeDefaults(cfg, nil, false)
	if err != nil {
		t.Fatalf("MergeDefaults(nil): %v", err)
	}
	if merged.RunAsUser != "alice" {
		t.Fatalf("MergeDefaults(nil) changed cfg: %+v", merged)
	}
}
