//go:build linux
// +build linux

package procfs

import (
	"os"
	"strings"
	"testing"
)

func TestReaderSelfComm(t *testing.T) {
	r := NewReader()
	comm, err := r.Comm(os.Getpid())
	if err != nil {
		t.Fatalf("Comm(self): %v", err)
	}
	if comm == "" {
		t.Fatal("Comm(self) returned empty string")
	}
}

func TestReaderSelfCwd(t *testing.T) {
	r := NewReader()
	cwd, err := r.Cwd(os.Getpid())
	if err != nil {
		t.Fatalf("Cwd(self): %v", err)
	}
	if !strings.HasPrefix(cwd, "/") {
		t.Fatalf("Cwd(self) = %q, want an absolute path", cwd)
	}
}

func TestReaderInterning(t *testing.T) {
	r := NewReader()
	pid := os.Getpid()
	a, err := r.Cwd(pid)
	if err != nil {
		t.Fatalf("Cwd: %v", err)
	}
	b, err := r.Cwd(pid)
	if err != nil {
		t.Fatalf("Cwd: %v", err)
	}
	if a != b {
		t.Fatalf("Cwd returned different values across calls: %q vs %q", a, b)
	}
}

func TestFDInfoCloExec(t *testing.T) {
	const oCloExec = 0o2000000
	cloexec := FDInfo{Flags: oCloExec}
	if !cloexec.CloExec() {
		t.Error("FDInfo with O_CLOEXEC bit set: CloExec() = false, want true")
	}
	plain := FDInfo{Flags: 0o100000}
	if plain.CloExec() {
		t.Error("FDInfo without O_CLOEXEC bit: CloExec() = true, want false")
	}
}

func TestFDInfoCollectionHideCloExec(t *testing.T) {
	const oCloExec = 0o2000000
	c := FDInfoCollection{ByFD: map[int]FDInfo{
		0: {FD: 0, Flags: 0},
		1: {FD: 1, Flags: oCloExec},
		2: {FD: 2, Flags: 0},
	}}
	hidden := c.HideCloExec()
	if len(hidden.ByFD) != 2 {
		t.Fatalf("HideCloExec kept %d fds, want 2", len(hidden.ByFD))
	}
	if _, ok := hidden.ByFD[1]; ok {
		t.Fatal("HideCloExec did not remove the O_CLOEXEC fd")
	}
}

func TestParseStatus(t *testing.T) {
	content := "Name:\tbash\nUid:\t1000\t1000\t1000\t1000\nGid:\t1000\t1000\t1000\t1000\nGroups:\t1000 27 4\n"
	f := writeTempFile(t, content)
	defer f.Close()

	creds, err := parseStatus(f)
	if err != nil {
		t.Fatalf("parseStatus: %v", err)
	}
	if creds.UID != 1000 || creds.EUID != 1000 || creds.GID != 1000 {
		t.Fatalf("parseStatus = %+v, want uid/gid 1000", creds)
	}
	if len(creds.Groups) != 3 || creds.Groups[1] != 27 {
		t.Fatalf("parseStatus groups = %v, want [1000 27 4]", creds.Groups)
	}
}

func TestParseStatusMissingFields(t *testing.T) {
	f := writeTempFile(t, "Name:\tbash\n")
	defer f.Close()
	if _, err := parseStatus(f); err == nil {
		t.Fatal("parseStatus with no Uid/Gid lines: want error, got nil")
	}
}

func TestParseFourInts(t *testing.T) {
	got, err := parseFourInts("\t1000\t1000\t1000\t1000")
	if err != nil {
		t.Fatalf("parseFourInts: %v", err)
	}
	want := [4]int{1000, 1000, 1000, 1000}
	if got != want {
		t.Fatalf("parseFourInts = %v, want %v", got, want)
	}
}

func TestParseFourIntsTooFewFields(t *testing.T) {
	if _, err := parseFourInts("1000 1000"); err == nil {
		t.Fatal("parseFourInts with 2 fields: want error, got nil")
	}
}

func writeTempFile(t *testing.T, content string) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "status")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	return f
}
