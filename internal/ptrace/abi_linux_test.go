//go:build linux
// +build linux

package ptrace

import "testing"

func TestAuditArchIs32Bit(t *testing.T) {
	cases := []struct {
		arch AuditArch
		want bool
	}{
		{AuditArchX86_64, false},
		{AuditArchAARCH64, false},
		{AuditArchI386, true},
		{AuditArchARM, true},
	}
	for _, c := range cases {
		if got := c.arch.Is32Bit(); got != c.want {
			t.Errorf("AuditArch(0x%x).Is32Bit() = %v, want %v", uint32(c.arch), got, c.want)
		}
	}
}

func TestAuditArchPointerSize(t *testing.T) {
	cases := []struct {
		arch AuditArch
		want int
	}{
		{AuditArchX86_64, 8},
		{AuditArchAARCH64, 8},
		{AuditArchI386, 4},
		{AuditArchARM, 4},
	}
	for _, c := range cases {
		if got := c.arch.PointerSize(); got != c.want {
			t.Errorf("AuditArch(0x%x).PointerSize() = %d, want %d", uint32(c.arch), got, c.want)
		}
	}
}

func TestIsExecFamily(t *testing.T) {
	cases := []struct {
		name          string
		arch          AuditArch
		nr            uint64
		wantExec      bool
		wantExecveat  bool
	}{
		{"x86_64 execve", AuditArchX86_64, 59, true, false},
		{"x86_64 execveat", AuditArchX86_64, 322, true, true},
		{"x86_64 other", AuditArchX86_64, 0, false, false},
		{"arm64 execve", AuditArchAARCH64, 221, true, false},
		{"unknown arch", AuditArch(0xdeadbeef), 59, false, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			gotExec, gotExecveat := IsExecFamily(c.arch, c.nr)
			if gotExec != c.wantExec || gotExecveat != c.wantExecveat {
				t.Errorf("IsExecFamily(%v, %d) = (%v, %v), want (%v, %v)",
					c.arch, c.nr, gotExec, gotExecveat, c.wantExec, c.wantExecveat)
			}
		})
	}
}
