package breakpoint

import "testing"

func TestPatternMatches(t *testing.T) {
	cases := []struct {
		name     string
		kind     PatternKind
		payload  string
		argv     []string
		filename string
		want     bool
	}{
		{"argv-regex hit", KindArgvRegex, `^/bin/sh -c`, []string{"/bin/sh", "-c", "ls"}, "/bin/sh", true},
		{"argv-regex miss", KindArgvRegex, `^/bin/bash`, []string{"/bin/sh", "-c"}, "/bin/sh", false},
		{"in-filename hit", KindInFilename, "python3", nil, "/usr/bin/python3.11", true},
		{"in-filename miss", KindInFilename, "python3", nil, "/usr/bin/ruby", false},
		{"exact-filename hit", KindExactFilename, "/bin/ls", nil, "/bin/ls", true},
		{"exact-filename miss", KindExactFilename, "/bin/ls", nil, "/bin/ls2", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, err := NewPattern(c.kind, c.payload)
			if err != nil {
				t.Fatalf("NewPattern: %v", err)
			}
			if got := p.Matches(c.argv, c.filename); got != c.want {
				t.Errorf("Matches = %v, want %v", got, c.want)
			}
		})
	}
}

func TestNewPatternInvalidRegex(t *testing.T) {
	if _, err := NewPattern(KindArgvRegex, "("); err == nil {
		t.Fatal("NewPattern with unbalanced regex: want error, got nil")
	}
}

func TestBreakpointEditableRoundTrip(t *testing.T) {
	wire := "sysexit:in-filename:/usr/bin/curl"
	bp, err := FromEditable(wire)
	if err != nil {
		t.Fatalf("FromEditable: %v", err)
	}
	if bp.Stop != StopSyscallExit || bp.Pattern.Kind != KindInFilename || bp.Pattern.Payload != "/usr/bin/curl" {
		t.Fatalf("FromEditable(%q) = %+v, unexpected fields", wire, bp)
	}
	if got := bp.ToEditable(); got != wire {
		t.Errorf("ToEditable round-trip = %q, want %q", got, wire)
	}
}

func TestFromEditableInvalid(t *testing.T) {
	cases := []string{"", "sysenter", "bogus:argv-regex:.*", "sysenter:bogus:x"}
	for _, s := range cases {
		if _, err := FromEditable(s); err == nil {
			t.Errorf("FromEditable(%q): want error, got nil", s)
		}
	}
}

func TestRegistryMatchRespectsActivatedAndStop(t *testing.T) {
	r := NewRegistry()
	enterBp, _ := NewPattern(KindInFilename, "curl")
	id := r.Add(Breakpoint{Pattern: enterBp, Stop: StopSyscallEnter})

	hits := r.Match(StopSyscallEnter, nil, "/usr/bin/curl")
	if len(hits) != 1 || hits[0].ID != id {
		t.Fatalf("Match at enter = %+v, want one hit with ID %d", hits, id)
	}

	if hits := r.Match(StopSyscallExit, nil, "/usr/bin/curl"); len(hits) != 0 {
		t.Fatalf("Match at exit = %+v, want no hits (registered at enter)", hits)
	}

	r.Deactivate(id)
	if hits := r.Match(StopSyscallEnter, nil, "/usr/bin/curl"); len(hits) != 0 {
		t.Fatalf("Match after Deactivate = %+v, want no hits", hits)
	}
}

func TestRegistryOneShotLifecycle(t *testing.T) {
	r := NewRegistry()
	p, _ := NewPattern(KindExactFilename, "/bin/ls")
	id := r.Add(Breakpoint{Pattern: p, Stop: StopSyscallEnter, OneShot: true})

	hits := r.Match(StopSyscallEnter, nil, "/bin/ls")
	if len(hits) != 1 {
		t.Fatalf("first Match = %+v, want one hit", hits)
	}
	r.Deactivate(id)
	if hits := r.Match(StopSyscallEnter, nil, "/bin/ls"); len(hits) != 0 {
		t.Fatalf("Match after one-shot fire = %+v, want no hits", hits)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	p, _ := NewPattern(KindExactFilename, "/bin/ls")
	id := r.Add(Breakpoint{Pattern: p, Stop: StopSyscallEnter})
	r.Remove(id)
	if hits := r.Match(StopSyscallEnter, nil, "/bin/ls"); len(hits) != 0 {
		t.Fatalf("Match after Remove = %+v, want no hits", hits)
	}
}
