// Package breakpoint implements the pattern matching and registry
// described in spec §3/§4's Breakpoint Registry and §6's wire format.
package breakpoint

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/snapcore/snapd/strutil"
)

// Stop identifies which syscall phase a breakpoint triggers on.
type Stop int

const (
	StopSyscallEnter Stop = iota
	StopSyscallExit
)

func (s Stop) String() string {
	if s == StopSyscallEnter {
		return "sysenter"
	}
	return "sysexit"
}

func parseStop(s string) (Stop, error) {
	switch s {
	case "sysenter":
		return StopSyscallEnter, nil
	case "sysexit":
		return StopSyscallExit, nil
	default:
		return 0, fmt.Errorf("breakpoint: invalid stop phase %q", s)
	}
}

// PatternKind tags a Pattern's matching strategy.
type PatternKind int

const (
	KindArgvRegex PatternKind = iota
	KindInFilename
	KindExactFilename
)

func (k PatternKind) String() string {
	switch k {
	case KindArgvRegex:
		return "argv-regex"
	case KindInFilename:
		return "in-filename"
	case KindExactFilename:
		return "exact-filename"
	default:
		return "unknown"
	}
}

// Pattern is one of the three breakpoint pattern kinds (spec §3).
type Pattern struct {
	Kind    PatternKind
	Payload string // the raw text the pattern was built from
	re      *regexp.Regexp
}

// NewPattern constructs a Pattern, compiling payload as a regex when
// kind is KindArgvRegex.
func NewPattern(kind PatternKind, payload string) (Pattern, error) {
	p := Pattern{Kind: kind, Payload: payload}
	if kind == KindArgvRegex {
		re, err := regexp.Compile(payload)
		if err != nil {
			return Pattern{}, fmt.Errorf("breakpoint: invalid argv-regex %q: %w", payload, err)
		}
		p.re = re
	}
	return p, nil
}

// Matches reports whether this pattern matches the given argv/filename of
// an exec candidate.
func (p Pattern) Matches(argv []string, filename string) bool {
	switch p.Kind {
	case KindArgvRegex:
		if p.re == nil {
			return false
		}
		return p.re.MatchString(strings.Join(argv, " "))
	case KindInFilename:
		return strings.Contains(filename, p.Payload)
	case KindExactFilename:
		return filename == p.Payload
	default:
		return false
	}
}

// ToEditable renders the pattern back to its `kind:payload` wire form
// (minus the leading "stop:", which Breakpoint.ToEditable adds).
func (p Pattern) ToEditable() string {
	return fmt.Sprintf("%s:%s", p.Kind, p.Payload)
}

// PatternFromEditable parses a "kind:payload" string, the inverse of
// Pattern.ToEditable.
func PatternFromEditable(s string) (Pattern, error) {
	kindStr, payload, ok := strings.Cut(s, ":")
	if !ok {
		return Pattern{}, fmt.Errorf("breakpoint: no ':' separator in pattern %q", s)
	}
	var kind PatternKind
	switch kindStr {
	case "argv-regex":
		kind = KindArgvRegex
	case "in-filename":
		kind = KindInFilename
	case "exact-filename":
		kind = KindExactFilename
	default:
		return Pattern{}, fmt.Errorf("breakpoint: invalid pattern kind %q", kindStr)
	}
	return NewPattern(kind, payload)
}

// Breakpoint is a registered pattern+phase, optionally one-shot.
type Breakpoint struct {
	ID        uint32
	Pattern   Pattern
	Stop      Stop
	OneShot   bool
	Activated bool
}

// ToEditable renders the full `stop:kind:payload` wire form (spec §6).
func (b Breakpoint) ToEditable() string {
	return fmt.Sprintf("%s:%s", b.Stop, b.Pattern.ToEditable())
}

// FromEditable parses the full `stop:kind:payload` wire form into a
// Breakpoint (ID/OneShot/Activated are left at their zero values — the
// registry assigns those on Add).
func FromEditable(s string) (Breakpoint, error) {
	stopStr, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Breakpoint{}, fmt.Errorf("breakpoint: no ':' separator in %q", s)
	}
	stop, err := parseStop(stopStr)
	if err != nil {
		return Breakpoint{}, err
	}
	pattern, err := PatternFromEditable(rest)
	if err != nil {
		return Breakpoint{}, err
	}
	return Breakpoint{Pattern: pattern, Stop: stop}, nil
}

// DescribeArgv renders argv the same quoted-list way the CLI renders a
// command about to be run, reusing the teacher's `strutil.Quoted` idiom
// for consistent output between the breakpoint registry's diagnostics and
// the report package's table (internal/report).
func DescribeArgv(argv []string) string {
	return strutil.Quoted(argv)
}

// Registry holds the set of active breakpoints, read on every exec
// candidate and written rarely (spec §5: guard with a read-write lock).
type Registry struct {
	mu     sync.RWMutex
	nextID uint32
	byID   map[uint32]*Breakpoint
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint32]*Breakpoint)}
}

// Add registers bp, assigning it an ID and activating it.
func (r *Registry) Add(bp Breakpoint) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	bp.ID = id
	bp.Activated = true
	r.byID[id] = &bp
	return id
}

// Remove deactivates and forgets a breakpoint.
func (r *Registry) Remove(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Deactivate turns off a one-shot breakpoint after it has fired, without
// forgetting it (so it still round-trips via ToEditable for display).
func (r *Registry) Deactivate(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bp, ok := r.byID[id]; ok {
		bp.Activated = false
	}
}

// Match returns every activated breakpoint at the given stop phase whose
// pattern matches (argv, filename), per spec §4.4's on_syscall_enter/exit
// breakpoint check.
func (r *Registry) Match(stop Stop, argv []string, filename string) []Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var hits []Breakpoint
	for _, bp := range r.byID {
		if !bp.Activated || bp.Stop != stop {
			continue
		}
		if bp.Pattern.Matches(argv, filename) {
			hits = append(hits, *bp)
		}
	}
	return hits
}
