//go:build linux
// +build linux

// Package inspector reads strings, string arrays and environment arrays out
// of a live tracee's address space, given a pointer register value. Per
// spec §4.1, a read failure is never fatal — it degrades to a typed error
// embedded in the result, never an aborted trace.
package inspector

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrProcessGone is returned (wrapped) when a read fails with ESRCH,
// meaning the tracee has already vanished; callers classify this as the
// "transient tracee-gone" error kind (spec §7) and must not treat the
// trace as broken.
var ErrProcessGone = fmt.Errorf("inspector: process vanished")

// PartialOk wraps a result that could only be partially read before an
// error (other than ESRCH) interrupted the read. The caller still gets
// whatever bytes were recovered, rendered visibly as suspect, per spec
// §4.1's "never fatal" error policy.
type PartialOk struct {
	Value string
	Err   error
}

func (p *PartialOk) Error() string {
	return fmt.Sprintf("partial read (%d bytes recovered): %v", len(p.Value), p.Err)
}

// Result is either a complete string, a partial one (PartialOk), or a
// process-gone error.
type Result struct {
	Value    string
	Partial  bool
	Err      error // non-nil iff Partial or the whole read failed
}

func ok(s string) Result      { return Result{Value: s} }
func gone() Result             { return Result{Err: ErrProcessGone} }
func partial(s string, err error) Result {
	return Result{Value: s, Partial: true, Err: &PartialOk{Value: s, Err: err}}
}

const wordSize = 8 // we always PEEKDATA a native 8-byte word regardless of tracee bitness

// peeker abstracts the single ptrace call this package needs, so tests can
// substitute a fake address space.
type peeker interface {
	PeekWord(pid int, addr uintptr) (uintptr, error)
}

// Reader reads out of a single tracee's address space.
type Reader struct {
	pid    int
	peek   peeker
	vmFile *os.File // /proc/<pid>/mem, opened lazily for bulk reads
}

// NewReader constructs a reader for pid using the real ptrace PEEKDATA
// syscall.
func NewReader(pid int) *Reader {
	return &Reader{pid: pid, peek: ptracePeeker{}}
}

// ReadString reads a NUL-terminated byte string at addr (read_string /
// read_arcstr in spec §4.1).
func (r *Reader) ReadString(addr uintptr) Result {
	if addr == 0 {
		return ok("")
	}
	var buf []byte
	if bulk, ok2 := r.tryBulkString(addr); ok2 {
		return ok(bulk)
	}
	for {
		word, err := r.peek.PeekWord(r.pid, addr+uintptr(len(buf)))
		if err != nil {
			if err == unix.ESRCH {
				return gone()
			}
			return partial(string(buf), err)
		}
		wordBytes := wordToBytes(word)
		if idx := bytes.IndexByte(wordBytes, 0); idx >= 0 {
			buf = append(buf, wordBytes[:idx]...)
			return ok(string(buf))
		}
		buf = append(buf, wordBytes...)
		if len(buf) > maxStringLen {
			return partial(string(buf), fmt.Errorf("string exceeds %d bytes, giving up", maxStringLen))
		}
	}
}

// maxStringLen bounds a single string read so a corrupt pointer can't spin
// the tracer forever (spec §5: inspector reads are bounded by string
// length, not unbounded).
const maxStringLen = 1 << 20

// tryBulkString attempts a single process_vm_readv bulk read of a page
// worth of memory, per the optional optimization named in spec §9. It
// returns ok=false whenever the bulk read can't confidently produce a
// terminated string (crossed a page without finding NUL, or the syscall
// itself failed), leaving the word-at-a-time path as ground truth.
func (r *Reader) tryBulkString(addr uintptr) (string, bool) {
	const pageSize = 4096
	local := make([]byte, pageSize)
	n, err := processVMReadv(r.pid, addr, local)
	if err != nil || n == 0 {
		return "", false
	}
	if idx := bytes.IndexByte(local[:n], 0); idx >= 0 {
		return string(local[:idx]), true
	}
	return "", false
}

func wordToBytes(w uintptr) []byte {
	b := make([]byte, wordSize)
	for i := 0; i < wordSize; i++ {
		b[i] = byte(w >> (8 * i))
	}
	return b
}

// ReadStringArray reads a NULL-terminated array of pointers, each pointing
// to a string, starting at addr (read_string_array / read_output_msg_array
// in spec §4.1). ptrSize is 4 for a 32-bit tracee, 8 for 64-bit, selected
// by the caller from the stop's AuditArch tag.
func (r *Reader) ReadStringArray(addr uintptr, ptrSize int) ([]Result, error) {
	if addr == 0 {
		return nil, nil
	}
	var out []Result
	for i := 0; ; i++ {
		entryAddr := addr + uintptr(i*ptrSize)
		ptr, err := r.readPointer(entryAddr, ptrSize)
		if err != nil {
			if err == unix.ESRCH {
				return out, ErrProcessGone
			}
			return out, err
		}
		if ptr == 0 {
			break
		}
		out = append(out, r.ReadString(ptr))
		if len(out) > maxArrayLen {
			break
		}
	}
	return out, nil
}

// maxArrayLen bounds the number of entries walked in a pointer array.
const maxArrayLen = 1 << 16

func (r *Reader) readPointer(addr uintptr, ptrSize int) (uintptr, error) {
	word, err := r.peek.PeekWord(r.pid, addr)
	if err != nil {
		return 0, err
	}
	if ptrSize == 4 {
		return word & 0xffffffff, nil
	}
	return word, nil
}

// EnvEntry is one parsed KEY=VALUE environment entry. DashEnv is set when
// the key begins with '-', a convention some launchers (e.g. busybox
// applets) use to signal that the renderer should insert "--" before
// positional arguments (spec §4.1).
type EnvEntry struct {
	Key, Value string
	DashEnv    bool
	Inspect    Result // the raw read, for surfacing partial/gone errors
}

// ReadEnvArray reads envp the same way as ReadStringArray, additionally
// splitting each entry at its first '='. Per spec §8's envp round-trip
// property: no '=' means (whole, ""); leading '=' means the key includes
// up to (but not including) the *second* '='.
func (r *Reader) ReadEnvArray(addr uintptr, ptrSize int) ([]EnvEntry, error) {
	raws, err := r.ReadStringArray(addr, ptrSize)
	out := make([]EnvEntry, 0, len(raws))
	for _, raw := range raws {
		out = append(out, ParseEnvEntry(raw))
	}
	return out, err
}

// ParseEnvEntry implements the KEY=VALUE split rule in isolation so it can
// be unit tested against spec §8's round-trip property without a live
// tracee.
func ParseEnvEntry(raw Result) EnvEntry {
	s := raw.Value
	idx := strings.Index(s, "=")
	if idx < 0 {
		return EnvEntry{Key: s, Value: "", Inspect: raw}
	}
	if idx == 0 {
		// Leading '=': treat it as part of the key and split at the next
		// '=' if any.
		rest := s[1:]
		if j := strings.Index(rest, "="); j >= 0 {
			return EnvEntry{Key: s[:j+1], Value: s[j+2:], Inspect: raw}
		}
		return EnvEntry{Key: s, Value: "", Inspect: raw}
	}
	key := s[:idx]
	return EnvEntry{
		Key:     key,
		Value:   s[idx+1:],
		DashEnv: strings.HasPrefix(key, "-"),
		Inspect: raw,
	}
}

// ptracePeeker is the real implementation backed by PTRACE_PEEKDATA,
// defined in syscalls_linux.go of the ptrace package; inspector avoids an
// import cycle by redeclaring the syscall locally.
type ptracePeeker struct{}

func (ptracePeeker) PeekWord(pid int, addr uintptr) (uintptr, error) {
	return peekDataRaw(pid, addr)
}
