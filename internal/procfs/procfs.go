//go:build linux
// +build linux

// Package procfs reads and parses the /proc/<pid> records the tracer needs
// to enrich an exec event: comm, cwd, exe, the fd table, mount info and
// credentials (spec §6 "From /proc").
package procfs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Reader reads /proc/<pid> records, interning repeated strings (cwd,
// mount source paths, ...) through a shared Interner so that thousands of
// exec events from a busy tracee don't each allocate their own copy of the
// same path.
type Reader struct {
	interner *Interner
}

// NewReader constructs a Reader backed by its own Interner.
func NewReader() *Reader {
	return &Reader{interner: NewInterner()}
}

func procPath(pid int, parts ...string) string {
	elems := append([]string{"/proc", strconv.Itoa(pid)}, parts...)
	return filepath.Join(elems...)
}

// Comm reads /proc/<pid>/comm, stripping the trailing newline.
func (r *Reader) Comm(pid int) (string, error) {
	b, err := os.ReadFile(procPath(pid, "comm"))
	if err != nil {
		return "", err
	}
	return r.interner.Intern(strings.TrimRight(string(b), "\n")), nil
}

// Cwd reads the /proc/<pid>/cwd symlink.
func (r *Reader) Cwd(pid int) (string, error) {
	link, err := os.Readlink(procPath(pid, "cwd"))
	if err != nil {
		return "", err
	}
	return r.interner.Intern(link), nil
}

// Exe reads the /proc/<pid>/exe symlink.
func (r *Reader) Exe(pid int) (string, error) {
	link, err := os.Readlink(procPath(pid, "exe"))
	if err != nil {
		return "", err
	}
	return r.interner.Intern(link), nil
}

// FDPath reads the /proc/<pid>/fd/<n> symlink, used to resolve an
// execveat dirfd per spec §4.4's path-resolution rules.
func (r *Reader) FDPath(pid, fd int) (string, error) {
	link, err := os.Readlink(procPath(pid, "fd", strconv.Itoa(fd)))
	if err != nil {
		return "", err
	}
	return r.interner.Intern(link), nil
}

// FDInfo is one entry of /proc/<pid>/fdinfo/<n>, parsed per spec §6.
type FDInfo struct {
	FD     int
	Path   string // resolved from /proc/<pid>/fd/<n>, not fdinfo itself
	Pos    int64
	Flags  uint32 // octal "flags" field, O_* bits
	MntID  int
	Ino    uint64
	Extra  []string // unrecognized key:value lines, preserved verbatim
}

// CloExec reports whether O_CLOEXEC is set in Flags.
func (f FDInfo) CloExec() bool {
	const oCloExec = 0o2000000
	return f.Flags&oCloExec != 0
}

// FDInfoCollection is a snapshot of every open fd for a pid, keyed by fd
// number.
type FDInfoCollection struct {
	ByFD map[int]FDInfo
}

// HideCloExec returns a copy of the collection with every O_CLOEXEC fd
// removed, implementing the `hide-cloexec-fds` configuration option named
// in spec §6.
func (c FDInfoCollection) HideCloExec() FDInfoCollection {
	out := FDInfoCollection{ByFD: make(map[int]FDInfo, len(c.ByFD))}
	for fd, info := range c.ByFD {
		if !info.CloExec() {
			out.ByFD[fd] = info
		}
	}
	return out
}

// FDInfoCollection reads every fd currently open in pid by listing
// /proc/<pid>/fd and parsing the matching fdinfo file for each.
func (r *Reader) FDInfoCollection(pid int) (FDInfoCollection, error) {
	dir := procPath(pid, "fd")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return FDInfoCollection{}, err
	}
	out := FDInfoCollection{ByFD: make(map[int]FDInfo, len(entries))}
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		info, err := r.fdInfo(pid, fd)
		if err != nil {
			// A fd can close between listing and reading; skip it
			// rather than fail the whole snapshot.
			continue
		}
		out.ByFD[fd] = info
	}
	return out, nil
}

func (r *Reader) fdInfo(pid, fd int) (FDInfo, error) {
	path, err := r.FDPath(pid, fd)
	if err != nil {
		return FDInfo{}, err
	}
	info := FDInfo{FD: fd, Path: path}
	f, err := os.Open(procPath(pid, "fdinfo", strconv.Itoa(fd)))
	if err != nil {
		return FDInfo{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		key, val, found := strings.Cut(line, ":")
		if !found {
			info.Extra = append(info.Extra, r.interner.Intern(line))
			continue
		}
		val = strings.TrimSpace(val)
		switch key {
		case "pos":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				info.Pos = n
			}
		case "flags":
			if n, err := strconv.ParseUint(val, 8, 32); err == nil {
				info.Flags = uint32(n)
			}
		case "mnt_id":
			if n, err := strconv.Atoi(val); err == nil {
				info.MntID = n
			}
		case "ino":
			if n, err := strconv.ParseUint(val, 10, 64); err == nil {
				info.Ino = n
			}
		default:
			info.Extra = append(info.Extra, r.interner.Intern(line))
		}
	}
	return info, sc.Err()
}

// MountInfo is one parsed row of /proc/<pid>/mountinfo, keyed by mount ID.
type MountInfo struct {
	MountID int
	Source  string // filesystem-specific mount source (last field after "-")
}

// Mount looks up a single mount entry in /proc/<pid>/mountinfo by its
// mnt_id (first field), as used to resolve an FDInfo's MntID to a human
// readable mount source.
func (r *Reader) Mount(pid, mntID int) (MountInfo, error) {
	f, err := os.Open(procPath(pid, "mountinfo"))
	if err != nil {
		return MountInfo{}, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil || id != mntID {
			continue
		}
		// Everything after a literal "-" separator field is the
		// filesystem-specific trailer: fstype, source, super options.
		src := ""
		for i, f := range fields {
			if f == "-" && i+2 < len(fields) {
				src = fields[i+2]
				break
			}
		}
		return MountInfo{MountID: id, Source: r.interner.Intern(src)}, nil
	}
	if err := sc.Err(); err != nil {
		return MountInfo{}, err
	}
	return MountInfo{}, fmt.Errorf("procfs: no mountinfo entry for mnt_id %d", mntID)
}

// Credentials holds the uid/gid/groups triplet parsed from
// /proc/<pid>/status (spec §3's ExecEvent.credentials).
type Credentials struct {
	UID, EUID, SUID, FSUID int
	GID, EGID, SGID, FSGID int
	Groups                 []int
}

// Status reads and parses /proc/<pid>/status for the Uid/Gid/Groups lines.
func (r *Reader) Status(pid int) (Credentials, error) {
	f, err := os.Open(procPath(pid, "status"))
	if err != nil {
		return Credentials{}, err
	}
	defer f.Close()
	return parseStatus(f)
}

func parseStatus(f *os.File) (Credentials, error) {
	var c Credentials
	var gotUID, gotGID bool
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "Uid:"):
			vals, err := parseFourInts(strings.TrimPrefix(line, "Uid:"))
			if err != nil {
				return c, err
			}
			c.UID, c.EUID, c.SUID, c.FSUID = vals[0], vals[1], vals[2], vals[3]
			gotUID = true
		case strings.HasPrefix(line, "Gid:"):
			vals, err := parseFourInts(strings.TrimPrefix(line, "Gid:"))
			if err != nil {
				return c, err
			}
			c.GID, c.EGID, c.SGID, c.FSGID = vals[0], vals[1], vals[2], vals[3]
			gotGID = true
		case strings.HasPrefix(line, "Groups:"):
			fields := strings.Fields(strings.TrimPrefix(line, "Groups:"))
			for _, f := range fields {
				n, err := strconv.Atoi(f)
				if err != nil {
					return c, fmt.Errorf("procfs: non-numeric group id %q", f)
				}
				c.Groups = append(c.Groups, n)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return c, err
	}
	if !gotUID || !gotGID {
		return c, fmt.Errorf("procfs: status missing Uid/Gid lines")
	}
	return c, nil
}

func parseFourInts(s string) ([4]int, error) {
	var out [4]int
	fields := strings.Fields(s)
	if len(fields) < 4 {
		return out, fmt.Errorf("procfs: expected 4 fields, got %d", len(fields))
	}
	for i := 0; i < 4; i++ {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return out, err
		}
		out[i] = n
	}
	return out, nil
}
