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

// Package privdrop resolves the --user config option: the tracer itself
// must run as root to seize an arbitrary tracee, but the tracee it spawns
// should run as the requested unprivileged user.
package privdrop

import (
	"fmt"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

var userLookup = user.Lookup

// Credentials are the uid/gid/groups a spawned tracee should run with.
type Credentials struct {
	UID    uint32
	GID    uint32
	Groups []uint32
}

// Resolve looks up username and returns the Credentials to apply to the
// tracee's exec.Cmd.
func Resolve(username string) (Credentials, error) {
	u, err := userLookup(username)
	if err != nil {
		return Credentials{}, fmt.Errorf("privdrop: cannot look up user %q: %w", username, err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return Credentials{}, fmt.Errorf("privdrop: invalid uid %q for user %q: %w", u.Uid, username, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return Credentials{}, fmt.Errorf("privdrop: invalid gid %q for user %q: %w", u.Gid, username, err)
	}

	groupIDs, err := u.GroupIds()
	if err != nil {
		return Credentials{}, fmt.Errorf("privdrop: cannot list groups for user %q: %w", username, err)
	}
	groups := make([]uint32, 0, len(groupIDs))
	for _, g := range groupIDs {
		gv, err := strconv.ParseUint(g, 10, 32)
		if err != nil {
			continue
		}
		groups = append(groups, uint32(gv))
	}

	return Credentials{UID: uint32(uid), GID: uint32(gid), Groups: groups}, nil
}

// Apply sets cmd.SysProcAttr.Credential so the spawned process drops to
// creds before its own exec.
func Apply(cmd *exec.Cmd, creds Credentials) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Credential = &syscall.Credential{
		Uid:    creds.UID,
		Gid:    creds.GID,
		Groups: creds.Groups,
	}
}

// MockLookup is only used for tests, a function-variable swap so
// privdrop's user-resolution path can be exercised without a real passwd
// database.
func MockLookup(fn func(string) (*user.User, error)) (restore func()) {
	old := userLookup
	userLookup = fn
	return func() {
		userLookup = old
	}
}
