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

package tracer

import (
	"os"

	"github.com/anonymouse64/exectrace/internal/procfs"
)

// BaselineInfo is a snapshot of the tracer's own environment, taken once
// at startup, that every exec event's EnvDiff is compared against.
type BaselineInfo struct {
	Env []string
	Cwd string
}

// captureBaseline reads the tracer process's own cwd/environment. It uses
// the tracer's own pid ("self") rather than os.Environ()/os.Getwd()
// directly so the same procfs.Reader and its string interning serve both
// the tracer and every tracee read.
func captureBaseline(pf *procfs.Reader) (BaselineInfo, error) {
	self := os.Getpid()
	cwd, err := pf.Cwd(self)
	if err != nil {
		return BaselineInfo{}, err
	}
	return BaselineInfo{Env: os.Environ(), Cwd: cwd}, nil
}
