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

// Package config holds the CLI-adjacent tracer configuration and an
// optional on-disk defaults file, merged the way a long-running trace
// picks up house defaults without repeating flags every run.
package config

import (
	"fmt"
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/anonymouse64/exectrace/internal/seccomp"
)

// Config is the fully-resolved set of knobs the tracer orchestrator needs,
// after CLI flags have been merged over any on-disk defaults file.
type Config struct {
	Seccomp       seccomp.Mode
	RunAsUser     string
	FollowForks   bool
	Breakpoints   []string // wire-form "stop:kind:payload" strings, parsed by internal/breakpoint
	OutputFile    string
	JSON          bool
	EnvBaseline   []string // baseline environment for the env-diff-vs-baseline feature
}

// fileDefaults is the subset of Config that can be supplied by an on-disk
// yaml defaults file; CLI flags always take precedence over these.
type fileDefaults struct {
	Seccomp     string   `yaml:"seccomp-bpf"`
	RunAsUser   string   `yaml:"user"`
	FollowForks *bool    `yaml:"follow-forks"`
	Breakpoints []string `yaml:"breakpoints"`
	OutputFile  string   `yaml:"output-file"`
	JSON        *bool    `yaml:"json"`
}

// LoadDefaultsFile reads an optional yaml defaults file at path. A missing
// file is not an error: it simply means there are no defaults to merge.
func LoadDefaultsFile(path string) (*fileDefaults, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileDefaults{}, nil
		}
		return nil, fmt.Errorf("config: cannot read defaults file %s: %w", path, err)
	}
	var fd fileDefaults
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return nil, fmt.Errorf("config: cannot parse defaults file %s: %w", path, err)
	}
	return &fd, nil
}

// MergeDefaults applies fd's fields onto cfg wherever cfg's corresponding
// field is still at its zero value, i.e. wasn't explicitly set via CLI
// flags. Seccomp mode is merged via its raw string form and parsed here so
// callers never need to special-case "unset".
func MergeDefaults(cfg Config, fd *fileDefaults, seccompFlagSet bool) (Config, error) {
	if fd == nil {
		return cfg, nil
	}
	if !seccompFlagSet && fd.Seccomp != "" {
		mode, err := seccomp.ParseMode(fd.Seccomp)
		if err != nil {
			return cfg, err
		}
		cfg.Seccomp = mode
	}
	if cfg.RunAsUser == "" && fd.RunAsUser != "" {
		cfg.RunAsUser = fd.RunAsUser
	}
	if !cfg.FollowForks && fd.FollowForks != nil {
		cfg.FollowForks = *fd.FollowForks
	}
	if len(cfg.Breakpoints) == 0 && len(fd.Breakpoints) > 0 {
		cfg.Breakpoints = fd.Breakpoints
	}
	if cfg.OutputFile == "" && fd.OutputFile != "" {
		cfg.OutputFile = fd.OutputFile
	}
	if !cfg.JSON && fd.JSON != nil {
		cfg.JSON = *fd.JSON
	}
	return cfg, nil
}
