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

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"

	flags "github.com/jessevdk/go-flags"

	"github.com/anonymouse64/exectrace/internal/breakpoint"
	"github.com/anonymouse64/exectrace/internal/config"
	"github.com/anonymouse64/exectrace/internal/files"
	"github.com/anonymouse64/exectrace/internal/report"
	"github.com/anonymouse64/exectrace/internal/seccomp"
	"github.com/anonymouse64/exectrace/internal/tracer"
)

// Command is the top-level set of flags for exectrace.
type Command struct {
	Seccomp            string   `long:"seccomp" description:"seccomp-bpf fast path: auto, on, or off" default:"auto"`
	RunAsUser          string   `long:"user" description:"run the traced program as this user instead of the caller"`
	Breakpoints        []string `long:"breakpoint" description:"stop:kind:payload breakpoint pattern, may be given multiple times"`
	OutputFile         string   `short:"o" long:"output" description:"write trace output to this file instead of stdout"`
	JSONOutput         bool     `long:"json" description:"emit one JSON object per event instead of a table"`
	Verbose            bool     `short:"v" long:"verbose" description:"also show cwd, env diff and open fds for each exec"`
	Timestamps         bool     `long:"timestamps" description:"record a wall-clock timestamp on every exec event"`
	SuccessfulOnly     bool     `long:"successful-only" description:"only report execs that actually succeeded"`
	ResolveProcSelfExe bool     `long:"resolve-proc-self-exe" description:"resolve a /proc/self/exe exec target to its real path"`
	HideCloexecFds     bool     `long:"hide-cloexec-fds" description:"omit close-on-exec file descriptors from the fd table"`
	ConfigFile         string   `long:"config" description:"path to a yaml file of option defaults" default:"/etc/exectrace/config.yaml"`

	Args struct {
		Cmd []string `description:"command to run and trace"`
	} `positional-args:"yes" required:"yes"`
}

var currentCmd Command
var parser = flags.NewParser(&currentCmd, flags.Default)

func main() {
	// A re-exec of this same binary, spawned by Tracer.Run to host the
	// root tracee's pre-exec setup, never reaches flag parsing: RunChild
	// takes over and never returns once it recognizes its marker env var.
	tracer.RunChild()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := run(); err != nil {
		log.Fatalf("exectrace: %v", err)
	}
}

func run() error {
	seccompFlagSet := isFlagSet("seccomp")
	mode, err := seccomp.ParseMode(currentCmd.Seccomp)
	if err != nil {
		return err
	}

	cfg := config.Config{
		Seccomp:     mode,
		RunAsUser:   currentCmd.RunAsUser,
		Breakpoints: currentCmd.Breakpoints,
		OutputFile:  currentCmd.OutputFile,
		JSON:        currentCmd.JSONOutput,
	}

	fd, err := config.LoadDefaultsFile(currentCmd.ConfigFile)
	if err != nil {
		return err
	}
	cfg, err = config.MergeDefaults(cfg, fd, seccompFlagSet)
	if err != nil {
		return err
	}

	bps := breakpoint.NewRegistry()
	for _, wire := range cfg.Breakpoints {
		bp, err := breakpoint.FromEditable(wire)
		if err != nil {
			return fmt.Errorf("invalid breakpoint %q: %w", wire, err)
		}
		bps.Add(bp)
	}

	w := os.Stdout
	if cfg.OutputFile != "" {
		f, err := files.EnsureExistsAndOpen(cfg.OutputFile, true)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	rw := report.New(w, report.Options{JSON: cfg.JSON, Verbose: currentCmd.Verbose})

	t := tracer.NewBuilder().
		WithSeccompMode(cfg.Seccomp).
		WithRunAsUser(cfg.RunAsUser).
		WithBreakpoints(bps).
		WithTimestamps(currentCmd.Timestamps).
		WithSuccessfulOnly(currentCmd.SuccessfulOnly).
		WithResolveProcSelfExe(currentCmd.ResolveProcSelfExe).
		WithHideCloexecFds(currentCmd.HideCloexecFds).
		Build()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("exectrace: interrupted, waiting for tracee to exit")
	}()

	done := make(chan error, 1)
	go func() { done <- t.Run(currentCmd.Args.Cmd) }()

	for msg := range t.Events() {
		if err := rw.Write(msg); err != nil {
			log.Printf("exectrace: rendering event: %v", err)
		}
	}
	if err := rw.Flush(); err != nil {
		log.Printf("exectrace: flushing output: %v", err)
	}

	return <-done
}

func isFlagSet(long string) bool {
	for _, arg := range os.Args[1:] {
		if arg == "--"+long || len(arg) > len(long)+3 && arg[:len(long)+3] == "--"+long+"=" {
			return true
		}
	}
	return false
}
