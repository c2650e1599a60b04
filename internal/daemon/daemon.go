// Package daemon implements the Bootstrap component: it applies a
// configuration document to a Core, runs the Validator, optionally detaches
// from the controlling terminal and redirects diagnostic output to a log
// file, and then enters the Event Loop.
//
// Go cannot safely fork(2) a process that already has goroutines or
// background threads running (the original C repeater forks a
// single-threaded process and keeps its already-bound sockets across the
// fork). Detach here instead re-executes the binary with --foreground, so
// the child rebuilds its own Core/Registry/sockets from scratch; Start
// validates and binds once in the parent first, purely to give the parent
// an accurate exit code, then closes those sockets before handing off.
package daemon

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/UnionPacific/udp-repeater/internal/config"
	"github.com/UnionPacific/udp-repeater/internal/core"
	"github.com/UnionPacific/udp-repeater/internal/eventloop"
	"github.com/sirupsen/logrus"
)

// Options configures a single Bootstrap run.
type Options struct {
	ConfigPath string
	LogPath    string
	// Foreground disables the fork/detach step, per spec.md §4.6's note
	// that steps (a) and (b) "MAY be disabled in test builds so the loop
	// runs in the foreground".
	Foreground bool
	// Debug, if true, logs the startup configuration dump (spec.md §5,
	// SUPPLEMENTED FEATURES) at Debug level before validation runs.
	Debug bool
	// PollEgressSockets forwards to eventloop.Config; see its doc comment.
	PollEgressSockets bool
}

// Start runs the Bootstrap sequence described above. It returns an error
// for any configuration, validation, or socket failure; a nil return from
// a backgrounded (!Foreground) run means the child was launched
// successfully, not that the child has exited.
func Start(ctx context.Context, opts Options, log *logrus.Logger) error {
	c := core.New(log)

	doc, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if err := config.Apply(doc, c); err != nil {
		return err
	}

	if opts.Debug {
		c.DumpConfiguration()
	}

	if errs := c.Validate(); len(errs) > 0 {
		c.Close()
		return fmt.Errorf("configuration validation failed with %d error(s)", len(errs))
	}

	if opts.Foreground {
		defer c.Close()
		return c.Run(ctx, eventloop.Config{PollEgressSockets: opts.PollEgressSockets})
	}

	// Sockets were only opened to prove the configuration binds; the
	// detached child will open its own.
	c.Close()
	return detach(opts, log)
}

// detach re-executes the current binary with --foreground, a new session
// (setsid), and stdout/stderr redirected to the opened log file, then
// returns immediately without waiting for the child.
func detach(opts Options, log *logrus.Logger) error {
	logFile, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("could not open log file: %w", err)
	}
	defer logFile.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := append([]string{exe}, os.Args[1:]...)
	args = append(args, "--foreground")

	procAttr := &os.ProcAttr{
		Env:   os.Environ(),
		Files: []*os.File{nil, logFile, logFile},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}

	proc, err := os.StartProcess(exe, args, procAttr)
	if err != nil {
		return fmt.Errorf("fork failed: %w", err)
	}

	log.WithField("pid", proc.Pid).Info("repeater daemonized")
	return proc.Release()
}
