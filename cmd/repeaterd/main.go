// Command repeaterd is the CLI front-end for the UDP packet repeater core.
// It is deliberately thin: its only job is to turn two positional
// arguments (a JSON rules file and a log file path) into a
// daemon.Options and hand off to internal/daemon, per spec.md §6's CLI
// surface.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/UnionPacific/udp-repeater/internal/daemon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	foreground        bool
	debug             bool
	pollEgressSockets bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repeaterd <rules.json> <repeater.log>",
		Short: "A configurable UDP packet repeater",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepeater(args[0], args[1])
		},
		SilenceUsage: true,
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false,
		"run in the foreground instead of detaching and redirecting output to the log file")
	cmd.Flags().BoolVar(&debug, "debug", false,
		"log the startup configuration dump (transmitters, targets, maps) at debug level")
	cmd.Flags().BoolVar(&pollEgressSockets, "poll-egress-sockets", false,
		"also poll transmitter sockets for read-readiness, discarding whatever arrives (legacy behavior)")
	return cmd
}

func runRepeater(configPath, logPath string) error {
	log := logrus.New()
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}

	opts := daemon.Options{
		ConfigPath:        configPath,
		LogPath:           logPath,
		Foreground:        foreground,
		Debug:             debug,
		PollEgressSockets: pollEgressSockets,
	}

	if err := daemon.Start(context.Background(), opts, log); err != nil {
		fmt.Fprintf(os.Stderr, "repeaterd: %v\n", err)
		return err
	}
	return nil
}
