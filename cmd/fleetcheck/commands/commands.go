// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the fleetcheck command tree.
//
// Every command reads the same YAML configuration (--config or
// $FLEETCHECK_CONFIG) and opens the inventory store and, where it needs
// one, the task queue named there.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/fleetcheck/cmd/fleetcheck/cli"
	"github.com/bureau-foundation/fleetcheck/lib/version"
)

// Root builds and returns the complete command tree.
func Root() *cli.Command {
	return newRoot(os.Stdout)
}

// newRoot builds the tree with command output going to out.
func newRoot(out io.Writer) *cli.Command {
	return &cli.Command{
		Name: "fleetcheck",
		Description: `fleetcheck: compliance tests for network device state.

Tests are boolean expressions evaluated against the state files of
each device a selector matches. A run splits the work across queue
jobs, stages every worker's results and commits them into a report
only when every worker finished.`,
		Subcommands: []*cli.Command{
			importCommand(out),
			runCommand(out),
			statusCommand(out),
			workerCommand(out),
			reportCommand(out),
			evalCommand(out),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Fprintf(out, "fleetcheck %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
