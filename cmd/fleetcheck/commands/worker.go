// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/fleetcheck/cmd/fleetcheck/cli"
)

type workerParams struct {
	cli.ConfigFlag

	Name        string `flag:"name" desc:"worker name in job rows (default host/pid)"`
	Concurrency int    `flag:"concurrency,c" desc:"jobs run at once (default queue.concurrency)"`
	Drain       bool   `flag:"drain" desc:"run the ready jobs and exit"`
}

func workerCommand(out io.Writer) *cli.Command {
	var params workerParams
	return &cli.Command{
		Name:    "worker",
		Summary: "Run queued split, apply and combine jobs",
		Description: `Claim and run the jobs of launched runs until interrupted. Any number
of worker processes may share one queue file; a job whose worker dies
is claimed again once its lease expires.`,
		Examples: []cli.Example{
			{Description: "Run eight jobs at once", Command: "fleetcheck worker --concurrency 8"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("worker", &params) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			env, err := openEnvironment(&params.ConfigFlag, true)
			if err != nil {
				return err
			}
			defer env.Close()

			concurrency := params.Concurrency
			if concurrency <= 0 {
				concurrency = env.config.Queue.Concurrency
			}
			worker, err := env.worker(params.Name, concurrency)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if params.Drain {
				ran, err := worker.Drain(ctx)
				fmt.Fprintf(out, "ran %d jobs\n", ran)
				return err
			}
			return worker.Run(ctx)
		},
	}
}
