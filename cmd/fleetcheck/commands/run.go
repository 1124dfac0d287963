// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/fleetcheck/cmd/fleetcheck/cli"
	"github.com/bureau-foundation/fleetcheck/lib/runtests"
	"github.com/bureau-foundation/fleetcheck/lib/store"
)

type runParams struct {
	cli.ConfigFlag
	cli.JSONOutput

	Selectors []string      `flag:"selector,s" desc:"run only this selector (repeatable)"`
	Devices   []string      `flag:"device,d" desc:"test only this device (repeatable)"`
	Tags      []string      `flag:"tag,t" desc:"run only tests carrying this tag (repeatable)"`
	Workers   int           `flag:"workers,w" default:"4" desc:"number of apply jobs"`
	Verbosity int           `flag:"verbosity,v" default:"-1" desc:"explanation verbosity 0-2 (default runs.explanation_verbosity)"`
	Sync      bool          `flag:"sync" desc:"sync the implicated data sources first"`
	Override  string        `flag:"override-datasource" desc:"read every device's state from this data source"`
	At        string        `flag:"at" desc:"start time, RFC 3339"`
	Every     time.Duration `flag:"every" desc:"relaunch this long after each successful run"`
	Cron      string        `flag:"cron" desc:"relaunch at the next match of this cron expression"`
	Local     bool          `flag:"local" desc:"run the jobs in this process and wait for the result"`
}

// launchOutput is the --json shape of a launch.
type launchOutput struct {
	RunID    string          `json:"run_id"`
	ReportID int64           `json:"report_id"`
	Status   store.RunStatus `json:"status"`
	Output   string          `json:"output,omitempty"`
}

func runCommand(out io.Writer) *cli.Command {
	var params runParams
	return &cli.Command{
		Name:    "run",
		Summary: "Launch a test run",
		Description: `Enqueue a split job, --workers apply jobs and a combine job. Worker
processes ("fleetcheck worker") pick them up; with --local this process
runs them and prints the outcome.

A run with --every or --cron schedules its successor when it succeeds.`,
		Examples: []cli.Example{
			{Description: "Test the spines with the l2 tests", Command: "fleetcheck run --selector spines --tag l2 --local"},
			{Description: "Run everything nightly", Command: "fleetcheck run --workers 8 --sync --cron '0 2 * * *'"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("run", &params) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			env, err := openEnvironment(&params.ConfigFlag, true)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			launchParams, err := params.resolve(ctx, env)
			if err != nil {
				return err
			}
			pipeline, err := env.pipeline()
			if err != nil {
				return err
			}
			launched, err := pipeline.Launch(ctx, *launchParams)
			if err != nil {
				return err
			}
			result := launchOutput{RunID: launched.RunID, ReportID: launched.ReportID, Status: store.RunPending}

			if params.Local {
				worker, err := env.worker("local", 1)
				if err != nil {
					return err
				}
				if _, err := worker.Drain(ctx); err != nil {
					return err
				}
				run, err := env.store.Run(ctx, launched.RunID)
				if err != nil {
					return err
				}
				result.Status, result.Output = run.Status, run.Output
			}

			if params.OutputJSON {
				if err := cli.WriteJSON(out, result); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "run %s (report %d): %s\n", result.RunID, result.ReportID, result.Status)
				if result.Output != "" {
					fmt.Fprintln(out, result.Output)
				}
			}
			if params.Local && result.Status != store.RunCompleted && result.Status != store.RunPending {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// resolve turns the flags into launch parameters.
func (p *runParams) resolve(ctx context.Context, env *environment) (*runtests.Params, error) {
	params := &runtests.Params{
		TestTags:             p.Tags,
		SyncDataSources:      p.Sync,
		OverridingDataSource: p.Override,
		Workers:              p.Workers,
		Verbosity:            p.Verbosity,
		Interval:             p.Every,
		Cron:                 p.Cron,
	}
	if params.Verbosity < 0 {
		params.Verbosity = env.config.Runs.ExplanationVerbosity
	}
	if p.At != "" {
		at, err := time.Parse(time.RFC3339, p.At)
		if err != nil {
			return nil, fmt.Errorf("--at: %w", err)
		}
		params.ScheduleAt = at
	}
	var err error
	if params.Selectors, err = selectorIDs(ctx, env.store, p.Selectors); err != nil {
		return nil, err
	}
	if params.Devices, err = deviceIDs(ctx, env.store, p.Devices); err != nil {
		return nil, err
	}
	return params, nil
}
