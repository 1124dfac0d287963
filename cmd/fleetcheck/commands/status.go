// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/fleetcheck/cmd/fleetcheck/cli"
	"github.com/bureau-foundation/fleetcheck/lib/codec"
	"github.com/bureau-foundation/fleetcheck/lib/runlog"
	"github.com/bureau-foundation/fleetcheck/lib/runtests"
	"github.com/bureau-foundation/fleetcheck/lib/store"
)

type statusParams struct {
	cli.ConfigFlag
	cli.JSONOutput

	Limit int `flag:"limit,n" default:"20" desc:"number of runs to list"`
}

// runOutput is the --json shape of a run record.
type runOutput struct {
	RunID       string           `json:"run_id"`
	ReportID    int64            `json:"report_id,omitempty"`
	Status      store.RunStatus  `json:"status"`
	Params      *runtests.Params `json:"params,omitempty"`
	Output      string           `json:"output,omitempty"`
	Log         []runlog.Message `json:"log,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func statusCommand(out io.Writer) *cli.Command {
	var params statusParams
	return &cli.Command{
		Name:    "status",
		Summary: "Show recent runs or one run's log",
		Usage:   "fleetcheck status [flags] [RUN_ID]",
		Examples: []cli.Example{
			{Description: "List the last five runs", Command: "fleetcheck status -n 5"},
			{Description: "Show the log of one run", Command: "fleetcheck status 0b6f6c1e-3f5d-4a43-9d1e-2f8d8f0d6c11"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("status", &params) },
		Run: func(args []string) error {
			if len(args) > 1 {
				return errors.New("at most one run id")
			}
			env, err := openEnvironment(&params.ConfigFlag, false)
			if err != nil {
				return err
			}
			defer env.Close()
			ctx := context.Background()

			if len(args) == 1 {
				run, err := env.store.Run(ctx, args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				if params.OutputJSON {
					return cli.WriteJSON(out, newRunOutput(run, true))
				}
				printRun(out, run)
				return nil
			}

			runs, err := env.store.Runs(ctx, params.Limit)
			if err != nil {
				return err
			}
			if params.OutputJSON {
				result := make([]runOutput, 0, len(runs))
				for _, run := range runs {
					result = append(result, newRunOutput(run, false))
				}
				return cli.WriteJSON(out, result)
			}
			table := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(table, "RUN\tSTATUS\tREPORT\tCREATED\tOUTPUT")
			for _, run := range runs {
				fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s\n",
					run.JobID, run.Status, reportColumn(run.ReportID), humanize.Time(run.CreatedAt), run.Output)
			}
			return table.Flush()
		},
	}
}

func newRunOutput(run *store.Run, withLog bool) runOutput {
	result := runOutput{
		RunID:       run.JobID,
		ReportID:    run.ReportID,
		Status:      run.Status,
		Output:      run.Output,
		CreatedAt:   run.CreatedAt,
		StartedAt:   optionalTime(run.StartedAt),
		CompletedAt: optionalTime(run.CompletedAt),
	}
	var params runtests.Params
	if err := codec.Unmarshal(run.Params, &params); err == nil {
		result.Params = &params
	}
	if withLog {
		result.Log = run.Log
	}
	return result
}

func printRun(w io.Writer, run *store.Run) {
	fmt.Fprintf(w, "Run:     %s\n", run.JobID)
	fmt.Fprintf(w, "Status:  %s\n", run.Status)
	if run.ReportID != 0 {
		fmt.Fprintf(w, "Report:  %d\n", run.ReportID)
	}
	fmt.Fprintf(w, "Created: %s (%s)\n", run.CreatedAt.Format(time.RFC3339), humanize.Time(run.CreatedAt))
	if !run.CompletedAt.IsZero() && !run.StartedAt.IsZero() {
		fmt.Fprintf(w, "Took:    %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Output != "" {
		fmt.Fprintf(w, "Output:  %s\n", run.Output)
	}
	if len(run.Log) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, message := range run.Log {
		prefix := ""
		if message.ScriptID != "" {
			prefix = message.ScriptID + ": "
		}
		fmt.Fprintf(w, "%s %-7s %s%s\n", message.Time.Format(time.TimeOnly), message.Status, prefix, message.Message)
	}
}

func reportColumn(id int64) string {
	if id == 0 {
		return "-"
	}
	return fmt.Sprint(id)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
