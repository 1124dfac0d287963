// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/fleetcheck/cmd/fleetcheck/cli"
	"github.com/bureau-foundation/fleetcheck/lib/compliance"
	"github.com/bureau-foundation/fleetcheck/lib/expr"
)

func reportCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "report",
		Summary: "Inspect compliance reports",
		Subcommands: []*cli.Command{
			reportListCommand(out),
			reportShowCommand(out),
		},
	}
}

type reportListParams struct {
	cli.ConfigFlag
	cli.JSONOutput
}

func reportListCommand(out io.Writer) *cli.Command {
	var params reportListParams
	return &cli.Command{
		Name:    "list",
		Summary: "List reports, newest first",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("list", &params) },
		Run: func(args []string) error {
			env, err := openEnvironment(&params.ConfigFlag, false)
			if err != nil {
				return err
			}
			defer env.Close()

			reports, err := env.store.Reports(context.Background())
			if err != nil {
				return err
			}
			if params.OutputJSON {
				return cli.WriteJSON(out, reports)
			}
			table := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(table, "ID\tCREATED\tPASSED\tDEVICES\tTESTS")
			for _, report := range reports {
				fmt.Fprintf(table, "%d\t%s\t%s\t%s\t%s\n",
					report.ID,
					humanize.Time(report.CreatedAt),
					ratio(report.Stats.Passed, report.Stats.Total),
					humanize.Comma(int64(report.Stats.Devices)),
					humanize.Comma(int64(report.Stats.Tests)),
				)
			}
			return table.Flush()
		},
	}
}

type reportShowParams struct {
	cli.ConfigFlag
	cli.JSONOutput

	Failed bool `flag:"failed" desc:"list only failed results"`
}

// reportOutput is the --json shape of report show.
type reportOutput struct {
	*compliance.Report
	Results []*compliance.TestResult `json:"results"`
}

func reportShowCommand(out io.Writer) *cli.Command {
	var params reportShowParams
	return &cli.Command{
		Name:    "show",
		Summary: "Show one report and its results",
		Usage:   "fleetcheck report show [flags] REPORT_ID",
		Examples: []cli.Example{
			{Description: "Show what failed in report 12", Command: "fleetcheck report show --failed 12"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("show", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("exactly one report id is required")
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid report id %q", args[0])
			}
			env, err := openEnvironment(&params.ConfigFlag, false)
			if err != nil {
				return err
			}
			defer env.Close()
			ctx := context.Background()

			report, err := env.store.Report(ctx, id)
			if err != nil {
				return fmt.Errorf("report %d: %w", id, err)
			}
			all, err := env.store.Results(ctx, id)
			if err != nil {
				return err
			}
			results := all[:0:0]
			for _, result := range all {
				if !params.Failed || !result.Passed {
					results = append(results, result)
				}
			}
			if params.OutputJSON {
				return cli.WriteJSON(out, reportOutput{Report: report, Results: results})
			}

			tests, err := env.store.TestNames(ctx)
			if err != nil {
				return err
			}
			devices, err := env.store.Devices(ctx)
			if err != nil {
				return err
			}
			deviceNames := make(map[int64]string, len(devices))
			for _, d := range devices {
				deviceNames[d.ID] = d.Name
			}

			fmt.Fprintf(out, "Report %d, created %s\n", report.ID, humanize.Time(report.CreatedAt))
			fmt.Fprintf(out, "Passed %s on %d devices, %d tests\n",
				ratio(report.Stats.Passed, report.Stats.Total), report.Stats.Devices, report.Stats.Tests)
			for _, severity := range compliance.Severities {
				if stat, ok := report.Stats.BySeverity[severity]; ok {
					fmt.Fprintf(out, "  %-7s %s\n", severity, ratio(stat.Passed, stat.Total))
				}
			}
			fmt.Fprintln(out)

			table := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(table, "DEVICE\tTEST\tRESULT\tEXPLANATION")
			for _, result := range results {
				outcome := "pass"
				if !result.Passed {
					outcome = "FAIL"
				}
				device := deviceNames[result.DeviceID]
				if result.DynamicPairID != 0 {
					device += " <> " + deviceNames[result.DynamicPairID]
				}
				fmt.Fprintf(table, "%s\t%s\t%s\t%s\n", device, tests[result.TestID], outcome, explanation(result))
			}
			return table.Flush()
		},
	}
}

// explanation renders the first explanation step on one line.
func explanation(result *compliance.TestResult) string {
	if len(result.Explanation) == 0 {
		return ""
	}
	step := result.Explanation[0]
	if step.Value == nil {
		return step.Label
	}
	return step.Label + " = " + expr.Repr(step.Value)
}

func ratio(passed, total int) string {
	if total == 0 {
		return "0/0"
	}
	return fmt.Sprintf("%s/%s (%.1f%%)", humanize.Comma(int64(passed)), humanize.Comma(int64(total)),
		100*float64(passed)/float64(total))
}
