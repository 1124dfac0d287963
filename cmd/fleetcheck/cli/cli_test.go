// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
)

func TestExecuteDispatchesToSubcommand(t *testing.T) {
	var called string
	var received []string
	root := &Command{
		Name: "fleetcheck",
		Subcommands: []*Command{
			{Name: "version", Run: func([]string) error { called = "version"; return nil }},
			{
				Name: "report",
				Subcommands: []*Command{
					{Name: "show", Run: func(args []string) error {
						called = "report show"
						received = args
						return nil
					}},
				},
			},
		},
	}

	if err := root.execute([]string{"report", "show", "12"}, io.Discard); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if called != "report show" || len(received) != 1 || received[0] != "12" {
		t.Errorf("called %q with %v", called, received)
	}
}

func TestExecuteSuggestsCommands(t *testing.T) {
	root := &Command{
		Name:        "fleetcheck",
		Subcommands: []*Command{{Name: "worker", Run: func([]string) error { return nil }}},
	}
	err := root.execute([]string{"wroker"}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), `did you mean "worker"`) {
		t.Errorf("error = %v, want a suggestion", err)
	}
	if err := root.execute(nil, io.Discard); err == nil || !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("no subcommand: err = %v", err)
	}
}

func TestExecuteSuggestsFlags(t *testing.T) {
	var params struct {
		Workers int `flag:"workers,w" desc:"number of apply jobs" default:"1"`
	}
	command := &Command{
		Name:  "run",
		Flags: func() *pflag.FlagSet { return FlagsFromParams("run", &params) },
		Run:   func([]string) error { return nil },
	}
	err := command.execute([]string{"--wrokers", "4"}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "did you mean --workers?") {
		t.Errorf("error = %v, want a flag suggestion", err)
	}
	if err := command.execute([]string{"-w", "4"}, io.Discard); err != nil || params.Workers != 4 {
		t.Errorf("-w 4: workers = %d, err = %v", params.Workers, err)
	}
}

func TestHelpListsFlagsAndExamples(t *testing.T) {
	var params struct {
		ConfigFlag
		Tags []string `flag:"tag" desc:"only tests with this tag"`
	}
	command := &Command{
		Name:     "run",
		Summary:  "Launch a test run",
		Flags:    func() *pflag.FlagSet { return FlagsFromParams("run", &params) },
		Examples: []Example{{Description: "Run the l2 tests", Command: "fleetcheck run --tag l2"}},
		Run:      func([]string) error { return nil },
	}
	var out bytes.Buffer
	if err := command.execute([]string{"--help"}, &out); err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, fragment := range []string{"Launch a test run", "--config", "--tag", "# Run the l2 tests"} {
		if !strings.Contains(out.String(), fragment) {
			t.Errorf("help does not mention %q:\n%s", fragment, out.String())
		}
	}
}

func TestBindFlags(t *testing.T) {
	type params struct {
		JSONOutput
		Name      string        `flag:"name" desc:"the name"`
		Sync      bool          `flag:"sync" desc:"sync first"`
		Workers   int           `flag:"workers,w" default:"2" desc:"workers"`
		Report    int64         `flag:"report" desc:"report id"`
		Every     time.Duration `flag:"every" default:"1h" desc:"interval"`
		Tags      []string      `flag:"tag" desc:"tags"`
		Selectors []int64       `flag:"selector" default:"1,2" desc:"selector ids"`
		Untagged  string
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	if p.Workers != 2 || p.Every != time.Hour || len(p.Selectors) != 2 {
		t.Errorf("defaults not applied: %+v", p)
	}
	err := flagSet.Parse([]string{"--name", "nightly", "--sync", "--report", "9", "--tag", "l2", "--tag", "bgp",
		"--selector", "4", "--json", "extra"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := params{
		JSONOutput: JSONOutput{OutputJSON: true},
		Name:       "nightly",
		Sync:       true,
		Workers:    2,
		Report:     9,
		Every:      time.Hour,
		Tags:       []string{"l2", "bgp"},
		Selectors:  []int64{4},
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("params (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"extra"}, flagSet.Args()); diff != "" {
		t.Errorf("args (-want +got):\n%s", diff)
	}
}

func TestBindFlagsRejectsUnsupportedTypes(t *testing.T) {
	var p struct {
		Ratio float32 `flag:"ratio"`
	}
	if err := BindFlags(&p, pflag.NewFlagSet("test", pflag.ContinueOnError)); err == nil {
		t.Error("BindFlags accepted a float32 field")
	}
	if err := BindFlags(p, pflag.NewFlagSet("test", pflag.ContinueOnError)); err == nil {
		t.Error("BindFlags accepted a non-pointer")
	}
}

func TestLevenshtein(t *testing.T) {
	for _, tc := range []struct {
		a, b string
		want int
	}{
		{"", "run", 3},
		{"report", "report", 0},
		{"wroker", "worker", 2},
		{"evl", "eval", 1},
	} {
		if got := levenshtein(tc.a, tc.b); got != tc.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
