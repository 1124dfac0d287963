// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/fleetcheck/cmd/fleetcheck/cli"
	"github.com/bureau-foundation/fleetcheck/lib/store"
)

type importParams struct {
	cli.ConfigFlag
}

func importCommand(out io.Writer) *cli.Command {
	var params importParams
	return &cli.Command{
		Name:    "import",
		Summary: "Load an inventory file into the store",
		Description: `Upsert the data sources, devices, namesets, tests and selectors of
one or more inventory files. Files ending in .yaml or .yml are YAML;
.json and .jsonc are JSON with comments. Each file is imported in one
transaction: an invalid file changes nothing.

A relative data source path is resolved against paths.data_sources.`,
		Usage: "fleetcheck import [flags] FILE...",
		Examples: []cli.Example{
			{Description: "Import the lab inventory", Command: "fleetcheck import inventory/lab.yaml"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("import", &params) },
		Run: func(args []string) error {
			if len(args) == 0 {
				return errors.New("at least one inventory file is required")
			}
			env, err := openEnvironment(&params.ConfigFlag, false)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := context.Background()
			for _, path := range args {
				inv, err := store.ReadInventory(path)
				if err != nil {
					return err
				}
				for i := range inv.DataSources {
					source := &inv.DataSources[i]
					if source.Path != "" && !filepath.IsAbs(source.Path) {
						source.Path = filepath.Join(env.config.Paths.DataSources, source.Path)
					}
				}
				summary, err := env.store.Import(ctx, inv)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(out, "%s: %d data sources, %d devices, %d namesets, %d tests, %d selectors\n",
					path, summary.DataSources, summary.Devices, summary.Namesets, summary.Tests, summary.Selectors)
			}
			return nil
		},
	}
}
