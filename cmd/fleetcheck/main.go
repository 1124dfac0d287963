// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"

	"github.com/bureau-foundation/fleetcheck/cmd/fleetcheck/commands"
	"github.com/bureau-foundation/fleetcheck/lib/process"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own outcome (eval, run --local)
		// return an ExitCoder. Don't print a redundant "error:" line.
		var coder process.ExitCoder
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
