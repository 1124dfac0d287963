// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command-line framework of the fleetcheck binary.
//
// [Command] is a named node with optional [Command.Subcommands], a
// [pflag.FlagSet] factory and a Run function; [Command.Execute] parses
// flags, routes subcommands and prints help with examples. Flags are
// usually declared as tagged params structs bound by [FlagsFromParams].
//
// An unknown subcommand or flag gets a "did you mean" suggestion when a
// known name is within Levenshtein distance 3.
package cli
