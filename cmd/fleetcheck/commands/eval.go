// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/fleetcheck/cmd/fleetcheck/cli"
	"github.com/bureau-foundation/fleetcheck/lib/compliance"
	"github.com/bureau-foundation/fleetcheck/lib/devicestate"
	"github.com/bureau-foundation/fleetcheck/lib/expr"
	"github.com/bureau-foundation/fleetcheck/lib/nameset"
)

type evalParams struct {
	cli.ConfigFlag
	cli.JSONOutput

	Namesets  []string `flag:"nameset,n" desc:"make this nameset's functions available (repeatable)"`
	Pair      string   `flag:"pair" desc:"device bound as the dynamic pair"`
	Override  string   `flag:"override-datasource" desc:"read state from this data source"`
	Verbosity int      `flag:"verbosity,v" default:"1" desc:"explanation verbosity 0-2"`
}

// evalOutput is the --json shape of an evaluation.
type evalOutput struct {
	Passed      bool        `json:"passed"`
	Explanation []expr.Step `json:"explanation"`
	Error       string      `json:"error,omitempty"`
}

func evalCommand(out io.Writer) *cli.Command {
	var params evalParams
	return &cli.Command{
		Name:    "eval",
		Summary: "Evaluate an expression against one device",
		Description: `Evaluate a test expression with "device" bound to the named device,
the way a run would, and print the result and its explanation. Global
namesets are always loaded. Exits 1 when the expression is false or
fails to evaluate.`,
		Usage: "fleetcheck eval [flags] DEVICE EXPRESSION",
		Examples: []cli.Example{
			{
				Description: "Check the MTU in a device's config",
				Command:     `fleetcheck eval spine-1 "device.config['mtu'] == 9000"`,
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("eval", &params) },
		Run: func(args []string) error {
			if len(args) != 2 {
				return errors.New("a device name and an expression are required")
			}
			env, err := openEnvironment(&params.ConfigFlag, false)
			if err != nil {
				return err
			}
			defer env.Close()
			ctx := context.Background()

			device, err := params.device(ctx, env, args[0])
			if err != nil {
				return err
			}
			functions, err := params.functions(ctx, env)
			if err != nil {
				return err
			}

			result := evalOutput{}
			result.Passed, result.Explanation, err = expr.Evaluate(ctx, args[1],
				map[string]expr.Value{"device": device}, functions, params.Verbosity)
			if err != nil {
				var evalErr *expr.EvalError
				var invalid *expr.InvalidExpressionError
				if !errors.As(err, &evalErr) && !errors.As(err, &invalid) {
					return err
				}
				result.Error = err.Error()
			}

			if params.OutputJSON {
				if err := cli.WriteJSON(out, result); err != nil {
					return err
				}
			} else {
				if result.Error != "" {
					fmt.Fprintf(out, "error: %s\n", result.Error)
				} else {
					fmt.Fprintln(out, result.Passed)
				}
				for _, step := range result.Explanation {
					fmt.Fprintf(out, "  %s = %s\n", step.Label, expr.Repr(step.Value))
				}
			}
			if !result.Passed {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// device resolves name and, with --pair, its dynamic pair.
func (p *evalParams) device(ctx context.Context, env *environment, name string) (*devicestate.Device, error) {
	sources, err := env.store.DataSources(ctx)
	if err != nil {
		return nil, err
	}
	var override *compliance.DataSource
	if p.Override != "" {
		if override, err = env.store.DataSource(ctx, p.Override); err != nil {
			return nil, fmt.Errorf("data source %s: %w", p.Override, err)
		}
	}
	resolver := devicestate.NewResolver(sources, override)

	d, err := deviceByName(ctx, env.store, name)
	if err != nil {
		return nil, err
	}
	device := resolver.Device(d)
	if p.Pair != "" {
		pair, err := deviceByName(ctx, env.store, p.Pair)
		if err != nil {
			return nil, err
		}
		device.SetPair(resolver.Device(pair))
	}
	return device, nil
}

// functions merges the default functions, the named namesets and the
// global namesets. Unlike a run, a nameset that fails to load is an
// error here.
func (p *evalParams) functions(ctx context.Context, env *environment) (map[string]expr.Callable, error) {
	all, err := env.store.Namesets(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*compliance.Nameset, len(all))
	for _, ns := range all {
		byName[ns.Name] = ns
	}

	defaults := devicestate.DefaultFunctions()
	enclosing := make(map[string]expr.Value, len(defaults))
	for name, fn := range defaults {
		enclosing[name] = fn
	}

	var load []*compliance.Nameset
	for _, name := range p.Namesets {
		ns, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown nameset %q", name)
		}
		load = append(load, ns)
	}
	for _, ns := range all {
		if ns.Global {
			load = append(load, ns)
		}
	}

	functions := maps.Clone(defaults)
	for _, ns := range load {
		extracted, err := nameset.Extract(ctx, ns.Definitions, enclosing)
		if err != nil {
			return nil, fmt.Errorf("nameset %s: %w", ns.Name, err)
		}
		maps.Copy(functions, extracted)
	}
	return functions, nil
}
