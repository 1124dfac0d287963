// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/fleetcheck/lib/config"
)

// JSONOutput adds a --json flag to a params struct.
//
//	type listParams struct {
//	    cli.JSONOutput
//	    Limit int `flag:"limit" desc:"number of runs"`
//	}
//
//	if done, err := params.EmitJSON(runs); done {
//	    return err
//	}
type JSONOutput struct {
	OutputJSON bool `flag:"json" desc:"output as JSON"`
}

// EmitJSON writes result to stdout as indented JSON when --json is
// set. It reports whether it wrote anything; a nil slice is written as
// [].
func (j *JSONOutput) EmitJSON(result any) (bool, error) {
	if !j.OutputJSON {
		return false, nil
	}
	return true, WriteJSON(os.Stdout, result)
}

// WriteJSON writes value to w as indented JSON.
func WriteJSON(w io.Writer, value any) error {
	if v := reflect.ValueOf(value); v.Kind() == reflect.Slice && v.IsNil() {
		value = reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// ConfigFlag binds --config. Embed it in the params of every command
// that reads the configuration.
type ConfigFlag struct {
	Path string
}

// AddFlags implements FlagBinder.
func (c *ConfigFlag) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.Path, "config", "", "configuration file (default $"+config.EnvVariable+")")
}

// Load loads the file named by --config, or by the environment
// variable when the flag is absent.
func (c *ConfigFlag) Load() (*config.Config, error) {
	if c.Path == "" {
		return config.Load()
	}
	return config.LoadFile(c.Path)
}

// ExitError ends the process with Code without printing an error. The
// command has already written its own output; a false "eval" is one.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit code %d", e.Code) }

// ExitCode implements process.ExitCoder.
func (e *ExitError) ExitCode() int { return e.Code }
