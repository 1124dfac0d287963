// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicestate

import (
	"sync"

	"github.com/bureau-foundation/fleetcheck/lib/compliance"
	"github.com/bureau-foundation/fleetcheck/lib/expr"
)

// Device is a device as expressions see it. Its state is resolved on
// first use.
type Device struct {
	*compliance.Device

	resolver *Resolver
	pair     *Device

	once     sync.Once
	state    *State
	stateErr error
}

// Device wraps d for evaluation.
func (r *Resolver) Device(d *compliance.Device) *Device {
	return &Device{Device: d, resolver: r}
}

// State resolves the device's state once and returns it.
func (d *Device) State() (*State, error) {
	d.once.Do(func() {
		d.state, d.stateErr = d.resolver.State(d.Device)
	})
	return d.state, d.stateErr
}

// SetPair records the device's dynamic pair.
func (d *Device) SetPair(pair *Device) { d.pair = pair }

// Pair returns the dynamic pair, or nil.
func (d *Device) Pair() *Device { return d.pair }

// TypeName implements expr.Object.
func (d *Device) TypeName() string { return "Device" }

func (d *Device) String() string { return d.Name }

// Attr implements expr.Object.
func (d *Device) Attr(name string) (expr.Value, error) {
	switch name {
	case "id":
		return d.ID, nil
	case "name":
		return d.Name, nil
	case "status":
		return optional(d.Status), nil
	case "platform":
		return optional(d.Platform), nil
	case "manufacturer":
		return optional(d.Manufacturer), nil
	case "device_type":
		return optional(d.DeviceType), nil
	case "site":
		return optional(d.Site), nil
	case "location":
		return optional(d.Location), nil
	case "tags":
		return expr.FromGo(append([]string{}, d.Tags...), true), nil
	case "custom_fields":
		return expr.FromGo(d.CustomFields, true), nil
	case "dynamic_pair":
		if d.pair == nil {
			return nil, nil
		}
		return d.pair, nil
	case "state":
		state, err := d.State()
		if err != nil {
			return nil, itemError(err)
		}
		return state, nil
	case "config":
		state, err := d.State()
		if err != nil {
			return nil, itemError(err)
		}
		config, err := state.Get(ConfigItem)
		return config, itemError(err)
	}
	return nil, expr.ErrNoAttribute
}

func optional(s string) expr.Value {
	if s == "" {
		return nil
	}
	return s
}

// DefaultFunctions returns the functions every test may call besides
// the builtins: jq, state(device) and config(device).
func DefaultFunctions() map[string]expr.Callable {
	return map[string]expr.Callable{
		"jq":     expr.JQ(),
		"state":  deviceFunction("state"),
		"config": deviceFunction("config"),
	}
}

func deviceFunction(attr string) *expr.Builtin {
	return expr.NewBuiltin(attr, func(th *expr.Thread, args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
		if len(args) != 1 || len(kwargs) != 0 {
			return nil, &expr.EvalError{Type: "TypeError", Message: attr + "() takes exactly one argument"}
		}
		device, ok := args[0].(*Device)
		if !ok {
			return nil, &expr.EvalError{Type: "TypeError", Message: attr + "() argument must be a device, not " + expr.TypeName(args[0])}
		}
		return device.Attr(attr)
	})
}
