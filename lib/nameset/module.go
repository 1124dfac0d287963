// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nameset

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bureau-foundation/fleetcheck/lib/expr"
)

// module is an importable library exposed to nameset code.
type module struct {
	name  string
	attrs map[string]expr.Value
}

func (m *module) TypeName() string { return "module" }

func (m *module) String() string { return "<module '" + m.name + "'>" }

func (m *module) Attr(name string) (expr.Value, error) {
	if v, ok := m.attrs[name]; ok {
		return v, nil
	}
	return nil, expr.ErrNoAttribute
}

// modules is built on first import, after package initialization has
// filled the function tables the modules expose.
var modules = sync.OnceValue(func() map[string]*module {
	return map[string]*module{
		"re":   newReModule(),
		"json": newJSONModule(),
	}
})

// Modules returns the names of the modules nameset code may import.
func Modules() []string {
	return []string{"json", "re"}
}

// importModule is the importer handed to the interpreter.
func importModule(name string) (expr.Value, error) {
	if m, ok := modules()[name]; ok {
		return m, nil
	}
	return nil, raise("ImportError", "module '%s' is not available (allowed: %s)", name, strings.Join(Modules(), ", "))
}

func raise(kind, format string, args ...any) error {
	return &expr.EvalError{Type: kind, Message: fmt.Sprintf(format, args...)}
}

// bindArgs matches positional and keyword arguments to params. A
// param with a trailing "=" is optional and absent from the result
// map when not supplied.
func bindArgs(fn string, args []expr.Value, kwargs []expr.Kwarg, params ...string) (map[string]expr.Value, error) {
	if len(args) > len(params) {
		return nil, raise("TypeError", "%s() takes at most %d arguments (%d given)", fn, len(params), len(args))
	}
	bound := make(map[string]expr.Value, len(params))
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = strings.TrimSuffix(p, "=")
	}
	for i, v := range args {
		bound[names[i]] = v
	}
	for _, kw := range kwargs {
		known := false
		for _, name := range names {
			known = known || name == kw.Name
		}
		if !known {
			return nil, raise("TypeError", "%s() got an unexpected keyword argument '%s'", fn, kw.Name)
		}
		if _, dup := bound[kw.Name]; dup {
			return nil, raise("TypeError", "%s() got multiple values for argument '%s'", fn, kw.Name)
		}
		bound[kw.Name] = kw.Value
	}
	for i, p := range params {
		if strings.HasSuffix(p, "=") {
			continue
		}
		if _, ok := bound[names[i]]; !ok {
			return nil, raise("TypeError", "%s() missing required argument '%s'", fn, names[i])
		}
	}
	return bound, nil
}

func stringArg(fn string, v expr.Value) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", raise("TypeError", "%s() expected string, got %s", fn, expr.TypeName(v))
	}
	return s, nil
}

func optionalInt(fn string, v expr.Value) (int64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	return 0, raise("TypeError", "%s() expected int, got %s", fn, expr.TypeName(v))
}
