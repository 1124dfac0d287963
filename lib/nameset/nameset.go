// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package nameset loads user-defined helper functions ("namesets")
// that compliance test expressions may call.
//
// A nameset is a short program in the same Python-like language as test
// expressions, extended with statements. It runs in the interpreter of
// package expr, never in a host language runtime. At top level a
// nameset may only import the allowed modules (re and json), define
// functions and classes, and assign __all__ once:
//
//	import re
//
//	__all__ = ["interface_names"]
//
//	def interface_names(config):
//	    return [i["name"] for i in config["interfaces"] if re.match(r"eth\d+", i["name"])]
//
// [Extract] returns the callables listed in __all__. [Cache] memoizes
// extraction by nameset name for the duration of one worker.
package nameset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/fleetcheck/lib/expr"
)

// Validate parses source and checks the top-level statement rules. It
// is run whenever a nameset is stored.
func Validate(source string) error {
	_, err := parse(source)
	return err
}

func parse(source string) ([]expr.Stmt, error) {
	stmts, err := expr.ParseModule(source)
	if err != nil {
		return nil, fmt.Errorf("nameset: %w", err)
	}
	exports := 0
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *expr.Import, *expr.ImportFrom, *expr.FunctionDef, *expr.ClassDef:
		case *expr.Assign:
			name, ok := s.Targets[0].(*expr.Name)
			if len(s.Targets) != 1 || !ok || name.ID != "__all__" {
				return nil, fmt.Errorf("nameset: line %d: assignments besides '__all__' are not allowed", s.Position().Line)
			}
			exports++
		default:
			return nil, fmt.Errorf("nameset: line %d: only 'import', 'def', 'class' and '__all__' are allowed at top level", stmt.Position().Line)
		}
	}
	switch exports {
	case 0:
		return nil, fmt.Errorf("nameset: __all__ must be defined")
	case 1:
		return stmts, nil
	}
	return nil, fmt.Errorf("nameset: __all__ is assigned %d times", exports)
}

// Extract runs source with globals visible to its functions and returns
// the callables named in __all__. Names in __all__ that are unbound or
// bound to non-callables are skipped.
func Extract(ctx context.Context, source string, globals map[string]expr.Value) (map[string]expr.Callable, error) {
	stmts, err := parse(source)
	if err != nil {
		return nil, err
	}
	scope, err := expr.ExecModule(ctx, stmts, globals, importModule)
	if err != nil {
		return nil, fmt.Errorf("nameset: %w", err)
	}
	exported, _ := scope.Lookup("__all__")
	var names []expr.Value
	switch v := exported.(type) {
	case *expr.List:
		names = v.Items
	case expr.Tuple:
		names = v
	default:
		return nil, fmt.Errorf("nameset: __all__ must be a list or tuple of strings, not %s", expr.TypeName(exported))
	}
	bindings := scope.Bindings()
	functions := make(map[string]expr.Callable, len(names))
	for _, n := range names {
		name, ok := n.(string)
		if !ok {
			return nil, fmt.Errorf("nameset: __all__ entries must be strings, not %s", expr.TypeName(n))
		}
		if fn, ok := bindings[name].(expr.Callable); ok {
			functions[name] = fn
		}
	}
	return functions, nil
}

// Cache memoizes extracted namesets by name. A nameset that fails to
// load is logged once and contributes no functions; its error is
// returned on every later lookup. Cache is safe for concurrent use.
type Cache struct {
	globals map[string]expr.Value
	logger  *slog.Logger

	mu        sync.Mutex
	extracted map[string]extraction
}

type extraction struct {
	functions map[string]expr.Callable
	err       error
}

// NewCache returns a cache whose namesets see globals (typically the
// default functions) as enclosing names.
func NewCache(globals map[string]expr.Value, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{globals: globals, logger: logger, extracted: make(map[string]extraction)}
}

// Functions returns the callables exported by the named nameset,
// extracting source on first use.
func (c *Cache) Functions(ctx context.Context, name, source string) (map[string]expr.Callable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.extracted[name]; ok {
		return e.functions, e.err
	}
	functions, err := Extract(ctx, source, c.globals)
	if err != nil {
		c.logger.Warn("cannot extract code from nameset", "nameset", name, "error", err)
		functions = nil
	}
	c.extracted[name] = extraction{functions: functions, err: err}
	return functions, err
}
