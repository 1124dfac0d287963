// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runtests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/fleetcheck/lib/clock"
	"github.com/bureau-foundation/fleetcheck/lib/compliance"
	"github.com/bureau-foundation/fleetcheck/lib/devicestate"
	"github.com/bureau-foundation/fleetcheck/lib/expr"
	"github.com/bureau-foundation/fleetcheck/lib/nameset"
	"github.com/bureau-foundation/fleetcheck/lib/runlog"
	"github.com/bureau-foundation/fleetcheck/lib/store"
	"github.com/bureau-foundation/fleetcheck/lib/twophase"
)

// Executor runs the tests of one work slice. An Executor belongs to a
// single apply job and is not safe for concurrent use.
type Executor struct {
	store     *store.Store
	clock     clock.Clock
	log       *runlog.Logger
	reportID  int64
	tags      []string
	verbosity int

	resolver *devicestate.Resolver
	defaults map[string]expr.Callable
	namesets map[string]*compliance.Nameset
	globals  []*compliance.Nameset
	cache    *nameset.Cache
	broken   map[string]bool

	programs map[int64]*expr.Program
	compile  map[int64]error
}

// ExecutorConfig configures NewExecutor.
type ExecutorConfig struct {
	Store    *store.Store
	Params   *Params
	ReportID int64

	// Log receives the messages that end up in the run log.
	Log *runlog.Logger

	Clock  clock.Clock
	Logger *slog.Logger
}

// NewExecutor loads the data sources and namesets the run needs. An
// overriding data source that does not exist is an error: every
// device would fail to resolve its state.
func NewExecutor(ctx context.Context, cfg ExecutorConfig) (*Executor, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	log := cfg.Log
	if log == nil {
		log = runlog.New("Worker", clk, logger)
	}

	sources, err := cfg.Store.DataSources(ctx)
	if err != nil {
		return nil, err
	}
	var override *compliance.DataSource
	if name := cfg.Params.OverridingDataSource; name != "" {
		if override, err = cfg.Store.DataSource(ctx, name); err != nil {
			return nil, fmt.Errorf("overriding data source: %w", err)
		}
	}

	all, err := cfg.Store.Namesets(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*compliance.Nameset, len(all))
	var globals []*compliance.Nameset
	for _, ns := range all {
		byName[ns.Name] = ns
		if ns.Global {
			globals = append(globals, ns)
		}
	}

	defaults := devicestate.DefaultFunctions()
	enclosing := make(map[string]expr.Value, len(defaults))
	for name, fn := range defaults {
		enclosing[name] = fn
	}

	return &Executor{
		store:     cfg.Store,
		clock:     clk,
		log:       log,
		reportID:  cfg.ReportID,
		tags:      cfg.Params.TestTags,
		verbosity: cfg.Params.Verbosity,
		resolver:  devicestate.NewResolver(sources, override),
		defaults:  defaults,
		namesets:  byName,
		globals:   globals,
		cache:     nameset.NewCache(enclosing, logger),
		broken:    make(map[string]bool),
		programs:  make(map[int64]*expr.Program),
		compile:   make(map[int64]error),
	}, nil
}

// Execute evaluates every test of every selector in slice on the
// slice's devices and stages the results under id. The transaction is
// left prepared; the combine stage commits or rolls it back.
//
// Device and test failures become failed results or log lines. The
// returned error is reserved for failures that leave the slice
// unfinished, such as a canceled context or a storage error.
func (e *Executor) Execute(ctx context.Context, slice compliance.WorkSlice, id twophase.ID) (compliance.ExecutionResult, error) {
	var (
		stat    compliance.TestResultRatio
		results []compliance.TestResult
	)
	selectors, err := e.store.Selectors(ctx)
	if err != nil {
		return e.result(stat), err
	}
	byID := make(map[int64]*compliance.Selector, len(selectors))
	for _, sel := range selectors {
		byID[sel.ID] = sel
	}

	for _, selectorID := range slice.SelectorIDs() {
		sel, ok := byID[selectorID]
		if !ok {
			return e.result(stat), fmt.Errorf("selector %d no longer exists", selectorID)
		}
		tests, err := e.store.SelectorTests(ctx, sel, e.tags)
		if err != nil {
			return e.result(stat), err
		}
		devices, err := e.store.DevicesByID(ctx, slice[selectorID])
		if err != nil {
			return e.result(stat), err
		}
		var candidates []*compliance.Device
		if sel.DynamicPairs == compliance.PairByName || sel.DynamicPairs == compliance.PairByTag {
			if candidates, err = e.store.MatchingDevices(ctx, &sel.Filter); err != nil {
				return e.result(stat), err
			}
		}

		for _, d := range devices {
			device := e.resolver.Device(d)
			if _, err := device.State(); err != nil {
				var serr *devicestate.SerializationError
				if !errors.As(err, &serr) {
					return e.result(stat), err
				}
				e.log.Failure("`%v`, ignoring all tests for *%s*", err, d.Name)
				continue
			}
			var pairID int64
			if candidates != nil {
				pair, err := sel.FindPair(d, candidates)
				if err != nil {
					e.log.Failure("Cannot find the dynamic pair of *%s* for selector **%s**, `%v`", d.Name, sel.Name, err)
				} else if pair != nil {
					device.SetPair(e.resolver.Device(pair))
					pairID = pair.ID
				}
			}

			for _, test := range tests {
				passed, explanation, err := e.run(ctx, test, device)
				if err != nil {
					return e.result(stat), err
				}
				stat.Total++
				if passed {
					stat.Passed++
				}
				results = append(results, compliance.TestResult{
					TestID:        test.ID,
					DeviceID:      d.ID,
					DynamicPairID: pairID,
					ReportID:      e.reportID,
					Passed:        passed,
					Explanation:   explanation,
					CreatedAt:     e.clock.Now(),
				})
			}
		}
	}

	err = e.store.Prepare(ctx, id, func(w *store.ResultWriter) error {
		for _, r := range results {
			if err := w.Add(r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return e.result(stat), err
	}
	e.log.Info("Executed %s tests on %s devices, %s passed",
		humanize.Comma(int64(stat.Total)), humanize.Comma(int64(slice.Devices())), humanize.Comma(int64(stat.Passed)))
	return e.result(stat), nil
}

func (e *Executor) result(stat compliance.TestResultRatio) compliance.ExecutionResult {
	return compliance.ExecutionResult{TestStat: stat, Log: e.log.Messages()}
}

// run evaluates one test on one device. Expression errors fail the
// test with the error as its only explanation step; any other error is
// returned.
func (e *Executor) run(ctx context.Context, test *compliance.Test, device *devicestate.Device) (bool, []expr.Step, error) {
	program, err := e.program(test)
	if err == nil {
		var passed bool
		var steps []expr.Step
		passed, steps, err = program.Run(ctx, map[string]expr.Value{"device": device}, e.functions(ctx, test), e.verbosity)
		if err == nil {
			return passed, steps, nil
		}
	}
	var evalErr *expr.EvalError
	var invalid *expr.InvalidExpressionError
	if !errors.As(err, &evalErr) && !errors.As(err, &invalid) {
		return false, nil, err
	}
	e.log.Failure("Failed to execute test **%s** for device **%s**, `%v`", test.Name, device.Name, err)
	return false, []expr.Step{{Label: err.Error()}}, nil
}

func (e *Executor) program(test *compliance.Test) (*expr.Program, error) {
	if p, ok := e.programs[test.ID]; ok {
		return p, nil
	}
	if err, ok := e.compile[test.ID]; ok {
		return nil, err
	}
	p, err := expr.Compile(test.Expression)
	if err != nil {
		e.compile[test.ID] = err
		return nil, err
	}
	e.programs[test.ID] = p
	return p, nil
}

// functions merges the default functions, the test's namesets and the
// global namesets, later ones shadowing earlier ones.
func (e *Executor) functions(ctx context.Context, test *compliance.Test) map[string]expr.Callable {
	functions := maps.Clone(e.defaults)
	for _, name := range test.Namesets {
		ns, ok := e.namesets[name]
		if !ok {
			if !e.broken[name] {
				e.broken[name] = true
				e.log.Warning("Cannot extract code from nameset %s, unknown nameset", name)
			}
			continue
		}
		e.merge(ctx, functions, ns)
	}
	for _, ns := range e.globals {
		e.merge(ctx, functions, ns)
	}
	return functions
}

func (e *Executor) merge(ctx context.Context, functions map[string]expr.Callable, ns *compliance.Nameset) {
	extracted, err := e.cache.Functions(ctx, ns.Name, ns.Definitions)
	if err != nil {
		if !e.broken[ns.Name] {
			e.broken[ns.Name] = true
			e.log.Warning("Cannot extract code from nameset %s, %s", ns.Name, err)
		}
		return
	}
	maps.Copy(functions, extracted)
}
