// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/fleetcheck/cmd/fleetcheck/cli"
	"github.com/bureau-foundation/fleetcheck/lib/clock"
	"github.com/bureau-foundation/fleetcheck/lib/config"
	"github.com/bureau-foundation/fleetcheck/lib/datasource"
	"github.com/bureau-foundation/fleetcheck/lib/events"
	"github.com/bureau-foundation/fleetcheck/lib/jobqueue"
	"github.com/bureau-foundation/fleetcheck/lib/runtests"
	"github.com/bureau-foundation/fleetcheck/lib/store"
)

// environment is what a command opened from the configuration.
type environment struct {
	config *config.Config
	logger *slog.Logger
	store  *store.Store
	queue  *jobqueue.Queue
	events *events.Log

	runs *runtests.Pipeline
}

// openEnvironment loads the configuration and opens the store. The
// queue is opened when withQueue is set.
func openEnvironment(flag *cli.ConfigFlag, withQueue bool) (*environment, error) {
	cfg, err := flag.Load()
	if err != nil {
		return nil, err
	}
	env := &environment{config: cfg, logger: cfg.NewLogger(os.Stderr)}

	if err := os.MkdirAll(filepath.Dir(cfg.Paths.Database), 0o755); err != nil {
		return nil, fmt.Errorf("creating the database directory: %w", err)
	}
	env.store, err = store.Open(store.Config{
		Path:            cfg.Paths.Database,
		ResultBatchSize: cfg.Runs.ResultBatchSize,
		Logger:          env.logger,
	})
	if err != nil {
		return nil, err
	}
	if !withQueue {
		return env, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Paths.Queue), 0o755); err != nil {
		env.Close()
		return nil, fmt.Errorf("creating the queue directory: %w", err)
	}
	env.queue, err = jobqueue.Open(jobqueue.Config{
		Path:       cfg.Paths.Queue,
		LeaseGrace: cfg.Queue.Lease,
		Logger:     env.logger,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// pipeline returns the run pipeline, building it on first use. It opens
// the event log when one is configured.
func (e *environment) pipeline() (*runtests.Pipeline, error) {
	if e.runs != nil {
		return e.runs, nil
	}
	var sink events.Sink = events.Discard
	if path := e.config.Paths.Events; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating the events directory: %w", err)
		}
		log, err := events.OpenLog(path, e.logger)
		if err != nil {
			return nil, err
		}
		e.events = log
		sink = log
	}
	e.runs = runtests.New(runtests.Config{
		Store:          e.store,
		Queue:          e.queue,
		Syncer:         datasource.NewSyncer(e.store, e.config.Runs.SyncConcurrency, e.logger),
		Events:         sink,
		SplitTimeout:   e.config.Stages.SplitTimeout,
		ApplyTimeout:   e.config.Stages.ApplyTimeout,
		CombineTimeout: e.config.Stages.CombineTimeout,
		StoreReports:   e.config.Runs.StoreReports,
		ReportURL:      e.config.Runs.ReportURL,
		Clock:          clock.Real(),
		Logger:         e.logger,
	})
	return e.runs, nil
}

// worker returns a queue worker with the pipeline's stage handlers.
func (e *environment) worker(name string, concurrency int) (*jobqueue.Worker, error) {
	pipeline, err := e.pipeline()
	if err != nil {
		return nil, err
	}
	if name == "" {
		host, _ := os.Hostname()
		name = fmt.Sprintf("%s/%d", host, os.Getpid())
	}
	worker := jobqueue.NewWorker(e.queue, jobqueue.WorkerConfig{
		Name:         name,
		Concurrency:  concurrency,
		PollInterval: e.config.Queue.PollInterval,
		Logger:       e.logger,
	})
	pipeline.Register(worker)
	return worker, nil
}

// Close closes everything the environment opened.
func (e *environment) Close() error {
	var errs []error
	if e.events != nil {
		errs = append(errs, e.events.Close())
	}
	if e.queue != nil {
		errs = append(errs, e.queue.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}
