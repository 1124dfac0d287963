// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/fleetcheck/lib/clock"
)

// Handler runs one attempt of a job. The context carries the job's
// timeout. A non-nil result is stored even when err is non-nil.
type Handler func(ctx context.Context, job *Job) (result any, err error)

// WorkerConfig holds the parameters for NewWorker.
type WorkerConfig struct {
	// Name identifies the worker in claimed job rows and logs.
	Name string

	// Concurrency is the number of jobs run at once. Defaults to 1.
	Concurrency int

	// PollInterval is how long an idle slot waits before claiming
	// again. Defaults to one second.
	PollInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Worker claims and runs jobs for the functions it has handlers for.
type Worker struct {
	queue        *Queue
	name         string
	concurrency  int
	pollInterval time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewWorker creates a worker over queue. Register handlers before
// calling Run.
func NewWorker(queue *Queue, cfg WorkerConfig) *Worker {
	w := &Worker{
		queue:        queue,
		name:         cfg.Name,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		handlers:     make(map[string]Handler),
	}
	if w.name == "" {
		w.name = "worker"
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.pollInterval <= 0 {
		w.pollInterval = time.Second
	}
	if w.clock == nil {
		w.clock = queue.clock
	}
	if w.logger == nil {
		w.logger = queue.logger
	}
	return w
}

// Handle registers the handler for function, replacing any previous.
func (w *Worker) Handle(function string, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[function] = handler
}

func (w *Worker) functions() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (w *Worker) handler(function string) Handler {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.handlers[function]
}

// Run claims and executes jobs on Concurrency slots until ctx is
// done. It returns nil on cancellation and the first queue error
// otherwise; handler failures are recorded on the job, not returned.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "worker", w.name, "concurrency", w.concurrency,
		"functions", w.functions())
	group, ctx := errgroup.WithContext(ctx)
	for slot := range w.concurrency {
		group.Go(func() error {
			return w.loop(ctx, fmt.Sprintf("%s/%d", w.name, slot))
		})
	}
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	w.logger.Info("worker stopped", "worker", w.name)
	return err
}

func (w *Worker) loop(ctx context.Context, slot string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ran, err := w.runOne(ctx, slot)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.After(w.pollInterval):
		}
	}
}

// Drain runs ready jobs one at a time until none is ready, and returns
// how many it ran. Jobs that become ready as a result of earlier ones
// finishing are run too.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	count := 0
	for {
		ran, err := w.runOne(ctx, w.name)
		if err != nil || !ran {
			return count, err
		}
		count++
	}
}

func (w *Worker) runOne(ctx context.Context, slot string) (bool, error) {
	job, err := w.queue.Claim(ctx, w.functions(), slot)
	if err != nil || job == nil {
		return false, err
	}
	w.execute(ctx, job)
	return true, nil
}

// execute runs one attempt and records its outcome. A lost lease is
// logged; the attempt that holds the lease records the outcome.
func (w *Worker) execute(ctx context.Context, job *Job) {
	logger := w.logger.With("job", job.ID, "function", job.Function, "attempt", job.Attempt)
	handler := w.handler(job.Function)
	if handler == nil {
		w.record(ctx, logger, job, nil, fmt.Errorf("no handler for function %q", job.Function))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	started := w.clock.Now()
	result, err := invoke(jobCtx, handler, job)
	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", job.Timeout, err)
	}
	cancel()

	if ctx.Err() != nil {
		// Shutdown mid-job: leave the lease to expire so another
		// worker picks the job up.
		logger.Warn("job interrupted by shutdown")
		return
	}
	logger.Debug("job ran", "elapsed", w.clock.Now().Sub(started), "error", err)
	w.record(ctx, logger, job, result, err)
}

func (w *Worker) record(ctx context.Context, logger *slog.Logger, job *Job, result any, cause error) {
	var err error
	if cause != nil {
		logger.Warn("job failed", "error", cause)
		err = w.queue.Fail(ctx, job, result, cause)
	} else {
		err = w.queue.Finish(ctx, job, result)
	}
	if errors.Is(err, ErrLeaseLost) {
		logger.Warn("job outcome discarded", "error", err)
	} else if err != nil {
		logger.Error("recording job outcome failed", "error", err)
	}
}

// invoke calls handler, converting a panic into an error.
func invoke(ctx context.Context, handler Handler, job *Job) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = nil
			err = fmt.Errorf("panic: %v\n%s", recovered, debug.Stack())
		}
	}()
	return handler(ctx, job)
}
