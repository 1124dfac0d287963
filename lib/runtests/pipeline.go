// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtests runs compliance tests as a three-stage job pipeline.
//
// [Pipeline.Launch] creates a report and a run record and enqueues one
// split job, one apply job per worker depending on it, and one combine
// job depending on every apply job. The split stage partitions the
// (selector, device) pairs into work slices; each apply stage
// evaluates its slice and stages the results in a prepared
// transaction; the combine stage commits every worker's transaction
// or, when any worker failed, rolls them all back and deletes the
// report. A report is therefore either complete or absent.
//
// The combine job's id is the run id. It keys the run record and every
// worker's transaction.
package runtests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/bureau-foundation/fleetcheck/lib/clock"
	"github.com/bureau-foundation/fleetcheck/lib/codec"
	"github.com/bureau-foundation/fleetcheck/lib/compliance"
	"github.com/bureau-foundation/fleetcheck/lib/datasource"
	"github.com/bureau-foundation/fleetcheck/lib/events"
	"github.com/bureau-foundation/fleetcheck/lib/jobgraph"
	"github.com/bureau-foundation/fleetcheck/lib/jobqueue"
	"github.com/bureau-foundation/fleetcheck/lib/runlog"
	"github.com/bureau-foundation/fleetcheck/lib/store"
	"github.com/bureau-foundation/fleetcheck/lib/twophase"
)

// Config holds the parameters for New.
type Config struct {
	Store *store.Store
	Queue *jobqueue.Queue

	// Syncer syncs data sources in the split stage. Nil disables
	// syncing even for runs that request it.
	Syncer *datasource.Syncer

	// Events receives the report-created event of every successful
	// run. Defaults to events.Discard.
	Events events.Sink

	// Per-stage job timeouts. Zero uses jobqueue.DefaultTimeout.
	SplitTimeout   time.Duration
	ApplyTimeout   time.Duration
	CombineTimeout time.Duration

	// StoreReports is the number of newest reports kept when a run
	// starts. Zero keeps every report.
	StoreReports int

	// ReportURL formats the report link of the success message;
	// "{id}" is replaced by the report id.
	ReportURL string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Pipeline launches test runs and implements their stage handlers.
type Pipeline struct {
	store        *store.Store
	queue        *jobqueue.Queue
	syncer       *datasource.Syncer
	events       events.Sink
	transactions twophase.Coordinator[*store.ResultWriter]

	splitTimeout   time.Duration
	applyTimeout   time.Duration
	combineTimeout time.Duration
	storeReports   int
	reportURL      string

	clock  clock.Clock
	logger *slog.Logger
}

// New returns a pipeline over cfg's store and queue.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		store:          cfg.Store,
		queue:          cfg.Queue,
		syncer:         cfg.Syncer,
		events:         cfg.Events,
		transactions:   cfg.Store,
		splitTimeout:   cfg.SplitTimeout,
		applyTimeout:   cfg.ApplyTimeout,
		combineTimeout: cfg.CombineTimeout,
		storeReports:   cfg.StoreReports,
		reportURL:      cfg.ReportURL,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
	}
	if p.events == nil {
		p.events = events.Discard
	}
	if p.clock == nil {
		p.clock = clock.Real()
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Register installs the stage handlers on w.
func (p *Pipeline) Register(w *jobqueue.Worker) {
	w.Handle(SplitFunction, p.split)
	w.Handle(ApplyFunction, p.apply)
	w.Handle(CombineFunction, p.combine)
}

// Launched identifies the jobs of a launched run.
type Launched struct {
	RunID     string
	ReportID  int64
	SplitJob  string
	ApplyJobs []string
}

// Launch validates params, creates the run's report and run record,
// and enqueues its jobs. The jobs are enqueued atomically; on failure
// the report is deleted and the run is recorded as errored.
func (p *Pipeline) Launch(ctx context.Context, params Params) (*Launched, error) {
	return p.launch(ctx, params, uuid.NewString())
}

func (p *Pipeline) launch(ctx context.Context, params Params, runID string) (*Launched, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("runtests: invalid parameters: %w", err)
	}
	encoded, err := codec.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("runtests: encoding parameters: %w", err)
	}
	launched := &Launched{RunID: runID, SplitJob: uuid.NewString()}
	if run, err := p.store.Run(ctx, runID); err == nil && run.Status == store.RunPending && run.ReportID != 0 {
		// An interrupted launch recorded the run but enqueued nothing.
		launched.ReportID = run.ReportID
	} else {
		report, err := p.store.CreateReport(ctx)
		if err != nil {
			return nil, err
		}
		launched.ReportID = report.ID
		if _, err := p.store.CreateRun(ctx, runID, report.ID, encoded); err != nil {
			p.discardReport(ctx, report.ID)
			return nil, err
		}
	}

	payload := stagePayload{RunID: launched.RunID, ReportID: launched.ReportID, Params: params}
	specs := []jobqueue.Spec{{
		Function:   SplitFunction,
		JobID:      launched.SplitJob,
		Timeout:    p.splitTimeout,
		Payload:    payload,
		ScheduleAt: params.ScheduleAt,
	}}
	for worker := range params.Workers {
		id := uuid.NewString()
		launched.ApplyJobs = append(launched.ApplyJobs, id)
		payload.WorkerID = worker
		specs = append(specs, jobqueue.Spec{
			Function:  ApplyFunction,
			JobID:     id,
			Timeout:   p.applyTimeout,
			DependsOn: []string{launched.SplitJob},
			Payload:   payload,
		})
	}
	payload.WorkerID = 0
	specs = append(specs, jobqueue.Spec{
		Function:                CombineFunction,
		JobID:                   launched.RunID,
		Timeout:                 p.combineTimeout,
		DependsOn:               launched.ApplyJobs,
		Payload:                 payload,
		AllowFailedDependencies: true,
	})
	if _, err := p.queue.EnqueueAll(ctx, specs); err != nil {
		p.discardReport(ctx, launched.ReportID)
		p.terminate(ctx, launched.RunID, store.RunErrored, nil, err.Error())
		return nil, fmt.Errorf("runtests: enqueueing run %s: %w", launched.RunID, err)
	}
	p.logger.Info("run launched",
		"run", launched.RunID,
		"report", launched.ReportID,
		"workers", params.Workers,
		"schedule_at", params.ScheduleAt,
	)
	return launched, nil
}

func (p *Pipeline) split(ctx context.Context, job *jobqueue.Job) (any, error) {
	var payload stagePayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	log := runlog.New("Split", p.clock, p.logger.With("run", payload.RunID))
	workSlices, err := p.partition(ctx, &payload, log)
	if err != nil {
		log.Failure("Cannot split the work: %v", err)
		p.discardReport(ctx, payload.ReportID)
		p.terminate(ctx, payload.RunID, store.RunErrored, log.Messages(), err.Error())
		return compliance.SplitResult{Log: log.Messages()}, err
	}
	return compliance.SplitResult{Log: log.Messages(), Slices: workSlices}, nil
}

func (p *Pipeline) partition(ctx context.Context, payload *stagePayload, log *runlog.Logger) ([]compliance.WorkSlice, error) {
	if err := p.store.StartRun(ctx, payload.RunID); err != nil {
		return nil, err
	}
	if p.storeReports > 0 {
		removed, err := p.store.RetainReports(ctx, p.storeReports)
		if err != nil {
			return nil, err
		}
		if removed > 0 {
			log.Debug("Removed %s old reports", humanize.Comma(int64(removed)))
		}
	}

	params := &payload.Params
	if name := params.OverridingDataSource; name != "" {
		if _, err := p.store.DataSource(ctx, name); err != nil {
			return nil, fmt.Errorf("overriding data source: %w", err)
		}
	}
	plan, err := BuildPlan(ctx, p.store, params)
	if err != nil {
		return nil, err
	}
	if params.SyncDataSources {
		if err := p.sync(ctx, params, plan, log); err != nil {
			return nil, err
		}
	}

	devices := len(plan.Devices)
	log.Info("Running the tests for *%s devices*", humanize.Comma(int64(devices)))
	if params.Workers > 1 {
		log.Info("Distributing the work among %d workers, each handles %s devices on average",
			params.Workers, humanize.Comma(int64(devices/params.Workers)))
	}
	return Partition(plan.Pairs, devices, params.Workers), nil
}

// sync syncs the data sources the run reads. Failures of individual
// sources are logged as warnings; the run goes on with whatever state
// the working copies hold.
func (p *Pipeline) sync(ctx context.Context, params *Params, plan *Plan, log *runlog.Logger) error {
	if p.syncer == nil {
		log.Warning("Data source sync is not configured, using the state as it is")
		return nil
	}
	names := store.ImplicatedDataSources(plan.Devices)
	if params.OverridingDataSource != "" {
		names = []string{params.OverridingDataSource}
	}
	var sources []*compliance.DataSource
	for _, name := range names {
		ds, err := p.store.DataSource(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			log.Warning("Data source %s is not defined, cannot sync it", name)
			continue
		}
		if err != nil {
			return err
		}
		sources = append(sources, ds)
	}

	outcomes, failures := p.syncer.Sync(ctx, sources)
	for _, outcome := range outcomes {
		if outcome.Changed {
			log.Info("Synced data source %s: %s files copied, %s removed",
				outcome.Source, humanize.Comma(int64(outcome.Copied)), humanize.Comma(int64(outcome.Removed)))
		}
	}
	for _, failure := range failures {
		log.Warning("Cannot sync data source %s: %v", failure.Source, failure.Err)
	}
	return ctx.Err()
}

func (p *Pipeline) apply(ctx context.Context, job *jobqueue.Job) (any, error) {
	var payload stagePayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	logger := p.logger.With("run", payload.RunID, "worker", payload.WorkerID)
	log := runlog.New("Worker "+strconv.Itoa(payload.WorkerID), p.clock, logger)

	result, err := p.execute(ctx, job, &payload, log, logger)
	if err != nil {
		log.Failure("Worker %d did not finish its work: %v", payload.WorkerID, err)
		result.Log = log.Messages()
		result.Errored = true
		return result, err
	}
	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, job *jobqueue.Job, payload *stagePayload, log *runlog.Logger, logger *slog.Logger) (compliance.ExecutionResult, error) {
	var split compliance.SplitResult
	parent, err := jobgraph.New(p.queue).Handle(job.ID).Parent(ctx)
	if err != nil {
		return compliance.ExecutionResult{}, err
	}
	if err := parent.Result(ctx, &split); err != nil {
		return compliance.ExecutionResult{}, err
	}
	if payload.WorkerID >= len(split.Slices) {
		return compliance.ExecutionResult{}, fmt.Errorf("the split produced %d slices, none for worker %d", len(split.Slices), payload.WorkerID)
	}

	executor, err := NewExecutor(ctx, ExecutorConfig{
		Store:    p.store,
		Params:   &payload.Params,
		ReportID: payload.ReportID,
		Log:      log,
		Clock:    p.clock,
		Logger:   logger,
	})
	if err != nil {
		return compliance.ExecutionResult{}, err
	}
	id := twophase.ID{JobID: payload.RunID, WorkerID: payload.WorkerID}
	return executor.Execute(ctx, split.Slices[payload.WorkerID], id)
}

func (p *Pipeline) combine(ctx context.Context, job *jobqueue.Job) (any, error) {
	var payload stagePayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	logger := p.logger.With("run", payload.RunID)
	run, err := p.store.Run(ctx, payload.RunID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		// The split stage failed and recorded the run, or this is a
		// redelivery after the run was recorded.
		logger.Info("run already terminated, nothing to combine", "status", run.Status)
		return nil, nil
	}

	log := runlog.New("Combine", p.clock, logger)
	workers, err := jobgraph.New(p.queue).Handle(job.ID).Parents(ctx)
	if err != nil {
		return nil, err
	}

	var splitLog []runlog.Message
	if len(workers) > 0 {
		var split compliance.SplitResult
		handle, err := workers[0].Parent(ctx)
		if err == nil {
			err = handle.Result(ctx, &split)
		}
		if err != nil {
			log.Warning("Cannot read the split log: %v", err)
		}
		splitLog = split.Log
	}

	count := payload.Params.Workers
	ids := make([]twophase.ID, count)
	for i := range ids {
		ids[i] = twophase.ID{JobID: payload.RunID, WorkerID: i}
	}
	results := make([]*compliance.ExecutionResult, count)
	abort := &PipelineAbortError{RunID: payload.RunID}
	for _, handle := range workers {
		worker, result, err := workerResult(ctx, handle)
		if worker >= 0 && worker < count {
			results[worker] = &result
		}
		if err != nil {
			abort.FailedWorkers = append(abort.FailedWorkers, worker)
			abort.Causes = append(abort.Causes, err)
		}
	}
	for worker, result := range results {
		if result == nil && !slices.Contains(abort.FailedWorkers, worker) {
			abort.FailedWorkers = append(abort.FailedWorkers, worker)
			abort.Causes = append(abort.Causes, fmt.Errorf("worker %d left no result", worker))
		}
	}

	var stat compliance.TestResultRatio
	logs := [][]runlog.Message{splitLog}
	for _, result := range results {
		if result != nil {
			stat = stat.Add(result.TestStat)
			logs = append(logs, result.Log)
		}
	}
	finish := func(status store.RunStatus, output string) {
		p.terminate(ctx, payload.RunID, status, runlog.Concat(append(logs, log.Messages())...), output)
	}

	if len(abort.FailedWorkers) > 0 {
		sortAbort(abort)
		tolerated := make(map[twophase.ID]bool, len(abort.FailedWorkers))
		for _, worker := range abort.FailedWorkers {
			tolerated[twophase.ID{JobID: payload.RunID, WorkerID: worker}] = true
		}
		if _, err := twophase.RollbackAll(ctx, p.transactions, ids, tolerated); err != nil {
			log.Failure("Cannot roll back every worker: %v", err)
		}
		p.discardReport(ctx, payload.ReportID)
		log.Failure("Job failed, no report was created: %v", abort)
		finish(store.RunFailed, abort.Error())
		return nil, abort
	}

	if _, err := twophase.CommitAll(ctx, p.transactions, ids); err != nil {
		log.Failure("Cannot commit the results: %v", err)
		p.discardReport(ctx, payload.ReportID)
		finish(store.RunErrored, err.Error())
		return nil, err
	}
	report, err := p.store.FinalizeReport(ctx, payload.ReportID)
	if err != nil {
		log.Failure("Cannot finalize the report: %v", err)
		p.discardReport(ctx, payload.ReportID)
		finish(store.RunErrored, err.Error())
		return nil, err
	}

	event := events.ReportCreated{ReportID: report.ID, RunID: payload.RunID, Stats: report.Stats, Time: p.clock.Now()}
	if err := p.events.ReportCreated(ctx, event); err != nil {
		log.Warning("Cannot publish the report event: %v", err)
	}
	log.Success("Job succeeded. See [Compliance Report](%s) for detailed statistics", p.reportLink(report.ID))

	output := fmt.Sprintf("%s of %s tests passed on %s devices",
		humanize.Comma(int64(stat.Passed)), humanize.Comma(int64(stat.Total)), humanize.Comma(int64(report.Stats.Devices)))
	if err := p.scheduleNext(ctx, run, payload.Params, log, logger); err != nil {
		log.Failure("Cannot schedule the next run: %v", err)
		finish(store.RunCompleted, output)
		return stat, fmt.Errorf("runtests: scheduling the run after %s: %w", payload.RunID, err)
	}
	finish(store.RunCompleted, output)
	return stat, nil
}

var successorSpace = uuid.MustParse("5f0c8a8e-3b7e-4d55-9a43-0f6f1c2d9b61")

// successorID is the run id of the run scheduled after runID.
func successorID(runID string) string {
	return uuid.NewSHA1(successorSpace, []byte(runID)).String()
}

// scheduleNext launches the run that follows a recurring run and
// records it on the run. The successor's id is derived from the run's
// id, so a combine redelivered before the run terminated finds the
// successor it already launched instead of launching another.
func (p *Pipeline) scheduleNext(ctx context.Context, run *store.Run, params Params, log *runlog.Logger, logger *slog.Logger) error {
	if !params.Recurring() || run.NextRun != "" {
		return nil
	}
	next, err := params.next(p.clock.Now())
	if err != nil {
		return err
	}
	id := successorID(run.JobID)
	if _, err := p.queue.Job(ctx, id); errors.Is(err, jobqueue.ErrNoSuchJob) {
		params.ScheduleAt = next
		if _, err := p.launch(ctx, params, id); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	if err := p.store.SetNextRun(ctx, run.JobID, id); err != nil {
		return err
	}
	log.Info("Next run at %s", next.UTC().Format(time.RFC3339))
	logger.Info("next run scheduled", "next_run", id, "at", next)
	return nil
}

// workerResult reads the result of one apply job. The returned error
// is non-nil when the worker did not finish its slice; the worker id
// is -1 when even the job's payload is unreadable.
func workerResult(ctx context.Context, handle jobgraph.Handle) (int, compliance.ExecutionResult, error) {
	var result compliance.ExecutionResult
	job, err := handle.Job(ctx)
	if err != nil {
		return -1, result, err
	}
	var payload stagePayload
	if err := job.DecodePayload(&payload); err != nil {
		return -1, result, err
	}
	worker := payload.WorkerID
	if len(job.Result) > 0 {
		if err := job.DecodeResult(&result); err != nil {
			return worker, result, fmt.Errorf("worker %d: %w", worker, err)
		}
	}
	switch {
	case job.Status != jobqueue.Finished:
		reason := job.Error
		if reason == "" {
			reason = "no error recorded"
		}
		return worker, result, fmt.Errorf("worker %d %s: %s", worker, job.Status, reason)
	case len(job.Result) == 0:
		return worker, result, fmt.Errorf("worker %d left no result", worker)
	case result.Errored:
		return worker, result, fmt.Errorf("worker %d errored", worker)
	}
	return worker, result, nil
}

// sortAbort orders the failed workers and their causes by worker id.
func sortAbort(abort *PipelineAbortError) {
	order := make([]int, len(abort.FailedWorkers))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return abort.FailedWorkers[a] - abort.FailedWorkers[b] })
	workers := make([]int, len(order))
	causes := make([]error, len(order))
	for i, j := range order {
		workers[i] = abort.FailedWorkers[j]
		causes[i] = abort.Causes[j]
	}
	abort.FailedWorkers, abort.Causes = workers, causes
}

func (p *Pipeline) reportLink(id int64) string {
	if p.reportURL == "" {
		return "report " + strconv.FormatInt(id, 10)
	}
	return strings.ReplaceAll(p.reportURL, "{id}", strconv.FormatInt(id, 10))
}

// discardReport deletes a report that will never be finalized, with
// every result staged for it.
func (p *Pipeline) discardReport(ctx context.Context, id int64) {
	if err := p.store.DeleteReport(ctx, id); err != nil {
		p.logger.Error("cannot delete the report of a failed run", "report", id, "error", err)
	}
}

func (p *Pipeline) terminate(ctx context.Context, runID string, status store.RunStatus, log []runlog.Message, output string) {
	if err := p.store.TerminateRun(ctx, runID, status, log, output); err != nil {
		p.logger.Error("cannot record the end of the run", "run", runID, "status", status, "error", err)
	}
}
