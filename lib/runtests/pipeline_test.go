// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runtests

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/bureau-foundation/fleetcheck/lib/clock"
	"github.com/bureau-foundation/fleetcheck/lib/compliance"
	"github.com/bureau-foundation/fleetcheck/lib/events"
	"github.com/bureau-foundation/fleetcheck/lib/jobqueue"
	"github.com/bureau-foundation/fleetcheck/lib/runlog"
	"github.com/bureau-foundation/fleetcheck/lib/store"
	"github.com/bureau-foundation/fleetcheck/lib/testutil"
	"github.com/bureau-foundation/fleetcheck/lib/twophase"
)

func TestMain(m *testing.M) {
	// Regexes with a match timeout share a process-wide clock goroutine.
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("github.com/dlclark/regexp2.runClock"))
}

var pipelineEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recordedEvents struct {
	mu     sync.Mutex
	events []events.ReportCreated
}

func (r *recordedEvents) ReportCreated(_ context.Context, event events.ReportCreated) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type harness struct {
	store    *store.Store
	queue    *jobqueue.Queue
	clock    *clock.FakeClock
	pipeline *Pipeline
	worker   *jobqueue.Worker
	events   *recordedEvents
}

// newHarness imports a four-device inventory. leaf-2 has no state
// directory, so every test on it is skipped.
func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	state := filepath.Join(root, "state")
	testutil.WriteFiles(t, state, map[string]string{
		"spine-1/config.yaml": "mtu: 9000\nntp: [10.0.0.1]\n",
		"spine-2/config.yaml": "mtu: 1500\nntp: []\n",
		"leaf-1/config.yaml":  "mtu: 9000\nntp: [10.0.0.1]\n",
	})

	fake := clock.Fake(pipelineEpoch)
	s, err := store.Open(store.Config{Path: filepath.Join(root, "fleetcheck.db"), ResultBatchSize: 2, Clock: fake})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	q, err := jobqueue.Open(jobqueue.Config{Path: filepath.Join(root, "queue.db"), Clock: fake})
	if err != nil {
		t.Fatalf("jobqueue.Open: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	_, err = s.Import(context.Background(), &store.Inventory{
		DataSources: []compliance.DataSource{{Name: "lab", Type: compliance.DataSourceLocal, Path: state}},
		Devices: []compliance.Device{
			{ID: 1, Name: "spine-1", DataSource: "lab", Serializer: "yaml"},
			{ID: 2, Name: "spine-2", DataSource: "lab", Serializer: "yaml"},
			{ID: 3, Name: "leaf-1", DataSource: "lab", Serializer: "yaml"},
			{ID: 4, Name: "leaf-2", DataSource: "lab", Serializer: "yaml"},
		},
		Tests: []compliance.Test{
			{ID: 1, Name: "mtu", Expression: "device.config['mtu'] == 9000", Severity: compliance.SeverityHigh, Tags: []string{"l2"}},
			{ID: 2, Name: "ntp", Expression: "len(device.config['ntp']) > 0", Severity: compliance.SeverityLow},
			{ID: 3, Name: "ghost", Expression: "device.config['absent'] == 1", Severity: compliance.SeverityLow},
		},
		Selectors: []store.InventorySelector{
			{Selector: compliance.Selector{ID: 1, Name: "spines", Filter: compliance.Filter{Name: "^spine"}}, Tests: []string{"mtu", "ntp"}},
			{Selector: compliance.Selector{ID: 2, Name: "leaves", Filter: compliance.Filter{Name: "^leaf"}}, Tests: []string{"mtu", "ghost"}},
		},
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	recorded := &recordedEvents{}
	pipeline := New(Config{
		Store:     s,
		Queue:     q,
		Events:    recorded,
		ReportURL: "https://fleetcheck.example/reports/{id}",
		Clock:     fake,
	})
	worker := jobqueue.NewWorker(q, jobqueue.WorkerConfig{Name: "test", Clock: fake})
	pipeline.Register(worker)
	return &harness{store: s, queue: q, clock: fake, pipeline: pipeline, worker: worker, events: recorded}
}

func (h *harness) drain(t *testing.T, want int) {
	t.Helper()
	ran, err := h.worker.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if ran != want {
		t.Fatalf("Drain ran %d jobs, want %d", ran, want)
	}
}

func (h *harness) run(t *testing.T, id string) *store.Run {
	t.Helper()
	run, err := h.store.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run(%s): %v", id, err)
	}
	return run
}

func logContains(log []runlog.Message, status runlog.Status, fragment string) bool {
	for _, m := range log {
		if m.Status == status && strings.Contains(m.Message, fragment) {
			return true
		}
	}
	return false
}

func TestPipelineCommitsEveryWorker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	launched, err := h.pipeline.Launch(ctx, Params{Workers: 2, Verbosity: 1})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	h.drain(t, 4)

	run := h.run(t, launched.RunID)
	if run.Status != store.RunCompleted {
		t.Fatalf("run status = %s, output %q", run.Status, run.Output)
	}
	if run.Output != "3 of 6 tests passed on 3 devices" {
		t.Errorf("run output = %q", run.Output)
	}

	results, err := h.store.Results(ctx, launched.ReportID)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	type outcome struct {
		Device, Test int64
		Passed       bool
	}
	var got []outcome
	for _, r := range results {
		got = append(got, outcome{r.DeviceID, r.TestID, r.Passed})
	}
	want := []outcome{
		{1, 1, true}, {1, 2, true},
		{2, 1, false}, {2, 2, false},
		{3, 1, true}, {3, 3, false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("committed results (-want +got):\n%s", diff)
	}
	for _, r := range results {
		if r.TestID == 3 && (len(r.Explanation) != 1 || !strings.Contains(r.Explanation[0].Label, "KeyError")) {
			t.Errorf("ghost explanation = %+v, want the evaluation error alone", r.Explanation)
		}
	}

	report, err := h.store.Report(ctx, launched.ReportID)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !report.Finalized || report.Stats.Passed != 3 || report.Stats.Total != 6 {
		t.Errorf("report = %+v", report)
	}
	if len(h.events.events) != 1 || h.events.events[0].ReportID != launched.ReportID || h.events.events[0].RunID != launched.RunID {
		t.Errorf("events = %+v", h.events.events)
	}

	if first, last := run.Log[0], run.Log[len(run.Log)-1]; first.ScriptID != "Split" || last.ScriptID != "Combine" {
		t.Errorf("log runs from %s to %s, want Split to Combine", first.ScriptID, last.ScriptID)
	}
	if !logContains(run.Log, runlog.Failure, "ignoring all tests for *leaf-2*") {
		t.Errorf("log does not report the device without state: %+v", run.Log)
	}
	if !logContains(run.Log, runlog.Failure, "Failed to execute test **ghost** for device **leaf-1**") {
		t.Errorf("log does not report the failing expression")
	}
	if !logContains(run.Log, runlog.Success, "https://fleetcheck.example/reports/") {
		t.Errorf("log has no success message with the report link")
	}
	if !logContains(run.Log, runlog.Info, "Running the tests for *4 devices*") {
		t.Errorf("log has no device count")
	}
}

func TestPipelineAbortsOnWorkerFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.worker.Handle(ApplyFunction, func(ctx context.Context, job *jobqueue.Job) (any, error) {
		var payload stagePayload
		if err := job.DecodePayload(&payload); err != nil {
			return nil, err
		}
		if payload.WorkerID == 1 {
			return nil, errors.New("worker lost its state directory")
		}
		return h.pipeline.apply(ctx, job)
	})

	launched, err := h.pipeline.Launch(ctx, Params{Workers: 2})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	h.drain(t, 4)

	run := h.run(t, launched.RunID)
	if run.Status != store.RunFailed {
		t.Fatalf("run status = %s", run.Status)
	}
	if !strings.Contains(run.Output, "worker(s) 1 did not finish") {
		t.Errorf("run output = %q", run.Output)
	}
	if _, err := h.store.Report(ctx, launched.ReportID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("report of an aborted run: err = %v, want ErrNotFound", err)
	}
	if staged, err := h.store.StagedResults(ctx, launched.ReportID); err != nil || staged != 0 {
		t.Errorf("StagedResults = %d, %v; want 0", staged, err)
	}
	state, err := h.store.Status(ctx, twophase.ID{JobID: launched.RunID, WorkerID: 0})
	if err != nil || state != twophase.RolledBack {
		t.Errorf("worker 0 transaction = %q, %v; want rolled back", state, err)
	}
	if len(h.events.events) != 0 {
		t.Errorf("aborted run raised events: %+v", h.events.events)
	}

	combine, err := h.queue.Job(ctx, launched.RunID)
	if err != nil {
		t.Fatalf("Job(combine): %v", err)
	}
	if combine.Status != jobqueue.Failed || !strings.Contains(combine.Error, "aborted") {
		t.Errorf("combine job = %s %q", combine.Status, combine.Error)
	}
}

func TestSplitFailureRevertsReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	launched, err := h.pipeline.Launch(ctx, Params{Workers: 3, OverridingDataSource: "nowhere"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	// Split and combine run; the apply jobs are canceled.
	h.drain(t, 2)

	run := h.run(t, launched.RunID)
	if run.Status != store.RunErrored || !strings.Contains(run.Output, "nowhere") {
		t.Errorf("run = %s %q", run.Status, run.Output)
	}
	if !logContains(run.Log, runlog.Failure, "Cannot split the work") {
		t.Errorf("run log = %+v", run.Log)
	}
	if _, err := h.store.Report(ctx, launched.ReportID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("report survived a failed split: %v", err)
	}
	for _, id := range launched.ApplyJobs {
		job, err := h.queue.Job(ctx, id)
		if err != nil || job.Status != jobqueue.Canceled {
			t.Errorf("apply job %s = %v, %v; want canceled", id, job, err)
		}
	}
	combine, err := h.queue.Job(ctx, launched.RunID)
	if err != nil || combine.Status != jobqueue.Finished {
		t.Errorf("combine job = %v, %v; want finished", combine, err)
	}
}

func TestRecurringRunIsRescheduled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.pipeline.Launch(ctx, Params{Workers: 1, Interval: time.Hour}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	h.drain(t, 3)

	runs, err := h.store.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].Status != store.RunPending || runs[1].Status != store.RunCompleted {
		t.Fatalf("runs after the first drain = %+v", runs)
	}
	if !logContains(runs[1].Log, runlog.Info, "Next run at 2026-03-01T10:00:00Z") {
		t.Errorf("completed run log does not announce the next run")
	}
	if runs[1].NextRun != runs[0].JobID {
		t.Errorf("completed run records next run %q, want %q", runs[1].NextRun, runs[0].JobID)
	}

	// Nothing is ready until the interval has passed.
	h.drain(t, 0)
	h.clock.Advance(time.Hour)
	h.drain(t, 3)

	runs, err = h.store.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 3 || runs[1].Status != store.RunCompleted {
		t.Errorf("runs after the second drain = %+v", runs)
	}
}

func TestCombineFinishesPartialCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	// The first delivery of combine dies after committing worker 0; the
	// redelivery commits the rest.
	h.worker.Handle(CombineFunction, func(ctx context.Context, job *jobqueue.Job) (any, error) {
		if err := h.store.Commit(ctx, twophase.ID{JobID: job.ID, WorkerID: 0}); err != nil {
			return nil, err
		}
		return h.pipeline.combine(ctx, job)
	})

	launched, err := h.pipeline.Launch(ctx, Params{Workers: 2})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	h.drain(t, 4)

	run := h.run(t, launched.RunID)
	if run.Status != store.RunCompleted {
		t.Fatalf("run status = %s, output %q", run.Status, run.Output)
	}
	results, err := h.store.Results(ctx, launched.ReportID)
	if err != nil || len(results) != 6 {
		t.Fatalf("committed %d results (err %v), want 6", len(results), err)
	}
	for worker := range 2 {
		state, err := h.store.Status(ctx, twophase.ID{JobID: launched.RunID, WorkerID: worker})
		if err != nil || state != twophase.Committed {
			t.Errorf("worker %d transaction = %q, %v; want committed", worker, state, err)
		}
	}

	// Delivered once more after the run was recorded.
	combine, err := h.queue.Job(ctx, launched.RunID)
	if err != nil {
		t.Fatalf("Job(combine): %v", err)
	}
	if _, err := h.pipeline.combine(ctx, combine); err != nil {
		t.Fatalf("redelivered combine: %v", err)
	}
	if len(h.events.events) != 1 {
		t.Errorf("events after redelivery = %+v, want one", h.events.events)
	}
	if results, err := h.store.Results(ctx, launched.ReportID); err != nil || len(results) != 6 {
		t.Errorf("results after redelivery = %d, %v; want 6", len(results), err)
	}
	if again := h.run(t, launched.RunID); again.Status != store.RunCompleted || again.Output != run.Output {
		t.Errorf("run after redelivery = %s %q", again.Status, again.Output)
	}
}

func TestRedeliveredCombineKeepsOneSuccessor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	// The first delivery launches the next run and dies before it can
	// record it or terminate the run.
	h.worker.Handle(CombineFunction, func(ctx context.Context, job *jobqueue.Job) (any, error) {
		var payload stagePayload
		if err := job.DecodePayload(&payload); err != nil {
			return nil, err
		}
		params := payload.Params
		params.ScheduleAt = pipelineEpoch.Add(time.Hour)
		if _, err := h.pipeline.launch(ctx, params, successorID(job.ID)); err != nil {
			return nil, err
		}
		return nil, errors.New("worker killed")
	})

	launched, err := h.pipeline.Launch(ctx, Params{Workers: 1, Interval: time.Hour})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	h.drain(t, 3)
	if run := h.run(t, launched.RunID); run.Status.Terminal() {
		t.Fatalf("run terminated by the killed combine: %s", run.Status)
	}

	combine, err := h.queue.Job(ctx, launched.RunID)
	if err != nil {
		t.Fatalf("Job(combine): %v", err)
	}
	if _, err := h.pipeline.combine(ctx, combine); err != nil {
		t.Fatalf("redelivered combine: %v", err)
	}

	runs, err := h.store.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want the original and one successor: %+v", len(runs), runs)
	}
	successor, original := runs[0], runs[1]
	if original.Status != store.RunCompleted || original.NextRun != successor.JobID {
		t.Errorf("original run = %s, next %q; want completed, next %q", original.Status, original.NextRun, successor.JobID)
	}
	if successor.JobID != successorID(launched.RunID) || successor.Status != store.RunPending {
		t.Errorf("successor = %s %s", successor.JobID, successor.Status)
	}
}

func TestLaunchRejectsInvalidParams(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.Launch(context.Background(), Params{Workers: 0, Interval: time.Hour, Cron: "0 * * * *"})
	if err == nil {
		t.Fatal("Launch accepted zero workers with both interval and cron")
	}
	for _, fragment := range []string{"workers", "mutually exclusive"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q does not mention %q", err, fragment)
		}
	}
	runs, _ := h.store.Runs(context.Background(), 10)
	if len(runs) != 0 {
		t.Errorf("rejected launch left runs behind: %+v", runs)
	}
}

func TestBuildPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	plan, err := BuildPlan(ctx, h.store, &Params{Workers: 1})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	want := []Pair{{1, 1}, {1, 2}, {2, 3}, {2, 4}}
	if diff := cmp.Diff(want, plan.Pairs); diff != "" {
		t.Errorf("pairs (-want +got):\n%s", diff)
	}

	// Only tests tagged l2: both selectors keep the mtu test.
	plan, err = BuildPlan(ctx, h.store, &Params{Workers: 1, TestTags: []string{"l2"}, Devices: []int64{2, 3}})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if diff := cmp.Diff([]Pair{{1, 2}, {2, 3}}, plan.Pairs); diff != "" {
		t.Errorf("restricted pairs (-want +got):\n%s", diff)
	}
	if len(plan.Devices) != 2 {
		t.Errorf("plan devices = %v", plan.Devices)
	}

	plan, err = BuildPlan(ctx, h.store, &Params{Workers: 1, TestTags: []string{"bgp"}})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Selectors) != 0 || len(plan.Pairs) != 0 {
		t.Errorf("unknown tag selected %+v", plan)
	}
}
