// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/fleetcheck/lib/clock"
	"github.com/bureau-foundation/fleetcheck/lib/compliance"
	"github.com/bureau-foundation/fleetcheck/lib/expr"
	"github.com/bureau-foundation/fleetcheck/lib/runlog"
	"github.com/bureau-foundation/fleetcheck/lib/testutil"
	"github.com/bureau-foundation/fleetcheck/lib/twophase"
)

var storeTestEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(storeTestEpoch)
	s, err := Open(Config{
		Path:            filepath.Join(t.TempDir(), "fleetcheck.db"),
		ResultBatchSize: 2,
		Clock:           fake,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, fake
}

func testInventory() *Inventory {
	return &Inventory{
		DataSources: []compliance.DataSource{
			{Name: "lab", Type: compliance.DataSourceLocal, Path: "/srv/lab"},
		},
		Devices: []compliance.Device{
			{ID: 3, Name: "leaf-1", Platform: "eos", Tags: []string{"prod"}, DataSource: "lab", Serializer: "yaml"},
			{ID: 1, Name: "spine-1", Platform: "eos", Tags: []string{"prod", "core"}, DataSource: "lab", Serializer: "yaml",
				CustomFields: map[string]any{"rack": "r1"}},
			{ID: 2, Name: "spine-2", Platform: "junos", DataSource: "lab", Serializer: "yaml"},
		},
		Namesets: []compliance.Nameset{
			{Name: "helpers", Definitions: "__all__ = ['double']\ndef double(x):\n    return 2 * x\n"},
		},
		Tests: []compliance.Test{
			{Name: "mtu", Expression: "device.config['mtu'] == 9000", Severity: compliance.SeverityHigh, Tags: []string{"l2"}},
			{Name: "ntp", Expression: "len(device.config['ntp']) > 0", Severity: compliance.SeverityLow, Namesets: []string{"helpers"}},
		},
		Selectors: []InventorySelector{
			{Selector: compliance.Selector{Name: "spines", Filter: compliance.Filter{Name: "^spine"}}, Tests: []string{"ntp", "mtu"}},
			{Selector: compliance.Selector{Name: "eos", Filter: compliance.Filter{Platforms: []string{"eos"}}}, Tests: []string{"mtu"}},
		},
	}
}

func TestImportAndLookups(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	summary, err := s.Import(ctx, testInventory())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if summary != (ImportSummary{DataSources: 1, Devices: 3, Namesets: 1, Tests: 2, Selectors: 2}) {
		t.Errorf("summary = %+v", summary)
	}
	// A second import updates in place.
	if _, err := s.Import(ctx, testInventory()); err != nil {
		t.Fatalf("re-Import: %v", err)
	}

	devices, err := s.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	var names []string
	for _, d := range devices {
		names = append(names, d.Name)
	}
	if diff := cmp.Diff([]string{"spine-1", "spine-2", "leaf-1"}, names); diff != "" {
		t.Errorf("devices not ordered by id (-want +got):\n%s", diff)
	}
	if devices[0].CustomFields["rack"] != "r1" || !devices[0].HasTag("core") {
		t.Errorf("device fields lost: %+v", devices[0])
	}

	selectors, err := s.Selectors(ctx)
	if err != nil {
		t.Fatalf("Selectors: %v", err)
	}
	if len(selectors) != 2 || selectors[0].Name != "spines" {
		t.Fatalf("selectors = %+v", selectors)
	}
	tests, err := s.SelectorTests(ctx, selectors[0], nil)
	if err != nil {
		t.Fatalf("SelectorTests: %v", err)
	}
	if len(tests) != 2 || tests[0].Name != "ntp" || tests[1].Name != "mtu" {
		t.Fatalf("tests not in binding order: %+v", tests)
	}
	if diff := cmp.Diff([]string{"helpers"}, tests[0].Namesets); diff != "" {
		t.Errorf("namesets (-want +got):\n%s", diff)
	}
	tagged, err := s.SelectorTests(ctx, selectors[0], []string{"l2"})
	if err != nil {
		t.Fatalf("SelectorTests: %v", err)
	}
	if len(tagged) != 1 || tagged[0].Name != "mtu" {
		t.Fatalf("tag filter = %+v", tagged)
	}

	matching, err := s.MatchingDevices(ctx, &compliance.Filter{Tags: []string{"prod"}})
	if err != nil {
		t.Fatalf("MatchingDevices: %v", err)
	}
	if len(matching) != 2 || matching[0].ID != 1 || matching[1].ID != 3 {
		t.Fatalf("matching = %v", matching)
	}

	if _, err := s.DataSource(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DataSource(missing) = %v", err)
	}
}

func TestImportIsAtomic(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	inv := testInventory()
	inv.Selectors[1].Tests = []string{"no-such-test"}
	if _, err := s.Import(ctx, inv); err == nil {
		t.Fatal("Import accepted a selector with an unknown test")
	}
	devices, err := s.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("failed import left %d devices behind", len(devices))
	}

	invalid := []func(*Inventory){
		func(inv *Inventory) { inv.Namesets[0].Definitions = "x = 1\n" },
		func(inv *Inventory) { inv.Tests[0].Expression = "import os" },
		func(inv *Inventory) { inv.Tests[0].Severity = "URGENT" },
		func(inv *Inventory) { inv.Devices[0].DataSource = "elsewhere" },
		func(inv *Inventory) { inv.Tests[1].Namesets = []string{"unknown"} },
	}
	for i, mutate := range invalid {
		inv := testInventory()
		mutate(inv)
		if _, err := s.Import(ctx, inv); err == nil {
			t.Errorf("invalid inventory %d imported", i)
		}
	}
}

func TestReadInventory(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		"inv.yaml": `
data_sources:
  - {name: lab, type: local, path: /srv/lab}
devices:
  - {name: r1, data_source: lab, serializer: yaml, tags: [edge]}
selectors:
  - name: edge
    filter: {tags: [edge]}
    dynamic_pairs: "NO"
    tests: []
`,
		"inv.jsonc": `{
  // comment
  "devices": [{"name": "r2", "custom_fields": {"asn": 65000}},],
}`,
		"inv.toml": "",
	})
	inv, err := ReadInventory(filepath.Join(dir, "inv.yaml"))
	if err != nil {
		t.Fatalf("ReadInventory yaml: %v", err)
	}
	if len(inv.Selectors) != 1 || inv.Selectors[0].Name != "edge" || inv.Selectors[0].Filter.Tags[0] != "edge" {
		t.Errorf("yaml selectors = %+v", inv.Selectors)
	}
	inv, err = ReadInventory(filepath.Join(dir, "inv.jsonc"))
	if err != nil {
		t.Fatalf("ReadInventory jsonc: %v", err)
	}
	if len(inv.Devices) != 1 || inv.Devices[0].Name != "r2" {
		t.Errorf("jsonc devices = %+v", inv.Devices)
	}
	if _, err := ReadInventory(filepath.Join(dir, "inv.toml")); err == nil {
		t.Error("ReadInventory accepted .toml")
	}
}

func stageResults(t *testing.T, s *Store, id twophase.ID, reportID int64, results ...compliance.TestResult) {
	t.Helper()
	err := s.Prepare(context.Background(), id, func(w *ResultWriter) error {
		for _, r := range results {
			r.ReportID = reportID
			if err := w.Add(r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Prepare %s: %v", id, err)
	}
}

func TestTwoPhaseVisibility(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Import(ctx, testInventory()); err != nil {
		t.Fatal(err)
	}
	report, err := s.CreateReport(ctx)
	if err != nil {
		t.Fatalf("CreateReport: %v", err)
	}

	w0 := twophase.ID{JobID: "job", WorkerID: 0}
	w1 := twophase.ID{JobID: "job", WorkerID: 1}
	explanation := []expr.Step{{Label: "device.config['mtu']", Value: int64(1500)}}
	stageResults(t, s, w0, report.ID,
		compliance.TestResult{TestID: 1, DeviceID: 1, Passed: true},
		compliance.TestResult{TestID: 2, DeviceID: 1, Passed: false, Explanation: explanation},
		compliance.TestResult{TestID: 1, DeviceID: 2, Passed: true, DynamicPairID: 1},
	)
	stageResults(t, s, w1, report.ID, compliance.TestResult{TestID: 1, DeviceID: 3, Passed: true})

	results, err := s.Results(ctx, report.ID)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("prepared results are visible: %d", len(results))
	}
	if staged, _ := s.StagedResults(ctx, report.ID); staged != 4 {
		t.Fatalf("staged = %d, want 4", staged)
	}

	if err := s.Commit(ctx, w0); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.Commit(ctx, w0); err != nil {
		t.Fatalf("second Commit is not a no-op: %v", err)
	}
	if err := s.Rollback(ctx, w1); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := s.Rollback(ctx, w1); err != nil {
		t.Fatalf("second Rollback is not a no-op: %v", err)
	}

	results, err = s.Results(ctx, report.ID)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d committed results, want 3", len(results))
	}
	if diff := cmp.Diff(explanation, results[1].Explanation); diff != "" {
		t.Errorf("explanation round trip (-want +got):\n%s", diff)
	}
	if results[2].DynamicPairID != 1 {
		t.Errorf("dynamic pair lost: %+v", results[2])
	}
	if staged, _ := s.StagedResults(ctx, report.ID); staged != 3 {
		t.Fatalf("rolled back rows remain: staged = %d", staged)
	}

	if err := s.Rollback(ctx, w0); !errors.Is(err, twophase.ErrAlreadyCommitted) {
		t.Errorf("Rollback(committed) = %v", err)
	}
	if err := s.Commit(ctx, w1); !errors.Is(err, twophase.ErrRolledBack) {
		t.Errorf("Commit(rolled back) = %v", err)
	}
	unknown := twophase.ID{JobID: "other", WorkerID: 9}
	if err := s.Commit(ctx, unknown); !errors.Is(err, twophase.ErrUnknownTransaction) {
		t.Errorf("Commit(unknown) = %v", err)
	}
	if _, err := s.Status(ctx, unknown); !errors.Is(err, twophase.ErrUnknownTransaction) {
		t.Errorf("Status(unknown) = %v", err)
	}
	if state, _ := s.Status(ctx, w0); state != twophase.Committed {
		t.Errorf("Status(w0) = %q", state)
	}
}

func TestPrepareRetryReplacesRows(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	report, err := s.CreateReport(ctx)
	if err != nil {
		t.Fatal(err)
	}
	id := twophase.ID{JobID: "job", WorkerID: 0}
	stageResults(t, s, id, report.ID,
		compliance.TestResult{TestID: 1, DeviceID: 1},
		compliance.TestResult{TestID: 1, DeviceID: 2},
	)
	stageResults(t, s, id, report.ID,
		compliance.TestResult{TestID: 1, DeviceID: 1},
		compliance.TestResult{TestID: 1, DeviceID: 2},
	)
	if staged, _ := s.StagedResults(ctx, report.ID); staged != 2 {
		t.Fatalf("retry duplicated rows: staged = %d", staged)
	}

	failing := errors.New("worker crashed")
	other := twophase.ID{JobID: "job", WorkerID: 1}
	err = s.Prepare(ctx, other, func(w *ResultWriter) error {
		for i := 0; i < 5; i++ {
			if err := w.Add(compliance.TestResult{ReportID: report.ID, TestID: 1, DeviceID: int64(10 + i)}); err != nil {
				return err
			}
		}
		return failing
	})
	if !errors.Is(err, failing) {
		t.Fatalf("Prepare = %v, want the stage error", err)
	}
	if _, err := s.Status(ctx, other); !errors.Is(err, twophase.ErrUnknownTransaction) {
		t.Fatalf("failed prepare left a transaction: %v", err)
	}
	if staged, _ := s.StagedResults(ctx, report.ID); staged != 2 {
		t.Fatalf("failed prepare left flushed batches: staged = %d", staged)
	}

	if err := s.Commit(ctx, id); err != nil {
		t.Fatal(err)
	}
	err = s.Prepare(ctx, id, func(*ResultWriter) error { return nil })
	if !errors.Is(err, twophase.ErrAlreadyCommitted) {
		t.Fatalf("Prepare(committed) = %v", err)
	}
}

func TestFinalizeAndRetainReports(t *testing.T) {
	s, fake := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Import(ctx, testInventory()); err != nil {
		t.Fatal(err)
	}
	report, err := s.CreateReport(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.CreatedAt.Equal(storeTestEpoch) {
		t.Errorf("CreatedAt = %v", report.CreatedAt)
	}
	id := twophase.ID{JobID: "job", WorkerID: 0}
	// Test 1 is mtu (HIGH), test 2 is ntp (LOW).
	stageResults(t, s, id, report.ID,
		compliance.TestResult{TestID: 1, DeviceID: 1, Passed: true},
		compliance.TestResult{TestID: 1, DeviceID: 2, Passed: false},
		compliance.TestResult{TestID: 2, DeviceID: 1, Passed: true},
	)
	if err := s.Commit(ctx, id); err != nil {
		t.Fatal(err)
	}
	final, err := s.FinalizeReport(ctx, report.ID)
	if err != nil {
		t.Fatalf("FinalizeReport: %v", err)
	}
	want := compliance.ReportStats{
		Passed: 2, Total: 3, Devices: 2, Tests: 2,
		BySeverity: map[compliance.Severity]compliance.TestResultRatio{
			compliance.SeverityLow:    {Passed: 1, Total: 1},
			compliance.SeverityMiddle: {},
			compliance.SeverityHigh:   {Passed: 1, Total: 2},
		},
	}
	if !final.Finalized {
		t.Error("report not finalized")
	}
	if diff := cmp.Diff(want, final.Stats); diff != "" {
		t.Errorf("stats (-want +got):\n%s", diff)
	}
	if _, err := s.FinalizeReport(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinalizeReport(missing) = %v", err)
	}

	for i := 0; i < 3; i++ {
		fake.Advance(time.Hour)
		if _, err := s.CreateReport(ctx); err != nil {
			t.Fatal(err)
		}
	}
	deleted, err := s.RetainReports(ctx, 2)
	if err != nil {
		t.Fatalf("RetainReports: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	reports, err := s.Reports(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 || reports[0].ID != report.ID+3 {
		t.Fatalf("kept reports = %+v", reports)
	}
	if staged, _ := s.StagedResults(ctx, report.ID); staged != 0 {
		t.Fatalf("results of deleted report remain: %d", staged)
	}
}

func TestRunLifecycle(t *testing.T) {
	s, fake := openTestStore(t)
	ctx := context.Background()
	report, err := s.CreateReport(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateRun(ctx, "job-1", report.ID, []byte{0xa0}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	fake.Advance(time.Second)
	if err := s.StartRun(ctx, "job-1"); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	fake.Advance(time.Second)
	if err := s.StartRun(ctx, "job-1"); err != nil {
		t.Fatalf("second StartRun: %v", err)
	}
	log := []runlog.Message{
		{Status: runlog.Info, Message: "partitioned", Time: storeTestEpoch, ScriptID: "Splitter"},
		{Status: runlog.Success, Message: "done", Time: storeTestEpoch.Add(time.Second), ScriptID: "Combiner"},
	}
	if err := s.TerminateRun(ctx, "job-1", RunRunning, nil, ""); err == nil {
		t.Fatal("TerminateRun accepted a non-terminal status")
	}
	if err := s.TerminateRun(ctx, "job-1", RunCompleted, log, "2/3 passed"); err != nil {
		t.Fatalf("TerminateRun: %v", err)
	}

	run, err := s.Run(ctx, "job-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != RunCompleted || run.Output != "2/3 passed" || run.ReportID != report.ID {
		t.Errorf("run = %+v", run)
	}
	if err := s.SetNextRun(ctx, "job-1", "job-2"); err != nil {
		t.Fatalf("SetNextRun: %v", err)
	}
	if err := s.SetNextRun(ctx, "missing", "job-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetNextRun of a missing run = %v, want ErrNotFound", err)
	}
	if run, err = s.Run(ctx, "job-1"); err != nil || run.NextRun != "job-2" {
		t.Errorf("after SetNextRun: run = %+v, err = %v", run, err)
	}
	if !run.StartedAt.Equal(storeTestEpoch.Add(time.Second)) {
		t.Errorf("StartedAt = %v, want the first start", run.StartedAt)
	}
	if len(run.Log) != 2 || run.Log[1].Message != "done" || run.Log[1].ScriptID != "Combiner" {
		t.Errorf("log = %+v", run.Log)
	}

	if err := s.DeleteReport(ctx, report.ID); err != nil {
		t.Fatal(err)
	}
	run, err = s.Run(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.ReportID != 0 {
		t.Errorf("deleted report still referenced: %d", run.ReportID)
	}
	if _, err := s.Run(ctx, "job-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Run(missing) = %v", err)
	}
}
