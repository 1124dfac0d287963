// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compliance defines the fleetcheck data model: devices and
// the data sources holding their state, selectors that pick devices
// and bind tests to them, tests, namesets, reports and test results,
// and the values the pipeline stages pass to each other.
package compliance

import (
	"fmt"
	"sort"
	"time"

	"github.com/bureau-foundation/fleetcheck/lib/expr"
	"github.com/bureau-foundation/fleetcheck/lib/runlog"
)

// Severity ranks how much a failing test matters.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMiddle Severity = "MIDDLE"
	SeverityHigh   Severity = "HIGH"
)

// Severities lists every severity in ascending order.
var Severities = []Severity{SeverityLow, SeverityMiddle, SeverityHigh}

// Validate rejects unknown severities.
func (s Severity) Validate() error {
	switch s {
	case SeverityLow, SeverityMiddle, SeverityHigh:
		return nil
	}
	return fmt.Errorf("invalid severity %q", s)
}

// Device is one managed network device.
type Device struct {
	ID           int64          `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Status       string         `json:"status,omitempty" yaml:"status"`
	Platform     string         `json:"platform,omitempty" yaml:"platform"`
	Manufacturer string         `json:"manufacturer,omitempty" yaml:"manufacturer"`
	DeviceType   string         `json:"device_type,omitempty" yaml:"device_type"`
	Site         string         `json:"site,omitempty" yaml:"site"`
	Location     string         `json:"location,omitempty" yaml:"location"`
	Tags         []string       `json:"tags,omitempty" yaml:"tags"`
	CustomFields map[string]any `json:"custom_fields,omitempty" yaml:"custom_fields"`

	// DataSource is the name of the data source holding the device's
	// state files. Empty means the device has no state.
	DataSource string `json:"data_source,omitempty" yaml:"data_source"`

	// Serializer names the format of the device's state files, such as
	// "json" or "yaml".
	Serializer string `json:"serializer,omitempty" yaml:"serializer"`
}

// HasTag reports whether the device carries the tag slug.
func (d *Device) HasTag(slug string) bool {
	for _, tag := range d.Tags {
		if tag == slug {
			return true
		}
	}
	return false
}

func (d *Device) String() string { return d.Name }

// DataSourceType selects how a data source is kept up to date.
type DataSourceType string

const (
	// DataSourceLocal is a directory maintained by something else.
	DataSourceLocal DataSourceType = "local"

	// DataSourceDirectory is a working copy synced from Origin.
	DataSourceDirectory DataSourceType = "directory"
)

// DataSource is a directory tree holding device state files laid out
// as <Path>/<device name>/<item>.<ext>.
type DataSource struct {
	ID     int64          `json:"id" yaml:"id"`
	Name   string         `json:"name" yaml:"name"`
	Type   DataSourceType `json:"type" yaml:"type"`
	Path   string         `json:"path" yaml:"path"`
	Origin string         `json:"origin,omitempty" yaml:"origin"`
}

// Validate checks the fields the store requires.
func (ds *DataSource) Validate() error {
	if ds.Name == "" {
		return fmt.Errorf("data source: name is required")
	}
	if ds.Path == "" {
		return fmt.Errorf("data source %s: path is required", ds.Name)
	}
	switch ds.Type {
	case DataSourceLocal:
	case DataSourceDirectory:
		if ds.Origin == "" {
			return fmt.Errorf("data source %s: origin is required for directory sources", ds.Name)
		}
	default:
		return fmt.Errorf("data source %s: invalid type %q", ds.Name, ds.Type)
	}
	return nil
}

// Test is one compliance rule.
type Test struct {
	ID          int64    `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Expression  string   `json:"expression" yaml:"expression"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Namesets    []string `json:"namesets,omitempty" yaml:"namesets"`
	Tags        []string `json:"tags,omitempty" yaml:"tags"`
}

// Validate checks severity and compiles the expression.
func (t *Test) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("test: name is required")
	}
	if err := t.Severity.Validate(); err != nil {
		return fmt.Errorf("test %s: %w", t.Name, err)
	}
	if _, err := expr.Compile(t.Expression); err != nil {
		return fmt.Errorf("test %s: %w", t.Name, err)
	}
	return nil
}

// HasAnyTag reports whether the test carries one of tags. An empty
// tags list matches every test.
func (t *Test) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, tag := range t.Tags {
			if tag == want {
				return true
			}
		}
	}
	return false
}

// Nameset is a snippet of helper definitions tests may call.
type Nameset struct {
	ID          int64  `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Global      bool   `json:"global,omitempty" yaml:"global"`
	Definitions string `json:"definitions" yaml:"definitions"`
}

// Report groups the results of one successful run.
type Report struct {
	ID        int64       `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	Finalized bool        `json:"finalized"`
	Stats     ReportStats `json:"stats"`
}

// ReportStats summarizes a finalized report.
type ReportStats struct {
	Passed     int                          `json:"passed"`
	Total      int                          `json:"total"`
	Devices    int                          `json:"devices"`
	Tests      int                          `json:"tests"`
	BySeverity map[Severity]TestResultRatio `json:"by_severity"`
}

// TestResult is the outcome of one test on one device.
type TestResult struct {
	ID            int64       `json:"id"`
	TestID        int64       `json:"test_id"`
	DeviceID      int64       `json:"device_id"`
	DynamicPairID int64       `json:"dynamic_pair_id,omitempty"`
	ReportID      int64       `json:"report_id"`
	Passed        bool        `json:"passed"`
	Explanation   []expr.Step `json:"explanation"`
	CreatedAt     time.Time   `json:"created_at"`
}

// TestResultRatio counts passed and total results. Add is associative
// and commutative, so worker ratios may be summed in any order.
type TestResultRatio struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
}

// Add returns the sum of r and other.
func (r TestResultRatio) Add(other TestResultRatio) TestResultRatio {
	return TestResultRatio{Passed: r.Passed + other.Passed, Total: r.Total + other.Total}
}

func (r TestResultRatio) String() string { return fmt.Sprintf("%d/%d", r.Passed, r.Total) }

// WorkSlice maps selector ids to the device ids one worker tests.
type WorkSlice map[int64][]int64

// SelectorIDs returns the slice's selector ids in ascending order.
func (w WorkSlice) SelectorIDs() []int64 {
	ids := make([]int64, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Devices counts the device ids in the slice.
func (w WorkSlice) Devices() int {
	n := 0
	for _, ids := range w {
		n += len(ids)
	}
	return n
}

// SplitResult is the job result of the split stage.
type SplitResult struct {
	Log    []runlog.Message `json:"log"`
	Slices []WorkSlice      `json:"slices"`
}

// ExecutionResult is the job result of one apply worker. Errored is
// set when the worker could not finish its slice; the combine stage
// then rolls the whole run back.
type ExecutionResult struct {
	TestStat TestResultRatio  `json:"test_stat"`
	Log      []runlog.Message `json:"log"`
	Errored  bool             `json:"errored,omitempty"`
}
