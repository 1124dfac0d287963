// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runtests

import (
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/fleetcheck/lib/cron"
)

// Queue function names of the three stages.
const (
	SplitFunction   = "fleetcheck.split"
	ApplyFunction   = "fleetcheck.apply"
	CombineFunction = "fleetcheck.combine"
)

// Params are the options of one test run.
type Params struct {
	// Selectors restricts the run to these selector ids. Empty means
	// every selector.
	Selectors []int64 `cbor:"selectors,omitempty" json:"selectors,omitempty"`

	// Devices restricts the run to these device ids. Empty means every
	// device some selector matches.
	Devices []int64 `cbor:"devices,omitempty" json:"devices,omitempty"`

	// TestTags keeps only tests carrying one of these tags, and only
	// selectors with at least one such test.
	TestTags []string `cbor:"test_tags,omitempty" json:"test_tags,omitempty"`

	// SyncDataSources syncs the implicated data sources before
	// partitioning.
	SyncDataSources bool `cbor:"sync_data_sources,omitempty" json:"sync_data_sources,omitempty"`

	// OverridingDataSource, when set, names the data source every
	// device reads its state from.
	OverridingDataSource string `cbor:"overriding_data_source,omitempty" json:"overriding_data_source,omitempty"`

	// Workers is the number of apply jobs.
	Workers int `cbor:"workers" json:"workers"`

	// Verbosity is the explanation verbosity, 0 to 2.
	Verbosity int `cbor:"verbosity" json:"verbosity"`

	// ScheduleAt delays the run.
	ScheduleAt time.Time `cbor:"schedule_at,omitempty" json:"schedule_at,omitzero"`

	// Interval reschedules the run this long after each success.
	Interval time.Duration `cbor:"interval,omitempty" json:"interval,omitempty"`

	// Cron reschedules the run at the next time matching this
	// five-field expression after each success.
	Cron string `cbor:"cron,omitempty" json:"cron,omitempty"`
}

// Validate checks the parameters Launch relies on.
func (p *Params) Validate() error {
	var errs []error
	if p.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", p.Workers))
	}
	if p.Verbosity < 0 || p.Verbosity > 2 {
		errs = append(errs, fmt.Errorf("verbosity must be 0, 1 or 2, got %d", p.Verbosity))
	}
	if p.Interval < 0 {
		errs = append(errs, errors.New("interval must not be negative"))
	}
	if p.Interval > 0 && p.Cron != "" {
		errs = append(errs, errors.New("interval and cron are mutually exclusive"))
	}
	if p.Cron != "" {
		if _, err := cron.Parse(p.Cron); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recurring reports whether a successful run schedules the next one.
func (p *Params) Recurring() bool { return p.Interval > 0 || p.Cron != "" }

// next returns the start time of the run following one that finished
// at now.
func (p *Params) next(now time.Time) (time.Time, error) {
	if p.Interval > 0 {
		return now.Add(p.Interval), nil
	}
	schedule, err := cron.Parse(p.Cron)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(now)
}

// stagePayload is the payload of every stage job. WorkerID is set for
// apply jobs only.
type stagePayload struct {
	RunID    string `cbor:"run_id"`
	ReportID int64  `cbor:"report_id"`
	WorkerID int    `cbor:"worker_id"`
	Params   Params `cbor:"params"`
}
