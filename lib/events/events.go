// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package events publishes the report-created notification a
// successful test run raises.
//
// [Log] appends one JSON object per line to a file, the shape a
// webhook relay or a shell pipeline can tail. Each line is written with
// a single append and synced, so a crash never leaves a truncated
// event behind the ones already written.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/fleetcheck/lib/compliance"
)

// ReportCreated is raised once per successful run.
type ReportCreated struct {
	Type     string                 `json:"type"`
	ReportID int64                  `json:"report_id"`
	RunID    string                 `json:"run_id"`
	Stats    compliance.ReportStats `json:"stats"`
	Time     time.Time              `json:"time"`
}

// Sink receives report-created events.
type Sink interface {
	ReportCreated(ctx context.Context, event ReportCreated) error
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) ReportCreated(context.Context, ReportCreated) error { return nil }

// Log is a JSON Lines event sink. Safe for concurrent use; several
// processes may append to the same file.
type Log struct {
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// OpenLog opens path for appending, creating it if needed.
func OpenLog(path string, logger *slog.Logger) (*Log, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("events: opening %s: %w", path, err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Log{logger: logger, file: file}, nil
}

// ReportCreated appends the event.
func (l *Log) ReportCreated(_ context.Context, event ReportCreated) error {
	event.Type = "report_created"
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encoding report %d: %w", event.ReportID, err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("events: writing report %d: %w", event.ReportID, err)
	}
	if err := l.file.Sync(); err != nil {
		l.logger.Warn("syncing event log failed", "error", err)
	}
	l.logger.Info("report created event written", "report", event.ReportID, "run", event.RunID)
	return nil
}

// Close closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
