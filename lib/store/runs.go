// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/fleetcheck/lib/codec"
	"github.com/bureau-foundation/fleetcheck/lib/runlog"
)

// RunStatus is the lifecycle position of a test run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunErrored   RunStatus = "errored"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunErrored
}

// Run is the operator-facing record of one pipeline instance, keyed by
// the job id of its launch.
type Run struct {
	ID       int64
	JobID    string
	ReportID int64
	Status   RunStatus

	// Params is the CBOR-encoded launch parameters.
	Params []byte

	Log    []runlog.Message
	Output string

	// NextRun is the job id of the run scheduled to follow this one.
	NextRun string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// CreateRun records a pending run.
func (s *Store) CreateRun(ctx context.Context, jobID string, reportID int64, params []byte) (*Run, error) {
	run := &Run{JobID: jobID, ReportID: reportID, Status: RunPending, Params: params, CreatedAt: fromNanos(s.now())}
	err := s.write(ctx, "create run", func(conn *sqlite.Conn) error {
		var report any
		if reportID != 0 {
			report = reportID
		}
		if err := sqlitex.Execute(conn, "INSERT INTO runs (job_id, report_id, status, params, created_at) VALUES (?, ?, ?, ?, ?)", &sqlitex.ExecOptions{
			Args: []any{jobID, report, string(RunPending), params, run.CreatedAt.UnixNano()},
		}); err != nil {
			return err
		}
		run.ID = conn.LastInsertRowID()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// StartRun marks a run running. Starting a running run again, as a
// redelivered split job does, keeps the first start time.
func (s *Store) StartRun(ctx context.Context, jobID string) error {
	return s.write(ctx, "start run", func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `UPDATE runs SET status = ?,
			started_at = CASE started_at WHEN 0 THEN ? ELSE started_at END
			WHERE job_id = ?`, &sqlitex.ExecOptions{
			Args: []any{string(RunRunning), s.now(), jobID},
		})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("run %s: %w", jobID, ErrNotFound)
		}
		return nil
	})
}

// TerminateRun records the final status, the concatenated run log and
// the output shown to the operator.
func (s *Store) TerminateRun(ctx context.Context, jobID string, status RunStatus, log []runlog.Message, output string) error {
	if !status.Terminal() {
		return fmt.Errorf("store: terminate run %s: %q is not a terminal status", jobID, status)
	}
	encoded, err := codec.Marshal(log)
	if err != nil {
		return fmt.Errorf("store: terminate run %s: encoding log: %w", jobID, err)
	}
	return s.write(ctx, "terminate run", func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "UPDATE runs SET status = ?, log = ?, output = ?, completed_at = ? WHERE job_id = ?", &sqlitex.ExecOptions{
			Args: []any{string(status), encoded, output, s.now(), jobID},
		})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("run %s: %w", jobID, ErrNotFound)
		}
		return nil
	})
}

// SetNextRun records the run scheduled to follow jobID.
func (s *Store) SetNextRun(ctx context.Context, jobID, next string) error {
	return s.write(ctx, "set next run", func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "UPDATE runs SET next_run = ? WHERE job_id = ?", &sqlitex.ExecOptions{
			Args: []any{next, jobID},
		})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("run %s: %w", jobID, ErrNotFound)
		}
		return nil
	})
}

const runColumns = "id, job_id, COALESCE(report_id, 0), status, params, log, output, created_at, started_at, completed_at, next_run"

func scanRun(stmt *sqlite.Stmt) (*Run, error) {
	run := &Run{
		ID:          stmt.ColumnInt64(0),
		JobID:       stmt.ColumnText(1),
		ReportID:    stmt.ColumnInt64(2),
		Status:      RunStatus(stmt.ColumnText(3)),
		Params:      columnBytes(stmt, 4),
		Output:      stmt.ColumnText(6),
		CreatedAt:   fromNanos(stmt.ColumnInt64(7)),
		StartedAt:   fromNanos(stmt.ColumnInt64(8)),
		CompletedAt: fromNanos(stmt.ColumnInt64(9)),
		NextRun:     stmt.ColumnText(10),
	}
	if blob := columnBytes(stmt, 5); blob != nil {
		if err := codec.Unmarshal(blob, &run.Log); err != nil {
			return nil, fmt.Errorf("run %s: decoding log: %w", run.JobID, err)
		}
	}
	return run, nil
}

// Run returns the run launched by jobID.
func (s *Store) Run(ctx context.Context, jobID string) (*Run, error) {
	var run *Run
	err := s.read(ctx, "run", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+runColumns+" FROM runs WHERE job_id = ?", &sqlitex.ExecOptions{
			Args: []any{jobID},
			ResultFunc: func(stmt *sqlite.Stmt) (err error) {
				run, err = scanRun(stmt)
				return err
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("store: run %s: %w", jobID, ErrNotFound)
	}
	return run, nil
}

// Runs returns up to limit runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]*Run, error) {
	var runs []*Run
	err := s.read(ctx, "runs", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+runColumns+" FROM runs ORDER BY id DESC LIMIT ?", &sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				run, err := scanRun(stmt)
				if err != nil {
					return err
				}
				runs = append(runs, run)
				return nil
			},
		})
	})
	return runs, err
}
