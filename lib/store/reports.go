// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/fleetcheck/lib/codec"
	"github.com/bureau-foundation/fleetcheck/lib/compliance"
)

// CreateReport inserts an empty, unfinalized report.
func (s *Store) CreateReport(ctx context.Context) (*compliance.Report, error) {
	report := &compliance.Report{CreatedAt: s.clock.Now().UTC()}
	err := s.write(ctx, "create report", func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "INSERT INTO reports (created_at) VALUES (?)", &sqlitex.ExecOptions{
			Args: []any{report.CreatedAt.UnixNano()},
		}); err != nil {
			return err
		}
		report.ID = conn.LastInsertRowID()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// FinalizeReport computes the report's statistics from its committed
// results and marks it finalized.
func (s *Store) FinalizeReport(ctx context.Context, id int64) (*compliance.Report, error) {
	err := s.write(ctx, "finalize report", func(conn *sqlite.Conn) error {
		stats := compliance.ReportStats{BySeverity: make(map[compliance.Severity]compliance.TestResultRatio)}
		for _, severity := range compliance.Severities {
			stats.BySeverity[severity] = compliance.TestResultRatio{}
		}
		committed := `FROM test_results r JOIN transactions x ON x.key = r.tx_key
			WHERE r.report_id = ? AND x.state = 'committed'`
		err := sqlitex.Execute(conn, "SELECT COUNT(*), COALESCE(SUM(r.passed), 0), COUNT(DISTINCT r.device_id), COUNT(DISTINCT r.test_id) "+committed, &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.Total = int(stmt.ColumnInt64(0))
				stats.Passed = int(stmt.ColumnInt64(1))
				stats.Devices = int(stmt.ColumnInt64(2))
				stats.Tests = int(stmt.ColumnInt64(3))
				return nil
			},
		})
		if err != nil {
			return err
		}
		err = sqlitex.Execute(conn, "SELECT t.severity, COUNT(*), COALESCE(SUM(r.passed), 0) "+
			"FROM test_results r JOIN transactions x ON x.key = r.tx_key JOIN tests t ON t.id = r.test_id "+
			"WHERE r.report_id = ? AND x.state = 'committed' GROUP BY t.severity", &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				severity := compliance.Severity(stmt.ColumnText(0))
				stats.BySeverity[severity] = compliance.TestResultRatio{
					Total:  int(stmt.ColumnInt64(1)),
					Passed: int(stmt.ColumnInt64(2)),
				}
				return nil
			},
		})
		if err != nil {
			return err
		}
		bySeverity, err := codec.Marshal(stats.BySeverity)
		if err != nil {
			return err
		}
		if err := sqlitex.Execute(conn, `UPDATE reports SET finalized = 1, passed = ?, total = ?, devices = ?, tests = ?, by_severity = ?
			WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{stats.Passed, stats.Total, stats.Devices, stats.Tests, bySeverity, id},
		}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("report %d: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Report(ctx, id)
}

const reportColumns = "id, created_at, finalized, passed, total, devices, tests, by_severity"

func scanReport(stmt *sqlite.Stmt) (*compliance.Report, error) {
	report := &compliance.Report{
		ID:        stmt.ColumnInt64(0),
		CreatedAt: fromNanos(stmt.ColumnInt64(1)),
		Finalized: stmt.ColumnInt64(2) != 0,
		Stats: compliance.ReportStats{
			Passed:  int(stmt.ColumnInt64(3)),
			Total:   int(stmt.ColumnInt64(4)),
			Devices: int(stmt.ColumnInt64(5)),
			Tests:   int(stmt.ColumnInt64(6)),
		},
	}
	if blob := columnBytes(stmt, 7); blob != nil {
		if err := codec.Unmarshal(blob, &report.Stats.BySeverity); err != nil {
			return nil, fmt.Errorf("report %d: decoding severity stats: %w", report.ID, err)
		}
	}
	return report, nil
}

// Report returns one report.
func (s *Store) Report(ctx context.Context, id int64) (*compliance.Report, error) {
	var report *compliance.Report
	err := s.read(ctx, "report", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+reportColumns+" FROM reports WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) (err error) {
				report, err = scanReport(stmt)
				return err
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, fmt.Errorf("store: report %d: %w", id, ErrNotFound)
	}
	return report, nil
}

// Reports returns reports newest first.
func (s *Store) Reports(ctx context.Context) ([]*compliance.Report, error) {
	var reports []*compliance.Report
	err := s.read(ctx, "reports", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+reportColumns+" FROM reports ORDER BY id DESC", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				report, err := scanReport(stmt)
				if err != nil {
					return err
				}
				reports = append(reports, report)
				return nil
			},
		})
	})
	return reports, err
}

// DeleteReport removes a report with all its results. Deleting a
// missing report is not an error.
func (s *Store) DeleteReport(ctx context.Context, id int64) error {
	return s.write(ctx, "delete report", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "DELETE FROM reports WHERE id = ?", &sqlitex.ExecOptions{Args: []any{id}})
	})
}

// RetainReports keeps the newest keep reports, counting unfinalized
// ones, and deletes the rest with their results. It returns the number
// of reports deleted. keep <= 0 disables retention.
func (s *Store) RetainReports(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	var deleted int
	err := s.write(ctx, "retain reports", func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM reports WHERE id IN (
			SELECT id FROM reports ORDER BY id DESC LIMIT -1 OFFSET ?)`, &sqlitex.ExecOptions{
			Args: []any{keep},
		})
		deleted = conn.Changes()
		return err
	})
	if err == nil && deleted > 0 {
		s.logger.Info("old reports deleted", "deleted", deleted, "kept", keep)
	}
	return deleted, err
}
