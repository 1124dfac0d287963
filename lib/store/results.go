// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/fleetcheck/lib/compliance"
	"github.com/bureau-foundation/fleetcheck/lib/expr"
	"github.com/bureau-foundation/fleetcheck/lib/twophase"
)

var _ twophase.Coordinator[*ResultWriter] = (*Store)(nil)

// ResultWriter stages test results inside a prepared transaction. It is
// valid only during the stage function passed to Prepare.
type ResultWriter struct {
	conn      *sqlite.Conn
	key       string
	now       int64
	batchSize int
	pending   []compliance.TestResult
	written   int
}

// Add stages one result, flushing a batch when it is full.
func (w *ResultWriter) Add(result compliance.TestResult) error {
	w.pending = append(w.pending, result)
	if len(w.pending) >= w.batchSize {
		return w.flush()
	}
	return nil
}

// Written counts the rows flushed so far.
func (w *ResultWriter) Written() int { return w.written }

const resultColumns = 8

func (w *ResultWriter) flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	args := make([]any, 0, len(w.pending)*resultColumns)
	rows := make([]string, 0, len(w.pending))
	for _, r := range w.pending {
		explanation, err := encodeExplanation(r.Explanation)
		if err != nil {
			return fmt.Errorf("test %d on device %d: %w", r.TestID, r.DeviceID, err)
		}
		created := w.now
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.UnixNano()
		}
		rows = append(rows, "("+placeholders(resultColumns)+")")
		args = append(args, r.ReportID, w.key, r.TestID, r.DeviceID, r.DynamicPairID, boolInt(r.Passed), explanation, created)
	}
	query := "INSERT INTO test_results (report_id, tx_key, test_id, device_id, dynamic_pair_id, passed, explanation, created_at) VALUES " +
		strings.Join(rows, ", ")
	if err := sqlitex.Execute(w.conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("inserting results: %w", err)
	}
	w.written += len(w.pending)
	w.pending = w.pending[:0]
	return nil
}

func encodeExplanation(steps []expr.Step) ([]byte, error) {
	if steps == nil {
		steps = []expr.Step{}
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("encoding explanation: %w", err)
	}
	return zstdEncoder.EncodeAll(data, nil), nil
}

func decodeExplanation(blob []byte) ([]expr.Step, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	data, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing explanation: %w", err)
	}
	var steps []expr.Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("decoding explanation: %w", err)
	}
	return steps, nil
}

func transactionState(conn *sqlite.Conn, key string) (twophase.State, error) {
	var state twophase.State
	err := sqlitex.Execute(conn, "SELECT state FROM transactions WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			state = twophase.State(stmt.ColumnText(0))
			return nil
		},
	})
	return state, err
}

// Prepare implements twophase.Coordinator. The transaction row and
// every staged result are written in one SQLite transaction, so a
// crash or a failing stage leaves no trace of the attempt.
func (s *Store) Prepare(ctx context.Context, id twophase.ID, stage func(*ResultWriter) error) error {
	key := id.Key()
	return s.write(ctx, "prepare "+key, func(conn *sqlite.Conn) error {
		state, err := transactionState(conn, key)
		if err != nil {
			return err
		}
		switch state {
		case twophase.Committed:
			return twophase.ErrAlreadyCommitted
		case twophase.RolledBack:
			return twophase.ErrRolledBack
		case twophase.Prepared:
			if err := sqlitex.Execute(conn, "DELETE FROM test_results WHERE tx_key = ?", &sqlitex.ExecOptions{Args: []any{key}}); err != nil {
				return err
			}
			s.logger.Warn("replacing results of a prepared transaction", "transaction", key)
		}
		err = sqlitex.Execute(conn, `INSERT INTO transactions (key, job_id, worker_id, state, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`, &sqlitex.ExecOptions{
			Args: []any{key, id.JobID, id.WorkerID, string(twophase.Prepared), s.now()},
		})
		if err != nil {
			return err
		}
		writer := &ResultWriter{conn: conn, key: key, now: s.now(), batchSize: s.batchSize}
		if err := stage(writer); err != nil {
			return err
		}
		if err := writer.flush(); err != nil {
			return err
		}
		s.logger.Debug("transaction prepared", "transaction", key, "results", writer.written)
		return nil
	})
}

// Commit implements twophase.Coordinator.
func (s *Store) Commit(ctx context.Context, id twophase.ID) error {
	key := id.Key()
	return s.write(ctx, "commit "+key, func(conn *sqlite.Conn) error {
		state, err := transactionState(conn, key)
		if err != nil {
			return err
		}
		switch state {
		case "":
			return twophase.ErrUnknownTransaction
		case twophase.Committed:
			return nil
		case twophase.RolledBack:
			return twophase.ErrRolledBack
		}
		return s.setState(conn, key, twophase.Committed)
	})
}

// Rollback implements twophase.Coordinator.
func (s *Store) Rollback(ctx context.Context, id twophase.ID) error {
	key := id.Key()
	return s.write(ctx, "rollback "+key, func(conn *sqlite.Conn) error {
		state, err := transactionState(conn, key)
		if err != nil {
			return err
		}
		switch state {
		case "":
			return twophase.ErrUnknownTransaction
		case twophase.RolledBack:
			return nil
		case twophase.Committed:
			return twophase.ErrAlreadyCommitted
		}
		if err := sqlitex.Execute(conn, "DELETE FROM test_results WHERE tx_key = ?", &sqlitex.ExecOptions{Args: []any{key}}); err != nil {
			return err
		}
		return s.setState(conn, key, twophase.RolledBack)
	})
}

func (s *Store) setState(conn *sqlite.Conn, key string, state twophase.State) error {
	return sqlitex.Execute(conn, "UPDATE transactions SET state = ?, updated_at = ? WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{string(state), s.now(), key},
	})
}

// Status implements twophase.Coordinator.
func (s *Store) Status(ctx context.Context, id twophase.ID) (twophase.State, error) {
	var state twophase.State
	err := s.read(ctx, "status", func(conn *sqlite.Conn) error {
		var err error
		state, err = transactionState(conn, id.Key())
		return err
	})
	if err != nil {
		return "", err
	}
	if state == "" {
		return "", twophase.ErrUnknownTransaction
	}
	return state, nil
}

// Results returns the committed results of a report ordered by device
// then test.
func (s *Store) Results(ctx context.Context, reportID int64) ([]*compliance.TestResult, error) {
	var results []*compliance.TestResult
	err := s.read(ctx, "results", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT r.id, r.test_id, r.device_id, r.dynamic_pair_id, r.passed, r.explanation, r.created_at
			FROM test_results r JOIN transactions x ON x.key = r.tx_key
			WHERE r.report_id = ? AND x.state = 'committed'
			ORDER BY r.device_id, r.test_id, r.id`, &sqlitex.ExecOptions{
			Args: []any{reportID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				explanation, err := decodeExplanation(columnBytes(stmt, 5))
				if err != nil {
					return fmt.Errorf("result %d: %w", stmt.ColumnInt64(0), err)
				}
				results = append(results, &compliance.TestResult{
					ID:            stmt.ColumnInt64(0),
					TestID:        stmt.ColumnInt64(1),
					DeviceID:      stmt.ColumnInt64(2),
					DynamicPairID: stmt.ColumnInt64(3),
					ReportID:      reportID,
					Passed:        stmt.ColumnInt64(4) != 0,
					Explanation:   explanation,
					CreatedAt:     fromNanos(stmt.ColumnInt64(6)),
				})
				return nil
			},
		})
	})
	return results, err
}

// StagedResults counts result rows of a report regardless of
// transaction state.
func (s *Store) StagedResults(ctx context.Context, reportID int64) (int, error) {
	var n int
	err := s.read(ctx, "staged results", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM test_results WHERE report_id = ?", &sqlitex.ExecOptions{
			Args: []any{reportID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = int(stmt.ColumnInt64(0))
				return nil
			},
		})
	})
	return n, err
}
