// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the SQLite data store behind fleetcheck: the device
// inventory and its data sources, selectors, tests and namesets, the
// reports and test results a run produces, and the run records an
// operator reads.
//
// Test results are written only through the two-phase [Store.Prepare],
// keyed by a [twophase.ID]. Rows staged under a transaction stay
// invisible to every read until [Store.Commit] marks the transaction
// committed; [Store.Rollback] deletes them. Readers join results with
// the transactions table, so commit is a single row update.
//
// Every write runs in one IMMEDIATE transaction on a pooled connection.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/fleetcheck/lib/clock"
	"github.com/bureau-foundation/fleetcheck/lib/sqlitepool"
)

// ErrNotFound is returned by lookups of a single missing row.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS data_sources (
	id        INTEGER PRIMARY KEY,
	name      TEXT NOT NULL UNIQUE,
	type      TEXT NOT NULL,
	path      TEXT NOT NULL,
	origin    TEXT NOT NULL DEFAULT '',
	digest    TEXT NOT NULL DEFAULT '',
	synced_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS devices (
	id          INTEGER PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	data_source TEXT NOT NULL DEFAULT '',
	body        BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS namesets (
	id          INTEGER PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	global      INTEGER NOT NULL DEFAULT 0,
	definitions TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tests (
	id          INTEGER PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	expression  TEXT NOT NULL,
	severity    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS test_namesets (
	test_id INTEGER NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	nameset TEXT NOT NULL REFERENCES namesets(name) ON DELETE CASCADE,
	PRIMARY KEY (test_id, nameset)
);

CREATE TABLE IF NOT EXISTS test_tags (
	test_id INTEGER NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	tag     TEXT NOT NULL,
	PRIMARY KEY (test_id, tag)
);

CREATE TABLE IF NOT EXISTS selectors (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	body BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS selector_tests (
	selector_id INTEGER NOT NULL REFERENCES selectors(id) ON DELETE CASCADE,
	test_id     INTEGER NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	PRIMARY KEY (selector_id, test_id)
);

CREATE TABLE IF NOT EXISTS reports (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at  INTEGER NOT NULL,
	finalized   INTEGER NOT NULL DEFAULT 0,
	passed      INTEGER NOT NULL DEFAULT 0,
	total       INTEGER NOT NULL DEFAULT 0,
	devices     INTEGER NOT NULL DEFAULT 0,
	tests       INTEGER NOT NULL DEFAULT 0,
	by_severity BLOB
);

CREATE TABLE IF NOT EXISTS runs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id       TEXT NOT NULL UNIQUE,
	report_id    INTEGER REFERENCES reports(id) ON DELETE SET NULL,
	status       TEXT NOT NULL,
	params       BLOB,
	log          BLOB,
	output       TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	started_at   INTEGER NOT NULL DEFAULT 0,
	completed_at INTEGER NOT NULL DEFAULT 0,
	next_run     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS transactions (
	key        TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	worker_id  INTEGER NOT NULL,
	state      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS test_results (
	id              INTEGER PRIMARY KEY,
	report_id       INTEGER NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	tx_key          TEXT NOT NULL REFERENCES transactions(key),
	test_id         INTEGER NOT NULL,
	device_id       INTEGER NOT NULL,
	dynamic_pair_id INTEGER NOT NULL DEFAULT 0,
	passed          INTEGER NOT NULL,
	explanation     BLOB,
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS test_results_report ON test_results(report_id);
CREATE INDEX IF NOT EXISTS test_results_tx ON test_results(tx_key);
`

// maxVariables is SQLite's default limit on bound parameters per
// statement.
const maxVariables = 32766

// Config holds the parameters for Open.
type Config struct {
	// Path of the database file. Its directory must exist.
	Path string

	// PoolSize is passed to sqlitepool.
	PoolSize int

	// ResultBatchSize is the number of rows per INSERT statement when
	// staging test results. Defaults to 500; capped by SQLite's limit
	// on bound parameters.
	ResultBatchSize int

	// Clock stamps rows. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger
}

// Store is safe for concurrent use.
type Store struct {
	pool      *sqlitepool.Pool
	clock     clock.Clock
	logger    *slog.Logger
	batchSize int
}

// Open opens or creates the database and applies the schema.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	batchSize := cfg.ResultBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	batchSize = min(batchSize, maxVariables/resultColumns)
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		Schema:   schema,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{pool: pool, clock: clk, logger: logger, batchSize: batchSize}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// read runs fn on a pooled connection.
func (s *Store) read(ctx context.Context, what string, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: %s: %w", what, err)
	}
	defer s.pool.Put(conn)
	if err := fn(conn); err != nil {
		return fmt.Errorf("store: %s: %w", what, err)
	}
	return nil
}

// write runs fn inside an IMMEDIATE transaction that commits when fn
// succeeds and rolls back otherwise.
func (s *Store) write(ctx context.Context, what string, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: %s: %w", what, err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: %s: begin transaction: %w", what, err)
	}
	defer endTransaction(&err)

	if err = fn(conn); err != nil {
		return fmt.Errorf("store: %s: %w", what, err)
	}
	return nil
}

func (s *Store) now() int64 { return s.clock.Now().UnixNano() }

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func columnBytes(stmt *sqlite.Stmt, col int) []byte {
	n := stmt.ColumnLen(col)
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	stmt.ColumnBytes(col, buf)
	return buf
}

// Explanations are JSON compressed with zstd; trails repeat the same
// labels and config fragments across devices.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}
