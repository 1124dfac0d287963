// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobqueue is a SQLite-backed task queue with job dependencies.
//
// A job names a function, carries a CBOR payload and may depend on
// other jobs. It becomes ready when its schedule time has passed and
// every dependency is terminal. A job whose dependency failed or was
// canceled is canceled itself, unless it was enqueued with
// AllowFailedDependencies, in which case it runs and inspects its
// parents' results. Results are stored for failed jobs too.
//
// Delivery is at least once. Claiming a job takes a lease that lasts
// the job's timeout plus a grace period; a job whose lease expires
// (its worker crashed or hung) is claimed again, up to MaxAttempts.
// Each claim increments the job's attempt counter, and finishing
// requires the attempt to still hold the lease, so a late worker
// cannot overwrite a newer attempt's result.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/fleetcheck/lib/clock"
	"github.com/bureau-foundation/fleetcheck/lib/codec"
	"github.com/bureau-foundation/fleetcheck/lib/sqlitepool"
)

// Status is the lifecycle position of a job.
type Status string

const (
	Queued   Status = "queued"
	Running  Status = "running"
	Finished Status = "finished"
	Failed   Status = "failed"
	Canceled Status = "canceled"
)

// Terminal reports whether the job will not run again.
func (s Status) Terminal() bool {
	return s == Finished || s == Failed || s == Canceled
}

var (
	// ErrNoSuchJob is returned for unknown job ids.
	ErrNoSuchJob = errors.New("jobqueue: no such job")

	// ErrDuplicateJob is returned when enqueueing an id that exists.
	ErrDuplicateJob = errors.New("jobqueue: job id already exists")

	// ErrLeaseLost is returned when finishing a job whose lease was
	// taken over by a later attempt or that is no longer running.
	ErrLeaseLost = errors.New("jobqueue: lease lost")
)

// DefaultTimeout applies to jobs enqueued without a timeout.
const DefaultTimeout = 10 * time.Minute

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	function      TEXT NOT NULL,
	status        TEXT NOT NULL,
	payload       BLOB,
	result        BLOB,
	error         TEXT NOT NULL DEFAULT '',
	timeout_ns    INTEGER NOT NULL,
	allow_failed  INTEGER NOT NULL DEFAULT 0,
	schedule_at   INTEGER NOT NULL,
	enqueued_at   INTEGER NOT NULL,
	started_at    INTEGER NOT NULL DEFAULT 0,
	ended_at      INTEGER NOT NULL DEFAULT 0,
	lease_until   INTEGER NOT NULL DEFAULT 0,
	attempts      INTEGER NOT NULL DEFAULT 0,
	worker        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS jobs_status ON jobs(status, schedule_at);

CREATE TABLE IF NOT EXISTS job_dependencies (
	job_id     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	depends_on TEXT NOT NULL REFERENCES jobs(id),
	position   INTEGER NOT NULL,
	PRIMARY KEY (job_id, depends_on)
);

CREATE INDEX IF NOT EXISTS job_dependencies_parent ON job_dependencies(depends_on);
`

// Spec describes a job to enqueue.
type Spec struct {
	// Function selects the handler.
	Function string

	// Timeout bounds one attempt. Zero means DefaultTimeout.
	Timeout time.Duration

	// DependsOn lists job ids that must be terminal first, in the
	// order Dependencies returns them.
	DependsOn []string

	// Payload is encoded with codec.Marshal. Nil stores no payload.
	Payload any

	// JobID, when set, is used instead of a generated UUID.
	JobID string

	// ScheduleAt delays the job. Zero means now.
	ScheduleAt time.Time

	// AllowFailedDependencies lets the job run after a dependency
	// failed or was canceled.
	AllowFailedDependencies bool
}

// Job is a snapshot of a job row.
type Job struct {
	ID       string
	Function string
	Status   Status

	Payload []byte
	Result  []byte
	Error   string

	DependsOn               []string
	AllowFailedDependencies bool
	Timeout                 time.Duration

	ScheduleAt time.Time
	EnqueuedAt time.Time
	StartedAt  time.Time
	EndedAt    time.Time

	// Attempt is the number of times the job has been claimed.
	Attempt int
	Worker  string
}

// DecodePayload decodes the job payload into v.
func (j *Job) DecodePayload(v any) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("jobqueue: job %s has no payload", j.ID)
	}
	if err := codec.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("jobqueue: job %s: decoding payload: %w", j.ID, err)
	}
	return nil
}

// DecodeResult decodes the job result into v.
func (j *Job) DecodeResult(v any) error {
	if len(j.Result) == 0 {
		return fmt.Errorf("jobqueue: job %s (%s) has no result", j.ID, j.Status)
	}
	if err := codec.Unmarshal(j.Result, v); err != nil {
		return fmt.Errorf("jobqueue: job %s: decoding result: %w", j.ID, err)
	}
	return nil
}

// Config holds the parameters for Open.
type Config struct {
	Path     string
	PoolSize int

	// LeaseGrace is added to a job's timeout to form its lease.
	// Defaults to 30 seconds.
	LeaseGrace time.Duration

	// MaxAttempts bounds reclaims after expired leases. Defaults to 3.
	MaxAttempts int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Queue is safe for concurrent use by many workers and processes
// sharing the database file.
type Queue struct {
	pool        *sqlitepool.Pool
	clock       clock.Clock
	logger      *slog.Logger
	leaseGrace  time.Duration
	maxAttempts int
}

// Open opens or creates the queue database.
func Open(cfg Config) (*Queue, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	grace := cfg.LeaseGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		Schema:   schema,
	})
	if err != nil {
		return nil, fmt.Errorf("jobqueue: %w", err)
	}
	return &Queue{pool: pool, clock: clk, logger: logger, leaseGrace: grace, maxAttempts: maxAttempts}, nil
}

// Close closes the connection pool.
func (q *Queue) Close() error { return q.pool.Close() }

func (q *Queue) write(ctx context.Context, what string, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("jobqueue: %s: %w", what, err)
	}
	defer q.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("jobqueue: %s: begin transaction: %w", what, err)
	}
	defer endTransaction(&err)

	if err = fn(conn); err != nil {
		return fmt.Errorf("jobqueue: %s: %w", what, err)
	}
	return nil
}

func (q *Queue) read(ctx context.Context, what string, fn func(conn *sqlite.Conn) error) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("jobqueue: %s: %w", what, err)
	}
	defer q.pool.Put(conn)
	if err := fn(conn); err != nil {
		return fmt.Errorf("jobqueue: %s: %w", what, err)
	}
	return nil
}

// Enqueue stores a new job. Every dependency must already exist.
func (q *Queue) Enqueue(ctx context.Context, spec Spec) (*Job, error) {
	jobs, err := q.EnqueueAll(ctx, []Spec{spec})
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

// EnqueueAll stores several jobs in one transaction: either all of
// them are queued or none is. A spec may depend on jobs stored earlier
// in the same call, which requires it to know their JobID.
func (q *Queue) EnqueueAll(ctx context.Context, specs []Spec) ([]*Job, error) {
	type row struct {
		spec    Spec
		id      string
		payload []byte
		timeout time.Duration
	}
	rows := make([]row, len(specs))
	for i, spec := range specs {
		if spec.Function == "" {
			return nil, fmt.Errorf("jobqueue: enqueue: function is required")
		}
		r := row{spec: spec, id: spec.JobID, timeout: spec.Timeout}
		if spec.Payload != nil {
			var err error
			if r.payload, err = codec.Marshal(spec.Payload); err != nil {
				return nil, fmt.Errorf("jobqueue: enqueue %s: encoding payload: %w", spec.Function, err)
			}
		}
		if r.id == "" {
			r.id = uuid.NewString()
		}
		if r.timeout <= 0 {
			r.timeout = DefaultTimeout
		}
		rows[i] = r
	}
	now := q.clock.Now()

	err := q.write(ctx, "enqueue", func(conn *sqlite.Conn) error {
		for _, r := range rows {
			if err := insertJob(conn, r.id, r.spec, r.payload, r.timeout, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, len(rows))
	for i, r := range rows {
		q.logger.Debug("job enqueued", "job", r.id, "function", r.spec.Function, "depends_on", len(r.spec.DependsOn))
		if jobs[i], err = q.Job(ctx, r.id); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func insertJob(conn *sqlite.Conn, id string, spec Spec, payload []byte, timeout time.Duration, now time.Time) error {
	exists, err := jobExists(conn, id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s: %w", id, ErrDuplicateJob)
	}
	for _, dep := range spec.DependsOn {
		exists, err := jobExists(conn, dep)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("dependency %s: %w", dep, ErrNoSuchJob)
		}
	}
	scheduleAt := spec.ScheduleAt
	if scheduleAt.IsZero() {
		scheduleAt = now
	}
	var allowFailed int64
	if spec.AllowFailedDependencies {
		allowFailed = 1
	}
	err = sqlitex.Execute(conn, `INSERT INTO jobs (id, function, status, payload, timeout_ns, allow_failed, schedule_at, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{id, spec.Function, string(Queued), payload, int64(timeout), allowFailed,
			scheduleAt.UnixNano(), now.UnixNano()},
	})
	if err != nil {
		return err
	}
	for position, dep := range spec.DependsOn {
		if err := sqlitex.Execute(conn, "INSERT INTO job_dependencies (job_id, depends_on, position) VALUES (?, ?, ?)", &sqlitex.ExecOptions{
			Args: []any{id, dep, position},
		}); err != nil {
			return err
		}
	}
	return nil
}

func jobExists(conn *sqlite.Conn, id string) (bool, error) {
	var exists bool
	err := sqlitex.Execute(conn, "SELECT 1 FROM jobs WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(*sqlite.Stmt) error {
			exists = true
			return nil
		},
	})
	return exists, err
}

const jobColumns = `id, function, status, payload, result, error, timeout_ns, allow_failed,
	schedule_at, enqueued_at, started_at, ended_at, attempts, worker`

func scanJob(stmt *sqlite.Stmt) *Job {
	return &Job{
		ID:                      stmt.ColumnText(0),
		Function:                stmt.ColumnText(1),
		Status:                  Status(stmt.ColumnText(2)),
		Payload:                 columnBytes(stmt, 3),
		Result:                  columnBytes(stmt, 4),
		Error:                   stmt.ColumnText(5),
		Timeout:                 time.Duration(stmt.ColumnInt64(6)),
		AllowFailedDependencies: stmt.ColumnInt64(7) != 0,
		ScheduleAt:              fromNanos(stmt.ColumnInt64(8)),
		EnqueuedAt:              fromNanos(stmt.ColumnInt64(9)),
		StartedAt:               fromNanos(stmt.ColumnInt64(10)),
		EndedAt:                 fromNanos(stmt.ColumnInt64(11)),
		Attempt:                 int(stmt.ColumnInt64(12)),
		Worker:                  stmt.ColumnText(13),
	}
}

func loadJob(conn *sqlite.Conn, id string) (*Job, error) {
	var job *Job
	err := sqlitex.Execute(conn, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			job = scanJob(stmt)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%s: %w", id, ErrNoSuchJob)
	}
	err = sqlitex.Execute(conn, "SELECT depends_on FROM job_dependencies WHERE job_id = ? ORDER BY position", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			job.DependsOn = append(job.DependsOn, stmt.ColumnText(0))
			return nil
		},
	})
	return job, err
}

// Job returns a snapshot of the job.
func (q *Queue) Job(ctx context.Context, id string) (*Job, error) {
	var job *Job
	err := q.read(ctx, "job", func(conn *sqlite.Conn) (err error) {
		job, err = loadJob(conn, id)
		return err
	})
	return job, err
}

// Dependencies returns the jobs id depends on, in enqueue order.
func (q *Queue) Dependencies(ctx context.Context, id string) ([]*Job, error) {
	var deps []*Job
	err := q.read(ctx, "dependencies", func(conn *sqlite.Conn) error {
		job, err := loadJob(conn, id)
		if err != nil {
			return err
		}
		for _, dep := range job.DependsOn {
			parent, err := loadJob(conn, dep)
			if err != nil {
				return err
			}
			deps = append(deps, parent)
		}
		return nil
	})
	return deps, err
}

// Jobs lists jobs in enqueue order, optionally restricted to statuses.
func (q *Queue) Jobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var ids []string
	err := q.read(ctx, "jobs", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT id, status FROM jobs ORDER BY seq", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if len(statuses) == 0 || hasStatus(statuses, Status(stmt.ColumnText(1))) {
					ids = append(ids, stmt.ColumnText(0))
				}
				return nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func hasStatus(statuses []Status, s Status) bool {
	for _, want := range statuses {
		if want == s {
			return true
		}
	}
	return false
}

// Claim takes the oldest ready job whose function is in functions and
// marks it running under worker. It returns nil when nothing is ready.
// Before choosing, it cancels queued jobs whose dependencies failed
// and fails running jobs whose lease expired for the last time.
func (q *Queue) Claim(ctx context.Context, functions []string, worker string) (*Job, error) {
	if len(functions) == 0 {
		return nil, nil
	}
	now := q.clock.Now().UnixNano()
	var claimed *Job
	err := q.write(ctx, "claim", func(conn *sqlite.Conn) error {
		if err := q.expireLeases(conn, now); err != nil {
			return err
		}
		if err := cancelOrphans(conn, now); err != nil {
			return err
		}
		args := []any{now, now}
		for _, fn := range functions {
			args = append(args, fn)
		}
		var id string
		err := sqlitex.Execute(conn, `SELECT j.id FROM jobs j
			WHERE ((j.status = 'queued' AND j.schedule_at <= ?) OR (j.status = 'running' AND j.lease_until <= ?))
			AND j.function IN (`+placeholders(len(functions))+`)
			AND NOT EXISTS (
				SELECT 1 FROM job_dependencies d JOIN jobs p ON p.id = d.depends_on
				WHERE d.job_id = j.id AND p.status NOT IN ('finished', 'failed', 'canceled'))
			ORDER BY j.seq LIMIT 1`, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id = stmt.ColumnText(0)
				return nil
			},
		})
		if err != nil || id == "" {
			return err
		}
		job, err := loadJob(conn, id)
		if err != nil {
			return err
		}
		if job.Status == Running {
			q.logger.Warn("reclaiming job after lease expiry", "job", id, "function", job.Function,
				"attempt", job.Attempt, "previous_worker", job.Worker)
		}
		lease := now + int64(job.Timeout+q.leaseGrace)
		err = sqlitex.Execute(conn, `UPDATE jobs SET status = 'running', started_at = ?, lease_until = ?,
			attempts = attempts + 1, worker = ? WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{now, lease, worker, id},
		})
		if err != nil {
			return err
		}
		claimed, err = loadJob(conn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// expireLeases fails running jobs whose lease expired after their last
// allowed attempt.
func (q *Queue) expireLeases(conn *sqlite.Conn, now int64) error {
	return sqlitex.Execute(conn, `UPDATE jobs SET status = 'failed', ended_at = ?,
		error = 'lease expired after ' || attempts || ' attempts'
		WHERE status = 'running' AND lease_until <= ? AND attempts >= ?`, &sqlitex.ExecOptions{
		Args: []any{now, now, q.maxAttempts},
	})
}

// cancelOrphans cancels queued jobs with a failed or canceled
// dependency, repeating until the cancellation has propagated down
// every chain.
func cancelOrphans(conn *sqlite.Conn, now int64) error {
	for {
		err := sqlitex.Execute(conn, `UPDATE jobs SET status = 'canceled', ended_at = ?, error = 'dependency failed'
			WHERE status = 'queued' AND allow_failed = 0 AND EXISTS (
				SELECT 1 FROM job_dependencies d JOIN jobs p ON p.id = d.depends_on
				WHERE d.job_id = jobs.id AND p.status IN ('failed', 'canceled'))`, &sqlitex.ExecOptions{
			Args: []any{now},
		})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return nil
		}
	}
}

// Finish records a successful attempt and its result.
func (q *Queue) Finish(ctx context.Context, job *Job, result any) error {
	return q.complete(ctx, job, Finished, result, "")
}

// Fail records a failed attempt. result, when non-nil, is stored so
// dependents allowed to run after failures can read it.
func (q *Queue) Fail(ctx context.Context, job *Job, result any, cause error) error {
	message := "failed"
	if cause != nil {
		message = cause.Error()
	}
	return q.complete(ctx, job, Failed, result, message)
}

func (q *Queue) complete(ctx context.Context, job *Job, status Status, result any, message string) error {
	var encoded []byte
	if result != nil {
		var err error
		if encoded, err = codec.Marshal(result); err != nil {
			return fmt.Errorf("jobqueue: job %s: encoding result: %w", job.ID, err)
		}
	}
	return q.write(ctx, "complete "+job.ID, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `UPDATE jobs SET status = ?, result = ?, error = ?, ended_at = ?
			WHERE id = ? AND status = 'running' AND attempts = ?`, &sqlitex.ExecOptions{
			Args: []any{string(status), encoded, message, q.clock.Now().UnixNano(), job.ID, job.Attempt},
		})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("job %s attempt %d: %w", job.ID, job.Attempt, ErrLeaseLost)
		}
		return nil
	})
}

// Cancel cancels a job that has not started. Dependents are canceled
// on the next claim unless they allow failed dependencies.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	return q.write(ctx, "cancel "+id, func(conn *sqlite.Conn) error {
		job, err := loadJob(conn, id)
		if err != nil {
			return err
		}
		if job.Status != Queued {
			return fmt.Errorf("job %s is %s, not queued", id, job.Status)
		}
		return sqlitex.Execute(conn, "UPDATE jobs SET status = 'canceled', ended_at = ?, error = 'canceled' WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{q.clock.Now().UnixNano(), id},
		})
	})
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
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

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
