// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package twophase names worker-scoped two-phase transactions and
// states the contract their coordinator keeps.
//
// An apply worker stages its results under [ID]{JobID, WorkerID} with
// Prepare. Nothing it staged is visible until the combine stage, having
// seen every worker finish, calls Commit for each id in worker order or
// Rollback for all of them. Because queue delivery is at least once,
// both decisions are idempotent: committing a committed id and rolling
// back a rolled back id succeed without effect.
package twophase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ID identifies the transaction of one apply worker of one pipeline.
type ID struct {
	// JobID is the id of the pipeline's launching job, shared by all
	// of its workers.
	JobID string

	WorkerID int
}

const keyPrefix = "ApplyWorker_"

// Key is the stable string form of the id, used as the storage key.
func (id ID) Key() string {
	return keyPrefix + id.JobID + "_" + strconv.Itoa(id.WorkerID)
}

func (id ID) String() string { return id.Key() }

// ParseKey reverses Key.
func ParseKey(key string) (ID, error) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return ID{}, fmt.Errorf("twophase: malformed key %q", key)
	}
	sep := strings.LastIndexByte(rest, '_')
	if sep <= 0 {
		return ID{}, fmt.Errorf("twophase: malformed key %q", key)
	}
	worker, err := strconv.Atoi(rest[sep+1:])
	if err != nil {
		return ID{}, fmt.Errorf("twophase: malformed worker id in key %q: %w", key, err)
	}
	return ID{JobID: rest[:sep], WorkerID: worker}, nil
}

// State is the lifecycle position of a transaction.
type State string

const (
	Prepared   State = "prepared"
	Committed  State = "committed"
	RolledBack State = "rolled_back"
)

var (
	// ErrUnknownTransaction is returned for ids that were never
	// prepared.
	ErrUnknownTransaction = errors.New("twophase: unknown transaction")

	// ErrAlreadyCommitted is returned when rolling back or re-preparing
	// a committed transaction.
	ErrAlreadyCommitted = errors.New("twophase: transaction already committed")

	// ErrRolledBack is returned when committing or re-preparing a
	// rolled back transaction.
	ErrRolledBack = errors.New("twophase: transaction rolled back")
)

// Coordinator persists transactions.
//
// Prepare runs stage inside a storage transaction and records id as
// prepared when stage succeeds; a failed stage leaves nothing behind.
// Preparing an id that is still prepared replaces what it staged, so a
// retried worker does not duplicate rows.
type Coordinator[Tx any] interface {
	Prepare(ctx context.Context, id ID, stage func(Tx) error) error
	Commit(ctx context.Context, id ID) error
	Rollback(ctx context.Context, id ID) error
	Status(ctx context.Context, id ID) (State, error)
}

// Outcome is the result of finishing one transaction.
type Outcome struct {
	ID  ID
	Err error
}

// CommitAll commits ids in order and stops at the first failure. The
// returned outcomes cover every id attempted; ids after a failure stay
// prepared and can be addressed individually later.
func CommitAll[Tx any](ctx context.Context, c Coordinator[Tx], ids []ID) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		err := c.Commit(ctx, id)
		outcomes = append(outcomes, Outcome{ID: id, Err: err})
		if err != nil {
			return outcomes, fmt.Errorf("twophase: committing %s: %w", id, err)
		}
	}
	return outcomes, nil
}

// RollbackAll rolls back every id, continuing past failures. Failures
// of ids in tolerated (typically the worker that errored and may never
// have prepared) and ErrUnknownTransaction for any id are reported in
// the outcomes but not in the returned error.
func RollbackAll[Tx any](ctx context.Context, c Coordinator[Tx], ids []ID, tolerated map[ID]bool) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(ids))
	var errs []error
	for _, id := range ids {
		err := c.Rollback(ctx, id)
		outcomes = append(outcomes, Outcome{ID: id, Err: err})
		if err == nil || tolerated[id] || errors.Is(err, ErrUnknownTransaction) {
			continue
		}
		errs = append(errs, fmt.Errorf("rolling back %s: %w", id, err))
	}
	if len(errs) > 0 {
		return outcomes, fmt.Errorf("twophase: %w", errors.Join(errs...))
	}
	return outcomes, nil
}
