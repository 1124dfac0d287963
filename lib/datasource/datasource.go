// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package datasource brings device state directories up to date before
// a test run.
//
// A local data source is a directory something else maintains; syncing
// it only checks that it exists. A directory data source is a working
// copy of an origin directory: a sync hashes the origin with BLAKE3,
// skips the copy when the tree digest matches the one recorded by the
// previous sync, and otherwise copies changed files and removes files
// the origin no longer has.
//
// [Syncer.Sync] runs the syncs of several sources in parallel up to a
// concurrency cap. A failing source never stops the others; every
// failure comes back as a [*SyncError].
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/fleetcheck/lib/compliance"
)

// SyncError reports the failed sync of one data source.
type SyncError struct {
	Source string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("data source %s: sync failed: %v", e.Source, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// DigestStore records the tree digest of the last successful sync.
// *store.Store implements it.
type DigestStore interface {
	SyncDigest(ctx context.Context, name string) (string, error)
	MarkSynced(ctx context.Context, name, digest string) error
}

// Outcome summarizes the sync of one source.
type Outcome struct {
	Source  string
	Changed bool

	// Copied and Removed count files written and deleted in the
	// working copy.
	Copied  int
	Removed int
}

// Syncer syncs data sources.
type Syncer struct {
	digests     DigestStore
	concurrency int
	logger      *slog.Logger
}

// NewSyncer returns a Syncer running at most concurrency syncs at once
// (at least one).
func NewSyncer(digests DigestStore, concurrency int, logger *slog.Logger) *Syncer {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Syncer{digests: digests, concurrency: concurrency, logger: logger}
}

// Sync syncs every source and returns the outcomes of the successful
// ones and the errors of the failed ones, both ordered by source name.
// Only cancellation of ctx stops pending syncs early.
func (s *Syncer) Sync(ctx context.Context, sources []*compliance.DataSource) ([]Outcome, []*SyncError) {
	var (
		mu       sync.Mutex
		outcomes []Outcome
		failures []*SyncError
	)
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for _, source := range sources {
		group.Go(func() error {
			outcome, err := s.SyncOne(ctx, source)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, &SyncError{Source: source.Name, Err: err})
				s.logger.Warn("data source sync failed", "source", source.Name, "error", err)
				return nil
			}
			outcomes = append(outcomes, outcome)
			return nil
		})
	}
	group.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Source < outcomes[j].Source })
	sort.Slice(failures, func(i, j int) bool { return failures[i].Source < failures[j].Source })
	return outcomes, failures
}

// SyncOne syncs a single source.
func (s *Syncer) SyncOne(ctx context.Context, source *compliance.DataSource) (Outcome, error) {
	outcome := Outcome{Source: source.Name}
	if err := ctx.Err(); err != nil {
		return outcome, err
	}
	switch source.Type {
	case compliance.DataSourceLocal:
		info, err := os.Stat(source.Path)
		if err != nil {
			return outcome, err
		}
		if !info.IsDir() {
			return outcome, fmt.Errorf("%s is not a directory", source.Path)
		}
		return outcome, nil
	case compliance.DataSourceDirectory:
		return s.syncDirectory(ctx, source)
	default:
		return outcome, fmt.Errorf("unsupported data source type %q", source.Type)
	}
}

func (s *Syncer) syncDirectory(ctx context.Context, source *compliance.DataSource) (Outcome, error) {
	outcome := Outcome{Source: source.Name}
	origin, err := HashTree(source.Origin)
	if err != nil {
		return outcome, fmt.Errorf("hashing origin: %w", err)
	}
	digest := origin.Digest().String()

	previous, err := s.digests.SyncDigest(ctx, source.Name)
	if err != nil {
		return outcome, err
	}
	if previous == digest {
		if _, err := os.Stat(source.Path); err == nil {
			s.logger.Debug("data source unchanged", "source", source.Name, "digest", digest)
			return outcome, nil
		}
	}

	if err := os.MkdirAll(source.Path, 0o755); err != nil {
		return outcome, err
	}
	working, err := HashTree(source.Path)
	if err != nil {
		return outcome, fmt.Errorf("hashing working copy: %w", err)
	}

	for _, relative := range sortedPaths(origin) {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		if current, ok := working[relative]; ok && current == origin[relative] {
			continue
		}
		if err := copyFile(filepath.Join(source.Origin, filepath.FromSlash(relative)),
			filepath.Join(source.Path, filepath.FromSlash(relative))); err != nil {
			return outcome, err
		}
		outcome.Copied++
	}
	for _, relative := range sortedPaths(working) {
		if _, ok := origin[relative]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(source.Path, filepath.FromSlash(relative))); err != nil && !errors.Is(err, os.ErrNotExist) {
			return outcome, err
		}
		outcome.Removed++
	}

	if err := s.digests.MarkSynced(ctx, source.Name, digest); err != nil {
		return outcome, err
	}
	outcome.Changed = outcome.Copied > 0 || outcome.Removed > 0
	s.logger.Info("data source synced", "source", source.Name,
		"copied", outcome.Copied, "removed", outcome.Removed, "digest", digest)
	return outcome, nil
}

func sortedPaths(m Manifest) []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// copyFile writes src to dst through a temporary file renamed into
// place, so readers never see a partial state file.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
