// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobgraph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/fleetcheck/lib/codec"
	"github.com/bureau-foundation/fleetcheck/lib/jobqueue"
)

type countingSource struct {
	jobs  map[string]*jobqueue.Job
	loads map[string]int
}

func (s *countingSource) Job(_ context.Context, id string) (*jobqueue.Job, error) {
	s.loads[id]++
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("jobqueue: job: %s: %w", id, jobqueue.ErrNoSuchJob)
	}
	return job, nil
}

func result(t *testing.T, v any) []byte {
	t.Helper()
	data, err := codec.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return data
}

// pipeline builds split <- apply-1, apply-2 <- combine.
func pipeline(t *testing.T) *countingSource {
	return &countingSource{
		loads: make(map[string]int),
		jobs: map[string]*jobqueue.Job{
			"split":   {ID: "split", Status: jobqueue.Finished, Result: result(t, "split-log")},
			"apply-1": {ID: "apply-1", Status: jobqueue.Finished, DependsOn: []string{"split"}, Result: result(t, 1)},
			"apply-2": {ID: "apply-2", Status: jobqueue.Failed, DependsOn: []string{"split"}},
			"combine": {ID: "combine", Status: jobqueue.Running, DependsOn: []string{"apply-1", "apply-2"}},
		},
	}
}

func TestWalkAndMemoize(t *testing.T) {
	ctx := context.Background()
	source := pipeline(t)
	current := New(source).Handle("combine")

	parents, err := current.Parents(ctx)
	if err != nil {
		t.Fatalf("Parents: %v", err)
	}
	var ids []string
	for _, parent := range parents {
		ids = append(ids, parent.ID())
	}
	if diff := cmp.Diff([]string{"apply-1", "apply-2"}, ids); diff != "" {
		t.Errorf("parents (-want +got):\n%s", diff)
	}

	for _, parent := range parents {
		grandparent, err := parent.Parent(ctx)
		if err != nil {
			t.Fatalf("%s.Parent: %v", parent.ID(), err)
		}
		var log string
		if err := grandparent.Result(ctx, &log); err != nil || log != "split-log" {
			t.Fatalf("grandparent result = %q, %v", log, err)
		}
		if grandparent.Depth() != 2 || grandparent.NestingName() != "x2 Parent" {
			t.Errorf("grandparent depth %d named %q", grandparent.Depth(), grandparent.NestingName())
		}
	}
	if source.loads["split"] != 1 {
		t.Errorf("split loaded %d times, want 1", source.loads["split"])
	}

	var n int
	if err := parents[0].Result(ctx, &n); err != nil || n != 1 {
		t.Errorf("apply-1 result = %d, %v", n, err)
	}
	if err := parents[1].Result(ctx, &n); err == nil {
		t.Errorf("failed job without a result decoded")
	}
}

func TestNestingNames(t *testing.T) {
	for depth, want := range []string{"Current", "Parent", "x2 Parent", "x3 Parent"} {
		if got := (Handle{depth: depth}).NestingName(); got != want {
			t.Errorf("depth %d: got %q, want %q", depth, got, want)
		}
	}
}

func TestAbsentJobs(t *testing.T) {
	ctx := context.Background()
	source := pipeline(t)
	source.jobs["orphan"] = &jobqueue.Job{ID: "orphan", DependsOn: []string{"gone"}}
	graph := New(source)

	parent, err := graph.Handle("orphan").Parent(ctx)
	if err != nil {
		t.Fatalf("Parent: %v", err)
	}
	_, err = parent.Job(ctx)
	var absent *AbsentJobError
	if !errors.As(err, &absent) {
		t.Fatalf("Job of a missing parent: err = %v, want *AbsentJobError", err)
	}
	if absent.ID != "gone" || absent.Nesting != "Parent" || !errors.Is(err, jobqueue.ErrNoSuchJob) {
		t.Errorf("absent = %+v", absent)
	}

	if _, err := graph.Handle("split").Parent(ctx); !errors.Is(err, ErrNoParent) {
		t.Errorf("Parent of a root: err = %v, want ErrNoParent", err)
	}
}
