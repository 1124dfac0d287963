// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobgraph walks the dependency graph of queued jobs upward
// from a running job, so a downstream stage can read the results of
// the stages it depends on.
//
// A [Graph] is a memoizing arena over a [Source]: each job is loaded
// at most once per Graph, however many handles reach it. A [Handle]
// names one job at a depth relative to the job the walk started from;
// the depth only feeds [Handle.NestingName] for messages.
//
//	graph := jobgraph.New(queue)
//	current := graph.Handle(jobID)
//	appliers, err := current.Parents(ctx)
//	split, err := appliers[0].Parent(ctx)
//
// A job missing from the source is reported as an [*AbsentJobError];
// a handle never yields a zero-value job.
package jobgraph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/fleetcheck/lib/jobqueue"
)

// Source loads jobs by id. *jobqueue.Queue implements it.
type Source interface {
	Job(ctx context.Context, id string) (*jobqueue.Job, error)
}

// ErrNoParent is returned by Handle.Parent for a job without
// dependencies.
var ErrNoParent = errors.New("jobgraph: job has no parent")

// AbsentJobError reports a job the source does not have.
type AbsentJobError struct {
	ID      string
	Nesting string
	Err     error
}

func (e *AbsentJobError) Error() string {
	return fmt.Sprintf("jobgraph: %s job %s is absent: %v", e.Nesting, e.ID, e.Err)
}

func (e *AbsentJobError) Unwrap() error { return e.Err }

// Graph caches jobs by id. Safe for concurrent use.
type Graph struct {
	source Source

	mu    sync.Mutex
	arena map[string]*jobqueue.Job
}

// New returns an empty graph over source.
func New(source Source) *Graph {
	return &Graph{source: source, arena: make(map[string]*jobqueue.Job)}
}

// Handle returns the handle of the job the walk starts from.
func (g *Graph) Handle(id string) Handle {
	return Handle{graph: g, id: id}
}

func (g *Graph) load(ctx context.Context, id string) (*jobqueue.Job, error) {
	g.mu.Lock()
	job, ok := g.arena[id]
	g.mu.Unlock()
	if ok {
		return job, nil
	}
	job, err := g.source.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.arena[id] = job
	g.mu.Unlock()
	return job, nil
}

// Handle refers to one job in a graph.
type Handle struct {
	graph *Graph
	id    string
	depth int
}

// ID returns the job id.
func (h Handle) ID() string { return h.id }

// Depth is 0 for the starting job, 1 for its parents and so on.
func (h Handle) Depth() int { return h.depth }

// NestingName names the handle's level: "Current", "Parent",
// "x2 Parent", "x3 Parent", ...
func (h Handle) NestingName() string {
	switch h.depth {
	case 0:
		return "Current"
	case 1:
		return "Parent"
	default:
		return fmt.Sprintf("x%d Parent", h.depth)
	}
}

// Job returns the job, loading it on first access.
func (h Handle) Job(ctx context.Context) (*jobqueue.Job, error) {
	job, err := h.graph.load(ctx, h.id)
	if err != nil {
		if errors.Is(err, jobqueue.ErrNoSuchJob) {
			return nil, &AbsentJobError{ID: h.id, Nesting: h.NestingName(), Err: err}
		}
		return nil, fmt.Errorf("jobgraph: loading %s job %s: %w", h.NestingName(), h.id, err)
	}
	return job, nil
}

// Result decodes the job's stored result into v. A job without a
// result, such as one that crashed or timed out, is an error.
func (h Handle) Result(ctx context.Context, v any) error {
	job, err := h.Job(ctx)
	if err != nil {
		return err
	}
	if len(job.Result) == 0 {
		return fmt.Errorf("jobgraph: %s job %s (%s) has no result", h.NestingName(), h.id, job.Status)
	}
	if err := job.DecodeResult(v); err != nil {
		return fmt.Errorf("jobgraph: %s job: %w", h.NestingName(), err)
	}
	return nil
}

// Parents returns handles for every job h depends on, in dependency
// order.
func (h Handle) Parents(ctx context.Context) ([]Handle, error) {
	job, err := h.Job(ctx)
	if err != nil {
		return nil, err
	}
	parents := make([]Handle, len(job.DependsOn))
	for i, id := range job.DependsOn {
		parents[i] = Handle{graph: h.graph, id: id, depth: h.depth + 1}
	}
	return parents, nil
}

// Parent returns the first job h depends on. It is meant for 1:1
// stage links.
func (h Handle) Parent(ctx context.Context) (Handle, error) {
	parents, err := h.Parents(ctx)
	if err != nil {
		return Handle{}, err
	}
	if len(parents) == 0 {
		return Handle{}, fmt.Errorf("%s job %s: %w", h.NestingName(), h.id, ErrNoParent)
	}
	return parents[0], nil
}
