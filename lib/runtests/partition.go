// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runtests

import (
	"context"
	"fmt"
	"slices"

	"github.com/bureau-foundation/fleetcheck/lib/compliance"
	"github.com/bureau-foundation/fleetcheck/lib/store"
)

// Pair is one device a selector's tests run on.
type Pair struct {
	SelectorID int64
	DeviceID   int64
}

// Plan is the work a run covers: the selectors it runs, every
// (selector, device) pair in (selector id, device id) order, and the
// distinct devices those pairs name.
type Plan struct {
	Selectors []*compliance.Selector
	Pairs     []Pair
	Devices   []*compliance.Device
}

// BuildPlan resolves the run's selectors and their devices. A device
// is part of the run when some selected selector matches it and, if
// params.Devices is set, its id is listed there.
func BuildPlan(ctx context.Context, s *store.Store, params *Params) (*Plan, error) {
	all, err := s.Selectors(ctx)
	if err != nil {
		return nil, err
	}
	plan := &Plan{}
	for _, sel := range all {
		if len(params.Selectors) > 0 && !slices.Contains(params.Selectors, sel.ID) {
			continue
		}
		if len(params.TestTags) > 0 {
			tests, err := s.SelectorTests(ctx, sel, params.TestTags)
			if err != nil {
				return nil, err
			}
			if len(tests) == 0 {
				continue
			}
		}
		plan.Selectors = append(plan.Selectors, sel)
	}

	devices, err := s.Devices(ctx)
	if err != nil {
		return nil, err
	}
	inRun := make(map[int64]bool)
	for _, sel := range plan.Selectors {
		for _, d := range devices {
			if len(params.Devices) > 0 && !slices.Contains(params.Devices, d.ID) {
				continue
			}
			ok, err := sel.Filter.Matches(d)
			if err != nil {
				return nil, fmt.Errorf("selector %s: matching %s: %w", sel.Name, d.Name, err)
			}
			if !ok {
				continue
			}
			plan.Pairs = append(plan.Pairs, Pair{SelectorID: sel.ID, DeviceID: d.ID})
			inRun[d.ID] = true
		}
	}
	for _, d := range devices {
		if inRun[d.ID] {
			plan.Devices = append(plan.Devices, d)
		}
	}
	return plan, nil
}

// Partition splits pairs, ordered by (selector id, device id), into at
// most workers slices. devices is the number of distinct devices in
// the run; each worker gets about devices/workers pairs.
//
// Consecutive runs of devices/workers pairs (one pair when that is 0)
// become candidate slices. The first workers candidates are kept; every
// later one is dissolved, last first, and its selector groups, the
// highest selector first, go to the kept slices. A cursor that carries
// over between groups picks the first least-loaded slice at or after
// it, so groups land round-robin while loads are equal and the largest
// and smallest slice never differ by more than one batch. When fewer
// candidates than workers exist, empty slices fill the result up to
// workers.
func Partition(pairs []Pair, devices, workers int) []compliance.WorkSlice {
	if workers < 1 {
		workers = 1
	}
	batch := devices / workers
	if batch < 1 {
		batch = 1
	}

	var candidates []*bucket
	for start := 0; start < len(pairs); start += batch {
		b := &bucket{}
		for _, pair := range pairs[start:min(start+batch, len(pairs))] {
			b.add(pair.SelectorID, pair.DeviceID)
		}
		candidates = append(candidates, b)
	}

	keep := min(workers, len(candidates))
	cursor := 0
	for i := len(candidates) - 1; i >= keep; i-- {
		leftover := candidates[i]
		for j := len(leftover.order) - 1; j >= 0; j-- {
			selector := leftover.order[j]
			target := lightest(candidates[:keep], cursor)
			cursor = target + 1
			for _, device := range leftover.devices[selector] {
				candidates[target].add(selector, device)
			}
		}
	}
	candidates = candidates[:keep]

	result := make([]compliance.WorkSlice, workers)
	for i := range result {
		result[i] = compliance.WorkSlice{}
		if i < len(candidates) {
			for _, selector := range candidates[i].order {
				result[i][selector] = candidates[i].devices[selector]
			}
		}
	}
	return result
}

// lightest returns the index of the first bucket with the fewest pairs,
// scanning from cursor and wrapping around.
func lightest(buckets []*bucket, cursor int) int {
	best := cursor % len(buckets)
	for k := 1; k < len(buckets); k++ {
		i := (cursor + k) % len(buckets)
		if buckets[i].size < buckets[best].size {
			best = i
		}
	}
	return best
}

// bucket is a work slice that remembers the order selectors were added.
type bucket struct {
	order   []int64
	devices map[int64][]int64
	size    int
}

func (b *bucket) add(selector, device int64) {
	if b.devices == nil {
		b.devices = make(map[int64][]int64)
	}
	if _, ok := b.devices[selector]; !ok {
		b.order = append(b.order, selector)
	}
	b.devices[selector] = append(b.devices[selector], device)
	b.size++
}
