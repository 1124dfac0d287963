// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runtests

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/fleetcheck/lib/compliance"
)

func pairsFor(selector int64, devices ...int64) []Pair {
	pairs := make([]Pair, len(devices))
	for i, d := range devices {
		pairs[i] = Pair{SelectorID: selector, DeviceID: d}
	}
	return pairs
}

func TestPartitionNineDevicesFiveWorkers(t *testing.T) {
	got := Partition(pairsFor(1, 1, 2, 3, 4, 5, 6, 7, 8, 9), 9, 5)
	want := []compliance.WorkSlice{
		{1: {1, 9}},
		{1: {2, 8}},
		{1: {3, 7}},
		{1: {4, 6}},
		{1: {5}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Partition (-want +got):\n%s", diff)
	}
}

func TestPartitionKeepsSelectorGroupsTogether(t *testing.T) {
	pairs := append(pairsFor(1, 1, 2, 3), pairsFor(2, 2, 3, 4)...)
	got := Partition(pairs, 4, 2)
	// Batches of two: {1:[1 2]}, {1:[3] 2:[2]}, {2:[3 4]}. The last one
	// moves as a whole into the first.
	want := []compliance.WorkSlice{
		{1: {1, 2}, 2: {3, 4}},
		{1: {3}, 2: {2}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Partition (-want +got):\n%s", diff)
	}
}

func TestPartitionPadsWithEmptySlices(t *testing.T) {
	got := Partition(pairsFor(7, 10, 11), 2, 4)
	want := []compliance.WorkSlice{{7: {10}}, {7: {11}}, {}, {}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Partition (-want +got):\n%s", diff)
	}
	if got := Partition(nil, 0, 3); len(got) != 3 || got[0].Devices() != 0 {
		t.Errorf("Partition of no pairs = %v, want three empty slices", got)
	}
}

func TestPartitionCoversEveryPairOnce(t *testing.T) {
	var pairs []Pair
	for selector := int64(1); selector <= 4; selector++ {
		for device := selector; device <= 23; device += selector {
			pairs = append(pairs, Pair{SelectorID: selector, DeviceID: device})
		}
	}
	distinct := make(map[int64]bool)
	for _, pair := range pairs {
		distinct[pair.DeviceID] = true
	}

	for workers := 1; workers <= 12; workers++ {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			slices := Partition(pairs, len(distinct), workers)
			if len(slices) != workers {
				t.Fatalf("got %d slices, want %d", len(slices), workers)
			}
			seen := make(map[Pair]int)
			for _, slice := range slices {
				for selector, devices := range slice {
					for _, device := range devices {
						seen[Pair{SelectorID: selector, DeviceID: device}]++
					}
				}
			}
			if len(seen) != len(pairs) {
				t.Errorf("slices cover %d pairs, want %d", len(seen), len(pairs))
			}
			for pair, n := range seen {
				if n != 1 {
					t.Errorf("pair %+v assigned %d times", pair, n)
				}
			}
			// Deterministic for the same input.
			if diff := cmp.Diff(slices, Partition(pairs, len(distinct), workers)); diff != "" {
				t.Errorf("second Partition differs:\n%s", diff)
			}
		})
	}
}

func TestPartitionBalance(t *testing.T) {
	for selectors := int64(1); selectors <= 5; selectors++ {
		for devices := int64(1); devices <= 30; devices++ {
			var pairs []Pair
			for selector := int64(1); selector <= selectors; selector++ {
				// Later selectors match fewer devices.
				for device := int64(1); device <= devices/selector+1 && device <= devices; device++ {
					pairs = append(pairs, Pair{SelectorID: selector, DeviceID: device})
				}
			}
			for workers := 1; workers <= 12; workers++ {
				batch := max(int(devices)/workers, 1)
				slices := Partition(pairs, int(devices), workers)
				smallest, largest := len(pairs), 0
				for _, slice := range slices {
					size := 0
					for _, ids := range slice {
						size += len(ids)
					}
					smallest = min(smallest, size)
					largest = max(largest, size)
				}
				if largest-smallest > batch {
					t.Errorf("selectors=%d devices=%d workers=%d: slice sizes span %d..%d, more than one batch of %d",
						selectors, devices, workers, smallest, largest, batch)
				}
			}
		}
	}
}

func TestPartitionSpreadsSeveralLeftovers(t *testing.T) {
	// Two selectors over nine devices and five workers leave thirteen
	// single-pair candidates to dissolve into the first five.
	pairs := append(pairsFor(1, 1, 2, 3, 4, 5, 6, 7, 8, 9), pairsFor(2, 1, 2, 3, 4, 5, 6, 7, 8, 9)...)
	got := Partition(pairs, 9, 5)
	for i, slice := range got {
		if n := len(slice[1]) + len(slice[2]); n < 3 || n > 4 {
			t.Errorf("slice %d holds %d pairs, want 3 or 4: %v", i, n, slice)
		}
	}
}
