// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bureau-foundation/fleetcheck/lib/compliance"
	"github.com/bureau-foundation/fleetcheck/lib/store"
)

// selectorIDs resolves selector names to ids.
func selectorIDs(ctx context.Context, s *store.Store, names []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	selectors, err := s.Selectors(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int64, len(selectors))
	for _, sel := range selectors {
		byName[sel.Name] = sel.ID
	}
	return resolveNames("selector", names, byName)
}

// deviceIDs resolves device names to ids.
func deviceIDs(ctx context.Context, s *store.Store, names []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	devices, err := s.Devices(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int64, len(devices))
	for _, d := range devices {
		byName[d.Name] = d.ID
	}
	return resolveNames("device", names, byName)
}

// deviceByName returns the device called name.
func deviceByName(ctx context.Context, s *store.Store, name string) (*compliance.Device, error) {
	devices, err := s.Devices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("unknown device %q", name)
}

func resolveNames(kind string, names []string, byName map[string]int64) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	var unknown []string
	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		ids = append(ids, id)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown %s(s): %s", kind, strings.Join(unknown, ", "))
	}
	return ids, nil
}
