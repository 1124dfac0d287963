// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compliance

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFilterMatches(t *testing.T) {
	device := &Device{
		ID:           1,
		Name:         "spine-01",
		Status:       "active",
		Platform:     "eos",
		Manufacturer: "arista",
		Site:         "ams1",
		Tags:         []string{"prod", "dc"},
	}
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty matches everything", Filter{}, true},
		{"name regex searches", Filter{Name: `\d+$`}, true},
		{"name regex miss", Filter{Name: `^leaf`}, false},
		{"and of all tags", Filter{Tags: []string{"prod", "dc"}}, true},
		{"and needs every tag", Filter{Tags: []string{"prod", "lab"}}, false},
		{"or needs one tag", Filter{Operation: Or, Tags: []string{"prod", "lab"}}, true},
		{"and across fields", Filter{Name: "spine", Manufacturers: []string{"arista"}, Status: "active"}, true},
		{"and with wrong site", Filter{Manufacturers: []string{"arista"}, Sites: []string{"fra1"}}, false},
		{"or with wrong site", Filter{Operation: Or, Manufacturers: []string{"juniper"}, Sites: []string{"ams1"}}, true},
		{"or all wrong", Filter{Operation: Or, Platforms: []string{"junos"}, Status: "planned"}, false},
		{"two manufacturers under and", Filter{Manufacturers: []string{"arista", "juniper"}}, false},
	}
	for _, test := range tests {
		got, err := test.filter.Matches(device)
		if err != nil {
			t.Fatalf("%s: Matches: %v", test.name, err)
		}
		if got != test.want {
			t.Errorf("%s: Matches = %v, want %v", test.name, got, test.want)
		}
	}
}

func TestFilterValidate(t *testing.T) {
	if err := (&Filter{Name: "("}).Validate(); err == nil {
		t.Error("Validate accepted an invalid regex")
	}
	if err := (&Filter{Operation: "XOR"}).Validate(); err == nil {
		t.Error("Validate accepted operation XOR")
	}
	if err := (&Filter{Name: `(?P<num>\d+)`}).Validate(); err != nil {
		t.Errorf("Validate rejected a Python named group: %v", err)
	}
}

func TestFirstGroup(t *testing.T) {
	tests := map[string]string{
		`^(core|edge)-\d+$`:        "(core|edge)",
		`^(?:dc1|dc2)-(a|b)`:       "(a|b)",
		`\(x\)-(\d)`:               `(\d)`,
		`[(]literal[)]-(y)`:        "(y)",
		`no-groups`:                "",
		`((outer)inner)`:           "(outer)",
		`^(?P<side>left|right)-sw`: "(?P<side>left|right)",
	}
	for pattern, want := range tests {
		if got := FirstGroup(pattern); got != want {
			t.Errorf("FirstGroup(%q) = %q, want %q", pattern, got, want)
		}
	}
}

func TestFindPairByName(t *testing.T) {
	selector := &Selector{
		Name:         "routers",
		Filter:       Filter{Name: `^(core|edge)-router-\d+$`},
		DynamicPairs: PairByName,
	}
	if err := selector.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	devices := []*Device{
		{ID: 1, Name: "core-router-1"},
		{ID: 2, Name: "edge-router-1"},
		{ID: 3, Name: "edge-router-2"},
		{ID: 4, Name: "other-router-2"},
	}
	pair, err := selector.FindPair(devices[0], devices)
	if err != nil {
		t.Fatalf("FindPair: %v", err)
	}
	if pair == nil || pair.ID != 2 {
		t.Fatalf("pair of core-router-1 = %v, want edge-router-1", pair)
	}
	pair, err = selector.FindPair(devices[2], devices)
	if err != nil {
		t.Fatalf("FindPair: %v", err)
	}
	if pair != nil {
		t.Fatalf("pair of edge-router-2 = %v, want none", pair)
	}
}

func TestFindPairByTag(t *testing.T) {
	selector := &Selector{
		Name:          "clusters",
		DynamicPairs:  PairByTag,
		PairTagPrefix: "pair-",
		Filter:        Filter{Tags: []string{"fw"}},
	}
	devices := []*Device{
		{ID: 1, Name: "fw-a", Tags: []string{"fw", "pair-1"}},
		{ID: 2, Name: "fw-b", Tags: []string{"pair-1"}},
		{ID: 3, Name: "fw-c", Tags: []string{"fw", "pair-1"}},
		{ID: 4, Name: "fw-d", Tags: []string{"fw"}},
	}
	// fw-b shares the tag but fails the selector filter.
	pair, err := selector.FindPair(devices[0], devices)
	if err != nil {
		t.Fatalf("FindPair: %v", err)
	}
	if pair == nil || pair.ID != 3 {
		t.Fatalf("pair of fw-a = %v, want fw-c", pair)
	}
	if pair, _ := selector.FindPair(devices[3], devices); pair != nil {
		t.Fatalf("device without a pair tag got pair %v", pair)
	}
}

func TestSelectorValidate(t *testing.T) {
	bad := []Selector{
		{Name: ""},
		{Name: "s", DynamicPairs: PairByName, Filter: Filter{Name: "no-group"}},
		{Name: "s", DynamicPairs: PairByTag},
		{Name: "s", DynamicPairs: "SOMETIMES"},
	}
	for _, s := range bad {
		if err := s.Validate(); err == nil {
			t.Errorf("Validate(%+v) succeeded", s)
		}
	}
}

func TestTestValidate(t *testing.T) {
	valid := Test{Name: "mtu", Expression: "config['mtu'] == 9000", Severity: SeverityHigh}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, test := range []Test{
		{Name: "severity", Expression: "True", Severity: "CRITICAL"},
		{Name: "syntax", Expression: "1 +", Severity: SeverityLow},
		{Name: "statement", Expression: "x = 1", Severity: SeverityLow},
	} {
		if err := test.Validate(); err == nil {
			t.Errorf("Validate(%s) succeeded", test.Name)
		}
	}
}

func TestResultRatioAdd(t *testing.T) {
	a := TestResultRatio{Passed: 1, Total: 3}
	b := TestResultRatio{Passed: 4, Total: 4}
	c := TestResultRatio{Passed: 0, Total: 2}
	if a.Add(b).Add(c) != a.Add(b.Add(c)) {
		t.Error("Add is not associative")
	}
	if a.Add(b) != b.Add(a) {
		t.Error("Add is not commutative")
	}
	if got := a.Add(b).Add(c); got != (TestResultRatio{Passed: 5, Total: 9}) || got.String() != "5/9" {
		t.Errorf("sum = %v", got)
	}
}

func TestWorkSlice(t *testing.T) {
	slice := WorkSlice{7: {1, 2}, 3: {4}, 5: nil}
	if diff := cmp.Diff([]int64{3, 5, 7}, slice.SelectorIDs()); diff != "" {
		t.Errorf("SelectorIDs mismatch (-want +got):\n%s", diff)
	}
	if slice.Devices() != 3 {
		t.Errorf("Devices = %d, want 3", slice.Devices())
	}
}

func TestTestHasAnyTag(t *testing.T) {
	test := Test{Tags: []string{"bgp", "security"}}
	if !test.HasAnyTag(nil) || !test.HasAnyTag([]string{"ntp", "bgp"}) || test.HasAnyTag([]string{"ntp"}) {
		t.Error("HasAnyTag mismatch")
	}
}
