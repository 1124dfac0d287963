// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compliance

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

// BoolOperation joins the sub-filters of a Filter.
type BoolOperation string

const (
	And BoolOperation = "AND"
	Or  BoolOperation = "OR"
)

// DynamicPairs selects how a device's comparison partner is found.
type DynamicPairs string

const (
	// NoPairs disables dynamic pairs.
	NoPairs DynamicPairs = "NO"

	// PairByName pairs devices whose names differ only in the first
	// capture group of the selector's name filter.
	PairByName DynamicPairs = "NAME"

	// PairByTag pairs devices sharing a tag whose slug starts with the
	// selector's pair tag prefix.
	PairByTag DynamicPairs = "TAG"
)

// Filter picks devices. Each non-empty field contributes one condition
// per value: the name regex, every tag, every manufacturer and so on.
// Operation joins the conditions; a filter with no conditions matches
// every device.
type Filter struct {
	Operation     BoolOperation `json:"operation,omitempty" yaml:"operation"`
	Name          string        `json:"name,omitempty" yaml:"name"`
	Tags          []string      `json:"tags,omitempty" yaml:"tags"`
	Manufacturers []string      `json:"manufacturers,omitempty" yaml:"manufacturers"`
	DeviceTypes   []string      `json:"device_types,omitempty" yaml:"device_types"`
	Platforms     []string      `json:"platforms,omitempty" yaml:"platforms"`
	Status        string        `json:"status,omitempty" yaml:"status"`
	Locations     []string      `json:"locations,omitempty" yaml:"locations"`
	Sites         []string      `json:"sites,omitempty" yaml:"sites"`
}

const regexTimeout = time.Second

var regexCache sync.Map // pattern -> *regexp2.Regexp

// compileRegex compiles a Python-flavored pattern.
func compileRegex(pattern string) (*regexp2.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp2.Regexp), nil
	}
	re, err := regexp2.Compile(pattern, regexp2.RE2)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = regexTimeout
	regexCache.Store(pattern, re)
	return re, nil
}

// Validate checks the operation and compiles the name regex.
func (f *Filter) Validate() error {
	switch f.Operation {
	case "", And, Or:
	default:
		return fmt.Errorf("invalid filter operation %q", f.Operation)
	}
	if _, err := compileRegex(f.Name); err != nil {
		return fmt.Errorf("invalid name filter %q: %w", f.Name, err)
	}
	return nil
}

// Matches reports whether d satisfies the filter.
func (f *Filter) Matches(d *Device) (bool, error) {
	var conditions []bool
	if f.Name != "" {
		re, err := compileRegex(f.Name)
		if err != nil {
			return false, fmt.Errorf("name filter %q: %w", f.Name, err)
		}
		found, err := re.MatchString(d.Name)
		if err != nil {
			return false, fmt.Errorf("name filter %q: %w", f.Name, err)
		}
		conditions = append(conditions, found)
	}
	for _, tag := range f.Tags {
		conditions = append(conditions, d.HasTag(tag))
	}
	each := func(values []string, actual string) {
		for _, v := range values {
			conditions = append(conditions, v == actual)
		}
	}
	each(f.Manufacturers, d.Manufacturer)
	each(f.DeviceTypes, d.DeviceType)
	each(f.Platforms, d.Platform)
	if f.Status != "" {
		conditions = append(conditions, f.Status == d.Status)
	}
	each(f.Locations, d.Location)
	each(f.Sites, d.Site)

	if len(conditions) == 0 {
		return true, nil
	}
	if f.Operation == Or {
		for _, c := range conditions {
			if c {
				return true, nil
			}
		}
		return false, nil
	}
	for _, c := range conditions {
		if !c {
			return false, nil
		}
	}
	return true, nil
}

// Selector binds an ordered set of tests to the devices its filter
// matches.
type Selector struct {
	ID      int64   `json:"id" yaml:"id"`
	Name    string  `json:"name" yaml:"name"`
	Filter  Filter  `json:"filter" yaml:"filter"`
	TestIDs []int64 `json:"test_ids,omitempty" yaml:"-"`

	DynamicPairs DynamicPairs `json:"dynamic_pairs,omitempty" yaml:"dynamic_pairs"`

	// PairTagPrefix is the tag slug prefix PairByTag looks for.
	PairTagPrefix string `json:"pair_tag_prefix,omitempty" yaml:"pair_tag_prefix"`
}

// Validate checks the filter and the dynamic pair settings.
func (s *Selector) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("selector: name is required")
	}
	if err := s.Filter.Validate(); err != nil {
		return fmt.Errorf("selector %s: %w", s.Name, err)
	}
	switch s.DynamicPairs {
	case "", NoPairs:
	case PairByName:
		if FirstGroup(s.Filter.Name) == "" {
			return fmt.Errorf("selector %s: dynamic pairs by name need a capture group in the name filter", s.Name)
		}
	case PairByTag:
		if s.PairTagPrefix == "" {
			return fmt.Errorf("selector %s: dynamic pairs by tag need a tag prefix", s.Name)
		}
	default:
		return fmt.Errorf("selector %s: invalid dynamic pairs mode %q", s.Name, s.DynamicPairs)
	}
	return nil
}

// FirstGroup returns the text of the first capturing group in pattern,
// parentheses included, or "" when there is none. Non-capturing groups,
// escaped parentheses and parentheses inside character classes are
// skipped.
func FirstGroup(pattern string) string {
	open := -1
	brackets := 0
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		escaped := i > 0 && pattern[i-1] == '\\'
		if (c == '[' || c == ']') && !escaped {
			if c == '[' {
				brackets++
			} else {
				brackets--
			}
			continue
		}
		if brackets > 0 || escaped || (len(pattern)-i >= 3 && pattern[i:i+3] == "(?:") {
			continue
		}
		if c == '(' {
			open = i
		}
		if c == ')' && open != -1 {
			return pattern[open : i+1]
		}
	}
	return ""
}

// PairMatcher returns a predicate that accepts d's dynamic pair
// candidates, or nil when d cannot have a pair. Candidates must also
// match the selector's filter and differ from d; FindPair applies both.
func (s *Selector) PairMatcher(d *Device) (func(*Device) (bool, error), error) {
	switch s.DynamicPairs {
	case PairByName:
		if d.Name == "" {
			return nil, nil
		}
		group := FirstGroup(s.Filter.Name)
		if group == "" {
			return nil, nil
		}
		re, err := compileRegex(s.Filter.Name)
		if err != nil {
			return nil, err
		}
		m, err := re.FindStringMatch(d.Name)
		if err != nil || m == nil {
			return nil, err
		}
		g := m.GroupByNumber(1)
		if g == nil || len(g.Captures) == 0 {
			return nil, nil
		}
		runes := []rune(d.Name)
		pairPattern := string(runes[:g.Index]) + group + string(runes[g.Index+g.Length:])
		pairRe, err := compileRegex(pairPattern)
		if err != nil {
			return nil, fmt.Errorf("dynamic pair pattern %q: %w", pairPattern, err)
		}
		return func(candidate *Device) (bool, error) {
			return pairRe.MatchString(candidate.Name)
		}, nil
	case PairByTag:
		var prefixed []string
		for _, tag := range d.Tags {
			if strings.HasPrefix(tag, s.PairTagPrefix) {
				prefixed = append(prefixed, tag)
			}
		}
		if len(prefixed) == 0 {
			return nil, nil
		}
		return func(candidate *Device) (bool, error) {
			for _, tag := range prefixed {
				if candidate.HasTag(tag) {
					return true, nil
				}
			}
			return false, nil
		}, nil
	}
	return nil, nil
}

// FindPair returns the first device in candidates, which must be in
// ascending id order, that is d's dynamic pair. It returns nil when
// there is none.
func (s *Selector) FindPair(d *Device, candidates []*Device) (*Device, error) {
	matches, err := s.PairMatcher(d)
	if err != nil || matches == nil {
		return nil, err
	}
	for _, candidate := range candidates {
		if candidate.ID == d.ID {
			continue
		}
		ok, err := matches(candidate)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ok, err = s.Filter.Matches(candidate)
		if err != nil {
			return nil, err
		}
		if ok {
			return candidate, nil
		}
	}
	return nil, nil
}
