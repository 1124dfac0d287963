// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cron parses 5-field cron expressions for recurring test runs.
//
// Fields are minute, hour, day of month, month and day of week. Each
// field accepts "*", "N", "N-M", comma lists, and "/step" on either a
// wildcard or a range. The macros @hourly, @daily, @weekly and @monthly
// are accepted. When both day fields are restricted a day matches if
// either one does, as in Vixie cron. All times are computed in UTC.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression.
type Schedule struct {
	expression string

	minute, hour, dayOfMonth, month, dayOfWeek uint64

	// dayOfMonthAny and dayOfWeekAny record "*" in the day fields.
	dayOfMonthAny, dayOfWeekAny bool
}

var macros = map[string]string{
	"@hourly":  "0 * * * *",
	"@daily":   "0 0 * * *",
	"@weekly":  "0 0 * * 0",
	"@monthly": "0 0 1 * *",
}

type fieldSpec struct {
	name     string
	min, max int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Parse parses expression.
func Parse(expression string) (*Schedule, error) {
	text := strings.TrimSpace(expression)
	if expanded, ok := macros[text]; ok {
		text = expanded
	}
	fields := strings.Fields(text)
	if len(fields) != len(fieldSpecs) {
		return nil, fmt.Errorf("cron: %q: expected 5 fields, got %d", expression, len(fields))
	}

	var sets [5]uint64
	for i, field := range fields {
		set, err := parseField(field, fieldSpecs[i])
		if err != nil {
			return nil, fmt.Errorf("cron: %q: %s field: %w", expression, fieldSpecs[i].name, err)
		}
		sets[i] = set
	}

	return &Schedule{
		expression:    expression,
		minute:        sets[0],
		hour:          sets[1],
		dayOfMonth:    sets[2],
		month:         sets[3],
		dayOfWeek:     sets[4],
		dayOfMonthAny: fields[2] == "*",
		dayOfWeekAny:  fields[4] == "*",
	}, nil
}

// String returns the expression Parse was given.
func (s *Schedule) String() string { return s.expression }

// Next returns the first matching minute strictly after t. It fails
// for expressions that never match within four years (February 30).
func (s *Schedule) Next(t time.Time) (time.Time, error) {
	candidate := t.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := candidate.AddDate(4, 0, 0)

	for candidate.Before(limit) {
		switch {
		case !has(s.month, int(candidate.Month())):
			candidate = time.Date(candidate.Year(), candidate.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		case !s.dayMatches(candidate):
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day()+1, 0, 0, 0, 0, time.UTC)
		case !has(s.hour, candidate.Hour()):
			candidate = candidate.Truncate(time.Hour).Add(time.Hour)
		case !has(s.minute, candidate.Minute()):
			candidate = candidate.Add(time.Minute)
		default:
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("cron: %q has no match within four years of %s", s.expression, t.UTC().Format(time.RFC3339))
}

func (s *Schedule) dayMatches(t time.Time) bool {
	byMonth := has(s.dayOfMonth, t.Day())
	byWeek := has(s.dayOfWeek, int(t.Weekday()))
	if s.dayOfMonthAny || s.dayOfWeekAny {
		return byMonth && byWeek
	}
	return byMonth || byWeek
}

func has(set uint64, value int) bool { return set&(1<<uint(value)) != 0 }

func parseField(field string, spec fieldSpec) (uint64, error) {
	var set uint64
	for _, term := range strings.Split(field, ",") {
		low, high, step, err := parseTerm(term, spec)
		if err != nil {
			return 0, err
		}
		for value := low; value <= high; value += step {
			set |= 1 << uint(value)
		}
	}
	return set, nil
}

func parseTerm(term string, spec fieldSpec) (low, high, step int, err error) {
	step = 1
	rangePart, stepPart, stepped := strings.Cut(term, "/")
	if stepped {
		step, err = strconv.Atoi(stepPart)
		if err != nil || step <= 0 {
			return 0, 0, 0, fmt.Errorf("invalid step %q", stepPart)
		}
	}

	switch {
	case rangePart == "*":
		low, high = spec.min, spec.max
	case strings.Contains(rangePart, "-"):
		first, last, _ := strings.Cut(rangePart, "-")
		if low, err = strconv.Atoi(first); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range start %q", first)
		}
		if high, err = strconv.Atoi(last); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range end %q", last)
		}
		if low > high {
			return 0, 0, 0, fmt.Errorf("range %d-%d is reversed", low, high)
		}
	default:
		if low, err = strconv.Atoi(rangePart); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid value %q", rangePart)
		}
		high = low
		if stepped {
			high = spec.max
		}
	}

	if low < spec.min || high > spec.max {
		return 0, 0, 0, fmt.Errorf("%d-%d outside [%d-%d]", low, high, spec.min, spec.max)
	}
	return low, high, step, nil
}
