// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/fleetcheck/lib/compliance"
)

func TestLogAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	when := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, id := range []int64{7, 8} {
		// Reopen each time: the file is shared by separate processes.
		sink, err := OpenLog(path, nil)
		if err != nil {
			t.Fatalf("OpenLog: %v", err)
		}
		err = sink.ReportCreated(context.Background(), ReportCreated{
			ReportID: id,
			RunID:    "run-" + string(rune('a'+id-7)),
			Stats:    compliance.ReportStats{Passed: 3, Total: 4},
			Time:     when,
		})
		if err != nil {
			t.Fatalf("ReportCreated: %v", err)
		}
		if err := sink.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	var events []ReportCreated
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event ReportCreated
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("parsing line %q: %v", scanner.Text(), err)
		}
		events = append(events, event)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != "report_created" || events[0].ReportID != 7 || events[1].RunID != "run-b" {
		t.Errorf("events = %+v", events)
	}
	if events[1].Stats.Passed != 3 || !events[1].Time.Equal(when) {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestDiscard(t *testing.T) {
	if err := Discard.ReportCreated(context.Background(), ReportCreated{ReportID: 1}); err != nil {
		t.Errorf("Discard: %v", err)
	}
}
