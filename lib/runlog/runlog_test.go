// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runlog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/fleetcheck/lib/clock"
)

func TestLoggerRecordsAndMirrors(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	var mirror bytes.Buffer
	logger := New("split", fake, slog.New(slog.NewTextHandler(&mirror, &slog.HandlerOptions{Level: slog.LevelDebug})))

	logger.Info("partitioned %d devices", 9)
	fake.Advance(time.Second)
	logger.Failure("sync of %s failed", "lab")

	messages := logger.Messages()
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if messages[0].Status != Info || messages[0].Message != "partitioned 9 devices" || messages[0].ScriptID != "split" {
		t.Errorf("messages[0] = %+v", messages[0])
	}
	if !messages[1].Time.Equal(time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)) {
		t.Errorf("messages[1].Time = %v", messages[1].Time)
	}
	if !strings.Contains(mirror.String(), "level=ERROR") || !strings.Contains(mirror.String(), "script=split") {
		t.Errorf("slog mirror missing expected fields:\n%s", mirror.String())
	}
}

func TestMessageJSON(t *testing.T) {
	msg := Message{
		Status:   Warning,
		Message:  "device skipped",
		Time:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ScriptID: "apply-2",
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"status":"warning","message":"apply-2: device skipped","time":"2026-03-01T12:00:00Z","scriptId":"apply-2"}`
	if string(data) != want {
		t.Fatalf("JSON = %s\nwant   %s", data, want)
	}

	msg.ScriptID = ""
	data, _ = json.Marshal(msg)
	if strings.Contains(string(data), "scriptId") {
		t.Fatalf("empty script id should be omitted: %s", data)
	}
}

func TestConcat(t *testing.T) {
	a := []Message{{Message: "a"}}
	b := []Message{{Message: "b"}, {Message: "c"}}
	got := Concat(a, nil, b)
	if len(got) != 3 || got[0].Message != "a" || got[2].Message != "c" {
		t.Fatalf("Concat = %+v", got)
	}
}
