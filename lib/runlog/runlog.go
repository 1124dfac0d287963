// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package runlog records the messages a test run shows its operator.
//
// Each pipeline stage collects [Message] values in a [Logger] and hands
// them downstream in its job result; the combine stage concatenates the
// logs of every stage into the run record. Every message is mirrored to
// the process slog logger as it is recorded.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/fleetcheck/lib/clock"
)

// Status is the severity of a run log message.
type Status string

const (
	Debug   Status = "debug"
	Info    Status = "info"
	Warning Status = "warning"
	Failure Status = "failure"
	Success Status = "success"
)

func (s Status) level() slog.Level {
	switch s {
	case Debug:
		return slog.LevelDebug
	case Warning:
		return slog.LevelWarn
	case Failure:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Message is one run log line. ScriptID names the stage that wrote it
// when the log is a concatenation of several stages.
type Message struct {
	Status   Status    `json:"status"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
	ScriptID string    `json:"scriptId,omitempty"`
}

// MarshalJSON renders the wire shape: time as RFC 3339 and the message
// prefixed with the script id.
func (m Message) MarshalJSON() ([]byte, error) {
	text := m.Message
	if m.ScriptID != "" {
		text = m.ScriptID + ": " + text
	}
	return json.Marshal(struct {
		Status   Status `json:"status"`
		Message  string `json:"message"`
		Time     string `json:"time"`
		ScriptID string `json:"scriptId,omitempty"`
	}{m.Status, text, m.Time.Format(time.RFC3339), m.ScriptID})
}

// Logger accumulates messages for one stage. It is safe for concurrent
// use.
type Logger struct {
	scriptID string
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	messages []Message
}

// New returns a Logger whose messages carry scriptID. A nil logger
// discards the slog mirror.
func New(scriptID string, clk clock.Clock, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Logger{scriptID: scriptID, clock: clk, logger: logger.With("script", scriptID)}
}

// Log records a message. args are slog attributes for the mirror only.
func (l *Logger) Log(status Status, message string, args ...any) {
	msg := Message{Status: status, Message: message, Time: l.clock.Now().UTC(), ScriptID: l.scriptID}
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
	l.logger.Log(context.Background(), status.level(), message, args...)
}

func (l *Logger) Debug(format string, args ...any) { l.Log(Debug, fmt.Sprintf(format, args...)) }

func (l *Logger) Info(format string, args ...any) { l.Log(Info, fmt.Sprintf(format, args...)) }

func (l *Logger) Warning(format string, args ...any) { l.Log(Warning, fmt.Sprintf(format, args...)) }

func (l *Logger) Failure(format string, args ...any) { l.Log(Failure, fmt.Sprintf(format, args...)) }

func (l *Logger) Success(format string, args ...any) { l.Log(Success, fmt.Sprintf(format, args...)) }

// Messages returns a copy of the recorded messages in order.
func (l *Logger) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.messages...)
}

// Concat joins stage logs in the given order.
func Concat(logs ...[]Message) []Message {
	n := 0
	for _, log := range logs {
		n += len(log)
	}
	out := make([]Message, 0, n)
	for _, log := range logs {
		out = append(out, log...)
	}
	return out
}
