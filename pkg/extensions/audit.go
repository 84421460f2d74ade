// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable audit trail for assistant
// submissions.
//
// The open source build ships three loggers: NopAuditLogger (discard),
// SlogAuditLogger (structured log records) and MemoryAuditLogger (bounded
// in-process buffer with Query support). Deployments that need a SIEM or
// compliance store implement AuditLogger themselves.
package extensions

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Event types.
const (
	EventSubmission = "chat.submission"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeBlocked = "blocked"
	OutcomeError   = "error"
)

// AuditEvent is one audited action.
//
// # Description
//
// The pipeline emits one EventSubmission per finished submission. Events
// never carry message content, only metadata about the turn.
//
// # Examples
//
//	event := AuditEvent{
//	    EventType:    extensions.EventSubmission,
//	    UserID:       "u-1",
//	    Action:       "send",
//	    ResourceType: "submission",
//	    ResourceID:   submissionID,
//	    Outcome:      extensions.OutcomeBlocked,
//	    Metadata:     map[string]any{"model": "llama3.2"},
//	}
type AuditEvent struct {
	// EventType is "category.action", e.g. "chat.submission".
	EventType string `json:"event_type"`

	// Timestamp is set to time.Now().UTC() by the loggers when zero.
	Timestamp time.Time `json:"timestamp"`

	// UserID is the caller, or "anonymous".
	UserID string `json:"user_id"`

	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`

	// Outcome is OutcomeSuccess, OutcomeBlocked or OutcomeError.
	Outcome string `json:"outcome"`

	// Metadata holds event-specific details such as "model",
	// "duration_ms" and "error_kind".
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AuditFilter selects events in Query. Zero fields do not filter; set
// fields are combined with AND.
type AuditFilter struct {
	EventTypes []string
	UserID     string
	Outcome    string
	StartTime  time.Time // inclusive
	EndTime    time.Time // exclusive
	Limit      int
}

func (f AuditFilter) matches(e AuditEvent) bool {
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	if f.UserID != "" && f.UserID != e.UserID {
		return false
	}
	if f.Outcome != "" && f.Outcome != e.Outcome {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && !e.Timestamp.Before(f.EndTime) {
		return false
	}
	return true
}

// AuditLogger records audit events.
//
// Implementations must be safe for concurrent use. Log is called on the
// submitting goroutine after the turn finished, so it should return
// quickly.
type AuditLogger interface {
	// Log records an event. A zero Timestamp is filled in.
	Log(ctx context.Context, event AuditEvent) error

	// Query returns matching events, newest first. Loggers that do not
	// store events return an empty slice.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush persists buffered events.
	Flush(ctx context.Context) error
}

func stamp(event *AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}

// =============================================================================
// NopAuditLogger
// =============================================================================

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

// Query returns an empty slice.
func (l *NopAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush is a no-op.
func (l *NopAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// =============================================================================
// SlogAuditLogger
// =============================================================================

// SlogAuditLogger writes each event as an Info record named "Audit event"
// with an "audit" group. When the logger has a file handler the events end
// up in the JSON log file.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates a SlogAuditLogger. nil means slog.Default().
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger}
}

// Log writes the event.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	stamp(&event)
	l.logger.LogAttrs(ctx, slog.LevelInfo, "Audit event",
		slog.Group("audit",
			slog.String("event_type", event.EventType),
			slog.Time("timestamp", event.Timestamp),
			slog.String("user_id", event.UserID),
			slog.String("action", event.Action),
			slog.String("resource_type", event.ResourceType),
			slog.String("resource_id", event.ResourceID),
			slog.String("outcome", event.Outcome),
			slog.Any("metadata", event.Metadata),
		),
	)
	return nil
}

// Query returns an empty slice; records are not kept.
func (l *SlogAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush is a no-op; the log file is synced by the logger's Close.
func (l *SlogAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// =============================================================================
// MemoryAuditLogger
// =============================================================================

// MemoryAuditLogger keeps the most recent events in memory.
//
// # Limitations
//
//   - Holds at most capacity events; older ones are dropped.
//   - Lost on exit.
type MemoryAuditLogger struct {
	mu       sync.Mutex
	events   []AuditEvent
	capacity int
}

// NewMemoryAuditLogger creates a logger holding up to capacity events.
// capacity <= 0 means 1000.
func NewMemoryAuditLogger(capacity int) *MemoryAuditLogger {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryAuditLogger{capacity: capacity}
}

// Log appends the event, dropping the oldest when full.
func (l *MemoryAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	stamp(&event)

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) == l.capacity {
		l.events = slices.Delete(l.events, 0, 1)
	}
	l.events = append(l.events, event)
	return nil
}

// Query returns matching events, newest first.
func (l *MemoryAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := []AuditEvent{}
	for i := len(l.events) - 1; i >= 0; i-- {
		if !filter.matches(l.events[i]) {
			continue
		}
		out = append(out, l.events[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Flush is a no-op.
func (l *MemoryAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// Compile-time interface checks.
var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
