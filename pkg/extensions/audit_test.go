// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopAuditLogger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := &NopAuditLogger{}
	assert.NoError(t, l.Log(ctx, AuditEvent{EventType: EventSubmission}))
	events, err := l.Query(ctx, AuditFilter{})
	assert.NoError(t, err)
	assert.Empty(t, events)
	assert.NotNil(t, events)
	assert.NoError(t, l.Flush(ctx))
}

func TestSlogAuditLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewSlogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := l.Log(context.Background(), AuditEvent{
		EventType:    EventSubmission,
		UserID:       "u-1",
		Action:       "send",
		ResourceType: "submission",
		ResourceID:   "sub-1",
		Outcome:      OutcomeBlocked,
		Metadata:     map[string]any{"model": "llama3.2"},
	})
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "Audit event", record["msg"])

	audit, ok := record["audit"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "chat.submission", audit["event_type"])
	assert.Equal(t, "u-1", audit["user_id"])
	assert.Equal(t, "blocked", audit["outcome"])
	assert.NotEmpty(t, audit["timestamp"])
	assert.Equal(t, map[string]any{"model": "llama3.2"}, audit["metadata"])
}

func TestMemoryAuditLogger_QueryNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewMemoryAuditLogger(10)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, outcome := range []string{OutcomeSuccess, OutcomeBlocked, OutcomeSuccess, OutcomeError} {
		require.NoError(t, l.Log(ctx, AuditEvent{
			EventType:  EventSubmission,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			UserID:     "u-1",
			ResourceID: string(rune('a' + i)),
			Outcome:    outcome,
		}))
	}
	require.NoError(t, l.Log(ctx, AuditEvent{EventType: "system.start", UserID: "system"}))

	tests := []struct {
		name   string
		filter AuditFilter
		want   []string
	}{
		{name: "submissions", filter: AuditFilter{EventTypes: []string{EventSubmission}}, want: []string{"d", "c", "b", "a"}},
		{name: "outcome", filter: AuditFilter{Outcome: OutcomeSuccess}, want: []string{"c", "a"}},
		{name: "limit", filter: AuditFilter{EventTypes: []string{EventSubmission}, Limit: 2}, want: []string{"d", "c"}},
		{
			name:   "time window",
			filter: AuditFilter{UserID: "u-1", StartTime: base.Add(time.Minute), EndTime: base.Add(3 * time.Minute)},
			want:   []string{"c", "b"},
		},
		{name: "user", filter: AuditFilter{UserID: "nobody"}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			events, err := l.Query(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(events))
			for _, e := range events {
				ids = append(ids, e.ResourceID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMemoryAuditLogger_Capacity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewMemoryAuditLogger(2)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.Log(ctx, AuditEvent{ResourceID: id}))
	}

	events, err := l.Query(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "c", events[0].ResourceID)
	assert.Equal(t, "b", events[1].ResourceID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestNewMemoryAuditLogger_DefaultCapacity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1000, NewMemoryAuditLogger(0).capacity)
}
