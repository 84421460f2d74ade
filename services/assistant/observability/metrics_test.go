// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Pipeline Metrics
// ============================================================================

func TestNewPipelineMetrics_Registers(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)
	require.NotNil(t, m)

	m.SubmissionStarted()
	m.RecordSubmission(OutcomeSuccess, time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "aleutian_assistant_submissions_total")
	assert.Contains(t, names, "aleutian_assistant_submission_duration_seconds")
	assert.Contains(t, names, "aleutian_assistant_active_submissions")
}

func TestNewPipelineMetrics_DuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewPipelineMetrics(reg)
	assert.Panics(t, func() { NewPipelineMetrics(reg) })
}

func TestPipelineMetrics_RecordSubmission(t *testing.T) {
	t.Parallel()

	m := NewPipelineMetrics(prometheus.NewRegistry())

	m.SubmissionStarted()
	m.SubmissionStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ActiveSubmissions))

	m.RecordSubmission(OutcomeSuccess, 50*time.Millisecond)
	m.RecordSubmission(OutcomeGuardrailBlocked, time.Millisecond)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveSubmissions))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("guardrail_blocked")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GuardrailBlocksTotal))
}

func TestPipelineMetrics_RecordFrame(t *testing.T) {
	t.Parallel()

	m := NewPipelineMetrics(prometheus.NewRegistry())

	m.RecordFrame("sse", "structured")
	m.RecordFrame("sse", "structured")
	m.RecordFrame("sse", "raw")
	m.RecordFrame("ndjson", "raw")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.StreamFramesTotal.WithLabelValues("sse", "structured")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StreamFramesTotal.WithLabelValues("sse", "raw")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RawFallbacksTotal.WithLabelValues("sse")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RawFallbacksTotal.WithLabelValues("ndjson")))
}

func TestPipelineMetrics_Histograms(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.RecordRetrieval(3)
	m.RecordFirstContent("ndjson", 200*time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(m.RetrievalMessages))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TimeToFirstContentSeconds))
}

func TestPipelineMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *PipelineMetrics
	assert.NotPanics(t, func() {
		m.SubmissionStarted()
		m.RecordSubmission(OutcomeTransportFailure, time.Second)
		m.RecordRetrieval(1)
		m.RecordFrame("sse", "raw")
		m.RecordFirstContent("sse", time.Second)
	})
}

// ============================================================================
// Server Metrics
// ============================================================================

func TestServerMetrics(t *testing.T) {
	t.Parallel()

	m := NewServerMetrics(prometheus.NewRegistry())

	m.StreamStarted("sse")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveStreams.WithLabelValues("sse")))
	m.StreamEnded("sse")
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveStreams.WithLabelValues("sse")))

	m.RecordRequest("json", true)
	m.RecordRequest("json", false)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("json", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("json", "error")))

	var nilMetrics *ServerMetrics
	assert.NotPanics(t, func() {
		nilMetrics.RecordRequest("sse", true)
		nilMetrics.StreamStarted("sse")
		nilMetrics.StreamEnded("sse")
	})
}
