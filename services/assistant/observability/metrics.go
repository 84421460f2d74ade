// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics for the assistant pipeline.
//
// # Description
//
// This package implements Prometheus metrics for monitoring submissions
// and the streamed responses they decode. Metrics include:
//   - Submission counters and durations by outcome
//   - Guardrail blocks and retrieval context sizes
//   - Stream frames by framing and kind, raw-text fallbacks
//   - Time to first streamed content
//
// A second, smaller set (ServerMetrics) instruments the dev upstream
// server that fakes a model endpoint.
//
// # Integration
//
// Metrics are registered on the Registerer passed to the constructor. Pass
// prometheus.DefaultRegisterer in binaries and a fresh prometheus.Registry
// in tests.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// A nil *PipelineMetrics or *ServerMetrics is a valid no-op recorder.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for pipeline metrics
const pipelineSubsystem = "assistant"

// Subsystem for dev upstream metrics
const upstreamSubsystem = "devupstream"

// Outcome labels how a submission ended.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeGuardrailBlocked  Outcome = "guardrail_blocked"
	OutcomeHookFailure       Outcome = "hook_failure"
	OutcomeTransportFailure  Outcome = "transport_failure"
	OutcomeStreamUnavailable Outcome = "stream_unavailable"
	OutcomeStreamFailure     Outcome = "stream_failure"
	OutcomeInvalidRequest    Outcome = "invalid_request"
)

// PipelineMetrics holds all Prometheus metrics for assistant submissions.
//
// # Description
//
// Initialize once per registry via NewPipelineMetrics and share it across
// pipelines; registering twice on the same registry panics.
//
// # Fields
//
//   - SubmissionsTotal: Counter of submissions by outcome
//   - SubmissionDurationSeconds: Histogram of submission wall time by outcome
//   - ActiveSubmissions: Gauge of submissions in flight
//   - GuardrailBlocksTotal: Counter of submissions a guardrail refused
//   - RetrievalMessages: Histogram of context messages injected per request
//   - StreamFramesTotal: Counter of interpreted frames by framing and kind
//   - RawFallbacksTotal: Counter of frames that were not JSON objects
//   - TimeToFirstContentSeconds: Histogram of latency to the first content
type PipelineMetrics struct {
	// SubmissionsTotal counts finished submissions.
	// Labels: outcome
	SubmissionsTotal *prometheus.CounterVec

	// SubmissionDurationSeconds measures submission wall time.
	// Labels: outcome
	SubmissionDurationSeconds *prometheus.HistogramVec

	// ActiveSubmissions tracks submissions currently running.
	ActiveSubmissions prometheus.Gauge

	// GuardrailBlocksTotal counts guardrail refusals.
	GuardrailBlocksTotal prometheus.Counter

	// RetrievalMessages observes the number of retrieval messages per request.
	RetrievalMessages prometheus.Histogram

	// StreamFramesTotal counts interpreted frames.
	// Labels: framing (sse, ndjson), kind (empty, done, structured, raw)
	StreamFramesTotal *prometheus.CounterVec

	// RawFallbacksTotal counts frames appended verbatim because they were
	// not structured.
	// Labels: framing
	RawFallbacksTotal *prometheus.CounterVec

	// TimeToFirstContentSeconds measures latency from submission to the
	// first published content.
	// Labels: framing
	TimeToFirstContentSeconds *prometheus.HistogramVec
}

// NewPipelineMetrics creates and registers the pipeline metrics.
//
// # Inputs
//
//   - reg: Where the collectors are registered. nil means do not register,
//     which keeps the collectors usable but invisible.
//
// # Outputs
//
//   - *PipelineMetrics: The initialized metrics instance.
//
// # Examples
//
//	metrics := observability.NewPipelineMetrics(prometheus.DefaultRegisterer)
//	p := pipeline.New(tr, pipeline.WithMetrics(metrics))
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)

	return &PipelineMetrics{
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "submissions_total",
				Help:      "Total number of submissions by outcome",
			},
			[]string{"outcome"},
		),

		SubmissionDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "submission_duration_seconds",
				Help:      "Submission wall time in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),

		ActiveSubmissions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_submissions",
				Help:      "Number of submissions currently in flight",
			},
		),

		GuardrailBlocksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "guardrail_blocks_total",
				Help:      "Total submissions refused by a guardrail",
			},
		),

		RetrievalMessages: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "retrieval_context_messages",
				Help:      "Retrieval context messages injected per request",
				Buckets:   []float64{0, 1, 2, 4, 8, 16},
			},
		),

		StreamFramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stream_frames_total",
				Help:      "Total stream frames interpreted by framing and kind",
			},
			[]string{"framing", "kind"},
		),

		RawFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stream_raw_fallbacks_total",
				Help:      "Total stream frames treated as literal text",
			},
			[]string{"framing"},
		),

		TimeToFirstContentSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "time_to_first_content_seconds",
				Help:      "Time from submission to first streamed content in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"framing"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// SubmissionStarted increments the in-flight gauge.
func (m *PipelineMetrics) SubmissionStarted() {
	if m == nil {
		return
	}
	m.ActiveSubmissions.Inc()
}

// RecordSubmission records a finished submission and decrements the
// in-flight gauge.
//
// # Inputs
//
//   - outcome: How the submission ended.
//   - elapsed: Wall time since SubmissionStarted.
func (m *PipelineMetrics) RecordSubmission(outcome Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ActiveSubmissions.Dec()
	m.SubmissionsTotal.WithLabelValues(string(outcome)).Inc()
	m.SubmissionDurationSeconds.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	if outcome == OutcomeGuardrailBlocked {
		m.GuardrailBlocksTotal.Inc()
	}
}

// RecordRetrieval records how many context messages retrieval produced.
func (m *PipelineMetrics) RecordRetrieval(messages int) {
	if m == nil {
		return
	}
	m.RetrievalMessages.Observe(float64(messages))
}

// RecordFrame records one interpreted stream frame.
//
// # Inputs
//
//   - framing: "sse" or "ndjson".
//   - kind: "empty", "done", "structured" or "raw".
func (m *PipelineMetrics) RecordFrame(framing, kind string) {
	if m == nil {
		return
	}
	m.StreamFramesTotal.WithLabelValues(framing, kind).Inc()
	if kind == "raw" {
		m.RawFallbacksTotal.WithLabelValues(framing).Inc()
	}
}

// RecordFirstContent records the latency to the first streamed content.
func (m *PipelineMetrics) RecordFirstContent(framing string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstContentSeconds.WithLabelValues(framing).Observe(elapsed.Seconds())
}

// =============================================================================
// Dev Upstream Metrics
// =============================================================================

// ServerMetrics instruments the dev upstream server.
//
// # Fields
//
//   - RequestsTotal: Counter of completion requests by mode and status
//   - ActiveStreams: Gauge of responses currently being streamed
type ServerMetrics struct {
	// Labels: mode (sse, ndjson, json), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// Labels: mode
	ActiveStreams *prometheus.GaugeVec
}

// NewServerMetrics creates and registers the dev upstream metrics.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	factory := promauto.With(reg)

	return &ServerMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: upstreamSubsystem,
				Name:      "requests_total",
				Help:      "Total completion requests by response mode and status",
			},
			[]string{"mode", "status"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: upstreamSubsystem,
				Name:      "active_streams",
				Help:      "Number of responses currently being streamed",
			},
			[]string{"mode"},
		),
	}
}

// RecordRequest records a completed request.
func (m *ServerMetrics) RecordRequest(mode string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(mode, status).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *ServerMetrics) StreamStarted(mode string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(mode).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *ServerMetrics) StreamEnded(mode string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(mode).Dec()
}
