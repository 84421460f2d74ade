// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package devupstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// =============================================================================
// Interface Definition
// =============================================================================

// FrameWriter writes one streamed response frame at a time.
//
// # Description
//
// FrameWriter hides the wire framing from the handler. The SSE writer
// emits "data: {json}\n\n" events and ends with "data: [DONE]". The NDJSON
// writer emits one JSON record per line and has no terminator.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type FrameWriter interface {
	// WriteFrame serializes v and writes it as one frame, then flushes.
	WriteFrame(v any) error

	// Close writes the end-of-stream marker, if the framing has one.
	Close() error
}

// =============================================================================
// SSE
// =============================================================================

// sseWriter writes OpenAI-style Server-Sent Events.
//
// # Fields
//
//   - writer: Underlying http.ResponseWriter
//   - flusher: http.Flusher for immediate send
//   - mu: Mutex for thread-safe writes
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter creates a FrameWriter for text/event-stream responses.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - FrameWriter: Ready to write events.
//   - error: Non-nil if ResponseWriter doesn't support flushing.
//
// # Examples
//
//	SetSSEHeaders(w)
//	writer, err := NewSSEWriter(w)
//	if err != nil {
//	    http.Error(w, "Streaming not supported", http.StatusInternalServerError)
//	    return
//	}
//	writer.WriteFrame(chunk)
//	writer.Close()
func NewSSEWriter(w http.ResponseWriter) (FrameWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.writeData(string(data))
}

// Close writes the [DONE] sentinel.
func (w *sseWriter) Close() error {
	return w.writeData("[DONE]")
}

func (w *sseWriter) writeData(data string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteKeepAlive sends an SSE comment line. Clients ignore it.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the headers for an SSE response.
//
// Must be called before any data is written.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// NDJSON
// =============================================================================

type ndjsonWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewNDJSONWriter creates a FrameWriter for application/x-ndjson responses.
func NewNDJSONWriter(w http.ResponseWriter) (FrameWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &ndjsonWriter{writer: w, flusher: flusher}, nil
}

func (w *ndjsonWriter) WriteFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "%s\n", data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *ndjsonWriter) Close() error { return nil }

// SetNDJSONHeaders sets the headers for an NDJSON response.
func SetNDJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var (
	_ FrameWriter = (*sseWriter)(nil)
	_ FrameWriter = (*ndjsonWriter)(nil)
)
