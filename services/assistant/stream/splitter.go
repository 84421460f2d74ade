// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"strings"
)

// Splitter cuts complete frames out of a text buffer.
//
// # Description
//
// Split returns every complete frame in buffer, in order, and the trailing
// text that is not yet a complete frame. The remainder must be fed back in,
// prefixed to the next chunk. Appending Terminator to a buffer forces its
// last partial frame to be complete, which is how the decoder flushes at
// end of stream.
//
// Implementations must be stateless.
type Splitter interface {
	Split(buffer string) (frames []string, remainder string)
	Terminator() string
}

var (
	_ Splitter = SSESplitter{}
	_ Splitter = NDJSONSplitter{}
)

// =============================================================================
// Server-Sent Events
// =============================================================================

// SSESplitter splits text/event-stream bodies.
//
// Events are separated by a blank line. Within an event, "data:" lines
// contribute their value (one optional leading space removed). Comment
// lines starting with ":" and the event, id and retry fields are dropped.
// Other lines are kept as is so that loosely formatted upstreams still
// produce text. The lines are joined with "\n" and trimmed.
type SSESplitter struct{}

// Terminator returns the event separator.
func (SSESplitter) Terminator() string { return "\n\n" }

// Split implements Splitter.
func (SSESplitter) Split(buffer string) ([]string, string) {
	segments := strings.Split(buffer, "\n\n")
	remainder := segments[len(segments)-1]
	segments = segments[:len(segments)-1]

	frames := make([]string, 0, len(segments))
	for _, seg := range segments {
		frame := sseEventData(seg)
		if frame == "" {
			continue
		}
		frames = append(frames, frame)
	}
	return frames, remainder
}

func sseEventData(segment string) string {
	lines := strings.Split(segment, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(line, "data:")
			kept = append(kept, strings.TrimPrefix(value, " "))
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case isSSEField(line):
			// event metadata
		default:
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isSSEField(line string) bool {
	for _, field := range []string{"event:", "id:", "retry:"} {
		if strings.HasPrefix(line, field) {
			return true
		}
	}
	return line == "event" || line == "id" || line == "retry"
}

// =============================================================================
// Newline-delimited JSON
// =============================================================================

// NDJSONSplitter splits newline-delimited bodies. Every complete line that
// is not blank after trimming is a frame.
type NDJSONSplitter struct{}

// Terminator returns the record separator.
func (NDJSONSplitter) Terminator() string { return "\n" }

// Split implements Splitter.
func (NDJSONSplitter) Split(buffer string) ([]string, string) {
	lines := strings.Split(buffer, "\n")
	remainder := lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	frames := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			frames = append(frames, trimmed)
		}
	}
	return frames, remainder
}
