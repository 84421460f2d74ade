// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream decodes incremental chat-completion responses.
//
// A response body arrives as arbitrary byte chunks. The decoder reassembles
// them into frames according to the wire framing (Server-Sent Events or
// newline-delimited JSON), interprets each frame, and republishes the
// growing assistant message after every frame that changes it.
//
// Framing only affects how frames are cut out of the buffer. Frame
// interpretation is shared by both framings (see Interpret).
package stream

import (
	"strings"
)

// Framing is the wire format of a streamed response body.
type Framing int

const (
	// FramingNone means the body is a single document and is not streamed.
	FramingNone Framing = iota
	// FramingSSE is text/event-stream: blank-line separated events with
	// data: lines.
	FramingSSE
	// FramingNDJSON is one JSON record per line.
	FramingNDJSON
)

// String returns a short name used in logs and metric labels.
func (f Framing) String() string {
	switch f {
	case FramingSSE:
		return "sse"
	case FramingNDJSON:
		return "ndjson"
	default:
		return "none"
	}
}

// DetectFraming chooses the framing from a Content-Type header value.
//
// "text/event-stream" or any value containing "stream" selects SSE. A value
// containing "ndjson" or "jsonl" selects NDJSON. Anything else, including
// an empty value, is FramingNone. Matching is case-insensitive.
//
// # Examples
//
//	DetectFraming("text/event-stream; charset=utf-8") // FramingSSE
//	DetectFraming("application/x-ndjson")            // FramingNDJSON
//	DetectFraming("application/json")                // FramingNone
func DetectFraming(contentType string) Framing {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case ct == "":
		return FramingNone
	case strings.HasPrefix(ct, "text/event-stream"), strings.Contains(ct, "stream"):
		return FramingSSE
	case strings.Contains(ct, "ndjson"), strings.Contains(ct, "jsonl"):
		return FramingNDJSON
	default:
		return FramingNone
	}
}

// SplitterFor returns the splitter for a framing, or nil for FramingNone.
func SplitterFor(f Framing) Splitter {
	switch f {
	case FramingSSE:
		return SSESplitter{}
	case FramingNDJSON:
		return NDJSONSplitter{}
	default:
		return nil
	}
}
