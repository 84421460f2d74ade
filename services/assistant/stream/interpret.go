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
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// DoneSentinel is the informational end marker some upstreams send as a
// final frame. It is ignored; the stream ends when the body does.
const DoneSentinel = "[DONE]"

// Extraction names the gjson paths read from structured frames.
//
// # Fields
//
//   - DeltaPath: Incremental text, appended. Default "choices.0.delta.content".
//   - ReplacePath: Full message text, replaces what was accumulated.
//     Default "choices.0.message.content".
//   - AggregatePath: Top-level text, appended when no delta is present.
//     Default "content".
//
// An empty path is skipped.
type Extraction struct {
	DeltaPath     string `yaml:"delta_path"`
	ReplacePath   string `yaml:"replace_path"`
	AggregatePath string `yaml:"aggregate_path"`
}

// DefaultExtraction reads OpenAI-style chunks and simple {"content": ...}
// records.
func DefaultExtraction() Extraction {
	return Extraction{
		DeltaPath:     "choices.0.delta.content",
		ReplacePath:   "choices.0.message.content",
		AggregatePath: "content",
	}
}

// OllamaExtraction reads Ollama /api/chat NDJSON records, where each line
// carries the next piece of text in message.content.
func OllamaExtraction() Extraction {
	return Extraction{
		DeltaPath:     "message.content",
		ReplacePath:   "",
		AggregatePath: "response",
	}
}

// FrameKind classifies an interpreted frame.
type FrameKind string

const (
	FrameEmpty      FrameKind = "empty"
	FrameDone       FrameKind = "done"
	FrameStructured FrameKind = "structured"
	FrameRaw        FrameKind = "raw"
)

// State is the mutable decode state. It is owned by one Decode call.
type State struct {
	// Buffer holds text that has not yet formed a complete frame.
	Buffer string
	// Content is the assistant text accumulated so far.
	Content string
	// Payload is the most recent structured frame, or nil.
	Payload json.RawMessage
	// SawContent is set once any frame contributed text.
	SawContent bool
}

// Interpret applies one frame to state and reports whether Content
// changed.
//
// # Description
//
// Empty frames and the [DONE] sentinel are ignored. A frame that parses as
// a JSON object becomes the latest payload; its text is taken from the
// delta path (appended), else the replace path (replacing), else the
// aggregate path (appended). Only string values count. Any other frame,
// including valid JSON that is not an object, is appended verbatim.
//
// Interpret never fails: malformed frames degrade to text.
func Interpret(state *State, frame string, ex Extraction) bool {
	_, changed := interpret(state, frame, ex)
	return changed
}

func interpret(state *State, frame string, ex Extraction) (FrameKind, bool) {
	text := strings.TrimSpace(frame)
	if text == "" {
		return FrameEmpty, false
	}
	if text == DoneSentinel {
		return FrameDone, false
	}

	if !gjson.Valid(text) {
		return FrameRaw, appendContent(state, text)
	}
	parsed := gjson.Parse(text)
	if !parsed.IsObject() {
		return FrameRaw, appendContent(state, text)
	}

	state.Payload = json.RawMessage(text)

	if delta, ok := stringAt(parsed, ex.DeltaPath); ok {
		return FrameStructured, appendContent(state, delta)
	}
	if full, ok := stringAt(parsed, ex.ReplacePath); ok {
		state.SawContent = true
		changed := state.Content != full
		state.Content = full
		return FrameStructured, changed
	}
	if agg, ok := stringAt(parsed, ex.AggregatePath); ok {
		return FrameStructured, appendContent(state, agg)
	}
	return FrameStructured, false
}

func appendContent(state *State, text string) bool {
	state.SawContent = true
	if text == "" {
		return false
	}
	state.Content += text
	return true
}

func stringAt(parsed gjson.Result, path string) (string, bool) {
	if path == "" {
		return "", false
	}
	v := parsed.Get(path)
	if v.Type != gjson.String {
		return "", false
	}
	return v.Str, true
}
