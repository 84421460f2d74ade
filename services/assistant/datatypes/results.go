// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// Guardrail Result
// =============================================================================

// DefaultBlockReason is surfaced when a guardrail denies a submission
// without giving a reason.
const DefaultBlockReason = "Message blocked by guardrail"

// GuardrailResult is the normalized outcome of a guardrail hook.
//
// # Description
//
// Built once per submission from whatever shape the hook returned and never
// mutated afterwards.
//
// # Fields
//
//   - Allow: false aborts the submission before any network call.
//   - Input: The user text to send, possibly rewritten by the hook.
//   - Messages: Explicit replacement for the conversation, or nil when the
//     hook did not override it.
//   - Reason: Why the hook blocked (optional).
//   - Metadata: Opaque hook data, passed through to the completion.
type GuardrailResult struct {
	Allow    bool      `json:"allow"`
	Input    string    `json:"input"`
	Messages []Message `json:"messages"`
	Reason   string    `json:"reason,omitempty"`
	Metadata any       `json:"metadata,omitempty"`
}

// BlockReason returns the reason to show the user when Allow is false.
func (g GuardrailResult) BlockReason() string {
	if g.Reason != "" {
		return g.Reason
	}
	return DefaultBlockReason
}

// HasOverride reports whether the guardrail replaced the conversation.
func (g GuardrailResult) HasOverride() bool {
	return g.Messages != nil
}

// =============================================================================
// Retrieval Result
// =============================================================================

// RetrievalResult is the normalized outcome of a retrieval hook.
//
// Messages is never nil once produced by the retrieval package; an empty
// slice means there is no context to inject.
type RetrievalResult struct {
	Messages []Message `json:"messages"`
	Metadata any       `json:"metadata,omitempty"`
}

// EmptyRetrieval returns a RetrievalResult with no messages.
func EmptyRetrieval() RetrievalResult {
	return RetrievalResult{Messages: []Message{}}
}

// IsEmpty reports whether the result carries no context messages.
func (r RetrievalResult) IsEmpty() bool {
	return len(r.Messages) == 0
}
