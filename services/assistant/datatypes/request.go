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

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// requestValidate is the validator instance for outbound payloads.
var requestValidate = validator.New()

// =============================================================================
// Outbound Request
// =============================================================================

// WireMessage is the minimal {role, content} projection sent upstream.
type WireMessage struct {
	Role    Role   `json:"role" validate:"required"`
	Content string `json:"content"`
}

// OutboundRequest is the chat-completion payload sent to the model endpoint.
//
// # Description
//
// Built fresh for every submission by the request package and treated as
// immutable once sent. The shape follows the OpenAI chat-completions API so
// the same payload works against OpenAI-compatible gateways.
//
// # Fields
//
//   - Model: Model identifier. Required.
//   - Messages: Context messages followed by the windowed history.
//   - Temperature: Sampling temperature, 0-2.
//   - TopP: Nucleus sampling mass, 0-1.
//   - User: End-user identifier, omitted when unknown.
//   - Stream: Ask the upstream for an incremental response.
//
// # Examples
//
//	req := OutboundRequest{
//	    Model:       "gpt-4o-mini",
//	    Messages:    []WireMessage{{Role: RoleUser, Content: "Hello"}},
//	    Temperature: 0.7,
//	    TopP:        1,
//	    Stream:      true,
//	}
type OutboundRequest struct {
	Model       string        `json:"model" validate:"required"`
	Messages    []WireMessage `json:"messages" validate:"required,min=1,dive"`
	Temperature float64       `json:"temperature" validate:"gte=0,lte=2"`
	TopP        float64       `json:"top_p" validate:"gte=0,lte=1"`
	User        string        `json:"user,omitempty"`
	Stream      bool          `json:"stream"`
}

// Validate checks the request against its struct tags.
//
// # Outputs
//
//   - error: validator.ValidationErrors describing the first failing
//     fields, or nil.
func (r *OutboundRequest) Validate() error {
	return requestValidate.Struct(r)
}

// Marshal serializes the request body.
func (r *OutboundRequest) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// =============================================================================
// Completion
// =============================================================================

// Completion is delivered to the completion callback once per successful
// submission.
//
// # Fields
//
//   - SubmissionID: Identifier generated for the submission (UUID v4).
//   - Data: The latest structured payload from the stream, a synthesized
//     envelope, or the non-streamed response body. May be nil.
//   - Request: The payload that was sent.
//   - AssistantMessage: The final assistant message appended to history.
//   - RAG: Retrieval output used for the request.
//   - Guardrail: Guardrail outcome for the submission.
type Completion struct {
	SubmissionID     string          `json:"submission_id"`
	Data             json.RawMessage `json:"data,omitempty"`
	Request          OutboundRequest `json:"request"`
	AssistantMessage Message         `json:"assistant_message"`
	RAG              RetrievalResult `json:"rag"`
	Guardrail        GuardrailResult `json:"guardrail"`
}
