// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the data structures shared by the assistant
// request pipeline.
//
// This file contains the canonical chat message and the wrapper used to
// publish an in-progress assistant message. For guardrail and retrieval
// results see results.go; for the outbound payload see request.go.
package datatypes

import (
	openai "github.com/sashabaranov/go-openai"
)

// =============================================================================
// Roles
// =============================================================================

// Role identifies the author of a chat message.
//
// The pipeline accepts any role string supplied by a caller, but the four
// constants below are the ones it produces itself.
type Role string

const (
	// RoleSystem marks instructional or context messages.
	RoleSystem Role = openai.ChatMessageRoleSystem

	// RoleUser marks messages typed by the end user.
	RoleUser Role = openai.ChatMessageRoleUser

	// RoleAssistant marks messages produced by the model.
	RoleAssistant Role = openai.ChatMessageRoleAssistant

	// RoleTool marks tool output messages.
	RoleTool Role = openai.ChatMessageRoleTool
)

// String returns the role as a plain string.
func (r Role) String() string {
	return string(r)
}

// =============================================================================
// Message Types
// =============================================================================

// Message is the canonical chat message used throughout the pipeline.
//
// # Description
//
// Content is always a single flattened string. Structured inputs (content
// part arrays, objects with a text field) are flattened by the normalize
// package before they become a Message.
//
// # Fields
//
//   - Role: Author of the message. Required on the wire.
//   - Content: Flattened text. Never "unset"; an absent value becomes the
//     caller's fallback content (default "").
type Message struct {
	Role    Role   `json:"role" validate:"required"`
	Content string `json:"content"`
}

// NewMessage creates a Message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// ContentPart is one element of a structured message content array.
//
// Only Text contributes to the flattened content. Type is carried so that
// callers can pass OpenAI-style parts ({"type":"text","text":"..."})
// without converting them first.
type ContentPart struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// PendingMessage wraps an assistant message that is being published to a
// progress sink.
//
// # Description
//
// While a response streams, the pipeline republishes the growing assistant
// message with IsFinal=false. After the stream ends it publishes once more
// with IsFinal=true. Keeping the flag on a wrapper means the Message type
// that is sent over the wire never carries bookkeeping fields.
type PendingMessage struct {
	Message Message `json:"message"`
	IsFinal bool    `json:"is_final"`
}

// Streaming reports whether the message is still being streamed.
func (p PendingMessage) Streaming() bool {
	return !p.IsFinal
}

// CloneMessages returns a copy of the given slice.
//
// Message holds only value fields, so a shallow copy is a full copy.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
