// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package request

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianAssist/services/assistant/normalize"
)

// userKeys are checked in order when deriving the end-user identifier.
var userKeys = []string{"userId", "id", "email"}

// Params holds everything Build needs.
type Params struct {
	ContextMessages []datatypes.Message
	History         []datatypes.Message
	Model           string
	Temperature     float64
	TopP            float64
	UserContext     any
	Stream          bool
}

// Build produces the outbound payload. It has no side effects.
//
// # Description
//
// Messages are the context messages followed by the history, each
// projected to {role, content}. The user field comes from the first
// non-null of userId, id or email in the user context and is left out when
// none yields a non-empty string.
//
// # Examples
//
//	req := Build(Params{
//	    History:     []datatypes.Message{{Role: datatypes.RoleUser, Content: "hi"}},
//	    Model:       "gpt-4o-mini",
//	    Temperature: 0.7,
//	    TopP:        1,
//	    UserContext: map[string]any{"id": 42},
//	})
//	// req.User == "42"
func Build(p Params) datatypes.OutboundRequest {
	messages := make([]datatypes.WireMessage, 0, len(p.ContextMessages)+len(p.History))
	for _, m := range p.ContextMessages {
		messages = append(messages, datatypes.WireMessage{Role: m.Role, Content: m.Content})
	}
	for _, m := range p.History {
		messages = append(messages, datatypes.WireMessage{Role: m.Role, Content: m.Content})
	}

	return datatypes.OutboundRequest{
		Model:       p.Model,
		Messages:    messages,
		Temperature: p.Temperature,
		TopP:        p.TopP,
		User:        ResolveUser(p.UserContext),
		Stream:      p.Stream,
	}
}

// ResolveUser derives the end-user identifier from user context.
//
// Only objects are inspected. The first of userId, id, email that is
// present and non-null wins; its stringified value is returned when
// non-empty.
func ResolveUser(userContext any) string {
	obj, ok := normalize.AsObject(userContext)
	if !ok {
		return ""
	}
	for _, key := range userKeys {
		v, present := obj[key]
		if !present || v == nil {
			continue
		}
		return normalize.ExtractContent(v, "")
	}
	return ""
}

// ToOpenAI converts an outbound payload into a go-openai request, for
// callers that talk to the upstream through that client instead of a
// Transport.
func ToOpenAI(req datatypes.OutboundRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role.String(),
			Content: m.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		User:        req.User,
		Stream:      req.Stream,
	}
}
