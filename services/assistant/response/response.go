// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package response reads the assistant message out of a non-streamed
// completion body.
package response

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianAssist/services/assistant/normalize"
)

// ExtractAssistantMessage finds the assistant message in a completion body.
//
// # Description
//
// The envelopes are tried in order:
//
//  1. choices[0].message (OpenAI chat completions)
//  2. message (Ollama /api/chat and similar)
//  3. {role: assistant, content: body.content}, with missing content as ""
//
// The chosen value goes through the normalizer with assistant as the
// default role, so structured content is flattened the same way as input.
//
// # Examples
//
//	ExtractAssistantMessage([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hi"}}]}`))
//	// {assistant, "Hi"}
//
//	ExtractAssistantMessage([]byte(`{"content":"plain"}`))
//	// {assistant, "plain"}
//
// # Limitations
//
//   - A body that is not a JSON object yields an empty assistant message.
func ExtractAssistantMessage(body json.RawMessage) datatypes.Message {
	parsed := gjson.ParseBytes(body)

	for _, path := range []string{"choices.0.message", "message"} {
		if v := parsed.Get(path); v.Exists() && v.Type != gjson.Null {
			if msg, ok := normalize.Normalize(v.Value(), datatypes.RoleAssistant, ""); ok {
				return msg
			}
		}
	}

	fallback := map[string]any{"role": string(datatypes.RoleAssistant), "content": ""}
	if content := parsed.Get("content"); content.Exists() && content.Type != gjson.Null {
		fallback["content"] = content.Value()
	}
	msg, _ := normalize.Normalize(fallback, datatypes.RoleAssistant, "")
	return msg
}
