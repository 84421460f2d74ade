// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history bounds the conversation sent upstream.
package history

import (
	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
)

// ApplyLimit trims messages to at most limit entries.
//
// # Description
//
// The first system message, wherever it appears, is pinned at index 0 of
// the result and later system messages are dropped, so a trimmed window
// holds exactly one. The remaining slots are filled with the most recent
// limit-1 non-system messages in their original order. Without a system
// message the result is simply the last limit messages.
//
// # Inputs
//
//   - messages: The conversation, oldest first. Not modified.
//   - limit: Maximum length. limit <= 0 disables trimming.
//
// # Outputs
//
//   - []datatypes.Message: A new slice. When no trimming is needed it has
//     the same content as messages.
//
// # Examples
//
//	ApplyLimit([S, u1, a1, u2, a2], 3) // [S, u2, a2]
//	ApplyLimit([u1, S, a1, u2], 2)     // [S, u2]
//	ApplyLimit([u1, a1, u2], 2)        // [a1, u2]
//	ApplyLimit([S1, u1, S2, u2], 3)    // [S1, u1, u2]
//
// # Limitations
//
//   - Input within the limit is returned as is, including any extra
//     system messages.
func ApplyLimit(messages []datatypes.Message, limit int) []datatypes.Message {
	if limit <= 0 || len(messages) <= limit {
		return datatypes.CloneMessages(messages)
	}

	systemIdx := -1
	for i, m := range messages {
		if m.Role == datatypes.RoleSystem {
			systemIdx = i
			break
		}
	}

	if systemIdx < 0 {
		return datatypes.CloneMessages(messages[len(messages)-limit:])
	}

	rest := make([]datatypes.Message, 0, len(messages)-1)
	for i, m := range messages {
		if i == systemIdx || m.Role == datatypes.RoleSystem {
			continue
		}
		rest = append(rest, m)
	}

	keep := limit - 1
	if keep > len(rest) {
		keep = len(rest)
	}

	out := make([]datatypes.Message, 0, keep+1)
	out = append(out, messages[systemIdx])
	out = append(out, rest[len(rest)-keep:]...)
	return out
}
