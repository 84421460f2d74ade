// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"sync"

	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
)

// Conversation is an in-memory, windowed message history.
//
// # Description
//
// Every mutation re-applies the window so the stored history never grows
// past Limit. Snapshots are copies; callers may modify them freely.
//
// # Thread Safety
//
// Safe for concurrent use.
//
// # Limitations
//
//   - Not persisted. A new process starts from the initial messages.
type Conversation struct {
	mu       sync.RWMutex
	messages []datatypes.Message
	limit    int
}

// NewConversation creates a Conversation seeded with initial messages.
//
// The initial messages are windowed immediately.
func NewConversation(limit int, initial ...datatypes.Message) *Conversation {
	return &Conversation{
		messages: ApplyLimit(initial, limit),
		limit:    limit,
	}
}

// Limit returns the configured window size.
func (c *Conversation) Limit() int {
	return c.limit
}

// Snapshot returns a copy of the current history.
func (c *Conversation) Snapshot() []datatypes.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return datatypes.CloneMessages(c.messages)
}

// Len returns the number of stored messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Replace swaps the whole history, windowed, and returns the stored copy.
func (c *Conversation) Replace(messages []datatypes.Message) []datatypes.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = ApplyLimit(messages, c.limit)
	return datatypes.CloneMessages(c.messages)
}

// Append adds messages to the end, windows the result, and returns the
// stored copy.
func (c *Conversation) Append(messages ...datatypes.Message) []datatypes.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make([]datatypes.Message, 0, len(c.messages)+len(messages))
	next = append(next, c.messages...)
	next = append(next, messages...)
	c.messages = ApplyLimit(next, c.limit)
	return datatypes.CloneMessages(c.messages)
}
