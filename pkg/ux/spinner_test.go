// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
)

// syncBuffer guards a bytes.Buffer written by the animation goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner_StyledAnimatesAndClears(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	s := NewSpinner(&Output{w: &buf, styled: true}, "Thinking")
	s.interval = time.Millisecond

	s.Start()
	s.Start()
	assert.True(t, s.Running())

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "Thinking")
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.False(t, s.Running())
	assert.True(t, strings.HasSuffix(buf.String(), "\r\033[K"))
}

func TestSpinner_PlainIsSilent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewSpinner(NewPlainOutput(&buf), "Thinking")
	s.Start()
	assert.False(t, s.Running())
	s.Stop()
	assert.Empty(t, buf.String())
}

func TestTerminalSink_FirstPublishStopsSpinner(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	sink := NewTerminalSink(&Output{w: &buf, styled: true})
	sink.Wait("Thinking")
	require.NotNil(t, sink.spinner)

	sink.Progress(nil, datatypes.PendingMessage{Message: datatypes.NewMessage(datatypes.RoleAssistant, "Hi")})
	assert.Nil(t, sink.spinner)
	assert.Contains(t, buf.String(), "\r\033[K")
	assert.Contains(t, buf.String(), "Hi")

	sink.Idle()
}

func TestTerminalSink_IdleWithoutPublish(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewTerminalSink(NewPlainOutput(&buf))
	sink.Wait("Thinking")
	sink.Idle()
	sink.Idle()
	assert.Nil(t, sink.spinner)
	assert.Empty(t, buf.String())
}
