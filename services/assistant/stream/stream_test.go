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
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
)

// chunkReader returns one preset chunk per Read call.
type chunkReader struct {
	chunks [][]byte
	err    error
}

func newChunkReader(chunks ...string) *chunkReader {
	r := &chunkReader{}
	for _, c := range chunks {
		r.chunks = append(r.chunks, []byte(c))
	}
	return r
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

type recorder struct {
	published []datatypes.PendingMessage
}

func (r *recorder) publish(p datatypes.PendingMessage) {
	r.published = append(r.published, p)
}

func (r *recorder) streaming() int {
	n := 0
	for _, p := range r.published {
		if p.Streaming() {
			n++
		}
	}
	return n
}

func (r *recorder) finals() int {
	return len(r.published) - r.streaming()
}

// =============================================================================
// Framing
// =============================================================================

func TestDetectFraming(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		want        Framing
	}{
		{"text/event-stream", FramingSSE},
		{"text/event-stream; charset=utf-8", FramingSSE},
		{"TEXT/EVENT-STREAM", FramingSSE},
		{"application/octet-stream", FramingSSE},
		{"application/x-ndjson", FramingNDJSON},
		{"application/jsonl", FramingNDJSON},
		{"application/json", FramingNone},
		{"", FramingNone},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DetectFraming(tt.contentType))
		})
	}
}

func TestNewDecoder_RejectsNone(t *testing.T) {
	t.Parallel()

	_, err := NewDecoder(FramingNone)
	assert.Error(t, err)
}

// =============================================================================
// Splitters
// =============================================================================

func TestNDJSONSplitter(t *testing.T) {
	t.Parallel()

	frames, remainder := NDJSONSplitter{}.Split("{\"content\":\"a\"}\n{\"content\":\"b\"}\nincomple")
	assert.Equal(t, []string{`{"content":"a"}`, `{"content":"b"}`}, frames)
	assert.Equal(t, "incomple", remainder)
}

func TestNDJSONSplitter_SkipsBlankLines(t *testing.T) {
	t.Parallel()

	frames, remainder := NDJSONSplitter{}.Split("  \n{\"a\":1}  \n\n")
	assert.Equal(t, []string{`{"a":1}`}, frames)
	assert.Equal(t, "", remainder)
}

func TestSSESplitter(t *testing.T) {
	t.Parallel()

	buffer := ": ping\n\n" +
		"event: message\nid: 7\ndata: {\"a\":1}\n\n" +
		"data: line one\ndata: line two\n\n" +
		"data:nospace\n\n" +
		"data: {\"partial\""

	frames, remainder := SSESplitter{}.Split(buffer)
	assert.Equal(t, []string{`{"a":1}`, "line one\nline two", "nospace"}, frames)
	assert.Equal(t, `data: {"partial"`, remainder)
}

func TestSSESplitter_KeepsUnprefixedLines(t *testing.T) {
	t.Parallel()

	frames, _ := SSESplitter{}.Split("just text\n\n")
	assert.Equal(t, []string{"just text"}, frames)
}

// =============================================================================
// Interpret
// =============================================================================

func TestInterpret(t *testing.T) {
	t.Parallel()

	ex := DefaultExtraction()

	t.Run("delta appends", func(t *testing.T) {
		t.Parallel()
		s := &State{Content: "He"}
		changed := Interpret(s, `{"choices":[{"delta":{"content":"llo"}}]}`, ex)
		assert.True(t, changed)
		assert.Equal(t, "Hello", s.Content)
		assert.True(t, s.SawContent)
		assert.NotNil(t, s.Payload)
	})

	t.Run("message replaces", func(t *testing.T) {
		t.Parallel()
		s := &State{Content: "draft"}
		changed := Interpret(s, `{"choices":[{"message":{"content":"final"}}]}`, ex)
		assert.True(t, changed)
		assert.Equal(t, "final", s.Content)
	})

	t.Run("aggregate appends", func(t *testing.T) {
		t.Parallel()
		s := &State{Content: "a"}
		assert.True(t, Interpret(s, `{"content":"b"}`, ex))
		assert.Equal(t, "ab", s.Content)
	})

	t.Run("delta beats aggregate", func(t *testing.T) {
		t.Parallel()
		s := &State{}
		Interpret(s, `{"choices":[{"delta":{"content":"d"}}],"content":"agg"}`, ex)
		assert.Equal(t, "d", s.Content)
	})

	t.Run("non-string delta is ignored", func(t *testing.T) {
		t.Parallel()
		s := &State{}
		assert.False(t, Interpret(s, `{"choices":[{"delta":{"content":null}}]}`, ex))
		assert.Equal(t, "", s.Content)
		assert.False(t, s.SawContent)
		assert.NotNil(t, s.Payload, "object frame still becomes the latest payload")
	})

	t.Run("malformed frame is text", func(t *testing.T) {
		t.Parallel()
		s := &State{Content: "x "}
		assert.True(t, Interpret(s, "plain delta", ex))
		assert.Equal(t, "x plain delta", s.Content)
		assert.Nil(t, s.Payload)
	})

	t.Run("truncated JSON is text", func(t *testing.T) {
		t.Parallel()
		s := &State{}
		Interpret(s, `{"choices":[`, ex)
		assert.Equal(t, `{"choices":[`, s.Content)
	})

	t.Run("JSON scalar is text", func(t *testing.T) {
		t.Parallel()
		s := &State{}
		Interpret(s, `42`, ex)
		assert.Equal(t, "42", s.Content)
		assert.Nil(t, s.Payload)
	})

	t.Run("done and empty are ignored", func(t *testing.T) {
		t.Parallel()
		s := &State{}
		assert.False(t, Interpret(s, "[DONE]", ex))
		assert.False(t, Interpret(s, "   ", ex))
		assert.Equal(t, "", s.Content)
		assert.False(t, s.SawContent)
	})

	t.Run("ollama extraction", func(t *testing.T) {
		t.Parallel()
		s := &State{}
		Interpret(s, `{"model":"llama3","message":{"role":"assistant","content":"Hi"},"done":false}`, OllamaExtraction())
		assert.Equal(t, "Hi", s.Content)
	})
}

// =============================================================================
// Decoder
// =============================================================================

func TestDecode_SSEAccumulation(t *testing.T) {
	t.Parallel()

	body := newChunkReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n",
		"data: [DONE]\n\n",
	)
	dec, err := NewDecoder(FramingSSE)
	require.NoError(t, err)

	rec := &recorder{}
	res, err := dec.Decode(context.Background(), body, rec.publish)
	require.NoError(t, err)

	assert.Equal(t, "Hello", res.AssistantMessage.Content)
	assert.Equal(t, datatypes.RoleAssistant, res.AssistantMessage.Role)
	assert.Equal(t, 2, rec.streaming(), "one streaming publish per content frame")
	assert.Equal(t, 1, rec.finals(), "exactly one final publish")

	require.Len(t, rec.published, 3)
	assert.Equal(t, "Hel", rec.published[0].Message.Content)
	assert.Equal(t, "Hello", rec.published[1].Message.Content)
	assert.True(t, rec.published[2].IsFinal)
	assert.Equal(t, "Hello", rec.published[2].Message.Content)

	assert.Equal(t, "lo", gjson.GetBytes(res.Data, "choices.0.delta.content").String(),
		"data is the latest structured frame")
	assert.Equal(t, 1, res.Frames[FrameDone])
}

func TestDecode_FramesSplitAcrossChunks(t *testing.T) {
	t.Parallel()

	full := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n"

	dec, err := NewDecoder(FramingSSE, WithChunkSize(3))
	require.NoError(t, err)

	rec := &recorder{}
	res, err := dec.Decode(context.Background(), strings.NewReader(full), rec.publish)
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.AssistantMessage.Content)
	assert.Equal(t, 2, rec.streaming())
}

func TestDecode_CRLF(t *testing.T) {
	t.Parallel()

	body := newChunkReader("data: {\"content\":\"a\"}\r", "\n\r\ndata: {\"content\":\"b\"}\r\n\r\n")
	dec, err := NewDecoder(FramingSSE)
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), body, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", res.AssistantMessage.Content)
}

func TestDecode_MultiByteRuneSplitAcrossChunks(t *testing.T) {
	t.Parallel()

	euro := "€" // 3 bytes
	raw := "{\"content\":\"" + euro + "\"}\n"
	cut := strings.Index(raw, euro) + 1

	body := newChunkReader(raw[:cut], raw[cut:])
	dec, err := NewDecoder(FramingNDJSON)
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), body, nil)
	require.NoError(t, err)
	assert.Equal(t, euro, res.AssistantMessage.Content)
}

func TestDecode_NDJSONFlushesTrailingRecord(t *testing.T) {
	t.Parallel()

	body := newChunkReader("{\"content\":\"a\"}\n{\"content\":\"b\"}\n{\"content\":\"c\"}")
	dec, err := NewDecoder(FramingNDJSON)
	require.NoError(t, err)

	rec := &recorder{}
	res, err := dec.Decode(context.Background(), body, rec.publish)
	require.NoError(t, err)
	assert.Equal(t, "abc", res.AssistantMessage.Content)
	assert.Equal(t, 3, rec.streaming(), "the flushed record publishes too")
	assert.Equal(t, 1, rec.finals())
}

func TestDecode_SSEFlushesUnterminatedEvent(t *testing.T) {
	t.Parallel()

	body := newChunkReader("data: {\"content\":\"a\"}\n\ndata: {\"content\":\"b\"}")
	dec, err := NewDecoder(FramingSSE)
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), body, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", res.AssistantMessage.Content)
}

func TestDecode_MalformedFrameResilience(t *testing.T) {
	t.Parallel()

	body := newChunkReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"A \"}}]}\n\n",
		"data: plain delta\n\n",
	)
	var kinds []FrameKind
	dec, err := NewDecoder(FramingSSE, WithFrameObserver(func(k FrameKind) { kinds = append(kinds, k) }))
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), body, nil)
	require.NoError(t, err)
	assert.Equal(t, "A plain delta", res.AssistantMessage.Content)
	assert.Equal(t, []FrameKind{FrameStructured, FrameRaw}, kinds)
}

func TestDecode_SynthesizesEnvelopeForTextOnlyStream(t *testing.T) {
	t.Parallel()

	dec, err := NewDecoder(FramingNDJSON)
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), strings.NewReader("one\ntwo\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "onetwo", res.AssistantMessage.Content)
	require.NotNil(t, res.Data)
	assert.Equal(t, "onetwo", gjson.GetBytes(res.Data, "choices.0.message.content").String())
	assert.Equal(t, "assistant", gjson.GetBytes(res.Data, "choices.0.message.role").String())
}

func TestDecode_EmptyStream(t *testing.T) {
	t.Parallel()

	dec, err := NewDecoder(FramingSSE)
	require.NoError(t, err)

	rec := &recorder{}
	res, err := dec.Decode(context.Background(), strings.NewReader(""), rec.publish)
	require.NoError(t, err)
	assert.Nil(t, res.Data)
	assert.Equal(t, "", res.AssistantMessage.Content)
	assert.Equal(t, 1, rec.finals(), "the final publish happens even without content")
}

func TestDecode_NilBody(t *testing.T) {
	t.Parallel()

	dec, err := NewDecoder(FramingSSE)
	require.NoError(t, err)

	_, err = dec.Decode(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrStreamUnavailable)
	assert.Equal(t, "Failed to process streaming response", err.Error())
}

func TestDecode_ReadError(t *testing.T) {
	t.Parallel()

	body := newChunkReader("data: {\"content\":\"a\"}\n\n")
	body.err = errors.New("connection reset")

	dec, err := NewDecoder(FramingSSE)
	require.NoError(t, err)

	rec := &recorder{}
	_, err = dec.Decode(context.Background(), body, rec.publish)
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, 0, rec.finals(), "no final publish after a read error")
}

// cancelingReader cancels the context after handing out its first chunk.
type cancelingReader struct {
	inner  io.Reader
	cancel context.CancelFunc
	reads  int
}

func (r *cancelingReader) Read(p []byte) (int, error) {
	r.reads++
	n, err := r.inner.Read(p)
	if r.reads == 1 {
		r.cancel()
	}
	return n, err
}

func TestDecode_CancellationStopsStream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	body := &cancelingReader{
		inner: newChunkReader(
			"data: {\"content\":\"a\"}\n\n",
			"data: {\"content\":\"b\"}\n\n",
		),
		cancel: cancel,
	}

	dec, err := NewDecoder(FramingSSE)
	require.NoError(t, err)

	rec := &recorder{}
	_, err = dec.Decode(ctx, body, rec.publish)
	require.ErrorIs(t, err, ErrStreamCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, body.reads, "no read after cancellation")
	assert.Equal(t, 1, rec.streaming(), "the chunk read before cancel is still interpreted")
	assert.Equal(t, 0, rec.finals(), "no final publish on cancel")
}

func TestCompleteRunes(t *testing.T) {
	t.Parallel()

	b := []byte("a€")
	text, carry := completeRunes(nil, b[:2])
	assert.Equal(t, "a", text)
	assert.Equal(t, b[1:2], carry)

	text, carry = completeRunes(carry, b[2:])
	assert.Equal(t, "€", text)
	assert.Nil(t, carry)
}
