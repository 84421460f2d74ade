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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
)

var tracer = otel.Tracer("aleutian.assistant.stream")

// DefaultChunkSize is the read buffer size used by Decode.
const DefaultChunkSize = 4096

var (
	// ErrStreamUnavailable means a streaming response had no readable body.
	ErrStreamUnavailable = errors.New("Failed to process streaming response")

	// ErrStreamCanceled means the context was canceled mid-stream. No final
	// message is published when this is returned.
	ErrStreamCanceled = errors.New("stream canceled")
)

// Result is what a completed decode produces.
//
// # Fields
//
//   - Data: The latest structured frame. When no frame was structured but
//     text arrived, an OpenAI-style chat.completion envelope wrapping the
//     text. Nil when the stream carried nothing.
//   - AssistantMessage: The final assistant message.
//   - Frames: Number of frames interpreted, by kind.
type Result struct {
	Data             json.RawMessage
	AssistantMessage datatypes.Message
	Frames           map[FrameKind]int
}

// Publisher receives the in-progress assistant message.
type Publisher func(datatypes.PendingMessage)

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithExtraction overrides the gjson paths used on structured frames.
func WithExtraction(ex Extraction) DecoderOption {
	return func(d *Decoder) { d.extraction = ex }
}

// WithChunkSize sets the read buffer size.
func WithChunkSize(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithFrameObserver registers a callback invoked once per interpreted frame.
func WithFrameObserver(fn func(FrameKind)) DecoderOption {
	return func(d *Decoder) { d.observe = fn }
}

// Decoder turns a streamed body into an assistant message.
//
// # Description
//
// A Decoder holds configuration only and may be reused. All per-stream
// state lives in the State owned by a single Decode call.
//
// Decode runs INIT → STREAMING → FLUSH → DONE:
//
//   - STREAMING: each read appends to the buffer, complete frames are
//     split off and interpreted in order, and the pending message is
//     published (IsFinal=false) after every frame that changed it.
//   - FLUSH: at end of stream, leftover non-blank text is split once more
//     with the framing's terminator appended.
//   - DONE: the message is published once with IsFinal=true.
//
// # Limitations
//
//   - A read error or cancellation aborts without the final publish.
type Decoder struct {
	framing    Framing
	splitter   Splitter
	extraction Extraction
	chunkSize  int
	logger     *slog.Logger
	observe    func(FrameKind)
}

// NewDecoder creates a decoder for a framing.
//
// Returns an error for FramingNone, which is handled by the response
// package instead.
func NewDecoder(framing Framing, opts ...DecoderOption) (*Decoder, error) {
	splitter := SplitterFor(framing)
	if splitter == nil {
		return nil, fmt.Errorf("no stream decoder for framing %q", framing)
	}
	d := &Decoder{
		framing:    framing,
		splitter:   splitter,
		extraction: DefaultExtraction(),
		chunkSize:  DefaultChunkSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Framing returns the decoder's framing.
func (d *Decoder) Framing() Framing {
	return d.framing
}

// Decode reads body to the end and returns the decoded result.
//
// # Inputs
//
//   - ctx: Checked before every read. Cancellation returns
//     ErrStreamCanceled wrapping ctx.Err().
//   - body: The response body. nil returns ErrStreamUnavailable.
//   - publish: Receives the pending message. May be nil.
//
// # Outputs
//
//   - *Result: Set on success only.
//   - error: ErrStreamUnavailable, ErrStreamCanceled, or a wrapped read error.
func (d *Decoder) Decode(ctx context.Context, body io.Reader, publish Publisher) (*Result, error) {
	ctx, span := tracer.Start(ctx, "stream.Decode")
	defer span.End()
	span.SetAttributes(attribute.String("stream.framing", d.framing.String()))

	if body == nil {
		span.RecordError(ErrStreamUnavailable)
		span.SetStatus(codes.Error, "no body")
		return nil, ErrStreamUnavailable
	}
	if publish == nil {
		publish = func(datatypes.PendingMessage) {}
	}

	state := &State{}
	frames := make(map[FrameKind]int)
	buf := make([]byte, d.chunkSize)
	var carry []byte

	for {
		if err := ctx.Err(); err != nil {
			return nil, d.fail(span, fmt.Errorf("%w: %w", ErrStreamCanceled, err))
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			var text string
			text, carry = completeRunes(carry, buf[:n])
			d.feed(state, text, frames, publish)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, d.fail(span, fmt.Errorf("%w: %w", ErrStreamCanceled, ctxErr))
			}
			return nil, d.fail(span, fmt.Errorf("read stream: %w", readErr))
		}
	}

	// FLUSH
	if len(carry) > 0 {
		state.Buffer += string(carry)
	}
	state.Buffer = normalizeNewlines(state.Buffer)
	if strings.TrimSpace(state.Buffer) != "" {
		pending, _ := d.splitter.Split(state.Buffer + d.splitter.Terminator())
		d.interpretAll(state, pending, frames, publish)
	}
	state.Buffer = ""

	// DONE
	final := datatypes.NewMessage(datatypes.RoleAssistant, state.Content)
	publish(datatypes.PendingMessage{Message: final, IsFinal: true})

	data, err := resultData(state)
	if err != nil {
		return nil, d.fail(span, err)
	}

	span.SetAttributes(
		attribute.Int("stream.content_bytes", len(state.Content)),
		attribute.Int("stream.frames_structured", frames[FrameStructured]),
		attribute.Int("stream.frames_raw", frames[FrameRaw]),
	)
	return &Result{Data: data, AssistantMessage: final, Frames: frames}, nil
}

func (d *Decoder) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// feed appends one chunk of text and interprets every complete frame.
func (d *Decoder) feed(state *State, text string, frames map[FrameKind]int, publish Publisher) {
	state.Buffer = normalizeNewlines(state.Buffer + text)
	complete, remainder := d.splitter.Split(state.Buffer)
	state.Buffer = remainder
	d.interpretAll(state, complete, frames, publish)
}

func (d *Decoder) interpretAll(state *State, complete []string, frames map[FrameKind]int, publish Publisher) {
	for _, frame := range complete {
		kind, changed := interpret(state, frame, d.extraction)
		frames[kind]++
		if d.observe != nil {
			d.observe(kind)
		}
		if kind == FrameRaw {
			d.logger.Debug("Stream frame is not a JSON object, appending as text",
				"framing", d.framing.String(),
				"frame_bytes", len(frame))
		}
		if changed {
			publish(datatypes.PendingMessage{
				Message: datatypes.NewMessage(datatypes.RoleAssistant, state.Content),
				IsFinal: false,
			})
		}
	}
}

// resultData picks the payload reported with the result.
func resultData(state *State) (json.RawMessage, error) {
	if state.Payload != nil {
		return state.Payload, nil
	}
	if !state.SawContent {
		return nil, nil
	}
	envelope := openai.ChatCompletionResponse{
		Object: "chat.completion",
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: state.Content,
			},
			FinishReason: openai.FinishReasonStop,
		}},
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode synthesized completion: %w", err)
	}
	return raw, nil
}

// completeRunes joins carry and chunk and splits off a trailing incomplete
// UTF-8 sequence, which is returned as the new carry.
func completeRunes(carry, chunk []byte) (string, []byte) {
	data := chunk
	if len(carry) > 0 {
		data = append(append([]byte{}, carry...), chunk...)
	}

	start := len(data) - utf8.UTFMax + 1
	if start < 0 {
		start = 0
	}
	for i := len(data) - 1; i >= start; i-- {
		if !utf8.RuneStart(data[i]) {
			continue
		}
		if !utf8.FullRune(data[i:]) {
			return string(data[:i]), append([]byte{}, data[i:]...)
		}
		break
	}
	return string(data), nil
}

func normalizeNewlines(s string) string {
	if !strings.Contains(s, "\r\n") {
		return s
	}
	return strings.ReplaceAll(s, "\r\n", "\n")
}
