// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs one assistant submission end to end.
//
// # Description
//
// A submission flows through these stages, in order:
//
//	normalize user input
//	  → guardrail hook (may block, rewrite, or override history)
//	  → append user message to the windowed history
//	  → retrieval hook (context messages)
//	  → assemble context + build and validate the outbound request
//	  → transport
//	  → stream decoder (SSE / NDJSON) or response finalizer (JSON)
//	  → append assistant message to the windowed history
//	  → completion callback
//
// Any aborting failure is returned as a *SubmissionError and also passed
// once to the error callback.
//
// # Thread Safety
//
// At most one submission runs at a time. Submit returns ErrBusy when
// another is in flight; it is not queued.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianAssist/pkg/extensions"
	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianAssist/services/assistant/guardrail"
	"github.com/AleutianAI/AleutianAssist/services/assistant/history"
	"github.com/AleutianAI/AleutianAssist/services/assistant/normalize"
	"github.com/AleutianAI/AleutianAssist/services/assistant/observability"
	"github.com/AleutianAI/AleutianAssist/services/assistant/request"
	"github.com/AleutianAI/AleutianAssist/services/assistant/response"
	"github.com/AleutianAI/AleutianAssist/services/assistant/retrieval"
	"github.com/AleutianAI/AleutianAssist/services/assistant/stream"
	"github.com/AleutianAI/AleutianAssist/services/assistant/transport"
)

// acceptHeader lists every response shape the pipeline can decode.
const acceptHeader = "text/event-stream, application/x-ndjson, application/json"

// maxErrorBody bounds how much of a failed response is quoted in the error.
const maxErrorBody = 512

// =============================================================================
// Callbacks
// =============================================================================

// ProgressSink receives the windowed history (ending with the user message)
// and the in-progress assistant message. It is called after every content
// change and once more with IsFinal set.
type ProgressSink func(history []datatypes.Message, pending datatypes.PendingMessage)

// CompletionCallback receives the result of a successful submission.
type CompletionCallback func(datatypes.Completion)

// ErrorCallback receives the *SubmissionError of an aborted submission.
type ErrorCallback func(error)

// =============================================================================
// Options
// =============================================================================

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEndpoint sets the chat-completions URL.
func WithEndpoint(url string) Option {
	return func(p *Pipeline) { p.endpoint = url }
}

// WithModel sets the model and its sampling parameters.
func WithModel(model string, temperature, topP float64) Option {
	return func(p *Pipeline) {
		p.model = model
		p.temperature = temperature
		p.topP = topP
	}
}

// WithStream sets whether the upstream is asked to stream.
func WithStream(enabled bool) Option {
	return func(p *Pipeline) { p.stream = enabled }
}

// WithHistory sets the window size and the seed conversation.
func WithHistory(limit int, initial ...datatypes.Message) Option {
	return func(p *Pipeline) {
		p.limit = limit
		p.initial = datatypes.CloneMessages(initial)
	}
}

// WithNormalize sets the default role and fallback content for user input.
func WithNormalize(opts normalize.Options) Option {
	return func(p *Pipeline) { p.normalize = opts }
}

// WithGuardrail sets the guardrail hook.
func WithGuardrail(hook guardrail.Hook) Option {
	return func(p *Pipeline) { p.guardrail = hook }
}

// WithRetrieval sets the retrieval hook.
func WithRetrieval(hook retrieval.Hook) Option {
	return func(p *Pipeline) { p.retrieval = hook }
}

// WithHeaders adds headers sent with every request.
func WithHeaders(headers map[string]string) Option {
	return func(p *Pipeline) {
		for k, v := range headers {
			p.headers[k] = v
		}
	}
}

// WithExtraction sets the stream field paths.
func WithExtraction(ex stream.Extraction) Option {
	return func(p *Pipeline) { p.extraction = ex }
}

// WithProgress sets the in-progress sink.
func WithProgress(sink ProgressSink) Option {
	return func(p *Pipeline) { p.progress = sink }
}

// WithCompletion sets the completion callback.
func WithCompletion(cb CompletionCallback) Option {
	return func(p *Pipeline) { p.onComplete = cb }
}

// WithErrorCallback sets the error callback.
func WithErrorCallback(cb ErrorCallback) Option {
	return func(p *Pipeline) { p.onError = cb }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder. Default none.
func WithMetrics(m *observability.PipelineMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer sets the tracer. Default the global provider's
// "aleutian.assistant.pipeline" tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithAudit records one extensions.EventSubmission per finished
// submission. Busy rejections are not audited.
func WithAudit(a extensions.AuditLogger) Option {
	return func(p *Pipeline) { p.audit = a }
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline owns a conversation and submits turns to a model endpoint.
type Pipeline struct {
	transport transport.Transport
	busy      atomic.Bool
	conv      *history.Conversation

	endpoint    string
	model       string
	temperature float64
	topP        float64
	stream      bool
	limit       int
	initial     []datatypes.Message
	normalize   normalize.Options
	headers     map[string]string
	extraction  stream.Extraction

	guardrail guardrail.Hook
	retrieval retrieval.Hook

	progress   ProgressSink
	onComplete CompletionCallback
	onError    ErrorCallback

	logger  *slog.Logger
	metrics *observability.PipelineMetrics
	tracer  trace.Tracer
	audit   extensions.AuditLogger
}

// New creates a Pipeline that sends requests through tr.
//
// # Inputs
//
//   - tr: The transport. Required.
//   - opts: Configuration. Without WithEndpoint and WithModel every
//     submission fails request validation or transport.
//
// # Examples
//
//	p := pipeline.New(transport.NewHTTPTransport(transport.HTTPConfig{}),
//	    pipeline.WithEndpoint("http://localhost:11434/v1/chat/completions"),
//	    pipeline.WithModel("llama3.2", 0.7, 1),
//	    pipeline.WithStream(true),
//	    pipeline.WithHistory(20, datatypes.NewMessage(datatypes.RoleSystem, "Be brief.")),
//	)
//	completion, err := p.Submit(ctx, "Hello", nil)
func New(tr transport.Transport, opts ...Option) *Pipeline {
	p := &Pipeline{
		transport:  tr,
		topP:       1,
		normalize:  normalize.Options{DefaultRole: datatypes.RoleUser},
		headers:    map[string]string{"Accept": acceptHeader},
		extraction: stream.DefaultExtraction(),
		logger:     slog.Default(),
		tracer:     otel.Tracer("aleutian.assistant.pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.normalize.DefaultRole == "" {
		p.normalize.DefaultRole = datatypes.RoleUser
	}
	p.conv = history.NewConversation(p.limit, p.initial...)
	return p
}

// Busy reports whether a submission is in flight.
func (p *Pipeline) Busy() bool {
	return p.busy.Load()
}

// History returns a copy of the windowed conversation.
func (p *Pipeline) History() []datatypes.Message {
	return p.conv.Snapshot()
}

// Reset restores the seed conversation.
func (p *Pipeline) Reset() {
	p.conv.Replace(p.initial)
}

// Submit runs one turn.
//
// # Description
//
// Runs synchronously on the caller's goroutine. The hooks, the transport
// and each body read honor ctx. Cancelling ctx during streaming aborts the
// stream with KindStreamFailure; the user message stays in history and no
// assistant message is appended.
//
// # Inputs
//
//   - ctx: Cancellation and trace context.
//   - input: The user's message. Anything the normalizer accepts.
//   - userContext: Opaque caller data (string, map, struct) shown to the
//     hooks, rendered as a system message, and mined for the user id.
//
// # Outputs
//
//   - *datatypes.Completion: Set on success. Also passed to the completion
//     callback.
//   - error: ErrBusy when another submission is in flight (no callback),
//     otherwise a *SubmissionError (also passed to the error callback).
//
// # Limitations
//
//   - Callbacks run while the pipeline is still busy, so calling Submit
//     from inside one returns ErrBusy.
func (p *Pipeline) Submit(ctx context.Context, input any, userContext any) (*datatypes.Completion, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer p.busy.Store(false)

	id := uuid.NewString()
	start := time.Now()
	p.metrics.SubmissionStarted()

	ctx, span := p.tracer.Start(ctx, "pipeline.Submit",
		trace.WithAttributes(attribute.String("submission.id", id)))
	defer span.End()

	logger := p.logger.With("submission_id", id)
	completion, subErr := p.run(ctx, logger, id, start, input, userContext)
	if subErr != nil {
		span.RecordError(subErr)
		span.SetStatus(codes.Error, subErr.Kind.String())
		p.metrics.RecordSubmission(subErr.Kind.outcome(), time.Since(start))
		logger.Warn("Submission failed",
			"kind", subErr.Kind.String(),
			"status", subErr.Status,
			"error", subErr.Error())
		p.recordAudit(ctx, logger, id, userContext, start, subErr)
		if p.onError != nil {
			p.onError(subErr)
		}
		return nil, subErr
	}

	p.metrics.RecordSubmission(observability.OutcomeSuccess, time.Since(start))
	logger.Info("Submission completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"content_bytes", len(completion.AssistantMessage.Content))
	p.recordAudit(ctx, logger, id, userContext, start, nil)
	if p.onComplete != nil {
		p.onComplete(*completion)
	}
	return completion, nil
}

// recordAudit logs the submission outcome. Audit failures are logged and
// never fail the submission.
func (p *Pipeline) recordAudit(ctx context.Context, logger *slog.Logger, id string, userContext any, start time.Time, subErr *SubmissionError) {
	if p.audit == nil {
		return
	}

	userID := request.ResolveUser(userContext)
	if userID == "" {
		userID = "anonymous"
	}
	event := extensions.AuditEvent{
		EventType:    extensions.EventSubmission,
		UserID:       userID,
		Action:       "send",
		ResourceType: "submission",
		ResourceID:   id,
		Outcome:      extensions.OutcomeSuccess,
		Metadata: map[string]any{
			"model":       p.model,
			"stream":      p.stream,
			"duration_ms": time.Since(start).Milliseconds(),
		},
	}
	switch {
	case subErr == nil:
	case subErr.Kind == KindGuardrailBlocked:
		event.Outcome = extensions.OutcomeBlocked
		event.Metadata["error_kind"] = subErr.Kind.String()
	default:
		event.Outcome = extensions.OutcomeError
		event.Metadata["error_kind"] = subErr.Kind.String()
		if subErr.Status != 0 {
			event.Metadata["status"] = subErr.Status
		}
	}

	if err := p.audit.Log(ctx, event); err != nil {
		logger.Warn("Audit log failed", "error", err)
	}
}

// run executes the stages. It returns a *SubmissionError rather than error
// so Submit never has to type-assert.
func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, id string, start time.Time, input, userContext any) (*datatypes.Completion, *SubmissionError) {
	user, ok := normalize.Normalize(input, p.normalize.DefaultRole, p.normalize.FallbackContent)
	if !ok {
		return nil, newSubmissionError(KindInvalidRequest, fmt.Errorf("nothing to submit"))
	}

	// Guardrail
	gr, err := p.evaluateGuardrail(ctx, guardrail.Context{
		Input:       user.Content,
		Messages:    p.conv.Snapshot(),
		UserContext: userContext,
	})
	if err != nil {
		logger.Warn("Hook failed", "stage", "guardrail", "error", err)
		return nil, newSubmissionError(KindHookFailure, err)
	}
	if !gr.Allow {
		return nil, newSubmissionError(KindGuardrailBlocked, fmt.Errorf("%s", gr.BlockReason()))
	}

	// History
	userMsg := datatypes.NewMessage(user.Role, gr.Input)
	var hist []datatypes.Message
	if gr.HasOverride() {
		hist = p.conv.Replace(append(datatypes.CloneMessages(gr.Messages), userMsg))
	} else {
		hist = p.conv.Append(userMsg)
	}

	// Retrieval
	rag, err := p.resolveRetrieval(ctx, retrieval.Context{
		Input:       gr.Input,
		Messages:    datatypes.CloneMessages(hist),
		UserContext: userContext,
	})
	if err != nil {
		logger.Warn("Hook failed", "stage", "retrieval", "error", err)
		return nil, newSubmissionError(KindHookFailure, err)
	}
	p.metrics.RecordRetrieval(len(rag.Messages))

	// Request
	req := request.Build(request.Params{
		ContextMessages: request.Assemble(userContext, rag.Messages),
		History:         hist,
		Model:           p.model,
		Temperature:     p.temperature,
		TopP:            p.topP,
		UserContext:     userContext,
		Stream:          p.stream,
	})
	if err := req.Validate(); err != nil {
		return nil, newSubmissionError(KindInvalidRequest, fmt.Errorf("outbound request: %w", err))
	}
	body, err := req.Marshal()
	if err != nil {
		return nil, newSubmissionError(KindInvalidRequest, fmt.Errorf("marshal request: %w", err))
	}

	logger.Debug("Sending request",
		"endpoint", p.endpoint,
		"model", req.Model,
		"messages", len(req.Messages),
		"context_messages", len(req.Messages)-len(hist),
		"stream", req.Stream)

	resp, err := p.transport.Perform(ctx, p.endpoint, transport.Request{
		Method:  http.MethodPost,
		Headers: p.headers,
		Body:    body,
	})
	if err != nil {
		return nil, newSubmissionError(KindTransportFailure, err)
	}
	defer resp.Close()
	if !resp.OK() {
		return nil, &SubmissionError{
			Kind:   KindTransportFailure,
			Status: resp.StatusCode,
			Err:    upstreamError(resp),
		}
	}

	// Response
	data, assistant, subErr := p.readResponse(ctx, start, hist, resp)
	if subErr != nil {
		return nil, subErr
	}
	p.conv.Append(assistant)

	return &datatypes.Completion{
		SubmissionID:     id,
		Data:             data,
		Request:          req,
		AssistantMessage: assistant,
		RAG:              rag,
		Guardrail:        gr,
	}, nil
}

func (p *Pipeline) evaluateGuardrail(ctx context.Context, gc guardrail.Context) (datatypes.GuardrailResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.guardrail")
	defer span.End()

	gr, err := guardrail.Evaluate(ctx, p.guardrail, gc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return gr, err
	}
	span.SetAttributes(
		attribute.Bool("guardrail.allow", gr.Allow),
		attribute.Bool("guardrail.override", gr.HasOverride()),
		attribute.Bool("guardrail.rewritten", gr.Input != gc.Input))
	return gr, nil
}

func (p *Pipeline) resolveRetrieval(ctx context.Context, rc retrieval.Context) (datatypes.RetrievalResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.retrieval")
	defer span.End()

	rag, err := retrieval.Resolve(ctx, p.retrieval, rc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rag, err
	}
	span.SetAttributes(attribute.Int("retrieval.messages", len(rag.Messages)))
	return rag, nil
}

// readResponse decodes the body as a stream when the content type names a
// framing, and as a JSON document otherwise.
func (p *Pipeline) readResponse(ctx context.Context, start time.Time, hist []datatypes.Message, resp *transport.Response) (json.RawMessage, datatypes.Message, *SubmissionError) {
	framing := stream.DetectFraming(resp.ContentType())

	if framing == stream.FramingNone {
		data, err := resp.JSON()
		if err != nil {
			return nil, datatypes.Message{}, &SubmissionError{Kind: KindTransportFailure, Status: resp.StatusCode, Err: err}
		}
		assistant := response.ExtractAssistantMessage(data)
		p.publish(hist, datatypes.PendingMessage{Message: assistant, IsFinal: true})
		return data, assistant, nil
	}

	dec, err := stream.NewDecoder(framing,
		stream.WithExtraction(p.extraction),
		stream.WithLogger(p.logger),
		stream.WithFrameObserver(func(kind stream.FrameKind) {
			p.metrics.RecordFrame(framing.String(), string(kind))
		}),
	)
	if err != nil {
		return nil, datatypes.Message{}, newSubmissionError(KindStreamFailure, err)
	}

	first := true
	var body io.Reader
	if resp.Body != nil {
		body = resp.Body
	}
	result, err := dec.Decode(ctx, body, func(pending datatypes.PendingMessage) {
		if first && !pending.IsFinal {
			first = false
			p.metrics.RecordFirstContent(framing.String(), time.Since(start))
		}
		p.publish(hist, pending)
	})
	if err != nil {
		if errors.Is(err, stream.ErrStreamUnavailable) {
			return nil, datatypes.Message{}, newSubmissionError(KindStreamUnavailable, err)
		}
		return nil, datatypes.Message{}, newSubmissionError(KindStreamFailure, err)
	}
	return result.Data, result.AssistantMessage, nil
}

func (p *Pipeline) publish(hist []datatypes.Message, pending datatypes.PendingMessage) {
	if p.progress == nil {
		return
	}
	p.progress(datatypes.CloneMessages(hist), pending)
}

// upstreamError describes a non-2xx response, quoting the start of its body.
func upstreamError(resp *transport.Response) error {
	if resp.Body == nil {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(snippet))
	if text == "" {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, text)
}
