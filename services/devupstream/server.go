// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package devupstream is a local stand-in for a chat-completion model
// server.
//
// It answers POST /v1/chat/completions with a deterministic reply, framed
// as OpenAI-style SSE chunks, NDJSON records, or a single JSON document.
// It exists so the assistant pipeline can be exercised end to end without
// a model runtime.
package devupstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianAssist/services/assistant/observability"
)

// =============================================================================
// Modes
// =============================================================================

// Mode selects the response framing.
type Mode string

const (
	// ModeSSE streams OpenAI chat.completion.chunk events ending in [DONE].
	ModeSSE Mode = "sse"
	// ModeNDJSON streams {"content": ...} records, one per line.
	ModeNDJSON Mode = "ndjson"
	// ModeJSON answers with one chat.completion document.
	ModeJSON Mode = "json"
)

// ParseMode converts a mode name. Matching is case-insensitive.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSSE:
		return ModeSSE, nil
	case ModeNDJSON:
		return ModeNDJSON, nil
	case ModeJSON:
		return ModeJSON, nil
	default:
		return "", fmt.Errorf("unknown upstream mode %q (want sse, ndjson or json)", s)
	}
}

const (
	// HeaderMode overrides the configured mode for one request.
	HeaderMode = "X-Upstream-Mode"

	// HeaderStatus forces an error status (>= 400) for one request.
	HeaderStatus = "X-Upstream-Status"

	defaultChunkSize = 4
	defaultModel     = "dev-upstream"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Server.
//
// # Fields
//
//   - Mode: Framing used for streamed requests. Default ModeSSE.
//   - Reply: Fixed reply text. Empty means echo the last user message.
//   - ChunkSize: Runes per streamed frame. Default 4.
//   - ChunkDelay: Pause between frames. Default none.
//   - Logger: Request logger. Default slog.Default().
//   - Metrics: Optional request metrics.
//   - Gatherer: Source for GET /metrics. Default prometheus.DefaultGatherer.
type Config struct {
	Mode       Mode
	Reply      string
	ChunkSize  int
	ChunkDelay time.Duration
	Logger     *slog.Logger
	Metrics    *observability.ServerMetrics
	Gatherer   prometheus.Gatherer
}

// =============================================================================
// Server
// =============================================================================

// Server is the dev upstream HTTP server.
type Server struct {
	cfg    Config
	router *gin.Engine
}

// NewServer creates a Server with its routes registered.
//
// # Examples
//
//	srv := devupstream.NewServer(devupstream.Config{Mode: devupstream.ModeNDJSON})
//	ts := httptest.NewServer(srv.Handler())
//	defer ts.Close()
func NewServer(cfg Config) *Server {
	if cfg.Mode == "" {
		cfg.Mode = ModeSSE
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{cfg: cfg}

	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests())
	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	router.POST("/v1/chat/completions", s.chatCompletions)
	s.router = router

	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info("Dev upstream listening", "addr", addr, "mode", s.cfg.Mode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.cfg.Logger.Debug("Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// =============================================================================
// Chat Completions
// =============================================================================

func (s *Server) chatCompletions(c *gin.Context) {
	if code, ok := forcedStatus(c.GetHeader(HeaderStatus)); ok {
		s.cfg.Metrics.RecordRequest("forced", false)
		c.JSON(code, gin.H{"error": "forced failure"})
		return
	}

	var req datatypes.OutboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.cfg.Metrics.RecordRequest("invalid", false)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		s.cfg.Metrics.RecordRequest("invalid", false)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode, err := s.resolveMode(c.GetHeader(HeaderMode), req.Stream)
	if err != nil {
		s.cfg.Metrics.RecordRequest("invalid", false)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply := s.reply(req.Messages)
	completion := newCompletionMeta(req.Model)

	switch mode {
	case ModeJSON:
		c.JSON(http.StatusOK, completion.document(reply))
		s.cfg.Metrics.RecordRequest(string(mode), true)
		return
	case ModeNDJSON:
		SetNDJSONHeaders(c.Writer)
	default:
		SetSSEHeaders(c.Writer)
	}
	c.Status(http.StatusOK)

	var writer FrameWriter
	if mode == ModeNDJSON {
		writer, err = NewNDJSONWriter(c.Writer)
	} else {
		writer, err = NewSSEWriter(c.Writer)
	}
	if err != nil {
		s.cfg.Logger.Error("Failed to create stream writer", "error", err)
		s.cfg.Metrics.RecordRequest(string(mode), false)
		return
	}

	s.cfg.Metrics.StreamStarted(string(mode))
	defer s.cfg.Metrics.StreamEnded(string(mode))

	err = s.stream(c.Request.Context(), writer, mode, completion, reply)
	if err != nil {
		s.cfg.Logger.Warn("Stream ended early", "completion_id", completion.id, "error", err)
	}
	s.cfg.Metrics.RecordRequest(string(mode), err == nil)
}

// resolveMode picks the framing: the header wins, a non-streamed request
// gets JSON, and otherwise the configured mode applies.
func (s *Server) resolveMode(header string, streamRequested bool) (Mode, error) {
	if header != "" {
		return ParseMode(header)
	}
	if !streamRequested {
		return ModeJSON, nil
	}
	return s.cfg.Mode, nil
}

func (s *Server) reply(messages []datatypes.WireMessage) string {
	if s.cfg.Reply != "" {
		return s.cfg.Reply
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == datatypes.RoleUser {
			return "You said: " + messages[i].Content
		}
	}
	return "Hello."
}

func (s *Server) stream(ctx context.Context, w FrameWriter, mode Mode, meta completionMeta, reply string) error {
	for i, chunk := range splitRunes(reply, s.cfg.ChunkSize) {
		if i > 0 && s.cfg.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.ChunkDelay):
			}
		}

		var frame any
		if mode == ModeNDJSON {
			frame = gin.H{"content": chunk}
		} else {
			frame = meta.chunk(chunk, i == 0)
		}
		if err := w.WriteFrame(frame); err != nil {
			return err
		}
	}

	if mode == ModeSSE {
		if err := w.WriteFrame(meta.finish()); err != nil {
			return err
		}
	}
	return w.Close()
}

// forcedStatus parses an X-Upstream-Status value. Only 4xx and 5xx codes
// are honored.
func forcedStatus(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || code < 400 || code > 599 {
		return 0, false
	}
	return code, true
}

// splitRunes cuts s into pieces of at most n runes. An empty string yields
// no pieces.
func splitRunes(s string, n int) []string {
	runes := []rune(s)
	chunks := make([]string, 0, (len(runes)+n-1)/n)
	for start := 0; start < len(runes); start += n {
		end := min(start+n, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// =============================================================================
// OpenAI Payloads
// =============================================================================

type completionMeta struct {
	id      string
	model   string
	created int64
}

func newCompletionMeta(model string) completionMeta {
	if model == "" {
		model = defaultModel
	}
	return completionMeta{
		id:      "chatcmpl-" + uuid.New().String(),
		model:   model,
		created: time.Now().Unix(),
	}
}

func (m completionMeta) chunk(content string, first bool) openai.ChatCompletionStreamResponse {
	delta := openai.ChatCompletionStreamChoiceDelta{Content: content}
	if first {
		delta.Role = openai.ChatMessageRoleAssistant
	}
	return openai.ChatCompletionStreamResponse{
		ID:      m.id,
		Object:  "chat.completion.chunk",
		Created: m.created,
		Model:   m.model,
		Choices: []openai.ChatCompletionStreamChoice{{Index: 0, Delta: delta}},
	}
}

func (m completionMeta) finish() openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		ID:      m.id,
		Object:  "chat.completion.chunk",
		Created: m.created,
		Model:   m.model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			FinishReason: openai.FinishReasonStop,
		}},
	}
}

func (m completionMeta) document(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:      m.id,
		Object:  "chat.completion",
		Created: m.created,
		Model:   m.model,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			},
			FinishReason: openai.FinishReasonStop,
		}},
	}
}
