// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPConfig configures an HTTPTransport.
//
// # Fields
//
//   - HeaderTimeout: Maximum wait for response headers. The body itself is
//     not time limited, so long streams are not cut off. Zero means none.
//   - Retries: Extra attempts after a connection error or a 5xx status.
//   - RetryWait: Initial backoff between attempts.
//   - RetryMaxWait: Backoff ceiling.
//   - Headers: Sent with every request. Callers inject authorization here.
type HTTPConfig struct {
	HeaderTimeout time.Duration
	Retries       int
	RetryWait     time.Duration
	RetryMaxWait  time.Duration
	Headers       map[string]string
	Logger        *slog.Logger
}

// HTTPTransport is a Transport backed by a resty client.
//
// # Description
//
// Responses are never parsed by resty; the raw body is handed to the
// caller so it can be streamed. Retries happen before the body is handed
// out. When the last attempt still fails with a 5xx the returned Response
// has an empty body.
//
// # Thread Safety
//
// Safe for concurrent use.
type HTTPTransport struct {
	client  *resty.Client
	retries int
	logger  *slog.Logger
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates an HTTPTransport.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = cfg.HeaderTimeout

	client := resty.New().
		SetTransport(base).
		SetHeader("Content-Type", "application/json").
		SetHeaders(cfg.Headers).
		SetRetryCount(cfg.Retries)
	if cfg.RetryWait > 0 {
		client.SetRetryWaitTime(cfg.RetryWait)
	}
	if cfg.RetryMaxWait > 0 {
		client.SetRetryMaxWaitTime(cfg.RetryMaxWait)
	}

	t := &HTTPTransport{client: client, retries: cfg.Retries, logger: logger}
	client.AddRetryCondition(t.retryCondition)
	return t
}

// Perform sends req to url.
func (t *HTTPTransport) Perform(ctx context.Context, url string, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	r := t.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeaders(req.Headers)
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(method, url)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}

	out := &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.RawBody(),
	}
	if out.StatusCode >= 500 && t.retries > 0 {
		out.Body = http.NoBody
	}

	t.logger.DebugContext(ctx, "Upstream responded",
		"method", method,
		"url", url,
		"status", out.StatusCode,
		"content_type", out.ContentType(),
		"attempts", resp.Request.Attempt)
	return out, nil
}

// retryCondition retries connection errors and 5xx statuses. The body of a
// response that is retried is closed here because nothing else will read it.
func (t *HTTPTransport) retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		t.logger.Warn("Upstream request failed, retrying", "error", err)
		return true
	}
	if r == nil || r.StatusCode() < 500 {
		return false
	}
	if body := r.RawBody(); body != nil {
		_ = body.Close()
	}
	t.logger.Warn("Upstream returned server error, retrying", "status", r.StatusCode())
	return true
}
