// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport defines the network boundary of the assistant pipeline.
//
// The pipeline only needs a status, a content type, and either a body to
// stream or a JSON document. Keeping that behind the Transport interface
// lets tests inject an in-memory implementation.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Transport performs one HTTP exchange.
//
// Implementations must honor ctx for the whole exchange, including reads
// of the returned body.
type Transport interface {
	Perform(ctx context.Context, url string, req Request) (*Response, error)
}

// Request is an outbound HTTP request.
type Request struct {
	Method  string
	Headers map[string]string
	Body    []byte
}

// Response is the result of Perform.
//
// The caller owns Body and must close it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ContentType returns the Content-Type header, or "".
func (r *Response) ContentType() string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}

// JSON reads the whole body, closes it, and checks that it is valid JSON.
func (r *Response) JSON() (json.RawMessage, error) {
	if r.Body == nil {
		return nil, fmt.Errorf("response has no body")
	}
	defer r.Body.Close()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("response body is not valid JSON (%d bytes)", len(raw))
	}
	return raw, nil
}

// Close closes the body if there is one.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, url string, req Request) (*Response, error)

// Perform implements Transport.
func (f Func) Perform(ctx context.Context, url string, req Request) (*Response, error) {
	return f(ctx, url, req)
}

var _ Transport = Func(nil)
