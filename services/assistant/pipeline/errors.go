// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianAssist/services/assistant/observability"
	"github.com/AleutianAI/AleutianAssist/services/assistant/stream"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrGuardrailBlocked matches submissions refused by the guardrail.
	ErrGuardrailBlocked = errors.New("guardrail blocked the submission")

	// ErrHookFailure matches guardrail or retrieval hook errors.
	ErrHookFailure = errors.New("hook failed")

	// ErrTransportFailure matches connection errors and non-2xx statuses.
	ErrTransportFailure = errors.New("transport failed")

	// ErrStreamUnavailable matches a streaming response without a body.
	ErrStreamUnavailable = stream.ErrStreamUnavailable

	// ErrStreamFailure matches read errors and cancellation mid-stream.
	ErrStreamFailure = errors.New("stream failed")

	// ErrInvalidRequest matches submissions whose outbound payload was
	// rejected before sending.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBusy is returned by Submit while another submission is in flight.
	// No callback is invoked for it.
	ErrBusy = errors.New("a submission is already in flight")
)

// =============================================================================
// Error Kinds
// =============================================================================

// ErrorKind classifies an aborted submission.
type ErrorKind int

const (
	KindGuardrailBlocked ErrorKind = iota + 1
	KindHookFailure
	KindTransportFailure
	KindStreamUnavailable
	KindStreamFailure
	KindInvalidRequest
)

// String returns the snake_case name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindGuardrailBlocked:
		return "guardrail_blocked"
	case KindHookFailure:
		return "hook_failure"
	case KindTransportFailure:
		return "transport_failure"
	case KindStreamUnavailable:
		return "stream_unavailable"
	case KindStreamFailure:
		return "stream_failure"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindGuardrailBlocked:
		return ErrGuardrailBlocked
	case KindHookFailure:
		return ErrHookFailure
	case KindTransportFailure:
		return ErrTransportFailure
	case KindStreamUnavailable:
		return ErrStreamUnavailable
	case KindStreamFailure:
		return ErrStreamFailure
	case KindInvalidRequest:
		return ErrInvalidRequest
	default:
		return nil
	}
}

func (k ErrorKind) outcome() observability.Outcome {
	return observability.Outcome(k.String())
}

// =============================================================================
// SubmissionError
// =============================================================================

// SubmissionError is the error returned from Submit and passed to the error
// callback when a submission aborts.
//
// # Fields
//
//   - Kind: What failed.
//   - Status: Upstream HTTP status for transport failures, 0 otherwise.
//   - Err: The underlying cause. For KindGuardrailBlocked its message is the
//     user-visible block reason.
//
// # Examples
//
//	_, err := p.Submit(ctx, "hello", nil)
//	var subErr *pipeline.SubmissionError
//	if errors.As(err, &subErr) && subErr.Status == http.StatusUnauthorized {
//	    // refresh credentials
//	}
//	if errors.Is(err, pipeline.ErrGuardrailBlocked) {
//	    fmt.Println(err) // the guardrail's reason
//	}
type SubmissionError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func newSubmissionError(kind ErrorKind, err error) *SubmissionError {
	return &SubmissionError{Kind: kind, Err: err}
}

// Error returns the cause's message, which is what users see.
func (e *SubmissionError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

// Unwrap returns the cause.
func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *SubmissionError) Is(target error) bool {
	sentinel := e.Kind.sentinel()
	return sentinel != nil && target == sentinel
}
