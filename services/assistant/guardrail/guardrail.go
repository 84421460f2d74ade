// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guardrail runs a caller-supplied hook that may allow, block, or
// rewrite a user submission before it is sent.
package guardrail

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianAssist/services/assistant/normalize"
)

// Context is what a guardrail hook sees.
type Context struct {
	// Input is the normalized user text.
	Input string
	// Messages is the current history, excluding the new user message.
	Messages []datatypes.Message
	// UserContext is the opaque caller-provided context, possibly nil.
	UserContext any
}

// Hook inspects a submission and decides what happens to it.
//
// A nil Outcome with a nil error means "allow, unchanged".
type Hook func(ctx context.Context, gc Context) (Outcome, error)

// =============================================================================
// Outcomes
// =============================================================================

// Outcome is one of Decision, Rewrite, Verdict or Record.
type Outcome interface {
	isOutcome()
}

// Decision allows (true) or blocks (false) the input unchanged.
type Decision bool

// Rewrite allows the submission with the given replacement input.
type Rewrite string

// Verdict is the fully specified outcome.
//
// Nil pointer fields mean "not given": Allow defaults to true and Input to
// the original text. A non-nil Messages replaces the conversation.
type Verdict struct {
	Allow    *bool
	Input    *string
	Messages []any
	Reason   string
	Metadata any
}

// Record is a decoded JSON object, typically the response of a remote
// policy service. It is read with the same field names as Verdict:
// allow, input, messages, reason, metadata.
type Record map[string]any

func (Decision) isOutcome() {}
func (Rewrite) isOutcome()  {}
func (Verdict) isOutcome()  {}
func (Record) isOutcome()   {}

// Allow returns a Decision that lets the input through.
func Allow() Outcome { return Decision(true) }

// Block returns a Verdict that refuses the input with a reason.
func Block(reason string) Outcome {
	deny := false
	return Verdict{Allow: &deny, Reason: reason}
}

// =============================================================================
// Evaluation
// =============================================================================

// Evaluate runs hook and converts its outcome into a GuardrailResult.
//
// # Description
//
// With no hook the input is allowed unchanged. Hook errors are returned
// as is; the caller decides how to classify them.
//
// # Inputs
//
//   - ctx: Passed to the hook.
//   - hook: May be nil.
//   - gc: The submission under inspection.
//
// # Outputs
//
//   - datatypes.GuardrailResult: Normalized outcome. Messages is nil unless
//     the hook supplied a messages list.
//   - error: The hook's error, if any.
//
// # Examples
//
//	res, _ := Evaluate(ctx, func(context.Context, Context) (Outcome, error) {
//	    return Rewrite("sanitized"), nil
//	}, Context{Input: "raw"})
//	// res.Allow == true, res.Input == "sanitized"
func Evaluate(ctx context.Context, hook Hook, gc Context) (datatypes.GuardrailResult, error) {
	allowed := datatypes.GuardrailResult{Allow: true, Input: gc.Input}
	if hook == nil {
		return allowed, nil
	}

	outcome, err := hook(ctx, gc)
	if err != nil {
		return datatypes.GuardrailResult{}, err
	}

	switch o := outcome.(type) {
	case nil:
		return allowed, nil
	case Decision:
		return datatypes.GuardrailResult{Allow: bool(o), Input: gc.Input}, nil
	case Rewrite:
		return datatypes.GuardrailResult{Allow: true, Input: string(o)}, nil
	case Verdict:
		return fromVerdict(o, gc.Input), nil
	case Record:
		return fromRecord(o, gc.Input), nil
	default:
		return datatypes.GuardrailResult{}, fmt.Errorf("unsupported guardrail outcome %T", outcome)
	}
}

func fromVerdict(v Verdict, input string) datatypes.GuardrailResult {
	res := datatypes.GuardrailResult{
		Allow:    v.Allow == nil || *v.Allow,
		Input:    input,
		Reason:   v.Reason,
		Metadata: v.Metadata,
	}
	if v.Input != nil {
		res.Input = *v.Input
	}
	if v.Messages != nil {
		res.Messages = normalize.NormalizeMany(v.Messages, normalize.Options{DefaultRole: datatypes.RoleUser})
	}
	return res
}

func fromRecord(r Record, input string) datatypes.GuardrailResult {
	v := Verdict{Metadata: r["metadata"]}
	if allow, ok := r["allow"].(bool); ok {
		v.Allow = &allow
	}
	if in, ok := r["input"].(string); ok {
		v.Input = &in
	}
	if msgs, ok := r["messages"].([]any); ok {
		v.Messages = msgs
	}
	if reason, ok := r["reason"].(string); ok {
		v.Reason = reason
	}
	return fromVerdict(v, input)
}
