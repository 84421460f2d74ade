// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval runs a caller-supplied context hook and turns whatever
// it returns into system messages for the outbound request.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianAssist/services/assistant/normalize"
)

// Context is what a retrieval hook sees.
type Context struct {
	// Input is the user text after the guardrail ran.
	Input string
	// Messages is the windowed history including the new user message.
	Messages []datatypes.Message
	// UserContext is the opaque caller-provided context, possibly nil.
	UserContext any
}

// Hook fetches context for a submission. A nil Output means "nothing found".
type Hook func(ctx context.Context, rc Context) (Output, error)

// =============================================================================
// Outputs
// =============================================================================

// Output is one of Text, Messages, Documents, Bundle or Record.
type Output interface {
	isOutput()
}

// Text becomes a single system message.
type Text string

// Messages is a list of message-like values, normalized as system messages.
type Messages []any

// Documents are joined with blank lines into one system message.
// Strings are used as is; anything else is JSON encoded.
type Documents struct {
	Documents []any
	Metadata  any
}

// Bundle carries ready-made messages (a list or a single string) with
// metadata.
type Bundle struct {
	Messages any
	Metadata any
}

// Record is a decoded JSON object. It is resolved in order: a "messages"
// field, then a "documents" array, then "content"/"role" keys as a single
// message, and finally the whole object as text.
type Record map[string]any

func (Text) isOutput()      {}
func (Messages) isOutput()  {}
func (Documents) isOutput() {}
func (Bundle) isOutput()    {}
func (Record) isOutput()    {}

// DocumentSeparator joins documents inside the context message.
const DocumentSeparator = "\n\n"

var systemOpts = normalize.Options{DefaultRole: datatypes.RoleSystem}

// =============================================================================
// Resolution
// =============================================================================

// Resolve runs hook and converts its output into a RetrievalResult.
//
// # Description
//
// A nil hook or an empty output yields an empty result. Hook errors are
// returned unchanged so the caller can abort the submission before any
// network call.
//
// # Inputs
//
//   - ctx: Passed to the hook.
//   - hook: May be nil.
//   - rc: The submission the context is for.
//
// # Outputs
//
//   - datatypes.RetrievalResult: Messages is never nil.
//   - error: The hook's error, if any.
//
// # Examples
//
//	res, _ := Resolve(ctx, func(context.Context, Context) (Output, error) {
//	    return Documents{Documents: []any{"A", "B"}}, nil
//	}, Context{Input: "q"})
//	// res.Messages == [{system, "A\n\nB"}]
func Resolve(ctx context.Context, hook Hook, rc Context) (datatypes.RetrievalResult, error) {
	if hook == nil {
		return datatypes.EmptyRetrieval(), nil
	}

	out, err := hook(ctx, rc)
	if err != nil {
		return datatypes.RetrievalResult{}, err
	}
	return resolveOutput(out)
}

func resolveOutput(out Output) (datatypes.RetrievalResult, error) {
	switch o := out.(type) {
	case nil:
		return datatypes.EmptyRetrieval(), nil
	case Text:
		if o == "" {
			return datatypes.EmptyRetrieval(), nil
		}
		return datatypes.RetrievalResult{Messages: normalize.NormalizeMany(string(o), systemOpts)}, nil
	case Messages:
		return datatypes.RetrievalResult{Messages: normalize.NormalizeMany([]any(o), systemOpts)}, nil
	case Documents:
		return datatypes.RetrievalResult{Messages: joinDocuments(o.Documents), Metadata: o.Metadata}, nil
	case Bundle:
		return datatypes.RetrievalResult{Messages: normalize.NormalizeMany(o.Messages, systemOpts), Metadata: o.Metadata}, nil
	case Record:
		return resolveRecord(o), nil
	default:
		return datatypes.RetrievalResult{}, fmt.Errorf("unsupported retrieval output %T", out)
	}
}

func resolveRecord(r Record) datatypes.RetrievalResult {
	if len(r) == 0 {
		return datatypes.EmptyRetrieval()
	}

	metadata := r["metadata"]
	switch msgs := r["messages"].(type) {
	case []any, string:
		return datatypes.RetrievalResult{Messages: normalize.NormalizeMany(msgs, systemOpts), Metadata: metadata}
	}
	if docs, ok := r["documents"].([]any); ok {
		return datatypes.RetrievalResult{Messages: joinDocuments(docs), Metadata: metadata}
	}

	_, hasContent := r["content"]
	_, hasRole := r["role"]
	if hasContent || hasRole {
		return datatypes.RetrievalResult{Messages: normalize.NormalizeMany(map[string]any(r), systemOpts)}
	}

	whole := normalize.ExtractContent(map[string]any(r), "")
	return datatypes.RetrievalResult{Messages: []datatypes.Message{datatypes.NewMessage(datatypes.RoleSystem, whole)}}
}

// joinDocuments renders documents into one system message. An empty
// document list produces no message.
func joinDocuments(docs []any) []datatypes.Message {
	if len(docs) == 0 {
		return []datatypes.Message{}
	}
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		parts = append(parts, documentText(doc))
	}
	return []datatypes.Message{datatypes.NewMessage(datatypes.RoleSystem, strings.Join(parts, DocumentSeparator))}
}

func documentText(doc any) string {
	if s, ok := doc.(string); ok {
		return s
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Sprint(doc)
	}
	return string(raw)
}
