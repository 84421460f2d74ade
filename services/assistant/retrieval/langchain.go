// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// SourceInfo describes one retrieved document in the result metadata.
type SourceInfo struct {
	Source   string         `json:"source,omitempty"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RetrieverOption configures FromRetriever.
type RetrieverOption func(*retrieverHook)

// WithMaxDocumentChars trims every document to the first chunk produced by
// a recursive character splitter of the given size. Zero disables trimming.
func WithMaxDocumentChars(n int) RetrieverOption {
	return func(h *retrieverHook) {
		if n <= 0 {
			h.splitter = nil
			return
		}
		h.splitter = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(n),
			textsplitter.WithChunkOverlap(0),
			textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
		)
	}
}

// WithMinScore drops documents scoring below min.
func WithMinScore(min float32) RetrieverOption {
	return func(h *retrieverHook) {
		h.minScore = min
	}
}

type retrieverHook struct {
	retriever schema.Retriever
	splitter  textsplitter.TextSplitter
	minScore  float32
}

// FromRetriever adapts a langchaingo retriever into a Hook.
//
// # Description
//
// The submission's input is used as the query. Each returned document's
// page content becomes one entry of a Documents output, and the metadata
// carries a SourceInfo per document under "sources".
//
// # Inputs
//
//   - r: Any schema.Retriever, for example a vector store's ToRetriever or
//     a WeaviateRetriever.
//   - opts: Optional trimming and score filtering.
//
// # Outputs
//
//   - Hook: Returns nil when the query is empty or nothing was found.
func FromRetriever(r schema.Retriever, opts ...RetrieverOption) Hook {
	h := &retrieverHook{retriever: r}
	for _, opt := range opts {
		opt(h)
	}
	return h.retrieve
}

func (h *retrieverHook) retrieve(ctx context.Context, rc Context) (Output, error) {
	if rc.Input == "" {
		return nil, nil
	}

	docs, err := h.retriever.GetRelevantDocuments(ctx, rc.Input)
	if err != nil {
		return nil, fmt.Errorf("retrieve documents: %w", err)
	}

	contents := make([]any, 0, len(docs))
	sources := make([]SourceInfo, 0, len(docs))
	for _, doc := range docs {
		if doc.Score < h.minScore {
			continue
		}
		content, err := h.trim(doc.PageContent)
		if err != nil {
			return nil, fmt.Errorf("split document: %w", err)
		}
		contents = append(contents, content)
		source, _ := doc.Metadata["source"].(string)
		sources = append(sources, SourceInfo{Source: source, Score: doc.Score, Metadata: doc.Metadata})
	}

	if len(contents) == 0 {
		return nil, nil
	}
	return Documents{
		Documents: contents,
		Metadata:  map[string]any{"sources": sources, "query": rc.Input},
	}, nil
}

func (h *retrieverHook) trim(content string) (string, error) {
	if h.splitter == nil {
		return content, nil
	}
	chunks, err := h.splitter.SplitText(content)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return content, nil
	}
	return chunks[0], nil
}
