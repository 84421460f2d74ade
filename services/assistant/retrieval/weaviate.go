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
	"net/url"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/schema"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateConfig selects the class and properties a WeaviateRetriever reads.
type WeaviateConfig struct {
	// ClassName is the Weaviate class to search. Default "Document".
	ClassName string
	// ContentProperty holds the document text. Default "content".
	ContentProperty string
	// SourceProperty holds a source label. Default "source". Objects
	// without the property report an empty source.
	SourceProperty string
	// Limit is the maximum number of documents returned. Default 5.
	Limit int
}

func (c *WeaviateConfig) applyDefaults() {
	if c.ClassName == "" {
		c.ClassName = "Document"
	}
	if c.ContentProperty == "" {
		c.ContentProperty = "content"
	}
	if c.SourceProperty == "" {
		c.SourceProperty = "source"
	}
	if c.Limit <= 0 {
		c.Limit = 5
	}
}

// WeaviateRetriever searches a Weaviate class with BM25 keyword ranking.
//
// # Description
//
// Implements langchaingo's schema.Retriever so it can be passed to
// FromRetriever. No vectorizer is needed on the class; ranking uses the
// inverted index only.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client is.
type WeaviateRetriever struct {
	client *weaviate.Client
	cfg    WeaviateConfig
}

var _ schema.Retriever = (*WeaviateRetriever)(nil)

// NewWeaviateRetriever creates a retriever over an existing client.
func NewWeaviateRetriever(client *weaviate.Client, cfg WeaviateConfig) *WeaviateRetriever {
	cfg.applyDefaults()
	return &WeaviateRetriever{client: client, cfg: cfg}
}

// NewWeaviateClient builds a client from a URL such as
// "http://localhost:12127".
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	rawURL = strings.Trim(rawURL, "\"' ")
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// GetRelevantDocuments runs a BM25 query for query.
//
// Each document carries the class name and source in its metadata and
// the BM25 score in Score.
func (r *WeaviateRetriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	fields := []graphql.Field{
		{Name: r.cfg.ContentProperty},
		{Name: r.cfg.SourceProperty},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "score"}}},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(r.cfg.ClassName).
		WithFields(fields...).
		WithBM25(r.client.GraphQL().Bm25ArgBuilder().WithQuery(query)).
		WithLimit(r.cfg.Limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if err := graphQLError(result.Errors); err != nil {
		return nil, err
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []schema.Document{}, nil
	}
	objects, ok := data[r.cfg.ClassName].([]interface{})
	if !ok {
		return []schema.Document{}, nil
	}

	docs := make([]schema.Document, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		content := getString(m, r.cfg.ContentProperty)
		if content == "" {
			continue
		}
		doc := schema.Document{
			PageContent: content,
			Metadata: map[string]any{
				"class":  r.cfg.ClassName,
				"source": getString(m, r.cfg.SourceProperty),
			},
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			doc.Score = parseScore(additional["score"])
			if id, ok := additional["id"].(string); ok {
				doc.Metadata["id"] = id
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func graphQLError(errs []*models.GraphQLError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return fmt.Errorf("weaviate search error: %s", strings.Join(msgs, "; "))
}

// parseScore reads a BM25 score, which Weaviate returns as a string.
func parseScore(v interface{}) float32 {
	switch s := v.(type) {
	case string:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return 0
		}
		return float32(f)
	case float64:
		return float32(s)
	}
	return 0
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
