// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianAssist/pkg/extensions"
	"github.com/AleutianAI/AleutianAssist/pkg/ux"
	"github.com/AleutianAI/AleutianAssist/services/assistant/config"
	"github.com/AleutianAI/AleutianAssist/services/assistant/guardrail"
	"github.com/AleutianAI/AleutianAssist/services/assistant/normalize"
	"github.com/AleutianAI/AleutianAssist/services/assistant/observability"
	"github.com/AleutianAI/AleutianAssist/services/assistant/pipeline"
	"github.com/AleutianAI/AleutianAssist/services/assistant/retrieval"
	"github.com/AleutianAI/AleutianAssist/services/assistant/transport"
	"github.com/AleutianAI/AleutianAssist/services/policy_engine"
)

// =============================================================================
// Pipeline Construction
// =============================================================================

// buildPipeline wires a Pipeline from configuration.
//
// # Description
//
// The HTTP transport, the guardrail and retrieval hooks, and the audit
// logger are built from cfg. extra options are applied last, so callers
// add the progress sink and callbacks there.
//
// # Inputs
//
//   - cfg: Validated configuration.
//   - logger: Shared logger.
//   - metrics: Optional pipeline metrics. nil disables them.
//   - extra: Additional pipeline options.
//
// # Outputs
//
//   - *pipeline.Pipeline: Ready for Submit.
//   - error: Non-nil if the policy file or Weaviate URL is unusable.
func buildPipeline(cfg config.Config, logger *slog.Logger, metrics *observability.PipelineMetrics, extra ...pipeline.Option) (*pipeline.Pipeline, error) {
	tr := transport.NewHTTPTransport(transport.HTTPConfig{
		HeaderTimeout: cfg.Transport.Timeout,
		Retries:       cfg.Transport.Retries,
		RetryWait:     cfg.Transport.RetryWait,
		RetryMaxWait:  cfg.Transport.RetryMaxWait,
		Headers:       cfg.Transport.Headers,
		Logger:        logger,
	})

	opts := []pipeline.Option{
		pipeline.WithEndpoint(cfg.Endpoint),
		pipeline.WithModel(cfg.Model, cfg.Temperature, cfg.TopP),
		pipeline.WithStream(cfg.Stream),
		pipeline.WithHistory(cfg.HistoryLimit, cfg.InitialHistory()...),
		pipeline.WithNormalize(normalize.Options{
			DefaultRole:     cfg.Role(),
			FallbackContent: cfg.FallbackContent,
		}),
		pipeline.WithExtraction(cfg.Extraction),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	}

	if cfg.Log.Audit {
		opts = append(opts, pipeline.WithAudit(extensions.NewSlogAuditLogger(logger)))
	}

	if cfg.Guardrail.Enabled {
		hook, err := buildGuardrail(cfg.Guardrail, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithGuardrail(hook))
	}

	if cfg.Retrieval.WeaviateURL != "" {
		hook, err := buildRetrieval(cfg.Retrieval)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithRetrieval(hook))
	}

	return pipeline.New(tr, append(opts, extra...)...), nil
}

// loadPolicyEngine returns the engine for path, or the embedded policy
// when path is empty.
func loadPolicyEngine(path string) (*policy_engine.PolicyEngine, error) {
	if path == "" {
		return policy_engine.NewPolicyEngine()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return policy_engine.NewPolicyEngineFromYAML(data)
}

func buildGuardrail(cfg config.GuardrailConfig, logger *slog.Logger) (guardrail.Hook, error) {
	engine, err := loadPolicyEngine(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return guardrail.PolicyHook(engine, logger), nil
}

func buildRetrieval(cfg config.RetrievalConfig) (retrieval.Hook, error) {
	client, err := retrieval.NewWeaviateClient(cfg.WeaviateURL)
	if err != nil {
		return nil, err
	}
	retriever := retrieval.NewWeaviateRetriever(client, retrieval.WeaviateConfig{
		ClassName:       cfg.ClassName,
		ContentProperty: cfg.ContentProperty,
		SourceProperty:  cfg.SourceProperty,
		Limit:           cfg.Limit,
	})
	return retrieval.FromRetriever(retriever,
		retrieval.WithMinScore(cfg.MinScore),
		retrieval.WithMaxDocumentChars(cfg.MaxChars),
	), nil
}

// =============================================================================
// Helpers
// =============================================================================

// parseUserContext turns the --context flag into a submission context.
// JSON objects are decoded; anything else is passed as a string.
func parseUserContext(raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			return obj
		}
	}
	return raw
}

// sourcesFrom extracts retrieved sources from retrieval metadata.
func sourcesFrom(meta any) []ux.Source {
	m, ok := meta.(map[string]any)
	if !ok {
		return nil
	}
	infos, ok := m["sources"].([]retrieval.SourceInfo)
	if !ok {
		return nil
	}
	sources := make([]ux.Source, 0, len(infos))
	for _, info := range infos {
		name := info.Source
		if name == "" {
			name = "(unnamed)"
		}
		sources = append(sources, ux.Source{Name: name, Score: float64(info.Score)})
	}
	return sources
}
