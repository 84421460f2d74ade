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
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/AleutianAssist/pkg/logging"
	"github.com/AleutianAI/AleutianAssist/services/assistant/config"
	"github.com/AleutianAI/AleutianAssist/services/assistant/observability"
	"github.com/AleutianAI/AleutianAssist/services/assistant/pipeline"
)

// =============================================================================
// Application State
// =============================================================================

// app holds what the commands share: flags, loaded config, logger and the
// tracing shutdown hook.
type app struct {
	configPath string
	logLevel   string
	endpoint   string
	model      string
	trace      bool

	cfg         config.Config
	logger      *logging.Logger
	registerer  prometheus.Registerer
	metrics     *observability.PipelineMetrics
	stopTracing func(context.Context) error
}

// newRootCmd builds the command tree.
//
// # Outputs
//
//   - *cobra.Command: The root command.
//   - *app: Shared state. Call Close after Execute.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{registerer: prometheus.DefaultRegisterer}

	defaultPath, err := config.DefaultPath()
	if err != nil {
		defaultPath = ""
	}

	root := &cobra.Command{
		Use:   "assistant",
		Short: "A conversational assistant for OpenAI-compatible chat endpoints",
		Long: `assistant sends your messages to a chat-completions endpoint,
streams the answer to the terminal, and keeps a windowed conversation.
Messages pass a local policy guardrail and can be grounded on documents
retrieved from Weaviate.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", defaultPath, "Path to the YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&a.endpoint, "endpoint", "", "Chat-completions URL (overrides config)")
	flags.StringVar(&a.model, "model", "", "Model name (overrides config)")
	flags.BoolVar(&a.trace, "trace", false, "Print OpenTelemetry spans to stderr")

	root.AddCommand(
		newAskCmd(a),
		newChatCmd(a),
		newDevServerCmd(a),
		newPolicyCmd(a),
		newConfigCmd(a),
	)
	return root, a
}

// init loads configuration and sets up logging and tracing.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.endpoint != "" {
		cfg.Endpoint = a.endpoint
	}
	if a.model != "" {
		cfg.Model = a.model
	}
	if a.logLevel != "" {
		cfg.Log.Level = strings.ToLower(a.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "assistant",
		JSON:    cfg.Log.JSON,
		Output:  cmd.ErrOrStderr(),
	})

	if a.trace {
		stop, err := setupTracing(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		a.stopTracing = stop
	}
	return nil
}

// pipelineMetrics registers the pipeline metrics once per process.
func (a *app) pipelineMetrics() *observability.PipelineMetrics {
	if a.metrics == nil && a.registerer != nil {
		a.metrics = observability.NewPipelineMetrics(a.registerer)
	}
	return a.metrics
}

// Close flushes spans and closes the log file.
func (a *app) Close() {
	if a.stopTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.stopTracing(ctx)
		a.stopTracing = nil
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// setupTracing installs a global tracer provider that pretty-prints spans
// to w.
func setupTracing(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// exitCode maps a command error to a process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return CLIExitSuccess
	case errors.Is(err, pipeline.ErrGuardrailBlocked), errors.Is(err, errFindings):
		return CLIExitBlocked
	default:
		return CLIExitError
	}
}
