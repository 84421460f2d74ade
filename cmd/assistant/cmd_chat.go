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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAssist/pkg/ux"
	"github.com/AleutianAI/AleutianAssist/services/assistant/pipeline"
)

// =============================================================================
// ASK COMMAND
// =============================================================================

func newAskCmd(a *app) *cobra.Command {
	var (
		userContext string
		noStream    bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Send one message and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if noStream {
				cfg.Stream = false
			}
			out := ux.NewOutput(cmd.OutOrStdout())
			sink := ux.NewTerminalSink(out)

			p, err := buildPipeline(cfg, a.logger.Slog(), a.pipelineMetrics(), pipeline.WithProgress(sink.Progress))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			sink.Wait("Thinking")
			completion, err := p.Submit(ctx, strings.Join(args, " "), parseUserContext(userContext))
			sink.Idle()
			if err != nil {
				return err
			}
			out.Sources(sourcesFrom(completion.RAG.Metadata))
			return nil
		},
	}

	cmd.Flags().StringVar(&userContext, "context", "", "Caller context: a JSON object or plain text")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Request a single non-streamed response")
	return cmd
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

func newChatCmd(a *app) *cobra.Command {
	var userContext string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session.

Commands:
  /reset   clear the conversation (the system prompt is kept)
  exit     leave the session`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := ux.NewOutput(cmd.OutOrStdout())
			sink := ux.NewTerminalSink(out)

			p, err := buildPipeline(a.cfg, a.logger.Slog(), a.pipelineMetrics(), pipeline.WithProgress(sink.Progress))
			if err != nil {
				return err
			}

			out.Title("Aleutian Assist")
			out.Muted(fmt.Sprintf("Model %s at %s. Type /reset to clear history, exit to quit.", a.cfg.Model, a.cfg.Endpoint))
			return runChatLoop(cmd.Context(), cmd.InOrStdin(), out, sink, p, parseUserContext(userContext))
		},
	}

	cmd.Flags().StringVar(&userContext, "context", "", "Caller context sent with every message")
	return cmd
}

// runChatLoop reads lines from in and submits each one until EOF or exit.
//
// # Description
//
// Each turn gets its own interrupt-aware context so Ctrl-C cancels the
// answer being streamed without ending the session. Submission errors are
// printed and the loop continues.
func runChatLoop(ctx context.Context, in io.Reader, out *ux.Output, sink *ux.TerminalSink, p *pipeline.Pipeline, userContext any) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out.Writer(), out.Prompt())
		if !scanner.Scan() {
			fmt.Fprintln(out.Writer())
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit", "/exit", "/quit":
			return nil
		case "/reset":
			p.Reset()
			out.Success("Conversation cleared")
			continue
		}

		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		sink.Wait("Thinking")
		completion, err := p.Submit(turnCtx, line, userContext)
		sink.Idle()
		stop()

		switch {
		case err == nil:
			out.Sources(sourcesFrom(completion.RAG.Metadata))
		case errors.Is(err, pipeline.ErrGuardrailBlocked):
			out.Warning(err.Error())
		case errors.Is(err, context.Canceled):
			out.Warning("Canceled")
			if ctx.Err() != nil {
				return nil
			}
		default:
			out.Error(err.Error())
		}
	}
}
