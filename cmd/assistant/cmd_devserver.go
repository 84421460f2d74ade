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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAssist/services/assistant/observability"
	"github.com/AleutianAI/AleutianAssist/services/devupstream"
)

func newDevServerCmd(a *app) *cobra.Command {
	var (
		addr      string
		mode      string
		reply     string
		chunkSize int
		delay     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local fake chat-completions server",
		Long: `Run a local fake chat-completions server for trying the assistant
without a model runtime. It echoes the last user message (or --reply)
as SSE, NDJSON or JSON. Point the assistant at it with:

  assistant --endpoint http://localhost:8089/v1/chat/completions chat`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := devupstream.ParseMode(mode)
			if err != nil {
				return err
			}
			if a.cfg.Log.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			srv := devupstream.NewServer(devupstream.Config{
				Mode:       m,
				Reply:      reply,
				ChunkSize:  chunkSize,
				ChunkDelay: delay,
				Logger:     a.logger.Slog(),
				Metrics:    observability.NewServerMetrics(a.registerer),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8089", "Listen address")
	cmd.Flags().StringVar(&mode, "mode", string(devupstream.ModeSSE), "Streaming format: sse, ndjson or json")
	cmd.Flags().StringVar(&reply, "reply", "", "Fixed reply text (default: echo the last user message)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 4, "Characters per streamed frame")
	cmd.Flags().DurationVar(&delay, "delay", 30*time.Millisecond, "Pause between streamed frames")
	return cmd
}
