// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
)

// TerminalSink renders the in-progress assistant message as it grows.
//
// # Description
//
// Each publish carries the whole accumulated text. Only the part not yet
// on screen is written, so a streamed answer appears token by token. When
// the text stops being an extension of what was written (an upstream sent
// a full replacement), the new text is written on a fresh line. The final
// publish ends the line and resets the sink for the next answer.
//
// # Thread Safety
//
// Safe for concurrent use, though the pipeline publishes from one
// goroutine.
type TerminalSink struct {
	out     *Output
	mu      sync.Mutex
	written string
	spinner *Spinner
}

// NewTerminalSink creates a sink writing to out.
func NewTerminalSink(out *Output) *TerminalSink {
	return &TerminalSink{out: out}
}

// Progress has the pipeline.ProgressSink signature.
//
//	sink := ux.NewTerminalSink(ux.NewOutput(os.Stdout))
//	p := pipeline.New(tr, pipeline.WithProgress(sink.Progress))
func (s *TerminalSink) Progress(_ []datatypes.Message, pending datatypes.PendingMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopSpinner()
	content := pending.Message.Content
	switch {
	case strings.HasPrefix(content, s.written):
		s.write(content[len(s.written):])
	default:
		fmt.Fprintln(s.out.w)
		s.write(content)
	}
	s.written = content

	if pending.IsFinal {
		fmt.Fprintln(s.out.w)
		s.written = ""
	}
}

func (s *TerminalSink) write(text string) {
	if text == "" {
		return
	}
	fmt.Fprint(s.out.w, s.out.render(Styles.Assistant, text))
}

// Wait shows a spinner with message until the first publish or Idle.
func (s *TerminalSink) Wait(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopSpinner()
	s.spinner = NewSpinner(s.out, message)
	s.spinner.Start()
}

// Idle removes a spinner left by Wait, e.g. after a failed submission.
func (s *TerminalSink) Idle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopSpinner()
}

func (s *TerminalSink) stopSpinner() {
	if s.spinner != nil {
		s.spinner.Stop()
		s.spinner = nil
	}
}
