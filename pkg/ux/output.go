// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the assistant CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Assistant lipgloss.Style

	Box     lipgloss.Style
	InfoBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Assistant: lipgloss.NewStyle().Foreground(ColorTealPrimary),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	InfoBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealPrimary).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// Output
// =============================================================================

// Output writes messages to a terminal, styled or plain.
//
// Plain output is used when the writer is not a terminal so that piped
// output stays free of escape codes and can be parsed:
//
//	OK: text
//	WARN: text
//	ERROR: text
type Output struct {
	w      io.Writer
	styled bool
}

// NewOutput creates an Output for w. Styling is on when w is a terminal.
func NewOutput(w io.Writer) *Output {
	return &Output{w: w, styled: IsTerminal(w)}
}

// NewPlainOutput creates an Output that never styles.
func NewPlainOutput(w io.Writer) *Output {
	return &Output{w: w}
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Styled reports whether escape codes are written.
func (o *Output) Styled() bool {
	return o.styled
}

// Writer returns the destination.
func (o *Output) Writer() io.Writer {
	return o.w
}

func (o *Output) render(style lipgloss.Style, text string) string {
	if !o.styled {
		return text
	}
	return style.Render(text)
}

// Title prints a styled title. Plain output skips it.
func (o *Output) Title(text string) {
	if !o.styled {
		return
	}
	fmt.Fprintln(o.w, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (o *Output) Success(text string) {
	if !o.styled {
		fmt.Fprintf(o.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(o.w, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message
func (o *Output) Warning(text string) {
	if !o.styled {
		fmt.Fprintf(o.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(o.w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message
func (o *Output) Error(text string) {
	if !o.styled {
		fmt.Fprintf(o.w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(o.w, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Muted prints secondary text. Plain output skips it.
func (o *Output) Muted(text string) {
	if !o.styled {
		return
	}
	fmt.Fprintln(o.w, Styles.Muted.Render(text))
}

// Box prints text in a rounded box
func (o *Output) Box(title, content string) {
	if !o.styled {
		fmt.Fprintf(o.w, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(o.w, Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
}

// Prompt returns the REPL prompt string.
func (o *Output) Prompt() string {
	return o.render(Styles.Highlight, "> ")
}

// Source is one retrieved document shown under an answer.
type Source struct {
	Name  string
	Score float64
}

// Sources prints the documents an answer was grounded on. Nothing is
// printed for an empty list.
func (o *Output) Sources(sources []Source) {
	if len(sources) == 0 {
		return
	}
	if !o.styled {
		for _, s := range sources {
			fmt.Fprintf(o.w, "SOURCE: %s\t%.2f\n", s.Name, s.Score)
		}
		return
	}

	var content strings.Builder
	for i, s := range sources {
		if i > 0 {
			content.WriteString("\n")
		}
		fmt.Fprintf(&content, "%s %s%s", IconBullet.Render(), s.Name,
			Styles.Muted.Render(fmt.Sprintf(" (%.2f)", s.Score)))
	}
	fmt.Fprintln(o.w, Styles.InfoBox.Width(60).Render(Styles.Subtitle.Render("Sources")+"\n"+content.String()))
}

// Finding prints one policy finding.
func (o *Output) Finding(line int, classification, patternID, description string) {
	if !o.styled {
		fmt.Fprintf(o.w, "%d\t%s\t%s\t%s\n", line, classification, patternID, description)
		return
	}
	fmt.Fprintf(o.w, "%s line %d %s %s\n",
		IconWarning.Render(),
		line,
		Styles.Bold.Render(classification+"/"+patternID),
		Styles.Muted.Render("("+description+")"))
}
