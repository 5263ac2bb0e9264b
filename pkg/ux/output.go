// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders trustgraph CLI output.
//
// A Printer writes to any io.Writer at one of three levels. LevelMachine
// output is stable and tab separated so shell pipelines can consume it;
// the richer levels use the lipgloss palette below.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealPrimary).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

// Render returns the icon with its color.
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

// Printer writes leveled output to w.
//
// Thread Safety: not safe for concurrent use; callers serialize writes.
type Printer struct {
	w     io.Writer
	level Level
}

// NewPrinter creates a Printer.
func NewPrinter(w io.Writer, level Level) *Printer {
	return &Printer{w: w, level: level}
}

// Level returns the printer's level.
func (p *Printer) Level() Level {
	return p.level
}

// Title prints a heading. Machine output omits it.
func (p *Printer) Title(text string) {
	if p.level == LevelMachine {
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	p.status(IconSuccess, "OK", Styles.Success, text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	p.status(IconWarning, "WARN", Styles.Warning, text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	p.status(IconError, "ERROR", Styles.Error, text)
}

func (p *Printer) status(icon Icon, tag string, style lipgloss.Style, text string) {
	switch p.level {
	case LevelMachine:
		fmt.Fprintf(p.w, "%s: %s\n", tag, text)
	case LevelMinimal:
		fmt.Fprintf(p.w, "%s %s\n", icon.Render(), text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", icon.Render(), style.Render(text))
	}
}

// Field is one labelled value in a KeyValues block.
type Field struct {
	Key   string
	Value string
}

// KeyValues prints aligned label/value pairs. Machine output is
// key<TAB>value per line.
func (p *Printer) KeyValues(fields []Field) {
	if p.level == LevelMachine {
		for _, f := range fields {
			fmt.Fprintf(p.w, "%s\t%s\n", f.Key, f.Value)
		}
		return
	}
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Key))
	}
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('\n')
		}
		label := Styles.Muted.Render(fmt.Sprintf("%-*s", width, f.Key))
		fmt.Fprintf(&b, "%s  %s", label, Styles.Bold.Render(f.Value))
	}
	if p.level == LevelFull {
		fmt.Fprintln(p.w, Styles.Box.Render(b.String()))
		return
	}
	fmt.Fprintln(p.w, b.String())
}

// List prints one item per line.
func (p *Printer) List(items []string) {
	for _, item := range items {
		if p.level == LevelMachine {
			fmt.Fprintln(p.w, item)
			continue
		}
		fmt.Fprintf(p.w, "%s %s\n", IconArrow.Render(), item)
	}
}

// Progress prints a single progress line.
func (p *Printer) Progress(label string, current, total int) {
	if p.level == LevelMachine {
		fmt.Fprintf(p.w, "PROGRESS\t%s\t%d/%d\n", label, current, total)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render(label), ProgressBar(current, total, 30))
}

// ProgressBar renders a bar of the given width. A zero total renders as
// complete.
func ProgressBar(current, total, width int) string {
	pct := 1.0
	if total > 0 {
		pct = float64(current) / float64(total)
	}
	pct = min(max(pct, 0), 1)
	filled := int(pct * float64(width))

	bar := Styles.Success.Render(strings.Repeat("█", filled)) +
		Styles.Muted.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}

// ScoreStyle picks a color for a trust score.
func ScoreStyle(score float64) lipgloss.Style {
	switch {
	case score >= 0.5:
		return Styles.Success
	case score > 0:
		return Styles.Warning
	default:
		return Styles.Error
	}
}

// Score formats a trust score for display.
func (p *Printer) Score(score float64) string {
	s := fmt.Sprintf("%.3f", score)
	if p.level == LevelMachine {
		return s
	}
	return ScoreStyle(score).Render(s)
}

// Short abbreviates a 64-character identity for display.
func Short(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "…" + id[len(id)-8:]
}
