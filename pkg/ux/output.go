// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides rich terminal output styling for the bridge CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

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

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
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

// Printer writes styled output for one personality level.
//
// # Description
//
// Machine level never emits ANSI sequences or decorations: every line is
// "PREFIX: text" or tab-separated key and value, so scripts can parse it.
// Minimal keeps icons but drops boxes and colors on the message body.
//
// # Thread Safety
//
// Not safe for concurrent use; a command owns its Printer.
type Printer struct {
	w     io.Writer
	level PersonalityLevel
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, level PersonalityLevel) *Printer {
	return &Printer{w: w, level: level}
}

// Level returns the printer's personality level.
func (p *Printer) Level() PersonalityLevel {
	return p.level
}

// Machine reports whether output must stay parseable.
func (p *Printer) Machine() bool {
	return p.level == PersonalityMachine
}

// Title prints a styled title
func (p *Printer) Title(text string) {
	if p.Machine() {
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.level {
	case PersonalityMachine:
		fmt.Fprintf(p.w, "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.w, "%s %s\n", IconSuccess.Render(), text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	switch p.level {
	case PersonalityMachine:
		fmt.Fprintf(p.w, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.w, "%s %s\n", IconWarning.Render(), text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func (p *Printer) Error(text string) {
	switch p.level {
	case PersonalityMachine:
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.w, "%s %s\n", IconError.Render(), text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.Machine() {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints secondary text. Machine output drops it.
func (p *Printer) Muted(text string) {
	if p.Machine() {
		return
	}
	fmt.Fprintln(p.w, Styles.Muted.Render(text))
}

// KeyValue prints one labelled field.
func (p *Printer) KeyValue(key string, value any) {
	if p.Machine() {
		fmt.Fprintf(p.w, "%s\t%v\n", key, value)
		return
	}
	fmt.Fprintf(p.w, "  %s %v\n", Styles.Muted.Render(fmt.Sprintf("%-18s", key+":")), value)
}

// Check prints a pass/fail line.
func (p *Printer) Check(name string, passed bool, message string) {
	icon := IconSuccess
	if !passed {
		icon = IconError
	}
	switch p.level {
	case PersonalityMachine:
		state := "pass"
		if !passed {
			state = "fail"
		}
		fmt.Fprintf(p.w, "%s\t%s\t%s\n", name, state, message)
	case PersonalityMinimal:
		fmt.Fprintf(p.w, "%s %s\n", icon.Render(), name)
	default:
		fmt.Fprintf(p.w, "%s %s %s\n", icon.Render(), Styles.Bold.Render(name), Styles.Muted.Render(message))
	}
}

// Box prints text in a rounded box
func (p *Printer) Box(title, content string) {
	p.box(Styles.Box, Styles.Title, "", title, content)
}

// WarningBox prints text in a warning-styled box
func (p *Printer) WarningBox(title, content string) {
	p.box(Styles.WarningBox, Styles.Warning.Bold(true), "WARN ", title, content)
}

// ErrorBox prints text in an error-styled box
func (p *Printer) ErrorBox(title, content string) {
	p.box(Styles.ErrorBox, Styles.Error.Bold(true), "ERROR ", title, content)
}

func (p *Printer) box(style, titleStyle lipgloss.Style, machinePrefix, title, content string) {
	if p.Machine() {
		fmt.Fprintf(p.w, "%s%s: %s\n", machinePrefix, title, strings.ReplaceAll(content, "\n", "; "))
		return
	}
	if p.level == PersonalityMinimal {
		fmt.Fprintf(p.w, "%s\n%s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, style.Width(64).Render(titleStyle.Render(title)+"\n"+content))
}

// ProgressBar renders a simple progress bar
func (p *Printer) ProgressBar(current, total int, width int) string {
	if p.Machine() || total <= 0 {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := float64(current) / float64(total)
	if pct > 1 {
		pct = 1
	}
	filled := int(pct * float64(width))

	bar := Styles.Success.Render(strings.Repeat("█", filled)) +
		Styles.Muted.Render(strings.Repeat("░", width-filled))

	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}
