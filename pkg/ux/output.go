// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling, prompts, spinners and
// tables for the dev CLI. Every helper respects the personality level.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	ColorAccent   = lipgloss.Color("#20B9B4")
	ColorEmphasis = lipgloss.Color("#2CD7C7")
	ColorBorder   = lipgloss.Color("#16858E")
	ColorSlate    = lipgloss.Color("#5F7C86")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = ColorSlate
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
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorEmphasis),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorAccent),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorEmphasis).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
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

// Icon provides status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconSkipped Icon = "–"
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
	case IconPending, IconSkipped:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// Output streams
// =============================================================================

var (
	streamMu sync.RWMutex
	stdout   io.Writer = os.Stdout
	stderr   io.Writer = os.Stderr
)

// SetOutput redirects the helpers and returns a func restoring the
// previous writers.
func SetOutput(out, errOut io.Writer) (restore func()) {
	streamMu.Lock()
	prevOut, prevErr := stdout, stderr
	stdout, stderr = out, errOut
	streamMu.Unlock()
	return func() {
		streamMu.Lock()
		stdout, stderr = prevOut, prevErr
		streamMu.Unlock()
	}
}

// Stdout returns the writer the helpers print results to.
func Stdout() io.Writer {
	streamMu.RLock()
	defer streamMu.RUnlock()
	return stdout
}

// Stderr returns the writer the helpers print diagnostics to.
func Stderr() io.Writer {
	streamMu.RLock()
	defer streamMu.RUnlock()
	return stderr
}

// =============================================================================
// Print helpers
// =============================================================================

// Title prints a styled title
func Title(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Fprintln(Stdout(), Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(Stdout(), "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(Stdout(), "%s %s\n", IconSuccess, text)
	default:
		fmt.Fprintf(Stdout(), "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message to stderr
func Warning(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(Stderr(), "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(Stderr(), "%s %s\n", IconWarning, text)
	default:
		fmt.Fprintf(Stderr(), "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message to stderr
func Error(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(Stderr(), "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(Stderr(), "%s %s\n", IconError, text)
	default:
		fmt.Fprintf(Stderr(), "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func Info(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintln(Stdout(), text)
	default:
		fmt.Fprintf(Stdout(), "%s %s\n", Styles.Muted.Render("│"), text)
	}
}

// Muted prints secondary text. Machine mode drops it.
func Muted(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Fprintln(Stdout(), Styles.Muted.Render(text))
}

// Hint prints a follow-up suggestion when hints are enabled.
func Hint(text string) {
	if !GetPersonality().ShowHints {
		return
	}
	fmt.Fprintf(Stdout(), "%s %s\n", Styles.Muted.Render(string(IconArrow)), Styles.Muted.Render(text))
}

// Box prints text in a rounded box
func Box(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(Stdout(), "%s: %s\n", title, content)
		return
	}
	boxStyle := Styles.Box.Width(60)
	fmt.Fprintln(Stdout(), boxStyle.Render(Styles.Title.Render(title)+"\n"+content))
}

// WarningBox prints text in a warning-styled box on stderr
func WarningBox(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(Stderr(), "WARN %s: %s\n", title, content)
		return
	}
	boxStyle := Styles.WarningBox.Width(60)
	fmt.Fprintln(Stderr(), boxStyle.Render(Styles.Warning.Bold(true).Render(title)+"\n"+content))
}

// ErrorBox prints text in an error-styled box on stderr
func ErrorBox(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(Stderr(), "ERROR %s: %s\n", title, content)
		return
	}
	boxStyle := Styles.ErrorBox.Width(72)
	fmt.Fprintln(Stderr(), boxStyle.Render(Styles.Error.Bold(true).Render(title)+"\n"+content))
}

// StepStatus prints one finished step of an operation.
//
// # Inputs
//
//   - name: Step name
//   - status: Icon for the outcome
//   - detail: Optional explanation, shown muted
//   - took: Step duration; zero hides it
func StepStatus(name string, status Icon, detail string, took time.Duration) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(Stdout(), "%s\t%s\t%s\n", status, name, detail)
	case PersonalityMinimal:
		fmt.Fprintf(Stdout(), "%s %s\n", status, name)
	default:
		var extra []string
		if detail != "" {
			extra = append(extra, detail)
		}
		if took > 0 {
			extra = append(extra, took.Round(10*time.Millisecond).String())
		}
		if len(extra) > 0 {
			fmt.Fprintf(Stdout(), "%s %s %s\n", status.Render(), name, Styles.Muted.Render("("+strings.Join(extra, ", ")+")"))
		} else {
			fmt.Fprintf(Stdout(), "%s %s\n", status.Render(), name)
		}
	}
}

// Summary prints a summary line with step counts
func Summary(done, skipped, warned int) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(Stdout(), "SUMMARY: done=%d skipped=%d warnings=%d\n", done, skipped, warned)
	default:
		fmt.Fprintf(Stdout(), "\n%s %s  %s %s  %s %s\n",
			Styles.Success.Render(fmt.Sprintf("%d", done)), Styles.Muted.Render("done"),
			Styles.Bold.Render(fmt.Sprintf("%d", skipped)), Styles.Muted.Render("skipped"),
			Styles.Warning.Render(fmt.Sprintf("%d", warned)), Styles.Muted.Render("warnings"),
		)
	}
}

// KeyValues prints aligned label/value pairs, such as access URLs.
func KeyValues(pairs [][2]string) {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	for _, p := range pairs {
		if GetPersonality().Level == PersonalityMachine {
			fmt.Fprintf(Stdout(), "%s\t%s\n", p[0], p[1])
			continue
		}
		label := fmt.Sprintf("%-*s", width, p[0])
		fmt.Fprintf(Stdout(), "  %s  %s\n", Styles.Muted.Render(label), Styles.Highlight.Render(p[1]))
	}
}
