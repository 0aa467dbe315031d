// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"errors"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var (
	// ErrNoTerminal means a question was asked without a terminal to ask it on.
	ErrNoTerminal = errors.New("no terminal to prompt on")

	// ErrCancelled means the user dismissed the prompt (ctrl-c, esc).
	ErrCancelled = errors.New("prompt cancelled")
)

// Prompter asks yes/no and free-text questions with huh forms.
//
// # Description
//
// Fails closed: when In or Out is not a terminal, or the personality is
// machine, every question returns ErrNoTerminal without reading input.
//
// # Thread Safety
//
// Not safe for concurrent use; one question at a time.
type Prompter struct {
	In  *os.File
	Out *os.File

	// Accessible renders plain line-based prompts for screen readers.
	Accessible bool
}

// NewPrompter returns a prompter on the process stdin and stderr.
func NewPrompter() *Prompter {
	return &Prompter{
		In:         os.Stdin,
		Out:        os.Stderr,
		Accessible: os.Getenv("ACCESSIBLE") != "",
	}
}

func (p *Prompter) usable() bool {
	return GetPersonality().Level != PersonalityMachine && isTerminal(p.In) && isTerminal(p.Out)
}

// Confirm asks a yes/no question; the default answer is no.
func (p *Prompter) Confirm(title, description string) (bool, error) {
	if !p.usable() {
		return false, ErrNoTerminal
	}
	var answer bool
	field := huh.NewConfirm().
		Title(title).
		Description(truncate(description, 240)).
		Affirmative("Yes").
		Negative("No").
		Value(&answer)
	if err := p.run(field); err != nil {
		return false, err
	}
	return answer, nil
}

// Input asks for one line of text. An empty answer is returned as "".
func (p *Prompter) Input(title, description string) (string, error) {
	if !p.usable() {
		return "", ErrNoTerminal
	}
	var answer string
	field := huh.NewInput().
		Title(title).
		Description(truncate(description, 240)).
		Value(&answer)
	if err := p.run(field); err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

func (p *Prompter) run(field huh.Field) error {
	form := huh.NewForm(huh.NewGroup(field)).
		WithTheme(devTheme()).
		WithInput(p.In).
		WithOutput(p.Out).
		WithAccessible(p.Accessible)
	err := form.Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrCancelled
	}
	return err
}

// devTheme tints the base huh theme with the CLI palette.
func devTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Base = t.Focused.Base.BorderForeground(ColorBorder)
	t.Focused.Title = t.Focused.Title.Foreground(ColorEmphasis).Bold(true)
	t.Focused.Description = t.Focused.Description.Foreground(ColorMuted)
	t.Focused.FocusedButton = t.Focused.FocusedButton.
		Foreground(lipgloss.Color("#0F1923")).
		Background(ColorAccent)
	t.Focused.BlurredButton = t.Focused.BlurredButton.Foreground(ColorMuted)
	t.Focused.TextInput.Cursor = t.Focused.TextInput.Cursor.Foreground(ColorEmphasis)
	t.Focused.TextInput.Prompt = t.Focused.TextInput.Prompt.Foreground(ColorAccent)

	t.Blurred = t.Focused
	t.Blurred.Base = t.Blurred.Base.BorderStyle(lipgloss.HiddenBorder())
	return t
}

// truncate shortens s to maxLen runes, ending in "..." when cut.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(r[:maxLen-3]) + "..."
}
