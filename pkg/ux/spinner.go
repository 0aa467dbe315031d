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
	"sync"
	"time"

	"github.com/briandowns/spinner"
)

// Spinner provides an animated indicator on stderr for a long step.
//
// # Description
//
// Wraps briandowns/spinner. The animation only runs when progress is
// enabled (not machine level, stderr is a terminal); otherwise Start and
// Stop are no-ops and the Stop* helpers still print the final line.
//
// # Thread Safety
//
// Safe for concurrent use.
type Spinner struct {
	mu      sync.Mutex
	message string
	spin    *spinner.Spinner
	running bool
}

// NewSpinner creates a new spinner with the given message
func NewSpinner(message string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(Stderr()))
	s.Suffix = " " + message
	return &Spinner{message: message, spin: s}
}

// Start begins the animation.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || !ShouldShowProgress() {
		return
	}
	s.running = true
	s.spin.Start()
}

// Stop ends the animation and clears its line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.spin.Stop()
}

// Running reports whether the animation is active.
func (s *Spinner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Message returns the current message.
func (s *Spinner) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// UpdateMessage changes the text shown next to the animation.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
	s.spin.Lock()
	s.spin.Suffix = " " + message
	s.spin.Unlock()
}

// StopWithSuccess stops and prints a success line.
func (s *Spinner) StopWithSuccess(message string) {
	s.Stop()
	Success(message)
}

// StopWithError stops and prints an error line.
func (s *Spinner) StopWithError(message string) {
	s.Stop()
	Error(message)
}

// StopWithWarning stops and prints a warning line.
func (s *Spinner) StopWithWarning(message string) {
	s.Stop()
	Warning(message)
}

// WithSpinner runs fn behind a spinner and prints the outcome.
func WithSpinner(message string, fn func() error) error {
	s := NewSpinner(message)
	s.Start()
	err := fn()
	if err != nil {
		s.StopWithError(message)
		return err
	}
	s.StopWithSuccess(message)
	return nil
}
