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
	"strings"
	"sync"

	"github.com/AleutianAI/devenv/cmd/dev/internal/lifecycle"
	"github.com/AleutianAI/devenv/pkg/ux"
)

// stepObserver renders operation progress: a spinner while a step runs
// and one status line when it finishes.
//
// # Thread Safety
//
// Safe for concurrent use; steps are reported sequentially in practice.
type stepObserver struct {
	mu      sync.Mutex
	spinner *ux.Spinner
	counts  map[lifecycle.StepOutcome]int
}

func newStepObserver() *stepObserver {
	return &stepObserver{counts: make(map[lifecycle.StepOutcome]int)}
}

// StepStarted implements lifecycle.Observer.
func (o *stepObserver) StepStarted(name, description string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ownsTerminal(name) {
		return
	}
	o.spinner = ux.NewSpinner(description)
	o.spinner.Start()
}

// StepFinished implements lifecycle.Observer.
func (o *stepObserver) StepFinished(step lifecycle.StepReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.spinner != nil {
		o.spinner.Stop()
		o.spinner = nil
	}
	o.counts[step.Outcome]++
	ux.StepStatus(step.Name, stepIcon(step.Outcome), step.Detail, step.Duration)
}

// summary prints the outcome counts of everything observed so far.
func (o *stepObserver) summary() {
	o.mu.Lock()
	defer o.mu.Unlock()
	ux.Summary(o.counts[lifecycle.StepDone], o.counts[lifecycle.StepSkipped], o.counts[lifecycle.StepWarned])
}

// ownsTerminal reports steps whose child process talks to the user.
func ownsTerminal(step string) bool {
	return strings.HasPrefix(step, "clone:")
}

func stepIcon(outcome lifecycle.StepOutcome) ux.Icon {
	switch outcome {
	case lifecycle.StepDone:
		return ux.IconSuccess
	case lifecycle.StepSkipped:
		return ux.IconSkipped
	case lifecycle.StepWarned:
		return ux.IconWarning
	default:
		return ux.IconError
	}
}
