// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/devenv/pkg/logging"
)

// =============================================================================
// Step Reports
// =============================================================================

// StepOutcome is the result of one step of a multi-step operation.
type StepOutcome string

const (
	StepDone    StepOutcome = "done"
	StepSkipped StepOutcome = "skipped"
	StepWarned  StepOutcome = "warning"
	StepFailed  StepOutcome = "failed"
)

// StepReport records one executed step.
type StepReport struct {
	Name     string        `json:"name" yaml:"name"`
	Outcome  StepOutcome   `json:"outcome" yaml:"outcome"`
	Detail   string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Err      error         `json:"-" yaml:"-"`
}

// Report is returned by multi-step operations (init, up, rebuild, setup).
// Steps after a failure are never attempted, so FailedStep is always the
// last entry when set.
type Report struct {
	OperationID string       `json:"operation_id" yaml:"operation_id"`
	Operation   string       `json:"operation" yaml:"operation"`
	Steps       []StepReport `json:"steps" yaml:"steps"`
	FailedStep  string       `json:"failed_step,omitempty" yaml:"failed_step,omitempty"`
}

// Step returns the report of the named step.
func (r *Report) Step(name string) (StepReport, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepReport{}, false
}

// StepNames returns the executed step names in order.
func (r *Report) StepNames() []string {
	names := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		names = append(names, s.Name)
	}
	return names
}

// =============================================================================
// Observer
// =============================================================================

// Observer receives step progress. The CLI renders it; tests record it.
type Observer interface {
	StepStarted(name, description string)
	StepFinished(step StepReport)
}

// NopObserver ignores all progress.
type NopObserver struct{}

func (NopObserver) StepStarted(string, string) {}
func (NopObserver) StepFinished(StepReport)    {}

// =============================================================================
// Operation Runs
// =============================================================================

// skipError marks a step that decided it had nothing to do.
type skipError struct {
	reason string
}

func (e skipError) Error() string { return e.reason }

func skip(reason string) error {
	return skipError{reason: reason}
}

// operation tracks one controller call: its id, its scoped logger and its
// step reports.
type operation struct {
	report   *Report
	logger   *logging.Logger
	observer Observer
}

func (c *Controller) begin(name string) *operation {
	id := uuid.NewString()
	c.logger.Debug("operation started", "operation", name, "operation_id", id)
	return &operation{
		report:   &Report{OperationID: id, Operation: name},
		logger:   c.logger.With("operation", name, "operation_id", id),
		observer: c.observer,
	}
}

// step runs fn as the named step. A cancelled context stops the operation
// before the step starts. fn may return skip(reason) to record a skipped
// step.
func (o *operation) step(ctx context.Context, name, description string, fn func() error) error {
	return o.record(ctx, name, description, false, fn)
}

// optional runs fn like step, but a failure is recorded as a warning and
// the operation continues.
func (o *operation) optional(ctx context.Context, name, description string, fn func() error) error {
	return o.record(ctx, name, description, true, fn)
}

func (o *operation) record(ctx context.Context, name, description string, bestEffort bool, fn func() error) error {
	if err := ctx.Err(); err != nil {
		o.logger.Warn("operation cancelled", "step", name)
		o.report.FailedStep = name
		return err
	}

	o.observer.StepStarted(name, description)
	start := time.Now()
	err := fn()
	sr := StepReport{Name: name, Duration: time.Since(start)}

	var skipped skipError
	switch {
	case err == nil:
		sr.Outcome = StepDone
	case errors.As(err, &skipped):
		sr.Outcome = StepSkipped
		sr.Detail = skipped.reason
		err = nil
	case bestEffort && ctx.Err() == nil:
		sr.Outcome = StepWarned
		sr.Detail = err.Error()
		sr.Err = err
		err = nil
	default:
		sr.Outcome = StepFailed
		sr.Err = err
		o.report.FailedStep = name
	}

	o.report.Steps = append(o.report.Steps, sr)
	o.observer.StepFinished(sr)

	if sr.Outcome == StepFailed {
		o.logger.Error("step failed", "step", name, "duration", sr.Duration, "error", sr.Err)
	} else {
		o.logger.Info("step finished", "step", name, "outcome", string(sr.Outcome), "duration", sr.Duration)
	}
	return err
}
