// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
)

// WaitOptions bounds a readiness wait.
type WaitOptions struct {
	// InitialInterval is the delay after the first failed check.
	InitialInterval time.Duration

	// MaxInterval caps the delay between checks.
	MaxInterval time.Duration

	// Multiplier grows the delay after each failed check.
	Multiplier float64

	// MaxWait is the total time allowed. The wait fails with a
	// *util.TimeoutError once it expires.
	MaxWait time.Duration

	// Step names the wait in errors (default "wait-ready").
	Step string

	// OnRetry is called after every failed check with the delay until the
	// next one. Optional.
	OnRetry func(attempt int, err error, next time.Duration)
}

// DefaultWaitOptions returns 1s initial delay growing by 1.5x up to 5s,
// for at most 90s.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		InitialInterval: time.Second,
		MaxInterval:     5 * time.Second,
		Multiplier:      1.5,
		MaxWait:         90 * time.Second,
		Step:            "wait-ready",
	}
}

// withDefaults fills zero fields from DefaultWaitOptions.
func (o WaitOptions) withDefaults() WaitOptions {
	d := DefaultWaitOptions()
	if o.InitialInterval <= 0 {
		o.InitialInterval = d.InitialInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = d.MaxInterval
	}
	if o.MaxInterval < o.InitialInterval {
		o.MaxInterval = o.InitialInterval
	}
	if o.Multiplier < 1 {
		o.Multiplier = d.Multiplier
	}
	if o.MaxWait <= 0 {
		o.MaxWait = d.MaxWait
	}
	if o.Step == "" {
		o.Step = d.Step
	}
	return o
}

// WaitReady polls probe until it succeeds.
//
// # Description
//
// The first check runs immediately. Failed checks are retried with
// jittered exponential backoff. Every check receives a context that ends
// when MaxWait expires, so a hanging probe cannot extend the bound.
//
// # Inputs
//
//   - ctx: Parent context; its cancellation aborts the wait
//   - probe: The readiness check
//   - opts: Backoff and bound; zero fields take defaults
//
// # Outputs
//
//   - error: nil when ready; ctx.Err() when the parent was cancelled;
//     *util.TimeoutError wrapping the last probe failure when MaxWait
//     expired; the probe's error when it marked itself permanent
func WaitReady(ctx context.Context, probe Probe, opts WaitOptions) error {
	opts = opts.withDefaults()

	waitCtx, cancel := context.WithTimeout(ctx, opts.MaxWait)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialInterval
	b.MaxInterval = opts.MaxInterval
	b.Multiplier = opts.Multiplier
	b.RandomizationFactor = 0.1

	attempt := 0
	permanent := false
	var lastErr error
	_, err := backoff.Retry(waitCtx, func() (struct{}, error) {
		attempt++
		checkErr := probe.Check(waitCtx)
		var permErr *backoff.PermanentError
		switch {
		case checkErr == nil:
		case errors.As(checkErr, &permErr):
			permanent = true
		case waitCtx.Err() == nil || lastErr == nil:
			lastErr = checkErr
		}
		return struct{}{}, checkErr
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(opts.MaxWait),
		backoff.WithNotify(func(err error, next time.Duration) {
			if opts.OnRetry != nil {
				opts.OnRetry(attempt, err, next)
			}
		}),
	)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case permanent:
		return err
	}
	if lastErr == nil {
		lastErr = err
	}
	return &util.TimeoutError{Step: opts.Step, Waited: opts.MaxWait, Err: lastErr}
}
