// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package health decides when a freshly started stack is ready to accept
// commands.
//
// # Overview
//
// A [Probe] performs one readiness check. [WaitReady] polls a probe with
// exponential backoff until it succeeds, the wait bound expires
// (*util.TimeoutError) or the caller's context is cancelled (the context
// error is returned unchanged).
//
//	probe := &health.ExecProbe{Compose: exec, Service: "php", Command: []string{"php", "-v"}}
//	err := health.WaitReady(ctx, probe, health.DefaultWaitOptions())
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/AleutianAI/devenv/cmd/dev/internal/infra/compose"
)

// ErrNotReady is the generic failure of a probe that has no better error.
var ErrNotReady = errors.New("service not ready")

// =============================================================================
// Probes
// =============================================================================

// Probe performs a single readiness check.
type Probe interface {
	// Check returns nil when the stack is ready.
	Check(ctx context.Context) error

	// Describe returns a short human-readable name for progress output.
	Describe() string
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

// Check implements Probe.
func (f ProbeFunc) Check(ctx context.Context) error { return f(ctx) }

// Describe implements Probe.
func (f ProbeFunc) Describe() string { return "custom probe" }

// ExecProbe runs a command inside a service container. Exit status 0 means
// ready.
type ExecProbe struct {
	Compose compose.Executor
	Service string
	Command []string
}

// Check implements Probe.
func (p *ExecProbe) Check(ctx context.Context) error {
	res := p.Compose.Exec(ctx, compose.ExecOptions{
		Service: p.Service,
		Command: p.Command,
		Step:    "readiness",
	})
	return res.AsError()
}

// Describe implements Probe.
func (p *ExecProbe) Describe() string {
	return fmt.Sprintf("%s in %s", strings.Join(p.Command, " "), p.Service)
}

// HTTPClient is the subset of *http.Client the HTTP probe needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPProbe issues a GET request. Any 2xx or 3xx status means ready.
type HTTPProbe struct {
	URL string

	// Client defaults to an http.Client with a 5 second timeout that does
	// not follow redirects.
	Client HTTPClient
}

// Check implements Probe.
func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("invalid readiness URL %q: %w", p.URL, err))
	}

	client := p.Client
	if client == nil {
		client = &http.Client{
			Timeout: 5 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	return fmt.Errorf("%w: HTTP %d from %s", ErrNotReady, resp.StatusCode, p.URL)
}

// Describe implements Probe.
func (p *HTTPProbe) Describe() string {
	return "GET " + p.URL
}
