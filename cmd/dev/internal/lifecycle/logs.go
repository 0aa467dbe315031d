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
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/devenv/cmd/dev/internal/configstore"
	"github.com/AleutianAI/devenv/cmd/dev/internal/infra/compose"
)

// LogsOptions configures Logs.
type LogsOptions struct {
	// Services to show, by name or alias. Empty means all.
	Services []string

	// Follow streams until the context is cancelled.
	Follow bool

	// Tail limits output to the last N lines per service. Zero means all.
	Tail int
}

// Logs writes service logs to w.
//
// # Description
//
// Service names are resolved before any command runs. Following more
// than one service streams each from its own goroutine; lines are
// prefixed with the service name and never interleave mid-line. Ending a
// follow by cancelling ctx is success.
//
// # Outputs
//
//   - error: *util.TargetError for unknown or disabled services,
//     otherwise the first stream failure
func (c *Controller) Logs(ctx context.Context, cfg configstore.Config, w io.Writer, opts LogsOptions) error {
	names := make([]string, 0, len(opts.Services))
	for _, name := range opts.Services {
		svc, err := c.enabled(name)
		if err != nil {
			return err
		}
		names = append(names, svc.String())
	}

	exec, err := c.executor(ctx, nil, cfg.Values())
	if err != nil {
		return err
	}

	if !opts.Follow || len(names) < 2 {
		err := exec.Logs(ctx, compose.LogsOptions{Services: names, Follow: opts.Follow, Tail: opts.Tail}, w)
		if opts.Follow && ctx.Err() != nil {
			return nil
		}
		return err
	}

	width := 0
	for _, n := range names {
		width = max(width, len(n))
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		pw := &prefixWriter{mu: &mu, w: w, prefix: fmt.Sprintf("%-*s | ", width, name)}
		g.Go(func() error {
			defer pw.Flush()
			return exec.Logs(gctx, compose.LogsOptions{
				Services: []string{name},
				Follow:   true,
				Tail:     opts.Tail,
				NoPrefix: true,
			}, pw)
		})
	}
	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// prefixWriter prefixes every complete line and writes it under a lock
// shared by all streams.
type prefixWriter struct {
	mu     *sync.Mutex
	w      io.Writer
	prefix string
	buf    []byte
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	p.buf = append(p.buf, b...)
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		if err := p.emit(p.buf[:i+1]); err != nil {
			return 0, err
		}
		p.buf = p.buf[i+1:]
	}
	return len(b), nil
}

// Flush writes a trailing partial line.
func (p *prefixWriter) Flush() {
	if len(p.buf) == 0 {
		return
	}
	_ = p.emit(append(p.buf, '\n'))
	p.buf = nil
}

func (p *prefixWriter) emit(line []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.w, p.prefix); err != nil {
		return err
	}
	_, err := p.w.Write(line)
	return err
}
