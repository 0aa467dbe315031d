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
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
	"github.com/AleutianAI/devenv/pkg/ux"
)

// stderrTailLines bounds how much captured output an error box shows.
const stderrTailLines = 20

// reportError prints err for the user. The exit code is derived
// separately with util.ExitCode.
func reportError(err error) {
	var (
		status   *util.ExitStatus
		external *util.ExternalCommandError
		partial  *util.PartialCleanupError
		timeout  *util.TimeoutError
	)
	switch {
	case errors.As(err, &status):
		// The child already spoke for itself.
	case errors.Is(err, context.Canceled):
		ux.Warning("interrupted")
	case errors.Is(err, util.ErrAborted):
		ux.Warning(err.Error())
	case errors.As(err, &partial):
		ux.Error("cleanup incomplete")
		for _, f := range partial.Failures {
			ux.Error(fmt.Sprintf("  %s: %v", f.Kind, f.Err))
		}
	case errors.As(err, &timeout):
		ux.ErrorBox(timeout.Step+" timed out", timeoutBody(timeout))
	case errors.As(err, &external):
		ux.ErrorBox(commandTitle(external), commandBody(external))
	default:
		ux.Error(err.Error())
	}
}

func commandTitle(e *util.ExternalCommandError) string {
	if e.Step != "" {
		return e.Step + " failed"
	}
	return "command failed"
}

func commandBody(e *util.ExternalCommandError) string {
	var b strings.Builder
	b.WriteString("$ " + e.Command)
	switch {
	case e.Signaled:
		b.WriteString("\nterminated by signal")
	case e.ExitCode >= 0:
		fmt.Fprintf(&b, "\nexit code %d", e.ExitCode)
	}
	output := e.Stderr
	if output == "" {
		output = e.Stdout
	}
	if tail := tailLines(output, stderrTailLines); tail != "" {
		b.WriteString("\n\n" + tail)
	} else if e.Err != nil {
		b.WriteString("\n" + e.Err.Error())
	}
	return b.String()
}

// timeoutBody describes an expired wait and the last check that failed.
func timeoutBody(e *util.TimeoutError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "waited %s", e.Waited)
	var external *util.ExternalCommandError
	switch {
	case errors.As(e.Err, &external):
		b.WriteString("\n\nlast check:\n" + commandBody(external))
	case e.Err != nil:
		b.WriteString("\nlast check: " + e.Err.Error())
	}
	b.WriteString("\n\ncheck 'dev logs' for the failing service")
	return b.String()
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = append([]string{"..."}, lines[len(lines)-n:]...)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
