// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
	"github.com/AleutianAI/devenv/pkg/logging"
)

// =============================================================================
// Error Definitions
// =============================================================================

// ErrEmptyProgram is returned when an Invocation has no program to run.
var ErrEmptyProgram = errors.New("invocation has no program")

// =============================================================================
// Invocation
// =============================================================================

// Invocation describes one external command to run.
//
// # Description
//
// Invocations are plain values built by the lifecycle controller and the
// compose adapter. The runner never modifies them.
//
// # Example
//
//	inv := Invocation{
//	    Step:    "composer-install",
//	    Program: "docker",
//	    Args:    []string{"compose", "exec", "-T", "php", "composer", "install"},
//	    Dir:     "/home/me/stack",
//	}
type Invocation struct {
	// Step is the human-readable step identifier used in logs and errors.
	Step string

	// Program is the executable name or path. Must not be empty.
	Program string

	// Args are the program arguments (may be empty).
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is the overlay applied on top of the inherited environment.
	Env *util.EnvVars

	// Interactive attaches the command to the controlling terminal.
	Interactive bool

	// Output receives stdout live instead of it being captured.
	// Ignored for interactive invocations.
	Output io.Writer
}

// Validate checks the invocation is runnable.
func (i Invocation) Validate() error {
	if strings.TrimSpace(i.Program) == "" {
		return ErrEmptyProgram
	}
	return nil
}

// String returns the display form of the command line.
func (i Invocation) String() string {
	parts := make([]string, 0, len(i.Args)+1)
	parts = append(parts, i.Program)
	for _, a := range i.Args {
		if a == "" || strings.ContainsAny(a, " \t'\"") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// =============================================================================
// Result
// =============================================================================

// Result is the outcome of one Invocation.
//
// # Description
//
// Results are returned by value and never mutated afterwards. Non-zero
// exits, signal terminations and spawn failures are all reported here
// rather than as Go errors, so the caller decides what each one means.
type Result struct {
	// Step is copied from the Invocation.
	Step string

	// Command is the display form of the command line.
	Command string

	// ExitCode is the process exit code, or -1 if it never ran or was signaled.
	ExitCode int

	// Signaled is true when the process was terminated by a signal.
	Signaled bool

	// Signal names the terminating signal when Signaled is true.
	Signal string

	// Stdout is captured standard output (empty for interactive or streamed runs).
	Stdout string

	// Stderr is captured standard error (empty for interactive runs).
	Stderr string

	// Duration is the wall-clock time the command took.
	Duration time.Duration

	// Err is set when the process could not be started or was cancelled.
	Err error
}

// Success reports whether the command ran and exited with status 0.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.Signaled && r.Err == nil
}

// AsError returns nil on success and an *util.ExternalCommandError otherwise.
func (r Result) AsError() error {
	if r.Success() {
		return nil
	}
	extErr := util.NewExternalCommandError(r.Step, r.Command, r.ExitCode, r.Stdout, r.Stderr, r.Err)
	extErr.Signaled = r.Signaled
	return extErr
}

// Failures joins the errors of every failed result, or returns nil.
func Failures(results []Result) error {
	var errs []error
	for _, r := range results {
		if err := r.AsError(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Runner Interface
// =============================================================================

// Runner executes external commands.
//
// # Description
//
// All exec.Command calls go through this interface so that lifecycle
// logic can be tested with MockRunner.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Runner interface {
	// Run executes a single invocation and reports its outcome.
	//
	// # Description
	//
	// Interactive invocations are attached to the terminal and the terminal
	// state is restored afterwards. Non-interactive invocations have their
	// output captured (or stdout streamed to Invocation.Output).
	// No retries are performed.
	//
	// # Inputs
	//
	//   - ctx: Cancellation stops non-interactive commands
	//   - inv: The command to run
	//
	// # Outputs
	//
	//   - Result: Always populated, even on spawn failure
	Run(ctx context.Context, inv Invocation) Result

	// RunSequence executes invocations in order.
	//
	// # Description
	//
	// With stopOnFailure, the first unsuccessful result ends the sequence.
	// Without it, every invocation runs regardless of earlier failures.
	// A cancelled context stops further invocations from being issued.
	//
	// # Outputs
	//
	//   - []Result: One entry per invocation actually issued
	RunSequence(ctx context.Context, invs []Invocation, stopOnFailure bool) []Result
}

// runSequence is the shared RunSequence implementation.
func runSequence(ctx context.Context, run func(context.Context, Invocation) Result, invs []Invocation, stopOnFailure bool) []Result {
	results := make([]Result, 0, len(invs))
	for _, inv := range invs {
		if ctx.Err() != nil {
			break
		}
		res := run(ctx, inv)
		results = append(results, res)
		if stopOnFailure && !res.Success() {
			break
		}
	}
	return results
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultRunner implements Runner using os/exec.
type DefaultRunner struct {
	logger *logging.Logger
	stdin  *os.File
	stdout io.Writer
	stderr io.Writer
}

// NewDefaultRunner creates a runner attached to the process's standard streams.
func NewDefaultRunner(logger *logging.Logger) *DefaultRunner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &DefaultRunner{
		logger: logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// Run implements Runner.
func (r *DefaultRunner) Run(ctx context.Context, inv Invocation) Result {
	result := Result{Step: inv.Step, Command: inv.String(), ExitCode: -1}
	if err := inv.Validate(); err != nil {
		result.Err = err
		return result
	}

	r.logger.Debug("executing command",
		"step", inv.Step,
		"command", result.Command,
		"dir", inv.Dir,
		"env", inv.Env.RedactedSlice(),
		"interactive", inv.Interactive,
	)

	cmd := exec.CommandContext(ctx, inv.Program, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env.ToSlice()...)

	var stdout, stderr bytes.Buffer
	if inv.Interactive {
		cmd.Stdin = r.stdin
		cmd.Stdout = r.stdout
		cmd.Stderr = r.stderr
		// The child owns the terminal and handles SIGINT itself.
		cmd.Cancel = func() error { return nil }
		restore := r.saveTerminal()
		defer restore()
	} else {
		if inv.Output != nil {
			cmd.Stdout = inv.Output
		} else {
			cmd.Stdout = &stdout
		}
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err := cmd.Run()
	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			result.Signaled = true
			result.Signal = ws.Signal().String()
		} else {
			result.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			result.Err = ctx.Err()
		}
	default:
		result.Err = err
		if ctx.Err() != nil {
			result.Err = ctx.Err()
		}
	}

	r.logger.Debug("command finished",
		"step", inv.Step,
		"command", result.Command,
		"exit_code", result.ExitCode,
		"signaled", result.Signaled,
		"duration", result.Duration,
	)
	if result.Err != nil && !errors.Is(result.Err, context.Canceled) {
		r.logger.Warn("command could not run", "step", inv.Step, "command", result.Command, "error", result.Err)
	}

	return result
}

// RunSequence implements Runner.
func (r *DefaultRunner) RunSequence(ctx context.Context, invs []Invocation, stopOnFailure bool) []Result {
	return runSequence(ctx, r.Run, invs, stopOnFailure)
}

// saveTerminal captures the terminal state of stdin and returns a function
// that restores it. It is a no-op when stdin is not a terminal.
func (r *DefaultRunner) saveTerminal() func() {
	if r.stdin == nil {
		return func() {}
	}
	fd := int(r.stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}
	state, err := term.GetState(fd)
	if err != nil {
		return func() {}
	}
	return func() {
		if err := term.Restore(fd, state); err != nil {
			r.logger.Warn("failed to restore terminal state", "error", err)
		}
	}
}

// Compile-time interface satisfaction check
var _ Runner = (*DefaultRunner)(nil)

// =============================================================================
// Mock Implementation
// =============================================================================

// MockRunner is a test double for Runner.
//
// # Description
//
// Records every invocation and answers with scripted results. A response
// registered with On matches any invocation whose command line starts with
// the given prefix; the longest matching prefix wins. Unmatched invocations
// succeed with empty output. RunFunc, when set, overrides all scripting.
//
// When a scripted result carries Stdout and the invocation streams to
// Output, the stdout text is written to Output instead.
//
// # Example
//
//	mock := NewMockRunner()
//	mock.On("docker compose build", Result{ExitCode: 1, Stderr: "no space left"})
//	res := mock.Run(ctx, Invocation{Program: "docker", Args: []string{"compose", "build"}})
//	assert.False(t, res.Success())
//	assert.Equal(t, []string{"docker compose build"}, mock.Commands())
type MockRunner struct {
	RunFunc func(context.Context, Invocation) Result

	Calls []Invocation

	responses map[string]Result
	mu        sync.Mutex
}

// NewMockRunner creates a MockRunner with no scripted responses.
func NewMockRunner() *MockRunner {
	return &MockRunner{responses: make(map[string]Result)}
}

// On scripts the result for invocations whose command line starts with prefix.
func (m *MockRunner) On(prefix string, res Result) *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.responses == nil {
		m.responses = make(map[string]Result)
	}
	m.responses[prefix] = res
	return m
}

// Run implements Runner.
func (m *MockRunner) Run(ctx context.Context, inv Invocation) Result {
	m.mu.Lock()
	m.Calls = append(m.Calls, inv)
	runFunc := m.RunFunc
	res, matched := m.match(inv.String())
	m.mu.Unlock()

	if runFunc != nil {
		return runFunc(ctx, inv)
	}

	res.Step = inv.Step
	res.Command = inv.String()
	if !matched {
		return res
	}
	if inv.Output != nil && res.Stdout != "" {
		_, _ = io.WriteString(inv.Output, res.Stdout)
		res.Stdout = ""
	}
	return res
}

// RunSequence implements Runner.
func (m *MockRunner) RunSequence(ctx context.Context, invs []Invocation, stopOnFailure bool) []Result {
	return runSequence(ctx, m.Run, invs, stopOnFailure)
}

// Commands returns the command line of every recorded invocation, in order.
func (m *MockRunner) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.String()
	}
	return out
}

// Steps returns the step name of every recorded invocation, in order.
func (m *MockRunner) Steps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.Step
	}
	return out
}

// Reset forgets recorded calls but keeps scripted responses.
func (m *MockRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// match finds the longest registered prefix of cmd. Caller holds m.mu.
func (m *MockRunner) match(cmd string) (Result, bool) {
	best := ""
	found := false
	for prefix := range m.responses {
		if strings.HasPrefix(cmd, prefix) && len(prefix) >= len(best) {
			best = prefix
			found = true
		}
	}
	if !found {
		return Result{}, false
	}
	return m.responses[best], true
}

// Compile-time interface satisfaction check
var _ Runner = (*MockRunner)(nil)
