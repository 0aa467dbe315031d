// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Exit Codes
// =============================================================================

// Exit codes returned by the dev CLI. Passthrough commands (composer,
// framework console, npm, shell) exit with the child's own code instead.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitConfig      = 2
	ExitProfile     = 3
	ExitTarget      = 4
	ExitExternal    = 5
	ExitTimeout     = 6
	ExitAborted     = 7
	ExitInterrupted = 130
)

// ErrAborted is returned when the user declines a confirmation prompt.
var ErrAborted = errors.New("aborted by user")

// ErrNoTerminal is returned by prompts when stdin is not a terminal. It
// counts as an abort: nothing is confirmed without a user.
var ErrNoTerminal = fmt.Errorf("%w: no terminal to prompt on", ErrAborted)

// =============================================================================
// ConfigError
// =============================================================================

// ConfigErrorKind classifies configuration failures.
type ConfigErrorKind string

const (
	// ConfigAlreadyExists means init was asked to create a config that exists.
	ConfigAlreadyExists ConfigErrorKind = "already_exists"

	// ConfigMissing means the environment configuration file is absent.
	ConfigMissing ConfigErrorKind = "missing"

	// ConfigMissingKey means a required key is absent from the config.
	ConfigMissingKey ConfigErrorKind = "missing_key"

	// ConfigInvalidValue means a value does not parse as its declared type.
	ConfigInvalidValue ConfigErrorKind = "invalid_value"

	// ConfigInvalidTemplate means the config template could not be rendered.
	ConfigInvalidTemplate ConfigErrorKind = "invalid_template"

	// ConfigWriteFailed means the config could not be persisted.
	ConfigWriteFailed ConfigErrorKind = "write_failed"
)

// ConfigError reports a missing, malformed or conflicting environment
// configuration.
//
// # Description
//
// Returned by the config store and by every lifecycle operation that needs
// a loaded configuration. Maps to exit code [ExitConfig].
//
// # Example
//
//	if util.IsConfigKind(err, util.ConfigAlreadyExists) {
//	    fmt.Println("use --force to regenerate .env")
//	}
type ConfigError struct {
	// Kind classifies the failure.
	Kind ConfigErrorKind

	// Path is the config file involved (may be empty).
	Path string

	// Key is the offending key for MissingKey and InvalidValue (may be empty).
	Key string

	// Err is the underlying error (may be nil).
	Err error
}

// Error returns a human-readable message for the failure kind.
func (e *ConfigError) Error() string {
	var msg string
	switch e.Kind {
	case ConfigAlreadyExists:
		msg = fmt.Sprintf("configuration already exists at %s (use --force to regenerate)", e.Path)
	case ConfigMissing:
		msg = fmt.Sprintf("configuration not found at %s (run 'dev init' first)", e.Path)
	case ConfigMissingKey:
		msg = fmt.Sprintf("configuration key %s is missing", e.Key)
	case ConfigInvalidValue:
		msg = fmt.Sprintf("configuration key %s has an invalid value", e.Key)
	case ConfigInvalidTemplate:
		msg = fmt.Sprintf("configuration template %s is invalid", e.Path)
	case ConfigWriteFailed:
		msg = fmt.Sprintf("failed to write configuration %s", e.Path)
	default:
		msg = "configuration error"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigKind reports whether err contains a ConfigError of the given kind.
func IsConfigKind(err error, kind ConfigErrorKind) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr) && cfgErr.Kind == kind
}

// =============================================================================
// ProfileError
// =============================================================================

// ProfileError reports that the shell profile could not be read, parsed or
// written. Maps to exit code [ExitProfile].
type ProfileError struct {
	// Path is the profile file.
	Path string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
func (e *ProfileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("shell profile %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("shell profile %s: unusable", e.Path)
}

// Unwrap returns the underlying error.
func (e *ProfileError) Unwrap() error {
	return e.Err
}

// =============================================================================
// TargetError
// =============================================================================

// TargetError reports an unknown service name given to a targeted command.
// Maps to exit code [ExitTarget].
type TargetError struct {
	// Name is the rejected service name.
	Name string

	// Known lists the accepted service names.
	Known []string
}

// Error returns a message listing the accepted names.
func (e *TargetError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown service %q", e.Name)
	}
	return fmt.Sprintf("unknown service %q (valid: %s)", e.Name, strings.Join(e.Known, ", "))
}

// =============================================================================
// ExternalCommandError
// =============================================================================

// ExternalCommandError wraps a failed external command with its step and
// captured output.
//
// # Description
//
// Provides rich error context for command failures, including the step
// that was running, the command line, exit code and stderr output.
// Implements the error interface and supports unwrapping via errors.Is/As.
//
// # Thread Safety
//
// ExternalCommandError is immutable after creation and safe for concurrent reads.
//
// # Example
//
//	err := NewExternalCommandError("build", "docker compose build", 1, "", "no space left", nil)
//	fmt.Println(err.Error()) // "build: docker compose build (exit 1): no space left"
//
// # Limitations
//
//   - Output is stored as strings, not streamed
//   - Large output consumes memory
type ExternalCommandError struct {
	// Step is the lifecycle step that issued the command.
	Step string

	// Command is the display form of the command line.
	Command string

	// ExitCode is the process exit code (-1 if it never ran).
	ExitCode int

	// Signaled is true when the process was terminated by a signal.
	Signaled bool

	// Stdout contains captured standard output (trimmed).
	Stdout string

	// Stderr contains captured standard error (trimmed).
	Stderr string

	// Err is the underlying error (may be nil).
	Err error
}

// Error returns a formatted error message.
//
// # Description
//
// Includes the step, the command and the exit code. Stderr takes priority
// over the wrapped error in the message.
//
// # Example
//
//	err := &ExternalCommandError{Step: "up", Command: "docker compose up -d", ExitCode: 1, Stderr: "port in use"}
//	fmt.Println(err.Error()) // "up: docker compose up -d (exit 1): port in use"
func (e *ExternalCommandError) Error() string {
	prefix := e.Command
	if e.Step != "" {
		prefix = e.Step + ": " + e.Command
	}
	status := fmt.Sprintf("exit %d", e.ExitCode)
	if e.Signaled {
		status = "terminated by signal"
	}
	if e.Stderr != "" {
		return fmt.Sprintf("%s (%s): %s", prefix, status, e.Stderr)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", prefix, status, e.Err)
	}
	return fmt.Sprintf("%s (%s)", prefix, status)
}

// Unwrap returns the underlying error.
func (e *ExternalCommandError) Unwrap() error {
	return e.Err
}

// HasStderr returns true if stderr output is available.
func (e *ExternalCommandError) HasStderr() bool {
	return e.Stderr != ""
}

// NewExternalCommandError creates an ExternalCommandError with trimmed output.
//
// # Inputs
//
//   - step: Lifecycle step name (e.g., "build")
//   - cmd: The command that was executed (e.g., "docker compose build")
//   - exitCode: Process exit code (-1 if unknown)
//   - stdout: Standard output (will be trimmed)
//   - stderr: Standard error output (will be trimmed)
//   - wrapped: Underlying error (may be nil)
//
// # Outputs
//
//   - *ExternalCommandError: New error with full context
func NewExternalCommandError(step, cmd string, exitCode int, stdout, stderr string, wrapped error) *ExternalCommandError {
	return &ExternalCommandError{
		Step:     step,
		Command:  cmd,
		ExitCode: exitCode,
		Stdout:   strings.TrimSpace(stdout),
		Stderr:   strings.TrimSpace(stderr),
		Err:      wrapped,
	}
}

// ExtractStderr walks the error chain and returns the first non-empty
// stderr found on an ExternalCommandError, or "" if there is none.
func ExtractStderr(err error) string {
	var extErr *ExternalCommandError
	for err != nil {
		if errors.As(err, &extErr) {
			if extErr.HasStderr() {
				return extErr.Stderr
			}
			err = extErr.Err
			continue
		}
		break
	}
	return ""
}

// =============================================================================
// TimeoutError
// =============================================================================

// TimeoutError reports that a bounded wait expired before its condition
// was met. Maps to exit code [ExitTimeout].
type TimeoutError struct {
	// Step is the step that was waiting.
	Step string

	// Waited is the bound that expired.
	Waited time.Duration

	// Err is the last observed failure (may be nil).
	Err error
}

// Error returns a formatted error message.
func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s: timed out after %s", e.Step, e.Waited)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the last observed failure.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// =============================================================================
// PartialCleanupError
// =============================================================================

// CleanupFailure is one resource kind that could not be removed.
type CleanupFailure struct {
	Kind string
	Err  error
}

// PartialCleanupError aggregates the failures of a best-effort teardown.
// Every kind was attempted; the listed ones failed.
type PartialCleanupError struct {
	Failures []CleanupFailure
}

// Error lists each failed kind.
func (e *PartialCleanupError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Kind, f.Err))
	}
	return "cleanup incomplete: " + strings.Join(parts, "; ")
}

// Unwrap exposes every failure to errors.Is/As.
func (e *PartialCleanupError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// =============================================================================
// ExitStatus
// =============================================================================

// ExitStatus carries a passthrough child's non-zero exit code up to main.
type ExitStatus struct {
	Code int
}

// Error implements error.
func (e *ExitStatus) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Compile-time interface satisfaction checks
var (
	_ error = (*ConfigError)(nil)
	_ error = (*ProfileError)(nil)
	_ error = (*TargetError)(nil)
	_ error = (*ExternalCommandError)(nil)
	_ error = (*TimeoutError)(nil)
	_ error = (*PartialCleanupError)(nil)
	_ error = (*ExitStatus)(nil)
)

// =============================================================================
// Exit Code Mapping
// =============================================================================

// ExitCode maps an error returned by a lifecycle operation to the process
// exit code.
//
// # Description
//
// Checked in order: nil, passthrough exit status, interruption, user abort,
// timeout, then the typed error kinds. A timeout wrapping a command failure
// is reported as a timeout. Anything unrecognized is [ExitFailure].
//
// # Example
//
//	if err := cmd.Execute(); err != nil {
//	    os.Exit(util.ExitCode(err))
//	}
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		status   *ExitStatus
		timeout  *TimeoutError
		cfgErr   *ConfigError
		profErr  *ProfileError
		target   *TargetError
		external *ExternalCommandError
		partial  *PartialCleanupError
	)

	switch {
	case errors.As(err, &status):
		return status.Code
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, ErrAborted):
		return ExitAborted
	case errors.As(err, &timeout):
		return ExitTimeout
	case errors.As(err, &cfgErr):
		return ExitConfig
	case errors.As(err, &profErr):
		return ExitProfile
	case errors.As(err, &target):
		return ExitTarget
	case errors.As(err, &partial), errors.As(err, &external):
		return ExitExternal
	default:
		return ExitFailure
	}
}
