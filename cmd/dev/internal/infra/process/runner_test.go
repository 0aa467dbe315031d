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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
)

func sh(step, script string) Invocation {
	return Invocation{Step: step, Program: "sh", Args: []string{"-c", script}}
}

// =============================================================================
// Invocation Tests
// =============================================================================

func TestInvocation_Validate(t *testing.T) {
	assert.ErrorIs(t, Invocation{}.Validate(), ErrEmptyProgram)
	assert.ErrorIs(t, Invocation{Program: "  "}.Validate(), ErrEmptyProgram)
	assert.NoError(t, Invocation{Program: "docker"}.Validate())
}

func TestInvocation_String(t *testing.T) {
	inv := Invocation{Program: "docker", Args: []string{"compose", "exec", "php", "sh", "-c", "echo it's"}}
	assert.Equal(t, `docker compose exec php sh -c 'echo it'\''s'`, inv.String())
	assert.Equal(t, "git clone '' dir", Invocation{Program: "git", Args: []string{"clone", "", "dir"}}.String())
}

// =============================================================================
// DefaultRunner Tests
// =============================================================================

func TestDefaultRunner_Run_Success(t *testing.T) {
	r := NewDefaultRunner(nil)

	res := r.Run(context.Background(), sh("echo", "echo hello; echo oops >&2"))

	assert.True(t, res.Success())
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, "echo", res.Step)
	assert.NoError(t, res.AsError())
}

func TestDefaultRunner_Run_NonZeroExit(t *testing.T) {
	r := NewDefaultRunner(nil)

	res := r.Run(context.Background(), sh("fail", "echo bad >&2; exit 3"))

	assert.False(t, res.Success())
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Signaled)

	var extErr *util.ExternalCommandError
	require.True(t, errors.As(res.AsError(), &extErr))
	assert.Equal(t, "fail", extErr.Step)
	assert.Equal(t, 3, extErr.ExitCode)
	assert.Equal(t, "bad", extErr.Stderr)
}

func TestDefaultRunner_Run_Signaled(t *testing.T) {
	r := NewDefaultRunner(nil)

	res := r.Run(context.Background(), sh("signal", "kill -TERM $$"))

	assert.False(t, res.Success())
	assert.True(t, res.Signaled)
	assert.Equal(t, -1, res.ExitCode)
	assert.NotEmpty(t, res.Signal)
}

func TestDefaultRunner_Run_MissingBinary(t *testing.T) {
	r := NewDefaultRunner(nil)

	res := r.Run(context.Background(), Invocation{Step: "missing", Program: "definitely-not-a-real-binary-xyz"})

	assert.False(t, res.Success())
	assert.Equal(t, -1, res.ExitCode)
	assert.Error(t, res.Err)
}

func TestDefaultRunner_Run_EmptyProgram(t *testing.T) {
	r := NewDefaultRunner(nil)

	res := r.Run(context.Background(), Invocation{Step: "empty"})

	assert.ErrorIs(t, res.Err, ErrEmptyProgram)
	assert.False(t, res.Success())
}

func TestDefaultRunner_Run_EnvOverlayAndDir(t *testing.T) {
	r := NewDefaultRunner(nil)
	dir := t.TempDir()
	env, err := util.NewEnvVars(util.EnvVar{Key: "DEV_TEST_VALUE", Value: "overlay"})
	require.NoError(t, err)

	inv := sh("env", `printf '%s %s' "$DEV_TEST_VALUE" "$(pwd)"`)
	inv.Env = env
	inv.Dir = dir

	res := r.Run(context.Background(), inv)

	require.True(t, res.Success(), res.Stderr)
	assert.True(t, strings.HasPrefix(res.Stdout, "overlay "))
	assert.True(t, strings.HasSuffix(res.Stdout, dir) || strings.Contains(res.Stdout, "/"))
}

func TestDefaultRunner_Run_StreamsOutput(t *testing.T) {
	r := NewDefaultRunner(nil)
	var buf bytes.Buffer

	inv := sh("stream", "echo one; echo two")
	inv.Output = &buf

	res := r.Run(context.Background(), inv)

	require.True(t, res.Success())
	assert.Equal(t, "one\ntwo\n", buf.String())
	assert.Empty(t, res.Stdout, "streamed output is not captured")
}

func TestDefaultRunner_Run_ContextCancelled(t *testing.T) {
	r := NewDefaultRunner(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Run(ctx, sh("sleep", "sleep 5"))

	assert.False(t, res.Success())
	assert.ErrorIs(t, res.Err, context.Canceled)
}

// =============================================================================
// RunSequence Tests
// =============================================================================

func TestDefaultRunner_RunSequence_StopOnFailure(t *testing.T) {
	r := NewDefaultRunner(nil)

	results := r.RunSequence(context.Background(), []Invocation{
		sh("one", "true"),
		sh("two", "exit 1"),
		sh("three", "true"),
	}, true)

	require.Len(t, results, 2)
	assert.True(t, results[0].Success())
	assert.False(t, results[1].Success())

	var extErr *util.ExternalCommandError
	require.True(t, errors.As(Failures(results), &extErr))
	assert.Equal(t, "two", extErr.Step)
}

func TestDefaultRunner_RunSequence_ContinueOnFailure(t *testing.T) {
	r := NewDefaultRunner(nil)

	results := r.RunSequence(context.Background(), []Invocation{
		sh("one", "exit 1"),
		sh("two", "exit 2"),
		sh("three", "true"),
	}, false)

	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].ExitCode)
	assert.Equal(t, 2, results[1].ExitCode)
	assert.True(t, results[2].Success())
}

func TestFailures_JoinsEveryFailure(t *testing.T) {
	results := []Result{
		{Step: "one", Command: "git fetch", ExitCode: 0},
		{Step: "two", Command: "docker rmi --force a", ExitCode: 1},
		{Step: "three", Command: "docker rmi --force b", ExitCode: 2},
	}

	err := Failures(results)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "two: docker rmi --force a (exit 1)")
	assert.Contains(t, err.Error(), "three: docker rmi --force b (exit 2)")
	assert.NotContains(t, err.Error(), "git fetch")
	assert.NoError(t, Failures(results[:1]))
	assert.NoError(t, Failures(nil))
}

func TestRunSequence_CancelledContextIssuesNothing(t *testing.T) {
	mock := NewMockRunner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := mock.RunSequence(ctx, []Invocation{sh("one", "true")}, true)

	assert.Empty(t, results)
	assert.Empty(t, mock.Calls)
}

// =============================================================================
// MockRunner Tests
// =============================================================================

func TestMockRunner_LongestPrefixWins(t *testing.T) {
	mock := NewMockRunner().
		On("docker compose", Result{ExitCode: 1}).
		On("docker compose ps", Result{Stdout: "[]"})

	ps := mock.Run(context.Background(), Invocation{Step: "ps", Program: "docker", Args: []string{"compose", "ps", "-a"}})
	up := mock.Run(context.Background(), Invocation{Step: "up", Program: "docker", Args: []string{"compose", "up", "-d"}})
	other := mock.Run(context.Background(), Invocation{Step: "git", Program: "git", Args: []string{"clone"}})

	assert.True(t, ps.Success())
	assert.Equal(t, "[]", ps.Stdout)
	assert.False(t, up.Success())
	assert.True(t, other.Success())
	assert.Equal(t, []string{"ps", "up", "git"}, mock.Steps())
	assert.Equal(t, "docker compose up -d", mock.Commands()[1])
}

func TestMockRunner_WritesStdoutToOutput(t *testing.T) {
	mock := NewMockRunner().On("docker compose logs", Result{Stdout: "php-1 | ready\n"})
	var buf bytes.Buffer

	res := mock.Run(context.Background(), Invocation{Program: "docker", Args: []string{"compose", "logs"}, Output: &buf})

	assert.True(t, res.Success())
	assert.Equal(t, "php-1 | ready\n", buf.String())
}

func TestMockRunner_RunFuncOverrides(t *testing.T) {
	mock := NewMockRunner()
	mock.RunFunc = func(ctx context.Context, inv Invocation) Result {
		return Result{Step: inv.Step, ExitCode: 9}
	}

	res := mock.Run(context.Background(), sh("x", "true"))

	assert.Equal(t, 9, res.ExitCode)
	assert.Len(t, mock.Calls, 1)

	mock.Reset()
	assert.Empty(t, mock.Calls)
}
