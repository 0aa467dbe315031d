// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compose

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/devenv/cmd/dev/internal/infra/process"
	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
)

func newTestExecutor(t *testing.T, runner *process.MockRunner) *DefaultExecutor {
	t.Helper()
	exec, err := NewDefaultExecutor(Config{
		ProjectDir:  "/srv/stack",
		ProjectName: "symfony",
		Env:         map[string]string{"MYSQL_PASSWORD": "pw", "HTTP_PORT": "80"},
	}, runner, nil)
	require.NoError(t, err)
	exec.SetBinary("docker", "compose")
	exec.stdinIsTTY = func() bool { return true }
	return exec
}

func TestNewDefaultExecutor_Validation(t *testing.T) {
	runner := process.NewMockRunner()

	_, err := NewDefaultExecutor(Config{}, runner, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewDefaultExecutor(Config{ProjectDir: "/x"}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewDefaultExecutor(Config{ProjectDir: "/x", Env: map[string]string{"BAD KEY": "v"}}, runner, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestExecutor_CommandLines(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		call func(e *DefaultExecutor) error
		want string
	}{
		{"build", func(e *DefaultExecutor) error { return e.Build(ctx, BuildOptions{}) }, "docker compose build"},
		{"build no cache", func(e *DefaultExecutor) error { return e.Build(ctx, BuildOptions{NoCache: true}) }, "docker compose build --no-cache"},
		{"up services", func(e *DefaultExecutor) error {
			return e.Up(ctx, UpOptions{Services: []string{"mysql"}})
		}, "docker compose up -d mysql"},
		{"up recreate", func(e *DefaultExecutor) error {
			return e.Up(ctx, UpOptions{ForceRecreate: true, Build: true})
		}, "docker compose up -d --build --force-recreate"},
		{"start", func(e *DefaultExecutor) error { return e.Start(ctx) }, "docker compose start"},
		{"stop", func(e *DefaultExecutor) error { return e.Stop(ctx, "php") }, "docker compose stop php"},
		{"restart", func(e *DefaultExecutor) error { return e.Restart(ctx) }, "docker compose restart"},
		{"down", func(e *DefaultExecutor) error {
			return e.Down(ctx, DownOptions{RemoveOrphans: true})
		}, "docker compose down --remove-orphans"},
		{"down volumes", func(e *DefaultExecutor) error {
			return e.Down(ctx, DownOptions{RemoveVolumes: true})
		}, "docker compose down -v"},
		{"remove image", func(e *DefaultExecutor) error {
			return e.RemoveImages(ctx, []string{"nginx:alpine"})
		}, "docker rmi --force nginx:alpine"},
		{"remove volumes", func(e *DefaultExecutor) error {
			return e.RemoveVolumes(ctx, []string{"symfony_db"})
		}, "docker volume rm --force symfony_db"},
		{"prune", func(e *DefaultExecutor) error { return e.PruneBuildCache(ctx) }, "docker builder prune --all --force"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := process.NewMockRunner()
			exec := newTestExecutor(t, runner)

			require.NoError(t, tt.call(exec))
			assert.Equal(t, []string{tt.want}, runner.Commands())
		})
	}
}

func TestExecutor_RemoveImagesAttemptsEvery(t *testing.T) {
	runner := process.NewMockRunner()
	runner.On("docker rmi --force mysql:8.0", process.Result{ExitCode: 1, Stderr: "image is being used"})
	exec := newTestExecutor(t, runner)

	err := exec.RemoveImages(context.Background(), []string{"nginx:alpine", "mysql:8.0", "symfony-php"})

	var extErr *util.ExternalCommandError
	require.True(t, errors.As(err, &extErr), "got %v", err)
	assert.Equal(t, 1, extErr.ExitCode)
	assert.Equal(t, []string{
		"docker rmi --force nginx:alpine",
		"docker rmi --force mysql:8.0",
		"docker rmi --force symfony-php",
	}, runner.Commands())
}

func TestExecutor_EnvironmentOverlay(t *testing.T) {
	runner := process.NewMockRunner()
	exec := newTestExecutor(t, runner)

	require.NoError(t, exec.Start(context.Background()))

	require.Len(t, runner.Calls, 1)
	inv := runner.Calls[0]
	assert.Equal(t, "/srv/stack", inv.Dir)
	assert.Equal(t, "pw", inv.Env.Get("MYSQL_PASSWORD"))
	assert.Equal(t, "symfony", inv.Env.Get("COMPOSE_PROJECT_NAME"))
	assert.Contains(t, inv.Env.RedactedSlice(), "MYSQL_PASSWORD=[REDACTED]")
}

func TestExecutor_ComposeFiles(t *testing.T) {
	runner := process.NewMockRunner()
	exec, err := NewDefaultExecutor(Config{
		ProjectDir: "/srv/stack",
		Files:      []string{"compose.yml", "compose.override.yml"},
	}, runner, nil)
	require.NoError(t, err)
	exec.SetBinary("docker-compose")

	require.NoError(t, exec.Stop(context.Background()))
	assert.Equal(t, []string{"docker-compose -f compose.yml -f compose.override.yml stop"}, runner.Commands())
}

func TestExecutor_FailureIsExternalCommandError(t *testing.T) {
	runner := process.NewMockRunner().
		On("docker compose build", process.Result{ExitCode: 1, Stderr: "no space left on device"})
	exec := newTestExecutor(t, runner)

	err := exec.Build(context.Background(), BuildOptions{})

	var extErr *util.ExternalCommandError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, "build", extErr.Step)
	assert.Equal(t, 1, extErr.ExitCode)
	assert.Equal(t, "no space left on device", extErr.Stderr)
}

func TestExecutor_Detect(t *testing.T) {
	t.Run("plugin", func(t *testing.T) {
		runner := process.NewMockRunner()
		exec, err := NewDefaultExecutor(Config{ProjectDir: "/p"}, runner, nil)
		require.NoError(t, err)

		require.NoError(t, exec.Stop(context.Background()))
		require.NoError(t, exec.Stop(context.Background()))
		assert.Equal(t, []string{"docker compose version", "docker compose stop", "docker compose stop"}, runner.Commands())
	})

	t.Run("legacy binary", func(t *testing.T) {
		runner := process.NewMockRunner().
			On("docker compose version", process.Result{ExitCode: 1, Stderr: "'compose' is not a docker command"})
		exec, err := NewDefaultExecutor(Config{ProjectDir: "/p"}, runner, nil)
		require.NoError(t, err)

		require.NoError(t, exec.Stop(context.Background()))
		assert.Equal(t, []string{"docker compose version", "docker-compose version", "docker-compose stop"}, runner.Commands())
	})

	t.Run("none", func(t *testing.T) {
		runner := process.NewMockRunner().
			On("docker compose version", process.Result{ExitCode: 1}).
			On("docker-compose version", process.Result{ExitCode: -1, Err: errors.New("executable file not found")})
		exec, err := NewDefaultExecutor(Config{ProjectDir: "/p"}, runner, nil)
		require.NoError(t, err)

		assert.ErrorIs(t, exec.Stop(context.Background()), ErrComposeNotFound)
	})
}

func TestExecutor_CheckDaemon(t *testing.T) {
	runner := process.NewMockRunner().
		On("docker info", process.Result{ExitCode: 1, Stderr: "Cannot connect to the Docker daemon"})
	exec := newTestExecutor(t, runner)

	err := exec.CheckDaemon(context.Background())
	assert.ErrorIs(t, err, ErrDockerUnavailable)
	assert.Equal(t, util.ExitExternal, util.ExitCode(err))

	runner = process.NewMockRunner()
	exec = newTestExecutor(t, runner)
	assert.NoError(t, exec.CheckDaemon(context.Background()))
}

func TestExecutor_Exec(t *testing.T) {
	t.Run("interactive on a terminal", func(t *testing.T) {
		runner := process.NewMockRunner()
		exec := newTestExecutor(t, runner)

		res := exec.Exec(context.Background(), ExecOptions{
			Service:     "php",
			Command:     []string{"composer", "install"},
			Interactive: true,
			Step:        "composer",
		})
		require.True(t, res.Success())
		assert.Equal(t, []string{"docker compose exec php composer install"}, runner.Commands())
		assert.True(t, runner.Calls[0].Interactive)
		assert.Equal(t, "composer", runner.Calls[0].Step)
	})

	t.Run("interactive without a terminal disables tty", func(t *testing.T) {
		runner := process.NewMockRunner()
		exec := newTestExecutor(t, runner)
		exec.stdinIsTTY = func() bool { return false }

		exec.Exec(context.Background(), ExecOptions{Service: "php", Command: []string{"bash"}, Interactive: true})
		assert.Equal(t, []string{"docker compose exec -T php bash"}, runner.Commands())
	})

	t.Run("env values never on the command line", func(t *testing.T) {
		runner := process.NewMockRunner()
		exec := newTestExecutor(t, runner)
		env, err := util.NewEnvVars(util.EnvVar{Key: "MYSQL_PWD", Value: "topsecret", Sensitive: true})
		require.NoError(t, err)

		exec.Exec(context.Background(), ExecOptions{
			Service: "mysql",
			Command: []string{"mysql", "-usymfony", "symfony"},
			Env:     env,
		})
		cmd := runner.Commands()[0]
		assert.Equal(t, "docker compose exec -T -e MYSQL_PWD mysql mysql -usymfony symfony", cmd)
		assert.NotContains(t, cmd, "topsecret")
		assert.Equal(t, "topsecret", runner.Calls[0].Env.Get("MYSQL_PWD"))
	})

	t.Run("exit code is preserved", func(t *testing.T) {
		runner := process.NewMockRunner().On("docker compose exec", process.Result{ExitCode: 3})
		exec := newTestExecutor(t, runner)

		res := exec.Exec(context.Background(), ExecOptions{Service: "php", Command: []string{"false"}})
		assert.Equal(t, 3, res.ExitCode)
	})

	t.Run("empty command", func(t *testing.T) {
		runner := process.NewMockRunner()
		exec := newTestExecutor(t, runner)

		res := exec.Exec(context.Background(), ExecOptions{Service: "php"})
		assert.ErrorIs(t, res.Err, ErrEmptyExecCommand)
		assert.Empty(t, runner.Calls)
	})
}

func TestExecutor_Logs(t *testing.T) {
	runner := process.NewMockRunner().On("docker compose logs", process.Result{Stdout: "php-1 | ready\n"})
	exec := newTestExecutor(t, runner)

	var buf bytes.Buffer
	err := exec.Logs(context.Background(), LogsOptions{Services: []string{"php"}, Tail: 50}, &buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"docker compose logs --tail 50 php"}, runner.Commands())
	assert.Equal(t, "php-1 | ready\n", buf.String())
}

func TestExecutor_LogsFollowCancelledIsSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := process.NewMockRunner()
	runner.RunFunc = func(ctx context.Context, inv process.Invocation) process.Result {
		cancel()
		return process.Result{ExitCode: -1, Signaled: true, Err: ctx.Err()}
	}
	exec := newTestExecutor(t, runner)

	err := exec.Logs(ctx, LogsOptions{Follow: true}, &bytes.Buffer{})
	assert.NoError(t, err)
}

func TestExecutor_Ps(t *testing.T) {
	runner := process.NewMockRunner().On("docker compose ps", process.Result{
		Stdout: `{"Name":"symfony-php-1","Service":"php","State":"running","Health":"","Status":"Up 3 minutes"}
{"Name":"symfony-mysql-1","Service":"mysql","State":"running","Health":"healthy","Status":"Up 3 minutes (healthy)"}
`,
	})
	exec := newTestExecutor(t, runner)

	containers, err := exec.Ps(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"docker compose ps --format json --all"}, runner.Commands())
	require.Len(t, containers, 2)
	assert.Equal(t, "mysql", containers[0].Service)
	assert.Equal(t, "healthy", containers[0].Health)
	assert.True(t, containers[1].Running())
}

func TestExecutor_ImagePresent(t *testing.T) {
	runner := process.NewMockRunner().
		On("docker image inspect --format {{.Id}} missing", process.Result{ExitCode: 1, Stderr: "Error: No such image: missing"}).
		On("docker image inspect --format {{.Id}} broken", process.Result{ExitCode: 1, Stderr: "permission denied"})
	exec := newTestExecutor(t, runner)
	ctx := context.Background()

	present, err := exec.ImagePresent(ctx, "nginx:alpine")
	require.NoError(t, err)
	assert.True(t, present)

	present, err = exec.ImagePresent(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, present)

	_, err = exec.ImagePresent(ctx, "broken")
	assert.Error(t, err)
}

func TestExecutor_ConfigImagesAndVolumes(t *testing.T) {
	runner := process.NewMockRunner().
		On("docker compose config --images", process.Result{Stdout: "nginx:alpine\nmysql:8.0\nnginx:alpine\n"}).
		On("docker volume ls", process.Result{Stdout: "symfony_db_data\n"})
	exec := newTestExecutor(t, runner)
	ctx := context.Background()

	images, err := exec.ConfigImages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"nginx:alpine", "mysql:8.0"}, images)

	volumes, err := exec.ProjectVolumes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"symfony_db_data"}, volumes)
	assert.Contains(t, runner.Commands()[1], "label=com.docker.compose.project=symfony")

	require.NoError(t, exec.RemoveVolumes(ctx, nil))
	assert.Len(t, runner.Calls, 2, "removing no volumes issues no command")
}

func TestParseContainers(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    []Container
		wantErr bool
	}{
		{name: "empty", output: "  \n", want: nil},
		{
			name:   "json array",
			output: `[{"Name":"stack-nginx-1","Service":"nginx","State":"exited","ExitCode":137}]`,
			want:   []Container{{Name: "stack-nginx-1", Service: "nginx", State: "exited", ExitCode: 137}},
		},
		{
			name:   "service derived from name",
			output: `[{"Name":"stack_php_1","State":"running","Status":"Up 1 minute (unhealthy)"}]`,
			want:   []Container{{Name: "stack_php_1", Service: "php", State: "running", Status: "Up 1 minute (unhealthy)", Health: "unhealthy"}},
		},
		{name: "garbage", output: "not json", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseContainers(tt.output)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeProjectName(t *testing.T) {
	assert.Equal(t, "symfony-dev", NormalizeProjectName("Symfony-Dev"))
	assert.Equal(t, "mystack", NormalizeProjectName("_My Stack!"))
}
