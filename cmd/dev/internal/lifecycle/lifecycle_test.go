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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/devenv/cmd/dev/config"
	"github.com/AleutianAI/devenv/cmd/dev/internal/configstore"
	"github.com/AleutianAI/devenv/cmd/dev/internal/health"
	"github.com/AleutianAI/devenv/cmd/dev/internal/infra/compose"
	"github.com/AleutianAI/devenv/cmd/dev/internal/infra/process"
	"github.com/AleutianAI/devenv/cmd/dev/internal/profile"
	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
)

// =============================================================================
// Test Doubles
// =============================================================================

type fakePrompter struct {
	confirm    bool
	confirmErr error
	input      string
	inputErr   error

	confirms int
	inputs   []string
}

func (p *fakePrompter) Confirm(title, description string) (bool, error) {
	p.confirms++
	return p.confirm, p.confirmErr
}

func (p *fakePrompter) Input(title, description string) (string, error) {
	p.inputs = append(p.inputs, title)
	return p.input, p.inputErr
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	finished []StepReport
}

func (o *recordingObserver) StepStarted(name, description string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, name)
}

func (o *recordingObserver) StepFinished(step StepReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, step)
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	dir      string
	home     string
	runner   *process.MockRunner
	store    *configstore.Store
	settings config.StackConfig
	prompter *fakePrompter
	observer *recordingObserver
	probe    health.ProbeFunc
	probes   int
	ctrl     *Controller
}

func newHarness(t *testing.T, tweak ...func(*harness)) *harness {
	t.Helper()
	h := &harness{
		dir:      t.TempDir(),
		home:     t.TempDir(),
		runner:   process.NewMockRunner(),
		settings: config.DefaultConfig(),
		observer: &recordingObserver{},
	}
	h.store = configstore.New(h.dir)
	h.settings.Profile.RCFile = filepath.Join(h.home, ".bashrc")
	h.settings.Readiness.InitialInterval = 5 * time.Millisecond
	h.settings.Readiness.MaxInterval = 10 * time.Millisecond
	h.settings.Readiness.MaxWait = 100 * time.Millisecond
	h.probe = func(context.Context) error { return nil }

	for _, fn := range tweak {
		fn(h)
	}

	deps := Deps{
		ProjectDir: h.dir,
		Settings:   h.settings,
		Store:      h.store,
		Runner:     h.runner,
		Compose: func(env map[string]string) (compose.Executor, error) {
			exec, err := compose.NewDefaultExecutor(compose.Config{ProjectDir: h.dir, ProjectName: "devtest", Env: env}, h.runner, nil)
			if err != nil {
				return nil, err
			}
			exec.SetBinary("docker", "compose")
			return exec, nil
		},
		Profile: profile.NewInstaller(filepath.Join(h.home, ".bash_aliases")),
		Probe: func(compose.Executor) health.Probe {
			return health.ProbeFunc(func(ctx context.Context) error {
				h.probes++
				return h.probe(ctx)
			})
		},
		Observer: h.observer,
	}
	if h.prompter != nil {
		deps.Prompter = h.prompter
	}

	ctrl, err := New(deps)
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

// configure writes a configuration without going through Init.
func (h *harness) configure(t *testing.T) configstore.Config {
	t.Helper()
	cfg, err := h.store.InitializeFromTemplate(nil, false)
	require.NoError(t, err)
	return cfg
}

// indexOf returns the position of the first command containing substr.
func (h *harness) indexOf(substr string) int {
	for i, cmd := range h.runner.Commands() {
		if strings.Contains(cmd, substr) {
			return i
		}
	}
	return -1
}

func (h *harness) ran(substr string) bool {
	return h.indexOf(substr) >= 0
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_Validation(t *testing.T) {
	runner := process.NewMockRunner()
	store := configstore.New(t.TempDir())

	_, err := New(Deps{Store: store, Runner: runner})
	assert.Error(t, err, "project dir required")

	_, err = New(Deps{ProjectDir: "/srv", Runner: runner})
	assert.Error(t, err, "store required")

	_, err = New(Deps{ProjectDir: "/srv", Store: store})
	assert.Error(t, err, "runner required")

	ctrl, err := New(Deps{ProjectDir: "/srv", Store: store, Runner: runner})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Services, ctrl.Settings().Services)
}

// =============================================================================
// Service Enumeration
// =============================================================================

func TestParseService(t *testing.T) {
	tests := []struct {
		input string
		want  Service
	}{
		{"nginx", ServiceProxy},
		{"web", ServiceProxy},
		{"PHP", ServiceApp},
		{"app", ServiceApp},
		{" db ", ServiceDatabase},
		{"database", ServiceDatabase},
		{"mysql", ServiceDatabase},
		{"pma", ServiceAdmin},
		{"phpmyadmin", ServiceAdmin},
		{"logs", ServiceLogViewer},
		{"frontend", ServiceFrontend},
		{"vue", ServiceFrontend},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseService(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseService_Unknown(t *testing.T) {
	_, err := ParseService("redis")

	var target *util.TargetError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "redis", target.Name)
	assert.Contains(t, target.Known, "php")
	assert.Contains(t, target.Known, "db")
	assert.Equal(t, util.ExitTarget, util.ExitCode(err))
}

func TestService_ShellAndTier(t *testing.T) {
	assert.Equal(t, "sh", ServiceProxy.Shell())
	assert.Equal(t, "bash", ServiceApp.Shell())
	assert.Equal(t, "sh", ServiceFrontend.Shell())
	assert.Equal(t, TierDatabase, ServiceDatabase.Tier())
	assert.Equal(t, TierApplication, ServiceApp.Tier())
	assert.Equal(t, TierEdge, ServiceAdmin.Tier())
	assert.Equal(t, "application", TierApplication.String())
}

// =============================================================================
// Init
// =============================================================================

func TestInit_FreshProject(t *testing.T) {
	h := newHarness(t)

	report, err := h.ctrl.Init(context.Background(), InitOptions{RepoURL: "git@github.com:acme/api.git"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"configure", "docker-check", "clone:symfony-api", "build",
		"up:database", "up:application", "up:edge",
		"wait-ready", "composer-install", "aliases",
	}, report.StepNames())
	assert.Empty(t, report.FailedStep)
	assert.NotEmpty(t, report.OperationID)

	composerStep, _ := report.Step("composer-install")
	assert.Equal(t, StepSkipped, composerStep.Outcome, "clone is mocked so there is no composer.json")

	cfg, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "git@github.com:acme/api.git", cfg.Values()[configstore.KeyGitHubRepo])
	assert.Equal(t, strconv.Itoa(os.Getuid()), cfg.Values()[configstore.KeyUserID])

	target := filepath.Join(h.dir, "projects", "symfony-api")
	assert.True(t, h.ran("git clone git@github.com:acme/api.git "+target))
	assert.False(t, h.ran("ape-management-frontend"), "frontend is disabled by default")

	build := h.indexOf("docker compose build")
	db := h.indexOf("docker compose up -d mysql")
	app := h.indexOf("docker compose up -d php")
	edge := h.indexOf("docker compose up -d nginx phpmyadmin dozzle")
	require.True(t, build >= 0 && db >= 0 && app >= 0 && edge >= 0, "commands: %v", h.runner.Commands())
	assert.True(t, build < db && db < app && app < edge)
	assert.Equal(t, 1, h.probes)

	aliases, err := os.ReadFile(filepath.Join(h.home, ".bash_aliases"))
	require.NoError(t, err)
	assert.Contains(t, string(aliases), "alias dcomposer='dev composer'")

	assert.Equal(t, report.StepNames(), h.observer.started)
}

func TestInit_ExistingConfigWithoutForce(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	before, err := os.ReadFile(h.store.Path())
	require.NoError(t, err)

	report, err := h.ctrl.Init(context.Background(), InitOptions{})

	assert.Nil(t, report)
	assert.True(t, util.IsConfigKind(err, util.ConfigAlreadyExists), "got %v", err)
	assert.Equal(t, util.ExitConfig, util.ExitCode(err))
	assert.Empty(t, h.runner.Commands(), "no external command before the check")

	after, err := os.ReadFile(h.store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestInit_ForceRewritesAndReruns(t *testing.T) {
	h := newHarness(t)
	before := h.configure(t)

	report, err := h.ctrl.Init(context.Background(), InitOptions{Force: true, SkipAliases: true})
	require.NoError(t, err)
	assert.True(t, h.ran("docker compose build"))

	after, err := h.store.Load()
	require.NoError(t, err)
	for _, key := range []string{configstore.KeyMySQLPassword, configstore.KeyMySQLRootPassword, configstore.KeyAppSecret} {
		want, _ := before.Get(key)
		got, _ := after.Get(key)
		assert.Equal(t, want, got, "%s must match the existing database volume", key)
	}

	aliasStep, ok := report.Step("aliases")
	require.True(t, ok)
	assert.Equal(t, StepSkipped, aliasStep.Outcome)
	_, err = os.Stat(filepath.Join(h.home, ".bash_aliases"))
	assert.True(t, os.IsNotExist(err))
}

func TestInit_ProbeTimeout(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.probe = func(context.Context) error { return errors.New("connection refused") }
	})

	report, err := h.ctrl.Init(context.Background(), InitOptions{})

	var timeout *util.TimeoutError
	require.True(t, errors.As(err, &timeout), "got %v", err)
	assert.Equal(t, util.ExitTimeout, util.ExitCode(err))
	assert.Equal(t, "wait-ready", report.FailedStep)

	names := report.StepNames()
	assert.Equal(t, "wait-ready", names[len(names)-1])
	assert.NotContains(t, names, "composer-install")
	assert.NotContains(t, names, "aliases")

	assert.True(t, h.store.Exists(), "no rollback of the configuration")
	assert.False(t, h.ran("docker compose down"), "no rollback of containers")
	_, statErr := os.Stat(filepath.Join(h.home, ".bash_aliases"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestInit_BuildFailureStopsSequence(t *testing.T) {
	h := newHarness(t)
	h.runner.On("docker compose build", process.Result{ExitCode: 1, Stderr: "no space left on device"})

	report, err := h.ctrl.Init(context.Background(), InitOptions{})

	var extErr *util.ExternalCommandError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, "build", extErr.Step)
	assert.Contains(t, err.Error(), "no space left")
	assert.Equal(t, util.ExitExternal, util.ExitCode(err))
	assert.Equal(t, "build", report.FailedStep)
	assert.False(t, h.ran("docker compose up"))
	assert.Zero(t, h.probes)
}

func TestInit_DockerUnavailable(t *testing.T) {
	h := newHarness(t)
	h.runner.On("docker info", process.Result{ExitCode: 1, Stderr: "Cannot connect to the Docker daemon"})

	report, err := h.ctrl.Init(context.Background(), InitOptions{})

	assert.ErrorIs(t, err, compose.ErrDockerUnavailable)
	assert.Equal(t, "docker-check", report.FailedStep)
	assert.True(t, h.store.Exists())
	assert.False(t, h.ran("git clone"))
}

func TestInit_ComposerInstallWhenSourcePresent(t *testing.T) {
	h := newHarness(t)
	src := filepath.Join(h.dir, "projects", "symfony-api")
	require.NoError(t, os.MkdirAll(src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "composer.json"), []byte("{}"), 0644))

	report, err := h.ctrl.Init(context.Background(), InitOptions{RepoURL: "https://git.acme.dev/api.git"})
	require.NoError(t, err)

	clone, _ := report.Step("clone:symfony-api")
	assert.Equal(t, StepSkipped, clone.Outcome)
	assert.False(t, h.ran("git clone"))

	composer, _ := report.Step("composer-install")
	assert.Equal(t, StepDone, composer.Outcome)
	assert.True(t, h.ran("docker compose exec -T php composer install --no-interaction"))
	assert.Less(t, h.indexOf("up -d php"), h.indexOf("composer install"))
}

func TestInit_PromptsForRepository(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.prompter = &fakePrompter{input: " https://git.acme.dev/api.git "}
	})

	_, err := h.ctrl.Init(context.Background(), InitOptions{})
	require.NoError(t, err)

	assert.Len(t, h.prompter.inputs, 1)
	assert.True(t, h.ran("git clone https://git.acme.dev/api.git"))

	cfg, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://git.acme.dev/api.git", cfg.Values()[configstore.KeyGitHubRepo])
}

func TestInit_PromptWithoutTerminalSkipsClone(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.prompter = &fakePrompter{inputErr: util.ErrNoTerminal}
	})

	report, err := h.ctrl.Init(context.Background(), InitOptions{})
	require.NoError(t, err)

	clone, _ := report.Step("clone:symfony-api")
	assert.Equal(t, StepSkipped, clone.Outcome)
	assert.False(t, h.ran("git clone"))
}

func TestInit_CloneWithBranch(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, configstore.TemplateName), []byte(
		"APP_SECRET=\nMYSQL_ROOT_PASSWORD=\nMYSQL_DATABASE=app\nMYSQL_USER=app\nMYSQL_PASSWORD=\n"+
			"USER_ID=1000\nGROUP_ID=1000\nHTTP_PORT=80\nMYSQL_PORT=3306\nPMA_PORT=8080\nDOZZLE_PORT=8888\n"+
			"GITHUB_REPO=https://git.acme.dev/api.git\nGITHUB_BRANCH=develop\n"), 0644))

	_, err := h.ctrl.Init(context.Background(), InitOptions{})
	require.NoError(t, err)
	assert.True(t, h.ran("git clone --branch develop https://git.acme.dev/api.git"))
}

func TestInit_RejectsOptionLikeRepoURL(t *testing.T) {
	h := newHarness(t)

	report, err := h.ctrl.Init(context.Background(), InitOptions{RepoURL: "--upload-pack=touch /tmp/x"})

	assert.Nil(t, report)
	assert.True(t, util.IsConfigKind(err, util.ConfigInvalidValue), "got %v", err)
	assert.Equal(t, util.ExitConfig, util.ExitCode(err))
	assert.Empty(t, h.runner.Commands())
	assert.False(t, h.store.Exists())
}

func TestInit_RejectsBadBranch(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, configstore.TemplateName), []byte(
		"APP_SECRET=\nMYSQL_ROOT_PASSWORD=\nMYSQL_DATABASE=app\nMYSQL_USER=app\nMYSQL_PASSWORD=\n"+
			"USER_ID=1000\nGROUP_ID=1000\nHTTP_PORT=80\nMYSQL_PORT=3306\nPMA_PORT=8080\nDOZZLE_PORT=8888\n"+
			"GITHUB_REPO=https://git.acme.dev/api.git\nGITHUB_BRANCH=--orphan\n"), 0644))

	report, err := h.ctrl.Init(context.Background(), InitOptions{})

	assert.True(t, util.IsConfigKind(err, util.ConfigInvalidValue), "got %v", err)
	assert.Equal(t, "clone:symfony-api", report.FailedStep)
	assert.False(t, h.ran("git clone"))
}

func TestInit_FrontendCloneWhenEnabled(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.settings.Services = append(h.settings.Services, "vue")
	})

	report, err := h.ctrl.Init(context.Background(), InitOptions{
		RepoURL:         "https://git.acme.dev/api.git",
		FrontendRepoURL: "https://git.acme.dev/web.git",
	})
	require.NoError(t, err)
	assert.Contains(t, report.StepNames(), "clone:frontend")
	assert.True(t, h.ran("git clone https://git.acme.dev/web.git"))
	assert.True(t, h.ran("docker compose up -d nginx phpmyadmin dozzle vue"))
}

func TestInit_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.ctrl.Init(ctx, InitOptions{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, util.ExitInterrupted, util.ExitCode(err))
	assert.Equal(t, "configure", report.FailedStep)
	assert.False(t, h.store.Exists())
	assert.Empty(t, h.runner.Commands())
}

// =============================================================================
// Status and Phase
// =============================================================================

func TestStatus_Uninitialized(t *testing.T) {
	h := newHarness(t)

	report, err := h.ctrl.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseUninitialized, report.Phase)
	assert.Len(t, report.Services, 5)
	assert.Equal(t, StateAbsent, report.Services[0].State)
	assert.Empty(t, h.runner.Commands(), "docker is not consulted")
}

func TestStatus_Phases(t *testing.T) {
	const (
		running = `{"Name":"devtest-%s-1","Service":"%s","State":"running","Status":"Up 2 minutes"}`
		exited  = `{"Name":"devtest-%s-1","Service":"%s","State":"exited","Status":"Exited (0)"}`
	)
	line := func(format, svc string) string {
		return fmt.Sprintf(format, svc, svc)
	}
	all := func(format string) string {
		var lines []string
		for _, s := range []string{"nginx", "php", "mysql", "phpmyadmin", "dozzle"} {
			lines = append(lines, line(format, s))
		}
		return strings.Join(lines, "\n")
	}

	tests := []struct {
		name   string
		stdout string
		want   Phase
	}{
		{"no containers", "", PhaseConfigured},
		{"all stopped", all(exited), PhaseConfigured},
		{"all running", all(running), PhaseRunning},
		{"one running", line(running, "mysql"), PhasePartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.configure(t)
			h.runner.On("docker compose ps --format json --all", process.Result{Stdout: tt.stdout})

			phase, err := h.ctrl.Phase(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, phase)
		})
	}
}

func TestStatus_Report(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	h.runner.On("docker compose ps", process.Result{Stdout: `[
		{"Name":"devtest-php-1","Service":"php","State":"running","Status":"Up 1 minute (healthy)"},
		{"Name":"devtest-redis-1","Service":"redis","State":"running","Status":"Up 1 minute"}
	]`})

	report, err := h.ctrl.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhasePartial, report.Phase)
	require.Len(t, report.Services, 6)
	assert.Equal(t, ServiceStatus{Service: "nginx", State: StateAbsent}, report.Services[0])
	assert.Equal(t, "devtest-php-1", report.Services[1].Container)
	assert.Equal(t, "healthy", report.Services[1].Health)
	assert.Equal(t, "redis", report.Services[5].Service, "unexpected containers are listed last")
	assert.NotEmpty(t, report.URLs)
}

func TestStatus_PsFailure(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	h.runner.On("docker compose ps", process.Result{ExitCode: 1, Stderr: "daemon down"})

	_, err := h.ctrl.Status(context.Background())
	assert.Equal(t, util.ExitExternal, util.ExitCode(err))
}

func TestDerivePhase(t *testing.T) {
	expected := []string{"php", "mysql"}
	up := func(svc string) compose.Container { return compose.Container{Service: svc, State: "running"} }
	down := func(svc string) compose.Container { return compose.Container{Service: svc, State: "exited"} }

	assert.Equal(t, PhaseConfigured, derivePhase(expected, nil))
	assert.Equal(t, PhaseConfigured, derivePhase(expected, []compose.Container{up("redis")}))
	assert.Equal(t, PhasePartial, derivePhase(expected, []compose.Container{up("php"), down("mysql")}))
	assert.Equal(t, PhaseRunning, derivePhase(expected, []compose.Container{up("php"), up("mysql")}))
}

func TestAccessURLs(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.settings.Services = []string{"nginx", "php", "mysql"}
	})
	cfg := h.configure(t)

	urls := h.ctrl.AccessURLs(cfg)
	assert.Equal(t, []AccessURL{
		{Name: "Application", URL: "http://localhost:80"},
		{Name: "MySQL", URL: "localhost:3306"},
	}, urls)
}
