// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle drives the local development stack through its phases.
//
// The Controller exposes one method per dev subcommand. It sequences the
// environment configuration, the compose project, the readiness probe and
// the shell profile, and reports each step it runs. It holds no state
// between calls: the phase is always recomputed from the configuration
// file and the container list.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/devenv/cmd/dev/config"
	"github.com/AleutianAI/devenv/cmd/dev/internal/configstore"
	"github.com/AleutianAI/devenv/cmd/dev/internal/health"
	"github.com/AleutianAI/devenv/cmd/dev/internal/infra/compose"
	"github.com/AleutianAI/devenv/cmd/dev/internal/infra/process"
	"github.com/AleutianAI/devenv/cmd/dev/internal/profile"
	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
	"github.com/AleutianAI/devenv/pkg/logging"
)

// =============================================================================
// Dependencies
// =============================================================================

// ConfigStore is the environment configuration file.
type ConfigStore interface {
	Path() string
	Exists() bool
	Load() (configstore.Config, error)
	InitializeFromTemplate(overrides map[string]string, overwrite bool) (configstore.Config, error)
	Remove() error
}

// Prompter asks the user for confirmation or input. Implementations
// return util.ErrNoTerminal when no terminal is attached.
type Prompter interface {
	Confirm(title, description string) (bool, error)
	Input(title, description string) (string, error)
}

// ComposeFactory builds a compose executor whose commands see env.
type ComposeFactory func(env map[string]string) (compose.Executor, error)

// ProbeFactory builds the readiness probe for a compose project.
type ProbeFactory func(exec compose.Executor) health.Probe

// Deps wires a Controller.
type Deps struct {
	// ProjectDir is the project root. Required.
	ProjectDir string

	// Settings are the stack settings (config.DefaultConfig when zero).
	Settings config.StackConfig

	// Store is the environment configuration. Required.
	Store ConfigStore

	// Runner runs git and, through the default ComposeFactory, docker. Required.
	Runner process.Runner

	// Compose overrides how executors are built.
	Compose ComposeFactory

	// Profile is the aliases file (default: Settings.Profile.AliasesFile).
	Profile *profile.Installer

	// Probe overrides the readiness probe built from Settings.Readiness.
	Probe ProbeFactory

	// Prompter is used by init and nuke. Nil means non-interactive.
	Prompter Prompter

	// Observer receives step progress. Optional.
	Observer Observer

	// Logger defaults to a discarding logger.
	Logger *logging.Logger

	// Executable is the path the "dev" alias points at. Empty uses
	// Settings.Profile.Command.
	Executable string
}

// Controller implements the dev subcommands.
//
// # Thread Safety
//
// A Controller is safe for concurrent use, but callers serialize
// mutating operations on one project with process.Lock.
type Controller struct {
	projectDir string
	settings   config.StackConfig
	store      ConfigStore
	runner     process.Runner
	newCompose ComposeFactory
	profile    *profile.Installer
	newProbe   ProbeFactory
	prompter   Prompter
	observer   Observer
	logger     *logging.Logger
	executable string
}

// New validates deps and returns a Controller.
func New(deps Deps) (*Controller, error) {
	if deps.ProjectDir == "" {
		return nil, errors.New("lifecycle: project directory is required")
	}
	if deps.Store == nil {
		return nil, errors.New("lifecycle: config store is required")
	}
	if deps.Runner == nil {
		return nil, errors.New("lifecycle: runner is required")
	}

	c := &Controller{
		projectDir: deps.ProjectDir,
		settings:   deps.Settings,
		store:      deps.Store,
		runner:     deps.Runner,
		newCompose: deps.Compose,
		profile:    deps.Profile,
		newProbe:   deps.Probe,
		prompter:   deps.Prompter,
		observer:   deps.Observer,
		logger:     deps.Logger,
		executable: deps.Executable,
	}
	if len(c.settings.Services) == 0 {
		c.settings = config.DefaultConfig()
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if c.observer == nil {
		c.observer = NopObserver{}
	}
	if c.profile == nil {
		c.profile = profile.NewInstaller(c.settings.Profile.AliasesFile)
	}
	if c.newCompose == nil {
		c.newCompose = c.defaultCompose
	}
	if c.newProbe == nil {
		c.newProbe = c.defaultProbe
	}
	return c, nil
}

// Settings returns the stack settings in effect.
func (c *Controller) Settings() config.StackConfig {
	return c.settings
}

// LoadConfig reads the environment configuration. Commands other than
// init, status, aliases and nuke require it.
func (c *Controller) LoadConfig() (configstore.Config, error) {
	return c.store.Load()
}

func (c *Controller) defaultCompose(env map[string]string) (compose.Executor, error) {
	return compose.NewDefaultExecutor(compose.Config{
		ProjectDir:  c.projectDir,
		ProjectName: c.settings.Compose.ProjectName,
		Files:       c.settings.Compose.Files,
		Env:         env,
	}, c.runner, c.logger)
}

func (c *Controller) defaultProbe(exec compose.Executor) health.Probe {
	r := c.settings.Readiness
	if r.Kind == "http" {
		return &health.HTTPProbe{URL: r.URL}
	}
	return &health.ExecProbe{Compose: exec, Service: r.Service, Command: r.Command}
}

func (c *Controller) waitOptions(logger *logging.Logger) health.WaitOptions {
	opts := health.DefaultWaitOptions()
	r := c.settings.Readiness
	if r.InitialInterval > 0 {
		opts.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		opts.MaxInterval = r.MaxInterval
	}
	if r.MaxWait > 0 {
		opts.MaxWait = r.MaxWait
	}
	opts.OnRetry = func(attempt int, err error, next time.Duration) {
		logger.Debug("stack not ready", "attempt", attempt, "retry_in", next, "error", err)
	}
	return opts
}

// executor builds an executor for env and verifies the docker daemon, as
// the "docker-check" step when op is set.
func (c *Controller) executor(ctx context.Context, op *operation, env map[string]string) (compose.Executor, error) {
	exec, err := c.newCompose(env)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return exec, exec.CheckDaemon(ctx)
	}
	err = op.step(ctx, "docker-check", "Checking docker", func() error {
		return exec.CheckDaemon(ctx)
	})
	return exec, err
}

// enabledServices returns the enabled compose service names in display order.
func (c *Controller) enabledServices() []string {
	var names []string
	for _, s := range AllServices {
		if c.settings.ServiceEnabled(s.String()) {
			names = append(names, s.String())
		}
	}
	return names
}

// enabled resolves name to an enabled service.
func (c *Controller) enabled(name string) (Service, error) {
	svc, err := ParseService(name)
	if err != nil {
		return 0, err
	}
	if !c.settings.ServiceEnabled(svc.String()) {
		return 0, &util.TargetError{Name: name, Known: c.enabledServices()}
	}
	return svc, nil
}

// tiers groups the enabled services by start tier.
func (c *Controller) tiers() map[Tier][]string {
	out := make(map[Tier][]string)
	for _, name := range c.enabledServices() {
		svc, _ := ParseService(name)
		out[svc.Tier()] = append(out[svc.Tier()], name)
	}
	return out
}

// upTiers starts the enabled services tier by tier.
func (c *Controller) upTiers(ctx context.Context, op *operation, exec compose.Executor) error {
	tiers := c.tiers()
	for _, tier := range []Tier{TierDatabase, TierApplication, TierEdge} {
		services := tiers[tier]
		if len(services) == 0 {
			continue
		}
		step := "up:" + tier.String()
		err := op.step(ctx, step, fmt.Sprintf("Starting %s", joinNames(services)), func() error {
			return exec.Up(ctx, compose.UpOptions{Services: services, Step: step})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Phase and Status
// =============================================================================

// Phase is the implicit lifecycle state of the project.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseConfigured    Phase = "configured-not-running"
	PhaseRunning       Phase = "running"
	PhasePartial       Phase = "partially-running"
)

// ServiceStatus is one row of the status report.
type ServiceStatus struct {
	Service   string `json:"service" yaml:"service"`
	Container string `json:"container,omitempty" yaml:"container,omitempty"`
	State     string `json:"state" yaml:"state"`
	Health    string `json:"health,omitempty" yaml:"health,omitempty"`
	Status    string `json:"status,omitempty" yaml:"status,omitempty"`
}

// StatusReport is the result of Status.
type StatusReport struct {
	Phase    Phase           `json:"phase" yaml:"phase"`
	Config   string          `json:"config" yaml:"config"`
	Services []ServiceStatus `json:"services" yaml:"services"`
	URLs     []AccessURL     `json:"urls,omitempty" yaml:"urls,omitempty"`
}

// StateAbsent marks an enabled service that has no container.
const StateAbsent = "absent"

// Phase recomputes the lifecycle phase.
func (c *Controller) Phase(ctx context.Context) (Phase, error) {
	report, err := c.Status(ctx)
	if err != nil {
		return "", err
	}
	return report.Phase, nil
}

// Status reports the phase and per-service container state. Read-only.
//
// # Description
//
// Without a configuration file the phase is uninitialized and docker is
// not consulted. Otherwise the container list comes from
// `docker compose ps --all`. A configuration that fails validation still
// yields a status; compose then runs without the file's values.
func (c *Controller) Status(ctx context.Context) (*StatusReport, error) {
	report := &StatusReport{Config: c.store.Path()}
	if !c.store.Exists() {
		report.Phase = PhaseUninitialized
		for _, name := range c.enabledServices() {
			report.Services = append(report.Services, ServiceStatus{Service: name, State: StateAbsent})
		}
		return report, nil
	}

	var env map[string]string
	cfg, err := c.store.Load()
	if err != nil {
		c.logger.Warn("configuration unusable, reading status without it", "error", err)
	} else {
		env = cfg.Values()
		report.URLs = c.AccessURLs(cfg)
	}

	exec, err := c.newCompose(env)
	if err != nil {
		return nil, err
	}
	containers, err := exec.Ps(ctx, true)
	if err != nil {
		return nil, err
	}

	report.Services = serviceStatuses(c.enabledServices(), containers)
	report.Phase = derivePhase(c.enabledServices(), containers)
	return report, nil
}

// serviceStatuses pairs every expected service with its container and
// appends containers of services outside the expected set.
func serviceStatuses(expected []string, containers []compose.Container) []ServiceStatus {
	byService := make(map[string]compose.Container, len(containers))
	for _, ctr := range containers {
		byService[ctr.Service] = ctr
	}

	var out []ServiceStatus
	seen := make(map[string]bool)
	for _, name := range expected {
		seen[name] = true
		ctr, ok := byService[name]
		if !ok {
			out = append(out, ServiceStatus{Service: name, State: StateAbsent})
			continue
		}
		out = append(out, toServiceStatus(ctr))
	}

	var extra []ServiceStatus
	for _, ctr := range containers {
		if !seen[ctr.Service] {
			extra = append(extra, toServiceStatus(ctr))
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Service < extra[j].Service })
	return append(out, extra...)
}

func toServiceStatus(ctr compose.Container) ServiceStatus {
	return ServiceStatus{
		Service:   ctr.Service,
		Container: ctr.Name,
		State:     ctr.State,
		Health:    ctr.Health,
		Status:    ctr.Status,
	}
}

// derivePhase applies the phase rule to a configured project: no expected
// service running is configured-not-running, all running is running,
// anything between is partially-running.
func derivePhase(expected []string, containers []compose.Container) Phase {
	running := make(map[string]bool)
	for _, ctr := range containers {
		if ctr.Running() {
			running[ctr.Service] = true
		}
	}

	up := 0
	for _, name := range expected {
		if running[name] {
			up++
		}
	}
	switch {
	case up == 0:
		return PhaseConfigured
	case up == len(expected):
		return PhaseRunning
	default:
		return PhasePartial
	}
}
