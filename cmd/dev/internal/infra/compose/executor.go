// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compose provides an abstraction for docker compose operations.
//
// # Description
//
// This package builds every docker compose (and plain docker) command the
// dev CLI issues and runs it through a [process.Runner]. It carries the
// environment configuration into each invocation as an env overlay, picks
// between the compose plugin and the legacy docker-compose binary, and
// parses the container list that status reporting needs.
//
// # Thread Safety
//
// DefaultExecutor is safe for concurrent use. Binary detection happens
// once and is cached.
//
// # Example
//
//	exec, err := compose.NewDefaultExecutor(compose.Config{
//	    ProjectDir:  "/home/me/stack",
//	    ProjectName: "symfony",
//	    Env:         cfg.Values(),
//	}, runner, logger)
//	if err != nil {
//	    return err
//	}
//	err = exec.Up(ctx, compose.UpOptions{Services: []string{"mysql"}})
package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/devenv/cmd/dev/internal/infra/process"
	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
	"github.com/AleutianAI/devenv/pkg/logging"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrComposeNotFound means neither "docker compose" nor "docker-compose" works.
	ErrComposeNotFound = errors.New("docker compose is not installed (tried 'docker compose' and 'docker-compose')")

	// ErrDockerUnavailable means the docker daemon did not answer.
	ErrDockerUnavailable = errors.New("docker daemon is not running")

	// ErrInvalidConfig means the executor configuration is unusable.
	ErrInvalidConfig = errors.New("invalid compose configuration")

	// ErrEmptyExecCommand means Exec was called without a command.
	ErrEmptyExecCommand = errors.New("exec requires a command")
)

// projectLabel is the label compose puts on every resource it creates.
const projectLabel = "com.docker.compose.project"

// =============================================================================
// Interface
// =============================================================================

// Executor issues docker compose operations for one project.
//
// # Description
//
// Mutating operations return nil or an error wrapping
// *util.ExternalCommandError. Exec returns the raw process.Result because
// passthrough commands need the child's exit code.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Executor interface {
	// CheckDaemon verifies the docker daemon answers and a compose binary exists.
	CheckDaemon(ctx context.Context) error

	// Build builds service images.
	Build(ctx context.Context, opts BuildOptions) error

	// Up creates and starts containers in the background.
	Up(ctx context.Context, opts UpOptions) error

	// Start starts existing containers.
	Start(ctx context.Context, services ...string) error

	// Stop stops running containers without removing them.
	Stop(ctx context.Context, services ...string) error

	// Restart restarts containers.
	Restart(ctx context.Context, services ...string) error

	// Down stops and removes containers and networks.
	Down(ctx context.Context, opts DownOptions) error

	// Ps lists the project's containers.
	Ps(ctx context.Context, all bool) ([]Container, error)

	// Logs writes service logs to w. With Follow it streams until ctx ends.
	Logs(ctx context.Context, opts LogsOptions, w io.Writer) error

	// Exec runs a command inside a running service container.
	Exec(ctx context.Context, opts ExecOptions) process.Result

	// ConfigImages lists the images the compose file references.
	ConfigImages(ctx context.Context) ([]string, error)

	// ImagePresent reports whether an image exists locally.
	ImagePresent(ctx context.Context, ref string) (bool, error)

	// RemoveImages force-removes local images, one rmi per image. Every
	// image is attempted; the failures are joined.
	RemoveImages(ctx context.Context, refs []string) error

	// ProjectVolumes lists volumes labelled with the project name.
	ProjectVolumes(ctx context.Context) ([]string, error)

	// RemoveVolumes force-removes the named volumes.
	RemoveVolumes(ctx context.Context, names []string) error

	// PruneBuildCache removes all build cache.
	PruneBuildCache(ctx context.Context) error
}

// =============================================================================
// Supporting Types
// =============================================================================

// Config provides configuration for compose operations.
type Config struct {
	// ProjectDir is the directory containing the compose file. Required.
	ProjectDir string

	// ProjectName is exported as COMPOSE_PROJECT_NAME. Empty lets compose
	// derive it from the directory name.
	ProjectName string

	// Files are passed as -f flags in order. Empty uses compose's own
	// discovery (compose.yaml, docker-compose.yml).
	Files []string

	// Env is the environment configuration, injected into every command.
	Env map[string]string
}

// BuildOptions configures Build.
type BuildOptions struct {
	// NoCache maps to --no-cache.
	NoCache bool

	// Services limits the build. Empty means all services.
	Services []string
}

// UpOptions configures Up.
type UpOptions struct {
	// Services limits which services to start. Empty means all.
	Services []string

	// Build maps to --build.
	Build bool

	// ForceRecreate maps to --force-recreate.
	ForceRecreate bool

	// Step overrides the step name used in logs and errors (default "up").
	Step string
}

// DownOptions configures Down.
type DownOptions struct {
	// RemoveOrphans maps to --remove-orphans.
	RemoveOrphans bool

	// RemoveVolumes maps to -v. Destroys database data.
	RemoveVolumes bool
}

// LogsOptions configures Logs.
type LogsOptions struct {
	// Services limits which services to show. Empty means all.
	Services []string

	// Follow maps to -f.
	Follow bool

	// Tail limits output to the last N lines per container. Zero means all.
	Tail int

	// Timestamps maps to --timestamps.
	Timestamps bool

	// NoPrefix maps to --no-log-prefix.
	NoPrefix bool
}

// ExecOptions configures Exec.
type ExecOptions struct {
	// Service is the compose service name. Required.
	Service string

	// Command is the command and its arguments. Required.
	Command []string

	// Interactive attaches the terminal. A TTY is only requested when
	// stdin is a terminal.
	Interactive bool

	// Env is passed into the container with -e KEY (values travel through
	// the process environment, never on the command line).
	Env *util.EnvVars

	// User maps to --user.
	User string

	// WorkDir maps to --workdir.
	WorkDir string

	// Step names the invocation in logs and errors (default "exec").
	Step string
}

// Container is one entry of the compose container list.
type Container struct {
	// Name is the container name.
	Name string `json:"Name"`

	// Service is the compose service name.
	Service string `json:"Service"`

	// State is the container state (running, exited, created, ...).
	State string `json:"State"`

	// Health is the health check status (healthy, unhealthy, starting or empty).
	Health string `json:"Health"`

	// Status is the human-readable status ("Up 2 hours (healthy)").
	Status string `json:"Status"`

	// Image is the image reference.
	Image string `json:"Image"`

	// ExitCode is the exit code of a stopped container.
	ExitCode int `json:"ExitCode"`
}

// Running reports whether the container is up.
func (c Container) Running() bool {
	return c.State == "running"
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultExecutor implements Executor over a process.Runner.
type DefaultExecutor struct {
	config     Config
	runner     process.Runner
	logger     *logging.Logger
	stdinIsTTY func() bool

	mu     sync.Mutex
	binary []string
}

// NewDefaultExecutor creates an executor for one compose project.
//
// # Description
//
// Validates the configuration and the environment keys. The compose binary
// is detected lazily on first use.
//
// # Inputs
//
//   - cfg: Compose configuration (ProjectDir required)
//   - runner: Runner for command execution
//   - logger: Logger for debug output (nil discards)
//
// # Outputs
//
//   - *DefaultExecutor: Configured executor
//   - error: Wraps ErrInvalidConfig
//
// # Assumptions
//
//   - ProjectDir exists when operations are executed
func NewDefaultExecutor(cfg Config, runner process.Runner, logger *logging.Logger) (*DefaultExecutor, error) {
	if strings.TrimSpace(cfg.ProjectDir) == "" {
		return nil, fmt.Errorf("%w: project directory is required", ErrInvalidConfig)
	}
	if runner == nil {
		return nil, fmt.Errorf("%w: runner is required", ErrInvalidConfig)
	}
	if _, err := util.FromMap(cfg.Env, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &DefaultExecutor{
		config: cfg,
		runner: runner,
		logger: logger,
		stdinIsTTY: func() bool {
			fd := os.Stdin.Fd()
			return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
		},
	}, nil
}

// SetBinary fixes the compose command (e.g. "docker", "compose") and skips
// detection.
func (e *DefaultExecutor) SetBinary(program string, args ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.binary = append([]string{program}, args...)
}

// CheckDaemon implements Executor.
func (e *DefaultExecutor) CheckDaemon(ctx context.Context) error {
	res := e.runner.Run(ctx, e.dockerInvocation("docker-check", []string{"info", "--format", "{{.ServerVersion}}"}))
	if !res.Success() {
		if res.Err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrDockerUnavailable, res.AsError())
	}
	_, err := e.detect(ctx)
	return err
}

// Build implements Executor.
func (e *DefaultExecutor) Build(ctx context.Context, opts BuildOptions) error {
	args := []string{"build"}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	args = append(args, opts.Services...)
	return e.run(ctx, "build", args)
}

// Up implements Executor.
func (e *DefaultExecutor) Up(ctx context.Context, opts UpOptions) error {
	args := []string{"up", "-d"}
	if opts.Build {
		args = append(args, "--build")
	}
	if opts.ForceRecreate {
		args = append(args, "--force-recreate")
	}
	args = append(args, opts.Services...)
	step := opts.Step
	if step == "" {
		step = "up"
	}
	return e.run(ctx, step, args)
}

// Start implements Executor.
func (e *DefaultExecutor) Start(ctx context.Context, services ...string) error {
	return e.run(ctx, "start", append([]string{"start"}, services...))
}

// Stop implements Executor.
func (e *DefaultExecutor) Stop(ctx context.Context, services ...string) error {
	return e.run(ctx, "stop", append([]string{"stop"}, services...))
}

// Restart implements Executor.
func (e *DefaultExecutor) Restart(ctx context.Context, services ...string) error {
	return e.run(ctx, "restart", append([]string{"restart"}, services...))
}

// Down implements Executor.
func (e *DefaultExecutor) Down(ctx context.Context, opts DownOptions) error {
	args := []string{"down"}
	if opts.RemoveVolumes {
		args = append(args, "-v")
	}
	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	return e.run(ctx, "down", args)
}

// Ps implements Executor.
//
// # Description
//
// Runs "ps --format json" and accepts both output shapes compose has
// shipped: a single JSON array (before v2.21) and one JSON object per line.
func (e *DefaultExecutor) Ps(ctx context.Context, all bool) ([]Container, error) {
	args := []string{"ps", "--format", "json"}
	if all {
		args = append(args, "--all")
	}
	inv, err := e.composeInvocation(ctx, "ps", args)
	if err != nil {
		return nil, err
	}
	res := e.runner.Run(ctx, inv)
	if err := res.AsError(); err != nil {
		return nil, err
	}
	return ParseContainers(res.Stdout)
}

// Logs implements Executor.
func (e *DefaultExecutor) Logs(ctx context.Context, opts LogsOptions, w io.Writer) error {
	args := []string{"logs"}
	if opts.Follow {
		args = append(args, "-f")
	}
	if opts.Tail > 0 {
		args = append(args, "--tail", strconv.Itoa(opts.Tail))
	}
	if opts.Timestamps {
		args = append(args, "--timestamps")
	}
	if opts.NoPrefix {
		args = append(args, "--no-log-prefix")
	}
	args = append(args, opts.Services...)

	inv, err := e.composeInvocation(ctx, "logs", args)
	if err != nil {
		return err
	}
	inv.Output = w
	res := e.runner.Run(ctx, inv)
	if opts.Follow && ctx.Err() != nil {
		// Interrupting a follow stream is the normal way to end it.
		return nil
	}
	return res.AsError()
}

// Exec implements Executor.
func (e *DefaultExecutor) Exec(ctx context.Context, opts ExecOptions) process.Result {
	step := opts.Step
	if step == "" {
		step = "exec"
	}
	if opts.Service == "" || len(opts.Command) == 0 {
		return process.Result{Step: step, ExitCode: -1, Err: ErrEmptyExecCommand}
	}

	args := []string{"exec"}
	if !opts.Interactive || !e.stdinIsTTY() {
		args = append(args, "-T")
	}
	if opts.User != "" {
		args = append(args, "--user", opts.User)
	}
	if opts.WorkDir != "" {
		args = append(args, "--workdir", opts.WorkDir)
	}
	if opts.Env != nil {
		for _, key := range sortedKeys(opts.Env.ToMap()) {
			args = append(args, "-e", key)
		}
	}
	args = append(args, opts.Service)
	args = append(args, opts.Command...)

	inv, err := e.composeInvocation(ctx, step, args)
	if err != nil {
		return process.Result{Step: step, ExitCode: -1, Err: err}
	}
	inv.Env = inv.Env.Merge(opts.Env)
	inv.Interactive = opts.Interactive
	return e.runner.Run(ctx, inv)
}

// ConfigImages implements Executor.
func (e *DefaultExecutor) ConfigImages(ctx context.Context) ([]string, error) {
	inv, err := e.composeInvocation(ctx, "config-images", []string{"config", "--images"})
	if err != nil {
		return nil, err
	}
	res := e.runner.Run(ctx, inv)
	if err := res.AsError(); err != nil {
		return nil, err
	}
	return uniqueLines(res.Stdout), nil
}

// ImagePresent implements Executor.
func (e *DefaultExecutor) ImagePresent(ctx context.Context, ref string) (bool, error) {
	res := e.runner.Run(ctx, e.dockerInvocation("image-inspect", []string{"image", "inspect", "--format", "{{.Id}}", ref}))
	if res.Success() {
		return true, nil
	}
	if res.Err == nil && !res.Signaled && isNoSuchObject(res.Stderr) {
		return false, nil
	}
	return false, res.AsError()
}

// RemoveImages implements Executor.
func (e *DefaultExecutor) RemoveImages(ctx context.Context, refs []string) error {
	invs := make([]process.Invocation, 0, len(refs))
	for _, ref := range refs {
		invs = append(invs, e.dockerInvocation("remove-image", []string{"rmi", "--force", ref}))
	}
	return process.Failures(e.runner.RunSequence(ctx, invs, false))
}

// ProjectVolumes implements Executor.
func (e *DefaultExecutor) ProjectVolumes(ctx context.Context) ([]string, error) {
	name := e.projectName()
	res := e.runner.Run(ctx, e.dockerInvocation("volume-list",
		[]string{"volume", "ls", "--quiet", "--filter", "label=" + projectLabel + "=" + name}))
	if err := res.AsError(); err != nil {
		return nil, err
	}
	return uniqueLines(res.Stdout), nil
}

// RemoveVolumes implements Executor.
func (e *DefaultExecutor) RemoveVolumes(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	args := append([]string{"volume", "rm", "--force"}, names...)
	return e.runner.Run(ctx, e.dockerInvocation("remove-volumes", args)).AsError()
}

// PruneBuildCache implements Executor.
func (e *DefaultExecutor) PruneBuildCache(ctx context.Context) error {
	return e.runner.Run(ctx, e.dockerInvocation("prune-build-cache", []string{"builder", "prune", "--all", "--force"})).AsError()
}

// =============================================================================
// Private Helper Methods
// =============================================================================

// detect resolves the compose command once.
//
// # Description
//
// Prefers the compose plugin ("docker compose version" succeeds) and falls
// back to a standalone docker-compose binary.
func (e *DefaultExecutor) detect(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.binary != nil {
		return e.binary, nil
	}

	candidates := [][]string{{"docker", "compose"}, {"docker-compose"}}
	for _, cand := range candidates {
		args := append(append([]string{}, cand[1:]...), "version")
		res := e.runner.Run(ctx, process.Invocation{
			Step:    "compose-detect",
			Program: cand[0],
			Args:    args,
			Dir:     e.config.ProjectDir,
		})
		if res.Success() {
			e.binary = cand
			e.logger.Debug("Detected compose command", "command", strings.Join(cand, " "))
			return e.binary, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, ErrComposeNotFound
}

// composeInvocation builds a compose invocation with file flags and the
// environment overlay.
func (e *DefaultExecutor) composeInvocation(ctx context.Context, step string, args []string) (process.Invocation, error) {
	binary, err := e.detect(ctx)
	if err != nil {
		return process.Invocation{}, err
	}
	full := append([]string{}, binary[1:]...)
	for _, f := range e.config.Files {
		full = append(full, "-f", f)
	}
	full = append(full, args...)

	inv := process.Invocation{
		Step:    step,
		Program: binary[0],
		Args:    full,
		Dir:     e.config.ProjectDir,
		Env:     e.environment(),
	}
	e.logCommand(inv)
	return inv, nil
}

// dockerInvocation builds a plain docker CLI invocation.
func (e *DefaultExecutor) dockerInvocation(step string, args []string) process.Invocation {
	inv := process.Invocation{
		Step:    step,
		Program: "docker",
		Args:    args,
		Dir:     e.config.ProjectDir,
	}
	e.logCommand(inv)
	return inv
}

// run executes a compose command and converts failure into an error.
func (e *DefaultExecutor) run(ctx context.Context, step string, args []string) error {
	inv, err := e.composeInvocation(ctx, step, args)
	if err != nil {
		return err
	}
	return e.runner.Run(ctx, inv).AsError()
}

// environment returns the overlay for compose commands: the environment
// configuration plus COMPOSE_PROJECT_NAME. Keys were validated in the
// constructor.
func (e *DefaultExecutor) environment() *util.EnvVars {
	env, err := util.FromMap(e.config.Env, nil)
	if err != nil {
		env = util.EmptyEnvVars()
	}
	if e.config.ProjectName != "" {
		_ = env.Add("COMPOSE_PROJECT_NAME", e.config.ProjectName, false)
	}
	return env
}

// projectName returns the effective compose project name.
func (e *DefaultExecutor) projectName() string {
	if e.config.ProjectName != "" {
		return e.config.ProjectName
	}
	return NormalizeProjectName(filepath.Base(e.config.ProjectDir))
}

// logCommand logs an invocation with sensitive overlay values redacted.
func (e *DefaultExecutor) logCommand(inv process.Invocation) {
	e.logger.Debug("Compose command",
		"step", inv.Step,
		"command", inv.String(),
		"env", inv.Env.RedactedSlice(),
	)
}

// =============================================================================
// Parsing
// =============================================================================

// ParseContainers decodes "compose ps --format json" output.
//
// # Description
//
// Accepts a JSON array, one JSON object per line, or empty output. A
// Service name missing from older output is derived from the container
// name ("project-service-1" or "project_service_1").
//
// # Outputs
//
//   - []Container: Sorted by service then name
//   - error: If the output is not JSON
func ParseContainers(output string) ([]Container, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil, nil
	}

	var containers []Container
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &containers); err != nil {
			return nil, fmt.Errorf("failed to parse container JSON: %w", err)
		}
	} else {
		for _, line := range strings.Split(trimmed, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var c Container
			if err := json.Unmarshal([]byte(line), &c); err != nil {
				return nil, fmt.Errorf("failed to parse container JSON line: %w", err)
			}
			containers = append(containers, c)
		}
	}

	for i := range containers {
		if containers[i].Service == "" {
			containers[i].Service = serviceFromContainerName(containers[i].Name)
		}
		if containers[i].Health == "" {
			containers[i].Health = healthFromStatus(containers[i].Status)
		}
	}
	sort.SliceStable(containers, func(i, j int) bool {
		if containers[i].Service != containers[j].Service {
			return containers[i].Service < containers[j].Service
		}
		return containers[i].Name < containers[j].Name
	})
	return containers, nil
}

// serviceFromContainerName strips the project prefix and replica suffix.
func serviceFromContainerName(name string) string {
	sep := "-"
	if !strings.Contains(name, "-") && strings.Contains(name, "_") {
		sep = "_"
	}
	parts := strings.Split(name, sep)
	if len(parts) < 3 {
		return name
	}
	if _, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts[1:], sep)
}

// healthFromStatus extracts the health marker from a status string.
func healthFromStatus(status string) string {
	switch {
	case strings.Contains(status, "(unhealthy)"):
		return "unhealthy"
	case strings.Contains(status, "(healthy)"):
		return "healthy"
	case strings.Contains(status, "(health: starting)"):
		return "starting"
	default:
		return ""
	}
}

// NormalizeProjectName applies compose's project name rules: lowercase,
// only [a-z0-9_-], starting with a letter or digit.
func NormalizeProjectName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return strings.TrimLeft(b.String(), "_-")
}

func uniqueLines(output string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	return out
}

func isNoSuchObject(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "no such image") || strings.Contains(lower, "no such object")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Compile-time interface satisfaction check
var _ Executor = (*DefaultExecutor)(nil)
