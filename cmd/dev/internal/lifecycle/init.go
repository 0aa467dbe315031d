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
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AleutianAI/devenv/cmd/dev/config"
	"github.com/AleutianAI/devenv/cmd/dev/internal/configstore"
	"github.com/AleutianAI/devenv/cmd/dev/internal/health"
	"github.com/AleutianAI/devenv/cmd/dev/internal/infra/compose"
	"github.com/AleutianAI/devenv/cmd/dev/internal/infra/process"
	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
	"github.com/AleutianAI/devenv/pkg/validation"
)

// InitOptions configures Init.
type InitOptions struct {
	// Force rewrites an existing configuration from the template and
	// reruns every step.
	Force bool

	// RepoURL overrides the application repository URL.
	RepoURL string

	// FrontendRepoURL overrides the frontend repository URL.
	FrontendRepoURL string

	// SkipAliases leaves the shell profile untouched.
	SkipAliases bool
}

// Init takes a project from uninitialized to running.
//
// # Description
//
// Steps, in order; the first failure stops the sequence and nothing is
// rolled back:
//
//  1. configure: write the configuration from the template (USER_ID and
//     GROUP_ID from the current user, repository URLs when given)
//  2. docker-check
//  3. clone:<project>: for each project of an enabled service whose
//     repository URL is set and whose directory is missing or empty
//  4. build
//  5. up:<tier>: database, application, edge
//  6. wait-ready: the readiness probe, bounded by Settings.Readiness.MaxWait
//  7. composer-install: inside the app container, skipped without composer.json
//  8. aliases: skipped with SkipAliases
//
// When a project has no usable repository URL and a Prompter is set, the
// user is asked for one; an answer is persisted to the configuration.
//
// # Outputs
//
//   - *Report: Per-step outcomes; nil only when the configuration exists
//   - error: *util.ConfigError (AlreadyExists) before any command runs,
//     otherwise the failing step's error
func (c *Controller) Init(ctx context.Context, opts InitOptions) (*Report, error) {
	if c.store.Exists() && !opts.Force {
		return nil, &util.ConfigError{Kind: util.ConfigAlreadyExists, Path: c.store.Path()}
	}
	if err := c.validateRepoOptions(opts); err != nil {
		return nil, err
	}

	op := c.begin("init")

	var cfg configstore.Config
	err := op.step(ctx, "configure", "Writing "+filepath.Base(c.store.Path()), func() error {
		var err error
		cfg, err = c.store.InitializeFromTemplate(c.initOverrides(opts), opts.Force)
		return err
	})
	if err != nil {
		return op.report, err
	}

	exec, err := c.executor(ctx, op, cfg.Values())
	if err != nil {
		return op.report, err
	}

	for _, p := range c.settings.Projects {
		if p.Service != "" && !c.settings.ServiceEnabled(p.Service) {
			continue
		}
		var url string
		url, cfg, err = c.resolveRepo(ctx, op, p, cfg)
		if err != nil {
			return op.report, err
		}
		err = op.step(ctx, "clone:"+p.Name, "Cloning "+p.Name, func() error {
			return c.clone(ctx, p, url, cfg)
		})
		if err != nil {
			return op.report, err
		}
	}

	if err := op.step(ctx, "build", "Building images", func() error {
		return exec.Build(ctx, compose.BuildOptions{})
	}); err != nil {
		return op.report, err
	}

	if err := c.upTiers(ctx, op, exec); err != nil {
		return op.report, err
	}

	probe := c.newProbe(exec)
	if err := op.step(ctx, "wait-ready", "Waiting for "+probe.Describe(), func() error {
		return health.WaitReady(ctx, probe, c.waitOptions(op.logger))
	}); err != nil {
		return op.report, err
	}

	if err := op.step(ctx, "composer-install", "Installing PHP dependencies", func() error {
		return c.composerInstall(ctx, exec)
	}); err != nil {
		return op.report, err
	}

	err = op.step(ctx, "aliases", "Installing shell aliases", func() error {
		if opts.SkipAliases {
			return skip("disabled")
		}
		_, err := c.Aliases(ctx)
		return err
	})
	return op.report, err
}

// initOverrides returns the values init writes over the template.
func (c *Controller) initOverrides(opts InitOptions) map[string]string {
	overrides := make(map[string]string)
	if uid := os.Getuid(); uid >= 0 {
		overrides[configstore.KeyUserID] = strconv.Itoa(uid)
	}
	if gid := os.Getgid(); gid >= 0 {
		overrides[configstore.KeyGroupID] = strconv.Itoa(gid)
	}
	if opts.RepoURL != "" {
		overrides[c.repoKey(ServiceApp, configstore.KeyGitHubRepo)] = opts.RepoURL
	}
	if opts.FrontendRepoURL != "" {
		overrides[c.repoKey(ServiceFrontend, configstore.KeyFrontendRepo)] = opts.FrontendRepoURL
	}
	return overrides
}

// validateRepoOptions rejects repository URLs given on the command line
// before anything is written.
func (c *Controller) validateRepoOptions(opts InitOptions) error {
	for key, url := range map[string]string{
		c.repoKey(ServiceApp, configstore.KeyGitHubRepo):        opts.RepoURL,
		c.repoKey(ServiceFrontend, configstore.KeyFrontendRepo): opts.FrontendRepoURL,
	} {
		if url == "" {
			continue
		}
		if err := validation.ValidateRepoURL(url); err != nil {
			return &util.ConfigError{Kind: util.ConfigInvalidValue, Key: key, Err: err}
		}
	}
	return nil
}

func (c *Controller) repoKey(svc Service, fallback string) string {
	if p, ok := c.settings.ProjectFor(svc.String()); ok {
		return p.RepoKey
	}
	return fallback
}

// resolveRepo returns the repository URL of p, asking for one when the
// configured value is a placeholder. An answer is written back to the
// configuration, keeping every other value.
func (c *Controller) resolveRepo(ctx context.Context, op *operation, p config.ProjectConfig, cfg configstore.Config) (string, configstore.Config, error) {
	url, _ := cfg.Lookup(p.RepoKey)
	if !configstore.IsPlaceholder(url) {
		return url, cfg, nil
	}
	if c.prompter == nil || !c.needsClone(p) {
		return "", cfg, nil
	}

	answer, err := c.prompter.Input(
		fmt.Sprintf("Repository URL for %s", p.Name),
		fmt.Sprintf("%s is not set. Leave empty to skip cloning.", p.RepoKey),
	)
	if err != nil {
		if errors.Is(err, util.ErrNoTerminal) {
			op.logger.Warn("no repository URL entered", "project", p.Name, "error", err)
			return "", cfg, nil
		}
		return "", cfg, err
	}
	if strings.TrimSpace(answer) == "" {
		return "", cfg, nil
	}
	answer, err = validation.SanitizeRepoURL(answer)
	if err != nil {
		return "", cfg, &util.ConfigError{Kind: util.ConfigInvalidValue, Key: p.RepoKey, Err: err}
	}

	values := cfg.Values()
	values[p.RepoKey] = answer
	updated, err := c.store.InitializeFromTemplate(values, true)
	if err != nil {
		return "", cfg, err
	}
	return answer, updated, nil
}

// projectPath returns the absolute source directory of p.
func (c *Controller) projectPath(p config.ProjectConfig) string {
	if filepath.IsAbs(p.Path) {
		return p.Path
	}
	return filepath.Join(c.projectDir, p.Path)
}

// needsClone reports whether the source directory is missing or empty.
func (c *Controller) needsClone(p config.ProjectConfig) bool {
	dir, err := os.Open(c.projectPath(p))
	if err != nil {
		return true
	}
	defer dir.Close()
	_, err = dir.Readdirnames(1)
	return errors.Is(err, io.EOF)
}

func (c *Controller) clone(ctx context.Context, p config.ProjectConfig, url string, cfg configstore.Config) error {
	if !c.needsClone(p) {
		return skip(p.Path + " already present")
	}
	if url == "" {
		return skip(p.RepoKey + " not set")
	}

	if err := validation.ValidateRepoURL(url); err != nil {
		return &util.ConfigError{Kind: util.ConfigInvalidValue, Key: p.RepoKey, Path: c.store.Path(), Err: err}
	}

	target := c.projectPath(p)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	args := []string{"clone"}
	if p.BranchKey != "" {
		if branch, ok := cfg.Lookup(p.BranchKey); ok && !configstore.IsPlaceholder(branch) {
			if err := validation.ValidateBranch(branch); err != nil {
				return &util.ConfigError{Kind: util.ConfigInvalidValue, Key: p.BranchKey, Path: c.store.Path(), Err: err}
			}
			args = append(args, "--branch", branch)
		}
	}
	args = append(args, url, target)

	res := c.runner.Run(ctx, process.Invocation{
		Step:        "clone:" + p.Name,
		Program:     "git",
		Args:        args,
		Dir:         c.projectDir,
		Interactive: true,
	})
	return res.AsError()
}

func (c *Controller) composerInstall(ctx context.Context, exec compose.Executor) error {
	p, ok := c.settings.ProjectFor(ServiceApp.String())
	if !ok {
		return skip("no application project")
	}
	if _, err := os.Stat(filepath.Join(c.projectPath(p), "composer.json")); err != nil {
		return skip("no composer.json in " + p.Path)
	}
	res := exec.Exec(ctx, compose.ExecOptions{
		Service: ServiceApp.String(),
		Command: []string{"composer", "install", "--no-interaction"},
		Step:    "composer-install",
	})
	return res.AsError()
}

// =============================================================================
// Access URLs
// =============================================================================

// AccessURL is a user-facing endpoint of the running stack.
type AccessURL struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// AccessURLs lists the endpoints of the enabled services whose port is
// configured.
func (c *Controller) AccessURLs(cfg configstore.Config) []AccessURL {
	endpoints := []struct {
		service Service
		name    string
		key     string
		scheme  string
	}{
		{ServiceProxy, "Application", configstore.KeyHTTPPort, "http://"},
		{ServiceAdmin, "phpMyAdmin", configstore.KeyPMAPort, "http://"},
		{ServiceLogViewer, "Dozzle", configstore.KeyDozzlePort, "http://"},
		{ServiceDatabase, "MySQL", configstore.KeyMySQLPort, ""},
	}

	var urls []AccessURL
	for _, e := range endpoints {
		if !c.settings.ServiceEnabled(e.service.String()) {
			continue
		}
		port, err := cfg.Int(e.key)
		if err != nil {
			continue
		}
		urls = append(urls, AccessURL{Name: e.name, URL: fmt.Sprintf("%slocalhost:%d", e.scheme, port)})
	}
	return urls
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}
