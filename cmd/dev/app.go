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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/devenv/cmd/dev/config"
	"github.com/AleutianAI/devenv/cmd/dev/internal/configstore"
	"github.com/AleutianAI/devenv/cmd/dev/internal/infra/process"
	"github.com/AleutianAI/devenv/cmd/dev/internal/lifecycle"
	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
	"github.com/AleutianAI/devenv/pkg/logging"
	"github.com/AleutianAI/devenv/pkg/ux"
)

// =============================================================================
// CLI state
// =============================================================================

// cli holds the global flags and the objects built from them before a
// subcommand runs.
//
// # Description
//
// newRunner and prompter are seams: tests replace them with a
// process.MockRunner and a scripted prompter so commands run end to end
// without docker or a terminal.
type cli struct {
	// Global flags
	projectDir string
	logLevel   string
	logJSON    bool
	ui         string

	newRunner  func(*logging.Logger) process.Runner
	prompter   lifecycle.Prompter
	executable string

	logger   *logging.Logger
	observer *stepObserver
	ctrl     *lifecycle.Controller
	lock     *process.Lock
	restore  func()
}

func newCLI() *cli {
	exe, _ := os.Executable()
	return &cli{
		newRunner: func(l *logging.Logger) process.Runner {
			return process.NewDefaultRunner(l)
		},
		prompter:   promptAdapter{p: ux.NewPrompter()},
		executable: exe,
	}
}

// setup resolves the project and builds the controller. Runs as the root
// PersistentPreRunE.
func (c *cli) setup(cmd *cobra.Command) error {
	ux.InitPersonality(c.ui)
	c.restore = ux.SetOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())

	dir := c.projectDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		if dir, err = config.FindProjectDir(cwd); err != nil {
			return fmt.Errorf("failed to resolve project directory: %w", err)
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve project directory: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return &util.ConfigError{Kind: util.ConfigInvalidValue, Key: "project-dir", Path: abs,
			Err: errors.New("not a directory")}
	}
	c.projectDir = abs

	level, err := logging.ParseLevel(c.logLevel)
	if err != nil {
		return &util.ConfigError{Kind: util.ConfigInvalidValue, Key: "log-level", Err: err}
	}
	logCfg := logging.Config{Level: level, JSON: c.logJSON, Writer: cmd.ErrOrStderr()}
	if level == logging.LevelDebug {
		logCfg.LogDir = filepath.Join(c.projectDir, ".dev", "logs")
	}
	c.logger = logging.New(logCfg)

	settings, err := config.Load(c.projectDir)
	if err != nil {
		return err
	}

	c.observer = newStepObserver()
	c.ctrl, err = lifecycle.New(lifecycle.Deps{
		ProjectDir: c.projectDir,
		Settings:   settings,
		Store:      configstore.New(c.projectDir),
		Runner:     c.newRunner(c.logger),
		Prompter:   c.prompter,
		Observer:   c.observer,
		Logger:     c.logger,
		Executable: c.executable,
	})
	return err
}

// locked acquires the project lock around a mutating command.
func (c *cli) locked(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c.lock = process.NewLock(process.LockConfig{LockDir: c.projectDir, LockName: ".dev"})
		if err := c.lock.Acquire(); err != nil {
			return err
		}
		c.logger.Debug("project lock acquired", "path", c.lock.LockPath())
		return fn(cmd, args)
	}
}

// loadConfig loads .env for commands that need a configured project.
func (c *cli) loadConfig() (configstore.Config, error) {
	return c.ctrl.LoadConfig()
}

func (c *cli) close() {
	if c.lock != nil {
		if err := c.lock.Release(); err != nil && c.logger != nil {
			c.logger.Warn("failed to release project lock", "error", err)
		}
		c.lock = nil
	}
	if c.logger != nil {
		c.logger.Close()
	}
	if c.restore != nil {
		c.restore()
		c.restore = nil
	}
}

// =============================================================================
// Confirmation
// =============================================================================

// confirm asks before a destructive command unless yes is set.
func (c *cli) confirm(yes bool, title, description string) error {
	if yes {
		return nil
	}
	ok, err := c.prompter.Confirm(title, description)
	if errors.Is(err, util.ErrNoTerminal) {
		return fmt.Errorf("%w: rerun with -y", err)
	}
	if err != nil {
		return err
	}
	if !ok {
		return util.ErrAborted
	}
	return nil
}

// promptAdapter maps the ux prompter's errors onto the CLI's error model.
type promptAdapter struct {
	p *ux.Prompter
}

func (a promptAdapter) Confirm(title, description string) (bool, error) {
	ok, err := a.p.Confirm(title, description)
	return ok, promptError(err)
}

func (a promptAdapter) Input(title, description string) (string, error) {
	s, err := a.p.Input(title, description)
	return s, promptError(err)
}

func promptError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ux.ErrNoTerminal):
		return util.ErrNoTerminal
	case errors.Is(err, ux.ErrCancelled):
		return util.ErrAborted
	default:
		return err
	}
}
