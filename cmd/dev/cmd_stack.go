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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/devenv/cmd/dev/internal/configstore"
	"github.com/AleutianAI/devenv/cmd/dev/internal/lifecycle"
	"github.com/AleutianAI/devenv/pkg/ux"
)

// =============================================================================
// init / up
// =============================================================================

func newInitCmd(c *cli) *cobra.Command {
	var opts lifecycle.InitOptions
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the configuration, clone the sources and start the stack",
		Long: `init writes .env from .env.example (or the built-in template) with fresh
secrets, clones the application sources, builds the images, starts the
services tier by tier, waits until the application answers, installs the
composer dependencies and the shell aliases.

An existing .env is never overwritten without --force.`,
		Args: cobra.NoArgs,
		RunE: c.locked(func(cmd *cobra.Command, _ []string) error {
			ux.Title("Initializing " + c.projectDir)
			if _, err := c.ctrl.Init(cmd.Context(), opts); err != nil {
				return err
			}
			c.observer.summary()
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			printAccessURLs(c.ctrl, cfg)
			ux.Hint("open a new shell or 'source ~/.bashrc' to use the dev aliases")
			return nil
		}),
	}
	f := cmd.Flags()
	f.BoolVar(&opts.Force, "force", false, "regenerate an existing .env and rerun every step")
	f.StringVar(&opts.RepoURL, "repo", "", "application repository URL")
	f.StringVar(&opts.FrontendRepoURL, "frontend-repo", "", "frontend repository URL")
	f.BoolVar(&opts.SkipAliases, "skip-aliases", false, "leave the shell profile untouched")
	return cmd
}

func newUpCmd(c *cli) *cobra.Command {
	var opts lifecycle.UpOptions
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Create and start the containers, database first",
		Args:  cobra.NoArgs,
		RunE: c.locked(func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if _, err := c.ctrl.Up(cmd.Context(), cfg, opts); err != nil {
				return err
			}
			printAccessURLs(c.ctrl, cfg)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&opts.Build, "build", false, "build the images first")
	return cmd
}

// =============================================================================
// start / stop / restart / down / rebuild
// =============================================================================

type simpleOp func(*lifecycle.Controller, context.Context, configstore.Config) error

// newSimpleCmd wraps a one-call compose operation.
func newSimpleCmd(c *cli, name, short string, op simpleOp, showURLs bool) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: c.locked(func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := op(c.ctrl, cmd.Context(), cfg); err != nil {
				return err
			}
			if showURLs {
				printAccessURLs(c.ctrl, cfg)
			}
			return nil
		}),
	}
}

func newDownCmd(c *cli) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop and remove the containers, keeping volumes",
		Args:  cobra.NoArgs,
		RunE: c.locked(func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := c.confirm(yes, "Stop and remove the containers?",
				"Volumes are kept, so the database survives."); err != nil {
				return err
			}
			return c.ctrl.Down(cmd.Context(), cfg)
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newRebuildCmd(c *cli) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the images without cache and recreate the containers",
		Args:  cobra.NoArgs,
		RunE: c.locked(func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := c.confirm(yes, "Rebuild every image from scratch?",
				"This can take several minutes; running containers are recreated."); err != nil {
				return err
			}
			if _, err := c.ctrl.Rebuild(cmd.Context(), cfg); err != nil {
				return err
			}
			printAccessURLs(c.ctrl, cfg)
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// =============================================================================
// nuke / setup
// =============================================================================

func newNukeCmd(c *cli) *cobra.Command {
	var opts lifecycle.NukeOptions
	cmd := &cobra.Command{
		Use:   "nuke",
		Short: "Remove every container, image, volume and the build cache",
		Long: `nuke removes everything the stack created, including the database volume.
Every resource kind is attempted even when an earlier one fails; the
result table shows what happened to each. With --purge-config the .env
file is deleted too and the project is back to uninitialized.`,
		Args: cobra.NoArgs,
		RunE: c.locked(func(cmd *cobra.Command, _ []string) error {
			report, err := c.ctrl.Nuke(cmd.Context(), opts)
			if report != nil {
				renderNukeReport(report)
			}
			if err != nil {
				return err
			}
			ux.Success("project resources removed")
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "do not ask for confirmation")
	cmd.Flags().BoolVar(&opts.PurgeConfig, "purge-config", false, "also delete the .env configuration")
	return cmd
}

func newSetupCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Install dependencies, create the database and run migrations and fixtures",
		Args:  cobra.NoArgs,
		RunE: c.locked(func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if _, err := c.ctrl.Setup(cmd.Context(), cfg); err != nil {
				return err
			}
			c.observer.summary()
			return nil
		}),
	}
}

// =============================================================================
// Output helpers
// =============================================================================

func printAccessURLs(ctrl *lifecycle.Controller, cfg configstore.Config) {
	urls := ctrl.AccessURLs(cfg)
	if len(urls) == 0 {
		return
	}
	pairs := make([][2]string, 0, len(urls))
	for _, u := range urls {
		pairs = append(pairs, [2]string{u.Name, u.URL})
	}
	ux.Title("\nAccess")
	ux.KeyValues(pairs)
}

func renderNukeReport(report *lifecycle.NukeReport) {
	tbl := ux.NewTable("RESOURCE", "OUTCOME", "DETAIL")
	for _, it := range report.Items {
		detail := it.Detail
		if it.Err != nil {
			detail = fmt.Sprint(it.Err)
		}
		tbl.Row(string(it.Kind), ux.StateText(string(it.Outcome)), detail)
	}
	tbl.Render(ux.Stdout())
}
