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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/devenv/cmd/dev/internal/configstore"
	"github.com/AleutianAI/devenv/cmd/dev/internal/lifecycle"
)

type passthroughOp func(*lifecycle.Controller, context.Context, configstore.Config, []string) error

// newPassthroughCmd forwards its arguments to a tool in a container. Flags
// after the first argument belong to the tool; use "--" to pass a leading
// flag, as in "dev composer -- --version".
func newPassthroughCmd(c *cli, name string, aliases []string, short string, op passthroughOp) *cobra.Command {
	cmd := &cobra.Command{
		Use:     name + " [args...]",
		Aliases: aliases,
		Short:   short,
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			return op(c.ctrl, cmd.Context(), cfg, args)
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newShellCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "shell [service]",
		Short:     "Open a shell in a service container (default: php)",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: lifecycle.ServiceNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
				if _, err := lifecycle.ParseService(name); err != nil {
					return err
				}
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			return c.ctrl.Shell(cmd.Context(), cfg, name)
		},
	}
}

func newMySQLCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "mysql",
		Aliases: []string{"db"},
		Short:   "Open the MySQL client on the application database",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			return c.ctrl.DatabaseCLI(cmd.Context(), cfg)
		},
	}
}

func newLogsCmd(c *cli) *cobra.Command {
	var opts lifecycle.LogsOptions
	cmd := &cobra.Command{
		Use:       "logs [service...]",
		Short:     "Show or follow service logs",
		ValidArgs: lifecycle.ServiceNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args {
				if _, err := lifecycle.ParseService(name); err != nil {
					return err
				}
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			opts.Services = args
			return c.ctrl.Logs(cmd.Context(), cfg, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "stream new lines until interrupted")
	cmd.Flags().IntVarP(&opts.Tail, "tail", "n", 100, "lines per service to show first (0 for all)")
	return cmd
}
