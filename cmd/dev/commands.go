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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/devenv/cmd/dev/internal/lifecycle"
)

// newRootCmd assembles the command tree around c.
func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "dev",
		Short: "Manage the local Symfony development stack",
		Long: `dev initializes and drives a docker compose development stack
(nginx, php, mysql, phpmyadmin, dozzle and an optional vue frontend)
and runs composer, console, npm and shells inside its containers.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.projectDir, "project-dir", "C", "", "project root (default: nearest directory with stack.yaml or .env)")
	pf.StringVar(&c.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.BoolVar(&c.logJSON, "log-json", false, "write logs as JSON")
	pf.StringVar(&c.ui, "ui", "", "output style: full, standard, minimal, machine (env DEV_UI)")

	root.AddGroup(
		&cobra.Group{ID: "stack", Title: "Stack lifecycle:"},
		&cobra.Group{ID: "tools", Title: "Tools inside the containers:"},
	)

	for _, cmd := range []*cobra.Command{
		newInitCmd(c),
		newUpCmd(c),
		newSimpleCmd(c, "start", "Start the stopped containers", (*lifecycle.Controller).Start, true),
		newSimpleCmd(c, "stop", "Stop the containers without removing them", (*lifecycle.Controller).Stop, false),
		newSimpleCmd(c, "restart", "Restart the containers", (*lifecycle.Controller).Restart, true),
		newDownCmd(c),
		newRebuildCmd(c),
		newNukeCmd(c),
		newStatusCmd(c),
		newSetupCmd(c),
	} {
		cmd.GroupID = "stack"
		root.AddCommand(cmd)
	}

	for _, cmd := range []*cobra.Command{
		newPassthroughCmd(c, "composer", nil, "Run composer in the application container", (*lifecycle.Controller).Composer),
		newPassthroughCmd(c, "symfony", []string{"console"}, "Run bin/console in the application container", (*lifecycle.Controller).Framework),
		newPassthroughCmd(c, "npm", nil, "Run npm in the frontend container", (*lifecycle.Controller).NPM),
		newShellCmd(c),
		newMySQLCmd(c),
		newLogsCmd(c),
	} {
		cmd.GroupID = "tools"
		root.AddCommand(cmd)
	}

	root.AddCommand(newAliasesCmd(c), newVersionCmd())
	return root
}
