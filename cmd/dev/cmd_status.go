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
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/devenv/cmd/dev/internal/lifecycle"
	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
	"github.com/AleutianAI/devenv/pkg/ux"
)

// =============================================================================
// status
// =============================================================================

func newStatusCmd(c *cli) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the lifecycle phase and the state of every service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := c.ctrl.Status(cmd.Context())
			if err != nil {
				return err
			}
			return renderStatus(cmd.OutOrStdout(), report, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json, yaml")
	return cmd
}

func renderStatus(w io.Writer, report *lifecycle.StatusReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
	default:
		return &util.ConfigError{Kind: util.ConfigInvalidValue, Key: "output",
			Err: fmt.Errorf("unknown format %q (valid: table, json, yaml)", format)}
	}

	fmt.Fprintf(w, "Phase: %s\n", ux.StateText(string(report.Phase)))
	if report.Phase == lifecycle.PhaseUninitialized {
		fmt.Fprintln(w, "Run 'dev init' to create the configuration and start the stack.")
		return nil
	}

	tbl := ux.NewTable("SERVICE", "CONTAINER", "STATE", "HEALTH", "STATUS")
	for _, s := range report.Services {
		tbl.Row(s.Service, s.Container, ux.StateText(s.State), s.Health, s.Status)
	}
	tbl.Render(w)

	if len(report.URLs) > 0 && report.Phase != lifecycle.PhaseConfigured {
		urls := ux.NewTable("ACCESS", "URL")
		for _, u := range report.URLs {
			urls.Row(u.Name, u.URL)
		}
		urls.Render(w)
	}
	return nil
}

// =============================================================================
// aliases / version
// =============================================================================

func newAliasesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "aliases",
		Short: "Install the dev shell aliases into your profile",
		Args:  cobra.NoArgs,
		RunE: c.locked(func(cmd *cobra.Command, _ []string) error {
			report, err := c.ctrl.Aliases(cmd.Context())
			if err != nil {
				return err
			}
			ux.Success(fmt.Sprintf("aliases %s in %s", report.Outcome, report.Path))
			if report.RCPath != "" {
				ux.Info(fmt.Sprintf("%s: source line %s", report.RCPath, report.Sourced))
			}
			ux.Hint("open a new shell or 'source " + report.RCPath + "' to use them")
			return nil
		}),
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dev version",
		Args:  cobra.NoArgs,
		// No project needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "dev", version)
			return nil
		},
	}
}
