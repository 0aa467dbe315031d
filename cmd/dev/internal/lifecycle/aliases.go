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

	"github.com/AleutianAI/devenv/cmd/dev/internal/profile"
)

// AliasReport describes what Aliases changed.
type AliasReport struct {
	Path    string          `json:"path" yaml:"path"`
	Outcome profile.Outcome `json:"outcome" yaml:"outcome"`
	RCPath  string          `json:"rc_path,omitempty" yaml:"rc_path,omitempty"`
	Sourced profile.Outcome `json:"sourced" yaml:"sourced"`
}

// AliasBlock returns the managed alias block.
func (c *Controller) AliasBlock() profile.Block {
	command := c.settings.Profile.Command
	target := c.executable
	if target == "" {
		target = command
	}
	return profile.Block{
		Name: c.settings.Profile.BlockName,
		Aliases: []profile.Alias{
			{Name: "dev", Expansion: target},
			{Name: "dcomposer", Expansion: command + " composer"},
			{Name: "dsymfony", Expansion: command + " symfony"},
			{Name: "dnpm", Expansion: command + " npm"},
			{Name: "dshell", Expansion: command + " shell"},
			{Name: "dmysql", Expansion: command + " mysql"},
			{Name: "dlogs", Expansion: command + " logs -f"},
			{Name: "dstatus", Expansion: command + " status"},
		},
	}
}

// Aliases installs the alias block into the aliases file and makes the
// shell rc file source it. Running it again changes nothing.
//
// # Outputs
//
//   - *AliasReport: The files and what happened to each
//   - error: *util.ProfileError; the aliases file is untouched on failure
func (c *Controller) Aliases(ctx context.Context) (*AliasReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	op := c.begin("aliases")

	report := &AliasReport{Path: c.profile.Path()}
	outcome, err := c.profile.Install(c.AliasBlock())
	if err != nil {
		return report, err
	}
	report.Outcome = outcome
	op.logger.Info("alias block installed", "path", report.Path, "outcome", outcome.String())

	if rc := c.settings.Profile.RCFile; rc != "" {
		report.RCPath = profile.ExpandHome(rc)
		sourced, err := profile.EnsureSourced(rc, c.profile.Path())
		if err != nil {
			return report, err
		}
		report.Sourced = sourced
	}
	return report, nil
}
