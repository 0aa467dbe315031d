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

	"github.com/AleutianAI/devenv/cmd/dev/internal/infra/compose"
	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
	"github.com/AleutianAI/devenv/pkg/logging"
)

// =============================================================================
// Types
// =============================================================================

// ResourceKind is a class of resource nuke removes.
type ResourceKind string

const (
	ResourceContainers ResourceKind = "containers"
	ResourceImages     ResourceKind = "images"
	ResourceVolumes    ResourceKind = "volumes"
	ResourceBuildCache ResourceKind = "build-cache"
	ResourceConfig     ResourceKind = "config"
)

// CleanupOutcome is what happened to one resource kind.
type CleanupOutcome string

const (
	CleanupRemoved CleanupOutcome = "removed"
	CleanupAbsent  CleanupOutcome = "absent"
	CleanupFailed  CleanupOutcome = "failed"
)

// CleanupItem reports one resource kind.
type CleanupItem struct {
	Kind    ResourceKind   `json:"kind" yaml:"kind"`
	Outcome CleanupOutcome `json:"outcome" yaml:"outcome"`
	Detail  string         `json:"detail,omitempty" yaml:"detail,omitempty"`
	Err     error          `json:"-" yaml:"-"`
}

// NukeReport lists every resource kind nuke attempted, in order.
type NukeReport struct {
	OperationID string        `json:"operation_id" yaml:"operation_id"`
	Items       []CleanupItem `json:"items" yaml:"items"`
}

// Item returns the entry for kind.
func (r *NukeReport) Item(kind ResourceKind) (CleanupItem, bool) {
	for _, it := range r.Items {
		if it.Kind == kind {
			return it, true
		}
	}
	return CleanupItem{}, false
}

// NukeOptions configures Nuke.
type NukeOptions struct {
	// Force skips the confirmation.
	Force bool

	// PurgeConfig also deletes the environment configuration, returning
	// the project to uninitialized.
	PurgeConfig bool
}

// =============================================================================
// Nuke
// =============================================================================

// Nuke removes every resource of the project.
//
// # Description
//
// Asks for confirmation unless Force is set; a declined or impossible
// confirmation touches nothing. Then attempts, in order and regardless of
// earlier failures: containers, images, volumes, build cache and, with
// PurgeConfig, the configuration file. A kind with nothing to remove is
// reported absent. Works whether or not the configuration is loadable.
//
// # Outputs
//
//   - *NukeReport: One item per attempted kind
//   - error: util.ErrAborted, context cancellation, or
//     *util.PartialCleanupError naming the failed kinds
//
// # Limitations
//
//   - The build cache prune is not scoped to the project
func (c *Controller) Nuke(ctx context.Context, opts NukeOptions) (*NukeReport, error) {
	if !opts.Force {
		if err := c.confirmNuke(opts); err != nil {
			return nil, err
		}
	}

	op := c.begin("nuke")
	report := &NukeReport{OperationID: op.report.OperationID}

	var env map[string]string
	if c.store.Exists() {
		if cfg, err := c.store.Load(); err == nil {
			env = cfg.Values()
		} else {
			op.logger.Warn("configuration unusable, cleaning up without it", "error", err)
		}
	}

	exec, err := c.newCompose(env)
	if err != nil {
		return nil, err
	}

	kinds := []struct {
		kind ResourceKind
		fn   func() (CleanupOutcome, string, error)
	}{
		{ResourceContainers, func() (CleanupOutcome, string, error) { return removeContainers(ctx, exec) }},
		{ResourceImages, func() (CleanupOutcome, string, error) { return removeImages(ctx, exec, op.logger) }},
		{ResourceVolumes, func() (CleanupOutcome, string, error) { return removeVolumes(ctx, exec) }},
		{ResourceBuildCache, func() (CleanupOutcome, string, error) {
			return CleanupRemoved, "", exec.PruneBuildCache(ctx)
		}},
	}
	if opts.PurgeConfig {
		kinds = append(kinds, struct {
			kind ResourceKind
			fn   func() (CleanupOutcome, string, error)
		}{ResourceConfig, c.removeConfig})
	}

	var failures []util.CleanupFailure
	for _, k := range kinds {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		c.observer.StepStarted(string(k.kind), "Removing "+string(k.kind))
		outcome, detail, err := k.fn()
		if err != nil {
			outcome = CleanupFailed
			failures = append(failures, util.CleanupFailure{Kind: string(k.kind), Err: err})
		}
		item := CleanupItem{Kind: k.kind, Outcome: outcome, Detail: detail, Err: err}
		report.Items = append(report.Items, item)
		c.observer.StepFinished(StepReport{Name: string(k.kind), Outcome: stepOutcome(outcome), Detail: detail, Err: err})
		op.logger.Info("cleanup finished", "kind", string(k.kind), "outcome", string(outcome), "error", err)
	}

	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	if len(failures) > 0 {
		return report, &util.PartialCleanupError{Failures: failures}
	}
	return report, nil
}

func (c *Controller) confirmNuke(opts NukeOptions) error {
	if c.prompter == nil {
		return fmt.Errorf("%w: rerun with --force", util.ErrNoTerminal)
	}
	description := "Removes containers, images, volumes (including the database) and the build cache."
	if opts.PurgeConfig {
		description += " The configuration file is deleted too."
	}
	ok, err := c.prompter.Confirm("Remove everything this project created?", description)
	if err != nil {
		if errors.Is(err, util.ErrNoTerminal) {
			return fmt.Errorf("%w: rerun with --force", err)
		}
		return err
	}
	if !ok {
		return util.ErrAborted
	}
	return nil
}

func (c *Controller) removeConfig() (CleanupOutcome, string, error) {
	if !c.store.Exists() {
		return CleanupAbsent, "", nil
	}
	if err := c.store.Remove(); err != nil {
		return CleanupFailed, "", err
	}
	return CleanupRemoved, c.store.Path(), nil
}

func removeContainers(ctx context.Context, exec compose.Executor) (CleanupOutcome, string, error) {
	containers, err := exec.Ps(ctx, true)
	if err != nil {
		return CleanupFailed, "", err
	}
	if len(containers) == 0 {
		return CleanupAbsent, "", nil
	}
	if err := exec.Down(ctx, compose.DownOptions{RemoveOrphans: true}); err != nil {
		return CleanupFailed, "", err
	}
	return CleanupRemoved, fmt.Sprintf("%d containers", len(containers)), nil
}

// removeImages removes the compose file's images that exist locally and
// keeps going after a failure.
func removeImages(ctx context.Context, exec compose.Executor, logger *logging.Logger) (CleanupOutcome, string, error) {
	refs, err := exec.ConfigImages(ctx)
	if err != nil {
		return CleanupFailed, "", err
	}

	var present []string
	for _, ref := range refs {
		ok, err := exec.ImagePresent(ctx, ref)
		if err != nil {
			return CleanupFailed, "", err
		}
		if ok {
			present = append(present, ref)
		}
	}
	if len(present) == 0 {
		return CleanupAbsent, "", nil
	}

	if err := exec.RemoveImages(ctx, present); err != nil {
		logger.Warn("images not removed", "images", present, "error", err)
		return CleanupFailed, "", err
	}
	return CleanupRemoved, fmt.Sprintf("%d images", len(present)), nil
}

func removeVolumes(ctx context.Context, exec compose.Executor) (CleanupOutcome, string, error) {
	names, err := exec.ProjectVolumes(ctx)
	if err != nil {
		return CleanupFailed, "", err
	}
	if len(names) == 0 {
		return CleanupAbsent, "", nil
	}
	if err := exec.RemoveVolumes(ctx, names); err != nil {
		return CleanupFailed, "", err
	}
	return CleanupRemoved, fmt.Sprintf("%d volumes", len(names)), nil
}

func stepOutcome(o CleanupOutcome) StepOutcome {
	switch o {
	case CleanupRemoved:
		return StepDone
	case CleanupAbsent:
		return StepSkipped
	default:
		return StepFailed
	}
}
