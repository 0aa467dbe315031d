// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"
)

// StackConfig is the optional stack.yaml in the project root. Every field
// has a default, so a project without the file behaves like the stock
// Symfony stack.
type StackConfig struct {
	// Compose: how docker compose is invoked
	Compose ComposeConfig `yaml:"compose"`

	// Services: compose services dev manages, by name
	Services []string `yaml:"services" validate:"min=1,unique,dive,oneof=nginx php mysql phpmyadmin dozzle vue"`

	// Projects: source repositories init clones
	Projects []ProjectConfig `yaml:"projects" validate:"dive"`

	// Readiness: how init decides the stack is up
	Readiness ReadinessConfig `yaml:"readiness"`

	// Profile: where shell aliases are installed
	Profile ProfileConfig `yaml:"profile"`
}

type ComposeConfig struct {
	ProjectName string   `yaml:"project_name" validate:"omitempty,composename"`
	Files       []string `yaml:"files" validate:"dive,required"`
}

type ProjectConfig struct {
	Name      string `yaml:"name" validate:"required"`
	Path      string `yaml:"path" validate:"required"`
	RepoKey   string `yaml:"repo_key" validate:"required,envkey"`
	BranchKey string `yaml:"branch_key" validate:"omitempty,envkey"`
	Service   string `yaml:"service" validate:"omitempty,oneof=nginx php mysql phpmyadmin dozzle vue"`
}

type ReadinessConfig struct {
	Kind            string        `yaml:"kind" validate:"oneof=exec http"`
	Service         string        `yaml:"service" validate:"required_if=Kind exec"`
	Command         []string      `yaml:"command" validate:"required_if=Kind exec"`
	URL             string        `yaml:"url" validate:"required_if=Kind http,omitempty,url"`
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gte=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gte=0"`
	MaxWait         time.Duration `yaml:"max_wait" validate:"gte=0"`
}

type ProfileConfig struct {
	AliasesFile string `yaml:"aliases_file" validate:"required"`
	RCFile      string `yaml:"rc_file"`
	BlockName   string `yaml:"block_name" validate:"required,alphanumdash"`
	Command     string `yaml:"command" validate:"required"`
}

// DefaultConfig returns the stock Symfony stack settings.
func DefaultConfig() StackConfig {
	return StackConfig{
		Compose: ComposeConfig{},
		Services: []string{
			"nginx", "php", "mysql", "phpmyadmin", "dozzle",
		},
		Projects: []ProjectConfig{
			{
				Name:      "symfony-api",
				Path:      "projects/symfony-api",
				RepoKey:   "GITHUB_REPO",
				BranchKey: "GITHUB_BRANCH",
				Service:   "php",
			},
			{
				Name:      "frontend",
				Path:      "projects/ape-management-frontend",
				RepoKey:   "FRONTEND_REPO",
				BranchKey: "FRONTEND_BRANCH",
				Service:   "vue",
			},
		},
		Readiness: ReadinessConfig{
			Kind:            "exec",
			Service:         "php",
			Command:         []string{"php", "-v"},
			InitialInterval: time.Second,
			MaxInterval:     5 * time.Second,
			MaxWait:         90 * time.Second,
		},
		Profile: ProfileConfig{
			AliasesFile: "~/.bash_aliases",
			RCFile:      "~/.bashrc",
			BlockName:   "dev-aliases",
			Command:     "dev",
		},
	}
}

// ServiceEnabled reports whether name is in Services.
func (c StackConfig) ServiceEnabled(name string) bool {
	for _, s := range c.Services {
		if s == name {
			return true
		}
	}
	return false
}

// ProjectFor returns the project whose source runs in service.
func (c StackConfig) ProjectFor(service string) (ProjectConfig, bool) {
	for _, p := range c.Projects {
		if p.Service == service {
			return p, true
		}
	}
	return ProjectConfig{}, false
}
