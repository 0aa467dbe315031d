// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided values before they reach a
// subprocess command line.
//
// Values validated here end up as git arguments. A value starting with
// "-" would be read as an option, so every validator rejects it.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// scpPattern matches scp-like git remotes such as git@github.com:org/repo.git.
var scpPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[A-Za-z0-9._~/-]+$`)

var repoSchemes = map[string]bool{
	"https": true,
	"http":  true,
	"ssh":   true,
	"git":   true,
	"file":  true,
}

// ValidateRepoURL validates a git repository URL.
//
// Valid URLs:
//   - https://, http://, ssh://, git:// and file:// URLs with a path
//   - scp-like remotes: user@host:path
//
// Returns an error if the URL is invalid.
//
// Example:
//
//	if err := validation.ValidateRepoURL(url); err != nil {
//	    return fmt.Errorf("invalid repository: %w", err)
//	}
//	// Safe to pass to git clone
func ValidateRepoURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if err := plainArgument(raw); err != nil {
		return err
	}

	if scpPattern.MatchString(raw) {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid repository URL %q: %w", raw, err)
	}
	if !repoSchemes[u.Scheme] {
		return fmt.Errorf("invalid repository URL %q (use https://, ssh:// or user@host:path)", raw)
	}
	if u.Scheme != "file" && u.Host == "" {
		return fmt.Errorf("invalid repository URL %q: missing host", raw)
	}
	if strings.Trim(u.Path, "/") == "" {
		return fmt.Errorf("invalid repository URL %q: missing repository path", raw)
	}
	return nil
}

// ValidateBranch validates a git branch or tag name against the subset of
// git-check-ref-format rules that matter on a command line.
func ValidateBranch(name string) error {
	if name == "" {
		return fmt.Errorf("branch cannot be empty")
	}
	if err := plainArgument(name); err != nil {
		return err
	}
	switch {
	case strings.Contains(name, ".."),
		strings.Contains(name, "@{"),
		strings.ContainsAny(name, "~^:?*[\\"),
		strings.HasPrefix(name, "/"),
		strings.HasSuffix(name, "/"),
		strings.HasSuffix(name, "."),
		strings.HasSuffix(name, ".lock"),
		strings.Contains(name, "//"):
		return fmt.Errorf("invalid branch name %q", name)
	}
	return nil
}

// SanitizeRepoURL trims and validates a repository URL.
//
// Use this on interactive answers:
//
//	safeURL, err := validation.SanitizeRepoURL(answer)
//	if err != nil {
//	    return err
//	}
func SanitizeRepoURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if err := ValidateRepoURL(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// plainArgument rejects values git would parse as an option or that
// carry whitespace or control characters.
func plainArgument(s string) error {
	if strings.HasPrefix(s, "-") {
		return fmt.Errorf("%q must not start with '-'", s)
	}
	for _, r := range s {
		if r <= ' ' || r == 0x7f {
			return fmt.Errorf("%q must not contain whitespace or control characters", s)
		}
	}
	return nil
}
