// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"testing"
)

func TestValidateRepoURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		// Valid remotes
		{"scp-like", "git@github.com:acme/symfony-api.git", false},
		{"scp-like nested", "git@gitlab.example.com:group/sub/app", false},
		{"https", "https://github.com/acme/symfony-api.git", false},
		{"ssh", "ssh://git@github.com:22/acme/app.git", false},
		{"git protocol", "git://example.com/app.git", false},
		{"file", "file:///srv/git/app.git", false},

		// Invalid - option injection and garbage
		{"empty", "", true},
		{"option injection", "--upload-pack=touch /tmp/pwned", true},
		{"leading dash scp", "-oProxyCommand=x@host:repo", true},
		{"whitespace", "https://github.com/acme/app .git", true},
		{"newline", "https://github.com/acme/app\n--config", true},
		{"unknown scheme", "ftp://example.com/app.git", true},
		{"no host", "https:///app.git", true},
		{"no path", "https://github.com/", true},
		{"bare word", "symfony-api", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRepoURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRepoURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateBranch(t *testing.T) {
	tests := []struct {
		name    string
		branch  string
		wantErr bool
	}{
		{"simple", "main", false},
		{"nested", "feature/login-form", false},
		{"tag-like", "v1.2.3", false},

		{"empty", "", true},
		{"option injection", "--orphan", true},
		{"double dot", "main..dev", true},
		{"reflog", "main@{1}", true},
		{"colon", "a:b", true},
		{"space", "my branch", true},
		{"lock suffix", "main.lock", true},
		{"trailing slash", "feature/", true},
		{"trailing dot", "main.", true},
		{"double slash", "a//b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBranch(tt.branch)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBranch(%q) error = %v, wantErr %v", tt.branch, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeRepoURL(t *testing.T) {
	got, err := SanitizeRepoURL("  git@github.com:acme/app.git\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "git@github.com:acme/app.git" {
		t.Errorf("expected trimmed URL, got %q", got)
	}

	if _, err := SanitizeRepoURL("   "); err == nil {
		t.Error("expected error for blank input")
	}
}
