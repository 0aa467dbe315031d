// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package configstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
)

// ValueType is the declared type of a configuration key.
type ValueType int

const (
	TypeString ValueType = iota
	TypeInt
)

// KeySpec declares one configuration key.
type KeySpec struct {
	Key      string
	Type     ValueType
	Required bool

	// Secret keys get a generated value when the template leaves them
	// empty or as a placeholder.
	Secret bool
}

// Well-known keys.
const (
	KeyAppSecret         = "APP_SECRET"
	KeyMySQLRootPassword = "MYSQL_ROOT_PASSWORD"
	KeyMySQLDatabase     = "MYSQL_DATABASE"
	KeyMySQLUser         = "MYSQL_USER"
	KeyMySQLPassword     = "MYSQL_PASSWORD"
	KeyUserID            = "USER_ID"
	KeyGroupID           = "GROUP_ID"
	KeyHTTPPort          = "HTTP_PORT"
	KeyMySQLPort         = "MYSQL_PORT"
	KeyPMAPort           = "PMA_PORT"
	KeyDozzlePort        = "DOZZLE_PORT"
	KeyGitHubRepo        = "GITHUB_REPO"
	KeyGitHubBranch      = "GITHUB_BRANCH"
	KeyFrontendRepo      = "FRONTEND_REPO"
	KeyFrontendBranch    = "FRONTEND_BRANCH"
)

// DefaultSchema is the key set of the Symfony stack.
var DefaultSchema = []KeySpec{
	{Key: KeyAppSecret, Type: TypeString, Required: true, Secret: true},
	{Key: KeyMySQLRootPassword, Type: TypeString, Required: true, Secret: true},
	{Key: KeyMySQLDatabase, Type: TypeString, Required: true},
	{Key: KeyMySQLUser, Type: TypeString, Required: true},
	{Key: KeyMySQLPassword, Type: TypeString, Required: true, Secret: true},
	{Key: KeyUserID, Type: TypeInt, Required: true},
	{Key: KeyGroupID, Type: TypeInt, Required: true},
	{Key: KeyHTTPPort, Type: TypeInt, Required: true},
	{Key: KeyMySQLPort, Type: TypeInt, Required: true},
	{Key: KeyPMAPort, Type: TypeInt, Required: true},
	{Key: KeyDozzlePort, Type: TypeInt, Required: true},
	{Key: KeyGitHubRepo, Type: TypeString},
	{Key: KeyGitHubBranch, Type: TypeString},
	{Key: KeyFrontendRepo, Type: TypeString},
	{Key: KeyFrontendBranch, Type: TypeString},
}

// validate checks cfg against schema in declaration order and returns the
// first violation as a *util.ConfigError.
func validate(cfg Config, schema []KeySpec) error {
	for _, spec := range schema {
		v, ok := cfg.Lookup(spec.Key)
		if !ok || (spec.Required && v == "") {
			if spec.Required {
				return &util.ConfigError{Kind: util.ConfigMissingKey, Path: cfg.path, Key: spec.Key}
			}
			continue
		}
		if spec.Type == TypeInt && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return &util.ConfigError{Kind: util.ConfigInvalidValue, Path: cfg.path, Key: spec.Key,
					Err: fmt.Errorf("%q is not an integer", v)}
			}
			if n < 0 {
				return &util.ConfigError{Kind: util.ConfigInvalidValue, Path: cfg.path, Key: spec.Key,
					Err: fmt.Errorf("%d is negative", n)}
			}
		}
	}
	return nil
}

// placeholderIndicators mark values copied from an example file that
// still need a real value.
var placeholderIndicators = []string{
	"yourusername",
	"your-username",
	"placeholder",
	"example.com",
	"changeme",
	"change-me",
	"change_me",
}

// weakSecrets are complete values that are never acceptable as generated
// credentials.
var weakSecrets = map[string]bool{
	"secret":   true,
	"password": true,
	"root":     true,
}

// IsPlaceholder reports whether value is empty or still contains an
// example-file placeholder.
func IsPlaceholder(value string) bool {
	if strings.TrimSpace(value) == "" {
		return true
	}
	lower := strings.ToLower(value)
	for _, indicator := range placeholderIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

func needsGeneratedSecret(value string) bool {
	return IsPlaceholder(value) || weakSecrets[strings.ToLower(strings.TrimSpace(value))]
}
