// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// envVarKeyPattern validates environment variable key names.
// Keys must start with a letter or underscore and contain only
// alphanumeric characters and underscores.
var envVarKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrInvalidEnvVarKey is returned when an environment variable key is invalid.
var ErrInvalidEnvVarKey = fmt.Errorf("invalid environment variable key")

// =============================================================================
// EnvVar
// =============================================================================

// EnvVar represents a single environment variable with metadata.
//
// # Description
//
// Pairs a key and value with a sensitivity flag so that command logging
// can print the overlay of a compose invocation without leaking database
// passwords or the application secret.
//
// # Example
//
//	v := EnvVar{Key: "MYSQL_PASSWORD", Value: "hunter2", Sensitive: true}
//	fmt.Println(v.Redacted()) // MYSQL_PASSWORD=[REDACTED]
type EnvVar struct {
	// Key is the environment variable name.
	// Must match pattern: ^[a-zA-Z_][a-zA-Z0-9_]*$
	Key string

	// Value is the environment variable value.
	// May be empty string (valid in POSIX).
	Value string

	// Sensitive indicates this value should be redacted in logs.
	Sensitive bool
}

// String returns KEY=VALUE.
func (e EnvVar) String() string {
	return fmt.Sprintf("%s=%s", e.Key, e.Value)
}

// Redacted returns KEY=[REDACTED] for sensitive variables and KEY=VALUE otherwise.
func (e EnvVar) Redacted() string {
	if e.Sensitive {
		return fmt.Sprintf("%s=[REDACTED]", e.Key)
	}
	return e.String()
}

// Validate checks that the key is a valid POSIX variable name.
func (e EnvVar) Validate() error {
	if !envVarKeyPattern.MatchString(e.Key) {
		return fmt.Errorf("%w: %q must match pattern [a-zA-Z_][a-zA-Z0-9_]*", ErrInvalidEnvVarKey, e.Key)
	}
	return nil
}

// =============================================================================
// EnvVars
// =============================================================================

// EnvVars is an ordered, validated environment overlay.
//
// # Description
//
// Holds the variables a command invocation adds on top of the inherited
// process environment. Order is preserved so that the resulting
// environment slice and log output are deterministic. A later entry for
// the same key wins when the overlay is applied.
//
// # Thread Safety
//
// EnvVars is NOT safe for concurrent modification.
//
// # Example
//
//	env, err := util.FromMap(cfg.Values(), nil)
//	if err != nil {
//	    return err
//	}
//	cmd.Env = append(os.Environ(), env.ToSlice()...)
type EnvVars struct {
	vars []EnvVar
}

// NewEnvVars creates an overlay from the given variables, validating every key.
func NewEnvVars(vars ...EnvVar) (*EnvVars, error) {
	for _, v := range vars {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	copied := make([]EnvVar, len(vars))
	copy(copied, vars)
	return &EnvVars{vars: copied}, nil
}

// EmptyEnvVars returns an overlay with no variables.
func EmptyEnvVars() *EnvVars {
	return &EnvVars{vars: []EnvVar{}}
}

// Add appends a variable after validating its key.
func (e *EnvVars) Add(key, value string, sensitive bool) error {
	ev := EnvVar{Key: key, Value: value, Sensitive: sensitive}
	if err := ev.Validate(); err != nil {
		return err
	}
	e.vars = append(e.vars, ev)
	return nil
}

// Get returns the last value recorded for key, or "" if absent.
func (e *EnvVars) Get(key string) string {
	if e == nil {
		return ""
	}
	for i := len(e.vars) - 1; i >= 0; i-- {
		if e.vars[i].Key == key {
			return e.vars[i].Value
		}
	}
	return ""
}

// Has reports whether key is present.
func (e *EnvVars) Has(key string) bool {
	if e == nil {
		return false
	}
	for _, v := range e.vars {
		if v.Key == key {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (e *EnvVars) Len() int {
	if e == nil {
		return 0
	}
	return len(e.vars)
}

// ToSlice returns the overlay as KEY=VALUE strings for exec.Cmd.Env.
func (e *EnvVars) ToSlice() []string {
	if e == nil {
		return nil
	}
	result := make([]string, len(e.vars))
	for i, v := range e.vars {
		result[i] = v.String()
	}
	return result
}

// ToMap returns the overlay as a map (last value per key wins).
func (e *EnvVars) ToMap() map[string]string {
	if e == nil {
		return nil
	}
	result := make(map[string]string, len(e.vars))
	for _, v := range e.vars {
		result[v.Key] = v.Value
	}
	return result
}

// RedactedSlice returns KEY=VALUE strings with sensitive values replaced.
func (e *EnvVars) RedactedSlice() []string {
	if e == nil {
		return nil
	}
	result := make([]string, len(e.vars))
	for i, v := range e.vars {
		result[i] = v.Redacted()
	}
	return result
}

// Merge returns a new overlay with other's entries applied on top of e.
//
// # Description
//
// Keys from e keep their position; keys only in other are appended in
// other's order. When a key appears in both, other's value and
// sensitivity win. Neither input is modified.
func (e *EnvVars) Merge(other *EnvVars) *EnvVars {
	result := EmptyEnvVars()
	index := make(map[string]int)
	apply := func(src *EnvVars) {
		if src == nil {
			return
		}
		for _, v := range src.vars {
			if i, ok := index[v.Key]; ok {
				result.vars[i] = v
				continue
			}
			index[v.Key] = len(result.vars)
			result.vars = append(result.vars, v)
		}
	}
	apply(e)
	apply(other)
	return result
}

// FromMap builds an overlay from a map, sorted by key.
//
// # Description
//
// Keys in sensitiveKeys, and keys matching [IsSensitiveKey], are marked
// sensitive. Keys are sorted so that the same map always produces the
// same overlay.
func FromMap(m map[string]string, sensitiveKeys []string) (*EnvVars, error) {
	if m == nil {
		return EmptyEnvVars(), nil
	}

	sensitiveSet := make(map[string]bool, len(sensitiveKeys))
	for _, k := range sensitiveKeys {
		sensitiveSet[k] = true
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vars := make([]EnvVar, 0, len(m))
	for _, k := range keys {
		vars = append(vars, EnvVar{
			Key:       k,
			Value:     m[k],
			Sensitive: sensitiveSet[k] || IsSensitiveKey(k),
		})
	}

	return NewEnvVars(vars...)
}

// IsSensitiveKey reports whether a variable name looks like it holds a secret.
//
// # Limitations
//
//   - Pattern-based, may have false positives (e.g. "KEYBOARD_LAYOUT")
func IsSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	return strings.Contains(upper, "TOKEN") ||
		strings.Contains(upper, "SECRET") ||
		strings.Contains(upper, "KEY") ||
		strings.Contains(upper, "PASSWORD") ||
		strings.Contains(upper, "PWD") ||
		strings.Contains(upper, "CREDENTIAL")
}
