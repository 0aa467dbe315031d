// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package util provides foundational utilities for the dev CLI.
//
// This package contains low-level utilities that have no dependencies on
// other internal packages. It is a leaf package in the dependency graph and
// is imported by the config store, the command runner, the profile installer
// and the lifecycle controller alike.
//
// # Overview
//
// The util package provides three categories of utilities:
//
//   - Error kinds: typed errors for every failure class the CLI reports,
//     plus the mapping from those errors to process exit codes
//   - Environment Variables: validated environment overlays with
//     sensitivity marking for safe logging
//   - Atomic writes: whole-file replacement through a temp file and rename
//
// # Error Kinds
//
//	err := &util.ConfigError{Kind: util.ConfigMissing, Path: ".env"}
//	os.Exit(util.ExitCode(err)) // 2
//
//	var extErr *util.ExternalCommandError
//	if errors.As(err, &extErr) {
//	    fmt.Println(extErr.Step, extErr.Stderr)
//	}
//
// # Environment variables
//
//	envs, err := util.NewEnvVars(
//	    util.EnvVar{Key: "MYSQL_PASSWORD", Value: "secret", Sensitive: true},
//	)
//	fmt.Println(envs.RedactedSlice()) // Safe for logging
//
// # Atomic writes
//
//	err := util.WriteFileAtomic(path, []byte("APP_ENV=dev\n"), 0600)
//
// # Thread Safety
//
// Error values are immutable after creation. [EnvVars] is NOT safe for
// concurrent modification.
package util
