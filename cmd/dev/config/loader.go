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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
)

// FileName is the stack settings file in the project root.
const FileName = "stack.yaml"

// projectMarkers identify a project root when walking up from the cwd.
var projectMarkers = []string{
	FileName,
	".env",
	"compose.yaml",
	"compose.yml",
	"docker-compose.yml",
	"docker-compose.yaml",
}

var (
	stackValidate *validator.Validate

	composeNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	envKeyPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	alnumDashPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
)

func init() {
	stackValidate = validator.New()
	stackValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = stackValidate.RegisterValidation("composename", matchPattern(composeNamePattern))
	_ = stackValidate.RegisterValidation("envkey", matchPattern(envKeyPattern))
	_ = stackValidate.RegisterValidation("alphanumdash", matchPattern(alnumDashPattern))
}

func matchPattern(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// Load reads {projectDir}/stack.yaml over the defaults.
//
// # Description
//
// A missing file yields DefaultConfig. Keys present in the file replace
// the defaults; lists replace whole lists. Unknown keys are rejected so
// typos surface instead of being ignored.
//
// # Outputs
//
//   - StackConfig: Validated settings
//   - error: *util.ConfigError (InvalidValue) for unreadable, unparsable or
//     invalid files
func Load(projectDir string) (StackConfig, error) {
	path := filepath.Join(projectDir, FileName)
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return StackConfig{}, &util.ConfigError{Kind: util.ConfigInvalidValue, Path: path, Err: err}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return StackConfig{}, &util.ConfigError{Kind: util.ConfigInvalidValue, Path: path,
			Err: fmt.Errorf("failed to parse: %w", err)}
	}

	if err := Validate(cfg); err != nil {
		var cfgErr *util.ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.Path = path
		}
		return StackConfig{}, err
	}
	return cfg, nil
}

// Validate checks cfg and reports the first violation as a ConfigError
// whose Key is the yaml path of the field (e.g. "readiness.url").
func Validate(cfg StackConfig) error {
	err := stackValidate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &util.ConfigError{
			Kind: util.ConfigInvalidValue,
			Key:  yamlPath(fe.Namespace()),
			Err:  fmt.Errorf("failed %q check", fe.Tag()),
		}
	}
	return &util.ConfigError{Kind: util.ConfigInvalidValue, Err: err}
}

// FindProjectDir walks up from start to the first directory that contains
// a project marker. Returns start when none is found.
func FindProjectDir(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		for _, marker := range projectMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		if parent := filepath.Dir(dir); parent == dir {
			return abs, nil
		}
	}
}

// yamlPath drops the root struct name: "StackConfig.readiness.url" -> "readiness.url".
func yamlPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}
