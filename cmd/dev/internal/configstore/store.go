// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package configstore persists the stack's environment configuration: the
// project's .env file that docker compose reads.
//
// # Overview
//
// The store materializes .env once, from the project's .env.example (or a
// built-in template), fills in generated credentials and detected values,
// and writes it atomically. Afterwards it only reads. Comments and unknown
// keys of the template survive every rewrite.
//
//	store := configstore.New(projectDir)
//	cfg, err := store.InitializeFromTemplate(map[string]string{
//	    "USER_ID": "1000",
//	}, false)
//
//	cfg, err = store.Load()
//	user, _ := cfg.Get(configstore.KeyMySQLUser)
//
// # Templates
//
// Templates are rendered with text/template and the sprig function library
// before parsing, so an example file may contain e.g.
// APP_SECRET={{ randAlphaNum 32 }}. Overrides are visible to the template
// as fields (e.g. {{ .USER_ID }}).
//
// # Thread Safety
//
// Store holds no mutable state. Concurrent dev processes are serialized
// by the project lock, not by this package.
package configstore

import (
	"bytes"
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
)

const (
	// FileName is the environment configuration file in the project root.
	FileName = ".env"

	// TemplateName is the example file init copies from when present.
	TemplateName = ".env.example"
)

//go:embed default.env.tmpl
var defaultTemplate string

// =============================================================================
// Config
// =============================================================================

// Config is an immutable snapshot of the environment configuration.
//
// # Description
//
// Keys keep the order in which they appear in the file. Lookups return the
// last value for duplicated keys, matching how docker compose reads the
// file. Callers receive copies and cannot modify the snapshot.
type Config struct {
	path   string
	keys   []string
	values map[string]string
}

// NewConfig builds a Config from a map. Keys are ordered alphabetically.
// Used by callers that need a Config without a file.
func NewConfig(values map[string]string) Config {
	keys := make([]string, 0, len(values))
	copied := make(map[string]string, len(values))
	for k, v := range values {
		keys = append(keys, k)
		copied[k] = v
	}
	sort.Strings(keys)
	return Config{keys: keys, values: copied}
}

// Path returns the file this snapshot was read from (may be empty).
func (c Config) Path() string {
	return c.path
}

// Lookup returns the value for key and whether it is present.
func (c Config) Lookup(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Get returns the value for key or a ConfigError(MissingKey).
func (c Config) Get(key string) (string, error) {
	v, ok := c.values[key]
	if !ok {
		return "", &util.ConfigError{Kind: util.ConfigMissingKey, Path: c.path, Key: key}
	}
	return v, nil
}

// Int returns the value for key parsed as an integer.
func (c Config) Int(key string) (int, error) {
	v, err := c.Get(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &util.ConfigError{Kind: util.ConfigInvalidValue, Path: c.path, Key: key, Err: err}
	}
	return n, nil
}

// Keys returns the keys in file order.
func (c Config) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Values returns a copy of all key/value pairs.
func (c Config) Values() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Len returns the number of distinct keys.
func (c Config) Len() int {
	return len(c.keys)
}

// =============================================================================
// Store
// =============================================================================

// Store reads and writes the environment configuration of one project.
type Store struct {
	path         string
	templatePath string
	schema       []KeySpec
	genSecret    func() (string, error)
}

// Option customizes a Store.
type Option func(*Store)

// WithSchema replaces DefaultSchema.
func WithSchema(schema []KeySpec) Option {
	return func(s *Store) { s.schema = schema }
}

// WithTemplatePath reads the template from path instead of
// {projectDir}/.env.example.
func WithTemplatePath(path string) Option {
	return func(s *Store) { s.templatePath = path }
}

// WithSecretGenerator replaces the random credential generator.
func WithSecretGenerator(gen func() (string, error)) Option {
	return func(s *Store) { s.genSecret = gen }
}

// New creates a store for {projectDir}/.env.
func New(projectDir string, opts ...Option) *Store {
	s := &Store{
		path:         filepath.Join(projectDir, FileName),
		templatePath: filepath.Join(projectDir, TemplateName),
		schema:       DefaultSchema,
		genSecret:    randomSecret,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the configuration file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a non-empty configuration file is present.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Load reads and validates the configuration.
//
// # Outputs
//
//   - Config: The parsed snapshot
//   - error: ConfigError(Missing) if absent, ConfigError(MissingKey) or
//     ConfigError(InvalidValue) if it violates the schema
func (s *Store) Load() (Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Config{}, &util.ConfigError{Kind: util.ConfigMissing, Path: s.path, Err: notExistOrErr(err)}
	}
	if strings.TrimSpace(string(data)) == "" {
		return Config{}, &util.ConfigError{Kind: util.ConfigMissing, Path: s.path}
	}

	doc := parseDocument(string(data))
	cfg := s.snapshot(&doc)
	if err := validate(cfg, s.schema); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// InitializeFromTemplate materializes the configuration file.
//
// # Description
//
// Steps, in order:
//
//  1. Refuse with ConfigError(AlreadyExists) if a config exists and
//     overwrite is false. Nothing is touched in that case.
//  2. Read the template ({projectDir}/.env.example, else the built-in one)
//     and render it with sprig functions; overrides are the template data.
//  3. When an existing configuration is being replaced, carry over its
//     non-placeholder values. Credentials stay the ones the database
//     volume was created with.
//  4. Replace empty or placeholder values of secret keys with generated
//     credentials, unless an override supplies them.
//  5. Apply overrides verbatim: existing keys are replaced in place,
//     new keys are appended in sorted order.
//  6. Validate against the schema, then write atomically with mode 0600.
//
// # Inputs
//
//   - overrides: Values that take precedence over the template
//   - overwrite: Replace an existing configuration
//
// # Outputs
//
//   - Config: The snapshot that was written
//   - error: *util.ConfigError on any failure; the file is untouched then
func (s *Store) InitializeFromTemplate(overrides map[string]string, overwrite bool) (Config, error) {
	if s.Exists() && !overwrite {
		return Config{}, &util.ConfigError{Kind: util.ConfigAlreadyExists, Path: s.path}
	}

	for k := range overrides {
		if err := (util.EnvVar{Key: k}).Validate(); err != nil {
			return Config{}, &util.ConfigError{Kind: util.ConfigInvalidValue, Path: s.path, Key: k, Err: err}
		}
	}

	name, text, err := s.readTemplate()
	if err != nil {
		return Config{}, &util.ConfigError{Kind: util.ConfigInvalidTemplate, Path: name, Err: err}
	}
	rendered, err := renderTemplate(name, text, overrides)
	if err != nil {
		return Config{}, &util.ConfigError{Kind: util.ConfigInvalidTemplate, Path: name, Err: err}
	}

	doc := parseDocument(rendered)

	if err := s.carryOver(&doc, overrides); err != nil {
		return Config{}, err
	}

	for _, spec := range s.schema {
		if !spec.Secret {
			continue
		}
		if _, overridden := overrides[spec.Key]; overridden {
			continue
		}
		if current, ok := doc.lookup(spec.Key); ok && !needsGeneratedSecret(current) {
			continue
		}
		secret, err := s.genSecret()
		if err != nil {
			return Config{}, &util.ConfigError{Kind: util.ConfigWriteFailed, Path: s.path, Key: spec.Key,
				Err: fmt.Errorf("generate credential: %w", err)}
		}
		doc.set(spec.Key, secret)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		doc.set(k, overrides[k])
	}

	cfg := s.snapshot(&doc)
	if err := validate(cfg, s.schema); err != nil {
		return Config{}, err
	}

	out, badKey, err := doc.render()
	if err != nil {
		return Config{}, &util.ConfigError{Kind: util.ConfigInvalidValue, Path: s.path, Key: badKey, Err: err}
	}

	if err := util.WriteFileAtomic(s.path, []byte(out), 0600); err != nil {
		return Config{}, &util.ConfigError{Kind: util.ConfigWriteFailed, Path: s.path, Err: err}
	}
	return cfg, nil
}

// carryOver copies the values of the current configuration file into doc.
// Keys named in overrides, placeholders and weak secrets are skipped. A
// missing file carries nothing.
func (s *Store) carryOver(doc *document, overrides map[string]string) error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &util.ConfigError{Kind: util.ConfigWriteFailed, Path: s.path,
			Err: fmt.Errorf("read current configuration: %w", err)}
	}

	secret := make(map[string]bool, len(s.schema))
	for _, spec := range s.schema {
		secret[spec.Key] = spec.Secret
	}

	current := parseDocument(string(data))
	keys, values := current.pairs()
	for _, k := range keys {
		if _, overridden := overrides[k]; overridden {
			continue
		}
		v := values[k]
		if IsPlaceholder(v) || (secret[k] && needsGeneratedSecret(v)) {
			continue
		}
		doc.set(k, v)
	}
	return nil
}

// Remove deletes the configuration file. A missing file is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &util.ConfigError{Kind: util.ConfigWriteFailed, Path: s.path, Err: err}
	}
	return nil
}

func (s *Store) snapshot(doc *document) Config {
	keys, values := doc.pairs()
	return Config{path: s.path, keys: keys, values: values}
}

// readTemplate returns the template name and text, falling back to the
// built-in template when the project has no example file.
func (s *Store) readTemplate() (string, string, error) {
	data, err := os.ReadFile(s.templatePath)
	if err == nil {
		return s.templatePath, string(data), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return "built-in template", defaultTemplate, nil
	}
	return s.templatePath, "", err
}

// renderTemplate executes text as a text/template with sprig functions.
// Missing fields render as empty strings.
func renderTemplate(name, text string, data map[string]string) (string, error) {
	if data == nil {
		data = map[string]string{}
	}
	tmpl, err := template.New(filepath.Base(name)).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=zero").
		Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// randomSecret returns 32 hex characters from crypto/rand.
func randomSecret() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func notExistOrErr(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
