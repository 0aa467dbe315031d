// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profile installs managed blocks of shell aliases into a user's
// shell profile.
//
// # Overview
//
// A managed block is delimited by sentinel comment lines:
//
//	# >>> dev-aliases >>>
//	# Managed by dev. Edits inside this block are overwritten.
//	alias dstatus='dev status'
//	# <<< dev-aliases <<<
//
// Install replaces the block in place when it is present and appends it
// otherwise. Everything outside the sentinels is left byte-for-byte
// untouched, and installing the same block twice leaves the file unchanged.
//
// # Thread Safety
//
// Installer is stateless. Concurrent installs into the same file from
// different processes are not coordinated.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"golang.org/x/sys/unix"

	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
)

// ErrMalformedBlock is returned when a start sentinel has no matching end
// sentinel after it.
var ErrMalformedBlock = errors.New("managed block start marker has no matching end marker")

// ErrInvalidBlock is returned for blocks that cannot be rendered safely.
var ErrInvalidBlock = errors.New("invalid managed block")

var (
	blockNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	aliasNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
)

// =============================================================================
// Block
// =============================================================================

// Alias is one shell alias definition.
type Alias struct {
	Name      string
	Expansion string
}

// Block is a named group of shell lines managed as a unit.
type Block struct {
	// Name identifies the block in its sentinels.
	Name string

	// Lines are written verbatim before the aliases.
	Lines []string

	// Aliases are rendered sorted by name.
	Aliases []Alias
}

// StartMarker returns the opening sentinel line.
func (b Block) StartMarker() string {
	return "# >>> " + b.Name + " >>>"
}

// EndMarker returns the closing sentinel line.
func (b Block) EndMarker() string {
	return "# <<< " + b.Name + " <<<"
}

// Validate checks names and rejects multi-line content.
func (b Block) Validate() error {
	if !blockNamePattern.MatchString(b.Name) {
		return fmt.Errorf("%w: block name %q", ErrInvalidBlock, b.Name)
	}
	seen := make(map[string]bool, len(b.Aliases))
	for _, a := range b.Aliases {
		if !aliasNamePattern.MatchString(a.Name) {
			return fmt.Errorf("%w: alias name %q", ErrInvalidBlock, a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("%w: duplicate alias %q", ErrInvalidBlock, a.Name)
		}
		seen[a.Name] = true
		if strings.ContainsAny(a.Expansion, "\r\n") {
			return fmt.Errorf("%w: alias %q spans lines", ErrInvalidBlock, a.Name)
		}
	}
	for _, l := range b.Lines {
		if strings.ContainsAny(l, "\r\n") {
			return fmt.Errorf("%w: line %q spans lines", ErrInvalidBlock, l)
		}
	}
	return nil
}

const blockTemplate = `{{ .Start }}
# Managed by dev. Edits inside this block are overwritten.
{{- range .Lines }}
{{ . }}
{{- end }}
{{- range .Aliases }}
alias {{ .Name }}={{ .Expansion | trim | shellquote }}
{{- end }}
{{ .End }}
`

var blockTmpl = template.Must(template.New("block").
	Funcs(sprig.TxtFuncMap()).
	Funcs(template.FuncMap{"shellquote": ShellQuote}).
	Parse(blockTemplate))

// Render returns the block text including both sentinels and a trailing
// newline.
func (b Block) Render() (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	aliases := make([]Alias, len(b.Aliases))
	copy(aliases, b.Aliases)
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].Name < aliases[j].Name })

	var buf bytes.Buffer
	err := blockTmpl.Execute(&buf, map[string]any{
		"Start":   b.StartMarker(),
		"End":     b.EndMarker(),
		"Lines":   b.Lines,
		"Aliases": aliases,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ShellQuote wraps s in POSIX single quotes.
//
// # Example
//
//	ShellQuote(`it's`) // 'it'\''s'
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// =============================================================================
// Outcome
// =============================================================================

// Outcome describes what Install did to the profile.
type Outcome int

const (
	// OutcomeUnchanged means the block was already present and identical.
	OutcomeUnchanged Outcome = iota

	// OutcomeAppended means the block was added at the end of the file.
	OutcomeAppended

	// OutcomeReplaced means an existing block was rewritten in place.
	OutcomeReplaced
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeAppended:
		return "appended"
	case OutcomeReplaced:
		return "replaced"
	default:
		return "unchanged"
	}
}

// MarshalText renders the outcome name in JSON and YAML reports.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// =============================================================================
// Installer
// =============================================================================

// Installer writes managed blocks into one profile file.
type Installer struct {
	path string
}

// NewInstaller creates an installer for path (e.g. ~/.bash_aliases).
// A leading "~/" is expanded to the user's home directory.
func NewInstaller(path string) *Installer {
	return &Installer{path: ExpandHome(path)}
}

// Path returns the profile file path.
func (i *Installer) Path() string {
	return i.path
}

// Install places block into the profile.
//
// # Description
//
// Reads the profile (missing means empty), locates every start/end
// sentinel pair for the block's name, and then:
//
//   - no pair found: appends the block, separated by a blank line when the
//     file is not empty
//   - pairs found: replaces the first with the rendered block and drops
//     the rest
//
// The file is only written when its content changes. Writes go through a
// temp file and rename and keep the existing file mode. A symlinked
// profile is written through to its target.
//
// # Outputs
//
//   - Outcome: What happened to the file
//   - error: *util.ProfileError wrapping ErrMalformedBlock, ErrInvalidBlock,
//     an unwritable existing profile or an I/O failure
func (i *Installer) Install(block Block) (Outcome, error) {
	rendered, err := block.Render()
	if err != nil {
		return OutcomeUnchanged, &util.ProfileError{Path: i.path, Err: err}
	}

	target, content, mode, err := i.read()
	if err != nil {
		return OutcomeUnchanged, &util.ProfileError{Path: i.path, Err: err}
	}
	if err := checkWritable(target); err != nil {
		return OutcomeUnchanged, &util.ProfileError{Path: i.path, Err: err}
	}

	updated, outcome, err := spliceBlock(content, rendered, block.StartMarker(), block.EndMarker())
	if err != nil {
		return OutcomeUnchanged, &util.ProfileError{Path: i.path, Err: err}
	}
	if updated == content {
		return OutcomeUnchanged, nil
	}

	if err := util.WriteFileAtomic(target, []byte(updated), mode); err != nil {
		return OutcomeUnchanged, &util.ProfileError{Path: i.path, Err: err}
	}
	return outcome, nil
}

// Contains reports whether the profile mentions s outside or inside any
// block. A missing profile contains nothing.
func (i *Installer) Contains(s string) (bool, error) {
	_, content, _, err := i.read()
	if err != nil {
		return false, &util.ProfileError{Path: i.path, Err: err}
	}
	return strings.Contains(content, s), nil
}

// read returns the write target (symlinks resolved), the content and the
// mode to write with.
func (i *Installer) read() (string, string, os.FileMode, error) {
	target := i.path
	if resolved, err := filepath.EvalSymlinks(i.path); err == nil {
		target = resolved
	}

	info, err := os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return target, "", 0644, nil
	}
	if err != nil {
		return "", "", 0, err
	}
	if info.IsDir() {
		return "", "", 0, fmt.Errorf("%s is a directory", target)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return "", "", 0, err
	}
	return target, string(data), info.Mode().Perm(), nil
}

// checkWritable fails when target exists but the caller may not write it.
func checkWritable(target string) error {
	err := unix.Access(target, unix.W_OK)
	if err == nil || errors.Is(err, unix.ENOENT) {
		return nil
	}
	return fmt.Errorf("%s is not writable: %w", target, err)
}

// spliceBlock inserts rendered into content between the given markers.
func spliceBlock(content, rendered, start, end string) (string, Outcome, error) {
	lines := strings.SplitAfter(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	type span struct{ from, to int }
	var spans []span
	for idx := 0; idx < len(lines); idx++ {
		if markerLine(lines[idx]) != start {
			continue
		}
		closing := -1
		for j := idx + 1; j < len(lines); j++ {
			if markerLine(lines[j]) == end {
				closing = j
				break
			}
		}
		if closing < 0 {
			return "", OutcomeUnchanged, fmt.Errorf("%w (line %d)", ErrMalformedBlock, idx+1)
		}
		spans = append(spans, span{idx, closing})
		idx = closing
	}

	if len(spans) == 0 {
		var b strings.Builder
		b.WriteString(content)
		if content != "" {
			if !strings.HasSuffix(content, "\n") {
				b.WriteByte('\n')
			}
			b.WriteByte('\n')
		}
		b.WriteString(rendered)
		return b.String(), OutcomeAppended, nil
	}

	var b strings.Builder
	next := 0
	for n, s := range spans {
		for _, l := range lines[next:s.from] {
			b.WriteString(l)
		}
		if n == 0 {
			b.WriteString(rendered)
		}
		next = s.to + 1
	}
	for _, l := range lines[next:] {
		b.WriteString(l)
	}
	return b.String(), OutcomeReplaced, nil
}

func markerLine(l string) string {
	return strings.TrimSpace(strings.TrimRight(l, "\r\n"))
}

// =============================================================================
// Sourcing
// =============================================================================

// SourceBlockName names the block EnsureSourced installs into the rc file.
const SourceBlockName = "dev-aliases-source"

// EnsureSourced makes the shell rc file load the aliases file.
//
// # Description
//
// Does nothing when the rc file does not exist or already references
// aliasesPath. Otherwise installs a small managed block that sources the
// aliases file when it is present.
//
// # Inputs
//
//   - rcPath: Shell startup file (e.g. ~/.bashrc)
//   - aliasesPath: File holding the alias block (e.g. ~/.bash_aliases)
//
// # Outputs
//
//   - Outcome: OutcomeUnchanged when nothing was written
//   - error: *util.ProfileError on read or write failure
func EnsureSourced(rcPath, aliasesPath string) (Outcome, error) {
	rc := NewInstaller(rcPath)
	aliasesPath = ExpandHome(aliasesPath)

	if _, err := os.Stat(rc.Path()); errors.Is(err, os.ErrNotExist) {
		return OutcomeUnchanged, nil
	}

	present, err := rc.Contains(aliasesPath)
	if err != nil {
		return OutcomeUnchanged, err
	}
	if present || referencesHomeRelative(rc, aliasesPath) {
		return OutcomeUnchanged, nil
	}

	quoted := ShellQuote(aliasesPath)
	return rc.Install(Block{
		Name:  SourceBlockName,
		Lines: []string{fmt.Sprintf("if [ -f %s ]; then . %s; fi", quoted, quoted)},
	})
}

// referencesHomeRelative checks the ~/ spelling of a path under $HOME, as
// stock rc files reference ~/.bash_aliases.
func referencesHomeRelative(rc *Installer, path string) bool {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return false
	}
	rel, ok := strings.CutPrefix(path, home+string(filepath.Separator))
	if !ok {
		return false
	}
	present, err := rc.Contains("~/" + rel)
	return err == nil && present
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
