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
	"errors"
	"strings"
)

// errMultilineValue is returned when a value cannot be stored on one line.
var errMultilineValue = errors.New("value contains a line break")

// line is one physical line of an env file. Comments, blank lines and
// lines without '=' are kept verbatim in raw so rewriting preserves them.
type line struct {
	raw    string
	key    string
	value  string
	isPair bool
	export bool
}

// document is an env file as an ordered list of lines.
type document struct {
	lines []line
}

// parseDocument splits env-file text into lines.
//
// Rules: blank lines and lines starting with '#' are ignored; an optional
// "export " prefix is accepted; the key and value are trimmed; one pair of
// matching surrounding quotes is removed from the value. No variable
// expansion or escape processing is performed.
func parseDocument(text string) document {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")

	var doc document
	if text == "" {
		return doc
	}
	for _, raw := range strings.Split(text, "\n") {
		doc.lines = append(doc.lines, parseLine(raw))
	}
	return doc
}

func parseLine(raw string) line {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return line{raw: raw}
	}

	export := false
	if rest, ok := strings.CutPrefix(trimmed, "export "); ok {
		export = true
		trimmed = strings.TrimSpace(rest)
	}

	key, value, ok := strings.Cut(trimmed, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return line{raw: raw}
	}

	return line{
		raw:    raw,
		key:    key,
		value:  decodeValue(strings.TrimSpace(value)),
		isPair: true,
		export: export,
	}
}

// decodeValue strips one pair of matching surrounding quotes.
func decodeValue(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if first == last && (first == '"' || first == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// encodeValue returns the on-disk form of v such that decodeValue of the
// trimmed result yields v again.
func encodeValue(v string) (string, error) {
	if strings.ContainsAny(v, "\n\r") {
		return "", errMultilineValue
	}
	if needsQuoting(v) {
		return `"` + v + `"`, nil
	}
	return v, nil
}

func needsQuoting(v string) bool {
	if v == "" {
		return false
	}
	if strings.TrimSpace(v) != v {
		return true
	}
	first, last := v[0], v[len(v)-1]
	return len(v) >= 2 && first == last && (first == '"' || first == '\'')
}

// lookup returns the effective value of key (last occurrence wins).
func (d *document) lookup(key string) (string, bool) {
	for i := len(d.lines) - 1; i >= 0; i-- {
		if d.lines[i].isPair && d.lines[i].key == key {
			return d.lines[i].value, true
		}
	}
	return "", false
}

// set replaces the value of every occurrence of key in place, or appends
// a new line when the key is absent.
func (d *document) set(key, value string) {
	found := false
	for i := range d.lines {
		if d.lines[i].isPair && d.lines[i].key == key {
			d.lines[i].value = value
			d.lines[i].raw = ""
			found = true
		}
	}
	if !found {
		d.lines = append(d.lines, line{key: key, value: value, isPair: true})
	}
}

// pairs returns keys in first-appearance order and the effective values.
func (d *document) pairs() ([]string, map[string]string) {
	values := make(map[string]string)
	var keys []string
	for _, l := range d.lines {
		if !l.isPair {
			continue
		}
		if _, seen := values[l.key]; !seen {
			keys = append(keys, l.key)
		}
		values[l.key] = l.value
	}
	return keys, values
}

// render serializes the document. Untouched lines are written verbatim;
// modified or appended pairs are written as KEY=value.
func (d *document) render() (string, string, error) {
	var b strings.Builder
	for _, l := range d.lines {
		switch {
		case !l.isPair || l.raw != "":
			b.WriteString(l.raw)
		default:
			encoded, err := encodeValue(l.value)
			if err != nil {
				return "", l.key, err
			}
			if l.export {
				b.WriteString("export ")
			}
			b.WriteString(l.key)
			b.WriteByte('=')
			b.WriteString(encoded)
		}
		b.WriteByte('\n')
	}
	return b.String(), "", nil
}
