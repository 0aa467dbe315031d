// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Table collects rows and renders them with go-pretty.
//
// # Description
//
// Rounded borders by default; machine level drops borders and separators
// so the output splits cleanly on whitespace.
type Table struct {
	headers table.Row
	rows    []table.Row
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	row := make(table.Row, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	return &Table{headers: row}
}

// Row appends one row.
func (t *Table) Row(cells ...any) {
	t.rows = append(t.rows, table.Row(cells))
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the table to w.
func (t *Table) Render(w io.Writer) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	if GetPersonality().Level == PersonalityMachine {
		style := table.StyleDefault
		style.Options = table.OptionsNoBordersAndSeparators
		style.Format.Header = text.FormatDefault
		tw.SetStyle(style)
	} else {
		tw.SetStyle(table.StyleRounded)
	}
	tw.AppendHeader(t.headers)
	tw.AppendRows(t.rows)
	tw.Render()
}

// StateText colors a container or step state for a table cell.
func StateText(state string) string {
	if !ShouldShowColors() {
		return state
	}
	switch strings.ToLower(state) {
	case "running", "healthy", "done", "removed":
		return text.FgGreen.Sprint(state)
	case "starting", "restarting", "created", "paused", "warning", "skipped", "absent":
		return text.FgYellow.Sprint(state)
	case "exited", "dead", "unhealthy", "failed":
		return text.FgRed.Sprint(state)
	default:
		return text.FgHiBlack.Sprint(state)
	}
}
