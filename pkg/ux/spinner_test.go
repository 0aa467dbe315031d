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
	"errors"
	"strings"
	"testing"
)

// go test runs without a terminal on stderr, so the animation never starts
// and only the final lines are observable.

func TestNewSpinner_SetsMessage(t *testing.T) {
	s := NewSpinner("Building images")
	if s.Message() != "Building images" {
		t.Errorf("expected message, got %q", s.Message())
	}
	if s.Running() {
		t.Error("new spinner must not be running")
	}
}

func TestSpinner_Start_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	SetPersonalityLevel(PersonalityMachine)

	s := NewSpinner("waiting")
	s.Start()
	if s.Running() {
		t.Error("spinner must stay idle in machine mode")
	}
	s.Stop()
}

func TestSpinner_Stop_NotRunning(t *testing.T) {
	s := NewSpinner("idle")
	s.Stop()
	s.Stop()
}

func TestSpinner_UpdateMessage(t *testing.T) {
	s := NewSpinner("first")
	s.UpdateMessage("second")
	if s.Message() != "second" {
		t.Errorf("expected updated message, got %q", s.Message())
	}
}

func TestSpinner_StopWithSuccess_PrintsLine(t *testing.T) {
	out, _ := captureOutput(t, PersonalityMachine, func() {
		NewSpinner("build").StopWithSuccess("build")
	})
	if out != "OK: build\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestWithSpinner(t *testing.T) {
	boom := errors.New("boom")
	var gotErr error
	_, errOut := captureOutput(t, PersonalityMachine, func() {
		gotErr = WithSpinner("migrations", func() error { return boom })
	})
	if !errors.Is(gotErr, boom) {
		t.Errorf("expected fn error returned, got %v", gotErr)
	}
	if !strings.Contains(errOut, "ERROR: migrations") {
		t.Errorf("unexpected stderr %q", errOut)
	}

	out, _ := captureOutput(t, PersonalityMachine, func() {
		gotErr = WithSpinner("migrations", func() error { return nil })
	})
	if gotErr != nil || out != "OK: migrations\n" {
		t.Errorf("unexpected result %v %q", gotErr, out)
	}
}
