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
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Personality Tests
// =============================================================================

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		in   string
		want PersonalityLevel
	}{
		{"full", PersonalityFull},
		{"MINIMAL", PersonalityMinimal},
		{"m", PersonalityMinimal},
		{"machine", PersonalityMachine},
		{" quiet ", PersonalityMachine},
		{"plain", PersonalityMachine},
		{"", PersonalityFull},
		{"bogus", PersonalityFull},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePersonalityLevel(tt.in))
		})
	}
}

func TestDetectPersonality_ExplicitWins(t *testing.T) {
	t.Setenv(EnvPersonality, "machine")
	assert.Equal(t, PersonalityMinimal, DetectPersonality("minimal", nil))
}

func TestDetectPersonality_Env(t *testing.T) {
	t.Setenv(EnvPersonality, "minimal")
	assert.Equal(t, PersonalityMinimal, DetectPersonality("", nil))
}

func TestDetectPersonality_NonTerminalIsMachine(t *testing.T) {
	t.Setenv(EnvPersonality, "")
	f, err := os.CreateTemp(t.TempDir(), "out")
	assert.NoError(t, err)
	defer f.Close()

	assert.Equal(t, PersonalityMachine, DetectPersonality("", f))
	assert.Equal(t, PersonalityMachine, DetectPersonality("", nil))
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter_MachineOutputIsPlain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityMachine)

	p.Title("ignored")
	p.Muted("ignored too")
	p.Success("done")
	p.Warning("careful")
	p.Error("broken")
	p.Info("fyi")
	p.KeyValue("phase", "in_progress")
	p.Check("rest_api", false, "unreachable")
	p.Box("Report", "line one\nline two")
	p.ErrorBox("Failed", "reason")

	want := "OK: done\n" +
		"WARN: careful\n" +
		"ERROR: broken\n" +
		"fyi\n" +
		"phase\tin_progress\n" +
		"rest_api\tfail\tunreachable\n" +
		"Report: line one; line two\n" +
		"ERROR Failed: reason\n"
	assert.Equal(t, want, buf.String())
	assert.True(t, p.Machine())
}

func TestPrinter_FullOutputContainsText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityFull)

	p.Title("Migration")
	p.Success("started")
	p.Check("host_version", true, "1.2.0 >= 1.0.0")
	p.Box("Snapshot", "id abc")

	out := buf.String()
	assert.Contains(t, out, "Migration")
	assert.Contains(t, out, "started")
	assert.Contains(t, out, "host_version")
	assert.Contains(t, out, "id abc")
	assert.Equal(t, PersonalityFull, p.Level())
}

func TestPrinter_ProgressBar(t *testing.T) {
	machine := NewPrinter(&bytes.Buffer{}, PersonalityMachine)
	assert.Equal(t, "50/100", machine.ProgressBar(50, 100, 20))

	full := NewPrinter(&bytes.Buffer{}, PersonalityFull)
	assert.Contains(t, full.ProgressBar(50, 100, 20), "50%")
	assert.Contains(t, full.ProgressBar(150, 100, 20), "100%")
	assert.Equal(t, "0/0", full.ProgressBar(0, 0, 20))
}

func TestIcon_Render(t *testing.T) {
	assert.Contains(t, IconSuccess.Render(), "✓")
	assert.Equal(t, "→", IconArrow.Render())
}
