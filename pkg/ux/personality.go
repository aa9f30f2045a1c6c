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
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// EnvPersonality selects the output level without a flag.
const EnvPersonality = "BRIDGE_PERSONALITY"

// PersonalityLevel defines the verbosity and richness of CLI output
type PersonalityLevel string

const (
	// PersonalityFull enables colors, icons, boxes and progress bars
	PersonalityFull PersonalityLevel = "full"

	// PersonalityMinimal uses icons and basic formatting only
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine outputs plain tab-separated text for scripts
	PersonalityMachine PersonalityLevel = "machine"
)

// ParsePersonalityLevel converts a string to PersonalityLevel. Unknown
// values fall back to full.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q", "plain":
		return PersonalityMachine
	default:
		return PersonalityFull
	}
}

// DetectPersonality picks the level for f.
//
// An explicit value (flag, then BRIDGE_PERSONALITY) wins. Otherwise a
// terminal gets full output and anything else gets machine output.
func DetectPersonality(explicit string, f *os.File) PersonalityLevel {
	if explicit != "" {
		return ParsePersonalityLevel(explicit)
	}
	if env := os.Getenv(EnvPersonality); env != "" {
		return ParsePersonalityLevel(env)
	}
	if f != nil && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return PersonalityFull
	}
	return PersonalityMachine
}
