// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for identifiers that arrive
// from untrusted callers.
//
// Legacy action names are echoed back in error bodies and used to build hook
// names; client IDs become rollout bucket keys. Both are checked here before
// they reach either place.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// actionPattern matches legacy action names: lowercase snake_case, 1-64 chars.
var actionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// clientIDPattern matches rollout client identifiers, 1-128 chars.
// Allows letters, digits, dots, underscores, colons, at signs and hyphens
// so that emails, UUIDs and IPv6 addresses fit.
var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@\-]{0,127}$`)

// ValidateAction validates a legacy action name.
//
// Example:
//
//	if err := validation.ValidateAction(action); err != nil {
//	    return fmt.Errorf("invalid action: %w", err)
//	}
func ValidateAction(action string) error {
	if action == "" {
		return fmt.Errorf("action cannot be empty")
	}
	if !actionPattern.MatchString(action) {
		return fmt.Errorf("invalid action format: %q (must be 1-64 lowercase letters, digits or underscores)", truncate(action))
	}
	return nil
}

// SanitizeAction normalizes and validates an action name.
// Returns the trimmed lowercase name if valid.
func SanitizeAction(action string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(action))
	if err := ValidateAction(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateClientID validates a rollout client identifier.
func ValidateClientID(id string) error {
	if id == "" {
		return fmt.Errorf("client id cannot be empty")
	}
	if !clientIDPattern.MatchString(id) {
		return fmt.Errorf("invalid client id format: %q", truncate(id))
	}
	return nil
}

// truncate keeps error messages bounded when the input is hostile.
func truncate(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
