// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compat

import "time"

// Check names.
const (
	CheckHostVersion           = "host_version"
	CheckRuntimeVersion        = "runtime_version"
	CheckRESTReachability      = "rest_reachability"
	CheckConflictingExtensions = "conflicting_extensions"
	CheckCustomCode            = "custom_code"
	CheckServerConfig          = "server_config"
)

// Priority ranks a recommendation.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityWarning  Priority = "warning"
	PriorityInfo     Priority = "info"
)

// Recommendation actions for downstream tooling.
const (
	ActionUpdateHost           = "update_host"
	ActionUpdateRuntime        = "update_runtime"
	ActionEnableRESTAPI        = "enable_rest_api"
	ActionResolveConflicts     = "resolve_conflicts"
	ActionUpdateCustomCode     = "update_custom_code"
	ActionIncreaseServerLimits = "increase_server_limits"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Passed  bool           `json:"passed"`
	Message string         `json:"message"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Recommendation tells an operator how to fix a failed check.
type Recommendation struct {
	Check       string   `json:"check"`
	Priority    Priority `json:"priority"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Action      string   `json:"action"`
}

// Report answers whether it is currently safe to start a migration.
//
// Compatible is the conjunction of the required checks. Advisory failures
// only add warnings and recommendations.
type Report struct {
	Compatible      bool                   `json:"compatible"`
	Checks          map[string]CheckResult `json:"checks"`
	Warnings        []string               `json:"warnings"`
	Errors          []string               `json:"errors"`
	Recommendations []Recommendation       `json:"recommendations"`
	CheckedAt       time.Time              `json:"checked_at"`
}

// Failed returns the names of failed checks, required first.
func (r *Report) Failed() []string {
	var out []string
	for _, c := range checkOrder {
		if res, ok := r.Checks[c.name]; ok && !res.Passed && c.required {
			out = append(out, c.name)
		}
	}
	for _, c := range checkOrder {
		if res, ok := r.Checks[c.name]; ok && !res.Passed && !c.required {
			out = append(out, c.name)
		}
	}
	return out
}
