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

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

type checkDef struct {
	name      string
	required  bool
	run       func(v *Validator, ctx context.Context, env Environment) CheckResult
	recommend func(res CheckResult) Recommendation
}

// checkOrder fixes report and recommendation order.
var checkOrder = []checkDef{
	{
		name:     CheckHostVersion,
		required: true,
		run:      (*Validator).checkHostVersion,
		recommend: func(res CheckResult) Recommendation {
			return Recommendation{
				Priority:    PriorityCritical,
				Title:       "Update the host application",
				Description: res.Message,
				Action:      ActionUpdateHost,
			}
		},
	},
	{
		name:     CheckRuntimeVersion,
		required: true,
		run:      (*Validator).checkRuntimeVersion,
		recommend: func(res CheckResult) Recommendation {
			return Recommendation{
				Priority:    PriorityCritical,
				Title:       "Update the Go runtime",
				Description: res.Message,
				Action:      ActionUpdateRuntime,
			}
		},
	},
	{
		name:     CheckRESTReachability,
		required: true,
		run:      (*Validator).checkReachability,
		recommend: func(res CheckResult) Recommendation {
			return Recommendation{
				Priority:    PriorityCritical,
				Title:       "Enable the REST API",
				Description: res.Message,
				Action:      ActionEnableRESTAPI,
			}
		},
	},
	{
		name: CheckConflictingExtensions,
		run:  (*Validator).checkExtensions,
		recommend: func(res CheckResult) Recommendation {
			return Recommendation{
				Priority:    PriorityWarning,
				Title:       "Resolve conflicting extensions",
				Description: res.Message,
				Action:      ActionResolveConflicts,
			}
		},
	},
	{
		name: CheckCustomCode,
		run:  (*Validator).checkCustomCode,
		recommend: func(res CheckResult) Recommendation {
			priority := PriorityInfo
			if n, _ := res.Detail["collision_count"].(int); n > 0 {
				priority = PriorityWarning
			}
			return Recommendation{
				Priority:    priority,
				Title:       "Update custom code that uses legacy calls",
				Description: res.Message,
				Action:      ActionUpdateCustomCode,
			}
		},
	},
	{
		name: CheckServerConfig,
		run:  (*Validator).checkServerConfig,
		recommend: func(res CheckResult) Recommendation {
			return Recommendation{
				Priority:    PriorityInfo,
				Title:       "Increase server limits",
				Description: res.Message,
				Action:      ActionIncreaseServerLimits,
			}
		},
	},
}

// =============================================================================
// Required checks
// =============================================================================

func (v *Validator) checkHostVersion(_ context.Context, env Environment) CheckResult {
	return compareVersions("host", canonical(env.HostVersion), canonical(v.cfg.MinHostVersion))
}

func (v *Validator) checkRuntimeVersion(_ context.Context, env Environment) CheckResult {
	return compareVersions("runtime", goVersion(env.RuntimeVersion), canonical(v.cfg.MinRuntimeVersion))
}

func compareVersions(what, current, minimum string) CheckResult {
	detail := map[string]any{"current": current, "minimum": minimum}
	switch {
	case !semver.IsValid(current):
		return CheckResult{Message: fmt.Sprintf("%s version %q is not a valid version", what, current), Detail: detail}
	case !semver.IsValid(minimum):
		return CheckResult{Message: fmt.Sprintf("minimum %s version %q is not a valid version", what, minimum), Detail: detail}
	case semver.Compare(current, minimum) < 0:
		return CheckResult{Message: fmt.Sprintf("%s version %s is older than required %s", what, current, minimum), Detail: detail}
	}
	return CheckResult{Passed: true, Message: fmt.Sprintf("%s version %s meets %s", what, current, minimum), Detail: detail}
}

// canonical adds the "v" prefix semver requires.
func canonical(version string) string {
	version = strings.TrimSpace(version)
	if version == "" || strings.HasPrefix(version, "v") {
		return version
	}
	return "v" + version
}

// goVersion turns "go1.25.3" into "v1.25.3". Experiment suffixes such as
// "go1.25.3 X:nocoverageredesign" are dropped.
func goVersion(version string) string {
	version, _, _ = strings.Cut(strings.TrimSpace(version), " ")
	if rest, ok := strings.CutPrefix(version, "go"); ok {
		return "v" + rest
	}
	return canonical(version)
}

func (v *Validator) checkReachability(ctx context.Context, _ Environment) CheckResult {
	url := v.cfg.ReachabilityURL
	detail := map[string]any{"url": url}
	if url == "" {
		return CheckResult{Message: "no REST reachability URL configured", Detail: detail}
	}
	if v.client == nil {
		return CheckResult{Message: "no HTTP client available", Detail: detail}
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return CheckResult{Message: fmt.Sprintf("failed to create request: %v", err), Detail: detail}
	}

	start := time.Now()
	resp, err := v.client.Do(req)
	detail["latency_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		return CheckResult{Message: fmt.Sprintf("REST API unreachable: %v", err), Detail: detail}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	detail["status_code"] = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		return CheckResult{Message: fmt.Sprintf("REST API returned HTTP %d (expected 200)", resp.StatusCode), Detail: detail}
	}
	return CheckResult{Passed: true, Message: "REST API reachable", Detail: detail}
}

// =============================================================================
// Advisory checks
// =============================================================================

func (v *Validator) checkExtensions(_ context.Context, env Environment) CheckResult {
	var conflicts []string
	for _, ext := range env.ActiveExtensions {
		if slices.ContainsFunc(v.cfg.ExtensionBlocklist, func(b string) bool { return strings.EqualFold(b, ext) }) {
			conflicts = append(conflicts, ext)
		}
	}
	detail := map[string]any{"active": len(env.ActiveExtensions), "conflicts": conflicts}
	if len(conflicts) > 0 {
		return CheckResult{
			Message: fmt.Sprintf("conflicting extensions active: %s", strings.Join(conflicts, ", ")),
			Detail:  detail,
		}
	}
	return CheckResult{Passed: true, Message: "no conflicting extensions", Detail: detail}
}

// scanExtensions are the file types the custom code scan reads.
var scanExtensions = []string{".go", ".js", ".jsx", ".ts", ".tsx", ".vue", ".php", ".html", ".tmpl", ".tpl"}

var skipDirs = []string{".git", "node_modules", "vendor"}

const maxScanFileSize = 1 << 20

var errScanLimit = errors.New("scan limit reached")

func (v *Validator) checkCustomCode(ctx context.Context, _ Environment) CheckResult {
	collisionRe, referenceRe := v.scanPatterns()

	var collisions, references []string
	scanned := 0
	truncated := false

	for _, root := range v.cfg.CustomCodeDirs {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if slices.Contains(skipDirs, d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !slices.Contains(scanExtensions, strings.ToLower(filepath.Ext(path))) {
				return nil
			}
			if scanned >= v.cfg.MaxScanFiles {
				return errScanLimit
			}
			info, err := d.Info()
			if err != nil || info.Size() > maxScanFileSize {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			scanned++

			for _, m := range uniqueMatches(collisionRe, data) {
				collisions = append(collisions, path+": "+m)
			}
			if referenceRe.Match(data) {
				references = append(references, path)
			}
			return nil
		})
		if errors.Is(err, errScanLimit) {
			truncated = true
			break
		}
		if err != nil {
			return CheckResult{Message: fmt.Sprintf("custom code scan aborted: %v", err)}
		}
	}

	detail := map[string]any{
		"files_scanned":     scanned,
		"collisions":        collisions,
		"collision_count":   len(collisions),
		"legacy_references": references,
		"truncated":         truncated,
	}
	switch {
	case len(collisions) > 0:
		return CheckResult{
			Message: fmt.Sprintf("%d custom handler(s) collide with migrated legacy names", len(collisions)),
			Detail:  detail,
		}
	case len(references) > 0:
		return CheckResult{
			Message: fmt.Sprintf("%d file(s) call the legacy endpoint directly", len(references)),
			Detail:  detail,
		}
	}
	return CheckResult{Passed: true, Message: "no custom code uses legacy calls", Detail: detail}
}

// scanPatterns builds the collision and reference expressions from the
// configured legacy names.
func (v *Validator) scanPatterns() (*regexp.Regexp, *regexp.Regexp) {
	quoted := make([]string, 0, len(v.cfg.LegacyNames))
	for _, n := range v.cfg.LegacyNames {
		quoted = append(quoted, regexp.QuoteMeta(n))
	}
	if len(quoted) == 0 {
		never := regexp.MustCompile(`[^\s\S]`)
		return never, regexp.MustCompile(`/legacy/ajax`)
	}
	names := strings.Join(quoted, "|")
	collision := regexp.MustCompile(`ajax_(?:` + names + `)\b`)
	reference := regexp.MustCompile(`/legacy/ajax|\baction=(?:` + names + `)\b|["']action["']\s*(?::|=>|,)\s*["'](?:` + names + `)["']`)
	return collision, reference
}

func uniqueMatches(re *regexp.Regexp, data []byte) []string {
	var out []string
	for _, m := range re.FindAll(data, -1) {
		if s := string(m); !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func (v *Validator) checkServerConfig(_ context.Context, env Environment) CheckResult {
	var problems []string
	if env.MemoryLimitBytes < v.cfg.RecommendedMemoryBytes {
		problems = append(problems, fmt.Sprintf("memory limit %d MiB below recommended %d MiB",
			env.MemoryLimitBytes>>20, v.cfg.RecommendedMemoryBytes>>20))
	}
	if env.MaxExecutionTime > 0 && env.MaxExecutionTime < v.cfg.RecommendedExecTime {
		problems = append(problems, fmt.Sprintf("request timeout %s below recommended %s",
			env.MaxExecutionTime, v.cfg.RecommendedExecTime))
	}
	if !env.HTTPClientAvailable {
		problems = append(problems, "no HTTP client available")
	}

	memory := any(env.MemoryLimitBytes)
	if env.MemoryLimitBytes == unlimitedMemory {
		memory = "unlimited"
	}
	detail := map[string]any{
		"memory_limit":          memory,
		"max_execution_time":    env.MaxExecutionTime.String(),
		"http_client_available": env.HTTPClientAvailable,
	}
	if len(problems) > 0 {
		return CheckResult{Message: strings.Join(problems, "; "), Detail: detail}
	}
	return CheckResult{Passed: true, Message: "server configuration meets recommendations", Detail: detail}
}
