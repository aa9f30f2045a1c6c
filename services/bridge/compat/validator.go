// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compat decides whether the environment is ready for a migration.
//
// # Description
//
// The Validator runs six independent checks concurrently and folds them into
// a Report. host_version, runtime_version and rest_reachability are
// required: any failure makes the report incompatible. The other checks are
// advisory and only produce warnings.
//
// Validation performs a live HTTP round trip and a filesystem scan, so it is
// only run on operator request, never on the request path.
package compat

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Environment is the observed state the checks evaluate.
type Environment struct {
	HostVersion         string        `json:"host_version"`
	RuntimeVersion      string        `json:"runtime_version"`
	ActiveExtensions    []string      `json:"active_extensions"`
	MemoryLimitBytes    int64         `json:"memory_limit_bytes"`
	MaxExecutionTime    time.Duration `json:"max_execution_time"`
	HTTPClientAvailable bool          `json:"http_client_available"`
}

// EnvironmentProbe observes the environment.
type EnvironmentProbe interface {
	Probe(ctx context.Context) (Environment, error)
}

// StaticProbe returns a fixed environment.
type StaticProbe Environment

func (p StaticProbe) Probe(context.Context) (Environment, error) {
	return Environment(p), nil
}

// ProcessProbe observes the running process.
type ProcessProbe struct {
	HostVersion      string
	Extensions       []string
	MaxExecutionTime time.Duration
	Client           HTTPDoer
}

// Probe reads the Go runtime version and the effective memory limit: the
// lower of the Go soft limit and the process address-space rlimit. With
// neither set it reports math.MaxInt64.
func (p ProcessProbe) Probe(context.Context) (Environment, error) {
	limit := debug.SetMemoryLimit(-1)
	if as := addressSpaceLimit(); as < limit {
		limit = as
	}
	return Environment{
		HostVersion:         p.HostVersion,
		RuntimeVersion:      runtime.Version(),
		ActiveExtensions:    p.Extensions,
		MemoryLimitBytes:    limit,
		MaxExecutionTime:    p.MaxExecutionTime,
		HTTPClientAvailable: p.Client != nil,
	}, nil
}

// Config holds check thresholds.
type Config struct {
	MinHostVersion         string
	MinRuntimeVersion      string
	ReachabilityURL        string
	Timeout                time.Duration
	ExtensionBlocklist     []string
	CustomCodeDirs         []string
	LegacyNames            []string
	RecommendedMemoryBytes int64
	RecommendedExecTime    time.Duration
	MaxScanFiles           int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinHostVersion:         "v1.0.0",
		MinRuntimeVersion:      "v1.22.0",
		Timeout:                10 * time.Second,
		ExtensionBlocklist:     []string{"disable-rest-api", "rest-api-blocker", "legacy-only-mode", "ajax-lockdown"},
		RecommendedMemoryBytes: 256 << 20,
		RecommendedExecTime:    30 * time.Second,
		MaxScanFiles:           5000,
	}
}

// Validator runs the compatibility checks.
type Validator struct {
	cfg    Config
	probe  EnvironmentProbe
	client HTTPDoer
	logger *slog.Logger
	now    func() time.Time
}

// NewValidator creates a validator. Zero thresholds in cfg take the values
// from DefaultConfig.
func NewValidator(cfg Config, probe EnvironmentProbe, client HTTPDoer, logger *slog.Logger) *Validator {
	def := DefaultConfig()
	if cfg.MinHostVersion == "" {
		cfg.MinHostVersion = def.MinHostVersion
	}
	if cfg.MinRuntimeVersion == "" {
		cfg.MinRuntimeVersion = def.MinRuntimeVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ExtensionBlocklist == nil {
		cfg.ExtensionBlocklist = def.ExtensionBlocklist
	}
	if cfg.RecommendedMemoryBytes <= 0 {
		cfg.RecommendedMemoryBytes = def.RecommendedMemoryBytes
	}
	if cfg.RecommendedExecTime <= 0 {
		cfg.RecommendedExecTime = def.RecommendedExecTime
	}
	if cfg.MaxScanFiles <= 0 {
		cfg.MaxScanFiles = def.MaxScanFiles
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		cfg:    cfg,
		probe:  probe,
		client: client,
		logger: logger.With("component", "compat_validator"),
		now:    time.Now,
	}
}

// Validate runs every check and aggregates the results.
//
// # Description
//
// Checks run concurrently and never short-circuit each other. A probe
// failure is not fatal: checks see an empty Environment and fail on their
// own terms, so the report always carries per-check detail.
//
// # Outputs
//
//   - *Report: Never nil.
func (v *Validator) Validate(ctx context.Context) *Report {
	env, err := v.probe.Probe(ctx)
	if err != nil {
		v.logger.Warn("environment probe failed", slog.String("error", err.Error()))
		env = Environment{}
	}

	results := make([]CheckResult, len(checkOrder))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checkOrder {
		g.Go(func() error {
			results[i] = c.run(v, gctx, env)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		Compatible:      true,
		Checks:          make(map[string]CheckResult, len(checkOrder)),
		Warnings:        []string{},
		Errors:          []string{},
		Recommendations: []Recommendation{},
		CheckedAt:       v.now().UTC(),
	}
	for i, c := range checkOrder {
		res := results[i]
		report.Checks[c.name] = res
		if res.Passed {
			continue
		}
		if c.required {
			report.Compatible = false
			report.Errors = append(report.Errors, res.Message)
		} else {
			report.Warnings = append(report.Warnings, res.Message)
		}
		rec := c.recommend(res)
		rec.Check = c.name
		report.Recommendations = append(report.Recommendations, rec)
	}

	if !report.Compatible {
		v.logger.Warn("compatibility check failed",
			slog.Any("failed", report.Failed()),
			slog.Any("errors", report.Errors))
	}
	return report
}

// unlimitedMemory is reported by debug.SetMemoryLimit when no limit is set.
const unlimitedMemory = math.MaxInt64
