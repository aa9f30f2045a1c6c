// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the bridge server configuration.
//
// Configuration comes from a YAML file, then environment overrides, then
// struct validation. Durations use Go syntax ("10s", "1h").
package config

import "time"

// Config is the root bridge configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Legacy    LegacyConfig    `yaml:"legacy"`
	Compat    CompatConfig    `yaml:"compat"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Admin     AdminConfig     `yaml:"admin"`

	// Debug exposes stack traces in diagnostics and logs telemetry failures.
	Debug bool `yaml:"debug"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	Namespace       string        `yaml:"namespace" validate:"required,startswith=/"`
	Version         string        `yaml:"version" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// StorageConfig selects the key/value backend.
type StorageConfig struct {
	// Backend is "badger" or "memory".
	Backend    string        `yaml:"backend" validate:"oneof=badger memory"`
	DataDir    string        `yaml:"data_dir" validate:"required_if=Backend badger"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`

	// Format is "auto" (JSON unless stderr is a terminal), "json" or "text".
	Format string `yaml:"format" validate:"oneof=auto json text"`
}

// LegacyConfig configures the legacy endpoint and interceptor.
type LegacyConfig struct {
	Path              string        `yaml:"path" validate:"required,startswith=/"`
	MigrationGuideURL string        `yaml:"migration_guide_url" validate:"omitempty,url"`
	WarnInterval      time.Duration `yaml:"warn_interval" validate:"gte=0"`
	WarnBurst         int           `yaml:"warn_burst" validate:"gte=0"`

	// Intercept wraps the legacy handlers at startup.
	Intercept bool `yaml:"intercept"`
}

// CompatConfig configures the compatibility validator.
type CompatConfig struct {
	MinHostVersion      string        `yaml:"min_host_version"`
	MinRuntimeVersion   string        `yaml:"min_runtime_version"`
	ReachabilityURL     string        `yaml:"reachability_url" validate:"omitempty,url"`
	Timeout             time.Duration `yaml:"timeout" validate:"gt=0"`
	ExtensionBlocklist  []string      `yaml:"extension_blocklist"`
	ActiveExtensions    []string      `yaml:"active_extensions"`
	CustomCodeDirs      []string      `yaml:"custom_code_dirs"`
	RecommendedMemoryMB int64         `yaml:"recommended_memory_mb" validate:"gte=0"`
}

// TelemetryConfig configures tracing and metrics export.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name" validate:"required"`

	// OTLPEndpoint is the gRPC collector address. Empty disables OTLP
	// export; in debug mode spans are then printed to stdout.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	MetricsPath string `yaml:"metrics_path" validate:"required,startswith=/"`
}

// AdminConfig protects the operator API.
type AdminConfig struct {
	// Token is the bearer token required on /admin routes. Empty disables
	// authentication.
	Token string `yaml:"token"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            12230,
			Namespace:       "/v1/bridge",
			Version:         "1.0.0",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend:    "badger",
			DataDir:    "~/.aleutian/bridge/data",
			GCInterval: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Legacy: LegacyConfig{
			Path:              "/legacy/ajax",
			MigrationGuideURL: "https://docs.aleutian.ai/bridge/migration",
			WarnInterval:      time.Hour,
			WarnBurst:         1,
			Intercept:         true,
		},
		Compat: CompatConfig{
			MinHostVersion:      "1.0.0",
			MinRuntimeVersion:   "1.22.0",
			Timeout:             10 * time.Second,
			RecommendedMemoryMB: 256,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "aleutian-bridge",
			MetricsPath: "/metrics",
		},
	}
}
