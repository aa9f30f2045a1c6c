// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid bridge configuration")

// Environment variables that override file values.
const (
	EnvPort         = "BRIDGE_PORT"
	EnvDataDir      = "BRIDGE_DATA_DIR"
	EnvDebug        = "BRIDGE_DEBUG"
	EnvLogLevel     = "BRIDGE_LOG_LEVEL"
	EnvAdminToken   = "BRIDGE_ADMIN_TOKEN"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Load reads the configuration.
//
// # Description
//
// An empty path starts from DefaultConfig. A path that does not exist yet is
// created with the defaults so operators have a file to edit. Environment
// overrides are applied after the file, then the result is validated.
//
// # Outputs
//
//   - *Config: The validated configuration.
//   - error: Read, parse or ErrInvalidConfig failures.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		path = expandHome(path)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := createDefault(path); err != nil {
				return nil, err
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Storage.DataDir = expandHome(cfg.Storage.DataDir)
	cfg.Logging.Dir = expandHome(cfg.Logging.Dir)
	if cfg.Compat.ReachabilityURL == "" {
		cfg.Compat.ReachabilityURL = cfg.HealthURL()
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// HealthURL is the loopback address of the bridge health endpoint.
func (c *Config) HealthURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s/health", c.Server.Port, c.Server.Namespace)
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, EnvPort, v)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		cfg.Storage.DataDir = v
	}
	if v, ok := lookup(EnvDebug); ok && v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidConfig, EnvDebug, v)
		}
		cfg.Debug = debug
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvAdminToken); ok {
		cfg.Admin.Token = v
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok {
		cfg.Telemetry.OTLPEndpoint = v
	}
	return nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
