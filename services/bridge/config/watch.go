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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events an editor produces on save.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the configuration file whenever it changes.
//
// # Description
//
// The parent directory is watched rather than the file itself so that
// editors which save by rename are still seen. Each change is debounced,
// re-read through Load and handed to onChange. A file that fails to load
// or validate is logged and skipped; the previous configuration stays in
// effect.
//
// Only settings that are safe to change at runtime should be applied by
// onChange. Listener, storage and telemetry settings still need a restart.
//
// # Inputs
//
//   - ctx: Watching stops when ctx is cancelled.
//   - path: The configuration file passed to Load.
//   - onChange: Called from the watcher goroutine with each valid reload.
//
// # Outputs
//
//   - error: Non-nil when the watcher cannot be created. Otherwise Watch
//     blocks until ctx is done and returns nil.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	path, err := filepath.Abs(expandHome(path))
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	logger.Debug("Watching config file", "path", path)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", "error", err)

		case <-pending:
			pending = nil
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("Ignoring invalid config change", "path", path, "error", err)
				continue
			}
			logger.Info("Config reloaded", "path", path)
			onChange(cfg)
		}
	}
}
