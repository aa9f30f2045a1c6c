// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package settings implements the application operations being migrated:
// settings persistence, backups and theme application.
//
// Both transports call into these services: the legacy action handlers and
// the REST controllers. Keeping a single implementation is what makes the
// legacy wrapper a pure pass-through.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/AleutianAI/AleutianBridge/services/bridge/kvstore"
)

const settingsKey = "bridge_settings"

// Sentinel errors for the settings services.
var (
	// ErrInvalidSettings indicates a payload that is not a JSON object.
	ErrInvalidSettings = errors.New("invalid settings payload")

	// ErrBackupNotFound indicates the requested backup id does not exist.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrUnknownTheme indicates the requested theme is not installed.
	ErrUnknownTheme = errors.New("unknown theme")
)

// Settings is the application settings document.
type Settings map[string]any

// Defaults returns factory settings.
func Defaults() Settings {
	return Settings{
		"theme":          "default",
		"items_per_page": float64(20),
		"notifications":  true,
	}
}

// Service reads and writes the settings document.
type Service struct {
	kv kvstore.Store
}

// NewService creates a settings service on kv.
func NewService(kv kvstore.Store) *Service {
	return &Service{kv: kv}
}

// Get returns the current settings, or Defaults() if none were saved.
func (s *Service) Get(ctx context.Context) (Settings, error) {
	out := Defaults()
	if _, err := kvstore.GetJSON(ctx, s.kv, settingsKey, &out); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return out, nil
}

// Save merges updates into the current settings.
func (s *Service) Save(ctx context.Context, updates Settings) (Settings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	maps.Copy(current, updates)
	if err := kvstore.SetJSON(ctx, s.kv, settingsKey, current); err != nil {
		return nil, fmt.Errorf("write settings: %w", err)
	}
	return current, nil
}

// Reset restores factory settings.
func (s *Service) Reset(ctx context.Context) (Settings, error) {
	d := Defaults()
	if err := kvstore.SetJSON(ctx, s.kv, settingsKey, d); err != nil {
		return nil, fmt.Errorf("write settings: %w", err)
	}
	return d, nil
}

// Export returns the settings document as stored.
func (s *Service) Export(ctx context.Context) (json.RawMessage, error) {
	data, err := s.kv.Get(ctx, settingsKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return json.Marshal(Defaults())
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return data, nil
}

// Import replaces the settings document with raw, which must be a JSON object.
func (s *Service) Import(ctx context.Context, raw json.RawMessage) error {
	var doc Settings
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return ErrInvalidSettings
	}
	if err := s.kv.Set(ctx, settingsKey, raw); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
