// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flags owns the feature flags that decide which transport serves a
// request during the migration (legacy actions vs. the REST layer).
//
// The migration orchestrator is the only component that writes flags, always
// as one batch Patch. Everything else reads them.
package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianBridge/services/bridge/kvstore"
	"github.com/go-playground/validator/v10"
)

// storeKey is the KV key holding the flag record.
const storeKey = "bridge_feature_flags"

// ErrInvalidFlags is returned when an update would leave flags out of range.
var ErrInvalidFlags = errors.New("invalid feature flags")

// Flags is the complete feature flag record.
type Flags struct {
	RESTAPIEnabled             bool `json:"rest_api_enabled"`
	AJAXFallbackEnabled        bool `json:"ajax_fallback_enabled"`
	DualModeEnabled            bool `json:"dual_mode_enabled"`
	ForceAJAX                  bool `json:"force_ajax"`
	GradualRolloutPercentage   int  `json:"gradual_rollout_percentage" validate:"gte=0,lte=100"`
	DeprecationWarningsEnabled bool `json:"deprecation_warnings_enabled"`
}

// Defaults returns the pre-migration flag values: legacy transport only,
// deprecation warnings on.
func Defaults() Flags {
	return Flags{
		RESTAPIEnabled:             false,
		AJAXFallbackEnabled:        true,
		DualModeEnabled:            false,
		ForceAJAX:                  false,
		GradualRolloutPercentage:   0,
		DeprecationWarningsEnabled: true,
	}
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	RESTAPIEnabled             *bool `json:"rest_api_enabled,omitempty"`
	AJAXFallbackEnabled        *bool `json:"ajax_fallback_enabled,omitempty"`
	DualModeEnabled            *bool `json:"dual_mode_enabled,omitempty"`
	ForceAJAX                  *bool `json:"force_ajax,omitempty"`
	GradualRolloutPercentage   *int  `json:"gradual_rollout_percentage,omitempty"`
	DeprecationWarningsEnabled *bool `json:"deprecation_warnings_enabled,omitempty"`
}

// Bool and Int build Patch field values inline.
func Bool(v bool) *bool { return &v }
func Int(v int) *int    { return &v }

// Apply returns f with every non-nil field of p applied.
func (f Flags) Apply(p Patch) Flags {
	if p.RESTAPIEnabled != nil {
		f.RESTAPIEnabled = *p.RESTAPIEnabled
	}
	if p.AJAXFallbackEnabled != nil {
		f.AJAXFallbackEnabled = *p.AJAXFallbackEnabled
	}
	if p.DualModeEnabled != nil {
		f.DualModeEnabled = *p.DualModeEnabled
	}
	if p.ForceAJAX != nil {
		f.ForceAJAX = *p.ForceAJAX
	}
	if p.GradualRolloutPercentage != nil {
		f.GradualRolloutPercentage = *p.GradualRolloutPercentage
	}
	if p.DeprecationWarningsEnabled != nil {
		f.DeprecationWarningsEnabled = *p.DeprecationWarningsEnabled
	}
	return f
}

// PatchFrom builds a Patch that sets every field to f's values.
func PatchFrom(f Flags) Patch {
	return Patch{
		RESTAPIEnabled:             Bool(f.RESTAPIEnabled),
		AJAXFallbackEnabled:        Bool(f.AJAXFallbackEnabled),
		DualModeEnabled:            Bool(f.DualModeEnabled),
		ForceAJAX:                  Bool(f.ForceAJAX),
		GradualRolloutPercentage:   Int(f.GradualRolloutPercentage),
		DeprecationWarningsEnabled: Bool(f.DeprecationWarningsEnabled),
	}
}

// =============================================================================
// Store
// =============================================================================

// Store reads and batch-updates feature flags.
type Store interface {
	// Flags returns the current flags, or Defaults() if none were written.
	Flags(ctx context.Context) (Flags, error)

	// Update applies a partial update as one write.
	Update(ctx context.Context, patch Patch) error

	// Raw returns the stored JSON blob (Defaults() encoded if absent).
	Raw(ctx context.Context) (json.RawMessage, error)
}

// KVStore persists flags as one JSON record in a kvstore.Store.
type KVStore struct {
	kv       kvstore.Store
	validate *validator.Validate
}

// NewKVStore creates a flag store on top of kv.
func NewKVStore(kv kvstore.Store) *KVStore {
	return &KVStore{kv: kv, validate: validator.New()}
}

func (s *KVStore) Flags(ctx context.Context) (Flags, error) {
	f := Defaults()
	if _, err := kvstore.GetJSON(ctx, s.kv, storeKey, &f); err != nil {
		return Flags{}, fmt.Errorf("read feature flags: %w", err)
	}
	return f, nil
}

func (s *KVStore) Update(ctx context.Context, patch Patch) error {
	current, err := s.Flags(ctx)
	if err != nil {
		return err
	}
	next := current.Apply(patch)
	if err := s.validate.Struct(next); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFlags, err)
	}
	if err := kvstore.SetJSON(ctx, s.kv, storeKey, next); err != nil {
		return fmt.Errorf("write feature flags: %w", err)
	}
	return nil
}

func (s *KVStore) Raw(ctx context.Context) (json.RawMessage, error) {
	data, err := s.kv.Get(ctx, storeKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return json.Marshal(Defaults())
	}
	if err != nil {
		return nil, fmt.Errorf("read feature flags: %w", err)
	}
	return data, nil
}

// Decode parses a stored flag blob. Missing fields take their Defaults()
// values. Out-of-range values return ErrInvalidFlags.
func Decode(raw json.RawMessage) (Flags, error) {
	f := Defaults()
	if err := json.Unmarshal(raw, &f); err != nil {
		return Flags{}, fmt.Errorf("%w: %v", ErrInvalidFlags, err)
	}
	if err := validator.New().Struct(f); err != nil {
		return Flags{}, fmt.Errorf("%w: %v", ErrInvalidFlags, err)
	}
	return f, nil
}

var _ Store = (*KVStore)(nil)
