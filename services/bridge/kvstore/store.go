// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kvstore is the persistent configuration store used by the bridge.
//
// Every persisted record (migration status, snapshot, feature flags,
// settings, legacy usage counters, backups) lives under a single string key
// as a JSON blob. Components never touch keys directly: each owner wraps the
// Store in typed accessors.
//
// Two implementations are provided:
//
//   - Badger: embedded BadgerDB, used in production.
//   - Memory: map-backed, used in tests and lightweight mode.
//
// # Thread Safety
//
// All implementations are safe for concurrent use.
package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key has never been written or was deleted.
var ErrNotFound = errors.New("key not found")

// Store is a minimal key/value contract with compare-and-swap.
type Store interface {
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndSwap writes next only if the current value equals expected.
	// A nil expected means "key must be absent". Returns false, nil when the
	// comparison fails.
	CompareAndSwap(ctx context.Context, key string, expected, next []byte) (bool, error)
}

// GetJSON decodes the value stored under key into v.
//
// Returns (false, nil) when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Set(ctx, key, data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func equalValue(current []byte, found bool, expected []byte) bool {
	if expected == nil {
		return !found
	}
	return found && bytes.Equal(current, expected)
}
