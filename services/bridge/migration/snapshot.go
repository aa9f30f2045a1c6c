// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/bridge/kvstore"
)

const snapshotKey = "bridge_migration_backup"

// Snapshot captures settings and feature flags before a migration starts.
// Each StartMigration overwrites the previous snapshot.
type Snapshot struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Version      string            `json:"version"`
	Settings     json.RawMessage   `json:"settings"`
	FeatureFlags json.RawMessage   `json:"feature_flags"`
	Environment  map[string]string `json:"environment"`
}

// SnapshotStore reads and writes the single migration snapshot.
type SnapshotStore interface {
	// Save replaces the stored snapshot.
	Save(ctx context.Context, s Snapshot) error

	// Load returns the snapshot; found is false when none exists.
	Load(ctx context.Context) (s Snapshot, found bool, err error)
}

// KVSnapshotStore keeps the snapshot as one JSON record.
type KVSnapshotStore struct {
	kv kvstore.Store
}

// NewKVSnapshotStore creates a snapshot store over kv.
func NewKVSnapshotStore(kv kvstore.Store) *KVSnapshotStore {
	return &KVSnapshotStore{kv: kv}
}

func (s *KVSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	if err := kvstore.SetJSON(ctx, s.kv, snapshotKey, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *KVSnapshotStore) Load(ctx context.Context) (Snapshot, bool, error) {
	var snap Snapshot
	found, err := kvstore.GetJSON(ctx, s.kv, snapshotKey, &snap)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, found, nil
}

var _ SnapshotStore = (*KVSnapshotStore)(nil)
