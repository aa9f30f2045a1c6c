// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/bridge/kvstore"
	"github.com/google/uuid"
)

const backupsKey = "bridge_backups"

// Backup is a user-created copy of the settings document.
type Backup struct {
	ID        string          `json:"id"`
	Label     string          `json:"label,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Settings  json.RawMessage `json:"settings"`
}

// BackupService manages settings backups.
type BackupService struct {
	kv       kvstore.Store
	settings *Service
	mu       sync.Mutex
	now      func() time.Time
}

// NewBackupService creates a backup service.
func NewBackupService(kv kvstore.Store, settings *Service) *BackupService {
	return &BackupService{kv: kv, settings: settings, now: time.Now}
}

// Create stores a backup of the current settings.
func (b *BackupService) Create(ctx context.Context, label string) (Backup, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := b.settings.Export(ctx)
	if err != nil {
		return Backup{}, err
	}
	list, err := b.load(ctx)
	if err != nil {
		return Backup{}, err
	}
	backup := Backup{
		ID:        uuid.NewString(),
		Label:     label,
		CreatedAt: b.now().UTC(),
		Settings:  raw,
	}
	list = append(list, backup)
	if err := kvstore.SetJSON(ctx, b.kv, backupsKey, list); err != nil {
		return Backup{}, fmt.Errorf("write backups: %w", err)
	}
	return backup, nil
}

// List returns all backups, newest first.
func (b *BackupService) List(ctx context.Context) ([]Backup, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(list, func(x, y Backup) int {
		return y.CreatedAt.Compare(x.CreatedAt)
	})
	return list, nil
}

// Restore replaces the current settings with the backup's copy.
func (b *BackupService) Restore(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	list, err := b.load(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(list, func(x Backup) bool { return x.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, id)
	}
	return b.settings.Import(ctx, list[i].Settings)
}

// Delete removes a backup.
func (b *BackupService) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	list, err := b.load(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(list, func(x Backup) bool { return x.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, id)
	}
	list = slices.Delete(list, i, i+1)
	if err := kvstore.SetJSON(ctx, b.kv, backupsKey, list); err != nil {
		return fmt.Errorf("write backups: %w", err)
	}
	return nil
}

func (b *BackupService) load(ctx context.Context) ([]Backup, error) {
	var list []Backup
	if _, err := kvstore.GetJSON(ctx, b.kv, backupsKey, &list); err != nil {
		return nil, fmt.Errorf("read backups: %w", err)
	}
	return list, nil
}
