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
	"testing"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/bridge/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServices() (*Service, *BackupService, *ThemeService) {
	kv := kvstore.NewMemory()
	svc := NewService(kv)
	return svc, NewBackupService(kv, svc), NewThemeService(svc, DefaultThemes())
}

// =============================================================================
// Service Tests
// =============================================================================

func TestService_GetDefaults(t *testing.T) {
	svc, _, _ := newServices()

	got, err := svc.Get(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Defaults(), got)
}

func TestService_SaveMerges(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newServices()

	got, err := svc.Save(ctx, Settings{"items_per_page": float64(50)})
	require.NoError(t, err)
	assert.Equal(t, float64(50), got["items_per_page"])
	assert.Equal(t, "default", got["theme"])

	reread, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, got, reread)
}

func TestService_ResetExportImport(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newServices()

	_, err := svc.Save(ctx, Settings{"custom": "x"})
	require.NoError(t, err)
	exported, err := svc.Export(ctx)
	require.NoError(t, err)

	_, err = svc.Reset(ctx)
	require.NoError(t, err)
	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.NotContains(t, got, "custom")

	require.NoError(t, svc.Import(ctx, exported))
	got, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", got["custom"])
}

func TestService_ImportRejectsNonObject(t *testing.T) {
	svc, _, _ := newServices()

	for _, raw := range []string{`[]`, `"str"`, `null`, `{`} {
		err := svc.Import(context.Background(), json.RawMessage(raw))
		assert.ErrorIs(t, err, ErrInvalidSettings, raw)
	}
}

// =============================================================================
// BackupService Tests
// =============================================================================

func TestBackupService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc, backups, _ := newServices()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	backups.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	_, err := svc.Save(ctx, Settings{"theme": "dark"})
	require.NoError(t, err)
	first, err := backups.Create(ctx, "before")
	require.NoError(t, err)
	second, err := backups.Create(ctx, "after")
	require.NoError(t, err)

	list, err := backups.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")

	_, err = svc.Save(ctx, Settings{"theme": "high-contrast"})
	require.NoError(t, err)
	require.NoError(t, backups.Restore(ctx, first.ID))
	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", got["theme"])

	require.NoError(t, backups.Delete(ctx, first.ID))
	list, err = backups.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, backups.Delete(ctx, first.ID), ErrBackupNotFound)
	assert.ErrorIs(t, backups.Restore(ctx, "nope"), ErrBackupNotFound)
}

// =============================================================================
// ThemeService Tests
// =============================================================================

func TestThemeService(t *testing.T) {
	ctx := context.Background()
	svc, _, themes := newServices()

	preview, err := themes.Preview(ctx, "dark")
	require.NoError(t, err)
	assert.Equal(t, "dark", preview.Name)

	current, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "default", current["theme"], "preview must not apply")

	_, err = themes.Apply(ctx, "dark")
	require.NoError(t, err)
	current, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", current["theme"])

	_, err = themes.Apply(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownTheme)
}
