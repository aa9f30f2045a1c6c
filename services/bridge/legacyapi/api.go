// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package legacyapi implements the name-addressed legacy calls on top of the
// settings services.
//
// Every call answers with the legacy envelope {"success": bool, "data": ...}.
// Parameters come from form fields (or the query string), as legacy clients
// send them.
package legacyapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianBridge/services/bridge/legacy"
	"github.com/AleutianAI/AleutianBridge/services/bridge/settings"
	"github.com/gin-gonic/gin"
)

// API holds the legacy implementations.
type API struct {
	settings *settings.Service
	backups  *settings.BackupService
	themes   *settings.ThemeService
	logger   *slog.Logger
}

// New creates the legacy API.
func New(s *settings.Service, b *settings.BackupService, t *settings.ThemeService, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{settings: s, backups: b, themes: t, logger: logger.With("component", "legacy_api")}
}

// Table is the static dispatch table keyed by implementation name.
func (a *API) Table() map[string]gin.HandlerFunc {
	return map[string]gin.HandlerFunc{
		"HandleSaveSettings":   a.HandleSaveSettings,
		"HandleGetSettings":    a.HandleGetSettings,
		"HandleResetSettings":  a.HandleResetSettings,
		"HandleExportSettings": a.HandleExportSettings,
		"HandleImportSettings": a.HandleImportSettings,
		"HandleCreateBackup":   a.HandleCreateBackup,
		"HandleListBackups":    a.HandleListBackups,
		"HandleRestoreBackup":  a.HandleRestoreBackup,
		"HandleDeleteBackup":   a.HandleDeleteBackup,
		"HandleApplyTheme":     a.HandleApplyTheme,
		"HandlePreviewTheme":   a.HandlePreviewTheme,
	}
}

// RegisterHooks installs the original, unwrapped hooks for every name in
// mapping. Names without an implementation are skipped and returned.
func (a *API) RegisterHooks(d *legacy.Dispatcher, mapping legacy.HandlerMapping) []string {
	table := a.Table()
	var missing []string
	for _, name := range mapping.Names() {
		h, ok := table[legacy.DeriveMethodName(name)]
		if !ok {
			missing = append(missing, name)
			continue
		}
		d.Register(legacy.HookName(name), h, legacy.DefaultPriority)
	}
	return missing
}

// HandleSaveSettings merges the JSON object in the "settings" field.
func (a *API) HandleSaveSettings(c *gin.Context) {
	var updates settings.Settings
	if err := json.Unmarshal([]byte(param(c, "settings")), &updates); err != nil || updates == nil {
		a.fail(c, http.StatusBadRequest, "settings must be a JSON object")
		return
	}
	saved, err := a.settings.Save(c.Request.Context(), updates)
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	a.ok(c, saved)
}

func (a *API) HandleGetSettings(c *gin.Context) {
	current, err := a.settings.Get(c.Request.Context())
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	a.ok(c, current)
}

func (a *API) HandleResetSettings(c *gin.Context) {
	current, err := a.settings.Reset(c.Request.Context())
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	a.ok(c, current)
}

func (a *API) HandleExportSettings(c *gin.Context) {
	raw, err := a.settings.Export(c.Request.Context())
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	a.ok(c, raw)
}

// HandleImportSettings replaces the settings with the JSON in the "data" field.
func (a *API) HandleImportSettings(c *gin.Context) {
	err := a.settings.Import(c.Request.Context(), json.RawMessage(param(c, "data")))
	if errors.Is(err, settings.ErrInvalidSettings) {
		a.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	a.ok(c, gin.H{"imported": true})
}

func (a *API) HandleCreateBackup(c *gin.Context) {
	backup, err := a.backups.Create(c.Request.Context(), param(c, "label"))
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	a.ok(c, backup)
}

func (a *API) HandleListBackups(c *gin.Context) {
	list, err := a.backups.List(c.Request.Context())
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	a.ok(c, list)
}

func (a *API) HandleRestoreBackup(c *gin.Context) {
	if err := a.backups.Restore(c.Request.Context(), param(c, "id")); err != nil {
		a.fail(c, statusFor(err), err.Error())
		return
	}
	a.ok(c, gin.H{"restored": true})
}

func (a *API) HandleDeleteBackup(c *gin.Context) {
	if err := a.backups.Delete(c.Request.Context(), param(c, "id")); err != nil {
		a.fail(c, statusFor(err), err.Error())
		return
	}
	a.ok(c, gin.H{"deleted": true})
}

func (a *API) HandleApplyTheme(c *gin.Context) {
	theme, err := a.themes.Apply(c.Request.Context(), param(c, "theme"))
	if err != nil {
		a.fail(c, statusFor(err), err.Error())
		return
	}
	a.ok(c, theme)
}

func (a *API) HandlePreviewTheme(c *gin.Context) {
	theme, err := a.themes.Preview(c.Request.Context(), param(c, "theme"))
	if err != nil {
		a.fail(c, statusFor(err), err.Error())
		return
	}
	a.ok(c, theme)
}

func (a *API) ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, legacy.DecorateResponse(c, map[string]any{
		"success": true,
		"data":    data,
	}))
}

func (a *API) fail(c *gin.Context, status int, message string) {
	if status >= http.StatusInternalServerError {
		a.logger.Error("legacy call failed", slog.String("error", message))
	}
	c.JSON(status, legacy.DecorateResponse(c, map[string]any{
		"success": false,
		"data":    gin.H{"message": message},
	}))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, settings.ErrBackupNotFound):
		return http.StatusNotFound
	case errors.Is(err, settings.ErrUnknownTheme):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// param reads a form field, falling back to the query string.
func param(c *gin.Context, key string) string {
	if v, ok := c.GetPostForm(key); ok {
		return v
	}
	return c.Query(key)
}
