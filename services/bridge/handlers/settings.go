// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianBridge/services/bridge/settings"
	"github.com/gin-gonic/gin"
)

// CreateBackupRequest is the body of POST /backups.
type CreateBackupRequest struct {
	Label string `json:"label" binding:"max=200"`
}

// ApplyThemeRequest is the body of POST /themes/apply.
type ApplyThemeRequest struct {
	Theme string `json:"theme" binding:"required"`
}

// SettingsController serves the settings, backup and theme routes.
type SettingsController struct {
	settings *settings.Service
	backups  *settings.BackupService
	themes   *settings.ThemeService
}

// NewSettingsController creates the controller.
func NewSettingsController(s *settings.Service, b *settings.BackupService, t *settings.ThemeService) *SettingsController {
	return &SettingsController{settings: s, backups: b, themes: t}
}

// RegisterRoutes implements registry.Controller.
func (h *SettingsController) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/settings", h.HandleGetSettings)
	rg.POST("/settings", h.HandleSaveSettings)
	rg.POST("/settings/reset", h.HandleResetSettings)
	rg.GET("/settings/export", h.HandleExportSettings)
	rg.POST("/settings/import", h.HandleImportSettings)

	rg.GET("/backups", h.HandleListBackups)
	rg.POST("/backups", h.HandleCreateBackup)
	rg.POST("/backups/:id/restore", h.HandleRestoreBackup)
	rg.DELETE("/backups/:id", h.HandleDeleteBackup)

	rg.POST("/themes/apply", h.HandleApplyTheme)
	rg.GET("/themes/preview", h.HandlePreviewTheme)
}

// HandleGetSettings handles GET /settings.
func (h *SettingsController) HandleGetSettings(c *gin.Context) {
	s, err := h.settings.Get(c.Request.Context())
	if err != nil {
		h.fail(c, "HandleGetSettings", err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// HandleSaveSettings handles POST /settings.
//
// Request Body:
//
//	JSON object merged into the current settings.
//
// Response:
//
//	200 OK: The merged settings
//	400 Bad Request: Body is not a JSON object
func (h *SettingsController) HandleSaveSettings(c *gin.Context) {
	var updates settings.Settings
	if err := c.ShouldBindJSON(&updates); err != nil || updates == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Request body must be a JSON object",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	s, err := h.settings.Save(c.Request.Context(), updates)
	if err != nil {
		h.fail(c, "HandleSaveSettings", err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// HandleResetSettings handles POST /settings/reset.
func (h *SettingsController) HandleResetSettings(c *gin.Context) {
	s, err := h.settings.Reset(c.Request.Context())
	if err != nil {
		h.fail(c, "HandleResetSettings", err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// HandleExportSettings handles GET /settings/export. The stored document is
// returned byte for byte.
func (h *SettingsController) HandleExportSettings(c *gin.Context) {
	raw, err := h.settings.Export(c.Request.Context())
	if err != nil {
		h.fail(c, "HandleExportSettings", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="bridge-settings.json"`)
	c.Data(http.StatusOK, "application/json", raw)
}

// HandleImportSettings handles POST /settings/import with the exported
// document as body.
func (h *SettingsController) HandleImportSettings(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.fail(c, "HandleImportSettings", err)
		return
	}
	if err := h.settings.Import(c.Request.Context(), json.RawMessage(raw)); err != nil {
		h.fail(c, "HandleImportSettings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": true})
}

// HandleListBackups handles GET /backups.
func (h *SettingsController) HandleListBackups(c *gin.Context) {
	list, err := h.backups.List(c.Request.Context())
	if err != nil {
		h.fail(c, "HandleListBackups", err)
		return
	}
	if list == nil {
		list = []settings.Backup{}
	}
	c.JSON(http.StatusOK, gin.H{"backups": list})
}

// HandleCreateBackup handles POST /backups. The body is optional.
func (h *SettingsController) HandleCreateBackup(c *gin.Context) {
	var req CreateBackupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "Invalid request body",
				Code:  "INVALID_REQUEST",
			})
			return
		}
	}
	b, err := h.backups.Create(c.Request.Context(), req.Label)
	if err != nil {
		h.fail(c, "HandleCreateBackup", err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// HandleRestoreBackup handles POST /backups/:id/restore.
func (h *SettingsController) HandleRestoreBackup(c *gin.Context) {
	id := c.Param("id")
	if err := h.backups.Restore(c.Request.Context(), id); err != nil {
		h.fail(c, "HandleRestoreBackup", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": id})
}

// HandleDeleteBackup handles DELETE /backups/:id.
func (h *SettingsController) HandleDeleteBackup(c *gin.Context) {
	id := c.Param("id")
	if err := h.backups.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, "HandleDeleteBackup", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// HandleApplyTheme handles POST /themes/apply.
func (h *SettingsController) HandleApplyTheme(c *gin.Context) {
	var req ApplyThemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "theme is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	theme, err := h.themes.Apply(c.Request.Context(), req.Theme)
	if err != nil {
		h.fail(c, "HandleApplyTheme", err)
		return
	}
	c.JSON(http.StatusOK, theme)
}

// HandlePreviewTheme handles GET /themes/preview?theme=<name>.
func (h *SettingsController) HandlePreviewTheme(c *gin.Context) {
	theme, err := h.themes.Preview(c.Request.Context(), c.Query("theme"))
	if err != nil {
		h.fail(c, "HandlePreviewTheme", err)
		return
	}
	c.JSON(http.StatusOK, theme)
}

func (h *SettingsController) fail(c *gin.Context, handler string, err error) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", handler)

	statusCode := http.StatusInternalServerError
	errCode := "INTERNAL_ERROR"
	switch {
	case errors.Is(err, settings.ErrInvalidSettings):
		statusCode = http.StatusBadRequest
		errCode = "INVALID_SETTINGS"
	case errors.Is(err, settings.ErrBackupNotFound):
		statusCode = http.StatusNotFound
		errCode = "BACKUP_NOT_FOUND"
	case errors.Is(err, settings.ErrUnknownTheme):
		statusCode = http.StatusBadRequest
		errCode = "UNKNOWN_THEME"
	}

	if statusCode == http.StatusInternalServerError {
		logger.Error("Settings operation failed", "error", err)
	} else {
		logger.Warn("Settings request rejected", "error", err, "code", errCode)
	}
	c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
}
