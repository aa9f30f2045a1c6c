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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianBridge/pkg/extensions"
	"github.com/AleutianAI/AleutianBridge/services/bridge/legacy"
	"github.com/AleutianAI/AleutianBridge/services/bridge/middleware"
	"github.com/AleutianAI/AleutianBridge/services/bridge/migration"
	"github.com/AleutianAI/AleutianBridge/services/bridge/registry"
	"github.com/gin-gonic/gin"
)

// Migrator drives migration transitions. *migration.Orchestrator satisfies it.
type Migrator interface {
	StartMigration(ctx context.Context) (migration.Result, error)
	AdvanceRollout(ctx context.Context, target int) (migration.Result, error)
	CompleteMigration(ctx context.Context) (migration.Result, error)
	RollbackMigration(ctx context.Context) (migration.Result, error)
	Progress(ctx context.Context) (migration.Progress, error)
}

// LegacyStats exposes interceptor usage. *legacy.Interceptor satisfies it.
type LegacyStats interface {
	HandlerStats(ctx context.Context) (legacy.Stats, error)
	ResetUsage(ctx context.Context) error
}

// AdvanceRequest is the optional body of POST /admin/migration/advance.
// A zero target advances one step.
type AdvanceRequest struct {
	Target int `json:"target" binding:"omitempty,oneof=50 75 100"`
}

// DiagnosticsResponse is the body of GET /admin/diagnostics.
type DiagnosticsResponse struct {
	Initialized bool                           `json:"initialized"`
	Namespace   string                         `json:"namespace"`
	Components  []registry.ComponentStatus     `json:"components"`
	Errors      []registry.InitializationError `json:"errors"`
	HasErrors   bool                           `json:"has_errors"`
}

// AdminDeps are the collaborators of AdminController. Auth and Audit
// default to the permissive implementations.
type AdminDeps struct {
	Registry  *registry.Registry
	Validator migration.Validator
	Migrator  Migrator
	Legacy    LegacyStats
	Auth      extensions.AuthProvider
	Audit     extensions.AuditLogger
	Logger    *slog.Logger

	// WatchInterval is the progress poll period of watch streams.
	// Zero uses DefaultWatchInterval.
	WatchInterval time.Duration
}

// AdminController serves the operator API under /admin.
type AdminController struct {
	deps AdminDeps
}

// NewAdminController creates the controller.
func NewAdminController(deps AdminDeps) *AdminController {
	if deps.Auth == nil {
		deps.Auth = &extensions.NopAuthProvider{}
	}
	if deps.Audit == nil {
		deps.Audit = &extensions.NopAuditLogger{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.WatchInterval <= 0 {
		deps.WatchInterval = DefaultWatchInterval
	}
	return &AdminController{deps: deps}
}

// RegisterRoutes implements registry.Controller.
func (h *AdminController) RegisterRoutes(rg *gin.RouterGroup) {
	admin := rg.Group("/admin",
		middleware.AuthMiddleware(h.deps.Auth, h.deps.Logger),
		middleware.RequireRole(extensions.RoleAdmin),
	)

	admin.GET("/diagnostics", h.HandleDiagnostics)
	admin.POST("/compatibility", h.HandleCompatibility)

	admin.GET("/migration", h.HandleMigrationStatus)
	admin.GET("/migration/watch", h.HandleMigrationWatch)
	admin.POST("/migration/start", h.HandleStart)
	admin.POST("/migration/advance", h.HandleAdvance)
	admin.POST("/migration/complete", h.HandleComplete)
	admin.POST("/migration/rollback", h.HandleRollback)

	admin.GET("/legacy/stats", h.HandleLegacyStats)
	admin.POST("/legacy/usage/reset", h.HandleResetUsage)

	admin.GET("/audit", h.HandleAudit)
}

// HandleDiagnostics handles GET /admin/diagnostics.
//
// Description:
//
//	Lists component load state and initialization errors. Stack traces are
//	included only when the registry runs in debug mode.
func (h *AdminController) HandleDiagnostics(c *gin.Context) {
	r := h.deps.Registry
	if r == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "registry unavailable", Code: "UNAVAILABLE"})
		return
	}
	errs := r.InitializationErrors()
	if errs == nil {
		errs = []registry.InitializationError{}
	}
	c.JSON(http.StatusOK, DiagnosticsResponse{
		Initialized: r.IsInitialized(),
		Namespace:   r.Namespace(),
		Components:  r.Components(),
		Errors:      errs,
		HasErrors:   r.HasErrors(),
	})
}

// HandleCompatibility handles POST /admin/compatibility. The report is
// returned with 200 whether or not the environment is compatible.
func (h *AdminController) HandleCompatibility(c *gin.Context) {
	report := h.deps.Validator.Validate(c.Request.Context())
	h.audit(c, "compatibility.check", outcome(report.Compatible), map[string]any{
		"failed": report.Failed(),
	})
	c.JSON(http.StatusOK, report)
}

// HandleMigrationStatus handles GET /admin/migration.
func (h *AdminController) HandleMigrationStatus(c *gin.Context) {
	p, err := h.deps.Migrator.Progress(c.Request.Context())
	if err != nil {
		requestID := getOrCreateRequestID(c)
		h.deps.Logger.Error("Failed to read migration progress", "request_id", requestID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STATUS_UNAVAILABLE"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// HandleStart handles POST /admin/migration/start.
//
// Response:
//
//	200 OK: migration.Result
//	412 Precondition Failed: Environment incompatible; details hold the result
//	409 Conflict: Already rolling or lost a concurrent transition
//	500 Internal Server Error: Snapshot failed
func (h *AdminController) HandleStart(c *gin.Context) {
	res, err := h.deps.Migrator.StartMigration(c.Request.Context())
	h.respond(c, "migration.start", res, err)
}

// HandleAdvance handles POST /admin/migration/advance.
func (h *AdminController) HandleAdvance(c *gin.Context) {
	var req AdvanceRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "target must be 50, 75 or 100",
				Code:  "INVALID_REQUEST",
			})
			return
		}
	}
	res, err := h.deps.Migrator.AdvanceRollout(c.Request.Context(), req.Target)
	h.respond(c, "migration.advance", res, err)
}

// HandleComplete handles POST /admin/migration/complete.
func (h *AdminController) HandleComplete(c *gin.Context) {
	res, err := h.deps.Migrator.CompleteMigration(c.Request.Context())
	h.respond(c, "migration.complete", res, err)
}

// HandleRollback handles POST /admin/migration/rollback.
func (h *AdminController) HandleRollback(c *gin.Context) {
	res, err := h.deps.Migrator.RollbackMigration(c.Request.Context())
	h.respond(c, "migration.rollback", res, err)
}

// HandleLegacyStats handles GET /admin/legacy/stats.
func (h *AdminController) HandleLegacyStats(c *gin.Context) {
	stats, err := h.deps.Legacy.HandlerStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STATS_UNAVAILABLE"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleResetUsage handles POST /admin/legacy/usage/reset.
func (h *AdminController) HandleResetUsage(c *gin.Context) {
	if err := h.deps.Legacy.ResetUsage(c.Request.Context()); err != nil {
		h.audit(c, "legacy.usage_reset", extensions.OutcomeFailure, map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "RESET_FAILED"})
		return
	}
	h.audit(c, "legacy.usage_reset", extensions.OutcomeSuccess, nil)
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// HandleAudit handles GET /admin/audit?event_type=&limit=.
func (h *AdminController) HandleAudit(c *gin.Context) {
	filter := extensions.AuditFilter{EventType: c.Query("event_type"), Limit: 100}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer", Code: "INVALID_REQUEST"})
			return
		}
		filter.Limit = n
	}
	events, err := h.deps.Audit.Query(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "AUDIT_UNAVAILABLE"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *AdminController) respond(c *gin.Context, event string, res migration.Result, err error) {
	requestID := getOrCreateRequestID(c)
	logger := h.deps.Logger.With("request_id", requestID, "transition", event)

	if err == nil {
		h.audit(c, event, extensions.OutcomeSuccess, map[string]any{"phase": string(res.Phase)})
		logger.Info("Migration transition applied", "phase", res.Phase)
		c.JSON(http.StatusOK, res)
		return
	}

	statusCode := http.StatusInternalServerError
	errCode := "MIGRATION_FAILED"
	switch {
	case errors.Is(err, migration.ErrIncompatible):
		statusCode = http.StatusPreconditionFailed
		errCode = "INCOMPATIBLE"
	case errors.Is(err, migration.ErrBackupFailed):
		errCode = "BACKUP_FAILED"
	case errors.Is(err, migration.ErrRestoreFailed):
		errCode = "RESTORE_FAILED"
	case errors.Is(err, migration.ErrNoSnapshot):
		statusCode = http.StatusConflict
		errCode = "NO_SNAPSHOT"
	case errors.Is(err, migration.ErrConcurrentTransition):
		statusCode = http.StatusConflict
		errCode = "CONCURRENT_TRANSITION"
	case errors.Is(err, migration.ErrInvalidTransition):
		statusCode = http.StatusConflict
		errCode = "INVALID_TRANSITION"
	}

	h.audit(c, event, extensions.OutcomeFailure, map[string]any{
		"phase": string(res.Phase),
		"code":  errCode,
		"error": err.Error(),
	})
	if statusCode == http.StatusInternalServerError {
		logger.Error("Migration transition failed", "error", err, "code", errCode)
	} else {
		logger.Warn("Migration transition rejected", "error", err, "code", errCode)
	}
	c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode, Details: res})
}

func (h *AdminController) audit(c *gin.Context, event, result string, meta map[string]any) {
	userID := ""
	if info := middleware.GetAuthInfo(c); info != nil {
		userID = info.UserID
	}
	err := h.deps.Audit.Log(c.Request.Context(), extensions.AuditEvent{
		EventType: event,
		UserID:    userID,
		RequestID: getOrCreateRequestID(c),
		Outcome:   result,
		Metadata:  meta,
	})
	if err != nil {
		h.deps.Logger.Warn("Failed to record audit event", "event_type", event, "error", err)
	}
}

func outcome(ok bool) string {
	if ok {
		return extensions.OutcomeSuccess
	}
	return extensions.OutcomeFailure
}
