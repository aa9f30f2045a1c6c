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
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/bridge/flags"
	"github.com/AleutianAI/AleutianBridge/services/bridge/legacy"
	"github.com/gin-gonic/gin"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// AssignmentResponse is the body of GET /rollout/assignment.
type AssignmentResponse struct {
	ClientID   string          `json:"client_id"`
	Bucket     int             `json:"bucket"`
	Percentage int             `json:"percentage"`
	Transport  flags.Transport `json:"transport"`
}

// SystemController serves health and rollout assignment.
type SystemController struct {
	flags   flags.Store
	version string
	started time.Time
}

// NewSystemController creates the controller.
func NewSystemController(f flags.Store, version string) *SystemController {
	return &SystemController{flags: f, version: version, started: time.Now()}
}

// RegisterRoutes implements registry.Controller.
func (h *SystemController) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.HandleHealth)
	rg.GET("/rollout/assignment", h.HandleAssignment)
}

// HandleHealth handles GET /health. It is the default target of the
// compatibility reachability check, so it must not depend on storage.
func (h *SystemController) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: time.Since(h.started).Seconds(),
	})
}

// HandleAssignment handles GET /rollout/assignment.
//
// Description:
//
//	Reports which transport the calling client is assigned at the current
//	rollout percentage. The client is identified by X-Bridge-Client-ID,
//	falling back to its IP address.
func (h *SystemController) HandleAssignment(c *gin.Context) {
	f, err := h.flags.Flags(c.Request.Context())
	if err != nil {
		requestID := getOrCreateRequestID(c)
		slog.With("request_id", requestID, "handler", "HandleAssignment").
			Error("Failed to read feature flags", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to read feature flags",
			Code:  "FLAGS_UNAVAILABLE",
		})
		return
	}
	id := legacy.ClientID(c)
	c.JSON(http.StatusOK, AssignmentResponse{
		ClientID:   id,
		Bucket:     flags.Bucket(id),
		Percentage: f.GradualRolloutPercentage,
		Transport:  flags.Assign(f, id),
	})
}
