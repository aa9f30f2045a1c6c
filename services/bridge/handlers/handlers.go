// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the REST controllers of the bridge.
//
// Each controller implements registry.Controller and is mounted under the
// bridge namespace by the registry:
//
//	SettingsController  /settings, /backups, /themes
//	SystemController    /health, /rollout/assignment
//	AdminController     /admin/... (operator API, authenticated)
//
// The settings routes are the REST counterparts of the legacy actions listed
// in legacy.DefaultMapping.
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details carries a structured payload, e.g. the compatibility report.
	Details any `json:"details,omitempty"`
}

const requestIDKey = "bridge_request_id"

// getOrCreateRequestID returns X-Request-ID or a new UUID, echoing it back.
// Repeated calls within one request return the same id.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDKey, requestID)
	c.Header("X-Request-ID", requestID)
	return requestID
}
