// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the gin middleware guarding the bridge
// operator API.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware ── "Authorization: Bearer <token>" ──► provider.Validate
//	   │
//	   ▼
//	RequireRole(admin)
//	   │
//	   ▼
//	Handler (GetAuthInfo)
//
// With extensions.NopAuthProvider every request is the local operator.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/AleutianBridge/pkg/extensions"
	"github.com/gin-gonic/gin"
)

const authInfoKey = "bridge_auth_info"

// SetAuthInfo stores the authenticated caller in c.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the caller stored by AuthMiddleware, or nil.
//
// # Thread Safety
//
// Request-scoped; safe.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if v, ok := c.Get(authInfoKey); ok {
		if info, ok := v.(*extensions.AuthInfo); ok {
			return info
		}
	}
	return nil
}

// AuthMiddleware authenticates requests with provider.
//
// # Description
//
// Reads the bearer token, validates it and stores the AuthInfo for
// downstream handlers. Rejected tokens and provider failures both abort with
// 401; only the response code differs.
//
// # Inputs
//
//   - provider: Token validator. Must not be nil.
//   - logger: Receives rejected attempts. Nil uses slog.Default.
//
// # Outputs
//
//   - gin.HandlerFunc: The middleware.
func AuthMiddleware(provider extensions.AuthProvider, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		info, err := provider.Validate(c.Request.Context(), extractBearerToken(c))
		if err != nil {
			code := "AUTH_FAILED"
			if errors.Is(err, extensions.ErrUnauthorized) {
				code = "UNAUTHORIZED"
			}
			logger.Warn("operator authentication rejected",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP(),
				"code", code)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
				"code":  code,
			})
			return
		}
		SetAuthInfo(c, info)
		c.Next()
	}
}

// RequireRole aborts with 403 unless the authenticated caller holds role.
// It must run after AuthMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetAuthInfo(c).HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "forbidden",
				"code":  "FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}

// extractBearerToken returns the token from "Authorization: Bearer <token>",
// or "" when the header is absent or uses another scheme. The scheme match
// is case-insensitive.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
