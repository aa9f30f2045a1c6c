// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/bridge/telemetry"
	"github.com/gin-gonic/gin"
)

const (
	// RequestStartKey is the gin context key holding the request start time.
	RequestStartKey = "bridge_request_start"

	// UnmatchedRoute is the route label for requests that matched no route.
	UnmatchedRoute = "unmatched"
)

// TimingMiddleware measures requests inside the namespace and forwards one
// RequestMetric per request to the sink.
//
// # Description
//
// Requests outside the namespace pass through untouched. The route is the
// matched route template (for example /v1/bridge/backups/:id) so metrics do
// not explode on path parameters. Unmatched requests all share the
// UnmatchedRoute label so a scan of unknown paths adds no new series.
//
// A failing sink never affects the response. Panics are recovered and only
// logged when the registry runs in debug mode.
//
// # Thread Safety
//
// The returned handler is safe for concurrent use.
func (r *Registry) TimingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.inNamespace(c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Set(RequestStartKey, start)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = UnmatchedRoute
		}
		r.track(telemetry.RequestMetric{
			Route:          route,
			Method:         c.Request.Method,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		})
	}
}

func (r *Registry) track(m telemetry.RequestMetric) {
	defer func() {
		if rec := recover(); rec != nil && r.debug {
			r.logger.Debug("telemetry sink failed",
				slog.String("route", m.Route),
				slog.Any("panic", rec))
		}
	}()
	telemetry.Track(r.sink, m)
}

func (r *Registry) inNamespace(path string) bool {
	return path == r.namespace || strings.HasPrefix(path, r.namespace+"/")
}
