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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// DefaultWatchInterval is how often a watch stream polls progress.
	DefaultWatchInterval = time.Second

	watchWriteWait = 10 * time.Second
)

// Origin is not checked; callers authenticate with the admin token.
var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HandleMigrationWatch handles GET /admin/migration/watch.
//
// # Description
//
// Upgrades to a websocket and pushes migration.Progress as JSON: once on
// connect and again whenever the status revision changes. The stream ends
// when the client disconnects or progress cannot be read, in which case a
// close frame with code 1011 carries the reason.
//
// # Thread Safety
//
// One writer goroutine per connection; a reader goroutine only drains
// control frames to notice the client going away.
func (h *AdminController) HandleMigrationWatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.deps.Logger.With("request_id", requestID, "handler", "HandleMigrationWatch")

	ws, err := watchUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Failed to upgrade watch connection", "error", err)
		return
	}
	defer ws.Close()
	logger.Info("Migration watch connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.deps.WatchInterval)
	defer ticker.Stop()

	var lastRevision uint64
	sent := false
	for {
		p, err := h.deps.Migrator.Progress(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("Failed to read migration progress", "error", err)
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "progress unavailable"),
					time.Now().Add(watchWriteWait))
			}
			return
		}
		if !sent || p.Revision != lastRevision {
			_ = ws.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := ws.WriteJSON(p); err != nil {
				logger.Info("Migration watch disconnected", "error", err)
				return
			}
			lastRevision, sent = p.Revision, true
		}

		select {
		case <-ctx.Done():
			logger.Info("Migration watch closed")
			return
		case <-ticker.C:
		}
	}
}
