// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package legacy

import (
	"maps"
	"net/http"
	"slices"
	"sync"

	"github.com/AleutianAI/AleutianBridge/pkg/validation"
	"github.com/gin-gonic/gin"
)

// DefaultPriority is used for hooks registered without an explicit priority.
const DefaultPriority = 10

// Registration is one hook entry.
type Registration struct {
	Handler  gin.HandlerFunc
	Priority int
}

// Dispatcher routes name-addressed legacy calls to their hook handlers.
//
// Callers post to a single endpoint with an "action" parameter (query string
// or form field); the hook "ajax_<action>" handles the request.
//
// # Thread Safety
//
// Safe for concurrent use. Registrations may change while serving.
type Dispatcher struct {
	mu    sync.RWMutex
	hooks map[string]Registration
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{hooks: make(map[string]Registration)}
}

// Register installs handler under hook, replacing any existing entry.
func (d *Dispatcher) Register(hook string, handler gin.HandlerFunc, priority int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks[hook] = Registration{Handler: handler, Priority: priority}
}

// Remove deletes hook and returns what was registered.
func (d *Dispatcher) Remove(hook string) (Registration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, ok := d.hooks[hook]
	if ok {
		delete(d.hooks, hook)
	}
	return reg, ok
}

// Lookup returns the registration for hook.
func (d *Dispatcher) Lookup(hook string) (Registration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reg, ok := d.hooks[hook]
	return reg, ok
}

// Hooks returns the registered hook names, sorted.
func (d *Dispatcher) Hooks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Sorted(maps.Keys(d.hooks))
}

// Serve is the gin handler for the legacy endpoint.
func (d *Dispatcher) Serve(c *gin.Context) {
	action := c.Query("action")
	if action == "" {
		action = c.PostForm("action")
	}
	if action == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, failure(ErrMissingAction.Error(), CodeMissingAction))
		return
	}
	action, err := validation.SanitizeAction(action)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, failure(err.Error(), CodeInvalidAction))
		return
	}

	reg, ok := d.Lookup(HookName(action))
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, failure(ErrUnknownAction.Error()+": "+action, CodeUnknownAction))
		return
	}
	reg.Handler(c)
}

// RegisterRoutes mounts the dispatcher at ANY <path>.
func (d *Dispatcher) RegisterRoutes(r gin.IRoutes, path string) {
	r.Any(path, d.Serve)
}

// failure builds the legacy JSON error envelope.
func failure(message, code string) gin.H {
	return gin.H{
		"success": false,
		"data": gin.H{
			"message": message,
			"code":    code,
		},
	}
}
