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
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the endpoint registry.
var (
	// ErrNoRouteHost indicates Init was called without a routing host.
	ErrNoRouteHost = errors.New("route host unavailable")

	// ErrAlreadyInitialized indicates Init was called twice.
	ErrAlreadyInitialized = errors.New("registry already initialized")

	// ErrNotController indicates a controller component does not implement Controller.
	ErrNotController = errors.New("component does not implement Controller")
)

// ErrorContext locates the failure that prevented a component from loading.
// File and Line are set when the loader panicked; Trace holds the stack.
type ErrorContext struct {
	File  string `json:"file,omitempty"`
	Line  int    `json:"line,omitempty"`
	Trace string `json:"trace,omitempty"`
}

// InitializationError records one component that failed to load.
//
// Failures are absorbed: the component is simply absent from the capability
// registry. The list is exposed read-only for privileged diagnostics.
type InitializationError struct {
	Component string       `json:"component"`
	Message   string       `json:"message"`
	Context   ErrorContext `json:"context"`
	Timestamp time.Time    `json:"timestamp"`
}

func (e *InitializationError) Error() string {
	if e.Context.File != "" {
		return fmt.Sprintf("load %s: %s (%s:%d)", e.Component, e.Message, e.Context.File, e.Context.Line)
	}
	return fmt.Sprintf("load %s: %s", e.Component, e.Message)
}

// WithoutTrace returns a copy safe to show outside debug mode.
func (e InitializationError) WithoutTrace() InitializationError {
	e.Context.Trace = ""
	return e
}
