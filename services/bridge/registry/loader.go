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
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Kind distinguishes backing services from route-registering controllers.
type Kind string

const (
	KindService    Kind = "service"
	KindController Kind = "controller"
)

// Controller registers its routes on the registry's namespace group.
type Controller interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Deps gives a loader access to services loaded before it.
type Deps interface {
	Service(name string) (any, bool)
}

// ComponentSpec describes one optional component.
type ComponentSpec struct {
	// Name is the capability key. Must be unique.
	Name string

	// Kind is KindService or KindController.
	Kind Kind

	// Requires lists services that must be present before this component
	// loads. A controller with a missing requirement is skipped.
	Requires []string

	// Load builds the component. Errors and panics are both captured.
	Load func(deps Deps) (any, error)
}

// capability is the outcome of loading one component.
type capability struct {
	spec      ComponentSpec
	component any
	err       *InitializationError
}

func (c capability) loaded() bool {
	return c.err == nil && c.component != nil
}

// safeLoad evaluates spec.Load once and converts every failure mode into an
// InitializationError.
func safeLoad(spec ComponentSpec, deps Deps, now func() time.Time) (component any, initErr *InitializationError) {
	defer func() {
		if rec := recover(); rec != nil {
			file, line := panicSite()
			component = nil
			initErr = &InitializationError{
				Component: spec.Name,
				Message:   fmt.Sprintf("panic during load: %v", rec),
				Context: ErrorContext{
					File:  file,
					Line:  line,
					Trace: string(debug.Stack()),
				},
				Timestamp: now(),
			}
		}
	}()

	if spec.Load == nil {
		return nil, &InitializationError{
			Component: spec.Name,
			Message:   "no loader defined",
			Timestamp: now(),
		}
	}

	c, err := spec.Load(deps)
	if err != nil {
		return nil, &InitializationError{
			Component: spec.Name,
			Message:   err.Error(),
			Timestamp: now(),
		}
	}
	if c == nil {
		return nil, &InitializationError{
			Component: spec.Name,
			Message:   "loader returned no component",
			Timestamp: now(),
		}
	}
	if spec.Kind == KindController {
		if _, ok := c.(Controller); !ok {
			return nil, &InitializationError{
				Component: spec.Name,
				Message:   ErrNotController.Error(),
				Timestamp: now(),
			}
		}
	}
	return c, nil
}

// panicSite returns the file and line of the frame that panicked. It must be
// called from the deferred recover handler.
func panicSite() (string, int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	pastPanic := false
	for {
		frame, more := frames.Next()
		if pastPanic && !strings.HasPrefix(frame.Function, "runtime.") {
			return frame.File, frame.Line
		}
		if frame.Function == "runtime.gopanic" {
			pastPanic = true
		}
		if !more {
			return "", 0
		}
	}
}
