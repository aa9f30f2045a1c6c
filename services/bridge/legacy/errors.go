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

import "errors"

var (
	// ErrHandlerNotFound indicates a wrapped legacy call has no implementation.
	// It fails the single request with HTTP 500.
	ErrHandlerNotFound = errors.New("legacy handler implementation not found")

	// ErrUnknownAction indicates the action parameter names no registered hook.
	ErrUnknownAction = errors.New("unknown legacy action")

	// ErrMissingAction indicates the request carried no action parameter.
	ErrMissingAction = errors.New("missing legacy action")
)

// Error codes in legacy JSON failure bodies.
const (
	CodeHandlerNotFound = "HANDLER_NOT_FOUND"
	CodeUnknownAction   = "UNKNOWN_ACTION"
	CodeMissingAction   = "MISSING_ACTION"
	CodeInvalidAction   = "INVALID_ACTION"
)
