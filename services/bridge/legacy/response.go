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
	"fmt"

	"github.com/AleutianAI/AleutianBridge/pkg/validation"
	"github.com/gin-gonic/gin"
)

// Deprecation response headers set on every intercepted call.
const (
	HeaderDeprecated          = "X-Bridge-Deprecated"
	HeaderLegacyHandler       = "X-Bridge-Legacy-Handler"
	HeaderRESTEndpoint        = "X-Bridge-REST-Endpoint"
	HeaderMigrationGuide      = "X-Bridge-Migration-Guide"
	HeaderPreferredTransport  = "X-Bridge-Preferred-Transport"
	HeaderClientID            = "X-Bridge-Client-ID"
	DeprecationResponseField  = "_deprecation"
	contextKeyDeprecationInfo = "bridge_legacy_deprecation"
)

// DeprecationInfo is the structured form of the deprecation headers.
type DeprecationInfo struct {
	Deprecated     bool   `json:"deprecated"`
	LegacyHandler  string `json:"legacy_handler"`
	RESTEndpoint   string `json:"rest_endpoint"`
	MigrationGuide string `json:"migration_guide,omitempty"`
	Message        string `json:"message"`
}

func newDeprecationInfo(legacyName, restPath, guideURL string) DeprecationInfo {
	return DeprecationInfo{
		Deprecated:     true,
		LegacyHandler:  legacyName,
		RESTEndpoint:   restPath,
		MigrationGuide: guideURL,
		Message:        fmt.Sprintf("%s is deprecated; use %s", legacyName, restPath),
	}
}

// AddDeprecationInfoToResponse adds deprecation metadata to a response body
// under the "_deprecation" field. A nil resp yields a new map.
func AddDeprecationInfoToResponse(resp map[string]any, legacyName, restPath, guideURL string) map[string]any {
	if resp == nil {
		resp = make(map[string]any, 1)
	}
	resp[DeprecationResponseField] = newDeprecationInfo(legacyName, restPath, guideURL)
	return resp
}

// DecorateResponse enriches resp with the deprecation metadata of the legacy
// call being served on c. Requests not routed through an interceptor wrapper
// are returned unchanged.
func DecorateResponse(c *gin.Context, resp map[string]any) map[string]any {
	v, ok := c.Get(contextKeyDeprecationInfo)
	if !ok {
		return resp
	}
	info := v.(DeprecationInfo)
	return AddDeprecationInfoToResponse(resp, info.LegacyHandler, info.RESTEndpoint, info.MigrationGuide)
}

// ClientID returns the stable rollout identifier for a request: the
// X-Bridge-Client-ID header when well formed, or the client IP.
func ClientID(c *gin.Context) string {
	if id := c.GetHeader(HeaderClientID); validation.ValidateClientID(id) == nil {
		return id
	}
	return c.ClientIP()
}
