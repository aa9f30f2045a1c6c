// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/AleutianBridge/services/bridge/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Telemetry Tests
// =============================================================================

func TestInitMetrics_ExposesRuntimeAndRequestMetrics(t *testing.T) {
	m, err := initMetrics("bridge-test", false)
	require.NoError(t, err)
	defer m.shutdown(context.Background())

	m.sink.TrackAPICall("/v1/bridge/settings", http.MethodGet, 12.5, http.StatusOK)

	srv := httptest.NewServer(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, "go_goroutines")
	assert.Contains(t, out, "aleutian_bridge_requests_total")
	assert.Contains(t, out, "bridge_api_requests")
}

func TestInitMetrics_DebugAddsStdoutReader(t *testing.T) {
	m, err := initMetrics("bridge-test", true)
	require.NoError(t, err)
	m.shutdown(context.Background())
}

func TestInitTracer_NoExporterIsNoop(t *testing.T) {
	shutdown, err := initTracer(context.Background(), config.TelemetryConfig{ServiceName: "bridge-test"}, false)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown(context.Background())
}
