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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianBridge/pkg/logging"
	"github.com/AleutianAI/AleutianBridge/services/bridge/config"
	"github.com/AleutianAI/AleutianBridge/services/bridge/handlers"
	"github.com/AleutianAI/AleutianBridge/services/bridge/kvstore"
	"github.com/AleutianAI/AleutianBridge/services/bridge/legacy"
	"github.com/AleutianAI/AleutianBridge/services/bridge/migration"
	"github.com/AleutianAI/AleutianBridge/services/bridge/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Helpers
// =============================================================================

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(healthy.Close)

	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "memory"
	cfg.Compat.ReachabilityURL = healthy.URL
	cfg.Admin.Token = "t0ken"
	return &cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(cfg, kvstore.NewMemory(), telemetry.NopSink{}, logging.Discard())
	require.NoError(t, err)
	return a
}

func serve(a *app, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func adminReq(method, path string) *http.Request {
	req := httptest.NewRequest(method, "/v1/bridge/admin"+path, nil)
	req.Header.Set("Authorization", "Bearer t0ken")
	return req
}

func legacyReq(action string, form url.Values) *http.Request {
	if form == nil {
		form = url.Values{}
	}
	form.Set("action", action)
	req := httptest.NewRequest(http.MethodPost, "/legacy/ajax", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// =============================================================================
// Wiring Tests
// =============================================================================

func TestNewApp_AllComponentsLoad(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	assert.False(t, a.registry.HasErrors())
	assert.ElementsMatch(t, []string{ctrlSettings, ctrlSystem, ctrlAdmin}, a.registry.Controllers())
	for _, c := range a.registry.Components() {
		assert.True(t, c.Loaded, c.Name)
	}

	w := serve(a, httptest.NewRequest(http.MethodGet, "/v1/bridge/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewApp_LegacyCallsAreIntercepted(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	w := serve(a, legacyReq("save_settings", url.Values{"settings": {`{"site_title":"Legacy"}`}}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "true", w.Header().Get(legacy.HeaderDeprecated))
	assert.Equal(t, "/v1/bridge/settings", w.Header().Get(legacy.HeaderRESTEndpoint))
	assert.Equal(t, "ajax", w.Header().Get(legacy.HeaderPreferredTransport))

	// The REST route sees the same data.
	w = serve(a, httptest.NewRequest(http.MethodGet, "/v1/bridge/settings", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"site_title":"Legacy"`)

	w = serve(a, adminReq(http.MethodGet, "/legacy/stats"))
	require.Equal(t, http.StatusOK, w.Code)
	var stats legacy.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, uint64(1), stats.TotalCalls)
	assert.Equal(t, "save_settings", stats.MostUsed)
	assert.Equal(t, len(legacy.DefaultMapping()), stats.WrappedCount)
}

func TestNewApp_InterceptionDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Legacy.Intercept = false
	a := newTestApp(t, cfg)

	w := serve(a, legacyReq("get_settings", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(legacy.HeaderDeprecated))
}

func TestNewApp_MigrationThroughAdminAPI(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	w := serve(a, adminReq(http.MethodPost, "/migration/start"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(a, adminReq(http.MethodGet, "/migration"))
	require.Equal(t, http.StatusOK, w.Code)
	var p migration.Progress
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, migration.PhaseInProgress, p.Phase)
	assert.Equal(t, 25, p.Progress)
	require.NotNil(t, p.Snapshot)

	w = serve(a, adminReq(http.MethodGet, "/diagnostics"))
	require.Equal(t, http.StatusOK, w.Code)
	var d handlers.DiagnosticsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.True(t, d.Initialized)
	assert.Empty(t, d.Errors)
}

func TestNewApp_AdminRequiresConfiguredToken(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	w := serve(a, httptest.NewRequest(http.MethodPost, "/v1/bridge/admin/migration/start", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthProvider(t *testing.T) {
	info, err := authProvider(config.AdminConfig{}).Validate(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, "local-operator", info.UserID)

	_, err = authProvider(config.AdminConfig{Token: "x"}).Validate(t.Context(), "")
	assert.Error(t, err)
}

func TestOpenStore_Memory(t *testing.T) {
	kv, closeFn, err := openStore(config.StorageConfig{Backend: "memory"}, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, kv)
	assert.NoError(t, closeFn())
}

func TestOpenStore_Badger(t *testing.T) {
	kv, closeFn, err := openStore(config.StorageConfig{Backend: "badger", DataDir: t.TempDir()}, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, kv.Set(t.Context(), "k", []byte("v")))
	assert.NoError(t, closeFn())
}
