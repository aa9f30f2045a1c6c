// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package legacyapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianBridge/pkg/logging"
	"github.com/AleutianAI/AleutianBridge/services/bridge/flags"
	"github.com/AleutianAI/AleutianBridge/services/bridge/kvstore"
	"github.com/AleutianAI/AleutianBridge/services/bridge/legacy"
	"github.com/AleutianAI/AleutianBridge/services/bridge/settings"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success     bool                    `json:"success"`
	Data        json.RawMessage         `json:"data"`
	Deprecation *legacy.DeprecationInfo `json:"_deprecation"`
}

type fixture struct {
	router      *gin.Engine
	interceptor *legacy.Interceptor
	settings    *settings.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := kvstore.NewMemory()
	svc := settings.NewService(kv)
	api := New(svc, settings.NewBackupService(kv, svc), settings.NewThemeService(svc, settings.DefaultThemes()), logging.Discard())

	d := legacy.NewDispatcher()
	mapping := legacy.DefaultMapping()
	require.Empty(t, api.RegisterHooks(d, mapping))

	router := gin.New()
	d.RegisterRoutes(router, "/legacy/ajax")
	ic := legacy.NewInterceptor(legacy.Config{Namespace: "/v1/bridge"}, d, mapping, api.Table(),
		flags.NewKVStore(kv), legacy.NewUsageTracker(kv), logging.Discard())
	return &fixture{router: router, interceptor: ic, settings: svc}
}

func (f *fixture) call(t *testing.T, action string, form url.Values) (int, envelope) {
	t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("action", action)
	req := httptest.NewRequest(http.MethodPost, "/legacy/ajax", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

// =============================================================================
// Table Tests
// =============================================================================

func TestTable_CoversDefaultMapping(t *testing.T) {
	api := New(nil, nil, nil, slog.Default())
	table := api.Table()

	for _, name := range legacy.DefaultMapping().Names() {
		assert.Contains(t, table, legacy.DeriveMethodName(name), name)
	}
	assert.Len(t, table, len(legacy.DefaultMapping()))
}

// =============================================================================
// Legacy Call Tests
// =============================================================================

func TestSettingsCalls(t *testing.T) {
	f := newFixture(t)

	code, env := f.call(t, "save_settings", url.Values{"settings": {`{"theme":"dark"}`}})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Nil(t, env.Deprecation, "unwrapped call has no deprecation body")

	code, env = f.call(t, "get_settings", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"theme":"dark"`)

	code, env = f.call(t, "export_settings", nil)
	require.Equal(t, http.StatusOK, code)
	exported := env.Data

	_, _ = f.call(t, "reset_settings", nil)
	current, err := f.settings.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "default", current["theme"])

	code, _ = f.call(t, "import_settings", url.Values{"data": {string(exported)}})
	require.Equal(t, http.StatusOK, code)
	current, err = f.settings.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dark", current["theme"])
}

func TestSaveSettings_RejectsBadPayload(t *testing.T) {
	f := newFixture(t)

	code, env := f.call(t, "save_settings", url.Values{"settings": {"[1,2]"}})

	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
}

func TestBackupCalls(t *testing.T) {
	f := newFixture(t)

	code, env := f.call(t, "create_backup", url.Values{"label": {"nightly"}})
	require.Equal(t, http.StatusOK, code)
	var backup settings.Backup
	require.NoError(t, json.Unmarshal(env.Data, &backup))
	assert.Equal(t, "nightly", backup.Label)

	_, env = f.call(t, "list_backups", nil)
	var list []settings.Backup
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	code, _ = f.call(t, "restore_backup", url.Values{"id": {backup.ID}})
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.call(t, "delete_backup", url.Values{"id": {backup.ID}})
	assert.Equal(t, http.StatusOK, code)

	code, env = f.call(t, "delete_backup", url.Values{"id": {backup.ID}})
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
}

func TestThemeCalls(t *testing.T) {
	f := newFixture(t)

	code, _ := f.call(t, "preview_theme", url.Values{"theme": {"high-contrast"}})
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.call(t, "apply_theme", url.Values{"theme": {"nope"}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.call(t, "apply_theme", url.Values{"theme": {"dark"}})
	assert.Equal(t, http.StatusOK, code)
}

func TestWrappedCallsCarryDeprecationBody(t *testing.T) {
	f := newFixture(t)
	require.Empty(t, f.interceptor.Wrap())

	code, env := f.call(t, "list_backups", nil)

	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Deprecation)
	assert.Equal(t, "list_backups", env.Deprecation.LegacyHandler)
	assert.Equal(t, "/v1/bridge/backups", env.Deprecation.RESTEndpoint)
}
