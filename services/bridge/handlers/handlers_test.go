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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianBridge/pkg/extensions"
	"github.com/AleutianAI/AleutianBridge/pkg/logging"
	"github.com/AleutianAI/AleutianBridge/services/bridge/compat"
	"github.com/AleutianAI/AleutianBridge/services/bridge/flags"
	"github.com/AleutianAI/AleutianBridge/services/bridge/kvstore"
	"github.com/AleutianAI/AleutianBridge/services/bridge/legacy"
	"github.com/AleutianAI/AleutianBridge/services/bridge/migration"
	"github.com/AleutianAI/AleutianBridge/services/bridge/registry"
	"github.com/AleutianAI/AleutianBridge/services/bridge/settings"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testNamespace = "/v1/bridge"
	testToken     = "ops-token"
)

type stubValidator struct{ compatible bool }

func (v *stubValidator) Validate(context.Context) *compat.Report {
	r := &compat.Report{
		Compatible: v.compatible,
		Checks:     map[string]compat.CheckResult{},
		Warnings:   []string{},
		Errors:     []string{},
	}
	if !v.compatible {
		r.Checks[compat.CheckHostVersion] = compat.CheckResult{Message: "host 0.9.0 is older than 1.0.0"}
		r.Errors = append(r.Errors, "host 0.9.0 is older than 1.0.0")
	}
	return r
}

type fakeLegacy struct {
	stats  legacy.Stats
	resets int
	err    error
}

func (f *fakeLegacy) HandlerStats(context.Context) (legacy.Stats, error) { return f.stats, f.err }
func (f *fakeLegacy) ResetUsage(context.Context) error {
	f.resets++
	return f.err
}

type fixture struct {
	router    *gin.Engine
	kv        *kvstore.Memory
	flags     *flags.KVStore
	validator *stubValidator
	legacy    *fakeLegacy
	audit     *extensions.MemoryAuditLogger
	registry  *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := kvstore.NewMemory()
	svc := settings.NewService(kv)
	backups := settings.NewBackupService(kv, svc)
	themes := settings.NewThemeService(svc, settings.DefaultThemes())
	flagStore := flags.NewKVStore(kv)
	validator := &stubValidator{compatible: true}

	orch, err := migration.New(migration.Config{Version: "1.0.0"}, migration.Deps{
		Validator: validator,
		Snapshots: migration.NewKVSnapshotStore(kv),
		Status:    migration.NewStatusStore(kv),
		Flags:     flagStore,
		Settings:  svc,
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)

	f := &fixture{
		router:    gin.New(),
		kv:        kv,
		flags:     flagStore,
		validator: validator,
		legacy:    &fakeLegacy{stats: legacy.Stats{TotalCalls: 7, WrappedCount: 11, MostUsed: "save_settings"}},
		audit:     extensions.NewMemoryAuditLogger(0, logging.Discard()),
	}

	reg := registry.New(registry.Config{Namespace: testNamespace}, nil, logging.Discard())
	reg.Register(registry.ComponentSpec{
		Name: "settings_controller", Kind: registry.KindController,
		Load: func(registry.Deps) (any, error) { return NewSettingsController(svc, backups, themes), nil },
	})
	reg.Register(registry.ComponentSpec{
		Name: "system_controller", Kind: registry.KindController,
		Load: func(registry.Deps) (any, error) { return NewSystemController(flagStore, "1.0.0"), nil },
	})
	reg.Register(registry.ComponentSpec{
		Name: "admin_controller", Kind: registry.KindController,
		Load: func(registry.Deps) (any, error) {
			return NewAdminController(AdminDeps{
				Registry:  reg,
				Validator: validator,
				Migrator:  orch,
				Legacy:    f.legacy,
				Auth:      extensions.NewTokenAuthProvider(testToken, "ops"),
				Audit:     f.audit,
				Logger:    logging.Discard(),
			}), nil
		},
	})
	require.NoError(t, reg.Init(f.router))
	require.False(t, reg.HasErrors())
	f.registry = reg
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, testNamespace+path, r)
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) admin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, method, "/admin"+path, body, "Authorization", "Bearer "+testToken)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// =============================================================================
// Settings Tests
// =============================================================================

func TestSettings_GetSaveReset(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	defaults := decode[map[string]any](t, w)

	w = f.do(t, http.MethodPost, "/settings", map[string]any{"site_title": "Bridge"})
	require.Equal(t, http.StatusOK, w.Code)
	saved := decode[map[string]any](t, w)
	assert.Equal(t, "Bridge", saved["site_title"])
	for k := range defaults {
		assert.Contains(t, saved, k, "save merges into existing settings")
	}

	w = f.do(t, http.MethodPost, "/settings/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, decode[map[string]any](t, w), "site_title")
}

func TestSettings_SaveRejectsNonObject(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{"[1,2]", "not json", "null"} {
		w := f.do(t, http.MethodPost, "/settings", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Code)
	}
}

func TestSettings_ExportImport(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/settings", map[string]any{"color": "teal"}).Code)

	w := f.do(t, http.MethodGet, "/settings/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	exported := w.Body.String()
	assert.Contains(t, w.Header().Get("Content-Disposition"), "bridge-settings.json")

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/settings/reset", nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/settings/import", exported).Code)

	w = f.do(t, http.MethodGet, "/settings", nil)
	assert.Equal(t, "teal", decode[map[string]any](t, w)["color"])

	w = f.do(t, http.MethodPost, "/settings/import", `"just a string"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_SETTINGS", decode[ErrorResponse](t, w).Code)
}

func TestBackups_Lifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/backups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"backups":[]}`, w.Body.String())

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/settings", map[string]any{"mode": "a"}).Code)
	w = f.do(t, http.MethodPost, "/backups", CreateBackupRequest{Label: "before"})
	require.Equal(t, http.StatusCreated, w.Code)
	backup := decode[settings.Backup](t, w)
	assert.Equal(t, "before", backup.Label)

	w = f.do(t, http.MethodPost, "/backups", nil)
	require.Equal(t, http.StatusCreated, w.Code, "body is optional")

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/settings", map[string]any{"mode": "b"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/backups/"+backup.ID+"/restore", nil).Code)
	assert.Equal(t, "a", decode[map[string]any](t, f.do(t, http.MethodGet, "/settings", nil))["mode"])

	list := decode[map[string][]settings.Backup](t, f.do(t, http.MethodGet, "/backups", nil))
	assert.Len(t, list["backups"], 2)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/backups/"+backup.ID, nil).Code)
	w = f.do(t, http.MethodDelete, "/backups/"+backup.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "BACKUP_NOT_FOUND", decode[ErrorResponse](t, w).Code)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/backups/nope/restore", nil).Code)
}

func TestThemes(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/themes/preview?theme=dark", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dark", decode[settings.Theme](t, w).Name)

	w = f.do(t, http.MethodGet, "/themes/preview?theme=neon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNKNOWN_THEME", decode[ErrorResponse](t, w).Code)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/themes/apply", map[string]any{}).Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/themes/apply", ApplyThemeRequest{Theme: "dark"}).Code)
	assert.Equal(t, "dark", decode[map[string]any](t, f.do(t, http.MethodGet, "/settings", nil))["theme"])
}

// =============================================================================
// System Tests
// =============================================================================

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	h := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "1.0.0", h.Version)
}

func TestRolloutAssignment(t *testing.T) {
	f := newFixture(t)
	client := []string{legacy.HeaderClientID, "client-42"}

	w := f.do(t, http.MethodGet, "/rollout/assignment", nil, client...)
	require.Equal(t, http.StatusOK, w.Code)
	a := decode[AssignmentResponse](t, w)
	assert.Equal(t, "client-42", a.ClientID)
	assert.Equal(t, flags.Bucket("client-42"), a.Bucket)
	assert.Equal(t, flags.TransportAJAX, a.Transport)

	require.NoError(t, f.flags.Update(context.Background(), flags.Patch{
		RESTAPIEnabled:           flags.Bool(true),
		DualModeEnabled:          flags.Bool(true),
		GradualRolloutPercentage: flags.Int(100),
	}))
	a = decode[AssignmentResponse](t, f.do(t, http.MethodGet, "/rollout/assignment", nil, client...))
	assert.Equal(t, 100, a.Percentage)
	assert.Equal(t, flags.TransportREST, a.Transport)
}

// =============================================================================
// Admin Tests
// =============================================================================

func TestAdmin_RequiresToken(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/admin/diagnostics", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/admin/migration/start", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	p := decode[migration.Progress](t, f.admin(t, http.MethodGet, "/migration", nil))
	assert.Equal(t, migration.PhaseNotStarted, p.Phase, "rejected calls change nothing")
}

func TestAdmin_Diagnostics(t *testing.T) {
	f := newFixture(t)

	w := f.admin(t, http.MethodGet, "/diagnostics", nil)

	require.Equal(t, http.StatusOK, w.Code)
	d := decode[DiagnosticsResponse](t, w)
	assert.True(t, d.Initialized)
	assert.Equal(t, testNamespace, d.Namespace)
	assert.False(t, d.HasErrors)
	assert.Empty(t, d.Errors)
	assert.Len(t, d.Components, 3)
}

func TestAdmin_Compatibility(t *testing.T) {
	f := newFixture(t)

	w := f.admin(t, http.MethodPost, "/compatibility", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[compat.Report](t, w).Compatible)

	f.validator.compatible = false
	w = f.admin(t, http.MethodPost, "/compatibility", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[compat.Report](t, w).Compatible)
}

func TestAdmin_StartBlockedByCompatibility(t *testing.T) {
	f := newFixture(t)
	f.validator.compatible = false

	w := f.admin(t, http.MethodPost, "/migration/start", nil)

	require.Equal(t, http.StatusPreconditionFailed, w.Code)
	var body struct {
		Code    string           `json:"code"`
		Details migration.Result `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INCOMPATIBLE", body.Code)
	require.NotNil(t, body.Details.Report)
	assert.False(t, body.Details.Report.Compatible)
	assert.False(t, body.Details.Success)
}

func TestAdmin_MigrationLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.admin(t, http.MethodPost, "/migration/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[migration.Result](t, w)
	assert.Equal(t, migration.PhaseInProgress, res.Phase)
	require.NotNil(t, res.Flags)
	assert.Equal(t, 25, res.Flags.GradualRolloutPercentage)

	w = f.admin(t, http.MethodPost, "/migration/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode[ErrorResponse](t, w).Code)

	w = f.admin(t, http.MethodPost, "/migration/advance", AdvanceRequest{Target: 60})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.admin(t, http.MethodPost, "/migration/advance", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, migration.PhaseRollout50, decode[migration.Result](t, w).Phase)

	w = f.admin(t, http.MethodPost, "/migration/advance", AdvanceRequest{Target: 100})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, migration.PhaseRollout100, decode[migration.Result](t, w).Phase)

	w = f.admin(t, http.MethodPost, "/migration/complete", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, migration.PhaseCompleted, decode[migration.Result](t, w).Phase)

	w = f.admin(t, http.MethodPost, "/migration/rollback", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, migration.PhaseRolledBack, decode[migration.Result](t, w).Phase)

	p := decode[migration.Progress](t, f.admin(t, http.MethodGet, "/migration", nil))
	assert.Equal(t, migration.PhaseRolledBack, p.Phase)
	assert.True(t, p.Flags.ForceAJAX)

	events := decode[map[string][]extensions.AuditEvent](t, f.admin(t, http.MethodGet, "/audit?limit=100", nil))["events"]
	require.NotEmpty(t, events)
	assert.Equal(t, "migration.rollback", events[0].EventType)
	assert.Equal(t, "ops", events[0].UserID)
	assert.Equal(t, extensions.OutcomeSuccess, events[0].Outcome)

	starts := decode[map[string][]extensions.AuditEvent](t, f.admin(t, http.MethodGet, "/audit?event_type=migration.start", nil))["events"]
	require.Len(t, starts, 2)
	assert.Equal(t, extensions.OutcomeFailure, starts[0].Outcome)
	assert.Equal(t, extensions.OutcomeSuccess, starts[1].Outcome)
}

func TestAdmin_RollbackWithoutSnapshot(t *testing.T) {
	f := newFixture(t)

	w := f.admin(t, http.MethodPost, "/migration/rollback", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NO_SNAPSHOT", decode[ErrorResponse](t, w).Code)
}

func TestAdmin_AuditRejectsBadLimit(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.admin(t, http.MethodGet, "/audit?limit=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.admin(t, http.MethodGet, "/audit?limit=ten", nil).Code)
}

func TestAdmin_LegacyStatsAndReset(t *testing.T) {
	f := newFixture(t)

	w := f.admin(t, http.MethodGet, "/legacy/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[legacy.Stats](t, w)
	assert.Equal(t, uint64(7), stats.TotalCalls)
	assert.Equal(t, "save_settings", stats.MostUsed)

	require.Equal(t, http.StatusOK, f.admin(t, http.MethodPost, "/legacy/usage/reset", nil).Code)
	assert.Equal(t, 1, f.legacy.resets)

	f.legacy.err = errors.New("kv down")
	assert.Equal(t, http.StatusInternalServerError, f.admin(t, http.MethodGet, "/legacy/stats", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, f.admin(t, http.MethodPost, "/legacy/usage/reset", nil).Code)
}

// =============================================================================
// Error Mapping Tests
// =============================================================================

type failingMigrator struct{ err error }

func (m failingMigrator) StartMigration(context.Context) (migration.Result, error) {
	return migration.Result{Phase: migration.PhaseNotStarted}, m.err
}
func (m failingMigrator) AdvanceRollout(context.Context, int) (migration.Result, error) {
	return migration.Result{}, m.err
}
func (m failingMigrator) CompleteMigration(context.Context) (migration.Result, error) {
	return migration.Result{}, m.err
}
func (m failingMigrator) RollbackMigration(context.Context) (migration.Result, error) {
	return migration.Result{}, m.err
}
func (m failingMigrator) Progress(context.Context) (migration.Progress, error) {
	return migration.Progress{}, m.err
}

func TestAdmin_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{migration.ErrIncompatible, http.StatusPreconditionFailed, "INCOMPATIBLE"},
		{migration.ErrBackupFailed, http.StatusInternalServerError, "BACKUP_FAILED"},
		{migration.ErrRestoreFailed, http.StatusInternalServerError, "RESTORE_FAILED"},
		{migration.ErrNoSnapshot, http.StatusConflict, "NO_SNAPSHOT"},
		{migration.ErrConcurrentTransition, http.StatusConflict, "CONCURRENT_TRANSITION"},
		{migration.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
		{errors.New("disk full"), http.StatusInternalServerError, "MIGRATION_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			ctrl := NewAdminController(AdminDeps{Migrator: failingMigrator{err: tt.err}, Logger: logging.Discard()})
			router := gin.New()
			ctrl.RegisterRoutes(router.Group(testNamespace))

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, testNamespace+"/admin/migration/start", nil)
			req.Header.Set("X-Request-ID", "req-1")
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
			assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))
		})
	}
}

// =============================================================================
// Migration Watch Tests
// =============================================================================

func watchURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + testNamespace + "/admin/migration/watch"
}

func TestMigrationWatch_StreamsProgressChanges(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial(watchURL(srv),
		http.Header{"Authorization": {"Bearer " + testToken}})
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(10*time.Second)))

	var p migration.Progress
	require.NoError(t, ws.ReadJSON(&p))
	assert.Equal(t, migration.PhaseNotStarted, p.Phase)

	w := f.admin(t, http.MethodPost, "/migration/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NoError(t, ws.ReadJSON(&p))
	assert.Equal(t, migration.PhaseInProgress, p.Phase)
	assert.Equal(t, 25, p.Progress)
}

func TestMigrationWatch_RequiresToken(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(watchURL(srv), nil)

	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
