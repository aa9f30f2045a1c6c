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
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// pingController mounts GET /ping.
type pingController struct{ name string }

func (p *pingController) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/"+p.name, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"controller": p.name})
	})
}

// halfController mounts one route, then either panics or registers a second
// route at second.
type halfController struct {
	second string
}

func (h *halfController) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/half/a", func(c *gin.Context) { c.String(http.StatusOK, "half") })
	if h.second == "" {
		panic("route table corrupted")
	}
	rg.GET(h.second, func(c *gin.Context) { c.String(http.StatusOK, "second") })
}

type recordingSink struct {
	mu    sync.Mutex
	calls []string
	codes []int
}

func (s *recordingSink) TrackAPICall(endpoint, method string, _ float64, statusCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, method+" "+endpoint)
	s.codes = append(s.codes, statusCode)
}

type panickingSink struct{}

func (panickingSink) TrackAPICall(string, string, float64, int) { panic("sink down") }

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func serviceSpec(name string, v any) ComponentSpec {
	return ComponentSpec{Name: name, Kind: KindService, Load: func(Deps) (any, error) { return v, nil }}
}

func controllerSpec(name string, requires ...string) ComponentSpec {
	return ComponentSpec{
		Name:     name,
		Kind:     KindController,
		Requires: requires,
		Load:     func(Deps) (any, error) { return &pingController{name: name}, nil },
	}
}

// =============================================================================
// Init Tests
// =============================================================================

func TestInit_MountsControllers(t *testing.T) {
	reg := New(Config{}, nil, nil)
	reg.Register(serviceSpec("store", "kv"))
	reg.Register(controllerSpec("settings", "store"))
	reg.Register(controllerSpec("themes"))

	router := gin.New()
	require.NoError(t, reg.Init(router))

	assert.True(t, reg.IsInitialized())
	assert.False(t, reg.HasErrors())
	assert.Equal(t, []string{"settings", "themes"}, reg.Controllers())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/bridge/settings", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"settings"`)

	svc, ok := ServiceAs[string](reg, "store")
	require.True(t, ok)
	assert.Equal(t, "kv", svc)
}

func TestInit_NilHostAbortsWithOneError(t *testing.T) {
	var buf bytes.Buffer
	reg := New(Config{}, nil, testLogger(&buf))
	reg.Register(controllerSpec("settings"))

	err := reg.Init(nil)

	assert.ErrorIs(t, err, ErrNoRouteHost)
	assert.Empty(t, reg.Controllers())
	assert.False(t, reg.IsInitialized())
	assert.Equal(t, 1, strings.Count(buf.String(), `"level":"ERROR"`))
}

func TestInit_Twice(t *testing.T) {
	reg := New(Config{}, nil, nil)
	require.NoError(t, reg.Init(gin.New()))
	assert.ErrorIs(t, reg.Init(gin.New()), ErrAlreadyInitialized)
}

func TestInit_PanickingComponentIsIsolated(t *testing.T) {
	reg := New(Config{Debug: true}, nil, nil)
	reg.Register(serviceSpec("store", "kv"))
	reg.Register(ComponentSpec{
		Name: "broken",
		Kind: KindService,
		Load: func(Deps) (any, error) { panic("syntax error in dependency") },
	})
	reg.Register(controllerSpec("settings", "store"))
	reg.Register(controllerSpec("needs-broken", "broken"))

	require.NoError(t, reg.Init(gin.New()))

	errs := reg.InitializationErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, "broken", errs[0].Component)
	assert.Contains(t, errs[0].Message, "syntax error in dependency")
	assert.True(t, strings.HasSuffix(errs[0].Context.File, "registry_test.go"), errs[0].Context.File)
	assert.NotZero(t, errs[0].Context.Line)
	assert.NotEmpty(t, errs[0].Context.Trace)
	assert.False(t, errs[0].Timestamp.IsZero())

	_, ok := reg.Service("broken")
	assert.False(t, ok)
	assert.Equal(t, []string{"settings"}, reg.Controllers())
}

func TestInit_ErrorsAndNonControllers(t *testing.T) {
	reg := New(Config{}, nil, nil)
	reg.Register(ComponentSpec{
		Name: "failing",
		Kind: KindService,
		Load: func(Deps) (any, error) { return nil, errors.New("missing file") },
	})
	reg.Register(ComponentSpec{
		Name: "not-a-controller",
		Kind: KindController,
		Load: func(Deps) (any, error) { return "just a string", nil },
	})
	reg.Register(ComponentSpec{Name: "no-loader", Kind: KindService})

	require.NoError(t, reg.Init(gin.New()))

	errs := reg.InitializationErrors()
	require.Len(t, errs, 3)
	assert.Equal(t, "missing file", errs[0].Message)
	assert.Equal(t, ErrNotController.Error(), errs[2].Message)
	for _, e := range errs {
		assert.Empty(t, e.Context.Trace, "trace hidden outside debug mode")
	}
	assert.Empty(t, reg.Controllers())
}

func TestInit_LoaderSeesEarlierServices(t *testing.T) {
	reg := New(Config{}, nil, nil)
	reg.Register(serviceSpec("base", 41))
	reg.Register(ComponentSpec{
		Name:     "derived",
		Kind:     KindService,
		Requires: []string{"base"},
		Load: func(deps Deps) (any, error) {
			base, err := DepAs[int](deps, "base")
			if err != nil {
				return nil, err
			}
			return base + 1, nil
		},
	})

	require.NoError(t, reg.Init(gin.New()))

	v, ok := ServiceAs[int](reg, "derived")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestInit_RouteRegistrationPanic(t *testing.T) {
	reg := New(Config{}, nil, nil)
	reg.Register(ComponentSpec{
		Name: "dup",
		Kind: KindController,
		Load: func(Deps) (any, error) { return &pingController{name: "x"}, nil },
	})
	reg.Register(ComponentSpec{
		Name: "dup-again",
		Kind: KindController,
		Load: func(Deps) (any, error) { return &pingController{name: "x"}, nil },
	})

	require.NoError(t, reg.Init(gin.New()))

	assert.Equal(t, []string{"dup"}, reg.Controllers())
	require.Len(t, reg.InitializationErrors(), 1)
	assert.Equal(t, "dup-again", reg.InitializationErrors()[0].Component)
}

func TestInit_PartialRouteRegistrationLeavesNoRoutes(t *testing.T) {
	cases := map[string]*halfController{
		"panic after first route":    {},
		"conflict after first route": {second: "/ok"},
	}
	for name, ctrl := range cases {
		t.Run(name, func(t *testing.T) {
			reg := New(Config{}, nil, nil)
			reg.Register(controllerSpec("ok"))
			reg.Register(ComponentSpec{
				Name: "half",
				Kind: KindController,
				Load: func(Deps) (any, error) { return ctrl, nil },
			})
			engine := gin.New()

			require.NoError(t, reg.Init(engine))

			_, present := reg.Controller("half")
			assert.False(t, present)
			assert.Equal(t, []string{"ok"}, reg.Controllers())
			require.Len(t, reg.InitializationErrors(), 1)
			assert.Equal(t, "half", reg.InitializationErrors()[0].Component)

			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, DefaultNamespace+"/half/a", nil))
			assert.Equal(t, http.StatusNotFound, w.Code)

			w = httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, DefaultNamespace+"/ok", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestInit_RehearsalDoesNotDuplicateRoutes(t *testing.T) {
	reg := New(Config{}, nil, nil)
	reg.Register(ComponentSpec{
		Name: "half",
		Kind: KindController,
		Load: func(Deps) (any, error) { return &halfController{second: "/half/b"}, nil },
	})
	engine := gin.New()

	require.NoError(t, reg.Init(engine))

	assert.Equal(t, []string{"half"}, reg.Controllers())
	assert.Empty(t, reg.InitializationErrors())
	assert.Len(t, engine.Routes(), 2)
}

func TestRegister_Validation(t *testing.T) {
	reg := New(Config{}, nil, nil)
	reg.Register(serviceSpec("a", 1))

	assert.Panics(t, func() { reg.Register(serviceSpec("a", 2)) })
	assert.Panics(t, func() { reg.Register(ComponentSpec{Kind: KindService}) })
	assert.Panics(t, func() { reg.Register(ComponentSpec{Name: "b", Kind: "widget"}) })

	require.NoError(t, reg.Init(gin.New()))
	assert.Panics(t, func() { reg.Register(serviceSpec("c", 3)) })
}

func TestComponents(t *testing.T) {
	reg := New(Config{}, nil, nil)
	reg.Register(serviceSpec("store", "kv"))
	reg.Register(controllerSpec("orphan", "absent"))
	require.NoError(t, reg.Init(gin.New()))

	assert.Equal(t, []ComponentStatus{
		{Name: "store", Kind: KindService, Loaded: true},
		{Name: "orphan", Kind: KindController, Skipped: true},
	}, reg.Components())
}

// =============================================================================
// TimingMiddleware Tests
// =============================================================================

func newTimedRouter(t *testing.T, reg *Registry) *gin.Engine {
	t.Helper()
	router := gin.New()
	router.Use(reg.TimingMiddleware())
	router.GET("/outside", func(c *gin.Context) { c.Status(http.StatusOK) })
	reg.Register(ComponentSpec{
		Name: "items",
		Kind: KindController,
		Load: func(Deps) (any, error) { return itemsController{}, nil },
	})
	require.NoError(t, reg.Init(router))
	return router
}

type itemsController struct{}

func (itemsController) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/items/:id", func(c *gin.Context) {
		if c.Param("id") == "missing" {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusOK)
	})
}

func TestTimingMiddleware_TracksNamespaceOnly(t *testing.T) {
	sink := &recordingSink{}
	reg := New(Config{}, sink, nil)
	router := newTimedRouter(t, reg)

	for _, path := range []string{"/v1/bridge/items/1", "/v1/bridge/items/missing", "/outside", "/v1/bridgeish"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, []string{
		"GET /v1/bridge/items/:id",
		"GET /v1/bridge/items/:id",
	}, sink.calls)
	assert.Equal(t, []int{http.StatusOK, http.StatusNotFound}, sink.codes)
}

func TestTimingMiddleware_UnmatchedRoutesShareOneLabel(t *testing.T) {
	sink := &recordingSink{}
	reg := New(Config{}, sink, nil)
	router := newTimedRouter(t, reg)

	for _, path := range []string{"/v1/bridge/nope", "/v1/bridge/wp-admin/setup.php", "/v1/bridge/.env"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Len(t, sink.calls, 3)
	for i, call := range sink.calls {
		assert.Equal(t, "GET "+UnmatchedRoute, call)
		assert.Equal(t, http.StatusNotFound, sink.codes[i])
	}
}

func TestTimingMiddleware_SinkPanicDoesNotAffectResponse(t *testing.T) {
	var buf bytes.Buffer
	reg := New(Config{Debug: true}, panickingSink{}, testLogger(&buf))
	router := newTimedRouter(t, reg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/bridge/items/1", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, buf.String(), "telemetry sink failed")
}

func TestTimingMiddleware_SinkPanicSilentOutsideDebug(t *testing.T) {
	var buf bytes.Buffer
	reg := New(Config{}, panickingSink{}, testLogger(&buf))
	router := newTimedRouter(t, reg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/bridge/items/1", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, buf.String(), "telemetry sink failed")
}
