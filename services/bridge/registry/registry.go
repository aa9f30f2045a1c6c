// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry loads the bridge's optional components and mounts their
// routes under the REST namespace.
//
// # Description
//
// Initialization happens in two phases. Register records component specs;
// Init loads them (services first, then controllers), recording failures as
// InitializationError values instead of propagating them, and hands each
// loaded controller the namespace group so it can register its routes.
//
// A component that fails to load is simply absent: nothing else is affected
// and the registry remains usable. Controllers whose required services are
// missing are skipped without an additional error entry.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Register after Init is rejected.
package registry

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/bridge/telemetry"
	"github.com/gin-gonic/gin"
)

// DefaultNamespace is the REST namespace for the bridge API.
const DefaultNamespace = "/v1/bridge"

// RouteHost provides the router group the namespace is mounted on.
// *gin.Engine and *gin.RouterGroup both satisfy it.
type RouteHost interface {
	Group(relativePath string, handlers ...gin.HandlerFunc) *gin.RouterGroup
}

// Config configures a Registry.
type Config struct {
	// Namespace is the REST prefix. Defaults to DefaultNamespace.
	Namespace string

	// Debug enables debug logging of sink failures and stack traces in
	// initialization errors.
	Debug bool
}

// ComponentStatus summarizes one registered component for diagnostics.
type ComponentStatus struct {
	Name    string `json:"name"`
	Kind    Kind   `json:"kind"`
	Loaded  bool   `json:"loaded"`
	Skipped bool   `json:"skipped,omitempty"`
}

// Registry is the bridge's capability registry.
type Registry struct {
	namespace string
	debug     bool
	sink      telemetry.Sink
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.RWMutex
	specs        []ComponentSpec
	capabilities map[string]*capability
	controllers  []string
	skipped      map[string]bool
	errs         []InitializationError
	initialized  bool
}

// New creates a registry. A nil sink discards metrics; a nil logger uses slog.Default.
func New(cfg Config, sink telemetry.Sink, logger *slog.Logger) *Registry {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		namespace:    cfg.Namespace,
		debug:        cfg.Debug,
		sink:         sink,
		logger:       logger.With("component", "registry"),
		now:          time.Now,
		capabilities: make(map[string]*capability),
		skipped:      make(map[string]bool),
	}
}

// Register adds a component spec. It panics on programmer errors (empty or
// duplicate names, unknown kinds, registering after Init).
func (r *Registry) Register(spec ComponentSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		panic(fmt.Sprintf("registry: Register(%q) after Init", spec.Name))
	}
	if spec.Name == "" {
		panic("registry: component name is required")
	}
	if spec.Kind != KindService && spec.Kind != KindController {
		panic(fmt.Sprintf("registry: component %q has unknown kind %q", spec.Name, spec.Kind))
	}
	for _, existing := range r.specs {
		if existing.Name == spec.Name {
			panic(fmt.Sprintf("registry: duplicate component %q", spec.Name))
		}
	}
	r.specs = append(r.specs, spec)
}

// Init loads all registered components and mounts controller routes.
//
// # Description
//
// Services load in registration order, then controllers. Each load is
// isolated: an error or panic becomes one InitializationError and the
// component is left out. When host is nil, Init logs a single error and
// returns ErrNoRouteHost without loading anything.
//
// # Inputs
//
//   - host: Router to mount the namespace group on.
//
// # Outputs
//
//   - error: ErrNoRouteHost or ErrAlreadyInitialized. Component failures
//     are never returned.
func (r *Registry) Init(host RouteHost) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return ErrAlreadyInitialized
	}
	if host == nil {
		r.logger.Error("cannot register bridge routes: no route host",
			slog.String("namespace", r.namespace))
		return ErrNoRouteHost
	}

	for _, kind := range []Kind{KindService, KindController} {
		for _, spec := range r.specs {
			if spec.Kind != kind {
				continue
			}
			if missing := r.missingLocked(spec.Requires); len(missing) > 0 {
				r.skipped[spec.Name] = true
				r.logger.Warn("skipping component with missing requirements",
					slog.String("name", spec.Name),
					slog.Any("missing", missing))
				continue
			}
			r.loadLocked(spec)
		}
	}

	group := host.Group(r.namespace)
	for _, spec := range r.specs {
		c, ok := r.capabilities[spec.Name]
		if !ok || !c.loaded() || spec.Kind != KindController {
			continue
		}
		if err := r.mountLocked(spec.Name, c.component.(Controller), host, group); err != nil {
			c.component = nil
			c.err = err
			r.errs = append(r.errs, *err)
			continue
		}
		r.controllers = append(r.controllers, spec.Name)
	}

	r.initialized = true
	r.logger.Info("bridge registry initialized",
		slog.String("namespace", r.namespace),
		slog.Int("controllers", len(r.controllers)),
		slog.Int("errors", len(r.errs)))
	return nil
}

func (r *Registry) loadLocked(spec ComponentSpec) {
	component, initErr := safeLoad(spec, lockedDeps{r}, r.now)
	c := &capability{spec: spec, component: component, err: initErr}
	r.capabilities[spec.Name] = c
	if initErr != nil {
		r.errs = append(r.errs, *initErr)
		r.logger.Error("component failed to load",
			slog.String("name", spec.Name),
			slog.String("kind", string(spec.Kind)),
			slog.String("error", initErr.Message),
			slog.String("file", initErr.Context.File),
			slog.Int("line", initErr.Context.Line))
	}
}

// routeLister is implemented by *gin.Engine.
type routeLister interface {
	Routes() gin.RoutesInfo
}

// mountLocked registers a controller's routes, treating a panic like a load
// failure.
//
// # Description
//
// gin cannot remove a route once added, so RegisterRoutes first runs against
// a scratch engine that holds a copy of the host's current routes. Only when
// that rehearsal completes is it run again on the real group. A controller
// that panics partway, or whose later route conflicts with an existing one,
// therefore leaves no routes behind.
func (r *Registry) mountLocked(name string, ctrl Controller, host RouteHost, group *gin.RouterGroup) *InitializationError {
	scratch := gin.New()
	if lister, ok := host.(routeLister); ok {
		for _, route := range lister.Routes() {
			scratch.Handle(route.Method, route.Path, noRoute)
		}
	}
	if initErr := r.guardRoutes(name, func() { ctrl.RegisterRoutes(scratch.Group(group.BasePath())) }); initErr != nil {
		return initErr
	}
	return r.guardRoutes(name, func() { ctrl.RegisterRoutes(group) })
}

func noRoute(*gin.Context) {}

func (r *Registry) guardRoutes(name string, register func()) (initErr *InitializationError) {
	defer func() {
		if rec := recover(); rec != nil {
			file, line := panicSite()
			initErr = &InitializationError{
				Component: name,
				Message:   fmt.Sprintf("panic during route registration: %v", rec),
				Context:   ErrorContext{File: file, Line: line},
				Timestamp: r.now(),
			}
			r.logger.Error("controller failed to register routes",
				slog.String("name", name),
				slog.String("error", initErr.Message))
		}
	}()
	register()
	return nil
}

func (r *Registry) missingLocked(requires []string) []string {
	var missing []string
	for _, name := range requires {
		c, ok := r.capabilities[name]
		if !ok || !c.loaded() || c.spec.Kind != KindService {
			missing = append(missing, name)
		}
	}
	return missing
}

// lockedDeps exposes services to loaders while Init holds the lock.
type lockedDeps struct{ r *Registry }

func (d lockedDeps) Service(name string) (any, bool) {
	c, ok := d.r.capabilities[name]
	if !ok || !c.loaded() || c.spec.Kind != KindService {
		return nil, false
	}
	return c.component, true
}

// Service returns a loaded service by name.
func (r *Registry) Service(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lockedDeps{r}.Service(name)
}

// Controller returns a mounted controller by name.
func (r *Registry) Controller(name string) (Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !slices.Contains(r.controllers, name) {
		return nil, false
	}
	return r.capabilities[name].component.(Controller), true
}

// Controllers returns the names of mounted controllers in registration order.
func (r *Registry) Controllers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.controllers)
}

// Components summarizes every registered component.
func (r *Registry) Components() []ComponentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ComponentStatus, 0, len(r.specs))
	for _, spec := range r.specs {
		st := ComponentStatus{Name: spec.Name, Kind: spec.Kind, Skipped: r.skipped[spec.Name]}
		if c, ok := r.capabilities[spec.Name]; ok {
			st.Loaded = c.loaded()
		}
		out = append(out, st)
	}
	return out
}

// InitializationErrors returns a copy of the recorded load failures. Stack
// traces are stripped unless the registry is in debug mode.
func (r *Registry) InitializationErrors() []InitializationError {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]InitializationError, len(r.errs))
	for i, e := range r.errs {
		if r.debug {
			out[i] = e
		} else {
			out[i] = e.WithoutTrace()
		}
	}
	return out
}

// HasErrors reports whether any component failed to load.
func (r *Registry) HasErrors() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.errs) > 0
}

// IsInitialized reports whether Init completed.
func (r *Registry) IsInitialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Namespace returns the REST prefix.
func (r *Registry) Namespace() string {
	return r.namespace
}

// ServiceAs returns the named service asserted to T.
func ServiceAs[T any](r *Registry, name string) (T, bool) {
	var zero T
	v, ok := r.Service(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// DepAs is ServiceAs for use inside a loader.
func DepAs[T any](deps Deps, name string) (T, error) {
	var zero T
	v, ok := deps.Service(name)
	if !ok {
		return zero, fmt.Errorf("service %q not loaded", name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("service %q has type %T", name, v)
	}
	return t, nil
}
