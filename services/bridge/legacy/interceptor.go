// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package legacy serves name-addressed legacy calls and wraps them so that
// every call keeps its behavior while announcing its REST replacement.
//
// # Description
//
// The Dispatcher routes POST /legacy/ajax?action=<name> to the hook
// "ajax_<name>". The Interceptor replaces each mapped hook with a wrapper
// that, in order:
//
//  1. sets the deprecation headers before any output
//  2. increments the handler's persisted usage counter
//  3. logs one deprecation warning if warnings are enabled and the
//     handler's rate limiter allows it
//  4. invokes the implementation resolved at Wrap time
//
// Implementations are resolved through a static dispatch table keyed by the
// derived method name (save_settings -> HandleSaveSettings). A missing entry
// is reported by Wrap and fails only the requests that reach it.
package legacy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"mime"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/bridge/flags"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// DefaultMigrationGuideURL is used when no guide URL is configured.
const DefaultMigrationGuideURL = "https://docs.aleutian.ai/bridge/migration"

// Config configures an Interceptor.
type Config struct {
	// Namespace is the REST prefix joined with mapping paths in headers.
	Namespace string

	// MigrationGuideURL is sent in X-Bridge-Migration-Guide.
	MigrationGuideURL string

	// WarnInterval is the minimum spacing between deprecation warnings for
	// one handler. Default: 1 hour.
	WarnInterval time.Duration

	// WarnBurst is the number of warnings allowed back to back. Default: 1.
	WarnBurst int
}

// HandlerStat is the usage summary for one mapped legacy handler.
type HandlerStat struct {
	LegacyHandler string     `json:"legacy_handler"`
	RESTEndpoint  string     `json:"rest_endpoint"`
	Wrapped       bool       `json:"wrapped"`
	Resolved      bool       `json:"resolved"`
	Calls         uint64     `json:"calls"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
}

// Stats aggregates usage across all mapped handlers.
type Stats struct {
	Handlers     []HandlerStat `json:"handlers"`
	TotalCalls   uint64        `json:"total_calls"`
	WrappedCount int           `json:"wrapped_count"`
	MostUsed     string        `json:"most_used,omitempty"`
}

// Interceptor wraps legacy hooks with deprecation telemetry.
//
// # Thread Safety
//
// Safe for concurrent use. Wrap and Unwrap may be called while serving.
type Interceptor struct {
	cfg        Config
	dispatcher *Dispatcher
	mapping    HandlerMapping
	impls      map[string]gin.HandlerFunc
	flags      flags.Store
	usage      *UsageTracker
	logger     *slog.Logger

	mu        sync.Mutex
	originals map[string]Registration
	wrapped   map[string]bool
	resolved  map[string]bool
	limiters  map[string]*rate.Limiter
}

// NewInterceptor creates an interceptor for mapping.
//
// # Inputs
//
//   - cfg: Header and rate-limit settings. Zero values take defaults.
//   - dispatcher: Where legacy hooks are registered.
//   - mapping: Legacy name to REST path.
//   - impls: Static dispatch table keyed by derived method name.
//   - flagStore: Source of the deprecation-warning and rollout flags.
//   - usage: Persisted usage counters.
//   - logger: Destination for deprecation warnings. Nil uses slog.Default.
func NewInterceptor(
	cfg Config,
	dispatcher *Dispatcher,
	mapping HandlerMapping,
	impls map[string]gin.HandlerFunc,
	flagStore flags.Store,
	usage *UsageTracker,
	logger *slog.Logger,
) *Interceptor {
	if cfg.MigrationGuideURL == "" {
		cfg.MigrationGuideURL = DefaultMigrationGuideURL
	}
	if cfg.WarnInterval <= 0 {
		cfg.WarnInterval = time.Hour
	}
	if cfg.WarnBurst <= 0 {
		cfg.WarnBurst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		cfg:        cfg,
		dispatcher: dispatcher,
		mapping:    maps.Clone(mapping),
		impls:      maps.Clone(impls),
		flags:      flagStore,
		usage:      usage,
		logger:     logger.With("component", "legacy_interceptor"),
		originals:  make(map[string]Registration),
		wrapped:    make(map[string]bool),
		resolved:   make(map[string]bool),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Wrap replaces every mapped hook with a telemetry wrapper registered under
// the same hook and priority. It returns the legacy names whose
// implementation could not be resolved; those wrappers answer HTTP 500.
// Calling Wrap again is a no-op for handlers already wrapped.
func (i *Interceptor) Wrap() []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	var unresolved []string
	for _, name := range i.mapping.Names() {
		if i.wrapped[name] {
			if !i.resolved[name] {
				unresolved = append(unresolved, name)
			}
			continue
		}

		hook := HookName(name)
		priority := DefaultPriority
		if orig, ok := i.dispatcher.Remove(hook); ok {
			i.originals[name] = orig
			priority = orig.Priority
		}

		impl, ok := i.impls[DeriveMethodName(hook)]
		i.resolved[name] = ok
		if !ok {
			unresolved = append(unresolved, name)
			i.logger.Error("legacy handler implementation not found",
				slog.String("legacy_handler", name),
				slog.String("method", DeriveMethodName(hook)))
		}

		i.dispatcher.Register(hook, i.wrapper(name, i.mapping[name], impl), priority)
		i.wrapped[name] = true
	}

	i.logger.Info("legacy handlers wrapped",
		slog.Int("wrapped", len(i.wrapped)),
		slog.Int("unresolved", len(unresolved)))
	return unresolved
}

// Unwrap removes the wrappers and restores the original registrations.
func (i *Interceptor) Unwrap() {
	i.mu.Lock()
	defer i.mu.Unlock()

	for name := range i.wrapped {
		hook := HookName(name)
		i.dispatcher.Remove(hook)
		if orig, ok := i.originals[name]; ok {
			i.dispatcher.Register(hook, orig.Handler, orig.Priority)
		}
	}
	clear(i.wrapped)
	clear(i.originals)
	clear(i.resolved)
}

// IsHandlerWrapped reports whether the legacy name is currently wrapped.
func (i *Interceptor) IsHandlerWrapped(name string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.wrapped[name]
}

// WrappedHandlers returns the wrapped legacy names, sorted.
func (i *Interceptor) WrappedHandlers() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return slices.Sorted(maps.Keys(i.wrapped))
}

// RESTEndpoint returns the full REST path replacing a legacy name.
func (i *Interceptor) RESTEndpoint(name string) (string, bool) {
	path, ok := i.mapping[name]
	if !ok {
		return "", false
	}
	return i.cfg.Namespace + path, true
}

// HandlerStats aggregates the persisted usage counters with wrap state.
func (i *Interceptor) HandlerStats(ctx context.Context) (Stats, error) {
	records, err := i.usage.All(ctx)
	if err != nil {
		return Stats{}, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	var stats Stats
	var top uint64
	for _, name := range i.mapping.Names() {
		rec := records[name]
		endpoint, _ := i.RESTEndpoint(name)
		st := HandlerStat{
			LegacyHandler: name,
			RESTEndpoint:  endpoint,
			Wrapped:       i.wrapped[name],
			Resolved:      i.resolved[name],
			Calls:         rec.Count,
		}
		if !rec.LastSeen.IsZero() {
			seen := rec.LastSeen
			st.LastSeen = &seen
		}
		if st.Wrapped {
			stats.WrappedCount++
		}
		if rec.Count > top {
			top = rec.Count
			stats.MostUsed = name
		}
		stats.TotalCalls += rec.Count
		stats.Handlers = append(stats.Handlers, st)
	}
	return stats, nil
}

// ResetUsage clears all usage counters.
func (i *Interceptor) ResetUsage(ctx context.Context) error {
	return i.usage.Reset(ctx)
}

func (i *Interceptor) wrapper(name, restPath string, impl gin.HandlerFunc) gin.HandlerFunc {
	endpoint := i.cfg.Namespace + restPath
	info := newDeprecationInfo(name, endpoint, i.cfg.MigrationGuideURL)

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		h := c.Writer.Header()
		h.Set(HeaderDeprecated, "true")
		h.Set(HeaderLegacyHandler, name)
		h.Set(HeaderRESTEndpoint, endpoint)
		h.Set(HeaderMigrationGuide, i.cfg.MigrationGuideURL)
		c.Set(contextKeyDeprecationInfo, info)

		if _, err := i.usage.Increment(ctx, name); err != nil {
			i.logger.Warn("failed to record legacy usage",
				slog.String("legacy_handler", name),
				slog.String("error", err.Error()))
		}

		f, err := i.flags.Flags(ctx)
		if err != nil {
			i.logger.Warn("failed to read feature flags",
				slog.String("legacy_handler", name),
				slog.String("error", err.Error()))
		} else {
			h.Set(HeaderPreferredTransport, string(flags.Assign(f, ClientID(c))))
			if f.DeprecationWarningsEnabled && i.limiter(name).Allow() {
				i.logDeprecation(c, name, endpoint)
			}
		}

		if impl == nil {
			i.logger.Error("legacy call failed",
				slog.String("legacy_handler", name),
				slog.String("error", ErrHandlerNotFound.Error()))
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				failure(ErrHandlerNotFound.Error()+": "+DeriveMethodName(name), CodeHandlerNotFound))
			return
		}
		impl(c)
	}
}

func (i *Interceptor) limiter(name string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()
	l, ok := i.limiters[name]
	if !ok {
		l = rate.NewLimiter(rate.Every(i.cfg.WarnInterval), i.cfg.WarnBurst)
		i.limiters[name] = l
	}
	return l
}

func (i *Interceptor) logDeprecation(c *gin.Context, name, endpoint string) {
	i.logger.Warn("deprecated legacy handler called",
		slog.String("legacy_handler", name),
		slog.String("rest_endpoint", endpoint),
		slog.Any("payload_fields", payloadFields(c.Request)),
		slog.String("method", c.Request.Method),
		slog.String("content_type", c.ContentType()),
		slog.String("user_agent", c.Request.UserAgent()))
}

// payloadFields returns the sorted parameter names of the request, excluding
// the routing "action" field. Only the first maxPayloadPeek bytes of a JSON
// body are inspected; they are stitched back in front of the unread rest.
func payloadFields(r *http.Request) []string {
	fields := make(map[string]struct{})

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasSuffix(mediaType, "json") && r.Body != nil {
		prefix, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadPeek))
		r.Body = peekedBody{Reader: io.MultiReader(bytes.NewReader(prefix), r.Body), Closer: r.Body}
		if err == nil {
			topLevelKeys(prefix, fields)
		}
	}

	if r.Form == nil && !strings.HasPrefix(mediaType, "multipart/") {
		_ = r.ParseForm()
	}
	for k := range r.Form {
		fields[k] = struct{}{}
	}
	if r.MultipartForm != nil {
		for k := range r.MultipartForm.Value {
			fields[k] = struct{}{}
		}
	}

	delete(fields, "action")
	return slices.Sorted(maps.Keys(fields))
}

const maxPayloadPeek = 64 << 10

type peekedBody struct {
	io.Reader
	io.Closer
}

// topLevelKeys collects the keys of a JSON object, stopping quietly at the
// first value it cannot decode. A truncated document yields the keys seen
// before the cut.
func topLevelKeys(doc []byte, into map[string]struct{}) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		key, ok := tok.(string)
		if !ok {
			return
		}
		into[key] = struct{}{}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return
		}
	}
}
