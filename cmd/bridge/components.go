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
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/AleutianAI/AleutianBridge/pkg/extensions"
	"github.com/AleutianAI/AleutianBridge/services/bridge/compat"
	"github.com/AleutianAI/AleutianBridge/services/bridge/config"
	"github.com/AleutianAI/AleutianBridge/services/bridge/flags"
	"github.com/AleutianAI/AleutianBridge/services/bridge/handlers"
	"github.com/AleutianAI/AleutianBridge/services/bridge/kvstore"
	"github.com/AleutianAI/AleutianBridge/services/bridge/legacy"
	"github.com/AleutianAI/AleutianBridge/services/bridge/legacyapi"
	"github.com/AleutianAI/AleutianBridge/services/bridge/migration"
	"github.com/AleutianAI/AleutianBridge/services/bridge/registry"
	"github.com/AleutianAI/AleutianBridge/services/bridge/settings"
	"github.com/AleutianAI/AleutianBridge/services/bridge/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Component names in the registry.
const (
	svcSettings     = "settings"
	svcBackups      = "backups"
	svcThemes       = "themes"
	svcFlags        = "flags"
	svcUsage        = "legacy_usage"
	svcValidator    = "compat_validator"
	svcOrchestrator = "migration_orchestrator"
	svcLegacyAPI    = "legacy_api"
	svcInterceptor  = "legacy_interceptor"
	svcAudit        = "audit"

	ctrlSettings = "settings_controller"
	ctrlSystem   = "system_controller"
	ctrlAdmin    = "admin_controller"
)

// app is the assembled bridge server.
type app struct {
	router   *gin.Engine
	registry *registry.Registry
}

// newApp wires every component on kv and returns the router.
//
// # Description
//
// Services and controllers are registered with the registry, which loads
// them in order and mounts controllers under the namespace. A component that
// fails to load is reported through diagnostics and its dependents are
// skipped; the rest of the server still comes up.
//
// The legacy endpoint is mounted outside the namespace at cfg.Legacy.Path.
func newApp(cfg *config.Config, kv kvstore.Store, sink telemetry.Sink, logger *slog.Logger) (*app, error) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))

	reg := registry.New(registry.Config{Namespace: cfg.Server.Namespace, Debug: cfg.Debug}, sink, logger)
	router.Use(reg.TimingMiddleware())

	dispatcher := legacy.NewDispatcher()
	dispatcher.RegisterRoutes(router, cfg.Legacy.Path)
	mapping := legacy.DefaultMapping()

	reg.Register(registry.ComponentSpec{
		Name: svcSettings, Kind: registry.KindService,
		Load: func(registry.Deps) (any, error) { return settings.NewService(kv), nil },
	})
	reg.Register(registry.ComponentSpec{
		Name: svcBackups, Kind: registry.KindService, Requires: []string{svcSettings},
		Load: func(d registry.Deps) (any, error) {
			s, err := registry.DepAs[*settings.Service](d, svcSettings)
			if err != nil {
				return nil, err
			}
			return settings.NewBackupService(kv, s), nil
		},
	})
	reg.Register(registry.ComponentSpec{
		Name: svcThemes, Kind: registry.KindService, Requires: []string{svcSettings},
		Load: func(d registry.Deps) (any, error) {
			s, err := registry.DepAs[*settings.Service](d, svcSettings)
			if err != nil {
				return nil, err
			}
			return settings.NewThemeService(s, settings.DefaultThemes()), nil
		},
	})
	reg.Register(registry.ComponentSpec{
		Name: svcFlags, Kind: registry.KindService,
		Load: func(registry.Deps) (any, error) { return flags.NewKVStore(kv), nil },
	})
	reg.Register(registry.ComponentSpec{
		Name: svcUsage, Kind: registry.KindService,
		Load: func(registry.Deps) (any, error) { return legacy.NewUsageTracker(kv), nil },
	})
	reg.Register(registry.ComponentSpec{
		Name: svcAudit, Kind: registry.KindService,
		Load: func(registry.Deps) (any, error) {
			return extensions.NewMemoryAuditLogger(extensions.DefaultAuditCapacity, logger), nil
		},
	})
	reg.Register(registry.ComponentSpec{
		Name: svcValidator, Kind: registry.KindService,
		Load: func(registry.Deps) (any, error) { return newValidator(cfg, mapping, logger), nil },
	})
	reg.Register(registry.ComponentSpec{
		Name: svcOrchestrator, Kind: registry.KindService,
		Requires: []string{svcValidator, svcFlags, svcSettings},
		Load: func(d registry.Deps) (any, error) {
			v, err := registry.DepAs[*compat.Validator](d, svcValidator)
			if err != nil {
				return nil, err
			}
			f, err := registry.DepAs[*flags.KVStore](d, svcFlags)
			if err != nil {
				return nil, err
			}
			s, err := registry.DepAs[*settings.Service](d, svcSettings)
			if err != nil {
				return nil, err
			}
			return migration.New(migration.Config{
				Version: cfg.Server.Version,
				Environment: map[string]string{
					"go_version":      runtime.Version(),
					"storage_backend": cfg.Storage.Backend,
				},
			}, migration.Deps{
				Validator: v,
				Snapshots: migration.NewKVSnapshotStore(kv),
				Status:    migration.NewStatusStore(kv),
				Flags:     f,
				Settings:  s,
				Logger:    logger,
			})
		},
	})
	reg.Register(registry.ComponentSpec{
		Name: svcLegacyAPI, Kind: registry.KindService,
		Requires: []string{svcSettings, svcBackups, svcThemes},
		Load: func(d registry.Deps) (any, error) {
			s, err := registry.DepAs[*settings.Service](d, svcSettings)
			if err != nil {
				return nil, err
			}
			b, err := registry.DepAs[*settings.BackupService](d, svcBackups)
			if err != nil {
				return nil, err
			}
			t, err := registry.DepAs[*settings.ThemeService](d, svcThemes)
			if err != nil {
				return nil, err
			}
			api := legacyapi.New(s, b, t, logger)
			if missing := api.RegisterHooks(dispatcher, mapping); len(missing) > 0 {
				logger.Warn("legacy actions without implementation", "actions", missing)
			}
			return api, nil
		},
	})
	reg.Register(registry.ComponentSpec{
		Name: svcInterceptor, Kind: registry.KindService,
		Requires: []string{svcLegacyAPI, svcFlags, svcUsage},
		Load: func(d registry.Deps) (any, error) {
			api, err := registry.DepAs[*legacyapi.API](d, svcLegacyAPI)
			if err != nil {
				return nil, err
			}
			f, err := registry.DepAs[*flags.KVStore](d, svcFlags)
			if err != nil {
				return nil, err
			}
			usage, err := registry.DepAs[*legacy.UsageTracker](d, svcUsage)
			if err != nil {
				return nil, err
			}
			ic := legacy.NewInterceptor(legacy.Config{
				Namespace:         cfg.Server.Namespace,
				MigrationGuideURL: cfg.Legacy.MigrationGuideURL,
				WarnInterval:      cfg.Legacy.WarnInterval,
				WarnBurst:         cfg.Legacy.WarnBurst,
			}, dispatcher, mapping, api.Table(), f, usage, logger)
			if cfg.Legacy.Intercept {
				if unresolved := ic.Wrap(); len(unresolved) > 0 {
					logger.Warn("legacy handlers wrapped without implementation", "handlers", unresolved)
				}
			}
			return ic, nil
		},
	})

	reg.Register(registry.ComponentSpec{
		Name: ctrlSettings, Kind: registry.KindController,
		Requires: []string{svcSettings, svcBackups, svcThemes},
		Load: func(d registry.Deps) (any, error) {
			s, _ := registry.DepAs[*settings.Service](d, svcSettings)
			b, _ := registry.DepAs[*settings.BackupService](d, svcBackups)
			t, err := registry.DepAs[*settings.ThemeService](d, svcThemes)
			if err != nil {
				return nil, err
			}
			return handlers.NewSettingsController(s, b, t), nil
		},
	})
	reg.Register(registry.ComponentSpec{
		Name: ctrlSystem, Kind: registry.KindController, Requires: []string{svcFlags},
		Load: func(d registry.Deps) (any, error) {
			f, err := registry.DepAs[*flags.KVStore](d, svcFlags)
			if err != nil {
				return nil, err
			}
			return handlers.NewSystemController(f, cfg.Server.Version), nil
		},
	})
	reg.Register(registry.ComponentSpec{
		Name: ctrlAdmin, Kind: registry.KindController,
		Requires: []string{svcValidator, svcOrchestrator, svcInterceptor, svcAudit},
		Load: func(d registry.Deps) (any, error) {
			v, _ := registry.DepAs[*compat.Validator](d, svcValidator)
			o, _ := registry.DepAs[*migration.Orchestrator](d, svcOrchestrator)
			ic, _ := registry.DepAs[*legacy.Interceptor](d, svcInterceptor)
			audit, err := registry.DepAs[*extensions.MemoryAuditLogger](d, svcAudit)
			if err != nil {
				return nil, err
			}
			return handlers.NewAdminController(handlers.AdminDeps{
				Registry:  reg,
				Validator: v,
				Migrator:  o,
				Legacy:    ic,
				Auth:      authProvider(cfg.Admin),
				Audit:     audit,
				Logger:    logger,
			}), nil
		},
	})

	if err := reg.Init(router); err != nil {
		return nil, fmt.Errorf("initialize registry: %w", err)
	}
	for _, e := range reg.InitializationErrors() {
		logger.Error("component failed to initialize", "component", e.Component, "error", e.Message)
	}
	return &app{router: router, registry: reg}, nil
}

func newValidator(cfg *config.Config, mapping legacy.HandlerMapping, logger *slog.Logger) *compat.Validator {
	client := &http.Client{Timeout: cfg.Compat.Timeout}
	probe := compat.ProcessProbe{
		HostVersion:      cfg.Server.Version,
		Extensions:       cfg.Compat.ActiveExtensions,
		MaxExecutionTime: cfg.Server.WriteTimeout,
		Client:           client,
	}
	return compat.NewValidator(compat.Config{
		MinHostVersion:         cfg.Compat.MinHostVersion,
		MinRuntimeVersion:      cfg.Compat.MinRuntimeVersion,
		ReachabilityURL:        cfg.Compat.ReachabilityURL,
		Timeout:                cfg.Compat.Timeout,
		ExtensionBlocklist:     cfg.Compat.ExtensionBlocklist,
		CustomCodeDirs:         cfg.Compat.CustomCodeDirs,
		LegacyNames:            mapping.Names(),
		RecommendedMemoryBytes: cfg.Compat.RecommendedMemoryMB << 20,
	}, probe, client, logger)
}

func authProvider(cfg config.AdminConfig) extensions.AuthProvider {
	if cfg.Token == "" {
		return &extensions.NopAuthProvider{}
	}
	return extensions.NewTokenAuthProvider(cfg.Token, "operator")
}

// openStore opens the configured key/value backend. The returned func
// closes it.
func openStore(cfg config.StorageConfig, logger *slog.Logger) (kvstore.Store, func() error, error) {
	if cfg.Backend == "memory" {
		return kvstore.NewMemory(), func() error { return nil }, nil
	}
	bcfg := kvstore.DefaultBadgerConfig(cfg.DataDir)
	bcfg.SyncWrites = cfg.SyncWrites
	bcfg.GCInterval = cfg.GCInterval
	bcfg.Logger = logger
	db, err := kvstore.OpenBadger(bcfg)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}
