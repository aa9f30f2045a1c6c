// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command bridge runs the REST migration bridge: the REST API, the legacy
// action endpoint with deprecation telemetry, and the operator API that
// drives the staged migration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianBridge/pkg/logging"
	"github.com/AleutianAI/AleutianBridge/services/bridge/config"
	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "~/.aleutian/bridge/bridge.yaml", "path to the bridge configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "bridge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, logger.Slog(), func(c *config.Config) {
				logger.SetLevel(logging.ParseLevel(c.Logging.Level))
			})
			if err != nil {
				slog.Warn("config hot reload disabled", "error", err)
			}
		}()
	}

	shutdownTracer, err := initTracer(ctx, cfg.Telemetry, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to set up the tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	metrics, err := initMetrics(cfg.Telemetry.ServiceName, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}
	defer metrics.shutdown(context.Background())

	kv, closeStore, err := openStore(cfg.Storage, logger.Slog())
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Error("failed to close storage", "error", err)
		}
	}()

	a, err := newApp(cfg, kv, metrics.sink, logger.Slog())
	if err != nil {
		return err
	}
	a.router.GET(cfg.Telemetry.MetricsPath,
		gin.WrapH(promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      a.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("bridge listening",
			"addr", srv.Addr,
			"namespace", cfg.Server.Namespace,
			"legacy_path", cfg.Legacy.Path,
			"storage", cfg.Storage.Backend,
			"components_failed", len(a.registry.InitializationErrors()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newLogger builds the process logger. "auto" picks JSON unless stderr is
// a terminal.
func newLogger(cfg *config.Config) *logging.Logger {
	jsonOut := cfg.Logging.Format == "json"
	if cfg.Logging.Format == "auto" {
		jsonOut = !isatty.IsTerminal(os.Stderr.Fd())
	}
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		Debug:   cfg.Debug,
		LogDir:  cfg.Logging.Dir,
		Service: cfg.Telemetry.ServiceName,
		JSON:    jsonOut,
	})
}
