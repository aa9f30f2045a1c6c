// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for Aleutian Bridge components.
//
// The logger is built on log/slog and writes to one or more destinations:
//
//	┌───────────────────────────────────────────────┐
//	│                    Logger                     │
//	│  ┌──────────────────┐  ┌───────────────────┐  │
//	│  │ stderr / Output  │  │ log file (JSON)   │  │
//	│  │    (default)     │  │   (optional)      │  │
//	│  └──────────────────┘  └───────────────────┘  │
//	└───────────────────────────────────────────────┘
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Service: "bridge"})
//	defer logger.Close()
//	logger.Info("registry initialized", "controllers", 3)
//
// Components receive the underlying *slog.Logger via Slog() so they stay
// decoupled from this package.
//
// # Debug Mode
//
// Config.Debug lowers the level to Debug and marks the logger so that
// components can decide whether to surface internals such as stack traces
// (see Logger.DebugEnabled).
//
// # Thread Safety
//
// Logger is safe for concurrent use. Close is guarded by a mutex and
// SetLevel is backed by a slog.LevelVar.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages (transitions, startup).
	LevelInfo

	// LevelWarn is for recoverable issues (deprecated calls, degraded mode).
	LevelWarn

	// LevelError is for failed operations the process survives.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string ("debug", "info", "warn", "error")
// into a Level. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Logger.
//
// A zero-value Config writes Info+ messages to stderr in text format.
type Config struct {
	// Level sets the minimum log level. Ignored when Debug is true.
	Level Level

	// Debug forces LevelDebug and enables DebugEnabled().
	Debug bool

	// LogDir enables file logging to "{Service}_{YYYY-MM-DD}.log" in JSON.
	// Supports ~ expansion. Default: "" (disabled).
	LogDir string

	// Service is attached to every record as the "service" attribute.
	Service string

	// JSON selects JSON output for the primary destination.
	JSON bool

	// Quiet disables the primary destination (file logging only).
	Quiet bool

	// Output overrides the primary destination. Default: os.Stderr.
	Output io.Writer
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps slog.Logger with file output and lifecycle management.
//
// Always Close a logger that was created with LogDir set:
//
//	logger := logging.New(cfg)
//	defer logger.Close()
type Logger struct {
	slog   *slog.Logger
	config Config
	level  *slog.LevelVar
	file   *os.File
	mu     sync.Mutex
}

// New creates a Logger from the given configuration.
//
// # Description
//
// Builds the primary handler (text or JSON on Output/stderr), adds a JSON
// file handler when LogDir is set, and combines them. File setup failures
// are not fatal: the logger falls back to the primary destination only.
//
// # Inputs
//
//   - config: Logger configuration. Zero value is valid.
//
// # Outputs
//
//   - *Logger: Ready-to-use logger. Never nil.
func New(config Config) *Logger {
	level := config.Level
	if config.Debug {
		level = LevelDebug
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(level.toSlogLevel())
	opts := &slog.HandlerOptions{Level: levelVar}

	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	var handlers []slog.Handler
	if !config.Quiet {
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	logger := &Logger{config: config, level: levelVar}

	if config.LogDir != "" {
		if file, err := openLogFile(config); err == nil {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(out, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns an Info-level stderr logger for the bridge service.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "bridge"})
}

// Discard returns a logger that drops every record. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child logger sharing destinations with the parent.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:   l.slog.With(args...),
		config: l.config,
		level:  l.level,
		file:   l.file,
	}
}

// SetLevel changes the minimum level of this logger and every logger derived
// from it. Debug-mode loggers stay at LevelDebug.
func (l *Logger) SetLevel(level Level) {
	if l.config.Debug {
		return
	}
	l.level.Set(level.toSlogLevel())
}

// Level returns the current minimum level.
func (l *Logger) Level() Level {
	switch l.level.Level() {
	case slog.LevelDebug:
		return LevelDebug
	case slog.LevelWarn:
		return LevelWarn
	case slog.LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// Slog returns the underlying slog.Logger for injection into components.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// DebugEnabled reports whether the logger was created in debug mode.
func (l *Logger) DebugEnabled() bool {
	return l.config.Debug
}

// Close syncs and closes the log file, if any. Safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	var errs []error
	if err := l.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync log file: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close log file: %w", err))
	}
	l.file = nil
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func openLogFile(config Config) (*os.File, error) {
	logDir := expandPath(config.LogDir)
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return nil, err
	}
	service := config.Service
	if service == "" {
		service = "bridge"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// =============================================================================
// Multi-destination handler
// =============================================================================

// multiHandler fans records out to several slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
