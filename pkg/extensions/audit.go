// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuditEvent records one administrative action.
//
// Example:
//
//	AuditEvent{
//	    EventType: "migration.start",
//	    UserID:    info.UserID,
//	    Outcome:   OutcomeFailure,
//	    Metadata:  map[string]any{"error": "incompatible environment"},
//	}
type AuditEvent struct {
	// EventType uses "category.action", e.g. "migration.rollback".
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	RequestID string    `json:"request_id,omitempty"`
	Outcome   string    `json:"outcome"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// AuditFilter selects events. Zero fields match everything.
type AuditFilter struct {
	EventType string
	UserID    string
	Since     time.Time

	// Limit caps the result; zero means no cap.
	Limit int
}

func (f AuditFilter) matches(e AuditEvent) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// AuditLogger records administrative events.
//
// Implementations must be safe for concurrent use and should return quickly.
// Query returns newest events first.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// NopAuditLogger discards events.
type NopAuditLogger struct{}

// Log discards event.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error { return nil }

// Query always returns an empty slice.
func (l *NopAuditLogger) Query(_ context.Context, _ AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// DefaultAuditCapacity bounds the in-memory trail.
const DefaultAuditCapacity = 500

// MemoryAuditLogger keeps the most recent events in memory and mirrors each
// one to the structured log.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryAuditLogger struct {
	mu       sync.Mutex
	events   []AuditEvent
	capacity int
	logger   *slog.Logger
	now      func() time.Time
}

// NewMemoryAuditLogger creates a trail holding at most capacity events.
// A non-positive capacity uses DefaultAuditCapacity.
func NewMemoryAuditLogger(capacity int, logger *slog.Logger) *MemoryAuditLogger {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryAuditLogger{
		capacity: capacity,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Log appends event, evicting the oldest when full.
func (l *MemoryAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	if event.UserID == "" {
		event.UserID = "anonymous"
	}

	l.mu.Lock()
	if len(l.events) == l.capacity {
		l.events = append(l.events[:0], l.events[1:]...)
	}
	l.events = append(l.events, event)
	l.mu.Unlock()

	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("event_type", event.EventType),
		slog.String("user_id", event.UserID),
		slog.String("request_id", event.RequestID),
		slog.String("outcome", event.Outcome),
		slog.Any("metadata", event.Metadata),
	)
	return nil
}

// Query returns matching events, newest first.
func (l *MemoryAuditLogger) Query(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]AuditEvent, 0)
	for i := len(l.events) - 1; i >= 0; i-- {
		if !filter.matches(l.events[i]) {
			continue
		}
		out = append(out, l.events[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
