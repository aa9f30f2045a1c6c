// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package legacy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/bridge/kvstore"
)

const usageKey = "bridge_legacy_usage"

// UsageRecord counts calls to one legacy handler.
type UsageRecord struct {
	Count    uint64    `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// UsageTracker persists per-handler usage counters in the KV store.
//
// Counters only grow. Reset is the single operator action that clears them.
type UsageTracker struct {
	kv  kvstore.Store
	mu  sync.Mutex
	now func() time.Time
}

// NewUsageTracker creates a tracker over kv.
func NewUsageTracker(kv kvstore.Store) *UsageTracker {
	return &UsageTracker{kv: kv, now: time.Now}
}

// Increment adds one call for name and returns the updated record.
func (u *UsageTracker) Increment(ctx context.Context, name string) (UsageRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	records, err := u.load(ctx)
	if err != nil {
		return UsageRecord{}, err
	}
	rec := records[name]
	rec.Count++
	rec.LastSeen = u.now().UTC()
	records[name] = rec

	if err := kvstore.SetJSON(ctx, u.kv, usageKey, records); err != nil {
		return UsageRecord{}, fmt.Errorf("write usage: %w", err)
	}
	return rec, nil
}

// All returns every usage record keyed by legacy name.
func (u *UsageTracker) All(ctx context.Context) (map[string]UsageRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.load(ctx)
}

// Reset clears all counters.
func (u *UsageTracker) Reset(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.kv.Delete(ctx, usageKey); err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}
	return nil
}

func (u *UsageTracker) load(ctx context.Context) (map[string]UsageRecord, error) {
	records := make(map[string]UsageRecord)
	if _, err := kvstore.GetJSON(ctx, u.kv, usageKey, &records); err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}
	if records == nil {
		records = make(map[string]UsageRecord)
	}
	return records, nil
}
