// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/bridge/kvstore"
)

const statusKey = "bridge_migration_status"

// Phase is a migration state.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	// PhaseInProgress is the first rollout step (25%).
	PhaseInProgress Phase = "in_progress"
	PhaseRollout25  Phase = "gradual_rollout_25"
	PhaseRollout50  Phase = "gradual_rollout_50"
	PhaseRollout75  Phase = "gradual_rollout_75"
	PhaseRollout100 Phase = "gradual_rollout_100"
	PhaseCompleted  Phase = "completed"
	PhaseRolledBack Phase = "rolled_back"
)

// RolloutSteps are the rollout percentages in order.
var RolloutSteps = []int{25, 50, 75, 100}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseNotStarted, PhaseInProgress, PhaseRollout25, PhaseRollout50,
		PhaseRollout75, PhaseRollout100, PhaseCompleted, PhaseRolledBack:
		return true
	}
	return false
}

// Normalize maps gradual_rollout_25 to in_progress.
func (p Phase) Normalize() Phase {
	if p == PhaseRollout25 {
		return PhaseInProgress
	}
	return p
}

// Terminal reports whether p ends a migration: completed or rolled back.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseRolledBack
}

// Rolling reports whether p is one of the rollout phases.
func (p Phase) Rolling() bool {
	switch p.Normalize() {
	case PhaseInProgress, PhaseRollout50, PhaseRollout75, PhaseRollout100:
		return true
	}
	return false
}

// Percentage is the rollout percentage p represents.
func (p Phase) Percentage() int {
	switch p.Normalize() {
	case PhaseInProgress:
		return 25
	case PhaseRollout50:
		return 50
	case PhaseRollout75:
		return 75
	case PhaseRollout100, PhaseCompleted:
		return 100
	}
	return 0
}

// PhaseFor returns the rollout phase for a percentage step.
func PhaseFor(percentage int) (Phase, bool) {
	switch percentage {
	case 25:
		return PhaseInProgress, true
	case 50:
		return PhaseRollout50, true
	case 75:
		return PhaseRollout75, true
	case 100:
		return PhaseRollout100, true
	}
	return "", false
}

// Status is the persisted migration record.
type Status struct {
	Phase        Phase      `json:"phase"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
	Errors       []string   `json:"errors"`
	Warnings     []string   `json:"warnings"`
	Revision     uint64     `json:"revision"`
}

// initialStatus is the lazily created record.
func initialStatus() Status {
	return Status{Phase: PhaseNotStarted, Errors: []string{}, Warnings: []string{}}
}

// statusVersion is a status together with the exact bytes it was read from.
// A nil raw means the record has never been written.
type statusVersion struct {
	Status
	raw []byte
}

// StatusStore persists Status with optimistic concurrency.
type StatusStore struct {
	kv kvstore.Store
}

// NewStatusStore creates a status store over kv.
func NewStatusStore(kv kvstore.Store) *StatusStore {
	return &StatusStore{kv: kv}
}

// Load returns the current status, or the initial status if none exists.
func (s *StatusStore) Load(ctx context.Context) (Status, error) {
	v, err := s.load(ctx)
	return v.Status, err
}

func (s *StatusStore) load(ctx context.Context) (statusVersion, error) {
	raw, err := s.kv.Get(ctx, statusKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return statusVersion{Status: initialStatus()}, nil
	}
	if err != nil {
		return statusVersion{}, fmt.Errorf("read migration status: %w", err)
	}
	st := initialStatus()
	if err := json.Unmarshal(raw, &st); err != nil {
		return statusVersion{}, fmt.Errorf("decode migration status: %w", err)
	}
	if !st.Phase.Valid() {
		return statusVersion{}, fmt.Errorf("decode migration status: unknown phase %q", st.Phase)
	}
	return statusVersion{Status: st, raw: raw}, nil
}

// swap writes next if the stored bytes still equal prev.raw. next.Revision is
// set to prev.Revision+1. It returns the written version.
func (s *StatusStore) swap(ctx context.Context, prev statusVersion, next Status) (statusVersion, error) {
	next.Revision = prev.Revision + 1
	if next.Errors == nil {
		next.Errors = []string{}
	}
	if next.Warnings == nil {
		next.Warnings = []string{}
	}
	data, err := json.Marshal(next)
	if err != nil {
		return statusVersion{}, fmt.Errorf("encode migration status: %w", err)
	}
	ok, err := s.kv.CompareAndSwap(ctx, statusKey, prev.raw, data)
	if err != nil {
		return statusVersion{}, fmt.Errorf("write migration status: %w", err)
	}
	if !ok {
		return statusVersion{}, ErrConcurrentTransition
	}
	return statusVersion{Status: next, raw: data}, nil
}

// revert puts back the exact bytes of prev, undoing a swap that produced cur.
// Callers hold the orchestrator lock.
func (s *StatusStore) revert(ctx context.Context, cur, prev statusVersion) error {
	if prev.raw == nil {
		stored, err := s.kv.Get(ctx, statusKey)
		if err != nil {
			return err
		}
		if !bytes.Equal(stored, cur.raw) {
			return ErrConcurrentTransition
		}
		return s.kv.Delete(ctx, statusKey)
	}
	ok, err := s.kv.CompareAndSwap(ctx, statusKey, cur.raw, prev.raw)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConcurrentTransition
	}
	return nil
}
