// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package migration drives the phased move from legacy calls to the REST API.
//
// # Description
//
// The Orchestrator is a state machine over a persisted Status:
//
//	not_started -> in_progress (25%) -> gradual_rollout_50 -> _75 -> _100
//	any phase   -> completed
//	any phase   -> rolled_back   (requires a snapshot)
//	completed | rolled_back -> in_progress   (a new StartMigration)
//
// Every transition writes the status first with a compare-and-swap on the
// bytes read at the start of the transition, then applies its side effects
// (snapshot, settings, feature flags). Losing the swap returns
// ErrConcurrentTransition and changes nothing. When a feature flag write
// fails afterwards, the previous status bytes are put back and the error is
// recorded against them.
//
// # Thread Safety
//
// Transitions are serialized by a mutex within one Orchestrator. The
// compare-and-swap additionally protects against other instances sharing
// the same store. Progress is a pure read.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/bridge/compat"
	"github.com/AleutianAI/AleutianBridge/services/bridge/flags"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	transitionStart    = "start"
	transitionAdvance  = "advance"
	transitionComplete = "complete"
	transitionRollback = "rollback"

	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Validator decides whether migration may start. *compat.Validator satisfies it.
type Validator interface {
	Validate(ctx context.Context) *compat.Report
}

// SettingsStore exports and restores the settings blob.
// *settings.Service satisfies it.
type SettingsStore interface {
	Export(ctx context.Context) (json.RawMessage, error)
	Import(ctx context.Context, raw json.RawMessage) error
}

// Config holds metadata recorded in snapshots.
type Config struct {
	// Version is the application version stored in each snapshot.
	Version string

	// Environment is extra metadata stored in each snapshot.
	Environment map[string]string
}

// Deps are the orchestrator's collaborators. All but Logger are required.
type Deps struct {
	Validator Validator
	Snapshots SnapshotStore
	Status    *StatusStore
	Flags     flags.Store
	Settings  SettingsStore
	Logger    *slog.Logger
}

// Result is the outcome of a transition.
type Result struct {
	Success  bool           `json:"success"`
	Phase    Phase          `json:"phase"`
	Message  string         `json:"message"`
	Flags    *flags.Flags   `json:"flags,omitempty"`
	Report   *compat.Report `json:"report,omitempty"`
	Snapshot *SnapshotInfo  `json:"snapshot,omitempty"`
}

// SnapshotInfo identifies a snapshot without its payload.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Progress is the caller-facing summary returned by Progress.
type Progress struct {
	Phase             Phase         `json:"phase"`
	Progress          int           `json:"progress"`
	Flags             flags.Flags   `json:"flags"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	RolledBackAt      *time.Time    `json:"rolled_back_at,omitempty"`
	Errors            []string      `json:"errors"`
	Warnings          []string      `json:"warnings"`
	Revision          uint64        `json:"revision"`
	Snapshot          *SnapshotInfo `json:"snapshot,omitempty"`
	NextRolloutTarget int           `json:"next_rollout_target,omitempty"`
}

// Flag batches written by the transitions.
var (
	startFlags = flags.Patch{
		RESTAPIEnabled:           flags.Bool(true),
		AJAXFallbackEnabled:      flags.Bool(true),
		DualModeEnabled:          flags.Bool(true),
		ForceAJAX:                flags.Bool(false),
		GradualRolloutPercentage: flags.Int(25),
	}
	completeFlags = flags.Patch{
		RESTAPIEnabled:             flags.Bool(true),
		AJAXFallbackEnabled:        flags.Bool(false),
		DualModeEnabled:            flags.Bool(false),
		ForceAJAX:                  flags.Bool(false),
		GradualRolloutPercentage:   flags.Int(100),
		DeprecationWarningsEnabled: flags.Bool(true),
	}
	rollbackFlags = flags.Patch{
		RESTAPIEnabled:             flags.Bool(false),
		AJAXFallbackEnabled:        flags.Bool(true),
		DualModeEnabled:            flags.Bool(false),
		ForceAJAX:                  flags.Bool(true),
		DeprecationWarningsEnabled: flags.Bool(false),
	}
)

// Orchestrator runs migration transitions.
type Orchestrator struct {
	cfg       Config
	validator Validator
	snapshots SnapshotStore
	status    *StatusStore
	flags     flags.Store
	settings  SettingsStore
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Validator == nil:
		return nil, errors.New("migration: validator is required")
	case deps.Snapshots == nil:
		return nil, errors.New("migration: snapshot store is required")
	case deps.Status == nil:
		return nil, errors.New("migration: status store is required")
	case deps.Flags == nil:
		return nil, errors.New("migration: flag store is required")
	case deps.Settings == nil:
		return nil, errors.New("migration: settings store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg,
		validator: deps.Validator,
		snapshots: deps.Snapshots,
		status:    deps.Status,
		flags:     deps.Flags,
		settings:  deps.Settings,
		logger:    logger.With("component", "migration"),
		now:       time.Now,
	}, nil
}

// StartMigration validates the environment and begins the rollout at 25%.
//
// # Description
//
// When the validator reports the environment incompatible, nothing is
// written and ErrIncompatible is returned with the report in the Result.
// Otherwise the status moves to in_progress, a snapshot of the current
// settings and flags is saved, and the flags switch to dual mode at 25%.
// A snapshot failure puts the previous status back and returns
// ErrBackupFailed. A flag write failure also puts the previous status back,
// so the phase never reads in_progress while the flags are unchanged.
//
// Starting while a rollout is already running returns ErrInvalidTransition.
func (o *Orchestrator) StartMigration(ctx context.Context) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "migration.StartMigration")
	defer span.End()
	start := time.Now()
	defer func() { o.finish(ctx, span, transitionStart, start, res, err) }()

	o.mu.Lock()
	defer o.mu.Unlock()

	prev, err := o.status.load(ctx)
	if err != nil {
		return Result{Phase: PhaseNotStarted, Message: err.Error()}, err
	}
	if prev.Phase.Rolling() {
		return o.reject(prev, "migration already in progress")
	}

	report := o.validator.Validate(ctx)
	if !report.Compatible {
		o.logger.Warn("migration blocked by compatibility check", slog.Any("failed", report.Failed()))
		return Result{
			Phase:   prev.Phase,
			Message: "compatibility check failed",
			Report:  report,
		}, ErrIncompatible
	}

	now := o.now().UTC()
	next := Status{
		Phase:     PhaseInProgress,
		StartedAt: &now,
		Warnings:  slices.Clone(report.Warnings),
	}
	cur, err := o.status.swap(ctx, prev, next)
	if err != nil {
		return Result{Phase: prev.Phase, Message: err.Error()}, err
	}

	snap, err := o.takeSnapshot(ctx, now)
	if err != nil {
		if rerr := o.status.revert(ctx, cur, prev); rerr != nil {
			o.logger.Error("failed to revert migration status", slog.String("error", rerr.Error()))
		}
		o.logger.Error("migration snapshot failed", slog.String("error", err.Error()))
		return Result{Phase: prev.Phase, Message: err.Error(), Report: report}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	f, err := o.applyFlags(ctx, startFlags)
	if err != nil {
		res, err := o.abandon(ctx, cur, prev, err)
		res.Report = report
		return res, err
	}

	o.logger.Info("migration started", slog.String("snapshot_id", snap.ID))
	return Result{
		Success:  true,
		Phase:    PhaseInProgress,
		Message:  "migration started at 25% rollout",
		Flags:    f,
		Report:   report,
		Snapshot: &SnapshotInfo{ID: snap.ID, Timestamp: snap.Timestamp, Version: snap.Version},
	}, nil
}

// AdvanceRollout raises the rollout percentage.
//
// # Inputs
//
//   - target: 50, 75 or 100. Zero advances one step.
//
// # Outputs
//
//   - error: ErrInvalidTransition when no rollout is running or target does
//     not strictly increase the percentage.
func (o *Orchestrator) AdvanceRollout(ctx context.Context, target int) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "migration.AdvanceRollout")
	defer span.End()
	start := time.Now()
	defer func() { o.finish(ctx, span, transitionAdvance, start, res, err) }()

	o.mu.Lock()
	defer o.mu.Unlock()

	prev, err := o.status.load(ctx)
	if err != nil {
		return Result{Message: err.Error()}, err
	}
	if !prev.Phase.Rolling() {
		return o.reject(prev, fmt.Sprintf("cannot advance rollout from %s", prev.Phase))
	}

	current := prev.Phase.Percentage()
	if target == 0 {
		target = nextStep(current)
	}
	phase, ok := PhaseFor(target)
	if !ok || target <= current {
		return o.reject(prev, fmt.Sprintf("rollout target %d%% is not a step above %d%%", target, current))
	}

	next := prev.Status
	next.Phase = phase
	cur, err := o.status.swap(ctx, prev, next)
	if err != nil {
		return Result{Phase: prev.Phase, Message: err.Error()}, err
	}

	f, err := o.applyFlags(ctx, flags.Patch{GradualRolloutPercentage: flags.Int(target)})
	if err != nil {
		return o.abandon(ctx, cur, prev, err)
	}

	o.logger.Info("rollout advanced", slog.Int("from", current), slog.Int("to", target))
	return Result{
		Success: true,
		Phase:   phase,
		Message: fmt.Sprintf("rollout advanced to %d%%", target),
		Flags:   f,
	}, nil
}

// CompleteMigration converges the flags to REST only. Allowed from any phase.
func (o *Orchestrator) CompleteMigration(ctx context.Context) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "migration.CompleteMigration")
	defer span.End()
	start := time.Now()
	defer func() { o.finish(ctx, span, transitionComplete, start, res, err) }()

	o.mu.Lock()
	defer o.mu.Unlock()

	prev, err := o.status.load(ctx)
	if err != nil {
		return Result{Message: err.Error()}, err
	}

	now := o.now().UTC()
	next := prev.Status
	next.Phase = PhaseCompleted
	next.CompletedAt = &now
	cur, err := o.status.swap(ctx, prev, next)
	if err != nil {
		return Result{Phase: prev.Phase, Message: err.Error()}, err
	}

	f, err := o.applyFlags(ctx, completeFlags)
	if err != nil {
		return o.abandon(ctx, cur, prev, err)
	}

	o.logger.Info("migration completed", slog.String("from", string(prev.Phase)))
	return Result{Success: true, Phase: PhaseCompleted, Message: "migration completed", Flags: f}, nil
}

// RollbackMigration restores settings and flags from the snapshot and forces
// the legacy-only configuration.
//
// # Description
//
// Without a snapshot, ErrNoSnapshot is returned and nothing changes.
//
// The snapshot flags with the forced legacy values laid over them are
// written in one update, then the settings are imported. A flags blob that
// cannot be decoded still gets the forced legacy values, so rolled_back
// always means legacy only; the decode or settings error is recorded in the
// status and returned as ErrRestoreFailed. If the flag write itself fails,
// the previous status is put back.
func (o *Orchestrator) RollbackMigration(ctx context.Context) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "migration.RollbackMigration")
	defer span.End()
	start := time.Now()
	defer func() { o.finish(ctx, span, transitionRollback, start, res, err) }()

	o.mu.Lock()
	defer o.mu.Unlock()

	prev, err := o.status.load(ctx)
	if err != nil {
		return Result{Message: err.Error()}, err
	}

	snap, found, err := o.snapshots.Load(ctx)
	if err != nil {
		return Result{Phase: prev.Phase, Message: err.Error()}, err
	}
	if !found {
		return Result{Phase: prev.Phase, Message: ErrNoSnapshot.Error()}, ErrNoSnapshot
	}

	now := o.now().UTC()
	next := prev.Status
	next.Phase = PhaseRolledBack
	next.RolledBackAt = &now
	cur, err := o.status.swap(ctx, prev, next)
	if err != nil {
		return Result{Phase: prev.Phase, Message: err.Error()}, err
	}

	patch := rollbackFlags
	var restoreErrs []string
	if base, err := flags.Decode(snap.FeatureFlags); err != nil {
		restoreErrs = append(restoreErrs, fmt.Sprintf("feature flags: %v", err))
	} else {
		patch = flags.PatchFrom(base.Apply(rollbackFlags))
	}
	f, err := o.applyFlags(ctx, patch)
	if err != nil {
		return o.abandon(ctx, cur, prev, err)
	}
	if err := o.settings.Import(ctx, snap.Settings); err != nil {
		restoreErrs = append(restoreErrs, fmt.Sprintf("settings: %v", err))
	}
	if len(restoreErrs) > 0 {
		res, err := o.recordFailure(ctx, cur, fmt.Errorf("%w: %s", ErrRestoreFailed, strings.Join(restoreErrs, "; ")))
		res.Flags = f
		return res, err
	}

	o.logger.Info("migration rolled back", slog.String("snapshot_id", snap.ID))
	return Result{
		Success:  true,
		Phase:    PhaseRolledBack,
		Message:  "migration rolled back",
		Flags:    f,
		Snapshot: &SnapshotInfo{ID: snap.ID, Timestamp: snap.Timestamp, Version: snap.Version},
	}, nil
}

// Progress combines the status, flags and snapshot into one summary.
func (o *Orchestrator) Progress(ctx context.Context) (Progress, error) {
	st, err := o.status.Load(ctx)
	if err != nil {
		return Progress{}, err
	}
	f, err := o.flags.Flags(ctx)
	if err != nil {
		return Progress{}, err
	}
	snap, found, err := o.snapshots.Load(ctx)
	if err != nil {
		return Progress{}, err
	}

	p := Progress{
		Phase:        st.Phase.Normalize(),
		Progress:     st.Phase.Percentage(),
		Flags:        f,
		StartedAt:    st.StartedAt,
		CompletedAt:  st.CompletedAt,
		RolledBackAt: st.RolledBackAt,
		Errors:       st.Errors,
		Warnings:     st.Warnings,
		Revision:     st.Revision,
	}
	if found {
		p.Snapshot = &SnapshotInfo{ID: snap.ID, Timestamp: snap.Timestamp, Version: snap.Version}
	}
	if st.Phase.Rolling() {
		p.NextRolloutTarget = nextStep(p.Progress)
	}
	return p, nil
}

// Status returns the persisted status.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	return o.status.Load(ctx)
}

func (o *Orchestrator) takeSnapshot(ctx context.Context, now time.Time) (Snapshot, error) {
	settingsRaw, err := o.settings.Export(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("export settings: %w", err)
	}
	flagsRaw, err := o.flags.Raw(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("export feature flags: %w", err)
	}

	env := map[string]string{
		"go_version": runtime.Version(),
		"goos":       runtime.GOOS,
		"goarch":     runtime.GOARCH,
	}
	maps.Copy(env, o.cfg.Environment)

	snap := Snapshot{
		ID:           uuid.NewString(),
		Timestamp:    now,
		Version:      o.cfg.Version,
		Settings:     settingsRaw,
		FeatureFlags: flagsRaw,
		Environment:  env,
	}
	if err := o.snapshots.Save(ctx, snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// applyFlags writes a flag batch and returns the flags that result. An error
// means nothing was written. A failed read after a successful write only
// drops the flags from the Result.
func (o *Orchestrator) applyFlags(ctx context.Context, patch flags.Patch) (*flags.Flags, error) {
	if err := o.flags.Update(ctx, patch); err != nil {
		return nil, fmt.Errorf("update feature flags: %w", err)
	}
	f, err := o.flags.Flags(ctx)
	if err != nil {
		o.logger.Warn("failed to read feature flags after update", slog.String("error", err.Error()))
		return nil, nil
	}
	return &f, nil
}

// abandon undoes the status swap from prev to cur after a later step failed,
// then records cause against whichever status is stored.
func (o *Orchestrator) abandon(ctx context.Context, cur, prev statusVersion, cause error) (Result, error) {
	if err := o.status.revert(ctx, cur, prev); err != nil {
		o.logger.Error("failed to revert migration status", slog.String("error", err.Error()))
		return o.recordFailure(ctx, cur, cause)
	}
	return o.recordFailure(ctx, prev, cause)
}

func (o *Orchestrator) recordFailure(ctx context.Context, cur statusVersion, cause error) (Result, error) {
	o.logger.Error("migration transition failed", slog.String("error", cause.Error()))
	next := cur.Status
	next.Errors = append(slices.Clone(next.Errors), fmt.Sprintf("%s: %s", o.now().UTC().Format(time.RFC3339), cause))
	if _, err := o.status.swap(ctx, cur, next); err != nil {
		o.logger.Error("failed to record migration error", slog.String("error", err.Error()))
	}
	return Result{Phase: cur.Phase, Message: cause.Error()}, cause
}

func (o *Orchestrator) reject(prev statusVersion, msg string) (Result, error) {
	return Result{Phase: prev.Phase, Message: msg}, fmt.Errorf("%w: %s", ErrInvalidTransition, msg)
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, transition string, start time.Time, res Result, err error) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.String("migration.transition", transition),
		attribute.String("migration.phase", string(res.Phase)),
		attribute.Bool("migration.success", res.Success),
	)
	recordTransition(ctx, transition, time.Since(start), outcome, res.Phase.Percentage())
}

// nextStep returns the rollout step after current, capped at 100.
func nextStep(current int) int {
	for _, step := range RolloutSteps {
		if step > current {
			return step
		}
	}
	return 100
}
