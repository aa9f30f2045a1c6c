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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for migration transitions.
var (
	tracer = otel.Tracer("aleutian.bridge.migration")
	meter  = otel.Meter("aleutian.bridge.migration")
)

var (
	transitionTotal   metric.Int64Counter
	transitionLatency metric.Float64Histogram
	rolloutPercentage metric.Int64Gauge

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		transitionTotal, err = meter.Int64Counter(
			"bridge_migration_transitions_total",
			metric.WithDescription("Migration transitions by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transitionLatency, err = meter.Float64Histogram(
			"bridge_migration_transition_duration_seconds",
			metric.WithDescription("Duration of migration transitions"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rolloutPercentage, err = meter.Int64Gauge(
			"bridge_migration_rollout_percentage",
			metric.WithDescription("Current REST rollout percentage"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordTransition(ctx context.Context, transition string, duration time.Duration, outcome string, percentage int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("transition", transition),
		attribute.String("outcome", outcome),
	)
	transitionTotal.Add(ctx, 1, attrs)
	transitionLatency.Record(ctx, duration.Seconds(), attrs)
	if outcome == outcomeSuccess {
		rolloutPercentage.Record(ctx, int64(percentage))
	}
}
