// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelSink records request metrics through the OpenTelemetry metric API.
type OTelSink struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewOTelSink creates the instruments on meter.
//
// Returns an error if an instrument cannot be created.
func NewOTelSink(meter metric.Meter) (*OTelSink, error) {
	requests, err := meter.Int64Counter(
		"bridge_api_requests_total",
		metric.WithDescription("Total REST API requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}

	latency, err := meter.Float64Histogram(
		"bridge_api_response_time_ms",
		metric.WithDescription("REST API response time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}

	return &OTelSink{requests: requests, latency: latency}, nil
}

// TrackAPICall records one request.
func (s *OTelSink) TrackAPICall(endpoint, method string, responseTimeMs float64, statusCode int) {
	attrs := metric.WithAttributes(
		attribute.String("route", endpoint),
		attribute.String("method", method),
		attribute.Int("status_code", statusCode),
	)
	ctx := context.Background()
	s.requests.Add(ctx, 1, attrs)
	s.latency.Record(ctx, responseTimeMs, attrs)
}

var _ Sink = (*OTelSink)(nil)
