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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all bridge metrics
const metricsNamespace = "aleutian"

// Subsystem for bridge API metrics
const bridgeSubsystem = "bridge"

// PrometheusSink holds the Prometheus collectors for REST API traffic.
//
// # Fields
//
//   - RequestsTotal: Counter of requests by route, method and status code
//   - ResponseTimeSeconds: Histogram of response times by route and method
//   - ServerErrorsTotal: Counter of 5xx responses by route
//
// # Thread Safety
//
// All operations are thread-safe via Prometheus's internal locking.
type PrometheusSink struct {
	// RequestsTotal counts requests.
	// Labels: route, method, status
	RequestsTotal *prometheus.CounterVec

	// ResponseTimeSeconds measures request latency.
	// Labels: route, method
	ResponseTimeSeconds *prometheus.HistogramVec

	// ServerErrorsTotal counts 5xx responses.
	// Labels: route
	ServerErrorsTotal *prometheus.CounterVec
}

// NewPrometheusSink creates and registers the bridge API collectors.
//
// # Description
//
// Collectors are registered on reg rather than the global default registry
// so that tests and multiple instances do not collide.
//
// # Inputs
//
//   - reg: Registerer to attach collectors to. Must not be nil.
//
// # Outputs
//
//   - *PrometheusSink: The sink.
//
// # Limitations
//
//   - Panics if the same registerer already holds these collectors.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)
	return &PrometheusSink{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: bridgeSubsystem,
				Name:      "requests_total",
				Help:      "Total REST API requests by route, method and status code",
			},
			[]string{"route", "method", "status"},
		),

		ResponseTimeSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: bridgeSubsystem,
				Name:      "response_time_seconds",
				Help:      "REST API response time in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"route", "method"},
		),

		ServerErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: bridgeSubsystem,
				Name:      "server_errors_total",
				Help:      "Total REST API responses with a 5xx status by route",
			},
			[]string{"route"},
		),
	}
}

// TrackAPICall records one request.
func (s *PrometheusSink) TrackAPICall(endpoint, method string, responseTimeMs float64, statusCode int) {
	s.RequestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(statusCode)).Inc()
	s.ResponseTimeSeconds.WithLabelValues(endpoint, method).Observe(responseTimeMs / 1000)
	if statusCode >= 500 {
		s.ServerErrorsTotal.WithLabelValues(endpoint).Inc()
	}
}

var _ Sink = (*PrometheusSink)(nil)
