// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry records per-request API metrics for the bridge.
//
// # Description
//
// The endpoint registry's timing middleware produces one RequestMetric per
// request inside the REST namespace and hands it to a Sink. Sinks must never
// fail the caller: they have no error return, and the middleware additionally
// recovers from panics raised by a misbehaving sink.
//
// Implementations:
//   - PrometheusSink: counters and latency histograms on a prometheus registry.
//   - OTelSink: the same measurements through the OpenTelemetry metric API.
//   - MultiSink: fan-out to several sinks.
//   - NopSink: discards everything.
//
// # Thread Safety
//
// All sinks are safe for concurrent use.
package telemetry

// RequestMetric describes one completed request. It is created when dispatch
// starts and discarded once the sink has consumed it.
type RequestMetric struct {
	Route          string  `json:"route"`
	Method         string  `json:"method"`
	StatusCode     int     `json:"status_code"`
	ResponseTimeMs float64 `json:"response_time_ms"`
}

// Sink receives request metrics.
type Sink interface {
	// TrackAPICall records one request. Must not panic or block for long.
	TrackAPICall(endpoint, method string, responseTimeMs float64, statusCode int)
}

// Track forwards m to sink.
func Track(sink Sink, m RequestMetric) {
	sink.TrackAPICall(m.Route, m.Method, m.ResponseTimeMs, m.StatusCode)
}

// NopSink discards all metrics.
type NopSink struct{}

func (NopSink) TrackAPICall(string, string, float64, int) {}

// MultiSink forwards every metric to each of its sinks in order.
type MultiSink []Sink

func (m MultiSink) TrackAPICall(endpoint, method string, responseTimeMs float64, statusCode int) {
	for _, s := range m {
		s.TrackAPICall(endpoint, method, responseTimeMs, statusCode)
	}
}

var (
	_ Sink = NopSink{}
	_ Sink = MultiSink(nil)
)
