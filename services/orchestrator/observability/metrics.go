// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing for the orchestrator.
//
// # Description
//
// Metrics cover the query pipeline and its streaming transport:
//   - Queries by route mode and transport
//   - End-to-end pipeline latency
//   - Evidence volume per query
//   - Active streams, time to first token, stream duration
//   - Errors by endpoint and code
//
// Metrics are exposed on /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe. Every method on a nil *Metrics is
// a no-op, so components can be built without metrics in tests.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "compliancegpt"

const (
	querySubsystem     = "query"
	streamingSubsystem = "streaming"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	// QueriesTotal counts answered queries.
	// Labels: mode (standard, mapping, incident), transport (sync, stream)
	QueriesTotal *prometheus.CounterVec

	// QueryDurationSeconds measures classify-to-answer latency.
	// Labels: mode
	QueryDurationSeconds *prometheus.HistogramVec

	// RetrievedChunks observes how many evidence chunks backed an answer.
	// Labels: mode
	RetrievedChunks *prometheus.HistogramVec

	// ActiveStreams tracks open event streams.
	ActiveStreams prometheus.Gauge

	// TimeToFirstTokenSeconds measures request start to first content event.
	TimeToFirstTokenSeconds prometheus.Histogram

	// StreamDurationSeconds measures total stream duration.
	// Labels: status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ClientDisconnectsTotal counts streams the client abandoned.
	ClientDisconnectsTotal prometheus.Counter

	// KeepAlivesTotal counts keepalive comments written.
	KeepAlivesTotal prometheus.Counter

	// ErrorsTotal counts request failures.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
//
// # Description
//
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests. A nil reg creates unregistered
// collectors.
//
// # Limitations
//
//   - Panics on duplicate registration against the same registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "requests_total",
				Help:      "Total answered queries by route mode and transport",
			},
			[]string{"mode", "transport"},
		),

		QueryDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "duration_seconds",
				Help:      "Query pipeline latency in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),

		RetrievedChunks: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "retrieved_chunks",
				Help:      "Evidence chunks attached to each answer",
				Buckets:   []float64{0, 1, 2, 3, 5, 8},
			},
			[]string{"mode"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open query streams",
			},
		),

		TimeToFirstTokenSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first content event in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		ClientDisconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
		),

		KeepAlivesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive comments sent",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "errors_total",
				Help:      "Total request failures by endpoint and code",
			},
			[]string{"endpoint", "error_code"},
		),
	}
}

// =============================================================================
// Label Values
// =============================================================================

// ErrorCode categorizes a failure for metrics.
type ErrorCode string

const (
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeUnauthorized     ErrorCode = "unauthorized"
	ErrorCodeForbidden        ErrorCode = "forbidden"
	ErrorCodeNotFound         ErrorCode = "not_found"
	ErrorCodeRateLimited      ErrorCode = "rate_limited"
	ErrorCodeInternal         ErrorCode = "internal"
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// Endpoint labels the HTTP surface a metric came from.
type Endpoint string

const (
	EndpointQuery         Endpoint = "query"
	EndpointReport        Endpoint = "report"
	EndpointConversations Endpoint = "conversations"
)

// Transport labels how an answer was delivered.
type Transport string

const (
	TransportSync   Transport = "sync"
	TransportStream Transport = "stream"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordQuery records one answered query.
func (m *Metrics) RecordQuery(mode string, transport Transport, seconds float64, chunks int) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(mode, string(transport)).Inc()
	m.QueryDurationSeconds.WithLabelValues(mode).Observe(seconds)
	m.RetrievedChunks.WithLabelValues(mode).Observe(float64(chunks))
}

// RecordError records a request failure.
func (m *Metrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active streams gauge and records the
// stream's duration.
func (m *Metrics) StreamEnded(seconds float64, success bool) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordTimeToFirstToken records first-token latency.
func (m *Metrics) RecordTimeToFirstToken(seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.Observe(seconds)
}

// RecordKeepAlive increments the keepalive counter.
func (m *Metrics) RecordKeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *Metrics) RecordClientDisconnect() {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.Inc()
}
