// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordQuery("standard", TransportSync, 1.2, 5)
	m.RecordError(EndpointQuery, ErrorCodeInternal)
	m.StreamStarted()
	m.StreamEnded(3, true)
	m.RecordTimeToFirstToken(0.4)
	m.RecordKeepAlive()
	m.RecordClientDisconnect()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"compliancegpt_query_requests_total",
		"compliancegpt_query_duration_seconds",
		"compliancegpt_query_retrieved_chunks",
		"compliancegpt_streaming_active_streams",
		"compliancegpt_streaming_time_to_first_token_seconds",
		"compliancegpt_streaming_stream_duration_seconds",
		"compliancegpt_streaming_client_disconnects_total",
		"compliancegpt_streaming_keepalives_total",
		"compliancegpt_errors_total",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestMetrics_RecordQuery(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordQuery("mapping", TransportStream, 2, 6)
	m.RecordQuery("mapping", TransportStream, 1, 4)
	m.RecordQuery("incident", TransportSync, 1, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("mapping", "stream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("incident", "sync")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("standard", "sync")))
}

func TestMetrics_StreamLifecycle(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.StreamStarted()
	m.StreamStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveStreams))

	m.StreamEnded(10, true)
	m.RecordClientDisconnect()
	m.StreamEnded(1, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveStreams))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientDisconnectsTotal))
	assert.Equal(t, 2, testutil.CollectAndCount(m.StreamDurationSeconds))
}

func TestMetrics_RecordError(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordError(EndpointConversations, ErrorCodeForbidden)
	m.RecordError(EndpointConversations, ErrorCodeForbidden)
	m.RecordError(EndpointReport, ErrorCodeValidation)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("conversations", "forbidden")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("report", "validation")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordQuery("standard", TransportSync, 1, 1)
		m.RecordError(EndpointQuery, ErrorCodeInternal)
		m.StreamStarted()
		m.StreamEnded(1, true)
		m.RecordTimeToFirstToken(1)
		m.RecordKeepAlive()
		m.RecordClientDisconnect()
	})
}

func TestInitTracer_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown(context.Background())
}
