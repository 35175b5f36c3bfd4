// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BhavyaBibra/ComplianceGPT/pkg/extensions"
	"github.com/BhavyaBibra/ComplianceGPT/services/llm"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/conversation"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/middleware"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/observability"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/services"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type emptyRetriever struct{}

func (emptyRetriever) Retrieve(context.Context, string, []string, int) []datatypes.RetrievedChunk {
	return nil
}

type echoGenerator struct{}

func (echoGenerator) Generate(context.Context, llm.Profile, string, string) string {
	return "mock answer"
}

func (echoGenerator) GenerateStream(context.Context, llm.Profile, string, string) <-chan string {
	ch := make(chan string, 1)
	ch <- "mock answer"
	close(ch)
	return ch
}

func (echoGenerator) GenerateReport(context.Context, string, string) string {
	return "# mock report"
}

// rejectingAuth accepts no one.
type rejectingAuth struct{}

func (rejectingAuth) Validate(context.Context, string) (*extensions.AuthInfo, error) {
	return nil, extensions.ErrUnauthorized
}

func testDeps(t *testing.T, withStore bool) Dependencies {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	deps := Dependencies{
		Queries:  services.NewQueryService(emptyRetriever{}, echoGenerator{}, metrics),
		Reports:  services.NewReportService(echoGenerator{}),
		Metrics:  metrics,
		Gatherer: reg,
		Options:  extensions.DefaultOptions(),
	}
	if withStore {
		store, err := conversation.OpenBadgerStore(conversation.BadgerConfig{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		deps.Persister, err = conversation.NewPersister(store, 1, time.Second)
		require.NoError(t, err)
	}
	return deps
}

func hasRoute(router *gin.Engine, method, path string) bool {
	for _, r := range router.Routes() {
		if r.Method == method && r.Path == path {
			return true
		}
	}
	return false
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersAPI(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, testDeps(t, true))

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/api/health"},
		{"GET", "/metrics"},
		{"POST", "/api/query"},
		{"POST", "/api/report"},
		{"GET", "/api/conversations"},
		{"POST", "/api/conversations"},
		{"GET", "/api/conversations/:id"},
		{"POST", "/api/conversations/:id/message"},
		{"DELETE", "/api/conversations/:id"},
	}
	for _, e := range expected {
		assert.True(t, hasRoute(router, e.method, e.path), "%s %s should be registered", e.method, e.path)
	}
	assert.Len(t, router.Routes(), len(expected))
}

func TestSetupRoutes_NoStoreSkipsConversations(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, testDeps(t, false))

	assert.True(t, hasRoute(router, "POST", "/api/query"))
	assert.False(t, hasRoute(router, "GET", "/api/conversations"))
}

func TestSetupRoutes_HealthEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, testDeps(t, false))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, testDeps(t, false))

	body := `{"question":"What does AC-2 require?"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "compliancegpt_query_duration_seconds")
}

func TestSetupRoutes_ConversationsRequireAuth(t *testing.T) {
	deps := testDeps(t, true)
	deps.Options = deps.Options.WithAuth(rejectingAuth{})
	router := gin.New()
	SetupRoutes(router, deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// /api/query stays open to anonymous callers.
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"question":"q"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_RateLimited(t *testing.T) {
	deps := testDeps(t, false)
	deps.RateLimiter = middleware.NewRateLimiter(0.001, 1)
	router := gin.New()
	SetupRoutes(router, deps)

	post := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/report",
			strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusTooManyRequests, post())
}
