// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes registers the orchestrator's HTTP surface.
package routes

import (
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BhavyaBibra/ComplianceGPT/pkg/extensions"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/conversation"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/handlers"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/middleware"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/observability"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/services"
)

// Dependencies are the collaborators the routes are built from.
type Dependencies struct {
	Queries *services.QueryService
	Reports *services.ReportService

	// Persister enables conversation persistence and the
	// /api/conversations routes. nil disables both.
	Persister *conversation.Persister

	// Metrics may be nil.
	Metrics *observability.Metrics

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// RateLimiter throttles /api/query and /api/report. nil disables it.
	RateLimiter *middleware.RateLimiter

	// KeepAlive is the SSE keepalive interval.
	KeepAlive time.Duration

	Options extensions.ServiceOptions
}

// SetupRoutes registers every endpoint on router.
//
//	GET    /api/health
//	POST   /api/query                      optional auth, rate limited
//	POST   /api/report                     rate limited
//	GET    /api/conversations              auth
//	POST   /api/conversations              auth
//	GET    /api/conversations/:id          auth
//	POST   /api/conversations/:id/message  auth
//	DELETE /api/conversations/:id          auth
//	GET    /metrics
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	opts := deps.Options.Normalize()

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	api.GET("/health", handlers.HealthCheck)

	throttled := []gin.HandlerFunc{middleware.OptionalAuthMiddleware(opts.AuthProvider)}
	if deps.RateLimiter != nil {
		throttled = append(throttled, deps.RateLimiter.Middleware())
	}
	throttled = slices.Clip(throttled)

	query := handlers.NewQueryHandler(deps.Queries, deps.Persister, deps.Metrics, deps.KeepAlive)
	api.POST("/query", append(throttled, query.HandleQuery)...)
	api.POST("/report", append(throttled, handlers.HandleReport(deps.Reports, deps.Metrics))...)

	if deps.Persister == nil {
		return
	}
	conversations := handlers.NewConversationHandler(deps.Persister, opts.AuditLogger, deps.Metrics)
	group := api.Group("/conversations")
	group.Use(middleware.AuthMiddleware(opts.AuthProvider))
	{
		group.GET("", conversations.List)
		group.POST("", conversations.Create)
		group.GET("/:id", conversations.Get)
		group.POST("/:id/message", conversations.AppendMessage)
		group.DELETE("/:id", conversations.Delete)
	}
}
