// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the orchestrator's HTTP endpoints.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/conversation"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/middleware"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/observability"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/services"
)

var queryTracer = otel.Tracer("compliancegpt.orchestrator.handlers.query")

// QueryHandler serves POST /api/query.
//
// # Description
//
// Authenticated callers get their question and answer persisted. With no
// conversation_id a conversation is created and titled from the question;
// with one, the caller must own it. Anonymous callers are answered but
// nothing is stored.
//
// # Thread Safety
//
// Safe for concurrent use.
type QueryHandler struct {
	queries   *services.QueryService
	persister *conversation.Persister
	metrics   *observability.Metrics
	keepAlive time.Duration
}

// NewQueryHandler creates a QueryHandler. persister and metrics may be nil;
// without a persister no conversation is ever bound.
func NewQueryHandler(queries *services.QueryService, persister *conversation.Persister, metrics *observability.Metrics, keepAlive time.Duration) *QueryHandler {
	if queries == nil {
		panic("NewQueryHandler: queries must not be nil")
	}
	return &QueryHandler{queries: queries, persister: persister, metrics: metrics, keepAlive: keepAlive}
}

// boundConversation is the conversation a query is persisted into.
type boundConversation struct {
	userID string
	id     string
	minted bool
}

func (b boundConversation) active() bool { return b.id != "" }

// HandleQuery answers a compliance question.
//
// # Outputs
//
// With stream=false, 200 and a datatypes.QueryResponse. With stream=true,
// a text/event-stream of datatypes.StreamEvent frames.
//
// HTTP Status (before streaming starts):
//   - 400: Invalid body
//   - 401: A bearer token was presented and rejected (see OptionalAuthMiddleware)
//   - 403: conversation_id is not owned by the caller
//   - 500: The conversation store failed
//
// Provider outages are not errors: the answer is an apology instead.
func (h *QueryHandler) HandleQuery(c *gin.Context) {
	var req datatypes.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithDetail(c, h.metrics, observability.EndpointQuery, http.StatusBadRequest, observability.ErrorCodeValidation, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		abortWithDetail(c, h.metrics, observability.EndpointQuery, http.StatusBadRequest, observability.ErrorCodeValidation, "Invalid request: "+err.Error())
		return
	}

	ctx, span := queryTracer.Start(c.Request.Context(), "HandleQuery")
	defer span.End()
	span.SetAttributes(attribute.Bool("query.stream", req.Stream))

	conv, ok := h.bindConversation(ctx, c, &req)
	if !ok {
		return
	}

	if req.Stream {
		h.streamAnswer(ctx, c, &req, conv)
		return
	}

	result := h.queries.Process(ctx, req.Question, req.Frameworks)
	h.persistAnswer(conv, &result, result.Answer)
	c.JSON(http.StatusOK, result.ToResponse(conv.id))
}

// bindConversation resolves the target conversation and stores the user
// turn. It writes the error response itself and returns false on failure.
func (h *QueryHandler) bindConversation(ctx context.Context, c *gin.Context, req *datatypes.QueryRequest) (boundConversation, bool) {
	info := middleware.GetAuthInfo(c)
	if info == nil || h.persister == nil {
		return boundConversation{}, true
	}

	conv := boundConversation{userID: info.UserID, id: req.ConversationID}
	if conv.id == "" {
		created, err := h.persister.Store().CreateConversation(ctx, info.UserID, datatypes.TitleFromQuestion(req.Question))
		if err != nil {
			slog.Error("Failed to create conversation", "user_id", info.UserID, "error", err)
			abortWithDetail(c, h.metrics, observability.EndpointQuery, http.StatusInternalServerError, observability.ErrorCodeInternal, detailQueryFailed)
			return boundConversation{}, false
		}
		conv.id = created.ID
		conv.minted = true
	}

	_, err := h.persister.Save(ctx, conversation.Turn{
		UserID:         conv.userID,
		ConversationID: conv.id,
		Message:        datatypes.Message{Role: datatypes.RoleUser, Content: req.Question},
	})
	switch {
	case err == nil:
		return conv, true
	case errors.Is(err, conversation.ErrForbidden):
		abortWithDetail(c, h.metrics, observability.EndpointQuery, http.StatusForbidden, observability.ErrorCodeForbidden, detailForbidden)
	default:
		slog.Error("Failed to persist user turn", "conversation_id", conv.id, "error", err)
		abortWithDetail(c, h.metrics, observability.EndpointQuery, http.StatusInternalServerError, observability.ErrorCodeInternal, detailQueryFailed)
	}
	return boundConversation{}, false
}

func (h *QueryHandler) streamAnswer(ctx context.Context, c *gin.Context, req *datatypes.QueryRequest, conv boundConversation) {
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		slog.Error("Streaming not supported", "error", err)
		abortWithDetail(c, h.metrics, observability.EndpointQuery, http.StatusInternalServerError, observability.ErrorCodeInternal, detailQueryFailed)
		return
	}
	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	mintedID := ""
	if conv.minted {
		mintedID = conv.id
	}

	session := NewStreamSession(writer, h.metrics, h.keepAlive)
	out := session.Run(ctx, mintedID, func(ctx context.Context) *services.StreamPlan {
		return h.queries.PrepareStream(ctx, req.Question, req.Frameworks)
	})
	if out.Plan == nil {
		return
	}
	h.queries.RecordStream(out.Plan)
	h.persistAnswer(conv, &out.Plan.Result, out.Answer)
}

// persistAnswer queues the assistant turn. An empty answer is never stored,
// so a client that left before any content leaves only the user turn.
func (h *QueryHandler) persistAnswer(conv boundConversation, result *datatypes.QueryResult, answer string) {
	if !conv.active() || answer == "" {
		return
	}
	h.persister.Submit(conversation.Turn{
		UserID:         conv.userID,
		ConversationID: conv.id,
		Message: datatypes.Message{
			Role:           datatypes.RoleAssistant,
			Content:        answer,
			Citations:      result.Citations,
			Evidence:       result.Chunks,
			FrameworksUsed: result.Citations,
			ModeFlags:      result.Modes,
		},
	})
}
