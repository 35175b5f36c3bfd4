// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BhavyaBibra/ComplianceGPT/pkg/extensions"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/conversation"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/middleware"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/observability"
)

// ConversationHandler serves the /api/conversations endpoints. Every route
// must sit behind AuthMiddleware; all reads and writes are scoped to the
// authenticated user.
type ConversationHandler struct {
	persister *conversation.Persister
	audit     extensions.AuditLogger
	metrics   *observability.Metrics
}

// NewConversationHandler creates a ConversationHandler. A nil audit logger
// discards events.
func NewConversationHandler(persister *conversation.Persister, audit extensions.AuditLogger, metrics *observability.Metrics) *ConversationHandler {
	if persister == nil {
		panic("NewConversationHandler: persister must not be nil")
	}
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &ConversationHandler{persister: persister, audit: audit, metrics: metrics}
}

func (h *ConversationHandler) store() conversation.Store {
	return h.persister.Store()
}

// userID returns the caller or aborts with 401.
func (h *ConversationHandler) userID(c *gin.Context) (string, bool) {
	info := middleware.GetAuthInfo(c)
	if info == nil || info.UserID == "" {
		abortWithDetail(c, h.metrics, observability.EndpointConversations, http.StatusUnauthorized, observability.ErrorCodeUnauthorized, detailUnauthorized)
		return "", false
	}
	return info.UserID, true
}

func (h *ConversationHandler) record(ctx context.Context, userID, action, id, outcome string) {
	err := h.audit.Log(ctx, extensions.AuditEvent{
		EventType:    "conversation",
		UserID:       userID,
		Action:       action,
		ResourceType: "conversation",
		ResourceID:   id,
		Outcome:      outcome,
	})
	if err != nil {
		slog.Warn("Failed to write audit event", "action", action, "error", err)
	}
}

func (h *ConversationHandler) internalError(c *gin.Context, op string, err error) {
	slog.Error("Conversation store failed", "op", op, "error", err)
	abortWithDetail(c, h.metrics, observability.EndpointConversations, http.StatusInternalServerError, observability.ErrorCodeInternal, detailConversationFailed)
}

// List handles GET /api/conversations, most recently active first.
func (h *ConversationHandler) List(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	conversations, err := h.store().ListConversations(c.Request.Context(), userID)
	if err != nil {
		h.internalError(c, "list", err)
		return
	}
	if conversations == nil {
		conversations = []datatypes.Conversation{}
	}
	c.JSON(http.StatusOK, conversations)
}

// Create handles POST /api/conversations. The body is optional; an empty
// title becomes datatypes.DefaultConversationTitle.
func (h *ConversationHandler) Create(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var req datatypes.ConversationCreateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithDetail(c, h.metrics, observability.EndpointConversations, http.StatusBadRequest, observability.ErrorCodeValidation, "Invalid request body")
			return
		}
	}
	if err := req.Validate(); err != nil {
		abortWithDetail(c, h.metrics, observability.EndpointConversations, http.StatusBadRequest, observability.ErrorCodeValidation, "Invalid request: "+err.Error())
		return
	}

	conv, err := h.store().CreateConversation(c.Request.Context(), userID, req.Title)
	if err != nil {
		h.internalError(c, "create", err)
		return
	}
	slog.Info("Created conversation", "conversation_id", conv.ID, "user_id", userID)
	c.JSON(http.StatusOK, conv)
}

// Get handles GET /api/conversations/:id.
func (h *ConversationHandler) Get(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	id := c.Param("id")
	detail, err := h.store().GetConversation(c.Request.Context(), userID, id)
	if errors.Is(err, conversation.ErrNotFound) {
		abortWithDetail(c, h.metrics, observability.EndpointConversations, http.StatusNotFound, observability.ErrorCodeNotFound, detailNotFound)
		return
	}
	if err != nil {
		h.internalError(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// AppendMessage handles POST /api/conversations/:id/message. The message
// is stored and the conversation's activity time bumped before replying.
func (h *ConversationHandler) AppendMessage(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var req datatypes.MessageCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithDetail(c, h.metrics, observability.EndpointConversations, http.StatusBadRequest, observability.ErrorCodeValidation, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		abortWithDetail(c, h.metrics, observability.EndpointConversations, http.StatusBadRequest, observability.ErrorCodeValidation, "Invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	msg, err := h.persister.Save(ctx, conversation.Turn{UserID: userID, ConversationID: id, Message: req.ToMessage()})
	if errors.Is(err, conversation.ErrForbidden) {
		h.record(ctx, userID, "append_message", id, extensions.OutcomeDenied)
		abortWithDetail(c, h.metrics, observability.EndpointConversations, http.StatusForbidden, observability.ErrorCodeForbidden, detailForbidden)
		return
	}
	if err != nil && msg.ID == "" {
		h.internalError(c, "append", err)
		return
	}
	if err != nil {
		// The message is stored; only the activity bump failed.
		slog.Warn("Failed to touch conversation", "conversation_id", id, "error", err)
	}
	c.JSON(http.StatusOK, msg)
}

// Delete handles DELETE /api/conversations/:id.
func (h *ConversationHandler) Delete(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	err := h.store().DeleteConversation(ctx, userID, id)
	if errors.Is(err, conversation.ErrNotFound) {
		h.record(ctx, userID, "delete", id, extensions.OutcomeDenied)
		abortWithDetail(c, h.metrics, observability.EndpointConversations, http.StatusNotFound, observability.ErrorCodeNotFound, "Conversation not found or already deleted")
		return
	}
	if err != nil {
		h.record(ctx, userID, "delete", id, extensions.OutcomeFailure)
		h.internalError(c, "delete", err)
		return
	}
	h.record(ctx, userID, "delete", id, extensions.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_id": id})
}
