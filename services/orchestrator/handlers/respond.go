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
	"github.com/gin-gonic/gin"

	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/observability"
)

// Client-facing error details. Internal causes are logged, never returned.
const (
	detailQueryFailed        = "Internal server error executing query."
	detailConversationFailed = "Database error accessing conversations"
	detailNotFound           = "Conversation not found or unauthorized"
	detailForbidden          = "Unauthorized to modify this conversation"
	detailUnauthorized       = "Authentication required"
)

// abortWithDetail writes {"detail": ...} with status and counts the error.
func abortWithDetail(c *gin.Context, metrics *observability.Metrics, endpoint observability.Endpoint, status int, code observability.ErrorCode, detail string) {
	metrics.RecordError(endpoint, code)
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
