// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header, validates it with the configured AuthProvider, and stores the
// resulting AuthInfo in the gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
//
// # Open Source Behavior
//
// With NopAuthProvider (default) every request is authenticated as
// "local-user", so conversations work without any identity backend.
//
// # Supabase Behavior
//
// SupabaseAuthProvider validates the token against Supabase Auth and the
// user's id scopes every conversation operation.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/BhavyaBibra/ComplianceGPT/pkg/extensions"
)

// =============================================================================
// Context Keys
// =============================================================================

const authInfoKey = "compliancegpt_auth_info"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated user in the gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the authenticated user, or nil when the request is
// anonymous.
//
// # Examples
//
//	func (h *handler) List(c *gin.Context) {
//	    authInfo := middleware.GetAuthInfo(c)
//	    if authInfo == nil {
//	        c.JSON(http.StatusUnauthorized, gin.H{"detail": "not authenticated"})
//	        return
//	    }
//	    // scope reads by authInfo.UserID
//	}
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware rejects requests the provider does not authenticate.
//
// # Description
//
// Responds 401 with {"detail": ...} when validation fails. A provider
// error that is not ErrUnauthorized is logged, since it points at the
// identity backend rather than the caller.
//
// # Examples
//
//	conversations := api.Group("/conversations")
//	conversations.Use(middleware.AuthMiddleware(opts.AuthProvider))
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"detail": "Missing or invalid authorization token",
				})
				return
			}
			slog.Error("Auth provider failure", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "Authentication failed",
			})
			return
		}
		if authInfo == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "Invalid token",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// OptionalAuthMiddleware attaches the user when the provider accepts the
// request and otherwise lets it through anonymously.
//
// # Description
//
// Used on routes that work without an identity but persist state when one
// is present, such as /api/query. A presented token that fails validation
// is still rejected with 401 so a client with an expired session finds out.
func OptionalAuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		switch {
		case err == nil && authInfo != nil:
			SetAuthInfo(c, authInfo)
		case token != "":
			if err != nil && !errors.Is(err, extensions.ErrUnauthorized) {
				slog.Error("Auth provider failure", "error", err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "Missing or invalid authorization token",
			})
			return
		}
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken returns the token from "Authorization: Bearer <token>",
// or "" when the header is missing or uses another scheme. The scheme is
// matched case-insensitively per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
