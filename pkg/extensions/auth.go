// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned by AuthProvider.Validate for a missing,
// malformed, or rejected token.
var ErrUnauthorized = errors.New("unauthorized")

// LocalUserID is the identity NopAuthProvider assigns to every request.
const LocalUserID = "local-user"

// AuthInfo is the authenticated identity attached to a request.
type AuthInfo struct {
	// UserID scopes every conversation read and write.
	UserID string

	// Email is informational; it may be empty.
	Email string

	// Roles granted by the identity provider.
	Roles []string
}

// HasRole reports whether the user holds role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens.
//
// # Description
//
// token is the raw value after "Bearer ", or "" when the header is
// missing. Implementations return ErrUnauthorized (possibly wrapped) when
// the token is not acceptable and other errors when the identity backend
// itself failed.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every request as LocalUserID.
type NopAuthProvider struct{}

// Validate always succeeds.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: LocalUserID,
		Roles:  []string{"admin"},
	}, nil
}

var _ AuthProvider = (*NopAuthProvider)(nil)
