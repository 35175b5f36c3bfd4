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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SupabaseConfig configures SupabaseAuthProvider.
type SupabaseConfig struct {
	// URL is the project URL, e.g. https://abc.supabase.co.
	URL string

	// AnonKey is the project's public anon key, sent as the apikey header.
	AnonKey string

	// Timeout bounds each validation call. Default 10s.
	Timeout time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// SupabaseAuthProvider validates access tokens against Supabase Auth.
//
// # Description
//
// Each call issues GET {URL}/auth/v1/user with the caller's token. A 2xx
// response with a user id authenticates the request. 401 and 403 map to
// ErrUnauthorized; anything else is reported as a backend failure.
//
// # Limitations
//
//   - Validation results are not cached; every request costs one round trip.
type SupabaseAuthProvider struct {
	baseURL string
	anonKey string
	client  *http.Client
}

// NewSupabaseAuthProvider creates a provider. It does not contact Supabase.
func NewSupabaseAuthProvider(cfg SupabaseConfig) *SupabaseAuthProvider {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &SupabaseAuthProvider{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		anonKey: cfg.AnonKey,
		client:  client,
	}
}

type supabaseUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Validate implements AuthProvider.
func (p *SupabaseAuthProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("build supabase request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", p.anonKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase auth request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("supabase rejected token: %w", ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("supabase auth returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var user supabaseUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode supabase user: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("supabase user has no id: %w", ErrUnauthorized)
	}

	info := &AuthInfo{UserID: user.ID, Email: user.Email}
	if user.Role != "" {
		info.Roles = []string{user.Role}
	}
	return info, nil
}

var _ AuthProvider = (*SupabaseAuthProvider)(nil)
