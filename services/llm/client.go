// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm talks to hosted chat-completion providers and turns their
// answers into grounded compliance responses.
//
// Providers share one small interface (Chat and ChatStream). A Generator
// tries them in order, so the first configured provider is primary and the
// rest are fallbacks. When every provider fails the Generator answers with
// a fixed apology instead of an error.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams tunes a single call. Nil fields use provider defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamCallback receives each non-empty text delta in order. Returning an
// error aborts the stream and the error is returned from ChatStream.
type StreamCallback func(delta string) error

// Provider is one chat-completion backend.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Chat returns the full answer.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatStream forwards text deltas to callback until the provider's
	// completion sentinel. A nil return means the stream completed cleanly.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error
}

var (
	// ErrNoProviders is returned when no provider is configured.
	ErrNoProviders = errors.New("no LLM providers configured")

	// ErrEmptyResponse is returned when a provider answers without text.
	ErrEmptyResponse = errors.New("provider returned no content")

	// ErrMissingAPIKey is returned when a hosted provider has no credentials.
	ErrMissingAPIKey = errors.New("missing API key")
)

// ProviderError wraps a failure from a specific provider. StatusCode is 0
// for transport failures.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func float32Ptr(v float32) *float32 {
	return &v
}
