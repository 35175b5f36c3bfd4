// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding turns text into vectors for similarity search.
//
// The Jina embeddings API speaks the OpenAI embeddings wire format, so the
// client is built on langchaingo's OpenAI driver pointed at the Jina base
// URL. Transient failures are retried with bounded exponential backoff.
//
// Embedding never fails loudly: a missing API key or exhausted retries
// yield an empty vector, which callers treat as "no embedding produced".
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	// DefaultBaseURL is the Jina API root; the driver appends /embeddings.
	DefaultBaseURL = "https://api.jina.ai/v1"

	// DefaultModel is the 768-dimension English model the index was built with.
	DefaultModel = "jina-embeddings-v2-base-en"

	// DefaultMaxRetries bounds attempts per call.
	DefaultMaxRetries = 3

	// DefaultInitialBackoff is the first retry delay; it doubles per attempt.
	DefaultInitialBackoff = time.Second

	// DefaultTimeout bounds each attempt.
	DefaultTimeout = 30 * time.Second
)

// Config configures the embedding client.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxRetries     int
	InitialBackoff time.Duration
	Timeout        time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Client embeds queries and documents.
//
// Safe for concurrent use.
type Client struct {
	embedder embeddings.Embedder
	config   Config
	logger   *slog.Logger
}

// New creates a Client.
//
// # Description
//
// With an empty APIKey the client is still returned, but every call
// short-circuits to an empty result and logs a warning. This mirrors how
// the rest of the service degrades on missing credentials.
//
// # Outputs
//
//   - *Client: Ready to use.
//   - error: Non-nil only if the underlying driver rejects the config.
func New(config Config) (*Client, error) {
	config.applyDefaults()

	c := &Client{
		config: config,
		logger: slog.Default().With("component", "jina-embedder"),
	}
	if config.APIKey == "" {
		c.logger.Warn("Jina API key not configured; embeddings disabled")
		return c, nil
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithToken(config.APIKey),
		openai.WithEmbeddingModel(config.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding driver: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	c.embedder = embedder
	return c, nil
}

// newWithEmbedder is used by tests to swap the driver.
func newWithEmbedder(e embeddings.Embedder, config Config) *Client {
	config.applyDefaults()
	return &Client{embedder: e, config: config, logger: slog.Default()}
}

// Enabled reports whether the client has credentials.
func (c *Client) Enabled() bool {
	return c.embedder != nil
}

// EmbedQuery embeds a single text. It returns an empty vector when
// embeddings are disabled or every attempt failed.
func (c *Client) EmbedQuery(ctx context.Context, text string) []float32 {
	if !c.Enabled() {
		return []float32{}
	}

	vec, err := retry(ctx, c, "query", func(ctx context.Context) ([]float32, error) {
		return c.embedder.EmbedQuery(ctx, text)
	})
	if err != nil {
		c.logger.Error("Query embedding failed", "error", err, "attempts", c.config.MaxRetries)
		return []float32{}
	}
	return vec
}

// EmbedDocuments embeds a batch. On failure it returns one empty vector per
// input so positions still line up with texts.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) [][]float32 {
	empty := func() [][]float32 {
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{}
		}
		return out
	}
	if !c.Enabled() || len(texts) == 0 {
		return empty()
	}

	vecs, err := retry(ctx, c, "documents", func(ctx context.Context) ([][]float32, error) {
		return c.embedder.EmbedDocuments(ctx, texts)
	})
	if err != nil {
		c.logger.Error("Document embedding failed", "error", err, "count", len(texts))
		return empty()
	}
	return vecs
}

// retry runs op with exponential backoff: InitialBackoff, then doubling,
// for at most MaxRetries attempts. Each attempt gets its own timeout.
func retry[T any](ctx context.Context, c *Client, kind string, op func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()

		v, err := op(attemptCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return v, backoff.Permanent(err)
			}
			return v, err
		}
		return v, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.config.MaxRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("Embedding attempt failed, retrying",
				"kind", kind, "attempt", attempt, "max_attempts", c.config.MaxRetries,
				"retry_in", next, "error", err)
		}),
	)
}
