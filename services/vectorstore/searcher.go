// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorstore provides nearest-neighbour search over indexed
// compliance document chunks.
//
// The orchestrator treats vector search as an opaque similarity service:
// it hands over a query vector, a minimum similarity, and a result count,
// and receives matches ordered by descending similarity. Two backends are
// provided, a Postgres/pgvector backend that calls the match_embeddings
// function and a Weaviate backend that issues a nearVector query.
package vectorstore

import (
	"context"
	"errors"
	"log/slog"
)

// ErrUnavailable is returned when no search backend is configured.
var ErrUnavailable = errors.New("vector search unavailable")

// Match is one search hit.
//
// Metadata carries backend-specific extras such as "filename" or
// "section"; it may be nil.
type Match struct {
	Chunk      string
	Framework  string
	Similarity float64
	Metadata   map[string]any
}

// Searcher finds the chunks nearest to a query vector.
//
// # Description
//
// Implementations return at most count matches whose similarity is at
// least threshold, ordered by descending similarity. They must be safe for
// concurrent use.
type Searcher interface {
	Search(ctx context.Context, vector []float32, threshold float64, count int) ([]Match, error)
}

// NopSearcher is used when no vector backend is configured. Every search
// fails with ErrUnavailable so callers degrade to "no evidence".
type NopSearcher struct{}

// Search always returns ErrUnavailable.
func (NopSearcher) Search(ctx context.Context, vector []float32, threshold float64, count int) ([]Match, error) {
	slog.Debug("vector search skipped: no backend configured")
	return nil, ErrUnavailable
}

var _ Searcher = NopSearcher{}
