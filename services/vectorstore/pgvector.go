// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("compliancegpt.vectorstore")

// matchEmbeddingsSQL calls the similarity function installed alongside the
// documents table. Its signature is
// match_embeddings(query_embedding vector, match_threshold float, match_count int).
const matchEmbeddingsSQL = `SELECT chunk, framework, similarity, metadata
FROM match_embeddings($1::vector, $2, $3)`

// Querier is the subset of *pgxpool.Pool used by the pgvector backend.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGVectorSearcher runs similarity search through Postgres with the
// pgvector extension.
type PGVectorSearcher struct {
	db Querier
}

// NewPGVectorSearcher creates a searcher over db.
func NewPGVectorSearcher(db Querier) *PGVectorSearcher {
	if db == nil {
		panic("NewPGVectorSearcher: db must not be nil")
	}
	return &PGVectorSearcher{db: db}
}

// Search calls match_embeddings and collects its rows.
//
// # Description
//
// The query vector is sent as pgvector's text literal ("[0.1,0.2,...]")
// and cast server-side, so no pgvector-specific codec is needed. NULL
// frameworks come back as the empty string.
func (s *PGVectorSearcher) Search(ctx context.Context, vector []float32, threshold float64, count int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "PGVectorSearcher.Search")
	defer span.End()
	span.SetAttributes(
		attribute.Int("vector.dims", len(vector)),
		attribute.Float64("match.threshold", threshold),
		attribute.Int("match.count", count),
	)

	rows, err := s.db.Query(ctx, matchEmbeddingsSQL, EncodeVector(vector), threshold, count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "match_embeddings query failed")
		return nil, fmt.Errorf("match_embeddings: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var (
			m         Match
			framework *string
			metadata  map[string]any
		)
		if err := row.Scan(&m.Chunk, &framework, &m.Similarity, &metadata); err != nil {
			return Match{}, err
		}
		if framework != nil {
			m.Framework = *framework
		}
		m.Metadata = metadata
		return m, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return nil, fmt.Errorf("scan match_embeddings rows: %w", err)
	}

	span.SetAttributes(attribute.Int("match.returned", len(matches)))
	return matches, nil
}

// EncodeVector renders v in pgvector's text input format.
func EncodeVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

var _ Searcher = (*PGVectorSearcher)(nil)
