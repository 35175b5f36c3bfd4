// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval fetches, renders, and summarises evidence for the query
// pipeline.
//
// A Retriever turns query text into a vector, asks the vector store for
// neighbours, and post-filters them by framework. The context builders
// render evidence into the deterministic text blocks the language model
// sees, and ExtractCitations reports which frameworks grounded an answer.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
	"github.com/BhavyaBibra/ComplianceGPT/services/vectorstore"
)

var tracer = otel.Tracer("compliancegpt.orchestrator.retrieval")

const (
	// DefaultSimilarityThreshold is the minimum similarity requested from
	// the vector store.
	DefaultSimilarityThreshold = 0.5

	// overFetchFactor multiplies the candidate count when a framework
	// filter will discard some of them.
	overFetchFactor = 3

	// unknownFramework labels chunks indexed without a framework.
	unknownFramework = "Unknown"
)

// Embedder turns query text into a vector. An empty vector means no
// embedding was produced.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) []float32
}

// Retriever finds evidence chunks for a query.
//
// Safe for concurrent use.
type Retriever struct {
	embedder  Embedder
	searcher  vectorstore.Searcher
	threshold float64
}

// NewRetriever creates a Retriever. A threshold <= 0 selects
// DefaultSimilarityThreshold.
func NewRetriever(embedder Embedder, searcher vectorstore.Searcher, threshold float64) *Retriever {
	if embedder == nil {
		panic("NewRetriever: embedder must not be nil")
	}
	if searcher == nil {
		panic("NewRetriever: searcher must not be nil")
	}
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Retriever{embedder: embedder, searcher: searcher, threshold: threshold}
}

// Retrieve returns up to limit chunks for query, most similar first.
//
// # Description
//
// When frameworks is non-empty, limit*3 candidates are requested and then
// filtered by case-insensitive framework membership before truncation.
// The 3x over-fetch is a best-effort heuristic: a sparse framework can
// still leave fewer than limit survivors.
//
// # Outputs
//
//   - []datatypes.RetrievedChunk: Never nil. Empty when embedding produced
//     nothing or the vector store failed; both are logged, not returned.
func (r *Retriever) Retrieve(ctx context.Context, query string, frameworks []string, limit int) []datatypes.RetrievedChunk {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.Int("retrieval.limit", limit),
		attribute.StringSlice("retrieval.frameworks", frameworks),
	)

	results := []datatypes.RetrievedChunk{}
	if limit <= 0 {
		return results
	}

	vector := r.embedder.EmbedQuery(ctx, query)
	if len(vector) == 0 {
		slog.Warn("Query embedding empty; returning no chunks")
		return results
	}

	fetch := limit
	if len(frameworks) > 0 {
		fetch = limit * overFetchFactor
	}

	matches, err := r.searcher.Search(ctx, vector, r.threshold, fetch)
	if err != nil {
		span.RecordError(err)
		slog.Error("Vector search failed", "error", err, "fetch", fetch)
		return results
	}

	for _, m := range matches {
		chunk := toChunk(m)
		if chunk.Text == "" {
			continue
		}
		if len(frameworks) > 0 && !containsFold(frameworks, chunk.Framework) {
			continue
		}
		results = append(results, chunk)
		if len(results) >= limit {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("retrieval.candidates", len(matches)),
		attribute.Int("retrieval.returned", len(results)),
	)
	slog.Debug("Retrieved chunks", "requested", fetch, "candidates", len(matches), "returned", len(results))
	return results
}

func toChunk(m vectorstore.Match) datatypes.RetrievedChunk {
	framework := m.Framework
	if framework == "" {
		framework = unknownFramework
	}
	return datatypes.RetrievedChunk{
		Text:        m.Chunk,
		Framework:   framework,
		Similarity:  m.Similarity,
		SourceFile:  metadataString(m.Metadata, "filename", "source_file"),
		SectionHint: metadataString(m.Metadata, "section", "section_hint"),
	}
}

// metadataString returns the first non-empty value among keys.
func metadataString(meta map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := meta[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch tv := v.(type) {
		case string:
			s = tv
		default:
			s = fmt.Sprint(tv)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
