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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultWeaviateClass is the class holding indexed compliance chunks.
const DefaultWeaviateClass = "ComplianceChunk"

// WeaviateSearcher runs similarity search as a Weaviate nearVector query.
//
// Similarity is Weaviate's certainty, which is always in [0,1] regardless
// of the distance metric configured on the class.
type WeaviateSearcher struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateSearcher creates a searcher over className. An empty
// className selects DefaultWeaviateClass.
func NewWeaviateSearcher(client *weaviate.Client, className string) *WeaviateSearcher {
	if client == nil {
		panic("NewWeaviateSearcher: client must not be nil")
	}
	if className == "" {
		className = DefaultWeaviateClass
	}
	return &WeaviateSearcher{client: client, className: className}
}

// weaviateChunk is one object of the chunk class as returned by GraphQL.
type weaviateChunk struct {
	Chunk      string `json:"chunk"`
	Framework  string `json:"framework"`
	SourceFile string `json:"source_file"`
	Section    string `json:"section"`
	Additional struct {
		Certainty float64 `json:"certainty"`
	} `json:"_additional"`
}

type weaviateGetResponse struct {
	Get map[string][]weaviateChunk `json:"Get"`
}

// Search issues a nearVector query filtered by minimum certainty.
func (s *WeaviateSearcher) Search(ctx context.Context, vector []float32, threshold float64, count int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearcher.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("weaviate.class", s.className),
		attribute.Int("match.count", count),
	)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithCertainty(float32(threshold))

	fields := []graphql.Field{
		{Name: "chunk"},
		{Name: "framework"},
		{Name: "source_file"},
		{Name: "section"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(count).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate search failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Message)
		}
		err := fmt.Errorf("weaviate search returned errors: %s", strings.Join(msgs, "; "))
		span.RecordError(err)
		span.SetStatus(codes.Error, "graphql errors")
		return nil, err
	}

	parsed, err := parseGraphQLResponse[weaviateGetResponse](result)
	if err != nil {
		slog.Error("Failed to parse weaviate search results", "error", err)
		return nil, err
	}

	objects := parsed.Get[s.className]
	matches := make([]Match, 0, len(objects))
	for _, o := range objects {
		meta := map[string]any{}
		if o.SourceFile != "" {
			meta["source_file"] = o.SourceFile
		}
		if o.Section != "" {
			meta["section"] = o.Section
		}
		matches = append(matches, Match{
			Chunk:      o.Chunk,
			Framework:  o.Framework,
			Similarity: o.Additional.Certainty,
			Metadata:   meta,
		})
	}
	return matches, nil
}

// parseGraphQLResponse converts the untyped GraphQL data map into T by
// round-tripping through JSON.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

var _ Searcher = (*WeaviateSearcher)(nil)
