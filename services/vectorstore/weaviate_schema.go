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
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// ChunkClass returns the schema of the chunk class searched by
// WeaviateSearcher. Vectors are supplied by the ingester, so the class
// has no vectorizer.
func ChunkClass(className string) *models.Class {
	if className == "" {
		className = DefaultWeaviateClass
	}
	filterable := true

	return &models.Class{
		Class:       className,
		Description: "A chunk of a compliance framework document.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "chunk",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "framework",
				DataType:        []string{"text"},
				Description:     "Framework label, e.g. NIST 800-53.",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:            "source_file",
				DataType:        []string{"text"},
				Description:     "File the chunk was extracted from.",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:        "section",
				DataType:    []string{"text"},
				Description: "Section heading hint.",
			},
		},
	}
}

// EnsureChunkClass creates the chunk class if Weaviate does not have it.
//
// # Outputs
//
//   - bool: True if the class was created.
//   - error: Non-nil if the class is missing and cannot be created.
func EnsureChunkClass(ctx context.Context, client *weaviate.Client, className string) (bool, error) {
	class := ChunkClass(className)

	exists, err := client.Schema().ClassExistenceChecker().WithClassName(class.Class).Do(ctx)
	if err != nil {
		return false, fmt.Errorf("check weaviate class %s: %w", class.Class, err)
	}
	if exists {
		slog.Debug("Weaviate class already exists", "class", class.Class)
		return false, nil
	}

	slog.Info("Weaviate class not found, creating it", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return false, fmt.Errorf("create weaviate class %s: %w", class.Class, err)
	}
	return true, nil
}
