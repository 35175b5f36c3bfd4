// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"slices"

	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
)

// ExtractCitations returns the sorted unique non-empty framework labels of
// chunks. The result is never nil and does not depend on chunk order.
//
// The same list is reported as both "citations" and "frameworks used";
// nothing yet distinguishes a quoted framework from a merely retrieved one.
func ExtractCitations(chunks []datatypes.RetrievedChunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.Framework != "" {
			out = append(out, c.Framework)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
