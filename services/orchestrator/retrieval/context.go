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
	"fmt"
	"strings"

	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
)

const (
	contextHeader    = "=== Retrieved Context ==="
	contextFooter    = "=== End Context ==="
	noDocumentsFound = "No relevant documents found."

	sourceControlHeader   = "=== SOURCE CONTROL ==="
	targetEvidenceHeader  = "=== TARGET FRAMEWORK EVIDENCE ==="
	mitreTechniqueHeader  = "=== MITRE TECHNIQUE ==="
	defensiveControlsHead = "=== DEFENSIVE CONTROLS ==="
)

// BuildContext renders chunks as numbered evidence blocks.
//
// # Description
//
// Output is deterministic for a given input:
//
//	=== Retrieved Context ===
//	[Chunk 1 | Framework: NIST80053 | Similarity: 0.87 | Source: sp800-53.pdf | Section: AC-2]
//	<trimmed text>
//
//	=== End Context ===
//
// Source and Section are omitted when empty. Zero chunks render the
// "No relevant documents found." body between the same header and footer.
func BuildContext(chunks []datatypes.RetrievedChunk) string {
	var b strings.Builder
	b.WriteString(contextHeader)
	b.WriteByte('\n')

	if len(chunks) == 0 {
		b.WriteString(noDocumentsFound)
		b.WriteByte('\n')
		b.WriteString(contextFooter)
		return b.String()
	}

	for i, c := range chunks {
		fmt.Fprintf(&b, "[Chunk %d | Framework: %s | Similarity: %.2f", i+1, strings.ToUpper(c.Framework), c.Similarity)
		if c.SourceFile != "" {
			fmt.Fprintf(&b, " | Source: %s", c.SourceFile)
		}
		if c.SectionHint != "" {
			fmt.Fprintf(&b, " | Section: %s", c.SectionHint)
		}
		b.WriteString("]\n")
		b.WriteString(strings.TrimSpace(c.Text))
		b.WriteString("\n\n")
	}
	b.WriteString(contextFooter)
	return b.String()
}

// BuildMappingContext renders source-control evidence followed by
// target-framework evidence.
func BuildMappingContext(source, target []datatypes.RetrievedChunk) string {
	return buildPaired(sourceControlHeader, source, targetEvidenceHeader, target)
}

// BuildThreatContext renders ATT&CK technique evidence followed by
// defensive-control evidence.
func BuildThreatContext(technique, controls []datatypes.RetrievedChunk) string {
	return buildPaired(mitreTechniqueHeader, technique, defensiveControlsHead, controls)
}

func buildPaired(firstHeader string, first []datatypes.RetrievedChunk, secondHeader string, second []datatypes.RetrievedChunk) string {
	return firstHeader + "\n" + BuildContext(first) + "\n\n" + secondHeader + "\n" + BuildContext(second)
}

// MergeUnique concatenates groups, dropping chunks whose text was already
// seen. The first occurrence wins, so earlier groups keep priority.
func MergeUnique(groups ...[]datatypes.RetrievedChunk) []datatypes.RetrievedChunk {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	seen := make(map[string]struct{}, total)
	out := make([]datatypes.RetrievedChunk, 0, total)
	for _, g := range groups {
		for _, c := range g {
			if _, dup := seen[c.Text]; dup {
				continue
			}
			seen[c.Text] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
