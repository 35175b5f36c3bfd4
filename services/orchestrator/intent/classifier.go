// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intent classifies compliance questions into pipeline routes.
//
// Two pure classifiers run over every question. The mapping classifier
// looks for cross-framework comparison keywords and control identifiers.
// The threat classifier looks for MITRE ATT&CK technique identifiers and
// threat vocabulary. Classify combines them into a Route; mapping always
// wins over threat.
//
// All functions in this package are pure and safe for concurrent use.
package intent

import (
	"regexp"
	"strings"
)

// Framework is a canonical framework label as stored on indexed chunks.
type Framework string

const (
	FrameworkNIST80053 Framework = "nist80053"
	FrameworkISO27001  Framework = "iso27001"
	FrameworkNISTCSF   Framework = "nistcsf"
	FrameworkMITRE     Framework = "mitre"
)

// =============================================================================
// Mapping Intent
// =============================================================================

// MappingIntent describes a request to relate controls across frameworks.
//
// When ControlID is non-empty, Active is true and SourceFramework names the
// framework whose identifier pattern matched.
type MappingIntent struct {
	Active          bool
	ControlID       string
	SourceFramework Framework
}

var mappingKeywords = []string{
	"map", "mapping", "equivalent", "compare", "versus", "vs", "relation",
}

// controlPatterns are tried in order; the first match wins.
var controlPatterns = []struct {
	framework Framework
	re        *regexp.Regexp
}{
	{FrameworkNIST80053, regexp.MustCompile(`\b([A-Z]{2}-\d+)\b`)},
	{FrameworkISO27001, regexp.MustCompile(`\b(A\.\d+\.\d+(?:\.\d+)?)\b`)},
	{FrameworkNISTCSF, regexp.MustCompile(`\b([A-Z]{2}\.[A-Z]{2}(?:-\d+)?)\b`)},
}

// ClassifyMapping classifies mapping intent.
//
// # Description
//
// Keyword matching is a case-insensitive substring test, so "bitmap"
// counts as "map". Control identifiers are matched case-sensitively
// against the original question.
//
// # Examples
//
//	ClassifyMapping("Map AC-2 to ISO 27001")
//	// MappingIntent{Active: true, ControlID: "AC-2", SourceFramework: "nist80053"}
//
//	ClassifyMapping("Explain A.5.15")
//	// MappingIntent{Active: true, ControlID: "A.5.15", SourceFramework: "iso27001"}
func ClassifyMapping(question string) MappingIntent {
	var mi MappingIntent

	lower := strings.ToLower(question)
	for _, kw := range mappingKeywords {
		if strings.Contains(lower, kw) {
			mi.Active = true
			break
		}
	}

	for _, p := range controlPatterns {
		if m := p.re.FindStringSubmatch(question); m != nil {
			mi.ControlID = m[1]
			mi.SourceFramework = p.framework
			mi.Active = true
			break
		}
	}

	return mi
}

// =============================================================================
// Threat Intent
// =============================================================================

// ThreatIntent describes a question about an adversary technique or threat.
//
// At most one of TechniqueID and Keyword is set. TechniqueID is upper-cased
// (for example "T1566" or "T1059.001") and takes precedence; Keyword is the
// first threat term found, in the fixed order of threatKeywords.
type ThreatIntent struct {
	Active      bool
	TechniqueID string
	Keyword     string
}

var techniquePattern = regexp.MustCompile(`(?i)\b(T\d{4}(?:\.\d{3})?)\b`)

var threatKeywords = []string{
	"phishing",
	"ransomware",
	"credential dumping",
	"malware",
	"brute force",
	"exfiltration",
	"persistence",
	"privilege escalation",
	"lateral movement",
	"mitigate",
	"mitigation",
	"attack",
	"threat",
}

// ClassifyThreat classifies threat intent.
//
// # Examples
//
//	ClassifyThreat("How do we mitigate t1566?")
//	// ThreatIntent{Active: true, TechniqueID: "T1566"}
func ClassifyThreat(question string) ThreatIntent {
	var ti ThreatIntent

	if m := techniquePattern.FindStringSubmatch(question); m != nil {
		ti.TechniqueID = strings.ToUpper(m[1])
		ti.Active = true
		return ti
	}

	lower := strings.ToLower(question)
	for _, kw := range threatKeywords {
		if strings.Contains(lower, kw) {
			ti.Keyword = kw
			ti.Active = true
			break
		}
	}

	return ti
}

// SearchTerm returns the text used to retrieve the adversary technique:
// the technique id, else the keyword, else the question itself.
func (ti ThreatIntent) SearchTerm(question string) string {
	switch {
	case ti.TechniqueID != "":
		return ti.TechniqueID
	case ti.Keyword != "":
		return ti.Keyword
	default:
		return question
	}
}
