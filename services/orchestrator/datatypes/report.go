// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"strings"
)

// =============================================================================
// Report Types
// =============================================================================

// ReportType selects the focus of a synthesised report.
type ReportType string

const (
	ReportTypeMapping  ReportType = "mapping"
	ReportTypeIncident ReportType = "incident"
	ReportTypeSummary  ReportType = "summary"
)

// ErrNoReportMessages is returned when a report is requested for an empty
// transcript.
var ErrNoReportMessages = errors.New("no conversation messages provided to synthesize")

// ReportMessage is one transcript entry supplied for report synthesis.
type ReportMessage struct {
	Role           string   `json:"role" validate:"required"`
	Content        string   `json:"content" validate:"maxbytes"`
	Citations      []string `json:"citations,omitempty"`
	FrameworksUsed []string `json:"frameworks_used,omitempty"`
}

// ReportRequest is the body of POST /api/report.
//
// Unknown report types fall back to a general summary.
type ReportRequest struct {
	ReportType ReportType      `json:"report_type"`
	Messages   []ReportMessage `json:"messages" validate:"max=500,dive"`
}

// Validate checks the request. An empty transcript yields
// ErrNoReportMessages.
func (r *ReportRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrNoReportMessages
	}
	if r.ReportType == "" {
		r.ReportType = ReportTypeSummary
	}
	r.ReportType = ReportType(strings.ToLower(string(r.ReportType)))
	return validate.Struct(r)
}

// ReportResponse is returned by POST /api/report.
type ReportResponse struct {
	Markdown string `json:"markdown"`
}
