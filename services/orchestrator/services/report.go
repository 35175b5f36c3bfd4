// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/BhavyaBibra/ComplianceGPT/services/llm"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
)

// ReportGenerator synthesises a Markdown report from a transcript.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, reportType, transcript string) string
}

var _ ReportGenerator = (*llm.Generator)(nil)

// ReportService turns a conversation transcript into a structured report.
type ReportService struct {
	generator ReportGenerator
}

// NewReportService creates a ReportService.
func NewReportService(generator ReportGenerator) *ReportService {
	if generator == nil {
		panic("services.NewReportService: generator must not be nil")
	}
	return &ReportService{generator: generator}
}

// Generate validates req and returns the report Markdown. The only error
// is datatypes.ErrNoReportMessages or a validation error; provider outages
// produce the apology text instead.
func (s *ReportService) Generate(ctx context.Context, req *datatypes.ReportRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	ctx, span := queryTracer.Start(ctx, "ReportService.Generate")
	defer span.End()

	start := time.Now()
	transcript := BuildConversationContext(req.Messages)
	slog.Info("Building report",
		"report_type", req.ReportType,
		"messages", len(req.Messages),
		"context_chars", len(transcript))

	markdown := s.generator.GenerateReport(ctx, string(req.ReportType), transcript)

	span.SetAttributes(
		attribute.String("report.type", string(req.ReportType)),
		attribute.Int("report.len", len(markdown)),
	)
	slog.Info("Report generated",
		"report_type", req.ReportType,
		"latency_ms", time.Since(start).Milliseconds())
	return markdown, nil
}

// BuildConversationContext condenses a transcript into one prompt string.
//
// Each message renders as "[ROLE MESSAGE]" followed by its content and,
// when present, a "(Metadata: Citations: ... | Frameworks: ...)" line.
// Messages are separated by "\n\n---\n\n".
func BuildConversationContext(messages []datatypes.ReportMessage) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		var b strings.Builder
		b.WriteString("[")
		b.WriteString(strings.ToUpper(msg.Role))
		b.WriteString(" MESSAGE]\n")
		b.WriteString(msg.Content)

		var meta []string
		if len(msg.Citations) > 0 {
			meta = append(meta, "Citations: "+strings.Join(msg.Citations, ", "))
		}
		if len(msg.FrameworksUsed) > 0 {
			meta = append(meta, "Frameworks: "+strings.Join(msg.FrameworksUsed, ", "))
		}
		if len(meta) > 0 {
			b.WriteString("\n(Metadata: ")
			b.WriteString(strings.Join(meta, " | "))
			b.WriteString(")")
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n---\n\n")
}
