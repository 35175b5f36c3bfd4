// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the request, response, and event shapes shared
// by the ComplianceGPT orchestrator's services and HTTP handlers.
//
// This file holds the query pipeline types. Conversation and report types
// live in conversation.go and report.go; the streaming wire events live in
// stream.go.
package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxQuestionBytes caps a single question.
	MaxQuestionBytes = 16 * 1024

	// MaxMessageContentBytes caps a persisted message body.
	MaxMessageContentBytes = 256 * 1024

	// MaxFrameworkFilters caps the caller's framework allow-list.
	MaxFrameworkFilters = 16

	// MaxReportMessages caps the transcript accepted for report synthesis.
	MaxReportMessages = 500
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("notblank", validateNotBlank)
	_ = validate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateNotBlank rejects strings that are empty after trimming whitespace.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// validateMaxBytes enforces MaxMessageContentBytes on byte length, not runes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Query Types
// =============================================================================

// QueryRequest is the body of POST /api/query.
//
// # Description
//
// Frameworks is an optional allow-list of framework labels (for example
// "nist80053", "iso27001"). An empty list means no filter. When
// ConversationID is empty the handler mints a new conversation for the
// caller.
type QueryRequest struct {
	Question       string   `json:"question" validate:"required,notblank,max=16384"`
	Frameworks     []string `json:"frameworks,omitempty" validate:"omitempty,max=16,dive,required,max=64"`
	Stream         bool     `json:"stream"`
	ConversationID string   `json:"conversation_id,omitempty" validate:"omitempty,uuid"`
}

// Validate checks the request against its struct tags.
func (r *QueryRequest) Validate() error {
	return validate.Struct(r)
}

// RetrievedChunk is one piece of evidence returned by vector search.
//
// Text is never empty. SourceFile and SectionHint are optional and omitted
// from context rendering when empty.
type RetrievedChunk struct {
	Text        string  `json:"chunk"`
	Framework   string  `json:"framework"`
	Similarity  float64 `json:"similarity"`
	SourceFile  string  `json:"source_file,omitempty"`
	SectionHint string  `json:"section_hint,omitempty"`
}

// ModeFlags records which specialised route answered a question. At most
// one flag is ever true.
type ModeFlags struct {
	MappingMode  bool `json:"mapping_mode"`
	IncidentMode bool `json:"incident_mode"`
}

// QueryResult is the outcome of one pass through the query pipeline.
type QueryResult struct {
	Answer    string
	Citations []string
	Chunks    []RetrievedChunk
	Modes     ModeFlags
}

// QueryResponse is the non-streaming JSON body returned by POST /api/query.
//
// Citations and FrameworksUsed carry the same list: the sorted, unique
// framework labels of the evidence that grounded the answer.
type QueryResponse struct {
	Answer string `json:"answer"`
	ModeFlags
	Citations       []string         `json:"citations"`
	FrameworksUsed  []string         `json:"frameworks_used"`
	RetrievedChunks []RetrievedChunk `json:"retrieved_chunks"`
	ConversationID  string           `json:"conversation_id,omitempty"`
}

// Metadata returns the evidence summary sent ahead of streamed tokens.
func (r *QueryResult) Metadata() StreamMetadata {
	citations := nonNilStrings(r.Citations)
	return StreamMetadata{
		ModeFlags:       r.Modes,
		Citations:       citations,
		FrameworksUsed:  citations,
		RetrievedChunks: nonNilChunks(r.Chunks),
	}
}

// ToResponse converts the result into its JSON response form.
func (r *QueryResult) ToResponse(conversationID string) QueryResponse {
	citations := nonNilStrings(r.Citations)
	return QueryResponse{
		Answer:          r.Answer,
		ModeFlags:       r.Modes,
		Citations:       citations,
		FrameworksUsed:  citations,
		RetrievedChunks: nonNilChunks(r.Chunks),
		ConversationID:  conversationID,
	}
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilChunks(c []RetrievedChunk) []RetrievedChunk {
	if c == nil {
		return []RetrievedChunk{}
	}
	return c
}
