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
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     QueryRequest
		wantErr bool
	}{
		{"valid", QueryRequest{Question: "What is AC-2?"}, false},
		{"with frameworks", QueryRequest{Question: "q", Frameworks: []string{"nist80053", "iso27001"}}, false},
		{"empty question", QueryRequest{Question: ""}, true},
		{"blank question", QueryRequest{Question: "   \n\t"}, true},
		{"empty framework label", QueryRequest{Question: "q", Frameworks: []string{""}}, true},
		{"bad conversation id", QueryRequest{Question: "q", ConversationID: "not-a-uuid"}, true},
		{"good conversation id", QueryRequest{Question: "q", ConversationID: "6f1c2a8e-8a59-4a44-9a38-3d2f9a7c1b10"}, false},
		{"question too long", QueryRequest{Question: strings.Repeat("a", MaxQuestionBytes+1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQueryResult_ToResponse_EmptySlicesSerialiseAsArrays(t *testing.T) {
	r := &QueryResult{Answer: "a"}
	body, err := json.Marshal(r.ToResponse(""))
	require.NoError(t, err)

	s := string(body)
	assert.Contains(t, s, `"citations":[]`)
	assert.Contains(t, s, `"frameworks_used":[]`)
	assert.Contains(t, s, `"retrieved_chunks":[]`)
	assert.Contains(t, s, `"mapping_mode":false`)
	assert.NotContains(t, s, "conversation_id")
}

func TestQueryResult_Metadata_FrameworksMirrorCitations(t *testing.T) {
	r := &QueryResult{
		Citations: []string{"iso27001", "nist80053"},
		Chunks:    []RetrievedChunk{{Text: "x", Framework: "iso27001", Similarity: 0.9}},
		Modes:     ModeFlags{MappingMode: true},
	}
	meta := r.Metadata()
	assert.Equal(t, meta.Citations, meta.FrameworksUsed)
	assert.True(t, meta.MappingMode)
	assert.False(t, meta.IncidentMode)
	assert.Len(t, meta.RetrievedChunks, 1)
}

func TestStreamEvent_Encode(t *testing.T) {
	tests := []struct {
		name  string
		event StreamEvent
		want  string
	}{
		{"conversation id", NewConversationIDEvent("c1"), `{"type":"conversation_id","id":"c1"}`},
		{"content", NewContentEvent("Hello"), `{"type":"content","text":"Hello"}`},
		{"done", NewDoneEvent(), `{"type":"done"}`},
		{
			"metadata",
			NewMetadataEvent(StreamMetadata{Citations: []string{}, FrameworksUsed: []string{}, RetrievedChunks: []RetrievedChunk{}}),
			`{"type":"metadata","data":{"mapping_mode":false,"incident_mode":false,"citations":[],"frameworks_used":[],"retrieved_chunks":[]}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.event.Encode()
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestTitleFromQuestion(t *testing.T) {
	assert.Equal(t, DefaultConversationTitle, TitleFromQuestion(""))
	assert.Equal(t, "Short", TitleFromQuestion("Short"))

	long := strings.Repeat("é", 80)
	title := TitleFromQuestion(long)
	assert.True(t, strings.HasSuffix(title, "..."))
	assert.Equal(t, 63, len([]rune(title)))
}

func TestConversationCreateRequest_DefaultTitle(t *testing.T) {
	req := ConversationCreateRequest{}
	require.NoError(t, req.Validate())
	assert.Equal(t, DefaultConversationTitle, req.Title)
}

func TestMessageCreateRequest_Validate(t *testing.T) {
	assert.NoError(t, (&MessageCreateRequest{Role: RoleUser, Content: "hi"}).Validate())
	assert.Error(t, (&MessageCreateRequest{Role: "system", Content: "hi"}).Validate())
	assert.Error(t, (&MessageCreateRequest{Role: RoleAssistant}).Validate())

	msg := (&MessageCreateRequest{Role: RoleAssistant, Content: "a", Citations: []string{"mitre"}, IncidentMode: true}).ToMessage()
	assert.Equal(t, []string{"mitre"}, msg.FrameworksUsed)
	assert.True(t, msg.IncidentMode)
}

func TestReportRequest_Validate(t *testing.T) {
	empty := ReportRequest{ReportType: ReportTypeMapping}
	assert.ErrorIs(t, empty.Validate(), ErrNoReportMessages)

	req := ReportRequest{Messages: []ReportMessage{{Role: "user", Content: "q"}}}
	require.NoError(t, req.Validate())
	assert.Equal(t, ReportTypeSummary, req.ReportType)

	upper := ReportRequest{ReportType: "INCIDENT", Messages: []ReportMessage{{Role: "assistant", Content: "a"}}}
	require.NoError(t, upper.Validate())
	assert.Equal(t, ReportTypeIncident, upper.ReportType)
}
