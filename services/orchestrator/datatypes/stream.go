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

import "encoding/json"

// =============================================================================
// Streaming Events
// =============================================================================

// StreamEventType identifies a streamed query event.
//
// A stream always emits, in order: an optional conversation_id event (only
// when the conversation was minted for this request), exactly one metadata
// event, zero or more content events, and a final done event.
type StreamEventType string

const (
	StreamEventConversationID StreamEventType = "conversation_id"
	StreamEventMetadata       StreamEventType = "metadata"
	StreamEventContent        StreamEventType = "content"
	StreamEventDone           StreamEventType = "done"
)

// StreamMetadata summarises the evidence behind a streamed answer. It is
// computed before the first token is produced.
type StreamMetadata struct {
	ModeFlags
	Citations       []string         `json:"citations"`
	FrameworksUsed  []string         `json:"frameworks_used"`
	RetrievedChunks []RetrievedChunk `json:"retrieved_chunks"`
}

// StreamEvent is one "data:" payload on the query stream.
type StreamEvent struct {
	Type StreamEventType `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data *StreamMetadata `json:"data,omitempty"`
	Text string          `json:"text,omitempty"`
}

// NewConversationIDEvent announces a freshly minted conversation.
func NewConversationIDEvent(id string) StreamEvent {
	return StreamEvent{Type: StreamEventConversationID, ID: id}
}

// NewMetadataEvent wraps the evidence summary.
func NewMetadataEvent(meta StreamMetadata) StreamEvent {
	return StreamEvent{Type: StreamEventMetadata, Data: &meta}
}

// NewContentEvent carries one answer fragment.
func NewContentEvent(text string) StreamEvent {
	return StreamEvent{Type: StreamEventContent, Text: text}
}

// NewDoneEvent terminates the stream.
func NewDoneEvent() StreamEvent {
	return StreamEvent{Type: StreamEventDone}
}

// Encode returns the JSON payload of the event.
func (e StreamEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}
