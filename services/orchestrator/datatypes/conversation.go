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

import "time"

// =============================================================================
// Conversation Types
// =============================================================================

// Role is the author of a persisted message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultConversationTitle is used when a conversation is created without
// a title.
const DefaultConversationTitle = "New Conversation"

// Conversation is a titled thread owned by exactly one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted turn of a conversation.
//
// Assistant turns carry the citations, evidence, and mode flags of the
// pipeline run that produced them. FrameworksUsed mirrors Citations.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           Role             `json:"role"`
	Content        string           `json:"content"`
	Citations      []string         `json:"citations"`
	Evidence       []RetrievedChunk `json:"evidence"`
	FrameworksUsed []string         `json:"frameworks_used"`
	ModeFlags
	CreatedAt time.Time `json:"created_at"`
}

// ConversationDetail is a conversation with its messages in creation order.
type ConversationDetail struct {
	Conversation
	Messages []Message `json:"messages"`
}

// ConversationCreateRequest is the body of POST /api/conversations.
type ConversationCreateRequest struct {
	Title string `json:"title" validate:"max=200"`
}

// Validate checks the request and fills the default title.
func (r *ConversationCreateRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.Title == "" {
		r.Title = DefaultConversationTitle
	}
	return nil
}

// MessageCreateRequest is the body of POST /api/conversations/:id/message.
type MessageCreateRequest struct {
	Role         Role             `json:"role" validate:"required,oneof=user assistant"`
	Content      string           `json:"content" validate:"required,maxbytes"`
	Citations    []string         `json:"citations"`
	Evidence     []RetrievedChunk `json:"evidence"`
	MappingMode  bool             `json:"mapping_mode"`
	IncidentMode bool             `json:"incident_mode"`
}

// Validate checks the request against its struct tags.
func (r *MessageCreateRequest) Validate() error {
	return validate.Struct(r)
}

// ToMessage converts the request into an unsaved Message.
func (r *MessageCreateRequest) ToMessage() Message {
	return Message{
		Role:           r.Role,
		Content:        r.Content,
		Citations:      r.Citations,
		Evidence:       r.Evidence,
		FrameworksUsed: r.Citations,
		ModeFlags:      ModeFlags{MappingMode: r.MappingMode, IncidentMode: r.IncidentMode},
	}
}

// TitleFromQuestion derives a conversation title from the first question,
// truncated on a rune boundary.
func TitleFromQuestion(question string) string {
	const maxTitleRunes = 60
	runes := []rune(question)
	if len(runes) == 0 {
		return DefaultConversationTitle
	}
	if len(runes) <= maxTitleRunes {
		return string(runes)
	}
	return string(runes[:maxTitleRunes]) + "..."
}
