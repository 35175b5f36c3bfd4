// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation persists user conversations and their turns.
//
// # Description
//
// A Store keeps conversations scoped to one owning user. Every read used
// for an ownership decision filters by both conversation id and owner, so
// one user can never observe or modify another user's thread.
//
// Two backends are provided: PostgresStore for deployments that already
// run Postgres (the same database that hosts the pgvector index), and
// BadgerStore for single-node or local use. Persister runs post-stream
// writes on a bounded worker pool so a closed client stream never waits
// on the database.
//
// # Thread Safety
//
// All implementations are safe for concurrent use.
package conversation

import (
	"context"
	"errors"

	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
)

var (
	// ErrNotFound is returned when a conversation does not exist or is not
	// owned by the requesting user. The two cases are not distinguished.
	ErrNotFound = errors.New("conversation not found")

	// ErrForbidden is returned when a write targets a conversation the
	// requesting user does not own.
	ErrForbidden = errors.New("conversation not owned by user")
)

// Store is the persistence contract for conversations.
type Store interface {
	// CreateConversation inserts a new conversation owned by userID.
	CreateConversation(ctx context.Context, userID, title string) (datatypes.Conversation, error)

	// ListConversations returns userID's conversations, most recently
	// active first.
	ListConversations(ctx context.Context, userID string) ([]datatypes.Conversation, error)

	// GetConversation returns a conversation with its messages in creation
	// order. Returns ErrNotFound when missing or owned by someone else.
	GetConversation(ctx context.Context, userID, conversationID string) (datatypes.ConversationDetail, error)

	// AppendMessage stores msg under the conversation after checking that
	// userID owns it. Returns ErrForbidden otherwise. ID and CreatedAt are
	// assigned by the store.
	AppendMessage(ctx context.Context, userID, conversationID string, msg datatypes.Message) (datatypes.Message, error)

	// TouchConversation bumps the conversation's last-activity timestamp.
	TouchConversation(ctx context.Context, conversationID string) error

	// DeleteConversation removes a conversation and its messages. Returns
	// ErrNotFound when missing or owned by someone else.
	DeleteConversation(ctx context.Context, userID, conversationID string) error

	// Close releases backend resources.
	Close() error
}

// normalizeMessage replaces nil slices so stored rows always carry JSON
// arrays.
func normalizeMessage(msg datatypes.Message) datatypes.Message {
	if msg.Citations == nil {
		msg.Citations = []string{}
	}
	if msg.FrameworksUsed == nil {
		msg.FrameworksUsed = msg.Citations
	}
	if msg.Evidence == nil {
		msg.Evidence = []datatypes.RetrievedChunk{}
	}
	return msg
}
