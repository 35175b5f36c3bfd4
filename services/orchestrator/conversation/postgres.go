// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
)

// Schema creates the conversation tables. user_id is TEXT so that both
// Supabase user UUIDs and the local development user fit.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    conversation_id UUID REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    citations JSONB DEFAULT '[]',
    evidence JSONB DEFAULT '[]',
    frameworks_used JSONB DEFAULT '[]',
    mapping_mode BOOLEAN DEFAULT FALSE,
    incident_mode BOOLEAN DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);
`

const (
	conversationColumns = `id::text, user_id, title, created_at, updated_at`
	messageColumns      = `id::text, conversation_id::text, role, content, citations, evidence, frameworks_used, mapping_mode, incident_mode, created_at`
)

// DB is the subset of pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on Postgres.
//
// The pool is owned by the caller; Close is a no-op.
type PostgresStore struct {
	db DB
}

// NewPostgresStore wraps db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate conversation schema: %w", err)
	}
	return nil
}

func scanConversation(row pgx.Row) (datatypes.Conversation, error) {
	var c datatypes.Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanMessage(row pgx.CollectableRow) (datatypes.Message, error) {
	var m datatypes.Message
	var role string
	var citations, evidence, frameworks []byte
	if err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content,
		&citations, &evidence, &frameworks, &m.MappingMode, &m.IncidentMode, &m.CreatedAt); err != nil {
		return m, err
	}
	m.Role = datatypes.Role(role)
	if err := unmarshalJSONB(citations, &m.Citations); err != nil {
		return m, fmt.Errorf("decode citations: %w", err)
	}
	if err := unmarshalJSONB(evidence, &m.Evidence); err != nil {
		return m, fmt.Errorf("decode evidence: %w", err)
	}
	if err := unmarshalJSONB(frameworks, &m.FrameworksUsed); err != nil {
		return m, fmt.Errorf("decode frameworks_used: %w", err)
	}
	return normalizeMessage(m), nil
}

func unmarshalJSONB(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// CreateConversation implements Store.
func (s *PostgresStore) CreateConversation(ctx context.Context, userID, title string) (datatypes.Conversation, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO conversations (user_id, title) VALUES ($1, $2) RETURNING `+conversationColumns,
		userID, title)
	c, err := scanConversation(row)
	if err != nil {
		return datatypes.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

// ListConversations implements Store.
func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]datatypes.Conversation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE user_id = $1 ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	convs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (datatypes.Conversation, error) {
		return scanConversation(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan conversations: %w", err)
	}
	if convs == nil {
		convs = []datatypes.Conversation{}
	}
	return convs, nil
}

// owned loads the conversation only if userID owns it.
func (s *PostgresStore) owned(ctx context.Context, userID, conversationID string) (datatypes.Conversation, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return datatypes.Conversation{}, ErrNotFound
	}
	row := s.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1::uuid AND user_id = $2`,
		conversationID, userID)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return datatypes.Conversation{}, ErrNotFound
	}
	if err != nil {
		return datatypes.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	return c, nil
}

// GetConversation implements Store.
func (s *PostgresStore) GetConversation(ctx context.Context, userID, conversationID string) (datatypes.ConversationDetail, error) {
	c, err := s.owned(ctx, userID, conversationID)
	if err != nil {
		return datatypes.ConversationDetail{}, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1::uuid ORDER BY created_at ASC`,
		conversationID)
	if err != nil {
		return datatypes.ConversationDetail{}, fmt.Errorf("list messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return datatypes.ConversationDetail{}, fmt.Errorf("scan messages: %w", err)
	}
	if msgs == nil {
		msgs = []datatypes.Message{}
	}
	return datatypes.ConversationDetail{Conversation: c, Messages: msgs}, nil
}

// AppendMessage implements Store.
func (s *PostgresStore) AppendMessage(ctx context.Context, userID, conversationID string, msg datatypes.Message) (datatypes.Message, error) {
	if _, err := s.owned(ctx, userID, conversationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return datatypes.Message{}, ErrForbidden
		}
		return datatypes.Message{}, err
	}

	msg = normalizeMessage(msg)
	citations, err := json.Marshal(msg.Citations)
	if err != nil {
		return datatypes.Message{}, fmt.Errorf("encode citations: %w", err)
	}
	evidence, err := json.Marshal(msg.Evidence)
	if err != nil {
		return datatypes.Message{}, fmt.Errorf("encode evidence: %w", err)
	}
	frameworks, err := json.Marshal(msg.FrameworksUsed)
	if err != nil {
		return datatypes.Message{}, fmt.Errorf("encode frameworks_used: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`INSERT INTO messages (conversation_id, role, content, citations, evidence, frameworks_used, mapping_mode, incident_mode)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8) RETURNING `+messageColumns,
		conversationID, string(msg.Role), msg.Content, citations, evidence, frameworks, msg.MappingMode, msg.IncidentMode)
	if err != nil {
		return datatypes.Message{}, fmt.Errorf("insert message: %w", err)
	}
	stored, err := pgx.CollectExactlyOneRow(rows, scanMessage)
	if err != nil {
		return datatypes.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return stored, nil
}

// TouchConversation implements Store.
func (s *PostgresStore) TouchConversation(ctx context.Context, conversationID string) error {
	if _, err := uuid.Parse(conversationID); err != nil {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE conversations SET updated_at = $2 WHERE id = $1::uuid`,
		conversationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation implements Store. Messages go with the conversation
// through ON DELETE CASCADE.
func (s *PostgresStore) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if _, err := uuid.Parse(conversationID); err != nil {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1::uuid AND user_id = $2`,
		conversationID, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeInactive implements Purger, oldest activity first.
func (s *PostgresStore) PurgeInactive(ctx context.Context, before time.Time, limit int) (int, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM conversations WHERE id IN (
    SELECT id FROM conversations WHERE updated_at < $1 ORDER BY updated_at LIMIT $2)`,
		before, limit)
	if err != nil {
		return 0, fmt.Errorf("purge conversations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return nil
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Purger = (*PostgresStore)(nil)
)
