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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// steppingClock returns strictly increasing timestamps.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestBadgerStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "user-1", "Map AC-2")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "user-1", conv.UserID)
	assert.Equal(t, "Map AC-2", conv.Title)

	detail, err := store.GetConversation(ctx, "user-1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, detail.ID)
	assert.NotNil(t, detail.Messages)
	assert.Empty(t, detail.Messages)
}

func TestBadgerStore_OwnershipFiltering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "owner", "private")
	require.NoError(t, err)

	_, err = store.GetConversation(ctx, "intruder", conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.AppendMessage(ctx, "intruder", conv.ID, datatypes.Message{Role: datatypes.RoleUser, Content: "hi"})
	assert.ErrorIs(t, err, ErrForbidden)

	err = store.DeleteConversation(ctx, "intruder", conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := store.ListConversations(ctx, "intruder")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBadgerStore_MissingConversation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetConversation(ctx, "u", "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.TouchConversation(ctx, "does-not-exist"), ErrNotFound)
	assert.ErrorIs(t, store.DeleteConversation(ctx, "u", "does-not-exist"), ErrNotFound)
	_, err = store.AppendMessage(ctx, "u", "does-not-exist", datatypes.Message{Role: datatypes.RoleUser, Content: "x"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestBadgerStore_MessagesKeepOrderAndMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "u", "t")
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, "u", conv.ID, datatypes.Message{Role: datatypes.RoleUser, Content: "Map AC-2 to ISO 27001"})
	require.NoError(t, err)

	evidence := []datatypes.RetrievedChunk{{Text: "AC-2 Account Management", Framework: "nist80053", Similarity: 0.91}}
	stored, err := store.AppendMessage(ctx, "u", conv.ID, datatypes.Message{
		Role:      datatypes.RoleAssistant,
		Content:   "AC-2 maps to A.5.16.",
		Citations: []string{"iso27001", "nist80053"},
		Evidence:  evidence,
		ModeFlags: datatypes.ModeFlags{MappingMode: true},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, conv.ID, stored.ConversationID)
	assert.Equal(t, []string{"iso27001", "nist80053"}, stored.FrameworksUsed)

	detail, err := store.GetConversation(ctx, "u", conv.ID)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, datatypes.RoleUser, detail.Messages[0].Role)
	assert.Empty(t, detail.Messages[0].Citations)
	assert.NotNil(t, detail.Messages[0].Evidence)

	assistant := detail.Messages[1]
	assert.Equal(t, datatypes.RoleAssistant, assistant.Role)
	assert.True(t, assistant.MappingMode)
	assert.False(t, assistant.IncidentMode)
	assert.Equal(t, evidence, assistant.Evidence)
}

func TestBadgerStore_ListOrderedByActivity(t *testing.T) {
	store := newTestStore(t)
	store.now = steppingClock()
	ctx := context.Background()

	first, err := store.CreateConversation(ctx, "u", "first")
	require.NoError(t, err)
	second, err := store.CreateConversation(ctx, "u", "second")
	require.NoError(t, err)
	_, err = store.CreateConversation(ctx, "other", "not mine")
	require.NoError(t, err)

	list, err := store.ListConversations(ctx, "u")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	require.NoError(t, store.TouchConversation(ctx, first.ID))

	list, err = store.ListConversations(ctx, "u")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.True(t, list[0].UpdatedAt.After(list[0].CreatedAt))
}

func TestBadgerStore_DeleteRemovesMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "u", "t")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := store.AppendMessage(ctx, "u", conv.ID, datatypes.Message{Role: datatypes.RoleUser, Content: "q"})
		require.NoError(t, err)
	}

	require.NoError(t, store.DeleteConversation(ctx, "u", conv.ID))

	_, err = store.GetConversation(ctx, "u", conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	list, err := store.ListConversations(ctx, "u")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.ErrorIs(t, store.DeleteConversation(ctx, "u", conv.ID), ErrNotFound)
}

func TestOpenBadgerStore_RequiresPath(t *testing.T) {
	_, err := OpenBadgerStore(BadgerConfig{})
	assert.Error(t, err)
}

func TestOpenBadgerStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	conv, err := store.CreateConversation(context.Background(), "u", "persisted")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()
	detail, err := reopened.GetConversation(context.Background(), "u", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", detail.Title)
}

// =============================================================================
// Persister
// =============================================================================

func TestPersister_SubmitAppendsAndTouches(t *testing.T) {
	store := newTestStore(t)
	store.now = steppingClock()
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "u", "t")
	require.NoError(t, err)

	p, err := NewPersister(store, 2, time.Second)
	require.NoError(t, err)

	p.Submit(Turn{
		UserID:         "u",
		ConversationID: conv.ID,
		Message:        datatypes.Message{Role: datatypes.RoleAssistant, Content: "partial answer", Citations: []string{"mitre"}},
	})
	require.NoError(t, p.Close(ctx))

	detail, err := store.GetConversation(ctx, "u", conv.ID)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "partial answer", detail.Messages[0].Content)
	assert.True(t, detail.UpdatedAt.After(conv.UpdatedAt))
}

func TestPersister_SaveReportsOwnershipError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	conv, err := store.CreateConversation(ctx, "owner", "t")
	require.NoError(t, err)

	p, err := NewPersister(store, 0, 0)
	require.NoError(t, err)
	defer p.Close(ctx)

	_, err = p.Save(ctx, Turn{UserID: "other", ConversationID: conv.ID, Message: datatypes.Message{Role: datatypes.RoleUser, Content: "x"}})
	assert.True(t, errors.Is(err, ErrForbidden))
}

func TestPersister_SubmitFailureIsSwallowed(t *testing.T) {
	store := newTestStore(t)
	p, err := NewPersister(store, 1, time.Second)
	require.NoError(t, err)

	p.Submit(Turn{UserID: "u", ConversationID: "missing", Message: datatypes.Message{Role: datatypes.RoleAssistant, Content: "x"}})
	assert.NoError(t, p.Close(context.Background()))
}

func TestNewPersister_RequiresStore(t *testing.T) {
	_, err := NewPersister(nil, 1, time.Second)
	assert.Error(t, err)
}
