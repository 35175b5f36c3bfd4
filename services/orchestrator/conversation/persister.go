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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
)

const (
	DefaultPersistWorkers = 8
	DefaultPersistTimeout = 10 * time.Second
)

// Turn is one message to persist for a user's conversation.
type Turn struct {
	UserID         string
	ConversationID string
	Message        datatypes.Message
}

// Persister writes turns to a Store, appending the message and then
// touching the conversation.
//
// # Description
//
// Save runs synchronously. Submit runs the same write on a bounded ants
// pool with its own timeout, detached from any request context, so it
// still completes after the client has gone away. Failures are logged and
// never reported back to the submitter.
//
// # Thread Safety
//
// Safe for concurrent use. Close waits for in-flight writes.
type Persister struct {
	store   Store
	pool    *ants.Pool
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewPersister creates a Persister with workers goroutines. Zero values
// take the defaults.
func NewPersister(store Store, workers int, timeout time.Duration) (*Persister, error) {
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if workers <= 0 {
		workers = DefaultPersistWorkers
	}
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create persist pool: %w", err)
	}
	return &Persister{store: store, pool: pool, timeout: timeout}, nil
}

// Store returns the underlying store.
func (p *Persister) Store() Store {
	return p.store
}

// Save appends turn.Message and bumps the conversation's activity time.
func (p *Persister) Save(ctx context.Context, turn Turn) (datatypes.Message, error) {
	stored, err := p.store.AppendMessage(ctx, turn.UserID, turn.ConversationID, turn.Message)
	if err != nil {
		return datatypes.Message{}, err
	}
	if err := p.store.TouchConversation(ctx, turn.ConversationID); err != nil {
		return stored, fmt.Errorf("touch conversation: %w", err)
	}
	return stored, nil
}

// Submit schedules Save in the background.
func (p *Persister) Submit(turn Turn) {
	p.wg.Add(1)
	task := func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if _, err := p.Save(ctx, turn); err != nil {
			slog.Error("Failed to persist conversation turn",
				"conversation_id", turn.ConversationID,
				"role", turn.Message.Role,
				"error", err)
			return
		}
		slog.Debug("Persisted conversation turn",
			"conversation_id", turn.ConversationID,
			"role", turn.Message.Role,
			"content_len", len(turn.Message.Content))
	}
	if err := p.pool.Submit(task); err != nil {
		p.wg.Done()
		slog.Error("Persist pool rejected turn", "conversation_id", turn.ConversationID, "error", err)
	}
}

// Close waits for pending writes, up to ctx's deadline, then releases the
// pool.
func (p *Persister) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for pending conversation writes: %w", ctx.Err())
	}
	p.pool.Release()
	return err
}
