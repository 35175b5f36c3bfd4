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
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
)

// Key layout:
//
//	conv/{conversationID}              -> JSON datatypes.Conversation
//	user/{userID}/{conversationID}     -> empty (ownership index)
//	msg/{conversationID}/{seq:%020d}   -> JSON datatypes.Message
//	seq/msg                            -> message sequence
const (
	convPrefix  = "conv/"
	userPrefix  = "user/"
	msgPrefix   = "msg/"
	sequenceKey = "seq/msg"

	sequenceBandwidth = 100
	maxTxnRetries     = 3
)

// BadgerConfig configures an embedded conversation store.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests and throwaway runs.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. nil silences them.
	Logger *slog.Logger
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore implements Store on an embedded BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	now func() time.Time
}

// OpenBadgerStore opens (or creates) a store.
//
// # Outputs
//
//   - *BadgerStore: Must be closed with Close.
//   - error: Non-nil if the path is missing or the database cannot open.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent conversation store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create conversation store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open message sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq, now: func() time.Time { return time.Now().UTC() }}, nil
}

func convKey(id string) []byte { return []byte(convPrefix + id) }

func userKey(userID, id string) []byte { return []byte(userPrefix + userID + "/" + id) }

func msgKeyPrefix(id string) []byte { return []byte(msgPrefix + id + "/") }

func msgKey(id string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", msgPrefix, id, seq))
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// loadOwned reads a conversation and checks its owner.
func loadOwned(txn *badger.Txn, userID, id string) (datatypes.Conversation, error) {
	var c datatypes.Conversation
	err := getJSON(txn, convKey(id), &c)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("load conversation: %w", err)
	}
	if c.UserID != userID {
		return c, ErrNotFound
	}
	return c, nil
}

// CreateConversation implements Store.
func (s *BadgerStore) CreateConversation(ctx context.Context, userID, title string) (datatypes.Conversation, error) {
	now := s.now()
	c := datatypes.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := setJSON(txn, convKey(c.ID), c); err != nil {
			return err
		}
		return txn.Set(userKey(userID, c.ID), nil)
	})
	if err != nil {
		return datatypes.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

// ListConversations implements Store.
func (s *BadgerStore) ListConversations(ctx context.Context, userID string) ([]datatypes.Conversation, error) {
	convs := []datatypes.Conversation{}
	prefix := []byte(userPrefix + userID + "/")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := string(it.Item().Key()[len(prefix):])
			var c datatypes.Conversation
			err := getJSON(txn, convKey(id), &c)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			convs = append(convs, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	slices.SortFunc(convs, func(a, b datatypes.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return convs, nil
}

// GetConversation implements Store.
func (s *BadgerStore) GetConversation(ctx context.Context, userID, conversationID string) (datatypes.ConversationDetail, error) {
	var detail datatypes.ConversationDetail
	err := s.db.View(func(txn *badger.Txn) error {
		c, err := loadOwned(txn, userID, conversationID)
		if err != nil {
			return err
		}
		detail.Conversation = c
		detail.Messages = []datatypes.Message{}

		prefix := msgKeyPrefix(conversationID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m datatypes.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			detail.Messages = append(detail.Messages, normalizeMessage(m))
		}
		return nil
	})
	if err != nil {
		return datatypes.ConversationDetail{}, err
	}
	return detail, nil
}

// AppendMessage implements Store.
func (s *BadgerStore) AppendMessage(ctx context.Context, userID, conversationID string, msg datatypes.Message) (datatypes.Message, error) {
	seq, err := s.seq.Next()
	if err != nil {
		return datatypes.Message{}, fmt.Errorf("next message sequence: %w", err)
	}

	msg = normalizeMessage(msg)
	msg.ID = uuid.NewString()
	msg.ConversationID = conversationID
	msg.CreatedAt = s.now()

	err = s.update(ctx, func(txn *badger.Txn) error {
		if _, err := loadOwned(txn, userID, conversationID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrForbidden
			}
			return err
		}
		return setJSON(txn, msgKey(conversationID, seq), msg)
	})
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			return datatypes.Message{}, err
		}
		return datatypes.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// TouchConversation implements Store.
func (s *BadgerStore) TouchConversation(ctx context.Context, conversationID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var c datatypes.Conversation
		err := getJSON(txn, convKey(conversationID), &c)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		c.UpdatedAt = s.now()
		return setJSON(txn, convKey(conversationID), c)
	})
}

// DeleteConversation implements Store.
func (s *BadgerStore) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := loadOwned(txn, userID, conversationID); err != nil {
			return err
		}
		prefix := msgKeyPrefix(conversationID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
	}
	if err := wb.Delete(userKey(userID, conversationID)); err != nil {
		return fmt.Errorf("delete ownership index: %w", err)
	}
	if err := wb.Delete(convKey(conversationID)); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// PurgeInactive implements Purger.
func (s *BadgerStore) PurgeInactive(ctx context.Context, before time.Time, limit int) (int, error) {
	var stale []datatypes.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(convPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(stale) < limit; it.Next() {
			var c datatypes.Conversation
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &c)
			})
			if err != nil {
				return fmt.Errorf("decode conversation: %w", err)
			}
			if c.UpdatedAt.Before(before) {
				stale = append(stale, c)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, c := range stale {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		err := s.DeleteConversation(ctx, c.UserID, c.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// Close releases the sequence and closes the database.
func (s *BadgerStore) Close() error {
	seqErr := s.seq.Release()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close conversation store: %w", err)
	}
	if seqErr != nil {
		return fmt.Errorf("release message sequence: %w", seqErr)
	}
	return nil
}

var (
	_ Store  = (*BadgerStore)(nil)
	_ Purger = (*BadgerStore)(nil)
)
