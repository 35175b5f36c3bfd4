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
)

type fakePurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
	limits  []int
	purged  int
	err     error
}

func (p *fakePurger) PurgeInactive(_ context.Context, before time.Time, limit int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, before)
	p.limits = append(p.limits, limit)
	return p.purged, p.err
}

func (p *fakePurger) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func TestBadgerStore_PurgeInactive(t *testing.T) {
	store := newTestStore(t)
	store.now = steppingClock()
	ctx := context.Background()

	oldest, err := store.CreateConversation(ctx, "u", "oldest")
	require.NoError(t, err)
	older, err := store.CreateConversation(ctx, "other", "older")
	require.NoError(t, err)
	fresh, err := store.CreateConversation(ctx, "u", "fresh")
	require.NoError(t, err)

	cutoff := fresh.UpdatedAt.Add(-time.Millisecond)
	purged, err := store.PurgeInactive(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	_, err = store.GetConversation(ctx, "u", oldest.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetConversation(ctx, "other", older.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetConversation(ctx, "u", fresh.ID)
	assert.NoError(t, err)
}

func TestBadgerStore_PurgeInactive_RespectsLimit(t *testing.T) {
	store := newTestStore(t)
	store.now = steppingClock()
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c"} {
		_, err := store.CreateConversation(ctx, "u", title)
		require.NoError(t, err)
	}

	far := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	purged, err := store.PurgeInactive(ctx, far, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	list, err := store.ListConversations(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRetentionScheduler_RunNow(t *testing.T) {
	purger := &fakePurger{purged: 3}
	s := NewRetentionScheduler(purger, RetentionConfig{MaxAge: 24 * time.Hour})
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	purged, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, purged)
	require.Len(t, purger.cutoffs, 1)
	assert.Equal(t, fixed.Add(-24*time.Hour), purger.cutoffs[0])
	assert.Equal(t, DefaultRetentionConfig().BatchSize, purger.limits[0])
}

func TestRetentionScheduler_RunNow_WrapsError(t *testing.T) {
	purger := &fakePurger{err: errors.New("db down")}
	s := NewRetentionScheduler(purger, RetentionConfig{MaxAge: time.Hour, BatchSize: 5})

	_, err := s.RunNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, []int{5}, purger.limits)
}

func TestRetentionScheduler_StartSweepsImmediately(t *testing.T) {
	purger := &fakePurger{}
	s := NewRetentionScheduler(purger, RetentionConfig{MaxAge: time.Hour, Interval: time.Hour})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return purger.calls() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestRetentionScheduler_RequiresMaxAge(t *testing.T) {
	s := NewRetentionScheduler(&fakePurger{}, RetentionConfig{})
	assert.Error(t, s.Start(context.Background()))
}
