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
)

// Purger deletes conversations whose last activity is older than a cutoff.
// Both bundled stores implement it.
type Purger interface {
	// PurgeInactive deletes up to limit conversations, with their
	// messages, last active before the cutoff. Returns how many went.
	PurgeInactive(ctx context.Context, before time.Time, limit int) (int, error)
}

// RetentionConfig configures the retention sweeper.
//
// # Fields
//
//   - MaxAge: Conversations idle longer than this are deleted. Zero
//     disables retention.
//   - Interval: How often to sweep. Default: 1 hour.
//   - BatchSize: Maximum conversations deleted per sweep. Default: 500.
type RetentionConfig struct {
	MaxAge    time.Duration
	Interval  time.Duration
	BatchSize int
}

// DefaultRetentionConfig returns the sweep defaults with retention off.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Interval:  1 * time.Hour,
		BatchSize: 500,
	}
}

// RetentionScheduler periodically deletes idle conversations.
//
// # Description
//
// Uses the ticker + done channel pattern. A sweep runs immediately on
// Start and then every Interval until Stop or context cancellation. A
// failed sweep is logged and retried at the next tick.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type RetentionScheduler struct {
	purger  Purger
	config  RetentionConfig
	now     func() time.Time
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewRetentionScheduler creates a scheduler. Zero Interval and BatchSize
// take the defaults.
func NewRetentionScheduler(purger Purger, config RetentionConfig) *RetentionScheduler {
	defaults := DefaultRetentionConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	return &RetentionScheduler{
		purger: purger,
		config: config,
		now:    time.Now,
	}
}

// Start begins sweeping in the background.
//
// # Outputs
//
//   - error: Non-nil if already running or MaxAge is not positive.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	if s.config.MaxAge <= 0 {
		return errors.New("retention max age must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("retention scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})

	slog.Info("Conversation retention scheduler starting",
		"max_age", s.config.MaxAge.String(),
		"interval", s.config.Interval.String(),
		"batch_size", s.config.BatchSize)

	s.wg.Add(1)
	go s.runLoop(ctx, s.done)
	return nil
}

// Stop signals the loop to exit and waits for an in-flight sweep. Safe to
// call multiple times.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.done)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("Conversation retention scheduler stopped")
}

// RunNow performs one sweep and returns the number of conversations
// deleted.
func (s *RetentionScheduler) RunNow(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.MaxAge)
	purged, err := s.purger.PurgeInactive(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return purged, fmt.Errorf("purge inactive conversations: %w", err)
	}
	return purged, nil
}

func (s *RetentionScheduler) runLoop(ctx context.Context, done <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *RetentionScheduler) sweep(ctx context.Context) {
	start := time.Now()
	purged, err := s.RunNow(ctx)
	if err != nil {
		slog.Error("Conversation retention sweep failed", "purged", purged, "error", err)
		return
	}
	if purged > 0 {
		slog.Info("Conversation retention sweep completed",
			"purged", purged,
			"duration_ms", time.Since(start).Milliseconds())
		return
	}
	slog.Debug("Conversation retention sweep completed (nothing idle)")
}
