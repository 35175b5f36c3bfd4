// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/observability"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/services"
)

// DefaultKeepAliveInterval stays well under the 60s idle timeout of common
// load balancers.
const DefaultKeepAliveInterval = 15 * time.Second

// StreamOutcome describes how a streamed answer ended.
type StreamOutcome struct {
	// Plan is nil when the stream failed before retrieval ran.
	Plan *services.StreamPlan

	// Answer holds every content token the client was sent.
	Answer string

	// Completed is true when the done event was written.
	Completed bool

	// Disconnected is true when the client went away mid-stream.
	Disconnected bool
}

// StreamSession turns a prepared streaming answer into the ordered wire
// event sequence:
//
//	conversation_id (only for a minted conversation)
//	metadata
//	content*
//	done
//
// # Description
//
// The session forwards tokens and accumulates the answer in one pass, so
// the caller can persist exactly what the client received. While the
// stream is open an SSE comment is written every keepAlive interval,
// including during retrieval before the metadata event.
//
// A StreamSession is single use.
type StreamSession struct {
	writer    SSEWriter
	metrics   *observability.Metrics
	keepAlive time.Duration
}

// NewStreamSession creates a session writing to writer. metrics may be nil
// and keepAlive <= 0 disables keepalives.
func NewStreamSession(writer SSEWriter, metrics *observability.Metrics, keepAlive time.Duration) *StreamSession {
	return &StreamSession{writer: writer, metrics: metrics, keepAlive: keepAlive}
}

// Run streams one answer.
//
// # Inputs
//
//   - ctx: The request context. Cancellation means the client is gone.
//   - mintedID: A conversation id to announce first, or "".
//   - prepare: Classifies, retrieves, and starts generation. Called after
//     the conversation_id event has been written.
//
// # Outputs
//
//   - StreamOutcome: Never an error; write failures end the stream and are
//     reported through Completed and Disconnected.
func (s *StreamSession) Run(
	ctx context.Context,
	mintedID string,
	prepare func(context.Context) *services.StreamPlan,
) (out StreamOutcome) {
	started := time.Now()
	s.metrics.StreamStarted()

	defer func() {
		s.metrics.StreamEnded(time.Since(started).Seconds(), out.Completed)
	}()

	stop := s.startKeepAlive(ctx)
	defer stop()

	if mintedID != "" {
		if err := s.writer.WriteConversationID(mintedID); err != nil {
			s.disconnected(&out, err)
			return out
		}
	}

	out.Plan = prepare(ctx)
	if err := s.writer.WriteMetadata(out.Plan.Metadata); err != nil {
		s.disconnected(&out, err)
		return out
	}

	var answer strings.Builder
	defer func() { out.Answer = answer.String() }()

	first := true
	for {
		select {
		case <-ctx.Done():
			s.disconnected(&out, ctx.Err())
			return out
		case token, ok := <-out.Plan.Tokens:
			if !ok {
				if ctx.Err() != nil {
					s.disconnected(&out, ctx.Err())
					return out
				}
				stop()
				if err := s.writer.WriteDone(); err != nil {
					s.disconnected(&out, err)
					return out
				}
				out.Completed = true
				return out
			}
			if first {
				first = false
				s.metrics.RecordTimeToFirstToken(time.Since(started).Seconds())
			}
			if err := s.writer.WriteContent(token); err != nil {
				s.disconnected(&out, err)
				return out
			}
			answer.WriteString(token)
		}
	}
}

func (s *StreamSession) disconnected(out *StreamOutcome, err error) {
	out.Disconnected = true
	s.metrics.RecordClientDisconnect()
	slog.Info("Client disconnected from query stream", "error", err)
}

// startKeepAlive runs the keepalive ticker until the returned stop func is
// called or ctx ends. stop is idempotent and waits for the ticker goroutine,
// so no keepalive is written after it returns.
func (s *StreamSession) startKeepAlive(ctx context.Context) func() {
	if s.keepAlive <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.writer.WriteKeepAlive(); err != nil {
					slog.Debug("Failed to write keepalive", "error", err)
					return
				}
				s.metrics.RecordKeepAlive()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
