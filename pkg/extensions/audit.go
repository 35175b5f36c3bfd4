// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeFailure = "failure"
)

// AuditEvent is one security-relevant action.
type AuditEvent struct {
	// EventType groups events, e.g. "auth" or "conversation".
	EventType string

	Timestamp time.Time
	UserID    string

	// Action is the verb, e.g. "delete" or "append_message".
	Action string

	ResourceType string
	ResourceID   string

	// Outcome is one of OutcomeSuccess, OutcomeDenied, OutcomeFailure.
	Outcome string
}

// AuditLogger records audit events. Log must not block the request path
// for long; implementations that ship events remotely should buffer.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log does nothing.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

// SlogAuditLogger writes events as structured log records under the
// "audit" group.
type SlogAuditLogger struct {
	Logger *slog.Logger
}

// Log writes event at Info, or Warn when access was denied.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	level := slog.LevelInfo
	if event.Outcome == OutcomeDenied {
		level = slog.LevelWarn
	}
	logger.LogAttrs(ctx, level, "audit event",
		slog.Group("audit",
			slog.String("event_type", event.EventType),
			slog.Time("timestamp", event.Timestamp),
			slog.String("user_id", event.UserID),
			slog.String("action", event.Action),
			slog.String("resource_type", event.ResourceType),
			slog.String("resource_id", event.ResourceID),
			slog.String("outcome", event.Outcome),
		))
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
