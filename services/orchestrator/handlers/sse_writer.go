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
	"fmt"
	"net/http"
	"sync"

	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes query stream events to an HTTP response.
//
// # Description
//
// Every event is framed as a single "data: <json>\n\n" line and flushed
// immediately. Keepalives are SSE comments and carry no event.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the keepalive ticker
// writes from its own goroutine.
type SSEWriter interface {
	// WriteEvent serializes and flushes one event.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteConversationID writes {"type":"conversation_id","id":...}.
	WriteConversationID(id string) error

	// WriteMetadata writes {"type":"metadata","data":{...}}.
	WriteMetadata(meta datatypes.StreamMetadata) error

	// WriteContent writes {"type":"content","text":...}.
	WriteContent(text string) error

	// WriteDone writes {"type":"done"}.
	WriteDone() error

	// WriteKeepAlive writes an SSE comment to keep proxies from timing
	// out an idle connection.
	WriteKeepAlive() error
}

// sseWriter implements SSEWriter over an http.ResponseWriter.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// =============================================================================
// Constructor
// =============================================================================

// NewSSEWriter creates an SSEWriter for w.
//
// # Examples
//
//	SetSSEHeaders(c.Writer)
//	writer, err := NewSSEWriter(c.Writer)
//	if err != nil {
//	    c.JSON(http.StatusInternalServerError, gin.H{"detail": "streaming not supported"})
//	    return
//	}
//	writer.WriteMetadata(plan.Metadata)
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	data, err := event.Encode()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteConversationID(id string) error {
	return w.WriteEvent(datatypes.NewConversationIDEvent(id))
}

func (w *sseWriter) WriteMetadata(meta datatypes.StreamMetadata) error {
	return w.WriteEvent(datatypes.NewMetadataEvent(meta))
}

func (w *sseWriter) WriteContent(text string) error {
	return w.WriteEvent(datatypes.NewContentEvent(text))
}

func (w *sseWriter) WriteDone() error {
	return w.WriteEvent(datatypes.NewDoneEvent())
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders sets the event-stream headers. X-Accel-Buffering disables
// nginx response buffering. Must be called before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
