// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
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
	"sync"

	"github.com/gorilla/websocket"

	"github.com/HelionAI/HelionSearch/services/orchestrator/datatypes"
	"github.com/HelionAI/HelionSearch/services/orchestrator/observability"
	"github.com/HelionAI/HelionSearch/services/pipeline"
)

// =============================================================================
// Interface Definition
// =============================================================================

// FrameWriter defines the contract for writing outbound frames to a client.
//
// # Description
//
// FrameWriter abstracts frame serialization and transport, enabling
// testability and separation from WebSocket mechanics. Implementations
// serialize each frame to one JSON object per transport message.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Turn handlers emit frames from the pipeline bridge and the analytics
// publisher concurrently.
//
// # Limitations
//
//   - A write error usually means the client is gone; callers should
//     abandon the turn rather than retry.
type FrameWriter interface {
	// WriteMessage writes one response text delta for the given message id.
	WriteMessage(messageID, data string) error

	// WriteSources writes the citation list for the given message id.
	WriteSources(messageID string, sources []pipeline.Source) error

	// WriteMessageEnd writes the terminal success frame for a message id.
	WriteMessageEnd(messageID string) error

	// WriteStreamEnd marks the end of the raw analytics narration stream.
	// The turn continues with chart publication after this frame.
	WriteStreamEnd(messageID string) error

	// WriteError writes the terminal failure frame.
	//
	// # Inputs
	//
	//   - key: Stable machine-readable error key (e.g. INVALID_FORMAT).
	//   - data: Human-readable message for display. Must be sanitized;
	//     internal error details never reach the client.
	WriteError(key, data string) error
}

// =============================================================================
// Struct Definition
// =============================================================================

// wsFrameWriter implements FrameWriter over a gorilla WebSocket connection.
//
// # Description
//
// wsFrameWriter wraps a *websocket.Conn and writes each frame as a single
// text message containing one JSON object. gorilla connections support one
// concurrent writer, so all writes are serialized through a mutex.
//
// # Fields
//
//   - conn: Underlying WebSocket connection
//   - mu: Mutex serializing writes
//
// # Thread Safety
//
// Thread-safe via mutex. Multiple goroutines can write frames concurrently.
//
// # Limitations
//
//   - Cannot be reused after the connection closes
type wsFrameWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// =============================================================================
// Constructor
// =============================================================================

// NewFrameWriter creates a FrameWriter for the given WebSocket connection.
//
// # Inputs
//
//   - conn: Upgraded WebSocket connection. Must not be nil.
//
// # Outputs
//
//   - FrameWriter: Ready to write frames.
func NewFrameWriter(conn *websocket.Conn) FrameWriter {
	return &wsFrameWriter{conn: conn}
}

// =============================================================================
// Methods
// =============================================================================

// writeJSON serializes v and writes it as one text message.
func (w *wsFrameWriter) writeJSON(frameType string, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write %s frame: %w", frameType, err)
	}

	if m := observability.DefaultMetrics; m != nil {
		m.RecordFrame(frameType)
	}
	return nil
}

// WriteMessage writes one response text delta for the given message id.
func (w *wsFrameWriter) WriteMessage(messageID, data string) error {
	return w.writeJSON(datatypes.FrameTypeMessage, datatypes.MessageFrame{
		Type:      datatypes.FrameTypeMessage,
		Data:      data,
		MessageID: messageID,
	})
}

// WriteSources writes the citation list for the given message id.
func (w *wsFrameWriter) WriteSources(messageID string, sources []pipeline.Source) error {
	return w.writeJSON(datatypes.FrameTypeSources, datatypes.SourcesFrame{
		Type:      datatypes.FrameTypeSources,
		Data:      sources,
		MessageID: messageID,
	})
}

// WriteMessageEnd writes the terminal success frame for a message id.
func (w *wsFrameWriter) WriteMessageEnd(messageID string) error {
	return w.writeJSON(datatypes.FrameTypeMessageEnd, datatypes.MessageEndFrame{
		Type:      datatypes.FrameTypeMessageEnd,
		MessageID: messageID,
	})
}

// WriteStreamEnd marks the end of the raw analytics narration stream.
func (w *wsFrameWriter) WriteStreamEnd(messageID string) error {
	return w.writeJSON(datatypes.FrameTypeStreamEnd, datatypes.StreamEndFrame{
		Type:      datatypes.FrameTypeStreamEnd,
		Data:      "",
		MessageID: messageID,
	})
}

// WriteError writes the terminal failure frame.
func (w *wsFrameWriter) WriteError(key, data string) error {
	return w.writeJSON(datatypes.FrameTypeError, datatypes.ErrorFrame{
		Type: datatypes.FrameTypeError,
		Data: data,
		Key:  key,
	})
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ FrameWriter = (*wsFrameWriter)(nil)
