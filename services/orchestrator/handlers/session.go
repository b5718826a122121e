// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the WebSocket session surface.
//
// # Description
//
// A session is one WebSocket connection. Each inbound frame is one turn:
// the handler validates it, persists the human message, dispatches to
// either a focus-mode search pipeline or the analytics service, streams
// the answer back as frames, and persists the assistant message.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/HelionAI/HelionSearch/services/analytics"
	"github.com/HelionAI/HelionSearch/services/orchestrator/artifacts"
	"github.com/HelionAI/HelionSearch/services/orchestrator/datatypes"
	"github.com/HelionAI/HelionSearch/services/orchestrator/observability"
	"github.com/HelionAI/HelionSearch/services/orchestrator/store"
	"github.com/HelionAI/HelionSearch/services/pipeline"
)

var handlerTracer = otel.Tracer("helion.orchestrator.handlers")

// Client-facing error messages. Internal error details stay in the logs.
const (
	msgInvalidFormat    = "Invalid message format"
	msgInvalidFocusMode = "Invalid focus mode"
	msgChainError       = "An error occurred while answering. Please try again later."
)

// =============================================================================
// Struct Definition
// =============================================================================

// SessionHandler dispatches conversational turns for WebSocket sessions.
//
// # Description
//
// Holds the shared, read-only collaborators every connection uses: the
// focus-mode pipeline registry, the chat store, the analytics client, and
// the artifact publisher. One instance serves all connections.
//
// # Thread Safety
//
// Safe for concurrent use. All fields are set at construction and never
// mutated.
type SessionHandler struct {
	registry  *pipeline.Registry
	store     store.ChatStore
	analytics *analytics.Client
	publisher *artifacts.Publisher
	models    pipeline.ModelParams
}

// NewSessionHandler creates a SessionHandler with the given collaborators.
//
// # Inputs
//
//   - registry: Focus-mode pipeline registry. Must not be nil.
//   - chatStore: Chat persistence. Must not be nil.
//   - analyticsClient: Analytics service client. May be nil if the
//     deployment has no analytics service; analytics turns then fail
//     with a chain error.
//   - publisher: Chart artifact publisher. Same nil contract as the
//     analytics client.
//   - models: Model names forwarded to pipelines on every turn.
func NewSessionHandler(
	registry *pipeline.Registry,
	chatStore store.ChatStore,
	analyticsClient *analytics.Client,
	publisher *artifacts.Publisher,
	models pipeline.ModelParams,
) *SessionHandler {
	return &SessionHandler{
		registry:  registry,
		store:     chatStore,
		analytics: analyticsClient,
		publisher: publisher,
		models:    models,
	}
}

// =============================================================================
// Turn Dispatch
// =============================================================================

// HandleTurn processes one inbound frame.
//
// # Description
//
// Parses and validates the payload, then routes it: analyticsModel turns
// go to the analytics dual-stream path, everything else to the focus-mode
// pipeline registry. Validation failures produce exactly one error frame
// and leave the store untouched.
//
// # Inputs
//
//   - ctx: Connection-scoped context. Cancelled when the client leaves.
//   - fw: Frame writer for the connection.
//   - raw: The raw inbound frame bytes.
func (h *SessionHandler) HandleTurn(ctx context.Context, fw FrameWriter, raw []byte) {
	var msg datatypes.WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("Rejected malformed turn payload", "error", err)
		h.rejectTurn(fw, datatypes.ErrKeyInvalidFormat, msgInvalidFormat,
			observability.ErrorKeyInvalidFormat)
		return
	}

	if err := msg.Validate(); err != nil {
		slog.Warn("Rejected invalid turn payload", "error", err,
			"chatID", msg.Message.ChatID)
		h.rejectTurn(fw, datatypes.ErrKeyInvalidFormat, msgInvalidFormat,
			observability.ErrorKeyInvalidFormat)
		return
	}

	// Non-message frames (pings, future control frames) are ignored.
	if msg.Type != "message" {
		slog.Debug("Ignoring non-message frame", "type", msg.Type)
		return
	}

	humanMessageID := msg.Message.MessageID
	if humanMessageID == "" {
		humanMessageID = uuid.New().String()
	}
	aiMessageID := uuid.New().String()

	// Attached files imply document-grounded search regardless of the
	// requested mode.
	focusMode := msg.FocusMode
	if len(msg.Files) > 0 {
		focusMode = pipeline.FocusWebSearch.String()
	}

	ctx, span := handlerTracer.Start(ctx, "session.turn",
		trace.WithAttributes(
			attribute.String("chat.id", msg.Message.ChatID),
			attribute.String("focus.mode", focusMode),
			attribute.Bool("analytics", msg.AnalyticsModel),
		))
	defer span.End()

	if msg.AnalyticsModel {
		h.handleAnalyticsTurn(ctx, fw, &msg, humanMessageID, aiMessageID)
		return
	}

	mode, ok := pipeline.ParseFocusMode(focusMode)
	if !ok {
		slog.Warn("Rejected unknown focus mode", "focusMode", focusMode,
			"chatID", msg.Message.ChatID)
		h.rejectTurn(fw, datatypes.ErrKeyInvalidFocusMode, msgInvalidFocusMode,
			observability.ErrorKeyInvalidFocusMode)
		return
	}
	p, ok := h.registry.Lookup(mode)
	if !ok {
		slog.Warn("No pipeline registered for focus mode", "focusMode", focusMode)
		h.rejectTurn(fw, datatypes.ErrKeyInvalidFocusMode, msgInvalidFocusMode,
			observability.ErrorKeyInvalidFocusMode)
		return
	}

	h.handleStandardTurn(ctx, fw, &msg, p, humanMessageID, aiMessageID)
}

// rejectTurn emits a single error frame and counts it.
func (h *SessionHandler) rejectTurn(fw FrameWriter, key, display string, metricKey observability.ErrorKey) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(metricKey)
	}
	if err := fw.WriteError(key, display); err != nil {
		slog.Warn("Failed to write error frame", "key", key, "error", err)
	}
}

// =============================================================================
// Persistence
// =============================================================================

// persistHumanTurn records the chat and the human message for a turn.
//
// # Description
//
// Creates the chat record on first contact. When the human message id is
// already stored, the turn is an edit/resubmit: every later message is
// discarded and the stored message is kept as-is, so the retained history
// ends at the edited turn. Otherwise the message is appended.
//
// # Outputs
//
//   - error: Non-nil if any store operation failed.
func (h *SessionHandler) persistHumanTurn(
	ctx context.Context,
	msg *datatypes.WSMessage,
	humanMessageID string,
	focusMode string,
) error {
	_, err := h.store.CreateChatIfAbsent(ctx, datatypes.Chat{
		ID:        msg.Message.ChatID,
		Title:     msg.Message.Content,
		CreatedAt: time.Now().UTC(),
		FocusMode: focusMode,
		Files:     msg.Files,
	})
	if err != nil {
		return err
	}

	existing, found, err := h.store.FindMessage(ctx, msg.Message.ChatID, humanMessageID)
	if err != nil {
		return err
	}
	if found {
		removed, err := h.store.DeleteMessagesAfter(ctx, msg.Message.ChatID, existing.Seq)
		if err != nil {
			return err
		}
		slog.Info("Truncated chat tail for resubmitted message",
			"chatID", msg.Message.ChatID,
			"messageID", humanMessageID,
			"removed", removed)
		return nil
	}

	_, err = h.store.AppendMessage(ctx, datatypes.StoredMessage{
		MessageID: humanMessageID,
		ChatID:    msg.Message.ChatID,
		Role:      datatypes.MessageRoleUser,
		Content:   msg.Message.Content,
		Metadata:  datatypes.MessageMetadata{CreatedAt: time.Now().UTC()},
	})
	return err
}

// persistAssistantTurn records the finished answer. Failures are logged
// only; the client already has the full answer on screen.
func (h *SessionHandler) persistAssistantTurn(
	ctx context.Context,
	chatID, aiMessageID, content string,
	sources []pipeline.Source,
) {
	_, err := h.store.AppendMessage(ctx, datatypes.StoredMessage{
		MessageID: aiMessageID,
		ChatID:    chatID,
		Role:      datatypes.MessageRoleAssistant,
		Content:   content,
		Metadata: datatypes.MessageMetadata{
			CreatedAt: time.Now().UTC(),
			Sources:   sources,
		},
	})
	if err != nil {
		slog.Warn("Failed to persist assistant message",
			"chatID", chatID, "messageID", aiMessageID, "error", err)
	}
}
