// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the session orchestrator.
//
// This file contains the WebSocket frame types exchanged with the browser
// client: the inbound turn payload and the outbound message, sources,
// terminal, and error frames. For store records see records.go.
package datatypes

import (
	"github.com/HelionAI/HelionSearch/services/pipeline"
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a turn's content.
	// Byte length, not rune count, to bound memory for large payloads.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxHistoryEntries is the maximum number of history entries per turn.
	MaxHistoryEntries = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// frameValidate is the validator instance for inbound frames.
// Initialized in init() with custom validators.
var frameValidate *validator.Validate

func init() {
	frameValidate = validator.New()
	_ = frameValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxMessageContentBytes on string fields.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Inbound Frames
// =============================================================================

// InboundMessage is the message block of an inbound turn payload.
//
// # Fields
//
//   - MessageID: Optional caller-supplied id. When it matches an already
//     stored human message, the turn is treated as an edit/resubmit and the
//     chat's tail is discarded before the new answer is appended.
//   - ChatID: Chat the turn belongs to. The first turn for an id creates
//     the chat record.
//   - Content: Required. The user's query text, up to 32KB.
type InboundMessage struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Content   string `json:"content" validate:"required,maxbytes"`
}

// WSMessage is one inbound turn payload.
//
// # Description
//
// One JSON object per client frame. AnalyticsModel is an exclusive switch:
// true routes the turn to the analytics pipeline, false to the focus-mode
// registry. History entries are (role, text) pairs in conversation order.
type WSMessage struct {
	Message          InboundMessage `json:"message"`
	AnalyticsModel   bool           `json:"analyticsModel"`
	OptimizationMode string         `json:"optimizationMode"`
	Type             string         `json:"type"`
	FocusMode        string         `json:"focusMode"`
	History          [][2]string    `json:"history" validate:"max=100"`
	Files            []string       `json:"files"`
}

// Validate checks the payload against its validation tags.
func (m *WSMessage) Validate() error {
	return frameValidate.Struct(m)
}

// PipelineHistory converts the raw (role, text) pairs into typed pipeline
// messages. The wire role "human" maps to RoleHuman; anything else is
// treated as an assistant turn, matching the permissive client contract.
func (m *WSMessage) PipelineHistory() []pipeline.Message {
	history := make([]pipeline.Message, 0, len(m.History))
	for _, entry := range m.History {
		role := pipeline.RoleAssistant
		if entry[0] == "human" {
			role = pipeline.RoleHuman
		}
		history = append(history, pipeline.Message{Role: role, Content: entry[1]})
	}
	return history
}

// =============================================================================
// Outbound Frames
// =============================================================================

// Outbound frame type tags.
const (
	FrameTypeMessage    = "message"
	FrameTypeSources    = "sources"
	FrameTypeMessageEnd = "messageEnd"
	FrameTypeStreamEnd  = "stream_end"
	FrameTypeError      = "error"
)

// Error keys sent with error frames.
const (
	// ErrKeyInvalidFormat: unparseable payload or empty content.
	ErrKeyInvalidFormat = "INVALID_FORMAT"

	// ErrKeyInvalidFocusMode: focus mode not in the registry.
	ErrKeyInvalidFocusMode = "INVALID_FOCUS_MODE"

	// ErrKeyChainError: the pipeline failed after dispatch.
	ErrKeyChainError = "CHAIN_ERROR"
)

// MessageFrame carries one response text delta.
type MessageFrame struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	MessageID string `json:"messageId"`
}

// SourcesFrame carries the citation list for a turn.
type SourcesFrame struct {
	Type      string            `json:"type"`
	Data      []pipeline.Source `json:"data"`
	MessageID string            `json:"messageId"`
}

// MessageEndFrame is the terminal success frame for a message id.
type MessageEndFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// StreamEndFrame marks the end of the raw analytics narration stream.
// Distinct from MessageEndFrame: the turn continues with chart
// publication after this frame. Data is always the empty string.
type StreamEndFrame struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	MessageID string `json:"messageId"`
}

// ErrorFrame is the terminal failure frame.
type ErrorFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Key  string `json:"key"`
}
