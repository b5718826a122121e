// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"

	"github.com/HelionAI/HelionSearch/services/pipeline"
)

// Message roles as persisted in the chat store.
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// Chat is the durable record of one conversation.
//
// Created lazily by the first turn carrying its id; later turns with the
// same id never overwrite it.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	FocusMode string    `json:"focusMode"`
	Files     []string  `json:"files"`
}

// MessageMetadata is the metadata blob stored with each message.
type MessageMetadata struct {
	CreatedAt time.Time         `json:"createdAt"`
	Sources   []pipeline.Source `json:"sources,omitempty"`
}

// StoredMessage is one persisted chat message.
//
// # Fields
//
//   - Seq: Store-assigned monotonic id. Within a chat, messages are
//     totally ordered by Seq; tail truncation on edit/resubmit uses this
//     ordering.
//   - MessageID: Turn-scoped id (caller-supplied or server-generated).
//   - Role: MessageRoleUser or MessageRoleAssistant.
//   - Metadata: CreatedAt always; Sources only on assistant messages that
//     collected citations.
type StoredMessage struct {
	Seq       uint64          `json:"id"`
	MessageID string          `json:"messageId"`
	ChatID    string          `json:"chatId"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Metadata  MessageMetadata `json:"metadata"`
}
