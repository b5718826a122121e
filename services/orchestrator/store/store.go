// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the durable chat store.
//
// The store is append-mostly: chats are created once and never updated,
// messages are appended with a store-assigned monotonic sequence id, and
// the single corrective operation deletes every message after a given
// sequence in a chat (edit/resubmit truncation).
package store

import (
	"context"

	"github.com/HelionAI/HelionSearch/services/orchestrator/datatypes"
)

// ChatStore defines the contract for chat and message persistence.
//
// # Description
//
// Within a chat, messages are totally ordered by their store-assigned
// sequence id; AppendMessage assigns it and DeleteMessagesAfter truncates
// by it. No optimistic concurrency control is provided: concurrent
// truncations of the same chat resolve last-writer-wins.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple connections.
type ChatStore interface {
	// CreateChatIfAbsent persists the chat record unless one with the same
	// id already exists. Returns true if a record was created.
	CreateChatIfAbsent(ctx context.Context, chat datatypes.Chat) (bool, error)

	// FindMessage looks up a message by its turn-scoped message id within
	// a chat. The second return is false if no such message exists.
	FindMessage(ctx context.Context, chatID, messageID string) (datatypes.StoredMessage, bool, error)

	// AppendMessage persists a message, assigning and returning its
	// sequence id. The Seq field of the input is ignored.
	AppendMessage(ctx context.Context, msg datatypes.StoredMessage) (uint64, error)

	// DeleteMessagesAfter removes every message in the chat with a
	// sequence id strictly greater than seq. Returns the number removed.
	DeleteMessagesAfter(ctx context.Context, chatID string, seq uint64) (int, error)

	// ListMessages returns the chat's messages in sequence order.
	ListMessages(ctx context.Context, chatID string) ([]datatypes.StoredMessage, error)

	// Close releases the underlying database.
	Close() error
}
