// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/HelionAI/HelionSearch/services/orchestrator/datatypes"
	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
)

var storeTracer = otel.Tracer("helion.orchestrator.store")

// Key layout:
//
//	chat:<chatID>                 -> JSON Chat
//	msg:<chatID>:<seq %020d>      -> JSON StoredMessage
//	msgidx:<chatID>:<messageID>   -> seq as decimal string
//
// The zero-padded sequence keeps badger's lexicographic key order equal to
// numeric order, so iteration over a chat's msg: prefix yields messages in
// append order and tail truncation is a bounded prefix scan.
//
// Caller-supplied id segments are percent-escaped so a ':' inside an id
// cannot make one chat's keys a prefix of another's.
const (
	chatKeyPrefix   = "chat:"
	msgKeyPrefix    = "msg:"
	msgIdxKeyPrefix = "msgidx:"

	// seqBandwidth is how many sequence numbers badger leases at once.
	seqBandwidth = 64
)

// Config holds configuration for the badger-backed chat store.
type Config struct {
	// Path is the directory for database files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
}

// DefaultConfig returns production defaults: persistent, synchronous
// writes.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests: in-memory, async.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	slog.Error(fmt.Sprintf(format, args...))
}
func (badgerLogger) Warningf(format string, args ...interface{}) {
	slog.Warn(fmt.Sprintf(format, args...))
}
func (badgerLogger) Infof(format string, args ...interface{})  {}
func (badgerLogger) Debugf(format string, args ...interface{}) {}

// BadgerStore implements ChatStore on an embedded badger database.
//
// # Thread Safety
//
// Safe for concurrent use; badger transactions provide isolation and the
// sequence allocator is internally synchronized.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Open creates and opens a badger-backed chat store.
//
// # Inputs
//
//   - cfg: Store configuration. Path is required unless InMemory is true.
//
// # Outputs
//
//   - *BadgerStore: The opened store. Caller must Close() when done.
//   - error: Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent chat store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create chat store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open chat store: %w", err)
	}

	seq, err := db.GetSequence([]byte("helion:msgseq"), seqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open message sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq}, nil
}

// Close releases the sequence lease and the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		slog.Warn("Failed to release message sequence", "error", err)
	}
	return s.db.Close()
}

// escapeKeySegment percent-escapes the key separator ':' (and '%' itself)
// in a caller-supplied id so segments stay unambiguous inside a key.
func escapeKeySegment(s string) string {
	if !strings.ContainsAny(s, "%:") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%':
			b.WriteString("%25")
		case ':':
			b.WriteString("%3A")
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func chatKey(chatID string) []byte {
	return []byte(chatKeyPrefix + escapeKeySegment(chatID))
}

func msgKey(chatID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", msgKeyPrefix, escapeKeySegment(chatID), seq))
}

func msgPrefix(chatID string) []byte {
	return []byte(msgKeyPrefix + escapeKeySegment(chatID) + ":")
}

func msgIdxKey(chatID, messageID string) []byte {
	return []byte(msgIdxKeyPrefix + escapeKeySegment(chatID) + ":" + escapeKeySegment(messageID))
}

// CreateChatIfAbsent implements ChatStore.
func (s *BadgerStore) CreateChatIfAbsent(ctx context.Context, chat datatypes.Chat) (bool, error) {
	ctx, span := storeTracer.Start(ctx, "BadgerStore.CreateChatIfAbsent")
	defer span.End()
	_ = ctx

	created := false
	err := s.db.Update(func(txn *badger.Txn) error {
		key := chatKey(chat.ID)
		_, err := txn.Get(key)
		if err == nil {
			return nil // chat exists, first writer wins
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		value, err := json.Marshal(chat)
		if err != nil {
			return fmt.Errorf("marshal chat: %w", err)
		}
		created = true
		return txn.Set(key, value)
	})
	if err != nil {
		return false, fmt.Errorf("create chat %s: %w", chat.ID, err)
	}
	return created, nil
}

// GetChat returns the chat record for an id. The second return is false
// if the chat does not exist.
func (s *BadgerStore) GetChat(ctx context.Context, chatID string) (datatypes.Chat, bool, error) {
	var chat datatypes.Chat
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chatKey(chatID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &chat)
		})
	})
	if err != nil {
		return datatypes.Chat{}, false, fmt.Errorf("get chat %s: %w", chatID, err)
	}
	return chat, found, nil
}

// FindMessage implements ChatStore.
func (s *BadgerStore) FindMessage(ctx context.Context, chatID, messageID string) (datatypes.StoredMessage, bool, error) {
	var msg datatypes.StoredMessage
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		idxItem, err := txn.Get(msgIdxKey(chatID, messageID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var seq uint64
		if err := idxItem.Value(func(val []byte) error {
			parsed, perr := strconv.ParseUint(string(val), 10, 64)
			if perr != nil {
				return fmt.Errorf("corrupt message index for %s: %w", messageID, perr)
			}
			seq = parsed
			return nil
		}); err != nil {
			return err
		}
		msgItem, err := txn.Get(msgKey(chatID, seq))
		if errors.Is(err, badger.ErrKeyNotFound) {
			// Index points at a truncated message; treat as absent.
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return msgItem.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		})
	})
	if err != nil {
		return datatypes.StoredMessage{}, false, fmt.Errorf("find message %s in chat %s: %w", messageID, chatID, err)
	}
	return msg, found, nil
}

// AppendMessage implements ChatStore.
func (s *BadgerStore) AppendMessage(ctx context.Context, msg datatypes.StoredMessage) (uint64, error) {
	ctx, span := storeTracer.Start(ctx, "BadgerStore.AppendMessage")
	defer span.End()
	_ = ctx

	seq, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next message sequence: %w", err)
	}
	msg.Seq = seq

	value, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(msgKey(msg.ChatID, seq), value); err != nil {
			return err
		}
		// Index the first message per (chat, messageId); edits look up the
		// original occurrence.
		idxKey := msgIdxKey(msg.ChatID, msg.MessageID)
		if _, err := txn.Get(idxKey); errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(idxKey, []byte(strconv.FormatUint(seq, 10)))
		} else if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append message to chat %s: %w", msg.ChatID, err)
	}
	return seq, nil
}

// DeleteMessagesAfter implements ChatStore.
func (s *BadgerStore) DeleteMessagesAfter(ctx context.Context, chatID string, seq uint64) (int, error) {
	ctx, span := storeTracer.Start(ctx, "BadgerStore.DeleteMessagesAfter")
	defer span.End()
	_ = ctx

	deleted := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Prefix = msgPrefix(chatID)
		it := txn.NewIterator(itOpts)

		var msgKeys [][]byte
		var idxKeys [][]byte
		for it.Seek(msgKey(chatID, seq+1)); it.Valid(); it.Next() {
			item := it.Item()
			var msg datatypes.StoredMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				it.Close()
				return err
			}
			msgKeys = append(msgKeys, item.KeyCopy(nil))
			idxKeys = append(idxKeys, msgIdxKey(chatID, msg.MessageID))
		}
		it.Close()

		for i := range msgKeys {
			if err := txn.Delete(msgKeys[i]); err != nil {
				return err
			}
			if err := txn.Delete(idxKeys[i]); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("truncate chat %s after seq %d: %w", chatID, seq, err)
	}
	if deleted > 0 {
		slog.Info("Truncated chat tail", "chat_id", chatID, "after_seq", seq, "deleted", deleted)
	}
	return deleted, nil
}

// ListMessages implements ChatStore.
func (s *BadgerStore) ListMessages(ctx context.Context, chatID string) ([]datatypes.StoredMessage, error) {
	var messages []datatypes.StoredMessage
	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Prefix = msgPrefix(chatID)
		it := txn.NewIterator(itOpts)
		defer it.Close()

		for it.Seek(itOpts.Prefix); it.Valid(); it.Next() {
			var msg datatypes.StoredMessage
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages for chat %s: %w", chatID, err)
	}
	return messages, nil
}

var _ ChatStore = (*BadgerStore)(nil)
