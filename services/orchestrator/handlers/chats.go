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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/HelionAI/HelionSearch/services/orchestrator/store"
)

// GetChatMessages returns a chat's message history in sequence order.
//
// # Description
//
// GET /v1/chats/:chatId/messages. An unknown chat id returns an empty
// list rather than 404; the client treats a chat it has never written to
// as empty.
func GetChatMessages(chatStore store.ChatStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("chatId")
		if chatID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "chatId is required"})
			return
		}

		messages, err := chatStore.ListMessages(c.Request.Context(), chatID)
		if err != nil {
			slog.Error("Failed to list chat messages", "chatID", chatID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat history"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"chatId":   chatID,
			"messages": messages,
		})
	}
}
