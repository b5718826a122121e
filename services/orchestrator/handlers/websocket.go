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
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024 * 1024,
	WriteBufferSize: 1024 * 1024,
}

// HandleChatWebSocket upgrades the connection and runs the session loop.
//
// # Description
//
// Each inbound text message is one turn. Turns run in their own
// goroutines so a long-running answer does not block later frames; the
// frame writer serializes concurrent writes. The loop ends when the
// client disconnects, which cancels the connection context and with it
// every in-flight turn.
//
// # Inputs
//
//   - h: Session handler holding the shared collaborators.
//
// # Outputs
//
//   - gin.HandlerFunc: Route handler for the chat WebSocket endpoint.
func HandleChatWebSocket(h *SessionHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Websocket client connected", "remote", ws.RemoteAddr().String())

		ctx := c.Request.Context()
		fw := NewFrameWriter(ws)

		for {
			msgType, raw, err := ws.ReadMessage()
			if err != nil {
				slog.Info("Websocket client disconnected", "error", err.Error())
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}

			go h.HandleTurn(ctx, fw, raw)
		}
	}
}
