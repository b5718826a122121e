// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HelionAI/HelionSearch/services/orchestrator/handlers"
	"github.com/HelionAI/HelionSearch/services/orchestrator/store"
)

// SetupRoutes registers every route on the router.
//
// # Inputs
//
//   - router: Engine to register on.
//   - session: Session handler for the chat WebSocket.
//   - chatStore: Chat persistence for the history endpoint.
//   - artifactsDir: Filesystem directory of published chart artifacts,
//     served read-only under /artifacts.
func SetupRoutes(router *gin.Engine, session *handlers.SessionHandler,
	chatStore store.ChatStore, artifactsDir string) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.StaticFS("/artifacts", http.Dir(artifactsDir))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/chat/ws", handlers.HandleChatWebSocket(session))
		v1.GET("/chats/:chatId/messages", handlers.GetChatMessages(chatStore))
	}
}
