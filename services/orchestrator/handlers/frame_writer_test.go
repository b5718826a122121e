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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelionAI/HelionSearch/services/pipeline"
)

// =============================================================================
// Test Setup
// =============================================================================

// dialFrameWriter upgrades a loopback connection and returns a FrameWriter
// over the server side plus the client side for reading frames back.
func dialFrameWriter(t *testing.T) (FrameWriter, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConns <- conn
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	serverConn := <-serverConns
	t.Cleanup(func() { _ = serverConn.Close() })

	return NewFrameWriter(serverConn), client
}

func readFrame(t *testing.T, client *websocket.Conn) map[string]any {
	t.Helper()
	msgType, data, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// =============================================================================
// Frame Writer Tests
// =============================================================================

func TestFrameWriter_WireShapes(t *testing.T) {
	fw, client := dialFrameWriter(t)

	require.NoError(t, fw.WriteMessage("m-1", "Hello"))
	frame := readFrame(t, client)
	assert.Equal(t, "message", frame["type"])
	assert.Equal(t, "Hello", frame["data"])
	assert.Equal(t, "m-1", frame["messageId"])

	require.NoError(t, fw.WriteSources("m-1", []pipeline.Source{
		{PageContent: "snippet", Metadata: pipeline.SourceMetadata{Title: "Example", URL: "https://example.com"}},
	}))
	frame = readFrame(t, client)
	assert.Equal(t, "sources", frame["type"])
	sources, ok := frame["data"].([]any)
	require.True(t, ok)
	require.Len(t, sources, 1)

	require.NoError(t, fw.WriteStreamEnd("m-1"))
	frame = readFrame(t, client)
	assert.Equal(t, "stream_end", frame["type"])
	assert.Equal(t, "", frame["data"])

	require.NoError(t, fw.WriteMessageEnd("m-1"))
	frame = readFrame(t, client)
	assert.Equal(t, "messageEnd", frame["type"])
	assert.Equal(t, "m-1", frame["messageId"])

	require.NoError(t, fw.WriteError("CHAIN_ERROR", "An error occurred"))
	frame = readFrame(t, client)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "CHAIN_ERROR", frame["key"])
	assert.Equal(t, "An error occurred", frame["data"])
}

func TestFrameWriter_ConcurrentWritersProduceWholeFrames(t *testing.T) {
	fw, client := dialFrameWriter(t)

	const writers = 8
	const framesEach = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < framesEach; j++ {
				assert.NoError(t, fw.WriteMessage(
					fmt.Sprintf("m-%d", id), fmt.Sprintf("delta %d.%d", id, j)))
			}
		}(i)
	}

	// Every received message must parse as one complete frame, proving
	// writes were never interleaved.
	for i := 0; i < writers*framesEach; i++ {
		frame := readFrame(t, client)
		assert.Equal(t, "message", frame["type"])
		assert.NotEmpty(t, frame["data"])
	}
	wg.Wait()
}

func TestFrameWriter_WriteAfterCloseFails(t *testing.T) {
	fw, client := dialFrameWriter(t)
	require.NoError(t, client.Close())

	var err error
	// The first writes may land in OS buffers before the close is observed.
	for i := 0; i < 50 && err == nil; i++ {
		err = fw.WriteMessage("m-1", "into the void")
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write message frame")
}
