// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

// sseEvent writes one SSE event block to the response.
func sseEvent(w http.ResponseWriter, eventType, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	w.(http.Flusher).Flush()
}

// collectEvents drains the channel with a safety timeout.
func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var collected []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return collected
			}
			collected = append(collected, ev)
		case <-timeout:
			t.Fatal("timed out draining event channel")
		}
	}
}

// =============================================================================
// RemotePipeline Tests
// =============================================================================

func TestRemotePipeline_StreamsResponseAndSources(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/webSearch", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is qatalum", req.Query)
		assert.Equal(t, "balanced", req.OptimizationMode)
		assert.True(t, req.Options.SearchWeb)

		sseEvent(w, "sources", `[{"pageContent":"snippet","metadata":{"title":"Qatalum","url":"https://example.com"}}]`)
		sseEvent(w, "response", `"Qatalum is "`)
		sseEvent(w, "response", `"an aluminium smelter."`)
		sseEvent(w, "end", "")
	}))
	defer server.Close()

	p := NewRemotePipeline(server.URL, FocusWebSearch, modeOptions[FocusWebSearch], nil)
	events, err := p.SearchAndAnswer(context.Background(), "what is qatalum", nil,
		ModelParams{ChatModel: "llama3"}, "balanced", nil)
	require.NoError(t, err)

	collected := collectEvents(t, events)
	require.Len(t, collected, 4)

	assert.Equal(t, EventSources, collected[0].Type)
	require.Len(t, collected[0].Sources, 1)
	assert.Equal(t, "Qatalum", collected[0].Sources[0].Metadata.Title)

	assert.Equal(t, EventResponse, collected[1].Type)
	assert.Equal(t, "Qatalum is ", collected[1].Data)
	assert.Equal(t, EventResponse, collected[2].Type)
	assert.Equal(t, "an aluminium smelter.", collected[2].Data)

	assert.Equal(t, EventEnd, collected[3].Type)
}

func TestRemotePipeline_EngineErrorEventIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseEvent(w, "response", `"partial"`)
		sseEvent(w, "error", `"model backend unavailable"`)
		// Anything after the terminal event must be ignored.
		sseEvent(w, "response", `"ghost delta"`)
	}))
	defer server.Close()

	p := NewRemotePipeline(server.URL, FocusWebSearch, Options{}, nil)
	events, err := p.SearchAndAnswer(context.Background(), "q", nil, ModelParams{}, "", nil)
	require.NoError(t, err)

	collected := collectEvents(t, events)
	require.Len(t, collected, 2)
	assert.Equal(t, EventResponse, collected[0].Type)
	assert.Equal(t, EventError, collected[1].Type)
	assert.Equal(t, "model backend unavailable", collected[1].Data)
}

func TestRemotePipeline_TruncatedStreamEmitsSyntheticError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseEvent(w, "response", `"the answer starts"`)
		// Connection drops with no terminal event.
	}))
	defer server.Close()

	p := NewRemotePipeline(server.URL, FocusWebSearch, Options{}, nil)
	events, err := p.SearchAndAnswer(context.Background(), "q", nil, ModelParams{}, "", nil)
	require.NoError(t, err)

	collected := collectEvents(t, events)
	require.NotEmpty(t, collected)
	last := collected[len(collected)-1]
	assert.Equal(t, EventError, last.Type)
}

func TestRemotePipeline_NonOKStatusFailsDispatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	p := NewRemotePipeline(server.URL, FocusWebSearch, Options{}, nil)
	_, err := p.SearchAndAnswer(context.Background(), "q", nil, ModelParams{}, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRemotePipeline_MalformedSourcesEventSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseEvent(w, "sources", `{not json}`)
		sseEvent(w, "end", "")
	}))
	defer server.Close()

	p := NewRemotePipeline(server.URL, FocusWebSearch, Options{}, nil)
	events, err := p.SearchAndAnswer(context.Background(), "q", nil, ModelParams{}, "", nil)
	require.NoError(t, err)

	collected := collectEvents(t, events)
	require.Len(t, collected, 1)
	assert.Equal(t, EventEnd, collected[0].Type)
}

func TestRemotePipeline_HistoryForwardedOnWire(t *testing.T) {
	var got searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		sseEvent(w, "end", "")
	}))
	defer server.Close()

	history := []Message{
		{Role: RoleHuman, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}

	p := NewRemotePipeline(server.URL, FocusRedditSearch, modeOptions[FocusRedditSearch], nil)
	events, err := p.SearchAndAnswer(context.Background(), "q", history, ModelParams{}, "speed", nil)
	require.NoError(t, err)
	collectEvents(t, events)

	assert.Equal(t, history, got.History)
	assert.Equal(t, []string{"reddit"}, got.Options.ActiveEngines)
}
