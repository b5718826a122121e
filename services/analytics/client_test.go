// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Compute Job Tests
// =============================================================================

func TestStartCompute_ResolvesBundle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analytical_model/u1/chat-42", r.URL.Path)

		var req computeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "plot revenue by quarter", req.Question)

		_ = json.NewEncoder(w).Encode(Bundle{
			Result:          "Revenue grew 12% quarter over quarter.",
			HTMLByteStrings: []string{"<html>chart one</html>", "<html>chart two</html>"},
		})
	}))
	defer server.Close()

	client := NewClientWith(server.URL, "u1", 0, nil)
	job := client.StartCompute(context.Background(), "plot revenue by quarter", "chat-42")

	bundle, err := job.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew 12% quarter over quarter.", bundle.Result)
	assert.Len(t, bundle.HTMLByteStrings, 2)
}

func TestStartCompute_NonOKStatusFailsJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClientWith(server.URL, "u1", 0, nil)
	job := client.StartCompute(context.Background(), "q", "chat-1")

	_, err := job.Await(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestComputeJob_AwaitHonorsContext(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClientWith(server.URL, "u1", 0, nil)
	job := client.StartCompute(context.Background(), "q", "chat-1")
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := job.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Narration Stream Tests
// =============================================================================

func TestOpenNarration_DeliversChunksInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stream/u1/chat-7", r.URL.Path)
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"The data ", "shows a ", "clear trend."} {
			_, _ = w.Write([]byte(chunk))
			flusher.Flush()
		}
	}))
	defer server.Close()

	client := NewClientWith(server.URL, "u1", time.Second, nil)
	stream, err := client.OpenNarration(context.Background(), "chat-7")
	require.NoError(t, err)
	defer stream.Close()

	var received strings.Builder
	for chunk := range stream.Tokens() {
		received.WriteString(chunk)
	}

	assert.Equal(t, "The data shows a clear trend.", received.String())
	assert.False(t, stream.TimedOut())
}

func TestOpenNarration_IdleTimeoutAbortsStalledStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("partial narration"))
		flusher.Flush()
		// Stall until the client aborts the request.
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClientWith(server.URL, "u1", 50*time.Millisecond, nil)
	stream, err := client.OpenNarration(context.Background(), "chat-9")
	require.NoError(t, err)
	defer stream.Close()

	var received strings.Builder
	for chunk := range stream.Tokens() {
		received.WriteString(chunk)
	}

	assert.Equal(t, "partial narration", received.String())
	assert.True(t, stream.TimedOut())
}

func TestOpenNarration_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such job", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClientWith(server.URL, "u1", time.Second, nil)
	_, err := client.OpenNarration(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOpenNarration_CloseAbortsEarly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("first"))
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClientWith(server.URL, "u1", time.Minute, nil)
	stream, err := client.OpenNarration(context.Background(), "chat-3")
	require.NoError(t, err)

	<-stream.Tokens()
	stream.Close()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-stream.Tokens():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "tokens channel should close after Close")
	assert.False(t, stream.TimedOut())
}
