// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analytics provides the client for the analytics pipeline.
//
// An analytics turn drives two remote calls against the same logical job:
// a long-running compute request that eventually resolves to a summary plus
// a list of chart documents, and a narration stream carrying incremental
// natural-language commentary that ends on a sentinel marker. Both calls
// are addressed by the principal and chat id so concurrent chats never
// share a job.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("helion.analytics")

// DefaultIdleTimeout is how long the narration consumer waits for the next
// chunk before aborting the stream.
const DefaultIdleTimeout = 10 * time.Second

// narrationChunkBuffer bounds in-flight narration chunks between the body
// reader and the consumer.
const narrationChunkBuffer = 8

// Bundle is the resolved result of an analytics compute job.
//
// HTMLByteStrings is an ordered list of self-contained chart documents;
// array order is rendering order.
type Bundle struct {
	Result          string   `json:"result"`
	HTMLByteStrings []string `json:"html_byte_strings"`
}

// Client calls the analytics compute and narration endpoints.
//
// # Thread Safety
//
// Safe for concurrent use; all fields are read-only after construction.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	principal   string
	idleTimeout time.Duration
}

// NewClient builds a Client from the environment.
//
// # Description
//
// Reads ANALYTICS_BASE_URL (required) and ANALYTICS_PRINCIPAL (the user
// segment of the job address, default "1"). The chat segment is supplied
// per call so jobs are keyed by the real chat id.
func NewClient() (*Client, error) {
	baseURL := os.Getenv("ANALYTICS_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("ANALYTICS_BASE_URL environment variable not set")
	}
	principal := os.Getenv("ANALYTICS_PRINCIPAL")
	if principal == "" {
		principal = "1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing analytics client", "base_url", baseURL, "principal", principal)
	return &Client{
		httpClient:  &http.Client{Timeout: 10 * time.Minute},
		baseURL:     baseURL,
		principal:   principal,
		idleTimeout: DefaultIdleTimeout,
	}, nil
}

// NewClientWith builds a Client with explicit settings. Used by tests.
func NewClientWith(baseURL, principal string, idleTimeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		principal:   principal,
		idleTimeout: idleTimeout,
	}
}

// =============================================================================
// Compute Job
// =============================================================================

// ComputeJob is the deferred result of an analytics compute request.
//
// The request runs in its own goroutine from StartCompute; Await blocks
// until it resolves or the caller's context is cancelled.
type ComputeJob struct {
	done   chan struct{}
	bundle Bundle
	err    error
}

// Await blocks until the job resolves.
//
// # Outputs
//
//   - Bundle: The resolved summary and chart documents.
//   - error: The job's failure, or ctx.Err() if the caller gave up first.
//     The job keeps running in the background in that case.
func (j *ComputeJob) Await(ctx context.Context) (Bundle, error) {
	select {
	case <-j.done:
		return j.bundle, j.err
	case <-ctx.Done():
		return Bundle{}, ctx.Err()
	}
}

// computeRequest is the wire body for the compute endpoint.
type computeRequest struct {
	Question string `json:"question"`
}

// StartCompute issues the asynchronous compute request for a chat.
//
// # Description
//
// POSTs {question} to {base}/analytical_model/{principal}/{chatID} in a
// background goroutine and returns the job handle immediately. The compute
// call routinely takes longer than the narration stream; callers await it
// only after narration has finished.
func (c *Client) StartCompute(ctx context.Context, question, chatID string) *ComputeJob {
	job := &ComputeJob{done: make(chan struct{})}

	go func() {
		defer close(job.done)

		ctx, span := tracer.Start(ctx, "AnalyticsClient.Compute")
		defer span.End()
		span.SetAttributes(attribute.String("analytics.chat_id", chatID))

		reqJSON, err := json.Marshal(computeRequest{Question: question})
		if err != nil {
			job.err = fmt.Errorf("marshal compute request: %w", err)
			return
		}

		computeURL := fmt.Sprintf("%s/analytical_model/%s/%s", c.baseURL, c.principal, chatID)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, computeURL, bytes.NewReader(reqJSON))
		if err != nil {
			job.err = fmt.Errorf("create compute request: %w", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "compute call failed")
			job.err = fmt.Errorf("call analytics compute endpoint: %w", err)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("analytics compute endpoint returned status %d", resp.StatusCode)
			span.RecordError(err)
			span.SetStatus(codes.Error, "bad status")
			job.err = err
			return
		}

		var bundle Bundle
		if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode failed")
			job.err = fmt.Errorf("decode compute response: %w", err)
			return
		}

		slog.Info("Analytics compute job resolved",
			"chat_id", chatID, "charts", len(bundle.HTMLByteStrings))
		job.bundle = bundle
	}()

	return job
}

// =============================================================================
// Narration Stream
// =============================================================================

// NarrationStream delivers raw narration chunks from the analytics
// endpoint.
//
// # Description
//
// Chunks arrive on Tokens() until the remote closes the stream, the caller
// calls Close, or no chunk arrives within the idle timeout. After Tokens()
// is closed, TimedOut reports whether the idle timeout fired.
type NarrationStream struct {
	tokens   chan string
	cancel   context.CancelFunc
	timedOut bool
}

// Tokens returns the chunk channel. Closed on stream end, abort, or
// timeout.
func (s *NarrationStream) Tokens() <-chan string {
	return s.tokens
}

// TimedOut reports whether the stream was aborted by the idle timeout.
// Only meaningful after Tokens() has been closed.
func (s *NarrationStream) TimedOut() bool {
	return s.timedOut
}

// Close aborts the stream. Safe to call multiple times and after the
// stream has already ended.
func (s *NarrationStream) Close() {
	s.cancel()
}

// OpenNarration opens the narration stream for a chat.
//
// # Description
//
// GETs {base}/stream/{principal}/{chatID} and pumps the raw body into the
// returned stream's chunk channel. A refreshing idle timer guards each
// chunk: if nothing arrives within the idle timeout the underlying request
// is aborted and the channel closed, matching the narration contract that
// a stalled stream is abandoned rather than waited on indefinitely.
//
// # Outputs
//
//   - *NarrationStream: Live stream. Caller must drain Tokens() and call
//     Close when abandoning it early.
//   - error: Non-nil if the request could not be started.
func (c *Client) OpenNarration(ctx context.Context, chatID string) (*NarrationStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	streamURL := fmt.Sprintf("%s/stream/%s/%s", c.baseURL, c.principal, chatID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create narration request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("call narration endpoint: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("narration endpoint returned status %d", resp.StatusCode)
	}

	stream := &NarrationStream{
		tokens: make(chan string),
		cancel: cancel,
	}

	raw := make(chan string, narrationChunkBuffer)

	// Body reader: raw chunks in arrival order.
	go func() {
		defer close(raw)
		defer func() { _ = resp.Body.Close() }()
		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				select {
				case raw <- string(buf[:n]):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					slog.Warn("Narration stream read failed", "chat_id", chatID, "error", err)
				}
				return
			}
		}
	}()

	// Pump: enforce the refreshing idle timeout between chunks.
	go func() {
		defer close(stream.tokens)
		timer := time.NewTimer(c.idleTimeout)
		defer timer.Stop()
		for {
			select {
			case chunk, ok := <-raw:
				if !ok {
					return
				}
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(c.idleTimeout)
				select {
				case stream.tokens <- chunk:
				case <-ctx.Done():
					return
				}
			case <-timer.C:
				slog.Warn("Narration stream idle timeout, aborting",
					"chat_id", chatID, "timeout", c.idleTimeout)
				stream.timedOut = true
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return stream, nil
}
