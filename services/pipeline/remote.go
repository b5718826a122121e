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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("helion.pipeline")

// eventChannelBuffer bounds how far the producer can run ahead of a slow
// consumer before backpressure applies.
const eventChannelBuffer = 16

// RemotePipeline is an HTTP-backed SearchPipeline.
//
// # Description
//
// RemotePipeline forwards queries to the external answer engine and
// translates the engine's SSE stream into the Event union. The engine
// exposes one streaming endpoint per focus mode:
//
//	POST {base}/search/{mode}
//
// with a JSON body carrying the query, history, models, optimization mode,
// file ids, and the mode's retrieval options. The response is an SSE stream
// with event types matching EventType.
//
// # Thread Safety
//
// Safe for concurrent use. All fields are read-only after construction.
type RemotePipeline struct {
	httpClient *http.Client
	engineURL  string
	mode       FocusMode
	opts       Options
}

// NewRemotePipeline creates a pipeline bound to one focus mode.
//
// A nil client gets a default with a 5 minute timeout; answer generation
// can legitimately run that long on large retrieval sets.
func NewRemotePipeline(engineURL string, mode FocusMode, opts Options, client *http.Client) *RemotePipeline {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &RemotePipeline{
		httpClient: client,
		engineURL:  strings.TrimSuffix(engineURL, "/"),
		mode:       mode,
		opts:       opts,
	}
}

// searchRequest is the wire body for the engine's search endpoint.
type searchRequest struct {
	Query            string    `json:"query"`
	History          []Message `json:"history"`
	ChatModel        string    `json:"chat_model"`
	EmbeddingModel   string    `json:"embedding_model"`
	OptimizationMode string    `json:"optimization_mode"`
	Files            []string  `json:"files"`
	Options          Options   `json:"options"`
}

// SearchAndAnswer implements SearchPipeline.
//
// # Description
//
// Issues the engine request and returns the event channel immediately; a
// producer goroutine parses the SSE body and pushes events until the
// terminal one. The channel is always closed after exactly one terminal
// event. A request that cannot even be started returns an error instead of
// a channel.
//
// # Outputs
//
//   - <-chan Event: Ordered event stream, closed after the terminal event.
//   - error: Non-nil only if the engine request could not be issued.
func (p *RemotePipeline) SearchAndAnswer(
	ctx context.Context,
	query string,
	history []Message,
	models ModelParams,
	optimizationMode string,
	files []string,
) (<-chan Event, error) {

	ctx, span := tracer.Start(ctx, "RemotePipeline.SearchAndAnswer")
	span.SetAttributes(
		attribute.String("pipeline.focus_mode", p.mode.String()),
		attribute.String("pipeline.optimization_mode", optimizationMode),
	)

	body := searchRequest{
		Query:            query,
		History:          history,
		ChatModel:        models.ChatModel,
		EmbeddingModel:   models.EmbeddingModel,
		OptimizationMode: optimizationMode,
		Files:            files,
		Options:          p.opts,
	}
	reqJSON, err := json.Marshal(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal request")
		span.End()
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	searchURL := fmt.Sprintf("%s/search/%s", p.engineURL, p.mode.String())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, searchURL, bytes.NewReader(reqJSON))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create request")
		span.End()
		return nil, fmt.Errorf("create search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execute request")
		span.End()
		return nil, fmt.Errorf("call answer engine: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		err := fmt.Errorf("answer engine returned status %d", resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status")
		span.End()
		return nil, err
	}

	events := make(chan Event, eventChannelBuffer)
	go func() {
		defer span.End()
		defer func() { _ = resp.Body.Close() }()
		defer close(events)
		p.consumeStream(ctx, resp.Body, events)
	}()

	return events, nil
}

// consumeStream parses the engine's SSE body and emits events.
//
// Guarantees exactly one terminal event: if the body ends or errors before
// the engine sent one, a synthetic EventError is emitted.
func (p *RemotePipeline) consumeStream(ctx context.Context, body io.Reader, events chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var currentEvent, currentData string
	terminal := false

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			p.emit(ctx, events, Event{Type: EventError, Data: "pipeline cancelled"})
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			if currentEvent != "" {
				if p.dispatch(ctx, currentEvent, currentData, events) {
					terminal = true
				}
			}
			currentEvent, currentData = "", ""
			if terminal {
				return
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			currentEvent = strings.TrimPrefix(v, " ")
		} else if v, ok := strings.CutPrefix(line, "data:"); ok {
			currentData = strings.TrimPrefix(v, " ")
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("Answer engine stream read failed", "mode", p.mode.String(), "error", err)
		p.emit(ctx, events, Event{Type: EventError, Data: "answer engine stream failed"})
		return
	}
	// Body ended cleanly but without a terminal event.
	p.emit(ctx, events, Event{Type: EventError, Data: "answer engine stream ended unexpectedly"})
}

// dispatch converts one parsed SSE event into an Event. Returns true for
// terminal events.
func (p *RemotePipeline) dispatch(ctx context.Context, eventType, data string, events chan<- Event) bool {
	switch EventType(eventType) {
	case EventResponse:
		var delta string
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			// Engine sends deltas as JSON strings; fall back to raw text.
			delta = data
		}
		p.emit(ctx, events, Event{Type: EventResponse, Data: delta})
		return false
	case EventSources:
		var sources []Source
		if err := json.Unmarshal([]byte(data), &sources); err != nil {
			slog.Warn("Malformed sources event from answer engine", "mode", p.mode.String(), "error", err)
			return false
		}
		p.emit(ctx, events, Event{Type: EventSources, Sources: sources})
		return false
	case EventEnd:
		p.emit(ctx, events, Event{Type: EventEnd})
		return true
	case EventError:
		var msg string
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			msg = data
		}
		p.emit(ctx, events, Event{Type: EventError, Data: msg})
		return true
	default:
		slog.Debug("Unknown event type from answer engine", "type", eventType)
		return false
	}
}

// emit pushes an event unless the consumer has gone away.
func (p *RemotePipeline) emit(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

var _ SearchPipeline = (*RemotePipeline)(nil)
