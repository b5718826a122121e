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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HelionAI/HelionSearch/services/orchestrator/datatypes"
	"github.com/HelionAI/HelionSearch/services/orchestrator/observability"
	"github.com/HelionAI/HelionSearch/services/pipeline"
)

// errClientGone marks a turn abandoned because a frame write failed. The
// connection is dead, so no further frame is owed.
var errClientGone = errors.New("client connection lost")

// pipelineError carries a pipeline error event's payload. The payload is
// produced by the answer engine for display and is forwarded to the client
// verbatim; internal failures never take this form.
type pipelineError struct {
	payload string
}

func (e *pipelineError) Error() string {
	return "pipeline stream: " + e.payload
}

// =============================================================================
// Standard Turns
// =============================================================================

// handleStandardTurn runs one focus-mode pipeline turn.
//
// # Description
//
// Persists the human message and bridges the pipeline's event stream to
// the client concurrently, without either blocking the other. The
// terminal frame is written exactly once, after both finish: messageEnd
// on success, one error frame on a stream failure.
//
// Persistence failures are logged and absorbed; the client-visible
// conversation and the durable record are allowed to diverge.
func (h *SessionHandler) handleStandardTurn(
	ctx context.Context,
	fw FrameWriter,
	msg *datatypes.WSMessage,
	p pipeline.SearchPipeline,
	humanMessageID, aiMessageID string,
) {
	start := time.Now()
	metrics := observability.DefaultMetrics
	metrics.TurnStarted(observability.RegimeStandard)
	defer metrics.TurnEnded(observability.RegimeStandard)

	focusMode := msg.FocusMode
	if len(msg.Files) > 0 {
		focusMode = pipeline.FocusWebSearch.String()
	}

	var content string
	var sources []pipeline.Source

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := h.persistHumanTurn(gctx, msg, humanMessageID, focusMode); err != nil {
			slog.Error("Failed to persist human message",
				"chatID", msg.Message.ChatID, "messageID", humanMessageID, "error", err)
		}
		return nil
	})
	g.Go(func() error {
		events, err := p.SearchAndAnswer(gctx, msg.Message.Content, msg.PipelineHistory(),
			h.models, msg.OptimizationMode, msg.Files)
		if err != nil {
			slog.Error("Pipeline dispatch failed", "chatID", msg.Message.ChatID,
				"focusMode", focusMode, "error", err)
			return fmt.Errorf("dispatch pipeline: %w", err)
		}
		content, sources, err = h.bridgeEvents(fw, events, aiMessageID)
		return err
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, errClientGone) {
			metrics.RecordTurn(observability.RegimeStandard, false, time.Since(start).Seconds())
			return
		}
		display := msgChainError
		var pe *pipelineError
		if errors.As(err, &pe) {
			display = pe.payload
		}
		h.failTurn(fw, metrics, observability.RegimeStandard, start, display)
		return
	}

	// The full answer already streamed; a failed terminal write must not
	// cost the durable record.
	writeErr := fw.WriteMessageEnd(aiMessageID)
	if writeErr != nil {
		slog.Warn("Failed to write messageEnd frame", "messageID", aiMessageID, "error", writeErr)
	}
	h.persistAssistantTurn(ctx, msg.Message.ChatID, aiMessageID, content, sources)
	metrics.RecordTurn(observability.RegimeStandard, writeErr == nil, time.Since(start).Seconds())
}

// failTurn writes the single terminal error frame for a failed turn.
func (h *SessionHandler) failTurn(
	fw FrameWriter,
	metrics *observability.SessionMetrics,
	regime observability.Regime,
	start time.Time,
	display string,
) {
	metrics.RecordError(observability.ErrorKeyChainError)
	metrics.RecordTurn(regime, false, time.Since(start).Seconds())
	if err := fw.WriteError(datatypes.ErrKeyChainError, display); err != nil {
		slog.Warn("Failed to write chain error frame", "error", err)
	}
}

// =============================================================================
// Event Bridging
// =============================================================================

// bridgeEvents drains a pipeline event stream into client frames.
//
// # Description
//
// Response deltas become message frames and are accumulated; a sources
// event becomes a sources frame and replaces any earlier citation list.
// Terminal frames are the caller's responsibility, so a turn always ends
// with exactly one.
//
// # Outputs
//
//   - string: The concatenated answer text.
//   - []pipeline.Source: The final citation list, nil if none arrived.
//   - error: Nil only after a clean end event. errClientGone wraps frame
//     write failures; a stream error event surfaces as a pipelineError
//     carrying its payload, and a bare channel close as a plain error.
func (h *SessionHandler) bridgeEvents(
	fw FrameWriter,
	events <-chan pipeline.Event,
	aiMessageID string,
) (string, []pipeline.Source, error) {
	var content string
	var sources []pipeline.Source

	for ev := range events {
		switch ev.Type {
		case pipeline.EventResponse:
			content += ev.Data
			if err := fw.WriteMessage(aiMessageID, ev.Data); err != nil {
				return content, sources, fmt.Errorf("stream delta: %w: %w", errClientGone, err)
			}

		case pipeline.EventSources:
			sources = ev.Sources
			if err := fw.WriteSources(aiMessageID, ev.Sources); err != nil {
				return content, sources, fmt.Errorf("stream sources: %w: %w", errClientGone, err)
			}

		case pipeline.EventEnd:
			return content, sources, nil

		case pipeline.EventError:
			slog.Error("Pipeline stream failed", "messageID", aiMessageID, "detail", ev.Data)
			return content, sources, &pipelineError{payload: ev.Data}
		}
	}

	// Producers always close with a terminal event; a bare close means the
	// producer died.
	return content, sources, fmt.Errorf("pipeline stream closed without terminal event")
}
