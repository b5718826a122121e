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
	"log/slog"
	"time"

	"github.com/HelionAI/HelionSearch/services/analytics"
	"github.com/HelionAI/HelionSearch/services/orchestrator/artifacts"
	"github.com/HelionAI/HelionSearch/services/orchestrator/datatypes"
	"github.com/HelionAI/HelionSearch/services/orchestrator/observability"
)

// loadingChartsNotice is streamed as the final narration chunk when the
// terminator sentinel is detected, while the compute job is still running.
// A narration that ends naturally or times out gets no notice.
const loadingChartsNotice = " \n ###Loading Charts ..."

// =============================================================================
// Analytics Turns
// =============================================================================

// handleAnalyticsTurn runs one analytics dual-stream turn.
//
// # Description
//
// Starts the compute job, then relays the narration stream to the client
// until the terminator sentinel, the source's natural end, or the idle
// timeout. A detected sentinel is replaced by the loading notice as the
// final narration chunk. After stream_end the handler persists the chat
// and human message, awaits the compute result, publishes the chart
// artifacts, and streams the summary report. The assistant message
// persisted at the end holds the composed report.
//
// Any failure after dispatch, including a failed compute job, ends the
// turn with a single chain error frame.
func (h *SessionHandler) handleAnalyticsTurn(
	ctx context.Context,
	fw FrameWriter,
	msg *datatypes.WSMessage,
	humanMessageID, aiMessageID string,
) {
	start := time.Now()
	metrics := observability.DefaultMetrics
	metrics.TurnStarted(observability.RegimeAnalytics)
	defer metrics.TurnEnded(observability.RegimeAnalytics)

	chatID := msg.Message.ChatID

	if h.analytics == nil || h.publisher == nil {
		slog.Error("Analytics turn received but no analytics service is configured",
			"chatID", chatID)
		h.failTurn(fw, metrics, observability.RegimeAnalytics, start, msgChainError)
		return
	}

	// The compute job and the narration stream run against the same chat
	// concurrently; the narration finishes first in the common case.
	job := h.analytics.StartCompute(ctx, msg.Message.Content, chatID)

	stream, err := h.analytics.OpenNarration(ctx, chatID)
	if err != nil {
		slog.Error("Failed to open narration stream", "chatID", chatID, "error", err)
		h.failTurn(fw, metrics, observability.RegimeAnalytics, start, msgChainError)
		return
	}
	defer stream.Close()

	sawSentinel, ok := h.relayNarration(fw, stream, aiMessageID)
	if !ok {
		// Write failure: the client is gone, no terminal frame is owed.
		metrics.RecordTurn(observability.RegimeAnalytics, false, time.Since(start).Seconds())
		return
	}
	if stream.TimedOut() {
		slog.Warn("Narration stream aborted by idle timeout", "chatID", chatID)
		metrics.RecordNarrationIdleAbort()
	}

	// Only a detected sentinel announces the chart handoff; a narration
	// that just stopped gets no notice.
	if sawSentinel {
		if err := fw.WriteMessage(aiMessageID, loadingChartsNotice); err != nil {
			slog.Warn("Failed to write loading notice", "messageID", aiMessageID, "error", err)
			metrics.RecordTurn(observability.RegimeAnalytics, false, time.Since(start).Seconds())
			return
		}
	}
	if err := fw.WriteStreamEnd(aiMessageID); err != nil {
		slog.Warn("Failed to write stream_end frame", "messageID", aiMessageID, "error", err)
		metrics.RecordTurn(observability.RegimeAnalytics, false, time.Since(start).Seconds())
		return
	}

	// The narration is closed; reconcile the chat and human message before
	// the chart report lands. A store failure is absorbed, the turn
	// continues with whatever the client already has.
	if err := h.persistHumanTurn(ctx, msg, humanMessageID, msg.FocusMode); err != nil {
		slog.Error("Failed to persist human message",
			"chatID", chatID, "messageID", humanMessageID, "error", err)
	}

	bundle, err := job.Await(ctx)
	if err != nil {
		slog.Error("Analytics compute job failed", "chatID", chatID, "error", err)
		h.failTurn(fw, metrics, observability.RegimeAnalytics, start, msgChainError)
		return
	}

	links, err := h.publisher.Publish(ctx, bundle, chatID)
	if err != nil {
		slog.Error("Failed to publish chart artifacts", "chatID", chatID, "error", err)
		h.failTurn(fw, metrics, observability.RegimeAnalytics, start, msgChainError)
		return
	}
	metrics.RecordArtifactsPublished(len(links))

	report := artifacts.ComposeReport(bundle.Result, links)
	if err := fw.WriteMessage(aiMessageID, report); err != nil {
		slog.Warn("Failed to write chart report", "messageID", aiMessageID, "error", err)
		metrics.RecordTurn(observability.RegimeAnalytics, false, time.Since(start).Seconds())
		return
	}

	// The report reached the client; the terminal write and the durable
	// record are independent from here on.
	writeErr := fw.WriteMessageEnd(aiMessageID)
	if writeErr != nil {
		slog.Warn("Failed to write messageEnd frame", "messageID", aiMessageID, "error", writeErr)
	}
	h.persistAssistantTurn(ctx, chatID, aiMessageID, report, nil)
	metrics.RecordTurn(observability.RegimeAnalytics, writeErr == nil, time.Since(start).Seconds())
}

// relayNarration forwards narration tokens to the client until the
// terminator sentinel or the end of the stream.
//
// # Description
//
// The sentinel matcher holds back any token suffix that could begin the
// terminator, so the sentinel never reaches the client even when it is
// split across chunks. Held-back text is released if the stream ends
// without the sentinel.
//
// # Outputs
//
//   - bool: True if the terminator sentinel was detected.
//   - bool: False if a frame write failed.
func (h *SessionHandler) relayNarration(
	fw FrameWriter,
	stream *analytics.NarrationStream,
	aiMessageID string,
) (bool, bool) {
	matcher := analytics.NewSentinelMatcher(analytics.Terminator)

	for chunk := range stream.Tokens() {
		forward, found := matcher.Feed(chunk)
		if forward != "" {
			if err := fw.WriteMessage(aiMessageID, forward); err != nil {
				slog.Warn("Failed to write narration frame",
					"messageID", aiMessageID, "error", err)
				return matcher.Found(), false
			}
		}
		if found {
			break
		}
	}

	if !matcher.Found() {
		if tail := matcher.Flush(); tail != "" {
			if err := fw.WriteMessage(aiMessageID, tail); err != nil {
				slog.Warn("Failed to write narration frame",
					"messageID", aiMessageID, "error", err)
				return false, false
			}
		}
	}

	return matcher.Found(), true
}
