// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline defines the answer-pipeline capability consumed by the
// session orchestrator.
//
// A pipeline accepts a user query plus conversation history and produces an
// ordered stream of typed events: partial response text, a citation list,
// and exactly one terminal event (end or error). The retrieval and answer
// generation itself lives in an external engine; this package provides the
// capability contract, the closed set of focus modes, and an HTTP-backed
// implementation that consumes the engine's event stream.
package pipeline

import "context"

// =============================================================================
// Focus Modes
// =============================================================================

// FocusMode selects which answer pipeline handles a turn.
//
// # Description
//
// FocusMode is a closed enumeration. Unknown client-supplied mode strings
// parse to FocusModeUnknown; callers must treat that as a dispatch error
// rather than falling through to a default pipeline.
type FocusMode int

const (
	// FocusModeUnknown is the explicit fallback for unrecognized mode names.
	FocusModeUnknown FocusMode = iota

	// FocusWebSearch is the general web search pipeline. File-bearing turns
	// are always routed here.
	FocusWebSearch

	// FocusAcademicSearch searches academic sources (arxiv, scholar, pubmed).
	FocusAcademicSearch

	// FocusWritingAssistant answers without any retrieval step.
	FocusWritingAssistant

	// FocusWolframAlphaSearch routes computational queries to Wolfram Alpha.
	FocusWolframAlphaSearch

	// FocusYoutubeSearch restricts retrieval to YouTube.
	FocusYoutubeSearch

	// FocusRedditSearch restricts retrieval to Reddit.
	FocusRedditSearch
)

// focusModeNames maps each mode to its wire name. The wire names are part
// of the client protocol and must not change.
var focusModeNames = map[FocusMode]string{
	FocusWebSearch:          "webSearch",
	FocusAcademicSearch:     "academicSearch",
	FocusWritingAssistant:   "writingAssistant",
	FocusWolframAlphaSearch: "wolframAlphaSearch",
	FocusYoutubeSearch:      "youtubeSearch",
	FocusRedditSearch:       "redditSearch",
}

// String returns the wire name of the focus mode, or "unknown".
func (m FocusMode) String() string {
	if name, ok := focusModeNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseFocusMode maps a wire name to its FocusMode.
//
// # Inputs
//
//   - name: Client-supplied focus mode string (e.g. "webSearch").
//
// # Outputs
//
//   - FocusMode: The parsed mode, or FocusModeUnknown.
//   - bool: false if the name is not a known mode.
func ParseFocusMode(name string) (FocusMode, bool) {
	for mode, n := range focusModeNames {
		if n == name {
			return mode, true
		}
	}
	return FocusModeUnknown, false
}

// AllFocusModes returns every dispatchable mode in declaration order.
func AllFocusModes() []FocusMode {
	return []FocusMode{
		FocusWebSearch,
		FocusAcademicSearch,
		FocusWritingAssistant,
		FocusWolframAlphaSearch,
		FocusYoutubeSearch,
		FocusRedditSearch,
	}
}

// =============================================================================
// History
// =============================================================================

// Message roles used in pipeline conversation history.
const (
	RoleHuman     = "human"
	RoleAssistant = "assistant"
)

// Message is one prior exchange entry handed to a pipeline.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// =============================================================================
// Stream Events
// =============================================================================

// EventType tags an entry in a pipeline's event stream.
type EventType string

const (
	// EventResponse carries a partial answer text delta.
	EventResponse EventType = "response"

	// EventSources carries the citation list. At most one per turn; it may
	// arrive before or interleaved with response deltas.
	EventSources EventType = "sources"

	// EventEnd is the terminal success marker.
	EventEnd EventType = "end"

	// EventError is the terminal failure marker. Data carries the message.
	EventError EventType = "error"
)

// SourceMetadata identifies where a cited document came from.
type SourceMetadata struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Source is one citation attached to an answer.
type Source struct {
	PageContent string         `json:"pageContent"`
	Metadata    SourceMetadata `json:"metadata"`
}

// Event is one entry in a pipeline's event stream.
//
// Exactly one terminal event (EventEnd or EventError) closes a stream;
// producers close the channel immediately after emitting it.
type Event struct {
	Type    EventType `json:"type"`
	Data    string    `json:"data,omitempty"`
	Sources []Source  `json:"sources,omitempty"`
}

// =============================================================================
// Capability Interface
// =============================================================================

// ModelParams names the language and embedding models a pipeline should use.
type ModelParams struct {
	ChatModel      string `json:"chat_model"`
	EmbeddingModel string `json:"embedding_model"`
}

// SearchPipeline is the capability the session handler dispatches turns to.
//
// # Description
//
// SearchAndAnswer returns an event channel immediately; the producer pushes
// events from its own goroutine and the consumer drains them in order until
// the terminal event, after which the channel is closed. Cancelling ctx
// stops the producer; a cancelled producer still emits a terminal error
// event before closing so consumers never block forever.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; one pipeline instance
// serves every connection.
type SearchPipeline interface {
	SearchAndAnswer(
		ctx context.Context,
		query string,
		history []Message,
		models ModelParams,
		optimizationMode string,
		files []string,
	) (<-chan Event, error)
}
