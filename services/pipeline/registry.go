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

import "net/http"

// =============================================================================
// Per-Mode Options
// =============================================================================

// Options tunes retrieval behavior for one focus mode.
//
// # Fields
//
//   - ActiveEngines: Search engines the mode is restricted to. Empty means
//     the engine default set.
//   - Rerank: Whether retrieved documents are reranked before generation.
//   - RerankThreshold: Minimum similarity score kept after reranking.
//   - SearchWeb: Whether the mode performs retrieval at all. The writing
//     assistant answers from the model alone.
//   - Summarizer: Whether linked documents are summarized before ranking.
type Options struct {
	ActiveEngines   []string `json:"active_engines"`
	Rerank          bool     `json:"rerank"`
	RerankThreshold float64  `json:"rerank_threshold"`
	SearchWeb       bool     `json:"search_web"`
	Summarizer      bool     `json:"summarizer"`
}

// modeOptions holds the fixed retrieval configuration for each focus mode.
var modeOptions = map[FocusMode]Options{
	FocusWebSearch: {
		Rerank:          true,
		RerankThreshold: 0.3,
		SearchWeb:       true,
		Summarizer:      true,
	},
	FocusAcademicSearch: {
		ActiveEngines: []string{"arxiv", "google scholar", "pubmed"},
		Rerank:        true,
		SearchWeb:     true,
	},
	FocusWritingAssistant: {
		Rerank: true,
	},
	FocusWolframAlphaSearch: {
		ActiveEngines: []string{"wolframalpha"},
		SearchWeb:     true,
	},
	FocusYoutubeSearch: {
		ActiveEngines:   []string{"youtube"},
		Rerank:          true,
		RerankThreshold: 0.3,
		SearchWeb:       true,
	},
	FocusRedditSearch: {
		ActiveEngines:   []string{"reddit"},
		Rerank:          true,
		RerankThreshold: 0.3,
		SearchWeb:       true,
	},
}

// =============================================================================
// Registry
// =============================================================================

// Registry is the read-only focus-mode to pipeline mapping.
//
// # Description
//
// Built once at process start and passed by reference into each session
// handler. After construction the registry is never mutated, so lookups
// are safe from any goroutine without locking.
type Registry struct {
	pipelines map[FocusMode]SearchPipeline
}

// NewRegistry builds the registry of remote pipelines, one per focus mode.
//
// # Inputs
//
//   - engineURL: Base URL of the answer engine (no trailing slash needed).
//   - client: HTTP client used for engine calls. Pass nil for a default
//     client with streaming-friendly timeouts.
//
// # Outputs
//
//   - *Registry: Registry covering every mode in AllFocusModes().
func NewRegistry(engineURL string, client *http.Client) *Registry {
	pipelines := make(map[FocusMode]SearchPipeline, len(modeOptions))
	for _, mode := range AllFocusModes() {
		pipelines[mode] = NewRemotePipeline(engineURL, mode, modeOptions[mode], client)
	}
	return &Registry{pipelines: pipelines}
}

// NewRegistryWith builds a registry from an explicit mode table. Used by
// tests and by callers that substitute pipeline implementations.
func NewRegistryWith(pipelines map[FocusMode]SearchPipeline) *Registry {
	cloned := make(map[FocusMode]SearchPipeline, len(pipelines))
	for mode, p := range pipelines {
		cloned[mode] = p
	}
	return &Registry{pipelines: cloned}
}

// Lookup returns the pipeline for the given mode.
//
// # Outputs
//
//   - SearchPipeline: The registered pipeline, or nil.
//   - bool: false for FocusModeUnknown or an unregistered mode.
func (r *Registry) Lookup(mode FocusMode) (SearchPipeline, bool) {
	p, ok := r.pipelines[mode]
	return p, ok
}
