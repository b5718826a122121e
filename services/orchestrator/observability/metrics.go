// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics for the session orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring conversational
// turns. Metrics include:
//   - Turn counters (by regime and terminal status)
//   - Outbound frame counters (by frame type)
//   - Turn duration histograms
//   - Active turn gauges
//   - Narration idle-timeout aborts and artifact publication counts
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "helion"

// Subsystem for session metrics
const sessionSubsystem = "session"

// =============================================================================
// Label Values
// =============================================================================

// Regime labels a turn's processing path for metrics.
type Regime string

const (
	// RegimeStandard is the focus-mode pipeline path.
	RegimeStandard Regime = "standard"

	// RegimeAnalytics is the analytics dual-stream path.
	RegimeAnalytics Regime = "analytics"
)

// ErrorKey mirrors the client-visible error keys for metrics labeling.
type ErrorKey string

const (
	ErrorKeyInvalidFormat    ErrorKey = "invalid_format"
	ErrorKeyInvalidFocusMode ErrorKey = "invalid_focus_mode"
	ErrorKeyChainError       ErrorKey = "chain_error"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// SessionMetrics holds all Prometheus metrics for turn processing.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring turn throughput
// and failure modes. Initialize once at startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type SessionMetrics struct {
	// TurnsTotal counts completed turns by regime and terminal status.
	// Labels: regime (standard, analytics), status (success, error)
	TurnsTotal *prometheus.CounterVec

	// FramesTotal counts outbound client frames by type.
	// Labels: frame_type (message, sources, messageEnd, stream_end, error)
	FramesTotal *prometheus.CounterVec

	// TurnDurationSeconds measures dispatch-to-terminal turn duration.
	// Labels: regime, status
	TurnDurationSeconds *prometheus.HistogramVec

	// ActiveTurns tracks turns currently in flight.
	// Labels: regime
	ActiveTurns *prometheus.GaugeVec

	// ErrorsTotal counts client-visible errors by key.
	// Labels: key (invalid_format, invalid_focus_mode, chain_error)
	ErrorsTotal *prometheus.CounterVec

	// NarrationIdleAbortsTotal counts analytics narration streams aborted
	// by the idle timeout.
	NarrationIdleAbortsTotal prometheus.Counter

	// ArtifactsPublishedTotal counts chart artifacts written.
	ArtifactsPublishedTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of SessionMetrics.
// Initialized by InitMetrics(); nil until then, and every helper method
// is nil-safe so tests can run without registration.
var DefaultMetrics *SessionMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once at
// application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *SessionMetrics {
	DefaultMetrics = &SessionMetrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "turns_total",
				Help:      "Total completed turns by regime and status",
			},
			[]string{"regime", "status"},
		),

		FramesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "frames_total",
				Help:      "Total outbound client frames by type",
			},
			[]string{"frame_type"},
		),

		TurnDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Turn duration from dispatch to terminal frame in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"regime", "status"},
		),

		ActiveTurns: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "active_turns",
				Help:      "Number of turns currently in flight",
			},
			[]string{"regime"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "errors_total",
				Help:      "Total client-visible errors by key",
			},
			[]string{"key"},
		),

		NarrationIdleAbortsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "narration_idle_aborts_total",
				Help:      "Analytics narration streams aborted by the idle timeout",
			},
		),

		ArtifactsPublishedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "artifacts_published_total",
				Help:      "Total chart artifacts written",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordTurn records a completed turn.
func (m *SessionMetrics) RecordTurn(regime Regime, success bool, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.TurnsTotal.WithLabelValues(string(regime), status).Inc()
	m.TurnDurationSeconds.WithLabelValues(string(regime), status).Observe(seconds)
}

// RecordFrame counts one outbound frame.
func (m *SessionMetrics) RecordFrame(frameType string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(frameType).Inc()
}

// RecordError counts one client-visible error.
func (m *SessionMetrics) RecordError(key ErrorKey) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(key)).Inc()
}

// TurnStarted increments the active turn gauge.
func (m *SessionMetrics) TurnStarted(regime Regime) {
	if m == nil {
		return
	}
	m.ActiveTurns.WithLabelValues(string(regime)).Inc()
}

// TurnEnded decrements the active turn gauge.
func (m *SessionMetrics) TurnEnded(regime Regime) {
	if m == nil {
		return
	}
	m.ActiveTurns.WithLabelValues(string(regime)).Dec()
}

// RecordNarrationIdleAbort counts one idle-timeout abort.
func (m *SessionMetrics) RecordNarrationIdleAbort() {
	if m == nil {
		return
	}
	m.NarrationIdleAbortsTotal.Inc()
}

// RecordArtifactsPublished counts published chart artifacts.
func (m *SessionMetrics) RecordArtifactsPublished(n int) {
	if m == nil {
		return
	}
	m.ArtifactsPublishedTotal.Add(float64(n))
}
