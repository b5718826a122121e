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

import "strings"

// Terminator is the sentinel the analytics narration stream emits to mark
// the end of useful narration and hand off to the compute job.
const Terminator = "TERMINATE"

// SentinelMatcher detects a sentinel string in a chunked stream.
//
// # Description
//
// The narration endpoint delivers arbitrary byte chunks; the sentinel can
// be split across chunk boundaries. SentinelMatcher feeds chunks through a
// rolling buffer: text that cannot be part of the sentinel is released for
// forwarding, while any suffix that is a proper prefix of the sentinel is
// held back until the next chunk resolves it.
//
// Once the sentinel is found, everything at and after it is discarded and
// the matcher stays in the found state.
//
// # Thread Safety
//
// Not safe for concurrent use; one matcher per stream.
type SentinelMatcher struct {
	sentinel string
	carry    string
	found    bool
}

// NewSentinelMatcher creates a matcher for the given sentinel. An empty
// sentinel matches nothing.
func NewSentinelMatcher(sentinel string) *SentinelMatcher {
	return &SentinelMatcher{sentinel: sentinel}
}

// Feed consumes one chunk and returns the text safe to forward.
//
// # Outputs
//
//   - forward: Text released for forwarding. May be empty while the matcher
//     holds back a possible sentinel prefix.
//   - found: true once the sentinel has been seen. Content after the
//     sentinel within the same chunk is discarded.
func (m *SentinelMatcher) Feed(chunk string) (forward string, found bool) {
	if m.found {
		return "", true
	}
	if m.sentinel == "" {
		return chunk, false
	}

	pending := m.carry + chunk
	if idx := strings.Index(pending, m.sentinel); idx >= 0 {
		m.found = true
		m.carry = ""
		return pending[:idx], true
	}

	// Hold back the longest suffix of pending that is a proper prefix of
	// the sentinel; it may complete on the next chunk.
	hold := 0
	maxHold := len(m.sentinel) - 1
	if maxHold > len(pending) {
		maxHold = len(pending)
	}
	for n := maxHold; n > 0; n-- {
		if strings.HasPrefix(m.sentinel, pending[len(pending)-n:]) {
			hold = n
			break
		}
	}

	m.carry = pending[len(pending)-hold:]
	return pending[:len(pending)-hold], false
}

// Flush releases any held-back text. Call on natural end of stream, when a
// partial sentinel prefix turned out to be ordinary narration.
func (m *SentinelMatcher) Flush() string {
	if m.found {
		return ""
	}
	carry := m.carry
	m.carry = ""
	return carry
}

// Found reports whether the sentinel has been seen.
func (m *SentinelMatcher) Found() bool {
	return m.found
}
