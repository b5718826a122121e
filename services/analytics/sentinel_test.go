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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// SentinelMatcher Tests
// =============================================================================

func TestSentinelMatcher_SentinelInOneChunk(t *testing.T) {
	m := NewSentinelMatcher(Terminator)

	forward, found := m.Feed("The trend is upward. TERMINATE")
	assert.True(t, found)
	assert.Equal(t, "The trend is upward. ", forward)
	assert.True(t, m.Found())
}

func TestSentinelMatcher_SentinelSplitAcrossChunks(t *testing.T) {
	m := NewSentinelMatcher(Terminator)

	forward, found := m.Feed("analysis done TERM")
	assert.False(t, found)
	assert.Equal(t, "analysis done ", forward)

	forward, found = m.Feed("INATE leftover noise")
	assert.True(t, found)
	assert.Equal(t, "", forward)
}

func TestSentinelMatcher_SplitOneBytePerChunk(t *testing.T) {
	m := NewSentinelMatcher(Terminator)

	var collected strings.Builder
	found := false
	for _, r := range "ok " + Terminator {
		fwd, f := m.Feed(string(r))
		collected.WriteString(fwd)
		if f {
			found = true
			break
		}
	}
	assert.True(t, found)
	assert.Equal(t, "ok ", collected.String())
}

func TestSentinelMatcher_FalsePrefixReleasedByFlush(t *testing.T) {
	m := NewSentinelMatcher(Terminator)

	// "TERM" is a prefix of the sentinel, so it is held back.
	forward, found := m.Feed("quarterly TERM")
	assert.False(t, found)
	assert.Equal(t, "quarterly ", forward)

	// Stream ends naturally; the held prefix was plain text after all.
	assert.Equal(t, "TERM", m.Flush())
	assert.False(t, m.Found())
}

func TestSentinelMatcher_FalsePrefixResolvedByNextChunk(t *testing.T) {
	m := NewSentinelMatcher(Terminator)

	forward, found := m.Feed("the TERM")
	assert.False(t, found)
	assert.Equal(t, "the ", forward)

	forward, found = m.Feed(" sheet says")
	assert.False(t, found)
	assert.Equal(t, "TERM sheet says", forward)
}

func TestSentinelMatcher_ContentAfterSentinelDiscarded(t *testing.T) {
	m := NewSentinelMatcher(Terminator)

	forward, found := m.Feed("summary TERMINATE trailing junk")
	assert.True(t, found)
	assert.Equal(t, "summary ", forward)

	// Later chunks are swallowed once the sentinel was seen.
	forward, found = m.Feed("more junk")
	assert.True(t, found)
	assert.Equal(t, "", forward)

	// Flush after the sentinel yields nothing.
	assert.Equal(t, "", m.Flush())
}

func TestSentinelMatcher_EmptySentinelMatchesNothing(t *testing.T) {
	m := NewSentinelMatcher("")

	forward, found := m.Feed("TERMINATE")
	assert.False(t, found)
	assert.Equal(t, "TERMINATE", forward)
}

func TestSentinelMatcher_FlushIsIdempotent(t *testing.T) {
	m := NewSentinelMatcher(Terminator)

	_, _ = m.Feed("abc TERMIN")
	assert.Equal(t, "TERMIN", m.Flush())
	assert.Equal(t, "", m.Flush())
}
