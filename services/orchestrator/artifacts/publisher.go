// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifacts materializes analytics chart documents as served files.
//
// Each analytics turn's charts are written under a per-chat subdirectory of
// the served root, so concurrent analytics turns in different chats never
// race on each other's files. A chat's previous charts are replaced on
// every publication.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/HelionAI/HelionSearch/services/analytics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("helion.orchestrator.artifacts")

// artifactFilePrefix and artifactFileExt form the chart file names:
// file_1.html, file_2.html, ... numbered by bundle array position.
const (
	artifactFilePrefix = "file_"
	artifactFileExt    = ".html"
)

// Link is one published chart artifact.
type Link struct {
	Name string `json:"name"`
	URL  string `json:"link"`
}

// Publisher writes chart artifacts into a served directory and derives
// their public links.
//
// # Thread Safety
//
// Safe for concurrent use across distinct chat ids. Two concurrent
// publications for the same chat race on the chat's subdirectory; the
// session handler serializes turns per connection, which is the only
// source of publications for a chat.
type Publisher struct {
	rootDir string
	baseURL string
}

// NewPublisher creates a Publisher serving links under baseURL.
//
// # Inputs
//
//   - rootDir: Directory mounted by the HTTP server for artifact serving.
//     Created if absent.
//   - baseURL: Public prefix the artifact route is reachable at, e.g.
//     "http://localhost:3001/artifacts". No trailing slash needed.
func NewPublisher(rootDir, baseURL string) (*Publisher, error) {
	if err := os.MkdirAll(rootDir, 0750); err != nil {
		return nil, fmt.Errorf("create artifact root %s: %w", rootDir, err)
	}
	return &Publisher{
		rootDir: rootDir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Publish materializes a bundle's charts for a chat.
//
// # Description
//
// Replaces the chat's artifact subdirectory, writes one file per
// HTMLByteStrings entry named by its 1-based position, then lists the
// directory and derives one link per file. Listing order is made explicit
// by sorting on the numeric file suffix, so link order always equals
// bundle order regardless of the storage backend's directory ordering.
//
// # Outputs
//
//   - []Link: chart1..chartN in bundle order. Empty (not nil error) for a
//     bundle with no charts.
//   - error: Non-nil if the directory or any file could not be written.
func (p *Publisher) Publish(ctx context.Context, bundle analytics.Bundle, chatID string) ([]Link, error) {
	_, span := tracer.Start(ctx, "Publisher.Publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("artifacts.chat_id", chatID),
		attribute.Int("artifacts.count", len(bundle.HTMLByteStrings)),
	)

	dirName := sanitizeChatID(chatID)
	chatDir := filepath.Join(p.rootDir, dirName)

	// Full replacement: a chat's artifacts never accumulate across turns.
	if err := os.RemoveAll(chatDir); err != nil {
		return nil, fmt.Errorf("clear artifact directory %s: %w", chatDir, err)
	}
	if err := os.MkdirAll(chatDir, 0750); err != nil {
		return nil, fmt.Errorf("create artifact directory %s: %w", chatDir, err)
	}

	for i, doc := range bundle.HTMLByteStrings {
		name := fmt.Sprintf("%s%d%s", artifactFilePrefix, i+1, artifactFileExt)
		path := filepath.Join(chatDir, name)
		if err := os.WriteFile(path, []byte(doc), 0640); err != nil {
			return nil, fmt.Errorf("write artifact %s: %w", path, err)
		}
	}

	entries, err := os.ReadDir(chatDir)
	if err != nil {
		return nil, fmt.Errorf("list artifact directory %s: %w", chatDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return artifactIndex(names[i]) < artifactIndex(names[j])
	})

	links := make([]Link, 0, len(names))
	for i, name := range names {
		links = append(links, Link{
			Name: fmt.Sprintf("chart%d", i+1),
			URL:  fmt.Sprintf("%s/%s/%s", p.baseURL, dirName, name),
		})
	}
	return links, nil
}

// ComposeReport builds the final client-facing analytics message: the
// compute summary followed by one markdown link per chart.
func ComposeReport(summary string, links []Link) string {
	var b strings.Builder
	b.WriteString("##Summary : \n ")
	b.WriteString(summary)

	b.WriteString("\n ##Charts: \n ")
	parts := make([]string, 0, len(links))
	for _, link := range links {
		parts = append(parts, fmt.Sprintf("[%s](%s)", link.Name, link.URL))
	}
	b.WriteString(strings.Join(parts, "\n\n"))
	return b.String()
}

// artifactIndex extracts the numeric position from a chart file name.
// Unknown names sort last.
func artifactIndex(name string) int {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, artifactFilePrefix), artifactFileExt)
	idx, err := strconv.Atoi(trimmed)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return idx
}

// sanitizeChatID maps a client-supplied chat id onto a safe directory
// name. Path separators and traversal sequences must never reach the
// filesystem layer.
func sanitizeChatID(chatID string) string {
	var b strings.Builder
	for _, r := range chatID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
