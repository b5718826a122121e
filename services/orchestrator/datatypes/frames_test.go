// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelionAI/HelionSearch/services/pipeline"
)

// =============================================================================
// Inbound Validation Tests
// =============================================================================

func validMessage() WSMessage {
	return WSMessage{
		Message: InboundMessage{
			MessageID: "m-1",
			ChatID:    "c-1",
			Content:   "what moved the market today",
		},
		Type:      "message",
		FocusMode: "webSearch",
	}
}

func TestWSMessage_ValidPayloadPasses(t *testing.T) {
	msg := validMessage()
	assert.NoError(t, msg.Validate())
}

func TestWSMessage_EmptyContentRejected(t *testing.T) {
	msg := validMessage()
	msg.Message.Content = ""
	assert.Error(t, msg.Validate())
}

func TestWSMessage_OversizeContentRejected(t *testing.T) {
	msg := validMessage()
	msg.Message.Content = strings.Repeat("a", MaxMessageContentBytes+1)
	assert.Error(t, msg.Validate())

	msg.Message.Content = strings.Repeat("a", MaxMessageContentBytes)
	assert.NoError(t, msg.Validate())
}

func TestWSMessage_HistoryCapEnforced(t *testing.T) {
	msg := validMessage()
	msg.History = make([][2]string, MaxHistoryEntries+1)
	assert.Error(t, msg.Validate())

	msg.History = make([][2]string, MaxHistoryEntries)
	assert.NoError(t, msg.Validate())
}

func TestWSMessage_ParsesClientPayload(t *testing.T) {
	raw := `{
		"type": "message",
		"message": {"messageId": "abc123", "chatId": "chat9", "content": "hello"},
		"focusMode": "academicSearch",
		"optimizationMode": "balanced",
		"analyticsModel": true,
		"history": [["human", "hi"], ["assistant", "hello there"]],
		"files": ["f1"]
	}`

	var msg WSMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, "abc123", msg.Message.MessageID)
	assert.Equal(t, "chat9", msg.Message.ChatID)
	assert.True(t, msg.AnalyticsModel)
	assert.Equal(t, "academicSearch", msg.FocusMode)
	assert.Equal(t, []string{"f1"}, msg.Files)
	require.Len(t, msg.History, 2)
	assert.Equal(t, "human", msg.History[0][0])
}

// =============================================================================
// History Conversion Tests
// =============================================================================

func TestPipelineHistory_RoleMapping(t *testing.T) {
	msg := WSMessage{
		History: [][2]string{
			{"human", "question one"},
			{"assistant", "answer one"},
			{"ai", "legacy assistant label"},
		},
	}

	history := msg.PipelineHistory()
	require.Len(t, history, 3)
	assert.Equal(t, pipeline.RoleHuman, history[0].Role)
	assert.Equal(t, pipeline.RoleAssistant, history[1].Role)
	// Unknown roles degrade to assistant rather than failing the turn.
	assert.Equal(t, pipeline.RoleAssistant, history[2].Role)
	assert.Equal(t, "question one", history[0].Content)
}

// =============================================================================
// Outbound Frame Shape Tests
// =============================================================================

func TestOutboundFrames_WireShape(t *testing.T) {
	t.Run("message frame", func(t *testing.T) {
		data, err := json.Marshal(MessageFrame{Type: FrameTypeMessage, Data: "delta", MessageID: "m1"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"message","data":"delta","messageId":"m1"}`, string(data))
	})

	t.Run("stream_end frame keeps empty data field", func(t *testing.T) {
		data, err := json.Marshal(StreamEndFrame{Type: FrameTypeStreamEnd, MessageID: "m1"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"stream_end","data":"","messageId":"m1"}`, string(data))
	})

	t.Run("error frame carries key", func(t *testing.T) {
		data, err := json.Marshal(ErrorFrame{Type: FrameTypeError, Data: "Invalid focus mode", Key: ErrKeyInvalidFocusMode})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"error","data":"Invalid focus mode","key":"INVALID_FOCUS_MODE"}`, string(data))
	})
}
