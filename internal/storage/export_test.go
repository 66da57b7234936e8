// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/relay-tui/internal/model"
)

func exportFixture() []*model.Message {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return []*model.Message{
		{ID: "q1", Role: model.RoleUser, Content: "Hi", CreatedAt: base},
		{
			ID: "a1", Role: model.RoleAssistant, Content: "Hello",
			Thinking: "a greeting", ProviderName: "anthropic",
			APIFormat: "anthropic", Model: "claude-sonnet",
			CreatedAt: base.Add(time.Second),
		},
		{
			ID: "live", Role: model.RoleAssistant, Content: "part",
			IsStreaming: true, CreatedAt: base.Add(2 * time.Second),
		},
	}
}

func TestExportConversation_Markdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conv.md")

	require.NoError(t, ExportConversation(path, ExportFormatMarkdown, "conv1", exportFixture()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, "# Conversation conv1")
	assert.Contains(t, out, "## You")
	assert.Contains(t, out, "## anthropic/claude-sonnet")
	assert.Contains(t, out, "> a greeting")
	assert.Contains(t, out, "Hello")
	assert.NotContains(t, out, "part", "streaming placeholders are not exported")
}

func TestExportConversation_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conv.json")

	require.NoError(t, ExportConversation(path, ExportFormatJSON, "conv1", exportFixture()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var env exportEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "conv1", env.ConversationID)
	require.Len(t, env.Messages, 2)
	assert.Equal(t, "a1", env.Messages[1].ID)
}

func TestExportConversation_UnknownFormat(t *testing.T) {
	err := ExportConversation(filepath.Join(t.TempDir(), "x"), "yaml", "conv1", nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
