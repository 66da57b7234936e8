// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/util"
)

// ExportFormat selects the output format for conversation export.
type ExportFormat string

const (
	ExportFormatMarkdown ExportFormat = "markdown"
	ExportFormatJSON     ExportFormat = "json"
)

// ErrUnknownFormat indicates an unsupported export format.
var ErrUnknownFormat = fmt.Errorf("unknown export format")

// exportEnvelope is the JSON export shape.
type exportEnvelope struct {
	ConversationID string           `json:"conversation_id"`
	ExportedAt     time.Time        `json:"exported_at"`
	Messages       []*model.Message `json:"messages"`
}

// ExportConversation writes the messages of a conversation to path in the
// given format. Streaming placeholders are skipped; they have no durable
// content yet.
func ExportConversation(path string, format ExportFormat, conversationID string, msgs []*model.Message) error {
	durable := make([]*model.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.IsStreaming {
			durable = append(durable, m)
		}
	}

	var data []byte
	var err error
	switch format {
	case ExportFormatJSON:
		data, err = json.MarshalIndent(exportEnvelope{
			ConversationID: conversationID,
			ExportedAt:     time.Now().UTC(),
			Messages:       durable,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal export: %w", err)
		}
	case ExportFormatMarkdown:
		data = []byte(renderMarkdown(conversationID, durable))
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	return util.AtomicWriteFile(path, data, 0644)
}

// renderMarkdown produces a readable transcript. Answers are labeled with
// the slot that produced them so side-by-side generations stay
// distinguishable.
func renderMarkdown(conversationID string, msgs []*model.Message) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Conversation %s\n\n", conversationID))
	sb.WriteString(fmt.Sprintf("Exported %s\n\n", time.Now().UTC().Format(time.RFC3339)))

	for _, m := range msgs {
		switch m.Role {
		case model.RoleUser:
			sb.WriteString("## You\n\n")
		case model.RoleAssistant:
			label := model.SlotOf(m).Label()
			if label == "" {
				label = "Assistant"
			}
			sb.WriteString(fmt.Sprintf("## %s\n\n", label))
		default:
			sb.WriteString(fmt.Sprintf("## %s\n\n", m.Role.DisplayName()))
		}

		if m.Thinking != "" {
			sb.WriteString("> ")
			sb.WriteString(strings.ReplaceAll(strings.TrimSpace(m.Thinking), "\n", "\n> "))
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.TrimSpace(m.Content))
		sb.WriteString("\n\n")
	}

	return sb.String()
}
