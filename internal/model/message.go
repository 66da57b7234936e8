// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// LocalIDPrefix marks ids generated on this client that have not yet been
// assigned an authoritative id by the gateway.
const LocalIDPrefix = "local-"

// Message represents a single message in a conversation.
//
// Assistant messages carry the model slot that produced them: provider name,
// API format, model id, and the instance index that disambiguates multiple
// concurrent selections of the same model within one fan-out.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	// Content
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`

	// Model slot (assistant messages)
	Model              string `json:"model,omitempty"`
	ProviderName       string `json:"provider_name,omitempty"`
	APIFormat          string `json:"api_format,omitempty"`
	ModelInstanceIndex int    `json:"model_instance_index"`

	// ParentMessageID points at the user message this assistant message
	// answers. May be empty for older records; resolution then falls back
	// to the nearest preceding user message in turn order.
	ParentMessageID string `json:"parent_message_id,omitempty"`

	// Usage statistics
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// IsStreaming marks a message whose content is still being produced.
	// Never persisted.
	IsStreaming bool `json:"-"`
}

// NewUserMessage creates a user message with a local id.
func NewUserMessage(content string) *Message {
	return &Message{
		ID:        NewLocalID(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewAssistantPlaceholder creates a streaming assistant placeholder for the
// given question and model slot. The placeholder keeps its visual position
// while content streams in and is patched with the saved message on
// completion.
func NewAssistantPlaceholder(parentID string, slot Slot) *Message {
	return &Message{
		ID:                 NewLocalID(),
		Role:               RoleAssistant,
		CreatedAt:          time.Now(),
		Model:              slot.Model,
		ProviderName:       slot.ProviderName,
		APIFormat:          slot.APIFormat,
		ModelInstanceIndex: slot.InstanceIndex,
		ParentMessageID:    parentID,
		IsStreaming:        true,
	}
}

// NewLocalID generates a client-side temporary message id.
func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// IsLocal reports whether the message id was generated on this client and
// has not been persisted by the gateway yet.
func (m *Message) IsLocal() bool {
	return len(m.ID) > len(LocalIDPrefix) && m.ID[:len(LocalIDPrefix)] == LocalIDPrefix
}

// IsQuestion reports whether the message is a user message.
func (m *Message) IsQuestion() bool {
	return m.Role == RoleUser
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// Clone returns a shallow copy of the message.
func (m *Message) Clone() *Message {
	cp := *m
	return &cp
}

// =============================================================================
// MODEL SLOT
// =============================================================================

// Slot identifies one configured model selection within a fan-out.
type Slot struct {
	ProviderName  string `json:"provider_name"`
	APIFormat     string `json:"api_format"`
	Model         string `json:"model"`
	InstanceIndex int    `json:"instance_index"`
}

// SlotOf extracts the model slot from an assistant message.
func SlotOf(m *Message) Slot {
	return Slot{
		ProviderName:  m.ProviderName,
		APIFormat:     m.APIFormat,
		Model:         m.Model,
		InstanceIndex: m.ModelInstanceIndex,
	}
}

// Equal reports whether two slots refer to the same configured selection.
func (s Slot) Equal(o Slot) bool {
	return s.ProviderName == o.ProviderName &&
		s.APIFormat == o.APIFormat &&
		s.Model == o.Model &&
		s.InstanceIndex == o.InstanceIndex
}

// SameModel reports whether two slots use the same backend model, ignoring
// the instance index.
func (s Slot) SameModel(o Slot) bool {
	return s.ProviderName == o.ProviderName &&
		s.APIFormat == o.APIFormat &&
		s.Model == o.Model
}

// Label returns a short human-readable label for the slot.
func (s Slot) Label() string {
	if s.ProviderName != "" {
		return s.ProviderName + "/" + s.Model
	}
	return s.Model
}
