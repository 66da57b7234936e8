// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"

	"github.com/jeranaias/relay-tui/internal/model"
)

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// Chunk is one streamed delta from a model backend. Content is appended to
// the accumulated answer; Thinking, when present, is a cumulative snapshot
// that replaces the previous one.
type Chunk struct {
	Content  string
	Thinking string
}

// Usage carries the token counts reported at stream completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Handler receives stream events for one sub-session. The transport must
// emit at most one terminal callback (OnComplete or OnError); the manager
// tolerates duplicates defensively.
type Handler struct {
	OnChunk    func(Chunk)
	OnComplete func(*Usage)
	OnError    func(error)
}

// Request describes one streaming call to a single model backend.
type Request struct {
	ConversationID string
	Prompt         string
	History        []*model.Message
	Slot           model.Slot
}

// Transport streams one model's answer to a prompt. Cancellation is
// per-call through ctx; timeout policy belongs to the implementation.
type Transport interface {
	Send(ctx context.Context, req Request, h Handler) error
}

// AppendRequest describes a message write to the authoritative store.
type AppendRequest struct {
	ConversationID     string
	Role               model.Role
	Content            string
	Thinking           string
	Model              string
	ProviderName       string
	APIFormat          string
	ParentMessageID    string
	ModelInstanceIndex int
	InputTokens        int
	OutputTokens       int
}

// MessageAPI is the authoritative message store. The id returned by Append
// replaces any client-generated temporary id.
type MessageAPI interface {
	Append(ctx context.Context, req AppendRequest) (*model.Message, error)
	List(ctx context.Context, conversationID string) ([]*model.Message, error)
}

// Pinner is the slice of generation navigation the manager needs: pinning
// a freshly retried generation and following a placeholder id swap.
type Pinner interface {
	Retry(key model.GroupKey, newMessageID string)
	Repin(key model.GroupKey, oldID, newID string)
}
