// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/stream"
)

// =============================================================================
// STREAMING MESSAGES
// =============================================================================

// FrameTickMsg drives transcript rebuilds while sub-sessions stream.
type FrameTickMsg struct {
	Time time.Time
}

// SessionStartedMsg signals that a fan-out session is in flight.
type SessionStartedMsg struct {
	Session *stream.Session
	IsRetry bool
}

// SessionDoneMsg signals that every sub-session of a fan-out has converged.
type SessionDoneMsg struct {
	ConversationID string
	IsRetry        bool
	Errors         []*stream.SubError
}

// SessionFailedMsg reports a session that never started streaming.
type SessionFailedMsg struct {
	Err error
}

// =============================================================================
// RECONCILIATION MESSAGES
// =============================================================================

// SyncedMsg carries the result of an authoritative reload.
type SyncedMsg struct {
	Slots []model.Slot
	Err   error
}

// =============================================================================
// EXPORT MESSAGES
// =============================================================================

// ExportedMsg reports the outcome of a transcript export.
type ExportedMsg struct {
	Path string
	Err  error
}

// StatusExpiredMsg clears a transient status line message.
type StatusExpiredMsg struct {
	ID int
}
