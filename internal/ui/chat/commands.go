// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/reconcile"
	"github.com/jeranaias/relay-tui/internal/storage"
	"github.com/jeranaias/relay-tui/internal/stream"
)

// =============================================================================
// COMMAND CREATORS
// =============================================================================

// startSessionCmd starts a fan-out session for the prompt. Failures before
// any sub-session begins streaming come back as SessionFailedMsg.
func startSessionCmd(mgr *stream.Manager, conversationID, prompt string, selections []model.Slot, opts stream.Options) tea.Cmd {
	return func() tea.Msg {
		session, err := mgr.StartSession(context.Background(), conversationID, prompt, selections, opts)
		if err != nil {
			return SessionFailedMsg{Err: err}
		}
		return SessionStartedMsg{Session: session, IsRetry: opts.IsRetry}
	}
}

// waitSessionCmd blocks until every sub-session of the fan-out converges.
func waitSessionCmd(session *stream.Session, isRetry bool) tea.Cmd {
	return func() tea.Msg {
		<-session.Done()
		return SessionDoneMsg{
			ConversationID: session.ConversationID,
			IsRetry:        isRetry,
			Errors:         session.Errors(),
		}
	}
}

// syncCmd reloads the conversation from the gateway and merges it with
// local state.
func syncCmd(engine *reconcile.Engine, conversationID string, force bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		slots, err := engine.Sync(ctx, conversationID, force)
		return SyncedMsg{Slots: slots, Err: err}
	}
}

// exportCmd writes the transcript to the export directory.
func exportCmd(dir string, format storage.ExportFormat, conversationID string, msgs []*model.Message) tea.Cmd {
	return func() tea.Msg {
		ext := "md"
		if format == storage.ExportFormatJSON {
			ext = "json"
		}
		name := fmt.Sprintf("%s-%s.%s", conversationID, time.Now().Format("20060102-150405"), ext)
		path := filepath.Join(dir, name)

		if err := storage.ExportConversation(path, format, conversationID, msgs); err != nil {
			return ExportedMsg{Err: err}
		}
		return ExportedMsg{Path: path}
	}
}

// statusExpireCmd clears the transient status message after a delay, unless
// a newer message has replaced it.
func statusExpireCmd(id int) tea.Cmd {
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return StatusExpiredMsg{ID: id}
	})
}
