// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/nav"
	"github.com/jeranaias/relay-tui/internal/storage"
	"github.com/jeranaias/relay-tui/internal/stream"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update handles all Bubble Tea messages for the chat view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.handleResize(msg.Width, msg.Height)
		m.rebuildTranscript()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case FrameTickMsg:
		if m.state != StateStreaming {
			return m, nil
		}
		m.gate.Observe(m.streamSignature())
		if m.gate.ShouldRender(msg.Time) {
			m.rebuildTranscript()
			m.viewport.GotoBottom()
		}
		return m, frameTickCmd()

	case SessionStartedMsg:
		m.state = StateStreaming
		m.session = msg.Session
		m.lastError = nil
		m.rebuildTranscript()
		m.viewport.GotoBottom()
		return m, tea.Batch(
			waitSessionCmd(msg.Session, msg.IsRetry),
			frameTickCmd(),
		)

	case SessionFailedMsg:
		m.state = StateError
		m.lastError = msg.Err
		return m, m.setStatus("send failed: " + msg.Err.Error())

	case SessionDoneMsg:
		m.state = StateReady
		m.session = nil
		m.gate.ForceRender(time.Now())
		m.rebuildTranscript()
		m.viewport.GotoBottom()

		var cmds []tea.Cmd
		if len(msg.Errors) > 0 {
			m.state = StateError
			m.lastError = msg.Errors[0]
			cmds = append(cmds, m.setStatus(fmt.Sprintf("%d of %d models failed", len(msg.Errors), len(m.selection))))
		}
		if !msg.IsRetry {
			cmds = append(cmds, syncCmd(m.deps.Engine, m.deps.Store.ConversationID(), false))
		}
		return m, tea.Batch(cmds...)

	case SyncedMsg:
		if msg.Err != nil {
			return m, m.setStatus("sync failed: " + msg.Err.Error())
		}
		if len(msg.Slots) > 0 {
			m.selection = msg.Slots
			if m.focusedPane >= len(m.selection) {
				m.focusedPane = 0
			}
		}
		m.rebuildTranscript()
		m.viewport.GotoBottom()
		return m, nil

	case ExportedMsg:
		if msg.Err != nil {
			return m, m.setStatus("export failed: " + msg.Err.Error())
		}
		return m, m.setStatus("exported to " + msg.Path)

	case StatusExpiredMsg:
		if msg.ID == m.statusID {
			m.statusMsg = ""
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleResize recomputes component dimensions. The viewport gets whatever
// height remains after the fixed rows: header, input, status line.
func (m *Model) handleResize(width, height int) {
	m.width = width
	m.height = height

	const fixedRows = 4 // header + input box (2) + status
	vpHeight := height - fixedRows
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = width
	m.viewport.Height = vpHeight
	m.input.Width = width - 6
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keyMap.Quit):
		m.quitting = true
		if m.state == StateStreaming {
			m.deps.Manager.CancelConversation(m.deps.Store.ConversationID())
		}
		return m, tea.Quit

	case key.Matches(msg, m.keyMap.Cancel):
		if m.state == StateStreaming {
			m.deps.Manager.CancelConversation(m.deps.Store.ConversationID())
			return m, m.setStatus("cancelled")
		}
		return m, nil

	case key.Matches(msg, m.keyMap.Submit):
		return m.submit()

	case key.Matches(msg, m.keyMap.NextPane):
		if len(m.selection) > 0 {
			m.focusedPane = (m.focusedPane + 1) % len(m.selection)
			m.rebuildTranscript()
		}
		return m, nil

	case key.Matches(msg, m.keyMap.PrevGen):
		m.navigateFocused(nav.Prev)
		return m, nil

	case key.Matches(msg, m.keyMap.NextGen):
		m.navigateFocused(nav.Next)
		return m, nil

	case key.Matches(msg, m.keyMap.Retry):
		return m.retryFocused()

	case key.Matches(msg, m.keyMap.Export):
		format := storage.ExportFormatMarkdown
		return m, exportCmd(m.deps.Config.Storage.ExportDir, format, m.deps.Store.ConversationID(), m.deps.Store.Messages())

	case key.Matches(msg, m.keyMap.Help):
		m.showHelp = !m.showHelp
		return m, nil

	case key.Matches(msg, m.keyMap.ScrollUp),
		key.Matches(msg, m.keyMap.ScrollDown),
		key.Matches(msg, m.keyMap.PageUp),
		key.Matches(msg, m.keyMap.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit starts a fan-out session for the typed prompt.
func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.state == StateStreaming {
		return m, nil
	}
	prompt := strings.TrimSpace(m.input.Value())
	if prompt == "" {
		return m, nil
	}
	if len(m.selection) == 0 {
		return m, m.setStatus("no models configured")
	}
	m.input.Reset()
	m.lastError = nil
	return m, startSessionCmd(m.deps.Manager, m.deps.Store.ConversationID(), prompt, m.selection, stream.Options{})
}

// navigateFocused cycles the focused pane's displayed generation.
func (m *Model) navigateFocused(dir nav.Direction) {
	gens := m.focusedGenerations()
	if gens == nil || len(gens.Messages) < 2 {
		return
	}
	m.deps.Navigator.Navigate(gens, dir)
	m.rebuildTranscript()
}

// retryFocused re-streams the focused pane's slot against the latest
// question. The question and its siblings stay in place; the new answer
// becomes another generation of the same group.
func (m Model) retryFocused() (tea.Model, tea.Cmd) {
	if m.state == StateStreaming {
		return m, nil
	}
	group := m.latestGroup()
	if group == nil || group.Question == nil {
		return m, nil
	}
	if m.focusedPane >= len(m.selection) {
		return m, nil
	}
	slot := m.selection[m.focusedPane]

	opts := stream.Options{
		SkipUserMessage: true,
		ParentMessageID: group.Question.ID,
		IsRetry:         true,
	}
	// A displayed generation that never made it to the server (failed or
	// unsaved) is re-streamed into the same bubble instead of stacking a
	// junk generation next to it.
	if gens := group.FindSlot(slot); gens != nil {
		if current := m.deps.Navigator.Current(gens); current != nil && current.IsLocal() {
			opts.PlaceholderID = current.ID
		}
	}
	return m, startSessionCmd(m.deps.Manager, m.deps.Store.ConversationID(), group.Question.Content, []model.Slot{slot}, opts)
}

// =============================================================================
// TRANSCRIPT HELPERS
// =============================================================================

// latestGroup returns the most recent question turn, or nil for an empty
// conversation.
func (m *Model) latestGroup() *model.QuestionGroup {
	groups := model.GroupByQuestionAndModel(m.deps.Store.Messages())
	if len(groups) == 0 {
		return nil
	}
	return groups[len(groups)-1]
}

// focusedGenerations resolves the generation group of the focused pane for
// the latest question.
func (m *Model) focusedGenerations() *model.Generations {
	if m.focusedPane >= len(m.selection) {
		return nil
	}
	group := m.latestGroup()
	if group == nil {
		return nil
	}
	return group.FindSlot(m.selection[m.focusedPane])
}

// streamSignature samples the total size of all live streaming buffers
// plus the store length. A changed signature means the transcript needs a
// rebuild.
func (m *Model) streamSignature() int64 {
	sig := int64(m.deps.Store.Len())
	if m.session == nil {
		return sig
	}
	for _, st := range m.session.States() {
		sig += int64(len(st.Content()) + len(st.Thinking()))
	}
	return sig
}

// rebuildTranscript re-renders the viewport content from the store.
func (m *Model) rebuildTranscript() {
	if m.width == 0 {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
}
