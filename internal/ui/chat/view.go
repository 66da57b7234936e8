// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/stream"
)

// =============================================================================
// MAIN RENDER
// =============================================================================

// View renders the complete chat surface.
// Layout: header (1 line) + transcript (viewport) + input + status (1 line).
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelpOverlay()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderInput(),
		m.renderStatusBar(),
	)
}

// renderHeader shows the app name and the conversation being viewed.
func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("relay")
	conv := m.theme.StatusValue.Render(shortID(m.deps.Store.ConversationID()))
	line := title + "  " + conv
	return m.theme.Header.Width(m.width).Render(line)
}

// renderInput shows the prompt line.
func (m Model) renderInput() string {
	prompt := m.theme.InputPrompt.Render("> ")
	return m.theme.InputContainer.Width(m.width).Render(prompt + m.input.View())
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// renderTranscript builds the full viewport content. Earlier turns render
// linearly; the latest turn lays its answers out side by side, one pane per
// selected slot.
func (m Model) renderTranscript() string {
	groups := model.GroupByQuestionAndModel(m.deps.Store.Messages())
	if len(groups) == 0 {
		return m.theme.HelpText.Render("\n  No messages yet. Type a prompt and press Enter.\n")
	}

	var b strings.Builder
	for i, group := range groups {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderQuestion(group.Question))
		b.WriteString("\n")

		if i == len(groups)-1 && len(m.selection) > 1 {
			b.WriteString(m.renderPaneRow(group))
		} else {
			b.WriteString(m.renderLinearAnswers(group, i == len(groups)-1))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderQuestion renders a user message bubble.
func (m Model) renderQuestion(q *model.Message) string {
	if q == nil {
		return ""
	}
	label := m.theme.UserLabel.Render("You")
	ts := m.theme.Timestamp.Render(q.CreatedAt.Format("15:04"))
	bubble := m.theme.UserBubble.MaxWidth(m.width - 4).Render(q.Content)
	return fmt.Sprintf("%s %s\n%s", label, ts, bubble)
}

// renderLinearAnswers renders a turn's answers stacked vertically. Used for
// history turns and for single-model conversations.
func (m Model) renderLinearAnswers(group *model.QuestionGroup, latest bool) string {
	var parts []string
	for i, gens := range group.Slots {
		focused := latest && i == m.focusedPane
		parts = append(parts, m.renderAnswer(gens, m.width-4, focused))
	}
	return strings.Join(parts, "\n")
}

// renderPaneRow renders the latest turn's answers side by side.
func (m Model) renderPaneRow(group *model.QuestionGroup) string {
	n := len(m.selection)
	// Room for each pane's border and a gap between panes.
	paneWidth := (m.width - n) / n
	if paneWidth < 20 {
		// Too narrow for side-by-side; fall back to stacked panes.
		return m.renderLinearAnswers(group, true)
	}

	panes := make([]string, 0, n)
	for i, slot := range m.selection {
		gens := group.FindSlot(slot)
		panes = append(panes, m.renderAnswer(gens, paneWidth, i == m.focusedPane))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, panes...)
}

// renderAnswer renders one generation group inside a bordered pane. The
// border color tracks the pane's state: streaming, failed, or settled.
func (m Model) renderAnswer(gens *model.Generations, width int, focused bool) string {
	if gens == nil || len(gens.Messages) == 0 {
		return m.theme.Pane.Width(width).Render(m.theme.HelpText.Render("waiting..."))
	}
	current := m.deps.Navigator.Current(gens)

	title := truncate(gens.Key.Slot.Label(), width-10)
	header := m.theme.PaneTitle.Render(title)
	if focused {
		header = m.theme.PaneTitle.Render("▸ " + title)
	}
	if pos, total := m.deps.Navigator.Position(gens); total > 1 {
		header += " " + m.theme.PanePosition.Render(fmt.Sprintf("%d/%d", pos, total))
	}

	content, thinking := current.Content, current.Thinking
	streaming := current.IsStreaming
	if streaming {
		if c, th, ok := m.liveBuffer(gens.Key.Slot); ok {
			content, thinking = c, th
		}
		header += " " + m.spin.View()
	}

	var body strings.Builder
	body.WriteString(header)
	body.WriteString("\n")
	if thinking != "" && m.deps.Config.UI.ShowThinking {
		body.WriteString(m.theme.ThinkingText.MaxWidth(width - 4).Render(thinking))
		body.WriteString("\n\n")
	}
	if content == "" && streaming {
		body.WriteString(m.theme.HelpText.Render("thinking..."))
	} else {
		body.WriteString(content)
	}
	if m.deps.Config.UI.ShowTokens && current.OutputTokens > 0 {
		body.WriteString("\n")
		body.WriteString(m.theme.Timestamp.Render(fmt.Sprintf("%d in / %d out", current.InputTokens, current.OutputTokens)))
	}

	return m.paneStyle(gens.Key.Slot, streaming).Width(width).Render(body.String())
}

// paneStyle picks the pane border for the slot's current state.
func (m Model) paneStyle(slot model.Slot, streaming bool) lipgloss.Style {
	if streaming {
		return m.theme.PaneStreaming
	}
	var subErr *stream.SubError
	if errors.As(m.lastError, &subErr) && subErr.Slot.Equal(slot) {
		return m.theme.PaneError
	}
	return m.theme.Pane
}

// liveBuffer reads the in-flight streaming buffers for a slot.
func (m Model) liveBuffer(slot model.Slot) (content, thinking string, ok bool) {
	if m.session == nil {
		return "", "", false
	}
	st, found := m.session.States()[slot.InstanceIndex]
	if !found {
		return "", "", false
	}
	return st.Content(), st.Thinking(), true
}

// =============================================================================
// STATUS BAR
// =============================================================================

// renderStatusBar shows session state, cumulative token usage, the gateway
// key fingerprint, and any transient status message.
func (m Model) renderStatusBar() string {
	var parts []string

	switch m.state {
	case StateStreaming:
		parts = append(parts, m.spin.View()+" streaming "+fmt.Sprintf("%d model(s)", len(m.selection)))
	case StateError:
		errText := "error"
		if m.lastError != nil {
			errText = truncate("error: "+m.lastError.Error(), m.width/3)
		}
		parts = append(parts, m.theme.StatusValue.Render(errText))
	default:
		parts = append(parts, "ready")
	}

	in, out := m.deps.Store.UsageTotals()
	if in+out > 0 {
		parts = append(parts, m.theme.StatusKey.Render("tokens ")+m.theme.StatusValue.Render(fmt.Sprintf("%d/%d", in, out)))
	}
	if m.deps.Fingerprint != "" {
		parts = append(parts, m.theme.StatusKey.Render("key ")+m.theme.StatusValue.Render(m.deps.Fingerprint))
	}
	if m.statusMsg != "" {
		parts = append(parts, m.theme.StatusValue.Render(m.statusMsg))
	}
	parts = append(parts, m.theme.StatusKey.Render("C-h help"))

	return m.theme.StatusBar.Width(m.width).Render(strings.Join(parts, "  │  "))
}

// =============================================================================
// HELP OVERLAY
// =============================================================================

func (m Model) renderHelpOverlay() string {
	var b strings.Builder
	b.WriteString(m.theme.HeaderTitle.Render("Keyboard shortcuts"))
	b.WriteString("\n\n")
	for _, group := range m.keyMap.FullHelp() {
		for _, binding := range group {
			h := binding.Help()
			b.WriteString(fmt.Sprintf("  %-14s %s\n",
				m.theme.StatusValue.Render(h.Key),
				m.theme.HelpText.Render(h.Desc)))
		}
		b.WriteString("\n")
	}
	b.WriteString(m.theme.HelpText.Render("  C-h to close"))
	return b.String()
}
