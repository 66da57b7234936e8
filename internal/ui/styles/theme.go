// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components for the chat surface. It detects the
// terminal's color capability and adjusts accordingly.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	// Header
	Header      lipgloss.Style
	HeaderTitle lipgloss.Style

	// Transcript
	UserBubble   lipgloss.Style
	UserLabel    lipgloss.Style
	ThinkingText lipgloss.Style
	Timestamp    lipgloss.Style

	// Model panes
	Pane          lipgloss.Style
	PaneStreaming lipgloss.Style
	PaneError     lipgloss.Style
	PaneTitle     lipgloss.Style
	PanePosition  lipgloss.Style

	// Input
	InputContainer lipgloss.Style
	InputPrompt    lipgloss.Style

	// Status bar
	StatusBar   lipgloss.Style
	StatusKey   lipgloss.Style
	StatusValue lipgloss.Style
	Spinner     lipgloss.Style

	// Errors
	ErrorBox lipgloss.Style

	// Help
	HelpText lipgloss.Style
}

// New creates a theme. The dark flag forces the palette; terminal capability
// detection stays automatic through termenv.
func New(dark bool) *Theme {
	profile := termenv.ColorProfile()
	lipgloss.SetHasDarkBackground(dark)

	paneBase := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1)

	return &Theme{
		IsDark:       dark,
		ColorProfile: profile,

		Header: lipgloss.NewStyle().
			Background(SurfaceDim).
			Padding(0, 1),
		HeaderTitle: lipgloss.NewStyle().
			Foreground(Cyan).
			Bold(true),

		UserBubble: lipgloss.NewStyle().
			Background(UserBubbleBg).
			Foreground(UserBubbleFg).
			Padding(0, 1),
		UserLabel: lipgloss.NewStyle().
			Foreground(Cyan).
			Bold(true),
		ThinkingText: lipgloss.NewStyle().
			Foreground(TextMuted).
			Italic(true),
		Timestamp: lipgloss.NewStyle().
			Foreground(TextMuted),

		Pane:          paneBase.BorderForeground(PaneBorder),
		PaneStreaming: paneBase.BorderForeground(PaneBorderStreaming),
		PaneError:     paneBase.BorderForeground(PaneBorderError),
		PaneTitle: lipgloss.NewStyle().
			Foreground(Purple).
			Bold(true),
		PanePosition: lipgloss.NewStyle().
			Foreground(TextSecondary),

		InputContainer: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(Overlay),
		InputPrompt: lipgloss.NewStyle().
			Foreground(Cyan).
			Bold(true),

		StatusBar: lipgloss.NewStyle().
			Background(SurfaceDim).
			Foreground(TextSecondary).
			Padding(0, 1),
		StatusKey: lipgloss.NewStyle().
			Foreground(TextMuted),
		StatusValue: lipgloss.NewStyle().
			Foreground(TextPrimary),
		Spinner: lipgloss.NewStyle().
			Foreground(Amber),

		ErrorBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Rose).
			Foreground(Rose).
			Padding(0, 1),

		HelpText: lipgloss.NewStyle().
			Foreground(TextMuted),
	}
}
