// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/relay-tui/internal/config"
	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/nav"
	"github.com/jeranaias/relay-tui/internal/reconcile"
	"github.com/jeranaias/relay-tui/internal/stream"
	"github.com/jeranaias/relay-tui/internal/ui/styles"
)

// =============================================================================
// CHAT STATE
// =============================================================================

// State represents the current state of the chat view.
type State int

const (
	StateReady     State = iota // Ready for input
	StateStreaming              // One or more sub-sessions in flight
	StateError                  // Showing a session error
)

// =============================================================================
// CHAT MODEL
// =============================================================================

// Deps wires the chat view's collaborators. All fields are required except
// Fingerprint, which only feeds the status bar.
type Deps struct {
	Config    *config.Config
	Store     *model.Store
	Manager   *stream.Manager
	Navigator *nav.Navigator
	Engine    *reconcile.Engine

	// Fingerprint is the gateway key fingerprint shown in the status bar.
	Fingerprint string
}

// Model is the Bubble Tea model for the chat view.
type Model struct {
	deps Deps

	// State
	state     State
	lastError error

	// Styling
	theme *styles.Theme

	// Dimensions
	width  int
	height int

	// Selection shown side by side for the latest turn. Kept in sync with
	// the reconciliation engine's derived or explicit selection.
	selection []model.Slot

	// focusedPane indexes into selection for generation navigation and
	// per-pane retry.
	focusedPane int

	// In-flight session, nil when idle.
	session *stream.Session

	// Streaming render throttle.
	gate *FrameGate

	// UI components
	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model

	keyMap   KeyMap
	showHelp bool

	// Transient status line message.
	statusMsg string
	statusID  int

	quitting bool
}

// New creates the chat model. Prime and an initial sync happen in Init.
func New(deps Deps) Model {
	theme := styles.New(deps.Config.UI.Theme != "light")

	input := textinput.New()
	input.Placeholder = "Ask something..."
	input.CharLimit = 0
	input.Prompt = ""
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Spinner

	m := Model{
		deps:      deps,
		theme:     theme,
		selection: deps.Config.Slots(),
		gate:      NewFrameGate(30),
		viewport:  viewport.New(0, 0),
		input:     input,
		spin:      sp,
		keyMap:    DefaultKeyMap(),
	}

	// Transcript changes from store mutations mark the gate dirty so the
	// frame tick picks them up without rebuilding mid-delta.
	deps.Store.Subscribe(m.gate.MarkDirty)

	return m
}

// Init primes the local cache snapshot and kicks off the first sync.
func (m Model) Init() tea.Cmd {
	m.deps.Engine.Prime(m.deps.Store.ConversationID())
	return tea.Batch(
		textinput.Blink,
		m.spin.Tick,
		syncCmd(m.deps.Engine, m.deps.Store.ConversationID(), false),
	)
}

// Selection returns the slots currently rendered side by side.
func (m Model) Selection() []model.Slot {
	return m.selection
}

// setStatus records a transient status line message and returns the command
// that expires it.
func (m *Model) setStatus(msg string) tea.Cmd {
	m.statusID++
	m.statusMsg = msg
	return statusExpireCmd(m.statusID)
}
