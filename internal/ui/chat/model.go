// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
package chat

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatterm/internal/api"
	"github.com/jeranaias/chatterm/internal/auth"
	"github.com/jeranaias/chatterm/internal/chat"
	"github.com/jeranaias/chatterm/internal/model"
	"github.com/jeranaias/chatterm/internal/sessions"
	"github.com/jeranaias/chatterm/internal/ui/styles"
)

// =============================================================================
// FOCUS
// =============================================================================

// Focus identifies which pane receives keyboard input.
type Focus int

const (
	FocusInput   Focus = iota // Text input at the bottom
	FocusSidebar              // Conversation list
)

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	// Styling
	theme *styles.Theme

	// Dimensions
	width  int
	height int

	// Engine and services
	engine  *chat.Engine
	cache   *sessions.Cache
	manager *auth.Manager
	client  *api.Client

	// Latest engine snapshot
	snap chat.Snapshot

	// Credential state
	authState auth.State

	// Session list
	sessionList []model.ConversationSummary
	selected    int

	// UI Components
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	// Key bindings
	keyMap KeyMap

	// Focus
	focus Focus

	// Transient feedback
	lastError error
	statusMsg string
	healthy   bool
	showHelp  bool
}

// New creates the chat view model. The engine, cache, and manager must be
// initialized by the caller before the program starts.
func New(engine *chat.Engine, cache *sessions.Cache, manager *auth.Manager, client *api.Client) Model {
	theme := styles.NewTheme()

	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 4000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Spinner

	return Model{
		theme:       theme,
		engine:      engine,
		cache:       cache,
		manager:     manager,
		client:      client,
		snap:        engine.Snapshot(),
		authState:   manager.Store().State(),
		sessionList: cache.List(),
		viewport:    viewport.New(0, 0),
		input:       input,
		spinner:     sp,
		keyMap:      DefaultKeyMap(),
		focus:       FocusInput,
	}
}

// Init starts the spinner and kicks off the initial backend probes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		CheckHealthCmd(m.client),
		RefreshSessionsCmd(m.cache),
		func() tea.Msg { return AuthStateMsg{State: m.manager.Store().State()} },
		func() tea.Msg { return EngineUpdatedMsg{} },
	)
}

// selectedSession returns the summary under the cursor, or nil.
func (m *Model) selectedSession() *model.ConversationSummary {
	if m.selected < 0 || m.selected >= len(m.sessionList) {
		return nil
	}
	return &m.sessionList[m.selected]
}

// busy reports whether the engine is mid-load or mid-send.
func (m *Model) busy() bool {
	return m.snap.Phase == chat.PhaseLoading || m.snap.Phase == chat.PhaseSending
}
