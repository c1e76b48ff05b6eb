// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatterm/internal/auth"
	"github.com/jeranaias/chatterm/internal/chat"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update handles all incoming messages for the chat view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EngineUpdatedMsg:
		m.snap = m.engine.Snapshot()
		if m.snap.Err != nil {
			m.lastError = m.snap.Err
		}
		m.syncViewport()
		return m, nil

	case AuthStateMsg:
		m.authState = msg.State
		if msg.State.Phase == auth.PhaseAuthenticated {
			// A fresh credential makes the cached list worth refetching.
			return m, RefreshSessionsCmd(m.cache)
		}
		return m, nil

	case SessionsRefreshedMsg:
		if msg.Err != nil {
			m.lastError = msg.Err
			return m, nil
		}
		m.sessionList = msg.Sessions
		if m.selected >= len(m.sessionList) {
			m.selected = len(m.sessionList) - 1
		}
		if m.selected < 0 {
			m.selected = 0
		}
		return m, nil

	case SessionCreatedMsg:
		if msg.Err != nil {
			m.lastError = msg.Err
			return m, nil
		}
		m.sessionList = m.cache.List()
		for i, s := range m.sessionList {
			if s.ID == msg.Summary.ID {
				m.selected = i
				break
			}
		}
		return m, tea.Batch(
			SelectConversationCmd(m.engine, msg.Summary.ID),
			RefreshSessionsCmd(m.cache),
		)

	case SendResultMsg:
		if msg.Err != nil {
			m.lastError = msg.Err
			return m, nil
		}
		m.sessionList = m.cache.List()
		return m, RefreshSessionsCmd(m.cache)

	case TitleResultMsg:
		if msg.Err != nil {
			m.lastError = msg.Err
			return m, nil
		}
		m.statusMsg = "title updated"
		m.sessionList = m.cache.List()
		return m, RefreshSessionsCmd(m.cache)

	case SignOutMsg:
		if msg.Err != nil {
			m.lastError = msg.Err
		} else {
			m.statusMsg = "signed out"
		}
		return m, nil

	case HealthMsg:
		m.healthy = msg.Err == nil
		if msg.Err != nil {
			m.statusMsg = "backend unreachable"
		}
		return m, nil
	}

	cmd := m.updateComponents(msg)
	return m, cmd
}

// handleKey routes keyboard input based on the current focus.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keyMap.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keyMap.Help):
		if m.focus == FocusSidebar || m.input.Value() == "" {
			m.showHelp = !m.showHelp
			return m, nil
		}

	case key.Matches(msg, m.keyMap.Cancel):
		m.lastError = nil
		m.statusMsg = ""
		m.showHelp = false
		return m, nil

	case key.Matches(msg, m.keyMap.FocusNext):
		if m.focus == FocusInput {
			m.focus = FocusSidebar
			m.input.Blur()
		} else {
			m.focus = FocusInput
			m.input.Focus()
		}
		return m, nil

	case key.Matches(msg, m.keyMap.NewSession):
		name := fmt.Sprintf("Chat %d", len(m.sessionList)+1)
		return m, CreateSessionCmd(m.cache, name)

	case key.Matches(msg, m.keyMap.Refresh):
		return m, RefreshSessionsCmd(m.cache)

	case key.Matches(msg, m.keyMap.Title):
		return m, GenerateTitleCmd(m.engine)

	case key.Matches(msg, m.keyMap.SignOut):
		return m, SignOutCmd(m.manager)

	case key.Matches(msg, m.keyMap.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keyMap.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	if m.focus == FocusSidebar {
		return m.handleSidebarKey(msg)
	}
	return m.handleInputKey(msg)
}

// handleSidebarKey navigates and activates the conversation list.
func (m Model) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keyMap.Up):
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case key.Matches(msg, m.keyMap.Down):
		if m.selected < len(m.sessionList)-1 {
			m.selected++
		}
		return m, nil

	case key.Matches(msg, m.keyMap.Submit):
		sel := m.selectedSession()
		if sel == nil {
			return m, nil
		}
		m.focus = FocusInput
		m.input.Focus()
		return m, SelectConversationCmd(m.engine, sel.ID)
	}
	return m, nil
}

// handleInputKey feeds keys to the text input, submitting on enter.
func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keyMap.Submit) {
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		if m.busy() {
			m.statusMsg = "still sending..."
			return m, nil
		}
		m.input.Reset()
		m.lastError = nil
		return m, SendMessageCmd(m.engine, text)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// updateComponents forwards unrecognized messages to the child components.
func (m *Model) updateComponents(msg tea.Msg) tea.Cmd {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	if m.focus == FocusInput {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

// resize recomputes pane dimensions after a terminal resize.
func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.theme.Resize(width, height)

	// Header, status bar, and input each take a row plus borders.
	chatWidth := width - sidebarWidth(width)
	chatHeight := height - 5
	if chatHeight < 1 {
		chatHeight = 1
	}
	m.viewport.Width = chatWidth
	m.viewport.Height = chatHeight
	m.input.Width = chatWidth - 4
	m.syncViewport()
}

// syncViewport re-renders the transcript and follows the tail.
func (m *Model) syncViewport() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderMessages())
	if atBottom || m.snap.Phase == chat.PhaseSending {
		m.viewport.GotoBottom()
	}
}

// friendlyError condenses engine and transport errors for the status line.
func friendlyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, chat.ErrValidation):
		return "message is empty"
	case errors.Is(err, chat.ErrBusy):
		return "a send is already in progress"
	case errors.Is(err, chat.ErrNoConversation):
		return "select a conversation first"
	}
	return err.Error()
}
