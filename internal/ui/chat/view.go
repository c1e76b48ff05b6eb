// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/chatterm/internal/auth"
	"github.com/jeranaias/chatterm/internal/chat"
	"github.com/jeranaias/chatterm/internal/model"
)

// =============================================================================
// LAYOUT
// =============================================================================

// sidebarWidth returns the conversation list width for a given terminal
// width. Narrow terminals collapse the sidebar entirely.
func sidebarWidth(total int) int {
	switch {
	case total < 60:
		return 0
	case total < 100:
		return 22
	}
	return 30
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the full chat screen.
func (m Model) View() string {
	if m.width == 0 {
		return "loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}

	header := m.renderHeader()
	body := m.renderBody()
	input := m.renderInput()
	status := m.renderStatus()

	return lipgloss.JoinVertical(lipgloss.Left, header, body, input, status)
}

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("chatterm")
	conv := ""
	if sel := m.selectedSession(); sel != nil && sel.ID == m.snap.ConversationID {
		conv = "  " + sel.Name
	}
	return m.theme.Header.Width(m.width).Render(title + conv)
}

func (m Model) renderBody() string {
	sw := sidebarWidth(m.width)
	if sw == 0 {
		return m.viewport.View()
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(sw), m.viewport.View())
}

// renderSidebar draws the conversation list with the cursor row highlighted.
func (m Model) renderSidebar(width int) string {
	var b strings.Builder
	b.WriteString(m.theme.SidebarTitle.Render("Conversations"))
	b.WriteString("\n")

	if m.cache.Stale() {
		b.WriteString(m.theme.SessionStale.Render("(refreshing)"))
		b.WriteString("\n")
	}

	inner := width - 4
	for i, s := range m.sessionList {
		name := s.Name
		if name == "" {
			name = s.ID
		}
		name = runewidth.Truncate(name, inner, "…")

		style := m.theme.SessionItem
		prefix := "  "
		if i == m.selected {
			style = m.theme.SessionSelected
			prefix = "> "
		}
		b.WriteString(style.Render(prefix + name))
		b.WriteString("\n")
	}
	if len(m.sessionList) == 0 {
		b.WriteString(m.theme.SessionStale.Render("no conversations"))
	}

	height := m.viewport.Height
	return m.theme.Sidebar.Width(width - 2).Height(height).Render(b.String())
}

// renderMessages builds the transcript shown in the viewport.
func (m Model) renderMessages() string {
	msgs := m.snap.Messages
	if len(msgs) == 0 {
		switch {
		case m.snap.Phase == chat.PhaseLoading:
			return m.spinner.View() + " loading history..."
		case m.snap.ConversationID == "":
			return m.theme.HelpText.Render("Select a conversation (Tab, then Enter) or start a new one (Ctrl+N).")
		case m.snap.AwaitingAuth:
			return m.theme.HelpText.Render("Sign in to load this conversation.")
		}
		return m.theme.HelpText.Render("No messages yet. Say hello.")
	}

	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(m.renderMessage(msg, width))
		b.WriteString("\n\n")
	}
	if m.snap.Phase == chat.PhaseSending {
		b.WriteString(m.spinner.View())
		b.WriteString(m.theme.SessionStale.Render(" waiting for reply..."))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderMessage(msg model.ChatMessage, width int) string {
	var prefix string
	var style lipgloss.Style
	switch {
	case msg.IsPending():
		prefix = "you"
		style = m.theme.PendingMessage
	case msg.Role == model.RoleHuman:
		prefix = "you"
		style = m.theme.UserMessage
	default:
		prefix = "assistant"
		style = m.theme.AssistantMessage
	}

	label := m.theme.MessagePrefix.Inherit(style).Render(prefix + ":")
	body := style.Width(width - 2).Render(msg.Content)
	return label + "\n" + body
}

func (m Model) renderInput() string {
	prompt := m.theme.InputPrompt.Render("> ")
	return m.theme.InputContainer.Width(m.width).Render(prompt + m.input.View())
}

// renderStatus draws the bottom status line: credential state, backend
// health, and the most recent error or notice.
func (m Model) renderStatus() string {
	var parts []string

	switch m.authState.Phase {
	case auth.PhaseAuthenticated:
		name := ""
		if m.authState.Credential != nil {
			name = m.authState.Credential.DisplayName
		}
		parts = append(parts, m.theme.StatusAuth.Render("● "+name))
	case auth.PhaseInitializing, auth.PhaseUninitialized:
		parts = append(parts, m.theme.StatusAnon.Render("● signing in..."))
	case auth.PhaseError:
		parts = append(parts, m.theme.StatusError.Render("● auth error"))
	default:
		parts = append(parts, m.theme.StatusAnon.Render("● anonymous"))
	}

	if !m.healthy {
		parts = append(parts, m.theme.StatusError.Render("offline"))
	}

	switch {
	case m.lastError != nil:
		parts = append(parts, m.theme.StatusError.Render(friendlyError(m.lastError)))
	case m.statusMsg != "":
		parts = append(parts, m.statusMsg)
	default:
		parts = append(parts, m.theme.HelpText.Render("? help"))
	}

	return m.theme.StatusBar.Width(m.width).Render(strings.Join(parts, "  "))
}

// renderHelp draws the full-screen key reference.
func (m Model) renderHelp() string {
	rows := []struct{ keys, desc string }{
		{"Enter", "send message / select conversation"},
		{"Tab", "switch between input and sidebar"},
		{"Ctrl+N", "new conversation"},
		{"Ctrl+R", "refresh conversation list"},
		{"Ctrl+T", "generate a title for this conversation"},
		{"Ctrl+O", "sign out"},
		{"PgUp/PgDn", "scroll transcript"},
		{"Esc", "dismiss error / close help"},
		{"Ctrl+C", "quit"},
	}

	var b strings.Builder
	b.WriteString(m.theme.HeaderTitle.Render("Keyboard shortcuts"))
	b.WriteString("\n\n")
	for _, r := range rows {
		b.WriteString(fmt.Sprintf("  %-12s %s\n", r.keys, r.desc))
	}
	b.WriteString("\n")
	b.WriteString(m.theme.HelpText.Render("Press ? or Esc to close."))
	return b.String()
}
