// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatterm/internal/api"
	"github.com/jeranaias/chatterm/internal/auth"
	"github.com/jeranaias/chatterm/internal/chat"
	"github.com/jeranaias/chatterm/internal/sessions"
)

// =============================================================================
// COMMAND CREATORS
// =============================================================================

// commandTimeout bounds fire-and-forget operations started from the UI.
const commandTimeout = 60 * time.Second

// RefreshSessionsCmd creates a command that refreshes the session list
// from the backend.
func RefreshSessionsCmd(cache *sessions.Cache) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if err := cache.Refresh(ctx); err != nil {
			return SessionsRefreshedMsg{Err: err}
		}
		return SessionsRefreshedMsg{Sessions: cache.List()}
	}
}

// CreateSessionCmd creates a command that creates a new conversation.
func CreateSessionCmd(cache *sessions.Cache, name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		summary, err := cache.Create(ctx, name)
		return SessionCreatedMsg{Summary: summary, Err: err}
	}
}

// SelectConversationCmd creates a command that switches the engine to a
// conversation. The engine publishes snapshots as the history loads, so
// the command itself has no result message.
func SelectConversationCmd(engine *chat.Engine, id string) tea.Cmd {
	return func() tea.Msg {
		engine.SelectConversation(context.Background(), id)
		return nil
	}
}

// SendMessageCmd creates a command that sends a chat message through the
// engine. Progress is observed via engine snapshots; the result message
// only reports synchronous rejections.
func SendMessageCmd(engine *chat.Engine, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		return SendResultMsg{Err: engine.SendMessage(ctx, text)}
	}
}

// GenerateTitleCmd creates a command that requests a title for the active
// conversation.
func GenerateTitleCmd(engine *chat.Engine) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		return TitleResultMsg{Err: engine.GenerateTitle(ctx)}
	}
}

// SignOutCmd creates a command that signs the current user out.
func SignOutCmd(manager *auth.Manager) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		return SignOutMsg{Err: manager.SignOut(ctx)}
	}
}

// CheckHealthCmd creates a command that probes the backend health
// endpoint.
func CheckHealthCmd(client *api.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status, err := client.Health(ctx)
		return HealthMsg{Status: status, Err: err}
	}
}
