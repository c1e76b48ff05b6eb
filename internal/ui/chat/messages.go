// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// This file defines the Bubble Tea messages that flow through the chat
// view. External events (engine updates, credential changes) are pushed
// into the program via Program.Send; command results arrive as the
// remaining message types.
package chat

import (
	"github.com/jeranaias/chatterm/internal/api"
	"github.com/jeranaias/chatterm/internal/auth"
	"github.com/jeranaias/chatterm/internal/model"
)

// =============================================================================
// EXTERNAL EVENT MESSAGES
// =============================================================================

// EngineUpdatedMsg signals that the chat engine published a new snapshot.
// The model re-reads the snapshot rather than carrying state in the message.
type EngineUpdatedMsg struct{}

// AuthStateMsg carries a credential state transition.
type AuthStateMsg struct {
	State auth.State
}

// =============================================================================
// COMMAND RESULT MESSAGES
// =============================================================================

// SessionsRefreshedMsg carries the result of a session list refresh.
type SessionsRefreshedMsg struct {
	Sessions []model.ConversationSummary
	Err      error
}

// SessionCreatedMsg carries the result of creating a conversation.
type SessionCreatedMsg struct {
	Summary *model.ConversationSummary
	Err     error
}

// SendResultMsg carries the outcome of a message send.
type SendResultMsg struct {
	Err error
}

// TitleResultMsg carries the outcome of a manual title generation.
type TitleResultMsg struct {
	Err error
}

// SignOutMsg carries the outcome of a sign-out request.
type SignOutMsg struct {
	Err error
}

// HealthMsg carries the result of a backend health probe.
type HealthMsg struct {
	Status *api.HealthStatus
	Err    error
}
