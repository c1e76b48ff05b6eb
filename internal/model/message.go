// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies the author of a chat message.
type Role string

const (
	// RoleHuman is a message typed by the user.
	RoleHuman Role = "human"

	// RoleAssistant is a message produced by the remote assistant.
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// =============================================================================
// CHAT MESSAGE
// =============================================================================

// PendingIDPrefix marks locally generated message IDs. The server never
// issues IDs with this prefix, so a pending message can never collide with
// an authoritative one.
const PendingIDPrefix = "pending_"

// ChatMessage is a single message in a conversation. Messages observed from
// the server are immutable; the client only ever creates RoleHuman messages
// and only with a pending ID.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPendingMessage creates a locally buffered human message awaiting server
// confirmation. The ID is generated client-side and discarded on the next
// successful history reconciliation.
func NewPendingMessage(content string) ChatMessage {
	return ChatMessage{
		ID:        PendingIDPrefix + uuid.NewString(),
		Role:      RoleHuman,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// IsPending reports whether the message carries a locally generated ID.
func (m ChatMessage) IsPending() bool {
	return len(m.ID) > len(PendingIDPrefix) && m.ID[:len(PendingIDPrefix)] == PendingIDPrefix
}
