// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"time"
)

// =============================================================================
// CONVERSATION SUMMARY
// =============================================================================

// ConversationSummary is one entry in the server's conversation list. The
// wire field is "session_id"; everything else mirrors the backend verbatim.
// List ordering is server-defined (most recently updated first).
type ConversationSummary struct {
	ID           string    `json:"session_id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// =============================================================================
// DERIVED VIEW
// =============================================================================

// View merges authoritative server history with the locally buffered pending
// messages, ordered by timestamp. At equal timestamps server history sorts
// first, so a just-confirmed message never jumps below its own echo. The
// result is recomputed on every call and never stored.
func View(history []ChatMessage, pending []ChatMessage) []ChatMessage {
	merged := make([]ChatMessage, 0, len(history)+len(pending))
	merged = append(merged, history...)
	merged = append(merged, pending...)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// CountByRole returns the number of messages authored by the given role.
func CountByRole(msgs []ChatMessage, role Role) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}
