// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sessions

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/chatterm/internal/model"
)

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

// snapshotSchema holds the last conversation list seen from the server.
// position preserves the server's ordering across restarts.
const snapshotSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	position      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_position ON sessions(position);
`

// SnapshotStore persists the conversation list mirror in sqlite so a
// restart can show the sidebar before the first fetch completes.
type SnapshotStore struct {
	db *sql.DB
}

// OpenSnapshotStore opens (creating if needed) the snapshot database.
func OpenSnapshotStore(path string) (*SnapshotStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if _, err := db.Exec(snapshotSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init snapshot schema: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

// Close closes the database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Load returns the persisted list in server order.
func (s *SnapshotStore) Load() ([]model.ConversationSummary, error) {
	rows, err := s.db.Query(`
		SELECT id, name, created_at, updated_at, message_count
		FROM sessions ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ConversationSummary
	for rows.Next() {
		var cs model.ConversationSummary
		var created, updated time.Time
		if err := rows.Scan(&cs.ID, &cs.Name, &created, &updated, &cs.MessageCount); err != nil {
			return nil, err
		}
		cs.CreatedAt = created
		cs.UpdatedAt = updated
		out = append(out, cs)
	}
	return out, rows.Err()
}

// Replace overwrites the snapshot with a fresh server list, wholesale.
func (s *SnapshotStore) Replace(list []model.ConversationSummary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO sessions (id, name, created_at, updated_at, message_count, position)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, cs := range list {
		if _, err := stmt.Exec(cs.ID, cs.Name, cs.CreatedAt, cs.UpdatedAt, cs.MessageCount, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PatchName renames one persisted conversation.
func (s *SnapshotStore) PatchName(sessionID, name string) error {
	_, err := s.db.Exec(`UPDATE sessions SET name = ? WHERE id = ?`, name, sessionID)
	return err
}
