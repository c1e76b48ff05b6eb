// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sessions is the read model over the conversation list.
//
// The cache mirrors the server's list verbatim (most recently updated
// first) and is invalidated wholesale after any mutation, never patched
// incrementally — with one deliberate exception: a freshly generated title
// is patched in optimistically so the sidebar updates without waiting for
// the next refetch.
package sessions

import (
	"context"
	"log"
	"sync"

	"github.com/jeranaias/chatterm/internal/model"
)

// Lister is the slice of the request layer the cache reads through.
type Lister interface {
	ListSessions(ctx context.Context) ([]model.ConversationSummary, error)
	CreateSession(ctx context.Context, name string) (*model.ConversationSummary, error)
}

// Cache holds the last known conversation list. A sqlite snapshot,
// when configured, seeds the list across restarts so the UI has something
// to show before the first network round-trip.
type Cache struct {
	mu     sync.Mutex
	client Lister
	snap   *SnapshotStore

	sessions []model.ConversationSummary
	loaded   bool
	stale    bool
}

// NewCache creates a cache over the given request layer. snap may be nil.
func NewCache(client Lister, snap *SnapshotStore) *Cache {
	c := &Cache{client: client, snap: snap, stale: true}
	if snap != nil {
		if list, err := snap.Load(); err == nil && len(list) > 0 {
			c.sessions = list
			c.loaded = true
		}
	}
	return c
}

// List returns the last known conversation list. It does not touch the
// network; check Stale to decide whether a Refresh is due.
func (c *Cache) List() []model.ConversationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ConversationSummary, len(c.sessions))
	copy(out, c.sessions)
	return out
}

// Stale reports whether the mirror needs a refetch.
func (c *Cache) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale || !c.loaded
}

// Refresh replaces the mirror with the server's list, verbatim, and
// persists the snapshot.
func (c *Cache) Refresh(ctx context.Context) error {
	list, err := c.client.ListSessions(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sessions = list
	c.loaded = true
	c.stale = false
	c.mu.Unlock()

	if c.snap != nil {
		if err := c.snap.Replace(list); err != nil {
			log.Printf("sessions: snapshot write failed: %v", err)
		}
	}
	return nil
}

// Invalidate marks the mirror stale. Called after every mutation.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// PatchName optimistically renames one conversation in the mirror (and
// snapshot); replaying the same patch is a no-op, so callers need not
// guard against double application.
func (c *Cache) PatchName(sessionID, name string) {
	c.mu.Lock()
	for i := range c.sessions {
		if c.sessions[i].ID == sessionID {
			c.sessions[i].Name = name
			break
		}
	}
	c.mu.Unlock()

	if c.snap != nil {
		if err := c.snap.PatchName(sessionID, name); err != nil {
			log.Printf("sessions: snapshot patch failed: %v", err)
		}
	}
}

// Create creates a conversation through the request layer and invalidates
// the mirror.
func (c *Cache) Create(ctx context.Context, name string) (*model.ConversationSummary, error) {
	summary, err := c.client.CreateSession(ctx, name)
	if err != nil {
		return nil, err
	}
	c.Invalidate()
	return summary, nil
}
