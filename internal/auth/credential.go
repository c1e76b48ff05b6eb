// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth provides the credential store and session lifecycle manager.
//
// The Store is the only state shared across components: the request layer
// and the chat engine read credential snapshots from it, and the lifecycle
// Manager is its sole writer. Every state transition is published to all
// subscribers synchronously, in commit order, before the transition call
// returns.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// =============================================================================
// CREDENTIAL
// =============================================================================

// Credential is the bearer token plus identity claims proving a request is
// authorized. It is an immutable value: refresh replaces the whole thing,
// nothing mutates it in place. A non-nil Credential always carries a
// non-empty Token.
type Credential struct {
	SubjectID   string    `json:"subject_id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Token       string    `json:"token"`
	TokenExpiry time.Time `json:"token_expiry,omitempty"`
}

// Valid reports whether the credential is usable by the request layer.
func (c *Credential) Valid() bool {
	return c != nil && c.Token != ""
}

// Expired reports whether the token expiry, when known, has passed.
func (c *Credential) Expired() bool {
	if c == nil || c.TokenExpiry.IsZero() {
		return false
	}
	return time.Now().After(c.TokenExpiry)
}

// TokenFingerprint returns a short SHA-256 fingerprint of the token for
// logging. The token itself must never be logged.
func (c *Credential) TokenFingerprint() string {
	if c == nil || c.Token == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.Token))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// SESSION STATE
// =============================================================================

// Phase is the discriminant of the session state union.
type Phase int

const (
	// PhaseUninitialized is the state before Initialize has run.
	PhaseUninitialized Phase = iota

	// PhaseInitializing means startup session discovery is in flight.
	PhaseInitializing

	// PhaseAuthenticated means a usable credential is held.
	PhaseAuthenticated

	// PhaseAnonymous means no session exists (signed out or discovery
	// found nothing).
	PhaseAnonymous

	// PhaseError means session discovery or sign-in failed outright.
	PhaseError
)

// String returns the phase name for logs.
func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseAnonymous:
		return "anonymous"
	case PhaseError:
		return "error"
	default:
		return "uninitialized"
	}
}

// State is the authoritative session state. Credential is non-nil exactly
// when Phase is PhaseAuthenticated; Err is non-nil exactly when Phase is
// PhaseError. Once authenticated, a later Anonymous or Error is a
// sign-out/expiry event, not a rollback of initialization.
type State struct {
	Phase      Phase
	Credential *Credential
	Err        error
}

// =============================================================================
// CREDENTIAL STORE
// =============================================================================

// Store holds the current session state and fans out transitions to
// subscribers. Reads are cheap snapshots; writes come only from the
// lifecycle Manager.
type Store struct {
	mu    sync.RWMutex
	state State

	// publishMu serializes transitions so subscribers observe them in
	// commit order. Subscriber callbacks run while it is held and must
	// not publish new transitions themselves.
	publishMu sync.Mutex
	subMu     sync.Mutex
	subs      map[int]func(State)
	nextSub   int
}

// NewStore creates an empty store in PhaseUninitialized.
func NewStore() *Store {
	return &Store{subs: make(map[int]func(State))}
}

// State returns a snapshot of the current session state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Credential returns the current credential, or nil when not authenticated.
func (s *Store) Credential() *Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Credential
}

// Subscribe registers a callback invoked synchronously on every transition.
// The returned function cancels the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Set commits a new state and notifies all subscribers before returning.
// No subscriber observes a stale value after Set returns.
func (s *Store) Set(state State) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// CompareAndSet commits the new state only if the current phase matches
// expect. It returns true when the transition happened. Used for timeout
// paths that must not clobber a state that already moved on.
func (s *Store) CompareAndSet(expect Phase, state State) bool {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	if s.state.Phase != expect {
		s.mu.Unlock()
		return false
	}
	s.state = state
	s.mu.Unlock()

	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
	return true
}
