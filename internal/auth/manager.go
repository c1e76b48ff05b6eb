// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// =============================================================================
// MANAGER CONFIG
// =============================================================================

// ManagerConfig holds the lifecycle tunables.
type ManagerConfig struct {
	// InitTimeout bounds startup session discovery. When it elapses with
	// neither the session query nor a listener event resolved, the state
	// is forced to Anonymous so the UI is never stuck loading. A later
	// listener event corrects the spurious anonymous flash.
	InitTimeout time.Duration

	// SignOutTimeout bounds how long a sign-out waits for the provider's
	// listener event before forcing the local state to Anonymous.
	SignOutTimeout time.Duration

	// Environment is the deployment environment name. The dev auto-login
	// fallback runs only when this is not "production".
	Environment string

	// DevEmail and DevPassword are the development credentials for the
	// fallback auto-login. Both empty disables the fallback.
	DevEmail    string
	DevPassword string
}

// DefaultManagerConfig returns the default lifecycle configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		InitTimeout:    3 * time.Second,
		SignOutTimeout: 5 * time.Second,
		Environment:    "development",
	}
}

// =============================================================================
// SESSION LIFECYCLE MANAGER
// =============================================================================

// Manager owns the credential Store: it performs startup session discovery,
// listens for provider-side session events, exposes sign-in and sign-out,
// and is the store's only writer.
type Manager struct {
	store    *Store
	provider Provider
	cfg      ManagerConfig

	initOnce    sync.Once
	unsubscribe func()
}

// NewManager creates a lifecycle manager writing to store.
func NewManager(provider Provider, store *Store, cfg ManagerConfig) *Manager {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultManagerConfig().InitTimeout
	}
	if cfg.SignOutTimeout <= 0 {
		cfg.SignOutTimeout = DefaultManagerConfig().SignOutTimeout
	}
	return &Manager{store: store, provider: provider, cfg: cfg}
}

// Store returns the credential store this manager writes.
func (m *Manager) Store() *Store {
	return m.store
}

// =============================================================================
// INITIALIZATION
// =============================================================================

// Initialize starts session discovery. It registers the provider listener,
// transitions to Initializing, and returns immediately; the outcome arrives
// as a store transition. Subsequent calls are no-ops.
func (m *Manager) Initialize(ctx context.Context) {
	m.initOnce.Do(func() {
		m.unsubscribe = m.provider.OnSessionChange(m.handleSessionChange)
		m.store.Set(State{Phase: PhaseInitializing})
		go m.discover(ctx)
	})
}

// discover queries the provider for an existing session, bounded by the
// init timeout, then applies the dev fallback when configured.
func (m *Manager) discover(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.InitTimeout)
	defer cancel()

	cred, err := m.provider.CurrentSession(ctx)
	switch {
	case err == nil && cred.Valid():
		m.store.CompareAndSet(PhaseInitializing, State{Phase: PhaseAuthenticated, Credential: cred})
		return
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		// Liveness over accuracy: force Anonymous rather than hang. A
		// listener event promptly corrects a wrong guess.
		log.Printf("auth: session discovery timed out after %v", m.cfg.InitTimeout)
		m.store.CompareAndSet(PhaseInitializing, State{Phase: PhaseAnonymous})
		return
	case err != nil && !errors.Is(err, ErrNoSession):
		log.Printf("auth: session discovery failed: %v", err)
		m.store.CompareAndSet(PhaseInitializing, State{Phase: PhaseError, Err: err})
		return
	}

	// No existing session. Try the dev auto-login, never in production.
	if m.devFallbackEnabled() {
		cred, err := m.provider.SignInWithPassword(ctx, m.cfg.DevEmail, m.cfg.DevPassword)
		if err == nil && cred.Valid() {
			log.Printf("auth: dev auto-login as %s", cred.Email)
			m.store.CompareAndSet(PhaseInitializing, State{Phase: PhaseAuthenticated, Credential: cred})
			return
		}
		log.Printf("auth: dev auto-login failed: %v", err)
	}

	m.store.CompareAndSet(PhaseInitializing, State{Phase: PhaseAnonymous})
}

// devFallbackEnabled reports whether the dev auto-login may run.
func (m *Manager) devFallbackEnabled() bool {
	if m.cfg.Environment == "production" {
		return false
	}
	return m.cfg.DevEmail != "" && m.cfg.DevPassword != ""
}

// handleSessionChange applies provider-side session events: refresh brings
// a new credential, sign-out/expiry brings nil.
func (m *Manager) handleSessionChange(cred *Credential) {
	if cred.Valid() {
		m.store.Set(State{Phase: PhaseAuthenticated, Credential: cred})
		return
	}
	switch m.store.State().Phase {
	case PhaseAuthenticated, PhaseInitializing:
		m.store.Set(State{Phase: PhaseAnonymous})
	}
}

// =============================================================================
// SIGN IN / SIGN OUT
// =============================================================================

// SignIn starts an OAuth-style redirect flow with the named external
// provider. Resolution arrives via the session-change listener.
func (m *Manager) SignIn(ctx context.Context, provider string) error {
	return m.provider.SignInWithOAuth(ctx, provider, "")
}

// SignInWithPassword authenticates directly and commits the new state
// before returning. Invalid credentials yield an error wrapping ErrAuth.
func (m *Manager) SignInWithPassword(ctx context.Context, email, password string) error {
	cred, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return err
	}
	m.store.Set(State{Phase: PhaseAuthenticated, Credential: cred})
	return nil
}

// SignOut invalidates the session remotely, best effort. The local state is
// cleared by the provider's listener event, so the client never believes
// itself signed out while the server still honors the token; if no event
// arrives within the sign-out timeout the state is forced to Anonymous to
// avoid stuck-authenticated UI.
func (m *Manager) SignOut(ctx context.Context) error {
	err := m.provider.SignOut(ctx)
	if err != nil {
		log.Printf("auth: remote sign-out failed: %v", err)
	}

	time.AfterFunc(m.cfg.SignOutTimeout, func() {
		if m.store.CompareAndSet(PhaseAuthenticated, State{Phase: PhaseAnonymous}) {
			log.Printf("auth: forced local sign-out after %v without listener event", m.cfg.SignOutTimeout)
		}
	})
	return err
}

// =============================================================================
// INVALIDATION
// =============================================================================

// Invalidate re-derives session state after the request layer saw an
// Unauthenticated rejection. The credential is not assumed permanently
// dead: a provider-side refresh may resolve it.
func (m *Manager) Invalidate(ctx context.Context) {
	cred, err := m.provider.CurrentSession(ctx)
	if err == nil && cred.Valid() {
		m.store.Set(State{Phase: PhaseAuthenticated, Credential: cred})
		return
	}
	switch m.store.State().Phase {
	case PhaseAuthenticated, PhaseInitializing:
		m.store.Set(State{Phase: PhaseAnonymous})
	}
}

// Close unregisters the provider listener.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}
