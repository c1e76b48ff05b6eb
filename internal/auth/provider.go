// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrAuth indicates sign-in failed, e.g. bad credentials. Distinct
	// from api.ErrUnauthenticated, which is a rejected request token.
	ErrAuth = errors.New("authentication failed")

	// ErrNoSession indicates the identity provider has no current session.
	ErrNoSession = errors.New("no current session")
)

// =============================================================================
// IDENTITY PROVIDER BOUNDARY
// =============================================================================

// Provider is the identity provider as seen by the lifecycle manager. The
// provider owns verification mechanics (passwords, OAuth, token refresh);
// this client only consumes the resulting credentials.
type Provider interface {
	// CurrentSession returns the existing session credential, or
	// ErrNoSession when none exists.
	CurrentSession(ctx context.Context) (*Credential, error)

	// OnSessionChange registers a listener for externally triggered
	// session events: token refresh, expiry, sign-out from another
	// client. A nil credential means the session ended. The returned
	// function unregisters the listener.
	OnSessionChange(fn func(*Credential)) func()

	// SignInWithPassword authenticates directly and returns the new
	// credential. Invalid credentials yield an error wrapping ErrAuth.
	SignInWithPassword(ctx context.Context, email, password string) (*Credential, error)

	// SignInWithOAuth starts an external-provider redirect flow. The
	// resulting session arrives via OnSessionChange, not the return
	// value.
	SignInWithOAuth(ctx context.Context, provider, redirectURL string) error

	// SignOut invalidates the session remotely. Listeners are notified
	// when the provider confirms the session ended.
	SignOut(ctx context.Context) error
}
