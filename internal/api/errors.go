// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

var (
	// ErrUnauthenticated indicates the call had no credential or the
	// server rejected the token (401). Never retried with the same
	// token; propagated to the session lifecycle manager instead.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNetwork indicates a transport failure that survived the retry
	// budget.
	ErrNetwork = errors.New("network error")

	// ErrOffline indicates offline mode is enabled and the call was
	// rejected before touching the network.
	ErrOffline = errors.New("offline mode: network disabled")
)

// RemoteError is a server-reported failure other than 401.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("remote error (HTTP %d): %s", e.Status, e.Message)
}

// Retryable reports whether the failure is transient (5xx).
func (e *RemoteError) Retryable() bool {
	return e.Status >= 500 && e.Status < 600
}
