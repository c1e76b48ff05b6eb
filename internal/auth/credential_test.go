// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// CREDENTIAL TESTS
// =============================================================================

func TestCredentialValid(t *testing.T) {
	tests := []struct {
		name string
		cred *Credential
		want bool
	}{
		{"nil", nil, false},
		{"empty token", &Credential{SubjectID: "u"}, false},
		{"token present", &Credential{SubjectID: "u", Token: "t", TokenExpiry: time.Now().Add(time.Hour)}, true},
		{"no expiry", &Credential{SubjectID: "u", Token: "t"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cred.Valid())
		})
	}
}

func TestCredentialExpired(t *testing.T) {
	assert.False(t, (*Credential)(nil).Expired())
	assert.False(t, (&Credential{Token: "t"}).Expired())
	assert.True(t, (&Credential{Token: "t", TokenExpiry: time.Now().Add(-time.Minute)}).Expired())
	assert.False(t, (&Credential{Token: "t", TokenExpiry: time.Now().Add(time.Minute)}).Expired())
}

func TestTokenFingerprint(t *testing.T) {
	a := &Credential{Token: "token-a"}
	b := &Credential{Token: "token-b"}

	fa := a.TokenFingerprint()
	assert.Len(t, fa, 8)
	assert.NotEqual(t, fa, b.TokenFingerprint())
	assert.NotContains(t, fa, "token")
}

// =============================================================================
// STORE TESTS
// =============================================================================

func TestStoreSubscribe_DeliversInCommitOrder(t *testing.T) {
	store := NewStore()

	var mu sync.Mutex
	var seen []Phase
	unsub := store.Subscribe(func(st State) {
		mu.Lock()
		seen = append(seen, st.Phase)
		mu.Unlock()
	})
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				store.Set(State{Phase: PhaseAnonymous})
			} else {
				store.Set(State{Phase: PhaseAuthenticated, Credential: &Credential{Token: "t"}})
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 8)
	// The final delivered phase must match the final committed phase.
	assert.Equal(t, store.State().Phase, seen[len(seen)-1])
}

func TestStoreUnsubscribe(t *testing.T) {
	store := NewStore()

	calls := 0
	unsub := store.Subscribe(func(State) { calls++ })

	store.Set(State{Phase: PhaseAnonymous})
	unsub()
	store.Set(State{Phase: PhaseInitializing})

	assert.Equal(t, 1, calls)
}

func TestStoreCompareAndSet(t *testing.T) {
	store := NewStore()
	store.Set(State{Phase: PhaseInitializing})

	// Mismatched expectation leaves the state alone.
	assert.False(t, store.CompareAndSet(PhaseAuthenticated, State{Phase: PhaseAnonymous}))
	assert.Equal(t, PhaseInitializing, store.State().Phase)

	// Matching expectation applies.
	assert.True(t, store.CompareAndSet(PhaseInitializing, State{Phase: PhaseAnonymous}))
	assert.Equal(t, PhaseAnonymous, store.State().Phase)
}

func TestStoreCredential_NilUntilAuthenticated(t *testing.T) {
	store := NewStore()
	assert.Nil(t, store.Credential())

	cred := &Credential{SubjectID: "u", Token: "t", TokenExpiry: time.Now().Add(time.Hour)}
	store.Set(State{Phase: PhaseAuthenticated, Credential: cred})
	got := store.Credential()
	assert.NotNil(t, got)
	assert.Equal(t, "u", got.SubjectID)
}
