// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeranaias/chatterm/internal/auth"
	"github.com/jeranaias/chatterm/internal/model"
)

// newTestStore returns a store holding a valid credential.
func newTestStore() *auth.Store {
	store := auth.NewStore()
	store.Set(auth.State{
		Phase: auth.PhaseAuthenticated,
		Credential: &auth.Credential{
			SubjectID:   "user-1",
			Token:       "test-token",
			TokenExpiry: time.Now().Add(time.Hour),
		},
	})
	return store
}

func newAnonStore() *auth.Store {
	store := auth.NewStore()
	store.Set(auth.State{Phase: auth.PhaseAnonymous})
	return store
}

// =============================================================================
// BEARER INJECTION TESTS
// =============================================================================

func TestBearerInjection(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"sessions": []}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, newTestStore())
	if _, err := client.ListSessions(context.Background()); err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-token")
	}
}

func TestHealth_NoBearerRequired(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"status": "healthy", "message": "ok"}`))
	}))
	defer server.Close()

	// Anonymous store: unauthenticated endpoints must still work.
	client := NewClient(server.URL, newAnonStore())
	status, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status.Status != "healthy" {
		t.Errorf("status = %q, want healthy", status.Status)
	}
	if gotAuth != "" {
		t.Errorf("unexpected Authorization header %q", gotAuth)
	}
}

func TestAuthedCall_NoCredential(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewClient(server.URL, newAnonStore())
	_, err := client.ListSessions(context.Background())
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
	if called {
		t.Error("request reached the server despite missing credential")
	}
}

// =============================================================================
// RETRY TESTS
// =============================================================================

func TestReadRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"sessions": [{"session_id": "s1", "name": "first"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, newTestStore())
	list, err := client.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if len(list) != 1 || list[0].ID != "s1" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestMutationRetriesOnce(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, newTestStore())
	_, err := client.SendMessage(context.Background(), "s1", "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2 (original + one retry)", got)
	}
}

func TestIdempotencyKeyReusedAcrossRetry(t *testing.T) {
	var keys []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		if len(keys) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"response": "hi", "session_id": "s1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, newTestStore())
	res, err := client.SendMessage(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Response != "hi" {
		t.Errorf("response = %q", res.Response)
	}
	if len(keys) != 2 {
		t.Fatalf("attempts = %d, want 2", len(keys))
	}
	if keys[0] == "" || keys[0] != keys[1] {
		t.Errorf("idempotency key not reused: %q vs %q", keys[0], keys[1])
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail": "message must not be empty"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, newTestStore())
	_, err := client.SendMessage(context.Background(), "s1", "")

	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if re.Status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", re.Status)
	}
	if re.Message != "message must not be empty" {
		t.Errorf("message = %q", re.Message)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

// =============================================================================
// ERROR CLASSIFICATION TESTS
// =============================================================================

func TestUnauthorized_FiresHookAndStops(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	var hookFired atomic.Bool
	client := NewClient(server.URL, newTestStore()).
		WithUnauthenticatedHook(func() { hookFired.Store(true) })

	_, err := client.ListSessions(context.Background())
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("401 was retried: attempts = %d", got)
	}
	if !hookFired.Load() {
		t.Error("unauthenticated hook not fired")
	}
}

func TestTransportFailureWrapsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := NewClient(server.URL, newTestStore())
	_, err := client.Health(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
}

func TestOfflineGate(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewClient(server.URL, newTestStore()).
		WithOfflineCheck(func() bool { return true })

	_, err := client.Health(context.Background())
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("err = %v, want ErrOffline", err)
	}
	if called {
		t.Error("request sent while offline")
	}
}

func TestOfflineGate_ConcurrentToggle(t *testing.T) {
	// The offline flag is flipped by a config reload goroutine while
	// requests read it, so the check must be safe under the race
	// detector when backed by an atomic.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","message":""}`))
	}))
	defer server.Close()

	var offline atomic.Bool
	client := NewClient(server.URL, newTestStore()).
		WithOfflineCheck(offline.Load)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				offline.Store(!offline.Load())
			}
		}
	}()

	for i := 0; i < 20; i++ {
		_, err := client.Health(context.Background())
		if err != nil && !errors.Is(err, ErrOffline) {
			t.Fatalf("err = %v, want nil or ErrOffline", err)
		}
	}
	close(stop)
	wg.Wait()
}

// =============================================================================
// HISTORY NORMALIZATION TESTS
// =============================================================================

func TestHistory_NormalizesRolesAndIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/sessions/s1/history" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"messages": [
			{"role": "human", "content": "hi"},
			{"role": "ai", "content": "hello"},
			{"role": "user", "content": "thanks", "id": "msg_9"}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, newTestStore())
	msgs, err := client.History(context.Background(), "s1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[0].Role != model.RoleHuman || msgs[1].Role != model.RoleAssistant || msgs[2].Role != model.RoleHuman {
		t.Errorf("roles = %v %v %v", msgs[0].Role, msgs[1].Role, msgs[2].Role)
	}
	if msgs[0].ID != "hist_0" {
		t.Errorf("generated id = %q, want hist_0", msgs[0].ID)
	}
	if msgs[2].ID != "msg_9" {
		t.Errorf("server id = %q, want msg_9", msgs[2].ID)
	}
	for _, m := range msgs {
		if m.IsPending() {
			t.Errorf("history message %q classified as pending", m.ID)
		}
	}
}

// =============================================================================
// BACKOFF TESTS
// =============================================================================

func TestBackoffSchedule(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{10, retryMaxDelay},
	}
	for _, tt := range tests {
		if got := backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRemoteErrorRetryable(t *testing.T) {
	if (&RemoteError{Status: 404}).Retryable() {
		t.Error("404 should not be retryable")
	}
	if !(&RemoteError{Status: 503}).Retryable() {
		t.Error("503 should be retryable")
	}
}
