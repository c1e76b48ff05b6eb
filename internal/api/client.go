// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the authenticated request layer for the chat backend.
//
// Every call takes a credential snapshot from the store, injects it as a
// bearer token, retries transient failures with capped exponential backoff,
// and translates failures into the typed errors in errors.go. The client
// holds no mutable state beyond request-scoped retry counters.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jeranaias/chatterm/internal/auth"
	"github.com/jeranaias/chatterm/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 30 * time.Second

	// readRetries is the extra attempts for idempotent reads.
	readRetries = 2

	// mutateRetries is the extra attempts for mutating calls. One blind
	// retry of a non-idempotent write is an accepted duplication risk;
	// the Idempotency-Key header lets a deduplicating server drop it.
	mutateRetries = 1

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps the backoff.
	retryMaxDelay = 8 * time.Second

	// MaxResponseSize caps response bodies to keep a misbehaving server
	// from exhausting memory.
	MaxResponseSize = 10 * 1024 * 1024
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// HealthStatus is the GET /health response.
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SendResult is the POST /chat response.
type SendResult struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// wireMessage is a history entry as the server sends it. Only role and
// content are guaranteed; id and timestamp may be absent.
type wireMessage struct {
	ID        string    `json:"id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

type sessionListResponse struct {
	Sessions []model.ConversationSummary `json:"sessions"`
}

type historyResponse struct {
	Messages []wireMessage `json:"messages"`
}

// apiErrorResponse is the backend's error body ({"detail": ...}).
type apiErrorResponse struct {
	Detail string `json:"detail"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client performs authenticated calls against the chat backend. Construct
// one at process start and inject it; it is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	// credential returns the current credential snapshot, nil when
	// anonymous. Each call takes its own snapshot so no call reuses a
	// credential the store has since replaced.
	credential func() *auth.Credential

	// onUnauthenticated is invoked when the server rejects a token, so
	// the lifecycle manager can re-derive session state.
	onUnauthenticated func()

	// offline gates all calls when it reports true.
	offline func() bool
}

// NewClient creates a client for the backend at baseURL, reading
// credentials from the given store.
func NewClient(baseURL string, store *auth.Store) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		credential: store.Credential,
	}
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.httpClient.Timeout = d
	return c
}

// WithRateLimit replaces the client-side request limiter.
func (c *Client) WithRateLimit(l *rate.Limiter) *Client {
	c.limiter = l
	return c
}

// WithUnauthenticatedHook sets the callback fired on a 401 rejection.
func (c *Client) WithUnauthenticatedHook(fn func()) *Client {
	c.onUnauthenticated = fn
	return c
}

// WithOfflineCheck sets the offline-mode gate.
func (c *Client) WithOfflineCheck(fn func() bool) *Client {
	c.offline = fn
	return c
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Health checks backend health. Unauthenticated endpoint.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.call(ctx, http.MethodGet, "/health", nil, &out, false, readRetries); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns the user's conversations, most recently updated
// first. The list is the server's verbatim; the cache mirrors it.
func (c *Client) ListSessions(ctx context.Context) ([]model.ConversationSummary, error) {
	var out sessionListResponse
	if err := c.call(ctx, http.MethodGet, "/chat/sessions", nil, &out, true, readRetries); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// CreateSession creates a new conversation with the given name.
func (c *Client) CreateSession(ctx context.Context, name string) (*model.ConversationSummary, error) {
	body := map[string]string{"name": name}
	var out model.ConversationSummary
	if err := c.call(ctx, http.MethodPost, "/chat/sessions", body, &out, true, mutateRetries); err != nil {
		return nil, err
	}
	return &out, nil
}

// History fetches the authoritative message history of a conversation.
func (c *Client) History(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	var out historyResponse
	path := "/chat/sessions/" + sessionID + "/history"
	if err := c.call(ctx, http.MethodGet, path, nil, &out, true, readRetries); err != nil {
		return nil, err
	}
	return normalizeHistory(out.Messages), nil
}

// SendMessage posts a message to a conversation. The Idempotency-Key
// header carries a uuid generated once per logical send and reused across
// the retry, so a deduplicating server can drop the duplicate.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (*SendResult, error) {
	body := map[string]string{"message": text}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	var out SendResult
	idem := uuid.NewString()
	err := c.callWithHeaders(ctx, http.MethodPost, "/chat", body, &out, true, mutateRetries,
		map[string]string{"Idempotency-Key": idem})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateTitle asks the backend to derive a conversation title from its
// content and returns the updated summary.
func (c *Client) GenerateTitle(ctx context.Context, sessionID string) (*model.ConversationSummary, error) {
	var out model.ConversationSummary
	path := "/chat/sessions/" + sessionID + "/title"
	if err := c.call(ctx, http.MethodPost, path, nil, &out, true, mutateRetries); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// REQUEST CORE
// =============================================================================

// call performs one logical operation with retries.
func (c *Client) call(ctx context.Context, method, path string, body, out any, authed bool, retries int) error {
	return c.callWithHeaders(ctx, method, path, body, out, authed, retries, nil)
}

func (c *Client) callWithHeaders(ctx context.Context, method, path string, body, out any, authed bool, retries int, headers map[string]string) error {
	if c.offline != nil && c.offline() {
		return ErrOffline
	}

	var token string
	if authed {
		cred := c.credential()
		if !cred.Valid() {
			return ErrUnauthenticated
		}
		token = cred.Token
	}

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		err := c.doOnce(ctx, method, path, payload, out, token, headers)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}
	if errors.Is(lastErr, ErrNetwork) {
		return lastErr
	}
	return fmt.Errorf("retries exhausted: %w", lastErr)
}

// doOnce performs a single HTTP round-trip.
func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any, token string, headers map[string]string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := readResponse(resp)
	if err != nil {
		return err
	}
	log.Printf("api: %s %s -> %d (%v)", method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	if resp.StatusCode == http.StatusUnauthorized {
		if c.onUnauthenticated != nil {
			c.onUnauthenticated()
		}
		return ErrUnauthenticated
	}
	if resp.StatusCode >= 400 {
		return remoteError(resp.StatusCode, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

// readResponse reads the body with the size limit applied.
func readResponse(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}
	if int64(len(data)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded %d bytes", MaxResponseSize)
	}
	return data, nil
}

// remoteError builds a RemoteError from an error response body.
func remoteError(status int, body []byte) error {
	var apiErr apiErrorResponse
	e := &RemoteError{Status: status}
	if json.Unmarshal(body, &apiErr) == nil {
		switch {
		case apiErr.Error.Message != "":
			e.Code = apiErr.Error.Code
			e.Message = apiErr.Error.Message
		case apiErr.Detail != "":
			e.Message = apiErr.Detail
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	return e
}

// retryable reports whether an error is worth another attempt. 401 is
// never retried with the same token; context cancellation is final.
func retryable(err error) bool {
	if errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrOffline) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return errors.Is(err, ErrNetwork)
}

// backoff returns the delay before the given retry attempt: 500ms, 1s,
// 2s, ... capped at retryMaxDelay.
func backoff(attempt int) time.Duration {
	d := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}

// =============================================================================
// HISTORY NORMALIZATION
// =============================================================================

// normalizeHistory converts wire messages to model messages. The backend's
// history entries carry LangChain role names and may omit ids and
// timestamps; missing ids get a deterministic server-side prefix so they
// can never collide with pending ids, and missing timestamps stay zero so
// the merged view keeps server order ahead of pending messages.
func normalizeHistory(in []wireMessage) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(in))
	for i, m := range in {
		role := model.RoleAssistant
		switch strings.ToLower(m.Role) {
		case "human", "user":
			role = model.RoleHuman
		}
		id := m.ID
		if id == "" {
			id = fmt.Sprintf("hist_%d", i)
		}
		out = append(out, model.ChatMessage{
			ID:        id,
			Role:      role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return out
}
