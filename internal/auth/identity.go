// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// IDENTITY CLIENT
// =============================================================================

const (
	// identityTimeout is the request timeout for identity provider calls.
	identityTimeout = 15 * time.Second

	// refreshMargin is how long before token expiry a refresh is attempted.
	refreshMargin = 30 * time.Second

	// refreshRetryDelay is the backoff before retrying a refresh that
	// failed for a transient (non-auth) reason.
	refreshRetryDelay = 15 * time.Second

	// maxIdentityResponse caps identity provider response bodies.
	maxIdentityResponse = 1 * 1024 * 1024
)

// IdentityClient talks to a GoTrue-compatible identity provider over HTTP
// and implements Provider. It persists the session to disk so a restart
// finds the existing session, and it refreshes the access token before
// expiry, surfacing each refresh through the session-change listeners.
type IdentityClient struct {
	baseURL     string
	anonKey     string
	sessionPath string
	httpClient  *http.Client

	mu        sync.Mutex
	session   *storedSession
	listeners map[int]func(*Credential)
	nextID    int
	refresh   *time.Timer
}

// storedSession is the on-disk session file.
type storedSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
}

// tokenResponse is the provider's token grant response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         struct {
		ID           string `json:"id"`
		Email        string `json:"email"`
		UserMetadata struct {
			FullName  string `json:"full_name"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
		} `json:"user_metadata"`
	} `json:"user"`
}

// identityError is the provider's error response body.
type identityError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

// NewIdentityClient creates an identity client for the given provider URL
// and public (anon) key. sessionPath is where the session file lives, e.g.
// ~/.chatterm/session.json.
func NewIdentityClient(baseURL, anonKey, sessionPath string) *IdentityClient {
	return &IdentityClient{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		anonKey:     anonKey,
		sessionPath: sessionPath,
		httpClient:  &http.Client{Timeout: identityTimeout},
		listeners:   make(map[int]func(*Credential)),
	}
}

// =============================================================================
// PROVIDER IMPLEMENTATION
// =============================================================================

// CurrentSession loads the persisted session, refreshing it when the access
// token is expired or about to expire.
func (c *IdentityClient) CurrentSession(ctx context.Context) (*Credential, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		loaded, err := c.loadSession()
		if err != nil {
			return nil, ErrNoSession
		}
		sess = loaded
	}

	if time.Until(sess.ExpiresAt) < refreshMargin {
		refreshed, err := c.refreshSession(ctx, sess.RefreshToken)
		switch {
		case err == nil:
			sess = refreshed
		case errors.Is(err, ErrAuth) || errors.Is(err, ErrNoSession):
			// The provider rejected the refresh token; the session is
			// dead for real, forget it.
			c.clearSession()
			return nil, ErrNoSession
		case time.Until(sess.ExpiresAt) > 0:
			// Transient failure but the access token still works. Keep
			// the stored session; the refresh timer retries.
			log.Printf("auth: token refresh failed, keeping session: %v", err)
		default:
			// Transient failure and the token already expired. Keep the
			// session file so a later attempt can still redeem the
			// refresh token.
			return nil, fmt.Errorf("refresh session: %w", err)
		}
	}

	c.adoptSession(sess, false)
	return sess.credential(), nil
}

// OnSessionChange registers a session event listener.
func (c *IdentityClient) OnSessionChange(fn func(*Credential)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// SignInWithPassword performs a password grant and adopts the session.
func (c *IdentityClient) SignInWithPassword(ctx context.Context, email, password string) (*Credential, error) {
	body := map[string]string{"email": email, "password": password}
	var tok tokenResponse
	if err := c.post(ctx, "/token?grant_type=password", body, "", &tok); err != nil {
		return nil, err
	}

	sess := sessionFromToken(&tok)
	c.adoptSession(sess, true)
	return sess.credential(), nil
}

// SignInWithOAuth starts an external-provider flow. It serves a loopback
// callback, logs the authorize URL for the user's browser, and resolves the
// session through the session-change listeners once the redirect lands.
func (c *IdentityClient) SignInWithOAuth(ctx context.Context, provider, redirectURL string) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("oauth callback listener: %w", err)
	}
	callback := fmt.Sprintf("http://%s/callback", ln.Addr().String())
	if redirectURL != "" {
		callback = redirectURL
	}

	authorize := fmt.Sprintf("%s/authorize?provider=%s&redirect_to=%s",
		c.baseURL, url.QueryEscape(provider), url.QueryEscape(callback))
	log.Printf("auth: open %s to continue sign-in", authorize)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access := r.URL.Query().Get("access_token")
		refresh := r.URL.Query().Get("refresh_token")
		if access == "" {
			http.Error(w, "missing token", http.StatusBadRequest)
			return
		}
		sess, err := c.sessionFromAccessToken(r.Context(), access, refresh)
		if err != nil {
			http.Error(w, "sign-in failed", http.StatusBadGateway)
			return
		}
		c.adoptSession(sess, true)
		c.notify(sess.credential())
		fmt.Fprintln(w, "Signed in. You can close this window.")
	})}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("auth: oauth callback server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	return nil
}

// SignOut invalidates the session remotely, clears local state, and
// notifies listeners that the session ended.
func (c *IdentityClient) SignOut(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	var remoteErr error
	if sess != nil {
		remoteErr = c.post(ctx, "/logout", nil, sess.AccessToken, nil)
	}

	c.clearSession()
	c.notify(nil)
	return remoteErr
}

// =============================================================================
// SESSION PLUMBING
// =============================================================================

// credential converts the stored session to the immutable Credential value.
func (s *storedSession) credential() *Credential {
	if s == nil || s.AccessToken == "" {
		return nil
	}
	return &Credential{
		SubjectID:   s.UserID,
		DisplayName: s.Name,
		Email:       s.Email,
		Token:       s.AccessToken,
		TokenExpiry: s.ExpiresAt,
	}
}

// sessionFromToken builds a stored session from a token grant response.
func sessionFromToken(tok *tokenResponse) *storedSession {
	return &storedSession{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
		UserID:       tok.User.ID,
		Email:        tok.User.Email,
		Name:         displayName(tok),
	}
}

// displayName derives a human name the way the backend does: full name,
// then first+last, then the email local part.
func displayName(tok *tokenResponse) string {
	md := tok.User.UserMetadata
	if md.FullName != "" {
		return md.FullName
	}
	if name := strings.TrimSpace(md.FirstName + " " + md.LastName); name != "" {
		return name
	}
	if at := strings.IndexByte(tok.User.Email, '@'); at > 0 {
		return tok.User.Email[:at]
	}
	return tok.User.Email
}

// sessionFromAccessToken resolves the user behind a raw access token
// (OAuth callback path) via GET /user.
func (c *IdentityClient) sessionFromAccessToken(ctx context.Context, access, refresh string) (*storedSession, error) {
	var tok tokenResponse
	if err := c.get(ctx, "/user", access, &tok.User); err != nil {
		return nil, err
	}
	tok.AccessToken = access
	tok.RefreshToken = refresh
	tok.ExpiresIn = 3600
	return sessionFromToken(&tok), nil
}

// refreshSession exchanges a refresh token for a new session.
func (c *IdentityClient) refreshSession(ctx context.Context, refreshToken string) (*storedSession, error) {
	if refreshToken == "" {
		return nil, ErrNoSession
	}
	body := map[string]string{"refresh_token": refreshToken}
	var tok tokenResponse
	if err := c.post(ctx, "/token?grant_type=refresh_token", body, "", &tok); err != nil {
		return nil, err
	}
	return sessionFromToken(&tok), nil
}

// adoptSession installs a session, persists it, and schedules the refresh
// timer. When persist is false the session came from disk already.
func (c *IdentityClient) adoptSession(sess *storedSession, persist bool) {
	c.mu.Lock()
	c.session = sess
	if c.refresh != nil {
		c.refresh.Stop()
	}
	delay := time.Until(sess.ExpiresAt) - refreshMargin
	if delay < time.Second {
		delay = time.Second
	}
	c.refresh = time.AfterFunc(delay, c.refreshNow)
	c.mu.Unlock()

	if persist {
		if err := c.saveSession(sess); err != nil {
			log.Printf("auth: persist session: %v", err)
		}
	}
}

// refreshNow runs the scheduled refresh and notifies listeners with the
// outcome: a fresh credential, or nil when the session could not be kept
// alive.
func (c *IdentityClient) refreshNow() {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), identityTimeout)
	defer cancel()

	refreshed, err := c.refreshSession(ctx, sess.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrAuth) || errors.Is(err, ErrNoSession) {
			// Refresh token rejected: the session ended server-side.
			log.Printf("auth: token refresh rejected: %v", err)
			c.clearSession()
			c.notify(nil)
			return
		}
		// Transient failure. Keep the session and retry shortly; a
		// network blip must not destroy a still-valid refresh token.
		log.Printf("auth: token refresh failed, will retry: %v", err)
		c.mu.Lock()
		if c.session != nil {
			if c.refresh != nil {
				c.refresh.Stop()
			}
			c.refresh = time.AfterFunc(refreshRetryDelay, c.refreshNow)
		}
		c.mu.Unlock()
		return
	}
	c.adoptSession(refreshed, true)
	c.notify(refreshed.credential())
}

// notify fans a session event out to all listeners.
func (c *IdentityClient) notify(cred *Credential) {
	c.mu.Lock()
	fns := make([]func(*Credential), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(cred)
	}
}

// clearSession drops the in-memory session, stops the refresh timer, and
// removes the session file.
func (c *IdentityClient) clearSession() {
	c.mu.Lock()
	c.session = nil
	if c.refresh != nil {
		c.refresh.Stop()
		c.refresh = nil
	}
	c.mu.Unlock()

	if c.sessionPath != "" {
		os.Remove(c.sessionPath)
	}
}

// loadSession reads the persisted session file.
func (c *IdentityClient) loadSession() (*storedSession, error) {
	data, err := os.ReadFile(c.sessionPath)
	if err != nil {
		return nil, err
	}
	var sess storedSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	if sess.AccessToken == "" {
		return nil, ErrNoSession
	}
	return &sess, nil
}

// saveSession writes the session file atomically: temp file in the same
// directory, then rename. Mode 0600, it holds tokens.
func (c *IdentityClient) saveSession(sess *storedSession) error {
	if c.sessionPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.sessionPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".session-")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0600); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, c.sessionPath)
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

// post issues a JSON POST to the identity provider. bearer overrides the
// anon key when set.
func (c *IdentityClient) post(ctx context.Context, path string, body any, bearer string, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	return c.do(req, bearer, out)
}

// get issues a GET to the identity provider.
func (c *IdentityClient) get(ctx context.Context, path, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, bearer, out)
}

func (c *IdentityClient) do(req *http.Request, bearer string, out any) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else if c.anonKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.anonKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIdentityResponse))
	if err != nil {
		return fmt.Errorf("identity provider: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var ie identityError
		msg := resp.Status
		if json.Unmarshal(data, &ie) == nil {
			switch {
			case ie.ErrorDescription != "":
				msg = ie.ErrorDescription
			case ie.Msg != "":
				msg = ie.Msg
			case ie.Error != "":
				msg = ie.Error
			}
		}
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusUnprocessableEntity {
			return fmt.Errorf("%w: %s", ErrAuth, msg)
		}
		return fmt.Errorf("identity provider: %s", msg)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("identity provider: parse response: %w", err)
		}
	}
	return nil
}
