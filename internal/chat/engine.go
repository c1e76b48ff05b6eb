// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the per-conversation synchronization engine.
//
// The engine keeps an optimistic, locally buffered view of the active
// conversation and reconciles it against the authoritative remote history.
// The one ordering rule everything else hangs off: a send's pending buffer
// is cleared only after the post-send refetch resolves, so the user's own
// message can never visibly vanish.
package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/jeranaias/chatterm/internal/api"
	"github.com/jeranaias/chatterm/internal/auth"
	"github.com/jeranaias/chatterm/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrValidation indicates an empty or whitespace-only message.
	ErrValidation = errors.New("message is empty")

	// ErrBusy indicates a send is already in flight for this engine.
	ErrBusy = errors.New("send already in progress")

	// ErrNoConversation indicates no conversation is selected.
	ErrNoConversation = errors.New("no active conversation")
)

// titleThreshold is the server message count at which a conversation gets
// its one-time generated title.
const titleThreshold = 2

// =============================================================================
// COLLABORATOR BOUNDARIES
// =============================================================================

// Requester is the slice of the request layer the engine uses.
type Requester interface {
	History(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	SendMessage(ctx context.Context, sessionID, text string) (*api.SendResult, error)
	GenerateTitle(ctx context.Context, sessionID string) (*model.ConversationSummary, error)
}

// ListCache is the slice of the session list cache the engine touches
// after mutations.
type ListCache interface {
	Invalidate()
	PatchName(sessionID, name string)
}

// =============================================================================
// PHASE
// =============================================================================

// Phase is the engine's state for the active conversation.
type Phase int

const (
	// PhaseIdle means no conversation is active.
	PhaseIdle Phase = iota

	// PhaseLoading means a history fetch is in flight.
	PhaseLoading

	// PhaseReady means the view is reconciled and a send may start.
	PhaseReady

	// PhaseSending means a send is in flight.
	PhaseSending

	// PhaseError means the last load or send failed; the view still
	// holds whatever was known, pending included.
	PhaseError
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseSending:
		return "sending"
	case PhaseError:
		return "error"
	default:
		return "idle"
	}
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is the engine's reactive surface for the UI: the merged view
// plus phase and error flags. Messages is recomputed per snapshot, never
// stored.
type Snapshot struct {
	ConversationID string
	Phase          Phase
	Messages       []model.ChatMessage
	Err            error

	// AwaitingAuth distinguishes "empty because no credential yet" from
	// "empty, loaded": the selection's fetch runs once sign-in resolves.
	AwaitingAuth bool
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine synchronizes one active conversation at a time. Construct once
// and inject the request layer, auth store, and list cache.
type Engine struct {
	mu sync.Mutex

	client Requester
	store  *auth.Store
	cache  ListCache

	activeID string
	phase    Phase
	history  []model.ChatMessage
	pending  []model.ChatMessage
	lastErr  error

	// awaitingCred marks a selection made while anonymous; the fetch
	// re-runs once authentication resolves.
	awaitingCred bool

	// titleDone guards the one-shot title trigger per conversation id
	// for this engine's lifetime.
	titleDone map[string]bool

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int

	unsubscribeAuth func()
}

// NewEngine creates a synchronization engine.
func NewEngine(client Requester, store *auth.Store, cache ListCache) *Engine {
	e := &Engine{
		client:    client,
		store:     store,
		cache:     cache,
		titleDone: make(map[string]bool),
		subs:      make(map[int]func()),
	}
	if store != nil {
		e.unsubscribeAuth = store.Subscribe(e.onAuthChange)
	}
	return e
}

// Close unregisters the auth subscription.
func (e *Engine) Close() {
	if e.unsubscribeAuth != nil {
		e.unsubscribeAuth()
	}
}

// Subscribe registers a callback invoked after every engine state change.
// The returned function cancels the subscription.
func (e *Engine) Subscribe(fn func()) func() {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()
	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) notify() {
	e.subMu.Lock()
	fns := make([]func(), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Snapshot returns the current reactive view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		ConversationID: e.activeID,
		Phase:          e.phase,
		Messages:       model.View(e.history, e.pending),
		Err:            e.lastErr,
		AwaitingAuth:   e.awaitingCred,
	}
}

// =============================================================================
// CONVERSATION SELECTION
// =============================================================================

// SelectConversation switches the active conversation. The previous
// conversation's pending buffer is discarded, and any in-flight result for
// it will be dropped on arrival. Without a credential no fetch is issued;
// the view stays empty and the fetch re-runs once authentication resolves.
func (e *Engine) SelectConversation(ctx context.Context, id string) {
	e.mu.Lock()
	e.activeID = id
	e.pending = nil
	e.history = nil
	e.lastErr = nil

	if id == "" {
		e.phase = PhaseIdle
		e.awaitingCred = false
		e.mu.Unlock()
		e.notify()
		return
	}

	if !e.store.Credential().Valid() {
		e.phase = PhaseReady
		e.awaitingCred = true
		e.mu.Unlock()
		e.notify()
		return
	}

	e.phase = PhaseLoading
	e.awaitingCred = false
	e.mu.Unlock()
	e.notify()

	e.fetchHistory(ctx, id, true)
}

// Refresh refetches the active conversation's history. This is the retry
// affordance for a failed load. While a send is in flight the refresh is
// skipped: its refetch could land before the server recorded the sent
// message and clear the pending buffer too early. The send's own refetch
// reconciles the view.
func (e *Engine) Refresh(ctx context.Context) {
	e.mu.Lock()
	id := e.activeID
	if id == "" || e.phase == PhaseSending {
		e.mu.Unlock()
		return
	}
	e.phase = PhaseLoading
	e.mu.Unlock()
	e.notify()

	e.fetchHistory(ctx, id, true)
}

// fetchHistory fetches and applies history for the given conversation.
// Results are tagged with the conversation id captured here; a response
// arriving after the active conversation changed is dropped. When
// clearPending is true the pending buffer is cleared on success, which is
// the reconciliation step: server history is authoritative and inclusive
// of anything we sent. Returns the applied history length, -1 when the
// result was dropped or the fetch failed.
func (e *Engine) fetchHistory(ctx context.Context, id string, clearPending bool) int {
	msgs, err := e.client.History(ctx, id)

	e.mu.Lock()
	if e.activeID != id {
		// Late response for an abandoned conversation.
		e.mu.Unlock()
		return -1
	}
	if err != nil {
		e.phase = PhaseError
		e.lastErr = err
		e.mu.Unlock()
		e.notify()
		return -1
	}
	e.history = msgs
	if clearPending {
		e.pending = nil
	}
	e.phase = PhaseReady
	e.lastErr = nil
	n := len(msgs)
	e.mu.Unlock()
	e.notify()
	return n
}

// =============================================================================
// SENDING
// =============================================================================

// SendMessage posts text to the active conversation. The pending message
// is appended and visible before any network round-trip; on failure it
// stays in place so the user's content is never lost, and the engine does
// not auto-retry.
func (e *Engine) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrValidation
	}

	e.mu.Lock()
	if e.activeID == "" {
		e.mu.Unlock()
		return ErrNoConversation
	}
	if e.phase == PhaseSending {
		e.mu.Unlock()
		return ErrBusy
	}
	id := e.activeID
	e.pending = append(e.pending, model.NewPendingMessage(text))
	e.phase = PhaseSending
	e.lastErr = nil
	e.mu.Unlock()
	e.notify()

	_, err := e.client.SendMessage(ctx, id, text)
	if err != nil {
		e.mu.Lock()
		if e.activeID == id {
			e.phase = PhaseError
			e.lastErr = err
		}
		e.mu.Unlock()
		e.notify()
		return err
	}

	// Reconcile. The pending buffer is cleared inside fetchHistory only
	// after the refetch resolves, never before.
	count := e.fetchHistory(ctx, id, true)
	if count < 0 {
		// Refetch failed or conversation changed: the pending message
		// stays visible; a later Refresh converges the view.
		return nil
	}

	e.cache.Invalidate()
	e.maybeGenerateTitle(id, count)
	return nil
}

// =============================================================================
// TITLE GENERATION
// =============================================================================

// maybeGenerateTitle fires the one-time title enrichment when the server
// message count first reaches the threshold. Runs asynchronously; failure
// is logged and swallowed, never surfaced to the send that triggered it.
func (e *Engine) maybeGenerateTitle(id string, serverCount int) {
	e.mu.Lock()
	if serverCount < titleThreshold || e.titleDone[id] {
		e.mu.Unlock()
		return
	}
	e.titleDone[id] = true
	e.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), api.DefaultTimeout)
		defer cancel()

		summary, err := e.client.GenerateTitle(ctx, id)
		if err != nil {
			log.Printf("chat: title generation for %s failed: %v", id, err)
			return
		}
		e.cache.PatchName(id, summary.Name)
		e.cache.Invalidate()
		e.notify()
	}()
}

// GenerateTitle manually regenerates the active conversation's title. It
// forces a fresh refetch first so a stale cached count cannot skip the
// threshold check, and its cache patch is idempotent.
func (e *Engine) GenerateTitle(ctx context.Context) error {
	e.mu.Lock()
	id := e.activeID
	e.mu.Unlock()
	if id == "" {
		return ErrNoConversation
	}

	msgs, err := e.client.History(ctx, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	// Apply the refetch only when no send is in flight. Mid-send the
	// fetched history predates the sent message, so clearing the pending
	// buffer here would make it visibly vanish; the fetched count is
	// still good enough for the threshold check below.
	if e.activeID == id && e.phase != PhaseSending {
		e.history = msgs
		e.pending = nil
		e.phase = PhaseReady
	}
	e.mu.Unlock()
	e.notify()

	if len(msgs) < titleThreshold {
		return nil
	}

	summary, err := e.client.GenerateTitle(ctx, id)
	if err != nil {
		return err
	}
	e.cache.PatchName(id, summary.Name)
	e.cache.Invalidate()
	e.notify()
	return nil
}

// =============================================================================
// AUTH INTEGRATION
// =============================================================================

// onAuthChange re-runs a deferred fetch once a credential becomes
// available, and surfaces sign-out by leaving the view intact but marking
// the engine idle-ready (subsequent calls fail fast in the request layer).
func (e *Engine) onAuthChange(st auth.State) {
	if st.Phase != auth.PhaseAuthenticated {
		return
	}
	e.mu.Lock()
	if !e.awaitingCred || e.activeID == "" {
		e.mu.Unlock()
		return
	}
	e.awaitingCred = false
	id := e.activeID
	e.phase = PhaseLoading
	e.mu.Unlock()
	e.notify()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), api.DefaultTimeout)
		defer cancel()
		e.fetchHistory(ctx, id, true)
	}()
}
