// chatterm - a terminal client for a remote chat backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatterm/internal/api"
	"github.com/jeranaias/chatterm/internal/auth"
	"github.com/jeranaias/chatterm/internal/chat"
	"github.com/jeranaias/chatterm/internal/config"
	"github.com/jeranaias/chatterm/internal/sessions"
	chatui "github.com/jeranaias/chatterm/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Global program reference for async event delivery
var (
	programRef *tea.Program
	programMu  sync.Mutex
)

// send delivers a message to the running program, dropping it when the
// program has not started yet or already exited.
func send(msg tea.Msg) {
	programMu.Lock()
	p := programRef
	programMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "--version") {
		fmt.Printf("chatterm %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if dir, derr := config.Dir(); derr == nil {
		if merr := os.MkdirAll(dir, 0o700); merr != nil {
			return fmt.Errorf("create config dir: %w", merr)
		}
	}

	// The TUI owns the terminal, so the standard logger goes to a file.
	logFile := setupLogging()
	if logFile != nil {
		defer logFile.Close()
	}

	// ==========================================================================
	// AUTHENTICATION
	// ==========================================================================

	provider := auth.NewIdentityClient(cfg.Identity.URL, cfg.Identity.AnonKey, cfg.SessionFilePath())

	store := auth.NewStore()
	dev := config.DevCredentialsFromEnv()
	manager := auth.NewManager(provider, store, auth.ManagerConfig{
		InitTimeout:    cfg.InitTimeout(),
		SignOutTimeout: cfg.SignOutTimeout(),
		Environment:    cfg.Environment,
		DevEmail:       dev.Email,
		DevPassword:    dev.Password,
	})
	defer manager.Close()

	// ==========================================================================
	// API CLIENT
	// ==========================================================================

	// The offline flag is written by the config watcher goroutine and read
	// by request goroutines, so it lives in an atomic.
	var offline atomic.Bool
	offline.Store(cfg.Server.OfflineMode)

	client := api.NewClient(cfg.Server.BaseURL, store).
		WithTimeout(cfg.RequestTimeout()).
		WithOfflineCheck(offline.Load)
	client.WithUnauthenticatedHook(func() {
		go manager.Invalidate(context.Background())
	})

	// ==========================================================================
	// SESSION CACHE AND CHAT ENGINE
	// ==========================================================================

	var snap *sessions.SnapshotStore
	if !cfg.Cache.Disabled {
		snap, err = sessions.OpenSnapshotStore(cfg.SnapshotDBPath())
		if err != nil {
			log.Printf("snapshot store unavailable: %v", err)
			snap = nil
		}
	}
	if snap != nil {
		defer snap.Close()
	}
	cache := sessions.NewCache(client, snap)

	engine := chat.NewEngine(client, store, cache)
	defer engine.Close()

	// ==========================================================================
	// CONFIG WATCHER
	// ==========================================================================

	if path, perr := config.Path(); perr == nil {
		watcher, werr := config.NewWatcher(path, func(updated *config.Config) {
			offline.Store(updated.Server.OfflineMode)
		})
		if werr != nil {
			log.Printf("config watcher disabled: %v", werr)
		} else {
			defer watcher.Close()
		}
	}

	// ==========================================================================
	// TUI
	// ==========================================================================

	m := chatui.New(engine, cache, manager, client)

	p := tea.NewProgram(m, tea.WithAltScreen())

	programMu.Lock()
	programRef = p
	programMu.Unlock()

	unsubEngine := engine.Subscribe(func() {
		send(chatui.EngineUpdatedMsg{})
	})
	defer unsubEngine()

	unsubAuth := store.Subscribe(func(st auth.State) {
		send(chatui.AuthStateMsg{State: st})
	})
	defer unsubAuth()

	manager.Initialize(context.Background())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run TUI: %w", err)
	}

	programMu.Lock()
	programRef = nil
	programMu.Unlock()

	return nil
}

// setupLogging redirects the standard logger to ~/.chatterm/chatterm.log,
// discarding logs when the directory is unavailable.
func setupLogging() *os.File {
	dir, err := config.Dir()
	if err != nil {
		log.SetOutput(io.Discard)
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, "chatterm.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.SetOutput(io.Discard)
		return nil
	}
	log.SetOutput(f)
	return f
}
