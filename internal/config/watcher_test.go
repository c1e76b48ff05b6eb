// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("environment = \"development\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case loaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	content := "environment = \"test\"\n\n[server]\noffline_mode = true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-loaded:
		if cfg.Environment != "test" {
			t.Errorf("environment = %q, want test", cfg.Environment)
		}
		if !cfg.Server.OfflineMode {
			t.Error("offline_mode not reloaded")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload never fired")
	}
}

func TestWatcher_InvalidReloadIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("environment = \"development\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case loaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	// An unparsable file must not reach the callback.
	if err := os.WriteFile(path, []byte("environment = [broken\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-loaded:
		t.Errorf("invalid config delivered: %+v", cfg)
	case <-time.After(time.Second):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("environment = \"development\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case loaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-loaded:
		t.Error("reload fired for an unrelated file")
	case <-time.After(time.Second):
	}
}
