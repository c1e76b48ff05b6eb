// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// DEFAULTS TESTS
// =============================================================================

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != "development" {
		t.Errorf("environment = %q, want development", cfg.Environment)
	}
	if cfg.Server.BaseURL != "http://localhost:8000/api/v1" {
		t.Errorf("base_url = %q", cfg.Server.BaseURL)
	}
	if cfg.InitTimeout() != 3*time.Second {
		t.Errorf("init timeout = %v, want 3s", cfg.InitTimeout())
	}
	if cfg.SignOutTimeout() != 5*time.Second {
		t.Errorf("signout timeout = %v, want 5s", cfg.SignOutTimeout())
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Errorf("request timeout = %v, want 30s", cfg.RequestTimeout())
	}
	if cfg.IsProduction() {
		t.Error("defaults must not be production")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

// =============================================================================
// TOML LOADING TESTS
// =============================================================================

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = "0.2.0"
environment = "production"

[server]
base_url = "https://chat.example.com/api/v1"
timeout_secs = 10
offline_mode = true

[identity]
url = "https://id.example.com/auth/v1"
anon_key = "anon-123"

[auth]
init_timeout_secs = 7

[cache]
disabled = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		t.Fatalf("LoadTOML: %v", err)
	}

	if cfg.Server.BaseURL != "https://chat.example.com/api/v1" {
		t.Errorf("base_url = %q", cfg.Server.BaseURL)
	}
	if !cfg.Server.OfflineMode {
		t.Error("offline_mode not applied")
	}
	if cfg.Identity.AnonKey != "anon-123" {
		t.Errorf("anon_key = %q", cfg.Identity.AnonKey)
	}
	if cfg.Auth.InitTimeoutSecs != 7 {
		t.Errorf("init_timeout_secs = %d", cfg.Auth.InitTimeoutSecs)
	}
	if !cfg.Cache.Disabled {
		t.Error("cache.disabled not applied")
	}
	if !cfg.IsProduction() {
		t.Error("environment not applied")
	}
	// Unset sections keep their defaults.
	if cfg.Auth.SignOutTimeoutSecs != 5 {
		t.Errorf("signout_timeout_secs = %d, want default 5", cfg.Auth.SignOutTimeoutSecs)
	}
}

func TestLoadTOML_Missing(t *testing.T) {
	cfg := Default()
	err := LoadTOML(cfg, filepath.Join(t.TempDir(), "absent.toml"))
	if !os.IsNotExist(err) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDE TESTS
// =============================================================================

func TestApplyEnv(t *testing.T) {
	t.Setenv("CHATTERM_SERVER_URL", "http://env.example.com/api/v1")
	t.Setenv("CHATTERM_ENVIRONMENT", "test")
	t.Setenv("CHATTERM_OFFLINE", "true")
	t.Setenv("CHATTERM_INIT_TIMEOUT_SECS", "9")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Server.BaseURL != "http://env.example.com/api/v1" {
		t.Errorf("base_url = %q", cfg.Server.BaseURL)
	}
	if cfg.Environment != "test" {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if !cfg.Server.OfflineMode {
		t.Error("CHATTERM_OFFLINE not applied")
	}
	if cfg.Auth.InitTimeoutSecs != 9 {
		t.Errorf("init_timeout_secs = %d", cfg.Auth.InitTimeoutSecs)
	}
}

func TestApplyEnv_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("CHATTERM_OFFLINE", "maybe")
	t.Setenv("CHATTERM_INIT_TIMEOUT_SECS", "-4")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Server.OfflineMode {
		t.Error("unparsable CHATTERM_OFFLINE applied")
	}
	if cfg.Auth.InitTimeoutSecs != 3 {
		t.Errorf("negative timeout applied: %d", cfg.Auth.InitTimeoutSecs)
	}
}

func TestDevCredentialsFromEnv(t *testing.T) {
	t.Setenv("CHATTERM_DEV_EMAIL", "dev@example.com")
	t.Setenv("CHATTERM_DEV_PASSWORD", "secret")

	dev := DevCredentialsFromEnv()
	if dev.Email != "dev@example.com" || dev.Password != "secret" {
		t.Errorf("dev credentials = %+v", dev)
	}
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate_ClampsTimeouts(t *testing.T) {
	cfg := Default()
	cfg.Server.TimeoutSecs = 0
	cfg.Auth.InitTimeoutSecs = -1
	cfg.Auth.SignOutTimeoutSecs = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Server.TimeoutSecs != 30 || cfg.Auth.InitTimeoutSecs != 3 || cfg.Auth.SignOutTimeoutSecs != 5 {
		t.Errorf("timeouts not clamped: %d/%d/%d",
			cfg.Server.TimeoutSecs, cfg.Auth.InitTimeoutSecs, cfg.Auth.SignOutTimeoutSecs)
	}
}

func TestValidate_RejectsUnknownEnvironment(t *testing.T) {
	cfg := Default()
	cfg.Environment = "staging"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown environment accepted")
	}
}

// =============================================================================
// PATH TESTS
// =============================================================================

func TestSessionFilePath_Override(t *testing.T) {
	cfg := Default()
	cfg.Identity.SessionFile = "/tmp/custom-session.json"
	if got := cfg.SessionFilePath(); got != "/tmp/custom-session.json" {
		t.Errorf("SessionFilePath = %q", got)
	}
}

func TestSnapshotDBPath_DisabledEmpty(t *testing.T) {
	cfg := Default()
	cfg.Cache.Disabled = true
	if got := cfg.SnapshotDBPath(); got != "" {
		t.Errorf("SnapshotDBPath = %q, want empty when disabled", got)
	}
}
