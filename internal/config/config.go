// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatterm.
//
// Configuration comes from ~/.chatterm/config.toml, overridden by
// CHATTERM_* environment variables, on top of built-in defaults. The dev
// auto-login credentials are environment-only: they never live in a config
// file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete chatterm configuration.
type Config struct {
	Version string `toml:"version"`

	// Environment is the deployment environment: "development" or
	// "production". The dev auto-login never runs in production.
	Environment string `toml:"environment"`

	Server   ServerConfig   `toml:"server"`
	Identity IdentityConfig `toml:"identity"`
	Auth     AuthConfig     `toml:"auth"`
	Cache    CacheConfig    `toml:"cache"`
}

// ServerConfig is the chat backend connection configuration.
type ServerConfig struct {
	// BaseURL is the chat backend API root, e.g.
	// "http://localhost:8000/api/v1".
	BaseURL string `toml:"base_url"`
	// TimeoutSecs is the per-request timeout in seconds.
	TimeoutSecs int `toml:"timeout_secs"`
	// OfflineMode rejects all network calls before they are issued.
	OfflineMode bool `toml:"offline_mode"`
}

// IdentityConfig is the identity-provider connection configuration.
type IdentityConfig struct {
	// URL is the identity provider root, e.g.
	// "https://project.supabase.co/auth/v1".
	URL string `toml:"url"`
	// AnonKey is the provider's public API key.
	AnonKey string `toml:"anon_key"`
	// SessionFile overrides where the session is persisted
	// (default ~/.chatterm/session.json).
	SessionFile string `toml:"session_file"`
}

// AuthConfig holds the session lifecycle tunables.
type AuthConfig struct {
	// InitTimeoutSecs bounds startup session discovery. Tunable rather
	// than a protocol constant.
	InitTimeoutSecs int `toml:"init_timeout_secs"`
	// SignOutTimeoutSecs bounds the wait for the provider's sign-out
	// event before local state is force-cleared.
	SignOutTimeoutSecs int `toml:"signout_timeout_secs"`
}

// CacheConfig holds the session list snapshot configuration.
type CacheConfig struct {
	// DBPath overrides the snapshot database location
	// (default ~/.chatterm/sessions.db). Empty string with Disabled
	// false uses the default.
	DBPath string `toml:"db_path"`
	// Disabled turns off the persistent snapshot.
	Disabled bool `toml:"disabled"`
}

// DevCredentials are the environment-provided development sign-in
// credentials for the auto-login fallback.
type DevCredentials struct {
	Email    string
	Password string
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Version:     "0.1.0",
		Environment: "development",
		Server: ServerConfig{
			BaseURL:     "http://localhost:8000/api/v1",
			TimeoutSecs: 30,
		},
		Identity: IdentityConfig{
			URL: "http://localhost:9999",
		},
		Auth: AuthConfig{
			InitTimeoutSecs:    3,
			SignOutTimeoutSecs: 5,
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// Dir returns the chatterm config directory (~/.chatterm).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".chatterm"), nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// SessionFilePath resolves the session file location.
func (c *Config) SessionFilePath() string {
	if c.Identity.SessionFile != "" {
		return c.Identity.SessionFile
	}
	dir, err := Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "session.json")
}

// SnapshotDBPath resolves the snapshot database location, empty when the
// snapshot is disabled.
func (c *Config) SnapshotDBPath() string {
	if c.Cache.Disabled {
		return ""
	}
	if c.Cache.DBPath != "" {
		return c.Cache.DBPath
	}
	dir, err := Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sessions.db")
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config file when present, applies environment overrides,
// and validates. A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	cfg := Default()

	path, err := Path()
	if err == nil {
		if err := LoadTOML(cfg, path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML merges a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv applies CHATTERM_* environment overrides.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CHATTERM_SERVER_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("CHATTERM_IDENTITY_URL"); v != "" {
		c.Identity.URL = v
	}
	if v := os.Getenv("CHATTERM_ANON_KEY"); v != "" {
		c.Identity.AnonKey = v
	}
	if v := os.Getenv("CHATTERM_ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("CHATTERM_OFFLINE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.OfflineMode = b
		}
	}
	if v := os.Getenv("CHATTERM_INIT_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Auth.InitTimeoutSecs = n
		}
	}
}

// DevCredentialsFromEnv reads the development auto-login credentials.
// Returns zero credentials when unset.
func DevCredentialsFromEnv() DevCredentials {
	return DevCredentials{
		Email:    os.Getenv("CHATTERM_DEV_EMAIL"),
		Password: os.Getenv("CHATTERM_DEV_PASSWORD"),
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if _, err := url.Parse(c.Server.BaseURL); err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	if _, err := url.Parse(c.Identity.URL); err != nil {
		return fmt.Errorf("identity.url: %w", err)
	}
	if c.Server.TimeoutSecs <= 0 {
		c.Server.TimeoutSecs = Default().Server.TimeoutSecs
	}
	if c.Auth.InitTimeoutSecs <= 0 {
		c.Auth.InitTimeoutSecs = Default().Auth.InitTimeoutSecs
	}
	if c.Auth.SignOutTimeoutSecs <= 0 {
		c.Auth.SignOutTimeoutSecs = Default().Auth.SignOutTimeoutSecs
	}
	switch c.Environment {
	case "development", "production", "test":
	default:
		return fmt.Errorf("environment: unknown value %q", c.Environment)
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// RequestTimeout returns the server timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSecs) * time.Second
}

// InitTimeout returns the session discovery timeout as a duration.
func (c *Config) InitTimeout() time.Duration {
	return time.Duration(c.Auth.InitTimeoutSecs) * time.Second
}

// SignOutTimeout returns the sign-out force-clear timeout as a duration.
func (c *Config) SignOutTimeout() time.Duration {
	return time.Duration(c.Auth.SignOutTimeoutSecs) * time.Second
}

// IsProduction reports whether the production environment is configured.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
