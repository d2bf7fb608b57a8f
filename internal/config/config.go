// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

// Package config defines the application configuration and its layered
// loading via Koanf v2 (defaults -> YAML file -> environment variables).
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Database DatabaseConfig `koanf:"database"`
	Blob     BlobConfig     `koanf:"blob"`
	Sync     SyncConfig     `koanf:"sync"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// UpstreamConfig holds connection settings for the upstream mapping API.
type UpstreamConfig struct {
	URL           string        `koanf:"url"`
	CredentialID  string        `koanf:"credential_id"`
	CredentialKey string        `koanf:"credential_key"`
	Timeout       time.Duration `koanf:"timeout"`
}

// DatabaseConfig holds DuckDB settings for the mirror store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// BlobConfig holds the Badger-backed blob store settings.
type BlobConfig struct {
	Path          string `koanf:"path"`
	PublicBaseURL string `koanf:"public_base_url"`
	InMemory      bool   `koanf:"in_memory"` // For tests and ephemeral deployments
}

// SyncConfig holds sync pipeline settings.
//
// RetryAttempts/RetryDelay define the bounded exponential retry policy for
// transient upstream failures (fetches and media downloads). Mirror writes
// are never retried: a per-record failure lands in the sync error list and
// the pass continues.
type SyncConfig struct {
	DefaultMode    string        `koanf:"default_mode"`
	Interval       time.Duration `koanf:"interval"` // 0 = manual trigger only
	RetryAttempts  int           `koanf:"retry_attempts"`
	RetryDelay     time.Duration `koanf:"retry_delay"`
	MediaRateLimit float64       `koanf:"media_rate_limit"` // media fetches per second
	MediaBurst     int           `koanf:"media_burst"`
	MapIDs         []string      `koanf:"map_ids"` // maps synced by the periodic loop
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateUpstream(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("SERVER_TIMEOUT must be positive, got %s", c.Server.Timeout)
	}
	return nil
}

func (c *Config) validateUpstream() error {
	if c.Upstream.URL == "" {
		return fmt.Errorf("UPSTREAM_URL is required")
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil {
		return fmt.Errorf("UPSTREAM_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("UPSTREAM_URL must use http or https, got %q", u.Scheme)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", c.Upstream.Timeout)
	}
	return nil
}

func (c *Config) validateSync() error {
	switch c.Sync.DefaultMode {
	case "full", "incremental":
	default:
		return fmt.Errorf("SYNC_DEFAULT_MODE must be full or incremental, got %q", c.Sync.DefaultMode)
	}
	if c.Sync.RetryAttempts < 0 || c.Sync.RetryAttempts > 10 {
		return fmt.Errorf("SYNC_RETRY_ATTEMPTS must be between 0 and 10, got %d", c.Sync.RetryAttempts)
	}
	if c.Sync.RetryAttempts > 0 && c.Sync.RetryDelay <= 0 {
		return fmt.Errorf("SYNC_RETRY_DELAY must be positive when retries are enabled")
	}
	if c.Sync.Interval > 0 && len(c.Sync.MapIDs) == 0 {
		return fmt.Errorf("SYNC_MAP_IDS is required when SYNC_INTERVAL is set")
	}
	if c.Sync.MediaRateLimit < 0 {
		return fmt.Errorf("SYNC_MEDIA_RATE_LIMIT must not be negative, got %f", c.Sync.MediaRateLimit)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace/debug/info/warn/error/fatal, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
