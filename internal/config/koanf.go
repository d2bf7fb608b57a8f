// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/pistebridge/config.yaml",
	"/etc/pistebridge/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values. Defaults
// are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8620,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Upstream: UpstreamConfig{
			URL:     "",
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/pistebridge.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Blob: BlobConfig{
			Path:          "/data/blobs",
			PublicBaseURL: "",
			InMemory:      false,
		},
		Sync: SyncConfig{
			DefaultMode:    "incremental",
			Interval:       0, // Manual trigger only unless configured
			RetryAttempts:  3,
			RetryDelay:     2 * time.Second,
			MediaRateLimit: 4,
			MediaBurst:     2,
			MapIDs:         nil,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: highest priority
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Transform environment variable names to koanf paths:
	// UPSTREAM_URL -> upstream.url, SYNC_RETRY_ATTEMPTS -> sync.retry_attempts
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Slice fields arrive from env as comma-separated strings
	applySliceEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		return ""
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps flat environment variable names to koanf config paths.
var envMappings = map[string]string{
	"server_host":              "server.host",
	"server_port":              "server.port",
	"server_timeout":           "server.timeout",
	"server_rate_limit_reqs":   "server.rate_limit_reqs",
	"server_rate_limit_window": "server.rate_limit_window",

	"upstream_url":            "upstream.url",
	"upstream_credential_id":  "upstream.credential_id",
	"upstream_credential_key": "upstream.credential_key",
	"upstream_timeout":        "upstream.timeout",

	"duckdb_path":         "database.path",
	"database_path":       "database.path",
	"database_max_memory": "database.max_memory",
	"database_threads":    "database.threads",

	"blob_path":            "blob.path",
	"blob_public_base_url": "blob.public_base_url",
	"blob_in_memory":       "blob.in_memory",

	"sync_default_mode":     "sync.default_mode",
	"sync_interval":         "sync.interval",
	"sync_retry_attempts":   "sync.retry_attempts",
	"sync_retry_delay":      "sync.retry_delay",
	"sync_media_rate_limit": "sync.media_rate_limit",
	"sync_media_burst":      "sync.media_burst",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf paths.
// Unknown variables are dropped so unrelated process env never leaks into
// the configuration tree.
func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return ""
}

// applySliceEnvOverrides handles the slice-valued settings that koanf's env
// provider cannot split itself.
func applySliceEnvOverrides(cfg *Config) {
	if v := os.Getenv("SYNC_MAP_IDS"); v != "" {
		cfg.Sync.MapIDs = splitTrimmed(v)
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitTrimmed(v)
	}
}

func splitTrimmed(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
