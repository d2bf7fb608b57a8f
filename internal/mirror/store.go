// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

// Package mirror persists the local copy of upstream maps, folders,
// features, and media in DuckDB, and classifies incoming records against
// the stored rows.
//
// All mirror tables are keyed by the natural (map_id, entity_id) pair and
// written with insert-or-replace semantics (ON CONFLICT DO UPDATE). Writes
// to the same map are serialized through a per-map lock to prevent
// conflicting concurrent UPSERTs on the same rows.
package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/alpinetrack/pistebridge/internal/config"
	"github.com/alpinetrack/pistebridge/internal/logging"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("mirror record not found")

// Store wraps the DuckDB connection and provides mirror data access.
type Store struct {
	conn *sql.DB

	// Per-map write locks for concurrent UPSERTs on the same rows.
	mapLocks sync.Map
}

// New opens the mirror database and initializes the schema.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "512MB"
	}

	// Ensure the parent directory exists for file-backed databases
	if cfg.Path != ":memory:" {
		if dbDir := filepath.Dir(cfg.Path); dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, numThreads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// DuckDB is an in-process engine: a single connection avoids write
	// transaction conflicts between pool connections.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Msg("Mirror database ready")
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// initSchema creates the mirror tables if they do not exist.
func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, query := range schemaQueries() {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

// acquireMapLock returns the held write lock for a map. The caller must
// release it via releaseMapLock.
func (s *Store) acquireMapLock(mapID string) *sync.Mutex {
	muIface, _ := s.mapLocks.LoadOrStore(mapID, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	return mu
}

// releaseMapLock releases a lock acquired by acquireMapLock.
func (s *Store) releaseMapLock(mu *sync.Mutex) {
	mu.Unlock()
}

// nullStr converts an optional string for SQL parameters.
func nullStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// nullTime converts an optional time for SQL parameters.
func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}

// nullInt64 converts an optional integer for SQL parameters.
func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// nullFloat converts an optional float for SQL parameters.
func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// strPtr converts a scanned nullable string to a pointer.
func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

// timePtr converts a scanned nullable time to a pointer.
func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}

// floatPtr converts a scanned nullable float to a pointer.
func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

// int64Ptr converts a scanned nullable integer to a pointer.
func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}
