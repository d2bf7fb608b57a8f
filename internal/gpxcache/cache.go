// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

// Package gpxcache is the content-addressable cache of derived GPX
// documents, keyed by (map ID, feature ID) and stored in the blob store at
// a deterministic path.
//
// There is at most one blob per key: regeneration overwrites, never
// versions. The checksum is a SHA-256 hex digest recomputed from the bytes
// on both the write and read paths, so a read's checksum always reflects
// the content actually fetched. Staleness is not tracked here - the caller
// invalidates on geometry change during a sync pass.
package gpxcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/alpinetrack/pistebridge/internal/blob"
	"github.com/alpinetrack/pistebridge/internal/metrics"
)

// ContentType is the MIME type recorded for cached GPX blobs.
const ContentType = "application/gpx+xml"

// ErrNotCached is returned by Get when no entry exists for the key.
var ErrNotCached = errors.New("gpx not cached")

// Entry is a cached GPX document with its integrity and freshness data.
type Entry struct {
	Content   string    `json:"content"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PutResult reports where a document was cached and its checksum.
type PutResult struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

// Cache stores GPX documents in a blob store.
type Cache struct {
	store blob.Store
}

// New creates a GPX cache on top of the given blob store.
func New(store blob.Store) *Cache {
	return &Cache{store: store}
}

// Path returns the deterministic blob path for a cache key.
func Path(mapID, featureID string) string {
	return fmt.Sprintf("gpx/%s/%s.gpx", mapID, featureID)
}

// Exists reports whether an entry is present for the key.
func (c *Cache) Exists(ctx context.Context, mapID, featureID string) (bool, error) {
	_, err := c.store.Stat(ctx, Path(mapID, featureID))
	if errors.Is(err, blob.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get fetches the cached entry for the key. The checksum is recomputed
// from the fetched bytes; UpdatedAt comes from the blob store's own
// metadata. Returns ErrNotCached when absent.
func (c *Cache) Get(ctx context.Context, mapID, featureID string) (*Entry, error) {
	obj, err := c.store.Get(ctx, Path(mapID, featureID))
	if errors.Is(err, blob.ErrNotFound) {
		metrics.GPXCacheMisses.Inc()
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, err
	}

	metrics.GPXCacheHits.Inc()
	return &Entry{
		Content:   string(obj.Data),
		Checksum:  checksum(obj.Data),
		UpdatedAt: obj.ModifiedAt,
	}, nil
}

// Put stores content for the key, overwriting any existing entry.
func (c *Cache) Put(ctx context.Context, mapID, featureID, content string) (*PutResult, error) {
	path := Path(mapID, featureID)
	data := []byte(content)

	if err := c.store.Put(ctx, path, data, ContentType); err != nil {
		return nil, fmt.Errorf("cache gpx for %s/%s: %w", mapID, featureID, err)
	}

	return &PutResult{
		Path:     path,
		Checksum: checksum(data),
	}, nil
}

// Invalidate deletes the entry for the key. Invalidating an absent entry
// is a no-op.
func (c *Cache) Invalidate(ctx context.Context, mapID, featureID string) error {
	if err := c.store.Delete(ctx, Path(mapID, featureID)); err != nil {
		return fmt.Errorf("invalidate gpx for %s/%s: %w", mapID, featureID, err)
	}
	metrics.GPXCacheInvalidations.Inc()
	return nil
}

// PublicURL resolves the externally reachable URL for the key's blob.
func (c *Cache) PublicURL(mapID, featureID string) string {
	return c.store.PublicURL(Path(mapID, featureID))
}

// checksum returns the SHA-256 hex digest of data.
func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
