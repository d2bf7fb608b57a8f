// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package gpxcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/alpinetrack/pistebridge/internal/blob"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	store, err := blob.NewBadgerStore(blob.Options{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open blob store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store)
}

func TestPath(t *testing.T) {
	if got := Path("M1", "F1"); got != "gpx/M1/F1.gpx" {
		t.Errorf("Path = %q", got)
	}
}

func TestPutGetChecksumAgreement(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	content := "<gpx version=\"1.1\"><trk/></gpx>"

	put, err := cache.Put(ctx, "M1", "F1", content)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if put.Path != "gpx/M1/F1.gpx" {
		t.Errorf("put path = %q", put.Path)
	}

	// Checksum returned by Put matches an independent SHA-256 of content
	sum := sha256.Sum256([]byte(content))
	if put.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("put checksum = %q", put.Checksum)
	}

	entry, err := cache.Get(ctx, "M1", "F1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry.Content != content {
		t.Errorf("content mismatch: %q", entry.Content)
	}
	if entry.Checksum != put.Checksum {
		t.Errorf("get checksum %q != put checksum %q", entry.Checksum, put.Checksum)
	}
	if entry.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt from blob metadata")
	}
}

func TestExists(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	ok, err := cache.Exists(ctx, "M1", "F1")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("expected absent entry")
	}

	if _, err := cache.Put(ctx, "M1", "F1", "x"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ok, err = cache.Exists(ctx, "M1", "F1")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Error("expected entry after Put")
	}
}

func TestGetMissing(t *testing.T) {
	cache := newTestCache(t)
	if _, err := cache.Get(context.Background(), "M1", "nope"); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected ErrNotCached, got %v", err)
	}
}

func TestInvalidateLifecycle(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	// absent -> present -> absent -> present
	if _, err := cache.Put(ctx, "M1", "F1", "v1"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := cache.Invalidate(ctx, "M1", "F1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := cache.Get(ctx, "M1", "F1"); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected ErrNotCached after invalidate, got %v", err)
	}
	if _, err := cache.Put(ctx, "M1", "F1", "v2"); err != nil {
		t.Fatalf("regeneration Put failed: %v", err)
	}
	entry, err := cache.Get(ctx, "M1", "F1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry.Content != "v2" {
		t.Errorf("expected regenerated content, got %q", entry.Content)
	}
}

func TestInvalidateAbsentIsNoOp(t *testing.T) {
	cache := newTestCache(t)
	if err := cache.Invalidate(context.Background(), "M1", "never-existed"); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}

func TestPutOverwritesLastWriterWins(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	first, err := cache.Put(ctx, "M1", "F1", "first")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	second, err := cache.Put(ctx, "M1", "F1", "second")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if first.Checksum == second.Checksum {
		t.Error("expected different checksums for different content")
	}

	entry, err := cache.Get(ctx, "M1", "F1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry.Checksum != second.Checksum {
		t.Error("expected last write to win")
	}
}
