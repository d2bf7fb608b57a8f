// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

// Package blob provides the durable blob store holding GPX artifacts and
// downloaded media binaries.
//
// The store is path-addressed with overwrite-on-put semantics and tracks a
// small metadata record (content type, size, modified time) per object. The
// production implementation is backed by BadgerDB.
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no object exists at the requested path.
var ErrNotFound = errors.New("blob not found")

// Info describes a stored object without its payload.
type Info struct {
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// Object is a stored blob with its payload.
type Object struct {
	Info
	Data []byte
}

// Store is the blob storage contract used by the GPX cache and the media
// downloader. Puts overwrite unconditionally; there is no versioning.
type Store interface {
	// Put stores data at path, overwriting any existing object.
	Put(ctx context.Context, path string, data []byte, contentType string) error

	// Get fetches the object at path. Returns ErrNotFound if absent.
	Get(ctx context.Context, path string) (*Object, error)

	// Stat fetches object metadata without the payload. Returns
	// ErrNotFound if absent.
	Stat(ctx context.Context, path string) (*Info, error)

	// Delete removes the object at path. Deleting an absent path is a
	// no-op.
	Delete(ctx context.Context, path string) error

	// ListPrefix returns the paths of all objects under the prefix, in
	// lexical order.
	ListPrefix(ctx context.Context, prefix string) ([]string, error)

	// PublicURL resolves the externally reachable URL for a stored path.
	PublicURL(path string) string
}
