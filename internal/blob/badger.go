// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/alpinetrack/pistebridge/internal/logging"
)

// Key prefixes for BadgerDB storage. Payload and metadata live under
// separate prefixes so Stat and ListPrefix never load object bytes.
const (
	dataKeyPrefix = "data:"
	metaKeyPrefix = "meta:"
)

// BadgerStore implements Store using BadgerDB for durable storage.
type BadgerStore struct {
	db      *badger.DB
	baseURL string
}

// Options configures a BadgerStore.
type Options struct {
	// Path is the Badger data directory. Ignored when InMemory is set.
	Path string

	// InMemory runs Badger without disk persistence, for tests and
	// ephemeral deployments.
	InMemory bool

	// PublicBaseURL is the prefix for PublicURL resolution.
	PublicBaseURL string
}

// NewBadgerStore opens (or creates) a Badger-backed blob store.
func NewBadgerStore(opts Options) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	return &BadgerStore{
		db:      db,
		baseURL: strings.TrimSuffix(opts.PublicBaseURL, "/"),
	}, nil
}

// Close releases the underlying Badger database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Put stores data at path, overwriting any existing object.
func (s *BadgerStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	meta := Info{
		Path:        path,
		ContentType: contentType,
		Size:        int64(len(data)),
		ModifiedAt:  time.Now().UTC(),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal blob metadata: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataKeyPrefix+path), data); err != nil {
			return fmt.Errorf("set blob data: %w", err)
		}
		if err := txn.Set([]byte(metaKeyPrefix+path), metaBytes); err != nil {
			return fmt.Errorf("set blob metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logging.Ctx(ctx).Debug().Str("path", path).Int("size", len(data)).Msg("Blob stored")
	return nil
}

// Get fetches the object at path.
func (s *BadgerStore) Get(ctx context.Context, path string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var obj Object
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dataKeyPrefix + path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get blob data: %w", err)
		}
		obj.Data, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy blob data: %w", err)
		}

		return readMeta(txn, path, &obj.Info)
	})
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

// Stat fetches object metadata without the payload.
func (s *BadgerStore) Stat(ctx context.Context, path string) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var info Info
	err := s.db.View(func(txn *badger.Txn) error {
		return readMeta(txn, path, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Delete removes the object at path. Absent paths are a no-op.
func (s *BadgerStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(dataKeyPrefix + path)); err != nil {
			return fmt.Errorf("delete blob data: %w", err)
		}
		if err := txn.Delete([]byte(metaKeyPrefix + path)); err != nil {
			return fmt.Errorf("delete blob metadata: %w", err)
		}
		return nil
	})
}

// ListPrefix returns the paths of all objects under the prefix.
func (s *BadgerStore) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var paths []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(metaKeyPrefix + prefix)
		for it.Seek(seek); it.ValidForPrefix(seek); it.Next() {
			key := string(it.Item().Key())
			paths = append(paths, strings.TrimPrefix(key, metaKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// PublicURL resolves the externally reachable URL for a stored path.
// With no base URL configured the bare path is returned.
func (s *BadgerStore) PublicURL(path string) string {
	if s.baseURL == "" {
		return "/" + strings.TrimPrefix(path, "/")
	}
	return s.baseURL + "/" + strings.TrimPrefix(path, "/")
}

// readMeta loads the metadata record for path into info.
func readMeta(txn *badger.Txn, path string, info *Info) error {
	item, err := txn.Get([]byte(metaKeyPrefix + path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get blob metadata: %w", err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, info)
	})
}
