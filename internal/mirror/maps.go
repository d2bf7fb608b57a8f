// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alpinetrack/pistebridge/internal/models"
)

// GetMap returns the mirror row for one map, or ErrNotFound.
func (s *Store) GetMap(ctx context.Context, mapID string) (*models.MapMirror, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT map_id, name, sync_status, last_synced_at, last_sync_epoch,
		       feature_count, image_count, folder_count
		FROM maps WHERE map_id = ?`, mapID)

	var m models.MapMirror
	err := row.Scan(&m.ID, &m.Name, &m.SyncStatus, &m.LastSyncedAt, &m.LastSyncEpoch,
		&m.FeatureCount, &m.ImageCount, &m.FolderCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query map %s: %w", mapID, err)
	}
	return &m, nil
}

// UpsertMap inserts or replaces the mirror row for one map.
func (s *Store) UpsertMap(ctx context.Context, m *models.MapMirror) error {
	mu := s.acquireMapLock(m.ID)
	defer s.releaseMapLock(mu)

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO maps (map_id, name, sync_status, last_synced_at, last_sync_epoch,
		                  feature_count, image_count, folder_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (map_id) DO UPDATE SET
			name = EXCLUDED.name,
			sync_status = EXCLUDED.sync_status,
			last_synced_at = EXCLUDED.last_synced_at,
			last_sync_epoch = EXCLUDED.last_sync_epoch,
			feature_count = EXCLUDED.feature_count,
			image_count = EXCLUDED.image_count,
			folder_count = EXCLUDED.folder_count`,
		m.ID, m.Name, m.SyncStatus, m.LastSyncedAt, m.LastSyncEpoch,
		m.FeatureCount, m.ImageCount, m.FolderCount)
	if err != nil {
		return fmt.Errorf("failed to upsert map %s: %w", m.ID, err)
	}
	return nil
}

// SetMapSyncStatus updates only the sync state of a map. Missing rows are
// ignored so a failed first sync does not create a phantom map.
func (s *Store) SetMapSyncStatus(ctx context.Context, mapID, status string) error {
	mu := s.acquireMapLock(mapID)
	defer s.releaseMapLock(mu)

	_, err := s.conn.ExecContext(ctx,
		`UPDATE maps SET sync_status = ? WHERE map_id = ?`, status, mapID)
	if err != nil {
		return fmt.Errorf("failed to set sync status for map %s: %w", mapID, err)
	}
	return nil
}

// ListMaps returns all mirrored maps ordered by ID.
func (s *Store) ListMaps(ctx context.Context) ([]models.MapMirror, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT map_id, name, sync_status, last_synced_at, last_sync_epoch,
		       feature_count, image_count, folder_count
		FROM maps ORDER BY map_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query maps: %w", err)
	}
	defer rows.Close()

	var maps []models.MapMirror
	for rows.Next() {
		var m models.MapMirror
		if err := rows.Scan(&m.ID, &m.Name, &m.SyncStatus, &m.LastSyncedAt, &m.LastSyncEpoch,
			&m.FeatureCount, &m.ImageCount, &m.FolderCount); err != nil {
			return nil, fmt.Errorf("failed to scan map row: %w", err)
		}
		maps = append(maps, m)
	}
	return maps, rows.Err()
}
