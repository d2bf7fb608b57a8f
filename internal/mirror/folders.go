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

// GetFolder returns the mirror row for one folder, or ErrNotFound.
func (s *Store) GetFolder(ctx context.Context, mapID, folderID string) (*models.FolderMirror, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT map_id, folder_id, title, parent_id, visible, updated_at
		FROM folders WHERE map_id = ? AND folder_id = ?`, mapID, folderID)

	var (
		f        models.FolderMirror
		parentID sql.NullString
	)
	err := row.Scan(&f.MapID, &f.FolderID, &f.Title, &parentID, &f.Visible, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query folder %s/%s: %w", mapID, folderID, err)
	}
	f.ParentID = strPtr(parentID)
	return &f, nil
}

// UpsertFolder inserts or replaces the mirror row for one folder.
func (s *Store) UpsertFolder(ctx context.Context, f *models.FolderMirror) error {
	mu := s.acquireMapLock(f.MapID)
	defer s.releaseMapLock(mu)

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO folders (map_id, folder_id, title, parent_id, visible, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (map_id, folder_id) DO UPDATE SET
			title = EXCLUDED.title,
			parent_id = EXCLUDED.parent_id,
			visible = EXCLUDED.visible,
			updated_at = EXCLUDED.updated_at`,
		f.MapID, f.FolderID, f.Title, nullStr(f.ParentID), f.Visible, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert folder %s/%s: %w", f.MapID, f.FolderID, err)
	}
	return nil
}

// CountFolders returns the number of mirrored folders for a map.
func (s *Store) CountFolders(ctx context.Context, mapID string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM folders WHERE map_id = ?`, mapID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count folders for map %s: %w", mapID, err)
	}
	return n, nil
}
