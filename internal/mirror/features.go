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

	"github.com/goccy/go-json"

	"github.com/alpinetrack/pistebridge/internal/models"
)

// GetFeature returns the mirror row for one feature, or ErrNotFound.
func (s *Store) GetFeature(ctx context.Context, mapID, featureID string) (*models.FeatureMirror, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT map_id, feature_id, folder_id, parent_id, title, class,
		       geometry_type, coordinates, properties, visible,
		       marker_symbol, marker_color, marker_rotation, creator,
		       upstream_created_at, upstream_updated_at, updated_at
		FROM features WHERE map_id = ? AND feature_id = ?`, mapID, featureID)

	f, err := scanFeature(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query feature %s/%s: %w", mapID, featureID, err)
	}
	return f, nil
}

// UpsertFeature inserts or replaces the mirror row for one feature. Callers
// classify first and skip unchanged records, so every call writes.
func (s *Store) UpsertFeature(ctx context.Context, f *models.FeatureMirror) error {
	mu := s.acquireMapLock(f.MapID)
	defer s.releaseMapLock(mu)

	coords := string(f.Coordinates)
	props := string(f.Properties)
	if props == "" {
		props = "{}"
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO features (map_id, feature_id, folder_id, parent_id, title, class,
		                      geometry_type, coordinates, properties, visible,
		                      marker_symbol, marker_color, marker_rotation, creator,
		                      upstream_created_at, upstream_updated_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (map_id, feature_id) DO UPDATE SET
			folder_id = EXCLUDED.folder_id,
			parent_id = EXCLUDED.parent_id,
			title = EXCLUDED.title,
			class = EXCLUDED.class,
			geometry_type = EXCLUDED.geometry_type,
			coordinates = EXCLUDED.coordinates,
			properties = EXCLUDED.properties,
			visible = EXCLUDED.visible,
			marker_symbol = EXCLUDED.marker_symbol,
			marker_color = EXCLUDED.marker_color,
			marker_rotation = EXCLUDED.marker_rotation,
			creator = EXCLUDED.creator,
			upstream_created_at = EXCLUDED.upstream_created_at,
			upstream_updated_at = EXCLUDED.upstream_updated_at,
			updated_at = EXCLUDED.updated_at`,
		f.MapID, f.FeatureID, nullStr(f.FolderID), nullStr(f.ParentID), f.Title, f.Class,
		nullStr(f.GeometryType), coords, props, f.Visible,
		nullStr(f.MarkerSymbol), nullStr(f.MarkerColor), nullFloat(f.MarkerRotation),
		nullStr(f.Creator), nullTime(f.UpstreamCreatedAt), nullTime(f.UpstreamUpdatedAt),
		f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert feature %s/%s: %w", f.MapID, f.FeatureID, err)
	}
	return nil
}

// ListFeatures returns all features of a map ordered by feature ID.
func (s *Store) ListFeatures(ctx context.Context, mapID string) ([]models.FeatureMirror, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT map_id, feature_id, folder_id, parent_id, title, class,
		       geometry_type, coordinates, properties, visible,
		       marker_symbol, marker_color, marker_rotation, creator,
		       upstream_created_at, upstream_updated_at, updated_at
		FROM features WHERE map_id = ? ORDER BY feature_id`, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to query features for map %s: %w", mapID, err)
	}
	defer rows.Close()

	var features []models.FeatureMirror
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature row: %w", err)
		}
		features = append(features, *f)
	}
	return features, rows.Err()
}

// CountFeatures returns the number of mirrored features for a map.
func (s *Store) CountFeatures(ctx context.Context, mapID string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM features WHERE map_id = ?`, mapID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count features for map %s: %w", mapID, err)
	}
	return n, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeature(row rowScanner) (*models.FeatureMirror, error) {
	var (
		f           models.FeatureMirror
		folderID    sql.NullString
		parentID    sql.NullString
		geomType    sql.NullString
		coords      string
		props       string
		symbol      sql.NullString
		color       sql.NullString
		rotation    sql.NullFloat64
		creator     sql.NullString
		createdAt   sql.NullTime
		upstreamUpd sql.NullTime
	)
	err := row.Scan(&f.MapID, &f.FeatureID, &folderID, &parentID, &f.Title, &f.Class,
		&geomType, &coords, &props, &f.Visible,
		&symbol, &color, &rotation, &creator,
		&createdAt, &upstreamUpd, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.FolderID = strPtr(folderID)
	f.ParentID = strPtr(parentID)
	f.GeometryType = strPtr(geomType)
	if coords != "" {
		f.Coordinates = json.RawMessage(coords)
	}
	if props != "" {
		f.Properties = json.RawMessage(props)
	}
	f.MarkerSymbol = strPtr(symbol)
	f.MarkerColor = strPtr(color)
	f.MarkerRotation = floatPtr(rotation)
	f.Creator = strPtr(creator)
	f.UpstreamCreatedAt = timePtr(createdAt)
	f.UpstreamUpdatedAt = timePtr(upstreamUpd)
	return &f, nil
}
