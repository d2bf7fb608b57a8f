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

// GetImage returns the mirror row for one media object, or ErrNotFound.
func (s *Store) GetImage(ctx context.Context, mapID, imageID string) (*models.ImageMirror, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT map_id, image_id, feature_id, title, backend_media_id,
		       download_status, storage_path, public_url, content_type,
		       size_bytes, error_message, updated_at
		FROM images WHERE map_id = ? AND image_id = ?`, mapID, imageID)

	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query image %s/%s: %w", mapID, imageID, err)
	}
	return img, nil
}

// UpsertImage inserts or replaces the mirror row for one media object.
func (s *Store) UpsertImage(ctx context.Context, img *models.ImageMirror) error {
	mu := s.acquireMapLock(img.MapID)
	defer s.releaseMapLock(mu)

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO images (map_id, image_id, feature_id, title, backend_media_id,
		                    download_status, storage_path, public_url, content_type,
		                    size_bytes, error_message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (map_id, image_id) DO UPDATE SET
			feature_id = EXCLUDED.feature_id,
			title = EXCLUDED.title,
			backend_media_id = EXCLUDED.backend_media_id,
			download_status = EXCLUDED.download_status,
			storage_path = EXCLUDED.storage_path,
			public_url = EXCLUDED.public_url,
			content_type = EXCLUDED.content_type,
			size_bytes = EXCLUDED.size_bytes,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at`,
		img.MapID, img.ImageID, img.FeatureID, img.Title, img.BackendMediaID,
		img.DownloadStatus, nullStr(img.StoragePath), nullStr(img.PublicURL),
		nullStr(img.ContentType), nullInt64(img.SizeBytes), nullStr(img.ErrorMessage),
		img.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert image %s/%s: %w", img.MapID, img.ImageID, err)
	}
	return nil
}

// ListPendingImages returns the images of a map awaiting download, ordered
// by image ID for a deterministic download sequence.
func (s *Store) ListPendingImages(ctx context.Context, mapID string) ([]models.ImageMirror, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT map_id, image_id, feature_id, title, backend_media_id,
		       download_status, storage_path, public_url, content_type,
		       size_bytes, error_message, updated_at
		FROM images
		WHERE map_id = ? AND download_status = ?
		ORDER BY image_id`, mapID, models.DownloadPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending images for map %s: %w", mapID, err)
	}
	defer rows.Close()

	var images []models.ImageMirror
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image row: %w", err)
		}
		images = append(images, *img)
	}
	return images, rows.Err()
}

// ListImagesByFeature returns the completed images attached to one feature,
// ordered by image ID. The propagator appends their public URLs to runs.
func (s *Store) ListImagesByFeature(ctx context.Context, mapID, featureID string) ([]models.ImageMirror, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT map_id, image_id, feature_id, title, backend_media_id,
		       download_status, storage_path, public_url, content_type,
		       size_bytes, error_message, updated_at
		FROM images
		WHERE map_id = ? AND feature_id = ? AND download_status = ?
		ORDER BY image_id`, mapID, featureID, models.DownloadCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to query images for feature %s/%s: %w", mapID, featureID, err)
	}
	defer rows.Close()

	var images []models.ImageMirror
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image row: %w", err)
		}
		images = append(images, *img)
	}
	return images, rows.Err()
}

// ResetFailedImages marks failed downloads as pending again. Full syncs call
// this so previously failed media get another attempt.
func (s *Store) ResetFailedImages(ctx context.Context, mapID string) (int64, error) {
	mu := s.acquireMapLock(mapID)
	defer s.releaseMapLock(mu)

	res, err := s.conn.ExecContext(ctx, `
		UPDATE images SET download_status = ?, error_message = NULL
		WHERE map_id = ? AND download_status = ?`,
		models.DownloadPending, mapID, models.DownloadFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed images for map %s: %w", mapID, err)
	}
	return res.RowsAffected()
}

// CountImages returns the number of mirrored images for a map.
func (s *Store) CountImages(ctx context.Context, mapID string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM images WHERE map_id = ?`, mapID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count images for map %s: %w", mapID, err)
	}
	return n, nil
}

func scanImage(row rowScanner) (*models.ImageMirror, error) {
	var (
		img         models.ImageMirror
		storagePath sql.NullString
		publicURL   sql.NullString
		contentType sql.NullString
		sizeBytes   sql.NullInt64
		errMsg      sql.NullString
	)
	err := row.Scan(&img.MapID, &img.ImageID, &img.FeatureID, &img.Title,
		&img.BackendMediaID, &img.DownloadStatus, &storagePath, &publicURL,
		&contentType, &sizeBytes, &errMsg, &img.UpdatedAt)
	if err != nil {
		return nil, err
	}
	img.StoragePath = strPtr(storagePath)
	img.PublicURL = strPtr(publicURL)
	img.ContentType = strPtr(contentType)
	img.SizeBytes = int64Ptr(sizeBytes)
	img.ErrorMessage = strPtr(errMsg)
	return &img, nil
}
