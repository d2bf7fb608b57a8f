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
	"time"

	"github.com/goccy/go-json"

	"github.com/alpinetrack/pistebridge/internal/models"
)

// GetRun returns one run, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, name, status, map_id, feature_id, gpx_url, gpx_updated_at, photos, updated_at
		FROM runs WHERE id = ?`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", runID, err)
	}
	return run, nil
}

// UpsertRun inserts or replaces one run record.
func (s *Store) UpsertRun(ctx context.Context, run *models.Run) error {
	photos, err := marshalPhotos(run.Photos)
	if err != nil {
		return err
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO runs (id, name, status, map_id, feature_id, gpx_url, gpx_updated_at, photos, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			map_id = EXCLUDED.map_id,
			feature_id = EXCLUDED.feature_id,
			gpx_url = EXCLUDED.gpx_url,
			gpx_updated_at = EXCLUDED.gpx_updated_at,
			photos = EXCLUDED.photos,
			updated_at = EXCLUDED.updated_at`,
		run.ID, run.Name, string(run.Status), nullStr(run.MapID), nullStr(run.FeatureID),
		nullStr(run.GPXURL), nullTime(run.GPXUpdatedAt), photos, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", run.ID, err)
	}
	return nil
}

// ListRunsByFeature returns the runs linked to one upstream feature.
func (s *Store) ListRunsByFeature(ctx context.Context, mapID, featureID string) ([]models.Run, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, status, map_id, feature_id, gpx_url, gpx_updated_at, photos, updated_at
		FROM runs WHERE map_id = ? AND feature_id = ? ORDER BY id`, mapID, featureID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs for feature %s/%s: %w", mapID, featureID, err)
	}
	return collectRuns(rows)
}

// ListRunsByMap returns all runs linked to one map.
func (s *Store) ListRunsByMap(ctx context.Context, mapID string) ([]models.Run, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, status, map_id, feature_id, gpx_url, gpx_updated_at, photos, updated_at
		FROM runs WHERE map_id = ? ORDER BY id`, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs for map %s: %w", mapID, err)
	}
	return collectRuns(rows)
}

// SetRunGPX records the cached GPX reference on a run.
func (s *Store) SetRunGPX(ctx context.Context, runID, gpxURL string, updatedAt time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE runs SET gpx_url = ?, gpx_updated_at = ?, updated_at = ? WHERE id = ?`,
		gpxURL, updatedAt, updatedAt, runID)
	if err != nil {
		return fmt.Errorf("failed to set GPX reference on run %s: %w", runID, err)
	}
	return nil
}

// AppendRunPhotos merges new photo URLs into a run's photo list, skipping
// URLs already present. Returns the number of URLs actually added.
func (s *Store) AppendRunPhotos(ctx context.Context, runID string, urls []string) (int, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(run.Photos))
	for _, p := range run.Photos {
		seen[p] = struct{}{}
	}

	added := 0
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		run.Photos = append(run.Photos, u)
		added++
	}
	if added == 0 {
		return 0, nil
	}

	photos, err := marshalPhotos(run.Photos)
	if err != nil {
		return 0, err
	}
	_, err = s.conn.ExecContext(ctx, `
		UPDATE runs SET photos = ?, updated_at = ? WHERE id = ?`,
		photos, time.Now().UTC(), runID)
	if err != nil {
		return 0, fmt.Errorf("failed to append photos to run %s: %w", runID, err)
	}
	return added, nil
}

func collectRuns(rows *sql.Rows) ([]models.Run, error) {
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run          models.Run
		status       string
		mapID        sql.NullString
		featureID    sql.NullString
		gpxURL       sql.NullString
		gpxUpdatedAt sql.NullTime
		photos       string
	)
	err := row.Scan(&run.ID, &run.Name, &status, &mapID, &featureID,
		&gpxURL, &gpxUpdatedAt, &photos, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	run.MapID = strPtr(mapID)
	run.FeatureID = strPtr(featureID)
	run.GPXURL = strPtr(gpxURL)
	run.GPXUpdatedAt = timePtr(gpxUpdatedAt)
	if photos != "" {
		if err := json.Unmarshal([]byte(photos), &run.Photos); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run photos: %w", err)
		}
	}
	return &run, nil
}

func marshalPhotos(photos []string) (string, error) {
	if photos == nil {
		photos = []string{}
	}
	b, err := json.Marshal(photos)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run photos: %w", err)
	}
	return string(b), nil
}
