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

// InsertSyncLog records the start of a sync pass.
func (s *Store) InsertSyncLog(ctx context.Context, log *models.SyncLog) error {
	stats, err := json.Marshal(log.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal sync stats: %w", err)
	}
	errs, err := marshalErrors(log.Errors)
	if err != nil {
		return err
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO sync_logs (id, map_id, mode, status, started_at, finished_at, stats, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.MapID, log.Mode, log.Status, log.StartedAt,
		nullTime(log.FinishedAt), string(stats), errs)
	if err != nil {
		return fmt.Errorf("failed to insert sync log %s: %w", log.ID, err)
	}
	return nil
}

// FinishSyncLog writes the terminal state of a sync pass.
func (s *Store) FinishSyncLog(ctx context.Context, log *models.SyncLog) error {
	stats, err := json.Marshal(log.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal sync stats: %w", err)
	}
	errs, err := marshalErrors(log.Errors)
	if err != nil {
		return err
	}

	_, err = s.conn.ExecContext(ctx, `
		UPDATE sync_logs
		SET status = ?, finished_at = ?, stats = ?, errors = ?
		WHERE id = ?`,
		log.Status, nullTime(log.FinishedAt), string(stats), errs, log.ID)
	if err != nil {
		return fmt.Errorf("failed to finish sync log %s: %w", log.ID, err)
	}
	return nil
}

// LatestSyncLog returns the most recent sync log for a map, or ErrNotFound.
func (s *Store) LatestSyncLog(ctx context.Context, mapID string) (*models.SyncLog, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, map_id, mode, status, started_at, finished_at, stats, errors
		FROM sync_logs WHERE map_id = ?
		ORDER BY started_at DESC LIMIT 1`, mapID)

	log, err := scanSyncLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest sync log for map %s: %w", mapID, err)
	}
	return log, nil
}

// ListRecentSyncLogs returns up to limit sync logs across all maps, newest
// first. The status endpoint reports from this list.
func (s *Store) ListRecentSyncLogs(ctx context.Context, limit int) ([]models.SyncLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, map_id, mode, status, started_at, finished_at, stats, errors
		FROM sync_logs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var logs []models.SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log row: %w", err)
		}
		logs = append(logs, *log)
	}
	return logs, rows.Err()
}

func scanSyncLog(row rowScanner) (*models.SyncLog, error) {
	var (
		log        models.SyncLog
		finishedAt sql.NullTime
		stats      string
		errsRaw    string
	)
	err := row.Scan(&log.ID, &log.MapID, &log.Mode, &log.Status,
		&log.StartedAt, &finishedAt, &stats, &errsRaw)
	if err != nil {
		return nil, err
	}
	log.FinishedAt = timePtr(finishedAt)
	if err := json.Unmarshal([]byte(stats), &log.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync stats: %w", err)
	}
	if errsRaw != "" {
		if err := json.Unmarshal([]byte(errsRaw), &log.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sync errors: %w", err)
		}
	}
	return &log, nil
}

func marshalErrors(errs []string) (string, error) {
	if errs == nil {
		errs = []string{}
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal sync errors: %w", err)
	}
	return string(b), nil
}
