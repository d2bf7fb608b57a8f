// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package mirror

// schemaQueries returns the DDL executed at startup. Every statement is
// idempotent so the store can be opened against an existing database.
func schemaQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS maps (
			map_id VARCHAR PRIMARY KEY,
			name VARCHAR NOT NULL DEFAULT '',
			sync_status VARCHAR NOT NULL DEFAULT 'completed',
			last_synced_at TIMESTAMP NOT NULL,
			last_sync_epoch BIGINT NOT NULL DEFAULT 0,
			feature_count INTEGER NOT NULL DEFAULT 0,
			image_count INTEGER NOT NULL DEFAULT 0,
			folder_count INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS folders (
			map_id VARCHAR NOT NULL,
			folder_id VARCHAR NOT NULL,
			title VARCHAR NOT NULL DEFAULT '',
			parent_id VARCHAR,
			visible BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (map_id, folder_id)
		)`,

		`CREATE TABLE IF NOT EXISTS features (
			map_id VARCHAR NOT NULL,
			feature_id VARCHAR NOT NULL,
			folder_id VARCHAR,
			parent_id VARCHAR,
			title VARCHAR NOT NULL DEFAULT '',
			class VARCHAR NOT NULL,
			geometry_type VARCHAR,
			coordinates VARCHAR NOT NULL DEFAULT '',
			properties VARCHAR NOT NULL DEFAULT '{}',
			visible BOOLEAN NOT NULL DEFAULT TRUE,
			marker_symbol VARCHAR,
			marker_color VARCHAR,
			marker_rotation DOUBLE,
			creator VARCHAR,
			upstream_created_at TIMESTAMP,
			upstream_updated_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (map_id, feature_id)
		)`,

		`CREATE TABLE IF NOT EXISTS images (
			map_id VARCHAR NOT NULL,
			image_id VARCHAR NOT NULL,
			feature_id VARCHAR,
			title VARCHAR NOT NULL DEFAULT '',
			backend_media_id VARCHAR NOT NULL DEFAULT '',
			download_status VARCHAR NOT NULL DEFAULT 'pending',
			storage_path VARCHAR,
			public_url VARCHAR,
			content_type VARCHAR,
			size_bytes BIGINT,
			error_message VARCHAR,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (map_id, image_id)
		)`,

		`CREATE TABLE IF NOT EXISTS sync_logs (
			id VARCHAR PRIMARY KEY,
			map_id VARCHAR NOT NULL,
			mode VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			stats VARCHAR NOT NULL DEFAULT '{}',
			errors VARCHAR NOT NULL DEFAULT '[]'
		)`,

		`CREATE TABLE IF NOT EXISTS runs (
			id VARCHAR PRIMARY KEY,
			name VARCHAR NOT NULL DEFAULT '',
			status VARCHAR NOT NULL DEFAULT 'closed',
			map_id VARCHAR,
			feature_id VARCHAR,
			gpx_url VARCHAR,
			gpx_updated_at TIMESTAMP,
			photos VARCHAR NOT NULL DEFAULT '[]',
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_features_folder
			ON features (map_id, folder_id)`,
		`CREATE INDEX IF NOT EXISTS idx_images_status
			ON images (map_id, download_status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_map
			ON sync_logs (map_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_feature
			ON runs (map_id, feature_id)`,
	}
}
