// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

// Package models defines the mirror entities persisted by the sync pipeline
// and the downstream operational records it updates.
//
// Mirror rows are keyed by the natural (map_id, entity_id) pair and refreshed
// on every sync pass. Runs are downstream consumers only: the pipeline
// back-fills their photo lists and cached GPX references but never creates
// or deletes them.
package models

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Feature classes as reported by the upstream mapping API.
const (
	ClassFolder   = "Folder"
	ClassShape    = "Shape"
	ClassMarker   = "Marker"
	ClassMapMedia = "MapMediaObject"
)

// Geometry types. LineString and MultiLineString are GPX-convertible;
// everything else is mirrored opaquely.
const (
	GeometryPoint           = "Point"
	GeometryLineString      = "LineString"
	GeometryMultiLineString = "MultiLineString"
	GeometryPolygon         = "Polygon"
)

// Sync modes accepted by the sync trigger endpoint.
const (
	SyncModeFull        = "full"
	SyncModeIncremental = "incremental"
)

// Map sync states.
const (
	SyncStatusSyncing   = "syncing"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

// Image download states.
const (
	DownloadPending     = "pending"
	DownloadDownloading = "downloading"
	DownloadCompleted   = "completed"
	DownloadFailed      = "failed"
)

// Geometry is the opaque geometry payload of an upstream feature. The
// coordinate payload is preserved byte-for-byte so the change detector can
// compare it without reinterpreting floats.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// MapMirror is the local record of one upstream map. Created on first sync,
// updated on every pass, never deleted by the pipeline.
type MapMirror struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	// LastSyncEpoch is the upstream timestamp of the last completed pass,
	// sent back as the since parameter on incremental fetches.
	LastSyncEpoch int64  `json:"last_sync_epoch"`
	SyncStatus    string `json:"sync_status"`
	FeatureCount  int    `json:"feature_count"`
	ImageCount    int    `json:"image_count"`
	FolderCount   int    `json:"folder_count"`
}

// FeatureMirror is the local copy of one upstream Shape or Marker.
// (MapID, FeatureID) is unique.
type FeatureMirror struct {
	MapID             string          `json:"map_id"`
	FeatureID         string          `json:"feature_id"`
	FolderID          *string         `json:"folder_id,omitempty"`
	ParentID          *string         `json:"parent_id,omitempty"`
	Title             string          `json:"title"`
	Class             string          `json:"class"`
	GeometryType      *string         `json:"geometry_type,omitempty"`
	Coordinates       json.RawMessage `json:"coordinates,omitempty"`
	Properties        json.RawMessage `json:"properties,omitempty"`
	Visible           bool            `json:"visible"`
	MarkerSymbol      *string         `json:"marker_symbol,omitempty"`
	MarkerColor       *string         `json:"marker_color,omitempty"`
	MarkerRotation    *float64        `json:"marker_rotation,omitempty"`
	Creator           *string         `json:"creator,omitempty"`
	UpstreamCreatedAt *time.Time      `json:"upstream_created_at,omitempty"`
	UpstreamUpdatedAt *time.Time      `json:"upstream_updated_at,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ImageMirror is the local record of one upstream media object.
// (MapID, ImageID) is unique. FeatureID is derived from the upstream
// parent reference string by stripping the class prefix.
type ImageMirror struct {
	MapID          string    `json:"map_id"`
	ImageID        string    `json:"image_id"`
	FeatureID      string    `json:"feature_id"`
	Title          string    `json:"title"`
	BackendMediaID string    `json:"backend_media_id"`
	DownloadStatus string    `json:"download_status"`
	StoragePath    *string   `json:"storage_path,omitempty"`
	PublicURL      *string   `json:"public_url,omitempty"`
	ContentType    *string   `json:"content_type,omitempty"`
	SizeBytes      *int64    `json:"size_bytes,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FolderMirror is the local record of one upstream folder, hierarchical via
// ParentID. Used only for grouping and display.
type FolderMirror struct {
	MapID     string    `json:"map_id"`
	FolderID  string    `json:"folder_id"`
	Title     string    `json:"title"`
	ParentID  *string   `json:"parent_id,omitempty"`
	Visible   bool      `json:"visible"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncStats holds per-entity-type counts for one sync pass. The shape
// matches the sync endpoint's response contract.
type SyncStats struct {
	Features int `json:"features"`
	Markers  int `json:"markers"`
	Points   int `json:"points"`
	Images   int `json:"images"`
	Folders  int `json:"folders"`
	Errors   int `json:"errors"`
}

// SyncLog records one sync attempt. Terminal states are completed or failed.
type SyncLog struct {
	ID         string     `json:"id"`
	MapID      string     `json:"map_id"`
	Mode       string     `json:"mode"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Stats      SyncStats  `json:"stats"`
	Errors     []string   `json:"errors,omitempty"`
}

// ParentFeatureID strips the class prefix from an upstream parent reference,
// e.g. "Shape:F1" -> "F1". References without a prefix pass through as-is.
func ParentFeatureID(parentRef string) string {
	if i := strings.IndexByte(parentRef, ':'); i >= 0 {
		return parentRef[i+1:]
	}
	return parentRef
}
