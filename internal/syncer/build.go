// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package syncer

import (
	"time"

	"github.com/alpinetrack/pistebridge/internal/models"
	"github.com/alpinetrack/pistebridge/internal/upstream"
)

// buildFeature converts an upstream shape or marker to its mirror row.
func buildFeature(mapID string, f *upstream.Feature, now time.Time) *models.FeatureMirror {
	out := &models.FeatureMirror{
		MapID:      mapID,
		FeatureID:  f.ID,
		Title:      f.Properties.Title,
		Class:      f.Properties.Class,
		Properties: f.RawProperties,
		Visible:    f.Visible(),
		UpdatedAt:  now,
	}
	if f.Properties.FolderID != "" {
		out.FolderID = ptr(f.Properties.FolderID)
	}
	if f.Properties.ParentID != "" {
		out.ParentID = ptr(f.Properties.ParentID)
	}
	if f.Geometry != nil {
		out.GeometryType = ptr(f.Geometry.Type)
		out.Coordinates = f.Geometry.Coordinates
	}
	if f.Properties.MarkerSymbol != "" {
		out.MarkerSymbol = ptr(f.Properties.MarkerSymbol)
	}
	if f.Properties.MarkerColor != "" {
		out.MarkerColor = ptr(f.Properties.MarkerColor)
	}
	out.MarkerRotation = f.Properties.MarkerRotation
	if f.Properties.Creator != "" {
		out.Creator = ptr(f.Properties.Creator)
	}
	if f.Properties.Created > 0 {
		out.UpstreamCreatedAt = ptr(time.UnixMilli(f.Properties.Created).UTC())
	}
	if f.Properties.Updated > 0 {
		out.UpstreamUpdatedAt = ptr(time.UnixMilli(f.Properties.Updated).UTC())
	}
	return out
}

// buildFolder converts an upstream folder to its mirror row.
func buildFolder(mapID string, f *upstream.Feature, now time.Time) *models.FolderMirror {
	out := &models.FolderMirror{
		MapID:     mapID,
		FolderID:  f.ID,
		Title:     f.Properties.Title,
		Visible:   f.Visible(),
		UpdatedAt: now,
	}
	if f.Properties.ParentID != "" {
		out.ParentID = ptr(f.Properties.ParentID)
	}
	return out
}

// buildImage converts an upstream media object to its mirror row. The owning
// feature ID comes from the parent reference with the class prefix stripped.
// New rows start pending; the caller reconciles download state for updates.
func buildImage(mapID string, f *upstream.Feature, now time.Time) *models.ImageMirror {
	return &models.ImageMirror{
		MapID:          mapID,
		ImageID:        f.ID,
		FeatureID:      models.ParentFeatureID(f.Properties.ParentID),
		Title:          f.Properties.Title,
		BackendMediaID: f.Properties.BackendMediaID,
		DownloadStatus: models.DownloadPending,
		UpdatedAt:      now,
	}
}

func ptr[T any](v T) *T {
	return &v
}
