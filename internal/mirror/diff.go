// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package mirror

import (
	"bytes"
	"time"

	"github.com/alpinetrack/pistebridge/internal/models"
)

// Classification is the result of comparing an incoming record against the
// stored mirror row.
type Classification string

const (
	ClassificationNew       Classification = "new"
	ClassificationUpdated   Classification = "updated"
	ClassificationUnchanged Classification = "unchanged"
)

// FeatureDiffFields lists every field the feature change detector compares.
// Fields outside this list never trigger an update on their own.
var FeatureDiffFields = []string{
	"title",
	"folder_id",
	"parent_id",
	"geometry_type",
	"coordinates",
	"properties",
	"visible",
	"marker_symbol",
	"marker_color",
	"marker_rotation",
	"upstream_updated_at",
}

// FolderDiffFields lists every field the folder change detector compares.
var FolderDiffFields = []string{
	"title",
	"parent_id",
	"visible",
}

// ImageDiffFields lists every field the image change detector compares.
// A backend_media_id change means the upstream media was replaced and the
// download must run again.
var ImageDiffFields = []string{
	"feature_id",
	"title",
	"backend_media_id",
}

// ClassifyFeature compares an incoming feature against the stored row.
// A nil existing row classifies as new.
func ClassifyFeature(existing, incoming *models.FeatureMirror) Classification {
	if existing == nil {
		return ClassificationNew
	}
	for _, field := range FeatureDiffFields {
		if !featureFieldEqual(field, existing, incoming) {
			return ClassificationUpdated
		}
	}
	return ClassificationUnchanged
}

// ClassifyFolder compares an incoming folder against the stored row.
func ClassifyFolder(existing, incoming *models.FolderMirror) Classification {
	if existing == nil {
		return ClassificationNew
	}
	for _, field := range FolderDiffFields {
		if !folderFieldEqual(field, existing, incoming) {
			return ClassificationUpdated
		}
	}
	return ClassificationUnchanged
}

// ClassifyImage compares an incoming image against the stored row.
func ClassifyImage(existing, incoming *models.ImageMirror) Classification {
	if existing == nil {
		return ClassificationNew
	}
	for _, field := range ImageDiffFields {
		if !imageFieldEqual(field, existing, incoming) {
			return ClassificationUpdated
		}
	}
	return ClassificationUnchanged
}

// GeometryChanged reports whether the incoming feature carries a different
// geometry than the stored row. Geometry changes invalidate any cached GPX
// derived from the feature.
func GeometryChanged(existing, incoming *models.FeatureMirror) bool {
	if existing == nil {
		return false
	}
	return !ptrEqual(existing.GeometryType, incoming.GeometryType) ||
		!bytes.Equal(existing.Coordinates, incoming.Coordinates)
}

func featureFieldEqual(field string, a, b *models.FeatureMirror) bool {
	switch field {
	case "title":
		return a.Title == b.Title
	case "folder_id":
		return ptrEqual(a.FolderID, b.FolderID)
	case "parent_id":
		return ptrEqual(a.ParentID, b.ParentID)
	case "geometry_type":
		return ptrEqual(a.GeometryType, b.GeometryType)
	case "coordinates":
		return bytes.Equal(a.Coordinates, b.Coordinates)
	case "properties":
		return bytes.Equal(a.Properties, b.Properties)
	case "visible":
		return a.Visible == b.Visible
	case "marker_symbol":
		return ptrEqual(a.MarkerSymbol, b.MarkerSymbol)
	case "marker_color":
		return ptrEqual(a.MarkerColor, b.MarkerColor)
	case "marker_rotation":
		return ptrEqual(a.MarkerRotation, b.MarkerRotation)
	case "upstream_updated_at":
		return timeEqual(a.UpstreamUpdatedAt, b.UpstreamUpdatedAt)
	}
	return true
}

func folderFieldEqual(field string, a, b *models.FolderMirror) bool {
	switch field {
	case "title":
		return a.Title == b.Title
	case "parent_id":
		return ptrEqual(a.ParentID, b.ParentID)
	case "visible":
		return a.Visible == b.Visible
	}
	return true
}

func imageFieldEqual(field string, a, b *models.ImageMirror) bool {
	switch field {
	case "feature_id":
		return a.FeatureID == b.FeatureID
	case "title":
		return a.Title == b.Title
	case "backend_media_id":
		return a.BackendMediaID == b.BackendMediaID
	}
	return true
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
