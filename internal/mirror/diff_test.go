// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package mirror

import (
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/alpinetrack/pistebridge/internal/models"
)

func baseFeature() *models.FeatureMirror {
	folderID := "FOLDER-1"
	geomType := models.GeometryLineString
	symbol := "skiing"
	color := "#2E7D32"
	rotation := 45.0
	upd := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	return &models.FeatureMirror{
		MapID:             "MAP1",
		FeatureID:         "F1",
		FolderID:          &folderID,
		Title:             "North Bowl",
		Class:             models.ClassShape,
		GeometryType:      &geomType,
		Coordinates:       json.RawMessage(`[[7.1,46.5],[7.2,46.6]]`),
		Properties:        json.RawMessage(`{"stroke":"#2E7D32"}`),
		Visible:           true,
		MarkerSymbol:      &symbol,
		MarkerColor:       &color,
		MarkerRotation:    &rotation,
		UpstreamUpdatedAt: &upd,
	}
}

func copyFeature(f *models.FeatureMirror) *models.FeatureMirror {
	c := *f
	return &c
}

func TestClassifyFeatureNew(t *testing.T) {
	if got := ClassifyFeature(nil, baseFeature()); got != ClassificationNew {
		t.Errorf("ClassifyFeature(nil, f) = %q, want %q", got, ClassificationNew)
	}
}

func TestClassifyFeatureUnchanged(t *testing.T) {
	if got := ClassifyFeature(baseFeature(), baseFeature()); got != ClassificationUnchanged {
		t.Errorf("ClassifyFeature(same, same) = %q, want %q", got, ClassificationUnchanged)
	}
}

// Every field in FeatureDiffFields must flip the classification on its own,
// and every mutator here must correspond to a listed field.
func TestClassifyFeatureFieldCompleteness(t *testing.T) {
	otherStr := "changed"
	otherFloat := 180.0
	otherTime := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mutators := map[string]func(*models.FeatureMirror){
		"title":               func(f *models.FeatureMirror) { f.Title = "changed" },
		"folder_id":           func(f *models.FeatureMirror) { f.FolderID = nil },
		"parent_id":           func(f *models.FeatureMirror) { f.ParentID = &otherStr },
		"geometry_type":       func(f *models.FeatureMirror) { f.GeometryType = &otherStr },
		"coordinates":         func(f *models.FeatureMirror) { f.Coordinates = json.RawMessage(`[[8.0,47.0]]`) },
		"properties":          func(f *models.FeatureMirror) { f.Properties = json.RawMessage(`{}`) },
		"visible":             func(f *models.FeatureMirror) { f.Visible = false },
		"marker_symbol":       func(f *models.FeatureMirror) { f.MarkerSymbol = &otherStr },
		"marker_color":        func(f *models.FeatureMirror) { f.MarkerColor = &otherStr },
		"marker_rotation":     func(f *models.FeatureMirror) { f.MarkerRotation = &otherFloat },
		"upstream_updated_at": func(f *models.FeatureMirror) { f.UpstreamUpdatedAt = &otherTime },
	}

	if len(mutators) != len(FeatureDiffFields) {
		t.Fatalf("mutator count %d does not match FeatureDiffFields length %d",
			len(mutators), len(FeatureDiffFields))
	}

	for _, field := range FeatureDiffFields {
		mutate, ok := mutators[field]
		if !ok {
			t.Errorf("no mutator for diff field %q", field)
			continue
		}
		incoming := copyFeature(baseFeature())
		mutate(incoming)
		if got := ClassifyFeature(baseFeature(), incoming); got != ClassificationUpdated {
			t.Errorf("mutating %q: got %q, want %q", field, got, ClassificationUpdated)
		}
	}
}

func TestClassifyFeatureIgnoresLocalTimestamp(t *testing.T) {
	existing := baseFeature()
	existing.UpdatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	incoming := baseFeature()
	incoming.UpdatedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if got := ClassifyFeature(existing, incoming); got != ClassificationUnchanged {
		t.Errorf("local updated_at must not affect classification, got %q", got)
	}
}

func TestGeometryChanged(t *testing.T) {
	polygon := models.GeometryPolygon

	tests := []struct {
		name     string
		existing *models.FeatureMirror
		mutate   func(*models.FeatureMirror)
		want     bool
	}{
		{"nil existing", nil, func(*models.FeatureMirror) {}, false},
		{"identical", baseFeature(), func(*models.FeatureMirror) {}, false},
		{"coordinates moved", baseFeature(), func(f *models.FeatureMirror) {
			f.Coordinates = json.RawMessage(`[[7.1,46.5],[7.3,46.7]]`)
		}, true},
		{"type changed", baseFeature(), func(f *models.FeatureMirror) {
			f.GeometryType = &polygon
		}, true},
		{"title only", baseFeature(), func(f *models.FeatureMirror) {
			f.Title = "renamed"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incoming := baseFeature()
			tt.mutate(incoming)
			if got := GeometryChanged(tt.existing, incoming); got != tt.want {
				t.Errorf("GeometryChanged() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyFolder(t *testing.T) {
	base := func() *models.FolderMirror {
		return &models.FolderMirror{MapID: "MAP1", FolderID: "FO1", Title: "Lifts", Visible: true}
	}

	if got := ClassifyFolder(nil, base()); got != ClassificationNew {
		t.Errorf("nil existing: got %q, want %q", got, ClassificationNew)
	}
	if got := ClassifyFolder(base(), base()); got != ClassificationUnchanged {
		t.Errorf("identical: got %q, want %q", got, ClassificationUnchanged)
	}

	renamed := base()
	renamed.Title = "Runs"
	if got := ClassifyFolder(base(), renamed); got != ClassificationUpdated {
		t.Errorf("renamed: got %q, want %q", got, ClassificationUpdated)
	}

	hidden := base()
	hidden.Visible = false
	if got := ClassifyFolder(base(), hidden); got != ClassificationUpdated {
		t.Errorf("visibility change: got %q, want %q", got, ClassificationUpdated)
	}
}

func TestClassifyImage(t *testing.T) {
	base := func() *models.ImageMirror {
		return &models.ImageMirror{
			MapID:          "MAP1",
			ImageID:        "IMG1",
			FeatureID:      "F1",
			Title:          "summit.jpg",
			BackendMediaID: "media-1",
			DownloadStatus: models.DownloadCompleted,
		}
	}

	if got := ClassifyImage(nil, base()); got != ClassificationNew {
		t.Errorf("nil existing: got %q, want %q", got, ClassificationNew)
	}
	if got := ClassifyImage(base(), base()); got != ClassificationUnchanged {
		t.Errorf("identical: got %q, want %q", got, ClassificationUnchanged)
	}

	// A replaced backend media ID must re-trigger the download.
	replaced := base()
	replaced.BackendMediaID = "media-2"
	if got := ClassifyImage(base(), replaced); got != ClassificationUpdated {
		t.Errorf("replaced media: got %q, want %q", got, ClassificationUpdated)
	}

	// Local download bookkeeping must not look like an upstream change.
	failed := base()
	failed.DownloadStatus = models.DownloadFailed
	if got := ClassifyImage(base(), failed); got != ClassificationUnchanged {
		t.Errorf("download status change: got %q, want %q", got, ClassificationUnchanged)
	}
}
