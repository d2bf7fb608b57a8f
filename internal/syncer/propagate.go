// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpinetrack/pistebridge/internal/gpx"
	"github.com/alpinetrack/pistebridge/internal/gpxcache"
	"github.com/alpinetrack/pistebridge/internal/logging"
	"github.com/alpinetrack/pistebridge/internal/mirror"
	"github.com/alpinetrack/pistebridge/internal/models"
	"github.com/alpinetrack/pistebridge/internal/upstream"
)

// GPX derivation methods reported by GenerateGPX.
const (
	MethodGeoJSON        = "geojson"
	MethodMapDataConvert = "map-data-convert"
	MethodCached         = "cached"
	MethodFailed         = "failed"
)

// GPXResult reports the outcome of one GPX derivation request.
type GPXResult struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updatedAt"`
	Method    string    `json:"method"`
}

// propagate pushes the results of a sync pass to runs: regenerated GPX for
// geometry-changed features and newly downloaded photo URLs. Propagation
// failures are logged and recorded but never roll back mirror writes.
func (m *Manager) propagate(ctx context.Context, mapID string, invalidated []string,
	completed []models.ImageMirror, log *models.SyncLog) {

	for _, featureID := range invalidated {
		runs, err := m.store.ListRunsByFeature(ctx, mapID, featureID)
		if err != nil {
			m.recordError(log, fmt.Sprintf("runs for feature %s: %v", featureID, err))
			continue
		}
		if len(runs) == 0 {
			continue
		}

		feature, err := m.store.GetFeature(ctx, mapID, featureID)
		if err != nil {
			m.recordError(log, fmt.Sprintf("feature %s: %v", featureID, err))
			continue
		}
		content, err := featureToGPX(feature)
		if err != nil {
			// Unsupported geometry skips GPX for this feature only.
			m.recordError(log, fmt.Sprintf("gpx for feature %s: %v", featureID, err))
			continue
		}
		if _, err := m.cache.Put(ctx, mapID, featureID, content); err != nil {
			m.recordError(log, fmt.Sprintf("cache gpx for feature %s: %v", featureID, err))
			continue
		}

		gpxURL := m.cache.PublicURL(mapID, featureID)
		now := m.now().UTC()
		for _, run := range runs {
			if err := m.store.SetRunGPX(ctx, run.ID, gpxURL, now); err != nil {
				m.recordError(log, fmt.Sprintf("run %s gpx reference: %v", run.ID, err))
			}
		}
		logging.Ctx(ctx).Debug().
			Str("feature_id", featureID).
			Int("runs", len(runs)).
			Msg("Regenerated GPX after geometry change")
	}

	// Group this pass's completed downloads by owning feature and append
	// their URLs to linked runs. AppendRunPhotos deduplicates, so an URL a
	// run already carries is never added twice.
	photosByFeature := make(map[string][]string)
	for _, img := range completed {
		if img.FeatureID == "" || img.PublicURL == nil {
			continue
		}
		photosByFeature[img.FeatureID] = append(photosByFeature[img.FeatureID], *img.PublicURL)
	}
	for featureID, urls := range photosByFeature {
		runs, err := m.store.ListRunsByFeature(ctx, mapID, featureID)
		if err != nil {
			m.recordError(log, fmt.Sprintf("runs for feature %s: %v", featureID, err))
			continue
		}
		for _, run := range runs {
			if _, err := m.store.AppendRunPhotos(ctx, run.ID, urls); err != nil {
				m.recordError(log, fmt.Sprintf("run %s photos: %v", run.ID, err))
			}
		}
	}
}

// GenerateGPX derives a GPX document for one feature on demand and caches
// it. The mirror geometry is preferred; a fresh upstream fetch is the
// fallback; an existing cache entry is served when neither yields geometry.
// runID, when set, gets its stored GPX reference updated on success.
func (m *Manager) GenerateGPX(ctx context.Context, mapID, featureID, runID string) (*GPXResult, error) {
	if content, err := m.mirrorFeatureGPX(ctx, mapID, featureID); err == nil {
		return m.cacheAndLink(ctx, mapID, featureID, runID, content, MethodGeoJSON)
	} else if !errors.Is(err, mirror.ErrNotFound) && !errors.Is(err, gpx.ErrUnsupportedGeometry) {
		return &GPXResult{Method: MethodFailed}, err
	}

	content, err := m.upstreamFeatureGPX(ctx, mapID, featureID)
	if err == nil {
		return m.cacheAndLink(ctx, mapID, featureID, runID, content, MethodMapDataConvert)
	}

	if entry, cerr := m.cache.Get(ctx, mapID, featureID); cerr == nil {
		return &GPXResult{
			Path:      gpxcache.Path(mapID, featureID),
			Checksum:  entry.Checksum,
			UpdatedAt: entry.UpdatedAt,
			Method:    MethodCached,
		}, nil
	}
	return &GPXResult{Method: MethodFailed}, err
}

// mirrorFeatureGPX converts the mirrored geometry of a feature.
func (m *Manager) mirrorFeatureGPX(ctx context.Context, mapID, featureID string) (string, error) {
	feature, err := m.store.GetFeature(ctx, mapID, featureID)
	if err != nil {
		return "", err
	}
	return featureToGPX(feature)
}

// upstreamFeatureGPX fetches fresh map state and converts the feature's
// geometry from the upstream payload.
func (m *Manager) upstreamFeatureGPX(ctx context.Context, mapID, featureID string) (string, error) {
	state, err := m.fetchStateWithRetry(ctx, mapID, 0)
	if err != nil {
		return "", err
	}
	for i := range state.Features {
		f := &state.Features[i]
		if f.ID != featureID || f.Geometry == nil {
			continue
		}
		return gpx.Convert(f.Geometry, gpx.Options{
			Name:      f.Properties.Title,
			Timestamp: m.now().UTC(),
		})
	}
	return "", fmt.Errorf("feature %s not found in upstream map %s", featureID, mapID)
}

// cacheAndLink stores the derived GPX and updates the run reference.
func (m *Manager) cacheAndLink(ctx context.Context, mapID, featureID, runID, content, method string) (*GPXResult, error) {
	res, err := m.cache.Put(ctx, mapID, featureID, content)
	if err != nil {
		return &GPXResult{Method: MethodFailed}, err
	}

	now := m.now().UTC()
	if runID != "" {
		if err := m.store.SetRunGPX(ctx, runID, m.cache.PublicURL(mapID, featureID), now); err != nil {
			return &GPXResult{Method: MethodFailed}, err
		}
	}
	return &GPXResult{
		Path:      res.Path,
		Checksum:  res.Checksum,
		UpdatedAt: now,
		Method:    method,
	}, nil
}

// PushRunStyle recomputes the display colors for a run's status and pushes
// them to the linked upstream feature as a property patch.
func (m *Manager) PushRunStyle(ctx context.Context, runID string) error {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.MapID == nil || run.FeatureID == nil {
		return fmt.Errorf("run %s is not linked to an upstream feature", runID)
	}

	colors := run.Status.Colors()
	patch := upstream.FeaturePatch{
		Properties: map[string]any{
			"fill":   colors.Fill,
			"stroke": colors.Stroke,
		},
	}
	if err := m.client.PushFeature(ctx, *run.MapID, *run.FeatureID, patch); err != nil {
		return fmt.Errorf("failed to push style for run %s: %w", runID, err)
	}

	logging.Ctx(ctx).Info().
		Str("run_id", runID).
		Str("status", string(run.Status)).
		Str("fill", colors.Fill).
		Msg("Pushed run style upstream")
	return nil
}

// featureToGPX converts a mirrored feature's geometry to a GPX document.
func featureToGPX(f *models.FeatureMirror) (string, error) {
	if f.GeometryType == nil || len(f.Coordinates) == 0 {
		return "", fmt.Errorf("feature %s has no geometry: %w", f.FeatureID, gpx.ErrUnsupportedGeometry)
	}
	geom := &models.Geometry{Type: *f.GeometryType, Coordinates: f.Coordinates}
	opts := gpx.Options{Name: f.Title}
	if f.Creator != nil {
		opts.Author = *f.Creator
	}
	if f.UpstreamUpdatedAt != nil {
		opts.Timestamp = *f.UpstreamUpdatedAt
	}
	return gpx.Convert(geom, opts)
}
