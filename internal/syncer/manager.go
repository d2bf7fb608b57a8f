// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

// Package syncer runs the end-to-end sync pipeline for one map: fetch
// upstream state, classify against the mirror, upsert changed rows, download
// pending media, and propagate the results to runs.
//
// A pass is sequential within one map. Concurrent passes for the same map
// are rejected at the entry point with ErrSyncInProgress; different maps may
// sync in parallel.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alpinetrack/pistebridge/internal/config"
	"github.com/alpinetrack/pistebridge/internal/gpxcache"
	"github.com/alpinetrack/pistebridge/internal/logging"
	"github.com/alpinetrack/pistebridge/internal/media"
	"github.com/alpinetrack/pistebridge/internal/metrics"
	"github.com/alpinetrack/pistebridge/internal/mirror"
	"github.com/alpinetrack/pistebridge/internal/models"
	"github.com/alpinetrack/pistebridge/internal/upstream"
)

// ErrSyncInProgress is returned when a sync for the same map is already
// running.
var ErrSyncInProgress = errors.New("sync already in progress for this map")

// Manager owns the sync pipeline and its collaborators.
type Manager struct {
	store      *mirror.Store
	cache      *gpxcache.Cache
	client     upstream.Client
	downloader *media.Downloader
	cfg        config.SyncConfig

	// Single-flight guard keyed by map ID.
	mapLocks sync.Map

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New builds a Manager.
func New(store *mirror.Store, cache *gpxcache.Cache, client upstream.Client,
	downloader *media.Downloader, cfg config.SyncConfig) *Manager {
	return &Manager{
		store:      store,
		cache:      cache,
		client:     client,
		downloader: downloader,
		cfg:        cfg,
		sleep:      sleepCtx,
		now:        time.Now,
	}
}

// Sync runs one full pipeline pass for a map. Partial failure is the normal
// outcome: per-record errors land in the returned SyncLog's error list while
// the pass continues. Only an upstream fetch failure aborts the pass with a
// failed log.
func (m *Manager) Sync(ctx context.Context, mapID, mode string) (*models.SyncLog, error) {
	muIface, _ := m.mapLocks.LoadOrStore(mapID, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer mu.Unlock()

	syncID := uuid.NewString()
	ctx = logging.ContextWithSyncID(ctx, syncID)
	start := m.now().UTC()

	log := &models.SyncLog{
		ID:        syncID,
		MapID:     mapID,
		Mode:      mode,
		Status:    models.SyncStatusSyncing,
		StartedAt: start,
	}
	if err := m.store.InsertSyncLog(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to open sync log: %w", err)
	}

	logging.Ctx(ctx).Info().
		Str("map_id", mapID).
		Str("mode", mode).
		Msg("Sync started")

	err := m.runPass(ctx, mapID, mode, log)

	finished := m.now().UTC()
	log.FinishedAt = &finished
	if err != nil {
		log.Status = models.SyncStatusFailed
		log.Errors = append(log.Errors, err.Error())
		metrics.SyncErrors.WithLabelValues("fetch").Inc()
	} else {
		log.Status = models.SyncStatusCompleted
		metrics.SyncLastSuccess.WithLabelValues(mapID).Set(float64(finished.Unix()))
	}
	log.Stats.Errors = len(log.Errors)

	if ferr := m.store.FinishSyncLog(ctx, log); ferr != nil {
		logging.Ctx(ctx).Error().Err(ferr).Msg("Failed to finish sync log")
	}
	metrics.SyncDuration.Observe(finished.Sub(start).Seconds())

	logging.Ctx(ctx).Info().
		Str("map_id", mapID).
		Str("status", log.Status).
		Int("features", log.Stats.Features).
		Int("images", log.Stats.Images).
		Int("errors", log.Stats.Errors).
		Dur("duration", finished.Sub(start)).
		Msg("Sync finished")

	return log, err
}

// runPass executes fetch, classify/upsert, media, and propagation in order.
func (m *Manager) runPass(ctx context.Context, mapID, mode string, log *models.SyncLog) error {
	since := int64(0)
	if mode == models.SyncModeIncremental {
		if existing, err := m.store.GetMap(ctx, mapID); err == nil {
			since = existing.LastSyncEpoch
		} else if !errors.Is(err, mirror.ErrNotFound) {
			return fmt.Errorf("failed to load map state: %w", err)
		}
	}

	state, err := m.fetchStateWithRetry(ctx, mapID, since)
	if err != nil {
		_ = m.store.SetMapSyncStatus(ctx, mapID, models.SyncStatusFailed)
		return fmt.Errorf("failed to fetch upstream state: %w", err)
	}

	// Folders first so feature rows can reference them, then features,
	// then media objects.
	var invalidated []string
	for i := range state.Features {
		f := &state.Features[i]
		if f.Properties.Class == models.ClassFolder {
			m.syncFolder(ctx, mapID, f, log)
		}
	}
	for i := range state.Features {
		f := &state.Features[i]
		switch f.Properties.Class {
		case models.ClassShape, models.ClassMarker:
			if changed := m.syncFeature(ctx, mapID, f, log); changed {
				invalidated = append(invalidated, f.ID)
			}
		}
	}
	for i := range state.Features {
		f := &state.Features[i]
		if f.Properties.Class == models.ClassMapMedia {
			m.syncImage(ctx, mapID, f, log)
		}
	}

	if mode == models.SyncModeFull {
		if reset, err := m.store.ResetFailedImages(ctx, mapID); err != nil {
			log.Errors = append(log.Errors, fmt.Sprintf("reset failed images: %v", err))
		} else if reset > 0 {
			logging.Ctx(ctx).Info().Int64("count", reset).Msg("Re-queued failed media downloads")
		}
	}

	downloads, err := m.downloader.DownloadPending(ctx, mapID)
	if err != nil {
		log.Errors = append(log.Errors, fmt.Sprintf("media pass: %v", err))
		downloads = &media.Result{}
	}
	log.Errors = append(log.Errors, downloads.Errors...)

	m.propagate(ctx, mapID, invalidated, downloads.CompletedImages, log)

	if err := m.finishMap(ctx, mapID, state.Timestamp); err != nil {
		log.Errors = append(log.Errors, err.Error())
	}
	return nil
}

// syncFolder classifies and upserts one upstream folder.
func (m *Manager) syncFolder(ctx context.Context, mapID string, f *upstream.Feature, log *models.SyncLog) {
	incoming := buildFolder(mapID, f, m.now().UTC())

	existing, err := m.store.GetFolder(ctx, mapID, f.ID)
	if err != nil && !errors.Is(err, mirror.ErrNotFound) {
		m.recordError(log, fmt.Sprintf("folder %s: %v", f.ID, err))
		return
	}

	cls := mirror.ClassifyFolder(existing, incoming)
	metrics.SyncClassifications.WithLabelValues("folder", string(cls)).Inc()
	if cls != mirror.ClassificationUnchanged {
		if err := m.store.UpsertFolder(ctx, incoming); err != nil {
			m.recordError(log, fmt.Sprintf("folder %s: %v", f.ID, err))
			return
		}
	}
	log.Stats.Folders++
	metrics.SyncRecordsProcessed.WithLabelValues("folder").Inc()
}

// syncFeature classifies and upserts one upstream shape or marker. Returns
// true when the stored geometry changed and the cached GPX must be
// regenerated.
func (m *Manager) syncFeature(ctx context.Context, mapID string, f *upstream.Feature, log *models.SyncLog) bool {
	incoming := buildFeature(mapID, f, m.now().UTC())

	existing, err := m.store.GetFeature(ctx, mapID, f.ID)
	if err != nil && !errors.Is(err, mirror.ErrNotFound) {
		m.recordError(log, fmt.Sprintf("feature %s: %v", f.ID, err))
		return false
	}

	cls := mirror.ClassifyFeature(existing, incoming)
	entity := statsEntity(incoming)
	metrics.SyncClassifications.WithLabelValues(entity, string(cls)).Inc()

	geomChanged := mirror.GeometryChanged(existing, incoming)
	if cls != mirror.ClassificationUnchanged {
		if err := m.store.UpsertFeature(ctx, incoming); err != nil {
			m.recordError(log, fmt.Sprintf("feature %s: %v", f.ID, err))
			return false
		}
	}

	switch entity {
	case "marker":
		log.Stats.Markers++
	case "point":
		log.Stats.Points++
	default:
		log.Stats.Features++
	}
	metrics.SyncRecordsProcessed.WithLabelValues(entity).Inc()

	if geomChanged {
		if err := m.cache.Invalidate(ctx, mapID, f.ID); err != nil {
			m.recordError(log, fmt.Sprintf("invalidate gpx %s: %v", f.ID, err))
		}
		return true
	}
	return false
}

// syncImage classifies and upserts one upstream media object. New rows start
// pending; a replaced backend media ID resets the download.
func (m *Manager) syncImage(ctx context.Context, mapID string, f *upstream.Feature, log *models.SyncLog) {
	incoming := buildImage(mapID, f, m.now().UTC())

	existing, err := m.store.GetImage(ctx, mapID, f.ID)
	if err != nil && !errors.Is(err, mirror.ErrNotFound) {
		m.recordError(log, fmt.Sprintf("image %s: %v", f.ID, err))
		return
	}

	cls := mirror.ClassifyImage(existing, incoming)
	metrics.SyncClassifications.WithLabelValues("image", string(cls)).Inc()

	switch cls {
	case mirror.ClassificationUnchanged:
		// Keep the stored download state untouched.
	case mirror.ClassificationUpdated:
		// Carry the download state forward unless the media itself was
		// replaced, which requires a fresh download.
		incoming.DownloadStatus = existing.DownloadStatus
		incoming.StoragePath = existing.StoragePath
		incoming.PublicURL = existing.PublicURL
		incoming.ContentType = existing.ContentType
		incoming.SizeBytes = existing.SizeBytes
		if existing.BackendMediaID != incoming.BackendMediaID {
			incoming.DownloadStatus = models.DownloadPending
			incoming.StoragePath = nil
			incoming.PublicURL = nil
			incoming.ContentType = nil
			incoming.SizeBytes = nil
		}
		fallthrough
	case mirror.ClassificationNew:
		if err := m.store.UpsertImage(ctx, incoming); err != nil {
			m.recordError(log, fmt.Sprintf("image %s: %v", f.ID, err))
			return
		}
	}

	log.Stats.Images++
	metrics.SyncRecordsProcessed.WithLabelValues("image").Inc()
}

// finishMap refreshes the map header row after a completed pass.
func (m *Manager) finishMap(ctx context.Context, mapID string, epoch int64) error {
	name := mapID
	if existing, err := m.store.GetMap(ctx, mapID); err == nil && existing.Name != "" {
		name = existing.Name
	}

	features, err := m.store.CountFeatures(ctx, mapID)
	if err != nil {
		return fmt.Errorf("count features: %w", err)
	}
	images, err := m.store.CountImages(ctx, mapID)
	if err != nil {
		return fmt.Errorf("count images: %w", err)
	}
	folders, err := m.store.CountFolders(ctx, mapID)
	if err != nil {
		return fmt.Errorf("count folders: %w", err)
	}

	return m.store.UpsertMap(ctx, &models.MapMirror{
		ID:            mapID,
		Name:          name,
		SyncStatus:    models.SyncStatusCompleted,
		LastSyncedAt:  m.now().UTC(),
		LastSyncEpoch: epoch,
		FeatureCount:  features,
		ImageCount:    images,
		FolderCount:   folders,
	})
}

// fetchStateWithRetry fetches map state, retrying retryable upstream
// failures per the configured policy.
func (m *Manager) fetchStateWithRetry(ctx context.Context, mapID string, since int64) (*upstream.MapState, error) {
	var lastErr error
	delay := m.cfg.RetryDelay

	for attempt := 0; attempt <= m.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := m.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
		}

		state, err := m.client.FetchMapState(ctx, mapID, since)
		if err == nil {
			return state, nil
		}
		lastErr = err
		if !upstream.IsRetryable(err) {
			break
		}
		logging.Ctx(ctx).Warn().
			Str("map_id", mapID).
			Int("attempt", attempt+1).
			Err(err).
			Msg("Upstream fetch failed, will retry")
	}
	return nil, lastErr
}

func (m *Manager) recordError(log *models.SyncLog, msg string) {
	log.Errors = append(log.Errors, msg)
	metrics.SyncErrors.WithLabelValues("record").Inc()
}

// statsEntity buckets a feature for stats: markers, point shapes, and
// everything else as features.
func statsEntity(f *models.FeatureMirror) string {
	if f.Class == models.ClassMarker {
		return "marker"
	}
	if f.GeometryType != nil && *f.GeometryType == models.GeometryPoint {
		return "point"
	}
	return "feature"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
