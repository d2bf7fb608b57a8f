// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

// Package media downloads upstream map images into the blob store.
//
// Pending ImageMirror rows are processed sequentially under a shared rate
// limiter. A download failure marks that image failed and moves on; it never
// aborts the batch. Failed images stay failed until a full sync resets them.
package media

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"

	"github.com/alpinetrack/pistebridge/internal/blob"
	"github.com/alpinetrack/pistebridge/internal/logging"
	"github.com/alpinetrack/pistebridge/internal/metrics"
	"github.com/alpinetrack/pistebridge/internal/models"
	"github.com/alpinetrack/pistebridge/internal/upstream"
)

// SizeVariant is the upstream media size requested for every download.
const SizeVariant = "2048"

// ImageStore is the mirror surface the downloader needs.
type ImageStore interface {
	ListPendingImages(ctx context.Context, mapID string) ([]models.ImageMirror, error)
	UpsertImage(ctx context.Context, img *models.ImageMirror) error
}

// Fetcher is the upstream surface the downloader needs.
type Fetcher interface {
	FetchMedia(ctx context.Context, mediaID, sizeVariant string) ([]byte, string, error)
}

// Options configures a Downloader.
type Options struct {
	// RetryAttempts is the number of additional fetch attempts after a
	// retryable upstream failure.
	RetryAttempts int
	// RetryDelay is the base delay between attempts, doubled per attempt.
	RetryDelay time.Duration
	// RatePerSecond caps upstream media fetches. Zero disables limiting.
	RatePerSecond float64
	// Burst is the limiter burst size.
	Burst int
}

// Downloader moves pending images from the upstream media API into the blob
// store and records the outcome on the mirror row.
type Downloader struct {
	store   ImageStore
	blobs   blob.Store
	fetcher Fetcher
	limiter *rate.Limiter

	retryAttempts int
	retryDelay    time.Duration

	// Injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New builds a Downloader.
func New(store ImageStore, blobs blob.Store, fetcher Fetcher, opts Options) *Downloader {
	limit := rate.Inf
	burst := opts.Burst
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		if burst <= 0 {
			burst = 1
		}
	}
	return &Downloader{
		store:         store,
		blobs:         blobs,
		fetcher:       fetcher,
		limiter:       rate.NewLimiter(limit, burst),
		retryAttempts: opts.RetryAttempts,
		retryDelay:    opts.RetryDelay,
		sleep:         sleepCtx,
		now:           time.Now,
	}
}

// Result summarizes one download pass. CompletedImages holds the rows that
// finished in this pass so the propagator can push their URLs to runs.
type Result struct {
	Completed       int
	Failed          int
	Errors          []string
	CompletedImages []models.ImageMirror
}

// DownloadPending processes every pending image of a map. Per-image failures
// are recorded and the pass continues.
func (d *Downloader) DownloadPending(ctx context.Context, mapID string) (*Result, error) {
	pending, err := d.store.ListPendingImages(ctx, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending images: %w", err)
	}

	res := &Result{}
	for i := range pending {
		img := pending[i]
		if err := d.downloadOne(ctx, &img); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("media %s: %v", img.ImageID, err))
			metrics.MediaDownloads.WithLabelValues("failed").Inc()
			logging.Ctx(ctx).Warn().
				Str("map_id", mapID).
				Str("image_id", img.ImageID).
				Err(err).
				Msg("Media download failed")
			continue
		}
		res.Completed++
		res.CompletedImages = append(res.CompletedImages, img)
		metrics.MediaDownloads.WithLabelValues("completed").Inc()
	}
	return res, nil
}

func (d *Downloader) downloadOne(ctx context.Context, img *models.ImageMirror) error {
	img.DownloadStatus = models.DownloadDownloading
	img.UpdatedAt = d.now().UTC()
	if err := d.store.UpsertImage(ctx, img); err != nil {
		return fmt.Errorf("failed to mark downloading: %w", err)
	}

	data, declaredType, err := d.fetchWithRetry(ctx, img.BackendMediaID)
	if err != nil {
		return d.markFailed(ctx, img, err)
	}

	contentType, ext := resolveContentType(declaredType, data, img.Title)
	storagePath := storagePathFor(img.MapID, img.Title, ext, d.now().UTC())

	if err := d.blobs.Put(ctx, storagePath, data, contentType); err != nil {
		return d.markFailed(ctx, img, fmt.Errorf("failed to store media: %w", err))
	}

	publicURL := d.blobs.PublicURL(storagePath)
	size := int64(len(data))
	img.DownloadStatus = models.DownloadCompleted
	img.StoragePath = &storagePath
	img.PublicURL = &publicURL
	img.ContentType = &contentType
	img.SizeBytes = &size
	img.ErrorMessage = nil
	img.UpdatedAt = d.now().UTC()
	if err := d.store.UpsertImage(ctx, img); err != nil {
		return fmt.Errorf("failed to mark completed: %w", err)
	}

	metrics.MediaDownloadBytes.Add(float64(size))
	return nil
}

// markFailed records the failure on the mirror row and returns the original
// error for the sync error list.
func (d *Downloader) markFailed(ctx context.Context, img *models.ImageMirror, cause error) error {
	msg := cause.Error()
	img.DownloadStatus = models.DownloadFailed
	img.ErrorMessage = &msg
	img.UpdatedAt = d.now().UTC()
	if err := d.store.UpsertImage(ctx, img); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("image_id", img.ImageID).
			Msg("Failed to record media failure")
	}
	return cause
}

func (d *Downloader) fetchWithRetry(ctx context.Context, mediaID string) ([]byte, string, error) {
	var lastErr error
	delay := d.retryDelay

	for attempt := 0; attempt <= d.retryAttempts; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, delay); err != nil {
				return nil, "", err
			}
			delay *= 2
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}

		data, contentType, err := d.fetcher.FetchMedia(ctx, mediaID, SizeVariant)
		if err == nil {
			return data, contentType, nil
		}
		lastErr = err
		if !upstream.IsRetryable(err) {
			break
		}
	}
	return nil, "", lastErr
}

// resolveContentType normalizes the media content type. A declared image
// type wins; otherwise the bytes are sniffed, and the filename extension is
// the last resort.
func resolveContentType(declared string, data []byte, title string) (contentType, ext string) {
	declared = strings.TrimSpace(declared)
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if strings.HasPrefix(declared, "image/") {
		return declared, extensionFor(declared, title)
	}

	sniffed := mimetype.Detect(data)
	if strings.HasPrefix(sniffed.String(), "image/") {
		return sniffed.String(), strings.TrimPrefix(sniffed.Extension(), ".")
	}

	if ext := strings.TrimPrefix(path.Ext(title), "."); ext != "" {
		if mt, _, _ := strings.Cut(mime.TypeByExtension("."+ext), ";"); strings.HasPrefix(mt, "image/") {
			return mt, ext
		}
		return "image/" + ext, ext
	}
	return sniffed.String(), strings.TrimPrefix(sniffed.Extension(), ".")
}

// extensionFor derives a file extension for a declared content type,
// preferring the title's own extension when it agrees.
func extensionFor(contentType, title string) string {
	if ext := strings.TrimPrefix(path.Ext(title), "."); ext != "" {
		return ext
	}
	if mt := mimetype.Lookup(contentType); mt != nil {
		return strings.TrimPrefix(mt.Extension(), ".")
	}
	return "bin"
}

// storagePathFor builds the deterministic-per-download blob path
// {mapID}/images/{unixMillis}-{slug}.{ext}.
func storagePathFor(mapID, title, ext string, now time.Time) string {
	slug := sanitizeTitle(title)
	if slug == "" {
		slug = "image"
	}
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/images/%d-%s.%s", mapID, now.UnixMilli(), slug, ext)
}

// sanitizeTitle keeps alphanumerics, dash, and underscore, lowercased, with
// runs of other characters collapsing to a single dash. The title's
// extension is dropped since the path carries its own.
func sanitizeTitle(title string) string {
	base := strings.TrimSuffix(title, path.Ext(title))
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(base) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
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
