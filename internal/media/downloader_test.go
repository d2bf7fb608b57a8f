// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package media

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alpinetrack/pistebridge/internal/blob"
	"github.com/alpinetrack/pistebridge/internal/config"
	"github.com/alpinetrack/pistebridge/internal/mirror"
	"github.com/alpinetrack/pistebridge/internal/models"
	"github.com/alpinetrack/pistebridge/internal/upstream"
)

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46}

type fakeFetcher struct {
	data        []byte
	contentType string
	// failures is the number of leading calls that return err.
	failures int
	err      error
	calls    int
}

func (f *fakeFetcher) FetchMedia(_ context.Context, _, _ string) ([]byte, string, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, "", f.err
	}
	return f.data, f.contentType, nil
}

func setupDownloaderDeps(t *testing.T) (*mirror.Store, *blob.BadgerStore) {
	t.Helper()
	store, err := mirror.New(&config.DatabaseConfig{Path: ":memory:", Threads: 1})
	if err != nil {
		t.Fatalf("failed to open mirror store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := blob.NewBadgerStore(blob.Options{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open blob store: %v", err)
	}
	t.Cleanup(func() { _ = blobs.Close() })
	return store, blobs
}

func seedPendingImage(t *testing.T, store *mirror.Store, imageID string) {
	t.Helper()
	img := &models.ImageMirror{
		MapID:          "MAP1",
		ImageID:        imageID,
		FeatureID:      "F1",
		Title:          "Summit View.jpg",
		BackendMediaID: "media-" + imageID,
		DownloadStatus: models.DownloadPending,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := store.UpsertImage(context.Background(), img); err != nil {
		t.Fatalf("failed to seed image: %v", err)
	}
}

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestDownloadPendingCompletes(t *testing.T) {
	store, blobs := setupDownloaderDeps(t)
	seedPendingImage(t, store, "IMG1")

	fetcher := &fakeFetcher{data: jpegBytes, contentType: "image/jpeg"}
	d := New(store, blobs, fetcher, Options{})
	d.sleep = noSleep

	res, err := d.DownloadPending(context.Background(), "MAP1")
	if err != nil {
		t.Fatalf("DownloadPending: %v", err)
	}
	if res.Completed != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v, want 1 completed", res)
	}

	img, err := store.GetImage(context.Background(), "MAP1", "IMG1")
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	if img.DownloadStatus != models.DownloadCompleted {
		t.Errorf("DownloadStatus = %q, want completed", img.DownloadStatus)
	}
	if img.StoragePath == nil || !strings.HasPrefix(*img.StoragePath, "MAP1/images/") {
		t.Fatalf("StoragePath = %v, want MAP1/images/ prefix", img.StoragePath)
	}
	if !strings.HasSuffix(*img.StoragePath, "-summit-view.jpg") {
		t.Errorf("StoragePath = %q, want sanitized title suffix", *img.StoragePath)
	}
	if img.ContentType == nil || *img.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %v, want image/jpeg", img.ContentType)
	}
	if img.SizeBytes == nil || *img.SizeBytes != int64(len(jpegBytes)) {
		t.Errorf("SizeBytes = %v, want %d", img.SizeBytes, len(jpegBytes))
	}
	if img.PublicURL == nil || *img.PublicURL == "" {
		t.Error("PublicURL not recorded")
	}

	obj, err := blobs.Get(context.Background(), *img.StoragePath)
	if err != nil {
		t.Fatalf("blob Get: %v", err)
	}
	if string(obj.Data) != string(jpegBytes) {
		t.Error("stored blob does not match fetched bytes")
	}
}

func TestDownloadFailureMarksFailedAndContinues(t *testing.T) {
	store, blobs := setupDownloaderDeps(t)
	seedPendingImage(t, store, "IMG1")
	seedPendingImage(t, store, "IMG2")

	// IMG1 fails permanently, IMG2 succeeds.
	fetcher := &fakeFetcher{
		data:        jpegBytes,
		contentType: "image/jpeg",
		failures:    1,
		err:         &upstream.Error{Operation: "media", StatusCode: 404, Body: "gone"},
	}
	d := New(store, blobs, fetcher, Options{RetryAttempts: 3, RetryDelay: time.Millisecond})
	d.sleep = noSleep

	res, err := d.DownloadPending(context.Background(), "MAP1")
	if err != nil {
		t.Fatalf("DownloadPending: %v", err)
	}
	if res.Completed != 1 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 1 completed 1 failed", res)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "IMG1") {
		t.Errorf("Errors = %v, want one entry naming IMG1", res.Errors)
	}
	// 404 is permanent, so IMG1 must not have been retried.
	if fetcher.calls != 2 {
		t.Errorf("fetch calls = %d, want 2 (no retry of the 404)", fetcher.calls)
	}

	img, err := store.GetImage(context.Background(), "MAP1", "IMG1")
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	if img.DownloadStatus != models.DownloadFailed {
		t.Errorf("DownloadStatus = %q, want failed", img.DownloadStatus)
	}
	if img.ErrorMessage == nil || *img.ErrorMessage == "" {
		t.Error("ErrorMessage not recorded")
	}
}

func TestDownloadRetriesTransientFailures(t *testing.T) {
	store, blobs := setupDownloaderDeps(t)
	seedPendingImage(t, store, "IMG1")

	fetcher := &fakeFetcher{
		data:        jpegBytes,
		contentType: "image/jpeg",
		failures:    2,
		err:         &upstream.Error{Operation: "media", StatusCode: 503, Body: "unavailable"},
	}
	d := New(store, blobs, fetcher, Options{RetryAttempts: 3, RetryDelay: time.Millisecond})
	d.sleep = noSleep

	res, err := d.DownloadPending(context.Background(), "MAP1")
	if err != nil {
		t.Fatalf("DownloadPending: %v", err)
	}
	if res.Completed != 1 {
		t.Fatalf("result = %+v, want completed after retries", res)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetch calls = %d, want 3", fetcher.calls)
	}
}

func TestDownloadRetriesExhausted(t *testing.T) {
	store, blobs := setupDownloaderDeps(t)
	seedPendingImage(t, store, "IMG1")

	fetcher := &fakeFetcher{
		failures: 100,
		err:      &upstream.Error{Operation: "media", StatusCode: 500, Body: "boom"},
	}
	d := New(store, blobs, fetcher, Options{RetryAttempts: 2, RetryDelay: time.Millisecond})
	d.sleep = noSleep

	res, err := d.DownloadPending(context.Background(), "MAP1")
	if err != nil {
		t.Fatalf("DownloadPending: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("result = %+v, want 1 failed", res)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetch calls = %d, want 3 (initial + 2 retries)", fetcher.calls)
	}
}

func TestResolveContentType(t *testing.T) {
	pngBytes := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D}

	tests := []struct {
		name     string
		declared string
		data     []byte
		title    string
		wantType string
		wantExt  string
	}{
		{"declared image type wins", "image/jpeg", pngBytes, "pic.jpg", "image/jpeg", "jpg"},
		{"declared with charset", "image/jpeg; charset=binary", jpegBytes, "pic.jpg", "image/jpeg", "jpg"},
		{"sniffed when declared generic", "application/octet-stream", pngBytes, "pic", "image/png", "png"},
		{"sniffed when declared empty", "", jpegBytes, "", "image/jpeg", "jpg"},
		{"extension fallback", "text/plain", []byte("not an image"), "photo.jpg", "image/jpeg", "jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotExt := resolveContentType(tt.declared, tt.data, tt.title)
			if gotType != tt.wantType || gotExt != tt.wantExt {
				t.Errorf("resolveContentType() = (%q, %q), want (%q, %q)",
					gotType, gotExt, tt.wantType, tt.wantExt)
			}
		})
	}
}

func TestStoragePathSanitization(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	got := storagePathFor("MAP1", "Crête du Midi / North!.JPG", "jpg", now)
	want := "MAP1/images/1768035600000-cr-te-du-midi-north.jpg"
	if got != want {
		t.Errorf("storagePathFor() = %q, want %q", got, want)
	}

	got = storagePathFor("MAP1", "", "", now)
	if !strings.HasSuffix(got, "-image.bin") {
		t.Errorf("empty title path = %q, want image.bin fallback", got)
	}
}
