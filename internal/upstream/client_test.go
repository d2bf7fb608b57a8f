// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestClient builds a client against the test server with backoff sleeps
// disabled.
func newTestClient(serverURL string) *HTTPClient {
	c := NewHTTPClient(serverURL, "cred-1", "secret", 5*time.Second)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

const mapStateBody = `{
	"state": {
		"type": "FeatureCollection",
		"features": [
			{
				"id": "F1",
				"geometry": {"type": "LineString", "coordinates": [[7.1, 46.1], [7.2, 46.2]]},
				"properties": {"class": "Shape", "title": "North Bowl", "folderId": "FLD1", "updated": 1700000000000}
			},
			{
				"id": "IMG1",
				"properties": {"class": "MapMediaObject", "title": "Summit photo", "parentId": "Shape:F1", "backendMediaId": "media-9"}
			}
		]
	},
	"timestamp": 1700000100
}`

func TestFetchMapState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/map/M1/since/0" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Credential-Id") != "cred-1" {
			t.Error("expected credential header")
		}
		if r.Header.Get("X-Signature") == "" {
			t.Error("expected signature header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(mapStateBody))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	state, err := client.FetchMapState(context.Background(), "M1", 0)
	if err != nil {
		t.Fatalf("FetchMapState failed: %v", err)
	}

	if state.Timestamp != 1700000100 {
		t.Errorf("timestamp = %d, want 1700000100", state.Timestamp)
	}
	if len(state.Features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(state.Features))
	}

	shape := state.Features[0]
	if shape.ID != "F1" || shape.Properties.Class != "Shape" {
		t.Errorf("unexpected first feature: %+v", shape)
	}
	if shape.Geometry == nil || shape.Geometry.Type != "LineString" {
		t.Errorf("expected LineString geometry, got %+v", shape.Geometry)
	}
	if len(shape.RawProperties) == 0 {
		t.Error("expected raw property bag to be captured")
	}

	media := state.Features[1]
	if media.Properties.ParentID != "Shape:F1" || media.Properties.BackendMediaID != "media-9" {
		t.Errorf("unexpected media feature: %+v", media)
	}
}

func TestFetchMapStateIncrementalPath(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"state":{"features":[]},"timestamp":5}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.FetchMapState(context.Background(), "M1", 1700000000); err != nil {
		t.Fatalf("FetchMapState failed: %v", err)
	}
	if gotPath != "/map/M1/since/1700000000" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestFetchMapStateMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.FetchMapState(context.Background(), "M1", 0)
	if err == nil {
		t.Fatal("expected error for malformed body")
	}
	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !strings.Contains(upErr.Error(), "malformed") {
		t.Errorf("unexpected error: %v", upErr)
	}
}

func TestFetchMapStateServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.FetchMapState(context.Background(), "M1", 0)
	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if upErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", upErr.StatusCode)
	}
	if !upErr.Retryable() {
		t.Error("5xx should be retryable")
	}
}

func TestFetchMapStateNotFoundNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such map", http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.FetchMapState(context.Background(), "M-missing", 0)
	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if upErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", upErr.StatusCode)
	}
	if upErr.Retryable() {
		t.Error("404 should not be retryable")
	}
}

func TestFetchMediaReturnsBytesAndContentType(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/media/media-9/200" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	data, contentType, err := client.FetchMedia(context.Background(), "media-9", "200")
	if err != nil {
		t.Fatalf("FetchMedia failed: %v", err)
	}
	if contentType != "image/jpeg" {
		t.Errorf("content type = %q", contentType)
	}
	if len(data) != len(payload) {
		t.Errorf("expected %d bytes, got %d", len(payload), len(data))
	}
}

func TestRateLimitBackoffThenSuccess(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"state":{"features":[]},"timestamp":1}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.FetchMapState(context.Background(), "M1", 0); err != nil {
		t.Fatalf("expected success after backoff, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.FetchMapState(context.Background(), "M1", 0)
	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if upErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d", upErr.StatusCode)
	}
}

func TestFeatureVisibleDefault(t *testing.T) {
	f := &Feature{}
	if !f.Visible() {
		t.Error("visibility should default to true")
	}
	hidden := false
	f.Properties.Visible = &hidden
	if f.Visible() {
		t.Error("expected hidden feature")
	}
}
