// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

// Package metrics provides Prometheus metrics for the sync pipeline and its
// collaborators. Metrics are exposed at the /metrics endpoint in Prometheus
// text format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Sync Operation Metrics
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of full sync passes in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SyncRecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_processed_total",
			Help: "Total number of mirror records processed during sync",
		},
		[]string{"entity"}, // "folder", "feature", "marker", "point", "image"
	)

	SyncClassifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_classifications_total",
			Help: "Change detector outcomes per entity type",
		},
		[]string{"entity", "result"}, // result: "new", "updated", "unchanged", "failed"
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_errors_total",
			Help: "Total number of sync errors",
		},
		[]string{"stage"}, // "fetch", "upsert", "media", "gpx", "propagate"
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of last successful sync per map",
		},
		[]string{"map_id"},
	)

	// GPX Cache Metrics
	GPXCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gpx_cache_hits_total",
			Help: "Total number of GPX cache hits",
		},
	)

	GPXCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gpx_cache_misses_total",
			Help: "Total number of GPX cache misses",
		},
	)

	GPXCacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gpx_cache_invalidations_total",
			Help: "Total number of GPX cache invalidations",
		},
	)

	// Media Downloader Metrics
	MediaDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_downloads_total",
			Help: "Total number of media download attempts by outcome",
		},
		[]string{"status"}, // "completed", "failed"
	)

	MediaDownloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_download_bytes_total",
			Help: "Total bytes of media downloaded from upstream",
		},
	)

	// Upstream Client Metrics
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Total number of upstream API requests",
		},
		[]string{"operation", "status"}, // operation: "map_state", "media", "push_feature"
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Duration of upstream API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)
