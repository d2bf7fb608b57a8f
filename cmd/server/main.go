// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

// Command server runs the Piste Bridge HTTP service: upstream map sync,
// media mirroring, GPX derivation, and run propagation.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alpinetrack/pistebridge/internal/api"
	"github.com/alpinetrack/pistebridge/internal/blob"
	"github.com/alpinetrack/pistebridge/internal/config"
	"github.com/alpinetrack/pistebridge/internal/gpxcache"
	"github.com/alpinetrack/pistebridge/internal/logging"
	"github.com/alpinetrack/pistebridge/internal/media"
	"github.com/alpinetrack/pistebridge/internal/mirror"
	"github.com/alpinetrack/pistebridge/internal/syncer"
	"github.com/alpinetrack/pistebridge/internal/upstream"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
}

func run() error {
	// Bootstrap logging with defaults so config errors are visible; the
	// configured settings take over right after loading.
	logging.Init(logging.Config{Level: "info", Format: "json"})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	store, err := mirror.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open mirror store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close mirror store")
		}
	}()

	blobs, err := blob.NewBadgerStore(blob.Options{
		Path:          cfg.Blob.Path,
		InMemory:      cfg.Blob.InMemory,
		PublicBaseURL: cfg.Blob.PublicBaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}
	defer func() {
		if err := blobs.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close blob store")
		}
	}()

	client := upstream.NewHTTPClient(
		cfg.Upstream.URL,
		cfg.Upstream.CredentialID,
		cfg.Upstream.CredentialKey,
		cfg.Upstream.Timeout,
	)

	cache := gpxcache.New(blobs)
	downloader := media.New(store, blobs, client, media.Options{
		RetryAttempts: cfg.Sync.RetryAttempts,
		RetryDelay:    cfg.Sync.RetryDelay,
		RatePerSecond: cfg.Sync.MediaRateLimit,
		Burst:         cfg.Sync.MediaBurst,
	})
	manager := syncer.New(store, cache, client, downloader, cfg.Sync)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go manager.Run(ctx)

	handler := api.NewRouter(api.NewServer(manager, store, cfg))
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       2 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	logging.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logging.Info().Msg("Server stopped")
	return nil
}
