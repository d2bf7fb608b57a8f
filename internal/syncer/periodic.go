// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package syncer

import (
	"context"
	"time"

	"github.com/alpinetrack/pistebridge/internal/logging"
	"github.com/alpinetrack/pistebridge/internal/models"
)

// Run drives the periodic sync loop until the context is cancelled. It is a
// no-op when no interval is configured; syncs then happen only through the
// HTTP trigger.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.Interval <= 0 || len(m.cfg.MapIDs) == 0 {
		logging.Info().Msg("Periodic sync disabled, manual trigger only")
		return
	}

	logging.Info().
		Dur("interval", m.cfg.Interval).
		Strs("map_ids", m.cfg.MapIDs).
		Msg("Periodic sync started")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	// First pass immediately so a fresh deployment does not wait a full
	// interval for data.
	m.syncConfiguredMaps(ctx)

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Periodic sync stopped")
			return
		case <-ticker.C:
			m.syncConfiguredMaps(ctx)
		}
	}
}

func (m *Manager) syncConfiguredMaps(ctx context.Context) {
	mode := m.cfg.DefaultMode
	if mode == "" {
		mode = models.SyncModeIncremental
	}
	for _, mapID := range m.cfg.MapIDs {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.Sync(ctx, mapID, mode); err != nil {
			logging.Error().
				Str("map_id", mapID).
				Err(err).
				Msg("Periodic sync pass failed")
		}
	}
}
