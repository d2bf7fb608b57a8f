// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package syncer

import (
	"context"
	"fmt"

	"github.com/alpinetrack/pistebridge/internal/models"
)

// StatusReport summarizes the mirror for the status endpoint.
type StatusReport struct {
	Maps        []models.MapMirror `json:"maps"`
	RecentSyncs []models.SyncLog   `json:"recentSyncs"`
}

// Status reports every mirrored map and the most recent sync attempts.
func (m *Manager) Status(ctx context.Context) (*StatusReport, error) {
	maps, err := m.store.ListMaps(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list maps: %w", err)
	}
	logs, err := m.store.ListRecentSyncLogs(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	if maps == nil {
		maps = []models.MapMirror{}
	}
	if logs == nil {
		logs = []models.SyncLog{}
	}
	return &StatusReport{Maps: maps, RecentSyncs: logs}, nil
}
