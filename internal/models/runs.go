// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package models

import "time"

// RunStatus is the operational state of a ski run.
type RunStatus string

// Run statuses.
const (
	RunStatusOpen        RunStatus = "open"
	RunStatusConditional RunStatus = "conditional"
	RunStatusClosed      RunStatus = "closed"
)

// Run is a downstream operational record that optionally references an
// upstream (map, feature) pair and a cached GPX artifact. The sync pipeline
// treats runs strictly as consumers: it back-fills photos and GPX
// references and pushes status-derived styling upstream, nothing more.
type Run struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Status       RunStatus  `json:"status"`
	MapID        *string    `json:"map_id,omitempty"`
	FeatureID    *string    `json:"feature_id,omitempty"`
	GPXURL       *string    `json:"gpx_url,omitempty"`
	GPXUpdatedAt *time.Time `json:"gpx_updated_at,omitempty"`
	Photos       []string   `json:"photos,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// StyleColors is the display styling derived from a run's status, pushed to
// the upstream feature as a property patch.
type StyleColors struct {
	Fill   string `json:"fill"`
	Stroke string `json:"stroke"`
}

// statusColors maps each run status to fixed fill/stroke colors.
var statusColors = map[RunStatus]StyleColors{
	RunStatusOpen:        {Fill: "#2E7D32", Stroke: "#1B5E20"},
	RunStatusConditional: {Fill: "#F9A825", Stroke: "#F57F17"},
	RunStatusClosed:      {Fill: "#C62828", Stroke: "#B71C1C"},
}

// Colors returns the fill/stroke colors for the status. Unknown statuses
// fall back to the closed styling so a bad status never renders as open.
func (s RunStatus) Colors() StyleColors {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return statusColors[RunStatusClosed]
}

// Valid reports whether the status is one of the known run statuses.
func (s RunStatus) Valid() bool {
	_, ok := statusColors[s]
	return ok
}
