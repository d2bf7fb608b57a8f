// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package upstream

import (
	"github.com/goccy/go-json"

	"github.com/alpinetrack/pistebridge/internal/models"
)

// MapState is the decoded response of a map state fetch. Timestamp is the
// upstream's state clock for the map, passed back as the `since` value of
// the next incremental fetch.
type MapState struct {
	Features  []Feature
	Timestamp int64
}

// mapStateEnvelope mirrors the upstream wire shape:
//
//	{"state": {"type": "FeatureCollection", "features": [...]}, "timestamp": N}
type mapStateEnvelope struct {
	State struct {
		Features []Feature `json:"features"`
	} `json:"state"`
	Timestamp int64 `json:"timestamp"`
}

// Feature is one upstream entity: a folder, shape, marker, or media object.
// RawProperties preserves the full property bag byte-for-byte so the change
// detector can compare it opaquely.
type Feature struct {
	ID            string            `json:"id"`
	Geometry      *models.Geometry  `json:"geometry,omitempty"`
	Properties    FeatureProperties `json:"properties"`
	RawProperties json.RawMessage   `json:"-"`
}

// FeatureProperties is the parsed subset of the upstream property bag that
// the pipeline understands. Everything else rides along in RawProperties.
type FeatureProperties struct {
	Class          string   `json:"class"`
	Title          string   `json:"title"`
	FolderID       string   `json:"folderId,omitempty"`
	ParentID       string   `json:"parentId,omitempty"`
	Creator        string   `json:"creator,omitempty"`
	Created        int64    `json:"created,omitempty"` // epoch millis
	Updated        int64    `json:"updated,omitempty"` // epoch millis
	Visible        *bool    `json:"visible,omitempty"`
	MarkerSymbol   string   `json:"marker-symbol,omitempty"`
	MarkerColor    string   `json:"marker-color,omitempty"`
	MarkerRotation *float64 `json:"marker-rotation,omitempty"`
	BackendMediaID string   `json:"backendMediaId,omitempty"`
}

// UnmarshalJSON decodes the feature and captures the raw property bag.
func (f *Feature) UnmarshalJSON(data []byte) error {
	type alias Feature
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*f = Feature(a)

	var env struct {
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	f.RawProperties = env.Properties
	return nil
}

// Visible reports the feature's visibility, defaulting to true when the
// upstream omits the flag.
func (f *Feature) Visible() bool {
	if f.Properties.Visible == nil {
		return true
	}
	return *f.Properties.Visible
}

// FeaturePatch is the JSON body pushed upstream by feature update calls.
type FeaturePatch struct {
	ID         string         `json:"id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}
