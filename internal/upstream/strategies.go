// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package upstream

import (
	"fmt"
	"net/http"
)

// updateStrategy is one (verb, path, body shape) combination for pushing a
// feature update. The upstream API's accepted update shape is inconsistent
// across deployments, so strategies are tried in fixed priority order.
type updateStrategy struct {
	name   string
	method string
	path   func(mapID, featureID string) string
	body   func(featureID string, patch FeaturePatch) any
}

// updateStrategies is the fixed priority order for feature updates:
// feature-level POST, then map-level POST with the feature embedded, then
// feature-level PUT.
var updateStrategies = []updateStrategy{
	{
		name:   "post-feature",
		method: http.MethodPost,
		path: func(mapID, featureID string) string {
			return fmt.Sprintf("/map/%s/Shape/%s", mapID, featureID)
		},
		body: func(featureID string, patch FeaturePatch) any {
			patch.ID = featureID
			return patch
		},
	},
	{
		name:   "post-map",
		method: http.MethodPost,
		path: func(mapID, _ string) string {
			return fmt.Sprintf("/map/%s", mapID)
		},
		body: func(featureID string, patch FeaturePatch) any {
			patch.ID = featureID
			return map[string]any{"features": []FeaturePatch{patch}}
		},
	},
	{
		name:   "put-feature",
		method: http.MethodPut,
		path: func(mapID, featureID string) string {
			return fmt.Sprintf("/map/%s/Shape/%s", mapID, featureID)
		},
		body: func(featureID string, patch FeaturePatch) any {
			patch.ID = featureID
			return patch
		},
	},
}
