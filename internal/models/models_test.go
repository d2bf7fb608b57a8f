// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package models

import "testing"

func TestParentFeatureID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"shape prefix", "Shape:F1", "F1"},
		{"marker prefix", "Marker:abc-123", "abc-123"},
		{"no prefix", "F1", "F1"},
		{"empty", "", ""},
		{"id containing colon", "Shape:F1:rev2", "F1:rev2"},
		{"prefix only", "Shape:", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParentFeatureID(tt.input); got != tt.want {
				t.Errorf("ParentFeatureID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRunStatusColors(t *testing.T) {
	open := RunStatusOpen.Colors()
	conditional := RunStatusConditional.Colors()
	closed := RunStatusClosed.Colors()

	if open == conditional || open == closed || conditional == closed {
		t.Error("expected distinct colors per status")
	}
	if open.Fill == "" || open.Stroke == "" {
		t.Error("expected non-empty fill and stroke for open status")
	}
}

func TestRunStatusColorsUnknownFallsBackToClosed(t *testing.T) {
	got := RunStatus("groomed").Colors()
	if got != RunStatusClosed.Colors() {
		t.Errorf("unknown status colors = %+v, want closed styling", got)
	}
}

func TestRunStatusValid(t *testing.T) {
	for _, s := range []RunStatus{RunStatusOpen, RunStatusConditional, RunStatusClosed} {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if RunStatus("groomed").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}
