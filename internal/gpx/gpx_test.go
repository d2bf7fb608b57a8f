// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package gpx

import (
	"encoding/xml"
	"errors"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/alpinetrack/pistebridge/internal/models"
)

func lineString(t *testing.T, coords [][]float64) *models.Geometry {
	t.Helper()
	raw, err := json.Marshal(coords)
	if err != nil {
		t.Fatalf("failed to marshal coordinates: %v", err)
	}
	return &models.Geometry{Type: models.GeometryLineString, Coordinates: raw}
}

func multiLineString(t *testing.T, coords [][][]float64) *models.Geometry {
	t.Helper()
	raw, err := json.Marshal(coords)
	if err != nil {
		t.Fatalf("failed to marshal coordinates: %v", err)
	}
	return &models.Geometry{Type: models.GeometryMultiLineString, Coordinates: raw}
}

// parseDoc unmarshals a produced document back into the Document struct.
func parseDoc(t *testing.T, doc string) Document {
	t.Helper()
	var parsed Document
	if err := xml.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("produced GPX does not parse: %v\n%s", err, doc)
	}
	return parsed
}

func TestConvertLineStringRoundTrip(t *testing.T) {
	coords := [][]float64{
		{7.658012345, 45.976512345, 3456.789},
		{7.659100001, 45.977200009, 3440.111},
		{7.660250000, 45.978000000, 3422.500},
	}

	doc, err := Convert(lineString(t, coords), Options{Name: "Grand Couloir"})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	parsed := parseDoc(t, doc)
	if len(parsed.Track.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(parsed.Track.Segments))
	}
	points := parsed.Track.Segments[0].Points
	if len(points) != len(coords) {
		t.Fatalf("expected %d points, got %d", len(coords), len(points))
	}

	// Round-trip preserves coordinate order within 6-decimal rounding
	for i, pt := range points {
		lat, err := strconv.ParseFloat(pt.Lat, 64)
		if err != nil {
			t.Fatalf("point %d: bad lat %q", i, pt.Lat)
		}
		lon, err := strconv.ParseFloat(pt.Lon, 64)
		if err != nil {
			t.Fatalf("point %d: bad lon %q", i, pt.Lon)
		}
		if math.Abs(lat-coords[i][1]) > 5e-7 {
			t.Errorf("point %d: lat %f drifted from %f", i, lat, coords[i][1])
		}
		if math.Abs(lon-coords[i][0]) > 5e-7 {
			t.Errorf("point %d: lon %f drifted from %f", i, lon, coords[i][0])
		}
	}
}

func TestConvertFixedPrecision(t *testing.T) {
	coords := [][]float64{{7.5, 46.0, 1500.0}}
	doc, err := Convert(lineString(t, coords), Options{})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	if !strings.Contains(doc, `lat="46.000000"`) {
		t.Errorf("expected 6-decimal latitude, got:\n%s", doc)
	}
	if !strings.Contains(doc, `lon="7.500000"`) {
		t.Errorf("expected 6-decimal longitude, got:\n%s", doc)
	}
	if !strings.Contains(doc, "<ele>1500.00</ele>") {
		t.Errorf("expected 2-decimal elevation, got:\n%s", doc)
	}
}

func TestConvertMultiLineString(t *testing.T) {
	coords := [][][]float64{
		{{7.1, 46.1}, {7.2, 46.2}},
		{{7.3, 46.3}, {7.4, 46.4}, {7.5, 46.5}},
	}

	doc, err := Convert(multiLineString(t, coords), Options{Name: "Traverse"})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	parsed := parseDoc(t, doc)
	if len(parsed.Track.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(parsed.Track.Segments))
	}
	if len(parsed.Track.Segments[0].Points) != 2 {
		t.Errorf("segment 0: expected 2 points, got %d", len(parsed.Track.Segments[0].Points))
	}
	if len(parsed.Track.Segments[1].Points) != 3 {
		t.Errorf("segment 1: expected 3 points, got %d", len(parsed.Track.Segments[1].Points))
	}
}

func TestConvertPointsWithoutElevation(t *testing.T) {
	doc, err := Convert(lineString(t, [][]float64{{7.1, 46.1}, {7.2, 46.2}}), Options{})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if strings.Contains(doc, "<ele>") {
		t.Errorf("did not expect elevation elements, got:\n%s", doc)
	}
}

func TestConvertRejectsUnsupportedGeometry(t *testing.T) {
	for _, geomType := range []string{models.GeometryPoint, models.GeometryPolygon, "GeometryCollection"} {
		t.Run(geomType, func(t *testing.T) {
			geom := &models.Geometry{Type: geomType, Coordinates: json.RawMessage(`[]`)}
			_, err := Convert(geom, Options{})
			if !errors.Is(err, ErrUnsupportedGeometry) {
				t.Errorf("expected ErrUnsupportedGeometry, got %v", err)
			}
			if err != nil && !strings.Contains(err.Error(), geomType) {
				t.Errorf("error should name the geometry type, got %v", err)
			}
		})
	}
}

func TestConvertRejectsNilGeometry(t *testing.T) {
	if _, err := Convert(nil, Options{}); !errors.Is(err, ErrUnsupportedGeometry) {
		t.Errorf("expected ErrUnsupportedGeometry for nil geometry, got %v", err)
	}
}

func TestConvertRejectsShortPosition(t *testing.T) {
	_, err := Convert(lineString(t, [][]float64{{7.1}}), Options{})
	if err == nil {
		t.Fatal("expected error for position with one value")
	}
}

func TestConvertMetadata(t *testing.T) {
	ts := time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)
	doc, err := Convert(lineString(t, [][]float64{{7.1, 46.1}, {7.2, 46.2}}), Options{
		Name:        "North Bowl",
		Description: "Groomed route export",
		Author:      "patrol",
		SourceLink:  "https://maps.example.com/m/M1",
		Timestamp:   ts,
	})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	parsed := parseDoc(t, doc)
	md := parsed.Metadata
	if md == nil {
		t.Fatal("expected metadata block")
	}
	if md.Name != "North Bowl" {
		t.Errorf("metadata name = %q", md.Name)
	}
	if md.Author == nil || md.Author.Name != "patrol" {
		t.Errorf("metadata author = %+v", md.Author)
	}
	if md.Link == nil || md.Link.Href != "https://maps.example.com/m/M1" {
		t.Errorf("metadata link = %+v", md.Link)
	}
	if md.Time != "2026-02-10T08:30:00Z" {
		t.Errorf("metadata time = %q", md.Time)
	}
	if parsed.Version != "1.1" {
		t.Errorf("gpx version = %q", parsed.Version)
	}
}

func TestConvertDeterministic(t *testing.T) {
	geom := lineString(t, [][]float64{{7.1, 46.1, 100}, {7.2, 46.2, 110}})
	opts := Options{Name: "X", Timestamp: time.Unix(1700000000, 0)}

	a, err := Convert(geom, opts)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	b, err := Convert(geom, opts)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if a != b {
		t.Error("expected identical output for identical input")
	}
}
