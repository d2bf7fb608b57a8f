// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

// Package gpx converts upstream line geometries to GPX 1.1 track documents.
//
// The conversion is pure and deterministic: the same geometry and options
// always produce byte-identical output. Exactly two geometry shapes are
// supported - LineString (one track segment) and MultiLineString (one
// segment per line). Any other geometry type is a reportable error, not a
// silent skip.
//
// Coordinates are rendered at fixed precision: 6 decimals for latitude and
// longitude (about 11cm at the equator), 2 decimals for elevation.
package gpx

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/alpinetrack/pistebridge/internal/models"
)

// ErrUnsupportedGeometry is returned for geometry types other than
// LineString and MultiLineString.
var ErrUnsupportedGeometry = errors.New("unsupported geometry type")

// Creator identifies this service in the gpx element's creator attribute.
const Creator = "pistebridge"

// Options carries the document metadata for one conversion.
type Options struct {
	Name        string
	Description string
	Author      string
	SourceLink  string
	Timestamp   time.Time
}

// Document is the root GPX 1.1 element.
type Document struct {
	XMLName  xml.Name  `xml:"gpx"`
	Version  string    `xml:"version,attr"`
	Creator  string    `xml:"creator,attr"`
	XMLNS    string    `xml:"xmlns,attr"`
	Metadata *Metadata `xml:"metadata,omitempty"`
	Track    Track     `xml:"trk"`
}

// Metadata is the GPX document metadata block.
type Metadata struct {
	Name   string  `xml:"name,omitempty"`
	Desc   string  `xml:"desc,omitempty"`
	Author *Author `xml:"author,omitempty"`
	Link   *Link   `xml:"link,omitempty"`
	Time   string  `xml:"time,omitempty"`
}

// Author is the GPX author element.
type Author struct {
	Name string `xml:"name"`
}

// Link is the GPX link element.
type Link struct {
	Href string `xml:"href,attr"`
	Text string `xml:"text,omitempty"`
}

// Track holds one track with one segment per source line.
type Track struct {
	Name     string    `xml:"name,omitempty"`
	Segments []Segment `xml:"trkseg"`
}

// Segment is one ordered run of track points.
type Segment struct {
	Points []Point `xml:"trkpt"`
}

// Point is one track point. Lat/Lon/Ele are preformatted strings so the
// output precision is fixed regardless of the source float values.
type Point struct {
	Lat string `xml:"lat,attr"`
	Lon string `xml:"lon,attr"`
	Ele string `xml:"ele,omitempty"`
}

// Convert renders a feature geometry as a GPX 1.1 document string.
//
// LineString coordinates are an ordered list of [lon, lat, (ele)] positions;
// MultiLineString is a list of such lists, each becoming a separate track
// segment within a single track. Returns ErrUnsupportedGeometry (wrapped
// with the offending type) for anything else.
func Convert(geom *models.Geometry, opts Options) (string, error) {
	if geom == nil {
		return "", fmt.Errorf("%w: no geometry", ErrUnsupportedGeometry)
	}

	var lines [][][]float64
	switch geom.Type {
	case models.GeometryLineString:
		var line [][]float64
		if err := json.Unmarshal(geom.Coordinates, &line); err != nil {
			return "", fmt.Errorf("failed to decode LineString coordinates: %w", err)
		}
		lines = [][][]float64{line}
	case models.GeometryMultiLineString:
		if err := json.Unmarshal(geom.Coordinates, &lines); err != nil {
			return "", fmt.Errorf("failed to decode MultiLineString coordinates: %w", err)
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedGeometry, geom.Type)
	}

	segments := make([]Segment, 0, len(lines))
	for i, line := range lines {
		seg := Segment{Points: make([]Point, 0, len(line))}
		for j, pos := range line {
			if len(pos) < 2 {
				return "", fmt.Errorf("segment %d point %d: expected [lon, lat, (ele)], got %d values", i, j, len(pos))
			}
			pt := Point{
				Lat: formatCoord(pos[1]),
				Lon: formatCoord(pos[0]),
			}
			if len(pos) >= 3 {
				pt.Ele = formatElevation(pos[2])
			}
			seg.Points = append(seg.Points, pt)
		}
		segments = append(segments, seg)
	}

	doc := Document{
		Version: "1.1",
		Creator: Creator,
		XMLNS:   "http://www.topografix.com/GPX/1/1",
		Track:   Track{Name: opts.Name, Segments: segments},
	}
	doc.Metadata = buildMetadata(opts)

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal GPX document: %w", err)
	}

	return xml.Header + string(out) + "\n", nil
}

func buildMetadata(opts Options) *Metadata {
	md := &Metadata{
		Name: opts.Name,
		Desc: opts.Description,
	}
	if opts.Author != "" {
		md.Author = &Author{Name: opts.Author}
	}
	if opts.SourceLink != "" {
		md.Link = &Link{Href: opts.SourceLink, Text: opts.Name}
	}
	if !opts.Timestamp.IsZero() {
		md.Time = opts.Timestamp.UTC().Format(time.RFC3339)
	}
	if *md == (Metadata{}) {
		return nil
	}
	return md
}

// formatCoord renders a latitude or longitude at 6-decimal precision.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// formatElevation renders an elevation at 2-decimal precision.
func formatElevation(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
