// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

// Package spatial holds the coordinate types shared by the geocoder, the
// dataset writer and the warehouse.
package spatial

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"

	"github.com/uber/h3-go/v4"
)

const earthRadius = 6371e3 // meters

// Point represents a geographical point with latitude and longitude.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// FromLngLat builds a Point from a GeoJSON style [lng, lat] pair.
func FromLngLat(c [2]float64) Point {
	return Point{Lat: c[1], Lng: c[0]}
}

// Valid reports whether the point lies within the WGS84 ranges.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lng)
}

// String returns a WKT representation of the Point.
func (p Point) String() string {
	return fmt.Sprintf("POINT (%s %s)", FormatCoord(p.Lng), FormatCoord(p.Lat))
}

// FormatCoord renders a coordinate with the shortest representation that
// round-trips, so rewriting a dataset never drifts its values.
func FormatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Value implements the driver.Valuer interface for database serialization.
func (p Point) Value() (driver.Value, error) {
	return p.String(), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (p *Point) Scan(value interface{}) error {
	if value == nil {
		p.Lat, p.Lng = 0, 0

		return nil
	}

	switch v := value.(type) {
	case []byte:
		return p.scanWKT(string(v))
	case string:
		return p.scanWKT(v)
	default:
		return fmt.Errorf("spatial: unsupported type for Point scan: %T", value)
	}
}

func (p *Point) scanWKT(s string) error {
	// The format is "POINT (lng lat)"
	if _, err := fmt.Sscanf(s, "POINT (%g %g)", &p.Lng, &p.Lat); err != nil {
		return fmt.Errorf("spatial: parsing %q: %w", s, err)
	}

	return nil
}

// Cell returns the H3 cell containing the point at the given resolution.
func (p Point) Cell(res int) (h3.Cell, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lng), res)
	if err != nil {
		return 0, fmt.Errorf("error converting to h3 cell at res %d: %w", res, err)
	}

	return cell, nil
}

// HaversineDistance calculates the distance between two points on Earth in meters.
func (p *Point) HaversineDistance(other *Point) float64 {
	lat1 := p.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - p.Lat) * math.Pi / 180
	dLng := (other.Lng - p.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
