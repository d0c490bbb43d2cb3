// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

// Package geocode turns school addresses into coordinates: it builds the
// free-text queries, talks to the geocoder and picks one candidate out of
// each answer.
package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"github.com/jcodagnone/rspogeo/spatial"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Candidate is one feature suggested by the geocoder.
type Candidate struct {
	Point       spatial.Point `json:"point"`
	Category    string        `json:"category"` // osm_value: school, kindergarten, ...
	Postcode    string        `json:"postcode"`
	Name        string        `json:"name,omitempty"`
	City        string        `json:"city,omitempty"`
	Street      string        `json:"street,omitempty"`
	HouseNumber string        `json:"housenumber,omitempty"`
}

// Response is the outcome of one geocoder call: the decoded candidates and
// the raw payload they were decoded from, kept so the selection can be
// recomputed later without asking again.
type Response struct {
	Candidates []Candidate
	Raw        json.RawMessage
}

// Geocoder resolves a free-text query into zero or more candidates.
type Geocoder interface {
	Resolve(ctx context.Context, query string) (*Response, error)
}

// DecodeCandidates decodes a GeoJSON FeatureCollection as returned by Photon.
// GeoJSON coordinates are [lng, lat]; the axis swap happens here and only here.
// A null payload decodes to no candidates.
func DecodeCandidates(raw []byte) ([]Candidate, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, malformed("decoding feature collection: %w", err)
	}

	ret := make([]Candidate, 0, len(fc.Features))

	for i, f := range fc.Features {
		if f == nil {
			return nil, malformed("feature %d is null", i)
		}

		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, malformed("feature %d: expected Point geometry, got %T", i, f.Geometry)
		}

		c := Candidate{
			Point:       spatial.FromLngLat(pt),
			Category:    stringProperty(f.Properties, "osm_value"),
			Postcode:    stringProperty(f.Properties, "postcode"),
			Name:        stringProperty(f.Properties, "name"),
			City:        stringProperty(f.Properties, "city"),
			Street:      stringProperty(f.Properties, "street"),
			HouseNumber: stringProperty(f.Properties, "housenumber"),
		}

		if !c.Point.Valid() {
			return nil, malformed("feature %d: coordinates out of range: %v", i, pt)
		}

		ret = append(ret, c)
	}

	return ret, nil
}

// Photon sends postcodes as strings, but OSM data occasionally carries
// numeric tags.
func stringProperty(p geojson.Properties, key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
