// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import "github.com/jcodagnone/rspogeo/spatial"

// AcceptedCategories are the osm_value tags of educational places.
var AcceptedCategories = []string{
	"college",
	"kindergarten",
	"language_school",
	"library",
	"toy_library",
	"music_school",
	"school",
	"university",
}

// Resolution is the coordinate chosen for a record. The zero value is the
// unresolved sentinel.
type Resolution struct {
	Point    spatial.Point
	Resolved bool
	// Matched is true when the candidate passed the category and postcode
	// check, false when it is the positional fallback.
	Matched   bool
	Index     int
	Candidate Candidate
}

// Unresolved means no usable coordinate could be determined.
var Unresolved = Resolution{Index: -1}

// Selector picks one candidate out of a geocoder answer.
type Selector struct {
	accepted map[string]struct{}
}

// NewSelector builds a selector for the given categories, or for
// AcceptedCategories when none are given.
func NewSelector(categories ...string) *Selector {
	if len(categories) == 0 {
		categories = AcceptedCategories
	}

	s := &Selector{accepted: make(map[string]struct{}, len(categories))}
	for _, c := range categories {
		s.accepted[c] = struct{}{}
	}

	return s
}

// Select applies, in order:
//  1. no candidates: Unresolved;
//  2. the first candidate, in geocoder order, with an accepted category and
//     exactly the record's postcode;
//  3. the first candidate.
func (s *Selector) Select(candidates []Candidate, postcode string) Resolution {
	if len(candidates) == 0 {
		return Unresolved
	}

	for i, c := range candidates {
		if _, ok := s.accepted[c.Category]; ok && c.Postcode == postcode {
			return Resolution{Point: c.Point, Resolved: true, Matched: true, Index: i, Candidate: c}
		}
	}

	return Resolution{Point: candidates[0].Point, Resolved: true, Index: 0, Candidate: candidates[0]}
}

// SelectRaw decodes a stored payload and selects from it.
func (s *Selector) SelectRaw(raw []byte, postcode string) (Resolution, error) {
	candidates, err := DecodeCandidates(raw)
	if err != nil {
		return Unresolved, err
	}

	return s.Select(candidates, postcode), nil
}
