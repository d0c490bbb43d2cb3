// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"log"

	"github.com/jcodagnone/rspogeo/utils/textutils"
)

// Metrics tracks what a run did.
type Metrics struct {
	Records     int // rows in the dataset
	Skipped     int // rows without id
	CacheHits   int // rows answered from the store
	Queried     int // rows sent to the geocoder
	Pending     int // rows missing from the store in an offline run
	Stored      int // entries appended to the store
	Transient   int // rows left pending after a transient error
	Malformed   int // rows stored as unusable answers
	Matched     int // rows resolved by category and postcode
	Fallback    int // rows resolved by the first candidate
	Unresolved  int // rows without a coordinate at the end of the run
	Checkpoints int
}

// Log prints a summary of the run.
func (m *Metrics) Log() {
	f := func(n int) string { return textutils.FormatInt(int64(n)) }

	log.Printf(
		"Geocoding completed - %s records: %s from store, %s queried, %s stored, %s transient errors, %s malformed answers",
		f(m.Records), f(m.CacheHits), f(m.Queried), f(m.Stored), f(m.Transient), f(m.Malformed),
	)
	if m.Pending > 0 {
		log.Printf("%s records not in the store yet", f(m.Pending))
	}

	log.Printf(
		"Coordinates - %s matched, %s fallback, %s unresolved",
		f(m.Matched), f(m.Fallback), f(m.Unresolved),
	)
}
