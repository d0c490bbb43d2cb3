// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type mapAttributes map[string]string

func (m mapAttributes) Get(name string) (string, bool) {
	v, ok := m[name]

	return v, ok
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		record   mapAttributes
		fields   []string
		expected string
	}{
		{
			name: "all fields",
			record: mapAttributes{
				FieldRegion:      "MAZOWIECKIE",
				FieldLocality:    "Warszawa",
				FieldStreet:      "ul. Marszałkowska",
				FieldHouseNumber: "12",
				FieldPostcode:    "00-001",
			},
			fields:   DefaultQueryFields,
			expected: "MAZOWIECKIE Warszawa ul. Marszałkowska 12 00-001",
		},
		{
			name:     "missing attributes keep their position",
			record:   mapAttributes{FieldRegion: "A", FieldLocality: "B", FieldPostcode: "00-001"},
			fields:   DefaultQueryFields,
			expected: "A B   00-001",
		},
		{
			name:     "custom order",
			record:   mapAttributes{"x": "1", "y": "2"},
			fields:   []string{"y", "x"},
			expected: "2 1",
		},
		{
			name:     "no fields",
			record:   mapAttributes{"x": "1"},
			fields:   nil,
			expected: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, BuildQuery(tc.record, tc.fields))
		})
	}
}
