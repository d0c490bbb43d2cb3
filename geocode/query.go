// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import "strings"

// Column names of the RSPO registry once headers are normalised.
const (
	FieldRegion      = "wojewodztwo"
	FieldLocality    = "miejscowosc"
	FieldStreet      = "ulica"
	FieldHouseNumber = "numer_budynku"
	FieldPostcode    = "kod_pocztowy"
)

// DefaultQueryFields is the order in which address attributes are sent.
var DefaultQueryFields = []string{
	FieldRegion,
	FieldLocality,
	FieldStreet,
	FieldHouseNumber,
	FieldPostcode,
}

// Attributes gives access to a record's fields by name.
type Attributes interface {
	Get(name string) (string, bool)
}

// BuildQuery joins the named attributes with single spaces, in order. Missing
// attributes are rendered as empty strings rather than skipped, so every
// value keeps its position.
func BuildQuery(r Attributes, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i], _ = r.Get(f)
	}

	return strings.Join(parts, " ")
}
