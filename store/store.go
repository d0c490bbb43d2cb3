// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

// Package store keeps the raw geocoder answers, keyed by record id. It is the
// source of truth for which records were already looked up.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Entry is the stored answer for one record.
type Entry struct {
	ID string `json:"id"`
	// Results is the geocoder payload as received, or null when the answer
	// could not be used.
	Results json.RawMessage `json:"results"`
	// Error explains a null Results.
	Error string `json:"error,omitempty"`
}

// HasResults reports whether the entry carries a geocoder payload.
func (e Entry) HasResults() bool {
	r := bytes.TrimSpace(e.Results)

	return len(r) != 0 && !bytes.Equal(r, []byte("null"))
}

// ResultStore is an append-only mapping from record id to Entry.
type ResultStore interface {
	// Load reads every stored entry. An absent store is empty.
	Load() (Mapping, error)
	// Append durably adds an entry for an id that is not yet stored.
	Append(e Entry) error
}

// Mapping is the in-memory view of a store.
type Mapping map[string]Entry

// Get returns the entry stored for id.
func (m Mapping) Get(id string) (Entry, bool) {
	e, ok := m[id]

	return e, ok
}

// Add inserts e unless its id is already present. Returns whether it was added.
func (m Mapping) Add(e Entry) bool {
	if _, ok := m[e.ID]; ok {
		return false
	}

	m[e.ID] = e

	return true
}

// IDs returns the stored ids in lexical order.
func (m Mapping) IDs() []string {
	return slices.Sorted(maps.Keys(m))
}

// CorruptEntryError reports a store line that could not be parsed.
type CorruptEntryError struct {
	Line int
	Err  error
}

func (e *CorruptEntryError) Error() string {
	return fmt.Sprintf("corrupt store entry at line %d: %v", e.Line, e.Err)
}

func (e *CorruptEntryError) Unwrap() error {
	return e.Err
}

var (
	errMissingID      = errors.New("missing id")
	errMissingResults = errors.New("missing results")
)

// UnmarshalJSON accepts {"id": ..., "results": ...} lines, with string or
// numeric ids, and two older shapes: {"<id>": <results>} and
// {"<id column>": <id>, "results": <results>}, as in {"numer_rspo": 7, ...}.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	rawID, hasID := fields["id"]
	if !hasID {
		if results, ok := fields["results"]; ok && len(fields) == 2 {
			for k, v := range fields {
				if k != "results" {
					rawID = v
				}
			}

			id, err := parseID(rawID)
			if err != nil {
				return err
			}

			*e = Entry{ID: id, Results: results}

			return nil
		}

		if len(fields) != 1 {
			return errMissingID
		}

		for k, v := range fields {
			*e = Entry{ID: strings.TrimSpace(k), Results: v}
		}

		if e.ID == "" || e.ID == "results" {
			return errMissingID
		}

		return nil
	}

	id, err := parseID(rawID)
	if err != nil {
		return err
	}

	results, ok := fields["results"]
	if !ok {
		return errMissingResults
	}

	var msg string
	if raw, ok := fields["error"]; ok {
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("error field: %w", err)
		}
	}

	*e = Entry{ID: id, Results: results, Error: msg}

	return nil
}

// Ids written by older tools are JSON numbers.
func parseID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errMissingID
	}

	var id string

	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", fmt.Errorf("id: %w", err)
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("id: %w", err)
		}

		id = n.String()
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return "", errMissingID
	}

	return id, nil
}
