// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package store

// MemoryStore keeps entries in memory with the same semantics as FileStore.
type MemoryStore struct {
	Entries []Entry
	// FailAppend, when set, is returned by Append instead of storing.
	FailAppend error
}

// NewMemoryStore returns a store holding the given entries.
func NewMemoryStore(entries ...Entry) *MemoryStore {
	return &MemoryStore{Entries: entries}
}

// Load returns the entries, first one winning for repeated ids.
func (s *MemoryStore) Load() (Mapping, error) {
	ret := make(Mapping, len(s.Entries))
	for _, e := range s.Entries {
		ret.Add(e)
	}

	return ret, nil
}

// Append records e.
func (s *MemoryStore) Append(e Entry) error {
	if s.FailAppend != nil {
		return s.FailAppend
	}

	if e.ID == "" {
		return errMissingID
	}

	s.Entries = append(s.Entries, e)

	return nil
}
