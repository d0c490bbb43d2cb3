// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// LoadStats describes the last Load.
type LoadStats struct {
	Lines      int
	Entries    int
	Duplicates int
	Corrupt    int
}

// FileStore is a JSON-lines file, one independent object per line, so new
// entries are appended without rewriting what is already there.
type FileStore struct {
	path string
	f    *os.File

	// OnCorrupt is called for every line that cannot be parsed. The line is
	// skipped and loading continues. Defaults to a warning in the log.
	OnCorrupt func(err *CorruptEntryError)

	Stats LoadStats
}

// NewFileStore creates a store backed by the file at path. The file is
// created on the first Append.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: filepath.Clean(path),
		OnCorrupt: func(err *CorruptEntryError) {
			log.Printf("WARN %s: %v - skipping", filepath.Base(path), err)
		},
	}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads every entry. When an id appears more than once the first entry
// wins: stored answers are never replaced.
func (s *FileStore) Load() (Mapping, error) {
	s.Stats = LoadStats{}
	ret := make(Mapping)

	f, err := os.Open(s.path)
	if err != nil {
		// If the file does not exist, that's OK; we will create it.
		if errors.Is(err, os.ErrNotExist) {
			return ret, nil
		}

		return nil, fmt.Errorf("opening store: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)

	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			s.Stats.Lines++
			s.loadLine(ret, s.Stats.Lines, line)
		}

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("reading store: %w", err)
		}
	}

	s.Stats.Entries = len(ret)

	return ret, nil
}

func (s *FileStore) loadLine(m Mapping, n int, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		s.Stats.Corrupt++

		if s.OnCorrupt != nil {
			s.OnCorrupt(&CorruptEntryError{Line: n, Err: err})
		}

		return
	}

	if !m.Add(e) {
		s.Stats.Duplicates++
	}
}

// open prepares the file for appending. A crash in the middle of a write
// leaves a partial line behind, so the next entry starts on a fresh line.
func (s *FileStore) open() error {
	if s.f != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("setting up store directory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return errors.Join(fmt.Errorf("stat store: %w", err), f.Close())
	}

	if size := info.Size(); size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return errors.Join(fmt.Errorf("reading store tail: %w", err), f.Close())
		}

		if last[0] != '\n' {
			if _, err := f.Write([]byte{'\n'}); err != nil {
				return errors.Join(fmt.Errorf("terminating partial line: %w", err), f.Close())
			}
		}
	}

	s.f = f

	return nil
}

// Append writes e as one line and syncs the file before returning, so the
// entry survives a crash right after the call.
func (s *FileStore) Append(e Entry) error {
	if e.ID == "" {
		return errMissingID
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling entry %s: %w", e.ID, err)
	}

	if err := s.open(); err != nil {
		return err
	}

	line = append(line, '\n')
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("appending entry %s: %w", e.ID, err)
	}

	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("syncing store: %w", err)
	}

	return nil
}

// Close releases the file handle, if any.
func (s *FileStore) Close() error {
	if s.f == nil {
		return nil
	}

	err := s.f.Close()
	s.f = nil

	return err
}
