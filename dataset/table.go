// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

// Package dataset reads and writes the tabular school registry.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jcodagnone/rspogeo/utils/textutils"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Coordinate columns added to the output.
const (
	ColumnLat = "lat"
	ColumnLng = "lng"
	ColumnH3  = "h3"
)

// ErrMissingColumn is returned when a required column is not in the header.
var ErrMissingColumn = errors.New("missing column")

// Table is an in-memory CSV table. Columns are looked up by their normalised
// header; the original header is written back untouched.
type Table struct {
	Header []string
	Rows   [][]string

	index map[string]int
	idCol int
}

// NewTable builds a table from a header and rows. idColumn must be present.
// header and rows are copied. Rows shorter than the header are padded; when a
// row is longer, the header gets unnamed columns so no field is lost and added
// columns never land on existing data.
func NewTable(header []string, rows [][]string, idColumn string) (*Table, error) {
	width := len(header)
	for _, row := range rows {
		width = max(width, len(row))
	}

	t := &Table{
		Header: make([]string, width),
		Rows:   make([][]string, len(rows)),
		index:  make(map[string]int, len(header)),
	}

	copy(t.Header, header)

	for i, row := range rows {
		t.Rows[i] = make([]string, width)
		copy(t.Rows[i], row)
	}

	for i, h := range header {
		key := textutils.NormalizeHeader(h)
		if key == "" {
			continue
		}

		if _, ok := t.index[key]; !ok {
			t.index[key] = i
		}
	}

	col, ok := t.Column(idColumn)
	if !ok {
		return nil, fmt.Errorf("%w: id column %q", ErrMissingColumn, idColumn)
	}

	t.idCol = col

	if width > len(header) {
		log.Printf("WARN %d fields without header, kept as unnamed columns", width-len(header))
	}

	return t, nil
}

// Read parses CSV from r. A leading UTF-8 BOM, as written by spreadsheet
// exports, is dropped.
func Read(r io.Reader, idColumn string) (*Table, error) {
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty input", ErrMissingColumn)
	}

	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}

	return NewTable(header, rows, idColumn)
}

// ReadFile reads the CSV file at path.
func ReadFile(path, idColumn string) (*Table, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	t, err := Read(f, idColumn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return t, nil
}

// Column returns the index of the named column.
func (t *Table) Column(name string) (int, bool) {
	i, ok := t.index[textutils.NormalizeHeader(name)]

	return i, ok
}

// EnsureColumn returns the index of the named column, appending an empty
// column when it does not exist.
func (t *Table) EnsureColumn(name string) int {
	if i, ok := t.Column(name); ok {
		return i
	}

	i := len(t.Header)
	t.Header = append(t.Header, name)
	t.index[textutils.NormalizeHeader(name)] = i

	for r := range t.Rows {
		t.Rows[r] = append(t.Rows[r], "")
	}

	return i
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Record returns a view of row i.
func (t *Table) Record(i int) Record {
	return Record{t: t, row: i}
}

// Records iterates over the rows in file order.
func (t *Table) Records() iter.Seq2[int, Record] {
	return func(yield func(int, Record) bool) {
		for i := range t.Rows {
			if !yield(i, t.Record(i)) {
				return
			}
		}
	}
}

// Write encodes the table as CSV.
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}

	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}

	return cw.Error()
}

// WriteFile replaces path atomically: the table is written to a temporary
// file in the same directory which is then renamed over path. Readers see
// either the previous checkpoint or the new one, never a partial file.
func (t *Table) WriteFile(path string) (err error) {
	dir, name := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}

	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()

		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if err := t.Write(tmp); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}

	return nil
}

// Record is a row of a Table.
type Record struct {
	t   *Table
	row int
}

// Index returns the row number.
func (r Record) Index() int {
	return r.row
}

// ID returns the trimmed value of the id column.
func (r Record) ID() string {
	return strings.TrimSpace(r.t.Rows[r.row][r.t.idCol])
}

// Get returns the value of the named column.
func (r Record) Get(name string) (string, bool) {
	i, ok := r.t.Column(name)
	if !ok {
		return "", false
	}

	return r.t.Rows[r.row][i], true
}

// Set stores value in the named column, creating the column if needed.
func (r Record) Set(name, value string) {
	i := r.t.EnsureColumn(name)
	r.t.Rows[r.row][i] = value
}
