// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

// Package warehouse exports resolved coordinates to DuckDB for analysis.
package warehouse

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"

	"github.com/jcodagnone/rspogeo/geocode"
	"github.com/jcodagnone/rspogeo/spatial"
	"github.com/jcodagnone/rspogeo/store"
)

// Resolution is one row of the resolutions table.
type Resolution struct {
	ID       string         `json:"id"`
	Point    *spatial.Point `json:"point"`
	Matched  bool           `json:"matched"`
	Category string         `json:"category,omitempty"`
	Postcode string         `json:"postcode,omitempty"`
	Error    string         `json:"error,omitempty"`
	H3Res7   int64          `json:"-"`
	H3Res8   int64          `json:"-"`
}

func (r *Resolution) computeH3() error {
	r.H3Res7, r.H3Res8 = 0, 0

	if r.Point == nil {
		return nil
	}

	cell7, err := r.Point.Cell(7)
	if err != nil {
		return err
	}

	cell8, err := r.Point.Cell(8)
	if err != nil {
		return err
	}

	r.H3Res7, r.H3Res8 = int64(cell7), int64(cell8)

	return nil
}

// Resolve applies the selector to every stored entry. postcodes maps ids to
// the registry postcode used for matching; ids without one only get the
// positional fallback.
func Resolve(m store.Mapping, sel *geocode.Selector, postcodes map[string]string) []*Resolution {
	ret := make([]*Resolution, 0, len(m))

	for _, id := range m.IDs() {
		entry := m[id]
		r := &Resolution{ID: id, Error: entry.Error}

		res, err := sel.SelectRaw(entry.Results, postcodes[id])
		if err != nil {
			r.Error = err.Error()
		}

		if res.Resolved {
			p := res.Point
			r.Point = &p
			r.Matched = res.Matched
			r.Category = res.Candidate.Category
			r.Postcode = res.Candidate.Postcode
		}

		ret = append(ret, r)
	}

	return ret
}

// Repository persists resolutions.
type Repository interface {
	// CreateSchema creates the resolutions table
	CreateSchema() error

	// SaveResolutions inserts or replaces resolutions by id
	SaveResolutions(resolutions []*Resolution) error

	// GetResolution returns one resolution, sql.ErrNoRows if missing
	GetResolution(id string) (*Resolution, error)

	// CountUnresolved returns the number of rows without a point
	CountUnresolved() (int, error)

	// DB returns the underlying database connection
	DB() *sql.DB
}

type sqlRepository struct {
	db *sql.DB
}

// NewRepository creates a repository over db.
func NewRepository(db *sql.DB) Repository {
	return &sqlRepository{db: db}
}

func (r *sqlRepository) DB() *sql.DB {
	return r.db
}

func (r *sqlRepository) CreateSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS resolutions (
			id VARCHAR PRIMARY KEY,
			lat DOUBLE,
			lng DOUBLE,
			point VARCHAR,
			matched BOOLEAN NOT NULL DEFAULT FALSE,
			category VARCHAR,
			postcode VARCHAR,
			h3_res7 UBIGINT,
			h3_res8 UBIGINT,
			error VARCHAR
		);
	`)

	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *sqlRepository) SaveResolutions(resolutions []*Resolution) (err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			if rErr := tx.Rollback(); rErr != nil {
				err = errors.Join(err, rErr)
			}
		}
	}()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO resolutions(
			id, lat, lng, point, matched, category, postcode, h3_res7, h3_res8, error
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, res := range resolutions {
		if err = res.computeH3(); err != nil {
			return err
		}

		var (
			lat, lng sql.NullFloat64
			h7, h8   sql.NullInt64
			point    driver.Value
		)

		if res.Point != nil {
			if point, err = res.Point.Value(); err != nil {
				return err
			}

			lat = sql.NullFloat64{Float64: res.Point.Lat, Valid: true}
			lng = sql.NullFloat64{Float64: res.Point.Lng, Valid: true}
			h7 = sql.NullInt64{Int64: res.H3Res7, Valid: true}
			h8 = sql.NullInt64{Int64: res.H3Res8, Valid: true}
		}

		if _, err = stmt.Exec(
			res.ID,
			lat,
			lng,
			point,
			res.Matched,
			nullString(res.Category),
			nullString(res.Postcode),
			h7,
			h8,
			nullString(res.Error),
		); err != nil {
			return fmt.Errorf("saving resolution %s: %w", res.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	log.Printf("Saved %d resolutions", len(resolutions))

	return nil
}

func (r *sqlRepository) GetResolution(id string) (*Resolution, error) {
	var (
		point                     sql.Null[spatial.Point]
		category, postcode, cause sql.NullString
		h7, h8                    sql.NullInt64
	)

	res := &Resolution{ID: id}

	err := r.db.QueryRow(`
		SELECT point, matched, category, postcode, h3_res7, h3_res8, error
		FROM resolutions WHERE id = ?
	`, id).Scan(&point, &res.Matched, &category, &postcode, &h7, &h8, &cause)
	if err != nil {
		return nil, err
	}

	if point.Valid {
		res.Point = &point.V
	}

	res.Category = category.String
	res.Postcode = postcode.String
	res.Error = cause.String
	res.H3Res7 = h7.Int64
	res.H3Res8 = h8.Int64

	return res, nil
}

func (r *sqlRepository) CountUnresolved() (int, error) {
	var n int

	err := r.db.QueryRow(`SELECT count(*) FROM resolutions WHERE lat IS NULL`).Scan(&n)

	return n, err
}
