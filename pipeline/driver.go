// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline reconciles a dataset against the result store, geocodes
// what is missing and writes the merged coordinates back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/jcodagnone/rspogeo/dataset"
	"github.com/jcodagnone/rspogeo/geocode"
	"github.com/jcodagnone/rspogeo/spatial"
	"github.com/jcodagnone/rspogeo/store"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// DefaultCheckpointInterval is the number of records between dataset writes.
const DefaultCheckpointInterval = 50

// Options configures a Driver.
type Options struct {
	// QueryFields are the columns joined into the geocoder query
	QueryFields []string

	// PostcodeField is the column compared with the candidates' postcode
	PostcodeField string

	// CheckpointInterval is the number of processed records between checkpoints
	CheckpointInterval int

	// Retries is the number of extra attempts after a transient error
	Retries int

	// H3Resolution adds an h3 column at this resolution when greater than 0
	H3Resolution int

	// ShowProgress draws a progress bar when stderr is a terminal
	ShowProgress bool
}

// Checkpointer persists the dataset with the coordinates merged so far.
type Checkpointer interface {
	Checkpoint(t *dataset.Table) error
}

// CheckpointFunc adapts a function to Checkpointer.
type CheckpointFunc func(t *dataset.Table) error

// Checkpoint implements Checkpointer.
func (f CheckpointFunc) Checkpoint(t *dataset.Table) error {
	return f(t)
}

// FileCheckpointer writes the dataset to a CSV file.
func FileCheckpointer(path string) Checkpointer {
	return CheckpointFunc(func(t *dataset.Table) error {
		if err := t.WriteFile(path); err != nil {
			return err
		}

		log.Printf("Checkpoint saved to %s", path)

		return nil
	})
}

// Driver runs the geocoding pipeline over one dataset.
type Driver struct {
	store      store.ResultStore
	geocoder   geocode.Geocoder
	selector   *geocode.Selector
	checkpoint Checkpointer
	options    Options

	Metrics Metrics
}

// NewDriver creates a driver. A nil selector uses the default categories. A
// nil geocoder runs offline: records missing from the store are left as they
// are and counted as pending.
func NewDriver(
	st store.ResultStore,
	geocoder geocode.Geocoder,
	selector *geocode.Selector,
	checkpoint Checkpointer,
	options *Options,
) *Driver {
	var opts Options
	if options != nil {
		opts = *options
	}

	if len(opts.QueryFields) == 0 {
		opts.QueryFields = geocode.DefaultQueryFields
	}

	if opts.PostcodeField == "" {
		opts.PostcodeField = geocode.FieldPostcode
	}

	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = DefaultCheckpointInterval
	}

	if selector == nil {
		selector = geocode.NewSelector()
	}

	return &Driver{
		store:      st,
		geocoder:   geocoder,
		selector:   selector,
		checkpoint: checkpoint,
		options:    opts,
	}
}

// Run processes every record in file order. Records already in the store are
// merged without touching the network; the others are geocoded, appended to
// the store and only then merged, so a checkpoint never holds a coordinate
// the store cannot reproduce. The dataset is checkpointed every
// CheckpointInterval records and once more at the end, also when ctx is
// cancelled or the store fails.
func (d *Driver) Run(ctx context.Context, table *dataset.Table) (err error) {
	d.Metrics = Metrics{Records: table.Len()}

	mapping, err := d.store.Load()
	if err != nil {
		return fmt.Errorf("loading result store: %w", err)
	}

	log.Printf("Loaded %d stored results", len(mapping))

	table.EnsureColumn(dataset.ColumnLat)
	table.EnsureColumn(dataset.ColumnLng)

	if d.options.H3Resolution > 0 {
		table.EnsureColumn(dataset.ColumnH3)
	}

	bar := d.progressBar(table.Len())

	defer func() {
		if bar != nil {
			_ = bar.Finish()
		}

		if cerr := d.save(table); cerr != nil {
			err = errors.Join(err, cerr)
		}

		d.Metrics.Unresolved = table.Len() - d.Metrics.Matched - d.Metrics.Fallback
	}()

	n := table.Len()
	processed := 0

	for i, rec := range table.Records() {
		if err := ctx.Err(); err != nil {
			log.Printf("Interrupted after %d of %d records", processed, n)

			return err
		}

		if err := d.process(ctx, mapping, rec, i, n, bar == nil); err != nil {
			return err
		}

		processed++

		if bar != nil {
			_ = bar.Add(1)
		}

		if processed%d.options.CheckpointInterval == 0 && processed != n {
			if err := d.save(table); err != nil {
				return err
			}
		}
	}

	return nil
}

func (d *Driver) progressBar(n int) *progressbar.ProgressBar {
	if !d.options.ShowProgress || !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}

	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription("Geocoding"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func (d *Driver) save(table *dataset.Table) error {
	if d.checkpoint == nil {
		return nil
	}

	if err := d.checkpoint.Checkpoint(table); err != nil {
		return fmt.Errorf("checkpointing dataset: %w", err)
	}

	d.Metrics.Checkpoints++

	return nil
}

func (d *Driver) process(
	ctx context.Context,
	mapping store.Mapping,
	rec dataset.Record,
	i, n int,
	verbose bool,
) error {
	id := rec.ID()
	if id == "" {
		d.Metrics.Skipped++
		log.Printf("[%d/%d] WARN row without id, skipping", i+1, n)

		return nil
	}

	if entry, ok := mapping.Get(id); ok {
		d.Metrics.CacheHits++
		d.merge(rec, entry)

		return nil
	}

	if d.geocoder == nil {
		d.Metrics.Pending++

		return nil
	}

	query := geocode.BuildQuery(rec, d.options.QueryFields)
	d.Metrics.Queried++

	resp, err := d.resolve(ctx, query)

	var entry store.Entry

	switch {
	case err == nil:
		entry = store.Entry{ID: id, Results: resp.Raw}
	case ctx.Err() != nil:
		return ctx.Err()
	case geocode.IsMalformed(err):
		d.Metrics.Malformed++
		log.Printf("[%d/%d] WARN %s: %v - storing as unresolved", i+1, n, id, err)

		entry = store.Entry{ID: id, Error: err.Error()}
	default:
		d.Metrics.Transient++
		log.Printf("[%d/%d] %s: %v - will retry on next run", i+1, n, id, err)

		return nil
	}

	if err := d.store.Append(entry); err != nil {
		return fmt.Errorf("storing result for %s: %w", id, err)
	}

	d.Metrics.Stored++
	mapping.Add(entry)

	res := d.merge(rec, entry)
	if verbose {
		log.Printf("[%d/%d] %s %q: %s", i+1, n, id, query, describe(res))
	}

	return nil
}

func (d *Driver) resolve(ctx context.Context, query string) (*geocode.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= d.options.Retries; attempt++ {
		resp, err := d.geocoder.Resolve(ctx, query)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if !geocode.IsTransient(err) || ctx.Err() != nil {
			break
		}

		if attempt < d.options.Retries {
			log.Printf("Retrying %q after: %v", query, err)
		}
	}

	return nil, lastErr
}

// merge writes the coordinate selected from entry into rec. Unresolved
// records keep whatever coordinates they already had.
func (d *Driver) merge(rec dataset.Record, entry store.Entry) geocode.Resolution {
	postcode, _ := rec.Get(d.options.PostcodeField)

	res, err := d.selector.SelectRaw(entry.Results, postcode)
	if err != nil {
		log.Printf("WARN stored result for %s cannot be decoded: %v", entry.ID, err)
	}

	if !res.Resolved {
		return res
	}

	if res.Matched {
		d.Metrics.Matched++
	} else {
		d.Metrics.Fallback++
	}

	setPoint(rec, res.Point, d.options.H3Resolution)

	return res
}

func setPoint(rec dataset.Record, p spatial.Point, h3Res int) {
	rec.Set(dataset.ColumnLat, spatial.FormatCoord(p.Lat))
	rec.Set(dataset.ColumnLng, spatial.FormatCoord(p.Lng))

	if h3Res > 0 {
		cell, err := p.Cell(h3Res)
		if err != nil {
			log.Printf("WARN %v", err)

			return
		}

		rec.Set(dataset.ColumnH3, cell.String())
	}
}

func describe(res geocode.Resolution) string {
	switch {
	case !res.Resolved:
		return "unresolved"
	case res.Matched:
		return fmt.Sprintf("%s (%s, candidate %d)", res.Point, res.Candidate.Category, res.Index)
	default:
		return fmt.Sprintf("%s (fallback, %q)", res.Point, res.Candidate.Category)
	}
}
