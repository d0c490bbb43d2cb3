// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jcodagnone/rspogeo/dataset"
	"github.com/jcodagnone/rspogeo/geocode"
	"github.com/jcodagnone/rspogeo/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func featureCollection(features ...string) string {
	return `{"type":"FeatureCollection","features":[` + strings.Join(features, ",") + `]}`
}

func feature(category, postcode string, lat, lng float64) string {
	return fmt.Sprintf(
		`{"type":"Feature","geometry":{"type":"Point","coordinates":[%v,%v]},"properties":{"osm_value":%q,"postcode":%q}}`,
		lng, lat, category, postcode,
	)
}

// fakeGeocoder answers from a map of query to payload or error.
type fakeGeocoder struct {
	t       *testing.T
	answers map[string]string
	errs    map[string][]error
	calls   []string
}

func (g *fakeGeocoder) Resolve(_ context.Context, query string) (*geocode.Response, error) {
	g.calls = append(g.calls, query)

	if errs := g.errs[query]; len(errs) > 0 {
		g.errs[query] = errs[1:]

		return nil, errs[0]
	}

	body, ok := g.answers[query]
	if !ok {
		g.t.Errorf("unexpected query %q", query)

		return nil, errors.New("unexpected query")
	}

	candidates, err := geocode.DecodeCandidates([]byte(body))
	if err != nil {
		return nil, err
	}

	return &geocode.Response{Candidates: candidates, Raw: json.RawMessage(body)}, nil
}

// recordingCheckpointer keeps a CSV copy of every checkpoint.
type recordingCheckpointer struct {
	snapshots []string
}

func (c *recordingCheckpointer) Checkpoint(t *dataset.Table) error {
	var buf bytes.Buffer
	if err := t.Write(&buf); err != nil {
		return err
	}

	c.snapshots = append(c.snapshots, buf.String())

	return nil
}

func (c *recordingCheckpointer) last() string {
	if len(c.snapshots) == 0 {
		return ""
	}

	return c.snapshots[len(c.snapshots)-1]
}

func readTable(t *testing.T, csv string) *dataset.Table {
	t.Helper()

	table, err := dataset.Read(strings.NewReader(csv), "id")
	require.NoError(t, err)

	return table
}

const singleSchool = "id,wojewodztwo,miejscowosc,ulica,numer_budynku,kod_pocztowy\n1,A,B,,,00-001\n"

func TestDriver_EndToEnd(t *testing.T) {
	st := store.NewMemoryStore()
	gc := &fakeGeocoder{t: t, answers: map[string]string{
		"A B   00-001": featureCollection(feature("school", "00-001", 52.1, 21.0)),
	}}
	cp := &recordingCheckpointer{}

	d := NewDriver(st, gc, nil, cp, nil)
	table := readTable(t, singleSchool)
	require.NoError(t, d.Run(context.Background(), table))

	r := table.Record(0)
	lat, _ := r.Get("lat")
	lng, _ := r.Get("lng")
	assert.Equal(t, "52.1", lat)
	assert.Equal(t, "21", lng)

	require.Len(t, st.Entries, 1)
	assert.Equal(t, "1", st.Entries[0].ID)
	assert.Equal(t, 1, d.Metrics.Matched)
	assert.Equal(t, 0, d.Metrics.Unresolved)
	assert.Contains(t, cp.last(), "1,A,B,,,00-001,52.1,21\n")
}

func TestDriver_IdempotentWithFiles(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "schools.csv")
	out := filepath.Join(dir, "schools_coords.csv")
	storePath := filepath.Join(dir, "results.jsonl")

	require.NoError(t, os.WriteFile(in, []byte(
		"id,wojewodztwo,miejscowosc,ulica,numer_budynku,kod_pocztowy\n"+
			"1,A,B,C,1,00-001\n"+
			"2,A,D,E,2,00-002\n"+
			"3,A,F,G,3,00-003\n",
	), 0o600))

	gc := &fakeGeocoder{t: t, answers: map[string]string{
		"A B C 1 00-001": featureCollection(feature("restaurant", "00-001", 1, 1), feature("school", "00-001", 2, 2)),
		"A D E 2 00-002": featureCollection(feature("house", "00-009", 3, 3)),
		"A F G 3 00-003": featureCollection(),
	}}

	run := func() []byte {
		st := store.NewFileStore(storePath)
		defer st.Close()

		table, err := dataset.ReadFile(in, "id")
		require.NoError(t, err)

		d := NewDriver(st, gc, nil, FileCheckpointer(out), &Options{CheckpointInterval: 1})
		require.NoError(t, d.Run(context.Background(), table))

		data, err := os.ReadFile(out)
		require.NoError(t, err)

		return data
	}

	first := run()
	assert.Len(t, gc.calls, 3)

	second := run()
	assert.Len(t, gc.calls, 3, "second run must not query")
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, "id,wojewodztwo,miejscowosc,ulica,numer_budynku,kod_pocztowy,lat,lng\n"+
		"1,A,B,C,1,00-001,2,2\n"+
		"2,A,D,E,2,00-002,3,3\n"+
		"3,A,F,G,3,00-003,,\n", string(second))

	m, err := store.NewFileStore(storePath).Load()
	require.NoError(t, err)
	assert.Len(t, m, 3)
}

func TestDriver_StoredIDsAreNeverQueried(t *testing.T) {
	st := store.NewMemoryStore(store.Entry{
		ID:      "1",
		Results: json.RawMessage(featureCollection(feature("school", "00-001", 52.1, 21.0))),
	})
	gc := &fakeGeocoder{t: t}

	d := NewDriver(st, gc, nil, nil, nil)
	table := readTable(t, singleSchool)
	require.NoError(t, d.Run(context.Background(), table))

	assert.Empty(t, gc.calls)
	assert.Equal(t, 1, d.Metrics.CacheHits)
	assert.Len(t, st.Entries, 1)

	lat, _ := table.Record(0).Get("lat")
	assert.Equal(t, "52.1", lat)
}

func TestDriver_TransientErrorLeavesRecordPending(t *testing.T) {
	st := store.NewMemoryStore()
	gc := &fakeGeocoder{
		t: t,
		answers: map[string]string{
			"A B   00-001": featureCollection(feature("school", "00-001", 52.1, 21.0)),
		},
		errs: map[string][]error{
			"A B   00-001": {geocode.ClassifyHTTPError(http.StatusServiceUnavailable, "")},
		},
	}

	d := NewDriver(st, gc, nil, nil, nil)
	table := readTable(t, singleSchool)
	require.NoError(t, d.Run(context.Background(), table))

	assert.Empty(t, st.Entries)
	assert.Equal(t, 1, d.Metrics.Transient)
	assert.Equal(t, 1, d.Metrics.Unresolved)

	lat, _ := table.Record(0).Get("lat")
	assert.Empty(t, lat)

	// the next run tries again
	table = readTable(t, singleSchool)
	require.NoError(t, d.Run(context.Background(), table))
	assert.Len(t, gc.calls, 2)
	assert.Len(t, st.Entries, 1)

	lat, _ = table.Record(0).Get("lat")
	assert.Equal(t, "52.1", lat)
}

func TestDriver_RetriesTransientErrors(t *testing.T) {
	st := store.NewMemoryStore()
	gc := &fakeGeocoder{
		t: t,
		answers: map[string]string{
			"A B   00-001": featureCollection(feature("school", "00-001", 52.1, 21.0)),
		},
		errs: map[string][]error{
			"A B   00-001": {geocode.ClassifyHTTPError(http.StatusTooManyRequests, "")},
		},
	}

	d := NewDriver(st, gc, nil, nil, &Options{Retries: 1})
	require.NoError(t, d.Run(context.Background(), readTable(t, singleSchool)))

	assert.Len(t, gc.calls, 2)
	assert.Len(t, st.Entries, 1)
	assert.Equal(t, 0, d.Metrics.Transient)
}

func TestDriver_MalformedIsStoredOnce(t *testing.T) {
	st := store.NewMemoryStore()
	gc := &fakeGeocoder{t: t, answers: map[string]string{"A B   00-001": `{"features": 3}`}}

	d := NewDriver(st, gc, nil, nil, nil)
	require.NoError(t, d.Run(context.Background(), readTable(t, singleSchool)))

	require.Len(t, st.Entries, 1)
	assert.False(t, st.Entries[0].HasResults())
	assert.Contains(t, st.Entries[0].Error, "malformed")
	assert.Equal(t, 1, d.Metrics.Malformed)
	assert.Equal(t, 1, d.Metrics.Unresolved)

	require.NoError(t, d.Run(context.Background(), readTable(t, singleSchool)))
	assert.Len(t, gc.calls, 1, "malformed answers are not retried")
}

// crashingStore stops the process right after a durable append.
type crashingStore struct {
	*store.MemoryStore
}

type crash struct{}

func (s crashingStore) Append(e store.Entry) error {
	if err := s.MemoryStore.Append(e); err != nil {
		return err
	}

	panic(crash{})
}

func TestDriver_CrashAfterAppend(t *testing.T) {
	backing := store.NewMemoryStore()
	gc := &fakeGeocoder{t: t, answers: map[string]string{
		"A B   00-001": featureCollection(feature("school", "00-001", 52.1, 21.0)),
	}}
	cp := &recordingCheckpointer{}

	func() {
		defer func() {
			assert.Equal(t, crash{}, recover())
		}()

		d := NewDriver(crashingStore{backing}, gc, nil, cp, &Options{CheckpointInterval: 10})
		_ = d.Run(context.Background(), readTable(t, singleSchool))
	}()

	require.Len(t, backing.Entries, 1)
	assert.NotContains(t, cp.last(), "52.1", "the crashed run never merged the coordinate")

	d := NewDriver(backing, gc, nil, cp, &Options{CheckpointInterval: 10})
	require.NoError(t, d.Run(context.Background(), readTable(t, singleSchool)))

	assert.Len(t, gc.calls, 1, "stored id must not be queried again")
	assert.Contains(t, cp.last(), "1,A,B,,,00-001,52.1,21\n")
}

func TestDriver_AppendFailureStopsRun(t *testing.T) {
	st := store.NewMemoryStore()
	st.FailAppend = errors.New("disk full")
	gc := &fakeGeocoder{t: t, answers: map[string]string{
		"A B   00-001": featureCollection(feature("school", "00-001", 52.1, 21.0)),
	}}
	cp := &recordingCheckpointer{}

	d := NewDriver(st, gc, nil, cp, nil)
	err := d.Run(context.Background(), readTable(t, singleSchool))
	require.ErrorIs(t, err, st.FailAppend)

	assert.Len(t, cp.snapshots, 1)
	assert.NotContains(t, cp.last(), "52.1")
}

func TestDriver_CheckpointInterval(t *testing.T) {
	input := "id,kod_pocztowy\n1,a\n2,b\n3,c\n4,d\n5,e\n"

	answers := map[string]string{}
	for _, pc := range []string{"a", "b", "c", "d", "e"} {
		answers["    "+pc] = featureCollection()
	}

	cp := &recordingCheckpointer{}
	d := NewDriver(store.NewMemoryStore(), &fakeGeocoder{t: t, answers: answers}, nil, cp, &Options{CheckpointInterval: 2})
	require.NoError(t, d.Run(context.Background(), readTable(t, input)))

	assert.Len(t, cp.snapshots, 3)
	assert.Equal(t, 3, d.Metrics.Checkpoints)
}

func TestDriver_DuplicateIDsQueryOnce(t *testing.T) {
	input := "id,wojewodztwo,miejscowosc,ulica,numer_budynku,kod_pocztowy\n1,A,B,,,00-001\n1,A,B,,,00-001\n,A,B,,,00-001\n"
	gc := &fakeGeocoder{t: t, answers: map[string]string{
		"A B   00-001": featureCollection(feature("school", "00-001", 52.1, 21.0)),
	}}

	d := NewDriver(store.NewMemoryStore(), gc, nil, nil, nil)
	table := readTable(t, input)
	require.NoError(t, d.Run(context.Background(), table))

	assert.Len(t, gc.calls, 1)
	assert.Equal(t, 1, d.Metrics.CacheHits)
	assert.Equal(t, 1, d.Metrics.Skipped)
	assert.Equal(t, 1, d.Metrics.Unresolved)

	lat, _ := table.Record(1).Get("lat")
	assert.Equal(t, "52.1", lat)
}

func TestDriver_UnresolvedKeepsExistingCoordinates(t *testing.T) {
	input := "id,kod_pocztowy,lat,lng\n1,00-001,50.5,19.5\n"
	gc := &fakeGeocoder{t: t, answers: map[string]string{"    00-001": featureCollection()}}

	d := NewDriver(store.NewMemoryStore(), gc, nil, nil, nil)
	table := readTable(t, input)
	require.NoError(t, d.Run(context.Background(), table))

	lat, _ := table.Record(0).Get("lat")
	assert.Equal(t, "50.5", lat)
	assert.Equal(t, []string{"id", "kod_pocztowy", "lat", "lng"}, table.Header)
}

func TestDriver_H3Column(t *testing.T) {
	gc := &fakeGeocoder{t: t, answers: map[string]string{
		"A B   00-001": featureCollection(feature("school", "00-001", 52.1, 21.0)),
	}}

	d := NewDriver(store.NewMemoryStore(), gc, nil, nil, &Options{H3Resolution: 8})
	table := readTable(t, singleSchool)
	require.NoError(t, d.Run(context.Background(), table))

	cell, ok := table.Record(0).Get("h3")
	assert.True(t, ok)
	assert.Len(t, cell, 15)
}

func TestDriver_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cp := &recordingCheckpointer{}
	gc := &fakeGeocoder{t: t}

	d := NewDriver(store.NewMemoryStore(), gc, nil, cp, nil)
	err := d.Run(ctx, readTable(t, singleSchool))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, gc.calls)
	assert.Len(t, cp.snapshots, 1, "a final checkpoint is still written")
}

func TestDriver_OfflineRun(t *testing.T) {
	input := "id,kod_pocztowy\n1,00-001\n2,00-002\n"
	st := store.NewMemoryStore(store.Entry{
		ID:      "1",
		Results: json.RawMessage(featureCollection(feature("kindergarten", "00-009", 50, 20))),
	})

	d := NewDriver(st, nil, nil, nil, nil)
	table := readTable(t, input)
	require.NoError(t, d.Run(context.Background(), table))

	assert.Equal(t, 1, d.Metrics.Pending)
	assert.Equal(t, 1, d.Metrics.Fallback)
	assert.Equal(t, 0, d.Metrics.Queried)
	assert.Len(t, st.Entries, 1)

	lat, _ := table.Record(0).Get("lat")
	assert.Equal(t, "50", lat)
}
