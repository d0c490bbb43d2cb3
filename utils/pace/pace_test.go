// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package pace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the pacer sleeps or a call takes time.
type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)

	return nil
}

func newFake(minDelay, maxDelay time.Duration) (*Pacer, *fakeClock) {
	c := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := New(minDelay, maxDelay)
	p.now = c.now
	p.sleep = c.sleep

	return p, c
}

func TestPacer_FirstCallDoesNotWait(t *testing.T) {
	p, c := newFake(time.Second, time.Second)

	require.NoError(t, p.Wait(context.Background()))
	assert.Empty(t, c.sleeps)
}

func TestPacer_DelayMeasuredFromEndOfCall(t *testing.T) {
	p, c := newFake(time.Second, time.Second)

	err := p.Do(context.Background(), func() error {
		c.t = c.t.Add(3 * time.Second) // slow call

		return nil
	})
	require.NoError(t, err)

	c.t = c.t.Add(400 * time.Millisecond)
	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, []time.Duration{600 * time.Millisecond}, c.sleeps)
}

func TestPacer_DelayAppliesAfterFailure(t *testing.T) {
	p, c := newFake(time.Second, time.Second)

	boom := errors.New("boom")
	assert.ErrorIs(t, p.Do(context.Background(), func() error { return boom }), boom)

	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, []time.Duration{time.Second}, c.sleeps)
}

func TestPacer_RandomRange(t *testing.T) {
	p, _ := newFake(time.Second, 5*time.Second)

	for range 100 {
		d := p.delay()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}

	p.jitter = func(n int64) int64 { return n - 1 }
	assert.Equal(t, 5*time.Second, p.delay())
}

func TestPacer_MaxBelowMin(t *testing.T) {
	p := New(2*time.Second, time.Second)
	assert.Equal(t, 2*time.Second, p.Max)
	assert.Equal(t, 2*time.Second, p.delay())
}

func TestPacer_CanceledContext(t *testing.T) {
	p := New(time.Hour, time.Hour)
	p.Done()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)
}

func TestPacer_RealTime(t *testing.T) {
	const d = 20 * time.Millisecond

	p := New(d, d)
	start := time.Now()

	for range 5 {
		require.NoError(t, p.Do(context.Background(), func() error { return nil }))
	}

	assert.GreaterOrEqual(t, time.Since(start), 4*d)
}
