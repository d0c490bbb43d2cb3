// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

// Package pace spaces out calls to rate limited upstream services.
//
// Unlike a token bucket, the gap is measured from the end of the previous
// call to the start of the next one, so a slow response never lets two
// requests start back to back.
package pace

import (
	"context"
	"math/rand/v2"
	"time"
)

// Pacer enforces a minimum pause between consecutive calls. The pause is
// Min, or a random value in [Min, Max] when Max > Min. A Pacer is meant to be
// used by a single goroutine.
type Pacer struct {
	Min time.Duration
	Max time.Duration

	next   time.Time
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	jitter func(n int64) int64
}

// New returns a Pacer waiting between minDelay and maxDelay.
func New(minDelay, maxDelay time.Duration) *Pacer {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	return &Pacer{
		Min:    minDelay,
		Max:    maxDelay,
		now:    time.Now,
		sleep:  sleepCtx,
		jitter: rand.Int64N,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks until the pause following the previous call has elapsed.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.next.IsZero() {
		return ctx.Err()
	}

	if d := p.next.Sub(p.now()); d > 0 {
		return p.sleep(ctx, d)
	}

	return ctx.Err()
}

// Done records the end of a call, successful or not.
func (p *Pacer) Done() {
	p.next = p.now().Add(p.delay())
}

func (p *Pacer) delay() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}

	return p.Min + time.Duration(p.jitter(int64(p.Max-p.Min)+1))
}

// Do runs fn between Wait and Done. The pause is recorded even if fn fails.
func (p *Pacer) Do(ctx context.Context, fn func() error) error {
	if err := p.Wait(ctx); err != nil {
		return err
	}

	defer p.Done()

	return fn()
}
