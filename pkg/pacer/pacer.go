// Package pacer spaces out requests to a single upstream.
package pacer

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer hands out non-overlapping request slots at most one per interval.
// It is safe for concurrent use: callers queue behind each other.
type Pacer struct {
	interval time.Duration
	limiter  *rate.Limiter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Pacer.
type Option func(*Pacer)

// WithClock replaces the wall clock and the sleep function. Tests use it to
// run the pacer on simulated time.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pacer) {
		if now != nil {
			p.now = now
		}
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// New returns a pacer allowing one request per interval. A zero interval
// disables pacing.
func New(interval time.Duration, opts ...Option) *Pacer {
	p := &Pacer{
		interval: interval,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	if interval > 0 {
		p.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval is the configured minimum spacing.
func (p *Pacer) Interval() time.Duration { return p.interval }

// Reserve claims the next slot and returns the instant at which the caller
// may send its request.
func (p *Pacer) Reserve(now time.Time) time.Time {
	if p.limiter == nil {
		return now
	}
	r := p.limiter.ReserveN(now, 1)
	return now.Add(r.DelayFrom(now))
}

// Wait blocks until the caller's slot arrives. A cancelled context releases
// the caller early; the slot stays consumed.
func (p *Pacer) Wait(ctx context.Context) error {
	now := p.now()
	at := p.Reserve(now)
	if d := at.Sub(now); d > 0 {
		return p.sleep(ctx, d)
	}
	return ctx.Err()
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
