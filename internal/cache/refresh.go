package cache

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Strategy decides, on each read access, whether the cache resynchronizes
// before serving. Strategies never block the read on a rebuild; they queue an
// asynchronous one.
type Strategy interface {
	// AccessAll runs before reads that iterate every active experiment.
	AccessAll(ctx context.Context, r Refresher) error
	// AccessExperiment runs before a read of a single experiment.
	AccessExperiment(ctx context.Context, name string, r Refresher) error
}

// NoRefresh never refreshes. The cache changes only through write-through or
// explicit invalidation.
type NoRefresh struct{}

func (NoRefresh) AccessAll(context.Context, Refresher) error { return nil }

func (NoRefresh) AccessExperiment(context.Context, string, Refresher) error { return nil }

// RefreshOnStale queues a full rebuild whenever the store has issued a
// sequence number newer than the snapshot.
type RefreshOnStale struct{}

func (RefreshOnStale) AccessAll(ctx context.Context, r Refresher) error {
	return refreshIfStale(ctx, r)
}

func (RefreshOnStale) AccessExperiment(context.Context, string, Refresher) error { return nil }

// PeriodicRefresh checks staleness at most once per interval. The first check
// happens one interval after construction.
type PeriodicRefresh struct {
	interval time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
}

// PeriodicOption configures a PeriodicRefresh.
type PeriodicOption func(*PeriodicRefresh)

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) PeriodicOption {
	return func(p *PeriodicRefresh) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPeriodicRefresh returns a strategy that allows one staleness check per
// interval.
func NewPeriodicRefresh(interval time.Duration, opts ...PeriodicOption) *PeriodicRefresh {
	if interval <= 0 {
		interval = time.Minute
	}
	p := &PeriodicRefresh{interval: interval, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	p.limiter = rate.NewLimiter(rate.Every(interval), 1)
	// drain the initial token so the first check waits a full interval
	p.limiter.AllowN(p.now(), 1)
	return p
}

// Interval returns the configured interval.
func (p *PeriodicRefresh) Interval() time.Duration { return p.interval }

func (p *PeriodicRefresh) AccessAll(ctx context.Context, r Refresher) error {
	if !p.limiter.AllowN(p.now(), 1) {
		return nil
	}
	return refreshIfStale(ctx, r)
}

func (p *PeriodicRefresh) AccessExperiment(context.Context, string, Refresher) error { return nil }

func refreshIfStale(ctx context.Context, r Refresher) error {
	stale, err := r.CheckIfStale(ctx)
	if err != nil {
		return err
	}
	if !stale {
		return nil
	}
	return r.InvalidateAll(ctx, true)
}
