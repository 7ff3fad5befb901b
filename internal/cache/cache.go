// Package cache holds the in-process snapshot of active experiments and keeps
// it in step with an experiment store.
//
// Readers load the current snapshot without locking. Full rebuilds replace the
// snapshot wholesale; write-through updates derive a new snapshot from the
// current one. Updates that arrive while a rebuild is reading the store are
// journaled and replayed onto the rebuilt snapshot before it is published.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"alchemy/pkg/domain"
)

var tracer = otel.Tracer("alchemy.cache")

// Refresher is the cache surface refresh strategies drive.
type Refresher interface {
	CheckIfStale(ctx context.Context) (bool, error)
	CheckIfStaleExperiment(ctx context.Context, name string) (bool, error)
	InvalidateAll(ctx context.Context, async bool) error
	InvalidateExperiment(ctx context.Context, name string, async bool) error
}

var _ Refresher = (*Cache)(nil)

// ErrorHandler observes failures of asynchronous work.
type ErrorHandler func(error)

// Option configures a Cache.
type Option func(*Cache)

// WithWorker runs asynchronous rebuilds on w. The caller keeps ownership and
// must close w after closing the cache.
func WithWorker(w Worker) Option {
	return func(c *Cache) {
		if w != nil {
			c.worker = w
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRegisterer registers the cache metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Cache) { c.registerer = reg }
}

// WithErrorHandler receives errors of asynchronous rebuilds and invalidations.
// The default logs them.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Cache) {
		if h != nil {
			c.onError = h
		}
	}
}

type journalOp int

const (
	opSaved journalOp = iota
	opDeleted
)

type journalEntry struct {
	op         journalOp
	experiment domain.Experiment
	name       string
}

// Cache is the active-experiment cache.
type Cache struct {
	store   domain.ExperimentStore
	current atomic.Pointer[Snapshot]

	// rebuildMu keeps full rebuilds from overlapping.
	rebuildMu sync.Mutex
	// queued is set while an asynchronous rebuild waits on or runs in the
	// worker.
	queued atomic.Bool

	// publishMu serializes every snapshot publication and guards the
	// journal below.
	publishMu  sync.Mutex
	rebuilding bool
	journal    []journalEntry

	worker     Worker
	owned      *SerialWorker
	logger     *slog.Logger
	registerer prometheus.Registerer
	metrics    *metrics
	onError    ErrorHandler
}

// New returns an empty cache over store. Call InvalidateAll to load it.
func New(store domain.ExperimentStore, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.worker == nil {
		c.owned = NewSerialWorker(16, c.logger)
		c.worker = c.owned
	}
	if c.onError == nil {
		c.onError = func(err error) {
			c.logger.Error("asynchronous cache refresh failed", "error", err)
		}
	}
	c.metrics = newMetrics(c.registerer)
	c.current.Store(emptySnapshot)
	return c
}

// ActiveExperiments returns the current snapshot.
func (c *Cache) ActiveExperiments() *Snapshot {
	return c.current.Load()
}

// Store returns the backing store.
func (c *Cache) Store() domain.ExperimentStore { return c.store }

// InvalidateAll rebuilds the snapshot from the store. When async is true the
// rebuild is queued on the worker and its error goes to the error handler. An
// asynchronous request made while another is queued or running is dropped;
// the running rebuild reads the store after any write that made the cache
// stale, and later staleness is picked up by the next check.
func (c *Cache) InvalidateAll(ctx context.Context, async bool) error {
	if !async {
		return c.rebuild(ctx)
	}
	if !c.queued.CompareAndSwap(false, true) {
		c.metrics.rebuilds.WithLabelValues("coalesced").Inc()
		return nil
	}
	err := c.worker.Submit(func() {
		defer c.queued.Store(false)
		if err := c.rebuild(context.Background()); err != nil {
			c.onError(err)
		}
	})
	if err != nil {
		c.queued.Store(false)
	}
	return err
}

// InvalidateExperiment reloads a single experiment from the store. An
// experiment missing from the store is removed from the snapshot.
func (c *Cache) InvalidateExperiment(ctx context.Context, name string, async bool) error {
	if !async {
		return c.reload(ctx, name)
	}
	return c.worker.Submit(func() {
		if err := c.reload(context.Background(), name); err != nil {
			c.onError(err)
		}
	})
}

// ExperimentSaved pushes a saved experiment into the snapshot. Inactive
// experiments are removed. A version older than the cached one is ignored.
func (c *Cache) ExperimentSaved(e domain.Experiment) {
	e = e.Clone()
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	cur := c.current.Load()
	if existing, ok := cur.experiments[e.Name]; ok && existing.Sequence > e.Sequence {
		c.metrics.writes.WithLabelValues("superseded").Inc()
		return
	}
	if c.rebuilding {
		c.journal = append(c.journal, journalEntry{op: opSaved, experiment: e})
	}
	var next *Snapshot
	if e.Active {
		next = cur.with(e)
	} else {
		next = cur.without(e.Name).raise(e.Sequence)
	}
	c.publish(next)
	c.metrics.writes.WithLabelValues("saved").Inc()
}

// ExperimentDeleted removes the named experiment from the snapshot.
func (c *Cache) ExperimentDeleted(name string) {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	if c.rebuilding {
		c.journal = append(c.journal, journalEntry{op: opDeleted, name: name})
	}
	c.publish(c.current.Load().without(name))
	c.metrics.writes.WithLabelValues("deleted").Inc()
}

// CheckIfStale reports whether the store issued a sequence number newer than
// the snapshot high-water.
func (c *Cache) CheckIfStale(ctx context.Context) (bool, error) {
	cur, ok, err := c.store.CurrentSequenceNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("read current sequence: %w", err)
	}
	if !ok {
		return false, nil
	}
	return c.current.Load().Sequence() < cur, nil
}

// CheckIfStaleExperiment reports whether the stored experiment is newer than
// the snapshot high-water. Missing experiments are never stale.
func (c *Cache) CheckIfStaleExperiment(ctx context.Context, name string) (bool, error) {
	seq, ok, err := c.store.SequenceNumber(ctx, name)
	if err != nil {
		return false, fmt.Errorf("read sequence of %s: %w", name, err)
	}
	if !ok {
		return false, nil
	}
	return seq > c.current.Load().Sequence(), nil
}

// Close stops the worker if the cache created it.
func (c *Cache) Close() error {
	if c.owned != nil {
		return c.owned.Close()
	}
	return nil
}

func (c *Cache) rebuild(ctx context.Context) (err error) {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	ctx, span := tracer.Start(ctx, "cache.rebuild")
	defer span.End()
	start := time.Now()

	c.publishMu.Lock()
	c.rebuilding = true
	c.journal = nil
	c.publishMu.Unlock()
	defer func() {
		if err != nil {
			c.publishMu.Lock()
			c.rebuilding = false
			c.journal = nil
			c.publishMu.Unlock()
			c.metrics.rebuilds.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	high, _, err := c.store.CurrentSequenceNumber(ctx)
	if err != nil {
		return fmt.Errorf("rebuild cache: read current sequence: %w", err)
	}
	all, err := c.store.Find(ctx, domain.AllExperiments)
	if err != nil {
		return fmt.Errorf("rebuild cache: find experiments: %w", err)
	}
	active := make(map[string]domain.Experiment, len(all))
	for _, e := range all {
		high = max(high, e.Sequence)
		if e.Active {
			active[e.Name] = e
		}
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	replayed := len(c.journal)
	for _, j := range c.journal {
		high = replay(active, high, j)
	}
	c.rebuilding = false
	c.journal = nil
	next := newSnapshot(active, high)
	c.publish(next)

	c.metrics.rebuilds.WithLabelValues("ok").Inc()
	c.metrics.rebuildDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("experiments.active", next.Len()),
		attribute.Int64("experiments.sequence", high),
		attribute.Int("journal.replayed", replayed),
	)
	c.logger.Debug("cache rebuilt", "active", next.Len(), "sequence", high, "replayed", replayed)
	return nil
}

// replay applies a write-through that raced a rebuild onto the rebuilt map.
// A save is skipped when the rebuild already read a newer version.
func replay(active map[string]domain.Experiment, high int64, j journalEntry) int64 {
	switch j.op {
	case opSaved:
		e := j.experiment
		if existing, ok := active[e.Name]; ok && existing.Sequence > e.Sequence {
			return high
		}
		if e.Active {
			active[e.Name] = e
		} else {
			delete(active, e.Name)
		}
		return max(high, e.Sequence)
	case opDeleted:
		delete(active, j.name)
	}
	return high
}

func (c *Cache) reload(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "cache.invalidate_experiment", trace.WithAttributes(attribute.String("experiment", name)))
	defer span.End()
	e, ok, err := c.store.Load(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("reload experiment %s: %w", name, err)
	}
	if !ok {
		c.ExperimentDeleted(name)
		return nil
	}
	c.ExperimentSaved(e)
	return nil
}

// publish must be called with publishMu held.
func (c *Cache) publish(s *Snapshot) {
	c.current.Store(s)
	c.metrics.published(s)
}
