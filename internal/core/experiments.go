// Package core exposes the Experiments facade: writes go to the store and are
// pushed into the cache, reads consult the refresh strategy and resolve
// treatments from the cached snapshot.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"alchemy/internal/assign"
	"alchemy/internal/cache"
	"alchemy/pkg/domain"
)

var tracer = otel.Tracer("alchemy.core")

var _ domain.Saver = (*Experiments)(nil)

// Experiments is the entry point for managing experiments and resolving
// treatments. Every public call is serialized.
type Experiments struct {
	mu       sync.Mutex
	store    domain.ExperimentStore
	cache    *cache.Cache
	strategy cache.Strategy
	logger   *slog.Logger
	resolved *prometheus.CounterVec
}

// New builds the facade over store and loads the cache synchronously. The
// facade does not own the store; close it separately after Close.
func New(ctx context.Context, store domain.ExperimentStore, opts ...Option) (*Experiments, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := cache.New(store,
		cache.WithWorker(o.worker),
		cache.WithLogger(o.logger),
		cache.WithRegisterer(o.registerer),
		cache.WithErrorHandler(o.onError),
	)
	if err := c.InvalidateAll(ctx, false); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initial cache load: %w", err)
	}
	return &Experiments{
		store:    store,
		cache:    c,
		strategy: o.strategy,
		logger:   o.logger,
		resolved: promauto.With(o.registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "alchemy",
			Name:      "treatment_resolutions_total",
			Help:      "Treatment resolutions by outcome.",
		}, []string{"result"}),
	}, nil
}

// Cache returns the underlying cache.
func (x *Experiments) Cache() *cache.Cache { return x.cache }

// Get loads the named experiment from the store, active or not.
func (x *Experiments) Get(ctx context.Context, name string) (domain.Experiment, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ctx, span := tracer.Start(ctx, "experiments.get", trace.WithAttributes(attribute.String("experiment", name)))
	defer span.End()
	e, ok, err := x.store.Load(ctx, name)
	if err != nil {
		fail(span, err)
		return domain.Experiment{}, fmt.Errorf("load experiment %s: %w", name, err)
	}
	if !ok {
		return domain.Experiment{}, domain.ErrNotFound{Name: name}
	}
	return e, nil
}

// Find queries the store directly.
func (x *Experiments) Find(ctx context.Context, query domain.Query) ([]domain.Experiment, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ctx, span := tracer.Start(ctx, "experiments.find")
	defer span.End()
	found, err := x.store.Find(ctx, query)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("find experiments: %w", err)
	}
	span.SetAttributes(attribute.Int("experiments.found", len(found)))
	return found, nil
}

// Create starts a builder for a new experiment that saves through the facade.
func (x *Experiments) Create(name string) *domain.Builder {
	return domain.NewBuilder(x, name)
}

// Edit starts a builder from the stored experiment.
func (x *Experiments) Edit(ctx context.Context, name string) (*domain.Builder, error) {
	e, err := x.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return domain.Edit(x, e), nil
}

// Save persists the experiment and pushes the stored copy into the cache.
func (x *Experiments) Save(ctx context.Context, experiment domain.Experiment) (domain.Experiment, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ctx, span := tracer.Start(ctx, "experiments.save", trace.WithAttributes(attribute.String("experiment", experiment.Name)))
	defer span.End()
	if err := experiment.Validate(); err != nil {
		fail(span, err)
		return domain.Experiment{}, err
	}
	saved, err := x.store.Save(ctx, experiment)
	if err != nil {
		fail(span, err)
		return domain.Experiment{}, fmt.Errorf("store experiment %s: %w", experiment.Name, err)
	}
	x.cache.ExperimentSaved(saved)
	span.SetAttributes(attribute.Int64("experiment.sequence", saved.Sequence))
	x.logger.Debug("experiment saved", "experiment", saved.Name, "sequence", saved.Sequence, "active", saved.Active)
	return saved, nil
}

// Delete removes the experiment from the store and the cache.
func (x *Experiments) Delete(ctx context.Context, name string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	ctx, span := tracer.Start(ctx, "experiments.delete", trace.WithAttributes(attribute.String("experiment", name)))
	defer span.End()
	if err := x.store.Delete(ctx, name); err != nil {
		fail(span, err)
		return fmt.Errorf("delete experiment %s: %w", name, err)
	}
	x.cache.ExperimentDeleted(name)
	x.logger.Debug("experiment deleted", "experiment", name)
	return nil
}

// GetActiveTreatment resolves the treatment of the named active experiment for
// id. Inactive and unknown experiments resolve to no treatment.
func (x *Experiments) GetActiveTreatment(ctx context.Context, experiment string, id domain.Identity) (domain.Treatment, bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ctx, span := tracer.Start(ctx, "experiments.get_active_treatment", trace.WithAttributes(attribute.String("experiment", experiment)))
	defer span.End()
	if err := x.strategy.AccessExperiment(ctx, experiment, x.cache); err != nil {
		fail(span, err)
		return domain.Treatment{}, false, fmt.Errorf("refresh cache: %w", err)
	}
	e, ok := x.cache.ActiveExperiments().Get(experiment)
	if !ok {
		x.resolved.WithLabelValues("none").Inc()
		return domain.Treatment{}, false, nil
	}
	t, ok := assign.Resolve(e, id)
	x.observe(span, ok)
	return t, ok, nil
}

// GetActiveTreatments resolves every active experiment against identities and
// returns the resolved treatments keyed by experiment name. Experiments bound
// to an identity type use the last identity of that type; untyped experiments
// take the first identity that resolves a treatment.
func (x *Experiments) GetActiveTreatments(ctx context.Context, identities ...domain.Identity) (map[string]domain.Treatment, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ctx, span := tracer.Start(ctx, "experiments.get_active_treatments", trace.WithAttributes(attribute.Int("identities", len(identities))))
	defer span.End()
	if err := x.strategy.AccessAll(ctx, x.cache); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("refresh cache: %w", err)
	}
	byType := make(map[string]domain.Identity, len(identities))
	for _, id := range identities {
		if id != nil {
			byType[id.Type()] = id
		}
	}
	out := make(map[string]domain.Treatment)
	x.cache.ActiveExperiments().Range(func(e domain.Experiment) bool {
		if e.IdentityType != "" {
			if id, ok := byType[e.IdentityType]; ok {
				if t, ok := assign.Resolve(e, id); ok {
					out[e.Name] = t
				}
			}
			return true
		}
		for _, id := range identities {
			if t, ok := assign.Resolve(e, id); ok {
				out[e.Name] = t
				break
			}
		}
		return true
	})
	span.SetAttributes(attribute.Int("treatments", len(out)))
	return out, nil
}

// Close stops the cache worker if the facade created it.
func (x *Experiments) Close() error {
	return x.cache.Close()
}

func (x *Experiments) observe(span trace.Span, ok bool) {
	result := "none"
	if ok {
		result = "assigned"
	}
	x.resolved.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.String("result", result))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
