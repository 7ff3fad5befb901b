package core

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"alchemy/internal/cache"
)

// Option configures the Experiments facade.
type Option func(*options)

type options struct {
	strategy   cache.Strategy
	worker     cache.Worker
	logger     *slog.Logger
	registerer prometheus.Registerer
	onError    cache.ErrorHandler
}

func defaultOptions() options {
	return options{
		strategy: cache.RefreshOnStale{},
		logger:   slog.New(slog.DiscardHandler),
	}
}

// WithRefreshStrategy selects how reads decide to resynchronize the cache.
// Defaults to cache.RefreshOnStale.
func WithRefreshStrategy(s cache.Strategy) Option {
	return func(o *options) {
		if s != nil {
			o.strategy = s
		}
	}
}

// WithWorker runs asynchronous rebuilds on an externally owned worker.
func WithWorker(w cache.Worker) Option {
	return func(o *options) { o.worker = w }
}

// WithLogger sets the logger for the facade and its cache.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRegisterer registers facade and cache metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithErrorHandler observes errors of asynchronous cache work.
func WithErrorHandler(h cache.ErrorHandler) Option {
	return func(o *options) { o.onError = h }
}
