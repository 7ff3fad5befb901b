// Package api serves the experiments facade over HTTP with gin.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alchemy/internal/identity"
	"alchemy/pkg/domain"
)

// Experiments is the facade surface the handlers need.
type Experiments interface {
	Get(ctx context.Context, name string) (domain.Experiment, error)
	Find(ctx context.Context, query domain.Query) ([]domain.Experiment, error)
	Save(ctx context.Context, experiment domain.Experiment) (domain.Experiment, error)
	Delete(ctx context.Context, name string) error
	GetActiveTreatment(ctx context.Context, experiment string, id domain.Identity) (domain.Treatment, bool, error)
	GetActiveTreatments(ctx context.Context, identities ...domain.Identity) (map[string]domain.Treatment, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegistry sets the identity registry. Defaults to identity.DefaultRegistry.
func WithRegistry(r *identity.Registry) Option {
	return func(s *Server) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithMetrics registers request metrics on reg and serves gatherer at /metrics.
func WithMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.registerer = reg
		s.gatherer = gatherer
	}
}

// Server holds the HTTP handlers.
type Server struct {
	experiments Experiments
	registry    *identity.Registry
	logger      *slog.Logger
	registerer  prometheus.Registerer
	gatherer    prometheus.Gatherer
	requests    *prometheus.CounterVec
	engine      *gin.Engine
}

// New builds the server and its routes.
func New(experiments Experiments, opts ...Option) *Server {
	s := &Server{
		experiments: experiments,
		registry:    identity.DefaultRegistry(),
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.requests = promauto.With(s.registerer).NewCounterVec(prometheus.CounterOpts{
		Namespace: "alchemy",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"route", "method", "status"})

	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), s.accessLog())
	s.routes(engine)
	s.engine = engine
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", s.handleHealth)
	r.GET("/metadata/identity-types", s.handleIdentityTypes)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	exp := r.Group("/experiments")
	exp.GET("", s.handleFind)
	exp.GET("/:name", s.handleGet)
	exp.PUT("/:name", s.handlePut)
	exp.DELETE("/:name", s.handleDelete)

	active := r.Group("/active")
	active.POST("/experiments/:name", s.handleActiveTreatment)
	active.POST("/treatments", s.handleActiveTreatments)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
