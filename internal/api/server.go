// Package api serves the admin HTTP API of a running saya host.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/saya/internal/auth"
	"github.com/mattjoyce/saya/internal/behaviour"
	"github.com/mattjoyce/saya/internal/channel"
	"github.com/mattjoyce/saya/internal/events"
	"github.com/mattjoyce/saya/internal/metrics"
	"github.com/mattjoyce/saya/internal/saya"
	"github.com/mattjoyce/saya/internal/scheduler"
)

// Controller is the part of the module controller the API drives.
type Controller interface {
	Modules() []string
	Channel(module string) (*channel.Channel, bool)
	State(module string) saya.ModuleState
	Behaviours() []behaviour.Behaviour
	Mounts() []string
	RequireChannel(ctx context.Context, module string, scoped ...behaviour.Behaviour) (*channel.Channel, error)
	UninstallChannel(ctx context.Context, ch *channel.Channel) error
	ReloadChannel(ctx context.Context, ch *channel.Channel) error
	Serial(fn func() error) error
}

// Catalog lists the modules that can be required.
type Catalog interface {
	Modules() []string
}

// JobLister lists running scheduled jobs.
type JobLister interface {
	Jobs() []scheduler.JobInfo
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Token is the admin bearer token (all scopes).
	Token string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	ctrl      Controller
	catalog   Catalog
	events    *events.Hub
	metrics   *metrics.Collector
	gatherer  prometheus.Gatherer
	jobs      JobLister
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics counts requests on c and serves g on /metrics.
func WithMetrics(c *metrics.Collector, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = c
		s.gatherer = g
	}
}

// WithJobs serves the scheduler's jobs on /jobs.
func WithJobs(j JobLister) Option {
	return func(s *Server) {
		s.jobs = j
	}
}

// New creates a new API server instance
func New(config Config, ctrl Controller, catalog Catalog, hub *events.Hub, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:    config,
		ctrl:      ctrl,
		catalog:   catalog,
		events:    hub,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // event streams stay open
		IdleTimeout:  60 * time.Second,
	}

	if !s.authEnabled() {
		s.logger.Warn("API has no tokens configured; admin routes are unauthenticated")
	}
	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopeModulesRO)).Get("/modules", s.handleListModules)
		r.With(s.requireScopes(auth.ScopeModulesRO)).Get("/modules/{module}", s.handleGetModule)
		r.With(s.requireScopes(auth.ScopeModulesRW)).Post("/modules/{module}", s.handleRequireModule)
		r.With(s.requireScopes(auth.ScopeModulesRW)).Delete("/modules/{module}", s.handleUninstallModule)
		r.With(s.requireScopes(auth.ScopeModulesRW)).Post("/modules/{module}/reload", s.handleReloadModule)
		r.With(s.requireScopes(auth.ScopeModulesRO)).Get("/behaviours", s.handleListBehaviours)
		r.With(s.requireScopes(auth.ScopeModulesRO)).Get("/mounts", s.handleListMounts)
		if s.jobs != nil {
			r.With(s.requireScopes(auth.ScopeModulesRO)).Get("/jobs", s.handleListJobs)
		}
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEventSnapshot)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events/stream", s.handleEventStream)
		if s.gatherer != nil {
			r.With(s.requireScopes(auth.ScopeMetricsRO)).Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.APIRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		}
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authEnabled() bool {
	return s.config.Token != "" || len(s.config.Tokens) > 0
}

// authMiddleware resolves the bearer token to a principal. With no tokens
// configured every request runs as admin.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled() {
			admin := auth.Principal{Scopes: map[string]struct{}{auth.ScopeAll: {}}}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), admin)))
			return
		}

		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		principal, ok := auth.Authenticate(token, s.config.Token, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
