package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/PortNumber53/fitmarket-payments/internal/config"
	"github.com/PortNumber53/fitmarket-payments/internal/handlers"
	"github.com/PortNumber53/fitmarket-payments/internal/metrics"
	"github.com/PortNumber53/fitmarket-payments/internal/middleware"
	"github.com/PortNumber53/fitmarket-payments/internal/worker"
)

// Deps are the collaborators the router is assembled from. Webhook and RPC
// may be nil to leave those routes unregistered.
type Deps struct {
	DB       handlers.Pinger
	Webhook  *handlers.WebhookHandler
	RPC      *handlers.RPCHandler
	Worker   *worker.Worker
	Recorder metrics.Recorder
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	worker     *worker.Worker
	logger     *slog.Logger
}

// New constructs an HTTP server using the provided configuration and dependencies.
func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.NewRequestTracker(deps.Recorder, logger).Middleware())

	router.Get("/healthz", handlers.Health(deps.DB))
	if deps.Gatherer != nil {
		router.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	if deps.Webhook != nil {
		deps.Webhook.RegisterRoutes(router)
	}

	if deps.RPC != nil {
		auth := middleware.NewAuthenticator(cfg.JWTSecret)
		limiter := middleware.NewRateLimiter(cfg.RPCRatePerMinute, logger)
		router.Group(func(r chi.Router) {
			r.Use(auth.Middleware)
			r.Use(limiter.Middleware)
			deps.RPC.RegisterRoutes(r)
		})
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, worker: deps.Worker, logger: logger}
}

// Start begins serving HTTP traffic and starts the worker. It returns nil
// once Shutdown has closed the listener. The worker outlives ctx until
// Shutdown stops it, so in-flight jobs are released rather than abandoned.
func (s *Server) Start(ctx context.Context) error {
	if s.worker != nil {
		s.logger.Info("starting job worker")
		s.worker.Start(context.WithoutCancel(ctx))
	}
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and worker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.worker != nil {
		s.logger.Info("shutting down job worker")
		if werr := s.worker.Stop(ctx); werr != nil {
			s.logger.Error("worker shutdown", slog.Any("error", werr))
		}
	}
	return err
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
