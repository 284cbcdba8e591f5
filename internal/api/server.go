package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"omnicrm-backup/internal/backup"
	"omnicrm-backup/internal/config"
	"omnicrm-backup/internal/logging"
)

// ServerOptions wires the HTTP surface to an already constructed pipeline
type ServerOptions struct {
	Service backup.Service
	Logger  *logging.Logger

	// DefaultCompress and DefaultEncrypt apply when a create request omits the flag
	DefaultCompress bool
	DefaultEncrypt  bool

	// Status reports the scheduler state on /healthz. Nil when no daemon runs.
	Status func() backup.DaemonStatus

	// Registerer receives the HTTP metrics and Gatherer backs /metrics.
	// Both default to the prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server is the HTTP trigger surface for backups, restores and cleanup
type Server struct {
	router  chi.Router
	service backup.Service
	logger  *logging.Logger
	opts    ServerOptions
	metrics *httpMetrics
}

// NewServer builds the router
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Service == nil {
		return nil, backup.NewConfigurationError("api server requires a backup service", nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultLogger()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router:  chi.NewRouter(),
		service: opts.Service,
		logger:  opts.Logger,
		opts:    opts,
		metrics: newHTTPMetrics(opts.Registerer),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.metrics.middleware)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	s.router.Get("/healthz", s.handleHealthz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/backups", s.handleListBackups)
		r.Post("/backups", s.handleCreateBackup)
		r.Get("/backups/{filename}/verify", s.handleVerifyBackup)
		r.Post("/restore", s.handleRestore)
		r.Post("/cleanup", s.handleCleanup)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is canceled, then drains in-flight
// requests for up to cfg.ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      s,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("address", cfg.Address).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
