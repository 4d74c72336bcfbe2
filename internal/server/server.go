package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/pagelens/internal/config"
	"github.com/MeKo-Tech/pagelens/internal/document"
	"github.com/MeKo-Tech/pagelens/internal/infer"
	"github.com/MeKo-Tech/pagelens/internal/markdown"
)

// Server hosts the layout-parsing HTTP API.
type Server struct {
	backend infer.Backend
	loader  *document.Loader
	log     *slog.Logger

	authToken   string
	corsOrigin  string
	maxUploadMB int64
	workers     int
	mdOpts      markdown.Options
	rateLimiter *RateLimiter

	httpServer *http.Server
}

// New creates a server from the service configuration and a model backend.
func New(cfg *config.Config, backend infer.Backend, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if backend == nil {
		return nil, fmt.Errorf("nil backend")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		backend:     backend,
		loader:      &document.Loader{},
		log:         logger,
		authToken:   cfg.Server.AuthToken,
		corsOrigin:  cfg.Server.CORSOrigin,
		maxUploadMB: int64(cfg.Server.MaxUploadMB),
		workers:     cfg.Pipeline.Workers,
		mdOpts:      markdown.Options{PreferMarkdownTables: cfg.Pipeline.PreferMarkdownTables},
		rateLimiter: NewRateLimiter(cfg.Server.RateLimitPerMinute),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/layout-parsing", s.corsMiddleware(s.rateLimitMiddleware(s.authMiddleware(s.parseHandler))))
	mux.HandleFunc("/layout-parsing/ws", s.authMiddleware(s.wsParseHandler))
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadTimeout:       time.Duration(cfg.Server.TimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.TimeoutSec) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.log.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server shutting down")
	return s.httpServer.Shutdown(ctx)
}
