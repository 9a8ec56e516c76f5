// Package web serves the feed's JSON API.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/justestif/go-shorts-feed/internal/catalog"
	"github.com/justestif/go-shorts-feed/internal/identity"
	"github.com/justestif/go-shorts-feed/internal/log"
	"github.com/justestif/go-shorts-feed/internal/progress"
	"github.com/justestif/go-shorts-feed/internal/reactions"
	"github.com/justestif/go-shorts-feed/internal/session"
	"github.com/justestif/go-shorts-feed/internal/store"
)

const (
	// DefaultAddr is the default server address.
	DefaultAddr = "127.0.0.1:8080"

	// DefaultRateLimit is the per-IP request budget per minute on the API.
	DefaultRateLimit = 600

	// APIPrefix is the mount point of the versioned API.
	APIPrefix = "/api/v1"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr      string
	RateLimit int // requests per minute per IP; 0 uses DefaultRateLimit, negative disables
	Service   string
}

// Services are the components the handlers call.
type Services struct {
	Store     store.Store
	Sessions  *session.Manager
	Reactions *reactions.Synchronizer
	Progress  *progress.Tracker
	Catalog   catalog.Lister
	Verifier  identity.Verifier
}

// Server is the HTTP server for the API.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, svc Services) (*Server, error) {
	if svc.Store == nil || svc.Sessions == nil || svc.Reactions == nil || svc.Progress == nil || svc.Catalog == nil || svc.Verifier == nil {
		return nil, errors.New("web: all services are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.Service == "" {
		cfg.Service = "shorts-feed"
	}

	router := chi.NewRouter()

	s := &Server{
		router:   router,
		handlers: NewHandlers(svc),
		logger:   log.WithComponent("web"),
	}

	s.setupMiddleware(cfg)
	s.setupRoutes(svc.Verifier)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      otelhttp.NewHandler(router, cfg.Service, otelhttp.WithFilter(shouldTrace)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware(cfg ServerConfig) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestMetrics)
	if cfg.RateLimit > 0 {
		s.router.Use(httprate.Limit(cfg.RateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", "60")
				writeJSON(w, http.StatusTooManyRequests, envelope{Error: "rate_limited", Message: "too many requests"})
			}),
		))
	}
}

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes(verifier identity.Verifier) {
	h := s.handlers

	s.router.Get("/healthz", h.Health)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route(APIPrefix, func(r chi.Router) {
		r.Use(authenticate(verifier))

		r.Post("/session/login", h.Login)
		r.Post("/session/heartbeat", h.Heartbeat)
		r.Post("/session/logout", h.Logout)
		r.Get("/me", h.Me)

		r.Get("/reactions", h.Reactions)
		r.Put("/reactions/{videoID}/like", h.Like)
		r.Delete("/reactions/{videoID}/like", h.Unlike)
		r.Put("/reactions/{videoID}/dislike", h.Dislike)
		r.Delete("/reactions/{videoID}/dislike", h.Undislike)
		r.Post("/reactions/{videoID}/favorite", h.ToggleFavorite)
		r.Put("/reactions/{videoID}/favorite", h.Favorite)
		r.Delete("/reactions/{videoID}/favorite", h.Unfavorite)

		r.Get("/progress", h.Progress)
		r.Post("/progress/watched", h.MarkWatched)
		r.Put("/progress/last-video", h.UpdateLastVideo)
		r.Put("/progress/order", h.SaveSessionOrder)
		r.Post("/progress/reset", h.ResetProgress)
		r.Post("/progress/prune", h.PruneDeleted)
		r.Post("/progress/complete-cycle", h.CompleteCycle)

		r.Get("/catalog", h.Catalog)
	})
}

// shouldTrace skips health and metrics scrapes.
func shouldTrace(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return false
	}
	return true
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info().Msg("server stopped")
	return nil
}
