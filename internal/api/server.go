// Package api serves vehicle lookups over HTTP: one-shot JSON lookups, a
// websocket stream of progressive snapshots, cache administration and
// session endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bilregistret/internal/auth"
	"bilregistret/internal/config"
	"bilregistret/internal/engine"
	"bilregistret/internal/logging"
)

// Server represents the HTTP API server
type Server struct {
	router   *gin.Engine
	server   *http.Server
	addr     string
	logger   *logging.Logger
	engine   *engine.Engine
	gate     *auth.RedirectGate
	sessions *auth.Sessions
	limiter  *auth.RateLimiter
	cfg      *config.Config
	started  time.Time
}

// NewServer creates a new HTTP server instance. Logins and logouts drop the
// engine's user-scoped cache entries.
func NewServer(cfg *config.Config, eng *engine.Engine, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	gin.SetMode(gin.ReleaseMode)

	gate := auth.NewRedirectGate(cfg.Auth.LoginPath, logger)
	sessions := auth.NewSessions(cfg.Auth, gate, logger)
	sessions.OnChange(func() { eng.SessionChanged() })

	s := &Server{
		router:   gin.New(),
		addr:     cfg.Server.Addr,
		logger:   logger,
		engine:   eng,
		gate:     gate,
		sessions: sessions,
		limiter:  auth.NewRateLimiter(cfg.Server.RateLimit, logger),
		cfg:      cfg,
		started:  time.Now(),
	}

	s.applyMiddleware()
	s.registerRoutes()

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"addr": s.addr,
	})
	s.limiter.StartCleanup(ctx)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server", nil)

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server shut down successfully", nil)
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Gate returns the server's redirect gate
func (s *Server) Gate() *auth.RedirectGate {
	return s.gate
}

// applyMiddleware installs middleware; the first one runs outermost
func (s *Server) applyMiddleware() {
	s.router.Use(
		RequestIDMiddleware(),
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger),
		CORSMiddleware(s.cfg.Server.CorsOrigins),
	)
}
