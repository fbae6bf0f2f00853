// Package api exposes the gallery facade over HTTP for the local dashboard.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/photo-sentinel/internal/config"
	"github.com/raaihank/photo-sentinel/internal/gallery"
	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/scan"
	"github.com/raaihank/photo-sentinel/internal/security"
	"github.com/raaihank/photo-sentinel/internal/web"
	"github.com/raaihank/photo-sentinel/internal/websocket"
	"go.uber.org/zap"
)

// ConditionSetter receives device state updates
type ConditionSetter interface {
	SetConditions(c scan.Conditions)
	Conditions() scan.Conditions
}

// Server is the HTTP front of the gallery service
type Server struct {
	config     *config.Config
	logger     *logger.Logger
	gallery    *gallery.Service
	conditions ConditionSetter
	hub        *websocket.Hub
	limiter    *security.RateLimiter
	router     *mux.Router
	server     *http.Server
	startedAt  time.Time

	// parent of background jobs started by handlers
	jobs context.Context
}

// New creates the server. conditions and hub may be nil.
func New(cfg *config.Config, svc *gallery.Service, conditions ConditionSetter, hub *websocket.Hub, log *logger.Logger) *Server {
	s := &Server{
		config:     cfg,
		logger:     log.WithComponent("api"),
		gallery:    svc,
		conditions: conditions,
		hub:        hub,
		limiter:    security.NewRateLimiter(cfg.RateLimit.Enabled, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		router:     mux.NewRouter(),
		startedAt:  time.Now(),
		jobs:       context.Background(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)

	if s.hub != nil {
		path := s.config.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.hub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/progress", s.handleProgress).Methods(http.MethodGet)
	api.HandleFunc("/thumbnail", s.handleThumbnail).Methods(http.MethodGet)
	api.HandleFunc("/flagged", s.handleFlagged).Methods(http.MethodGet)
	api.HandleFunc("/visibility", s.handleVisibility).Methods(http.MethodGet)
	api.HandleFunc("/rescan", s.handleRescan).Methods(http.MethodPost)
	api.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	api.HandleFunc("/thumbnails/recalculate", s.handleRecalculate).Methods(http.MethodPost)
	api.HandleFunc("/conditions", s.handleGetConditions).Methods(http.MethodGet)
	api.HandleFunc("/conditions", s.handleSetConditions).Methods(http.MethodPut)
	api.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/session/unlock", s.handleUnlock).Methods(http.MethodPost)
	api.HandleFunc("/session/lock", s.handleLock).Methods(http.MethodPost)
	api.HandleFunc("/session/security-mode", s.handleSecurityMode).Methods(http.MethodPut)
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called. ctx bounds background jobs started by
// handlers.
func (s *Server) Start(ctx context.Context) error {
	s.jobs = ctx
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }
	s.limiter.StartCleanupRoutine(ctx, 30*time.Minute)

	s.logger.Info("Starting Photo Sentinel API server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("websocket", s.hub != nil),
		zap.Bool("rate_limit", s.config.RateLimit.Enabled))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping Photo Sentinel API server")
	return s.server.Shutdown(ctx)
}
