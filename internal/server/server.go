// Package server exposes the review controls over HTTP
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/doc-sentinel/internal/config"
	"github.com/raaihank/doc-sentinel/internal/engine"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/websocket"
	"go.uber.org/zap"
)

// Server is the review API
type Server struct {
	config  *config.Config
	version string
	logger  *logger.Logger
	engine  *engine.Engine
	hub     *websocket.Hub
	limiter *RateLimiter
	router  *mux.Router
	server  *http.Server
}

// New creates the review server. hub may be nil when the live view is off.
func New(cfg *config.Config, eng *engine.Engine, hub *websocket.Hub, version string, log *logger.Logger) *Server {
	s := &Server{
		config:  cfg,
		version: version,
		logger:  log.WithComponent("server"),
		engine:  eng,
		hub:     hub,
		limiter: NewRateLimiter(cfg.Server.RateLimit.Enabled, cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst),
		router:  mux.NewRouter(),
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

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.hub != nil && s.config.WebSocket.Enabled {
		ws := s.router.Path(s.config.WebSocket.Path).Subrouter()
		ws.Use(s.authMiddleware)
		ws.Methods(http.MethodGet).HandlerFunc(s.hub.HandleWebSocket)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.Use(s.authMiddleware)

	api.HandleFunc("/batches", s.handleProcess).Methods(http.MethodPost)
	api.HandleFunc("/batches/restore", s.handleRestore).Methods(http.MethodPost)
	api.HandleFunc("/documents", s.handleDocuments).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", s.handleDocument).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}/render", s.handleRender).Methods(http.MethodGet)
	api.HandleFunc("/entities", s.handleEntities).Methods(http.MethodGet)
	api.HandleFunc("/entities/{id}", s.handleEntity).Methods(http.MethodGet)
	api.HandleFunc("/entities/{id}/{action:approve|reject|toggle}", s.handleReview).Methods(http.MethodPost)
	api.HandleFunc("/ner", s.handleNERStatus).Methods(http.MethodGet)
	api.HandleFunc("/ner", s.handleNERToggle).Methods(http.MethodPut)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Stop is called. The hub and the limiter cleanup run
// until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting doc-sentinel review server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("auth", s.config.Auth.Enabled),
		zap.Bool("websocket", s.hub != nil && s.config.WebSocket.Enabled),
	)

	if s.hub != nil {
		go s.hub.Run(ctx)
	}
	s.limiter.StartCleanupRoutine(ctx, 10*time.Minute)

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping doc-sentinel review server")
	return s.server.Shutdown(ctx)
}
