package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/xray-ai/xray/internal/auth"
	"github.com/xray-ai/xray/internal/service/funnel"
	"github.com/xray-ai/xray/internal/service/ingest"
	"github.com/xray-ai/xray/internal/storage"
)

// Server is the X-Ray HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds all dependencies and configuration for creating a Server.
// JWTMgr and APIKey are optional: leave both empty to run without auth.
type Config struct {
	Store     storage.Store
	IngestSvc *ingest.Service
	FunnelSvc *funnel.Service
	JWTMgr    *auth.JWTManager
	APIKey    string
	Logger    *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		IngestSvc:           cfg.IngestSvc,
		FunnelSvc:           cfg.FunnelSvc,
		JWTMgr:              cfg.JWTMgr,
		APIKey:              cfg.APIKey,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Auth endpoint (only useful when auth is enabled).
	if cfg.JWTMgr != nil {
		mux.HandleFunc("POST /auth/token", h.HandleAuthToken)
	}

	// Ingest boundary.
	mux.HandleFunc("POST /v1/ingest", h.HandleIngest)

	// Query boundary.
	mux.HandleFunc("GET /v1/runs", h.HandleListRuns)
	mux.HandleFunc("GET /v1/runs/{run_id}", h.HandleGetRun)
	mux.HandleFunc("GET /v1/runs/{run_id}/steps", h.HandleListRunSteps)
	mux.HandleFunc("GET /v1/runs/{run_id}/funnel", h.HandleAnalyzeRun)

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
