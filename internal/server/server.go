package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/meridianlabs/meridian/internal/engine"
	"github.com/meridianlabs/meridian/internal/storage"
)

// Server is the Meridian control surface HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): MCPServer, OperatorKeyHash.
type ServerConfig struct {
	// Required dependencies.
	Engine  *engine.Engine
	Backend storage.Backend
	Logger  *slog.Logger

	// Optional dependencies.
	MCPServer       *mcpserver.MCPServer
	OperatorKeyHash string // empty = mutating endpoints are open

	// HTTP server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Engine:  cfg.Engine,
		Backend: cfg.Backend,
		Logger:  cfg.Logger,
		Version: cfg.Version,
	})

	mux := http.NewServeMux()

	// Read endpoints.
	mux.HandleFunc("GET /v1/status", h.HandleStatus)
	mux.HandleFunc("GET /v1/activity", h.HandleActivity)
	mux.HandleFunc("GET /v1/cycles", h.HandleCycles)

	// Lifecycle controls (operator key required when configured).
	mux.HandleFunc("POST /v1/pause", h.HandlePause)
	mux.HandleFunc("POST /v1/resume", h.HandleResume)
	mux.HandleFunc("POST /v1/stop", h.HandleStop)
	mux.HandleFunc("POST /v1/reset", h.HandleReset)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (no auth).
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.OperatorKeyHash, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
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
