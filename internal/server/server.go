package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/matrixnet/internal/domain"
	"github.com/alanyoungcy/matrixnet/internal/server/handler"
	"github.com/alanyoungcy/matrixnet/internal/server/middleware"
	"github.com/alanyoungcy/matrixnet/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKeys guard mutating requests; empty disables authentication.
	APIKeys []string
	// PlacementsPerMinute caps purchases per client IP.
	PlacementsPerMinute int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Boards     *handler.BoardHandler
	Placements *handler.PlacementHandler
	Members    *handler.MemberHandler
}

// Server is the HTTP + WebSocket API of the matrix engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter and gatherer may be nil; wsHub may be nil to disable /ws.
func NewServer(
	cfg Config,
	handlers Handlers,
	wsHub *ws.Hub,
	limiter domain.RateLimiter,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, handlers, wsHub, limiter, gatherer, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the full handler tree including middleware.
func Routes(
	cfg Config,
	handlers Handlers,
	wsHub *ws.Hub,
	limiter domain.RateLimiter,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// Boards.
	mux.HandleFunc("GET /api/boards", handlers.Boards.ListBoards)
	mux.HandleFunc("POST /api/boards", handlers.Boards.CreateBoard)
	mux.HandleFunc("GET /api/boards/{id}", handlers.Boards.GetBoard)
	mux.HandleFunc("PUT /api/boards/{id}", handlers.Boards.UpdateBoard)
	mux.HandleFunc("GET /api/boards/{id}/stats", handlers.Boards.BoardStats)

	// Purchases are throttled per client.
	place := middleware.RateLimit(limiter, "placements", cfg.PlacementsPerMinute, time.Minute, logger)(
		http.HandlerFunc(handlers.Placements.Place),
	)
	mux.Handle("POST /api/boards/{id}/placements", place)

	// Members.
	mux.HandleFunc("GET /api/members/{id}/overview", handlers.Members.Overview)
	mux.HandleFunc("GET /api/members/{id}/genealogy", handlers.Members.Genealogy)
	mux.HandleFunc("GET /api/members/{id}/ledger", handlers.Members.Ledger)
	mux.HandleFunc("GET /api/members/{id}/activity", handlers.Members.Activity)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKeys, false)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
