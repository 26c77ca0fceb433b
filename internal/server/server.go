package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/fillscope/internal/server/handler"
	"github.com/alanyoungcy/fillscope/internal/server/middleware"
	"github.com/alanyoungcy/fillscope/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is the per-client request rate; 0 disables it.
	RateLimit float64
	RateBurst int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Orders and TradeFeed are nil when their mode is not running.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Orders    *handler.OrderHandler
	TradeFeed *handler.TradeFeedHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on a ServeMux
// behind CORS, logging, auth and rate limiting.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     NewRouter(cfg, handlers, hub, logger),
			ReadTimeout: 15 * time.Second,
			// No WriteTimeout: the SSE refresh stream can outlive any fixed
			// bound.
			IdleTimeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter builds the routed and wrapped handler.
func NewRouter(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	if handlers.Orders != nil {
		mux.HandleFunc("GET /api/orders/history", handlers.Orders.History)
		mux.HandleFunc("GET /api/orders/opposite-parties", handlers.Orders.OppositeParties)
		mux.HandleFunc("GET /api/takers/enrich", handlers.Orders.EnrichTakers)
	}

	if handlers.TradeFeed != nil {
		mux.HandleFunc("GET /api/fills", handlers.TradeFeed.Fills)
		mux.HandleFunc("GET /api/tradefeed", handlers.TradeFeed.TradeFeed)
		mux.HandleFunc("GET /api/tradefeed/stream", handlers.TradeFeed.TradeFeedStream)
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(cfg.RateLimit, cfg.RateBurst)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Run serves until ctx is done, then shuts down within timeout.
func (s *Server) Run(ctx context.Context, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
