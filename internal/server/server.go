// Package server hosts the HTTP API and the live decision websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/alanyoungcy/tradegate/internal/server/handler"
	"github.com/alanyoungcy/tradegate/internal/server/middleware"
	"github.com/alanyoungcy/tradegate/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the route handlers. A nil handler leaves its routes
// unregistered, which is how the run modes trim the API.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Decisions *handler.DecisionHandler
	Positions *handler.PositionHandler
	Risk      *handler.RiskHandler
	Tick      *handler.TickHandler
	Payment   *handler.PaymentHandler
	Archives  *handler.ArchiveHandler
	Metrics   http.Handler
}

// Server is the HTTP + websocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

var publicPaths = []string{"/api/health", "/metrics"}

// NewServer registers routes and wraps them in request ID, CORS, logging,
// rate limiting and auth, outermost first.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           newHandler(cfg, h, hub, limiter, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// POST /api/tick runs a full cycle
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

func newHandler(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	if h.Health != nil {
		mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	}
	if h.Status != nil {
		mux.HandleFunc("GET /api/status", h.Status.GetStatus)
	}
	if h.Decisions != nil {
		mux.HandleFunc("GET /api/decisions", h.Decisions.ListDecisions)
	}
	if h.Positions != nil {
		mux.HandleFunc("GET /api/positions", h.Positions.ListPositions)
		mux.HandleFunc("GET /api/positions/{asset}", h.Positions.GetPosition)
	}
	if h.Risk != nil {
		mux.HandleFunc("GET /api/risk/limits", h.Risk.GetLimits)
		mux.HandleFunc("PUT /api/risk/limits", h.Risk.UpdateLimits)
		mux.HandleFunc("POST /api/assets/{asset}/clear-halt", h.Risk.ClearHalt)
		mux.HandleFunc("POST /api/assets/{asset}/cancel-pending", h.Risk.CancelPending)
	}
	if h.Tick != nil {
		mux.HandleFunc("POST /api/tick", h.Tick.RunTick)
	}
	if h.Payment != nil {
		mux.HandleFunc("GET /api/payment", h.Payment.GetSummary)
		mux.HandleFunc("GET /api/payment/receipts", h.Payment.ListReceipts)
		mux.HandleFunc("POST /api/payment/topup", h.Payment.TopUp)
	}
	if h.Archives != nil {
		mux.HandleFunc("GET /api/archives", h.Archives.ListArchives)
		mux.HandleFunc("GET /api/archives/object", h.Archives.GetArchive)
		mux.HandleFunc("GET /api/archives/last", h.Archives.LastArchiveRun)
		mux.HandleFunc("POST /api/archives/run", h.Archives.TriggerArchive)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var out http.Handler = mux
	out = middleware.Auth(cfg.APIKey, publicPaths...)(out)
	out = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(out)
	out = middleware.Logging(logger, publicPaths...)(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	out = middleware.RequestID(out)
	return out
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: listening", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
