package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tradingd/internal/enginemanager"
	"tradingd/internal/eventbus"
)

// Server runs the control plane's HTTP and WebSocket surface.
type Server struct {
	cfg      Config
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new API server wired against manager for every
// strategy/backtest lifecycle operation and bus for WebSocket topic
// subscriptions.
func NewServer(cfg Config, manager *enginemanager.Manager, bus *eventbus.Bus, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(manager, bus, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)

	mux.HandleFunc("POST /strategy", handlers.HandleStartStrategy)
	mux.HandleFunc("GET /strategy", handlers.HandleListStrategies)
	mux.HandleFunc("GET /strategy/{id}", handlers.HandleGetStrategy)
	mux.HandleFunc("DELETE /strategy/{id}", handlers.HandleStopStrategy)
	mux.HandleFunc("POST /strategy/{id}/pause", handlers.HandlePauseStrategy)
	mux.HandleFunc("POST /strategy/{id}/resume", handlers.HandleResumeStrategy)

	mux.HandleFunc("POST /backtest/run", handlers.HandleStartBacktest)
	mux.HandleFunc("GET /backtest/{id}/progress", handlers.HandleBacktestProgress)
	mux.HandleFunc("GET /backtest/{id}/result", handlers.HandleBacktestResult)
	mux.HandleFunc("POST /backtest/{id}/cancel", handlers.HandleCancelBacktest)

	mux.HandleFunc("POST /system/kill-switch", handlers.HandleKillSwitch)

	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      withAuth(cfg.AuthToken, mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api_server"),
	}
}

// withAuth rejects any request lacking a matching bearer token, unless
// token is empty (auth disabled for local/dev use) or the request targets
// /health. A WebSocket handshake may present the token as a query
// parameter, since browsers cannot set arbitrary headers during upgrade.
func withAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if presented == "" {
			presented = r.URL.Query().Get("token")
		}
		if presented != token {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: "auth", Message: "missing or invalid bearer token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the API server and hub. Blocks until Stop or a listener
// error.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("control plane starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control plane: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping control plane")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// BroadcastStatus pushes a strategy status change to every connected
// WebSocket client, independent of any topic subscription.
func (s *Server) BroadcastStatus(topic string, payload interface{}) {
	s.hub.Broadcast(EventEnvelope{Type: "status", Topic: topic, Timestamp: time.Now(), Data: payload})
}
